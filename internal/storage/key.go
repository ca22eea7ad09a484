package storage

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/Faultbox/midgard-nav/internal/navgraph"
)

// Digest returns the hex SHA-256 of a zone file's bytes.
func Digest(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// GraphKey names the cache entry for a zone built from a given map file with
// given thresholds and floor range. Any change to one of them produces a
// different key. Workers is left out; it does not change the graph.
func GraphKey(zone, mapDigest string, floorRange float32, s navgraph.Settings) string {
	thresholds := fmt.Sprintf("%g|%g|%g|%g|%g|%g|%g|%g|%g",
		s.StepSizeLand, s.StepSizeWater, s.MaxSlopeOnLand,
		s.ConnectRangeLand, s.ConnectRangeWater, s.AgentHeight,
		s.HazardStep, s.MaxHazardDiff, floorRange)
	sum := sha256.Sum256([]byte(thresholds))
	return fmt.Sprintf("%s:%s:%s", zone, mapDigest, hex.EncodeToString(sum[:8]))
}
