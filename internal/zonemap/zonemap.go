// Package zonemap answers floor, line-of-sight and underworld queries against
// a zone's collision mesh.
//
// All queries are read-only and safe for concurrent use. A nil *ZoneMap, or
// one built from a zone without collision triangles, answers every query with
// "no data": BestZInvalid for floors and false for predicates.
package zonemap

import (
	"fmt"

	"github.com/Faultbox/midgard-nav/internal/raycast"
	"github.com/Faultbox/midgard-nav/pkg/formats"
	"github.com/Faultbox/midgard-nav/pkg/math"
)

// BestZInvalid is returned when no floor exists above or below a point.
// Far casts also use it as their end coordinate.
const BestZInvalid float32 = -999999

// maxHazardSamples caps the samples taken along one hazard check.
const maxHazardSamples = 100000

// DefaultFloorRange bounds plausible floor heights for hazard checks.
const DefaultFloorRange float32 = 30000

// ZoneMap wraps the collision mesh of one zone.
type ZoneMap struct {
	geom       *formats.ZoneGeometry
	mesh       *raycast.Mesh
	floorRange float32
}

// New builds the raycast structure for geom's collision mesh.
func New(geom *formats.ZoneGeometry) (*ZoneMap, error) {
	mesh, err := raycast.New(geom.Collision.Vertices, geom.Collision.Indices)
	if err != nil {
		return nil, fmt.Errorf("building collision mesh: %w", err)
	}
	return &ZoneMap{geom: geom, mesh: mesh, floorRange: DefaultFloorRange}, nil
}

// LoadMapFile decodes a .map file and builds its zone map.
func LoadMapFile(path string) (*ZoneMap, error) {
	geom, err := formats.ParseMapFile(path)
	if err != nil {
		return nil, err
	}
	return New(geom)
}

// SetFloorRange changes the plausible floor height bound used by CheckLosNoHazards.
func (z *ZoneMap) SetFloorRange(r float32) {
	if r > 0 {
		z.floorRange = r
	}
}

// FloorRange returns the plausible floor height bound.
func (z *ZoneMap) FloorRange() float32 {
	if z == nil {
		return DefaultFloorRange
	}
	return z.floorRange
}

func (z *ZoneMap) empty() bool {
	return z == nil || z.mesh.TriangleCount() == 0
}

// Geometry returns the decoded zone geometry.
func (z *ZoneMap) Geometry() *formats.ZoneGeometry {
	if z == nil {
		return nil
	}
	return z.geom
}

// TriangleCount returns the number of collision triangles.
func (z *ZoneMap) TriangleCount() int {
	if z == nil {
		return 0
	}
	return z.mesh.TriangleCount()
}

// Bounds returns the collision mesh extents.
func (z *ZoneMap) Bounds() (lo, hi math.Vec3, ok bool) {
	if z == nil {
		return math.Vec3{}, math.Vec3{}, false
	}
	return z.mesh.Bounds()
}

// Raycast casts the segment from -> to and returns the nearest hit.
func (z *ZoneMap) Raycast(from, to math.Vec3) (raycast.Hit, bool) {
	if z.empty() {
		return raycast.Hit{}, false
	}
	return z.mesh.Raycast(from, to)
}

// FindBestFloor returns the height of the first surface below p (searched
// from one unit above it) or, failing that, above it.
func (z *ZoneMap) FindBestFloor(p math.Vec3) (float32, bool) {
	if z.empty() {
		return BestZInvalid, false
	}

	from := math.Vec3{X: p.X, Y: p.Y + 1, Z: p.Z}
	if hit, ok := z.mesh.Raycast(from, math.Vec3{X: p.X, Y: BestZInvalid, Z: p.Z}); ok {
		return hit.Point.Y, true
	}
	if hit, ok := z.mesh.Raycast(from, math.Vec3{X: p.X, Y: -BestZInvalid, Z: p.Z}); ok {
		return hit.Point.Y, true
	}
	return BestZInvalid, false
}

// IsUnderworld reports whether p has no floor beneath it, or whether the
// surface beneath it faces away from up (p is under the world's skin).
func (z *ZoneMap) IsUnderworld(p math.Vec3) bool {
	if z.empty() {
		return false
	}
	// Cast down, not toward +sentinel: the floor beneath p decides.
	hit, ok := z.mesh.Raycast(p, math.Vec3{X: p.X, Y: BestZInvalid, Z: p.Z})
	if !ok {
		return true
	}
	return math.AngleDeg(hit.Normal, math.Up) > 90
}

// CheckLoS reports whether the segment a -> b is unobstructed.
func (z *ZoneMap) CheckLoS(a, b math.Vec3) bool {
	if z.empty() {
		return false
	}
	_, hit := z.mesh.Raycast(a, b)
	return !hit
}

// CheckLosNoHazards reports whether start -> end is unobstructed and every
// sample taken stepSize apart stays within maxDiff of a plausible floor.
func (z *ZoneMap) CheckLosNoHazards(start, end math.Vec3, stepSize, maxDiff float32) bool {
	if !z.CheckLoS(start, end) {
		return false
	}

	delta := end.Sub(start)
	dist := delta.Length()
	if stepSize <= 0 || stepSize < dist/maxHazardSamples {
		stepSize = dist / maxHazardSamples
	}
	var dir math.Vec3
	if dist > 0 {
		dir = delta.Scale(1 / dist)
	}

	for d := float32(0); ; d += stepSize {
		if d > dist {
			d = dist
		}
		if !z.safeSample(start.Add(dir.Scale(d)), maxDiff) {
			return false
		}
		if d >= dist {
			return true
		}
	}
}

func (z *ZoneMap) safeSample(p math.Vec3, maxDiff float32) bool {
	floor, ok := z.FindBestFloor(p)
	if !ok || floor < -z.floorRange || floor > z.floorRange {
		return false
	}
	diff := p.Y - floor
	return diff <= maxDiff && diff >= -maxDiff
}
