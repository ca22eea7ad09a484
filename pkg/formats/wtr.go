package formats

import (
	"errors"
	"fmt"
	"os"

	"github.com/Faultbox/midgard-nav/pkg/math"
)

// WTRMagic is the liquid volume file signature.
const WTRMagic = "EQEMUWATER"

// Liquid volume format errors.
var (
	ErrInvalidWTRMagic       = errors.New("invalid WTR magic")
	ErrUnsupportedWTRVersion = errors.New("unsupported WTR version")
	ErrTruncatedWTRData      = errors.New("truncated WTR data")
)

// LiquidType classifies a region of space.
type LiquidType int32

const (
	LiquidUnsupported LiquidType = -2
	LiquidUntagged    LiquidType = -1
	LiquidNormal      LiquidType = 0
	LiquidWater       LiquidType = 1
	LiquidLava        LiquidType = 2
	LiquidZoneLine    LiquidType = 3
	LiquidPVP         LiquidType = 4
	LiquidSlime       LiquidType = 5
	LiquidIce         LiquidType = 6
	LiquidVWater      LiquidType = 7
	LiquidGeneralArea LiquidType = 8
)

var liquidTypeNames = map[LiquidType]string{
	LiquidUnsupported: "Unsupported",
	LiquidUntagged:    "Untagged",
	LiquidNormal:      "Normal",
	LiquidWater:       "Water",
	LiquidLava:        "Lava",
	LiquidZoneLine:    "ZoneLine",
	LiquidPVP:         "PVP",
	LiquidSlime:       "Slime",
	LiquidIce:         "Ice",
	LiquidVWater:      "VWater",
	LiquidGeneralArea: "GeneralArea",
}

// String returns the type name.
func (t LiquidType) String() string {
	if name, ok := liquidTypeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("LiquidType(%d)", int32(t))
}

// IsLiquid reports whether an agent standing here is swimming.
func (t LiquidType) IsLiquid() bool {
	return t == LiquidWater || t == LiquidVWater || t == LiquidLava
}

// WTRBSPNode is one node of the legacy BSP region tree. Child indices are
// 1-based; 0 means no child.
type WTRBSPNode struct {
	ID      int32
	Normal  math.Vec3
	Dist    float32
	Region  int32
	Special int32
	Left    int32
	Right   int32
}

// SpecialType maps a leaf's special flag to a liquid type.
func (n WTRBSPNode) SpecialType() LiquidType {
	switch n.Special {
	case 1:
		return LiquidWater
	case 2:
		return LiquidLava
	case 3:
		return LiquidZoneLine
	case 4:
		return LiquidPVP
	case 5:
		return LiquidSlime
	case 6:
		return LiquidIce
	case 7:
		return LiquidVWater
	default:
		return LiquidNormal
	}
}

// WTRRegion is an oriented liquid box. Rotation is in degrees; Extents are
// half-sizes and never negative.
type WTRRegion struct {
	Type     LiquidType
	Position math.Vec3
	Rotation math.Vec3
	Scale    math.Vec3
	Extents  math.Vec3
}

// WaterVolume is a decoded liquid file. Exactly one of Nodes (version 1) or
// Regions (version 2) is populated.
type WaterVolume struct {
	Version uint32
	Nodes   []WTRBSPNode
	Regions []WTRRegion
}

const (
	wtrNodeSize   = 4 + 12 + 4 + 4*4
	wtrRegionSize = 4 + 4*12
)

// ParseWTR decodes a liquid volume file.
func ParseWTR(data []byte) (*WaterVolume, error) {
	r := NewReader(data)

	magic, err := r.Bytes(len(WTRMagic))
	if err != nil {
		return nil, fmt.Errorf("%w: reading magic", ErrTruncatedWTRData)
	}
	if string(magic) != WTRMagic {
		return nil, fmt.Errorf("%w: %q", ErrInvalidWTRMagic, magic)
	}

	version, err := r.U32()
	if err != nil {
		return nil, fmt.Errorf("%w: reading version", ErrTruncatedWTRData)
	}

	vol := &WaterVolume{Version: version}
	switch version {
	case 1:
		vol.Nodes, err = parseWTRNodes(r)
	case 2:
		vol.Regions, err = parseWTRRegions(r)
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedWTRVersion, version)
	}
	if err != nil {
		return nil, err
	}
	return vol, nil
}

// ParseWTRFile decodes a liquid volume file from disk.
func ParseWTRFile(path string) (*WaterVolume, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading wtr file: %w", err)
	}
	return ParseWTR(data)
}

func parseWTRNodes(r *Reader) ([]WTRBSPNode, error) {
	count, err := r.U32()
	if err != nil {
		return nil, fmt.Errorf("%w: reading node count", ErrTruncatedWTRData)
	}
	if uint64(count)*wtrNodeSize > uint64(r.Remaining()) {
		return nil, fmt.Errorf("%w: %d nodes exceed file size", ErrTruncatedWTRData, count)
	}

	nodes := make([]WTRBSPNode, count)
	for i := range nodes {
		n := &nodes[i]
		if n.ID, err = r.I32(); err != nil {
			return nil, fmt.Errorf("%w: reading node %d", ErrTruncatedWTRData, i)
		}
		if n.Normal, err = r.Vec3(); err != nil {
			return nil, fmt.Errorf("%w: reading node %d normal", ErrTruncatedWTRData, i)
		}
		if n.Dist, err = r.F32(); err != nil {
			return nil, fmt.Errorf("%w: reading node %d distance", ErrTruncatedWTRData, i)
		}
		for _, dst := range []*int32{&n.Region, &n.Special, &n.Left, &n.Right} {
			if *dst, err = r.I32(); err != nil {
				return nil, fmt.Errorf("%w: reading node %d links", ErrTruncatedWTRData, i)
			}
		}
	}
	return nodes, nil
}

func parseWTRRegions(r *Reader) ([]WTRRegion, error) {
	count, err := r.U32()
	if err != nil {
		return nil, fmt.Errorf("%w: reading region count", ErrTruncatedWTRData)
	}
	if uint64(count)*wtrRegionSize > uint64(r.Remaining()) {
		return nil, fmt.Errorf("%w: %d regions exceed file size", ErrTruncatedWTRData, count)
	}

	regions := make([]WTRRegion, count)
	for i := range regions {
		reg := &regions[i]
		typ, err := r.U32()
		if err != nil {
			return nil, fmt.Errorf("%w: reading region %d type", ErrTruncatedWTRData, i)
		}
		reg.Type = LiquidType(typ)

		for _, dst := range []*math.Vec3{&reg.Position, &reg.Rotation, &reg.Scale, &reg.Extents} {
			if *dst, err = r.Vec3(); err != nil {
				return nil, fmt.Errorf("%w: reading region %d transform", ErrTruncatedWTRData, i)
			}
		}
		reg.Extents = reg.Extents.Abs()
	}
	return regions, nil
}
