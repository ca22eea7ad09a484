// Package watermap classifies world points against a zone's liquid regions.
package watermap

import (
	"github.com/Faultbox/midgard-nav/pkg/formats"
	"github.com/Faultbox/midgard-nav/pkg/math"
)

// Region is an oriented liquid box with its transforms precomputed.
type Region struct {
	formats.WTRRegion

	transform math.Mat4
	inverse   math.Mat4
	corners   [8]math.Vec3
	valid     bool
}

func newRegion(src formats.WTRRegion) Region {
	r := Region{WTRRegion: src}
	r.Extents = r.Extents.Abs()

	rot := math.RotateXYZ(
		math.Radians(src.Rotation.X),
		math.Radians(src.Rotation.Y),
		math.Radians(src.Rotation.Z),
	)
	// rotate, then scale, then translate
	r.transform = math.Translate(src.Position.X, src.Position.Y, src.Position.Z).
		Mul(math.Scale(src.Scale.X, src.Scale.Y, src.Scale.Z)).
		Mul(rot)
	r.inverse, r.valid = r.transform.Inverse()

	e := r.Extents
	for i := range r.corners {
		c := math.Vec3{X: -e.X, Y: -e.Y, Z: -e.Z}
		if i&1 != 0 {
			c.X = e.X
		}
		if i&2 != 0 {
			c.Y = e.Y
		}
		if i&4 != 0 {
			c.Z = e.Z
		}
		r.corners[i] = r.transform.TransformVec3(c)
	}
	return r
}

// Contains reports whether p lies inside the box. A region with a
// degenerate (zero) scale contains nothing.
func (r *Region) Contains(p math.Vec3) bool {
	if !r.valid {
		return false
	}
	local := r.inverse.TransformVec3(p)
	return abs(local.X) <= r.Extents.X &&
		abs(local.Y) <= r.Extents.Y &&
		abs(local.Z) <= r.Extents.Z
}

// Corners returns the eight world-space corners of the box.
func (r *Region) Corners() [8]math.Vec3 {
	return r.corners
}

func abs(f float32) float32 {
	if f < 0 {
		return -f
	}
	return f
}

// WaterMap answers liquid queries for one zone. It is immutable and safe for
// concurrent use. A nil *WaterMap classifies everything as Untagged.
type WaterMap struct {
	version uint32
	regions []Region
	nodes   []formats.WTRBSPNode
}

// New precomputes region transforms for vol.
func New(vol *formats.WaterVolume) *WaterMap {
	w := &WaterMap{version: vol.Version, nodes: vol.Nodes}
	w.regions = make([]Region, len(vol.Regions))
	for i, src := range vol.Regions {
		w.regions[i] = newRegion(src)
	}
	return w
}

// LoadWaterFile decodes a .wtr file and builds its water map.
func LoadWaterFile(path string) (*WaterMap, error) {
	vol, err := formats.ParseWTRFile(path)
	if err != nil {
		return nil, err
	}
	return New(vol), nil
}

// Regions returns the decoded box regions.
func (w *WaterMap) Regions() []Region {
	if w == nil {
		return nil
	}
	return w.regions
}

// RegionCount returns the number of regions (boxes or BSP nodes).
func (w *WaterMap) RegionCount() int {
	if w == nil {
		return 0
	}
	return len(w.regions) + len(w.nodes)
}

// ReturnRegionType classifies p. The first containing region wins.
func (w *WaterMap) ReturnRegionType(p math.Vec3) formats.LiquidType {
	if w == nil {
		return formats.LiquidUntagged
	}
	if w.version == 1 {
		return w.bspRegionType(p)
	}
	for i := range w.regions {
		if w.regions[i].Contains(p) {
			return w.regions[i].Type
		}
	}
	return formats.LiquidUntagged
}

// bspRegionType walks the legacy BSP tree from node 1 by plane side.
func (w *WaterMap) bspRegionType(p math.Vec3) formats.LiquidType {
	if len(w.nodes) == 0 {
		return formats.LiquidUntagged
	}
	idx := int32(1)
	for steps := 0; steps <= len(w.nodes); steps++ {
		if idx < 1 || int(idx) > len(w.nodes) {
			return formats.LiquidUntagged
		}
		n := &w.nodes[idx-1]
		if n.Left == 0 && n.Right == 0 {
			return n.SpecialType()
		}
		dist := n.Normal.Dot(p) + n.Dist
		if dist > 0 {
			idx = n.Left
		} else {
			idx = n.Right
		}
		if idx == 0 {
			return formats.LiquidNormal
		}
	}
	// A cycle in the tree.
	return formats.LiquidUntagged
}

// InWater reports water or volumetric water.
func (w *WaterMap) InWater(p math.Vec3) bool {
	t := w.ReturnRegionType(p)
	return t == formats.LiquidWater || t == formats.LiquidVWater
}

// InVWater reports volumetric water.
func (w *WaterMap) InVWater(p math.Vec3) bool {
	return w.ReturnRegionType(p) == formats.LiquidVWater
}

// InLava reports lava.
func (w *WaterMap) InLava(p math.Vec3) bool {
	return w.ReturnRegionType(p) == formats.LiquidLava
}

// InLiquid reports any swimmable liquid: water, volumetric water or lava.
func (w *WaterMap) InLiquid(p math.Vec3) bool {
	return w.ReturnRegionType(p).IsLiquid()
}

// InZoneLine reports a zone line region.
func (w *WaterMap) InZoneLine(p math.Vec3) bool {
	return w.ReturnRegionType(p) == formats.LiquidZoneLine
}

// InPVP reports a PVP region.
func (w *WaterMap) InPVP(p math.Vec3) bool {
	return w.ReturnRegionType(p) == formats.LiquidPVP
}

// InSlime reports slime.
func (w *WaterMap) InSlime(p math.Vec3) bool {
	return w.ReturnRegionType(p) == formats.LiquidSlime
}

// InIce reports ice.
func (w *WaterMap) InIce(p math.Vec3) bool {
	return w.ReturnRegionType(p) == formats.LiquidIce
}
