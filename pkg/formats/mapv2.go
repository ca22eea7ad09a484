package formats

import (
	"fmt"

	"github.com/Faultbox/midgard-nav/pkg/math"
)

// ModelPoly is one triangle of a model definition.
type ModelPoly struct {
	V   [3]uint32
	Vis uint8 // 0 = visual only, excluded from collision
}

// Model is a named reusable mesh fragment referenced by placements.
type Model struct {
	Name     string
	Vertices []math.Vec3
	Polys    []ModelPoly
}

// Placement is one instance of a model. Rotation is in radians.
type Placement struct {
	Model    string
	Position math.Vec3
	Rotation math.Vec3
	Scale    math.Vec3
}

// PlacementGroup applies a tile transform on top of its member placements.
// Rotation is in degrees.
type PlacementGroup struct {
	Position   math.Vec3
	Rotation   math.Vec3
	Scale      math.Vec3
	TileOffset math.Vec3
	Placements []Placement
}

// TerrainTile is either one flat quad or a heightmap of quads_per_tile² quads.
type TerrainTile struct {
	Flat bool
	X, Y float32
	// Height is the flat tile elevation.
	Height float32
	// Flags holds one byte per quad; bit 0 marks a hole.
	Flags []uint8
	// Heights holds (quads_per_tile+1)² grid elevations.
	Heights []float32
}

// MapV2Data is the decompressed V2 payload before placements and terrain are baked.
type MapV2Data struct {
	Vertices       []math.Vec3
	Indices        []uint32
	NCVertices     []math.Vec3
	NCIndices      []uint32
	Models         []Model
	Placements     []Placement
	Groups         []PlacementGroup
	Tiles          []TerrainTile
	QuadsPerTile   uint32
	UnitsPerVertex float32
}

// DecodeMapV2Payload reads the decompressed V2 payload.
func DecodeMapV2Payload(payload []byte) (*MapV2Data, error) {
	r := NewReader(payload)

	var vertCount, indCount, ncVertCount, ncIndCount uint32
	var modelCount, placeCount, groupCount, tileCount uint32
	d := &MapV2Data{}

	if err := r.U32s(&vertCount, &indCount, &ncVertCount, &ncIndCount,
		&modelCount, &placeCount, &groupCount, &tileCount, &d.QuadsPerTile); err != nil {
		return nil, fmt.Errorf("%w: reading header", ErrTruncatedMapData)
	}
	upv, err := r.F32()
	if err != nil {
		return nil, fmt.Errorf("%w: reading units per vertex", ErrTruncatedMapData)
	}
	d.UnitsPerVertex = upv

	// Size checks before allocating from untrusted counts.
	if uint64(vertCount)*12+uint64(indCount)*4+uint64(ncVertCount)*12+uint64(ncIndCount)*4 > uint64(r.Remaining()) {
		return nil, fmt.Errorf("%w: raw mesh arrays exceed payload", ErrTruncatedMapData)
	}

	if d.Vertices, err = readVec3s(r, vertCount); err != nil {
		return nil, fmt.Errorf("%w: reading vertices", ErrTruncatedMapData)
	}
	if d.Indices, err = readU32s(r, indCount); err != nil {
		return nil, fmt.Errorf("%w: reading indices", ErrTruncatedMapData)
	}
	if d.NCVertices, err = readVec3s(r, ncVertCount); err != nil {
		return nil, fmt.Errorf("%w: reading non-collision vertices", ErrTruncatedMapData)
	}
	if d.NCIndices, err = readU32s(r, ncIndCount); err != nil {
		return nil, fmt.Errorf("%w: reading non-collision indices", ErrTruncatedMapData)
	}

	d.Models = make([]Model, 0, min(modelCount, 4096))
	for i := uint32(0); i < modelCount; i++ {
		m, err := readModel(r)
		if err != nil {
			return nil, fmt.Errorf("model %d: %w", i, err)
		}
		d.Models = append(d.Models, m)
	}

	d.Placements = make([]Placement, 0, min(placeCount, 4096))
	for i := uint32(0); i < placeCount; i++ {
		p, err := readPlacement(r)
		if err != nil {
			return nil, fmt.Errorf("placement %d: %w", i, err)
		}
		d.Placements = append(d.Placements, p)
	}

	d.Groups = make([]PlacementGroup, 0, min(groupCount, 4096))
	for i := uint32(0); i < groupCount; i++ {
		g, err := readPlacementGroup(r)
		if err != nil {
			return nil, fmt.Errorf("placement group %d: %w", i, err)
		}
		d.Groups = append(d.Groups, g)
	}

	d.Tiles = make([]TerrainTile, 0, min(tileCount, 4096))
	for i := uint32(0); i < tileCount; i++ {
		t, err := readTerrainTile(r, d.QuadsPerTile)
		if err != nil {
			return nil, fmt.Errorf("terrain tile %d: %w", i, err)
		}
		d.Tiles = append(d.Tiles, t)
	}

	return d, nil
}

func readVec3s(r *Reader, n uint32) ([]math.Vec3, error) {
	out := make([]math.Vec3, n)
	for i := range out {
		v, err := r.Vec3()
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func readU32s(r *Reader, n uint32) ([]uint32, error) {
	out := make([]uint32, n)
	for i := range out {
		v, err := r.U32()
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func readModel(r *Reader) (Model, error) {
	var m Model
	var err error
	if m.Name, err = r.CString(); err != nil {
		return Model{}, fmt.Errorf("%w: reading name", ErrTruncatedMapData)
	}
	var vertCount, polyCount uint32
	if err := r.U32s(&vertCount, &polyCount); err != nil {
		return Model{}, fmt.Errorf("%w: reading counts", ErrTruncatedMapData)
	}
	if uint64(vertCount)*12+uint64(polyCount)*13 > uint64(r.Remaining()) {
		return Model{}, fmt.Errorf("%w: model %q arrays exceed payload", ErrTruncatedMapData, m.Name)
	}
	if m.Vertices, err = readVec3s(r, vertCount); err != nil {
		return Model{}, fmt.Errorf("%w: reading vertices", ErrTruncatedMapData)
	}
	m.Polys = make([]ModelPoly, polyCount)
	for i := range m.Polys {
		p := &m.Polys[i]
		if err := r.U32s(&p.V[0], &p.V[1], &p.V[2]); err != nil {
			return Model{}, fmt.Errorf("%w: reading poly %d", ErrTruncatedMapData, i)
		}
		if p.Vis, err = r.U8(); err != nil {
			return Model{}, fmt.Errorf("%w: reading poly %d visibility", ErrTruncatedMapData, i)
		}
	}
	return m, nil
}

func readTransform(r *Reader, pos, rot, scale *math.Vec3) error {
	var err error
	if *pos, err = r.Vec3(); err != nil {
		return err
	}
	if *rot, err = r.Vec3(); err != nil {
		return err
	}
	*scale, err = r.Vec3()
	return err
}

func readPlacement(r *Reader) (Placement, error) {
	var p Placement
	var err error
	if p.Model, err = r.CString(); err != nil {
		return Placement{}, fmt.Errorf("%w: reading model name", ErrTruncatedMapData)
	}
	if err := readTransform(r, &p.Position, &p.Rotation, &p.Scale); err != nil {
		return Placement{}, fmt.Errorf("%w: reading transform of %q", ErrTruncatedMapData, p.Model)
	}
	return p, nil
}

func readPlacementGroup(r *Reader) (PlacementGroup, error) {
	var g PlacementGroup
	var err error
	if err := readTransform(r, &g.Position, &g.Rotation, &g.Scale); err != nil {
		return PlacementGroup{}, fmt.Errorf("%w: reading group transform", ErrTruncatedMapData)
	}
	if g.TileOffset, err = r.Vec3(); err != nil {
		return PlacementGroup{}, fmt.Errorf("%w: reading tile offset", ErrTruncatedMapData)
	}
	count, err := r.U32()
	if err != nil {
		return PlacementGroup{}, fmt.Errorf("%w: reading member count", ErrTruncatedMapData)
	}
	g.Placements = make([]Placement, 0, min(count, 4096))
	for i := uint32(0); i < count; i++ {
		p, err := readPlacement(r)
		if err != nil {
			return PlacementGroup{}, fmt.Errorf("member %d: %w", i, err)
		}
		g.Placements = append(g.Placements, p)
	}
	return g, nil
}

func readTerrainTile(r *Reader, quadsPerTile uint32) (TerrainTile, error) {
	var t TerrainTile
	flat, err := r.U8()
	if err != nil {
		return TerrainTile{}, fmt.Errorf("%w: reading flat flag", ErrTruncatedMapData)
	}
	t.Flat = flat != 0
	if t.X, err = r.F32(); err != nil {
		return TerrainTile{}, fmt.Errorf("%w: reading origin x", ErrTruncatedMapData)
	}
	if t.Y, err = r.F32(); err != nil {
		return TerrainTile{}, fmt.Errorf("%w: reading origin y", ErrTruncatedMapData)
	}

	if t.Flat {
		if t.Height, err = r.F32(); err != nil {
			return TerrainTile{}, fmt.Errorf("%w: reading flat height", ErrTruncatedMapData)
		}
		return t, nil
	}

	quadCount := uint64(quadsPerTile) * uint64(quadsPerTile)
	vertCount := uint64(quadsPerTile+1) * uint64(quadsPerTile+1)
	if quadCount+vertCount*4 > uint64(r.Remaining()) {
		return TerrainTile{}, fmt.Errorf("%w: heightmap exceeds payload", ErrTruncatedMapData)
	}
	flags, err := r.Bytes(int(quadCount))
	if err != nil {
		return TerrainTile{}, fmt.Errorf("%w: reading quad flags", ErrTruncatedMapData)
	}
	t.Flags = append([]uint8(nil), flags...)
	t.Heights = make([]float32, vertCount)
	for i := range t.Heights {
		if t.Heights[i], err = r.F32(); err != nil {
			return TerrainTile{}, fmt.Errorf("%w: reading height %d", ErrTruncatedMapData, i)
		}
	}
	return t, nil
}

// Bake resolves placements, placement groups and terrain into world-space
// triangles and converts the result to Y-up.
func (d *MapV2Data) Bake() *ZoneGeometry {
	geom := &ZoneGeometry{Version: MapV2}
	col := &geom.Collision
	nc := &geom.NonCollision

	col.Vertices = append(col.Vertices, d.Vertices...)
	col.Indices = append(col.Indices, d.Indices...)
	nc.Vertices = append(nc.Vertices, d.NCVertices...)
	nc.Indices = append(nc.Indices, d.NCIndices...)

	models := make(map[string]*Model, len(d.Models))
	for i := range d.Models {
		models[d.Models[i].Name] = &d.Models[i]
	}

	for _, p := range d.Placements {
		model, ok := models[p.Model]
		if !ok {
			continue
		}
		bakeModel(model, col, nc, func(v math.Vec3) math.Vec3 {
			return placementTransform(v, p)
		})
	}

	for gi := range d.Groups {
		g := &d.Groups[gi]
		for _, p := range g.Placements {
			model, ok := models[p.Model]
			if !ok {
				continue
			}
			bakeModel(model, col, nc, func(v math.Vec3) math.Vec3 {
				return groupTransform(v, g, p)
			})
		}
	}

	for i := range d.Tiles {
		bakeTile(&d.Tiles[i], d.QuadsPerTile, d.UnitsPerVertex, col)
	}

	col.swapYZ()
	nc.swapYZ()
	return geom
}

// bakeModel appends each model poly through xf; polys with out-of-range
// vertex references are dropped.
func bakeModel(m *Model, col, nc *Mesh, xf func(math.Vec3) math.Vec3) {
	n := uint32(len(m.Vertices))
	for _, poly := range m.Polys {
		if poly.V[0] >= n || poly.V[1] >= n || poly.V[2] >= n {
			continue
		}
		a := xf(m.Vertices[poly.V[0]])
		b := xf(m.Vertices[poly.V[1]])
		c := xf(m.Vertices[poly.V[2]])
		if poly.Vis == 0 {
			nc.addTriangle(a, b, c)
		} else {
			col.addTriangle(a, b, c)
		}
	}
}

// rotateVertex rotates about X, then Y, then Z (radians).
func rotateVertex(v math.Vec3, rx, ry, rz float32) math.Vec3 {
	return math.RotateXYZ(rx, ry, rz).TransformVec3(v)
}

func placementTransform(v math.Vec3, p Placement) math.Vec3 {
	v = rotateVertex(v, p.Rotation.X, p.Rotation.Y, p.Rotation.Z)
	v = v.Mul(p.Scale)
	v = v.Add(p.Position)
	return v.SwapXY()
}

// groupTransform bakes a group member. The step order is part of the format.
func groupTransform(v math.Vec3, g *PlacementGroup, p Placement) math.Vec3 {
	gx := math.Radians(g.Rotation.X)
	gy := math.Radians(g.Rotation.Y)
	gz := math.Radians(g.Rotation.Z)

	// member scale and translate
	v = v.Mul(p.Scale)
	v = v.Add(p.Position)

	v = v.Mul(g.Scale)
	v = v.Add(g.Position)
	v = rotateVertex(v, gx, 0, 0)
	v = rotateVertex(v, 0, gy, 0)

	// Member rotation pivots around the rotated group origin.
	correction := rotateVertex(g.Position, gx, 0, 0)
	v = v.Sub(correction)
	v = rotateVertex(v, math.Radians(p.Rotation.X), 0, 0)
	v = rotateVertex(v, 0, -math.Radians(p.Rotation.Y), 0)
	v = rotateVertex(v, 0, 0, math.Radians(p.Rotation.Z))
	v = v.Add(correction)

	v = rotateVertex(v, 0, 0, gz)
	v = v.Mul(g.Scale)
	v = v.Add(g.TileOffset)
	v = v.Add(g.Position)
	return v.SwapXY()
}

func bakeTile(t *TerrainTile, quadsPerTile uint32, upv float32, col *Mesh) {
	if t.Flat {
		extent := float32(quadsPerTile) * upv
		v1 := math.Vec3{X: t.X, Y: t.Y, Z: t.Height}
		v2 := math.Vec3{X: v1.X + extent, Y: v1.Y, Z: t.Height}
		v3 := math.Vec3{X: v2.X, Y: v1.Y + extent, Z: t.Height}
		v4 := math.Vec3{X: v1.X, Y: v3.Y, Z: t.Height}

		base := uint32(len(col.Vertices))
		col.Vertices = append(col.Vertices, v1, v2, v3, v4)
		col.Indices = append(col.Indices,
			base+3, base+1, base+2,
			base+3, base, base+1,
		)
		return
	}

	qpt := int(quadsPerTile)
	if qpt == 0 {
		return
	}
	shared := make(map[math.Vec3]uint32)
	index := func(v math.Vec3) uint32 {
		if idx, ok := shared[v]; ok {
			return idx
		}
		idx := uint32(len(col.Vertices))
		col.Vertices = append(col.Vertices, v)
		shared[v] = idx
		return idx
	}

	row := -1
	for quad := 0; quad < qpt*qpt; quad++ {
		if quad%qpt == 0 {
			row++
		}
		if t.Flags[quad]&0x01 != 0 {
			continue
		}

		x := t.X + float32(row)*upv
		y := t.Y + float32(quad%qpt)*upv

		v1 := math.Vec3{X: x, Y: y, Z: t.Heights[quad+row]}
		v2 := math.Vec3{X: x + upv, Y: y, Z: t.Heights[quad+row+qpt+1]}
		v3 := math.Vec3{X: x + upv, Y: y + upv, Z: t.Heights[quad+row+qpt+2]}
		v4 := math.Vec3{X: x, Y: y + upv, Z: t.Heights[quad+row+1]}

		i1, i2, i3, i4 := index(v1), index(v2), index(v3), index(v4)
		col.Indices = append(col.Indices,
			i4, i2, i3,
			i4, i1, i2,
		)
	}
}
