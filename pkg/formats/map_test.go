package formats

import (
	"bytes"
	"encoding/binary"
	"errors"
	"testing"

	"github.com/klauspost/compress/zlib"

	"github.com/Faultbox/midgard-nav/pkg/math"
)

func v3(x, y, z float32) math.Vec3 { return math.Vec3{X: x, Y: y, Z: z} }

func TestParseMap_V1TwoTriangles(t *testing.T) {
	data := EncodeMapV1([][3]math.Vec3{
		{v3(0, 0, 5), v3(10, 0, 5), v3(0, 10, 5)},
		{v3(100, 100, -3), v3(110, 100, -3), v3(100, 110, -3)},
	})

	geom, err := ParseMap(data)
	if err != nil {
		t.Fatalf("ParseMap failed: %v", err)
	}
	if geom.Version != MapV1 {
		t.Errorf("expected V1, got %s", geom.Version)
	}
	if len(geom.Collision.Vertices) != 6 {
		t.Errorf("expected 6 vertices, got %d", len(geom.Collision.Vertices))
	}
	if geom.Collision.TriangleCount() != 2 {
		t.Errorf("expected 2 triangles, got %d", geom.Collision.TriangleCount())
	}

	// File Z becomes world Y.
	a, _, _ := geom.Collision.Triangle(0)
	if a != v3(0, 5, 0) {
		t.Errorf("expected first vertex (0,5,0), got %v", a)
	}
	if len(geom.NonCollision.Vertices) != 0 {
		t.Errorf("V1 has no non-collision mesh, got %d vertices", len(geom.NonCollision.Vertices))
	}
}

func TestParseMap_V1SharedVertices(t *testing.T) {
	tris := [][3]math.Vec3{
		{v3(0, 0, 0), v3(10, 0, 0), v3(0, 10, 0)},
		{v3(10, 0, 0), v3(10, 10, 0), v3(0, 10, 0)},
	}
	data := EncodeMapV1(tris)

	geom, err := ParseMap(data)
	if err != nil {
		t.Fatalf("ParseMap failed: %v", err)
	}
	if len(geom.Collision.Vertices) != 4 {
		t.Errorf("dedup: expected 4 vertices, got %d", len(geom.Collision.Vertices))
	}

	fresh, err := ParseMapWithOptions(data, ParseOptions{V1Fresh: true})
	if err != nil {
		t.Fatalf("ParseMapWithOptions failed: %v", err)
	}
	if len(fresh.Collision.Vertices) != 6 {
		t.Errorf("fresh: expected 6 vertices, got %d", len(fresh.Collision.Vertices))
	}

	// Both variants describe the same triangles.
	for i := 0; i < 2; i++ {
		a1, b1, c1 := geom.Collision.Triangle(i)
		a2, b2, c2 := fresh.Collision.Triangle(i)
		if a1 != a2 || b1 != b2 || c1 != c2 {
			t.Errorf("triangle %d differs between variants", i)
		}
	}
}

func TestParseMap_V1Truncated(t *testing.T) {
	data := EncodeMapV1([][3]math.Vec3{
		{v3(0, 0, 0), v3(1, 0, 0), v3(0, 1, 0)},
	})

	for _, n := range []int{2, 6, 12, len(data) - 1} {
		_, err := ParseMap(data[:n])
		if !errors.Is(err, ErrTruncatedMapData) {
			t.Errorf("len %d: expected ErrTruncatedMapData, got %v", n, err)
		}
	}
}

func TestParseMap_UnsupportedVersion(t *testing.T) {
	buf := new(bytes.Buffer)
	binary.Write(buf, binary.LittleEndian, uint32(0x03000000))
	binary.Write(buf, binary.LittleEndian, uint32(0))

	_, err := ParseMap(buf.Bytes())
	if !errors.Is(err, ErrUnsupportedMapVersion) {
		t.Errorf("expected ErrUnsupportedMapVersion, got %v", err)
	}
}

func TestParseMap_V2RawRoundTrip(t *testing.T) {
	src := &MapV2Data{
		Vertices: []math.Vec3{v3(1, 2, 3), v3(4, 5, 6), v3(7, 8, 9), v3(-1, -2, -3)},
		Indices:  []uint32{0, 1, 2, 1, 2, 3},
		NCVertices: []math.Vec3{
			v3(0, 0, 0), v3(1, 0, 0), v3(0, 1, 0),
		},
		NCIndices: []uint32{0, 1, 2},
	}
	data, err := EncodeMapV2(src)
	if err != nil {
		t.Fatalf("EncodeMapV2 failed: %v", err)
	}

	geom, err := ParseMap(data)
	if err != nil {
		t.Fatalf("ParseMap failed: %v", err)
	}
	if geom.Version != MapV2 {
		t.Errorf("expected V2, got %s", geom.Version)
	}
	if len(geom.Collision.Vertices) != len(src.Vertices) {
		t.Fatalf("expected %d vertices, got %d", len(src.Vertices), len(geom.Collision.Vertices))
	}
	if len(geom.Collision.Indices) != len(src.Indices) {
		t.Fatalf("expected %d indices, got %d", len(src.Indices), len(geom.Collision.Indices))
	}
	for i, v := range src.Vertices {
		if got := geom.Collision.Vertices[i]; got != v.SwapYZ() {
			t.Errorf("vertex %d: expected %v, got %v", i, v.SwapYZ(), got)
		}
	}
	if geom.NonCollision.TriangleCount() != 1 {
		t.Errorf("expected 1 non-collision triangle, got %d", geom.NonCollision.TriangleCount())
	}
}

func TestParseMap_V2Placements(t *testing.T) {
	src := &MapV2Data{
		Models: []Model{{
			Name:     "crate",
			Vertices: []math.Vec3{v3(0, 0, 0), v3(1, 0, 0), v3(0, 1, 0), v3(0, 0, 1)},
			Polys: []ModelPoly{
				{V: [3]uint32{0, 1, 2}, Vis: 1},
				{V: [3]uint32{0, 1, 3}, Vis: 0},
			},
		}},
		Placements: []Placement{
			{Model: "crate", Position: v3(100, 200, 300), Scale: v3(1, 1, 1)},
			{Model: "missing", Position: v3(1, 1, 1), Scale: v3(1, 1, 1)},
		},
	}
	data, err := EncodeMapV2(src)
	if err != nil {
		t.Fatalf("EncodeMapV2 failed: %v", err)
	}

	geom, err := ParseMap(data)
	if err != nil {
		t.Fatalf("ParseMap failed: %v", err)
	}
	if geom.Collision.TriangleCount() != 1 {
		t.Fatalf("expected 1 collision triangle, got %d", geom.Collision.TriangleCount())
	}
	if geom.NonCollision.TriangleCount() != 1 {
		t.Fatalf("expected 1 non-collision triangle, got %d", geom.NonCollision.TriangleCount())
	}

	a, b, c := geom.Collision.Triangle(0)
	want := []math.Vec3{
		v3(0, 0, 0).Add(v3(100, 200, 300)).SwapXY().SwapYZ(),
		v3(1, 0, 0).Add(v3(100, 200, 300)).SwapXY().SwapYZ(),
		v3(0, 1, 0).Add(v3(100, 200, 300)).SwapXY().SwapYZ(),
	}
	for i, got := range []math.Vec3{a, b, c} {
		if got != want[i] {
			t.Errorf("corner %d: expected %v, got %v", i, want[i], got)
		}
	}
}

func TestParseMap_V2PlacementScaleAndRotation(t *testing.T) {
	src := &MapV2Data{
		Models: []Model{{
			Name:     "post",
			Vertices: []math.Vec3{v3(1, 0, 0), v3(0, 1, 0), v3(0, 0, 1)},
			Polys:    []ModelPoly{{V: [3]uint32{0, 1, 2}, Vis: 1}},
		}},
		Placements: []Placement{{
			Model:    "post",
			Rotation: v3(0, 0, 1.5707964), // 90 degrees about Z
			Scale:    v3(2, 2, 2),
		}},
	}
	data, err := EncodeMapV2(src)
	if err != nil {
		t.Fatalf("EncodeMapV2 failed: %v", err)
	}
	geom, err := ParseMap(data)
	if err != nil {
		t.Fatalf("ParseMap failed: %v", err)
	}

	// (1,0,0) rotates to (0,1,0), scales to (0,2,0), X/Y swap gives (2,0,0)
	// and the Y/Z swap leaves it at (2,0,0).
	a, _, _ := geom.Collision.Triangle(0)
	if !nearVec(a, v3(2, 0, 0)) {
		t.Errorf("expected (2,0,0), got %v", a)
	}
}

func TestParseMap_V2Groups(t *testing.T) {
	src := &MapV2Data{
		Models: []Model{{
			Name:     "wall",
			Vertices: []math.Vec3{v3(0, 0, 0), v3(1, 0, 0), v3(0, 1, 0)},
			Polys:    []ModelPoly{{V: [3]uint32{0, 1, 2}, Vis: 1}},
		}},
		Groups: []PlacementGroup{{
			Position: v3(1, 2, 3),
			Scale:    v3(1, 1, 1),
			Placements: []Placement{
				{Model: "wall", Position: v3(10, 0, 0), Scale: v3(1, 1, 1)},
				{Model: "nope", Scale: v3(1, 1, 1)},
			},
		}},
	}
	data, err := EncodeMapV2(src)
	if err != nil {
		t.Fatalf("EncodeMapV2 failed: %v", err)
	}
	geom, err := ParseMap(data)
	if err != nil {
		t.Fatalf("ParseMap failed: %v", err)
	}
	if geom.Collision.TriangleCount() != 1 {
		t.Fatalf("expected 1 triangle, got %d", geom.Collision.TriangleCount())
	}

	// Without rotation the group translate is applied twice.
	a, _, _ := geom.Collision.Triangle(0)
	want := v3(10, 0, 0).Add(v3(2, 4, 6)).SwapXY().SwapYZ()
	if !nearVec(a, want) {
		t.Errorf("expected %v, got %v", want, a)
	}
}

func TestParseMap_V2FlatTile(t *testing.T) {
	src := &MapV2Data{
		QuadsPerTile:   4,
		UnitsPerVertex: 2,
		Tiles:          []TerrainTile{{Flat: true, X: 16, Y: 32, Height: 7}},
	}
	data, err := EncodeMapV2(src)
	if err != nil {
		t.Fatalf("EncodeMapV2 failed: %v", err)
	}
	geom, err := ParseMap(data)
	if err != nil {
		t.Fatalf("ParseMap failed: %v", err)
	}

	mesh := geom.Collision
	if len(mesh.Vertices) != 4 || mesh.TriangleCount() != 2 {
		t.Fatalf("expected 4 vertices and 2 triangles, got %d/%d", len(mesh.Vertices), mesh.TriangleCount())
	}
	lo, hi, _ := mesh.Bounds()
	if lo != v3(16, 7, 32) || hi != v3(24, 7, 40) {
		t.Errorf("unexpected bounds %v..%v", lo, hi)
	}
}

func TestParseMap_V2HeightmapTile(t *testing.T) {
	tests := []struct {
		name      string
		qpt       uint32
		flags     []uint8
		wantVerts int
		wantTris  int
	}{
		{"single quad", 1, []uint8{0}, 4, 2},
		{"single hole", 1, []uint8{1}, 0, 0},
		{"shared corners", 2, []uint8{0, 0, 0, 0}, 9, 8},
		{"one hole", 2, []uint8{0, 0, 0, 1}, 8, 6},
		{"hole bit only", 2, []uint8{2, 4, 0, 0}, 9, 8},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n := (tt.qpt + 1) * (tt.qpt + 1)
			heights := make([]float32, n)
			for i := range heights {
				heights[i] = float32(i)
			}
			src := &MapV2Data{
				QuadsPerTile:   tt.qpt,
				UnitsPerVertex: 10,
				Tiles:          []TerrainTile{{X: 0, Y: 0, Flags: tt.flags, Heights: heights}},
			}
			data, err := EncodeMapV2(src)
			if err != nil {
				t.Fatalf("EncodeMapV2 failed: %v", err)
			}
			geom, err := ParseMap(data)
			if err != nil {
				t.Fatalf("ParseMap failed: %v", err)
			}
			if len(geom.Collision.Vertices) != tt.wantVerts {
				t.Errorf("expected %d vertices, got %d", tt.wantVerts, len(geom.Collision.Vertices))
			}
			if geom.Collision.TriangleCount() != tt.wantTris {
				t.Errorf("expected %d triangles, got %d", tt.wantTris, geom.Collision.TriangleCount())
			}
		})
	}
}

func TestParseMap_V2HeightmapCorners(t *testing.T) {
	src := &MapV2Data{
		QuadsPerTile:   1,
		UnitsPerVertex: 10,
		Tiles: []TerrainTile{{
			X: 100, Y: 200,
			Flags:   []uint8{0},
			Heights: []float32{1, 2, 3, 4},
		}},
	}
	data, err := EncodeMapV2(src)
	if err != nil {
		t.Fatalf("EncodeMapV2 failed: %v", err)
	}
	geom, err := ParseMap(data)
	if err != nil {
		t.Fatalf("ParseMap failed: %v", err)
	}

	// Corner heights index the (qpt+1)^2 grid: v1=h[0], v2=h[2], v3=h[3], v4=h[1].
	want := []math.Vec3{
		v3(100, 200, 1).SwapYZ(),
		v3(110, 200, 3).SwapYZ(),
		v3(110, 210, 4).SwapYZ(),
		v3(100, 210, 2).SwapYZ(),
	}
	for i, w := range want {
		if geom.Collision.Vertices[i] != w {
			t.Errorf("vertex %d: expected %v, got %v", i, w, geom.Collision.Vertices[i])
		}
	}
	wantIdx := []uint32{3, 1, 2, 3, 0, 1}
	for i, idx := range wantIdx {
		if geom.Collision.Indices[i] != idx {
			t.Errorf("index %d: expected %d, got %d", i, idx, geom.Collision.Indices[i])
		}
	}
}

func buildV2Raw(t *testing.T, payload []byte, declared uint32) []byte {
	t.Helper()
	var compressed bytes.Buffer
	zw := zlib.NewWriter(&compressed)
	zw.Write(payload)
	zw.Close()

	buf := new(bytes.Buffer)
	binary.Write(buf, binary.LittleEndian, uint32(MapV2))
	binary.Write(buf, binary.LittleEndian, uint32(compressed.Len()))
	binary.Write(buf, binary.LittleEndian, declared)
	buf.Write(compressed.Bytes())
	return buf.Bytes()
}

func TestParseMap_V2DecompressedSizeMismatch(t *testing.T) {
	payload := EncodeMapV2Payload(&MapV2Data{
		Vertices: []math.Vec3{v3(0, 0, 0), v3(1, 0, 0), v3(0, 1, 0)},
		Indices:  []uint32{0, 1, 2},
	})

	tests := []struct {
		name     string
		declared uint32
	}{
		{"declared too large", uint32(len(payload)) + 1},
		{"declared too small", uint32(len(payload)) - 1},
		{"declared zero", 0},
		{"over limit", MaxPayloadSize + 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseMap(buildV2Raw(t, payload, tt.declared))
			if !errors.Is(err, ErrDecompressedSize) {
				t.Errorf("expected ErrDecompressedSize, got %v", err)
			}
		})
	}
}

func TestParseMap_V2CorruptStream(t *testing.T) {
	buf := new(bytes.Buffer)
	binary.Write(buf, binary.LittleEndian, uint32(MapV2))
	binary.Write(buf, binary.LittleEndian, uint32(8))
	binary.Write(buf, binary.LittleEndian, uint32(64))
	buf.Write([]byte{0xde, 0xad, 0xbe, 0xef, 0xde, 0xad, 0xbe, 0xef})

	_, err := ParseMap(buf.Bytes())
	if !errors.Is(err, ErrDecompress) {
		t.Errorf("expected ErrDecompress, got %v", err)
	}
}

func TestParseMap_V2TruncatedPayload(t *testing.T) {
	full := EncodeMapV2Payload(&MapV2Data{
		Models: []Model{{
			Name:     "m",
			Vertices: []math.Vec3{v3(0, 0, 0), v3(1, 0, 0), v3(0, 1, 0)},
			Polys:    []ModelPoly{{V: [3]uint32{0, 1, 2}, Vis: 1}},
		}},
		Placements: []Placement{{Model: "m", Scale: v3(1, 1, 1)}},
	})

	// A payload cut short but with a matching declared size still fails.
	for _, n := range []int{0, 20, 44, len(full) - 1} {
		cut := full[:n]
		_, err := ParseMap(buildV2Raw(t, cut, uint32(len(cut))))
		if !errors.Is(err, ErrTruncatedMapData) {
			t.Errorf("len %d: expected ErrTruncatedMapData, got %v", n, err)
		}
	}
}

func TestParseMap_V2TruncatedFile(t *testing.T) {
	data, err := EncodeMapV2(&MapV2Data{
		Vertices: []math.Vec3{v3(0, 0, 0), v3(1, 0, 0), v3(0, 1, 0)},
		Indices:  []uint32{0, 1, 2},
	})
	if err != nil {
		t.Fatalf("EncodeMapV2 failed: %v", err)
	}
	_, err = ParseMap(data[:len(data)-4])
	if !errors.Is(err, ErrTruncatedMapData) {
		t.Errorf("expected ErrTruncatedMapData, got %v", err)
	}
}

func TestParseMap_V2IndexOutOfRange(t *testing.T) {
	data, err := EncodeMapV2(&MapV2Data{
		Vertices: []math.Vec3{v3(0, 0, 0), v3(1, 0, 0), v3(0, 1, 0)},
		Indices:  []uint32{0, 1, 3},
	})
	if err != nil {
		t.Fatalf("EncodeMapV2 failed: %v", err)
	}
	_, err = ParseMap(data)
	if !errors.Is(err, ErrInvalidMesh) {
		t.Errorf("expected ErrInvalidMesh, got %v", err)
	}
}

func TestMesh_Validate(t *testing.T) {
	m := Mesh{Vertices: []math.Vec3{{}, {}, {}}, Indices: []uint32{0, 1}}
	if err := m.Validate(); !errors.Is(err, ErrInvalidMesh) {
		t.Errorf("expected ErrInvalidMesh for short index list, got %v", err)
	}
	m.Indices = []uint32{0, 1, 2}
	if err := m.Validate(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestMapVersion_String(t *testing.T) {
	if MapV1.String() != "V1" || MapV2.String() != "V2" {
		t.Errorf("unexpected names %s %s", MapV1, MapV2)
	}
	if MapVersion(7).String() != "Unknown(0x00000007)" {
		t.Errorf("unexpected unknown name %s", MapVersion(7))
	}
}

func nearVec(a, b math.Vec3) bool {
	d := a.Sub(b)
	const eps = 1e-4
	return d.X > -eps && d.X < eps && d.Y > -eps && d.Y < eps && d.Z > -eps && d.Z < eps
}
