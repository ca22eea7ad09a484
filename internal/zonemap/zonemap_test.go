package zonemap

import (
	"testing"

	"github.com/Faultbox/midgard-nav/pkg/formats"
	"github.com/Faultbox/midgard-nav/pkg/math"
)

func v3(x, y, z float32) math.Vec3 { return math.Vec3{X: x, Y: y, Z: z} }

func near(a, b float32) bool {
	d := a - b
	return d > -1e-3 && d < 1e-3
}

// meshBuilder assembles Y-up test geometry.
type meshBuilder struct {
	mesh formats.Mesh
}

func (b *meshBuilder) tri(a, c, d math.Vec3) {
	base := uint32(len(b.mesh.Vertices))
	b.mesh.Vertices = append(b.mesh.Vertices, a, c, d)
	b.mesh.Indices = append(b.mesh.Indices, base, base+1, base+2)
}

// floor adds an up-facing rectangle at height y.
func (b *meshBuilder) floor(x0, z0, x1, z1, y float32) {
	b.tri(v3(x0, y, z0), v3(x1, y, z0), v3(x0, y, z1))
	b.tri(v3(x1, y, z0), v3(x1, y, z1), v3(x0, y, z1))
}

// wall adds a vertical rectangle in the plane x = x.
func (b *meshBuilder) wall(x, z0, z1, y0, y1 float32) {
	b.tri(v3(x, y0, z0), v3(x, y1, z0), v3(x, y0, z1))
	b.tri(v3(x, y1, z0), v3(x, y1, z1), v3(x, y0, z1))
}

func (b *meshBuilder) build(t *testing.T) *ZoneMap {
	t.Helper()
	zm, err := New(&formats.ZoneGeometry{Version: formats.MapV2, Collision: b.mesh})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return zm
}

func TestLoadV1_FloorThroughCentroid(t *testing.T) {
	// File space is Z-up; heights are the Z coordinates.
	data := formats.EncodeMapV1([][3]math.Vec3{
		{v3(0, 0, 12), v3(30, 0, 12), v3(0, 30, 12)},
		{v3(100, 100, -4), v3(130, 100, -4), v3(100, 130, -4)},
	})
	geom, err := formats.ParseMap(data)
	if err != nil {
		t.Fatalf("ParseMap failed: %v", err)
	}
	zm, err := New(geom)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if len(geom.Collision.Vertices) != 6 || zm.TriangleCount() != 2 {
		t.Fatalf("expected 6 vertices and 2 triangles, got %d/%d", len(geom.Collision.Vertices), zm.TriangleCount())
	}

	// Centroids in world space (X, Z) after the Y/Z swap.
	tests := []struct {
		x, z, want float32
	}{
		{10, 10, 12},
		{110, 110, -4},
	}
	for _, tt := range tests {
		hit, ok := zm.Raycast(v3(tt.x, 1000, tt.z), v3(tt.x, -1000, tt.z))
		if !ok || !near(hit.Point.Y, tt.want) {
			t.Errorf("ray at (%v,%v): expected height %v, got %+v %v", tt.x, tt.z, tt.want, hit, ok)
		}
		floor, ok := zm.FindBestFloor(v3(tt.x, 50, tt.z))
		if !ok || !near(floor, tt.want) {
			t.Errorf("FindBestFloor at (%v,%v): expected %v, got %v", tt.x, tt.z, tt.want, floor)
		}
	}
}

func TestFindBestFloor(t *testing.T) {
	b := &meshBuilder{}
	b.floor(0, 0, 100, 100, 0)
	b.floor(0, 0, 100, 100, 40)
	zm := b.build(t)

	tests := []struct {
		name   string
		p      math.Vec3
		want   float32
		wantOK bool
	}{
		{"on ground floor", v3(30, 0, 40), 0, true},
		{"between floors", v3(30, 20, 40), 0, true},
		{"on upper floor", v3(30, 40, 40), 40, true},
		{"just below upper floor", v3(30, 39.5, 40), 40, true},
		{"above everything", v3(30, 500, 40), 40, true},
		{"below everything", v3(30, -500, 40), 0, true},
		{"outside footprint", v3(500, 0, 500), BestZInvalid, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := zm.FindBestFloor(tt.p)
			if ok != tt.wantOK || !near(got, tt.want) {
				t.Errorf("expected %v/%v, got %v/%v", tt.want, tt.wantOK, got, ok)
			}
		})
	}
}

func TestIsUnderworld(t *testing.T) {
	b := &meshBuilder{}
	b.floor(0, 0, 100, 100, 0)
	// Down-facing ceiling slab over a second area.
	b.tri(v3(200, 10, 0), v3(200, 10, 100), v3(300, 10, 0))
	zm := b.build(t)

	tests := []struct {
		name string
		p    math.Vec3
		want bool
	}{
		{"above floor", v3(30, 5, 40), false},
		{"below floor, floor overhead only", v3(30, -5, 40), true},
		{"no geometry", v3(500, 5, 500), true},
		{"above ceiling underside", v3(220, 20, 20), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := zm.IsUnderworld(tt.p); got != tt.want {
				t.Errorf("expected %v, got %v", tt.want, got)
			}
		})
	}
}

func TestCheckLoS(t *testing.T) {
	b := &meshBuilder{}
	b.floor(-50, -50, 50, 50, 0)
	open := b.build(t)

	a, c := v3(-20, 5, 0), v3(20, 5, 0)
	if !open.CheckLoS(a, c) {
		t.Error("expected clear line of sight")
	}

	b.wall(0, -10, 10, 0, 20)
	walled := b.build(t)
	if walled.CheckLoS(a, c) {
		t.Error("expected wall to block line of sight")
	}
	if !walled.CheckLoS(v3(-20, 25, 0), v3(20, 25, 0)) {
		t.Error("expected clear line of sight above the wall")
	}
}

func TestCheckLosNoHazards(t *testing.T) {
	b := &meshBuilder{}
	b.floor(0, -10, 50, 10, 0)
	b.floor(100, -10, 150, 10, 0)
	// Shallow step on the first platform.
	b.floor(20, -10, 30, 10, 3)
	zm := b.build(t)

	tests := []struct {
		name       string
		start, end math.Vec3
		want       bool
	}{
		{"flat run", v3(2, 1, 3.3), v3(18, 1, 3.3), true},
		{"across chasm", v3(10, 1, 3.3), v3(140, 1, 3.3), false},
		{"over step", v3(2, 4, 3.3), v3(45, 4, 3.3), true},
		{"off the edge", v3(40, 1, 3.3), v3(60, 1, 3.3), false},
		{"same point", v3(5, 1, 3.3), v3(5, 1, 3.3), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := zm.CheckLosNoHazards(tt.start, tt.end, 1, 10); got != tt.want {
				t.Errorf("expected %v, got %v", tt.want, got)
			}
		})
	}
}

func TestCheckLosNoHazards_MaxDiff(t *testing.T) {
	b := &meshBuilder{}
	b.floor(0, -10, 100, 10, 0)
	zm := b.build(t)

	// Flying 20 units over a floor exceeds max diff 10.
	if zm.CheckLosNoHazards(v3(5, 20, 3.3), v3(30, 20, 3.3), 1, 10) {
		t.Error("expected high path to fail max diff")
	}
	if !zm.CheckLosNoHazards(v3(5, 20, 3.3), v3(30, 20, 3.3), 1, 25) {
		t.Error("expected high path to pass with larger max diff")
	}
}

func TestCheckLosNoHazards_FloorRange(t *testing.T) {
	b := &meshBuilder{}
	b.floor(0, -10, 100, 10, 50)
	zm := b.build(t)
	zm.SetFloorRange(40)

	if zm.CheckLosNoHazards(v3(5, 51, 3.3), v3(30, 51, 3.3), 1, 10) {
		t.Error("expected floor outside plausible range to fail")
	}
}

func TestNoGeometry(t *testing.T) {
	empty := (&meshBuilder{}).build(t)
	var missing *ZoneMap

	for name, zm := range map[string]*ZoneMap{"empty": empty, "nil": missing} {
		t.Run(name, func(t *testing.T) {
			if z, ok := zm.FindBestFloor(v3(0, 0, 0)); ok || z != BestZInvalid {
				t.Errorf("expected invalid floor, got %v", z)
			}
			if zm.CheckLoS(v3(0, 0, 0), v3(1, 1, 1)) {
				t.Error("expected CheckLoS false without geometry")
			}
			if zm.CheckLosNoHazards(v3(0, 0, 0), v3(1, 1, 1), 1, 10) {
				t.Error("expected CheckLosNoHazards false without geometry")
			}
			if zm.IsUnderworld(v3(0, 0, 0)) {
				t.Error("expected IsUnderworld false without geometry")
			}
			if _, ok := zm.Raycast(v3(0, 10, 0), v3(0, -10, 0)); ok {
				t.Error("expected no raycast hit without geometry")
			}
		})
	}
}
