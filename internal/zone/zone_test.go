package zone

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Faultbox/midgard-nav/internal/metrics"
	"github.com/Faultbox/midgard-nav/internal/navgraph"
	"github.com/Faultbox/midgard-nav/internal/storage"
	"github.com/Faultbox/midgard-nav/pkg/formats"
	"github.com/Faultbox/midgard-nav/pkg/math"
)

// fileFloor returns two file-space (Z-up) triangles covering a square at
// height h that decode to an up-facing floor.
func fileFloor(x0, y0, x1, y1, h float32) [][3]math.Vec3 {
	return [][3]math.Vec3{
		{{X: x0, Y: y0, Z: h}, {X: x1, Y: y0, Z: h}, {X: x0, Y: y1, Z: h}},
		{{X: x1, Y: y0, Z: h}, {X: x1, Y: y1, Z: h}, {X: x0, Y: y1, Z: h}},
	}
}

func writeZone(t *testing.T, dir, name string, tris [][3]math.Vec3, regions []formats.WTRRegion) {
	t.Helper()
	if tris != nil {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name+".map"), formats.EncodeMapV1(tris), 0o644))
	}
	if regions != nil {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name+".wtr"), formats.EncodeWTRV2(regions), 0o644))
	}
}

func loadZone(t *testing.T, dir, name string, opts Options) *Zone {
	t.Helper()
	z, err := Load(context.Background(), dir, name, opts)
	require.NoError(t, err)
	t.Cleanup(z.Close)
	return z
}

func fastSettings() navgraph.Settings {
	s := navgraph.DefaultSettings()
	s.Workers = 2
	return s
}

func TestLoad_MapAndWater(t *testing.T) {
	dir := t.TempDir()
	writeZone(t, dir, "pool", fileFloor(0, 0, 100, 100, 0), []formats.WTRRegion{{
		Type:     formats.LiquidWater,
		Position: math.Vec3{X: 50, Y: 5, Z: 50},
		Scale:    math.Vec3{X: 1, Y: 1, Z: 1},
		Extents:  math.Vec3{X: 10, Y: 5, Z: 10},
	}})

	z := loadZone(t, dir, "pool", Options{})
	require.True(t, z.HasGeometry())
	require.NotNil(t, z.Water)
	assert.NotEmpty(t, z.MapDigest)
	assert.Equal(t, 2, z.Map.TriangleCount())
	assert.True(t, z.Water.InWater(math.Vec3{X: 50, Y: 5, Z: 50}))

	best, ok := z.Map.FindBestFloor(math.Vec3{X: 30, Y: 10, Z: 40})
	require.True(t, ok)
	assert.InDelta(t, 0, best, 1e-4)
	assert.Nil(t, z.Graph())
}

func TestLoad_MissingFiles(t *testing.T) {
	z := loadZone(t, t.TempDir(), "nowhere", Options{})
	assert.False(t, z.HasGeometry())
	assert.Nil(t, z.Water)
	assert.Empty(t, z.MapDigest)

	best, ok := z.Map.FindBestFloor(math.Vec3{})
	assert.False(t, ok)
	assert.Equal(t, float32(-999999), best)
}

func TestLoad_CorruptMap(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "bad.map"), []byte{9, 9, 9, 9, 1}, 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "bad.wtr"), []byte("NOTWATER"), 0o644))

	reg := prometheus.NewRegistry()
	z := loadZone(t, dir, "bad", Options{Metrics: metrics.New(reg)})
	assert.False(t, z.HasGeometry())
	assert.Nil(t, z.Water)
}

func TestLoad_InvalidName(t *testing.T) {
	for _, name := range []string{"", ".", "..", "../etc/passwd", `a\b`, "a/b"} {
		_, err := Load(context.Background(), t.TempDir(), name, Options{})
		assert.ErrorIs(t, err, ErrInvalidName, "name %q", name)
	}
}

func TestLoad_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Load(ctx, t.TempDir(), "zone", Options{})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestBuild_SwapsGraph(t *testing.T) {
	dir := t.TempDir()
	writeZone(t, dir, "field", fileFloor(0, 0, 60, 60, 0), nil)
	z := loadZone(t, dir, "field", Options{})

	job, err := z.StartBuild(fastSettings())
	require.NoError(t, err)
	assert.NotEqual(t, [16]byte{}, [16]byte(job.ID))

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	g, err := job.Wait(ctx)
	require.NoError(t, err)
	require.NotZero(t, g.Len())

	assert.Same(t, g, z.Graph())
	assert.True(t, job.Finished())
	assert.Equal(t, navgraph.PhaseNone, job.Phase())
	assert.Equal(t, navgraph.PhaseNone, z.Phase())
	assert.False(t, job.FromCache())
	assert.NoError(t, job.Err())
	assert.Same(t, job, z.Job())
}

func TestBuild_NoGeometry(t *testing.T) {
	z := loadZone(t, t.TempDir(), "empty", Options{})
	_, err := z.Build(context.Background(), fastSettings())
	assert.ErrorIs(t, err, navgraph.ErrNoGeometry)
	assert.Nil(t, z.Graph())
}

func TestBuild_InProgressAndCancel(t *testing.T) {
	dir := t.TempDir()
	// Large enough that the build cannot finish before it is cancelled.
	writeZone(t, dir, "plains", fileFloor(0, 0, 4000, 4000, 0), nil)
	z := loadZone(t, dir, "plains", Options{})

	s := fastSettings()
	s.StepSizeLand = 2
	job, err := z.StartBuild(s)
	require.NoError(t, err)

	_, err = z.StartBuild(s)
	assert.ErrorIs(t, err, navgraph.ErrBuildInProgress)

	job.Cancel()
	_, err = job.Wait(context.Background())
	assert.ErrorIs(t, err, navgraph.ErrCancelled)
	assert.Nil(t, z.Graph(), "a cancelled build leaves the previous graph")

	// A new build may start once the old one has ended.
	next, err := z.StartBuild(s)
	require.NoError(t, err)
	next.Cancel()
	_, err = next.Wait(context.Background())
	assert.ErrorIs(t, err, navgraph.ErrCancelled)
}

func TestClose_CancelsBuild(t *testing.T) {
	dir := t.TempDir()
	writeZone(t, dir, "plains", fileFloor(0, 0, 4000, 4000, 0), nil)
	z, err := Load(context.Background(), dir, "plains", Options{})
	require.NoError(t, err)

	s := fastSettings()
	s.StepSizeLand = 2
	job, err := z.StartBuild(s)
	require.NoError(t, err)

	z.Close()
	assert.True(t, job.Finished())
	assert.ErrorIs(t, job.Err(), navgraph.ErrCancelled)

	_, err = z.StartBuild(s)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestBuild_UsesCache(t *testing.T) {
	dir := t.TempDir()
	writeZone(t, dir, "field", fileFloor(0, 0, 60, 60, 0), nil)

	store, err := storage.OpenInMemory()
	require.NoError(t, err)
	defer store.Close()

	first := loadZone(t, dir, "field", Options{Cache: store})
	built, err := first.Build(context.Background(), fastSettings())
	require.NoError(t, err)

	key := storage.GraphKey("field", first.MapDigest, first.Map.FloorRange(), fastSettings())
	_, err = store.Load(key)
	require.NoError(t, err, "finished builds are cached")

	second := loadZone(t, dir, "field", Options{Cache: store})
	job, err := second.StartBuild(fastSettings())
	require.NoError(t, err)
	cached, err := job.Wait(context.Background())
	require.NoError(t, err)
	assert.True(t, job.FromCache())
	assert.Equal(t, built.Stats(), cached.Stats())
}

func TestBuild_CacheKeyFollowsFloorRange(t *testing.T) {
	dir := t.TempDir()
	writeZone(t, dir, "mesa", fileFloor(0, 0, 60, 60, 500), nil)

	store, err := storage.OpenInMemory()
	require.NoError(t, err)
	defer store.Close()

	wide := loadZone(t, dir, "mesa", Options{Cache: store})
	g, err := wide.Build(context.Background(), fastSettings())
	require.NoError(t, err)
	require.NotZero(t, g.Len())

	// Floors above the range fail every hazard check, so nothing connects.
	narrow := loadZone(t, dir, "mesa", Options{Cache: store, FloorRange: 100})
	job, err := narrow.StartBuild(fastSettings())
	require.NoError(t, err)
	g, err = job.Wait(context.Background())
	require.NoError(t, err)
	assert.False(t, job.FromCache())
	assert.Zero(t, g.Len())
}

func TestStartBuild_GridTooFine(t *testing.T) {
	dir := t.TempDir()
	writeZone(t, dir, "far", fileFloor(100000, 100000, 100010, 100010, 0), nil)
	z := loadZone(t, dir, "far", Options{})

	s := fastSettings()
	s.StepSizeLand = 0.001
	_, err := z.StartBuild(s)
	assert.ErrorIs(t, err, navgraph.ErrGridTooFine)
	assert.Nil(t, z.Job())

	done := make(chan struct{})
	go func() {
		z.Close()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Close did not return")
	}
}

func TestBuild_InvalidSettings(t *testing.T) {
	z := loadZone(t, t.TempDir(), "empty", Options{})
	s := fastSettings()
	s.HazardStep = 0
	_, err := z.StartBuild(s)
	assert.Error(t, err)
	assert.Nil(t, z.Job())
}
