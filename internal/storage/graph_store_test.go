package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Faultbox/midgard-nav/internal/navgraph"
	"github.com/Faultbox/midgard-nav/pkg/math"
)

func testGraph() *navgraph.Graph {
	a := &navgraph.Node{ID: 0, Position: math.Vec3{X: 1, Y: 2, Z: 3}}
	b := &navgraph.Node{ID: 4, Position: math.Vec3{X: 4, Y: 2, Z: 7}, Type: navgraph.NodeWater}
	a.Connections = []navgraph.Connection{{To: b, Weight: 5}}
	b.Connections = []navgraph.Connection{{To: a, Weight: 5}}
	return &navgraph.Graph{Nodes: []*navgraph.Node{a, b}}
}

func openStore(t *testing.T) *GraphStore {
	t.Helper()
	s, err := OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestGraphStore_SaveLoad(t *testing.T) {
	s := openStore(t)
	require.NoError(t, s.Save("qeynos:abc:1", testGraph()))

	g, err := s.Load("qeynos:abc:1")
	require.NoError(t, err)
	require.Equal(t, 2, g.Len())

	n, ok := g.Node(4)
	require.True(t, ok)
	assert.Equal(t, navgraph.NodeWater, n.Type)
	assert.Equal(t, math.Vec3{X: 4, Y: 2, Z: 7}, n.Position)
	require.Len(t, n.Connections, 1)
	assert.Equal(t, 0, n.Connections[0].To.ID)
	assert.Equal(t, float32(5), n.Connections[0].Weight)
}

func TestGraphStore_NotFound(t *testing.T) {
	s := openStore(t)
	_, err := s.Load("missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestGraphStore_Overwrite(t *testing.T) {
	s := openStore(t)
	require.NoError(t, s.Save("k", testGraph()))
	require.NoError(t, s.Save("k", &navgraph.Graph{}))

	g, err := s.Load("k")
	require.NoError(t, err)
	assert.Zero(t, g.Len())
}

func TestGraphStore_DeleteAndKeys(t *testing.T) {
	s := openStore(t)
	for _, k := range []string{"befallen:1:a", "befallen:2:a", "qeynos:1:a"} {
		require.NoError(t, s.Save(k, testGraph()))
	}

	keys, err := s.Keys("befallen:")
	require.NoError(t, err)
	assert.Equal(t, []string{"befallen:1:a", "befallen:2:a"}, keys)

	require.NoError(t, s.Delete("befallen:1:a"))
	require.NoError(t, s.Delete("never-stored"))

	keys, err = s.Keys("")
	require.NoError(t, err)
	assert.Equal(t, []string{"befallen:2:a", "qeynos:1:a"}, keys)

	_, err = s.Load("befallen:1:a")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestGraphStore_Closed(t *testing.T) {
	s, err := OpenInMemory()
	require.NoError(t, err)
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	assert.ErrorIs(t, s.Save("k", testGraph()), ErrClosed)
	_, err = s.Load("k")
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, s.Delete("k"), ErrClosed)
	_, err = s.Keys("")
	assert.ErrorIs(t, err, ErrClosed)
}

func TestGraphStore_OnDisk(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir)
	require.NoError(t, err)
	require.NoError(t, s.Save("k", testGraph()))
	require.NoError(t, s.Close())

	s, err = Open(dir)
	require.NoError(t, err)
	defer s.Close()
	g, err := s.Load("k")
	require.NoError(t, err)
	assert.Equal(t, 2, g.Len())
}

func TestGraphKey(t *testing.T) {
	base := navgraph.DefaultSettings()
	digest := Digest([]byte("map bytes"))
	k1 := GraphKey("qeynos", digest, 30000, base)

	assert.Equal(t, k1, GraphKey("qeynos", digest, 30000, base))

	workers := base
	workers.Workers = 8
	assert.Equal(t, k1, GraphKey("qeynos", digest, 30000, workers), "worker count does not change the graph")

	changed := base
	changed.StepSizeLand = 5
	assert.NotEqual(t, k1, GraphKey("qeynos", digest, 30000, changed))
	assert.NotEqual(t, k1, GraphKey("qeynos", digest, 100, base), "floor range changes hazard checks")
	assert.NotEqual(t, k1, GraphKey("qeynos", Digest([]byte("other bytes")), 30000, base))
	assert.NotEqual(t, k1, GraphKey("freporte", digest, 30000, base))
}
