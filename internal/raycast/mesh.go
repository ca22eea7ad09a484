package raycast

import (
	"errors"
	"fmt"
	"sort"

	"github.com/Faultbox/midgard-nav/pkg/math"
)

// ErrInvalidMesh is returned by New for an index stream that does not describe triangles.
var ErrInvalidMesh = errors.New("invalid raycast mesh")

const (
	maxLeafTriangles = 4
	maxTreeDepth     = 40
)

// Hit describes the nearest intersection of a cast.
type Hit struct {
	Point    math.Vec3
	Normal   math.Vec3
	Distance float32
	Triangle int
}

type bvhNode struct {
	box AABB
	// Interior nodes have count == 0 and children at left and left+1.
	left  int32
	start int32
	count int32
}

// Mesh is a bounding volume hierarchy over an immutable triangle soup.
// It is safe for concurrent use once built.
type Mesh struct {
	vertices []math.Vec3
	indices  []uint32
	order    []int32 // triangle ids in leaf order
	nodes    []bvhNode
	bounds   AABB
}

// New builds a mesh from indexed triangles. The slices are retained.
func New(vertices []math.Vec3, indices []uint32) (*Mesh, error) {
	if len(indices)%3 != 0 {
		return nil, fmt.Errorf("%w: %d indices", ErrInvalidMesh, len(indices))
	}
	for i, idx := range indices {
		if int(idx) >= len(vertices) {
			return nil, fmt.Errorf("%w: index %d at %d out of range", ErrInvalidMesh, idx, i)
		}
	}

	m := &Mesh{
		vertices: vertices,
		indices:  indices,
		bounds:   EmptyAABB(),
	}
	for _, v := range vertices {
		m.bounds = m.bounds.Extend(v)
	}

	triCount := len(indices) / 3
	if triCount == 0 {
		return m, nil
	}

	boxes := make([]AABB, triCount)
	centers := make([]math.Vec3, triCount)
	m.order = make([]int32, triCount)
	for i := range boxes {
		a, b, c := m.triangle(i)
		boxes[i] = EmptyAABB().Extend(a).Extend(b).Extend(c)
		centers[i] = boxes[i].Center()
		m.order[i] = int32(i)
	}

	m.nodes = make([]bvhNode, 1, 2*triCount/maxLeafTriangles+1)
	m.build(0, 0, int32(triCount), boxes, centers, 0)
	return m, nil
}

func (m *Mesh) triangle(i int) (a, b, c math.Vec3) {
	return m.vertices[m.indices[i*3]], m.vertices[m.indices[i*3+1]], m.vertices[m.indices[i*3+2]]
}

// build fills node n with triangles order[start:start+count], splitting at
// the centroid median of the longest axis.
func (m *Mesh) build(n int, start, count int32, boxes []AABB, centers []math.Vec3, depth int) {
	box := EmptyAABB()
	centroidBox := EmptyAABB()
	for _, id := range m.order[start : start+count] {
		box = box.Union(boxes[id])
		centroidBox = centroidBox.Extend(centers[id])
	}
	m.nodes[n].box = box

	if count <= maxLeafTriangles || depth >= maxTreeDepth {
		m.nodes[n].start = start
		m.nodes[n].count = count
		return
	}

	axis := centroidBox.LongestAxis()
	if centroidBox.Max.Axis(axis) == centroidBox.Min.Axis(axis) {
		// All centroids coincide; no split separates them.
		m.nodes[n].start = start
		m.nodes[n].count = count
		return
	}

	span := m.order[start : start+count]
	sort.Slice(span, func(i, j int) bool {
		return centers[span[i]].Axis(axis) < centers[span[j]].Axis(axis)
	})
	half := count / 2

	left := int32(len(m.nodes))
	m.nodes = append(m.nodes, bvhNode{}, bvhNode{})
	m.nodes[n].left = left

	m.build(int(left), start, half, boxes, centers, depth+1)
	m.build(int(left)+1, start+half, count-half, boxes, centers, depth+1)
}

// Bounds returns the extents of every vertex. ok is false for an empty mesh.
func (m *Mesh) Bounds() (lo, hi math.Vec3, ok bool) {
	if m == nil || len(m.vertices) == 0 {
		return math.Vec3{}, math.Vec3{}, false
	}
	return m.bounds.Min, m.bounds.Max, true
}

// TriangleCount returns the number of triangles.
func (m *Mesh) TriangleCount() int {
	if m == nil {
		return 0
	}
	return len(m.indices) / 3
}

// Raycast casts the segment from -> to and returns the nearest hit.
func (m *Mesh) Raycast(from, to math.Vec3) (Hit, bool) {
	if m == nil || len(m.nodes) == 0 {
		return Hit{}, false
	}

	delta := to.Sub(from)
	maxDist := delta.Length()
	if maxDist == 0 {
		return Hit{}, false
	}
	ray := Ray{Origin: from, Direction: delta.Scale(1 / maxDist)}

	best := maxDist
	bestTri := -1

	var stack [2 * maxTreeDepth]int32
	sp := 0
	stack[sp] = 0
	sp++

	for sp > 0 {
		sp--
		node := &m.nodes[stack[sp]]

		tmin, _, ok := ray.IntersectAABB(node.box)
		if !ok || tmin > best {
			continue
		}

		if node.count > 0 {
			for _, id := range m.order[node.start : node.start+node.count] {
				a, b, c := m.triangle(int(id))
				if t, hit := ray.IntersectTriangle(a, b, c); hit && t <= best {
					best = t
					bestTri = int(id)
				}
			}
			continue
		}

		stack[sp] = node.left
		stack[sp+1] = node.left + 1
		sp += 2
	}

	if bestTri < 0 {
		return Hit{}, false
	}
	a, b, c := m.triangle(bestTri)
	return Hit{
		Point:    ray.At(best),
		Normal:   FaceNormal(a, b, c),
		Distance: best,
		Triangle: bestTri,
	}, true
}
