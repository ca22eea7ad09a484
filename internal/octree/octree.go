// Package octree provides a point octree for radius queries.
package octree

import (
	"github.com/Faultbox/midgard-nav/pkg/math"
)

const (
	// DefaultLeafCapacity is the number of entries a leaf holds before splitting.
	DefaultLeafCapacity = 16
	// DefaultMaxDepth bounds subdivision for clustered points.
	DefaultMaxDepth = 12
)

// Bounds is an axis-aligned box.
type Bounds struct {
	Min, Max math.Vec3
}

// Contains reports whether p is inside the box, faces included.
func (b Bounds) Contains(p math.Vec3) bool {
	return p.X >= b.Min.X && p.X <= b.Max.X &&
		p.Y >= b.Min.Y && p.Y <= b.Max.Y &&
		p.Z >= b.Min.Z && p.Z <= b.Max.Z
}

// Expand returns the box grown by pad on every side.
func (b Bounds) Expand(pad float32) Bounds {
	d := math.Vec3{X: pad, Y: pad, Z: pad}
	return Bounds{Min: b.Min.Sub(d), Max: b.Max.Add(d)}
}

// distSq returns the squared distance from p to the box (0 inside).
func (b Bounds) distSq(p math.Vec3) float32 {
	var d float32
	for axis := 0; axis < 3; axis++ {
		v := p.Axis(axis)
		lo, hi := b.Min.Axis(axis), b.Max.Axis(axis)
		if v < lo {
			d += (lo - v) * (lo - v)
		} else if v > hi {
			d += (v - hi) * (v - hi)
		}
	}
	return d
}

// Entry is a stored point. The payload is not owned by the tree.
type Entry[T any] struct {
	Position math.Vec3
	Value    T
}

type node[T any] struct {
	bounds   Bounds
	center   math.Vec3
	entries  []Entry[T]
	children *[8]node[T]
}

// Tree indexes payloads by position.
type Tree[T any] struct {
	root         node[T]
	leafCapacity int
	maxDepth     int
	size         int
}

// New creates an empty tree over bounds.
func New[T any](bounds Bounds) *Tree[T] {
	t := &Tree[T]{leafCapacity: DefaultLeafCapacity, maxDepth: DefaultMaxDepth}
	t.root = newNode[T](bounds)
	return t
}

func newNode[T any](b Bounds) node[T] {
	return node[T]{bounds: b, center: b.Min.Add(b.Max).Scale(0.5)}
}

// Bounds returns the root box.
func (t *Tree[T]) Bounds() Bounds {
	return t.root.bounds
}

// Len returns the number of stored entries.
func (t *Tree[T]) Len() int {
	return t.size
}

// Clear removes every entry, keeping the bounds.
func (t *Tree[T]) Clear() {
	t.root = newNode[T](t.root.bounds)
	t.size = 0
}

// Insert stores value at pos. It returns false if pos is outside the tree bounds.
func (t *Tree[T]) Insert(pos math.Vec3, value T) bool {
	if !t.root.bounds.Contains(pos) {
		return false
	}
	t.insert(&t.root, Entry[T]{Position: pos, Value: value}, 0)
	t.size++
	return true
}

func (t *Tree[T]) insert(n *node[T], e Entry[T], depth int) {
	for n.children != nil {
		n = &n.children[n.octant(e.Position)]
		depth++
	}
	n.entries = append(n.entries, e)

	if len(n.entries) > t.leafCapacity && depth < t.maxDepth {
		n.split()
	}
}

func (n *node[T]) octant(p math.Vec3) int {
	i := 0
	if p.X >= n.center.X {
		i |= 1
	}
	if p.Y >= n.center.Y {
		i |= 2
	}
	if p.Z >= n.center.Z {
		i |= 4
	}
	return i
}

func (n *node[T]) split() {
	n.children = new([8]node[T])
	for i := range n.children {
		b := n.bounds
		if i&1 != 0 {
			b.Min.X = n.center.X
		} else {
			b.Max.X = n.center.X
		}
		if i&2 != 0 {
			b.Min.Y = n.center.Y
		} else {
			b.Max.Y = n.center.Y
		}
		if i&4 != 0 {
			b.Min.Z = n.center.Z
		} else {
			b.Max.Z = n.center.Z
		}
		n.children[i] = newNode[T](b)
	}
	for _, e := range n.entries {
		c := &n.children[n.octant(e.Position)]
		c.entries = append(c.entries, e)
	}
	n.entries = nil
}

// TraverseRange calls fn for every entry within radius of center, in no
// particular order. Returning false from fn stops the traversal.
func (t *Tree[T]) TraverseRange(center math.Vec3, radius float32, fn func(Entry[T]) bool) {
	if radius < 0 {
		return
	}
	t.root.traverse(center, radius*radius, fn)
}

func (n *node[T]) traverse(center math.Vec3, radiusSq float32, fn func(Entry[T]) bool) bool {
	if n.bounds.distSq(center) > radiusSq {
		return true
	}
	if n.children != nil {
		for i := range n.children {
			if !n.children[i].traverse(center, radiusSq, fn) {
				return false
			}
		}
		return true
	}
	for _, e := range n.entries {
		d := e.Position.Sub(center)
		if d.Dot(d) <= radiusSq {
			if !fn(e) {
				return false
			}
		}
	}
	return true
}

// Range returns every entry within radius of center.
func (t *Tree[T]) Range(center math.Vec3, radius float32) []Entry[T] {
	var out []Entry[T]
	t.TraverseRange(center, radius, func(e Entry[T]) bool {
		out = append(out, e)
		return true
	})
	return out
}
