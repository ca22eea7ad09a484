// Package raycast casts segments against a static triangle mesh.
package raycast

import (
	gomath "math"

	"github.com/Faultbox/midgard-nav/pkg/math"
)

// Ray represents a ray in 3D space with origin and direction.
type Ray struct {
	Origin    math.Vec3
	Direction math.Vec3 // Normalized direction
}

// At returns the point at distance t along the ray.
func (r Ray) At(t float32) math.Vec3 {
	return r.Origin.Add(r.Direction.Scale(t))
}

// AABB represents an axis-aligned bounding box.
type AABB struct {
	Min math.Vec3
	Max math.Vec3
}

// EmptyAABB returns a box that any Extend call will replace.
func EmptyAABB() AABB {
	inf := float32(gomath.MaxFloat32)
	return AABB{
		Min: math.Vec3{X: inf, Y: inf, Z: inf},
		Max: math.Vec3{X: -inf, Y: -inf, Z: -inf},
	}
}

// Extend grows the box to contain p.
func (b AABB) Extend(p math.Vec3) AABB {
	return AABB{Min: b.Min.Min(p), Max: b.Max.Max(p)}
}

// Union returns the box containing both boxes.
func (b AABB) Union(o AABB) AABB {
	return AABB{Min: b.Min.Min(o.Min), Max: b.Max.Max(o.Max)}
}

// Center returns the box midpoint.
func (b AABB) Center() math.Vec3 {
	return b.Min.Add(b.Max).Scale(0.5)
}

// LongestAxis returns 0, 1 or 2 for the widest extent.
func (b AABB) LongestAxis() int {
	size := b.Max.Sub(b.Min)
	axis := 0
	if size.Y > size.X {
		axis = 1
	}
	if size.Z > size.Axis(axis) {
		axis = 2
	}
	return axis
}

// IntersectAABB tests ray intersection with an axis-aligned bounding box.
// Returns the entry and exit distances. If the ray starts inside the box,
// tmin is negative.
func (r Ray) IntersectAABB(box AABB) (tmin, tmax float32, hit bool) {
	tmin = float32(-gomath.MaxFloat32)
	tmax = float32(gomath.MaxFloat32)

	for axis := 0; axis < 3; axis++ {
		o := r.Origin.Axis(axis)
		d := r.Direction.Axis(axis)
		lo := box.Min.Axis(axis)
		hi := box.Max.Axis(axis)

		if d == 0 {
			if o < lo || o > hi {
				return 0, 0, false
			}
			continue
		}

		t1 := (lo - o) / d
		t2 := (hi - o) / d
		if t1 > t2 {
			t1, t2 = t2, t1
		}
		if t1 > tmin {
			tmin = t1
		}
		if t2 < tmax {
			tmax = t2
		}
	}

	if tmax < tmin || tmax < 0 {
		return 0, 0, false
	}
	return tmin, tmax, true
}

const triangleEpsilon = 1e-7

// IntersectTriangle runs a two-sided Möller-Trumbore test and returns the
// distance along the ray.
func (r Ray) IntersectTriangle(a, b, c math.Vec3) (t float32, hit bool) {
	edge1 := b.Sub(a)
	edge2 := c.Sub(a)

	h := r.Direction.Cross(edge2)
	det := edge1.Dot(h)
	if det > -triangleEpsilon && det < triangleEpsilon {
		return 0, false // parallel to the triangle plane
	}

	f := 1 / det
	s := r.Origin.Sub(a)
	u := f * s.Dot(h)
	if u < 0 || u > 1 {
		return 0, false
	}

	q := s.Cross(edge1)
	v := f * r.Direction.Dot(q)
	if v < 0 || u+v > 1 {
		return 0, false
	}

	t = f * edge2.Dot(q)
	if t < 0 {
		return 0, false
	}
	return t, true
}

// FaceNormal returns the unit normal of a clockwise-front triangle.
func FaceNormal(a, b, c math.Vec3) math.Vec3 {
	return b.Sub(c).Cross(a.Sub(b)).Normalize()
}
