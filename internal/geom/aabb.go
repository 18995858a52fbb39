package geom

import "math"

// Vec3 is a position or direction in world space (y is up).
type Vec3 struct {
	X, Y, Z float64
}

func (v Vec3) Add(o Vec3) Vec3      { return Vec3{v.X + o.X, v.Y + o.Y, v.Z + o.Z} }
func (v Vec3) Sub(o Vec3) Vec3      { return Vec3{v.X - o.X, v.Y - o.Y, v.Z - o.Z} }
func (v Vec3) Scale(s float64) Vec3 { return Vec3{v.X * s, v.Y * s, v.Z * s} }
func (v Vec3) Length() float64      { return math.Sqrt(v.X*v.X + v.Y*v.Y + v.Z*v.Z) }

// AABB is an axis-aligned bounding box. The zero value is the null box: it
// contains nothing and intersects nothing.
type AABB struct {
	Min, Max Vec3
	valid    bool
}

// NewAABB builds a box from two corners in any order.
func NewAABB(a, b Vec3) AABB {
	return AABB{
		Min:   Vec3{math.Min(a.X, b.X), math.Min(a.Y, b.Y), math.Min(a.Z, b.Z)},
		Max:   Vec3{math.Max(a.X, b.X), math.Max(a.Y, b.Y), math.Max(a.Z, b.Z)},
		valid: true,
	}
}

// Around returns the box centred on c with the given half extents.
func Around(c, half Vec3) AABB {
	return NewAABB(c.Sub(half), c.Add(half))
}

func (b AABB) IsNull() bool { return !b.valid }

// Intersects reports whether the two boxes overlap. Touching faces count.
func (b AABB) Intersects(o AABB) bool {
	if !b.valid || !o.valid {
		return false
	}
	return b.Min.X <= o.Max.X && b.Max.X >= o.Min.X &&
		b.Min.Y <= o.Max.Y && b.Max.Y >= o.Min.Y &&
		b.Min.Z <= o.Max.Z && b.Max.Z >= o.Min.Z
}

// Merge returns the smallest box containing both.
func (b AABB) Merge(o AABB) AABB {
	if !b.valid {
		return o
	}
	if !o.valid {
		return b
	}
	return AABB{
		Min:   Vec3{math.Min(b.Min.X, o.Min.X), math.Min(b.Min.Y, o.Min.Y), math.Min(b.Min.Z, o.Min.Z)},
		Max:   Vec3{math.Max(b.Max.X, o.Max.X), math.Max(b.Max.Y, o.Max.Y), math.Max(b.Max.Z, o.Max.Z)},
		valid: true,
	}
}

// Translate moves the box by d. The null box stays null.
func (b AABB) Translate(d Vec3) AABB {
	if !b.valid {
		return b
	}
	return AABB{Min: b.Min.Add(d), Max: b.Max.Add(d), valid: true}
}

// Contains reports whether p lies inside the box (inclusive).
func (b AABB) Contains(p Vec3) bool {
	if !b.valid {
		return false
	}
	return p.X >= b.Min.X && p.X <= b.Max.X &&
		p.Y >= b.Min.Y && p.Y <= b.Max.Y &&
		p.Z >= b.Min.Z && p.Z <= b.Max.Z
}

func (b AABB) Center() Vec3 {
	return b.Min.Add(b.Max).Scale(0.5)
}
