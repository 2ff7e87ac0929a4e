package dynamics

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"
)

// AABB is an axis-aligned box in whatever frame its owner uses.
type AABB struct {
	Min mgl64.Vec3
	Max mgl64.Vec3
}

func (a AABB) Intersects(b AABB) bool {
	return a.Min.X() < b.Max.X() && a.Max.X() > b.Min.X() &&
		a.Min.Y() < b.Max.Y() && a.Max.Y() > b.Min.Y() &&
		a.Min.Z() < b.Max.Z() && a.Max.Z() > b.Min.Z()
}

func (a AABB) Contains(p mgl64.Vec3) bool {
	return p.X() >= a.Min.X() && p.X() <= a.Max.X() &&
		p.Y() >= a.Min.Y() && p.Y() <= a.Max.Y() &&
		p.Z() >= a.Min.Z() && p.Z() <= a.Max.Z()
}

func (a AABB) Union(b AABB) AABB {
	return AABB{
		Min: mgl64.Vec3{math.Min(a.Min.X(), b.Min.X()), math.Min(a.Min.Y(), b.Min.Y()), math.Min(a.Min.Z(), b.Min.Z())},
		Max: mgl64.Vec3{math.Max(a.Max.X(), b.Max.X()), math.Max(a.Max.Y(), b.Max.Y()), math.Max(a.Max.Z(), b.Max.Z())},
	}
}

func (a AABB) Expand(margin float64) AABB {
	m := mgl64.Vec3{margin, margin, margin}
	return AABB{Min: a.Min.Sub(m), Max: a.Max.Add(m)}
}

func (a AABB) Translate(v mgl64.Vec3) AABB {
	return AABB{Min: a.Min.Add(v), Max: a.Max.Add(v)}
}

func (a AABB) Center() mgl64.Vec3 {
	return a.Min.Add(a.Max).Mul(0.5)
}

func (a AABB) HalfExtents() mgl64.Vec3 {
	return a.Max.Sub(a.Min).Mul(0.5)
}

// Triangle is one collision triangle in shape-local coordinates.
type Triangle struct {
	A, B, C mgl64.Vec3
}

// Normal returns the right-handed face normal, or zero for a degenerate
// triangle.
func (t Triangle) Normal() mgl64.Vec3 {
	n := t.B.Sub(t.A).Cross(t.C.Sub(t.A))
	l := n.Len()
	if l < 1e-12 {
		return mgl64.Vec3{}
	}
	return n.Mul(1 / l)
}

// Shape is the collision geometry attached to a Body.
type Shape interface {
	// BoundingBox returns the world-space AABB under the given transform.
	BoundingBox(t Transform) AABB
}

// BoxShape is a solid box centered on the body's local origin.
type BoxShape struct {
	HalfExtents mgl64.Vec3
}

func (s *BoxShape) BoundingBox(t Transform) AABB {
	h := rotatedHalfExtents(t.Rotation, s.HalfExtents)
	return AABB{Min: t.Position.Sub(h), Max: t.Position.Add(h)}
}

// VoxelMeshShape is voxel-cube collision geometry: a greedy-meshed
// triangle list for ray queries plus the occupancy callbacks the
// narrow phase samples. Local coordinates are voxel units; the voxel at
// (x,y,z) occupies [x,x+1)×[y,y+1)×[z,z+1).
type VoxelMeshShape struct {
	// Triangles in local space. Regenerated by the owner; the solver
	// only reads.
	Triangles []Triangle

	// Bounds is the local-space AABB of the occupied volume.
	Bounds AABB

	// Solid reports occupancy of the local voxel (x,y,z).
	Solid func(x, y, z int) bool

	// EachSolidIn visits occupied voxels intersecting the local-space
	// inclusive voxel range [min,max], stopping when fn returns false.
	// Owners with sparse storage should visit their map instead of
	// scanning the range.
	EachSolidIn func(min, max [3]int, fn func(x, y, z int) bool)
}

func (s *VoxelMeshShape) BoundingBox(t Transform) AABB {
	return transformAABB(t, s.Bounds)
}

// rotatedHalfExtents returns the axis-aligned cover of a rotated box:
// each world axis accumulates the absolute projections of the three
// rotated local axes.
func rotatedHalfExtents(q mgl64.Quat, h mgl64.Vec3) mgl64.Vec3 {
	ax := q.Rotate(mgl64.Vec3{h.X(), 0, 0})
	ay := q.Rotate(mgl64.Vec3{0, h.Y(), 0})
	az := q.Rotate(mgl64.Vec3{0, 0, h.Z()})
	return mgl64.Vec3{
		math.Abs(ax.X()) + math.Abs(ay.X()) + math.Abs(az.X()),
		math.Abs(ax.Y()) + math.Abs(ay.Y()) + math.Abs(az.Y()),
		math.Abs(ax.Z()) + math.Abs(ay.Z()) + math.Abs(az.Z()),
	}
}

// transformAABB maps a local AABB through a rigid transform and returns
// the world-space cover.
func transformAABB(t Transform, local AABB) AABB {
	center := local.Center()
	h := rotatedHalfExtents(t.Rotation, local.HalfExtents())
	worldCenter := t.Apply(center)
	return AABB{Min: worldCenter.Sub(h), Max: worldCenter.Add(h)}
}

// voxelBox returns the local-space AABB of the voxel at (x,y,z).
func voxelBox(x, y, z int) AABB {
	min := mgl64.Vec3{float64(x), float64(y), float64(z)}
	return AABB{Min: min, Max: min.Add(mgl64.Vec3{1, 1, 1})}
}
