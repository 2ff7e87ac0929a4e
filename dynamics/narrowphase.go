package dynamics

import (
	"math"
	"sort"

	"github.com/go-gl/mathgl/mgl64"
)

// collide produces a manifold for a body pair, or nil when the shapes
// don't support each other or don't touch. Contact normals point from B
// to A.
//
// All narrow phase here is voxel-sampled: mesh shapes are interrogated
// through their occupancy callbacks, and every contact is a box-vs-voxel
// overlap in the voxel owner's frame. Generated triangle geometry serves
// the ray and sweep queries, not the manifolds.
func collide(a, b *Body, maxContacts int) *Manifold {
	switch sa := a.Shape.(type) {
	case *BoxShape:
		if mb, ok := b.Shape.(*VoxelMeshShape); ok {
			return collideBoxMesh(a, sa, b, mb, maxContacts)
		}
	case *VoxelMeshShape:
		switch sb := b.Shape.(type) {
		case *BoxShape:
			m := collideBoxMesh(b, sb, a, sa, maxContacts)
			if m != nil {
				m.A, m.B = b, a
			}
			return m
		case *VoxelMeshShape:
			return collideMeshMesh(a, sa, b, sb, maxContacts)
		}
	}
	return nil
}

// collideBoxMesh samples the mesh's voxels covered by the box. The box
// is taken into the mesh's local frame as its axis-aligned cover, which
// is exact when the relative rotation is axis-aligned and conservative
// otherwise.
func collideBoxMesh(boxBody *Body, box *BoxShape, meshBody *Body, mesh *VoxelMeshShape, maxContacts int) *Manifold {
	if mesh.Solid == nil || mesh.EachSolidIn == nil {
		return nil
	}
	center := meshBody.Transform.ApplyInverse(boxBody.Transform.Position)
	relRot := meshBody.Transform.Rotation.Conjugate().Mul(boxBody.Transform.Rotation)
	half := rotatedHalfExtents(relRot, box.HalfExtents)

	pts := sampleVoxelContacts(center, half, mesh)
	if len(pts) == 0 {
		return nil
	}
	m := &Manifold{A: boxBody, B: meshBody}
	finishContacts(m, meshBody, pts, maxContacts)
	return m
}

// collideMeshMesh samples every occupied voxel of one mesh against the
// other's occupancy. The side with the smaller occupied volume is
// iterated to bound the work.
func collideMeshMesh(a *Body, sa *VoxelMeshShape, b *Body, sb *VoxelMeshShape, maxContacts int) *Manifold {
	if sa.EachSolidIn == nil || sb.EachSolidIn == nil || sa.Solid == nil || sb.Solid == nil {
		return nil
	}
	// Iterate the smaller occupied volume; normals still push A out of
	// B, whichever side that ends up being.
	if boundsVolume(sa.Bounds) > boundsVolume(sb.Bounds) {
		a, b = b, a
		sa, sb = sb, sa
	}

	// Voxel range of A touched by B's world AABB.
	cover := localCover(a.Transform, b.BoundingBox())
	lo, hi, ok := voxelRange(cover, sa.Bounds)
	if !ok {
		return nil
	}

	relRot := b.Transform.Rotation.Conjugate().Mul(a.Transform.Rotation)
	halfInB := rotatedHalfExtents(relRot, mgl64.Vec3{0.5, 0.5, 0.5})

	var pts []ContactPoint
	sa.EachSolidIn(lo, hi, func(x, y, z int) bool {
		centerWorld := a.Transform.Apply(mgl64.Vec3{float64(x) + 0.5, float64(y) + 0.5, float64(z) + 0.5})
		centerInB := b.Transform.ApplyInverse(centerWorld)
		pts = append(pts, sampleVoxelContacts(centerInB, halfInB, sb)...)
		return true
	})
	if len(pts) == 0 {
		return nil
	}

	m := &Manifold{A: a, B: b}
	finishContacts(m, b, pts, maxContacts)
	return m
}

// sampleVoxelContacts overlaps an axis-aligned box (mesh-local frame)
// against the mesh's solid voxels and returns raw local-frame contacts.
func sampleVoxelContacts(center, half mgl64.Vec3, mesh *VoxelMeshShape) []ContactPoint {
	boxMin := center.Sub(half)
	boxMax := center.Add(half)
	region := AABB{Min: boxMin, Max: boxMax}
	lo, hi, ok := voxelRange(region, mesh.Bounds)
	if !ok {
		return nil
	}

	var pts []ContactPoint
	mesh.EachSolidIn(lo, hi, func(x, y, z int) bool {
		vb := voxelBox(x, y, z)
		if !region.Intersects(vb) {
			return true
		}
		var overlap, sign mgl64.Vec3
		for i := 0; i < 3; i++ {
			overlap[i] = math.Min(boxMax[i], vb.Max[i]) - math.Max(boxMin[i], vb.Min[i])
			if center[i] >= vb.Min[i]+0.5 {
				sign[i] = 1
			} else {
				sign[i] = -1
			}
		}
		pen := math.Min(overlap[0], math.Min(overlap[1], overlap[2]))
		if pen <= 0 {
			return true
		}
		point := mgl64.Vec3{
			(math.Max(boxMin[0], vb.Min[0]) + math.Min(boxMax[0], vb.Max[0])) * 0.5,
			(math.Max(boxMin[1], vb.Min[1]) + math.Min(boxMax[1], vb.Max[1])) * 0.5,
			(math.Max(boxMin[2], vb.Min[2]) + math.Min(boxMax[2], vb.Max[2])) * 0.5,
		}
		pts = append(pts, ContactPoint{
			Point:       point, // still mesh-local here
			Penetration: pen,
			VoxelCenter: vb.Center(), // still mesh-local here
			AxisOverlap: overlap,
			AxisSign:    sign,
		})
		return true
	})
	return pts
}

// finishContacts converts local-frame samples into world space, derives
// the naive center-to-center normal, sorts by depth and truncates.
//
// The naive normal deliberately matches what a generic mesh narrow
// phase reports at voxel seams; the engine's stabilization hook snaps it
// to a face axis where that matters.
func finishContacts(m *Manifold, meshBody *Body, pts []ContactPoint, maxContacts int) {
	for i := range pts {
		p := &pts[i]
		worldPoint := meshBody.Transform.Apply(p.Point)
		worldVoxel := meshBody.Transform.Apply(p.VoxelCenter)

		dir := worldPoint.Sub(worldVoxel)
		if l := dir.Len(); l > 1e-9 {
			dir = dir.Mul(1 / l)
		} else {
			// Degenerate: fall back to the MTV axis.
			axis := minAxis(p.AxisOverlap)
			var n mgl64.Vec3
			n[axis] = p.AxisSign[axis]
			dir = meshBody.Transform.RotateDir(n)
		}
		p.Point = worldPoint
		p.VoxelCenter = worldVoxel
		p.Normal = dir
	}
	sort.Slice(pts, func(i, j int) bool { return pts[i].Penetration > pts[j].Penetration })
	if len(pts) > maxContacts {
		pts = pts[:maxContacts]
	}
	m.Points = pts
}

func minAxis(v mgl64.Vec3) int {
	axis := 0
	if v[1] < v[axis] {
		axis = 1
	}
	if v[2] < v[axis] {
		axis = 2
	}
	return axis
}

// localCover maps a world AABB into a transform's local frame and
// returns the local axis-aligned cover.
func localCover(t Transform, world AABB) AABB {
	inv := Transform{
		Position: t.Rotation.Conjugate().Rotate(t.Position.Mul(-1)),
		Rotation: t.Rotation.Conjugate(),
	}
	return transformAABB(inv, world)
}

// voxelRange clips a local AABB to the shape bounds and returns the
// inclusive integer voxel range it touches.
func voxelRange(region, bounds AABB) (lo, hi [3]int, ok bool) {
	if !region.Intersects(bounds) {
		return lo, hi, false
	}
	for i := 0; i < 3; i++ {
		min := math.Max(region.Min[i], bounds.Min[i])
		max := math.Min(region.Max[i], bounds.Max[i])
		lo[i] = int(math.Floor(min))
		hi[i] = int(math.Floor(max))
		if float64(hi[i]) == max {
			// Exclusive upper face: the voxel starting exactly at max
			// is outside the region.
			hi[i]--
		}
		if lo[i] > hi[i] {
			return lo, hi, false
		}
	}
	return lo, hi, true
}

func boundsVolume(a AABB) float64 {
	d := a.Max.Sub(a.Min)
	return math.Max(d.X(), 0) * math.Max(d.Y(), 0) * math.Max(d.Z(), 0)
}
