package dynamics

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"
)

// RayHit is the closest intersection found by RayTest.
type RayHit struct {
	Body     *Body
	Point    mgl64.Vec3
	Normal   mgl64.Vec3
	Fraction float64
}

// SweepHit is the earliest time-of-impact found by SweepBox.
type SweepHit struct {
	Body     *Body
	Point    mgl64.Vec3
	Normal   mgl64.Vec3
	Fraction float64
}

// RayTest intersects the segment from..to against every body whose
// group matches mask, returning the closest hit. Mesh shapes are
// tested triangle-exact; box shapes with a slab test.
func (w *World) RayTest(from, to mgl64.Vec3, mask Group) (RayHit, bool) {
	dir := to.Sub(from)
	segBox := AABB{
		Min: mgl64.Vec3{math.Min(from.X(), to.X()), math.Min(from.Y(), to.Y()), math.Min(from.Z(), to.Z())},
		Max: mgl64.Vec3{math.Max(from.X(), to.X()), math.Max(from.Y(), to.Y()), math.Max(from.Z(), to.Z())},
	}

	best := RayHit{Fraction: math.Inf(1)}
	for _, b := range w.bodies {
		if b.Group&mask == 0 || b.Shape == nil {
			continue
		}
		if !segBox.Intersects(b.BoundingBox()) {
			continue
		}
		o := b.Transform.ApplyInverse(from)
		d := b.Transform.InverseRotateDir(dir)

		switch s := b.Shape.(type) {
		case *VoxelMeshShape:
			for _, tri := range s.Triangles {
				t, ok := rayTriangle(o, d, tri)
				if !ok || t >= best.Fraction {
					continue
				}
				n := tri.Normal()
				if n.Dot(d) > 0 {
					n = n.Mul(-1)
				}
				best = RayHit{
					Body:     b,
					Point:    from.Add(dir.Mul(t)),
					Normal:   b.Transform.RotateDir(n),
					Fraction: t,
				}
			}
		case *BoxShape:
			box := AABB{Min: s.HalfExtents.Mul(-1), Max: s.HalfExtents}
			t, axis, sign, ok := SegmentAABB(o, d, box)
			if !ok || t >= best.Fraction {
				continue
			}
			var n mgl64.Vec3
			n[axis] = sign
			best = RayHit{
				Body:     b,
				Point:    from.Add(dir.Mul(t)),
				Normal:   b.Transform.RotateDir(n),
				Fraction: t,
			}
		}
	}
	if math.IsInf(best.Fraction, 1) {
		return RayHit{}, false
	}
	return best, true
}

// SweepBox sweeps a world-axis-aligned box of the given half extents
// from `from` along `delta`, against every body whose group matches
// mask, and returns the earliest hit. skip excludes one body (the
// caller's own proxy). Under relative rotation the box is taken into
// each body's frame as its axis-aligned cover, which is conservative:
// it can report an earlier impact, never a missed one.
func (w *World) SweepBox(half, from, delta mgl64.Vec3, mask Group, skip *Body) (SweepHit, bool) {
	sweptBox := AABB{Min: from.Sub(half), Max: from.Add(half)}
	sweptBox = sweptBox.Union(sweptBox.Translate(delta))

	best := SweepHit{Fraction: math.Inf(1)}
	for _, b := range w.bodies {
		if b == skip || b.Group&mask == 0 || b.Shape == nil {
			continue
		}
		if !sweptBox.Intersects(b.BoundingBox().Expand(1e-6)) {
			continue
		}
		switch s := b.Shape.(type) {
		case *VoxelMeshShape:
			w.sweepBoxMesh(half, from, delta, b, s, &best)
		case *BoxShape:
			w.sweepBoxBox(half, from, delta, b, s, &best)
		}
	}
	if math.IsInf(best.Fraction, 1) {
		return SweepHit{}, false
	}
	return best, true
}

func (w *World) sweepBoxMesh(half, from, delta mgl64.Vec3, b *Body, s *VoxelMeshShape, best *SweepHit) {
	if s.EachSolidIn == nil {
		return
	}
	o := b.Transform.ApplyInverse(from)
	d := b.Transform.InverseRotateDir(delta)
	halfL := rotatedHalfExtents(b.Transform.Rotation.Conjugate(), half)

	pathBox := AABB{Min: o.Sub(halfL), Max: o.Add(halfL)}
	pathBox = pathBox.Union(pathBox.Translate(d))
	lo, hi, ok := voxelRange(pathBox, s.Bounds)
	if !ok {
		return
	}

	s.EachSolidIn(lo, hi, func(x, y, z int) bool {
		// Minkowski sum: sweep the box center as a point against the
		// voxel expanded by the box half extents.
		vb := voxelBox(x, y, z)
		expanded := AABB{Min: vb.Min.Sub(halfL), Max: vb.Max.Add(halfL)}
		t, axis, sign, ok := SegmentAABB(o, d, expanded)
		if !ok || t >= best.Fraction {
			return true
		}
		var nL mgl64.Vec3
		nL[axis] = sign
		cL := o.Add(d.Mul(t))
		pL := cL.Sub(nL.Mul(halfL[axis]))
		*best = SweepHit{
			Body:     b,
			Point:    b.Transform.Apply(pL),
			Normal:   b.Transform.RotateDir(nL),
			Fraction: t,
		}
		return true
	})
}

func (w *World) sweepBoxBox(half, from, delta mgl64.Vec3, b *Body, s *BoxShape, best *SweepHit) {
	o := b.Transform.ApplyInverse(from)
	d := b.Transform.InverseRotateDir(delta)
	halfL := rotatedHalfExtents(b.Transform.Rotation.Conjugate(), half)

	expanded := AABB{Min: s.HalfExtents.Mul(-1).Sub(halfL), Max: s.HalfExtents.Add(halfL)}
	t, axis, sign, ok := SegmentAABB(o, d, expanded)
	if !ok || t >= best.Fraction {
		return
	}
	var nL mgl64.Vec3
	nL[axis] = sign
	cL := o.Add(d.Mul(t))
	pL := cL.Sub(nL.Mul(halfL[axis]))
	*best = SweepHit{
		Body:     b,
		Point:    b.Transform.Apply(pL),
		Normal:   b.Transform.RotateDir(nL),
		Fraction: t,
	}
}

// BodiesInAABB visits every body whose group matches mask and whose
// bounding box intersects aabb, stopping when fn returns false.
func (w *World) BodiesInAABB(aabb AABB, mask Group, fn func(*Body) bool) {
	for _, b := range w.bodies {
		if b.Group&mask == 0 {
			continue
		}
		if !aabb.Intersects(b.BoundingBox()) {
			continue
		}
		if !fn(b) {
			return
		}
	}
}

// rayTriangle is Möller–Trumbore; t is the fraction along d, valid in
// [0,1] for a segment query.
func rayTriangle(o, d mgl64.Vec3, tri Triangle) (float64, bool) {
	e1 := tri.B.Sub(tri.A)
	e2 := tri.C.Sub(tri.A)
	p := d.Cross(e2)
	det := e1.Dot(p)
	if math.Abs(det) < 1e-12 {
		return 0, false
	}
	inv := 1 / det
	s := o.Sub(tri.A)
	u := s.Dot(p) * inv
	if u < 0 || u > 1 {
		return 0, false
	}
	q := s.Cross(e1)
	v := d.Dot(q) * inv
	if v < 0 || u+v > 1 {
		return 0, false
	}
	t := e2.Dot(q) * inv
	if t < 0 || t > 1 {
		return 0, false
	}
	return t, true
}

// SegmentAABB clips the segment o+t*d, t in [0,1], against box and
// returns the entry time, entry axis and the normal sign on that axis.
// A segment starting inside reports t=0 with the minimum-translation
// axis so callers can treat it as an immediate overlap.
func SegmentAABB(o, d mgl64.Vec3, box AABB) (t float64, axis int, sign float64, ok bool) {
	tEnter := math.Inf(-1)
	tExit := math.Inf(1)
	axis = -1
	for i := 0; i < 3; i++ {
		if math.Abs(d[i]) < 1e-12 {
			if o[i] <= box.Min[i] || o[i] >= box.Max[i] {
				return 0, 0, 0, false
			}
			continue
		}
		inv := 1 / d[i]
		t0 := (box.Min[i] - o[i]) * inv
		t1 := (box.Max[i] - o[i]) * inv
		s := -1.0
		if t0 > t1 {
			t0, t1 = t1, t0
			s = 1.0
		}
		if t0 > tEnter {
			tEnter = t0
			axis = i
			sign = s
		}
		if t1 < tExit {
			tExit = t1
		}
	}
	if tEnter > tExit || tExit <= 0 || tEnter > 1 {
		return 0, 0, 0, false
	}
	if tEnter < 0 || axis == -1 {
		// Started overlapping: choose the cheapest separating axis.
		axis = 0
		minPen := math.Inf(1)
		c := box.Center()
		h := box.HalfExtents()
		for i := 0; i < 3; i++ {
			pen := h[i] - math.Abs(o[i]-c[i])
			if pen < minPen {
				minPen = pen
				axis = i
			}
		}
		sign = 1
		if o[axis] < c[axis] {
			sign = -1
		}
		return 0, axis, sign, true
	}
	return tEnter, axis, sign, true
}
