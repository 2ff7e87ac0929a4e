package dynamics

import (
	"math"
	"testing"

	"github.com/go-gl/mathgl/mgl64"
)

func singleVoxelMesh() *VoxelMeshShape {
	solid := func(x, y, z int) bool { return x == 0 && y == 0 && z == 0 }
	return &VoxelMeshShape{
		Triangles: []Triangle{
			// Top face of the unit voxel, wound upward.
			{A: mgl64.Vec3{0, 1, 0}, B: mgl64.Vec3{0, 1, 1}, C: mgl64.Vec3{1, 1, 1}},
			{A: mgl64.Vec3{0, 1, 0}, B: mgl64.Vec3{1, 1, 1}, C: mgl64.Vec3{1, 1, 0}},
		},
		Bounds: AABB{Max: mgl64.Vec3{1, 1, 1}},
		Solid:  solid,
		EachSolidIn: func(min, max [3]int, fn func(x, y, z int) bool) {
			if min[0] <= 0 && max[0] >= 0 && min[1] <= 0 && max[1] >= 0 && min[2] <= 0 && max[2] >= 0 {
				fn(0, 0, 0)
			}
		},
	}
}

func TestRayTestHitsMeshTriangle(t *testing.T) {
	w := NewWorld(mgl64.Vec3{}, Params{})
	b := &Body{
		Kind:      KindStatic,
		Group:     GroupGrid,
		Mask:      GroupAll,
		Shape:     singleVoxelMesh(),
		Transform: Transform{Position: mgl64.Vec3{10, 5, 10}, Rotation: mgl64.QuatIdent()},
	}
	w.AddBody(b)

	hit, ok := w.RayTest(mgl64.Vec3{10.5, 10, 10.5}, mgl64.Vec3{10.5, 0, 10.5}, GroupGrid)
	if !ok {
		t.Fatal("ray should hit the voxel top face")
	}
	if hit.Body != b {
		t.Error("wrong body reported")
	}
	if math.Abs(hit.Point.Y()-6) > 1e-9 {
		t.Errorf("hit should be at y=6 (voxel top), got %f", hit.Point.Y())
	}
	if math.Abs(hit.Fraction-0.4) > 1e-9 {
		t.Errorf("fraction should be 0.4, got %f", hit.Fraction)
	}
	if hit.Normal.Y() < 0.99 {
		t.Errorf("normal should be up, got %v", hit.Normal)
	}
}

func TestRayTestRespectsMask(t *testing.T) {
	w := NewWorld(mgl64.Vec3{}, Params{})
	b := &Body{
		Kind:      KindStatic,
		Group:     GroupWorld,
		Mask:      GroupAll,
		Shape:     singleVoxelMesh(),
		Transform: IdentityTransform(),
	}
	w.AddBody(b)

	if _, ok := w.RayTest(mgl64.Vec3{0.5, 3, 0.5}, mgl64.Vec3{0.5, -1, 0.5}, GroupGrid); ok {
		t.Error("world body must be invisible to a grid-masked ray")
	}
	if _, ok := w.RayTest(mgl64.Vec3{0.5, 3, 0.5}, mgl64.Vec3{0.5, -1, 0.5}, GroupWorld); !ok {
		t.Error("world-masked ray should hit")
	}
}

func TestSweepBoxTimeOfImpact(t *testing.T) {
	w := NewWorld(mgl64.Vec3{}, Params{})
	b := &Body{
		Kind:      KindStatic,
		Group:     GroupGrid,
		Mask:      GroupAll,
		Shape:     singleVoxelMesh(),
		Transform: IdentityTransform(),
	}
	w.AddBody(b)

	// Box of half height 0.5 dropping from center y=3 onto voxel top
	// y=1: contact when center reaches 1.5, i.e. 1.5 units into a
	// 5-unit drop.
	half := mgl64.Vec3{0.3, 0.5, 0.3}
	hit, ok := w.SweepBox(half, mgl64.Vec3{0.5, 3, 0.5}, mgl64.Vec3{0, -5, 0}, GroupGrid, nil)
	if !ok {
		t.Fatal("sweep should hit the voxel")
	}
	if math.Abs(hit.Fraction-0.3) > 1e-6 {
		t.Errorf("TOI should be 0.3, got %f", hit.Fraction)
	}
	if hit.Normal.Y() < 0.99 {
		t.Errorf("hit normal should be up, got %v", hit.Normal)
	}
	if math.Abs(hit.Point.Y()-1) > 1e-6 {
		t.Errorf("hit point should be on the top face y=1, got %f", hit.Point.Y())
	}
}

func TestSweepBoxSkipsExcludedBody(t *testing.T) {
	w := NewWorld(mgl64.Vec3{}, Params{})
	b := &Body{
		Kind:      KindStatic,
		Group:     GroupGrid,
		Mask:      GroupAll,
		Shape:     singleVoxelMesh(),
		Transform: IdentityTransform(),
	}
	w.AddBody(b)

	half := mgl64.Vec3{0.3, 0.5, 0.3}
	if _, ok := w.SweepBox(half, mgl64.Vec3{0.5, 3, 0.5}, mgl64.Vec3{0, -5, 0}, GroupGrid, b); ok {
		t.Error("skip body must be excluded from the sweep")
	}
}

func TestSweepBoxOverlapReportsZeroTOI(t *testing.T) {
	w := NewWorld(mgl64.Vec3{}, Params{})
	b := &Body{
		Kind:      KindStatic,
		Group:     GroupGrid,
		Mask:      GroupAll,
		Shape:     singleVoxelMesh(),
		Transform: IdentityTransform(),
	}
	w.AddBody(b)

	// Start already intersecting the voxel.
	half := mgl64.Vec3{0.4, 0.4, 0.4}
	hit, ok := w.SweepBox(half, mgl64.Vec3{0.5, 1.2, 0.5}, mgl64.Vec3{0, -1, 0}, GroupGrid, nil)
	if !ok {
		t.Fatal("overlapping sweep should report a hit")
	}
	if hit.Fraction != 0 {
		t.Errorf("overlap should report TOI 0, got %f", hit.Fraction)
	}
}

func TestSegmentAABBEntryNormalOpposesMotion(t *testing.T) {
	box := AABB{Min: mgl64.Vec3{0, 0, 0}, Max: mgl64.Vec3{1, 1, 1}}

	tt, axis, sign, ok := SegmentAABB(mgl64.Vec3{-1, 0.5, 0.5}, mgl64.Vec3{2, 0, 0}, box)
	if !ok || axis != 0 || sign != -1 {
		t.Fatalf("entry from -x: t=%f axis=%d sign=%f ok=%v", tt, axis, sign, ok)
	}
	if math.Abs(tt-0.5) > 1e-9 {
		t.Errorf("t should be 0.5, got %f", tt)
	}

	tt, axis, sign, ok = SegmentAABB(mgl64.Vec3{0.5, 2, 0.5}, mgl64.Vec3{0, -2, 0}, box)
	if !ok || axis != 1 || sign != 1 {
		t.Fatalf("entry from +y: t=%f axis=%d sign=%f ok=%v", tt, axis, sign, ok)
	}
}

func TestBodiesInAABB(t *testing.T) {
	w := NewWorld(mgl64.Vec3{}, Params{})
	near := unitBoxBody(mgl64.Vec3{0, 0, 0})
	far := unitBoxBody(mgl64.Vec3{100, 0, 0})
	w.AddBody(near)
	w.AddBody(far)

	count := 0
	w.BodiesInAABB(AABB{Min: mgl64.Vec3{-2, -2, -2}, Max: mgl64.Vec3{2, 2, 2}}, GroupGrid, func(b *Body) bool {
		count++
		if b != near {
			t.Errorf("unexpected body at %v", b.Transform.Position)
		}
		return true
	})
	if count != 1 {
		t.Errorf("expected 1 body in range, got %d", count)
	}
}
