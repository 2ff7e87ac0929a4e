package voxgrid

import (
	"math"
	"testing"

	"github.com/go-gl/mathgl/mgl64"

	"github.com/voxgrid3d/voxgrid/dynamics"
)

func almostEqual(t *testing.T, got, want, tol float64, what string) {
	t.Helper()
	if math.Abs(got-want) > tol {
		t.Errorf("%s: got %f, want %f (tol %g)", what, got, want, tol)
	}
}

func vecAlmostEqual(t *testing.T, got, want mgl64.Vec3, tol float64, what string) {
	t.Helper()
	if got.Sub(want).Len() > tol {
		t.Errorf("%s: got %v, want %v (tol %g)", what, got, want, tol)
	}
}

// mapBlocks is a BlockSource backed by a set of solid voxels.
type mapBlocks map[BlockPos]bool

func (m mapBlocks) Solid(pos BlockPos) bool { return m[pos] }

// testActor is a minimal Actor for resolver and world tests. Position
// is the bottom-center of its box, matching how hosts usually anchor
// entities.
type testActor struct {
	pos      mgl64.Vec3
	vel      mgl64.Vec3
	half     mgl64.Vec3
	ground   bool
	fallRst  int
	category ActorCategory
}

func newTestActor(pos mgl64.Vec3, half mgl64.Vec3) *testActor {
	return &testActor{pos: pos, half: half, category: CategoryPlayer}
}

func (a *testActor) BoundingBox() AABB {
	c := a.pos.Add(mgl64.Vec3{0, a.half.Y(), 0})
	return AABB{Min: c.Sub(a.half), Max: c.Add(a.half)}
}

func (a *testActor) Position() mgl64.Vec3     { return a.pos }
func (a *testActor) SetPosition(p mgl64.Vec3) { a.pos = p }
func (a *testActor) Velocity() mgl64.Vec3     { return a.vel }
func (a *testActor) SetVelocity(v mgl64.Vec3) { a.vel = v }
func (a *testActor) OnGround() bool           { return a.ground }
func (a *testActor) SetOnGround(g bool)       { a.ground = g }
func (a *testActor) ResetFallDistance()       { a.fallRst++ }
func (a *testActor) Category() ActorCategory  { return a.category }

// newTestWorld builds a World over the given solid voxels with quiet
// logging and no stats stream.
func newTestWorld(t *testing.T, blocks BlockSource) *World {
	t.Helper()
	w, err := NewWorld(WorldOptions{ID: "test", Blocks: blocks})
	if err != nil {
		t.Fatalf("NewWorld: %v", err)
	}
	return w
}

// slabGrid creates a 4×1×4 slab grid at the given world position,
// unrotated, with gravity disabled for deterministic geometry.
func slabGrid(t *testing.T, w *World, at mgl64.Vec3) *Grid {
	t.Helper()
	g, err := w.CreateGrid(dynamics.Transform{Position: at, Rotation: mgl64.QuatIdent()})
	if err != nil {
		t.Fatalf("CreateGrid: %v", err)
	}
	for x := 0; x <= 3; x++ {
		for z := 0; z <= 3; z++ {
			g.UpdateBlock(BlockPos{x, 0, z}, 1)
		}
	}
	g.Body().GravityScale = 0
	w.Tick()
	return g
}
