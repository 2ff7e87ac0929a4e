package voxgrid

import (
	"testing"

	"github.com/go-gl/mathgl/mgl64"
)

func testResolver() *Resolver {
	return NewResolver(DefaultConfig(), nil)
}

func TestDeflectMovementNilHitPassesThrough(t *testing.T) {
	r := testResolver()
	m := mgl64.Vec3{1, -2, 3}
	if got := r.DeflectMovement(m, nil); got != m {
		t.Errorf("no hit should leave movement unchanged, got %v", got)
	}
}

func TestDeflectMovementClipsBeforeImpact(t *testing.T) {
	r := testResolver()
	movement := mgl64.Vec3{0, -5, 0}
	hit := &SweepResult{TOI: 0.2, Normal: mgl64.Vec3{0, 1, 0}}

	got := r.DeflectMovement(movement, hit)
	// Straight-down movement onto a horizontal surface: advance to
	// just before impact, no tangential remainder.
	if got.Y() < movement.Y()*hit.TOI {
		t.Errorf("movement overshoots the impact: %v", got)
	}
	if got.Y() > 0 {
		t.Errorf("deflected fall must still go down, got %v", got)
	}
	almostEqual(t, got.X(), 0, 1e-9, "no sideways drift")
	almostEqual(t, got.Z(), 0, 1e-9, "no sideways drift")
}

func TestSlidingDoesNotAccelerate(t *testing.T) {
	r := testResolver()
	hit := &SweepResult{TOI: 0.3, Normal: mgl64.Vec3{0, 1, 0}}

	// Nearly parallel to the surface: classic case where a naive
	// tangent projection inflates speed.
	cases := []mgl64.Vec3{
		{1, -0.01, 0},
		{3, -0.001, 2},
		{0.5, -0.2, 0.5},
	}
	for _, movement := range cases {
		got := r.DeflectMovement(movement, hit)
		n := hit.Normal
		tangential := movement.Sub(n.Mul(movement.Dot(n)))
		gotTangential := got.Sub(n.Mul(got.Dot(n)))
		if gotTangential.Len() > tangential.Len()+1e-9 {
			t.Errorf("movement %v: sliding tangential %f exceeds original %f",
				movement, gotTangential.Len(), tangential.Len())
		}
	}
}

func TestDeflectOverlapSeparates(t *testing.T) {
	r := testResolver()
	movement := mgl64.Vec3{2, -1, 0}
	hit := &SweepResult{TOI: 0, Normal: mgl64.Vec3{0, 1, 0}}

	got := r.DeflectMovement(movement, hit)
	if got.Y() <= 0 {
		t.Errorf("overlap resolution should push out along the normal, got %v", got)
	}
	if got.Dot(movement) < 0 {
		t.Errorf("tangential intent should be preserved, got %v", got)
	}
}

func TestResolveGroundContactStopsFall(t *testing.T) {
	r := testResolver()
	actor := newTestActor(mgl64.Vec3{0, 0.95, 0}, mgl64.Vec3{0.3, 0.9, 0.3})
	actor.vel = mgl64.Vec3{1, -3, 0}

	contacts := []Contact{{
		Normal:      mgl64.Vec3{0, 1, 0},
		Penetration: 0.05,
		Ground:      true,
	}}
	r.ResolveContacts(actor, contacts, nil)

	if actor.vel.Y() < 0 {
		t.Errorf("downward velocity into ground should be removed, got %f", actor.vel.Y())
	}
	if !actor.ground {
		t.Error("ground contact should set the on-ground flag")
	}
	if actor.fallRst != 1 {
		t.Errorf("fall distance should reset once, got %d resets", actor.fallRst)
	}
	if actor.pos.Y() <= 0.95 {
		t.Errorf("penetration should be pushed out, y = %f", actor.pos.Y())
	}
	// Ground friction applied once to horizontal velocity.
	almostEqual(t, actor.vel.X(), 1*DefaultConfig().GroundFriction, 1e-9, "ground friction")
}

func TestResolveNonGroundContactReflects(t *testing.T) {
	r := testResolver()
	actor := newTestActor(mgl64.Vec3{0, 5, 0}, mgl64.Vec3{0.3, 0.9, 0.3})
	actor.vel = mgl64.Vec3{-2, 0, 0}

	contacts := []Contact{{
		Normal:      mgl64.Vec3{1, 0, 0}, // wall on the left
		Penetration: 0.02,
		Ground:      false,
	}}
	r.ResolveContacts(actor, contacts, nil)

	if actor.vel.X() < 0 {
		t.Errorf("velocity into the wall should be removed, got %f", actor.vel.X())
	}
	want := 2 * DefaultConfig().Restitution
	almostEqual(t, actor.vel.X(), want, 1e-9, "restitution bounce")
	if actor.ground {
		t.Error("wall contact must not set on-ground")
	}
}

func TestGroundRideConsistency(t *testing.T) {
	cfg := DefaultConfig()
	r := NewResolver(cfg, nil)
	actor := newTestActor(mgl64.Vec3{0, 65, 0}, mgl64.Vec3{0.3, 0.9, 0.3})
	actor.vel = mgl64.Vec3{0, 0, 0}

	// Standing on a grid rising at 2/s: the actor's vertical velocity
	// must come up to at least 90% of the grid's.
	gridV := mgl64.Vec3{0, 2, 0}
	contacts := []Contact{{
		Normal:       mgl64.Vec3{0, 1, 0},
		Penetration:  0.01,
		Ground:       true,
		Grid:         &Grid{},
		GridVelocity: gridV,
	}}
	r.ResolveContacts(actor, contacts, nil)

	if actor.vel.Y() < 0.9*gridV.Y() {
		t.Errorf("riding actor vertical velocity %f below 0.9*%f", actor.vel.Y(), gridV.Y())
	}
}

func TestSideContactBouncesOffMovingGrid(t *testing.T) {
	cfg := DefaultConfig()
	r := NewResolver(cfg, nil)
	side := newTestActor(mgl64.Vec3{0, 65, 0}, mgl64.Vec3{0.3, 0.9, 0.3})

	gridV := mgl64.Vec3{4, 0, 0}
	contacts := []Contact{{
		Normal:       mgl64.Vec3{1, 0, 0},
		Penetration:  0.01,
		Ground:       false,
		Grid:         &Grid{},
		GridVelocity: gridV,
	}}
	r.ResolveContacts(side, contacts, nil)

	// A stationary actor rammed from the side bounces off with
	// restitution relative to the grid, then blends some of the grid's
	// own velocity on top.
	bounce := gridV.X() * (1 + cfg.Restitution)
	want := bounce*(1-cfg.GridVelocityBlend) + gridV.X()*cfg.GridVelocityBlend
	almostEqual(t, side.vel.X(), want, 1e-9, "side bounce with grid blend")
	if side.ground {
		t.Error("side contact must not set on-ground")
	}
}

func TestCorrectionCappedAtMax(t *testing.T) {
	cfg := DefaultConfig()
	r := NewResolver(cfg, nil)
	actor := newTestActor(mgl64.Vec3{0, 1, 0}, mgl64.Vec3{0.3, 0.9, 0.3})

	contacts := []Contact{{
		Normal:      mgl64.Vec3{0, 1, 0},
		Penetration: 10, // absurd depth
		Ground:      true,
	}}
	r.ResolveContacts(actor, contacts, nil)
	if actor.pos.Y() > 1+cfg.MaxCorrection+1e-9 {
		t.Errorf("correction exceeded cap: moved %f", actor.pos.Y()-1)
	}
}

func TestCorrectionRevalidationLadder(t *testing.T) {
	cfg := DefaultConfig()
	r := NewResolver(cfg, nil)

	// Full push collides, half push is free: binary search should
	// find the partial correction.
	pos := mgl64.Vec3{0, 0, 0}
	push := mgl64.Vec3{0, 0.4, 0}
	got := r.correctPosition(pos, push, func(p mgl64.Vec3) bool {
		return p.Y() > 0.2
	})
	if got.Y() <= 0 || got.Y() > 0.2+1e-9 {
		t.Errorf("binary search should settle below 0.2, got %f", got.Y())
	}

	// Everything collides: position must be left unchanged, never
	// pushed through geometry.
	got = r.correctPosition(pos, push, func(p mgl64.Vec3) bool {
		return p != pos
	})
	if got != pos {
		t.Errorf("unresolvable correction should leave position unchanged, got %v", got)
	}

	// Any lateral movement blocked, vertical axis free: per-axis
	// fallback keeps the free axis.
	push = mgl64.Vec3{0.3, 0.3, 0}
	got = r.correctPosition(pos, push, func(p mgl64.Vec3) bool {
		return p.X() > 1e-9
	})
	if got.X() > 1e-9 {
		t.Errorf("blocked axis should not move, got %v", got)
	}
	if got == pos {
		t.Error("free vertical axis should have been used")
	}
}

func TestContactsSortedDeepestFirst(t *testing.T) {
	r := testResolver()
	actor := newTestActor(mgl64.Vec3{0, 1, 0}, mgl64.Vec3{0.3, 0.9, 0.3})

	contacts := []Contact{
		{Normal: mgl64.Vec3{1, 0, 0}, Penetration: 0.01},
		{Normal: mgl64.Vec3{0, 1, 0}, Penetration: 0.2, Ground: true},
	}
	r.ResolveContacts(actor, contacts, nil)
	if contacts[0].Penetration < contacts[1].Penetration {
		t.Error("resolver should process contacts deepest first")
	}
}
