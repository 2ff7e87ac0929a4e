package dynamics

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"
)

// Params are the solver tuning knobs. Zero values are replaced by
// DefaultParams at construction.
type Params struct {
	// Iterations of the sequential impulse solver per substep.
	Iterations int
	// Slop is penetration tolerated without correction, in voxels.
	Slop float64
	// CorrectionPercent of remaining penetration removed positionally
	// per substep.
	CorrectionPercent float64
	// SleepVelocity is the speed under which a body accrues idle time.
	SleepVelocity float64
	// SleepTime is idle seconds before a body sleeps.
	SleepTime float64
	// CellSize of the broad-phase hash grid, in world units.
	CellSize float64
	// MaxContactsPerPair caps manifold points kept for one body pair.
	MaxContactsPerPair int
}

func DefaultParams() Params {
	return Params{
		Iterations:         8,
		Slop:               0.01,
		CorrectionPercent:  0.4,
		SleepVelocity:      0.08,
		SleepTime:          1.0,
		CellSize:           8.0,
		MaxContactsPerPair: 8,
	}
}

func (p Params) withDefaults() Params {
	d := DefaultParams()
	if p.Iterations <= 0 {
		p.Iterations = d.Iterations
	}
	if p.Slop <= 0 {
		p.Slop = d.Slop
	}
	if p.CorrectionPercent <= 0 {
		p.CorrectionPercent = d.CorrectionPercent
	}
	if p.SleepVelocity <= 0 {
		p.SleepVelocity = d.SleepVelocity
	}
	if p.SleepTime <= 0 {
		p.SleepTime = d.SleepTime
	}
	if p.CellSize <= 0 {
		p.CellSize = d.CellSize
	}
	if p.MaxContactsPerPair <= 0 {
		p.MaxContactsPerPair = d.MaxContactsPerPair
	}
	return p
}

// ContactPoint is one narrow-phase contact. Normal points from B to A:
// pushing A along Normal separates the pair.
type ContactPoint struct {
	Point       mgl64.Vec3
	Normal      mgl64.Vec3
	Penetration float64

	// VoxelCenter is the world-space center of the voxel on the B side
	// that generated this contact.
	VoxelCenter mgl64.Vec3
	// AxisOverlap is the per-axis interpenetration measured in the
	// voxel's own frame. Its smallest component is the MTV axis.
	AxisOverlap mgl64.Vec3
	// AxisSign is, per voxel-frame axis, +1 when the other body's
	// center sits on the positive side of the voxel center.
	AxisSign mgl64.Vec3

	// Prepared solver state.
	rA, rB         mgl64.Vec3
	tangent        mgl64.Vec3
	normalMass     float64
	tangentMass    float64
	velocityBias   float64
	normalImpulse  float64
	tangentImpulse float64
}

// VoxelFrame returns the rotation mapping the contact voxel's local
// axes into world space (the B body's rotation).
func (m *Manifold) VoxelFrame() mgl64.Quat {
	return m.B.Transform.Rotation
}

// Manifold is the contact set for one body pair during the current step.
type Manifold struct {
	A, B   *Body
	Points []ContactPoint
}

type pairKey struct {
	a, b uint64
}

// World owns bodies and advances the simulation. It is not safe for
// concurrent use; callers serialize access externally.
type World struct {
	Gravity mgl64.Vec3

	params Params

	bodies map[uint64]*Body
	nextID uint64

	grid *spatialHash

	manifolds map[pairKey]*Manifold

	// preSolve runs on every fresh manifold after narrow phase and
	// before impulses, so callers can repair normals in place.
	preSolve func(*Manifold)
}

func NewWorld(gravity mgl64.Vec3, params Params) *World {
	p := params.withDefaults()
	return &World{
		Gravity:   gravity,
		params:    p,
		bodies:    make(map[uint64]*Body),
		grid:      newSpatialHash(p.CellSize),
		manifolds: make(map[pairKey]*Manifold),
	}
}

// SetPreSolveHook registers fn to run per manifold between narrow phase
// and the impulse solve. Passing nil clears it.
func (w *World) SetPreSolveHook(fn func(*Manifold)) {
	w.preSolve = fn
}

// AddBody inserts the body. Adding an already-inserted body is a no-op.
func (w *World) AddBody(b *Body) {
	if b == nil || b.world == w {
		return
	}
	w.nextID++
	b.id = w.nextID
	b.world = w
	if b.Transform.Rotation.Len() == 0 {
		b.Transform.Rotation = mgl64.QuatIdent()
	}
	w.bodies[b.id] = b
}

// RemoveBody detaches the body and drops its manifolds. Removing an
// absent body is a no-op.
func (w *World) RemoveBody(b *Body) {
	if b == nil || b.world != w {
		return
	}
	delete(w.bodies, b.id)
	for k, m := range w.manifolds {
		if m.A == b || m.B == b {
			delete(w.manifolds, k)
		}
	}
	b.world = nil
}

// BodyCount returns the number of inserted bodies.
func (w *World) BodyCount() int {
	return len(w.bodies)
}

// EachManifold visits the manifolds produced by the most recent step.
func (w *World) EachManifold(fn func(*Manifold)) {
	for _, m := range w.manifolds {
		fn(m)
	}
}

// ManifoldCount returns the manifolds alive after the most recent step.
func (w *World) ManifoldCount() int {
	return len(w.manifolds)
}

// RefreshBodyContacts re-collides one body against the current poses of
// its neighbors, replacing its manifolds in place. Callers that move a
// body between steps use this to read contacts for the new pose instead
// of the ones the last step produced.
func (w *World) RefreshBodyContacts(b *Body) {
	if b == nil || b.world != w {
		return
	}
	for k, m := range w.manifolds {
		if m.A == b || m.B == b {
			delete(w.manifolds, k)
		}
	}
	box := b.BoundingBox()
	w.BodiesInAABB(box, b.Mask, func(other *Body) bool {
		if other == b || !shouldCollide(b, other) {
			return true
		}
		m := collide(b, other, w.params.MaxContactsPerPair)
		if m == nil || len(m.Points) == 0 {
			return true
		}
		if w.preSolve != nil {
			w.preSolve(m)
		}
		w.manifolds[pairKey{m.A.id, m.B.id}] = m
		return true
	})
}

// Step advances the world by dt, splitting it into fixed-size substeps
// and clamping the count so a stalled host cannot explode the cost.
// Returns the substeps actually simulated.
func (w *World) Step(dt float64, maxSubSteps int, fixedStep float64) int {
	if dt <= 0 || fixedStep <= 0 {
		return 0
	}
	if maxSubSteps < 1 {
		maxSubSteps = 1
	}
	steps := int(math.Round(dt / fixedStep))
	if steps < 1 {
		steps = 1
	}
	if steps > maxSubSteps {
		steps = maxSubSteps
	}
	for i := 0; i < steps; i++ {
		w.singleStep(fixedStep)
	}
	return steps
}

func (w *World) singleStep(dt float64) {
	// Integrate velocities, then positions.
	for _, b := range w.bodies {
		if !b.movable() {
			continue
		}
		if b.GravityScale != 0 {
			b.LinearVelocity = b.LinearVelocity.Add(w.Gravity.Mul(b.GravityScale * dt))
		}
		w.integratePosition(b, dt)
	}

	// Broad phase.
	w.grid.rebuild(w.bodies)
	pairs := w.grid.pairs()

	// Narrow phase: fresh manifolds every substep.
	clear(w.manifolds)
	for _, pr := range pairs {
		a, b := pr[0], pr[1]
		if !shouldCollide(a, b) {
			continue
		}
		m := collide(a, b, w.params.MaxContactsPerPair)
		if m == nil || len(m.Points) == 0 {
			continue
		}
		if w.preSolve != nil {
			w.preSolve(m)
		}
		w.manifolds[pairKey{a.id, b.id}] = m
		// Contact from an awake dynamic body interrupts sleep. Static
		// and kinematic neighbors don't; an actor standing on a parked
		// grid must not keep it churning.
		if a.Sleeping && b.Kind == KindDynamic && !b.Sleeping {
			a.Wake()
		}
		if b.Sleeping && a.Kind == KindDynamic && !a.Sleeping {
			b.Wake()
		}
	}

	// Impulse solve. Sensor pairs stay query-only.
	for i := 0; i < w.params.Iterations; i++ {
		for _, m := range w.manifolds {
			if m.A.Sensor || m.B.Sensor {
				continue
			}
			solveManifold(m)
		}
	}

	// Positional correction.
	for _, m := range w.manifolds {
		if m.A.Sensor || m.B.Sensor {
			continue
		}
		correctPositions(m, w.params)
	}

	// Sleep bookkeeping.
	for _, b := range w.bodies {
		if b.Kind != KindDynamic || b.Sleeping {
			continue
		}
		speed := b.LinearVelocity.Len() + b.AngularVelocity.Len()
		if speed < w.params.SleepVelocity {
			b.idleTime += dt
			if b.idleTime > w.params.SleepTime {
				b.Sleeping = true
				b.LinearVelocity = mgl64.Vec3{}
				b.AngularVelocity = mgl64.Vec3{}
			}
		} else {
			b.idleTime = 0
		}
	}
}

// integratePosition advances position and orientation. Rotation pivots
// around the center of mass: the world-space pivot keeps its velocity
// path while the local origin swings around it.
func (w *World) integratePosition(b *Body, dt float64) {
	pivot := b.Pivot().Add(b.LinearVelocity.Mul(dt))

	if av := b.AngularVelocity; av.LenSqr() > 1e-18 {
		dq := mgl64.Quat{W: 0, V: av.Mul(0.5 * dt)}
		b.Transform.Rotation = b.Transform.Rotation.Add(dq.Mul(b.Transform.Rotation)).Normalize()
	}

	b.Transform.Position = pivot.Sub(b.Transform.Rotation.Rotate(b.CenterOfMass))

	// NaN guard: a corrupted body zeroes out instead of poisoning the
	// whole world.
	if !isFiniteVec(b.Transform.Position) {
		b.Transform.Position = pivot
		b.LinearVelocity = mgl64.Vec3{}
		b.AngularVelocity = mgl64.Vec3{}
	}
}

func shouldCollide(a, b *Body) bool {
	if a.Group&b.Mask == 0 || b.Group&a.Mask == 0 {
		return false
	}
	// Skip pairs that can neither move nor feed contact queries: both
	// sides asleep or static, no kinematic sensor involved.
	activeA := a.Kind == KindKinematic || (a.Kind == KindDynamic && !a.Sleeping)
	activeB := b.Kind == KindKinematic || (b.Kind == KindDynamic && !b.Sleeping)
	if !activeA && !activeB {
		return false
	}
	return a.BoundingBox().Intersects(b.BoundingBox())
}

func isFiniteVec(v mgl64.Vec3) bool {
	for i := 0; i < 3; i++ {
		if math.IsNaN(v[i]) || math.IsInf(v[i], 0) {
			return false
		}
	}
	return true
}
