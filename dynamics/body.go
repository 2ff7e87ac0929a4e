package dynamics

import (
	"github.com/go-gl/mathgl/mgl64"
)

// Group is a collision filter category bit.
type Group uint16

const (
	GroupNone  Group = 0
	GroupWorld Group = 1 << 0
	GroupGrid  Group = 1 << 1
	GroupProxy Group = 1 << 2
	GroupAll   Group = 0xffff
)

// BodyKind selects how a body participates in integration and response.
type BodyKind uint8

const (
	// KindStatic bodies never move. World geometry.
	KindStatic BodyKind = iota
	// KindDynamic bodies are integrated and respond to impulses.
	KindDynamic
	// KindKinematic bodies are repositioned externally each step. They
	// generate contacts but absorb no impulses and apply none.
	KindKinematic
)

// Transform is a rigid local-to-world map: world = Position + Rotation*local.
type Transform struct {
	Position mgl64.Vec3
	Rotation mgl64.Quat
}

func IdentityTransform() Transform {
	return Transform{Rotation: mgl64.QuatIdent()}
}

func (t Transform) Apply(local mgl64.Vec3) mgl64.Vec3 {
	return t.Position.Add(t.Rotation.Rotate(local))
}

func (t Transform) ApplyInverse(world mgl64.Vec3) mgl64.Vec3 {
	return t.Rotation.Conjugate().Rotate(world.Sub(t.Position))
}

// RotateDir maps a local direction to world space (no translation).
func (t Transform) RotateDir(local mgl64.Vec3) mgl64.Vec3 {
	return t.Rotation.Rotate(local)
}

// InverseRotateDir maps a world direction into local space.
func (t Transform) InverseRotateDir(world mgl64.Vec3) mgl64.Vec3 {
	return t.Rotation.Conjugate().Rotate(world)
}

// Body is one rigid body in a dynamics World.
//
// Transform.Position tracks the body's local origin, not its center of
// mass; CenterOfMass is a local-frame offset and rotation pivots around
// it. Integration keeps the world-space pivot fixed while the origin
// swings, so callers can use plain local coordinates (voxel indices)
// without re-deriving them when mass distribution shifts.
type Body struct {
	// UserData carries the owning higher-level object (grid, mesh, proxy).
	UserData any

	Kind  BodyKind
	Group Group
	Mask  Group

	// Sensor bodies generate manifolds for contact queries but are
	// excluded from the impulse solve and positional correction, so
	// e.g. an actor proxy never pushes back on a grid.
	Sensor bool

	Shape Shape

	Transform       Transform
	LinearVelocity  mgl64.Vec3
	AngularVelocity mgl64.Vec3

	// CenterOfMass is the rotation pivot in local coordinates.
	CenterOfMass mgl64.Vec3

	// InvMass is 1/mass; zero for static and kinematic bodies.
	InvMass float64
	// InvInertiaLocal is the inverse of the diagonal local-frame inertia
	// tensor. Zero components lock the respective rotation axis.
	InvInertiaLocal mgl64.Vec3

	Friction     float64
	Restitution  float64
	GravityScale float64

	Sleeping bool
	idleTime float64

	id    uint64
	world *World
}

// Pivot returns the world-space rotation pivot (center of mass).
func (b *Body) Pivot() mgl64.Vec3 {
	return b.Transform.Apply(b.CenterOfMass)
}

// VelocityAt returns the body's velocity at a world-space point,
// combining linear velocity with the angular contribution about the pivot.
func (b *Body) VelocityAt(worldPoint mgl64.Vec3) mgl64.Vec3 {
	r := worldPoint.Sub(b.Pivot())
	return b.LinearVelocity.Add(b.AngularVelocity.Cross(r))
}

// Wake clears sleep state and resets the idle timer.
func (b *Body) Wake() {
	b.Sleeping = false
	b.idleTime = 0
}

// ApplyImpulse applies a world-space impulse at the center of mass.
func (b *Body) ApplyImpulse(impulse mgl64.Vec3) {
	if b.Kind != KindDynamic {
		return
	}
	b.Wake()
	b.LinearVelocity = b.LinearVelocity.Add(impulse.Mul(b.InvMass))
}

// ApplyImpulseAt applies a world-space impulse at a world-space point,
// adding the angular component about the pivot.
func (b *Body) ApplyImpulseAt(impulse, worldPoint mgl64.Vec3) {
	if b.Kind != KindDynamic {
		return
	}
	b.Wake()
	b.LinearVelocity = b.LinearVelocity.Add(impulse.Mul(b.InvMass))
	r := worldPoint.Sub(b.Pivot())
	b.AngularVelocity = b.AngularVelocity.Add(b.invInertiaWorld(r.Cross(impulse)))
}

// invInertiaWorld applies the world-frame inverse inertia tensor to v.
// The local tensor is diagonal, so this is rotate-in, scale, rotate-out.
func (b *Body) invInertiaWorld(v mgl64.Vec3) mgl64.Vec3 {
	local := b.Transform.InverseRotateDir(v)
	scaled := mgl64.Vec3{
		local.X() * b.InvInertiaLocal.X(),
		local.Y() * b.InvInertiaLocal.Y(),
		local.Z() * b.InvInertiaLocal.Z(),
	}
	return b.Transform.RotateDir(scaled)
}

// BoundingBox returns the body's current world-space AABB.
func (b *Body) BoundingBox() AABB {
	if b.Shape == nil {
		p := b.Transform.Position
		return AABB{Min: p, Max: p}
	}
	return b.Shape.BoundingBox(b.Transform)
}

// movable reports whether the body can currently change position.
func (b *Body) movable() bool {
	return b.Kind == KindDynamic && !b.Sleeping
}
