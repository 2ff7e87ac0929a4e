package dynamics

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"
)

// restitutionThreshold is the closing speed below which a contact is
// treated as resting and gets no bounce.
const restitutionThreshold = 1.0

// relativeVelocity returns the velocity of A relative to B at the
// contact point. Positive along the contact normal means separating.
func relativeVelocity(a, b *Body, c *ContactPoint) mgl64.Vec3 {
	va := a.LinearVelocity.Add(a.AngularVelocity.Cross(c.rA))
	vb := b.LinearVelocity.Add(b.AngularVelocity.Cross(c.rB))
	return va.Sub(vb)
}

// prepareContact caches the solver state for one contact point: lever
// arms, effective masses along normal and tangent, and the restitution
// bias. Penetration is repaired positionally in correctPositions, never
// through a velocity bias: a bias converts depth into real separating
// velocity and makes resting stacks pump energy and pop. Bodies with
// infinite mass contribute no inertia terms; they take no response.
func prepareContact(m *Manifold, c *ContactPoint) {
	a, b := m.A, m.B
	c.rA = c.Point.Sub(a.Pivot())
	c.rB = c.Point.Sub(b.Pivot())

	n := c.Normal
	kn := a.InvMass + b.InvMass
	if a.InvMass > 0 {
		kn += n.Dot(a.invInertiaWorld(c.rA.Cross(n)).Cross(c.rA))
	}
	if b.InvMass > 0 {
		kn += n.Dot(b.invInertiaWorld(c.rB.Cross(n)).Cross(c.rB))
	}
	if kn > 0 {
		c.normalMass = 1 / kn
	}

	rv := relativeVelocity(a, b, c)
	vn := rv.Dot(n)

	rest := math.Max(a.Restitution, b.Restitution)
	if vn < -restitutionThreshold {
		c.velocityBias = -rest * vn
	}

	t := rv.Sub(n.Mul(vn))
	if l := t.Len(); l > 1e-9 {
		c.tangent = t.Mul(1 / l)
		kt := a.InvMass + b.InvMass
		if a.InvMass > 0 {
			kt += c.tangent.Dot(a.invInertiaWorld(c.rA.Cross(c.tangent)).Cross(c.rA))
		}
		if b.InvMass > 0 {
			kt += c.tangent.Dot(b.invInertiaWorld(c.rB.Cross(c.tangent)).Cross(c.rB))
		}
		if kt > 0 {
			c.tangentMass = 1 / kt
		}
	}
}

// solveManifold runs one sequential-impulse iteration over the
// manifold's contacts. Contacts are prepared lazily on their first
// visit, after the pre-solve hook has had its chance to repair normals.
func solveManifold(m *Manifold) {
	a, b := m.A, m.B
	if a.InvMass == 0 && b.InvMass == 0 {
		return
	}
	friction := math.Sqrt(a.Friction * b.Friction)

	for i := range m.Points {
		c := &m.Points[i]
		if c.normalMass == 0 && c.tangentMass == 0 {
			prepareContact(m, c)
		}
		if c.normalMass == 0 {
			continue
		}

		// Normal impulse, accumulated and clamped non-negative.
		rv := relativeVelocity(a, b, c)
		vn := rv.Dot(c.Normal)
		lambda := (c.velocityBias - vn) * c.normalMass
		old := c.normalImpulse
		c.normalImpulse = math.Max(old+lambda, 0)
		applyContactImpulse(a, b, c, c.Normal.Mul(c.normalImpulse-old))

		// Friction impulse, clamped by the friction cone.
		if c.tangentMass > 0 {
			rv = relativeVelocity(a, b, c)
			vt := rv.Dot(c.tangent)
			lambdaT := -vt * c.tangentMass
			maxF := friction * c.normalImpulse
			oldT := c.tangentImpulse
			c.tangentImpulse = clamp(oldT+lambdaT, -maxF, maxF)
			applyContactImpulse(a, b, c, c.tangent.Mul(c.tangentImpulse-oldT))
		}
	}
}

// applyContactImpulse applies the impulse pair. A body with InvMass
// zero takes neither the linear nor the angular part: a pinned dynamic
// body must not accumulate spin from contact torques.
func applyContactImpulse(a, b *Body, c *ContactPoint, impulse mgl64.Vec3) {
	if a.movable() && a.InvMass > 0 {
		a.LinearVelocity = a.LinearVelocity.Add(impulse.Mul(a.InvMass))
		a.AngularVelocity = a.AngularVelocity.Add(a.invInertiaWorld(c.rA.Cross(impulse)))
	}
	if b.movable() && b.InvMass > 0 {
		b.LinearVelocity = b.LinearVelocity.Sub(impulse.Mul(b.InvMass))
		b.AngularVelocity = b.AngularVelocity.Sub(b.invInertiaWorld(c.rB.Cross(impulse)))
	}
}

// correctPositions removes part of the remaining penetration by moving
// bodies directly, split by inverse mass. Runs once per substep after
// the impulse iterations so resting stacks do not sink.
func correctPositions(m *Manifold, p Params) {
	a, b := m.A, m.B
	totalInv := 0.0
	if a.movable() {
		totalInv += a.InvMass
	}
	if b.movable() {
		totalInv += b.InvMass
	}
	if totalInv == 0 {
		return
	}
	for i := range m.Points {
		c := &m.Points[i]
		depth := math.Max(c.Penetration-p.Slop, 0)
		if depth == 0 {
			continue
		}
		corr := c.Normal.Mul(depth * p.CorrectionPercent / totalInv)
		if a.movable() {
			a.Transform.Position = a.Transform.Position.Add(corr.Mul(a.InvMass))
		}
		if b.movable() {
			b.Transform.Position = b.Transform.Position.Sub(corr.Mul(b.InvMass))
		}
	}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
