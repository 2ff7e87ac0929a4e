package voxgrid

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"
)

// overlapTOI is the time of impact under which a sweep hit is treated
// as an existing overlap rather than an approach.
const overlapTOI = 1e-3

// Resolver turns detection results into movement and state
// corrections: deflecting a proposed movement before it is applied,
// and repairing position/velocity after movement from the discrete
// contact set.
type Resolver struct {
	cfg Config
	log Logger
}

func NewResolver(cfg Config, log Logger) *Resolver {
	if log == nil {
		log = NewNopLogger()
	}
	return &Resolver{cfg: cfg, log: log}
}

// DeflectMovement clips a proposed movement against a sweep hit.
//
// An already-overlapping hit yields a short separation push along the
// normal plus the movement's tangential part, scaled down to avoid
// overshoot. A hit partway along the movement advances to just before
// the impact and slides the remainder along the surface; the slide is
// clamped so its magnitude never exceeds the original movement's
// tangential component scaled by the remaining time, because the raw
// tangent projection can inflate speed when the movement is nearly
// parallel to the surface.
func (r *Resolver) DeflectMovement(movement mgl64.Vec3, hit *SweepResult) mgl64.Vec3 {
	if hit == nil {
		return movement
	}
	n := hit.Normal
	into := movement.Dot(n)
	tangential := movement.Sub(n.Mul(into))

	if hit.TOI < overlapTOI {
		sep := n.Mul(r.cfg.SweepSafetyMargin)
		return sep.Add(tangential.Mul(0.5))
	}

	t := math.Max(hit.TOI-r.cfg.SweepSafetyMargin/math.Max(movement.Len(), 1e-9), 0)
	advance := movement.Mul(t)

	remaining := movement.Mul(1 - t)
	slide := remaining.Sub(n.Mul(remaining.Dot(n)))
	limit := tangential.Len() * (1 - t) * r.cfg.SlideFriction
	if l := slide.Len(); l > limit && l > 1e-12 {
		slide = slide.Mul(limit / l)
	}
	return advance.Add(slide)
}

// ResolveContacts corrects an actor's position and velocity from the
// tick's discrete contacts, deepest first. collideAt revalidates any
// corrected position against static world geometry; a correction that
// would land inside geometry is retried by binary search over its
// scale, then per-axis, then as a minimal vertical nudge, and finally
// abandoned, so the actor is never silently pushed through the world.
func (r *Resolver) ResolveContacts(actor Actor, contacts []Contact, collideAt func(center mgl64.Vec3) bool) {
	if len(contacts) == 0 {
		return
	}
	// Contacts arrive depth-sorted from the detector; keep the
	// invariant if a caller hands us an unsorted list.
	for i := 1; i < len(contacts); i++ {
		for j := i; j > 0 && contacts[j].Penetration > contacts[j-1].Penetration; j-- {
			contacts[j], contacts[j-1] = contacts[j-1], contacts[j]
		}
	}

	pos := actor.Position()
	vel := actor.Velocity()
	grounded := false

	for i := range contacts {
		c := &contacts[i]

		// Positional correction.
		depth := c.Penetration * r.cfg.PenetrationCorrectionFactor
		if depth > r.cfg.MaxCorrection {
			depth = r.cfg.MaxCorrection
		}
		if depth > 0 {
			pos = r.correctPosition(pos, c.Normal.Mul(depth), collideAt)
		}

		// Velocity correction.
		rel := vel
		if c.Grid != nil {
			rel = vel.Sub(c.GridVelocity)
		}
		vn := rel.Dot(c.Normal)
		if vn < 0 {
			if c.Ground {
				vel = vel.Sub(c.Normal.Mul(vn))
			} else {
				vel = vel.Sub(c.Normal.Mul(vn * (1 + r.cfg.Restitution)))
			}
		}

		// Riding: blend part of the grid's velocity at the contact
		// point into the actor, harder when standing on it.
		if c.Grid != nil {
			blend := r.cfg.GridVelocityBlend
			if c.Ground {
				blend = r.cfg.GridVelocityBlendGround
			}
			vel = vel.Mul(1 - blend).Add(c.GridVelocity.Mul(blend))
			if c.Ground && c.GridVelocity.Y() > 0 && vel.Y() < c.GridVelocity.Y()*r.cfg.GridVelocityBlendGround {
				// A grid rising under a standing actor must carry it,
				// not separate from it.
				vel[1] = c.GridVelocity.Y() * r.cfg.GridVelocityBlendGround
			}
		}

		if c.Ground {
			grounded = true
		}
	}

	if grounded {
		actor.SetOnGround(true)
		actor.ResetFallDistance()
		// Ground friction applies once per tick, not once per contact.
		vel[0] *= r.cfg.GroundFriction
		vel[2] *= r.cfg.GroundFriction
	}

	actor.SetPosition(pos)
	actor.SetVelocity(vel)
}

// correctPosition applies a push vector, falling back through ever
// smaller and simpler moves until one lands in free space. Returns the
// original position when everything collides.
func (r *Resolver) correctPosition(pos, push mgl64.Vec3, collideAt func(center mgl64.Vec3) bool) mgl64.Vec3 {
	if collideAt == nil {
		return pos.Add(push)
	}
	target := pos.Add(push)
	if !collideAt(target) {
		return target
	}

	// Binary search over the push scale.
	lo, hi := 0.0, 1.0
	found := false
	for i := 0; i < 8; i++ {
		mid := (lo + hi) / 2
		if collideAt(pos.Add(push.Mul(mid))) {
			hi = mid
		} else {
			lo = mid
			found = true
		}
	}
	if found && lo > 0 {
		return pos.Add(push.Mul(lo))
	}

	// Per-axis movement.
	for i := 0; i < 3; i++ {
		var axisPush mgl64.Vec3
		axisPush[i] = push[i]
		if axisPush[i] != 0 && !collideAt(pos.Add(axisPush)) {
			return pos.Add(axisPush)
		}
	}

	// Minimal vertical nudge.
	nudge := pos.Add(mgl64.Vec3{0, r.cfg.SweepSafetyMargin, 0})
	if !collideAt(nudge) {
		return nudge
	}

	return pos
}
