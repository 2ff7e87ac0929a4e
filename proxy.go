package voxgrid

import (
	"sync"

	"github.com/go-gl/mathgl/mgl64"

	"github.com/voxgrid3d/voxgrid/dynamics"
)

// ActorCategory selects proxy shape caching. Stable-size categories
// share one box shape; variable-size actors get their own, recomputed
// on every resync.
type ActorCategory uint8

const (
	CategoryPlayer ActorCategory = iota
	CategoryMob
	CategoryItem
	CategoryProjectile
	CategoryVariable
)

// Actor is the host world's view of one dynamic entity. All methods
// are called from the tick thread; the host keeps them cheap.
type Actor interface {
	BoundingBox() AABB
	Position() mgl64.Vec3
	SetPosition(pos mgl64.Vec3)
	Velocity() mgl64.Vec3
	SetVelocity(vel mgl64.Vec3)
	OnGround() bool
	SetOnGround(ground bool)
	ResetFallDistance()
	Category() ActorCategory
}

// EntityProxy is the shadow collision object mirroring one actor in
// the solver. Its transform is resynchronized from the actor's
// authoritative position each tick before any query runs.
type EntityProxy struct {
	Actor Actor

	body        *dynamics.Body
	halfExtents mgl64.Vec3
	variable    bool
}

// HalfExtents returns the proxy's current box half extents.
func (p *EntityProxy) HalfExtents() mgl64.Vec3 { return p.halfExtents }

// Body exposes the proxy's kinematic body for query exclusion.
func (p *EntityProxy) Body() *dynamics.Body { return p.body }

// resync mirrors the actor's pose into the solver body: the box shape
// centered on the AABB center, carrying the actor's velocity so grid
// contacts see a sensible relative speed.
func (p *EntityProxy) resync() {
	box := p.Actor.BoundingBox()
	if p.variable {
		h := box.HalfExtents()
		if h != p.halfExtents {
			p.halfExtents = h
			p.body.Shape = &dynamics.BoxShape{HalfExtents: h}
		}
	}
	p.body.Transform.Position = box.Center()
	p.body.LinearVelocity = p.Actor.Velocity()
}

// proxyTracker owns the proxies: one per tracked actor at most, with
// the shape cache keyed by category.
type proxyTracker struct {
	engine *Engine
	log    Logger

	mu      sync.Mutex
	proxies map[Actor]*EntityProxy
	shapes  map[ActorCategory]*dynamics.BoxShape
}

func newProxyTracker(engine *Engine, log Logger) *proxyTracker {
	return &proxyTracker{
		engine:  engine,
		log:     log,
		proxies: make(map[Actor]*EntityProxy),
		shapes:  make(map[ActorCategory]*dynamics.BoxShape),
	}
}

// Track creates (or returns the existing) proxy for an actor. Proxies
// are kinematic sensor bodies: they generate manifolds against grids
// but absorb and apply no impulses, and they never pair with world
// meshes or each other inside the solver.
func (t *proxyTracker) Track(actor Actor) *EntityProxy {
	t.mu.Lock()
	defer t.mu.Unlock()

	if p, ok := t.proxies[actor]; ok {
		return p
	}

	h := actor.BoundingBox().HalfExtents()
	cat := actor.Category()
	variable := cat == CategoryVariable

	var shape *dynamics.BoxShape
	if variable {
		shape = &dynamics.BoxShape{HalfExtents: h}
	} else {
		// One stable size per category: the first tracked actor of a
		// category sets it. Half extents derived from a world-space AABB
		// carry position-dependent rounding noise, so the size is never
		// compared, only the category.
		shape = t.shapes[cat]
		if shape == nil {
			shape = &dynamics.BoxShape{HalfExtents: h}
			t.shapes[cat] = shape
		}
	}

	p := &EntityProxy{
		Actor:       actor,
		halfExtents: h,
		variable:    variable,
		body: &dynamics.Body{
			Kind:      dynamics.KindKinematic,
			Sensor:    true,
			Group:     dynamics.GroupProxy,
			Mask:      dynamics.GroupGrid,
			Shape:     shape,
			Transform: dynamics.IdentityTransform(),
			Friction:  0.5,
		},
	}
	p.body.UserData = p
	p.resync()
	t.proxies[actor] = p
	t.engine.addBody(p.body)
	return p
}

// Untrack removes the actor's proxy, if any.
func (t *proxyTracker) Untrack(actor Actor) {
	t.mu.Lock()
	p, ok := t.proxies[actor]
	if ok {
		delete(t.proxies, actor)
	}
	t.mu.Unlock()
	if ok {
		t.engine.removeBody(p.body)
	}
}

// Proxies returns a snapshot of the tracked proxies.
func (t *proxyTracker) Proxies() []*EntityProxy {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]*EntityProxy, 0, len(t.proxies))
	for _, p := range t.proxies {
		out = append(out, p)
	}
	return out
}

// lookup returns the proxy for an actor without creating one.
func (t *proxyTracker) lookup(actor Actor) (*EntityProxy, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.proxies[actor]
	return p, ok
}

// resyncAll mirrors every tracked actor into its proxy. Called at the
// start of the tick, under the engine lock, before queries run.
func (t *proxyTracker) resyncAll() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, p := range t.proxies {
		p.resync()
	}
}
