package voxgrid

import (
	"math"
	"sort"

	"github.com/go-gl/mathgl/mgl64"

	"github.com/voxgrid3d/voxgrid/dynamics"
)

// SweepResult is the earliest hit of a continuous query along a
// proposed movement.
type SweepResult struct {
	// TOI is the time of impact as a fraction of the movement, in [0,1].
	TOI    float64
	Normal mgl64.Vec3
	Point  mgl64.Vec3
	// Grid is nil when static world geometry was hit.
	Grid *Grid
	// GridVelocity is the grid's velocity at the contact point, zero
	// for world hits.
	GridVelocity mgl64.Vec3
}

// Contact is one detected overlap from the discrete post-movement
// pass.
type Contact struct {
	Normal      mgl64.Vec3
	Penetration float64
	Point       mgl64.Vec3
	// Ground marks contacts whose normal is sufficiently vertical and
	// whose penetration is more than glancing.
	Ground bool
	// Grid is nil for static world contacts.
	Grid         *Grid
	GridVelocity mgl64.Vec3
}

// detector runs the continuous and discrete queries for tracked
// actors. Any failure inside a per-actor unit of work is logged and
// turned into "no result": a bad actor never aborts the tick for the
// rest, and a fail-open result leaves that actor's movement unmodified
// rather than freezing it.
type detector struct {
	cfg     Config
	log     Logger
	engine  *Engine
	tracker *proxyTracker
	blocks  BlockSource
}

func newDetector(cfg Config, engine *Engine, tracker *proxyTracker, blocks BlockSource, log Logger) *detector {
	if log == nil {
		log = NewNopLogger()
	}
	return &detector{cfg: cfg, log: log, engine: engine, tracker: tracker, blocks: blocks}
}

// SweepTest sweeps the actor's box along movement against static
// world geometry only. The host voxel field is queried directly,
// which is exact for axis-aligned world geometry regardless of which
// subchunk meshes happen to be active.
func (d *detector) SweepTest(actor Actor, movement mgl64.Vec3) (res *SweepResult, ok bool) {
	defer d.guard("sweepTest", &res, &ok)

	box := actor.BoundingBox()
	center := box.Center()
	half := box.HalfExtents()

	hit, found := sweepWorldBox(d.blocks, half, center, movement)
	if !found {
		return nil, false
	}
	return hit, true
}

// ConvexSweepTest sweeps the actor's box along movement against the
// world and every grid, returning the earliest time of impact. Grid
// hits carry the grid's velocity at the contact point.
func (d *detector) ConvexSweepTest(actor Actor, movement mgl64.Vec3) (res *SweepResult, ok bool) {
	defer d.guard("convexSweepTest", &res, &ok)

	if d.engine == nil {
		return nil, false
	}
	box := actor.BoundingBox()
	center := box.Center()
	half := box.HalfExtents()

	best, found := sweepWorldBox(d.blocks, half, center, movement)

	var skip *dynamics.Body
	if p, tracked := d.tracker.lookup(actor); tracked {
		skip = p.body
	}
	if hit, hitGrid := d.engine.sweepBox(half, center, movement, dynamics.GroupGrid, skip); hitGrid {
		if !found || hit.Fraction < best.TOI {
			r := &SweepResult{
				TOI:    hit.Fraction,
				Normal: hit.Normal,
				Point:  hit.Point,
			}
			if g, isGrid := hit.Body.UserData.(*Grid); isGrid {
				r.Grid = g
				r.GridVelocity = g.VelocityAt(hit.Point)
			}
			best, found = r, true
		}
	}
	if !found {
		return nil, false
	}
	return best, true
}

// CollectContacts reads the solver's manifolds once per tracked actor,
// deduplicating points per pair and ordering by depth. Ground
// classification needs both a vertical-enough normal and non-glancing
// penetration.
func (d *detector) CollectContacts() map[*EntityProxy][]Contact {
	out := make(map[*EntityProxy][]Contact)
	if d.engine == nil {
		return out
	}
	d.engine.eachManifold(func(m *dynamics.Manifold) {
		d.collectManifold(m, out)
	})
	for _, contacts := range out {
		sort.Slice(contacts, func(i, j int) bool {
			return contacts[i].Penetration > contacts[j].Penetration
		})
	}
	return out
}

// collectManifold reads one manifold's contacts into out. Guarded the
// same way as the sweeps: a panic inside one pair's work (a grid gone
// bad mid-walk) is logged and skips that pair, leaving out untouched
// for it, so one faulty pair never aborts collection for the rest.
func (d *detector) collectManifold(m *dynamics.Manifold, out map[*EntityProxy][]Contact) {
	defer func() {
		if r := recover(); r != nil {
			d.log.Errorf("detect: contact collection panicked: %v (skipping pair)", r)
		}
	}()

	p, okA := m.A.UserData.(*EntityProxy)
	flip := false
	if !okA {
		// Proxy may be on either side of the pair.
		var okB bool
		p, okB = m.B.UserData.(*EntityProxy)
		if !okB {
			return
		}
		flip = true
	}
	other := m.B
	if flip {
		other = m.A
	}

	grid, _ := other.UserData.(*Grid)
	contacts := out[p]
	for i := range m.Points {
		cp := &m.Points[i]
		n := cp.Normal
		if flip {
			// Manifold normals push A out of B; the proxy wants the
			// push applied to itself.
			n = n.Mul(-1)
		}
		c := Contact{
			Normal:      n,
			Penetration: cp.Penetration,
			Point:       cp.Point,
			Grid:        grid,
		}
		c.Ground = n.Y() >= d.cfg.GroundNormalCos && cp.Penetration >= d.cfg.GroundMinPenetration
		if grid != nil {
			c.GridVelocity = grid.VelocityAt(cp.Point)
		}
		if dup, at := findSimilarContact(contacts, c); dup {
			if c.Penetration > contacts[at].Penetration {
				contacts[at] = c
			}
			continue
		}
		contacts = append(contacts, c)
	}
	out[p] = contacts
}

// findSimilarContact reports an existing contact with nearly the same
// normal against the same counterpart.
func findSimilarContact(contacts []Contact, c Contact) (bool, int) {
	for i := range contacts {
		if contacts[i].Grid == c.Grid && contacts[i].Normal.Dot(c.Normal) > 0.99 {
			return true, i
		}
	}
	return false, -1
}

// guard converts a panic inside a query into a logged no-result.
func (d *detector) guard(op string, res **SweepResult, ok *bool) {
	if r := recover(); r != nil {
		d.log.Errorf("detect: %s panicked: %v (failing open)", op, r)
		*res = nil
		*ok = false
	}
}

// sweepWorldBox sweeps an axis-aligned box (by center and half
// extents) against the host voxel field and returns the earliest hit.
func sweepWorldBox(blocks BlockSource, half, center, movement mgl64.Vec3) (*SweepResult, bool) {
	if blocks == nil {
		return nil, false
	}
	startBox := AABB{Min: center.Sub(half), Max: center.Add(half)}
	region := startBox.Union(startBox.Translate(movement)).Expand(1e-6)

	bestT := math.Inf(1)
	var best *SweepResult
	eachVoxelIn(region, func(p BlockPos) bool {
		if !blocks.Solid(p) {
			return true
		}
		vb := p.Box()
		expanded := AABB{Min: vb.Min.Sub(half), Max: vb.Max.Add(half)}
		t, axis, sign, hit := dynamics.SegmentAABB(center, movement, expanded)
		if !hit || t >= bestT {
			return true
		}
		var n mgl64.Vec3
		n[axis] = sign
		c := center.Add(movement.Mul(t))
		bestT = t
		best = &SweepResult{
			TOI:    t,
			Normal: n,
			Point:  c.Sub(n.Mul(half[axis])),
		}
		return true
	})
	return best, best != nil
}
