package voxgrid

import (
	"math"
	"sync"

	"github.com/go-gl/mathgl/mgl64"

	"github.com/voxgrid3d/voxgrid/dynamics"
)

// Solver is the narrow surface the engine needs from a rigid-body
// dynamics implementation. The in-tree dynamics.World satisfies it;
// any engine exposing body insertion, fixed stepping, manifold
// iteration and ray/sweep primitives can be substituted.
type Solver interface {
	AddBody(b *dynamics.Body)
	RemoveBody(b *dynamics.Body)
	Step(dt float64, maxSubSteps int, fixedStep float64) int
	SetPreSolveHook(fn func(*dynamics.Manifold))
	EachManifold(fn func(*dynamics.Manifold))
	RefreshBodyContacts(b *dynamics.Body)
	BodyCount() int
	ManifoldCount() int
	RayTest(from, to mgl64.Vec3, mask dynamics.Group) (dynamics.RayHit, bool)
	SweepBox(half, from, delta mgl64.Vec3, mask dynamics.Group, skip *dynamics.Body) (dynamics.SweepHit, bool)
	BodiesInAABB(aabb dynamics.AABB, mask dynamics.Group, fn func(*dynamics.Body) bool)
}

// GridRayHit is the result of a grid-filtered ray query.
type GridRayHit struct {
	Grid     *Grid
	Point    mgl64.Vec3
	Normal   mgl64.Vec3
	Fraction float64
	// Voxel is the grid-local voxel struck; Storage is the same voxel
	// in the grid's storage region.
	Voxel   BlockPos
	Storage BlockPos
}

// Engine owns the solver world and drives it once per host tick. The
// solver's structures are not safe for concurrent mutation, so every
// call into it goes through the engine's lock; external raycasts
// issued off the tick thread serialize against the step the same way.
type Engine struct {
	cfg    Config
	log    Logger
	blocks BlockSource

	// lk guards the solver and everything reachable from it.
	lk     sync.Mutex
	solver Solver

	grids  map[uint32]*Grid
	meshes map[BlockPos]*SubchunkMesh

	tick uint64
}

func NewEngine(cfg Config, blocks BlockSource, log Logger) *Engine {
	if log == nil {
		log = NewNopLogger()
	}
	gravity := mgl64.Vec3{cfg.Gravity[0], cfg.Gravity[1], cfg.Gravity[2]}
	params := dynamics.DefaultParams()
	params.SleepVelocity = cfg.SleepVelocityThreshold
	params.SleepTime = cfg.SleepTime

	e := &Engine{
		cfg:    cfg,
		log:    log,
		blocks: blocks,
		solver: dynamics.NewWorld(gravity, params),
		grids:  make(map[uint32]*Grid),
		meshes: make(map[BlockPos]*SubchunkMesh),
	}
	if cfg.StabilizeEnabled {
		e.solver.SetPreSolveHook(e.stabilizeManifold)
	}
	return e
}

// Lock acquires the solver lock for an external multi-call sequence.
// Single queries (RaycastGrids etc.) lock internally.
func (e *Engine) Lock()   { e.lk.Lock() }
func (e *Engine) Unlock() { e.lk.Unlock() }

// AddGrid inserts the grid's rigid body under the grid collision
// category: grids collide with the world, other grids and actor
// proxies, never the reverse pairings the mask already excludes.
func (e *Engine) AddGrid(g *Grid) {
	e.lk.Lock()
	defer e.lk.Unlock()
	e.grids[g.ID] = g
	g.refreshGeometry()
	g.refreshMass()
	g.refreshDerived()
	e.solver.AddBody(g.body)
}

// RemoveGrid detaches the grid's body. The grid keeps its voxel data;
// the caller owns region deallocation.
func (e *Engine) RemoveGrid(g *Grid) {
	e.lk.Lock()
	defer e.lk.Unlock()
	delete(e.grids, g.ID)
	e.solver.RemoveBody(g.body)
}

// Grids returns a snapshot of the attached grids.
func (e *Engine) Grids() []*Grid {
	e.lk.Lock()
	defer e.lk.Unlock()
	out := make([]*Grid, 0, len(e.grids))
	for _, g := range e.grids {
		out = append(out, g)
	}
	return out
}

// Tick advances the simulation one host tick: refresh world-mesh
// activation around the given interest volumes, regenerate dirty
// active geometry, step the solver with a bounded substep count, then
// let every grid refresh its derived state. Returns stats for the
// observability stream.
func (e *Engine) Tick(interest []AABB) TickStats {
	e.lk.Lock()
	defer e.lk.Unlock()

	e.tick++
	var st TickStats
	st.Tick = e.tick

	e.updateMeshActivation(interest)

	for _, g := range e.grids {
		changed := false
		if g.refreshGeometry() {
			st.MeshesRegen++
			changed = true
		}
		if g.refreshMass() {
			changed = true
		}
		// Block edits happen off the tick thread and only mark dirty
		// state; the wake belongs here, where the solver is locked.
		if changed {
			g.body.Wake()
		}
	}
	for _, m := range e.meshes {
		if m.RegenerateIfNeeded() {
			st.MeshesRegen++
		}
	}

	fixed := e.cfg.FixedStep()
	st.SubSteps = e.solver.Step(fixed, e.cfg.MaxSubSteps, fixed)

	for _, g := range e.grids {
		g.refreshDerived()
		if g.Awake() {
			st.GridsAwake++
		}
	}
	st.Bodies = e.solver.BodyCount()
	st.Manifolds = e.solver.ManifoldCount()
	return st
}

// updateMeshActivation reconciles which world subchunk meshes are held
// active for this tick. Each interest volume (grid or tracked actor
// AABB, inflated by the activation margin) acquires its overlapping
// subchunks; meshes nobody wants anymore are released. Reference
// counts are rebuilt from scratch each tick, which keeps the
// bookkeeping immune to consumers vanishing without releasing.
func (e *Engine) updateMeshActivation(interest []AABB) {
	wanted := make(map[BlockPos]int)
	for _, box := range interest {
		b := box.Expand(e.cfg.MeshActivationMargin)
		lo := subchunkOrigin(BlockPosFromVec3(b.Min))
		hi := subchunkOrigin(BlockPosFromVec3(b.Max))
		for x := lo[0]; x <= hi[0]; x += SubchunkSize {
			for y := lo[1]; y <= hi[1]; y += SubchunkSize {
				for z := lo[2]; z <= hi[2]; z += SubchunkSize {
					wanted[BlockPos{x, y, z}]++
				}
			}
		}
	}

	for origin, refs := range wanted {
		m, ok := e.meshes[origin]
		if !ok {
			m = NewSubchunkMesh(origin, e.blocks)
			e.meshes[origin] = m
		}
		for m.refs < refs {
			m.Acquire(e.solver)
		}
		for m.refs > refs {
			m.Release(e.solver)
		}
	}
	for origin, m := range e.meshes {
		if _, ok := wanted[origin]; ok {
			continue
		}
		for m.refs > 0 {
			m.Release(e.solver)
		}
	}
}

// OnVoxelChanged reacts to a world block change: subchunk meshes whose
// volume touches a small margin around the position go dirty, and
// sleeping grids nearby wake so they can settle against the new
// geometry. If the position lies in storage space the owning grid's
// own mesh goes dirty instead.
func (e *Engine) OnVoxelChanged(pos BlockPos, space *GridSpace) {
	e.lk.Lock()
	defer e.lk.Unlock()

	if space != nil {
		if r, ok := space.RegionContaining(pos); ok {
			for _, g := range e.grids {
				if g.region.ID == r.ID {
					g.markMeshDirty()
					break
				}
			}
			return
		}
	}

	margin := e.cfg.MeshActivationMargin
	box := pos.Box().Expand(margin)
	lo := subchunkOrigin(BlockPosFromVec3(box.Min))
	hi := subchunkOrigin(BlockPosFromVec3(box.Max))
	for x := lo[0]; x <= hi[0]; x += SubchunkSize {
		for y := lo[1]; y <= hi[1]; y += SubchunkSize {
			for z := lo[2]; z <= hi[2]; z += SubchunkSize {
				if m, ok := e.meshes[BlockPos{x, y, z}]; ok {
					m.MarkDirty()
				}
			}
		}
	}
	for _, g := range e.grids {
		if g.body.Sleeping && g.worldAABB.Expand(margin).Contains(pos.Center()) {
			g.body.Wake()
		}
	}
}

// RaycastGrids runs a ray query restricted to grid bodies and refines
// the mesh hit to the exact voxel struck.
func (e *Engine) RaycastGrids(start, end mgl64.Vec3) (GridRayHit, bool) {
	e.lk.Lock()
	defer e.lk.Unlock()

	hit, ok := e.solver.RayTest(start, end, dynamics.GroupGrid)
	if !ok {
		return GridRayHit{}, false
	}
	g, ok := hit.Body.UserData.(*Grid)
	if !ok {
		return GridRayHit{}, false
	}

	// Advance a hair past the surface so the floor lands inside the
	// struck voxel rather than on its face.
	dir := end.Sub(start)
	local := g.WorldToGridLocal(hit.Point.Add(dir.Mul(1e-5 / math.Max(dir.Len(), 1e-9))))
	voxel := BlockPosFromVec3(local)
	if g.GetBlock(voxel) == BlockAir {
		// Fall back to stepping in against the hit normal.
		localN := g.body.Transform.InverseRotateDir(hit.Normal)
		voxel = BlockPosFromVec3(g.WorldToGridLocal(hit.Point).Sub(localN.Mul(1e-4)))
	}

	return GridRayHit{
		Grid:     g,
		Point:    hit.Point,
		Normal:   hit.Normal,
		Fraction: hit.Fraction,
		Voxel:    voxel,
		Storage:  g.GridLocalToGridSpace(voxel),
	}, true
}

// stabilizeManifold repairs contact normals against voxel faces. Mesh
// narrow phase on blocky geometry leaks diagonal normals at voxel
// seams; deep contacts get the axis-aligned minimum-translation normal
// instead, shallow ones the voxel-center direction.
func (e *Engine) stabilizeManifold(m *dynamics.Manifold) {
	frame := m.VoxelFrame()
	for i := range m.Points {
		c := &m.Points[i]
		if c.Penetration > e.cfg.ContactDeepThreshold {
			axis := 0
			for k := 1; k < 3; k++ {
				if c.AxisOverlap[k] < c.AxisOverlap[axis] {
					axis = k
				}
			}
			var n mgl64.Vec3
			n[axis] = c.AxisSign[axis]
			c.Normal = frame.Rotate(n)
			continue
		}
		dir := c.Point.Sub(c.VoxelCenter)
		if l := dir.Len(); l > 1e-9 {
			c.Normal = dir.Mul(1 / l)
		}
	}
}

// rayTest and sweepBox expose the solver primitives under the engine
// lock for the detection layer.
func (e *Engine) rayTest(from, to mgl64.Vec3, mask dynamics.Group) (dynamics.RayHit, bool) {
	e.lk.Lock()
	defer e.lk.Unlock()
	return e.solver.RayTest(from, to, mask)
}

func (e *Engine) sweepBox(half, from, delta mgl64.Vec3, mask dynamics.Group, skip *dynamics.Body) (dynamics.SweepHit, bool) {
	e.lk.Lock()
	defer e.lk.Unlock()
	return e.solver.SweepBox(half, from, delta, mask, skip)
}

func (e *Engine) addBody(b *dynamics.Body) {
	e.lk.Lock()
	defer e.lk.Unlock()
	e.solver.AddBody(b)
}

func (e *Engine) removeBody(b *dynamics.Body) {
	e.lk.Lock()
	defer e.lk.Unlock()
	e.solver.RemoveBody(b)
}

func (e *Engine) eachManifold(fn func(*dynamics.Manifold)) {
	e.lk.Lock()
	defer e.lk.Unlock()
	e.solver.EachManifold(fn)
}

// refreshProxyContacts re-runs the narrow phase for one proxy body so a
// contact read right after a movement reflects the moved pose.
func (e *Engine) refreshProxyContacts(b *dynamics.Body) {
	e.lk.Lock()
	defer e.lk.Unlock()
	e.solver.RefreshBodyContacts(b)
}
