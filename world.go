package voxgrid

import (
	"fmt"
	"time"

	"github.com/go-gl/mathgl/mgl64"

	"github.com/voxgrid3d/voxgrid/dynamics"
)

// WorldOptions configures one per-host-world context.
type WorldOptions struct {
	// ID names the world in logs and errors.
	ID string
	// Blocks is the host's voxel occupancy lookup.
	Blocks BlockSource
	// Config defaults to DefaultConfig when nil.
	Config *Config
	// Logger defaults to a no-op logger when nil.
	Logger Logger
	// Stats, when non-nil, receives one record per tick.
	Stats *TickStatsWriter
}

// World wires the subsystem for one host world: coordinate manager,
// simulation engine, proxy tracking, detection and resolution. One
// World per host world replaces any notion of a global manager; all
// state is reachable from here.
type World struct {
	ID string

	cfg      Config
	log      Logger
	stats    *TickStatsWriter
	blocks   BlockSource
	space    *GridSpace
	engine   *Engine
	tracker  *proxyTracker
	detector *detector
	resolver *Resolver

	nextGridID uint32
}

func NewWorld(opts WorldOptions) (*World, error) {
	cfg := DefaultConfig()
	if opts.Config != nil {
		cfg = *opts.Config
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("world %s: %w", opts.ID, err)
	}
	log := opts.Logger
	if log == nil {
		log = NewNopLogger()
	}
	if opts.Blocks == nil {
		opts.Blocks = BlockSourceFunc(func(BlockPos) bool { return false })
	}

	w := &World{
		ID:     opts.ID,
		cfg:    cfg,
		log:    log,
		stats:  opts.Stats,
		blocks: opts.Blocks,
		space:  NewGridSpace(cfg, log),
	}
	w.engine = NewEngine(cfg, opts.Blocks, log)
	w.tracker = newProxyTracker(w.engine, log)
	w.detector = newDetector(cfg, w.engine, w.tracker, opts.Blocks, log)
	w.resolver = NewResolver(cfg, log)
	return w, nil
}

// Close flushes the stats stream. The solver needs no teardown.
func (w *World) Close() error {
	return w.stats.Close()
}

// Config returns the world's effective configuration.
func (w *World) Config() Config { return w.cfg }

// GridSpace exposes the coordinate manager.
func (w *World) GridSpace() *GridSpace { return w.space }

// CreateGrid allocates a storage region and attaches a new empty grid
// at the given world transform.
func (w *World) CreateGrid(at dynamics.Transform) (*Grid, error) {
	w.nextGridID++
	id := w.nextGridID
	region, err := w.space.AllocateRegion(id)
	if err != nil {
		return nil, fmt.Errorf("world %s: create grid: %w", w.ID, err)
	}
	g := newGrid(id, region, w.cfg)
	if at.Rotation.Len() == 0 {
		at.Rotation = mgl64.QuatIdent()
	}
	g.body.Transform = at
	w.engine.AddGrid(g)
	w.log.Infof("world %s: grid %d (%s) created, region %d", w.ID, g.ID, g.UUID, region.ID)
	return g, nil
}

// DissolveGrid detaches the grid and releases its storage region.
func (w *World) DissolveGrid(g *Grid) {
	w.engine.RemoveGrid(g)
	w.space.DeallocateRegion(g.ID)
	w.log.Infof("world %s: grid %d dissolved", w.ID, g.ID)
}

// Grids returns the currently attached grids.
func (w *World) Grids() []*Grid { return w.engine.Grids() }

// EntityProxies returns the currently tracked proxies.
func (w *World) EntityProxies() []*EntityProxy { return w.tracker.Proxies() }

// TrackEntity ensures the actor has a proxy in the solver.
func (w *World) TrackEntity(actor Actor) *EntityProxy {
	return w.tracker.Track(actor)
}

// UntrackEntity drops the actor's proxy, if any.
func (w *World) UntrackEntity(actor Actor) {
	w.tracker.Untrack(actor)
}

// Tick runs one simulation step: proxies resync from their actors,
// interest volumes pick the active world meshes, the solver steps,
// grids refresh derived state, and one stats record goes out. Called
// once per host tick from the host's simulation thread.
func (w *World) Tick() {
	start := time.Now()

	w.engine.Lock()
	w.tracker.resyncAll()
	w.engine.Unlock()

	var interest []AABB
	for _, g := range w.engine.Grids() {
		interest = append(interest, g.WorldAABB())
	}
	for _, p := range w.tracker.Proxies() {
		interest = append(interest, p.Actor.BoundingBox())
	}

	st := w.engine.Tick(interest)
	st.DurationUs = time.Since(start).Microseconds()
	if err := w.stats.Write(st); err != nil {
		w.log.Warnf("world %s: tick stats: %v", w.ID, err)
	}
}

// SweepTest sweeps the actor against static world geometry only.
func (w *World) SweepTest(actor Actor, movement mgl64.Vec3) (*SweepResult, bool) {
	return w.detector.SweepTest(actor, movement)
}

// ConvexSweepTest sweeps the actor against the world and all grids.
func (w *World) ConvexSweepTest(actor Actor, movement mgl64.Vec3) (*SweepResult, bool) {
	return w.detector.ConvexSweepTest(actor, movement)
}

// RaycastGrids runs a grid-only ray query.
func (w *World) RaycastGrids(start, end mgl64.Vec3) (GridRayHit, bool) {
	return w.engine.RaycastGrids(start, end)
}

// CollectContacts runs the discrete post-movement contact pass for
// every tracked actor.
func (w *World) CollectContacts() map[*EntityProxy][]Contact {
	return w.detector.CollectContacts()
}

// MoveActor applies a proposed movement with full continuous collision
// handling: sweep, deflect, move, then resolve residual contacts. The
// actor's on-ground flag is cleared first and re-set by resolution.
func (w *World) MoveActor(actor Actor, movement mgl64.Vec3) {
	actor.SetOnGround(false)

	adjusted := movement
	if hit, ok := w.detector.ConvexSweepTest(actor, movement); ok {
		adjusted = w.resolver.DeflectMovement(movement, hit)
	}
	actor.SetPosition(actor.Position().Add(adjusted))

	// Resync the proxy to the post-movement pose and re-run its narrow
	// phase: the manifolds left over from the last step describe the
	// pre-movement pose.
	p := w.tracker.Track(actor)
	w.engine.Lock()
	p.resync()
	w.engine.Unlock()
	w.engine.refreshProxyContacts(p.body)

	contacts := w.detector.CollectContacts()[p]
	if len(contacts) == 0 {
		return
	}
	half := actor.BoundingBox().HalfExtents()
	// collideAt receives candidate actor positions; offset maps them
	// to the box center worldCollides expects.
	offset := actor.BoundingBox().Center().Sub(actor.Position())
	w.resolver.ResolveContacts(actor, contacts, func(pos mgl64.Vec3) bool {
		return w.worldCollides(pos.Add(offset), half)
	})
}

// ResolveContacts is the post-movement entry point for hosts that
// apply movement themselves.
func (w *World) ResolveContacts(actor Actor, contacts []Contact) {
	half := actor.BoundingBox().HalfExtents()
	offset := actor.BoundingBox().Center().Sub(actor.Position())
	w.resolver.ResolveContacts(actor, contacts, func(pos mgl64.Vec3) bool {
		return w.worldCollides(pos.Add(offset), half)
	})
}

// DeflectMovement is the pre-movement entry point for hosts that run
// their own sweeps.
func (w *World) DeflectMovement(movement mgl64.Vec3, hit *SweepResult) mgl64.Vec3 {
	return w.resolver.DeflectMovement(movement, hit)
}

// OnVoxelChanged is the host's block-change notification, valid for
// both world and storage-space positions.
func (w *World) OnVoxelChanged(pos BlockPos) {
	w.engine.OnVoxelChanged(pos, w.space)
}

// GetBlock reads a voxel from a grid by grid-local coordinate.
func (w *World) GetBlock(g *Grid, local BlockPos) Block { return g.GetBlock(local) }

// UpdateBlock writes a voxel on a grid by grid-local coordinate.
func (w *World) UpdateBlock(g *Grid, local BlockPos, b Block) { g.UpdateBlock(local, b) }

// RemoveBlock clears a voxel on a grid by grid-local coordinate.
func (w *World) RemoveBlock(g *Grid, local BlockPos) bool { return g.RemoveBlock(local) }

// worldCollides reports whether a box centered at pos overlaps any
// solid world voxel.
func (w *World) worldCollides(center, half mgl64.Vec3) bool {
	box := AABB{Min: center.Sub(half), Max: center.Add(half)}
	hit := false
	eachVoxelIn(box, func(p BlockPos) bool {
		if w.blocks.Solid(p) && box.Intersects(p.Box()) {
			hit = true
			return false
		}
		return true
	})
	return hit
}
