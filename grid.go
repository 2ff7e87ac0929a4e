package voxgrid

import (
	"sync"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/google/uuid"

	"github.com/voxgrid3d/voxgrid/dynamics"
)

// Block is a voxel material id. Zero is air.
type Block uint16

const BlockAir Block = 0

// blockMass returns the mass of one voxel of the material, in mass
// units per cubic voxel. Unknown materials weigh 1.
func blockMass(b Block) float64 {
	switch {
	case b == BlockAir:
		return 0
	case b >= 1000: // heavy range: metals, machinery
		return 4
	default:
		return 1
	}
}

// Grid is a rigid-body cluster of voxels. Voxel data is addressed in
// grid-local integer coordinates and stored (untransformed) in the
// grid's GridSpace region; rotation exists only in the world-space
// transform, pivoting around the mass centroid.
type Grid struct {
	ID   uint32
	UUID uuid.UUID

	region *Region
	body   *dynamics.Body
	shape  *dynamics.VoxelMeshShape

	mu     sync.RWMutex
	blocks map[BlockPos]Block

	// meshDirty marks collision geometry stale; massDirty marks mass,
	// centroid and inertia stale. Both are consumed on the tick thread.
	meshDirty bool
	massDirty bool

	// Derived state, refreshed after each solver step.
	worldAABB AABB
	mass      float64
}

func newGrid(id uint32, region *Region, cfg Config) *Grid {
	g := &Grid{
		ID:     id,
		UUID:   uuid.New(),
		region: region,
		blocks: make(map[BlockPos]Block),
	}
	g.shape = &dynamics.VoxelMeshShape{
		Solid:       g.solidLocal,
		EachSolidIn: g.eachSolidIn,
	}
	g.body = &dynamics.Body{
		UserData:     g,
		Kind:         dynamics.KindDynamic,
		Group:        dynamics.GroupGrid,
		Mask:         dynamics.GroupGrid | dynamics.GroupWorld | dynamics.GroupProxy,
		Shape:        g.shape,
		Transform:    dynamics.IdentityTransform(),
		Friction:     cfg.GroundFriction,
		Restitution:  cfg.Restitution,
		GravityScale: 1,
	}
	return g
}

// Region returns the grid's storage region.
func (g *Grid) Region() *Region { return g.region }

// Body exposes the grid's rigid body. Callers outside the tick thread
// must hold the engine lock.
func (g *Grid) Body() *dynamics.Body { return g.body }

// Transform returns the grid's current world transform.
func (g *Grid) Transform() dynamics.Transform {
	return g.body.Transform
}

// SetTransform teleports the grid. Velocities are untouched. Callers
// outside the tick thread must hold the engine lock.
func (g *Grid) SetTransform(t dynamics.Transform) {
	g.body.Transform = t
	g.body.Wake()
}

// WorldAABB returns the grid's derived world-space bounding box as of
// the last refresh.
func (g *Grid) WorldAABB() AABB { return g.worldAABB }

// Mass returns the summed voxel mass as of the last refresh.
func (g *Grid) Mass() float64 { return g.mass }

// Centroid returns the world-space rotation pivot.
func (g *Grid) Centroid() mgl64.Vec3 { return g.body.Pivot() }

// GetBlock returns the material at a grid-local coordinate.
func (g *Grid) GetBlock(local BlockPos) Block {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.blocks[local]
}

// UpdateBlock sets the material at a grid-local coordinate. Setting
// air removes the voxel. Safe to call off the tick thread: only the
// map and dirty flags change here; the tick consumes the flags and
// wakes the body.
func (g *Grid) UpdateBlock(local BlockPos, b Block) {
	if b == BlockAir {
		g.RemoveBlock(local)
		return
	}
	g.mu.Lock()
	g.blocks[local] = b
	g.meshDirty = true
	g.massDirty = true
	g.mu.Unlock()
}

// RemoveBlock clears a grid-local coordinate; false if it was empty.
// Safe to call off the tick thread, like UpdateBlock.
func (g *Grid) RemoveBlock(local BlockPos) bool {
	g.mu.Lock()
	_, ok := g.blocks[local]
	if ok {
		delete(g.blocks, local)
		g.meshDirty = true
		g.massDirty = true
	}
	g.mu.Unlock()
	return ok
}

// markMeshDirty flags collision geometry stale without a voxel edit,
// e.g. when a storage-space block change is reported from the host.
// Caller holds the engine lock; the wake touches the body directly.
func (g *Grid) markMeshDirty() {
	g.mu.Lock()
	g.meshDirty = true
	g.mu.Unlock()
	g.body.Wake()
}

// BlockCount returns the number of occupied voxels.
func (g *Grid) BlockCount() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.blocks)
}

// EachBlock visits every occupied voxel until fn returns false. The
// map is locked for the duration; fn must not mutate the grid.
func (g *Grid) EachBlock(fn func(local BlockPos, b Block) bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	for p, b := range g.blocks {
		if !fn(p, b) {
			return
		}
	}
}

// ApplyImpulse applies a world-space impulse at the centroid. Callers
// outside the tick thread must hold the engine lock.
func (g *Grid) ApplyImpulse(impulse mgl64.Vec3) {
	g.body.ApplyImpulse(impulse)
}

// ApplyImpulseAt applies a world-space impulse at a world point,
// spinning the grid when off-center.
func (g *Grid) ApplyImpulseAt(impulse, worldPoint mgl64.Vec3) {
	g.body.ApplyImpulseAt(impulse, worldPoint)
}

// VelocityAt returns the grid's velocity at a world-space point.
func (g *Grid) VelocityAt(worldPoint mgl64.Vec3) mgl64.Vec3 {
	return g.body.VelocityAt(worldPoint)
}

// Coordinate transforms. Continuous points; voxel (x,y,z) spans
// [x,x+1) in local space.

// GridLocalToWorld maps a grid-local point to world space through the
// grid's current transform.
func (g *Grid) GridLocalToWorld(local mgl64.Vec3) mgl64.Vec3 {
	return g.body.Transform.Apply(local)
}

// WorldToGridLocal maps a world point into the grid's local frame.
func (g *Grid) WorldToGridLocal(world mgl64.Vec3) mgl64.Vec3 {
	return g.body.Transform.ApplyInverse(world)
}

// GridLocalToGridSpace translates a grid-local voxel coordinate into
// the grid's storage region.
func (g *Grid) GridLocalToGridSpace(local BlockPos) BlockPos {
	return g.region.GridToRegion(local)
}

// GridSpaceToGridLocal translates a storage-space voxel coordinate
// back to grid-local.
func (g *Grid) GridSpaceToGridLocal(storage BlockPos) BlockPos {
	return g.region.RegionToGrid(storage)
}

// WorldToGridSpace maps a world point to the storage-space voxel
// holding it.
func (g *Grid) WorldToGridSpace(world mgl64.Vec3) BlockPos {
	local := BlockPosFromVec3(g.WorldToGridLocal(world))
	return g.GridLocalToGridSpace(local)
}

// GridSpaceToWorld maps a storage-space voxel center to world space.
func (g *Grid) GridSpaceToWorld(storage BlockPos) mgl64.Vec3 {
	return g.GridLocalToWorld(g.GridSpaceToGridLocal(storage).Center())
}

// DisconnectedComponents flood-fills the voxel map over 6-neighbor
// adjacency and returns the connected components, largest first. A
// result longer than one means a removal severed the grid; the host
// decides what to spawn from the fragments.
func (g *Grid) DisconnectedComponents() [][]BlockPos {
	g.mu.RLock()
	defer g.mu.RUnlock()

	seen := make(map[BlockPos]bool, len(g.blocks))
	var comps [][]BlockPos
	for start := range g.blocks {
		if seen[start] {
			continue
		}
		var comp []BlockPos
		queue := []BlockPos{start}
		seen[start] = true
		for len(queue) > 0 {
			p := queue[0]
			queue = queue[1:]
			comp = append(comp, p)
			for _, d := range neighborDirs {
				n := p.Add(d)
				if seen[n] {
					continue
				}
				if _, ok := g.blocks[n]; ok {
					seen[n] = true
					queue = append(queue, n)
				}
			}
		}
		comps = append(comps, comp)
	}
	// Largest first.
	for i := 1; i < len(comps); i++ {
		for j := i; j > 0 && len(comps[j]) > len(comps[j-1]); j-- {
			comps[j], comps[j-1] = comps[j-1], comps[j]
		}
	}
	return comps
}

var neighborDirs = [6]BlockPos{
	{1, 0, 0}, {-1, 0, 0},
	{0, 1, 0}, {0, -1, 0},
	{0, 0, 1}, {0, 0, -1},
}

// solidLocal is the shape's occupancy callback.
func (g *Grid) solidLocal(x, y, z int) bool {
	g.mu.RLock()
	_, ok := g.blocks[BlockPos{x, y, z}]
	g.mu.RUnlock()
	return ok
}

// eachSolidIn visits occupied voxels in the inclusive local range.
// The sparse map is iterated directly; range scans would be quadratic
// for large regions.
func (g *Grid) eachSolidIn(min, max [3]int, fn func(x, y, z int) bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	for p := range g.blocks {
		if p[0] < min[0] || p[0] > max[0] ||
			p[1] < min[1] || p[1] > max[1] ||
			p[2] < min[2] || p[2] > max[2] {
			continue
		}
		if !fn(p[0], p[1], p[2]) {
			return
		}
	}
}

// refreshGeometry rebuilds the collision triangles and local bounds if
// voxels changed since the last call. Tick thread only. The occupancy
// is snapshotted under the lock: the mesher must not read the live map
// while a host thread may be writing it.
func (g *Grid) refreshGeometry() bool {
	g.mu.Lock()
	if !g.meshDirty {
		g.mu.Unlock()
		return false
	}
	g.meshDirty = false
	lo, hi, any := g.localBoundsLocked()
	occ := make(map[BlockPos]struct{}, len(g.blocks))
	for p := range g.blocks {
		occ[p] = struct{}{}
	}
	g.mu.Unlock()
	solid := func(p BlockPos) bool { _, ok := occ[p]; return ok }

	if !any {
		g.shape.Triangles = nil
		g.shape.Bounds = AABB{}
		return true
	}
	g.shape.Bounds = AABB{
		Min: lo.Vec3(),
		Max: hi.Add(BlockPos{1, 1, 1}).Vec3(),
	}
	g.shape.Triangles = greedyMesh(solid, lo, hi)
	return true
}

// refreshMass recomputes mass, centroid and the diagonal inertia
// approximation from the voxel map. The transform is left untouched:
// the pivot is a local offset, so shifting it moves nothing in world
// space, it only changes what future rotation swings around.
func (g *Grid) refreshMass() bool {
	g.mu.Lock()
	if !g.massDirty {
		g.mu.Unlock()
		return false
	}
	g.massDirty = false

	var total float64
	var weighted mgl64.Vec3
	for p, b := range g.blocks {
		m := blockMass(b)
		total += m
		weighted = weighted.Add(p.Center().Mul(m))
	}
	var centroid mgl64.Vec3
	if total > 0 {
		centroid = weighted.Mul(1 / total)
	}

	// Diagonal inertia: per-voxel unit-cube tensor plus parallel-axis
	// terms about the centroid.
	var inertia mgl64.Vec3
	for p, b := range g.blocks {
		m := blockMass(b)
		r := p.Center().Sub(centroid)
		own := m / 6
		inertia[0] += own + m*(r.Y()*r.Y()+r.Z()*r.Z())
		inertia[1] += own + m*(r.X()*r.X()+r.Z()*r.Z())
		inertia[2] += own + m*(r.X()*r.X()+r.Y()*r.Y())
	}
	g.mu.Unlock()

	g.mass = total
	g.body.CenterOfMass = centroid
	if total > 0 {
		g.body.InvMass = 1 / total
	} else {
		g.body.InvMass = 0
	}
	for i := 0; i < 3; i++ {
		if inertia[i] > 1e-9 {
			g.body.InvInertiaLocal[i] = 1 / inertia[i]
		} else {
			g.body.InvInertiaLocal[i] = 0
		}
	}
	return true
}

// refreshDerived updates the cached world AABB from the post-step
// transform.
func (g *Grid) refreshDerived() {
	g.worldAABB = g.body.BoundingBox()
}

// localBoundsLocked returns the inclusive voxel bounds of the
// occupancy map. Caller holds g.mu.
func (g *Grid) localBoundsLocked() (lo, hi BlockPos, ok bool) {
	first := true
	for p := range g.blocks {
		if first {
			lo, hi = p, p
			first = false
			continue
		}
		for i := 0; i < 3; i++ {
			lo[i] = minInt(lo[i], p[i])
			hi[i] = maxInt(hi[i], p[i])
		}
	}
	return lo, hi, !first
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// Awake reports whether the grid's body is currently simulating.
func (g *Grid) Awake() bool { return !g.body.Sleeping }
