package voxgrid

import (
	"sync"

	"github.com/go-gl/mathgl/mgl64"

	"github.com/voxgrid3d/voxgrid/dynamics"
)

// GenerateMesh builds collision triangles for one SubchunkSize³ voxel
// cube. solid is queried in world coordinates; the triangles come back
// in the cube-local 0..SubchunkSize frame, so identical cubes share
// geometry and the owning body's transform supplies the absolute
// position.
func GenerateMesh(solid func(pos BlockPos) bool, origin BlockPos) []dynamics.Triangle {
	// Neighbor lookups step outside the 0..SubchunkSize range, so
	// border faces stay closed against solid voxels in the adjacent
	// subchunk.
	local := func(p BlockPos) bool {
		return solid(origin.Add(p))
	}
	return greedyMesh(local, BlockPos{0, 0, 0}, BlockPos{SubchunkSize - 1, SubchunkSize - 1, SubchunkSize - 1})
}

// greedyMesh emits two triangles per maximal merged rectangle of
// exposed faces over the inclusive voxel range [lo,hi]. For each of
// the six face directions it slices the volume perpendicular to the
// face axis, builds a boolean exposed-face mask per slice, and merges
// runs: width first along u, then height along v while every cell in
// the width run matches.
func greedyMesh(solid func(pos BlockPos) bool, lo, hi BlockPos) []dynamics.Triangle {
	var tris []dynamics.Triangle

	for axis := 0; axis < 3; axis++ {
		u := (axis + 1) % 3
		v := (axis + 2) % 3
		du := hi[u] - lo[u] + 1
		dv := hi[v] - lo[v] + 1
		mask := make([]bool, du*dv)

		for _, dir := range [2]int{1, -1} {
			for slice := lo[axis]; slice <= hi[axis]; slice++ {
				// Exposed-face mask for this slice.
				any := false
				for iv := 0; iv < dv; iv++ {
					for iu := 0; iu < du; iu++ {
						var p BlockPos
						p[axis] = slice
						p[u] = lo[u] + iu
						p[v] = lo[v] + iv
						var n BlockPos = p
						n[axis] += dir
						exposed := solid(p) && !solid(n)
						mask[iv*du+iu] = exposed
						any = any || exposed
					}
				}
				if !any {
					continue
				}

				// Greedy merge into maximal rectangles.
				for iv := 0; iv < dv; iv++ {
					for iu := 0; iu < du; iu++ {
						if !mask[iv*du+iu] {
							continue
						}
						w := 1
						for iu+w < du && mask[iv*du+iu+w] {
							w++
						}
						h := 1
					expand:
						for iv+h < dv {
							for k := 0; k < w; k++ {
								if !mask[(iv+h)*du+iu+k] {
									break expand
								}
							}
							h++
						}
						for y := iv; y < iv+h; y++ {
							for x := iu; x < iu+w; x++ {
								mask[y*du+x] = false
							}
						}
						tris = append(tris, quadTriangles(axis, u, v, dir, slice, lo[u]+iu, lo[v]+iv, w, h)...)
					}
				}
			}
		}
	}
	return tris
}

// quadTriangles emits one merged rectangle as two triangles wound so
// the face normal points along dir on the face axis.
func quadTriangles(axis, u, v, dir, slice, u0, v0, w, h int) []dynamics.Triangle {
	plane := float64(slice)
	if dir > 0 {
		plane += 1
	}
	var base, eu, ev mgl64.Vec3
	base[axis] = plane
	base[u] = float64(u0)
	base[v] = float64(v0)
	eu[u] = float64(w)
	ev[v] = float64(h)

	a := base
	b := base.Add(eu)
	c := base.Add(eu).Add(ev)
	d := base.Add(ev)
	if dir > 0 {
		// eu × ev already points along +axis (u,v are the cyclic
		// successors of axis).
		return []dynamics.Triangle{{A: a, B: b, C: c}, {A: a, B: c, C: d}}
	}
	return []dynamics.Triangle{{A: a, B: c, C: b}, {A: a, B: d, C: c}}
}

// SubchunkMesh is the collision geometry for one fixed-size cube of
// static world voxels, lazily built and shared between consumers via a
// reference count. Activation inserts the static body into the solver;
// regeneration happens only for meshes that are both dirty and active,
// on the tick sweep.
type SubchunkMesh struct {
	Origin BlockPos

	source BlockSource
	shape  *dynamics.VoxelMeshShape
	body   *dynamics.Body

	mu     sync.Mutex
	dirty  bool
	refs   int
	active bool
}

func NewSubchunkMesh(origin BlockPos, source BlockSource) *SubchunkMesh {
	m := &SubchunkMesh{
		Origin: origin,
		source: source,
		dirty:  true,
	}
	m.shape = &dynamics.VoxelMeshShape{
		Bounds: AABB{Max: mgl64.Vec3{SubchunkSize, SubchunkSize, SubchunkSize}},
		Solid:  m.solidLocal,
		EachSolidIn: func(min, max [3]int, fn func(x, y, z int) bool) {
			for x := maxInt(min[0], 0); x <= minInt(max[0], SubchunkSize-1); x++ {
				for y := maxInt(min[1], 0); y <= minInt(max[1], SubchunkSize-1); y++ {
					for z := maxInt(min[2], 0); z <= minInt(max[2], SubchunkSize-1); z++ {
						if m.solidLocal(x, y, z) && !fn(x, y, z) {
							return
						}
					}
				}
			}
		},
	}
	m.body = &dynamics.Body{
		UserData: m,
		Kind:     dynamics.KindStatic,
		Group:    dynamics.GroupWorld,
		Mask:     dynamics.GroupGrid,
		Shape:    m.shape,
		Transform: dynamics.Transform{
			Position: origin.Vec3(),
			Rotation: mgl64.QuatIdent(),
		},
		Friction: 0.8,
	}
	return m
}

func (m *SubchunkMesh) solidLocal(x, y, z int) bool {
	return m.source.Solid(m.Origin.Add(BlockPos{x, y, z}))
}

// MarkDirty flags the geometry for regeneration without rebuilding.
func (m *SubchunkMesh) MarkDirty() {
	m.mu.Lock()
	m.dirty = true
	m.mu.Unlock()
}

// Acquire adds one reference; the first one inserts the body into the
// solver. Never inserts twice.
func (m *SubchunkMesh) Acquire(s Solver) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.refs++
	if !m.active {
		s.AddBody(m.body)
		m.active = true
	}
}

// Release drops one reference; the last one removes the body from the
// solver. The generated geometry is kept for reactivation.
func (m *SubchunkMesh) Release(s Solver) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.refs > 0 {
		m.refs--
	}
	if m.refs == 0 && m.active {
		s.RemoveBody(m.body)
		m.active = false
	}
}

// RegenerateIfNeeded rebuilds triangles when the mesh is dirty and
// active; inactive meshes wait until someone needs them. Tick thread
// only. Reports whether a rebuild happened.
func (m *SubchunkMesh) RegenerateIfNeeded() bool {
	m.mu.Lock()
	run := m.dirty && m.active
	if run {
		m.dirty = false
	}
	m.mu.Unlock()
	if !run {
		return false
	}
	m.shape.Triangles = GenerateMesh(m.source.Solid, m.Origin)
	return true
}

// Active reports whether the mesh currently sits in the solver.
func (m *SubchunkMesh) Active() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active
}

// subchunkOrigin returns the origin of the subchunk containing a
// world voxel position.
func subchunkOrigin(pos BlockPos) BlockPos {
	return BlockPos{
		floorDiv(pos[0], SubchunkSize) * SubchunkSize,
		floorDiv(pos[1], SubchunkSize) * SubchunkSize,
		floorDiv(pos[2], SubchunkSize) * SubchunkSize,
	}
}

func floorDiv(a, b int) int {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}
