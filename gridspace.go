package voxgrid

import (
	"errors"
	"fmt"
	"sync"
)

var (
	// ErrRegionSpaceExhausted means every region id in the packing is
	// in use. This is a deployment limit, not a transient condition.
	ErrRegionSpaceExhausted = errors.New("gridspace: region id space exhausted")
	// ErrRegionAlreadyAllocated means the grid already holds a region.
	ErrRegionAlreadyAllocated = errors.New("gridspace: grid already has a region")
)

// Region is one grid's reserved storage volume. Its origin is fixed
// for the region's lifetime; grid-local coordinates map into it by a
// pure translation.
type Region struct {
	ID     uint32
	Origin BlockPos
	Size   int

	// offset is the translation applied to grid-local coordinates,
	// placing grid-local (0,0,0) at the region's center so negative
	// local coordinates fit too.
	offset BlockPos
}

// Contains reports whether a storage-space position lies inside the
// region's reserved volume.
func (r *Region) Contains(pos BlockPos) bool {
	for i := 0; i < 3; i++ {
		if pos[i] < r.Origin[i] || pos[i] >= r.Origin[i]+r.Size {
			return false
		}
	}
	return true
}

// GridToRegion translates a grid-local coordinate into storage space.
func (r *Region) GridToRegion(local BlockPos) BlockPos {
	return local.Add(r.offset)
}

// RegionToGrid translates a storage-space coordinate back to
// grid-local.
func (r *Region) RegionToGrid(storage BlockPos) BlockPos {
	return storage.Sub(r.offset)
}

// GridSpace reserves non-overlapping storage regions for grids and
// answers region membership queries. Safe for concurrent use.
type GridSpace struct {
	cfg Config
	log Logger

	mu       sync.Mutex
	byGrid   map[uint32]*Region
	byRegion map[uint32]*Region
	released []uint32
	next     uint32
}

func NewGridSpace(cfg Config, log Logger) *GridSpace {
	if log == nil {
		log = NewNopLogger()
	}
	return &GridSpace{
		cfg:      cfg,
		log:      log,
		byGrid:   make(map[uint32]*Region),
		byRegion: make(map[uint32]*Region),
	}
}

// AllocateRegion reserves a region for the grid. Released ids are
// reused (scanned in release order) before the counter advances; the
// id space is RegionRows² slots.
func (s *GridSpace) AllocateRegion(gridID uint32) (*Region, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byGrid[gridID]; ok {
		return nil, fmt.Errorf("%w: grid %d", ErrRegionAlreadyAllocated, gridID)
	}

	var id uint32
	switch {
	case len(s.released) > 0:
		id = s.released[0]
		s.released = s.released[1:]
	case s.next < uint32(s.cfg.RegionRows)*uint32(s.cfg.RegionRows):
		id = s.next
		s.next++
	default:
		return nil, ErrRegionSpaceExhausted
	}

	r := s.makeRegion(id)
	s.byGrid[gridID] = r
	s.byRegion[id] = r
	s.log.Debugf("gridspace: allocated region %d at %v for grid %d", id, r.Origin, gridID)
	return r, nil
}

// DeallocateRegion releases the grid's region for reuse. Idempotent;
// returns false when the grid held none.
func (s *GridSpace) DeallocateRegion(gridID uint32) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.byGrid[gridID]
	if !ok {
		return false
	}
	delete(s.byGrid, gridID)
	delete(s.byRegion, r.ID)
	s.released = append(s.released, r.ID)
	return true
}

// RegionFor returns the region currently held by the grid.
func (s *GridSpace) RegionFor(gridID uint32) (*Region, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.byGrid[gridID]
	return r, ok
}

// IsInRegionSpace reports whether a storage-space position falls
// anywhere inside the packing area, allocated or not.
func (s *GridSpace) IsInRegionSpace(pos BlockPos) bool {
	pitch := s.cfg.RegionStride + s.cfg.RegionSafety
	extent := s.cfg.RegionRows * pitch
	base := s.cfg.RegionBase
	return pos[0] >= base[0] && pos[0] < base[0]+extent &&
		pos[1] >= base[1] && pos[1] < base[1]+s.cfg.RegionStride &&
		pos[2] >= base[2] && pos[2] < base[2]+extent
}

// RegionContaining returns the allocated region holding a
// storage-space position, if any.
func (s *GridSpace) RegionContaining(pos BlockPos) (*Region, bool) {
	if !s.IsInRegionSpace(pos) {
		return nil, false
	}
	pitch := s.cfg.RegionStride + s.cfg.RegionSafety
	col := (pos[0] - s.cfg.RegionBase[0]) / pitch
	row := (pos[2] - s.cfg.RegionBase[2]) / pitch
	id := uint32(row*s.cfg.RegionRows + col)

	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.byRegion[id]
	if !ok || !r.Contains(pos) {
		return nil, false
	}
	return r, true
}

// makeRegion computes deterministic row/column placement for a region
// id. An origin past the host's absolute coordinate limit is logged
// and still returned; the caller decided the packing parameters.
func (s *GridSpace) makeRegion(id uint32) *Region {
	pitch := s.cfg.RegionStride + s.cfg.RegionSafety
	row := int(id) / s.cfg.RegionRows
	col := int(id) % s.cfg.RegionRows
	origin := BlockPos{
		s.cfg.RegionBase[0] + col*pitch,
		s.cfg.RegionBase[1],
		s.cfg.RegionBase[2] + row*pitch,
	}

	for i := 0; i < 3; i++ {
		if abs(origin[i]) > s.cfg.MaxWorldAbs || abs(origin[i]+s.cfg.RegionStride) > s.cfg.MaxWorldAbs {
			s.log.Errorf("gridspace: region %d origin %v exceeds world limit %d", id, origin, s.cfg.MaxWorldAbs)
			break
		}
	}

	half := s.cfg.RegionStride / 2
	return &Region{
		ID:     id,
		Origin: origin,
		Size:   s.cfg.RegionStride,
		offset: origin.Add(BlockPos{half, half, half}),
	}
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
