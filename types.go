package voxgrid

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"

	"github.com/voxgrid3d/voxgrid/dynamics"
)

// AABB is re-exported from the dynamics package so callers of the
// public surface don't need a second box type.
type AABB = dynamics.AABB

// BlockPos is an integer voxel coordinate. Depending on context it is
// grid-local, storage-space or world-space; the voxel occupies the unit
// cube [p, p+1) on each axis.
type BlockPos [3]int

func (p BlockPos) X() int { return p[0] }
func (p BlockPos) Y() int { return p[1] }
func (p BlockPos) Z() int { return p[2] }

func (p BlockPos) Add(q BlockPos) BlockPos {
	return BlockPos{p[0] + q[0], p[1] + q[1], p[2] + q[2]}
}

func (p BlockPos) Sub(q BlockPos) BlockPos {
	return BlockPos{p[0] - q[0], p[1] - q[1], p[2] - q[2]}
}

// Vec3 returns the voxel's min corner.
func (p BlockPos) Vec3() mgl64.Vec3 {
	return mgl64.Vec3{float64(p[0]), float64(p[1]), float64(p[2])}
}

// Center returns the voxel's center point.
func (p BlockPos) Center() mgl64.Vec3 {
	return mgl64.Vec3{float64(p[0]) + 0.5, float64(p[1]) + 0.5, float64(p[2]) + 0.5}
}

// Box returns the voxel's unit cube.
func (p BlockPos) Box() AABB {
	min := p.Vec3()
	return AABB{Min: min, Max: min.Add(mgl64.Vec3{1, 1, 1})}
}

// BlockPosFromVec3 returns the voxel containing the point.
func BlockPosFromVec3(v mgl64.Vec3) BlockPos {
	return BlockPos{
		int(math.Floor(v.X())),
		int(math.Floor(v.Y())),
		int(math.Floor(v.Z())),
	}
}

// BlockSource is the host world's voxel occupancy lookup, addressed in
// world-space voxel coordinates. Implementations must be safe for
// concurrent reads.
type BlockSource interface {
	Solid(pos BlockPos) bool
}

// BlockSourceFunc adapts a function to the BlockSource interface.
type BlockSourceFunc func(pos BlockPos) bool

func (f BlockSourceFunc) Solid(pos BlockPos) bool { return f(pos) }

// eachVoxelIn visits every voxel whose cube intersects the AABB.
func eachVoxelIn(box AABB, fn func(pos BlockPos) bool) {
	var lo, hi BlockPos
	for i := 0; i < 3; i++ {
		lo[i] = int(math.Floor(box.Min[i]))
		hi[i] = int(math.Ceil(box.Max[i])) - 1
	}
	for x := lo[0]; x <= hi[0]; x++ {
		for y := lo[1]; y <= hi[1]; y++ {
			for z := lo[2]; z <= hi[2]; z++ {
				if !fn(BlockPos{x, y, z}) {
					return
				}
			}
		}
	}
}
