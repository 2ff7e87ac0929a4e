package dynamics

import (
	"math"
)

// spatialHash is the broad phase: bodies are binned into coarse cells by
// world AABB and candidate pairs come from shared cells.
type spatialHash struct {
	cellSize float64
	cells    map[uint64][]*Body
}

func newSpatialHash(cellSize float64) *spatialHash {
	return &spatialHash{
		cellSize: cellSize,
		cells:    make(map[uint64][]*Body),
	}
}

func (g *spatialHash) rebuild(bodies map[uint64]*Body) {
	for k := range g.cells {
		delete(g.cells, k)
	}
	for _, b := range bodies {
		g.insert(b)
	}
}

func (g *spatialHash) insert(b *Body) {
	aabb := b.BoundingBox()
	minX, maxX := g.cellIndex(aabb.Min.X()), g.cellIndex(aabb.Max.X())
	minY, maxY := g.cellIndex(aabb.Min.Y()), g.cellIndex(aabb.Max.Y())
	minZ, maxZ := g.cellIndex(aabb.Min.Z()), g.cellIndex(aabb.Max.Z())

	for x := minX; x <= maxX; x++ {
		for y := minY; y <= maxY; y++ {
			for z := minZ; z <= maxZ; z++ {
				key := hashCell(x, y, z)
				g.cells[key] = append(g.cells[key], b)
			}
		}
	}
}

// pairs returns the deduplicated candidate pairs from all cells, ordered
// (lower id, higher id).
func (g *spatialHash) pairs() [][2]*Body {
	seen := make(map[pairKey]struct{})
	var out [][2]*Body
	for _, cell := range g.cells {
		for i := 0; i < len(cell); i++ {
			for j := i + 1; j < len(cell); j++ {
				a, b := cell[i], cell[j]
				if a.id > b.id {
					a, b = b, a
				}
				k := pairKey{a.id, b.id}
				if _, ok := seen[k]; ok {
					continue
				}
				seen[k] = struct{}{}
				out = append(out, [2]*Body{a, b})
			}
		}
	}
	return out
}

func (g *spatialHash) cellIndex(v float64) int {
	return int(math.Floor(v / g.cellSize))
}

func hashCell(x, y, z int) uint64 {
	// Large primes for mixing.
	const p1 = 73856093
	const p2 = 19349663
	const p3 = 83492791
	return uint64(x*p1 ^ y*p2 ^ z*p3)
}
