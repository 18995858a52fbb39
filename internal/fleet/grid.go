package fleet

import (
	"math"
	"slices"

	"github.com/simfleet/server/internal/geom"
)

// DefaultCellSize is the grid cell edge in metres, on the ground plane.
const DefaultCellSize = 16.0

// maxCellsPerBox bounds how many cells one box is written into. Larger boxes
// go on a list that every query sees.
const maxCellsPerBox = 256

type cellKey struct {
	cx int32
	cz int32
}

// Grid is a uniform cell map over the x/z plane used to narrow candidate
// pairs before the exact box test. Rebuilt every reconciliation; accessed
// only from the tick goroutine.
type Grid struct {
	size     float64
	cells    map[cellKey][]int
	oversize []int
}

func NewGrid(cellSize float64) *Grid {
	if cellSize <= 0 {
		cellSize = DefaultCellSize
	}
	return &Grid{
		size:  cellSize,
		cells: make(map[cellKey][]int),
	}
}

func (g *Grid) toCell(v float64) int32 {
	return int32(math.Floor(v / g.size))
}

func (g *Grid) span(b geom.AABB) (x0, z0, x1, z1 int32) {
	return g.toCell(b.Min.X), g.toCell(b.Min.Z), g.toCell(b.Max.X), g.toCell(b.Max.Z)
}

// Reset empties the grid.
func (g *Grid) Reset() {
	clear(g.cells)
	g.oversize = g.oversize[:0]
}

// Insert registers id under every cell box touches. Null boxes are skipped.
func (g *Grid) Insert(id int, box geom.AABB) {
	if box.IsNull() {
		return
	}
	x0, z0, x1, z1 := g.span(box)
	if int64(x1-x0+1)*int64(z1-z0+1) > maxCellsPerBox {
		g.oversize = append(g.oversize, id)
		return
	}
	for cx := x0; cx <= x1; cx++ {
		for cz := z0; cz <= z1; cz++ {
			k := cellKey{cx: cx, cz: cz}
			g.cells[k] = append(g.cells[k], id)
		}
	}
}

// Nearby appends to out the ids sharing a cell with box, plus oversize
// entries, deduplicated and ascending. Caller does the exact test.
func (g *Grid) Nearby(box geom.AABB, out []int) []int {
	out = out[:0]
	if box.IsNull() {
		return out
	}
	out = append(out, g.oversize...)
	x0, z0, x1, z1 := g.span(box)
	if int64(x1-x0+1)*int64(z1-z0+1) > maxCellsPerBox {
		for _, ids := range g.cells {
			out = append(out, ids...)
		}
	} else {
		for cx := x0; cx <= x1; cx++ {
			for cz := z0; cz <= z1; cz++ {
				out = append(out, g.cells[cellKey{cx: cx, cz: cz}]...)
			}
		}
	}
	slices.Sort(out)
	return slices.Compact(out)
}
