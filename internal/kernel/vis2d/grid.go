// Package vis2d implements the 2-D visualisation grid (C13): a
// peripheral, decorative ASCII renderer of actor positions on a
// factory-floor grid, per spec.md §1's out-of-scope/peripheral list.
// It has no teacher counterpart and is not load-bearing: nothing else in
// the kernel, including the bootstrapper, uses it.
package vis2d

import "strings"

// Grid is a fixed-size 2-D char grid addressed by (x, y).
type Grid struct {
	width, height int
	cells         [][]rune
}

// New creates a width x height grid, every cell initialized to '.'.
func New(width, height int) *Grid {
	cells := make([][]rune, height)
	for y := range cells {
		row := make([]rune, width)
		for x := range row {
			row[x] = '.'
		}
		cells[y] = row
	}
	return &Grid{width: width, height: height, cells: cells}
}

// Place marks symbol at (x, y). Out-of-bounds placements are silently
// ignored, matching the grid's decorative, best-effort nature.
func (g *Grid) Place(x, y int, symbol rune) {
	if x < 0 || x >= g.width || y < 0 || y >= g.height {
		return
	}
	g.cells[y][x] = symbol
}

// Clear resets every cell back to '.'.
func (g *Grid) Clear() {
	for y := range g.cells {
		for x := range g.cells[y] {
			g.cells[y][x] = '.'
		}
	}
}

// Render draws the grid as newline-joined rows, top row first.
func (g *Grid) Render() string {
	var b strings.Builder
	for y, row := range g.cells {
		if y > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(string(row))
	}
	return b.String()
}
