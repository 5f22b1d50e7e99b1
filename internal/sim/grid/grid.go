package grid

import "fmt"

// Node indexes a node of a Graph. Indices are dense over [0, Nodes()).
type Node = int

// Graph is a directed graph of nodes and their neighbors.
type Graph interface {
	Nodes() int
	Edges() int
	Neighbors(n Node) []Node
}

// SquareGrid is a grid of unit squares. A cell's neighbors are the cells above,
// below, left and right of it; diagonals are not neighbors. Nodes are numbered
// row-major, bottom row first.
type SquareGrid struct {
	Rows int
	Cols int
}

func NewSquareGrid(rows, cols int) SquareGrid {
	return SquareGrid{Rows: rows, Cols: cols}
}

func (g SquareGrid) Nodes() int { return g.Rows * g.Cols }

func (g SquareGrid) Edges() int {
	if g.Rows == 0 || g.Cols == 0 {
		return 0
	}
	return g.Rows*(g.Cols-1) + g.Cols*(g.Rows-1)
}

func (g SquareGrid) Neighbors(n Node) []Node {
	row, col := g.rc(n)
	out := make([]Node, 0, 4)
	if row+1 < g.Rows {
		out = append(out, g.node(row+1, col))
	}
	if col+1 < g.Cols {
		out = append(out, g.node(row, col+1))
	}
	if row >= 1 {
		out = append(out, g.node(row-1, col))
	}
	if col >= 1 {
		out = append(out, g.node(row, col-1))
	}
	return out
}

func (g SquareGrid) rc(n Node) (row, col int) {
	if n < 0 || n >= g.Nodes() {
		panic(fmt.Sprintf("grid: node %d out of range [0,%d)", n, g.Nodes()))
	}
	return n / g.Cols, n % g.Cols
}

func (g SquareGrid) node(row, col int) Node {
	return row*g.Cols + col
}
