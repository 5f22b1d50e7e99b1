package grid

import (
	"errors"
	"fmt"
)

// RGB is a player color.
type RGB [3]uint8

// Map holds everything that does not change over the course of a game: the
// board graph, the goop sources, and the player colors. A Map is never mutated
// after NewMap returns, so replicas in the same process may share one.
//
// The simulation only walks Graph. Rows and Cols describe the board for
// serialization and drawing.
type Map struct {
	Graph   Graph
	Rows    int
	Cols    int
	Sources []Node
	Colors  []RGB
}

var ErrNoSources = errors.New("map: at least one source is required")

// NewMap builds the static map for a rows x cols board. Source i belongs to
// player i and is drawn with Colors[i].
func NewMap(rows, cols int, sources []Node, colors []RGB) (*Map, error) {
	if rows <= 0 || cols <= 0 {
		return nil, fmt.Errorf("map: bad board size %dx%d", rows, cols)
	}
	if len(sources) == 0 {
		return nil, ErrNoSources
	}
	if len(sources) != len(colors) {
		return nil, fmt.Errorf("map: %d sources but %d colors", len(sources), len(colors))
	}
	g := NewSquareGrid(rows, cols)
	seen := make(map[Node]struct{}, len(sources))
	for i, s := range sources {
		if s < 0 || s >= g.Nodes() {
			return nil, fmt.Errorf("map: source %d node %d out of range [0,%d)", i, s, g.Nodes())
		}
		if _, dup := seen[s]; dup {
			return nil, fmt.Errorf("map: duplicate source node %d", s)
		}
		seen[s] = struct{}{}
	}
	return &Map{
		Graph:   g,
		Rows:    rows,
		Cols:    cols,
		Sources: append([]Node(nil), sources...),
		Colors:  append([]RGB(nil), colors...),
	}, nil
}

// Players is the fixed seat count of a game on this map.
func (m *Map) Players() int { return len(m.Sources) }

func (m *Map) Nodes() int { return m.Graph.Nodes() }

func (m *Map) IsSource(n Node) bool {
	for _, s := range m.Sources {
		if s == n {
			return true
		}
	}
	return false
}

// IsNeighbor reports whether b is adjacent to a.
func (m *Map) IsNeighbor(a, b Node) bool {
	if a < 0 || a >= m.Nodes() || b < 0 || b >= m.Nodes() {
		return false
	}
	for _, n := range m.Graph.Neighbors(a) {
		if n == b {
			return true
		}
	}
	return false
}
