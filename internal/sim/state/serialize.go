package state

import (
	"fmt"

	"goopbattle/internal/protocol"
	"goopbattle/internal/sim/grid"
	"goopbattle/internal/sim/xorshift"
)

// Serializable returns the full state, map included, in wire form. It is what
// a joining player receives; after that only actions are exchanged.
func (s *State) Serializable() protocol.GameState {
	gs := protocol.GameState{
		Board:   [2]int{s.m.Rows, s.m.Cols},
		Sources: append([]int(nil), s.m.Sources...),
		Colors:  make([][3]uint8, len(s.m.Colors)),
		Nodes:   make([]*protocol.NodeState, len(s.nodes)),
		RNG:     s.rng.State(),
		Turn:    s.turn,
	}
	for i, c := range s.m.Colors {
		gs.Colors[i] = c
	}
	for i, o := range s.nodes {
		if o == nil {
			continue
		}
		gs.Nodes[i] = &protocol.NodeState{
			Player:   o.Player,
			Goop:     o.Goop,
			Outflows: append([]int(nil), o.Outflows...),
		}
	}
	return gs
}

// FromSerializable rebuilds a State from its wire form.
func FromSerializable(gs protocol.GameState) (*State, error) {
	colors := make([]grid.RGB, len(gs.Colors))
	for i, c := range gs.Colors {
		colors[i] = c
	}
	m, err := grid.NewMap(gs.Board[0], gs.Board[1], gs.Sources, colors)
	if err != nil {
		return nil, err
	}
	if len(gs.Nodes) != m.Nodes() {
		return nil, fmt.Errorf("state: %d nodes for a %dx%d board", len(gs.Nodes), gs.Board[0], gs.Board[1])
	}
	nodes := make([]*Occupied, len(gs.Nodes))
	for i, ns := range gs.Nodes {
		if ns == nil {
			continue
		}
		if ns.Player < 0 || ns.Player >= m.Players() {
			return nil, fmt.Errorf("state: node %d owned by unknown player %d", i, ns.Player)
		}
		if ns.Goop < 0 || ns.Goop > MaxGoop {
			return nil, fmt.Errorf("state: node %d goop %d out of range", i, ns.Goop)
		}
		o := &Occupied{Player: ns.Player, Goop: ns.Goop}
		for _, to := range ns.Outflows {
			if !m.IsNeighbor(i, to) {
				return nil, fmt.Errorf("state: node %d outflow to non-neighbor %d", i, to)
			}
			o.Outflows = append(o.Outflows, to)
		}
		nodes[i] = o
	}
	for _, src := range m.Sources {
		if nodes[src] == nil {
			return nil, fmt.Errorf("state: source node %d is unclaimed", src)
		}
	}
	return &State{m: m, nodes: nodes, rng: xorshift.New(gs.RNG), turn: gs.Turn}, nil
}
