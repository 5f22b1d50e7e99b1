// Package state holds the dynamic state of a game.
//
// A game is split into three kinds of data:
//
//   - State: everything that varies turn to turn. Node ownership, goop levels,
//     the outflows players have chosen, and the PRNG that orders goop flow.
//   - grid.Map: the board, the goop sources and the player colors. Fixed for
//     the whole game.
//   - UI hover/selection state, which never reaches this package. Only the
//     Actions the UI produces do.
//
// Every replica of a game holds its own State and advances it with the same
// actions in the same order, so nothing here may depend on wall-clock time,
// map iteration order or floating point.
package state

import (
	"fmt"

	"goopbattle/internal/protocol"
	"goopbattle/internal/sim/grid"
	"goopbattle/internal/sim/xorshift"
)

// MaxGoop is the most goop a node can hold.
const MaxGoop = 15

// Seed is the fixed PRNG seed every fresh game starts from.
var Seed = [2]uint64{0xcd9d5eaaf04bc9a7, 0x4602cc7098d01ef9}

// Player identifies a seat. Player i owns source i.
type Player = int

// Occupied is the state of a node some player controls.
type Occupied struct {
	Player Player
	// Goop ranges from 0 to MaxGoop.
	Goop int
	// Outflows are the neighbors this node pushes goop to, in the order they
	// were toggled on.
	Outflows []grid.Node
}

func (o *Occupied) clone() *Occupied {
	if o == nil {
		return nil
	}
	c := *o
	if o.Outflows != nil {
		c.Outflows = append([]grid.Node(nil), o.Outflows...)
	}
	return &c
}

func (o *Occupied) hasOutflow(n grid.Node) bool {
	for _, x := range o.Outflows {
		if x == n {
			return true
		}
	}
	return false
}

// State is the complete state of a game board.
type State struct {
	m *grid.Map

	// nodes is indexed by node; nil means the node is unclaimed.
	nodes []*Occupied

	rng  *xorshift.XorShift128Plus
	turn uint64
}

// Params are the inputs to a fresh game.
type Params struct {
	Rows    int
	Cols    int
	Sources []grid.Node
	Colors  []grid.RGB
}

// New creates the turn-0 state. Each source starts owned by its player with no
// goop and no outflows.
func New(p Params) (*State, error) {
	m, err := grid.NewMap(p.Rows, p.Cols, p.Sources, p.Colors)
	if err != nil {
		return nil, err
	}
	return NewOnMap(m), nil
}

// NewOnMap is New for an already validated map.
func NewOnMap(m *grid.Map) *State {
	nodes := make([]*Occupied, m.Nodes())
	for player, src := range m.Sources {
		nodes[src] = &Occupied{Player: player}
	}
	return &State{m: m, nodes: nodes, rng: xorshift.New(Seed)}
}

func (s *State) Map() *grid.Map { return s.m }

// Turn is the number of times Advance has run since the game began.
func (s *State) Turn() uint64 { return s.turn }

// Cell returns a copy of node n, or nil if it is unclaimed.
func (s *State) Cell(n grid.Node) *Occupied { return s.nodes[n].clone() }

// Clone returns a deep copy. The static map is shared; it is never mutated.
func (s *State) Clone() *State {
	nodes := make([]*Occupied, len(s.nodes))
	for i, o := range s.nodes {
		nodes[i] = o.clone()
	}
	return &State{m: s.m, nodes: nodes, rng: xorshift.New(s.rng.State()), turn: s.turn}
}

// TakeAction applies a to the state. Actions against unclaimed nodes or nodes
// owned by another player are ignored; that is ordinary play (stale clicks,
// nodes captured since the click), not an error.
func (s *State) TakeAction(a protocol.Action) {
	switch a.Kind {
	case protocol.ActionToggleOutflow:
		if a.From < 0 || a.From >= len(s.nodes) {
			return
		}
		from := s.nodes[a.From]
		if from == nil || from.Player != a.Player {
			return
		}
		if from.hasOutflow(a.To) {
			kept := from.Outflows[:0]
			for _, n := range from.Outflows {
				if n != a.To {
					kept = append(kept, n)
				}
			}
			from.Outflows = kept
		} else {
			from.Outflows = append(from.Outflows, a.To)
		}
	}
}

// Advance moves the state to the next turn: goop flows, then sources refill.
func (s *State) Advance() {
	s.flow()
	s.generateGoop()
	s.turn++
}

type outflow struct {
	from, to grid.Node
}

// flow lets one unit of goop move along each outflow. Edges are visited in a
// PRNG-shuffled order so no player's edges are systematically first.
func (s *State) flow() {
	var pending []outflow
	for n, o := range s.nodes {
		if o == nil {
			continue
		}
		for _, to := range o.Outflows {
			pending = append(pending, outflow{from: n, to: to})
		}
	}

	s.rng.Shuffle(len(pending), func(i, j int) { pending[i], pending[j] = pending[j], pending[i] })

	for len(pending) > 0 {
		p := pending[len(pending)-1]
		pending = pending[:len(pending)-1]

		from := s.nodes[p.from]
		if from == nil {
			// Pairs are only built for owned nodes, and attacked nodes have
			// their pairs removed below.
			panic(fmt.Sprintf("state: outflow from unclaimed node %d", p.from))
		}
		if from.Goop == 0 {
			continue
		}

		to := s.nodes[p.to]
		switch {
		case to == nil:
			from.Goop--
			s.nodes[p.to] = &Occupied{Player: from.Player, Goop: 1}

		case to.Player == from.Player:
			if to.Goop < MaxGoop {
				from.Goop--
				to.Goop++
			}

		case to.Goop > 1:
			from.Goop--
			to.Goop--
			to.Outflows = nil
			pending = dropFrom(pending, p.to)

		default:
			// One unit cancels one unit. A node holding 1 is emptied and
			// taken with 0 goop. A node holding 0 has nothing to cancel, so
			// the arriving unit survives and the node is taken with 1.
			// That is the only attack that leaves the new owner with goop.
			from.Goop--
			s.nodes[p.to] = &Occupied{Player: from.Player, Goop: 1 - to.Goop}
			pending = dropFrom(pending, p.to)
		}
	}
}

// dropFrom removes pairs originating at n, keeping the order of the rest.
func dropFrom(pending []outflow, n grid.Node) []outflow {
	kept := pending[:0]
	for _, p := range pending {
		if p.from != n {
			kept = append(kept, p)
		}
	}
	return kept
}

func (s *State) generateGoop() {
	for _, src := range s.m.Sources {
		o := s.nodes[src]
		if o == nil {
			panic(fmt.Sprintf("state: source node %d is unclaimed", src))
		}
		if o.Goop < MaxGoop {
			o.Goop++
		}
	}
}

// Owned lists the nodes player controls, in node order.
func (s *State) Owned(player Player) []grid.Node {
	var out []grid.Node
	for n, o := range s.nodes {
		if o != nil && o.Player == player {
			out = append(out, n)
		}
	}
	return out
}

// Score returns the total goop held by each player.
func (s *State) Score() []int {
	out := make([]int, s.m.Players())
	for _, o := range s.nodes {
		if o != nil && o.Player >= 0 && o.Player < len(out) {
			out[o.Player] += o.Goop
		}
	}
	return out
}
