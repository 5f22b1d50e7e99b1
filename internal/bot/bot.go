// Package bot plays goop battle badly but legally. The server uses it for its
// optional house player and cmd/bot runs it against a remote server.
package bot

import (
	"math/rand"

	"goopbattle/internal/lockstep"
	"goopbattle/internal/protocol"
	"goopbattle/internal/sim/grid"
	"goopbattle/internal/sim/state"
)

// Planner picks a few outflow toggles per turn: it pushes goop from nodes
// with no outflows toward neighbors it does not own, and retracts outflows
// that only feed its own territory.
type Planner struct {
	rng *rand.Rand

	// MaxPerTurn caps the actions planned per turn.
	MaxPerTurn int
	// MinGoop is the goop a node needs before it starts pushing.
	MinGoop int
}

func NewPlanner(seed int64) *Planner {
	return &Planner{rng: rand.New(rand.NewSource(seed)), MaxPerTurn: 4, MinGoop: 2}
}

func (p *Planner) Plan(st *state.State, player int) []protocol.Action {
	var out []protocol.Action
	g := st.Map().Graph
	for _, n := range st.Owned(player) {
		if p.MaxPerTurn > 0 && len(out) >= p.MaxPerTurn {
			break
		}
		c := st.Cell(n)
		frontier := p.frontier(st, g.Neighbors(n), player)

		if len(c.Outflows) == 0 {
			if c.Goop >= p.MinGoop && len(frontier) > 0 {
				to := frontier[p.rng.Intn(len(frontier))]
				out = append(out, protocol.ToggleOutflow(player, n, to))
			}
			continue
		}
		if len(frontier) == 0 {
			continue
		}
		for _, to := range c.Outflows {
			if o := st.Cell(to); o != nil && o.Player == player {
				out = append(out, protocol.ToggleOutflow(player, n, to))
				break
			}
		}
	}
	return out
}

func (p *Planner) frontier(st *state.State, nbrs []grid.Node, player int) []grid.Node {
	var out []grid.Node
	for _, nb := range nbrs {
		if c := st.Cell(nb); c == nil || c.Player != player {
			out = append(out, nb)
		}
	}
	return out
}

// Attach makes part queue a fresh plan after every turn it applies.
func (p *Planner) Attach(part *lockstep.Participant) {
	part.OnTurn = func(protocol.CollectedActions) {
		for _, a := range p.Plan(part.Snapshot(), part.Player()) {
			part.RequestAction(a)
		}
	}
}
