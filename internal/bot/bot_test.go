package bot

import (
	"context"
	"errors"
	"testing"
	"time"

	"goopbattle/internal/lockstep"
	"goopbattle/internal/protocol"
	"goopbattle/internal/scheduler"
	"goopbattle/internal/sim/grid"
	"goopbattle/internal/sim/state"
)

func newGame(t *testing.T) *state.State {
	t.Helper()
	s, err := state.New(state.Params{
		Rows:    5,
		Cols:    5,
		Sources: []grid.Node{0, 24},
		Colors:  []grid.RGB{{255, 0, 0}, {0, 0, 255}},
	})
	if err != nil {
		t.Fatalf("state.New: %v", err)
	}
	return s
}

func TestPlan_PushesFromSource(t *testing.T) {
	st := newGame(t)
	if acts := NewPlanner(1).Plan(st, 0); len(acts) != 0 {
		t.Fatalf("planned %+v with an empty source", acts)
	}
	st.Advance()
	st.Advance()
	acts := NewPlanner(1).Plan(st, 0)
	if len(acts) != 1 {
		t.Fatalf("got %d actions, want 1", len(acts))
	}
	a := acts[0]
	if a.Kind != protocol.ActionToggleOutflow || a.Player != 0 || a.From != 0 {
		t.Fatalf("unexpected action %+v", a)
	}
	if !st.Map().IsNeighbor(a.From, a.To) {
		t.Fatalf("non-adjacent outflow %+v", a)
	}
}

func TestPlan_OnlyLegalActions(t *testing.T) {
	st := newGame(t)
	planners := []*Planner{NewPlanner(7), NewPlanner(8)}
	for turn := 0; turn < 100; turn++ {
		for player, pl := range planners {
			acts := pl.Plan(st, player)
			if len(acts) > pl.MaxPerTurn {
				t.Fatalf("turn %d: %d actions over cap", turn, len(acts))
			}
			for _, a := range acts {
				c := st.Cell(a.From)
				if c == nil || c.Player != player {
					t.Fatalf("turn %d: player %d acted on node it does not own: %+v", turn, player, a)
				}
				if !st.Map().IsNeighbor(a.From, a.To) {
					t.Fatalf("turn %d: non-adjacent outflow %+v", turn, a)
				}
				st.TakeAction(a)
			}
		}
		st.Advance()
	}
	if len(st.Owned(0)) < 2 && len(st.Owned(1)) < 2 {
		t.Fatalf("neither player expanded: %v", st.Score())
	}
}

func TestPlan_SamePlanForSameSeed(t *testing.T) {
	st := newGame(t)
	for i := 0; i < 3; i++ {
		st.Advance()
	}
	a := NewPlanner(42).Plan(st, 1)
	b := NewPlanner(42).Plan(st, 1)
	if len(a) == 0 {
		t.Fatalf("no plan")
	}
	if len(a) != len(b) || (len(a) > 0 && a[0] != b[0]) {
		t.Fatalf("plans differ: %+v vs %+v", a, b)
	}
}

// Driven through a real participant, each plan is applied before the next
// one is made, so the bot never undoes its own fresh outflow.
func TestAttach_NoSelfRetoggle(t *testing.T) {
	st, err := state.New(state.Params{
		Rows:    1,
		Cols:    4,
		Sources: []grid.Node{0},
		Colors:  []grid.RGB{{255, 0, 0}},
	})
	if err != nil {
		t.Fatalf("state.New: %v", err)
	}
	sched := scheduler.New(st, scheduler.Config{})
	part, link, err := lockstep.NewHost(sched, "house", nil)
	if err != nil {
		t.Fatal(err)
	}

	const turns = 20
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	NewPlanner(1).Attach(part)
	plan := part.OnTurn
	toggled := map[[2]int]int{}
	part.OnTurn = func(ca protocol.CollectedActions) {
		for _, a := range ca.Actions {
			toggled[[2]int{a.From, a.To}]++
		}
		if ca.Turn == turns {
			cancel()
			return
		}
		plan(ca)
	}

	if err := part.Run(ctx, link); !errors.Is(err, context.Canceled) {
		t.Fatalf("Run: %v", err)
	}
	for pair, n := range toggled {
		if n != 1 {
			t.Fatalf("outflow %v toggled %d times", pair, n)
		}
	}

	end := part.Snapshot()
	if got := len(end.Owned(0)); got != 4 {
		t.Fatalf("owned %d nodes, want 4", got)
	}
	for n := 0; n < 3; n++ {
		if out := end.Cell(n).Outflows; len(out) != 1 || out[0] != n+1 {
			t.Fatalf("node %d outflows: got %v want [%d]", n, out, n+1)
		}
	}
}
