// Package lockstep keeps a local copy of the game in step with the
// scheduler. A Replica applies each turn's CollectedActions and checks the
// resulting checksum; any disagreement ends the game.
package lockstep

import (
	"fmt"

	"goopbattle/internal/protocol"
	"goopbattle/internal/sim/state"
)

// OutOfOrderError reports a turn delivered out of sequence. Delivery is
// assumed to be reliable and ordered, so there is no recovery.
type OutOfOrderError struct {
	Want uint64
	Got  uint64
}

func (e *OutOfOrderError) Error() string {
	return fmt.Sprintf("lockstep: got turn %d, want %d", e.Got, e.Want)
}

// DivergenceError reports that the local state no longer matches the
// scheduler's after applying the same actions.
type DivergenceError struct {
	Turn   uint64
	Local  uint64
	Remote uint64
}

func (e *DivergenceError) Error() string {
	return fmt.Sprintf("lockstep: state diverged at turn %d: local checksum %016x, scheduler %016x", e.Turn, e.Local, e.Remote)
}

// Replica is one player's copy of the game. It is not safe for concurrent
// use; Participant adds the locking.
type Replica struct {
	player  int
	state   *state.State
	pending []protocol.Action
}

func NewReplica(player int, st *state.State) *Replica {
	return &Replica{player: player, state: st}
}

func (r *Replica) Player() int             { return r.player }
func (r *Replica) State() *state.State     { return r.state }
func (r *Replica) Turn() uint64            { return r.state.Turn() }
func (r *Replica) Pending() int            { return len(r.pending) }
func (r *Replica) Queue(a protocol.Action) { r.pending = append(r.pending, a) }

// Take removes the queued actions and returns them as this player's
// submission for the current turn.
func (r *Replica) Take() protocol.PlayerActions {
	pa := protocol.PlayerActions{Player: r.player, Turn: r.state.Turn(), Actions: r.pending}
	r.pending = nil
	return pa
}

// Step advances the replica by one turn. On error the replica must be
// discarded; a failed Step may have partially advanced it.
func (r *Replica) Step(ca protocol.CollectedActions) error {
	if want := r.state.Turn() + 1; ca.Turn != want {
		return &OutOfOrderError{Want: want, Got: ca.Turn}
	}
	for _, a := range ca.Actions {
		r.state.TakeAction(a)
	}
	r.state.Advance()
	if local := r.state.Checksum(); local != ca.StateChecksum {
		return &DivergenceError{Turn: ca.Turn, Local: local, Remote: ca.StateChecksum}
	}
	return nil
}

// Apply is Step followed by Take, for callers that queue nothing between
// turns.
func (r *Replica) Apply(ca protocol.CollectedActions) (protocol.PlayerActions, error) {
	if err := r.Step(ca); err != nil {
		return protocol.PlayerActions{}, err
	}
	return r.Take(), nil
}
