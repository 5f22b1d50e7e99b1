package lockstep

import (
	"context"
	"io"
	"log"
	"sync"

	"goopbattle/internal/protocol"
	"goopbattle/internal/sim/state"
)

// Link carries one player's submissions to the scheduler and the resulting
// turns back. Recv returns turns in order, one per Submit.
type Link interface {
	Submit(ctx context.Context, pa protocol.PlayerActions) error
	Recv(ctx context.Context) (protocol.CollectedActions, error)
}

// Participant wraps a Replica for use from several goroutines: a UI or bot
// queues actions and reads snapshots while Run drives the turns.
type Participant struct {
	mu sync.Mutex
	r  *Replica

	// OnTurn, if set, is called from Run after every applied turn and before
	// the next submission is taken, so actions it requests go out with the
	// very next turn.
	OnTurn func(ca protocol.CollectedActions)

	log *log.Logger
}

// NewParticipant builds a participant from the state received when joining.
func NewParticipant(player int, gs protocol.GameState, logger *log.Logger) (*Participant, error) {
	st, err := state.FromSerializable(gs)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Participant{r: NewReplica(player, st), log: logger}, nil
}

// RequestAction queues a for the next submission. It has no effect on the
// local state until the scheduler hands it back.
func (p *Participant) RequestAction(a protocol.Action) {
	p.mu.Lock()
	p.r.Queue(a)
	p.mu.Unlock()
}

// Snapshot returns a copy of the current state that the caller may keep.
func (p *Participant) Snapshot() *state.State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.r.State().Clone()
}

func (p *Participant) Player() int { return p.r.Player() }

func (p *Participant) Turn() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.r.Turn()
}

// Run submits for the current turn and then applies every turn the link
// delivers until ctx is done or an error ends the game. Divergence and
// ordering failures come back as *DivergenceError and *OutOfOrderError.
func (p *Participant) Run(ctx context.Context, link Link) error {
	p.mu.Lock()
	pa := p.r.Take()
	p.mu.Unlock()

	for {
		if err := link.Submit(ctx, pa); err != nil {
			return err
		}
		ca, err := link.Recv(ctx)
		if err != nil {
			return err
		}

		p.mu.Lock()
		err = p.r.Step(ca)
		p.mu.Unlock()
		if err != nil {
			p.log.Printf("player=%d: %v", p.r.Player(), err)
			return err
		}
		if p.OnTurn != nil {
			p.OnTurn(ca)
		}

		p.mu.Lock()
		pa = p.r.Take()
		p.mu.Unlock()
	}
}
