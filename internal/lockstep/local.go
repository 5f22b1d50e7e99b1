package lockstep

import (
	"context"
	"errors"
	"log"

	"goopbattle/internal/protocol"
)

// ErrSeatReleased is returned by LocalLink.Recv when the scheduler dropped
// the player before its turn completed.
var ErrSeatReleased = errors.New("lockstep: seat released")

// Authority is the scheduler as seen by an in-process player.
type Authority interface {
	Join(name string) (int, protocol.GameState, error)
	Submit(pa protocol.PlayerActions, reply chan<- protocol.CollectedActions) error
	Leave(player int)
}

// LocalLink talks to a scheduler in the same process. Each Submit gets a
// fresh one-shot reply channel.
type LocalLink struct {
	auth   Authority
	player int
	reply  chan protocol.CollectedActions
}

func NewLocalLink(auth Authority, player int) *LocalLink {
	return &LocalLink{auth: auth, player: player}
}

func (l *LocalLink) Submit(ctx context.Context, pa protocol.PlayerActions) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	ch := make(chan protocol.CollectedActions, 1)
	if err := l.auth.Submit(pa, ch); err != nil {
		return err
	}
	l.reply = ch
	return nil
}

func (l *LocalLink) Recv(ctx context.Context) (protocol.CollectedActions, error) {
	if l.reply == nil {
		return protocol.CollectedActions{}, errors.New("lockstep: recv without submit")
	}
	select {
	case <-ctx.Done():
		return protocol.CollectedActions{}, ctx.Err()
	case ca, ok := <-l.reply:
		l.reply = nil
		if !ok {
			return protocol.CollectedActions{}, ErrSeatReleased
		}
		return ca, nil
	}
}

// Close gives the seat back to the scheduler.
func (l *LocalLink) Close() error {
	l.auth.Leave(l.player)
	return nil
}

// NewHost seats an in-process player, as the server does for its own player.
func NewHost(auth Authority, name string, logger *log.Logger) (*Participant, *LocalLink, error) {
	player, gs, err := auth.Join(name)
	if err != nil {
		return nil, nil, err
	}
	p, err := NewParticipant(player, gs, logger)
	if err != nil {
		auth.Leave(player)
		return nil, nil, err
	}
	return p, NewLocalLink(auth, player), nil
}
