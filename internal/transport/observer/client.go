package observer

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gorilla/websocket"

	"goopbattle/internal/protocol"
)

// Stream is a spectator connection.
type Stream struct {
	conn *websocket.Conn
}

// Dial connects, sends WATCH and waits for SPECTATE.
func Dial(ctx context.Context, url string) (*Stream, protocol.SpectateMsg, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, protocol.SpectateMsg{}, err
	}
	fail := func(err error) (*Stream, protocol.SpectateMsg, error) {
		_ = conn.Close()
		return nil, protocol.SpectateMsg{}, err
	}
	if err := conn.WriteJSON(protocol.NewWatch()); err != nil {
		return fail(err)
	}
	if dl, ok := ctx.Deadline(); ok {
		_ = conn.SetReadDeadline(dl)
	} else {
		_ = conn.SetReadDeadline(time.Now().Add(10 * time.Second))
	}
	_, msg, err := conn.ReadMessage()
	if err != nil {
		return fail(err)
	}
	_ = conn.SetReadDeadline(time.Time{})

	var sp protocol.SpectateMsg
	if err := json.Unmarshal(msg, &sp); err != nil {
		return fail(err)
	}
	if sp.Type != protocol.TypeSpectate {
		return fail(fmt.Errorf("observer: unexpected %s during handshake", sp.Type))
	}
	return &Stream{conn: conn}, sp, nil
}

// Next blocks for the next TURN. It returns an error once the server drops
// the spectator.
func (s *Stream) Next(ctx context.Context) (protocol.CollectedActions, error) {
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			_ = s.conn.SetReadDeadline(time.Now())
		case <-stop:
		}
	}()

	for {
		_, msg, err := s.conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return protocol.CollectedActions{}, ctx.Err()
			}
			return protocol.CollectedActions{}, err
		}
		var tm protocol.TurnMsg
		if err := json.Unmarshal(msg, &tm); err != nil {
			return protocol.CollectedActions{}, err
		}
		if tm.Type == protocol.TypeTurn {
			return tm.CollectedActions, nil
		}
	}
}

func (s *Stream) Close() error { return s.conn.Close() }
