package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"goopbattle/internal/protocol"
)

// ErrGameFull is returned by Dial when every seat is taken.
var ErrGameFull = errors.New("ws: game full")

// ClientLink is a lockstep.Link over a websocket connection to the server.
type ClientLink struct {
	conn   *websocket.Conn
	player int

	wmu sync.Mutex
}

// Dial connects, sends JOIN and waits for the WELCOME.
func Dial(ctx context.Context, url, name string) (*ClientLink, protocol.WelcomeMsg, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, protocol.WelcomeMsg{}, err
	}
	fail := func(err error) (*ClientLink, protocol.WelcomeMsg, error) {
		_ = conn.Close()
		return nil, protocol.WelcomeMsg{}, err
	}

	if err := conn.WriteJSON(protocol.NewJoin(name)); err != nil {
		return fail(err)
	}
	if dl, ok := ctx.Deadline(); ok {
		_ = conn.SetReadDeadline(dl)
	} else {
		_ = conn.SetReadDeadline(time.Now().Add(handshakeTimeout * 2))
	}
	_, msg, err := conn.ReadMessage()
	if err != nil {
		return fail(err)
	}
	_ = conn.SetReadDeadline(time.Time{})

	base, err := protocol.DecodeBase(msg)
	if err != nil {
		return fail(err)
	}
	switch base.Type {
	case protocol.TypeWelcome:
		var w protocol.WelcomeMsg
		if err := json.Unmarshal(msg, &w); err != nil {
			return fail(err)
		}
		if w.ProtocolVersion != protocol.Version {
			return fail(&protocol.Error{Code: protocol.ErrProtoVersion, Message: w.ProtocolVersion})
		}
		return &ClientLink{conn: conn, player: w.Player}, w, nil
	case protocol.TypeGameFull:
		return fail(ErrGameFull)
	case protocol.TypeError:
		return fail(decodeError(msg))
	default:
		return fail(fmt.Errorf("ws: unexpected %s during handshake", base.Type))
	}
}

func (c *ClientLink) Player() int { return c.player }

func (c *ClientLink) Submit(ctx context.Context, pa protocol.PlayerActions) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.wmu.Lock()
	defer c.wmu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.conn.WriteJSON(protocol.NewActions(pa))
}

// Recv blocks until the next TURN. An ERROR from the server comes back as
// *protocol.Error.
func (c *ClientLink) Recv(ctx context.Context) (protocol.CollectedActions, error) {
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			// Unblocks ReadMessage.
			_ = c.conn.SetReadDeadline(time.Now())
		case <-stop:
		}
	}()

	for {
		_, msg, err := c.conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return protocol.CollectedActions{}, ctx.Err()
			}
			return protocol.CollectedActions{}, err
		}
		base, err := protocol.DecodeBase(msg)
		if err != nil {
			return protocol.CollectedActions{}, err
		}
		switch base.Type {
		case protocol.TypeTurn:
			var tm protocol.TurnMsg
			if err := json.Unmarshal(msg, &tm); err != nil {
				return protocol.CollectedActions{}, err
			}
			return tm.CollectedActions, nil
		case protocol.TypeError:
			return protocol.CollectedActions{}, decodeError(msg)
		default:
			// Unknown server messages are ignored.
		}
	}
}

func (c *ClientLink) Close() error {
	c.wmu.Lock()
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	c.wmu.Unlock()
	return c.conn.Close()
}

func decodeError(msg []byte) error {
	var em protocol.ErrorMsg
	if err := json.Unmarshal(msg, &em); err != nil {
		return err
	}
	return &protocol.Error{Code: em.Code, Message: em.Message}
}
