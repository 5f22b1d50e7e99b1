// Package observer streams turns to read-only spectators. A spectator gets
// the full state once, then every TURN the players get, and can replay them
// locally to follow the game.
package observer

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"goopbattle/internal/protocol"
)

const (
	writeTimeout = 5 * time.Second
	turnBuffer   = 256
)

// Source is the part of the scheduler a spectator needs.
type Source interface {
	Watch(buf int) (int, <-chan protocol.CollectedActions, protocol.GameState)
	Unwatch(id int)
}

type Config struct {
	// AllowRemote accepts spectators from non-loopback addresses.
	AllowRemote bool
}

type Server struct {
	src       Source
	cfg       Config
	log       *log.Logger
	validator *protocol.Validator

	upgrader websocket.Upgrader
	nextID   atomic.Uint64
	watching atomic.Int64
}

func NewServer(src Source, cfg Config, logger *log.Logger) (*Server, error) {
	v, err := protocol.NewValidator()
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Server{
		src:       src,
		cfg:       cfg,
		log:       logger,
		validator: v,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // dev default
		},
	}, nil
}

// Watching returns the number of connected spectators.
func (s *Server) Watching() int64 { return s.watching.Load() }

func (s *Server) WSHandler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if !s.cfg.AllowRemote && !isLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}

		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		// Handshake: must send WATCH first.
		_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		base, err := protocol.DecodeBase(msg)
		if err != nil || base.Type != protocol.TypeWatch || base.ProtocolVersion != protocol.Version {
			closeWith(conn, websocket.ClosePolicyViolation, "expected WATCH")
			return
		}
		if err := s.validator.Validate(protocol.TypeWatch, msg); err != nil {
			closeWith(conn, websocket.ClosePolicyViolation, "bad WATCH")
			return
		}

		sid := fmt.Sprintf("S%d", s.nextID.Add(1))
		id, turns, gs := s.src.Watch(turnBuffer)
		defer s.src.Unwatch(id)
		if err := writeJSON(conn, protocol.NewSpectate(sid, gs)); err != nil {
			return
		}
		s.watching.Add(1)
		defer s.watching.Add(-1)
		s.log.Printf("spectator %s watching from turn=%d", sid, gs.Turn)

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		// Writer goroutine.
		writeErr := make(chan error, 1)
		go func() {
			for {
				select {
				case <-ctx.Done():
					writeErr <- ctx.Err()
					return
				case ca, ok := <-turns:
					if !ok {
						closeWith(conn, websocket.CloseTryAgainLater, "too far behind")
						writeErr <- nil
						return
					}
					if err := writeJSON(conn, protocol.NewTurn(ca)); err != nil {
						writeErr <- err
						return
					}
				}
			}
		}()

		// Spectators have nothing to say; the reader only notices when they go.
		for {
			_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
			if _, _, err := conn.ReadMessage(); err != nil {
				break
			}
		}

		cancel()
		closeWith(conn, websocket.CloseNormalClosure, "bye")

		// Best-effort wait for the writer to stop so it doesn't outlive conn.
		select {
		case <-writeErr:
		case <-time.After(500 * time.Millisecond):
		}
		s.log.Printf("spectator %s left", sid)
	}
}

func writeJSON(conn *websocket.Conn, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return conn.WriteMessage(websocket.TextMessage, b)
}

func closeWith(conn *websocket.Conn, code int, reason string) {
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(time.Second))
}

func isLoopbackRemote(remoteAddr string) bool {
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	host = strings.TrimPrefix(host, "[")
	host = strings.TrimSuffix(host, "]")
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
