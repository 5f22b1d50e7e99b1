package ws

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"math"
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"goopbattle/internal/lockstep"
	"goopbattle/internal/protocol"
	"goopbattle/internal/scheduler"
)

const (
	handshakeTimeout = 5 * time.Second
	writeTimeout     = 5 * time.Second
	pongWait         = 60 * time.Second
	pingEvery        = 20 * time.Second

	// Per-IP limiters untouched this long are dropped, once their bucket
	// has also had time to refill (capped at maxLimiterIdle).
	limiterIdle    = 10 * time.Minute
	maxLimiterIdle = 24 * time.Hour
)

type ServerConfig struct {
	// ConfigDigest is echoed in WELCOME so clients can spot a mismatched
	// game config before the first checksum does.
	ConfigDigest string

	// Per remote IP; zero rate disables the limit.
	HandshakeRatePerSec float64
	HandshakeBurst      int
}

type Server struct {
	auth      lockstep.Authority
	cfg       ServerConfig
	log       *log.Logger
	validator *protocol.Validator

	upgrader websocket.Upgrader

	limMu     sync.Mutex
	limiters  map[string]*ipLimiter
	lastPrune time.Time
	now       func() time.Time

	sessions atomic.Int64
}

func NewServer(auth lockstep.Authority, cfg ServerConfig, logger *log.Logger) (*Server, error) {
	v, err := protocol.NewValidator()
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Server{
		auth:      auth,
		cfg:       cfg,
		log:       logger,
		validator: v,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  16 * 1024,
			WriteBufferSize: 16 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // dev default
		},
		limiters: map[string]*ipLimiter{},
		now:      time.Now,
	}, nil
}

type ipLimiter struct {
	lim  *rate.Limiter
	seen time.Time
}

// Sessions is the number of seated websocket players.
func (s *Server) Sessions() int64 { return s.sessions.Load() }

func (s *Server) allow(remoteAddr string) bool {
	if s.cfg.HandshakeRatePerSec <= 0 {
		return true
	}
	ip := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		ip = h
	}
	now := s.now()
	s.limMu.Lock()
	defer s.limMu.Unlock()
	s.pruneLocked(now)
	l, ok := s.limiters[ip]
	if !ok {
		l = &ipLimiter{lim: rate.NewLimiter(rate.Limit(s.cfg.HandshakeRatePerSec), s.burst())}
		s.limiters[ip] = l
	}
	l.seen = now
	return l.lim.AllowN(now, 1)
}

func (s *Server) burst() int {
	if s.cfg.HandshakeBurst < 1 {
		return 1
	}
	return s.cfg.HandshakeBurst
}

// pruneLocked drops limiters that would be indistinguishable from a fresh
// one: idle for limiterIdle and long enough to refill the whole burst.
func (s *Server) pruneLocked(now time.Time) {
	idle := limiterIdle
	if refill := float64(s.burst()) / s.cfg.HandshakeRatePerSec; refill > idle.Seconds() {
		idle = time.Duration(math.Min(refill, maxLimiterIdle.Seconds()) * float64(time.Second))
	}
	if now.Sub(s.lastPrune) < idle {
		return
	}
	s.lastPrune = now
	for ip, l := range s.limiters {
		if now.Sub(l.seen) >= idle {
			delete(s.limiters, ip)
		}
	}
}

func (s *Server) Handler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if !s.allow(r.RemoteAddr) {
			http.Error(rw, protocol.ErrRateLimit, http.StatusTooManyRequests)
			return
		}
		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		player, sessionID, ok := s.handshake(conn)
		if !ok {
			return
		}
		s.sessions.Add(1)
		defer s.sessions.Add(-1)
		defer s.auth.Leave(player)

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()

		out := make(chan []byte, 4)

		// Writer goroutine; the only writer once the handshake is done.
		writerDone := make(chan struct{})
		go func() {
			defer close(writerDone)
			ping := time.NewTicker(pingEvery)
			defer ping.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ping.C:
					if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout)); err != nil {
						cancel()
						return
					}
				case b := <-out:
					_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
					if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
						cancel()
						return
					}
					if isError(b) {
						// A protocol violation ends the session once the
						// client has been told why.
						_ = conn.WriteControl(websocket.CloseMessage,
							websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "protocol error"),
							time.Now().Add(time.Second))
						cancel()
						return
					}
				}
			}
		}()

		send := func(v any) {
			b, err := json.Marshal(v)
			if err != nil {
				return
			}
			select {
			case out <- b:
			case <-ctx.Done():
			}
		}
		failed := false
		fail := func(code, msg string) {
			failed = true
			s.log.Printf("session=%s player=%d: %s %s", sessionID, player, code, msg)
			send(protocol.NewError(code, msg))
		}

		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pongWait))
		})

		// Reader loop.
		for ctx.Err() == nil {
			_ = conn.SetReadDeadline(time.Now().Add(pongWait))
			_, msg, err := conn.ReadMessage()
			if err != nil {
				break
			}
			pa, code, detail := s.decodeActions(msg)
			if code != "" {
				fail(code, detail)
				break
			}
			if pa.Player != player {
				fail(protocol.ErrUnknownPlayer, "player does not match session")
				break
			}

			reply := make(chan protocol.CollectedActions, 1)
			if err := s.auth.Submit(pa, reply); err != nil {
				fail(submitErrorCode(err), err.Error())
				break
			}
			go func() {
				ca, ok := <-reply
				if !ok {
					return
				}
				send(protocol.NewTurn(ca))
			}()
		}

		if failed {
			// Let the writer flush the ERROR before tearing down.
			select {
			case <-writerDone:
			case <-time.After(writeTimeout):
			}
		}
		cancel()
		<-writerDone
	}
}

func (s *Server) handshake(conn *websocket.Conn) (player int, sessionID string, ok bool) {
	_ = conn.SetReadDeadline(time.Now().Add(handshakeTimeout))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		return 0, "", false
	}

	reject := func(code, reason string) {
		_ = writeJSON(conn, protocol.NewError(code, reason))
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, reason), time.Now().Add(time.Second))
	}

	base, err := protocol.DecodeBase(msg)
	if err != nil || base.Type != protocol.TypeJoin {
		reject(protocol.ErrProtoBadRequest, "expected JOIN")
		return 0, "", false
	}
	if base.ProtocolVersion != protocol.Version {
		reject(protocol.ErrProtoVersion, "bad protocol_version")
		return 0, "", false
	}
	if err := s.validator.Validate(protocol.TypeJoin, msg); err != nil {
		reject(protocol.ErrProtoBadRequest, err.Error())
		return 0, "", false
	}
	var join protocol.JoinMsg
	if err := json.Unmarshal(msg, &join); err != nil {
		reject(protocol.ErrProtoBadRequest, "bad JOIN")
		return 0, "", false
	}
	name := strings.TrimSpace(join.PlayerName)
	if name == "" {
		name = "player"
	}

	player, gs, err := s.auth.Join(name)
	if errors.Is(err, scheduler.ErrGameFull) {
		_ = writeJSON(conn, protocol.NewGameFull())
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "game full"), time.Now().Add(time.Second))
		return 0, "", false
	}
	if err != nil {
		reject(protocol.ErrInternal, err.Error())
		return 0, "", false
	}

	sessionID = uuid.NewString()
	welcome := protocol.WelcomeMsg{
		Type:            protocol.TypeWelcome,
		ProtocolVersion: protocol.Version,
		Player:          player,
		SessionID:       sessionID,
		ConfigDigest:    s.cfg.ConfigDigest,
		State:           gs,
	}
	if err := writeJSON(conn, welcome); err != nil {
		s.auth.Leave(player)
		return 0, "", false
	}
	s.log.Printf("session=%s player=%d name=%q joined at turn=%d", sessionID, player, name, gs.Turn)
	return player, sessionID, true
}

// decodeActions returns the submission in msg, or an error code and detail.
func (s *Server) decodeActions(msg []byte) (protocol.PlayerActions, string, string) {
	base, err := protocol.DecodeBase(msg)
	if err != nil {
		return protocol.PlayerActions{}, protocol.ErrProtoBadRequest, "malformed message"
	}
	if base.Type != protocol.TypeActions {
		return protocol.PlayerActions{}, protocol.ErrProtoBadRequest, "expected ACTIONS, got " + base.Type
	}
	if base.ProtocolVersion != protocol.Version {
		return protocol.PlayerActions{}, protocol.ErrProtoVersion, "bad protocol_version"
	}
	if err := s.validator.Validate(protocol.TypeActions, msg); err != nil {
		return protocol.PlayerActions{}, protocol.ErrProtoBadRequest, err.Error()
	}
	var am protocol.ActionsMsg
	if err := json.Unmarshal(msg, &am); err != nil {
		return protocol.PlayerActions{}, protocol.ErrProtoBadRequest, err.Error()
	}
	return am.PlayerActions, "", ""
}

func submitErrorCode(err error) string {
	switch {
	case errors.Is(err, scheduler.ErrTurnMismatch):
		return protocol.ErrTurnMismatch
	case errors.Is(err, scheduler.ErrDuplicateSubmission):
		return protocol.ErrDuplicate
	case errors.Is(err, scheduler.ErrUnknownPlayer):
		return protocol.ErrUnknownPlayer
	case errors.Is(err, scheduler.ErrTooManyActions):
		return protocol.ErrProtoBadRequest
	default:
		return protocol.ErrInternal
	}
}

func isError(b []byte) bool {
	base, err := protocol.DecodeBase(b)
	return err == nil && base.Type == protocol.TypeError
}

func writeJSON(conn *websocket.Conn, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return conn.WriteMessage(websocket.TextMessage, b)
}
