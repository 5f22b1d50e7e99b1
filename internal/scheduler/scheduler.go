// Package scheduler is the server-side turn barrier. It collects one
// PlayerActions per joined player for the current turn, applies them in
// player order to the authoritative state, advances it, and hands every
// player the same CollectedActions.
package scheduler

import (
	"errors"
	"fmt"
	"io"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"goopbattle/internal/protocol"
	"goopbattle/internal/sim/state"
)

var (
	ErrGameFull            = errors.New("scheduler: game full")
	ErrUnknownPlayer       = errors.New("scheduler: unknown player")
	ErrTurnMismatch        = errors.New("scheduler: turn mismatch")
	ErrDuplicateSubmission = errors.New("scheduler: duplicate submission")
	ErrTooManyActions      = errors.New("scheduler: too many actions")
	ErrNoReply             = errors.New("scheduler: reply channel must be buffered")
)

type Config struct {
	// MinTurnInterval is the shortest time allowed between two broadcasts.
	MinTurnInterval time.Duration
	// MaxActionsPerTurn caps one player's submission. Zero means no cap.
	MaxActionsPerTurn int
	// SnapshotEvery sends the state to the snapshot sink every N turns.
	// Zero disables snapshots.
	SnapshotEvery uint64

	Logger *log.Logger
}

type RecordedJoin struct {
	Player int    `json:"player"`
	Name   string `json:"name,omitempty"`
}

// TurnLogEntry is everything needed to replay one turn: the actions in the
// order they were applied, and the checksum of the resulting state.
type TurnLogEntry struct {
	Turn     uint64            `json:"turn"`
	Joins    []RecordedJoin    `json:"joins,omitempty"`
	Leaves   []int             `json:"leaves,omitempty"`
	Actions  []protocol.Action `json:"actions,omitempty"`
	Checksum uint64            `json:"checksum"`
}

type TurnLogger interface {
	WriteTurn(entry TurnLogEntry) error
}

type seat struct {
	name      string
	left      bool
	submitted bool
	actions   []protocol.Action
	reply     chan<- protocol.CollectedActions
}

// Scheduler owns the authoritative game state. All methods are safe for
// concurrent use.
type Scheduler struct {
	cfg Config
	log *log.Logger

	mu            sync.Mutex
	state         *state.State
	seats         []*seat
	lastBroadcast time.Time
	joins         []RecordedJoin
	leaves        []int
	turnsRun      uint64
	lastStep      time.Duration

	// Optional (may be nil).
	turnLogger   TurnLogger
	snapshotSink chan<- protocol.GameState

	watchers    map[int]chan protocol.CollectedActions
	nextWatcher int

	turn    atomic.Uint64
	metrics atomic.Value
}

// New takes ownership of initial. The scheduler resumes from whatever turn
// initial is at; seats always start empty.
func New(initial *state.State, cfg Config) *Scheduler {
	logger := cfg.Logger
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	s := &Scheduler{
		cfg:   cfg,
		log:   logger,
		state: initial,
	}
	s.turn.Store(initial.Turn())
	s.publishMetricsLocked()
	return s
}

func (s *Scheduler) SetTurnLogger(l TurnLogger) {
	s.mu.Lock()
	s.turnLogger = l
	s.mu.Unlock()
}

// SetSnapshotSink registers a channel that receives the state every
// SnapshotEvery turns. Sends never block; a full channel drops the snapshot.
func (s *Scheduler) SetSnapshotSink(ch chan<- protocol.GameState) {
	s.mu.Lock()
	s.snapshotSink = ch
	s.mu.Unlock()
}

// Join seats a new player and returns its id with the current full state.
// Ids are handed out in order and never reused, so a game seats at most one
// player per source over its lifetime.
func (s *Scheduler) Join(name string) (int, protocol.GameState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.seats) >= s.state.Map().Players() {
		return 0, protocol.GameState{}, ErrGameFull
	}
	player := len(s.seats)
	s.seats = append(s.seats, &seat{name: name})
	s.joins = append(s.joins, RecordedJoin{Player: player, Name: name})
	s.log.Printf("join player=%d name=%q turn=%d", player, name, s.state.Turn())
	s.publishMetricsLocked()
	return player, s.state.Serializable(), nil
}

// Leave releases a player's seat. Its pending submission, if any, is dropped
// and its reply channel closed. The barrier is re-checked so the remaining
// players are not held up.
func (s *Scheduler) Leave(player int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if player < 0 || player >= len(s.seats) || s.seats[player].left {
		return
	}
	st := s.seats[player]
	st.left = true
	if st.reply != nil {
		close(st.reply)
	}
	st.submitted, st.actions, st.reply = false, nil, nil
	s.leaves = append(s.leaves, player)
	s.log.Printf("leave player=%d turn=%d", player, s.state.Turn())

	if s.readyLocked() {
		s.completeLocked()
		return
	}
	s.publishMetricsLocked()
}

// Submit records pa as pa.Player's actions for the current turn. reply must
// be buffered; it receives exactly one CollectedActions once every seated
// player has submitted. The value is shared between all players and must not
// be mutated.
//
// Actions that could not be valid for pa.Player (another player's id, nodes
// off the board, non-adjacent edges, unknown kinds) are dropped here and never
// reach the broadcast.
func (s *Scheduler) Submit(pa protocol.PlayerActions, reply chan<- protocol.CollectedActions) error {
	if reply == nil || cap(reply) < 1 {
		return ErrNoReply
	}
	if s.cfg.MaxActionsPerTurn > 0 && len(pa.Actions) > s.cfg.MaxActionsPerTurn {
		return fmt.Errorf("%w: %d > %d", ErrTooManyActions, len(pa.Actions), s.cfg.MaxActionsPerTurn)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if pa.Player < 0 || pa.Player >= len(s.seats) || s.seats[pa.Player].left {
		return fmt.Errorf("%w: %d", ErrUnknownPlayer, pa.Player)
	}
	if cur := s.state.Turn(); pa.Turn != cur {
		return fmt.Errorf("%w: got %d want %d", ErrTurnMismatch, pa.Turn, cur)
	}
	st := s.seats[pa.Player]
	if st.submitted {
		return fmt.Errorf("%w: player %d turn %d", ErrDuplicateSubmission, pa.Player, pa.Turn)
	}

	st.submitted = true
	st.actions = s.filterLocked(pa)
	st.reply = reply

	if s.readyLocked() {
		s.completeLocked()
		return nil
	}
	s.publishMetricsLocked()
	return nil
}

func (s *Scheduler) filterLocked(pa protocol.PlayerActions) []protocol.Action {
	m := s.state.Map()
	out := make([]protocol.Action, 0, len(pa.Actions))
	for _, a := range pa.Actions {
		if a.Kind != protocol.ActionToggleOutflow || a.Player != pa.Player || !m.IsNeighbor(a.From, a.To) {
			continue
		}
		out = append(out, a)
	}
	if dropped := len(pa.Actions) - len(out); dropped > 0 {
		s.log.Printf("dropped %d invalid actions from player=%d turn=%d", dropped, pa.Player, pa.Turn)
	}
	return out
}

func (s *Scheduler) readyLocked() bool {
	active := 0
	for _, st := range s.seats {
		if st.left {
			continue
		}
		if !st.submitted {
			return false
		}
		active++
	}
	return active > 0
}

// completeLocked runs one turn. The lock stays held through the minimum
// interval sleep; every seated player is already waiting on this barrier.
func (s *Scheduler) completeLocked() {
	if !s.lastBroadcast.IsZero() && s.cfg.MinTurnInterval > 0 {
		if wait := s.cfg.MinTurnInterval - time.Since(s.lastBroadcast); wait > 0 {
			time.Sleep(wait)
		}
	}
	start := time.Now()

	actions := []protocol.Action{}
	for _, st := range s.seats {
		if st.left || !st.submitted {
			continue
		}
		actions = append(actions, st.actions...)
	}
	for _, a := range actions {
		s.state.TakeAction(a)
	}
	s.state.Advance()

	ca := protocol.CollectedActions{
		Turn:          s.state.Turn(),
		Actions:       actions,
		StateChecksum: s.state.Checksum(),
	}
	for player, st := range s.seats {
		if st.reply != nil {
			select {
			case st.reply <- ca:
			default:
				s.log.Printf("reply channel full for player=%d turn=%d", player, ca.Turn)
			}
		}
		st.submitted, st.actions, st.reply = false, nil, nil
	}
	s.fanOutLocked(ca)
	s.lastBroadcast = time.Now()
	s.turn.Store(ca.Turn)

	if s.turnLogger != nil {
		entry := TurnLogEntry{
			Turn:     ca.Turn,
			Joins:    s.joins,
			Leaves:   s.leaves,
			Actions:  actions,
			Checksum: ca.StateChecksum,
		}
		if err := s.turnLogger.WriteTurn(entry); err != nil {
			s.log.Printf("turn log: %v", err)
		}
	}
	s.joins, s.leaves = nil, nil

	if s.snapshotSink != nil && s.cfg.SnapshotEvery > 0 && ca.Turn%s.cfg.SnapshotEvery == 0 {
		select {
		case s.snapshotSink <- s.state.Serializable():
		default:
			s.log.Printf("snapshot sink full; skipped turn=%d", ca.Turn)
		}
	}

	s.turnsRun++
	s.lastStep = time.Since(start)
	s.publishMetricsLocked()
}

// Turn returns the current turn number, which is also the turn every seated
// player must submit for next.
func (s *Scheduler) Turn() uint64 { return s.turn.Load() }

// Snapshot returns a deep copy of the authoritative state.
func (s *Scheduler) Snapshot() *state.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Clone()
}
