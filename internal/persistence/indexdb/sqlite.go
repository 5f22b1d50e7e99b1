package indexdb

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"goopbattle/internal/config"
	"goopbattle/internal/persistence/snapshot"
	"goopbattle/internal/scheduler"
)

// SQLiteIndex is a queryable copy of the turn log. Writes are queued to a
// single goroutine and dropped when the queue is full; the JSONL turn logs
// stay the source of truth.
type SQLiteIndex struct {
	db *sql.DB

	ch   chan req
	wg   sync.WaitGroup
	once sync.Once

	closed atomic.Bool

	dropTurn     atomic.Uint64
	dropSnapshot atomic.Uint64
}

type reqKind int

const (
	reqTurn reqKind = iota + 1
	reqSnapshot
)

type req struct {
	kind reqKind

	turn     scheduler.TurnLogEntry
	snapshot snapshotRow
}

type snapshotRow struct {
	Turn     uint64
	Path     string
	Checksum uint64
	Claimed  int
	Goop     []int
}

type Stats struct {
	QueueDepth        int    `json:"queue_depth"`
	QueueCapacity     int    `json:"queue_capacity"`
	DropTurnTotal     uint64 `json:"drop_turn_total"`
	DropSnapshotTotal uint64 `json:"drop_snapshot_total"`
}

func OpenSQLite(path string) (*SQLiteIndex, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &SQLiteIndex{db: db, ch: make(chan req, 65536)}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop()
	}()
	return s, nil
}

func initPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS config (
			digest TEXT PRIMARY KEY,
			json TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS turns (
			turn INTEGER PRIMARY KEY,
			checksum TEXT NOT NULL,
			joins INTEGER NOT NULL,
			leaves INTEGER NOT NULL,
			actions INTEGER NOT NULL,
			raw_json TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS joins (
			turn INTEGER NOT NULL,
			player INTEGER NOT NULL,
			name TEXT NOT NULL,
			PRIMARY KEY (turn, player)
		);`,
		`CREATE TABLE IF NOT EXISTS leaves (
			turn INTEGER NOT NULL,
			player INTEGER NOT NULL,
			PRIMARY KEY (turn, player)
		);`,
		`CREATE TABLE IF NOT EXISTS actions (
			turn INTEGER NOT NULL,
			seq INTEGER NOT NULL,
			player INTEGER NOT NULL,
			kind TEXT NOT NULL,
			from_node INTEGER NOT NULL,
			to_node INTEGER NOT NULL,
			PRIMARY KEY (turn, seq)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_actions_player_turn ON actions(player, turn);`,
		`CREATE TABLE IF NOT EXISTS snapshots (
			turn INTEGER PRIMARY KEY,
			path TEXT NOT NULL,
			checksum TEXT NOT NULL,
			claimed INTEGER NOT NULL,
			goop_json TEXT NOT NULL
		);`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

// FormatChecksum renders a checksum the way the index stores it.
func FormatChecksum(sum uint64) string { return fmt.Sprintf("%016x", sum) }

func (s *SQLiteIndex) Close() error {
	var err error
	s.once.Do(func() {
		s.closed.Store(true)
		close(s.ch)
		s.wg.Wait()
		err = s.db.Close()
	})
	return err
}

func (s *SQLiteIndex) Stats() Stats {
	return Stats{
		QueueDepth:        len(s.ch),
		QueueCapacity:     cap(s.ch),
		DropTurnTotal:     s.dropTurn.Load(),
		DropSnapshotTotal: s.dropSnapshot.Load(),
	}
}

func (s *SQLiteIndex) WriteTurn(entry scheduler.TurnLogEntry) error {
	if s == nil || s.closed.Load() {
		return nil
	}
	select {
	case s.ch <- req{kind: reqTurn, turn: entry}:
	default:
		s.dropTurn.Add(1)
	}
	return nil
}

func (s *SQLiteIndex) RecordSnapshot(path string, snap snapshot.SnapshotV1) {
	if s == nil || s.closed.Load() {
		return
	}
	r := snapshotRow{
		Turn:     snap.Header.Turn,
		Path:     path,
		Checksum: snap.Header.Checksum,
		Goop:     make([]int, len(snap.Sources)),
	}
	for _, n := range snap.Nodes {
		if !n.Present {
			continue
		}
		r.Claimed++
		if n.Player >= 0 && n.Player < len(r.Goop) {
			r.Goop[n.Player] += n.Goop
		}
	}
	select {
	case s.ch <- req{kind: reqSnapshot, snapshot: r}:
	default:
		s.dropSnapshot.Add(1)
	}
}

// UpsertConfig stores the effective game config, keyed by its digest. Call it
// before the first WriteTurn; the writer goroutine holds the only connection
// inside an open transaction between commits.
func (s *SQLiteIndex) UpsertConfig(cfg config.Config) error {
	if s == nil {
		return nil
	}
	b, err := json.Marshal(cfg)
	if err != nil {
		return err
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)

	tx, err := s.db.BeginTx(context.Background(), nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`INSERT OR REPLACE INTO meta(key,value) VALUES('schema_version','1')`); err != nil {
		return err
	}
	if _, err := tx.Exec(`INSERT OR REPLACE INTO meta(key,value) VALUES('config_digest',?)`, cfg.Digest()); err != nil {
		return err
	}
	if _, err := tx.Exec(`INSERT OR REPLACE INTO config(digest,json,updated_at) VALUES(?,?,?)`, cfg.Digest(), string(b), now); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *SQLiteIndex) loop() {
	ctx := context.Background()

	insertTurn, _ := s.db.Prepare(`INSERT OR REPLACE INTO turns(turn,checksum,joins,leaves,actions,raw_json) VALUES(?,?,?,?,?,?)`)
	insertJoin, _ := s.db.Prepare(`INSERT OR REPLACE INTO joins(turn,player,name) VALUES(?,?,?)`)
	insertLeave, _ := s.db.Prepare(`INSERT OR REPLACE INTO leaves(turn,player) VALUES(?,?)`)
	insertAction, _ := s.db.Prepare(`INSERT OR REPLACE INTO actions(turn,seq,player,kind,from_node,to_node) VALUES(?,?,?,?,?,?)`)
	insertSnapshot, _ := s.db.Prepare(`INSERT OR REPLACE INTO snapshots(turn,path,checksum,claimed,goop_json) VALUES(?,?,?,?,?)`)
	defer func() {
		for _, st := range []*sql.Stmt{insertTurn, insertJoin, insertLeave, insertAction, insertSnapshot} {
			if st != nil {
				_ = st.Close()
			}
		}
	}()

	var (
		tx            *sql.Tx
		opCount       int
		lastCommit    = time.Now()
		commitEvery   = 2000
		commitMaxWait = 2 * time.Second
	)

	begin := func() {
		if tx != nil {
			return
		}
		txx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			time.Sleep(50 * time.Millisecond)
			return
		}
		tx = txx
		opCount = 0
		lastCommit = time.Now()
	}
	commit := func() {
		if tx == nil {
			return
		}
		_ = tx.Commit()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}
	rollback := func() {
		if tx == nil {
			return
		}
		_ = tx.Rollback()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}
	exec := func(st *sql.Stmt, args ...any) bool {
		if st == nil || tx == nil {
			return false
		}
		if _, err := tx.Stmt(st).Exec(args...); err != nil {
			rollback()
			return false
		}
		opCount++
		return true
	}

	for r := range s.ch {
		begin()
		if tx == nil {
			continue
		}
		switch r.kind {
		case reqTurn:
			e := r.turn
			turn := int64(e.Turn)
			raw, _ := json.Marshal(e)
			if !exec(insertTurn, turn, FormatChecksum(e.Checksum), len(e.Joins), len(e.Leaves), len(e.Actions), string(raw)) {
				continue
			}
			ok := true
			for _, j := range e.Joins {
				if ok = exec(insertJoin, turn, j.Player, j.Name); !ok {
					break
				}
			}
			for _, p := range e.Leaves {
				if !ok {
					break
				}
				ok = exec(insertLeave, turn, p)
			}
			for i, a := range e.Actions {
				if !ok {
					break
				}
				ok = exec(insertAction, turn, i, a.Player, a.Kind, a.From, a.To)
			}

		case reqSnapshot:
			sn := r.snapshot
			goop, _ := json.Marshal(sn.Goop)
			exec(insertSnapshot, int64(sn.Turn), sn.Path, FormatChecksum(sn.Checksum), sn.Claimed, string(goop))
		}
		if tx != nil && (opCount >= commitEvery || time.Since(lastCommit) >= commitMaxWait) {
			commit()
		}
	}

	commit()
}

// ParseChecksum is the inverse of FormatChecksum.
func ParseChecksum(s string) (uint64, error) { return strconv.ParseUint(s, 16, 64) }
