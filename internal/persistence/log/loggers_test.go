package log

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"goopbattle/internal/protocol"
	"goopbattle/internal/scheduler"
)

func TestTurnLogger_RoundTripAcrossRotation(t *testing.T) {
	dir := t.TempDir()
	l := NewTurnLogger(dir)

	clock := time.Date(2024, 5, 1, 10, 59, 0, 0, time.UTC)
	l.w.now = func() time.Time { return clock }

	for turn := uint64(1); turn <= 6; turn++ {
		if turn == 4 {
			clock = clock.Add(2 * time.Minute)
		}
		e := scheduler.TurnLogEntry{
			Turn:     turn,
			Actions:  []protocol.Action{protocol.ToggleOutflow(0, 0, int(turn))},
			Checksum: turn * 1000,
		}
		if turn == 1 {
			e.Joins = []scheduler.RecordedJoin{{Player: 0, Name: "a"}}
		}
		if err := l.WriteTurn(e); err != nil {
			t.Fatalf("WriteTurn: %v", err)
		}
	}
	if err := l.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	files, err := TurnLogFiles(TurnDir(dir))
	if err != nil {
		t.Fatal(err)
	}
	if len(files) != 2 {
		t.Fatalf("files: %v", files)
	}
	if filepath.Base(files[0]) != "turns-2024-05-01-10.jsonl.zst" {
		t.Fatalf("first file: %s", files[0])
	}

	var got []scheduler.TurnLogEntry
	if err := ReadTurnLog(TurnDir(dir), func(e scheduler.TurnLogEntry) error {
		got = append(got, e)
		return nil
	}); err != nil {
		t.Fatalf("ReadTurnLog: %v", err)
	}
	if len(got) != 6 {
		t.Fatalf("entries: got %d", len(got))
	}
	for i, e := range got {
		if e.Turn != uint64(i+1) || e.Checksum != e.Turn*1000 || len(e.Actions) != 1 || e.Actions[0].To != int(e.Turn) {
			t.Fatalf("entry %d: %+v", i, e)
		}
	}
	if len(got[0].Joins) != 1 || got[0].Joins[0].Name != "a" {
		t.Fatalf("joins: %+v", got[0].Joins)
	}
}

func TestTurnLogger_AppendsToSameHour(t *testing.T) {
	dir := t.TempDir()
	clock := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	for turn := uint64(1); turn <= 2; turn++ {
		l := NewTurnLogger(dir)
		l.w.now = func() time.Time { return clock }
		if err := l.WriteTurn(scheduler.TurnLogEntry{Turn: turn}); err != nil {
			t.Fatal(err)
		}
		_ = l.Close()
	}

	n := 0
	if err := ReadTurnLog(TurnDir(dir), func(scheduler.TurnLogEntry) error { n++; return nil }); err != nil {
		t.Fatalf("ReadTurnLog: %v", err)
	}
	if n != 2 {
		t.Fatalf("entries after reopen: %d", n)
	}
}

func TestReadTurnLog_StopsOnCallbackError(t *testing.T) {
	dir := t.TempDir()
	l := NewTurnLogger(dir)
	for turn := uint64(1); turn <= 3; turn++ {
		_ = l.WriteTurn(scheduler.TurnLogEntry{Turn: turn})
	}
	_ = l.Close()

	stop := errors.New("stop")
	seen := 0
	err := ReadTurnLog(TurnDir(dir), func(scheduler.TurnLogEntry) error {
		seen++
		return stop
	})
	if !errors.Is(err, stop) || seen != 1 {
		t.Fatalf("err=%v seen=%d", err, seen)
	}
}

func TestTurnLogger_OnCloseReportsFinishedFiles(t *testing.T) {
	dir := t.TempDir()
	l := NewTurnLogger(dir)
	clock := time.Date(2024, 5, 1, 10, 30, 0, 0, time.UTC)
	l.w.now = func() time.Time { return clock }

	var closed []string
	l.SetOnClose(func(path string) { closed = append(closed, filepath.Base(path)) })

	_ = l.WriteTurn(scheduler.TurnLogEntry{Turn: 1})
	clock = clock.Add(time.Hour)
	_ = l.WriteTurn(scheduler.TurnLogEntry{Turn: 2})
	if len(closed) != 1 || closed[0] != "turns-2024-05-01-10.jsonl.zst" {
		t.Fatalf("after rotation: %v", closed)
	}
	if err := l.Close(); err != nil {
		t.Fatal(err)
	}
	if len(closed) != 2 || closed[1] != "turns-2024-05-01-11.jsonl.zst" {
		t.Fatalf("after close: %v", closed)
	}
}
