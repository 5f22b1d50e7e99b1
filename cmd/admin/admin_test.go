package main

import (
	"database/sql"
	"path/filepath"
	"testing"

	"goopbattle/internal/config"
	"goopbattle/internal/persistence/indexdb"
	persistlog "goopbattle/internal/persistence/log"
	"goopbattle/internal/persistence/snapshot"
	"goopbattle/internal/protocol"
	"goopbattle/internal/scheduler"
)

// playGame runs turns through a scheduler with a turn log under gameDir and
// a snapshot after snapAt. It returns the checksum after every turn.
func playGame(t *testing.T, gameDir string, turns int, snapAt uint64) map[uint64]uint64 {
	t.Helper()
	cfg := config.Defaults()
	st, err := cfg.NewState()
	if err != nil {
		t.Fatal(err)
	}
	l := persistlog.NewTurnLogger(gameDir)
	sched := scheduler.New(st, scheduler.Config{})
	sched.SetTurnLogger(l)
	if _, _, err := sched.Join("solo"); err != nil {
		t.Fatal(err)
	}

	sums := map[uint64]uint64{}
	for turn := 0; turn < turns; turn++ {
		pa := protocol.PlayerActions{Player: 0, Turn: uint64(turn)}
		if turn == 3 {
			pa.Actions = []protocol.Action{protocol.ToggleOutflow(0, 9, 10)}
		}
		reply := make(chan protocol.CollectedActions, 1)
		if err := sched.Submit(pa, reply); err != nil {
			t.Fatal(err)
		}
		ca := <-reply
		sums[ca.Turn] = ca.StateChecksum
		if ca.Turn == snapAt {
			snap := snapshot.Capture(sched.Snapshot(), cfg.Digest())
			if err := snapshot.WriteSnapshot(snapshot.Path(filepath.Join(gameDir, "snapshots"), ca.Turn), snap); err != nil {
				t.Fatal(err)
			}
		}
	}
	if err := l.Close(); err != nil {
		t.Fatal(err)
	}
	return sums
}

func TestRewind(t *testing.T) {
	gameDir := t.TempDir()
	sums := playGame(t, gameDir, 10, 4)

	st, from, err := rewind(gameDir, config.Defaults(), 7)
	if err != nil {
		t.Fatalf("rewind: %v", err)
	}
	if from != "4.snap.zst" || st.Turn() != 7 || st.Checksum() != sums[7] {
		t.Fatalf("rewind to 7: from=%s turn=%d", from, st.Turn())
	}

	st, from, err = rewind(gameDir, config.Defaults(), 2)
	if err != nil {
		t.Fatalf("rewind: %v", err)
	}
	if from != "fresh" || st.Checksum() != sums[2] {
		t.Fatalf("rewind to 2: from=%s", from)
	}

	if _, _, err := rewind(gameDir, config.Defaults(), 50); err == nil {
		t.Fatalf("rewind past the end of the log succeeded")
	}
}

func TestSnapshotAtOrBefore_SkipsRewound(t *testing.T) {
	dir := t.TempDir()
	cfg := config.Defaults()
	st, err := cfg.NewState()
	if err != nil {
		t.Fatal(err)
	}
	snap := snapshot.Capture(st, cfg.Digest())
	for _, name := range []string{"3.snap.zst", "8.snap.zst", "5.rewind.snap.zst"} {
		if err := snapshot.WriteSnapshot(filepath.Join(dir, name), snap); err != nil {
			t.Fatal(err)
		}
	}
	if got := snapshotAtOrBefore(dir, 6); filepath.Base(got) != "3.snap.zst" {
		t.Fatalf("got %q", got)
	}
	if got := snapshotAtOrBefore(dir, 2); got != "" {
		t.Fatalf("got %q", got)
	}
}

func TestQueries(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "game.sqlite")
	idx, err := indexdb.OpenSQLite(dbPath)
	if err != nil {
		t.Fatal(err)
	}
	if err := idx.UpsertConfig(config.Defaults()); err != nil {
		t.Fatal(err)
	}
	_ = idx.WriteTurn(scheduler.TurnLogEntry{
		Turn:     1,
		Joins:    []scheduler.RecordedJoin{{Player: 0, Name: "alice"}, {Player: 1, Name: "bob"}},
		Actions:  []protocol.Action{protocol.ToggleOutflow(0, 9, 10)},
		Checksum: 11,
	})
	_ = idx.WriteTurn(scheduler.TurnLogEntry{
		Turn:     2,
		Leaves:   []int{1},
		Actions:  []protocol.Action{protocol.ToggleOutflow(0, 9, 17), protocol.ToggleOutflow(1, 54, 53)},
		Checksum: 22,
	})
	idx.RecordSnapshot("/tmp/2.snap.zst", snapshot.SnapshotV1{
		Header:  snapshot.Header{Version: snapshot.Version, Turn: 2, Checksum: 22},
		Sources: []int{9, 54},
		Nodes:   []snapshot.NodeV1{{Present: true, Player: 1, Goop: 6}},
	})
	if err := idx.Close(); err != nil {
		t.Fatal(err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	turns, err := queryTurns(db, 2, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(turns) != 1 || turns[0].Turn != 2 || turns[0].Checksum != "0000000000000016" || turns[0].Actions != 2 {
		t.Fatalf("turns: %+v", turns)
	}

	acts, err := queryActions(db, 0, 0, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(acts) != 2 || acts[1].To != 17 {
		t.Fatalf("actions: %+v", acts)
	}

	players, err := queryPlayers(db)
	if err != nil {
		t.Fatal(err)
	}
	if len(players) != 2 || players[1].Name != "bob" || players[1].LeftTurn == nil || *players[1].LeftTurn != 2 || players[1].Actions != 1 {
		t.Fatalf("players: %+v", players)
	}
	if players[0].LeftTurn != nil || players[0].Actions != 2 {
		t.Fatalf("player 0: %+v", players[0])
	}

	snaps, err := querySnapshots(db, 5)
	if err != nil {
		t.Fatal(err)
	}
	if len(snaps) != 1 || snaps[0].Claimed != 1 || len(snaps[0].Goop) != 2 || snaps[0].Goop[1] != 6 {
		t.Fatalf("snapshots: %+v", snaps)
	}

	cfg, err := queryConfig(db)
	if err != nil {
		t.Fatal(err)
	}
	if cfg["digest"] != config.Defaults().Digest() {
		t.Fatalf("config digest: %v", cfg["digest"])
	}
}
