package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"goopbattle/internal/config"
	persistlog "goopbattle/internal/persistence/log"
	"goopbattle/internal/persistence/snapshot"
	"goopbattle/internal/replay"
	"goopbattle/internal/sim/state"
)

func main() {
	var (
		gameDir    = flag.String("game_dir", "./data/games/game_1", "game data directory (turn logs under <game_dir>/turns)")
		snapPath   = flag.String("snapshot", "", "path to .snap.zst to start from (default: fresh game from -config)")
		configPath = flag.String("config", "./configs/game.yaml", "game config, used when no snapshot is given")
		fromTurn   = flag.Uint64("from_turn", 0, "start verifying from turn (inclusive, optional)")
		toTurn     = flag.Uint64("to_turn", 0, "stop at turn (inclusive, optional)")
	)
	flag.Parse()

	var st *state.State
	if *snapPath != "" {
		snap, err := snapshot.ReadSnapshot(*snapPath)
		if err != nil {
			fail("read snapshot", err)
		}
		fmt.Printf("snapshot v%d turn=%d checksum=%016x board=%dx%d players=%d config=%s\n",
			snap.Header.Version, snap.Header.Turn, snap.Header.Checksum, snap.Rows, snap.Cols, len(snap.Sources), snap.Header.ConfigDigest)
		st, err = snap.Restore()
		if err != nil {
			fail("restore snapshot", err)
		}
	} else {
		cfg, err := config.Load(*configPath)
		if err != nil {
			fail("load config", err)
		}
		st, err = cfg.NewState()
		if err != nil {
			fail("new game", err)
		}
	}

	turnDir := persistlog.TurnDir(*gameDir)
	files, err := persistlog.TurnLogFiles(turnDir)
	if err != nil {
		fail("list turn logs", err)
	}
	if len(files) == 0 {
		fmt.Fprintln(os.Stderr, "no turn logs found in", filepath.Clean(turnDir))
		os.Exit(1)
	}

	res, err := replay.Run(st, turnDir, replay.Options{VerifyFrom: *fromTurn, ToTurn: *toTurn})
	var mm *replay.MismatchError
	if errors.As(err, &mm) {
		fmt.Fprintf(os.Stderr, "replay diverged after checking %d turns: %v\n", res.Checked, mm)
		os.Exit(3)
	}
	if err != nil {
		fail("replay", err)
	}
	fmt.Printf("replay ok: checked=%d turns (turn %d -> %d) score=%v\n", res.Checked, res.Start, res.End, st.Score())
}

func fail(what string, err error) {
	fmt.Fprintf(os.Stderr, "%s: %v\n", what, err)
	os.Exit(1)
}
