package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"goopbattle/internal/config"
	persistlog "goopbattle/internal/persistence/log"
	"goopbattle/internal/persistence/snapshot"
	"goopbattle/internal/replay"
	"goopbattle/internal/sim/state"
)

func main() {
	if len(os.Args) >= 2 {
		switch os.Args[1] {
		case "rewind":
			rewindCmd(os.Args[2:])
			return
		case "db":
			dbCmd(os.Args[2:])
			return
		case "state":
			stateCmd(os.Args[2:])
			return
		case "snapshot":
			snapshotCmd(os.Args[2:])
			return
		}
	}
	listCmd(os.Args[1:])
}

func listCmd(args []string) {
	fs := flag.NewFlagSet("admin", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	gameID := fs.String("game", "", "game id (optional; lists its snapshots)")
	_ = fs.Parse(args)

	base := filepath.Join(*dataDir, "games")
	if *gameID != "" {
		base = filepath.Join(base, *gameID, "snapshots")
	}

	entries, err := os.ReadDir(base)
	if err != nil {
		fmt.Fprintln(os.Stderr, "read:", err)
		os.Exit(1)
	}
	for _, e := range entries {
		fmt.Println(e.Name())
	}
}

// rewindCmd rebuilds the game as it stood after a past turn: it starts from
// the newest snapshot at or before that turn (or a fresh game) and replays
// the turn log up to it. The result is written as a new snapshot the server
// can be started from with -snapshot.
func rewindCmd(args []string) {
	fs := flag.NewFlagSet("rewind", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	gameID := fs.String("game", "", "game id")
	configPath := fs.String("config", "./configs/game.yaml", "game config, used when no snapshot precedes -to_turn")
	toTurn := fs.Uint64("to_turn", 0, "turn to rewind to (required)")
	outPath := fs.String("out", "", "output snapshot path (optional)")
	_ = fs.Parse(args)

	if strings.TrimSpace(*gameID) == "" {
		fmt.Fprintln(os.Stderr, "missing -game")
		os.Exit(2)
	}
	if *toTurn == 0 {
		fmt.Fprintln(os.Stderr, "missing -to_turn")
		os.Exit(2)
	}

	gameDir := filepath.Join(*dataDir, "games", *gameID)
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "load config:", err)
		os.Exit(1)
	}

	st, from, err := rewind(gameDir, cfg, *toTurn)
	if err != nil {
		fmt.Fprintln(os.Stderr, "rewind:", err)
		os.Exit(1)
	}

	if strings.TrimSpace(*outPath) == "" {
		*outPath = filepath.Join(gameDir, "snapshots", fmt.Sprintf("%d.rewind.snap.zst", st.Turn()))
	}
	if err := snapshot.WriteSnapshot(*outPath, snapshot.Capture(st, cfg.Digest())); err != nil {
		fmt.Fprintln(os.Stderr, "write snapshot:", err)
		os.Exit(1)
	}
	fmt.Printf("rewind ok: from=%s turn=%d checksum=%016x out=%s\n", from, st.Turn(), st.Checksum(), *outPath)
}

// rewind returns the state after turn and a description of where it started.
func rewind(gameDir string, cfg config.Config, turn uint64) (*state.State, string, error) {
	var st *state.State
	from := "fresh"
	if path := snapshotAtOrBefore(filepath.Join(gameDir, "snapshots"), turn); path != "" {
		snap, err := snapshot.ReadSnapshot(path)
		if err != nil {
			return nil, "", err
		}
		if st, err = snap.Restore(); err != nil {
			return nil, "", err
		}
		from = filepath.Base(path)
	} else {
		var err error
		if st, err = cfg.NewState(); err != nil {
			return nil, "", err
		}
	}

	var mm *replay.MismatchError
	if _, err := replay.Run(st, persistlog.TurnDir(gameDir), replay.Options{ToTurn: turn}); errors.As(err, &mm) {
		return nil, "", fmt.Errorf("turn log does not reproduce from %s: %w", from, err)
	} else if err != nil {
		return nil, "", err
	}
	if st.Turn() != turn {
		return nil, "", fmt.Errorf("turn log ends at turn %d", st.Turn())
	}
	return st, from, nil
}

// snapshotAtOrBefore returns the highest-turn snapshot in dir not after turn.
// Rewound snapshots are skipped.
func snapshotAtOrBefore(dir string, turn uint64) string {
	ents, err := os.ReadDir(dir)
	if err != nil {
		return ""
	}
	var best string
	var bestTurn uint64
	for _, e := range ents {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".snap.zst") {
			continue
		}
		t, err := strconv.ParseUint(strings.TrimSuffix(name, ".snap.zst"), 10, 64)
		if err != nil || t > turn {
			continue
		}
		if best == "" || t > bestTurn {
			best, bestTurn = filepath.Join(dir, name), t
		}
	}
	return best
}
