package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"goopbattle/internal/config"
	"goopbattle/internal/persistence/indexdb"
	"goopbattle/internal/persistence/snapshot"
	"goopbattle/internal/scheduler"
)

// runtimeIndex is the optional query-side copy of the turn log. It never
// feeds back into the game.
type runtimeIndex interface {
	scheduler.TurnLogger
	Close() error
	UpsertConfig(cfg config.Config) error
	RecordSnapshot(path string, snap snapshot.SnapshotV1)
	Stats() indexdb.Stats
}

func openRuntimeIndex(gameDir string, disableDB bool) (runtimeIndex, error) {
	if disableDB {
		return nil, nil
	}

	backend := strings.ToLower(strings.TrimSpace(os.Getenv("GB_INDEX_BACKEND")))
	if backend == "" {
		backend = "sqlite"
	}

	switch backend {
	case "none", "off", "disabled":
		return nil, nil
	case "sqlite":
		idx, err := indexdb.OpenSQLite(filepath.Join(gameDir, "index", "game.sqlite"))
		if err != nil {
			return nil, err
		}
		return idx, nil
	default:
		return nil, fmt.Errorf("unsupported GB_INDEX_BACKEND: %s", backend)
	}
}

type multiTurnLogger []scheduler.TurnLogger

func (m multiTurnLogger) WriteTurn(entry scheduler.TurnLogEntry) error {
	for _, l := range m {
		if l != nil {
			_ = l.WriteTurn(entry)
		}
	}
	return nil
}
