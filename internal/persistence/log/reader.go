package log

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/klauspost/compress/zstd"

	"goopbattle/internal/scheduler"
)

// TurnLogFiles lists the turn log files in dir, oldest first.
func TurnLogFiles(dir string) ([]string, error) {
	files, err := filepath.Glob(filepath.Join(dir, "turns-*.jsonl.zst"))
	if err != nil {
		return nil, err
	}
	// The hour stamp sorts lexically.
	sort.Strings(files)
	return files, nil
}

// ReadTurnLog calls fn for every entry in dir's turn logs, in file order.
// Returning an error from fn stops the walk and returns that error.
func ReadTurnLog(dir string, fn func(scheduler.TurnLogEntry) error) error {
	files, err := TurnLogFiles(dir)
	if err != nil {
		return err
	}
	for _, path := range files {
		if err := readTurnFile(path, fn); err != nil {
			return err
		}
	}
	return nil
}

func readTurnFile(path string, fn func(scheduler.TurnLogEntry) error) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return err
	}
	defer dec.Close()

	sc := bufio.NewScanner(dec)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	line := 0
	for sc.Scan() {
		line++
		if len(sc.Bytes()) == 0 {
			continue
		}
		var e scheduler.TurnLogEntry
		if err := json.Unmarshal(sc.Bytes(), &e); err != nil {
			return fmt.Errorf("%s:%d: %w", filepath.Base(path), line, err)
		}
		if err := fn(e); err != nil {
			return err
		}
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	return nil
}
