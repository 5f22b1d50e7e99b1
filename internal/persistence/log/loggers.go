package log

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"

	"goopbattle/internal/scheduler"
)

// JSONLZstdWriter appends one JSON value per line to zstd files rotated every
// UTC hour: <dir>/<prefix>-YYYY-MM-DD-HH.jsonl.zst. Reopening an hour appends a
// new zstd frame to the existing file.
type JSONLZstdWriter struct {
	dir    string
	prefix string
	now    func() time.Time

	// onClose, if set, gets the path of every file the writer finishes with.
	onClose func(path string)

	mu      sync.Mutex
	curHour string
	curPath string
	f       *os.File
	enc     *zstd.Encoder
	w       *bufio.Writer
}

func NewJSONLZstdWriter(dir, prefix string) *JSONLZstdWriter {
	return &JSONLZstdWriter{dir: dir, prefix: prefix, now: time.Now}
}

func (w *JSONLZstdWriter) SetOnClose(fn func(path string)) {
	w.mu.Lock()
	w.onClose = fn
	w.mu.Unlock()
}

func (w *JSONLZstdWriter) Write(v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if hour := w.now().UTC().Format("2006-01-02-15"); hour != w.curHour {
		if err := w.rotateLocked(hour); err != nil {
			return err
		}
	}
	if _, err := w.w.Write(b); err != nil {
		return err
	}
	if err := w.w.WriteByte('\n'); err != nil {
		return err
	}
	return w.w.Flush()
}

func (w *JSONLZstdWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.closeLocked()
}

func (w *JSONLZstdWriter) rotateLocked(hour string) error {
	if err := w.closeLocked(); err != nil {
		return err
	}
	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return err
	}
	path := filepath.Join(w.dir, fmt.Sprintf("%s-%s.jsonl.zst", w.prefix, hour))
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		_ = f.Close()
		return err
	}
	w.f, w.enc, w.w = f, enc, bufio.NewWriterSize(enc, 64*1024)
	w.curHour, w.curPath = hour, path
	return nil
}

func (w *JSONLZstdWriter) closeLocked() error {
	var err error
	if w.w != nil {
		_ = w.w.Flush()
		w.w = nil
	}
	if w.enc != nil {
		err = w.enc.Close()
		w.enc = nil
	}
	if w.f != nil {
		if cerr := w.f.Close(); err == nil {
			err = cerr
		}
		w.f = nil
	}
	if w.curPath != "" && w.onClose != nil && err == nil {
		w.onClose(w.curPath)
	}
	w.curHour, w.curPath = "", ""
	return err
}

// TurnLogger records every completed turn under <gameDir>/turns.
type TurnLogger struct{ w *JSONLZstdWriter }

func NewTurnLogger(gameDir string) *TurnLogger {
	return &TurnLogger{w: NewJSONLZstdWriter(TurnDir(gameDir), "turns")}
}

func TurnDir(gameDir string) string { return filepath.Join(gameDir, "turns") }

func (l *TurnLogger) WriteTurn(e scheduler.TurnLogEntry) error { return l.w.Write(e) }
func (l *TurnLogger) Close() error                             { return l.w.Close() }

// SetOnClose registers fn to receive each finished hourly file, including the
// last one on Close.
func (l *TurnLogger) SetOnClose(fn func(path string)) { l.w.SetOnClose(fn) }
