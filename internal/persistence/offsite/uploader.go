package offsite

import (
	"context"
	"fmt"
	"io"
	"log"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

type Stats struct {
	QueueDepth     int    `json:"queue_depth"`
	QueueCapacity  int    `json:"queue_capacity"`
	EnqueuedTotal  uint64 `json:"enqueued_total"`
	DroppedTotal   uint64 `json:"dropped_total"`
	UploadedTotal  uint64 `json:"uploaded_total"`
	FailedTotal    uint64 `json:"failed_total"`
	LastUploadUnix int64  `json:"last_upload_unix"`
	LastErrorUnix  int64  `json:"last_error_unix"`
}

type putter interface {
	Put(ctx context.Context, key, localPath string) error
}

type UploaderConfig struct {
	// Root is the local directory object keys are made relative to.
	Root string
	// Prefix is prepended to every key.
	Prefix string

	Workers       int
	QueueCapacity int
	// EnqueueWait bounds how long Enqueue blocks on a full queue before
	// dropping the file.
	EnqueueWait time.Duration
	Attempts    int

	Logger *log.Logger
}

// Uploader copies files to the bucket from a small worker pool. Enqueue never
// blocks the caller for longer than EnqueueWait.
type Uploader struct {
	c    putter
	cfg  UploaderConfig
	log  *log.Logger
	jobs chan string
	wg   sync.WaitGroup

	// mu guards closed against Enqueue racing Close.
	mu     sync.RWMutex
	closed bool

	enqueued atomic.Uint64
	dropped  atomic.Uint64
	uploaded atomic.Uint64
	failed   atomic.Uint64
	lastOK   atomic.Int64
	lastErr  atomic.Int64
}

func NewUploader(c *Client, cfg UploaderConfig) *Uploader {
	return newUploader(c, cfg)
}

func newUploader(c putter, cfg UploaderConfig) *Uploader {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.QueueCapacity <= 0 {
		cfg.QueueCapacity = 256
	}
	if cfg.EnqueueWait <= 0 {
		cfg.EnqueueWait = 25 * time.Millisecond
	}
	if cfg.Attempts <= 0 {
		cfg.Attempts = 4
	}
	cfg.Prefix = strings.Trim(strings.ReplaceAll(cfg.Prefix, "\\", "/"), "/")
	logger := cfg.Logger
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	u := &Uploader{c: c, cfg: cfg, log: logger, jobs: make(chan string, cfg.QueueCapacity)}
	for i := 0; i < cfg.Workers; i++ {
		u.wg.Add(1)
		go func() {
			defer u.wg.Done()
			for p := range u.jobs {
				u.upload(p)
			}
		}()
	}
	return u
}

func (u *Uploader) Enqueue(localPath string) {
	if u == nil {
		return
	}
	u.mu.RLock()
	defer u.mu.RUnlock()
	if u.closed {
		u.dropped.Add(1)
		return
	}
	u.enqueued.Add(1)
	select {
	case u.jobs <- localPath:
		return
	default:
	}
	t := time.NewTimer(u.cfg.EnqueueWait)
	defer t.Stop()
	select {
	case u.jobs <- localPath:
	case <-t.C:
		n := u.dropped.Add(1)
		u.log.Printf("offsite drop local=%s dropped_total=%d", localPath, n)
	}
}

// Close waits for queued uploads to finish.
func (u *Uploader) Close() {
	if u == nil {
		return
	}
	u.mu.Lock()
	if u.closed {
		u.mu.Unlock()
		return
	}
	u.closed = true
	close(u.jobs)
	u.mu.Unlock()
	u.wg.Wait()
}

func (u *Uploader) Stats() Stats {
	if u == nil {
		return Stats{}
	}
	return Stats{
		QueueDepth:     len(u.jobs),
		QueueCapacity:  cap(u.jobs),
		EnqueuedTotal:  u.enqueued.Load(),
		DroppedTotal:   u.dropped.Load(),
		UploadedTotal:  u.uploaded.Load(),
		FailedTotal:    u.failed.Load(),
		LastUploadUnix: u.lastOK.Load(),
		LastErrorUnix:  u.lastErr.Load(),
	}
}

func (u *Uploader) upload(localPath string) {
	key, err := u.key(localPath)
	if err != nil {
		u.log.Printf("offsite skip local=%s: %v", localPath, err)
		return
	}
	for attempt := 1; ; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		err = u.c.Put(ctx, key, localPath)
		cancel()
		if err == nil || attempt >= u.cfg.Attempts {
			break
		}
		time.Sleep(time.Duration(attempt*attempt) * 200 * time.Millisecond)
	}
	if err != nil {
		u.failed.Add(1)
		u.lastErr.Store(time.Now().Unix())
		u.log.Printf("offsite upload failed key=%s: %v", key, err)
		return
	}
	u.uploaded.Add(1)
	u.lastOK.Store(time.Now().Unix())
}

// key maps a local path under Root to its object key.
func (u *Uploader) key(localPath string) (string, error) {
	root, err := filepath.Abs(u.cfg.Root)
	if err != nil {
		return "", err
	}
	abs, err := filepath.Abs(localPath)
	if err != nil {
		return "", err
	}
	rel, err := filepath.Rel(root, abs)
	if err != nil {
		return "", err
	}
	rel = filepath.ToSlash(rel)
	if rel == "." || rel == ".." || strings.HasPrefix(rel, "../") {
		return "", fmt.Errorf("outside %s", root)
	}
	if u.cfg.Prefix != "" {
		rel = path.Join(u.cfg.Prefix, rel)
	}
	return rel, nil
}
