package main

import (
	"encoding/json"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"goopbattle/internal/config"
	"goopbattle/internal/persistence/snapshot"
	"goopbattle/internal/scheduler"
	"goopbattle/internal/transport/ws"
)

func newTestRuntime(t *testing.T) *runtime {
	t.Helper()
	cfg := config.Defaults()
	st, err := cfg.NewState()
	if err != nil {
		t.Fatalf("NewState: %v", err)
	}
	sched := scheduler.New(st, scheduler.Config{})
	wsSrv, err := ws.NewServer(sched, ws.ServerConfig{ConfigDigest: cfg.Digest()}, nil)
	if err != nil {
		t.Fatalf("ws.NewServer: %v", err)
	}
	return &runtime{
		cfg:     cfg,
		sched:   sched,
		ws:      wsSrv,
		snapDir: filepath.Join(t.TempDir(), "snapshots"),
		log:     log.New(io.Discard, "", 0),
	}
}

func TestMetrics(t *testing.T) {
	rt := newTestRuntime(t)
	if _, _, err := rt.sched.Join("a"); err != nil {
		t.Fatal(err)
	}
	rec := httptest.NewRecorder()
	rt.mux(false, false).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d", rec.Code)
	}
	body := rec.Body.String()
	for _, want := range []string{
		"goopbattle_turn 0\n",
		`goopbattle_players{state="seats"} 2`,
		`goopbattle_players{state="joined"} 1`,
		"goopbattle_ws_sessions 0\n",
		"goopbattle_spectators 0\n",
		`goopbattle_player_goop{player="1"} 0`,
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("metrics missing %q:\n%s", want, body)
		}
	}
}

func TestAdminState_LoopbackOnly(t *testing.T) {
	rt := newTestRuntime(t)
	mux := rt.mux(true, false)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/admin/v1/state", nil))
	if rec.Code != http.StatusForbidden {
		t.Fatalf("non-loopback: status %d", rec.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/admin/v1/state", nil)
	req.RemoteAddr = "127.0.0.1:40000"
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("loopback: status %d", rec.Code)
	}
	var resp struct {
		Turn         uint64 `json:"turn"`
		Checksum     string `json:"checksum"`
		ConfigDigest string `json:"config_digest"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Turn != 0 || len(resp.Checksum) != 16 || resp.ConfigDigest != rt.cfg.Digest() {
		t.Fatalf("unexpected state: %+v", resp)
	}
}

func TestAdminDisabled(t *testing.T) {
	rt := newTestRuntime(t)
	req := httptest.NewRequest(http.MethodGet, "/admin/v1/state", nil)
	req.RemoteAddr = "127.0.0.1:40000"
	rec := httptest.NewRecorder()
	rt.mux(false, false).ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status %d", rec.Code)
	}
}

func TestAdminSnapshot_WritesRestorableFile(t *testing.T) {
	rt := newTestRuntime(t)
	mux := rt.mux(true, false)

	get := httptest.NewRequest(http.MethodGet, "/admin/v1/snapshot", nil)
	get.RemoteAddr = "127.0.0.1:40000"
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, get)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("GET: status %d", rec.Code)
	}

	post := httptest.NewRequest(http.MethodPost, "/admin/v1/snapshot", nil)
	post.RemoteAddr = "[::1]:40000"
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, post)
	if rec.Code != http.StatusOK {
		t.Fatalf("POST: status %d body=%s", rec.Code, rec.Body.String())
	}

	path, turn := snapshot.Latest(rt.snapDir)
	if path == "" || turn != 0 {
		t.Fatalf("Latest: %q %d", path, turn)
	}
	snap, err := snapshot.ReadSnapshot(path)
	if err != nil {
		t.Fatal(err)
	}
	st, err := snap.Restore()
	if err != nil {
		t.Fatal(err)
	}
	if st.Checksum() != rt.sched.Snapshot().Checksum() {
		t.Fatalf("restored snapshot disagrees with scheduler")
	}
}

func TestAdminSnapshot_MirrorsOffsite(t *testing.T) {
	var mu sync.Mutex
	var puts []string
	s3 := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		mu.Lock()
		puts = append(puts, r.Method+" "+r.URL.Path)
		mu.Unlock()
	}))
	defer s3.Close()

	t.Setenv("GB_OFFSITE", "true")
	t.Setenv("GB_OFFSITE_ENDPOINT", s3.URL)
	t.Setenv("GB_OFFSITE_BUCKET", "bkt")
	t.Setenv("GB_OFFSITE_ACCESS_KEY_ID", "ak")
	t.Setenv("GB_OFFSITE_SECRET_ACCESS_KEY", "sk")
	t.Setenv("GB_OFFSITE_PREFIX", "")

	dataDir := t.TempDir()
	up, err := buildOffsite(dataDir, log.New(io.Discard, "", 0))
	if err != nil || up == nil {
		t.Fatalf("buildOffsite: %v %v", up, err)
	}
	rt := newTestRuntime(t)
	rt.snapDir = filepath.Join(dataDir, "games", "g", "snapshots")
	rt.offsite = up

	post := httptest.NewRequest(http.MethodPost, "/admin/v1/snapshot", nil)
	post.RemoteAddr = "127.0.0.1:40000"
	rec := httptest.NewRecorder()
	rt.mux(true, false).ServeHTTP(rec, post)
	if rec.Code != http.StatusOK {
		t.Fatalf("POST: status %d", rec.Code)
	}
	up.Close()

	mu.Lock()
	defer mu.Unlock()
	if len(puts) != 1 || puts[0] != "PUT /bkt/games/g/snapshots/0.snap.zst" {
		t.Fatalf("puts: %v", puts)
	}
	if s := up.Stats(); s.UploadedTotal != 1 {
		t.Fatalf("stats: %+v", s)
	}
}

func TestBuildOffsite_Disabled(t *testing.T) {
	t.Setenv("GB_OFFSITE", "")
	up, err := buildOffsite(t.TempDir(), log.New(io.Discard, "", 0))
	if err != nil || up != nil {
		t.Fatalf("got %v %v", up, err)
	}
}

func TestIsLoopbackRemote(t *testing.T) {
	cases := map[string]bool{
		"127.0.0.1:80":  true,
		"[::1]:443":     true,
		"10.0.0.1:80":   false,
		"example.com:1": false,
		"":              false,
	}
	for addr, want := range cases {
		if got := isLoopbackRemote(addr); got != want {
			t.Fatalf("isLoopbackRemote(%q)=%v want %v", addr, got, want)
		}
	}
}
