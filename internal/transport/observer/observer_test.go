package observer

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"goopbattle/internal/lockstep"
	"goopbattle/internal/protocol"
	"goopbattle/internal/scheduler"
	"goopbattle/internal/sim/grid"
	"goopbattle/internal/sim/state"
)

func startServer(t *testing.T, cfg Config) (*scheduler.Scheduler, *Server, string) {
	t.Helper()
	st, err := state.New(state.Params{
		Rows:    3,
		Cols:    3,
		Sources: []grid.Node{0, 8},
		Colors:  []grid.RGB{{255, 0, 0}, {0, 0, 255}},
	})
	if err != nil {
		t.Fatalf("state.New: %v", err)
	}
	sched := scheduler.New(st, scheduler.Config{})
	srv, err := NewServer(sched, cfg, nil)
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	mux := http.NewServeMux()
	mux.Handle("/v1/watch", srv.WSHandler())
	hs := httptest.NewServer(mux)
	t.Cleanup(hs.Close)
	return sched, srv, "ws" + strings.TrimPrefix(hs.URL, "http") + "/v1/watch"
}

func TestSpectator_FollowsGame(t *testing.T) {
	sched, srv, url := startServer(t, Config{})

	player, _, err := sched.Join("p")
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s, sp, err := Dial(ctx, url)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer s.Close()
	if sp.SessionID == "" || sp.State.Turn != 0 {
		t.Fatalf("spectate: %+v", sp)
	}
	st, err := state.FromSerializable(sp.State)
	if err != nil {
		t.Fatal(err)
	}
	r := lockstep.NewReplica(-1, st)

	for turn := uint64(0); turn < 5; turn++ {
		pa := protocol.PlayerActions{Player: player, Turn: turn}
		if turn == 2 {
			pa.Actions = []protocol.Action{protocol.ToggleOutflow(player, 0, 1)}
		}
		reply := make(chan protocol.CollectedActions, 1)
		if err := sched.Submit(pa, reply); err != nil {
			t.Fatal(err)
		}
		<-reply

		ca, err := s.Next(ctx)
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		if _, err := r.Apply(ca); err != nil {
			t.Fatalf("apply turn %d: %v", ca.Turn, err)
		}
	}
	if r.State().Checksum() != sched.Snapshot().Checksum() {
		t.Fatalf("spectator replica diverged")
	}
	if srv.Watching() != 1 {
		t.Fatalf("watching=%d", srv.Watching())
	}
}

func TestSpectator_RejectsNonWatch(t *testing.T) {
	_, _, url := startServer(t, Config{})
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()
	if err := conn.WriteJSON(protocol.NewJoin("x")); err != nil {
		t.Fatal(err)
	}
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err = conn.ReadMessage()
	if !websocket.IsCloseError(err, websocket.ClosePolicyViolation) {
		t.Fatalf("expected policy violation close, got %v", err)
	}
}

func TestIsLoopbackRemote(t *testing.T) {
	if !isLoopbackRemote("127.0.0.1:9") || !isLoopbackRemote("[::1]:9") {
		t.Fatalf("loopback not recognized")
	}
	if isLoopbackRemote("10.0.0.1:9") {
		t.Fatalf("10.0.0.1 treated as loopback")
	}
}
