package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/http/pprof"

	"goopbattle/internal/config"
	"goopbattle/internal/persistence/indexdb"
	"goopbattle/internal/persistence/offsite"
	"goopbattle/internal/persistence/snapshot"
	"goopbattle/internal/protocol"
	"goopbattle/internal/scheduler"
	"goopbattle/internal/transport/observer"
	"goopbattle/internal/transport/ws"
)

type runtime struct {
	cfg     config.Config
	sched   *scheduler.Scheduler
	ws      *ws.Server
	obs     *observer.Server
	idx     runtimeIndex
	offsite *offsite.Uploader
	snapDir string
	log     *log.Logger
}

// persistSnapshot writes snap under the snapshot dir and indexes it.
func (rt *runtime) persistSnapshot(snap snapshot.SnapshotV1) (string, error) {
	path := snapshot.Path(rt.snapDir, snap.Header.Turn)
	if err := snapshot.WriteSnapshot(path, snap); err != nil {
		return "", err
	}
	if rt.idx != nil {
		rt.idx.RecordSnapshot(path, snap)
	}
	rt.offsite.Enqueue(path)
	return path, nil
}

// runSnapshots drains the scheduler's snapshot sink until ctx is done.
func (rt *runtime) runSnapshots(ctx context.Context, ch <-chan protocol.GameState) {
	for {
		select {
		case <-ctx.Done():
			return
		case gs := <-ch:
			snap, err := snapshot.FromGameState(gs, rt.cfg.Digest())
			if err != nil {
				rt.log.Printf("snapshot turn=%d: %v", gs.Turn, err)
				continue
			}
			if _, err := rt.persistSnapshot(snap); err != nil {
				rt.log.Printf("snapshot write: %v", err)
			}
		}
	}
}

func (rt *runtime) mux(enableAdmin, enablePprof bool) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(200)
		_, _ = rw.Write([]byte("ok"))
	})
	mux.HandleFunc("/metrics", rt.handleMetrics)

	if enableAdmin {
		mux.HandleFunc("/admin/v1/state", rt.handleState)
		mux.HandleFunc("/admin/v1/snapshot", rt.handleSnapshot)
	} else {
		rt.log.Printf("admin endpoints disabled (GB_ENABLE_ADMIN_HTTP=false)")
	}
	if enablePprof {
		mux.HandleFunc("/debug/pprof/", pprof.Index)
		mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
		mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	}
	mux.HandleFunc("/v1/ws", rt.ws.Handler())
	if rt.obs != nil {
		mux.HandleFunc("/v1/watch", rt.obs.WSHandler())
	}
	return mux
}

func (rt *runtime) handleMetrics(rw http.ResponseWriter, r *http.Request) {
	rw.Header().Set("Content-Type", "text/plain; version=0.0.4")
	m := rt.sched.Metrics()
	turn := rt.sched.Turn()

	// Minimal Prometheus exposition format.
	fmt.Fprintf(rw, "# HELP goopbattle_turn Current game turn.\n")
	fmt.Fprintf(rw, "# TYPE goopbattle_turn gauge\n")
	fmt.Fprintf(rw, "goopbattle_turn %d\n", turn)

	fmt.Fprintf(rw, "# HELP goopbattle_players Seats by state.\n")
	fmt.Fprintf(rw, "# TYPE goopbattle_players gauge\n")
	fmt.Fprintf(rw, "goopbattle_players{state=%q} %d\n", "seats", m.Seats)
	fmt.Fprintf(rw, "goopbattle_players{state=%q} %d\n", "joined", m.Joined)
	fmt.Fprintf(rw, "goopbattle_players{state=%q} %d\n", "active", m.Active)
	fmt.Fprintf(rw, "goopbattle_players{state=%q} %d\n", "pending", m.Pending)

	fmt.Fprintf(rw, "# HELP goopbattle_ws_sessions Connected websocket players.\n")
	fmt.Fprintf(rw, "# TYPE goopbattle_ws_sessions gauge\n")
	fmt.Fprintf(rw, "goopbattle_ws_sessions %d\n", rt.ws.Sessions())

	fmt.Fprintf(rw, "# HELP goopbattle_spectators Registered spectators.\n")
	fmt.Fprintf(rw, "# TYPE goopbattle_spectators gauge\n")
	fmt.Fprintf(rw, "goopbattle_spectators %d\n", m.Spectators)

	fmt.Fprintf(rw, "# HELP goopbattle_step_ms Last turn step duration in milliseconds.\n")
	fmt.Fprintf(rw, "# TYPE goopbattle_step_ms gauge\n")
	fmt.Fprintf(rw, "goopbattle_step_ms %.3f\n", m.StepMS)

	fmt.Fprintf(rw, "# HELP goopbattle_turns_total Turns completed by this process.\n")
	fmt.Fprintf(rw, "# TYPE goopbattle_turns_total counter\n")
	fmt.Fprintf(rw, "goopbattle_turns_total %d\n", m.TurnsTotal)

	fmt.Fprintf(rw, "# HELP goopbattle_player_goop Total goop held per player.\n")
	fmt.Fprintf(rw, "# TYPE goopbattle_player_goop gauge\n")
	for p, g := range m.Score {
		fmt.Fprintf(rw, "goopbattle_player_goop{player=\"%d\"} %d\n", p, g)
	}

	if rt.idx != nil {
		writeIndexMetrics(rw, rt.idx.Stats())
	}
	if rt.offsite != nil {
		writeOffsiteMetrics(rw, rt.offsite.Stats())
	}
}

func writeIndexMetrics(rw http.ResponseWriter, s indexdb.Stats) {
	fmt.Fprintf(rw, "# HELP goopbattle_index_queue_depth Index writer queue depth.\n")
	fmt.Fprintf(rw, "# TYPE goopbattle_index_queue_depth gauge\n")
	fmt.Fprintf(rw, "goopbattle_index_queue_depth %d\n", s.QueueDepth)

	fmt.Fprintf(rw, "# HELP goopbattle_index_queue_capacity Index writer queue capacity.\n")
	fmt.Fprintf(rw, "# TYPE goopbattle_index_queue_capacity gauge\n")
	fmt.Fprintf(rw, "goopbattle_index_queue_capacity %d\n", s.QueueCapacity)

	fmt.Fprintf(rw, "# HELP goopbattle_index_dropped_total Index records dropped because the queue was full.\n")
	fmt.Fprintf(rw, "# TYPE goopbattle_index_dropped_total counter\n")
	fmt.Fprintf(rw, "goopbattle_index_dropped_total{kind=%q} %d\n", "turn", s.DropTurnTotal)
	fmt.Fprintf(rw, "goopbattle_index_dropped_total{kind=%q} %d\n", "snapshot", s.DropSnapshotTotal)
}

func (rt *runtime) handleState(rw http.ResponseWriter, r *http.Request) {
	if !isLoopbackRemote(r.RemoteAddr) {
		http.Error(rw, "forbidden", http.StatusForbidden)
		return
	}
	st := rt.sched.Snapshot()
	resp := struct {
		Turn         uint64             `json:"turn"`
		Checksum     string             `json:"checksum"`
		ConfigDigest string             `json:"config_digest"`
		Metrics      scheduler.Metrics  `json:"metrics"`
		State        protocol.GameState `json:"state"`
	}{
		Turn:         st.Turn(),
		Checksum:     indexdb.FormatChecksum(st.Checksum()),
		ConfigDigest: rt.cfg.Digest(),
		Metrics:      rt.sched.Metrics(),
		State:        st.Serializable(),
	}
	rw.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(rw).Encode(resp)
}

func (rt *runtime) handleSnapshot(rw http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		rw.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if !isLoopbackRemote(r.RemoteAddr) {
		http.Error(rw, "forbidden", http.StatusForbidden)
		return
	}
	snap := snapshot.Capture(rt.sched.Snapshot(), rt.cfg.Digest())
	path, err := rt.persistSnapshot(snap)
	rw.Header().Set("Content-Type", "application/json")
	if err != nil {
		rw.WriteHeader(http.StatusServiceUnavailable)
		_ = json.NewEncoder(rw).Encode(map[string]any{"ok": false, "turn": snap.Header.Turn, "error": err.Error()})
		return
	}
	_ = json.NewEncoder(rw).Encode(map[string]any{"ok": true, "turn": snap.Header.Turn, "path": path})
}
