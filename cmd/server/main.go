package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"goopbattle/internal/bot"
	"goopbattle/internal/config"
	"goopbattle/internal/lockstep"
	persistlog "goopbattle/internal/persistence/log"
	"goopbattle/internal/persistence/snapshot"
	"goopbattle/internal/protocol"
	"goopbattle/internal/scheduler"
	"goopbattle/internal/sim/state"
	"goopbattle/internal/transport/observer"
	"goopbattle/internal/transport/ws"
)

func main() {
	var (
		addr       = flag.String("addr", ":8080", "http listen address")
		gameID     = flag.String("game", "game_1", "game id")
		configPath = flag.String("config", "./configs/game.yaml", "game config path")
		dataDir    = flag.String("data", "./data", "runtime data directory")
		disableDB  = flag.Bool("disable_db", false, "disable the sqlite turn index")

		snapPath   = flag.String("snapshot", "", "path to snapshot to load (optional)")
		loadLatest = flag.Bool("load_latest_snapshot", true, "load latest snapshot from data dir if present (when -snapshot is empty)")

		housePlayer = flag.String("house_player", "", "seat an in-process bot under this name (empty to disable)")
		houseSeed   = flag.Int64("house_seed", 1, "house bot seed")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[server] ", log.LstdFlags|log.Lmicroseconds)

	// .env is optional; real environment variables win.
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		logger.Printf("load .env: %v", err)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatalf("load config: %v", err)
	}
	if err := cfg.ApplyEnv(os.Getenv); err != nil {
		logger.Fatalf("config env: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatalf("config: %v", err)
	}

	gameDir := filepath.Join(*dataDir, "games", *gameID)
	snapDir := filepath.Join(gameDir, "snapshots")
	_ = os.MkdirAll(gameDir, 0o755)

	idx, err := openRuntimeIndex(gameDir, *disableDB)
	if err != nil {
		logger.Fatalf("open index backend: %v", err)
	}
	if idx != nil {
		defer idx.Close()
		if err := idx.UpsertConfig(cfg); err != nil {
			logger.Printf("index backend: upsert config: %v", err)
		}
	}

	// Fresh game or resumed from snapshot.
	snapshotToLoad := strings.TrimSpace(*snapPath)
	if snapshotToLoad == "" && *loadLatest {
		snapshotToLoad, _ = snapshot.Latest(snapDir)
	}
	var st *state.State
	if snapshotToLoad != "" {
		snap, err := snapshot.ReadSnapshot(snapshotToLoad)
		if err != nil {
			logger.Fatalf("read snapshot: %v", err)
		}
		if snap.Header.ConfigDigest != "" && snap.Header.ConfigDigest != cfg.Digest() {
			logger.Printf("snapshot config digest %s differs from current %s; board comes from the snapshot", snap.Header.ConfigDigest, cfg.Digest())
		}
		st, err = snap.Restore()
		if err != nil {
			logger.Fatalf("restore snapshot: %v", err)
		}
		logger.Printf("resumed from snapshot=%s turn=%d", filepath.Base(snapshotToLoad), st.Turn())
	} else {
		st, err = cfg.NewState()
		if err != nil {
			logger.Fatalf("new game: %v", err)
		}
	}

	sched := scheduler.New(st, scheduler.Config{
		MinTurnInterval:   cfg.MinTurnInterval(),
		MaxActionsPerTurn: cfg.MaxActionsPerTurn,
		SnapshotEvery:     uint64(cfg.SnapshotEveryTurns),
		Logger:            log.New(os.Stdout, "[sched] ", log.LstdFlags|log.Lmicroseconds),
	})

	up, err := buildOffsite(*dataDir, logger)
	if err != nil {
		logger.Fatalf("offsite: %v", err)
	}
	defer up.Close()

	turnLog := persistlog.NewTurnLogger(gameDir)
	defer turnLog.Close()
	if up != nil {
		turnLog.SetOnClose(up.Enqueue)
	}
	if idx != nil {
		sched.SetTurnLogger(multiTurnLogger{turnLog, idx})
	} else {
		sched.SetTurnLogger(turnLog)
	}

	ctx, cancel := signalContext()
	defer cancel()

	wsSrv, err := ws.NewServer(sched, ws.ServerConfig{
		ConfigDigest:        cfg.Digest(),
		HandshakeRatePerSec: cfg.HandshakeRatePerSec,
		HandshakeBurst:      cfg.HandshakeBurst,
	}, logger)
	if err != nil {
		logger.Fatalf("ws server: %v", err)
	}

	obsSrv, err := observer.NewServer(sched, observer.Config{
		AllowRemote: envBool("GB_SPECTATE_PUBLIC", false),
	}, log.New(os.Stdout, "[watch] ", log.LstdFlags|log.Lmicroseconds))
	if err != nil {
		logger.Fatalf("observer server: %v", err)
	}

	rt := &runtime{cfg: cfg, sched: sched, ws: wsSrv, obs: obsSrv, idx: idx, offsite: up, snapDir: snapDir, log: logger}

	snapCh := make(chan protocol.GameState, 2)
	sched.SetSnapshotSink(snapCh)
	go rt.runSnapshots(ctx, snapCh)

	if name := strings.TrimSpace(*housePlayer); name != "" {
		startHousePlayer(ctx, sched, name, *houseSeed, logger)
	}

	enableAdminHTTP := envBool("GB_ENABLE_ADMIN_HTTP", defaultEnableAdminHTTP())
	enablePprofHTTP := envBool("GB_ENABLE_PPROF_HTTP", false)

	srv := &http.Server{
		Addr:              *addr,
		Handler:           rt.mux(enableAdminHTTP, enablePprofHTTP),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel2()
		_ = srv.Shutdown(ctx2)
	}()

	logger.Printf("listening on %s game=%s turn=%d players=%d", *addr, *gameID, sched.Turn(), st.Map().Players())
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatalf("ListenAndServe: %v", err)
	}
}

func startHousePlayer(ctx context.Context, sched *scheduler.Scheduler, name string, seed int64, logger *log.Logger) {
	hlog := log.New(os.Stdout, "[house] ", log.LstdFlags|log.Lmicroseconds)
	p, link, err := lockstep.NewHost(sched, name, hlog)
	if err != nil {
		logger.Printf("house player: %v", err)
		return
	}
	bot.NewPlanner(seed).Attach(p)
	go func() {
		defer link.Close()
		if err := p.Run(ctx, link); err != nil && !errors.Is(err, context.Canceled) {
			hlog.Printf("stopped: %v", err)
		}
	}()
	logger.Printf("house player %q seated as player=%d", name, p.Player())
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-ch
		cancel()
	}()
	return ctx, cancel
}
