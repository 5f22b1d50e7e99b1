package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"os"
	"os/signal"
	"time"

	"goopbattle/internal/bot"
	"goopbattle/internal/lockstep"
	"goopbattle/internal/protocol"
	"goopbattle/internal/sim/state"
	"goopbattle/internal/transport/observer"
	"goopbattle/internal/transport/ws"
)

func main() {
	var (
		url  = flag.String("url", "ws://localhost:8080/v1/ws", "ws url")
		name = flag.String("name", "bot", "player name")
		seed = flag.Int64("seed", 0, "planner seed (0 = time based)")

		spectate = flag.String("spectate", "", "watch url (e.g. ws://localhost:8080/v1/watch); follow the game instead of playing")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[bot] ", log.LstdFlags|log.Lmicroseconds)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if *spectate != "" {
		watch(ctx, *spectate, logger)
		return
	}

	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	link, welcome, err := ws.Dial(dialCtx, *url, *name)
	cancel()
	if errors.Is(err, ws.ErrGameFull) {
		logger.Fatalf("game is full")
	}
	if err != nil {
		logger.Fatalf("dial: %v", err)
	}
	defer link.Close()
	logger.Printf("WELCOME player=%d session=%s turn=%d config=%s", welcome.Player, welcome.SessionID, welcome.State.Turn, welcome.ConfigDigest)

	p, err := lockstep.NewParticipant(welcome.Player, welcome.State, logger)
	if err != nil {
		logger.Fatalf("participant: %v", err)
	}

	if *seed == 0 {
		*seed = time.Now().UnixNano()
	}
	planner := bot.NewPlanner(*seed)
	planner.Attach(p)
	next := p.OnTurn
	p.OnTurn = func(ca protocol.CollectedActions) {
		next(ca)
		if ca.Turn%100 == 0 {
			logger.Printf("turn=%d score=%v", ca.Turn, p.Snapshot().Score())
		}
	}

	err = p.Run(ctx, link)
	var div *lockstep.DivergenceError
	switch {
	case errors.Is(err, context.Canceled):
	case errors.As(err, &div):
		logger.Fatalf("desync: %v", div)
	default:
		logger.Printf("stopped: %v", err)
	}
}

// watch follows the game as a spectator, replaying every turn locally and
// checking it against the server's checksum.
func watch(ctx context.Context, url string, logger *log.Logger) {
	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	stream, sp, err := observer.Dial(dialCtx, url)
	cancel()
	if err != nil {
		logger.Fatalf("watch: %v", err)
	}
	defer stream.Close()

	st, err := state.FromSerializable(sp.State)
	if err != nil {
		logger.Fatalf("watch: %v", err)
	}
	logger.Printf("SPECTATE session=%s turn=%d", sp.SessionID, st.Turn())
	r := lockstep.NewReplica(-1, st)
	for {
		ca, err := stream.Next(ctx)
		if err != nil {
			if !errors.Is(err, context.Canceled) {
				logger.Printf("stopped: %v", err)
			}
			return
		}
		if _, err := r.Apply(ca); err != nil {
			logger.Fatalf("desync: %v", err)
		}
		if ca.Turn%100 == 0 {
			logger.Printf("turn=%d score=%v", ca.Turn, r.State().Score())
		}
	}
}
