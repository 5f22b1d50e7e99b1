package scheduler

import (
	"testing"

	"goopbattle/internal/protocol"
)

func TestWatch_ReceivesTurns(t *testing.T) {
	s := New(twoNodeGame(t), Config{})
	joinN(t, s, 1)

	id, ch, gs := s.Watch(4)
	if gs.Turn != 0 || len(gs.Sources) != 2 {
		t.Fatalf("watch state: %+v", gs)
	}
	if m := s.Metrics(); m.Spectators != 1 {
		t.Fatalf("spectators=%d", m.Spectators)
	}

	r := reply()
	if err := s.Submit(protocol.PlayerActions{Player: 0, Turn: 0}, r); err != nil {
		t.Fatal(err)
	}
	want := recvNow(t, r)
	if got := recvNow(t, ch); got.Turn != want.Turn || got.StateChecksum != want.StateChecksum {
		t.Fatalf("spectator got %+v want %+v", got, want)
	}

	s.Unwatch(id)
	if _, ok := <-ch; ok {
		t.Fatalf("channel still open after Unwatch")
	}
	s.Unwatch(id)
	if m := s.Metrics(); m.Spectators != 0 {
		t.Fatalf("spectators=%d", m.Spectators)
	}
}

func TestWatch_DropsLaggingSpectator(t *testing.T) {
	s := New(twoNodeGame(t), Config{})
	joinN(t, s, 1)
	_, ch, _ := s.Watch(1)

	for turn := uint64(0); turn < 2; turn++ {
		r := reply()
		if err := s.Submit(protocol.PlayerActions{Player: 0, Turn: turn}, r); err != nil {
			t.Fatal(err)
		}
		recvNow(t, r)
	}
	if ca, ok := <-ch; !ok || ca.Turn != 1 {
		t.Fatalf("first turn: %+v ok=%v", ca, ok)
	}
	if _, ok := <-ch; ok {
		t.Fatalf("lagging spectator not dropped")
	}
	if m := s.Metrics(); m.Spectators != 0 {
		t.Fatalf("spectators=%d", m.Spectators)
	}
}
