package snapshot

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/klauspost/compress/zstd"

	"goopbattle/internal/protocol"
	"goopbattle/internal/sim/grid"
	"goopbattle/internal/sim/state"
)

func playedGame(t *testing.T, turns int) *state.State {
	t.Helper()
	st, err := state.New(state.Params{
		Rows:    3,
		Cols:    3,
		Sources: []grid.Node{0, 8},
		Colors:  []grid.RGB{{255, 0, 0}, {0, 0, 255}},
	})
	if err != nil {
		t.Fatal(err)
	}
	st.TakeAction(protocol.ToggleOutflow(0, 0, 1))
	st.TakeAction(protocol.ToggleOutflow(1, 8, 7))
	for i := 0; i < turns; i++ {
		st.Advance()
	}
	return st
}

func TestWriteReadRestore(t *testing.T) {
	st := playedGame(t, 9)
	snap := Capture(st, "abc")

	path := Path(filepath.Join(t.TempDir(), "snapshots"), snap.Header.Turn)
	if err := WriteSnapshot(path, snap); err != nil {
		t.Fatalf("WriteSnapshot: %v", err)
	}
	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Fatalf("temp file left behind")
	}

	got, err := ReadSnapshot(path)
	if err != nil {
		t.Fatalf("ReadSnapshot: %v", err)
	}
	if len(got.Header.BodyBLAKE3) != 64 {
		t.Fatalf("body hash: %q", got.Header.BodyBLAKE3)
	}
	got.Header.BodyBLAKE3 = ""
	if got.Header != snap.Header {
		t.Fatalf("header: got %+v want %+v", got.Header, snap.Header)
	}
	restored, err := got.Restore()
	if err != nil {
		t.Fatalf("Restore: %v", err)
	}
	if restored.Turn() != 9 || restored.Checksum() != st.Checksum() {
		t.Fatalf("restored state differs")
	}

	// The restored game keeps running in step with the original.
	restored.Advance()
	st.Advance()
	if restored.Checksum() != st.Checksum() {
		t.Fatalf("restored state diverged after advance")
	}
}

func TestReadSnapshot_RejectsCorruptBody(t *testing.T) {
	path := filepath.Join(t.TempDir(), "1.snap.zst")
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	zw, err := zstd.NewWriter(f)
	if err != nil {
		t.Fatal(err)
	}
	_, _ = zw.Write([]byte(`{"version":1,"turn":1,"checksum":0,"body_blake3":"00"}` + "\n" + "not a gob body"))
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	if err := f.Close(); err != nil {
		t.Fatal(err)
	}
	if _, err := ReadSnapshot(path); err == nil || !strings.Contains(err.Error(), "body hash") {
		t.Fatalf("expected body hash error, got %v", err)
	}
}

func TestRestore_RejectsChecksumMismatch(t *testing.T) {
	snap := Capture(playedGame(t, 3), "")
	snap.Nodes[0].Goop++
	if _, err := snap.Restore(); err == nil {
		t.Fatalf("expected checksum error")
	}
}

func TestFromGameState(t *testing.T) {
	st := playedGame(t, 4)
	snap, err := FromGameState(st.Serializable(), "d")
	if err != nil {
		t.Fatal(err)
	}
	if snap.Header.Turn != 4 || snap.Header.Checksum != st.Checksum() || snap.Header.ConfigDigest != "d" {
		t.Fatalf("header: %+v", snap.Header)
	}
	unclaimed := 0
	for _, n := range snap.Nodes {
		if !n.Present {
			unclaimed++
		}
	}
	if unclaimed == 0 || unclaimed == len(snap.Nodes) {
		t.Fatalf("unexpected unclaimed count %d", unclaimed)
	}
}

func TestLatest(t *testing.T) {
	dir := t.TempDir()
	if p, _ := Latest(dir); p != "" {
		t.Fatalf("empty dir: got %q", p)
	}
	for _, name := range []string{"5.snap.zst", "40.snap.zst", "7.snap.zst", "junk.snap.zst", "100.snap.zst.tmp"} {
		if err := os.WriteFile(filepath.Join(dir, name), nil, 0o644); err != nil {
			t.Fatal(err)
		}
	}
	p, turn := Latest(dir)
	if turn != 40 || filepath.Base(p) != "40.snap.zst" {
		t.Fatalf("Latest: %s %d", p, turn)
	}
}
