package snapshot

import (
	"bufio"
	"bytes"
	"encoding/gob"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/klauspost/compress/zstd"
	"lukechampine.com/blake3"

	"goopbattle/internal/protocol"
	"goopbattle/internal/sim/state"
)

const Version = 1

// Header is written as a plain JSON line ahead of the gob body so tools can
// read it without decoding the state.
type Header struct {
	Version      int    `json:"version"`
	Turn         uint64 `json:"turn"`
	Checksum     uint64 `json:"checksum"`
	ConfigDigest string `json:"config_digest,omitempty"`
	// BodyBLAKE3 is the hash of the gob body. Only the header line carries
	// it; ReadSnapshot rejects a body that does not match.
	BodyBLAKE3 string `json:"body_blake3,omitempty"`
}

type SnapshotV1 struct {
	Header Header `json:"header"`

	Rows    int        `json:"rows"`
	Cols    int        `json:"cols"`
	Sources []int      `json:"sources"`
	Colors  [][3]uint8 `json:"colors"`

	Nodes []NodeV1  `json:"nodes"`
	RNG   [2]uint64 `json:"rng"`
}

// NodeV1 is one board node. gob cannot encode nil slice elements, so
// unclaimed nodes are stored with Present=false.
type NodeV1 struct {
	Present  bool  `json:"present"`
	Player   int   `json:"player,omitempty"`
	Goop     int   `json:"goop,omitempty"`
	Outflows []int `json:"outflows,omitempty"`
}

// Capture snapshots st.
func Capture(st *state.State, configDigest string) SnapshotV1 {
	gs := st.Serializable()
	snap := SnapshotV1{
		Header: Header{
			Version:      Version,
			Turn:         gs.Turn,
			Checksum:     st.Checksum(),
			ConfigDigest: configDigest,
		},
		Rows:    gs.Board[0],
		Cols:    gs.Board[1],
		Sources: gs.Sources,
		Colors:  gs.Colors,
		Nodes:   make([]NodeV1, len(gs.Nodes)),
		RNG:     gs.RNG,
	}
	for i, n := range gs.Nodes {
		if n == nil {
			continue
		}
		snap.Nodes[i] = NodeV1{Present: true, Player: n.Player, Goop: n.Goop, Outflows: n.Outflows}
	}
	return snap
}

// FromGameState snapshots a state received in wire form.
func FromGameState(gs protocol.GameState, configDigest string) (SnapshotV1, error) {
	st, err := state.FromSerializable(gs)
	if err != nil {
		return SnapshotV1{}, err
	}
	return Capture(st, configDigest), nil
}

func (s SnapshotV1) GameState() protocol.GameState {
	gs := protocol.GameState{
		Board:   [2]int{s.Rows, s.Cols},
		Sources: s.Sources,
		Colors:  s.Colors,
		Nodes:   make([]*protocol.NodeState, len(s.Nodes)),
		RNG:     s.RNG,
		Turn:    s.Header.Turn,
	}
	for i, n := range s.Nodes {
		if !n.Present {
			continue
		}
		gs.Nodes[i] = &protocol.NodeState{Player: n.Player, Goop: n.Goop, Outflows: n.Outflows}
	}
	return gs
}

// Restore rebuilds the state and checks it against the recorded checksum.
func (s SnapshotV1) Restore() (*state.State, error) {
	st, err := state.FromSerializable(s.GameState())
	if err != nil {
		return nil, err
	}
	if got := st.Checksum(); got != s.Header.Checksum {
		return nil, fmt.Errorf("snapshot turn %d: checksum %016x, header says %016x", s.Header.Turn, got, s.Header.Checksum)
	}
	return st, nil
}

// Path is where the snapshot for turn lives under dir.
func Path(dir string, turn uint64) string {
	return filepath.Join(dir, fmt.Sprintf("%d.snap.zst", turn))
}

func WriteSnapshot(path string, snap SnapshotV1) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	// Write to a temp file and rename so a crash never leaves a torn
	// snapshot for Latest to pick up.
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if err := encode(f, snap); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}

func encode(f *os.File, snap SnapshotV1) error {
	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return err
	}
	bw := bufio.NewWriterSize(enc, 64*1024)

	snap.Header.BodyBLAKE3 = ""
	var body bytes.Buffer
	if err := gob.NewEncoder(&body).Encode(&snap); err != nil {
		return fmt.Errorf("gob encode: %w", err)
	}
	h := snap.Header
	sum := blake3.Sum256(body.Bytes())
	h.BodyBLAKE3 = hex.EncodeToString(sum[:])

	hb, _ := json.Marshal(h)
	if _, err := bw.Write(hb); err != nil {
		return err
	}
	if err := bw.WriteByte('\n'); err != nil {
		return err
	}
	if _, err := bw.Write(body.Bytes()); err != nil {
		return err
	}
	if err := bw.Flush(); err != nil {
		return err
	}
	return enc.Close()
}

func ReadSnapshot(path string) (SnapshotV1, error) {
	var snap SnapshotV1
	f, err := os.Open(path)
	if err != nil {
		return snap, err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return snap, err
	}
	defer dec.Close()

	br := bufio.NewReaderSize(dec, 64*1024)
	line, err := br.ReadBytes('\n')
	if err != nil {
		return snap, fmt.Errorf("read header: %w", err)
	}
	var h Header
	if err := json.Unmarshal(line, &h); err != nil {
		return snap, fmt.Errorf("decode header: %w", err)
	}
	if h.Version != Version {
		return snap, fmt.Errorf("unsupported snapshot version %d", h.Version)
	}
	body, err := io.ReadAll(br)
	if err != nil {
		return snap, fmt.Errorf("read body: %w", err)
	}
	if h.BodyBLAKE3 != "" {
		sum := blake3.Sum256(body)
		if got := hex.EncodeToString(sum[:]); got != h.BodyBLAKE3 {
			return snap, fmt.Errorf("snapshot body hash %s, header says %s", got, h.BodyBLAKE3)
		}
	}
	if err := gob.NewDecoder(bytes.NewReader(body)).Decode(&snap); err != nil {
		return snap, fmt.Errorf("gob decode: %w", err)
	}
	snap.Header.BodyBLAKE3 = h.BodyBLAKE3
	return snap, nil
}

// Latest returns the path of the highest-turn snapshot in dir, or "" if there
// is none.
func Latest(dir string) (string, uint64) {
	ents, err := os.ReadDir(dir)
	if err != nil {
		return "", 0
	}
	var best string
	var bestTurn uint64
	for _, e := range ents {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".snap.zst") {
			continue
		}
		turn, err := strconv.ParseUint(strings.TrimSuffix(name, ".snap.zst"), 10, 64)
		if err != nil {
			continue
		}
		if best == "" || turn > bestTurn {
			best, bestTurn = filepath.Join(dir, name), turn
		}
	}
	return best, bestTurn
}
