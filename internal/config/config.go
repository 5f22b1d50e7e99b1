// Package config loads the game configuration shared by the server, bots and
// replay tooling.
package config

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"goopbattle/internal/sim/grid"
	"goopbattle/internal/sim/state"
)

type Config struct {
	Board   Board      `yaml:"board" json:"board"`
	Sources []int      `yaml:"sources" json:"sources"`
	Colors  [][3]uint8 `yaml:"colors" json:"colors"`

	MinTurnIntervalMs  int `yaml:"min_turn_interval_ms" json:"min_turn_interval_ms"`
	SnapshotEveryTurns int `yaml:"snapshot_every_turns" json:"snapshot_every_turns"`
	MaxActionsPerTurn  int `yaml:"max_actions_per_turn" json:"max_actions_per_turn"`

	HandshakeRatePerSec float64 `yaml:"handshake_rate_per_sec" json:"handshake_rate_per_sec"`
	HandshakeBurst      int     `yaml:"handshake_burst" json:"handshake_burst"`
}

type Board struct {
	Rows int `yaml:"rows" json:"rows"`
	Cols int `yaml:"cols" json:"cols"`
}

// Defaults is the two-player 8x8 game.
func Defaults() Config {
	return Config{
		Board:   Board{Rows: 8, Cols: 8},
		Sources: []int{9, 54},
		Colors:  [][3]uint8{{0xe0, 0x3c, 0x31}, {0x2e, 0x6f, 0xd9}},

		MinTurnIntervalMs:  100,
		SnapshotEveryTurns: 600,
		MaxActionsPerTurn:  64,

		HandshakeRatePerSec: 5,
		HandshakeBurst:      10,
	}
}

func Load(path string) (Config, error) {
	c := Defaults()
	raw, err := os.ReadFile(path)
	if err != nil {
		return c, err
	}
	if err := yaml.Unmarshal(raw, &c); err != nil {
		return c, fmt.Errorf("%s: %w", path, err)
	}
	if err := c.Validate(); err != nil {
		return c, fmt.Errorf("%s: %w", path, err)
	}
	return c, nil
}

func (c Config) Validate() error {
	if _, err := c.Map(); err != nil {
		return err
	}
	if c.MinTurnIntervalMs < 0 {
		return errors.New("min_turn_interval_ms must be >= 0")
	}
	if c.SnapshotEveryTurns < 0 {
		return errors.New("snapshot_every_turns must be >= 0")
	}
	if c.MaxActionsPerTurn < 0 {
		return errors.New("max_actions_per_turn must be >= 0")
	}
	if c.HandshakeRatePerSec < 0 || c.HandshakeBurst < 0 {
		return errors.New("handshake limits must be >= 0")
	}
	return nil
}

// Map builds the static board described by the config.
func (c Config) Map() (*grid.Map, error) {
	colors := make([]grid.RGB, len(c.Colors))
	for i, col := range c.Colors {
		colors[i] = col
	}
	return grid.NewMap(c.Board.Rows, c.Board.Cols, c.Sources, colors)
}

// NewState returns the turn-0 state for the configured board.
func (c Config) NewState() (*state.State, error) {
	m, err := c.Map()
	if err != nil {
		return nil, err
	}
	return state.NewOnMap(m), nil
}

func (c Config) MinTurnInterval() time.Duration {
	return time.Duration(c.MinTurnIntervalMs) * time.Millisecond
}

// Digest identifies the effective config. Clients compare it against the
// server's to catch mismatched builds before the first checksum does.
func (c Config) Digest() string {
	b, _ := json.Marshal(c)
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// ApplyEnv overrides fields from GB_* environment variables.
func (c *Config) ApplyEnv(getenv func(string) string) error {
	ints := []struct {
		key string
		dst *int
	}{
		{"GB_MIN_TURN_INTERVAL_MS", &c.MinTurnIntervalMs},
		{"GB_SNAPSHOT_EVERY_TURNS", &c.SnapshotEveryTurns},
		{"GB_MAX_ACTIONS_PER_TURN", &c.MaxActionsPerTurn},
		{"GB_HANDSHAKE_BURST", &c.HandshakeBurst},
	}
	for _, e := range ints {
		v := strings.TrimSpace(getenv(e.key))
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: %w", e.key, err)
		}
		*e.dst = n
	}
	if v := strings.TrimSpace(getenv("GB_HANDSHAKE_RATE_PER_SEC")); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("GB_HANDSHAKE_RATE_PER_SEC: %w", err)
		}
		c.HandshakeRatePerSec = f
	}
	return c.Validate()
}
