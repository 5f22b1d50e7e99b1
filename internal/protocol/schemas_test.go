package protocol_test

import (
	"encoding/json"
	"testing"

	"goopbattle/internal/protocol"
)

func TestSchemas_ValidateSamples(t *testing.T) {
	v, err := protocol.NewValidator()
	if err != nil {
		t.Fatalf("NewValidator: %v", err)
	}

	validate := func(typ, raw string) {
		t.Helper()
		if err := v.Validate(typ, []byte(raw)); err != nil {
			t.Fatalf("validate %s: %v", typ, err)
		}
	}

	validate(protocol.TypeJoin, `{"type":"JOIN","protocol_version":"1.0","player_name":"bot1"}`)
	validate(protocol.TypeActions, `{
	  "type":"ACTIONS",
	  "protocol_version":"1.0",
	  "player":1,
	  "turn":7,
	  "actions":[{"kind":"TOGGLE_OUTFLOW","player":1,"from":3,"to":4}]
	}`)
	validate(protocol.TypeWelcome, `{
	  "type":"WELCOME",
	  "protocol_version":"1.0",
	  "player":1,
	  "session_id":"0b7c6f0e-6d5c-4a51-9d43-1a3b2c4d5e6f",
	  "state":{
	    "board":[1,2],
	    "sources":[0,1],
	    "colors":[[255,0,0],[0,0,255]],
	    "nodes":[{"player":0,"goop":3,"outflows":null},{"player":1,"goop":15,"outflows":[0]}],
	    "rng":[14815977375402871207,5044288420470579961],
	    "turn":3
	  }
	}`)
	validate(protocol.TypeGameFull, `{"type":"GAME_FULL","protocol_version":"1.0"}`)
	validate(protocol.TypeTurn, `{"type":"TURN","protocol_version":"1.0","turn":1,"actions":[],"state_checksum":18446744073709551615}`)
	validate(protocol.TypeError, `{"type":"ERROR","protocol_version":"1.0","code":"E_TURN_MISMATCH","message":"x"}`)
	validate(protocol.TypeWatch, `{"type":"WATCH","protocol_version":"1.0"}`)
}

func TestSchemas_RejectBadMessages(t *testing.T) {
	v, err := protocol.NewValidator()
	if err != nil {
		t.Fatalf("NewValidator: %v", err)
	}
	bad := map[string]string{
		"negative turn":  `{"type":"ACTIONS","protocol_version":"1.0","player":0,"turn":-1,"actions":[]}`,
		"unknown action": `{"type":"ACTIONS","protocol_version":"1.0","player":0,"turn":0,"actions":[{"kind":"NUKE","player":0,"from":0,"to":1}]}`,
		"missing player": `{"type":"ACTIONS","protocol_version":"1.0","turn":0,"actions":[]}`,
		"goop too high":  `{"type":"WELCOME","protocol_version":"1.0","player":0,"state":{"board":[1,1],"sources":[0],"colors":[[0,0,0]],"nodes":[{"player":0,"goop":16,"outflows":[]}],"rng":[1,2],"turn":0}}`,
	}
	for name, raw := range bad {
		base, err := protocol.DecodeBase([]byte(raw))
		if err != nil {
			t.Fatalf("%s: DecodeBase: %v", name, err)
		}
		if err := v.Validate(base.Type, []byte(raw)); err == nil {
			t.Fatalf("%s: expected validation error", name)
		}
	}
	if err := v.Validate("OBS", []byte(`{}`)); err == nil {
		t.Fatalf("expected error for unknown message type")
	}
}

func TestSchemas_EncodedMessagesValidate(t *testing.T) {
	v, err := protocol.NewValidator()
	if err != nil {
		t.Fatalf("NewValidator: %v", err)
	}
	msgs := map[string]any{
		protocol.TypeJoin:     protocol.NewJoin("p"),
		protocol.TypeActions:  protocol.NewActions(protocol.PlayerActions{Player: 0, Turn: 0}),
		protocol.TypeTurn:     protocol.NewTurn(protocol.CollectedActions{Turn: 1, StateChecksum: 42}),
		protocol.TypeGameFull: protocol.NewGameFull(),
		protocol.TypeError:    protocol.NewError(protocol.ErrDuplicate, "again"),
		protocol.TypeWatch:    protocol.NewWatch(),
		protocol.TypeSpectate: protocol.NewSpectate("S1", protocol.GameState{
			Board:   [2]int{1, 2},
			Sources: []int{0, 1},
			Colors:  [][3]uint8{{1, 2, 3}, {4, 5, 6}},
			Nodes:   []*protocol.NodeState{nil, {Player: 1, Goop: 2, Outflows: []int{0}}},
			RNG:     [2]uint64{1, 2},
		}),
	}
	for typ, m := range msgs {
		b, err := json.Marshal(m)
		if err != nil {
			t.Fatalf("marshal %s: %v", typ, err)
		}
		if err := v.Validate(typ, b); err != nil {
			t.Fatalf("%s: %v (%s)", typ, err, b)
		}
	}
}
