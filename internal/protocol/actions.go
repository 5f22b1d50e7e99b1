package protocol

import "fmt"

// Action kinds.
const (
	ActionToggleOutflow = "TOGGLE_OUTFLOW"
)

// Action is a single player request against the game state. The only kind
// today is TOGGLE_OUTFLOW: add To to From's outflows, or remove it if present.
type Action struct {
	Kind   string `json:"kind"`
	Player int    `json:"player"`
	From   int    `json:"from"`
	To     int    `json:"to"`
}

func ToggleOutflow(player, from, to int) Action {
	return Action{Kind: ActionToggleOutflow, Player: player, From: from, To: to}
}

func (a Action) String() string {
	return fmt.Sprintf("%s{player=%d from=%d to=%d}", a.Kind, a.Player, a.From, a.To)
}

// PlayerActions is what one player submits for one turn.
type PlayerActions struct {
	Player  int      `json:"player"`
	Turn    uint64   `json:"turn"`
	Actions []Action `json:"actions"`
}

// CollectedActions is the scheduler's verdict for a turn: every player's
// actions in application order, and the checksum of the state they produce.
type CollectedActions struct {
	// Turn is the turn these actions produce when applied.
	Turn          uint64   `json:"turn"`
	Actions       []Action `json:"actions"`
	StateChecksum uint64   `json:"state_checksum"`
}
