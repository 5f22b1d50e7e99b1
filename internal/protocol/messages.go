package protocol

// JOIN (client -> server)
type JoinMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	PlayerName      string `json:"player_name,omitempty"`
}

// ACTIONS (client -> server)
type ActionsMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	PlayerActions
}

// WELCOME (server -> client)
type WelcomeMsg struct {
	Type            string    `json:"type"`
	ProtocolVersion string    `json:"protocol_version"`
	Player          int       `json:"player"`
	SessionID       string    `json:"session_id,omitempty"`
	ConfigDigest    string    `json:"config_digest,omitempty"`
	State           GameState `json:"state"`
}

// GAME_FULL (server -> client)
type GameFullMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
}

// TURN (server -> client)
type TurnMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	CollectedActions
}

// ERROR (server -> client), sent before the server closes a session that
// broke the protocol.
type ErrorMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	Code            string `json:"code"`
	Message         string `json:"message,omitempty"`
}

// WATCH (spectator -> server)
type WatchMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
}

// SPECTATE (server -> spectator) carries the state TURN messages build on.
type SpectateMsg struct {
	Type            string    `json:"type"`
	ProtocolVersion string    `json:"protocol_version"`
	SessionID       string    `json:"session_id"`
	State           GameState `json:"state"`
}

// GameState is the full game state sent to a joining player. It is the only
// time state crosses the wire; afterwards players exchange actions only.
type GameState struct {
	// Board is [rows, cols].
	Board   [2]int     `json:"board"`
	Sources []int      `json:"sources"`
	Colors  [][3]uint8 `json:"colors"`

	// Nodes is indexed by node; nil means unclaimed.
	Nodes []*NodeState `json:"nodes"`

	RNG  [2]uint64 `json:"rng"`
	Turn uint64    `json:"turn"`
}

type NodeState struct {
	Player   int   `json:"player"`
	Goop     int   `json:"goop"`
	Outflows []int `json:"outflows"`
}

func NewJoin(name string) JoinMsg {
	return JoinMsg{Type: TypeJoin, ProtocolVersion: Version, PlayerName: name}
}

func NewActions(pa PlayerActions) ActionsMsg {
	if pa.Actions == nil {
		pa.Actions = []Action{}
	}
	return ActionsMsg{Type: TypeActions, ProtocolVersion: Version, PlayerActions: pa}
}

func NewTurn(ca CollectedActions) TurnMsg {
	if ca.Actions == nil {
		ca.Actions = []Action{}
	}
	return TurnMsg{Type: TypeTurn, ProtocolVersion: Version, CollectedActions: ca}
}

func NewGameFull() GameFullMsg {
	return GameFullMsg{Type: TypeGameFull, ProtocolVersion: Version}
}

func NewError(code, message string) ErrorMsg {
	return ErrorMsg{Type: TypeError, ProtocolVersion: Version, Code: code, Message: message}
}

func NewWatch() WatchMsg {
	return WatchMsg{Type: TypeWatch, ProtocolVersion: Version}
}

func NewSpectate(sessionID string, gs GameState) SpectateMsg {
	return SpectateMsg{Type: TypeSpectate, ProtocolVersion: Version, SessionID: sessionID, State: gs}
}
