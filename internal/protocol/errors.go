package protocol

import "fmt"

const (
	// Protocol/transport validation.
	ErrProtoBadRequest = "E_PROTO_BAD_REQUEST"
	ErrProtoVersion    = "E_PROTO_VERSION"

	// Turn barrier.
	ErrTurnMismatch  = "E_TURN_MISMATCH"
	ErrDuplicate     = "E_DUPLICATE"
	ErrUnknownPlayer = "E_UNKNOWN_PLAYER"
	ErrGameFull      = "E_GAME_FULL"

	ErrRateLimit = "E_RATE_LIMIT"
	ErrInternal  = "E_INTERNAL"
)

var knownCodes = map[string]struct{}{
	ErrProtoBadRequest: {},
	ErrProtoVersion:    {},
	ErrTurnMismatch:    {},
	ErrDuplicate:       {},
	ErrUnknownPlayer:   {},
	ErrGameFull:        {},
	ErrRateLimit:       {},
	ErrInternal:        {},
}

func IsKnownCode(code string) bool {
	if code == "" {
		return true
	}
	_, ok := knownCodes[code]
	return ok
}

// Error is a protocol violation reported by the peer. Sessions end on it;
// nothing tries to resynchronize.
type Error struct {
	Code    string
	Message string
}

func (e *Error) Error() string {
	if e.Message == "" {
		return "protocol: " + e.Code
	}
	return fmt.Sprintf("protocol: %s: %s", e.Code, e.Message)
}
