// Package replay re-runs a recorded turn log against a starting state and
// checks every recorded checksum.
package replay

import (
	"errors"
	"fmt"

	persistlog "goopbattle/internal/persistence/log"
	"goopbattle/internal/scheduler"
	"goopbattle/internal/sim/state"
)

type Options struct {
	// VerifyFrom skips checksum checks for turns before it. Zero checks
	// every replayed turn.
	VerifyFrom uint64
	// ToTurn stops after that turn. Zero replays the whole log.
	ToTurn uint64
}

type Result struct {
	Start   uint64
	End     uint64
	Checked uint64
}

type MismatchError struct {
	Turn uint64
	Got  uint64
	Want uint64
}

func (e *MismatchError) Error() string {
	return fmt.Sprintf("checksum mismatch at turn %d: got=%016x want=%016x", e.Turn, e.Got, e.Want)
}

var errDone = errors.New("replay: done")

// Run advances st through the entries in turnDir. Entries at or before st's
// turn are skipped, so a log that predates a snapshot is fine. A gap in the
// log is an error.
func Run(st *state.State, turnDir string, opts Options) (Result, error) {
	res := Result{Start: st.Turn(), End: st.Turn()}
	err := persistlog.ReadTurnLog(turnDir, func(e scheduler.TurnLogEntry) error {
		if e.Turn <= st.Turn() {
			return nil
		}
		if opts.ToTurn != 0 && e.Turn > opts.ToTurn {
			return errDone
		}
		if want := st.Turn() + 1; e.Turn != want {
			return fmt.Errorf("turn gap: want=%d got=%d", want, e.Turn)
		}
		for _, a := range e.Actions {
			st.TakeAction(a)
		}
		st.Advance()
		res.End = st.Turn()

		if e.Turn >= opts.VerifyFrom {
			res.Checked++
			if got := st.Checksum(); got != e.Checksum {
				return &MismatchError{Turn: e.Turn, Got: got, Want: e.Checksum}
			}
		}
		return nil
	})
	if errors.Is(err, errDone) {
		err = nil
	}
	return res, err
}
