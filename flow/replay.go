package flow

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// ReplayStrictness controls what ReplayCheck does when it finds that the
// inputs about to be replayed for an action differ from the inputs
// recorded for that action's last completed execution.
type ReplayStrictness int

const (
	// ReplayLenient reports the mismatch via Registry.OnWarning and lets
	// the caller proceed; ReplayCheck returns (true, nil). This is the
	// default.
	ReplayLenient ReplayStrictness = iota
	// ReplayStrict returns a ReplayMismatchError instead of proceeding.
	ReplayStrict
)

// ReplayMismatchError reports that the inputs passed for action do not
// match the inputs recorded the last time action completed, under
// ReplayStrict.
type ReplayMismatchError struct {
	Action string
	Code   string
}

func (e *ReplayMismatchError) Error() string {
	return fmt.Sprintf("[%s] replay mismatch on action %q: inputs differ from the last recorded execution", e.Code, e.Action)
}

// hashInputs returns a stable hex-encoded SHA-256 digest of inputs'
// JSON encoding, or "" if inputs cannot be marshaled (in which case
// ReplayCheck never flags a mismatch for that call).
func hashInputs(inputs map[string]any) string {
	data, err := json.Marshal(inputs)
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// ReplayCheck compares inputs against the inputs recorded for action the
// last time it completed a step (whether in this process or, if a
// persister is attached, a prior one). It is meant for callers resuming an
// Application from an at-least-once delivery source (a task queue, an
// outbox consumer) who want to detect that the message they are about to
// replay was already applied.
//
// ReplayCheck reports ok=true whenever there is nothing to compare
// against: action differs from the last completed action, no step has
// completed yet, or the prior inputs could not be hashed. When action
// matches and the hashes differ, behavior follows the Application's
// ReplayStrictness: ReplayLenient warns and reports ok=true; ReplayStrict
// returns ok=false and a *ReplayMismatchError.
func (app *Application) ReplayCheck(action string, inputs map[string]any) (bool, error) {
	app.mu.Lock()
	lastAction, lastHash := app.lastAction, app.lastInputHash
	strictness := app.opts.replayStrictness
	app.mu.Unlock()

	if lastAction == "" || lastAction != action || lastHash == "" {
		return true, nil
	}
	if hashInputs(inputs) == lastHash {
		return true, nil
	}

	if strictness == ReplayStrict {
		return false, &ReplayMismatchError{Action: action, Code: "REPLAY_MISMATCH"}
	}
	app.warn(fmt.Sprintf("replay mismatch on action %q: inputs differ from the last recorded execution", action))
	return true, nil
}
