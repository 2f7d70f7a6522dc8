package memory

import "errors"

// ErrInvalidHandle is returned when a handle does not name the open turn.
var ErrInvalidHandle = errors.New("invalid turn handle")

// StateError reports misuse of the turn lifecycle, such as opening a second
// turn while one is in flight. It is a programming error, not a user error.
type StateError struct {
	Op  string
	Msg string
}

func (e *StateError) Error() string {
	return "memory: " + e.Op + ": " + e.Msg
}

// IsStateError reports whether err is or wraps a *StateError.
func IsStateError(err error) bool {
	var se *StateError
	return errors.As(err, &se)
}
