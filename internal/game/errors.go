package game

import (
	"errors"
	"fmt"
	"strings"

	"github.com/gridwars/gridwars-server-go/internal/game/rules"
)

var (
	// ErrSessionNotFound is returned for unknown session ids.
	ErrSessionNotFound = errors.New("session not found")
	// ErrInternal marks unexpected faults. The session is left unmodified.
	ErrInternal = errors.New("internal error")
	// ErrInvalidParams is returned when a session cannot be created as asked.
	ErrInvalidParams = errors.New("invalid session parameters")
	// ErrSessionClosed is returned when acting on a completed or abandoned session.
	ErrSessionClosed = errors.New("session is closed")
)

// ValidationError reports a rejected action with its stable codes.
type ValidationError struct {
	Result rules.Result
}

func (e *ValidationError) Error() string {
	codes := make([]string, 0, len(e.Result.Errors))
	for _, issue := range e.Result.Errors {
		codes = append(codes, string(issue.Code))
	}
	return fmt.Sprintf("action rejected: %s", strings.Join(codes, ", "))
}

// Unwrap exposes ErrInternal when the rejection came from a fault rather
// than from the rules.
func (e *ValidationError) Unwrap() error {
	if e.Result.Has(rules.CodeInternalError) {
		return ErrInternal
	}
	return nil
}

// Codes returns the rejection codes.
func (e *ValidationError) Codes() []rules.Code {
	return e.Result.Codes()
}

func internalError(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInternal, fmt.Sprintf(format, args...))
}
