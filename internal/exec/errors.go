package exec

import (
	"errors"
	"fmt"
)

// Kind classifies execution failures by severity.
type Kind int

const (
	// KindTransient errors may succeed on retry.
	KindTransient Kind = iota
	// KindRejected errors are terminal for this order.
	KindRejected
	// KindPartialFill means one leg is live while the other never
	// completed; the pair is unhedged until repaired.
	KindPartialFill
	// KindRollbackFailed means cleanup of a broken pair itself
	// failed. Most severe: requires repair and an operator alert.
	KindRollbackFailed
)

func (k Kind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindRejected:
		return "rejected"
	case KindPartialFill:
		return "partial_fill"
	case KindRollbackFailed:
		return "rollback_failed"
	}
	return "unknown"
}

// ErrNoAttempts is returned when the retry policy permits zero
// attempts; nothing was submitted.
var ErrNoAttempts = errors.New("retry policy allows no attempts")

type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func Transient(op string, err error) *Error {
	return &Error{Kind: KindTransient, Op: op, Err: err}
}

func Rejected(op string, err error) *Error {
	return &Error{Kind: KindRejected, Op: op, Err: err}
}

func PartialFill(op string, err error) *Error {
	return &Error{Kind: KindPartialFill, Op: op, Err: err}
}

func RollbackFailed(op string, err error) *Error {
	return &Error{Kind: KindRollbackFailed, Op: op, Err: err}
}

// KindOf extracts the classification from an error chain. Unclassified
// errors are treated as rejected so they are never retried blindly.
func KindOf(err error) Kind {
	var execErr *Error
	if errors.As(err, &execErr) {
		return execErr.Kind
	}
	return KindRejected
}

func IsTransient(err error) bool {
	return KindOf(err) == KindTransient
}
