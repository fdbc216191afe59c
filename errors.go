package entrysync

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrConflict reports that a record changed between read and commit.
	ErrConflict = errors.New("entrysync: concurrent modification")
	// ErrNotFound is returned by a Resolver when no record exists for a path.
	ErrNotFound = errors.New("entrysync: record not found")

	ErrNilProducer = errors.New("entrysync: producer is required")
)

// IOError wraps a Producer failure. It aborts the episode without retry.
type IOError struct {
	Path Path
	Err  error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("produce %s: %v", e.Path, e.Err)
}

func (e *IOError) Unwrap() error { return e.Err }

// ExhaustedError is the terminal outcome of an episode whose every attempt
// conflicted. It still matches ErrConflict.
type ExhaustedError struct {
	Attempts int
	Err      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("gave up after %d attempts: %v", e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() error { return e.Err }

// ErrorKind is the handling class of an episode error.
type ErrorKind int

const (
	KindNone ErrorKind = iota
	KindConflict
	KindIO
	KindInterrupted
	KindOther
)

func (k ErrorKind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindConflict:
		return "conflict"
	case KindIO:
		return "io"
	case KindInterrupted:
		return "interrupted"
	default:
		return "other"
	}
}

// Classify maps err onto its ErrorKind. Interruption wins over everything
// else, then conflicts, then producer failures.
func Classify(err error) ErrorKind {
	if err == nil {
		return KindNone
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return KindInterrupted
	}
	if errors.Is(err, ErrConflict) {
		return KindConflict
	}
	var ioe *IOError
	if errors.As(err, &ioe) {
		return KindIO
	}
	return KindOther
}

func IsConflict(err error) bool { return Classify(err) == KindConflict }
