// Package chainerr defines the error kinds surfaced by the fork-aware state
// engine and their recovery policy, per the error-handling design.
package chainerr

import "github.com/pkg/errors"

// Kind is the sum type of error categories the core can surface.
type Kind int

const (
	// InvalidBlock: the digest could not parse required fields. The block
	// is rejected; no state change occurs.
	InvalidBlock Kind = iota
	// OrphanBlock: the parent is unknown. The block is queued in the
	// side-buffer; the tree is unchanged.
	OrphanBlock
	// UnderflowNotPermitted: a diff would go negative in strict mode.
	UnderflowNotPermitted
	// CanonicityDivergence: the replayed log disagrees with the computed
	// canonical chain. Fatal.
	CanonicityDivergence
	// ReconstructDivergence: best-tip computed during replay disagrees
	// with the logged best tip. Fatal.
	ReconstructDivergence
	// StoreCorruption: a KV read returned malformed bytes for a key the
	// core wrote. Fatal.
	StoreCorruption
	// StoreWriteFailed: a batch commit failed. Recoverable: caller rolls
	// back in-memory state, retries once, then surfaces.
	StoreWriteFailed
	// UnknownEvent: the event log contains a variant newer than this
	// binary understands. Fatal: refuse to start.
	UnknownEvent
)

func (k Kind) String() string {
	switch k {
	case InvalidBlock:
		return "InvalidBlock"
	case OrphanBlock:
		return "OrphanBlock"
	case UnderflowNotPermitted:
		return "UnderflowNotPermitted"
	case CanonicityDivergence:
		return "CanonicityDivergence"
	case ReconstructDivergence:
		return "ReconstructDivergence"
	case StoreCorruption:
		return "StoreCorruption"
	case StoreWriteFailed:
		return "StoreWriteFailed"
	case UnknownEvent:
		return "UnknownEvent"
	default:
		return "Unknown"
	}
}

// Fatal reports whether an error of this kind should abort the process
// rather than be handled locally by the caller.
func (k Kind) Fatal() bool {
	switch k {
	case CanonicityDivergence, ReconstructDivergence, StoreCorruption, UnknownEvent:
		return true
	default:
		return false
	}
}

// Error wraps an underlying cause with a Kind so callers can branch on
// category without string-matching messages.
type Error struct {
	Kind  Kind
	cause error
}

func (e *Error) Error() string {
	if e.cause == nil {
		return e.Kind.String()
	}
	return e.Kind.String() + ": " + e.cause.Error()
}

func (e *Error) Unwrap() error { return e.cause }

// Fatal reports whether this error should abort the process.
func (e *Error) Fatal() bool { return e.Kind.Fatal() }

// New constructs a chainerr.Error of the given kind wrapping msg.
func New(kind Kind, msg string) error {
	return &Error{Kind: kind, cause: errors.New(msg)}
}

// Wrap constructs a chainerr.Error of the given kind wrapping an existing
// error with additional context, preserving the original cause via
// github.com/pkg/errors so %+v still prints a stack trace.
func Wrap(kind Kind, err error, msg string) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, cause: errors.Wrap(err, msg)}
}

// Is reports whether err is a *Error of the given kind.
func Is(err error, kind Kind) bool {
	var ce *Error
	for err != nil {
		if e, ok := err.(*Error); ok {
			ce = e
			break
		}
		err = errors.Unwrap(err)
	}
	return ce != nil && ce.Kind == kind
}

// IsFatal reports whether err (if a *Error) demands process termination.
func IsFatal(err error) bool {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Fatal()
	}
	return false
}
