package ocfl

import (
	"errors"
	"fmt"
)

// Kind categorizes an Error so callers (the façade, the validator) can
// branch on category with errors.As instead of string matching.
type Kind int8

const (
	_ Kind = iota
	// NotFound: object, version, or file does not exist.
	NotFound
	// ObjectOutOfSync: prior-inventory digest mismatch, or a version/revision
	// directory the writer is about to claim already exists.
	ObjectOutOfSync
	// CorruptObject: a structural assertion failed loading an object (missing
	// sidecar, id mismatch, malformed digest, ...).
	CorruptObject
	// FixityCheck: a stream's computed digest did not match the declared one.
	FixityCheck
	// Overwrite: caller attempted to add/move onto an existing logical path
	// without the overwrite flag.
	Overwrite
	// PathConstraint: a logical or content path violates a structural rule.
	PathConstraint
	// ExtensionUnsupported: an extension directory names an unrecognized
	// extension.
	ExtensionUnsupported
	// Input: a caller argument was nil, blank, or otherwise malformed.
	Input
	// State: the repository is closed, or an operation is invalid for the
	// object's current state (e.g. mutable HEAD active when not permitted).
	State
	// IO: a backend error not mapped to any of the above.
	IO
)

func (k Kind) String() string {
	switch k {
	case NotFound:
		return "not found"
	case ObjectOutOfSync:
		return "object out of sync"
	case CorruptObject:
		return "corrupt object"
	case FixityCheck:
		return "fixity check failed"
	case Overwrite:
		return "overwrite not permitted"
	case PathConstraint:
		return "path constraint violated"
	case ExtensionUnsupported:
		return "unsupported extension"
	case Input:
		return "invalid input"
	case State:
		return "invalid state"
	case IO:
		return "i/o error"
	default:
		return "error"
	}
}

// Error is the error type raised by every package in this module. Wrap a
// cause with NewError and match on Kind with errors.As.
type Error struct {
	Kind Kind
	Op   string // operation that failed, e.g. "addFile", "storeNewVersion"
	Err  error  // wrapped cause; may be nil
}

func NewError(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %s", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Is allows errors.Is(err, ErrNotFound) etc. to work against sentinel Kind
// values defined below.
func (e *Error) Is(target error) bool {
	var other *Error
	if errors.As(target, &other) {
		return e.Kind == other.Kind
	}
	return false
}

// Sentinels for errors.Is comparisons against a bare Kind, e.g.
// errors.Is(err, ocfl.ErrNotFound).
var (
	ErrNotFound              = &Error{Kind: NotFound}
	ErrObjectOutOfSync       = &Error{Kind: ObjectOutOfSync}
	ErrCorruptObject         = &Error{Kind: CorruptObject}
	ErrFixityCheck           = &Error{Kind: FixityCheck}
	ErrOverwrite             = &Error{Kind: Overwrite}
	ErrPathConstraint        = &Error{Kind: PathConstraint}
	ErrExtensionUnsupported  = &Error{Kind: ExtensionUnsupported}
	ErrInput                 = &Error{Kind: Input}
	ErrState                 = &Error{Kind: State}
	ErrIO                    = &Error{Kind: IO}
)
