package digest

import "fmt"

// MismatchError reports a digest computed from a stream that does not match
// the value declared for it (a fixity or manifest check failure).
type MismatchError struct {
	Alg      string
	Got      string
	Expected string
}

func (e *MismatchError) Error() string {
	return fmt.Sprintf("digest mismatch (%s): expected %s, got %s", e.Alg, e.Expected, e.Got)
}

// ConflictError reports a digest whose hex value has two differently-cased
// representations within the same map. Two different digests claiming the
// same path are reported as a PathConflictError instead.
type ConflictError struct {
	Path   string
	Digest string
	Reason string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("digest conflict: path %q: %s (%s)", e.Path, e.Reason, e.Digest)
}

// PathConflictError reports a logical path that collides with another path
// already present in the map: either an exact duplicate, or one path naming
// a directory that another path also claims as a plain file (e.g. "a" and
// "a/b" cannot coexist).
type PathConflictError struct {
	Path   string
	Reason string
}

func (e *PathConflictError) Error() string {
	return fmt.Sprintf("path conflict: %q: %s", e.Path, e.Reason)
}

// PathInvalidError reports a path that fails the structural rules common to
// every OCFL logical and content path: no empty segments, no ".", no "..",
// no leading/trailing slash, no backslash.
type PathInvalidError struct {
	Path   string
	Reason string
}

func (e *PathInvalidError) Error() string {
	return fmt.Sprintf("invalid path %q: %s", e.Path, e.Reason)
}
