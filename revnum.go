package ocfl

import (
	"fmt"
	"strconv"
)

// RevisionNum is a mutable-HEAD revision number ("r1", "r2", ...), used only
// within extensions/0005-mutable-head. Unlike VersionNum it is never padded.
type RevisionNum struct {
	num int
}

// R constructs a RevisionNum.
func R(num int) RevisionNum { return RevisionNum{num: num} }

// FirstRevision is r1, the first revision of a new mutable HEAD.
var FirstRevision = RevisionNum{num: 1}

// ParseRevisionNum parses s (e.g. "r4") as a RevisionNum.
func ParseRevisionNum(s string) (RevisionNum, error) {
	if len(s) < 2 || s[0] != 'r' {
		return RevisionNum{}, fmt.Errorf("invalid revision number: %s", s)
	}
	n, err := strconv.Atoi(s[1:])
	if err != nil || n <= 0 {
		return RevisionNum{}, fmt.Errorf("invalid revision number: %s", s)
	}
	return RevisionNum{num: n}, nil
}

// Num returns the revision's sequence number.
func (r RevisionNum) Num() int { return r.num }

// Next returns the revision following r.
func (r RevisionNum) Next() RevisionNum { return RevisionNum{num: r.num + 1} }

// IsZero reports whether r is the zero value (no revision).
func (r RevisionNum) IsZero() bool { return r.num == 0 }

// String renders r as "rN".
func (r RevisionNum) String() string { return fmt.Sprintf("r%d", r.num) }
