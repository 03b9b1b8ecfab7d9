package ocfl

import (
	"fmt"
	"math"
	"sort"
	"strconv"
)

var (
	ErrVNumInvalid = fmt.Errorf("invalid version number")
	ErrVNumPadding = fmt.Errorf("inconsistent version padding in version sequence")
	ErrVNumMissing = fmt.Errorf("missing version in version sequence")
	ErrVNumEmpty   = fmt.Errorf("no versions found")

	// HeadVersion is the zero-value VersionNum, used by some functions to
	// mean "the most recent version".
	HeadVersion = VersionNum{}
)

// VersionNum is an OCFL object version number, e.g. "v1" or "v02". It
// carries both the sequence number and the zero-padding width used to print
// it, since both are significant to OCFL: every version number in an
// object's inventory must share the same width.
type VersionNum struct {
	num     int
	padding int
}

// V constructs a VersionNum from a sequence number and an optional padding
// width (default 0, meaning unpadded).
func V(num int, padding ...int) VersionNum {
	v := VersionNum{num: num}
	if len(padding) > 0 {
		v.padding = padding[0]
	}
	return v
}

// ParseVNum parses s (e.g. "v3", "v003") as a VersionNum.
func ParseVNum(s string) (VersionNum, error) {
	var v VersionNum
	if len(s) < 2 || s[0] != 'v' {
		return v, fmt.Errorf("%s: %w", s, ErrVNumInvalid)
	}
	digits := s[1:]
	var nonzero bool
	for i := 0; i < len(digits); i++ {
		if digits[i] < '0' || digits[i] > '9' {
			return v, fmt.Errorf("%s: %w", s, ErrVNumInvalid)
		}
		if digits[i] != '0' {
			nonzero = true
		}
	}
	if !nonzero {
		return v, fmt.Errorf("%s: %w", s, ErrVNumInvalid)
	}
	n, err := strconv.Atoi(digits)
	if err != nil {
		return v, fmt.Errorf("%s: %w", s, ErrVNumInvalid)
	}
	v.num = n
	if digits[0] == '0' {
		v.padding = len(digits)
	}
	return v, nil
}

// MustParseVNum is like ParseVNum but panics on error. Useful in tests and
// static initializers.
func MustParseVNum(s string) VersionNum {
	v, err := ParseVNum(s)
	if err != nil {
		panic(err)
	}
	return v
}

// Num returns the sequence number (1, 2, 3, ...).
func (v VersionNum) Num() int { return v.num }

// Padding returns the zero-padding width, or 0 if unpadded.
func (v VersionNum) Padding() int { return v.padding }

// IsZero reports whether v is the zero value (HeadVersion).
func (v VersionNum) IsZero() bool { return v == HeadVersion }

// First reports whether v is version 1.
func (v VersionNum) First() bool { return v.num == 1 }

// Next returns the version after v, preserving v's padding width. It fails
// if incrementing would overflow the padding.
func (v VersionNum) Next() (VersionNum, error) {
	next := VersionNum{num: v.num + 1, padding: v.padding}
	if next.paddingOverflow() {
		return VersionNum{}, fmt.Errorf("next version: %w", ErrVNumInvalid)
	}
	return next, nil
}

// Previous returns the version before v, preserving padding. It fails for v1.
func (v VersionNum) Previous() (VersionNum, error) {
	if v.num <= 1 {
		return VersionNum{}, fmt.Errorf("version %s has no previous version", v)
	}
	return VersionNum{num: v.num - 1, padding: v.padding}, nil
}

// String renders v as "vN" or, with padding, "v0N".
func (v VersionNum) String() string {
	return fmt.Sprintf("v%0*d", v.padding, v.num)
}

// Valid reports whether v is a structurally valid version number.
func (v VersionNum) Valid() error {
	if v.num <= 0 || v.paddingOverflow() {
		return fmt.Errorf("%w: num=%d padding=%d", ErrVNumInvalid, v.num, v.padding)
	}
	return nil
}

func (v VersionNum) paddingOverflow() bool {
	return v.padding > 0 && v.num >= int(math.Pow10(v.padding-1))
}

func (v *VersionNum) UnmarshalText(text []byte) error {
	parsed, err := ParseVNum(string(text))
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}

func (v VersionNum) MarshalText() ([]byte, error) {
	if err := v.Valid(); err != nil {
		return nil, err
	}
	return []byte(v.String()), nil
}

// VersionNums is a sortable, validatable sequence of version numbers, used
// to check that an inventory's "versions" keys form a dense v1..head run
// with consistent padding.
type VersionNums []VersionNum

func (vs VersionNums) Len() int           { return len(vs) }
func (vs VersionNums) Less(i, j int) bool { return vs[i].num < vs[j].num }
func (vs VersionNums) Swap(i, j int)      { vs[i], vs[j] = vs[j], vs[i] }

// Valid reports whether vs is a dense v1..vN sequence with one padding width.
func (vs VersionNums) Valid() error {
	if len(vs) == 0 {
		return ErrVNumEmpty
	}
	sorted := append(VersionNums(nil), vs...)
	sort.Sort(sorted)
	padding := sorted[0].padding
	for i, v := range sorted {
		if v.num != i+1 {
			return fmt.Errorf("%w: expected %s", ErrVNumMissing, V(i+1, padding))
		}
		if v.padding != padding {
			return ErrVNumPadding
		}
	}
	return sorted.Head().Valid()
}

// Head returns the highest version number in vs.
func (vs VersionNums) Head() VersionNum {
	var head VersionNum
	for _, v := range vs {
		if v.num > head.num {
			head = v
		}
	}
	return head
}
