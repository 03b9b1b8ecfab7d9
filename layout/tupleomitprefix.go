package layout

import (
	"fmt"
	"path"
	"strings"
)

// TupleOmitPrefix implements 0007-n-tuple-omit-prefix-storage-layout: the
// object root is n tuples of t characters taken from the (optionally
// padded and reversed) suffix of id after its last Delimiter, followed by
// the suffix itself as a final path segment.
type TupleOmitPrefix struct {
	Delimiter string `json:"delimiter"`
	TupleSize int    `json:"tupleSize"`
	TupleNum  int    `json:"numberOfTuples"`
	Padding   string `json:"zeroPadding"` // "left" or "right"
	Reverse   bool   `json:"reverseObjectRoot"`
}

func (TupleOmitPrefix) Name() string { return "0007-n-tuple-omit-prefix-storage-layout" }

func (l TupleOmitPrefix) valid() error {
	if l.TupleSize < 1 {
		return fmt.Errorf("invalid tupleSize: %d", l.TupleSize)
	}
	if l.TupleNum < 1 {
		return fmt.Errorf("invalid numberOfTuples: %d", l.TupleNum)
	}
	if l.Padding != "left" && l.Padding != "right" {
		return fmt.Errorf("invalid zeroPadding: %q (must be left or right)", l.Padding)
	}
	return nil
}

func (l TupleOmitPrefix) Resolve(id string) (string, error) {
	if err := l.valid(); err != nil {
		return "", err
	}
	for i := 0; i < len(id); i++ {
		if id[i] < 0x20 || id[i] > 0x7f {
			return "", fmt.Errorf("object id %q contains non-ASCII characters, invalid for this layout", id)
		}
	}

	suffix := id
	if idx := strings.LastIndex(id, l.Delimiter); idx > 0 {
		prefix := id[:idx+len(l.Delimiter)]
		if prefix == id {
			return "", fmt.Errorf("object id %q has no content after the delimiter", id)
		}
		suffix = strings.TrimPrefix(id, prefix)
	}
	if suffix == "" || strings.Contains(suffix, "/") {
		return "", fmt.Errorf("object id %q is invalid for this layout", id)
	}

	size := l.TupleNum * l.TupleSize
	padded := suffix
	if padLen := size - len(padded); padLen > 0 {
		pad := strings.Repeat("0", padLen)
		if l.Padding == "left" {
			padded = pad + padded
		} else {
			padded = padded + pad
		}
	}
	if l.Reverse {
		padded = reverseString(padded)
	}

	tuples := ""
	for i := 0; i < l.TupleNum; i++ {
		tuples = path.Join(tuples, padded[i*l.TupleSize:(i+1)*l.TupleSize])
	}
	return path.Join(tuples, suffix), nil
}

func reverseString(s string) string {
	r := []rune(s)
	for i, j := 0, len(r)-1; i < j; i, j = i+1, j-1 {
		r[i], r[j] = r[j], r[i]
	}
	return string(r)
}
