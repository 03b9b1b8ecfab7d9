package layout

import (
	"fmt"
	"io/fs"
	"strings"
)

// FlatOmitPrefix implements 0006-flat-omit-prefix-storage-layout: the
// object root is whatever follows the last occurrence of Delimiter in id,
// matched case-insensitively but returned in the original casing.
type FlatOmitPrefix struct {
	Delimiter string `json:"delimiter"`
}

func (FlatOmitPrefix) Name() string { return "0006-flat-omit-prefix-storage-layout" }

func (l FlatOmitPrefix) Resolve(id string) (string, error) {
	if l.Delimiter == "" {
		return "", fmt.Errorf("missing required layout configuration: delimiter")
	}
	dir := id
	lowerID := strings.ToLower(id)
	lowerDelim := strings.ToLower(l.Delimiter)
	if offset := strings.LastIndex(lowerID, lowerDelim); offset > -1 {
		dir = id[offset+len(l.Delimiter):]
	}
	if dir == "extensions" || dir == "" || !fs.ValidPath(dir) {
		return "", fmt.Errorf("object id %q is invalid for the flat-omit-prefix layout", id)
	}
	return dir, nil
}
