package layout

import (
	"fmt"
	"io/fs"
	"strings"
)

// Flat implements 0006-flat-layout: the object root is the id verbatim.
type Flat struct{}

func (Flat) Name() string { return "0006-flat-layout" }

// Resolve returns id unchanged, failing only when id is not usable as a
// single path segment under the storage backend (which always uses "/" as
// its separator).
func (Flat) Resolve(id string) (string, error) {
	if id == "" || !fs.ValidPath(id) || strings.Contains(id, "/") {
		return "", fmt.Errorf("object id %q is invalid for the flat layout", id)
	}
	return id, nil
}
