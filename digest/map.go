package digest

import (
	"encoding/json"
	"path"
	"sort"
	"strings"
	"sync"
)

// Set is a collection of digest values for one content item, keyed by
// algorithm name, e.g. {"sha512": "...", "md5": "..."}.
type Set map[string]string

// Map is an OCFL digest map: a set of digests, each naming one or more
// content paths. It backs an inventory's manifest, a version's state, and
// each entry of its fixity block. The zero value is not usable; build one
// with NewMap or a MapMaker.
type Map struct {
	mu      sync.Mutex // guards reverse, which is built lazily
	digests map[string][]string
	reverse map[string]string // path -> digest, built on first lookup
}

// NewMap returns an empty Map.
func NewMap() *Map {
	return &Map{digests: map[string][]string{}}
}

// Len returns the number of distinct digests in m.
func (m *Map) Len() int {
	if m == nil {
		return 0
	}
	return len(m.digests)
}

// DigestPaths returns the paths associated with digest, or nil if digest
// isn't present.
func (m *Map) DigestPaths(digest string) []string {
	if m == nil {
		return nil
	}
	paths := m.digests[normalizeDigest(digest)]
	if paths == nil {
		return nil
	}
	out := make([]string, len(paths))
	copy(out, paths)
	return out
}

// GetDigest returns the digest associated with logicalPath, and whether it
// was found. Builds the reverse index on first call.
func (m *Map) GetDigest(logicalPath string) (string, bool) {
	if m == nil {
		return "", false
	}
	m.buildReverse()
	d, ok := m.reverse[logicalPath]
	return d, ok
}

// DigestExists reports whether digest is present in m.
func (m *Map) DigestExists(digest string) bool {
	if m == nil {
		return false
	}
	_, ok := m.digests[normalizeDigest(digest)]
	return ok
}

// AllDigests returns every digest value present in m.
func (m *Map) AllDigests() []string {
	if m == nil {
		return nil
	}
	out := make([]string, 0, len(m.digests))
	for d := range m.digests {
		out = append(out, d)
	}
	sort.Strings(out)
	return out
}

// AllPaths returns every logical path present in m, across every digest.
func (m *Map) AllPaths() []string {
	if m == nil {
		return nil
	}
	m.buildReverse()
	out := make([]string, 0, len(m.reverse))
	for p := range m.reverse {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// EachPath calls fn once for every (path, digest) pair in m, in sorted path
// order. Iteration stops early if fn returns false.
func (m *Map) EachPath(fn func(logicalPath, digest string) bool) {
	if m == nil {
		return
	}
	for _, p := range m.AllPaths() {
		d, _ := m.GetDigest(p)
		if !fn(p, d) {
			return
		}
	}
}

func (m *Map) buildReverse() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.reverse != nil {
		return
	}
	reverse := make(map[string]string, len(m.digests))
	for d, paths := range m.digests {
		for _, p := range paths {
			reverse[p] = d
		}
	}
	m.reverse = reverse
}

// Copy returns an independent copy of m.
func (m *Map) Copy() *Map {
	if m == nil {
		return NewMap()
	}
	cp := NewMap()
	for d, paths := range m.digests {
		cp.digests[d] = append([]string(nil), paths...)
	}
	return cp
}

func normalizeDigest(d string) string { return strings.ToLower(d) }

// MarshalJSON renders m the way an OCFL inventory does: digest -> []path.
func (m *Map) MarshalJSON() ([]byte, error) {
	if m == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(m.digests)
}

func (m *Map) UnmarshalJSON(b []byte) error {
	var raw map[string][]string
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	mk := NewMapMaker()
	for d, paths := range raw {
		for _, p := range paths {
			if err := mk.Add(d, p); err != nil {
				return err
			}
		}
	}
	built, err := mk.Map()
	if err != nil {
		return err
	}
	*m = *built
	return nil
}

// MapMaker incrementally builds a Map, validating each path as it is added
// and rejecting digest/path conflicts as early as possible. The zero value
// is not usable; use NewMapMaker.
type MapMaker struct {
	digests     map[string][]string
	files       map[string]string      // path -> digest, detects duplicate/overwritten paths
	dirs        map[string]struct{}     // every directory implied by an added path
	normDigests map[string]string       // lowercased digest -> original casing seen
}

// NewMapMaker returns an empty MapMaker.
func NewMapMaker() *MapMaker {
	return &MapMaker{
		digests:     map[string][]string{},
		files:       map[string]string{},
		dirs:        map[string]struct{}{},
		normDigests: map[string]string{},
	}
}

// Add associates logicalPath with digest, validating the path and checking
// for conflicts with paths already added. Digest casing is normalized to
// lowercase in the built Map, but two different casings of what should be
// the same digest value are treated as a conflict, since they almost always
// indicate separately-computed and possibly-divergent values.
func (mk *MapMaker) Add(digest, logicalPath string) error {
	if err := ValidatePath(logicalPath); err != nil {
		return err
	}
	norm := normalizeDigest(digest)
	if prev, ok := mk.normDigests[norm]; ok && prev != digest {
		return &ConflictError{Path: logicalPath, Digest: digest, Reason: "same digest seen with different casing"}
	}
	mk.normDigests[norm] = digest

	if existing, ok := mk.files[logicalPath]; ok {
		if normalizeDigest(existing) == norm {
			return nil // duplicate add of the same path/digest pair is harmless
		}
		return &PathConflictError{Path: logicalPath, Reason: "path already claimed by a different digest"}
	}

	// A path cannot be both a file and an ancestor directory of another file.
	if _, isDir := mk.dirs[logicalPath]; isDir {
		return &PathConflictError{Path: logicalPath, Reason: "path is used as a directory by another entry"}
	}
	for _, dir := range parentDirs(logicalPath) {
		if _, isFile := mk.files[dir]; isFile {
			return &PathConflictError{Path: dir, Reason: "path is used both as a file and as a directory"}
		}
		mk.dirs[dir] = struct{}{}
	}

	mk.files[logicalPath] = digest
	mk.digests[norm] = append(mk.digests[norm], logicalPath)
	return nil
}

// Has reports whether digest has already been added to mk under any path.
func (mk *MapMaker) Has(digest string) bool {
	_, ok := mk.digests[normalizeDigest(digest)]
	return ok
}

// Paths returns the paths currently associated with digest, or nil if none.
func (mk *MapMaker) Paths(digest string) []string {
	paths := mk.digests[normalizeDigest(digest)]
	if paths == nil {
		return nil
	}
	out := make([]string, len(paths))
	copy(out, paths)
	return out
}

// Remove deletes logicalPath from the builder, if present.
func (mk *MapMaker) Remove(logicalPath string) {
	digest, ok := mk.files[logicalPath]
	if !ok {
		return
	}
	delete(mk.files, logicalPath)
	norm := normalizeDigest(digest)
	paths := mk.digests[norm]
	for i, p := range paths {
		if p == logicalPath {
			paths = append(paths[:i], paths[i+1:]...)
			break
		}
	}
	if len(paths) == 0 {
		delete(mk.digests, norm)
		delete(mk.normDigests, norm)
	} else {
		mk.digests[norm] = paths
	}
}

// Map finalizes the builder into an immutable Map. Paths within each digest
// are sorted for deterministic JSON output.
func (mk *MapMaker) Map() (*Map, error) {
	out := NewMap()
	for d, paths := range mk.digests {
		sorted := append([]string(nil), paths...)
		sort.Strings(sorted)
		out.digests[d] = sorted
	}
	return out, nil
}

// parentDirs returns every ancestor directory of p, e.g. for "a/b/c.txt":
// ["a", "a/b"].
func parentDirs(p string) []string {
	var dirs []string
	dir := path.Dir(p)
	for dir != "." && dir != "/" {
		dirs = append(dirs, dir)
		dir = path.Dir(dir)
	}
	return dirs
}

// ValidatePath checks that p satisfies the structural rules shared by every
// OCFL logical and content path: forward slashes, no "." or ".." segments,
// no empty segments, no leading slash.
func ValidatePath(p string) error {
	if p == "" {
		return &PathInvalidError{Path: p, Reason: "empty path"}
	}
	if strings.HasPrefix(p, "/") || strings.HasSuffix(p, "/") {
		return &PathInvalidError{Path: p, Reason: "leading or trailing slash"}
	}
	if strings.Contains(p, "\\") {
		return &PathInvalidError{Path: p, Reason: "backslash not allowed"}
	}
	for _, seg := range strings.Split(p, "/") {
		switch seg {
		case "":
			return &PathInvalidError{Path: p, Reason: "empty path segment"}
		case ".", "..":
			return &PathInvalidError{Path: p, Reason: "relative path segment"}
		}
	}
	return nil
}
