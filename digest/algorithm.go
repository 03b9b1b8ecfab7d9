// Package digest implements the OCFL digest algorithms and the DigestMap
// data structure used to represent an inventory's manifest, version states,
// and fixity blocks.
package digest

import (
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"sync"

	"golang.org/x/crypto/blake2b"
)

// Algorithm names recognized by the spec.
const (
	SHA512     = "sha512"
	SHA256     = "sha256"
	SHA1       = "sha1"
	MD5        = "md5"
	SHA512_256 = "sha512/256"
	BLAKE2B160 = "blake2b-160"
	BLAKE2B256 = "blake2b-256"
	BLAKE2B384 = "blake2b-384"
	BLAKE2B512 = "blake2b-512"
)

// ContentDigestAlgorithms are the only algorithms legal for an inventory's
// top-level digestAlgorithm field; every other registered algorithm may only
// appear inside the optional fixity block.
var ContentDigestAlgorithms = map[string]bool{
	SHA512: true,
	SHA256: true,
}

// hexLength is the fixed hex-encoded digest length for each algorithm.
var hexLength = map[string]int{
	SHA512:     128,
	SHA256:     64,
	SHA1:       40,
	MD5:        32,
	SHA512_256: 64,
	BLAKE2B160: 40,
	BLAKE2B256: 64,
	BLAKE2B384: 96,
	BLAKE2B512: 128,
}

// HexLength returns the expected hex-encoded digest length for alg, and
// whether alg is known.
func HexLength(alg string) (int, bool) {
	n, ok := hexLength[alg]
	return n, ok
}

// Digester is a streaming hash that produces a hex-encoded digest value.
type Digester interface {
	io.Writer
	String() string
}

type hashDigester struct{ hash.Hash }

func (h hashDigester) String() string { return hex.EncodeToString(h.Sum(nil)) }

var (
	builtin = map[string]func() Digester{
		SHA512:     func() Digester { return hashDigester{sha512.New()} },
		SHA256:     func() Digester { return hashDigester{sha256.New()} },
		SHA1:       func() Digester { return hashDigester{sha1.New()} },
		MD5:        func() Digester { return hashDigester{md5.New()} },
		SHA512_256: func() Digester { return hashDigester{sha512.New512_256()} },
		BLAKE2B160: func() Digester { return hashDigester{mustBlake2b(20)} },
		BLAKE2B256: func() Digester { return hashDigester{mustBlake2b(32)} },
		BLAKE2B384: func() Digester { return hashDigester{mustBlake2b(48)} },
		BLAKE2B512: func() Digester { return hashDigester{mustBlake2b(64)} },
	}

	registerMu sync.RWMutex
	registered = map[string]func() Digester{}
)

func mustBlake2b(size int) hash.Hash {
	h, err := blake2b.New(size, nil)
	if err != nil {
		panic(fmt.Sprintf("digest: blake2b-%d: %s", size*8, err))
	}
	return h
}

// Register adds a Digester constructor for a non-built-in algorithm name.
// Built-in algorithm names cannot be overridden.
func Register(alg string, newDigester func() Digester) {
	if _, ok := builtin[alg]; ok {
		return
	}
	registerMu.Lock()
	defer registerMu.Unlock()
	if _, ok := registered[alg]; !ok {
		registered[alg] = newDigester
	}
}

// New returns a new Digester for alg, or nil if alg is unknown.
func New(alg string) Digester {
	if newDigester, ok := builtin[alg]; ok {
		return newDigester()
	}
	registerMu.RLock()
	defer registerMu.RUnlock()
	if newDigester, ok := registered[alg]; ok {
		return newDigester()
	}
	return nil
}

// Algorithms returns the names of every built-in and registered algorithm.
func Algorithms() []string {
	registerMu.RLock()
	defer registerMu.RUnlock()
	algs := make([]string, 0, len(builtin)+len(registered))
	for a := range builtin {
		algs = append(algs, a)
	}
	for a := range registered {
		algs = append(algs, a)
	}
	return algs
}

// MultiDigester computes several algorithms' digests from a single pass over
// a stream of bytes.
type MultiDigester struct {
	io.Writer
	digesters map[string]Digester
}

// NewMulti returns a MultiDigester for the given algorithm names, silently
// skipping any name digest.New doesn't recognize.
func NewMulti(algs ...string) *MultiDigester {
	writers := make([]io.Writer, 0, len(algs))
	digesters := make(map[string]Digester, len(algs))
	for _, alg := range algs {
		if d := New(alg); d != nil {
			digesters[alg] = d
			writers = append(writers, d)
		}
	}
	if len(writers) == 0 {
		return &MultiDigester{Writer: io.Discard}
	}
	return &MultiDigester{Writer: io.MultiWriter(writers...), digesters: digesters}
}

// Sum returns the digest for alg, or "" if alg wasn't requested.
func (m *MultiDigester) Sum(alg string) string {
	if d := m.digesters[alg]; d != nil {
		return d.String()
	}
	return ""
}

// Sums returns every computed digest as a Set.
func (m *MultiDigester) Sums() Set {
	set := make(Set, len(m.digesters))
	for alg, d := range m.digesters {
		set[alg] = d.String()
	}
	return set
}

// Validate digests r and returns a *MismatchError if any algorithm in want
// doesn't match the computed value.
func Validate(r io.Reader, want Set) error {
	algs := make([]string, 0, len(want))
	for alg := range want {
		algs = append(algs, alg)
	}
	md := NewMulti(algs...)
	if _, err := io.Copy(md, r); err != nil {
		return err
	}
	got := md.Sums()
	for alg, exp := range want {
		if g := got[alg]; !equalFold(g, exp) {
			return &MismatchError{Alg: alg, Got: g, Expected: exp}
		}
	}
	return nil
}

func equalFold(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := 0; i < len(a); i++ {
		ca, cb := a[i], b[i]
		if 'A' <= ca && ca <= 'Z' {
			ca += 'a' - 'A'
		}
		if 'A' <= cb && cb <= 'Z' {
			cb += 'a' - 'A'
		}
		if ca != cb {
			return false
		}
	}
	return true
}
