package layout

import (
	"fmt"
	"strings"

	"github.com/ocflkit/ocflcore/digest"
)

// HashedNTuple implements 0003-hash-and-id-n-tuple-storage-layout: the
// object root is built from n tuples of t hex characters taken from the
// configured digest of id, followed by either the digest's remainder
// (ShortObjectRoot) or the digest in full.
type HashedNTuple struct {
	DigestAlgorithm string `json:"digestAlgorithm"`
	TupleSize       int    `json:"tupleSize"`
	TupleNum        int    `json:"numberOfTuples"`
	ShortObjectRoot bool   `json:"shortObjectRoot"`
}

func (HashedNTuple) Name() string { return "0003-hash-and-id-n-tuple-storage-layout" }

func (l HashedNTuple) Resolve(id string) (string, error) {
	if l.TupleSize == 0 && l.TupleNum != 0 {
		return "", fmt.Errorf("numberOfTuples must be 0 if tupleSize is 0")
	}
	if l.TupleNum == 0 && l.TupleSize != 0 {
		return "", fmt.Errorf("tupleSize must be 0 if numberOfTuples is 0")
	}
	d := digest.New(l.DigestAlgorithm)
	if d == nil {
		return "", fmt.Errorf("unknown digest algorithm: %q", l.DigestAlgorithm)
	}
	if _, err := d.Write([]byte(id)); err != nil {
		return "", err
	}
	hexDigest := d.String()

	if l.TupleSize == 0 && l.TupleNum == 0 {
		return hexDigest, nil
	}

	used := l.TupleSize * l.TupleNum
	if used > len(hexDigest) {
		return "", fmt.Errorf("tupleSize * numberOfTuples exceeds digest length for %s", l.DigestAlgorithm)
	}
	if used == len(hexDigest) && l.ShortObjectRoot {
		return "", fmt.Errorf("shortObjectRoot is incompatible with a tuple layout consuming the entire digest")
	}

	segments := make([]string, 0, l.TupleNum+1)
	for i := 0; i < l.TupleNum; i++ {
		segments = append(segments, hexDigest[i*l.TupleSize:(i+1)*l.TupleSize])
	}
	if l.ShortObjectRoot {
		segments = append(segments, hexDigest[used:])
	} else {
		segments = append(segments, hexDigest)
	}
	return strings.Join(segments, "/"), nil
}
