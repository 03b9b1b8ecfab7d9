package ocfl

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ocflkit/ocflcore/digest"
)

// SidecarName returns the inventory sidecar file name for alg, e.g.
// "inventory.json.sha512".
func SidecarName(alg string) string {
	return "inventory.json." + alg
}

// EncodeInventory marshals inv to canonical JSON bytes and computes its
// sidecar digest using alg (normally inv.DigestAlgorithm). It returns the
// JSON bytes, the hex digest, and the sidecar file content.
func EncodeInventory(inv *Inventory, alg string) (jsonBytes []byte, digestHex string, sidecar []byte, err error) {
	jsonBytes, err = json.MarshalIndent(inv, "", "   ")
	if err != nil {
		return nil, "", nil, fmt.Errorf("encoding inventory: %w", err)
	}
	d := digest.New(alg)
	if d == nil {
		return nil, "", nil, fmt.Errorf("unknown digest algorithm %q", alg)
	}
	if _, err := d.Write(jsonBytes); err != nil {
		return nil, "", nil, err
	}
	digestHex = d.String()
	sidecar = []byte(digestHex + "   inventory.json\n")
	return jsonBytes, digestHex, sidecar, nil
}

// ParseSidecar extracts the hex digest from sidecar content: only the
// first whitespace-delimited token is significant.
func ParseSidecar(content []byte) (string, error) {
	fields := strings.Fields(string(content))
	if len(fields) == 0 {
		return "", fmt.Errorf("empty inventory sidecar")
	}
	return fields[0], nil
}

// DecodeInventory parses jsonBytes into an Inventory and verifies it
// against the sidecar digest: the computed digest of jsonBytes using
// inv.DigestAlgorithm must case-insensitively equal the sidecar's token.
func DecodeInventory(jsonBytes, sidecarContent []byte) (*Inventory, error) {
	var inv Inventory
	if err := json.Unmarshal(jsonBytes, &inv); err != nil {
		return nil, NewError(CorruptObject, "DecodeInventory", err)
	}
	want, err := ParseSidecar(sidecarContent)
	if err != nil {
		return nil, NewError(CorruptObject, "DecodeInventory", err)
	}
	d := digest.New(inv.DigestAlgorithm)
	if d == nil {
		return nil, NewError(CorruptObject, "DecodeInventory", fmt.Errorf("unknown digest algorithm %q", inv.DigestAlgorithm))
	}
	if _, err := d.Write(jsonBytes); err != nil {
		return nil, NewError(IO, "DecodeInventory", err)
	}
	got := d.String()
	if !strings.EqualFold(got, want) {
		return nil, NewError(FixityCheck, "DecodeInventory", fmt.Errorf("inventory sidecar mismatch: got %s want %s", got, want))
	}
	inv.SetPreviousDigest(got)
	return &inv, nil
}
