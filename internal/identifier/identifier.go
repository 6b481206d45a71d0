// Package identifier implements the node identifier described in spec.md §3:
// a content-addressed token with an internal (hash-friendly) form and an
// external (printable) form.
package identifier

import (
	"crypto/ed25519"
	"crypto/sha256"
	"errors"
	"fmt"

	"github.com/mr-tron/base58"
)

// Size is the length in bytes of the internal identifier form.
const Size = 32

// externalPrefix distinguishes external identifiers at a glance in logs.
const externalPrefix = "brypt1"

// ErrInvalid is returned when an identifier is the reserved zero value or
// fails to parse.
var ErrInvalid = errors.New("identifier: invalid")

// ID is the internal, hash-friendly representation of a node identifier.
// The zero value is reserved and never assigned to a real peer.
type ID [Size]byte

// FromPublicKey derives a node identifier from an Ed25519 identity public
// key, the same way the teacher derives a NodeID-adjacent value from key
// material (sha256 of the public key bytes).
func FromPublicKey(public ed25519.PublicKey) ID {
	return ID(sha256.Sum256(public))
}

// IsValid reports whether id is not the reserved zero value.
func (id ID) IsValid() bool {
	return id != ID{}
}

// String returns the external, printable form of id.
func (id ID) String() string {
	return externalPrefix + base58.Encode(id[:])
}

// Parse decodes an external identifier string back into its internal form.
func Parse(external string) (ID, error) {
	if len(external) <= len(externalPrefix) || external[:len(externalPrefix)] != externalPrefix {
		return ID{}, fmt.Errorf("%w: missing prefix", ErrInvalid)
	}
	decoded, err := base58.Decode(external[len(externalPrefix):])
	if err != nil {
		return ID{}, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if len(decoded) != Size {
		return ID{}, fmt.Errorf("%w: unexpected length %d", ErrInvalid, len(decoded))
	}
	var id ID
	copy(id[:], decoded)
	if !id.IsValid() {
		return ID{}, ErrInvalid
	}
	return id, nil
}
