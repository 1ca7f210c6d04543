// Package setsum implements a commutative, invertible checksum over a set of
// byte strings: the sum of per-item digests in a group where both the group
// operation and its inverse are cheap, so that set union and set difference
// can be computed from the sums alone without rereading the underlying items.
package setsum

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"

	"github.com/opencontainers/go-digest"
)

// Size is the width of a Setsum in bytes.
const Size = 32

const limbs = Size / 8

// Algorithm is the digest algorithm used to hash each inserted item.
const Algorithm = digest.SHA256

// Setsum is a commutative, invertible accumulator of item digests.
//
// Internally it is four uint64 limbs, each forming a cyclic group under
// addition modulo 2^64. Insertion order never affects the result (an item
// inserted twice is counted twice); Setsum(A) + Setsum(B) == Setsum(A ∪ B) for
// disjoint A, B, and Setsum(A) - Setsum(B) == Setsum(A ∖ B) for B ⊆ A.
type Setsum [limbs]uint64

// Zero is the identity element: the setsum of the empty set.
var Zero Setsum

// Of returns the setsum of a single item.
func Of(item []byte) Setsum {
	var s Setsum
	s.Insert(item)
	return s
}

// FromItems returns the setsum of all the given items.
func FromItems(items [][]byte) Setsum {
	var s Setsum
	for _, item := range items {
		s.Insert(item)
	}
	return s
}

// Insert folds item's digest into the setsum. It is safe to call repeatedly;
// inserting the same set of items in any order yields the same result.
func (s *Setsum) Insert(item []byte) {
	s.Add(limbsOf(item))
}

// Remove is the inverse of Insert: it removes item's contribution from the
// setsum. Removing an item that was never inserted corrupts the invariant
// silently, by design — the caller is expected to track membership
// separately (the manifest does, via fragment/snapshot descriptors).
func (s *Setsum) Remove(item []byte) {
	s.Sub(limbsOf(item))
}

// Add combines two setsums, e.g. the setsums of two disjoint fragments.
func (s *Setsum) Add(other Setsum) {
	for i := range s {
		s[i] += other[i]
	}
}

// Sub subtracts other from s, e.g. removing a garbage-collected fragment's
// contribution from a manifest's running total.
func (s *Setsum) Sub(other Setsum) {
	for i := range s {
		s[i] -= other[i]
	}
}

// Plus returns a new Setsum equal to s + other, leaving both unmodified.
func (s Setsum) Plus(other Setsum) Setsum {
	s.Add(other)
	return s
}

// Minus returns a new Setsum equal to s - other, leaving both unmodified.
func (s Setsum) Minus(other Setsum) Setsum {
	s.Sub(other)
	return s
}

// IsZero reports whether s is the identity element.
func (s Setsum) IsZero() bool {
	return s == Zero
}

// Bytes returns the big-endian byte encoding of s.
func (s Setsum) Bytes() []byte {
	buf := make([]byte, Size)
	for i, limb := range s {
		binary.BigEndian.PutUint64(buf[i*8:(i+1)*8], limb)
	}
	return buf
}

// Hexdigest renders s as a lowercase hex string, used to content-address
// snapshot blobs (see manifest.SnapshotPath).
func (s Setsum) Hexdigest() string {
	return hex.EncodeToString(s.Bytes())
}

// String implements fmt.Stringer.
func (s Setsum) String() string {
	return s.Hexdigest()
}

// Parse decodes a hex-encoded setsum produced by Hexdigest.
func Parse(hexdigest string) (Setsum, error) {
	raw, err := hex.DecodeString(hexdigest)
	if err != nil {
		return Zero, fmt.Errorf("setsum: invalid hexdigest %q: %w", hexdigest, err)
	}
	if len(raw) != Size {
		return Zero, fmt.Errorf("setsum: invalid hexdigest length %d, want %d", len(raw), Size)
	}
	var s Setsum
	for i := range s {
		s[i] = binary.BigEndian.Uint64(raw[i*8 : (i+1)*8])
	}
	return s, nil
}

func limbsOf(item []byte) Setsum {
	sum := Algorithm.FromBytes(item)
	raw, err := hex.DecodeString(sum.Encoded())
	if err != nil {
		// Encoded() is always valid hex for a well-formed digest.Digest.
		panic(fmt.Sprintf("setsum: corrupt digest encoding: %v", err))
	}
	var s Setsum
	for i := range s {
		s[i] = binary.BigEndian.Uint64(raw[i*8 : (i+1)*8])
	}
	return s
}
