package manifest

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// FragmentIDScheme selects the identifier regime a log assigns to its
// fragments for its whole lifetime. A log never mixes regimes: the scheme is
// pinned at Initialize and carried in every subsequent manifest it writes.
type FragmentIDScheme string

const (
	// FragmentIDSeqNo assigns fragments a dense, monotonically increasing
	// sequence number. Cheap to sort and to reason about visually, but
	// requires every writer to agree on the next number, which the
	// manifest manager's single in-process position assignment already
	// guarantees for a single active writer.
	FragmentIDSeqNo FragmentIDScheme = "seqno"

	// FragmentIDUUID assigns fragments a random v4 UUID. Safe to generate
	// in bulk without any coordination, at the cost of unordered file
	// names and slightly larger path strings.
	FragmentIDUUID FragmentIDScheme = "uuid"
)

// FragmentID identifies one fragment object within a log. Exactly one of
// seqNo or id is meaningful, selected by scheme.
type FragmentID struct {
	scheme FragmentIDScheme
	seqNo  uint64
	id     uuid.UUID
}

// NewSeqNoFragmentID builds a sequential FragmentID.
func NewSeqNoFragmentID(seqNo uint64) FragmentID {
	return FragmentID{scheme: FragmentIDSeqNo, seqNo: seqNo}
}

// NewUUIDFragmentID builds a random FragmentID under the UUID regime.
func NewUUIDFragmentID() FragmentID {
	return FragmentID{scheme: FragmentIDUUID, id: uuid.New()}
}

// Scheme reports which regime this FragmentID was minted under.
func (f FragmentID) Scheme() FragmentIDScheme {
	return f.scheme
}

// SeqNo returns the sequence number. Only meaningful when Scheme is
// FragmentIDSeqNo.
func (f FragmentID) SeqNo() uint64 {
	return f.seqNo
}

// String renders the identifier as it appears in an object key: a
// zero-padded decimal for the sequential regime (so lexical and numeric
// order coincide), or a canonical UUID string for the UUID regime.
func (f FragmentID) String() string {
	switch f.scheme {
	case FragmentIDSeqNo:
		return fmt.Sprintf("%020d", f.seqNo)
	case FragmentIDUUID:
		return f.id.String()
	default:
		return fmt.Sprintf("invalid-fragment-id(%v)", f.scheme)
	}
}

// Next returns the FragmentID that should follow f under the sequential
// regime. It panics if f was not minted under FragmentIDSeqNo; callers must
// only call Next on an ID obtained from a log pinned to that scheme.
func (f FragmentID) Next() FragmentID {
	if f.scheme != FragmentIDSeqNo {
		panic("manifest: Next called on a non-sequential FragmentID")
	}
	return NewSeqNoFragmentID(f.seqNo + 1)
}

// fragmentIDWire is FragmentID's JSON wire shape; FragmentID's own fields
// are unexported so its identity can't be constructed except through the
// constructors above.
type fragmentIDWire struct {
	Scheme FragmentIDScheme `json:"scheme"`
	SeqNo  uint64           `json:"seq_no,omitempty"`
	UUID   string           `json:"uuid,omitempty"`
}

// MarshalJSON implements json.Marshaler.
func (f FragmentID) MarshalJSON() ([]byte, error) {
	wire := fragmentIDWire{Scheme: f.scheme}
	switch f.scheme {
	case FragmentIDSeqNo:
		wire.SeqNo = f.seqNo
	case FragmentIDUUID:
		wire.UUID = f.id.String()
	}
	return json.Marshal(wire)
}

// UnmarshalJSON implements json.Unmarshaler.
func (f *FragmentID) UnmarshalJSON(data []byte) error {
	var wire fragmentIDWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return fmt.Errorf("manifest: decoding fragment id: %w", err)
	}
	switch wire.Scheme {
	case FragmentIDSeqNo:
		*f = NewSeqNoFragmentID(wire.SeqNo)
	case FragmentIDUUID:
		id, err := uuid.Parse(wire.UUID)
		if err != nil {
			return fmt.Errorf("manifest: decoding fragment id: invalid uuid %q: %w", wire.UUID, err)
		}
		*f = FragmentID{scheme: FragmentIDUUID, id: id}
	default:
		return fmt.Errorf("manifest: decoding fragment id: unknown scheme %q", wire.Scheme)
	}
	return nil
}
