package entry

import "bytes"

// Kind distinguishes the three record types the engine stores for a key.
type Kind uint8

const (
	// KindPut is a full base value; it shadows everything older.
	KindPut Kind = iota
	// KindMerge is a partial-update operand that must be combined with a
	// base value (or other operands) by the merge operator.
	KindMerge
	// KindTombstone marks a deletion; it shadows everything older and
	// leaves newer operands with no base.
	KindTombstone
)

func (k Kind) String() string {
	switch k {
	case KindPut:
		return "put"
	case KindMerge:
		return "merge"
	case KindTombstone:
		return "tombstone"
	default:
		return "unknown"
	}
}

// Entry is one versioned record. Seq is assigned by the tree at write
// time and increases monotonically, so for a single key higher Seq means
// newer.
type Entry struct {
	Key   []byte
	Value []byte
	Seq   uint64
	Kind  Kind
}

// Compare orders entries by key ascending, then by Seq descending so the
// newest version of a key sorts first. This is the on-disk segment order.
func (e *Entry) Compare(other *Entry) int {
	if c := bytes.Compare(e.Key, other.Key); c != 0 {
		return c
	}
	switch {
	case e.Seq > other.Seq:
		return -1
	case e.Seq < other.Seq:
		return 1
	default:
		return 0
	}
}

// Size returns the approximate memory footprint in bytes.
func (e *Entry) Size() int {
	return len(e.Key) + len(e.Value) + 16 // seq + kind + slice overhead
}

// Clone returns a deep copy of the entry.
func (e *Entry) Clone() *Entry {
	c := &Entry{
		Key:  append([]byte(nil), e.Key...),
		Seq:  e.Seq,
		Kind: e.Kind,
	}
	if e.Value != nil {
		c.Value = append([]byte(nil), e.Value...)
	}
	return c
}
