// Package segment implements the immutable sorted runs the tree persists
// through blob storage. A segment is written once, as a single object,
// and parsed fully on open; there is no in-place mutation, which is what
// makes segment blobs safe to cache by object key.
package segment

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sort"

	"github.com/tolkichat/lsm-tree/internal/entry"
)

// ErrCorrupted is returned when a segment blob fails validation.
var ErrCorrupted = errors.New("corrupted segment")

const (
	segmentMagic   = 0x4C534547 // "LSEG"
	segmentVersion = 1
)

// Segment is an immutable sorted run of versioned records. Entries are
// ordered key ascending, newest version first within a key, so a key's
// operand chain is a contiguous slice.
type Segment struct {
	id      uint64
	level   int
	entries []*entry.Entry
	minKey  []byte
	maxKey  []byte
	maxSeq  uint64
}

// New builds a segment from entries already in segment order (the
// memtable iterator and the compaction merge both produce that order).
func New(id uint64, level int, entries []*entry.Entry) *Segment {
	s := &Segment{id: id, level: level, entries: entries}
	if len(entries) > 0 {
		s.minKey = entries[0].Key
		s.maxKey = entries[len(entries)-1].Key
		for _, e := range entries {
			if e.Seq > s.maxSeq {
				s.maxSeq = e.Seq
			}
		}
	}
	return s
}

// ID returns the segment's unique identifier.
func (s *Segment) ID() uint64 { return s.id }

// Level returns the LSM level this segment belongs to.
func (s *Segment) Level() int { return s.level }

// Len returns the number of records.
func (s *Segment) Len() int { return len(s.entries) }

// MaxSeq returns the highest sequence number in the segment.
func (s *Segment) MaxSeq() uint64 { return s.maxSeq }

// MinKey returns the smallest key in the segment.
func (s *Segment) MinKey() []byte { return s.minKey }

// MaxKey returns the largest key in the segment.
func (s *Segment) MaxKey() []byte { return s.maxKey }

// Entries exposes the underlying records for compaction scans. Callers
// must not mutate them.
func (s *Segment) Entries() []*entry.Entry { return s.entries }

// Contains reports whether key falls inside the segment's key range.
func (s *Segment) Contains(key []byte) bool {
	if len(s.entries) == 0 {
		return false
	}
	return bytes.Compare(key, s.minKey) >= 0 && bytes.Compare(key, s.maxKey) <= 0
}

// Collect returns the key's visible version chain, newest first, ending
// at the first Put or Tombstone. Nil means the segment holds no record
// of the key.
func (s *Segment) Collect(key []byte) []*entry.Entry {
	i := sort.Search(len(s.entries), func(i int) bool {
		return bytes.Compare(s.entries[i].Key, key) >= 0
	})
	if i == len(s.entries) || !bytes.Equal(s.entries[i].Key, key) {
		return nil
	}

	var chain []*entry.Entry
	for ; i < len(s.entries) && bytes.Equal(s.entries[i].Key, key); i++ {
		e := s.entries[i]
		chain = append(chain, e)
		if e.Kind != entry.KindMerge {
			break
		}
	}
	return chain
}

// Encode serializes the segment to its blob representation:
//
//	magic   (4 bytes)
//	version (1 byte)
//	level   (4 bytes)
//	id      (8 bytes)
//	count   (4 bytes)
//	records (CRC-framed, see entry codec)
func (s *Segment) Encode() ([]byte, error) {
	var buf bytes.Buffer
	var header [21]byte
	binary.LittleEndian.PutUint32(header[0:], segmentMagic)
	header[4] = segmentVersion
	binary.LittleEndian.PutUint32(header[5:], uint32(s.level))
	binary.LittleEndian.PutUint64(header[9:], s.id)
	binary.LittleEndian.PutUint32(header[17:], uint32(len(s.entries)))
	buf.Write(header[:])

	for _, e := range s.entries {
		if err := entry.WriteFramed(&buf, e); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}

// Parse reconstructs a segment from its blob representation.
func Parse(data []byte) (*Segment, error) {
	if len(data) < 21 {
		return nil, ErrCorrupted
	}
	if binary.LittleEndian.Uint32(data[0:]) != segmentMagic {
		return nil, ErrCorrupted
	}
	if data[4] != segmentVersion {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrCorrupted, data[4])
	}
	level := int(binary.LittleEndian.Uint32(data[5:]))
	id := binary.LittleEndian.Uint64(data[9:])
	count := int(binary.LittleEndian.Uint32(data[17:]))

	// A framed record is at least 25 bytes (8-byte frame plus the fixed
	// payload header), which bounds how many can fit in the blob. Checked
	// before the count drives any allocation.
	if count > (len(data)-21)/25 {
		return nil, fmt.Errorf("%w: record count %d exceeds blob size", ErrCorrupted, count)
	}

	r := bufio.NewReader(bytes.NewReader(data[21:]))
	entries := make([]*entry.Entry, 0, count)
	for i := 0; i < count; i++ {
		e, err := entry.ReadFramed(r)
		if err != nil {
			if err == io.EOF || err == io.ErrUnexpectedEOF {
				return nil, fmt.Errorf("%w: truncated at record %d", ErrCorrupted, i)
			}
			return nil, fmt.Errorf("%w: %v", ErrCorrupted, err)
		}
		entries = append(entries, e)
	}
	return New(id, level, entries), nil
}

// ObjectKey returns the blob storage key for a segment.
func ObjectKey(level int, id uint64) string {
	return fmt.Sprintf("segment/L%d_%08d.seg", level, id)
}
