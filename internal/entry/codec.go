package entry

import (
	"bufio"
	"encoding/binary"
	"errors"
	"hash/crc32"
	"io"
)

// Record framing shared by the WAL and segment blobs:
//
//	crc32  (4 bytes, IEEE, over payload)
//	length (4 bytes)
//	payload:
//	  seq      (8 bytes)
//	  kind     (1 byte)
//	  keyLen   (4 bytes)
//	  valueLen (4 bytes)
//	  key      (keyLen)
//	  value    (valueLen, absent for tombstones)

var ErrCorruptedRecord = errors.New("corrupted record")

const headerSize = 8 + 1 + 4 + 4

// Encode serializes an entry payload without the CRC frame.
func Encode(e *Entry) []byte {
	buf := make([]byte, headerSize+len(e.Key)+len(e.Value))
	binary.LittleEndian.PutUint64(buf[0:], e.Seq)
	buf[8] = byte(e.Kind)
	binary.LittleEndian.PutUint32(buf[9:], uint32(len(e.Key)))
	binary.LittleEndian.PutUint32(buf[13:], uint32(len(e.Value)))
	copy(buf[headerSize:], e.Key)
	copy(buf[headerSize+len(e.Key):], e.Value)
	return buf
}

// Decode parses an entry payload produced by Encode.
func Decode(data []byte) (*Entry, error) {
	if len(data) < headerSize {
		return nil, ErrCorruptedRecord
	}
	e := &Entry{
		Seq:  binary.LittleEndian.Uint64(data[0:]),
		Kind: Kind(data[8]),
	}
	keyLen := int(binary.LittleEndian.Uint32(data[9:]))
	valueLen := int(binary.LittleEndian.Uint32(data[13:]))
	if len(data) != headerSize+keyLen+valueLen {
		return nil, ErrCorruptedRecord
	}
	e.Key = append([]byte(nil), data[headerSize:headerSize+keyLen]...)
	if e.Kind != KindTombstone {
		// Keep a Put of the empty value distinct from "no value": nil
		// marks absence throughout the engine.
		e.Value = make([]byte, valueLen)
		copy(e.Value, data[headerSize+keyLen:])
	}
	return e, nil
}

// WriteFramed writes one CRC-framed record.
func WriteFramed(w io.Writer, e *Entry) error {
	payload := Encode(e)
	var frame [8]byte
	binary.LittleEndian.PutUint32(frame[0:], crc32.ChecksumIEEE(payload))
	binary.LittleEndian.PutUint32(frame[4:], uint32(len(payload)))
	if _, err := w.Write(frame[:]); err != nil {
		return err
	}
	_, err := w.Write(payload)
	return err
}

// ReadFramed reads one CRC-framed record. io.EOF at a record boundary
// means a clean end of stream; io.ErrUnexpectedEOF means a torn tail
// (truncated frame, e.g. after a crash mid-append). Both are returned
// unchanged so callers can tell them apart from corruption proper.
func ReadFramed(r *bufio.Reader) (*Entry, error) {
	var frame [8]byte
	if _, err := io.ReadFull(r, frame[:]); err != nil {
		if err == io.EOF {
			return nil, io.EOF
		}
		return nil, io.ErrUnexpectedEOF
	}
	sum := binary.LittleEndian.Uint32(frame[0:])
	length := binary.LittleEndian.Uint32(frame[4:])
	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, io.ErrUnexpectedEOF
	}
	if crc32.ChecksumIEEE(payload) != sum {
		return nil, ErrCorruptedRecord
	}
	return Decode(payload)
}
