// Package wal implements the write-ahead log. Every Put, Merge, and
// Delete is appended here before touching the memtable, so an unflushed
// operand chain survives a crash and replays in its original order.
package wal

import (
	"bufio"
	"errors"
	"io"
	"os"
	"sync"

	"github.com/tolkichat/lsm-tree/internal/entry"
)

// ErrCorrupted is returned when a WAL record fails its checksum.
var ErrCorrupted = errors.New("corrupted WAL record")

// SyncMode determines when WAL writes are synced to disk.
type SyncMode int

const (
	// SyncNone never fsyncs explicitly (fastest, least durable).
	SyncNone SyncMode = iota
	// SyncBatch flushes the buffer per append but fsyncs lazily.
	SyncBatch
	// SyncAlways fsyncs after every append (slowest, most durable).
	SyncAlways
)

// WAL is an append-only CRC-framed record log.
type WAL struct {
	file     *os.File
	writer   *bufio.Writer
	path     string
	mu       sync.Mutex
	size     int64
	syncMode SyncMode
}

// Open opens or creates a WAL file.
func Open(path string, syncMode SyncMode) (*WAL, error) {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0644)
	if err != nil {
		return nil, err
	}
	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, err
	}
	return &WAL{
		file:     file,
		writer:   bufio.NewWriterSize(file, 64*1024),
		path:     path,
		size:     info.Size(),
		syncMode: syncMode,
	}, nil
}

// Append writes one record.
func (w *WAL) Append(e *entry.Entry) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := entry.WriteFramed(w.writer, e); err != nil {
		return err
	}
	w.size += int64(8 + len(e.Key) + len(e.Value) + 17)

	switch w.syncMode {
	case SyncAlways:
		return w.sync()
	case SyncBatch:
		return w.writer.Flush()
	}
	return nil
}

// Sync flushes buffers and fsyncs the file.
func (w *WAL) Sync() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.sync()
}

func (w *WAL) sync() error {
	if err := w.writer.Flush(); err != nil {
		return err
	}
	return w.file.Sync()
}

// Size returns the current WAL file size.
func (w *WAL) Size() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.size
}

// Close flushes and closes the WAL file.
func (w *WAL) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.writer.Flush(); err != nil {
		return err
	}
	return w.file.Close()
}

// Truncate resets the log after its contents have been flushed to a
// durable segment.
func (w *WAL) Truncate() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.writer.Flush(); err != nil {
		return err
	}
	if err := w.file.Truncate(0); err != nil {
		return err
	}
	if _, err := w.file.Seek(0, io.SeekStart); err != nil {
		return err
	}
	w.size = 0
	return nil
}

// Recover reads every intact record from a WAL file, in append order. A
// torn tail (clean EOF mid-frame after a crash) ends recovery without an
// error; a checksum mismatch reports ErrCorrupted alongside the records
// read so far.
func Recover(path string) ([]*entry.Entry, error) {
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer file.Close()

	reader := bufio.NewReader(file)
	var entries []*entry.Entry
	for {
		e, err := entry.ReadFramed(reader)
		if err != nil {
			if err == io.EOF || err == io.ErrUnexpectedEOF {
				return entries, nil
			}
			return entries, ErrCorrupted
		}
		entries = append(entries, e)
	}
}
