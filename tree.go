// Package lsmtree implements a log-structured merge key-value store
// whose defining feature is merge resolution: partial-update operands
// written with Merge are collapsed into a single value by a pluggable
// MergeOperator, both at read time and during compaction.
//
// The write path appends to a WAL and buffers versions in a memtable;
// flushes persist immutable sorted segments through pluggable object
// storage (local files, memory, or Aliyun OSS) fronted by a read-through
// blob cache (in-process or Redis).
package lsmtree

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/tolkichat/lsm-tree/internal/blob"
	"github.com/tolkichat/lsm-tree/internal/cache"
	"github.com/tolkichat/lsm-tree/internal/entry"
	"github.com/tolkichat/lsm-tree/internal/memtable"
	"github.com/tolkichat/lsm-tree/internal/segment"
	"github.com/tolkichat/lsm-tree/internal/trace"
	"github.com/tolkichat/lsm-tree/internal/wal"
)

// Tree is the storage engine. A single Tree is safe for concurrent use;
// the registered merge operator may be invoked from many goroutines at
// once and must be stateless or internally synchronized.
type Tree struct {
	op      MergeOperator
	storage blob.Storage
	cache   cache.Cache
	cfg     Config
	dir     string

	mu        sync.RWMutex
	active    *flushable
	immutable []*flushable
	levels    [][]*segmentHandle

	seq        atomic.Uint64
	segmentSeq atomic.Uint64
	walSeq     atomic.Uint64

	flushMu   sync.Mutex
	compactMu sync.Mutex

	flushChan chan struct{}
	closeChan chan struct{}
	wg        sync.WaitGroup
	closed    atomic.Bool
}

// flushable pairs a memtable with the WAL file that made it durable. The
// WAL is deleted only after the memtable's segment has been persisted.
type flushable struct {
	mt      *memtable.MemTable
	wal     *wal.WAL
	walPath string
}

// segmentHandle is the in-memory descriptor of a persisted segment. The
// record data itself is fetched through the blob cache on demand.
type segmentHandle struct {
	id     uint64
	level  int
	minKey []byte
	maxKey []byte
	maxSeq uint64
	object string
}

func (h *segmentHandle) contains(key []byte) bool {
	return bytes.Compare(key, h.minKey) >= 0 && bytes.Compare(key, h.maxKey) <= 0
}

func handleOf(s *segment.Segment) *segmentHandle {
	return &segmentHandle{
		id:     s.ID(),
		level:  s.Level(),
		minKey: s.MinKey(),
		maxKey: s.MaxKey(),
		maxSeq: s.MaxSeq(),
		object: segment.ObjectKey(s.Level(), s.ID()),
	}
}

// Open creates or opens a tree rooted at dir. Unless WithStorage is
// given, segments are stored as compressed files under dir/segments.
func Open(dir string, opts ...func(*Option)) (*Tree, error) {
	option := &Option{Config: DefaultConfig()}
	for _, opt := range opts {
		opt(option)
	}
	option.Config.fillDefaults()

	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	storage := option.Storage
	if storage == nil {
		var err error
		storage, err = blob.NewFileStorage(filepath.Join(dir, "segments"))
		if err != nil {
			return nil, err
		}
	}
	blobCache := option.Cache
	if blobCache == nil {
		blobCache = cache.NewMemoryCache(option.Config.CacheTTL)
	}

	t := &Tree{
		op:        option.Operator,
		storage:   storage,
		cache:     blobCache,
		cfg:       option.Config,
		dir:       dir,
		levels:    make([][]*segmentHandle, option.Config.MaxLevels),
		flushChan: make(chan struct{}, 1),
		closeChan: make(chan struct{}),
	}

	if err := t.recoverWAL(); err != nil {
		return nil, fmt.Errorf("failed to recover WAL: %w", err)
	}
	if err := t.loadSegments(context.Background()); err != nil {
		return nil, fmt.Errorf("failed to load segments: %w", err)
	}

	t.wg.Add(1)
	go t.flushWorker()

	return t, nil
}

func (t *Tree) walPath(id uint64) string {
	return filepath.Join(t.dir, fmt.Sprintf("wal_%06d.log", id))
}

// recoverWAL replays every WAL file left behind by the previous run into
// a fresh memtable, consolidates the surviving records into one new WAL,
// and only then removes the old files.
func (t *Tree) recoverWAL() error {
	paths, err := filepath.Glob(filepath.Join(t.dir, "wal_*.log"))
	if err != nil {
		return err
	}
	sort.Strings(paths)

	var recovered []string
	var replayed []*entry.Entry
	for _, path := range paths {
		records, err := wal.Recover(path)
		if err != nil {
			return fmt.Errorf("%w: %s", ErrCorruptedWAL, path)
		}
		replayed = append(replayed, records...)
		recovered = append(recovered, path)
		if id, ok := walIDFromPath(path); ok && id > t.walSeq.Load() {
			t.walSeq.Store(id)
		}
	}

	// Replay in write order. WAL files are already chronological within
	// themselves; sorting by Seq keeps the consolidated log replayable
	// after another crash.
	sort.Slice(replayed, func(i, j int) bool {
		return replayed[i].Seq < replayed[j].Seq
	})

	mt := memtable.New()
	activeWAL, err := wal.Open(t.walPath(t.walSeq.Add(1)), t.cfg.SyncMode.walMode())
	if err != nil {
		return err
	}
	for _, e := range replayed {
		if e.Seq > t.seq.Load() {
			t.seq.Store(e.Seq)
		}
		if err := mt.Add(e); err != nil {
			activeWAL.Close()
			return err
		}
		if err := activeWAL.Append(e); err != nil {
			activeWAL.Close()
			return err
		}
	}
	if len(replayed) > 0 {
		if err := activeWAL.Sync(); err != nil {
			activeWAL.Close()
			return err
		}
	}
	for _, path := range recovered {
		os.Remove(path)
	}

	t.active = &flushable{
		mt:      mt,
		wal:     activeWAL,
		walPath: t.walPath(t.walSeq.Load()),
	}
	return nil
}

func walIDFromPath(path string) (uint64, bool) {
	name := filepath.Base(path)
	name = strings.TrimPrefix(name, "wal_")
	name = strings.TrimSuffix(name, ".log")
	var id uint64
	if _, err := fmt.Sscanf(name, "%d", &id); err != nil {
		return 0, false
	}
	return id, true
}

// loadSegments discovers persisted segments and rebuilds the level
// handles.
func (t *Tree) loadSegments(ctx context.Context) error {
	keys, err := t.storage.List(ctx, "segment/")
	if err != nil {
		return err
	}
	for _, key := range keys {
		data, err := t.storage.Get(ctx, key)
		if err != nil {
			return err
		}
		s, err := segment.Parse(data)
		if err != nil {
			return fmt.Errorf("%w: %s: %v", ErrCorruptedSegment, key, err)
		}
		if s.Len() == 0 {
			continue
		}
		if s.Level() >= len(t.levels) {
			return fmt.Errorf("%w: %s: level %d out of range", ErrCorruptedSegment, key, s.Level())
		}
		t.levels[s.Level()] = append(t.levels[s.Level()], handleOf(s))
		if s.ID() > t.segmentSeq.Load() {
			t.segmentSeq.Store(s.ID())
		}
		if s.MaxSeq() > t.seq.Load() {
			t.seq.Store(s.MaxSeq())
		}
	}
	for _, level := range t.levels {
		sortHandles(level)
	}
	return nil
}

// sortHandles orders a level newest first, which is the read path's scan
// order within a level.
func sortHandles(handles []*segmentHandle) {
	sort.Slice(handles, func(i, j int) bool {
		if handles[i].maxSeq != handles[j].maxSeq {
			return handles[i].maxSeq > handles[j].maxSeq
		}
		return handles[i].id > handles[j].id
	})
}

// loadSegment fetches and parses a segment blob through the cache.
func (t *Tree) loadSegment(ctx context.Context, h *segmentHandle) (*segment.Segment, error) {
	data, err := t.cache.Take(ctx, h.object, func() ([]byte, error) {
		return t.storage.Get(ctx, h.object)
	})
	if err != nil {
		return nil, err
	}
	s, err := segment.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCorruptedSegment, h.object, err)
	}
	return s, nil
}

// nextSeq assigns the next write sequence number.
func (t *Tree) nextSeq() uint64 {
	return t.seq.Add(1)
}

// Close flushes buffered data and shuts down background workers.
func (t *Tree) Close() error {
	if !t.closed.CompareAndSwap(false, true) {
		return nil
	}
	close(t.closeChan)
	t.wg.Wait()

	t.mu.Lock()
	if t.active.mt.Count() > 0 {
		t.freezeActiveLocked()
	}
	t.mu.Unlock()

	for {
		t.mu.Lock()
		remaining := len(t.immutable)
		t.mu.Unlock()
		if remaining == 0 {
			break
		}
		if err := t.doFlush(context.Background()); err != nil {
			return err
		}
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	return t.active.wal.Close()
}

// Stats describes the tree's current shape.
type Stats struct {
	MemTableSize   int64
	MemTableCount  int64
	ImmutableCount int
	SegmentCount   int
	LevelCounts    []int
	Operator       string
}

// Stats returns current statistics.
func (t *Tree) Stats() Stats {
	t.mu.RLock()
	defer t.mu.RUnlock()

	s := Stats{
		MemTableSize:   t.active.mt.Size(),
		MemTableCount:  t.active.mt.Count(),
		ImmutableCount: len(t.immutable),
		LevelCounts:    make([]int, len(t.levels)),
	}
	for i, level := range t.levels {
		s.LevelCounts[i] = len(level)
		s.SegmentCount += len(level)
	}
	if t.op != nil {
		s.Operator = t.op.Name()
	}
	return s
}

// WithTrace attaches a span recorder to the context; Dump the returned
// trace after the call to inspect timings.
func WithTrace(ctx context.Context) context.Context {
	return trace.WithTrace(ctx)
}

// TraceDump returns the formatted spans recorded on ctx, if any.
func TraceDump(ctx context.Context) string {
	return trace.FromContext(ctx).Dump()
}
