package lsmtree

import (
	"time"

	"github.com/tolkichat/lsm-tree/internal/blob"
	"github.com/tolkichat/lsm-tree/internal/cache"
	"github.com/tolkichat/lsm-tree/internal/wal"
)

// SyncMode determines when WAL writes are synced to disk.
type SyncMode int

const (
	// SyncNone never fsyncs explicitly (fastest, least durable).
	SyncNone SyncMode = iota
	// SyncBatch flushes per append but fsyncs lazily.
	SyncBatch
	// SyncAlways fsyncs after every append (slowest, most durable).
	SyncAlways
)

func (m SyncMode) walMode() wal.SyncMode {
	switch m {
	case SyncAlways:
		return wal.SyncAlways
	case SyncNone:
		return wal.SyncNone
	default:
		return wal.SyncBatch
	}
}

// Config tunes engine behavior. Zero fields fall back to DefaultConfig.
type Config struct {
	// MemTableSize is the size threshold for flushing a memtable.
	MemTableSize int64
	// MaxLevels is the number of segment levels. The last level is the
	// only place compaction may finalize a merge chain without a base
	// value or drop tombstones.
	MaxLevels int
	// LevelZeroCompactionTrigger is the L0 segment count that triggers
	// automatic compaction after a flush.
	LevelZeroCompactionTrigger int
	// SyncMode determines WAL durability.
	SyncMode SyncMode
	// CacheTTL bounds how long segment blobs stay in the default memory
	// cache.
	CacheTTL time.Duration
}

// DefaultConfig returns production-ready defaults.
func DefaultConfig() Config {
	return Config{
		MemTableSize:               64 * 1024 * 1024,
		MaxLevels:                  7,
		LevelZeroCompactionTrigger: 4,
		SyncMode:                   SyncBatch,
		CacheTTL:                   10 * time.Minute,
	}
}

func (c *Config) fillDefaults() {
	def := DefaultConfig()
	if c.MemTableSize <= 0 {
		c.MemTableSize = def.MemTableSize
	}
	if c.MaxLevels <= 1 {
		c.MaxLevels = def.MaxLevels
	}
	if c.LevelZeroCompactionTrigger <= 0 {
		c.LevelZeroCompactionTrigger = def.LevelZeroCompactionTrigger
	}
	if c.CacheTTL <= 0 {
		c.CacheTTL = def.CacheTTL
	}
}

// Option collects the configurable pieces of a tree.
type Option struct {
	Operator MergeOperator
	Storage  blob.Storage
	Cache    cache.Cache
	Config   Config
}

// WithMergeOperator registers the store's merge operator. One operator
// per tree; its Name() shows up in traces and errors only.
func WithMergeOperator(op MergeOperator) func(*Option) {
	return func(o *Option) {
		o.Operator = op
	}
}

// WithStorage overrides the segment store. The default is gzip-compressed
// files under the tree directory; NewMemoryStorage and NewOSSStorage are
// the other built-ins.
func WithStorage(storage blob.Storage) func(*Option) {
	return func(o *Option) {
		o.Storage = storage
	}
}

// WithCache overrides the segment blob cache.
func WithCache(c cache.Cache) func(*Option) {
	return func(o *Option) {
		o.Cache = c
	}
}

// WithRedisCache caches segment blobs in Redis, for fleets sharing one
// remote segment store. Panics on an unparseable URL, mirroring the
// fail-fast behavior of misconfigured storage.
func WithRedisCache(url string, ttl time.Duration) func(*Option) {
	return func(o *Option) {
		c, err := cache.NewRedisCacheWithURL(url, ttl)
		if err != nil {
			panic(err)
		}
		o.Cache = c
	}
}

// WithConfig replaces the whole config.
func WithConfig(cfg Config) func(*Option) {
	return func(o *Option) {
		o.Config = cfg
	}
}

// WithMemTableSize sets the flush threshold.
func WithMemTableSize(size int64) func(*Option) {
	return func(o *Option) {
		o.Config.MemTableSize = size
	}
}

// WithSyncMode sets WAL durability.
func WithSyncMode(mode SyncMode) func(*Option) {
	return func(o *Option) {
		o.Config.SyncMode = mode
	}
}

// WithLevelZeroCompactionTrigger sets the L0 segment count that starts
// an automatic compaction after a flush.
func WithLevelZeroCompactionTrigger(n int) func(*Option) {
	return func(o *Option) {
		o.Config.LevelZeroCompactionTrigger = n
	}
}

// NewMemoryStorage returns an in-memory segment store, mostly for tests.
func NewMemoryStorage() blob.Storage {
	return blob.NewMemoryStorage()
}

// NewOSSStorage returns an Aliyun OSS segment store.
func NewOSSStorage(cfg blob.OSSConfig) (blob.Storage, error) {
	return blob.NewOSSStorage(cfg)
}

// OSSConfig re-exports the OSS storage configuration.
type OSSConfig = blob.OSSConfig
