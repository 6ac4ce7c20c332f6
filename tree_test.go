package lsmtree_test

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"

	lsmtree "github.com/tolkichat/lsm-tree"
	"github.com/tolkichat/lsm-tree/internal/entry"
	"github.com/tolkichat/lsm-tree/internal/wal"
	"github.com/tolkichat/lsm-tree/mergeops"
)

func openCounterTree(t *testing.T, opts ...func(*lsmtree.Option)) *lsmtree.Tree {
	t.Helper()
	opts = append([]func(*lsmtree.Option){
		lsmtree.WithMergeOperator(mergeops.NewCounter()),
		lsmtree.WithStorage(lsmtree.NewMemoryStorage()),
	}, opts...)
	tree, err := lsmtree.Open(t.TempDir(), opts...)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { tree.Close() })
	return tree
}

func mustGet(t *testing.T, tree *lsmtree.Tree, key string) string {
	t.Helper()
	got, err := tree.Get(context.Background(), []byte(key))
	if err != nil {
		t.Fatalf("Get(%q): %v", key, err)
	}
	return string(got)
}

func TestPutGetDelete(t *testing.T) {
	tree := openCounterTree(t)

	if err := tree.Put([]byte("k"), []byte("42")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if got := mustGet(t, tree, "k"); got != "42" {
		t.Fatalf("got %q, want %q", got, "42")
	}

	if err := tree.Delete([]byte("k")); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := tree.Get(context.Background(), []byte("k")); !errors.Is(err, lsmtree.ErrKeyNotFound) {
		t.Fatalf("expected ErrKeyNotFound after delete, got %v", err)
	}

	if _, err := tree.Get(context.Background(), []byte("missing")); !errors.Is(err, lsmtree.ErrKeyNotFound) {
		t.Fatalf("expected ErrKeyNotFound for missing key, got %v", err)
	}
}

func TestGetEmptyValueIsPresent(t *testing.T) {
	// An empty Put value reads back as a present empty value, never as
	// nil: nil marks absence throughout the engine.
	tree := openCounterTree(t)

	if err := tree.Put([]byte("k"), []byte{}); err != nil {
		t.Fatalf("Put: %v", err)
	}
	got, err := tree.Get(context.Background(), []byte("k"))
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got == nil || len(got) != 0 {
		t.Fatalf("got %v, want a non-nil empty value", got)
	}
}

func TestMergeResolvesOnRead(t *testing.T) {
	tree := openCounterTree(t)

	for _, delta := range []string{"+3", "+4", "-1"} {
		if err := tree.Merge([]byte("hits"), []byte(delta)); err != nil {
			t.Fatalf("Merge(%q): %v", delta, err)
		}
	}
	if got := mustGet(t, tree, "hits"); got != "6" {
		t.Fatalf("got %q, want %q", got, "6")
	}
}

func TestMergeWithBase(t *testing.T) {
	tree := openCounterTree(t)

	if err := tree.Put([]byte("hits"), []byte("10")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := tree.Merge([]byte("hits"), []byte("+5")); err != nil {
		t.Fatalf("Merge: %v", err)
	}
	if got := mustGet(t, tree, "hits"); got != "15" {
		t.Fatalf("got %q, want %q", got, "15")
	}
}

func TestMergeAfterDelete(t *testing.T) {
	// A tombstone severs the chain: operands written after it merge
	// against an absent base, not the deleted value.
	tree := openCounterTree(t)

	if err := tree.Put([]byte("hits"), []byte("100")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := tree.Delete([]byte("hits")); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := tree.Merge([]byte("hits"), []byte("+7")); err != nil {
		t.Fatalf("Merge: %v", err)
	}
	if got := mustGet(t, tree, "hits"); got != "7" {
		t.Fatalf("got %q, want %q", got, "7")
	}
}

func TestPutShadowsOperands(t *testing.T) {
	tree := openCounterTree(t)

	if err := tree.Merge([]byte("k"), []byte("+3")); err != nil {
		t.Fatalf("Merge: %v", err)
	}
	if err := tree.Put([]byte("k"), []byte("0")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if got := mustGet(t, tree, "k"); got != "0" {
		t.Fatalf("got %q, want %q", got, "0")
	}
}

func TestMergeWithoutOperator(t *testing.T) {
	tree, err := lsmtree.Open(t.TempDir(), lsmtree.WithStorage(lsmtree.NewMemoryStorage()))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer tree.Close()

	if err := tree.Merge([]byte("k"), []byte("+1")); !errors.Is(err, lsmtree.ErrNoMergeOperator) {
		t.Fatalf("expected ErrNoMergeOperator, got %v", err)
	}

	// Plain writes still work.
	if err := tree.Put([]byte("k"), []byte("v")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if got := mustGet(t, tree, "k"); got != "v" {
		t.Fatalf("got %q, want %q", got, "v")
	}
}

func TestMergeFailureIsNotMissingKey(t *testing.T) {
	tree := openCounterTree(t)

	if err := tree.Merge([]byte("k"), []byte("not-a-number")); err != nil {
		t.Fatalf("Merge: %v", err)
	}

	_, err := tree.Get(context.Background(), []byte("k"))
	if !errors.Is(err, lsmtree.ErrMergeFailed) {
		t.Fatalf("expected ErrMergeFailed, got %v", err)
	}
	if errors.Is(err, lsmtree.ErrKeyNotFound) {
		t.Fatal("merge failure reported as a missing key")
	}

	// The bad operand stays put; a newer base shadows it.
	if err := tree.Put([]byte("k"), []byte("5")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if got := mustGet(t, tree, "k"); got != "5" {
		t.Fatalf("got %q, want %q", got, "5")
	}
}

func TestGetAcrossFlush(t *testing.T) {
	tree := openCounterTree(t)
	ctx := context.Background()

	if err := tree.Put([]byte("hits"), []byte("10")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := tree.Merge([]byte("hits"), []byte("+1")); err != nil {
		t.Fatalf("Merge: %v", err)
	}
	if err := tree.Flush(ctx); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	// The chain now spans a segment and the fresh memtable.
	if err := tree.Merge([]byte("hits"), []byte("+2")); err != nil {
		t.Fatalf("Merge: %v", err)
	}
	if got := mustGet(t, tree, "hits"); got != "13" {
		t.Fatalf("got %q, want %q", got, "13")
	}

	stats := tree.Stats()
	if stats.SegmentCount == 0 {
		t.Fatal("flush produced no segment")
	}
}

func TestCompactCollapsesChains(t *testing.T) {
	tree := openCounterTree(t)
	ctx := context.Background()

	if err := tree.Put([]byte("hits"), []byte("10")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	for _, delta := range []string{"+1", "+2", "+3"} {
		if err := tree.Merge([]byte("hits"), []byte(delta)); err != nil {
			t.Fatalf("Merge: %v", err)
		}
		if err := tree.Flush(ctx); err != nil {
			t.Fatalf("Flush: %v", err)
		}
	}
	if err := tree.Merge([]byte("unresolved"), []byte("+9")); err != nil {
		t.Fatalf("Merge: %v", err)
	}
	if err := tree.Flush(ctx); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	if err := tree.Compact(ctx); err != nil {
		t.Fatalf("Compact: %v", err)
	}

	if got := mustGet(t, tree, "hits"); got != "16" {
		t.Fatalf("after compaction got %q, want %q", got, "16")
	}
	if got := mustGet(t, tree, "unresolved"); got != "9" {
		t.Fatalf("after compaction got %q, want %q", got, "9")
	}

	stats := tree.Stats()
	if stats.SegmentCount != 1 {
		t.Fatalf("got %d segments after full compaction, want 1", stats.SegmentCount)
	}
	if bottom := stats.LevelCounts[len(stats.LevelCounts)-1]; bottom != 1 {
		t.Fatalf("bottom level holds %d segments, want 1", bottom)
	}
}

func TestCompactDropsDeletedKeys(t *testing.T) {
	tree := openCounterTree(t)
	ctx := context.Background()

	if err := tree.Put([]byte("gone"), []byte("1")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := tree.Delete([]byte("gone")); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := tree.Flush(ctx); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if err := tree.Compact(ctx); err != nil {
		t.Fatalf("Compact: %v", err)
	}

	if _, err := tree.Get(ctx, []byte("gone")); !errors.Is(err, lsmtree.ErrKeyNotFound) {
		t.Fatalf("expected ErrKeyNotFound, got %v", err)
	}
	if stats := tree.Stats(); stats.SegmentCount != 0 {
		t.Fatalf("tombstone-only data left %d segments behind", stats.SegmentCount)
	}
}

func TestCompactPreservesFailedMerges(t *testing.T) {
	tree := openCounterTree(t)
	ctx := context.Background()

	if err := tree.Merge([]byte("bad"), []byte("oops")); err != nil {
		t.Fatalf("Merge: %v", err)
	}
	if err := tree.Flush(ctx); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if err := tree.Compact(ctx); err != nil {
		t.Fatalf("Compact: %v", err)
	}

	// The unresolvable operand must survive compaction verbatim.
	if _, err := tree.Get(ctx, []byte("bad")); !errors.Is(err, lsmtree.ErrMergeFailed) {
		t.Fatalf("expected ErrMergeFailed after compaction, got %v", err)
	}
	if stats := tree.Stats(); stats.SegmentCount == 0 {
		t.Fatal("failed merge chain was dropped by compaction")
	}
}

func TestAutoFlushOnThreshold(t *testing.T) {
	tree := openCounterTree(t, lsmtree.WithMemTableSize(256))
	ctx := context.Background()

	for i := 0; i < 100; i++ {
		if err := tree.Merge([]byte(fmt.Sprintf("k%03d", i)), []byte("+1")); err != nil {
			t.Fatalf("Merge: %v", err)
		}
	}
	if err := tree.Flush(ctx); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	for i := 0; i < 100; i++ {
		key := fmt.Sprintf("k%03d", i)
		if got := mustGet(t, tree, key); got != "1" {
			t.Fatalf("key %q = %q, want %q", key, got, "1")
		}
	}
	if stats := tree.Stats(); stats.SegmentCount == 0 {
		t.Fatal("threshold crossings produced no segments")
	}
}

func TestReopenLoadsSegments(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	tree, err := lsmtree.Open(dir, lsmtree.WithMergeOperator(mergeops.NewCounter()))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := tree.Put([]byte("hits"), []byte("10")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := tree.Merge([]byte("hits"), []byte("+5")); err != nil {
		t.Fatalf("Merge: %v", err)
	}
	if err := tree.Flush(ctx); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if err := tree.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	reopened, err := lsmtree.Open(dir, lsmtree.WithMergeOperator(mergeops.NewCounter()))
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()

	if got := mustGet(t, reopened, "hits"); got != "15" {
		t.Fatalf("after reopen got %q, want %q", got, "15")
	}

	// Writes after reopen continue the chain.
	if err := reopened.Merge([]byte("hits"), []byte("+1")); err != nil {
		t.Fatalf("Merge after reopen: %v", err)
	}
	if got := mustGet(t, reopened, "hits"); got != "16" {
		t.Fatalf("got %q, want %q", got, "16")
	}
}

func TestRecoverFromWAL(t *testing.T) {
	// Simulate a crash: WAL files on disk, no flushed segments.
	dir := t.TempDir()

	w, err := wal.Open(filepath.Join(dir, "wal_000001.log"), wal.SyncAlways)
	if err != nil {
		t.Fatalf("wal.Open: %v", err)
	}
	records := []*entry.Entry{
		{Key: []byte("hits"), Value: []byte("10"), Seq: 1, Kind: entry.KindPut},
		{Key: []byte("hits"), Value: []byte("+3"), Seq: 2, Kind: entry.KindMerge},
		{Key: []byte("hits"), Value: []byte("+4"), Seq: 3, Kind: entry.KindMerge},
	}
	for _, e := range records {
		if err := w.Append(e); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("wal.Close: %v", err)
	}

	tree, err := lsmtree.Open(dir, lsmtree.WithMergeOperator(mergeops.NewCounter()))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer tree.Close()

	if got := mustGet(t, tree, "hits"); got != "17" {
		t.Fatalf("recovered chain resolves to %q, want %q", got, "17")
	}

	// New writes must not collide with recovered sequence numbers.
	if err := tree.Merge([]byte("hits"), []byte("-7")); err != nil {
		t.Fatalf("Merge: %v", err)
	}
	if got := mustGet(t, tree, "hits"); got != "10" {
		t.Fatalf("got %q, want %q", got, "10")
	}
}

func TestOrderSensitiveOperator(t *testing.T) {
	tree, err := lsmtree.Open(t.TempDir(),
		lsmtree.WithMergeOperator(mergeops.NewAppend(',')),
		lsmtree.WithStorage(lsmtree.NewMemoryStorage()),
	)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer tree.Close()
	ctx := context.Background()

	for _, item := range []string{"a", "b", "c", "d"} {
		if err := tree.Merge([]byte("list"), []byte(item)); err != nil {
			t.Fatalf("Merge: %v", err)
		}
	}
	if got := mustGet(t, tree, "list"); got != "a,b,c,d" {
		t.Fatalf("got %q, want %q", got, "a,b,c,d")
	}

	// Order survives flush and compaction.
	if err := tree.Flush(ctx); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if err := tree.Compact(ctx); err != nil {
		t.Fatalf("Compact: %v", err)
	}
	if got := mustGet(t, tree, "list"); got != "a,b,c,d" {
		t.Fatalf("after compaction got %q, want %q", got, "a,b,c,d")
	}
}

func TestClosedTreeRejectsOperations(t *testing.T) {
	tree := openCounterTree(t)
	if err := tree.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	if err := tree.Put([]byte("k"), []byte("v")); !errors.Is(err, lsmtree.ErrTreeClosed) {
		t.Fatalf("Put on closed tree: %v", err)
	}
	if _, err := tree.Get(context.Background(), []byte("k")); !errors.Is(err, lsmtree.ErrTreeClosed) {
		t.Fatalf("Get on closed tree: %v", err)
	}
	if err := tree.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
}

func TestStats(t *testing.T) {
	tree := openCounterTree(t)

	if err := tree.Merge([]byte("k"), []byte("+1")); err != nil {
		t.Fatalf("Merge: %v", err)
	}
	stats := tree.Stats()
	if stats.MemTableCount != 1 {
		t.Fatalf("MemTableCount = %d, want 1", stats.MemTableCount)
	}
	if stats.Operator != "mergeops.counter" {
		t.Fatalf("Operator = %q", stats.Operator)
	}
}

func TestTraceRecordsSpans(t *testing.T) {
	tree := openCounterTree(t)

	if err := tree.Merge([]byte("k"), []byte("+1")); err != nil {
		t.Fatalf("Merge: %v", err)
	}
	ctx := lsmtree.WithTrace(context.Background())
	if _, err := tree.Get(ctx, []byte("k")); err != nil {
		t.Fatalf("Get: %v", err)
	}
	if dump := lsmtree.TraceDump(ctx); dump == "" {
		t.Fatal("traced Get recorded no spans")
	}
}
