package lsmtree

import "errors"

var (
	// ErrKeyNotFound is returned by Get when a key does not exist or has
	// been deleted. It is distinct from ErrMergeFailed: a failing merge
	// operator never masquerades as a missing key.
	ErrKeyNotFound = errors.New("key not found")

	// ErrMergeFailed is returned when the configured merge operator
	// reports a failure. The base value and all operands are left
	// untouched so the resolution can be retried or inspected.
	ErrMergeFailed = errors.New("merge operator failed")

	// ErrNoMergeOperator is returned by Merge when the tree was opened
	// without a merge operator.
	ErrNoMergeOperator = errors.New("no merge operator configured")

	// ErrEmptyMergeInput is returned by ResolveFull when both the base
	// value and the operand list are absent. This is a caller error, not
	// an operator concern.
	ErrEmptyMergeInput = errors.New("merge resolution needs a base value or at least one operand")

	// ErrTreeClosed is returned for operations on a closed tree.
	ErrTreeClosed = errors.New("tree is closed")

	// ErrCorruptedWAL is returned when a WAL record fails its checksum.
	ErrCorruptedWAL = errors.New("corrupted WAL record")

	// ErrCorruptedSegment is returned when a segment blob fails parsing.
	ErrCorruptedSegment = errors.New("corrupted segment")
)
