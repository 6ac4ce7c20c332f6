// Package mergeops provides ready-made merge operators for common
// read-modify-write patterns: numeric counters, order-preserving list
// append, RFC 7396 JSON merge patches, and path-scoped field updates.
//
// Every operator here is stateless and safe to share across concurrent
// readers and compaction workers.
package mergeops
