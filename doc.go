// Package cachette is a tiered, single-flight-coalescing cache: a bounded
// in-process LRU backed by a remote Redis store, with at-most-one
// in-process (and, with locking enabled, at-most-one cluster-wide)
// concurrent computation per key.
package cachette
