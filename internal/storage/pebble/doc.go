// Package pebblestore wraps the replica's Pebble database.
//
// One DB per replica holds every piece of local state, separated by key
// prefix: work queue messages and visibility index, the lifecycle transition
// journal, and the pebble-backed replica state store. Writes go through
// batches committed with CommitBatch so the configured FsyncMode applies
// uniformly, and every commit is reported to an optional MetricsHook.
package pebblestore
