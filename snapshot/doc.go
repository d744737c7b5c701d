// Package snapshot persists the sequencer's log at a position so that
// recovery replays only the write-ahead log written after it.
package snapshot
