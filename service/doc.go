// Package service wires the sequencer to its durability and delivery
// layers: the entry write-ahead log, snapshots and the broadcast outbox.
//
// It is decoupled from transports; gRPC and the admin HTTP API call into
// it through the same methods.
package service
