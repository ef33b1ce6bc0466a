/*
Package session serializes access to live Arbor instances and persists them.

An Instance must be driven from one goroutine at a time. The Manager keeps a named set
of attached instances behind per-key locks (optionally backed by a ports.DistributedLocker
across replicas) and checkpoints them to a ports.SnapshotStore for Stop & Resume.
*/
package session
