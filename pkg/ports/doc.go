/*
Package ports defines the driven ports (interfaces) of the Arbor runtime.

These interfaces decouple the engine from infrastructure so the same instance can run
in-process, behind an HTTP surface or replicated across peers.

# Key Interfaces

  - SnapshotStore: persists instance snapshots for Stop & Resume.
  - DistributedLocker: serializes access to one instance key across replicas.
  - Replicator: fans committed transitions out from the authority to observers.
  - Dispatcher: posts the finish phase of async initialization to the owning thread.
*/
package ports
