/*
Package domain contains the core domain models shared by the Arbor runtime and its adapters.

It defines the handles used to address nodes inside a compiled graph, the capability
interfaces a behavior object may implement to receive lifecycle hooks, and the discrete
events that cross the replication boundary. This package is kept free of I/O and
persistence concerns so that it can be imported by every layer.

# Key Entities

  - StateID / TransitionID: small integer handles into a compiled graph arena.
  - Behavior capabilities: StateBeginner, StateUpdater, TransitionConditioner, ...
  - HookContext: what a behavior hook can observe about the node it is attached to.
  - TransitionTakenEvent / StateChangedEvent: serializable replication events.
  - HistoryEntry / Snapshot: the history query surface and persisted instance state.
*/
package domain
