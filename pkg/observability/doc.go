/*
Package observability turns instance lifecycle hooks into telemetry.

  - Metrics: Prometheus counters and histograms for transitions, state entries and updates.
  - Tracing: OpenTelemetry spans for update passes and committed transitions.
  - Journal: a bounded in-memory feed of state changes for introspection endpoints.

Each component exposes Hooks, which are combined with arbor.WithLifecycleHooks.
*/
package observability
