// Package store provides SQLite-backed durable storage for the tracking
// pipeline.
//
// Tables:
//   - locations: append-only log of captured samples (AUTOINCREMENT ids)
//   - location_queue: one upload ledger row per location
//   - proximity_alerts: alert configuration plus engine-owned state
//   - service_health: single row describing the tracking worker
//
// # Conventions
//
//   - Timestamps are stored as unix milliseconds; NULL means absent.
//   - Queue transitions are compare-and-set on the current status, so a
//     writer that lost a race gets ErrStatusConflict instead of silently
//     overwriting another transition.
//   - Queue ordering is always ORDER BY queued_at ASC, location_id ASC.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
package store
