// Package store provides the SQLite-backed call log for the bridge.
//
// Two tables:
//   - calls: one row per renderer entry point invocation, append-only
//   - sessions: last known state of each bridge session, upserted on every
//     transition
//
// # Critical Patterns
//
// Logical time:
//   - All ordering uses seq INTEGER (logical clock), NEVER timestamps
//   - Calls and session transitions share one clock, so a session row's
//     updated_seq places it in the call timeline
//
// Deterministic reads:
//   - Call queries order by seq ASC, id ASC COLLATE BINARY
//
// Idempotent writes:
//   - calls are content-addressed (see ir.CallID); rewriting the same call is
//     a no-op via ON CONFLICT(id) DO NOTHING
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
package store
