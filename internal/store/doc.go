// Package store is the local transaction store: SQLite-backed durable
// storage for sales, shift sessions, cash events, the catalog replica and
// the outbox commands that mirror them to the remote ledger.
//
// Every mutation that creates an entity also enqueues its command in the
// same SQLite transaction, so an entity never exists without the command
// that will sync it and a command never exists without its entity.
//
// # Ordering
//
//   - Commands carry a monotonic seq assigned inside the enqueueing
//     transaction; a workspace drains strictly by seq.
//   - Cash events carry a seq within their shift.
//   - Queries that return lists are ordered by seq (or created_at) plus id.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
//
// The pool is capped at one connection, which makes the store the single
// writer. Helpers that run inside a transaction take a querier and must
// never touch s.db directly.
//
// Timestamps are stored as INTEGER unix milliseconds (UTC). Money columns
// are INTEGER minor units.
package store
