// Package pos defines the domain types shared by every tillsync package:
// sales, shift sessions, cash events, catalog entries and outbox commands,
// plus the error taxonomy used at the store boundary.
//
// This package contains type definitions only. All other internal packages
// import pos; pos imports nothing internal.
//
// Key design constraints:
//   - NO float types for money - every amount is int64 minor currency units
//   - All JSON tags use snake_case
//   - Admission order of commands uses seq, never wall-clock timestamps
package pos
