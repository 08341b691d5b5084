// Package store provides SQLite-backed persistence for bot notifications
// and configuration snapshots.
//
// The store keeps:
//   - Notifications: every message a bot published, append-only
//   - Configurations: the latest redacted configuration per identifier
//
// Passwords never reach the database: configurations are always saved in
// their redacted form.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
//
// Notifications are ordered by their row seq, assigned on insert.
package store
