// Package storage persists the small amount of state dailycast keeps outside
// the recipient directory: per-stream seen-id sets (content dedup) and an
// append-only audit trail of passes and operator commands.
//
// Drivers: "memory" (default), "file" (JSON snapshot + JSONL audit) and
// "sqlite" (modernc.org/sqlite).
package storage
