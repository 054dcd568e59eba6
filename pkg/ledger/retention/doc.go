// Package retention enforces the ledger retention policy: finalized
// entries older than the retention period are deleted, optionally after
// being archived as JSON lines, and the total entry count can be capped.
// Running entries are never pruned.
package retention
