// Package storage provides the ledger storage backends: SQLite for
// production use and an in-memory map for tests and ephemeral runs.
package storage
