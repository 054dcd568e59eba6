package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"netpilot-hq/netpilot/pkg/ledger"
)

// SQLiteConfig contains configuration for the SQLite storage backend.
type SQLiteConfig struct {
	// Path is the database file path.
	Path string

	// MaxOpenConns is the maximum number of open connections to the database.
	// Default: 10
	MaxOpenConns int

	// MaxIdleConns is the maximum number of idle connections.
	// Default: 5
	MaxIdleConns int

	// WALMode enables Write-Ahead Logging mode for better concurrency.
	// Default: true
	WALMode bool

	// BusyTimeout is the duration to wait when the database is locked.
	// Default: 5 seconds
	BusyTimeout time.Duration
}

// DefaultSQLiteConfig returns the default SQLite configuration.
func DefaultSQLiteConfig() *SQLiteConfig {
	return &SQLiteConfig{
		Path:         "data/ledger.db",
		MaxOpenConns: 10,
		MaxIdleConns: 5,
		WALMode:      true,
		BusyTimeout:  5 * time.Second,
	}
}

// SQLiteStorage implements ledger.Storage using SQLite.
type SQLiteStorage struct {
	db     *sql.DB
	config *SQLiteConfig
	logger *slog.Logger
}

// NewSQLiteStorage opens the database, enables WAL mode if configured
// and creates the schema.
func NewSQLiteStorage(config *SQLiteConfig) (*SQLiteStorage, error) {
	if config == nil {
		config = DefaultSQLiteConfig()
	}

	logger := slog.Default().With("component", "ledger.storage.sqlite")

	if dir := filepath.Dir(config.Path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, ledger.NewStorageError("sqlite", "mkdir", err)
		}
	}

	db, err := sql.Open("sqlite3", config.Path)
	if err != nil {
		return nil, ledger.NewStorageError("sqlite", "open", err)
	}

	db.SetMaxOpenConns(config.MaxOpenConns)
	db.SetMaxIdleConns(config.MaxIdleConns)

	s := &SQLiteStorage{
		db:     db,
		config: config,
		logger: logger,
	}

	if err := s.initialize(); err != nil {
		db.Close()
		return nil, err
	}

	logger.Info("ledger storage initialized",
		"path", config.Path,
		"wal_mode", config.WALMode,
	)

	return s, nil
}

func (s *SQLiteStorage) initialize() error {
	if s.config.WALMode {
		if _, err := s.db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
			return ledger.NewStorageError("sqlite", "enable_wal", err)
		}
	}

	if _, err := s.db.Exec(fmt.Sprintf("PRAGMA busy_timeout=%d;", s.config.BusyTimeout.Milliseconds())); err != nil {
		return ledger.NewStorageError("sqlite", "set_busy_timeout", err)
	}

	if _, err := s.db.Exec(Schema); err != nil {
		return ledger.NewStorageError("sqlite", "create_schema", err)
	}

	if _, err := s.db.Exec(InsertSchemaVersion, SchemaVersion); err != nil {
		return ledger.NewStorageError("sqlite", "insert_schema_version", err)
	}

	var version int
	err := s.db.QueryRow(GetSchemaVersion).Scan(&version)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return ledger.NewStorageError("sqlite", "get_schema_version", err)
	}
	if version != SchemaVersion {
		return ledger.NewStorageError("sqlite", "schema_version_mismatch",
			fmt.Errorf("expected schema version %d, got %d", SchemaVersion, version))
	}

	return nil
}

// Ping verifies the database connection.
func (s *SQLiteStorage) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Insert stores a new running entry.
func (s *SQLiteStorage) Insert(ctx context.Context, entry *ledger.Entry) error {
	payload, err := marshalPayload(entry.Payload)
	if err != nil {
		return ledger.NewStorageError("sqlite", "insert", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO operations (id, tenant_id, kind, action, subject, status, payload, started_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID, entry.TenantID, string(entry.Kind), entry.Action, entry.Subject,
		string(entry.Status), payload, entry.StartedAt,
	)
	if err != nil {
		return ledger.NewStorageError("sqlite", "insert", err)
	}
	return nil
}

// Finalize records the terminal state of a running entry.
func (s *SQLiteStorage) Finalize(ctx context.Context, entry *ledger.Entry) error {
	payload, err := marshalPayload(entry.Payload)
	if err != nil {
		return ledger.NewStorageError("sqlite", "finalize", err)
	}

	var errVal any
	if entry.Error != "" {
		errVal = entry.Error
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE operations
		SET status = ?, payload = ?, error = ?, completed_at = ?, duration_ms = ?
		WHERE id = ? AND status = ?`,
		string(entry.Status), payload, errVal, entry.CompletedAt, entry.Duration.Milliseconds(),
		entry.ID, string(ledger.StatusRunning),
	)
	if err != nil {
		return ledger.NewStorageError("sqlite", "finalize", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return ledger.NewStorageError("sqlite", "finalize", err)
	}
	if n == 1 {
		return nil
	}

	if _, err := s.Get(ctx, entry.ID); err != nil {
		return err
	}
	return ledger.ErrAlreadyFinalized
}

const selectColumns = `id, tenant_id, kind, action, subject, status, payload, error, started_at, completed_at, duration_ms`

// Get returns the entry with the given id.
func (s *SQLiteStorage) Get(ctx context.Context, id string) (*ledger.Entry, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT "+selectColumns+" FROM operations WHERE id = ?", id)
	if err != nil {
		return nil, ledger.NewStorageError("sqlite", "get", err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, ledger.NewStorageError("sqlite", "get", err)
		}
		return nil, ledger.ErrNotFound
	}
	entry, err := scanEntry(rows)
	if err != nil {
		return nil, ledger.NewStorageError("sqlite", "scan", err)
	}
	return entry, nil
}

// Query returns entries matching q, newest first.
func (s *SQLiteStorage) Query(ctx context.Context, q *ledger.Query) ([]*ledger.Entry, error) {
	if q == nil {
		q = &ledger.Query{}
	}

	whereClause, args := buildWhereClause(q)
	sqlQuery := "SELECT " + selectColumns + " FROM operations"
	if whereClause != "" {
		sqlQuery += " WHERE " + whereClause
	}
	sqlQuery += " ORDER BY started_at DESC, id DESC"

	limit := 100
	if q.Limit > 0 {
		limit = q.Limit
	}
	sqlQuery += fmt.Sprintf(" LIMIT %d", limit)
	if q.Offset > 0 {
		sqlQuery += fmt.Sprintf(" OFFSET %d", q.Offset)
	}

	rows, err := s.db.QueryContext(ctx, sqlQuery, args...)
	if err != nil {
		return nil, ledger.NewStorageError("sqlite", "query", err)
	}
	defer rows.Close()

	entries := []*ledger.Entry{}
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, ledger.NewStorageError("sqlite", "scan", err)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, ledger.NewStorageError("sqlite", "query", err)
	}
	return entries, nil
}

// Count returns the number of entries matching q.
func (s *SQLiteStorage) Count(ctx context.Context, q *ledger.Query) (int64, error) {
	if q == nil {
		q = &ledger.Query{}
	}
	whereClause, args := buildWhereClause(q)
	sqlQuery := "SELECT COUNT(*) FROM operations"
	if whereClause != "" {
		sqlQuery += " WHERE " + whereClause
	}

	var count int64
	if err := s.db.QueryRowContext(ctx, sqlQuery, args...).Scan(&count); err != nil {
		return 0, ledger.NewStorageError("sqlite", "count", err)
	}
	return count, nil
}

// Delete removes finalized entries matching q.
func (s *SQLiteStorage) Delete(ctx context.Context, q *ledger.Query) (int64, error) {
	if q == nil {
		q = &ledger.Query{}
	}
	whereClause, args := buildWhereClause(q)
	sqlQuery := "DELETE FROM operations WHERE status != ?"
	args = append([]any{string(ledger.StatusRunning)}, args...)
	if whereClause != "" {
		sqlQuery += " AND " + whereClause
	}

	result, err := s.db.ExecContext(ctx, sqlQuery, args...)
	if err != nil {
		return 0, ledger.NewStorageError("sqlite", "delete", err)
	}
	count, err := result.RowsAffected()
	if err != nil {
		return 0, ledger.NewStorageError("sqlite", "delete", err)
	}
	return count, nil
}

// Close releases the database connection.
func (s *SQLiteStorage) Close() error {
	if err := s.db.Close(); err != nil {
		return ledger.NewStorageError("sqlite", "close", err)
	}
	s.logger.Info("ledger storage closed")
	return nil
}

// buildWhereClause returns the WHERE clause (without "WHERE") and its arguments.
func buildWhereClause(q *ledger.Query) (string, []any) {
	var conditions []string
	var args []any

	if q.TenantID != "" {
		conditions = append(conditions, "tenant_id = ?")
		args = append(args, q.TenantID)
	}
	if q.Kind != "" {
		conditions = append(conditions, "kind = ?")
		args = append(args, string(q.Kind))
	}
	if q.Status != "" {
		conditions = append(conditions, "status = ?")
		args = append(args, string(q.Status))
	}
	if q.Subject != "" {
		conditions = append(conditions, "subject = ?")
		args = append(args, q.Subject)
	}
	if q.StartTime != nil {
		conditions = append(conditions, "started_at >= ?")
		args = append(args, q.StartTime.UTC())
	}
	if q.EndTime != nil {
		conditions = append(conditions, "started_at <= ?")
		args = append(args, q.EndTime.UTC())
	}

	return strings.Join(conditions, " AND "), args
}

func scanEntry(rows *sql.Rows) (*ledger.Entry, error) {
	var (
		entry       ledger.Entry
		kind        string
		status      string
		payload     sql.NullString
		errVal      sql.NullString
		completedAt sql.NullTime
		durationMs  int64
	)

	err := rows.Scan(
		&entry.ID, &entry.TenantID, &kind, &entry.Action, &entry.Subject, &status,
		&payload, &errVal, &entry.StartedAt, &completedAt, &durationMs,
	)
	if err != nil {
		return nil, err
	}

	entry.Kind = ledger.Kind(kind)
	entry.Status = ledger.Status(status)
	entry.Duration = time.Duration(durationMs) * time.Millisecond
	if errVal.Valid {
		entry.Error = errVal.String
	}
	if completedAt.Valid {
		t := completedAt.Time
		entry.CompletedAt = &t
	}
	if payload.Valid && payload.String != "" {
		if err := json.Unmarshal([]byte(payload.String), &entry.Payload); err != nil {
			return nil, fmt.Errorf("failed to decode payload of %s: %w", entry.ID, err)
		}
	}
	return &entry, nil
}

func marshalPayload(payload map[string]any) (string, error) {
	if len(payload) == 0 {
		return "{}", nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to encode payload: %w", err)
	}
	return string(data), nil
}
