// Package sqlstore implements store.Store on database/sql. SQLite is
// served by modernc.org/sqlite and Postgres by pgx through its
// database/sql adapter; the schema is managed by embedded goose
// migrations.
package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // Postgres driver ("pgx")
	_ "modernc.org/sqlite"             // SQLite driver ("sqlite")

	"netpilot-hq/netpilot/pkg/model"
	"netpilot-hq/netpilot/pkg/store"
)

const (
	dialectSQLite   = "sqlite"
	dialectPostgres = "postgres"
)

// Config configures the SQL store.
type Config struct {
	// Driver selects the backend: "sqlite" or "postgres".
	// Default: "sqlite"
	Driver string

	// DSN is a file path for SQLite or a connection string for Postgres.
	DSN string

	// MaxOpenConns bounds the pool. SQLite always uses a single connection.
	// Default: 10
	MaxOpenConns int

	// BusyTimeout is how long SQLite waits for locks.
	// Default: 5 seconds
	BusyTimeout time.Duration

	// AutoMigrate applies pending migrations on Open.
	AutoMigrate bool
}

// Store implements store.Store.
type Store struct {
	db      *sql.DB
	dialect string
	logger  *slog.Logger
}

var _ store.Store = (*Store)(nil)

// Open connects to the configured database.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.Driver == "" {
		cfg.Driver = dialectSQLite
	}
	if cfg.MaxOpenConns <= 0 {
		cfg.MaxOpenConns = 10
	}
	if cfg.BusyTimeout <= 0 {
		cfg.BusyTimeout = 5 * time.Second
	}
	if cfg.DSN == "" {
		return nil, store.NewError(cfg.Driver, "open", errors.New("dsn cannot be empty"))
	}

	var (
		db  *sql.DB
		err error
	)
	switch cfg.Driver {
	case dialectSQLite:
		if !strings.HasPrefix(cfg.DSN, "file:") {
			if dir := filepath.Dir(cfg.DSN); dir != "" {
				if err := os.MkdirAll(dir, 0o755); err != nil {
					return nil, store.NewError(cfg.Driver, "mkdir", err)
				}
			}
		}
		db, err = sql.Open("sqlite", sqliteDSN(cfg.DSN, cfg.BusyTimeout))
		if err == nil {
			db.SetMaxOpenConns(1) // SQLite only supports a single writer
			db.SetMaxIdleConns(1)
		}
	case dialectPostgres:
		db, err = sql.Open("pgx", cfg.DSN)
		if err == nil {
			db.SetMaxOpenConns(cfg.MaxOpenConns)
			db.SetMaxIdleConns(cfg.MaxOpenConns / 2)
		}
	default:
		return nil, store.NewError(cfg.Driver, "open", fmt.Errorf("unsupported driver %q", cfg.Driver))
	}
	if err != nil {
		return nil, store.NewError(cfg.Driver, "open", err)
	}

	s := &Store{
		db:      db,
		dialect: cfg.Driver,
		logger:  slog.Default().With("component", "store.sql", "driver", cfg.Driver),
	}

	if err := s.Ping(ctx); err != nil {
		db.Close()
		return nil, err
	}

	if cfg.AutoMigrate {
		if _, err := s.Migrate(ctx); err != nil {
			db.Close()
			return nil, err
		}
	}

	s.logger.Info("desired-state store opened")
	return s, nil
}

func sqliteDSN(path string, busy time.Duration) string {
	if strings.Contains(path, "?") {
		return path
	}
	if !strings.HasPrefix(path, "file:") {
		path = "file:" + path
	}
	return fmt.Sprintf("%s?_pragma=busy_timeout(%d)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)",
		path, busy.Milliseconds())
}

// DB exposes the underlying handle for administrative tooling.
func (s *Store) DB() *sql.DB {
	return s.db
}

func (s *Store) wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, store.ErrNotFound) {
		return err
	}
	return store.NewError(s.dialect, op, err)
}

// rebind rewrites "?" placeholders to "$n" for Postgres.
func (s *Store) rebind(query string) string {
	if s.dialect != dialectPostgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *Store) query(ctx context.Context, op, q string, args ...any) (*sql.Rows, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(q), args...)
	if err != nil {
		return nil, s.wrap(op, err)
	}
	return rows, nil
}

// Ping verifies the connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.wrap("ping", s.db.PingContext(ctx))
}

// Close closes the database.
func (s *Store) Close() error {
	return s.wrap("close", s.db.Close())
}

const domainColumns = `id, tenant_id, name, is_active, is_locked, auto_tls, force_https, bind_address, created_at, updated_at`

func scanDomain(rows *sql.Rows) (model.Domain, error) {
	var d model.Domain
	var created, updated int64
	err := rows.Scan(&d.ID, &d.TenantID, &d.Name, &d.IsActive, &d.IsLocked, &d.AutoTLS,
		&d.ForceHTTPS, &d.BindAddress, &created, &updated)
	d.CreatedAt = fromMillis(created)
	d.UpdatedAt = fromMillis(updated)
	return d, err
}

// ListDomains implements store.Reader.
func (s *Store) ListDomains(ctx context.Context, scope model.Scope) ([]model.Domain, error) {
	rows, err := s.query(ctx, "list_domains",
		"SELECT "+domainColumns+" FROM domains WHERE tenant_id = ? ORDER BY id", scope.TenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Domain
	for rows.Next() {
		d, err := scanDomain(rows)
		if err != nil {
			return nil, s.wrap("scan_domain", err)
		}
		out = append(out, d)
	}
	return out, s.wrap("list_domains", rows.Err())
}

// GetDomain implements store.Reader.
func (s *Store) GetDomain(ctx context.Context, scope model.Scope, id int64) (*model.Domain, error) {
	rows, err := s.query(ctx, "get_domain",
		"SELECT "+domainColumns+" FROM domains WHERE id = ? AND tenant_id = ?", id, scope.TenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, s.wrap("get_domain", err)
		}
		return nil, store.ErrNotFound
	}
	d, err := scanDomain(rows)
	if err != nil {
		return nil, s.wrap("scan_domain", err)
	}
	return &d, nil
}

// ListUpstreams implements store.Reader.
func (s *Store) ListUpstreams(ctx context.Context, scope model.Scope, domainID int64) ([]model.Upstream, error) {
	q := `SELECT u.id, u.domain_id, u.name, u.target_url, u.weight, u.is_active, u.health_check_path,
		u.health_check_interval_seconds, u.timeout_ms, u.created_at
		FROM upstreams u JOIN domains d ON d.id = u.domain_id
		WHERE d.tenant_id = ?`
	args := []any{scope.TenantID}
	if domainID != 0 {
		q += " AND u.domain_id = ?"
		args = append(args, domainID)
	}
	q += " ORDER BY u.id"

	rows, err := s.query(ctx, "list_upstreams", q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Upstream
	for rows.Next() {
		var u model.Upstream
		var intervalSec, timeoutMs, created int64
		if err := rows.Scan(&u.ID, &u.DomainID, &u.Name, &u.TargetURL, &u.Weight, &u.IsActive,
			&u.HealthCheckPath, &intervalSec, &timeoutMs, &created); err != nil {
			return nil, s.wrap("scan_upstream", err)
		}
		u.HealthCheckInterval = time.Duration(intervalSec) * time.Second
		u.Timeout = time.Duration(timeoutMs) * time.Millisecond
		u.CreatedAt = fromMillis(created)
		out = append(out, u)
	}
	return out, s.wrap("list_upstreams", rows.Err())
}

// ListRouteRules implements store.Reader.
func (s *Store) ListRouteRules(ctx context.Context, scope model.Scope, domainID int64) ([]model.RouteRule, error) {
	rows, err := s.query(ctx, "list_route_rules", `
		SELECT r.id, r.domain_id, r.upstream_id, r.path_pattern, r.http_method, r.priority, r.is_active,
			r.is_locked, r.strip_prefix, r.preserve_host, r.timeout_seconds, r.created_at
		FROM route_rules r JOIN domains d ON d.id = r.domain_id
		WHERE r.domain_id = ? AND d.tenant_id = ?
		ORDER BY r.id`, domainID, scope.TenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.RouteRule
	for rows.Next() {
		var r model.RouteRule
		var timeoutSec, created int64
		if err := rows.Scan(&r.ID, &r.DomainID, &r.UpstreamID, &r.PathPattern, &r.HTTPMethod, &r.Priority,
			&r.IsActive, &r.IsLocked, &r.StripPrefix, &r.PreserveHost, &timeoutSec, &created); err != nil {
			return nil, s.wrap("scan_route_rule", err)
		}
		r.Timeout = time.Duration(timeoutSec) * time.Second
		r.CreatedAt = fromMillis(created)
		out = append(out, r)
	}
	return out, s.wrap("list_route_rules", rows.Err())
}

// ListRedirectRules implements store.Reader.
func (s *Store) ListRedirectRules(ctx context.Context, scope model.Scope, domainID int64) ([]model.RedirectRule, error) {
	rows, err := s.query(ctx, "list_redirect_rules", `
		SELECT r.id, r.domain_id, r.source_pattern, r.is_regex, r.target_url, r.redirect_type, r.priority,
			r.is_active, r.preserve_query, r.created_at
		FROM redirect_rules r JOIN domains d ON d.id = r.domain_id
		WHERE r.domain_id = ? AND d.tenant_id = ?
		ORDER BY r.id`, domainID, scope.TenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.RedirectRule
	for rows.Next() {
		var r model.RedirectRule
		var redirectType int
		var created int64
		if err := rows.Scan(&r.ID, &r.DomainID, &r.SourcePattern, &r.IsRegex, &r.TargetURL, &redirectType,
			&r.Priority, &r.IsActive, &r.PreserveQuery, &created); err != nil {
			return nil, s.wrap("scan_redirect_rule", err)
		}
		r.Type = model.RedirectType(redirectType)
		r.CreatedAt = fromMillis(created)
		out = append(out, r)
	}
	return out, s.wrap("list_redirect_rules", rows.Err())
}

const certificateColumns = `id, tenant_id, domain_id, domain_name, san_domains, status, issuer, certificate_path,
	private_key_path, chain_path, issued_at, expires_at, auto_renew, renewal_days_before, last_error,
	failure_count, next_attempt_at, updated_at`

func scanCertificate(rows *sql.Rows) (*model.Certificate, error) {
	var (
		c                            model.Certificate
		sans, status                 string
		issued, expires, nextAttempt sql.NullInt64
		updated                      int64
	)
	err := rows.Scan(&c.ID, &c.TenantID, &c.DomainID, &c.DomainName, &sans, &status, &c.Issuer,
		&c.CertificatePath, &c.PrivateKeyPath, &c.ChainPath, &issued, &expires, &c.AutoRenew,
		&c.RenewBeforeDays, &c.LastError, &c.FailureCount, &nextAttempt, &updated)
	if err != nil {
		return nil, err
	}
	if sans != "" {
		if err := json.Unmarshal([]byte(sans), &c.SANs); err != nil {
			return nil, fmt.Errorf("failed to decode san_domains of certificate %d: %w", c.ID, err)
		}
	}
	c.Status = model.CertificateStatus(status)
	c.IssuedAt = nullableTime(issued)
	c.ExpiresAt = nullableTime(expires)
	c.NextAttemptAt = nullableTime(nextAttempt)
	c.UpdatedAt = fromMillis(updated)
	return &c, nil
}

func (s *Store) listCertificates(ctx context.Context, op, where string, args ...any) ([]*model.Certificate, error) {
	rows, err := s.query(ctx, op, "SELECT "+certificateColumns+" FROM ssl_certificates WHERE "+where, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*model.Certificate
	for rows.Next() {
		c, err := scanCertificate(rows)
		if err != nil {
			return nil, s.wrap("scan_certificate", err)
		}
		out = append(out, c)
	}
	return out, s.wrap(op, rows.Err())
}

// GetCertificate implements store.CertificateStore.
func (s *Store) GetCertificate(ctx context.Context, scope model.Scope, id int64) (*model.Certificate, error) {
	certs, err := s.listCertificates(ctx, "get_certificate", "id = ? AND tenant_id = ?", id, scope.TenantID)
	if err != nil {
		return nil, err
	}
	if len(certs) == 0 {
		return nil, store.ErrNotFound
	}
	return certs[0], nil
}

// ListCertificates implements store.CertificateStore.
func (s *Store) ListCertificates(ctx context.Context, scope model.Scope, filter store.CertificateFilter) ([]*model.Certificate, error) {
	where := "tenant_id = ?"
	args := []any{scope.TenantID}
	if filter.DomainID != 0 {
		where += " AND domain_id = ?"
		args = append(args, filter.DomainID)
	}
	if filter.AutoRenewOnly {
		where += " AND auto_renew = ?"
		args = append(args, true)
	}
	if len(filter.Statuses) > 0 {
		placeholders := make([]string, len(filter.Statuses))
		for i, st := range filter.Statuses {
			placeholders[i] = "?"
			args = append(args, string(st))
		}
		where += " AND status IN (" + strings.Join(placeholders, ", ") + ")"
	}
	return s.listCertificates(ctx, "list_certificates", where+" ORDER BY id", args...)
}

// CurrentCertificate implements store.CertificateStore.
func (s *Store) CurrentCertificate(ctx context.Context, scope model.Scope, domainID int64) (*model.Certificate, error) {
	certs, err := s.listCertificates(ctx, "current_certificate", `
		tenant_id = ? AND domain_id = ? AND certificate_path != '' AND private_key_path != ''
		AND expires_at IS NOT NULL AND expires_at > ?
		ORDER BY expires_at DESC, id DESC LIMIT 1`,
		scope.TenantID, domainID, time.Now().UTC().UnixMilli())
	if err != nil {
		return nil, err
	}
	if len(certs) == 0 {
		return nil, store.ErrNotFound
	}
	return certs[0], nil
}

// UpdateCertificate implements store.CertificateStore.
func (s *Store) UpdateCertificate(ctx context.Context, scope model.Scope, c *model.Certificate) error {
	sans, err := json.Marshal(c.SANs)
	if err != nil {
		return s.wrap("update_certificate", err)
	}
	if c.SANs == nil {
		sans = []byte("[]")
	}

	result, err := s.db.ExecContext(ctx, s.rebind(`
		UPDATE ssl_certificates SET
			san_domains = ?, status = ?, issuer = ?, certificate_path = ?, private_key_path = ?,
			chain_path = ?, issued_at = ?, expires_at = ?, last_error = ?, failure_count = ?,
			next_attempt_at = ?, updated_at = ?
		WHERE id = ? AND tenant_id = ?`),
		string(sans), string(c.Status), c.Issuer, c.CertificatePath, c.PrivateKeyPath,
		c.ChainPath, toMillis(c.IssuedAt), toMillis(c.ExpiresAt), c.LastError, c.FailureCount,
		toMillis(c.NextAttemptAt), time.Now().UTC().UnixMilli(),
		c.ID, scope.TenantID,
	)
	if err != nil {
		return s.wrap("update_certificate", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return s.wrap("update_certificate", err)
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func fromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}

func nullableTime(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := time.UnixMilli(v.Int64).UTC()
	return &t
}

func toMillis(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().UnixMilli()
}
