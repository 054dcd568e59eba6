package retention

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"netpilot-hq/netpilot/pkg/ledger"
	"netpilot-hq/netpilot/pkg/ledger/export"
)

// Config contains configuration for the retention pruner.
type Config struct {
	// RetentionDays is the number of days to retain finalized entries.
	// 0 keeps entries forever.
	RetentionDays int

	// MaxEntries caps the number of stored entries. 0 means unlimited.
	MaxEntries int64

	// ArchiveBeforeDelete writes pruned entries to ArchivePath first.
	ArchiveBeforeDelete bool

	// ArchivePath is the directory receiving archive files.
	ArchivePath string
}

// DefaultConfig returns the default retention configuration.
func DefaultConfig() *Config {
	return &Config{
		RetentionDays: 30,
		ArchivePath:   "data/archives/",
	}
}

// Pruner enforces retention on a ledger storage.
type Pruner struct {
	storage ledger.Storage
	config  *Config
	logger  *slog.Logger
	now     func() time.Time
}

// NewPruner creates a new retention pruner.
func NewPruner(storage ledger.Storage, config *Config) *Pruner {
	if config == nil {
		config = DefaultConfig()
	}
	return &Pruner{
		storage: storage,
		config:  config,
		logger:  slog.Default().With("component", "ledger.retention"),
		now:     time.Now,
	}
}

// Prune deletes entries older than the retention period, then trims the
// oldest entries beyond MaxEntries. It returns the total deleted.
func (p *Pruner) Prune(ctx context.Context) (int64, error) {
	var total int64

	if p.config.RetentionDays > 0 {
		deleted, err := p.pruneByAge(ctx)
		if err != nil {
			return total, NewError("age", err, p.config.RetentionDays)
		}
		total += deleted
	}

	if p.config.MaxEntries > 0 {
		deleted, err := p.pruneByCount(ctx)
		if err != nil {
			return total, NewError("count", err, p.config.RetentionDays)
		}
		total += deleted
	}

	if total > 0 {
		p.logger.Info("ledger pruning completed",
			"total_deleted", total,
			"retention_days", p.config.RetentionDays,
			"max_entries", p.config.MaxEntries,
		)
	} else {
		p.logger.Debug("no ledger entries pruned")
	}
	return total, nil
}

func (p *Pruner) pruneByAge(ctx context.Context) (int64, error) {
	cutoff := p.now().UTC().AddDate(0, 0, -p.config.RetentionDays)
	query := &ledger.Query{EndTime: &cutoff}

	if p.config.ArchiveBeforeDelete {
		if err := p.archive(ctx, query, "age"); err != nil {
			return 0, err
		}
	}
	return p.storage.Delete(ctx, query)
}

func (p *Pruner) pruneByCount(ctx context.Context) (int64, error) {
	count, err := p.storage.Count(ctx, &ledger.Query{})
	if err != nil {
		return 0, fmt.Errorf("failed to count entries: %w", err)
	}
	if count <= p.config.MaxEntries {
		return 0, nil
	}

	// Entries are returned newest first; the entry at MaxEntries is the
	// newest one beyond the cap.
	beyond, err := p.storage.Query(ctx, &ledger.Query{Offset: int(p.config.MaxEntries), Limit: 1})
	if err != nil {
		return 0, fmt.Errorf("failed to locate cutoff entry: %w", err)
	}
	if len(beyond) == 0 {
		return 0, nil
	}

	cutoff := beyond[0].StartedAt
	query := &ledger.Query{EndTime: &cutoff}
	if p.config.ArchiveBeforeDelete {
		if err := p.archive(ctx, query, "count"); err != nil {
			return 0, err
		}
	}
	return p.storage.Delete(ctx, query)
}

// archive writes every finalized entry matching query to a JSON lines file.
func (p *Pruner) archive(ctx context.Context, query *ledger.Query, reason string) error {
	if err := os.MkdirAll(p.config.ArchivePath, 0o755); err != nil {
		return fmt.Errorf("failed to create archive directory: %w", err)
	}

	name := fmt.Sprintf("ledger-%s-%s.jsonl", reason, p.now().UTC().Format("2006-01-02-150405"))
	path := filepath.Join(p.config.ArchivePath, name)
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create archive file: %w", err)
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	archived := 0
	sctx, cancel := context.WithCancel(ctx)
	defer cancel()
	entries, errc := export.Stream(sctx, p.storage, *query, 0)
	for e := range entries {
		if e.Status == ledger.StatusRunning {
			continue
		}
		if err := enc.Encode(e); err != nil {
			cancel()
			for range entries {
			}
			return fmt.Errorf("failed to write archive: %w", err)
		}
		archived++
	}
	if err := <-errc; err != nil {
		return fmt.Errorf("failed to query entries for archiving: %w", err)
	}

	p.logger.Info("ledger entries archived", "archive_file", path, "entry_count", archived)
	return f.Sync()
}

// NewError wraps a pruning failure.
func NewError(phase string, cause error, retentionDays int) error {
	return ledger.NewRetentionError(retentionDays, fmt.Errorf("prune by %s failed: %w", phase, cause))
}
