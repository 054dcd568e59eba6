package export

import (
	"context"
	"fmt"
	"io"
	"strings"

	"netpilot-hq/netpilot/pkg/ledger"
)

// Exporter writes ledger entries in one format.
type Exporter interface {
	// Export writes entries to w.
	Export(ctx context.Context, entries []*ledger.Entry, w io.Writer) error

	// ExportStream writes entries from ch to w until ch is closed.
	ExportStream(ctx context.Context, ch <-chan *ledger.Entry, w io.Writer) error
}

// New returns the exporter for format ("json" or "csv").
func New(format string) (Exporter, error) {
	switch strings.ToLower(format) {
	case "json":
		return NewJSONExporter(false), nil
	case "csv":
		return NewCSVExporter(true), nil
	default:
		return nil, fmt.Errorf("unsupported export format %q (want json or csv)", format)
	}
}

// DefaultBatchSize is the page size Stream uses when none is given.
const DefaultBatchSize = 500

// Stream pages through s with q and sends every matching entry on the
// returned channel, newest first. The entry channel is closed when all
// pages were read or ctx ended; the error channel then yields at most one
// error and is closed. q.Limit bounds the total number of entries; zero
// means no bound.
func Stream(ctx context.Context, s ledger.Storage, q ledger.Query, batchSize int) (<-chan *ledger.Entry, <-chan error) {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	out := make(chan *ledger.Entry, batchSize)
	errc := make(chan error, 1)

	total := q.Limit
	go func() {
		defer close(errc)
		defer close(out)

		sent := 0
		page := q
		for {
			page.Limit = batchSize
			if total > 0 && total-sent < batchSize {
				page.Limit = total - sent
			}
			entries, err := s.Query(ctx, &page)
			if err != nil {
				errc <- err
				return
			}
			for _, e := range entries {
				select {
				case out <- e:
					sent++
				case <-ctx.Done():
					errc <- ctx.Err()
					return
				}
			}
			if len(entries) < page.Limit || (total > 0 && sent >= total) {
				return
			}
			page.Offset += len(entries)
		}
	}()
	return out, errc
}
