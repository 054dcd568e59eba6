package export

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"io"
	"strconv"
	"time"

	"netpilot-hq/netpilot/pkg/ledger"
)

// flushEvery is the number of streamed rows between flushes.
const flushEvery = 100

// CSVExporter writes one row per entry. The payload is flattened into a
// single JSON column.
type CSVExporter struct {
	// IncludeHeader writes a header row first.
	IncludeHeader bool
}

// NewCSVExporter creates a new CSV exporter.
func NewCSVExporter(includeHeader bool) *CSVExporter {
	return &CSVExporter{IncludeHeader: includeHeader}
}

// Header returns the column names.
func (e *CSVExporter) Header() []string {
	return []string{
		"id", "tenant_id", "kind", "action", "subject", "status",
		"started_at", "completed_at", "duration_ms", "error", "payload",
	}
}

// Export writes entries to w.
func (e *CSVExporter) Export(ctx context.Context, entries []*ledger.Entry, w io.Writer) error {
	writer := csv.NewWriter(w)

	if e.IncludeHeader {
		if err := writer.Write(e.Header()); err != nil {
			return ledger.NewExportError("csv", 0, err)
		}
	}
	for i, entry := range entries {
		row, err := e.row(entry)
		if err != nil {
			return ledger.NewExportError("csv", i, err)
		}
		if err := writer.Write(row); err != nil {
			return ledger.NewExportError("csv", i, err)
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return ledger.NewExportError("csv", len(entries), err)
	}
	return nil
}

// ExportStream writes the entries of ch to w, flushing periodically so a
// long export makes visible progress.
func (e *CSVExporter) ExportStream(ctx context.Context, ch <-chan *ledger.Entry, w io.Writer) error {
	writer := csv.NewWriter(w)
	defer writer.Flush()

	if e.IncludeHeader {
		if err := writer.Write(e.Header()); err != nil {
			return ledger.NewExportError("csv", 0, err)
		}
	}

	count := 0
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case entry, ok := <-ch:
			if !ok {
				writer.Flush()
				if err := writer.Error(); err != nil {
					return ledger.NewExportError("csv", count, err)
				}
				return nil
			}

			row, err := e.row(entry)
			if err != nil {
				return ledger.NewExportError("csv", count, err)
			}
			if err := writer.Write(row); err != nil {
				return ledger.NewExportError("csv", count, err)
			}
			count++

			if count%flushEvery == 0 {
				writer.Flush()
				if err := writer.Error(); err != nil {
					return ledger.NewExportError("csv", count, err)
				}
			}
		}
	}
}

func (e *CSVExporter) row(entry *ledger.Entry) ([]string, error) {
	completed := ""
	if entry.CompletedAt != nil {
		completed = entry.CompletedAt.UTC().Format(time.RFC3339Nano)
	}

	payload := ""
	if len(entry.Payload) > 0 {
		data, err := json.Marshal(entry.Payload)
		if err != nil {
			return nil, err
		}
		payload = string(data)
	}

	return []string{
		entry.ID,
		entry.TenantID,
		string(entry.Kind),
		entry.Action,
		entry.Subject,
		string(entry.Status),
		entry.StartedAt.UTC().Format(time.RFC3339Nano),
		completed,
		strconv.FormatInt(entry.Duration.Milliseconds(), 10),
		entry.Error,
		payload,
	}, nil
}
