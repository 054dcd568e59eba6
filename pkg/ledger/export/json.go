package export

import (
	"context"
	"encoding/json"
	"io"

	"netpilot-hq/netpilot/pkg/ledger"
)

// JSONExporter writes entries as a JSON array.
type JSONExporter struct {
	// Pretty enables indentation.
	Pretty bool
}

// NewJSONExporter creates a new JSON exporter.
func NewJSONExporter(pretty bool) *JSONExporter {
	return &JSONExporter{Pretty: pretty}
}

// Export writes entries as one JSON array; an empty slice yields "[]".
func (e *JSONExporter) Export(ctx context.Context, entries []*ledger.Entry, w io.Writer) error {
	if entries == nil {
		entries = []*ledger.Entry{}
	}

	var (
		data []byte
		err  error
	)
	if e.Pretty {
		data, err = json.MarshalIndent(entries, "", "  ")
	} else {
		data, err = json.Marshal(entries)
	}
	if err != nil {
		return ledger.NewExportError("json", 0, err)
	}
	if _, err := w.Write(data); err != nil {
		return ledger.NewExportError("json", 0, err)
	}
	return nil
}

// ExportStream writes the entries of ch as a JSON array, one entry at a
// time.
func (e *JSONExporter) ExportStream(ctx context.Context, ch <-chan *ledger.Entry, w io.Writer) error {
	if _, err := io.WriteString(w, "["); err != nil {
		return ledger.NewExportError("json", 0, err)
	}

	count := 0
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case entry, ok := <-ch:
			if !ok {
				closing := "]"
				if e.Pretty && count > 0 {
					closing = "\n]"
				}
				if _, err := io.WriteString(w, closing); err != nil {
					return ledger.NewExportError("json", count, err)
				}
				return nil
			}

			sep := ","
			if count == 0 {
				sep = ""
			}
			if e.Pretty {
				sep += "\n  "
			}
			if _, err := io.WriteString(w, sep); err != nil {
				return ledger.NewExportError("json", count, err)
			}

			data, err := e.marshal(entry)
			if err != nil {
				return ledger.NewExportError("json", count, err)
			}
			if _, err := w.Write(data); err != nil {
				return ledger.NewExportError("json", count, err)
			}
			count++
		}
	}
}

func (e *JSONExporter) marshal(entry *ledger.Entry) ([]byte, error) {
	if e.Pretty {
		return json.MarshalIndent(entry, "  ", "  ")
	}
	return json.Marshal(entry)
}
