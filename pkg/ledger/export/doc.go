// Package export writes ledger entries as JSON or CSV.
//
// Exporters accept either a slice or a channel of entries. Stream pages
// through a ledger.Storage and feeds such a channel, so an export of the
// whole ledger never holds more than one page in memory:
//
//	entries, errc := export.Stream(ctx, storage, ledger.Query{Kind: ledger.KindCertRenew}, 500)
//	if err := export.NewCSVExporter(true).ExportStream(ctx, entries, os.Stdout); err != nil {
//	    return err
//	}
//	if err := <-errc; err != nil {
//	    return err
//	}
//
// Failures are reported as *ledger.ExportError.
package export
