// Package ledger records every reconciliation and certificate operation
// as an append-only audit trail.
//
// An entry is created in the running state when an operation starts and
// finalized exactly once, as success or failed, when it ends. Finalized
// entries are never modified; the only later mutation is deletion by the
// retention pruner.
//
// # Usage
//
//	op, err := l.Begin(ctx, scope, ledger.KindReconcile, "publish", "example.com")
//	if err != nil {
//		return err
//	}
//	op.Append("skipped", skippedRule)
//	if err := publish(); err != nil {
//		_ = op.Fail(ctx, err)
//		return err
//	}
//	return op.Succeed(ctx)
//
// Storage backends live in the storage subpackage; retention in the
// retention subpackage.
package ledger
