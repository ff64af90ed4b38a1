package schema

import (
	"context"

	"go.uber.org/zap"
)

// Reconciler diffs discovered column names against the live snapshot and
// adds the missing ones to the store.
type Reconciler struct {
	store    ColumnStore
	snapshot *Snapshot
	logger   *zap.Logger
}

// NewReconciler creates a Reconciler over the given store and snapshot.
func NewReconciler(store ColumnStore, snapshot *Snapshot, logger *zap.Logger) *Reconciler {
	return &Reconciler{
		store:    store,
		snapshot: snapshot,
		logger:   logger.Named("schema-reconciler"),
	}
}

// Result summarizes one reconciliation pass.
type Result struct {
	// Added are the sanitized column names created this pass.
	Added []string
	// Failed are sanitized names the store rejected; their values are
	// dropped for the current run, which continues without them.
	Failed []string
}

// Changed reports whether any column was added.
func (r Result) Changed() bool { return len(r.Added) > 0 }

// EnsureColumns sanitizes the discovered header names and adds every
// non-reserved column missing from the snapshot. A rejected alteration is
// column-scoped: it is logged as a warning, recorded in the result, and
// does not fail the pass. Columns added earlier in the same pass remain.
// The snapshot is refreshed after any change.
func (r *Reconciler) EnsureColumns(ctx context.Context, discovered []string) (Result, error) {
	var res Result

	seen := make(map[string]struct{}, len(discovered))
	for _, raw := range discovered {
		name := SanitizeColumnName(raw)
		if name == "" {
			continue
		}
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}

		if IsReserved(name) {
			continue
		}
		if r.snapshot.Has(name) {
			continue
		}

		// Single conditional statement against the store; a concurrent
		// add of the same column is a no-op, not an error.
		if err := r.store.AddTextColumn(ctx, name); err != nil {
			r.logger.Warn("store rejected column alteration, dropping column for this run",
				zap.String("column", name),
				zap.Error(err))
			res.Failed = append(res.Failed, name)
			continue
		}

		r.logger.Info("added column to record table",
			zap.String("column", name),
			zap.String("raw_header", raw))
		res.Added = append(res.Added, name)
	}

	if res.Changed() {
		if err := r.snapshot.Refresh(ctx); err != nil {
			return res, err
		}
	}
	return res, nil
}
