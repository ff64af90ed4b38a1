package services

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/clearbook/intake-engine/pkg/database"
	"github.com/clearbook/intake-engine/pkg/models"
	"github.com/clearbook/intake-engine/pkg/repositories"
	"github.com/clearbook/intake-engine/pkg/schema"
)

// DefaultBatchSize is the number of rows per insert batch.
const DefaultBatchSize = 100

// BatchWriter transforms raw rows into records and inserts them in
// bounded batches. Rows are processed strictly in file order; a batch is
// flushed when full and once more at end-of-stream for the remainder.
//
// One writer serves one file run and is not safe for concurrent use.
type BatchWriter struct {
	db       *database.DB
	repo     repositories.RecordRepository
	audit    AuditService
	snapshot *schema.Snapshot
	logger   *zap.Logger

	batchSize     int
	sourceFile    string
	timeBlock     string
	requireAtomic bool

	pending      []*models.ImportRecord
	companyCodes []string

	processed int
	skipped   int
	batches   int
}

// NewBatchWriter creates a writer for one file run.
// db may be nil in tests; it is only used when requireAtomic is set.
func NewBatchWriter(db *database.DB, repo repositories.RecordRepository, audit AuditService, snapshot *schema.Snapshot, batchSize int, sourceFile, timeBlock string, requireAtomic bool, logger *zap.Logger) *BatchWriter {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &BatchWriter{
		db:            db,
		repo:          repo,
		audit:         audit,
		snapshot:      snapshot,
		logger:        logger.Named("batch-writer"),
		batchSize:     batchSize,
		sourceFile:    sourceFile,
		timeBlock:     timeBlock,
		requireAtomic: requireAtomic,
	}
}

// Add maps one raw row onto a record and queues it for insertion,
// flushing the current batch if it is full. The row map keys are the raw
// header names in file order (headers slice preserves that order).
//
// Mapping failures are row-scoped: the row is counted as skipped and
// logged with its ordinal, and neither the batch nor the run aborts.
// Only flush failures are returned.
func (w *BatchWriter) Add(ctx context.Context, ordinal int, headers []string, cells []string) error {
	rec, reason := w.mapRow(ordinal, headers, cells)
	if rec == nil {
		w.skipped++
		w.logger.Warn("skipped row",
			zap.Int("ordinal", ordinal),
			zap.String("reason", reason))
		return nil
	}

	w.pending = append(w.pending, rec)
	w.companyCodes = append(w.companyCodes, rec.CompanyCode)

	if len(w.pending) >= w.batchSize {
		return w.Flush(ctx)
	}
	return nil
}

// Skip counts a row the caller could not even hand to the writer
// (for example a CSV parse failure).
func (w *BatchWriter) Skip(ordinal int, reason string) {
	w.skipped++
	w.logger.Warn("skipped row",
		zap.Int("ordinal", ordinal),
		zap.String("reason", reason))
}

// mapRow builds a record from one row. Returns nil and a reason when the
// row cannot be mapped at all. A bad monetary value only nulls the amount
// field; the row itself survives.
func (w *BatchWriter) mapRow(ordinal int, headers []string, cells []string) (*models.ImportRecord, string) {
	rec := &models.ImportRecord{
		SourceFile: w.sourceFile,
		TimeBlock:  w.timeBlock,
	}

	nonEmpty := 0
	for i, header := range headers {
		if i >= len(cells) {
			break
		}
		value := strings.TrimSpace(cells[i])
		if value == "" {
			continue
		}
		nonEmpty++

		name := schema.SanitizeColumnName(header)
		if name == "" {
			continue
		}

		switch strings.ToLower(name) {
		case "company_code":
			rec.CompanyCode = value
		case "amount":
			d, err := decimal.NewFromString(normalizeDecimal(value))
			if err != nil {
				// Field-scoped failure: store null, keep the row.
				w.logger.Warn("unparseable monetary value, storing null",
					zap.Int("ordinal", ordinal),
					zap.String("value", value))
				continue
			}
			rec.Amount = &d
		default:
			if schema.IsReserved(name) {
				// System columns are never writable from file input.
				continue
			}
			// Key values by the column's stored spelling; a header cased
			// differently from the physical column must still land in it.
			canonical, ok := w.snapshot.Canonical(name)
			if !ok {
				// Column could not be added this run; its data is dropped.
				continue
			}
			rec.Dynamic.Set(canonical, value)
		}
	}

	if nonEmpty == 0 {
		return nil, "empty row"
	}
	if rec.CompanyCode == "" && rec.Dynamic.Len() == 0 && rec.Amount == nil {
		return nil, "no mappable values"
	}
	return rec, ""
}

// Flush inserts the pending batch. The insert names only the dynamic
// columns that both exist in the snapshot and carry data somewhere in
// this batch. Every inserted record produces one audit entry; with
// requireAtomic the insert and its audit entries share one transaction,
// so a failed entry rolls the batch back too.
func (w *BatchWriter) Flush(ctx context.Context) error {
	if len(w.pending) == 0 {
		return nil
	}

	dynamicCols := w.batchColumns()
	inserted := 0
	err := w.inUnit(ctx, func(repo repositories.RecordRepository, audit AuditService) error {
		n, err := repo.InsertBatch(ctx, w.pending, dynamicCols)
		if err != nil {
			return fmt.Errorf("batch %d insert failed: %w", w.batches+1, err)
		}
		for _, rec := range w.pending {
			if aerr := audit.RecordInsert(ctx, models.TableRecords, rec.ID.String(), rec.FieldMap()); aerr != nil {
				return aerr
			}
		}
		inserted = n
		return nil
	})
	if err != nil {
		return err
	}

	w.batches++
	w.processed += inserted
	w.logger.Info("flushed batch",
		zap.Int("batch", w.batches),
		zap.Int("rows", inserted),
		zap.Int("dynamic_columns", len(dynamicCols)))

	w.pending = w.pending[:0]
	return nil
}

// inUnit runs fn either directly or, when audit atomicity is required,
// inside one transaction shared by the batch insert and its audit entries.
func (w *BatchWriter) inUnit(ctx context.Context, fn func(repositories.RecordRepository, AuditService) error) error {
	if !w.requireAtomic || w.db == nil {
		return fn(w.repo, w.audit)
	}

	tx, err := w.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin batch transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(w.repo.WithTx(tx), w.audit.WithTx(tx)); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit batch transaction: %w", err)
	}
	return nil
}

// batchColumns returns, in snapshot physical order, the non-reserved
// columns present in at least one pending record.
func (w *BatchWriter) batchColumns() []string {
	present := make(map[string]struct{})
	for _, rec := range w.pending {
		for _, name := range rec.Dynamic.Names() {
			present[strings.ToLower(name)] = struct{}{}
		}
	}

	var cols []string
	for _, col := range w.snapshot.Columns() {
		if schema.IsReserved(col) {
			continue
		}
		if _, ok := present[strings.ToLower(col)]; ok {
			cols = append(cols, col)
		}
	}
	return cols
}

// Processed returns the number of rows inserted so far.
func (w *BatchWriter) Processed() int { return w.processed }

// Skipped returns the number of rows skipped so far.
func (w *BatchWriter) Skipped() int { return w.skipped }

// Batches returns the number of batches flushed so far.
func (w *BatchWriter) Batches() int { return w.batches }

// CompanyCodes returns the grouping-key multiset observed in queued rows,
// duplicates included, in file order.
func (w *BatchWriter) CompanyCodes() []string {
	return append([]string(nil), w.companyCodes...)
}

// normalizeDecimal accepts European-style decimal commas when the value
// has no decimal point.
func normalizeDecimal(v string) string {
	if strings.Contains(v, ".") {
		return v
	}
	if strings.Count(v, ",") == 1 {
		return strings.Replace(v, ",", ".", 1)
	}
	return v
}
