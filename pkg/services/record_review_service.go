package services

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/clearbook/intake-engine/pkg/database"
	"github.com/clearbook/intake-engine/pkg/models"
	"github.com/clearbook/intake-engine/pkg/repositories"
	"github.com/clearbook/intake-engine/pkg/schema"
)

// RecordReviewService applies review-side mutations to ingested records.
// Only the review fields (confirmed, notes) are writable; provenance and
// file-sourced values are immutable after ingestion. Every write here
// produces the same audit entries the ingestion path does, so a record's
// trail is complete no matter which side touched it.
type RecordReviewService struct {
	db       *database.DB
	records  repositories.RecordRepository
	snapshot *schema.Snapshot
	audit    AuditService

	requireAtomic bool
	logger        *zap.Logger
}

// NewRecordReviewService creates a new RecordReviewService.
// db may be nil in tests; it is only used when requireAtomic is set.
func NewRecordReviewService(db *database.DB, records repositories.RecordRepository, snapshot *schema.Snapshot, audit AuditService, requireAtomic bool, logger *zap.Logger) *RecordReviewService {
	return &RecordReviewService{
		db:            db,
		records:       records,
		snapshot:      snapshot,
		audit:         audit,
		requireAtomic: requireAtomic,
		logger:        logger.Named("record-review"),
	}
}

// UpdateReview sets the record's review fields. Nil arguments leave a
// field unchanged. The before-state is loaded first so the audit entry
// carries a full diff of what the reviewer actually changed.
func (s *RecordReviewService) UpdateReview(ctx context.Context, id uuid.UUID, confirmed *bool, notes *string) (*models.ImportRecord, error) {
	var out *models.ImportRecord
	err := s.inUnit(ctx, func(repo repositories.RecordRepository, audit AuditService) error {
		before, err := repo.GetByID(ctx, id, s.dynamicColumns())
		if err != nil {
			return err
		}
		beforeState := before.FieldMap()

		updated, err := repo.UpdateReview(ctx, id, confirmed, notes)
		if err != nil {
			return err
		}
		// The review statement returns only the fixed columns; a review
		// write never touches the dynamic values.
		updated.Dynamic = before.Dynamic

		out = updated
		return audit.RecordUpdate(ctx, models.TableRecords, id.String(), beforeState, updated.FieldMap())
	})
	if err != nil {
		return nil, fmt.Errorf("review update for record %s: %w", id, err)
	}

	s.logger.Info("record review updated",
		zap.String("record_id", id.String()),
		zap.Bool("confirmed", out.Confirmed))
	return out, nil
}

// Get loads one record including its dynamic column values.
func (s *RecordReviewService) Get(ctx context.Context, id uuid.UUID) (*models.ImportRecord, error) {
	return s.records.GetByID(ctx, id, s.dynamicColumns())
}

// ConfirmationProgress returns confirmed and total record counts for a
// company code, the inputs the reviewer feeds to MarkProcessedIfComplete.
func (s *RecordReviewService) ConfirmationProgress(ctx context.Context, companyCode string) (confirmed int, total int, err error) {
	return s.records.CountConfirmedByCompany(ctx, companyCode)
}

// dynamicColumns returns the snapshot's non-reserved columns, the set a
// record's dynamic values can live in.
func (s *RecordReviewService) dynamicColumns() []string {
	var cols []string
	for _, c := range s.snapshot.Columns() {
		if schema.IsReserved(c) {
			continue
		}
		cols = append(cols, c)
	}
	return cols
}

// inUnit runs fn either directly or, when audit atomicity is required,
// inside one transaction shared by the review write and its audit entry.
func (s *RecordReviewService) inUnit(ctx context.Context, fn func(repositories.RecordRepository, AuditService) error) error {
	if !s.requireAtomic || s.db == nil {
		return fn(s.records, s.audit)
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin review transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(s.records.WithTx(tx), s.audit.WithTx(tx)); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit review transaction: %w", err)
	}
	return nil
}
