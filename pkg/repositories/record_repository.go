package repositories

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/clearbook/intake-engine/pkg/apperrors"
	"github.com/clearbook/intake-engine/pkg/database"
	"github.com/clearbook/intake-engine/pkg/models"
)

// fixedInsertColumns are the well-known columns every batch insert names.
var fixedInsertColumns = []string{"id", "company_code", "amount", "source_file", "time_block", "created_at", "updated_at"}

// maxBindParameters is the store's per-statement bind limit. A very wide
// file can push batch-size*width past it, so inserts are chunked to stay
// under.
const maxBindParameters = 65535

// RecordRepository provides data access for ingested records.
type RecordRepository interface {
	// InsertBatch inserts up to one batch of records, naming only the
	// fixed columns plus the dynamic columns that carry data in this
	// batch. Returns the number of rows inserted.
	InsertBatch(ctx context.Context, records []*models.ImportRecord, dynamicCols []string) (int, error)

	// GetByID loads a record including the given dynamic columns.
	GetByID(ctx context.Context, id uuid.UUID, dynamicCols []string) (*models.ImportRecord, error)

	// UpdateReview mutates the review fields (confirmed, notes) only.
	// Provenance is immutable after ingestion. Uses the generic
	// update-and-return path; nil arguments leave a field unchanged.
	UpdateReview(ctx context.Context, id uuid.UUID, confirmed *bool, notes *string) (*models.ImportRecord, error)

	// CountConfirmedByCompany returns confirmed and total record counts
	// for a company code, the inputs to the terminal-state decision.
	CountConfirmedByCompany(ctx context.Context, companyCode string) (confirmed int, total int, err error)

	// WithTx returns a copy of the repository bound to the given querier
	// (typically a transaction).
	WithTx(q database.Querier) RecordRepository
}

type recordRepository struct {
	q database.Querier
}

// NewRecordRepository creates a new RecordRepository.
func NewRecordRepository(q database.Querier) RecordRepository {
	return &recordRepository{q: q}
}

var _ RecordRepository = (*recordRepository)(nil)

func (r *recordRepository) WithTx(q database.Querier) RecordRepository {
	return &recordRepository{q: q}
}

func (r *recordRepository) InsertBatch(ctx context.Context, records []*models.ImportRecord, dynamicCols []string) (int, error) {
	if len(records) == 0 {
		return 0, nil
	}

	for _, col := range dynamicCols {
		if !identifierPattern.MatchString(col) {
			return 0, fmt.Errorf("refusing to insert into unsafe column name %q", col)
		}
	}

	cols := make([]string, 0, len(fixedInsertColumns)+len(dynamicCols))
	cols = append(cols, fixedInsertColumns...)
	for _, c := range dynamicCols {
		cols = append(cols, fmt.Sprintf("%q", c))
	}

	width := len(fixedInsertColumns) + len(dynamicCols)
	rowsPerStmt := maxBindParameters / width
	if rowsPerStmt < 1 {
		rowsPerStmt = 1
	}

	total := 0
	for start := 0; start < len(records); start += rowsPerStmt {
		end := start + rowsPerStmt
		if end > len(records) {
			end = len(records)
		}
		n, err := r.insertChunk(ctx, records[start:end], cols, dynamicCols, width)
		if err != nil {
			return total, err
		}
		total += n
	}
	return total, nil
}

func (r *recordRepository) insertChunk(ctx context.Context, records []*models.ImportRecord, cols, dynamicCols []string, width int) (int, error) {
	placeholders := make([]string, 0, len(records))
	args := make([]any, 0, len(records)*width)

	now := time.Now()
	for i, rec := range records {
		if rec.ID == uuid.Nil {
			rec.ID = uuid.New()
		}
		if rec.CreatedAt.IsZero() {
			rec.CreatedAt = now
		}
		rec.UpdatedAt = rec.CreatedAt

		marks := make([]string, width)
		for j := range marks {
			marks[j] = fmt.Sprintf("$%d", i*width+j+1)
		}
		placeholders = append(placeholders, "("+strings.Join(marks, ", ")+")")

		args = append(args, rec.ID, rec.CompanyCode, amountArg(rec.Amount), rec.SourceFile, rec.TimeBlock, rec.CreatedAt, rec.UpdatedAt)
		for _, c := range dynamicCols {
			if v, ok := rec.Dynamic.Get(c); ok {
				args = append(args, v)
			} else {
				args = append(args, nil)
			}
		}
	}

	query := fmt.Sprintf(
		"INSERT INTO %s (%s) VALUES %s",
		models.TableRecords,
		strings.Join(cols, ", "),
		strings.Join(placeholders, ", "),
	)

	tag, err := r.q.Exec(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to insert record batch: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (r *recordRepository) GetByID(ctx context.Context, id uuid.UUID, dynamicCols []string) (*models.ImportRecord, error) {
	for _, col := range dynamicCols {
		if !identifierPattern.MatchString(col) {
			return nil, fmt.Errorf("refusing to select unsafe column name %q", col)
		}
	}

	sel := []string{"id", "company_code", "amount::text", "confirmed", "notes", "source_file", "time_block", "created_at", "updated_at"}
	for _, c := range dynamicCols {
		sel = append(sel, fmt.Sprintf("%q", c))
	}

	query := fmt.Sprintf(
		"SELECT %s FROM %s WHERE id = $1",
		strings.Join(sel, ", "),
		models.TableRecords,
	)

	var (
		rec       models.ImportRecord
		amountStr *string
		dynVals   = make([]*string, len(dynamicCols))
	)
	dest := []any{&rec.ID, &rec.CompanyCode, &amountStr, &rec.Confirmed, &rec.Notes, &rec.SourceFile, &rec.TimeBlock, &rec.CreatedAt, &rec.UpdatedAt}
	for i := range dynVals {
		dest = append(dest, &dynVals[i])
	}

	if err := r.q.QueryRow(ctx, query, id).Scan(dest...); err != nil {
		if err == pgx.ErrNoRows {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get record: %w", err)
	}

	if amountStr != nil {
		if d, err := decimal.NewFromString(*amountStr); err == nil {
			rec.Amount = &d
		}
	}
	for i, c := range dynamicCols {
		if dynVals[i] != nil {
			rec.Dynamic.Set(c, *dynVals[i])
		}
	}
	return &rec, nil
}

func (r *recordRepository) UpdateReview(ctx context.Context, id uuid.UUID, confirmed *bool, notes *string) (*models.ImportRecord, error) {
	query := fmt.Sprintf(`
		UPDATE %s
		SET confirmed = COALESCE($2, confirmed),
		    notes = COALESCE($3, notes),
		    updated_at = now()
		WHERE id = $1
		RETURNING id, company_code, amount::text, confirmed, notes, source_file, time_block, created_at, updated_at`,
		models.TableRecords)

	var (
		rec       models.ImportRecord
		amountStr *string
	)
	err := r.q.QueryRow(ctx, query, id, confirmed, notes).Scan(
		&rec.ID, &rec.CompanyCode, &amountStr, &rec.Confirmed, &rec.Notes,
		&rec.SourceFile, &rec.TimeBlock, &rec.CreatedAt, &rec.UpdatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("failed to update record review fields: %w", err)
	}

	if amountStr != nil {
		if d, derr := decimal.NewFromString(*amountStr); derr == nil {
			rec.Amount = &d
		}
	}
	return &rec, nil
}

func (r *recordRepository) CountConfirmedByCompany(ctx context.Context, companyCode string) (int, int, error) {
	query := fmt.Sprintf(`
		SELECT COUNT(*) FILTER (WHERE confirmed), COUNT(*)
		FROM %s
		WHERE company_code = $1`,
		models.TableRecords)

	var confirmed, total int
	if err := r.q.QueryRow(ctx, query, companyCode).Scan(&confirmed, &total); err != nil {
		return 0, 0, fmt.Errorf("failed to count confirmed records: %w", err)
	}
	return confirmed, total, nil
}

func amountArg(d *decimal.Decimal) any {
	if d == nil {
		return nil
	}
	return d.String()
}
