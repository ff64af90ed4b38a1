package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/clearbook/intake-engine/pkg/apperrors"
	"github.com/clearbook/intake-engine/pkg/database"
	"github.com/clearbook/intake-engine/pkg/models"
)

// HistoryRepository provides data access for processing history entries.
type HistoryRepository interface {
	// Create inserts a new history entry, normally in "processing" status.
	Create(ctx context.Context, entry *models.ProcessingHistory) error

	// Finalize writes the entry's terminal state. It only touches rows
	// still in "processing" status; finalizing twice returns
	// apperrors.ErrRunFinalized so an entry is never mutated after its
	// first finalization.
	Finalize(ctx context.Context, entry *models.ProcessingHistory) error

	// GetByID returns one history entry.
	GetByID(ctx context.Context, id uuid.UUID) (*models.ProcessingHistory, error)

	// ListRecent returns the most recent entries, newest first.
	ListRecent(ctx context.Context, limit int) ([]*models.ProcessingHistory, error)
}

type historyRepository struct {
	q database.Querier
}

// NewHistoryRepository creates a new HistoryRepository.
func NewHistoryRepository(q database.Querier) HistoryRepository {
	return &historyRepository{q: q}
}

var _ HistoryRepository = (*historyRepository)(nil)

const historyColumns = `id, file_name, time_block, status, records_processed, records_skipped,
	log_text, source_path, working_path, archived_path, error_message, created_at, finalized_at`

func (r *historyRepository) Create(ctx context.Context, entry *models.ProcessingHistory) error {
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	if entry.Status == "" {
		entry.Status = models.HistoryStatusProcessing
	}
	entry.CreatedAt = time.Now()

	query := fmt.Sprintf(`
		INSERT INTO %s (%s)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		models.TableHistory, historyColumns)

	_, err := r.q.Exec(ctx, query,
		entry.ID, entry.FileName, entry.TimeBlock, entry.Status,
		entry.RecordsProcessed, entry.RecordsSkipped,
		entry.LogText, entry.SourcePath, entry.WorkingPath, entry.ArchivedPath,
		entry.ErrorMessage, entry.CreatedAt, entry.FinalizedAt)
	if err != nil {
		return fmt.Errorf("failed to create history entry: %w", err)
	}
	return nil
}

func (r *historyRepository) Finalize(ctx context.Context, entry *models.ProcessingHistory) error {
	now := time.Now()
	query := fmt.Sprintf(`
		UPDATE %s
		SET status = $2,
		    records_processed = $3,
		    records_skipped = $4,
		    log_text = $5,
		    working_path = $6,
		    archived_path = $7,
		    error_message = $8,
		    finalized_at = $9
		WHERE id = $1 AND status = $10`,
		models.TableHistory)

	tag, err := r.q.Exec(ctx, query,
		entry.ID, entry.Status, entry.RecordsProcessed, entry.RecordsSkipped,
		entry.LogText, entry.WorkingPath, entry.ArchivedPath, entry.ErrorMessage,
		now, models.HistoryStatusProcessing)
	if err != nil {
		return fmt.Errorf("failed to finalize history entry: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.ErrRunFinalized
	}
	entry.FinalizedAt = &now
	return nil
}

func (r *historyRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.ProcessingHistory, error) {
	query := fmt.Sprintf("SELECT %s FROM %s WHERE id = $1", historyColumns, models.TableHistory)

	entry, err := scanHistoryEntry(r.q.QueryRow(ctx, query, id))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get history entry: %w", err)
	}
	return entry, nil
}

func (r *historyRepository) ListRecent(ctx context.Context, limit int) ([]*models.ProcessingHistory, error) {
	query := fmt.Sprintf(`
		SELECT %s
		FROM %s
		ORDER BY created_at DESC
		LIMIT $1`,
		historyColumns, models.TableHistory)

	rows, err := r.q.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list history entries: %w", err)
	}
	defer rows.Close()

	var entries []*models.ProcessingHistory
	for rows.Next() {
		entry, err := scanHistoryEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan history entry: %w", err)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating history entries: %w", err)
	}
	return entries, nil
}

func scanHistoryEntry(row pgx.Row) (*models.ProcessingHistory, error) {
	var entry models.ProcessingHistory
	err := row.Scan(
		&entry.ID, &entry.FileName, &entry.TimeBlock, &entry.Status,
		&entry.RecordsProcessed, &entry.RecordsSkipped,
		&entry.LogText, &entry.SourcePath, &entry.WorkingPath, &entry.ArchivedPath,
		&entry.ErrorMessage, &entry.CreatedAt, &entry.FinalizedAt,
	)
	if err != nil {
		return nil, err
	}
	return &entry, nil
}
