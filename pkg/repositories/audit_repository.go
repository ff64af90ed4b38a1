package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/clearbook/intake-engine/pkg/database"
	"github.com/clearbook/intake-engine/pkg/models"
)

// AuditRepository provides data access for the audit trail.
type AuditRepository interface {
	// Create inserts a new audit entry.
	Create(ctx context.Context, entry *models.AuditEntry) error

	// ListByTable returns entries for a target table, newest first.
	ListByTable(ctx context.Context, tableName string, limit int) ([]*models.AuditEntry, error)

	// ListByTarget returns all entries for a specific target row, newest first.
	ListByTarget(ctx context.Context, tableName string, targetID uuid.UUID) ([]*models.AuditEntry, error)

	// WithTx returns a copy of the repository bound to the given querier.
	WithTx(q database.Querier) AuditRepository
}

type auditRepository struct {
	q database.Querier
}

// NewAuditRepository creates a new AuditRepository.
func NewAuditRepository(q database.Querier) AuditRepository {
	return &auditRepository{q: q}
}

var _ AuditRepository = (*auditRepository)(nil)

func (r *auditRepository) WithTx(q database.Querier) AuditRepository {
	return &auditRepository{q: q}
}

const auditColumns = "id, table_name, operation, target_id, before_state, after_state, diff, actor, created_at"

func (r *auditRepository) Create(ctx context.Context, entry *models.AuditEntry) error {
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	entry.CreatedAt = time.Now()

	query := fmt.Sprintf(`
		INSERT INTO %s (%s)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		models.TableAudit, auditColumns)

	_, err := r.q.Exec(ctx, query,
		entry.ID, entry.TableName, entry.Operation, entry.TargetID,
		nullableJSON(entry.BeforeState), nullableJSON(entry.AfterState),
		entry.Diff, entry.Actor, entry.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create audit entry: %w", err)
	}
	return nil
}

func (r *auditRepository) ListByTable(ctx context.Context, tableName string, limit int) ([]*models.AuditEntry, error) {
	query := fmt.Sprintf(`
		SELECT %s
		FROM %s
		WHERE table_name = $1
		ORDER BY created_at DESC
		LIMIT $2`,
		auditColumns, models.TableAudit)

	rows, err := r.q.Query(ctx, query, tableName, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit entries: %w", err)
	}
	defer rows.Close()

	return collectAuditEntries(rows)
}

func (r *auditRepository) ListByTarget(ctx context.Context, tableName string, targetID uuid.UUID) ([]*models.AuditEntry, error) {
	query := fmt.Sprintf(`
		SELECT %s
		FROM %s
		WHERE table_name = $1 AND target_id = $2
		ORDER BY created_at DESC`,
		auditColumns, models.TableAudit)

	rows, err := r.q.Query(ctx, query, tableName, targetID)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit entries by target: %w", err)
	}
	defer rows.Close()

	return collectAuditEntries(rows)
}

func collectAuditEntries(rows pgx.Rows) ([]*models.AuditEntry, error) {
	var entries []*models.AuditEntry
	for rows.Next() {
		var entry models.AuditEntry
		err := rows.Scan(
			&entry.ID, &entry.TableName, &entry.Operation, &entry.TargetID,
			&entry.BeforeState, &entry.AfterState, &entry.Diff, &entry.Actor, &entry.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}
		entries = append(entries, &entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating audit entries: %w", err)
	}
	return entries, nil
}

// nullableJSON maps an empty serialization to SQL NULL rather than an
// empty jsonb document.
func nullableJSON(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return b
}
