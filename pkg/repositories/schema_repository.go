package repositories

import (
	"context"
	"fmt"
	"regexp"

	"github.com/clearbook/intake-engine/pkg/database"
	"github.com/clearbook/intake-engine/pkg/models"
)

// identifierPattern is the only shape of column name ever interpolated
// into DDL. Names reach this layer already sanitized; this is the final
// gate before interpolation.
var identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]{0,127}$`)

// SchemaRepository provides access to the record table's physical column set.
type SchemaRepository interface {
	// ListColumns returns the record table's column names ordered by
	// physical position.
	ListColumns(ctx context.Context) ([]string, error)

	// AddTextColumn adds a nullable text column if it does not already
	// exist. Executed as a single conditional statement so two concurrent
	// runs adding the same column cannot race between check and act.
	AddTextColumn(ctx context.Context, name string) error
}

type schemaRepository struct {
	q database.Querier
}

// NewSchemaRepository creates a new SchemaRepository.
func NewSchemaRepository(q database.Querier) SchemaRepository {
	return &schemaRepository{q: q}
}

var _ SchemaRepository = (*schemaRepository)(nil)

func (r *schemaRepository) ListColumns(ctx context.Context) ([]string, error) {
	query := `
		SELECT column_name
		FROM information_schema.columns
		WHERE table_schema = current_schema() AND table_name = $1
		ORDER BY ordinal_position`

	rows, err := r.q.Query(ctx, query, models.TableRecords)
	if err != nil {
		return nil, fmt.Errorf("failed to list record columns: %w", err)
	}
	defer rows.Close()

	var cols []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("failed to scan column name: %w", err)
		}
		cols = append(cols, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating record columns: %w", err)
	}
	return cols, nil
}

func (r *schemaRepository) AddTextColumn(ctx context.Context, name string) error {
	if !identifierPattern.MatchString(name) {
		return fmt.Errorf("refusing to add column with unsafe name %q", name)
	}

	// Identifiers cannot be bound as parameters; the pattern gate above
	// restricts the interpolated name to [A-Za-z0-9_].
	stmt := fmt.Sprintf(`ALTER TABLE %s ADD COLUMN IF NOT EXISTS %q TEXT`, models.TableRecords, name)
	if _, err := r.q.Exec(ctx, stmt); err != nil {
		return fmt.Errorf("failed to add column %q: %w", name, err)
	}
	return nil
}
