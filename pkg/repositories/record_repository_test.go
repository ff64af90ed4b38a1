package repositories

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clearbook/intake-engine/pkg/models"
)

// fakeQuerier records Exec calls and reports every row group in the
// statement as inserted.
type fakeQuerier struct {
	execSQL  []string
	execArgs [][]any
	execErr  error
}

func (f *fakeQuerier) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	if f.execErr != nil {
		return pgconn.CommandTag{}, f.execErr
	}
	f.execSQL = append(f.execSQL, sql)
	f.execArgs = append(f.execArgs, args)
	// One paren opens the column list, the rest open row groups.
	rows := strings.Count(sql, "(") - 1
	return pgconn.NewCommandTag(fmt.Sprintf("INSERT 0 %d", rows)), nil
}

func (f *fakeQuerier) Query(_ context.Context, _ string, _ ...any) (pgx.Rows, error) {
	return nil, pgx.ErrNoRows
}

func (f *fakeQuerier) QueryRow(_ context.Context, _ string, _ ...any) pgx.Row {
	return errRow{}
}

type errRow struct{}

func (errRow) Scan(_ ...any) error { return pgx.ErrNoRows }

func makeRecords(n int, dynamicCols []string) []*models.ImportRecord {
	records := make([]*models.ImportRecord, n)
	for i := range records {
		rec := &models.ImportRecord{
			CompanyCode: fmt.Sprintf("C%03d", i),
			SourceFile:  "input.csv",
			TimeBlock:   "20260110_093000",
		}
		for _, c := range dynamicCols {
			rec.Dynamic.Set(c, "v")
		}
		records[i] = rec
	}
	return records
}

func TestInsertBatch_SingleStatementForNormalWidth(t *testing.T) {
	q := &fakeQuerier{}
	repo := NewRecordRepository(q)

	n, err := repo.InsertBatch(context.Background(), makeRecords(100, []string{"department"}), []string{"department"})
	require.NoError(t, err)
	assert.Equal(t, 100, n)
	require.Len(t, q.execSQL, 1)

	// 7 fixed columns + 1 dynamic, 100 rows.
	assert.Len(t, q.execArgs[0], 800)
	assert.Contains(t, q.execSQL[0], `"department"`)
}

func TestInsertBatch_ChunksWideBatchesUnderBindLimit(t *testing.T) {
	dynamicCols := make([]string, 650)
	for i := range dynamicCols {
		dynamicCols[i] = fmt.Sprintf("col_%03d", i)
	}

	q := &fakeQuerier{}
	repo := NewRecordRepository(q)

	// width = 7 + 650 = 657, so at most 99 rows fit under 65535
	// parameters per statement. 110 records need two statements.
	n, err := repo.InsertBatch(context.Background(), makeRecords(110, dynamicCols), dynamicCols)
	require.NoError(t, err)
	assert.Equal(t, 110, n)
	require.Len(t, q.execSQL, 2)

	assert.Len(t, q.execArgs[0], 99*657)
	assert.Len(t, q.execArgs[1], 11*657)
	for _, args := range q.execArgs {
		assert.LessOrEqual(t, len(args), 65535)
	}
}

func TestInsertBatch_EmptyIsNoOp(t *testing.T) {
	q := &fakeQuerier{}
	repo := NewRecordRepository(q)

	n, err := repo.InsertBatch(context.Background(), nil, nil)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, q.execSQL)
}

func TestInsertBatch_RejectsUnsafeColumnName(t *testing.T) {
	q := &fakeQuerier{}
	repo := NewRecordRepository(q)

	_, err := repo.InsertBatch(context.Background(), makeRecords(1, nil), []string{`bad"; DROP TABLE x; --`})
	require.Error(t, err)
	assert.Empty(t, q.execSQL)
}
