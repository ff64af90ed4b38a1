package services

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/clearbook/intake-engine/pkg/apperrors"
	"github.com/clearbook/intake-engine/pkg/models"
)

func newReviewFixture(t *testing.T, extraCols ...string) (*RecordReviewService, *mockRecordRepo, *recordingAudit) {
	t.Helper()
	repo := &mockRecordRepo{}
	audit := &recordingAudit{}
	snap := newTestSnapshot(t, extraCols...)
	svc := NewRecordReviewService(nil, repo, snap, audit, false, zap.NewNop())
	return svc, repo, audit
}

func seedRecord(repo *mockRecordRepo, code string, dynamic map[string]string) uuid.UUID {
	rec := &models.ImportRecord{
		ID:          uuid.New(),
		CompanyCode: code,
		SourceFile:  "input.csv",
		TimeBlock:   "20260110_093000",
	}
	for name, value := range dynamic {
		rec.Dynamic.Set(name, value)
	}
	repo.inserted = append(repo.inserted, rec)
	return rec.ID
}

func TestUpdateReview_NotesOnlyDiffsOnlyNotes(t *testing.T) {
	svc, repo, audit := newReviewFixture(t, "department")
	id := seedRecord(repo, "ACME", map[string]string{"department": "Sales"})

	notes := "needs a second look"
	updated, err := svc.UpdateReview(context.Background(), id, nil, &notes)
	require.NoError(t, err)
	assert.Equal(t, notes, updated.Notes)
	assert.False(t, updated.Confirmed)

	updates := audit.callsFor(models.AuditOpUpdate)
	require.Len(t, updates, 1)
	call := updates[0]
	assert.Equal(t, models.TableRecords, call.table)
	assert.Equal(t, id.String(), call.targetID)

	changes := ChangedFields(call.before, call.after)
	require.Len(t, changes, 1)
	assert.Contains(t, changes, "notes")
	assert.Equal(t, "", changes["notes"].Old)
	assert.Equal(t, notes, changes["notes"].New)
}

func TestUpdateReview_ConfirmToggle(t *testing.T) {
	svc, repo, audit := newReviewFixture(t)
	id := seedRecord(repo, "ACME", nil)

	confirmed := true
	updated, err := svc.UpdateReview(context.Background(), id, &confirmed, nil)
	require.NoError(t, err)
	assert.True(t, updated.Confirmed)

	updates := audit.callsFor(models.AuditOpUpdate)
	require.Len(t, updates, 1)
	changes := ChangedFields(updates[0].before, updates[0].after)
	require.Len(t, changes, 1)
	assert.Equal(t, false, changes["confirmed"].Old)
	assert.Equal(t, true, changes["confirmed"].New)
}

func TestUpdateReview_DynamicValuesSurviveAndStayOutOfDiff(t *testing.T) {
	svc, repo, audit := newReviewFixture(t, "department", "cost_center")
	id := seedRecord(repo, "ACME", map[string]string{"department": "Sales", "cost_center": "CC-9"})

	notes := "checked"
	updated, err := svc.UpdateReview(context.Background(), id, nil, &notes)
	require.NoError(t, err)

	// The update statement returns only fixed columns; the loaded
	// before-state carries the dynamic values forward.
	v, ok := updated.Dynamic.Get("department")
	require.True(t, ok)
	assert.Equal(t, "Sales", v)
	v, ok = updated.Dynamic.Get("cost_center")
	require.True(t, ok)
	assert.Equal(t, "CC-9", v)

	updates := audit.callsFor(models.AuditOpUpdate)
	require.Len(t, updates, 1)
	assert.Equal(t, "Sales", updates[0].after["department"])
	changes := ChangedFields(updates[0].before, updates[0].after)
	assert.NotContains(t, changes, "department")
	assert.NotContains(t, changes, "cost_center")
}

func TestUpdateReview_MissingRecord(t *testing.T) {
	svc, _, audit := newReviewFixture(t)

	notes := "nobody home"
	_, err := svc.UpdateReview(context.Background(), uuid.New(), nil, &notes)
	require.ErrorIs(t, err, apperrors.ErrNotFound)
	assert.Empty(t, audit.calls)
}

func TestConfirmationProgress(t *testing.T) {
	svc, repo, _ := newReviewFixture(t)

	for _, confirmed := range []bool{true, false, true} {
		id := seedRecord(repo, "ACME", nil)
		if confirmed {
			c := true
			_, err := svc.UpdateReview(context.Background(), id, &c, nil)
			require.NoError(t, err)
		}
	}
	seedRecord(repo, "BETA", nil)

	confirmed, total, err := svc.ConfirmationProgress(context.Background(), "ACME")
	require.NoError(t, err)
	assert.Equal(t, 2, confirmed)
	assert.Equal(t, 3, total)
}
