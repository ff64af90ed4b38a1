package services

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/clearbook/intake-engine/pkg/apperrors"
	"github.com/clearbook/intake-engine/pkg/database"
	"github.com/clearbook/intake-engine/pkg/models"
	"github.com/clearbook/intake-engine/pkg/repositories"
)

// stubColumnStore backs schema snapshots in service tests.
type stubColumnStore struct {
	columns []string
}

func (s *stubColumnStore) ListColumns(_ context.Context) ([]string, error) {
	return append([]string(nil), s.columns...), nil
}

func (s *stubColumnStore) AddTextColumn(_ context.Context, name string) error {
	s.columns = append(s.columns, name)
	return nil
}

// mockRecordRepo captures batch inserts.
type mockRecordRepo struct {
	inserted   []*models.ImportRecord
	batchSizes []int
	batchCols  [][]string
	insertErr  error
}

var _ repositories.RecordRepository = (*mockRecordRepo)(nil)

func (m *mockRecordRepo) InsertBatch(_ context.Context, records []*models.ImportRecord, dynamicCols []string) (int, error) {
	if m.insertErr != nil {
		return 0, m.insertErr
	}
	for _, rec := range records {
		if rec.ID == uuid.Nil {
			rec.ID = uuid.New()
		}
	}
	m.inserted = append(m.inserted, records...)
	m.batchSizes = append(m.batchSizes, len(records))
	m.batchCols = append(m.batchCols, append([]string(nil), dynamicCols...))
	return len(records), nil
}

func (m *mockRecordRepo) GetByID(_ context.Context, id uuid.UUID, _ []string) (*models.ImportRecord, error) {
	for _, rec := range m.inserted {
		if rec.ID == id {
			cp := *rec
			return &cp, nil
		}
	}
	return nil, apperrors.ErrNotFound
}

func (m *mockRecordRepo) UpdateReview(_ context.Context, id uuid.UUID, confirmed *bool, notes *string) (*models.ImportRecord, error) {
	for _, rec := range m.inserted {
		if rec.ID == id {
			if confirmed != nil {
				rec.Confirmed = *confirmed
			}
			if notes != nil {
				rec.Notes = *notes
			}
			cp := *rec
			cp.Dynamic = models.DynamicValues{}
			return &cp, nil
		}
	}
	return nil, apperrors.ErrNotFound
}

func (m *mockRecordRepo) CountConfirmedByCompany(_ context.Context, companyCode string) (int, int, error) {
	confirmed, total := 0, 0
	for _, rec := range m.inserted {
		if rec.CompanyCode != companyCode {
			continue
		}
		total++
		if rec.Confirmed {
			confirmed++
		}
	}
	return confirmed, total, nil
}

func (m *mockRecordRepo) WithTx(_ database.Querier) repositories.RecordRepository { return m }

// mockCompanyRepo keeps aggregates in memory, ordered by generation.
type mockCompanyRepo struct {
	byCode    map[string][]*models.CompanyAggregate
	createErr error
	updateErr error

	updateCalls int
}

var _ repositories.CompanyRepository = (*mockCompanyRepo)(nil)

func newMockCompanyRepo() *mockCompanyRepo {
	return &mockCompanyRepo{byCode: make(map[string][]*models.CompanyAggregate)}
}

func (m *mockCompanyRepo) GetLatest(_ context.Context, companyCode string) (*models.CompanyAggregate, error) {
	gens := m.byCode[companyCode]
	if len(gens) == 0 {
		return nil, apperrors.ErrNotFound
	}
	latest := gens[len(gens)-1]
	cp := *latest
	return &cp, nil
}

func (m *mockCompanyRepo) ListByCompany(_ context.Context, companyCode string) ([]*models.CompanyAggregate, error) {
	return append([]*models.CompanyAggregate(nil), m.byCode[companyCode]...), nil
}

func (m *mockCompanyRepo) Create(_ context.Context, agg *models.CompanyAggregate) error {
	if m.createErr != nil {
		return m.createErr
	}
	agg.ID = uuid.New()
	agg.CreatedAt = time.Now()
	agg.UpdatedAt = agg.CreatedAt
	cp := *agg
	m.byCode[agg.CompanyCode] = append(m.byCode[agg.CompanyCode], &cp)
	return nil
}

func (m *mockCompanyRepo) Update(_ context.Context, agg *models.CompanyAggregate) error {
	m.updateCalls++
	if m.updateErr != nil {
		return m.updateErr
	}
	for _, gen := range m.byCode[agg.CompanyCode] {
		if gen.ID == agg.ID {
			cp := *agg
			*gen = cp
			return nil
		}
	}
	return apperrors.ErrNotFound
}

func (m *mockCompanyRepo) WithTx(_ database.Querier) repositories.CompanyRepository { return m }

// latest returns the stored highest generation, bypassing the copy that
// GetLatest hands out.
func (m *mockCompanyRepo) latest(code string) *models.CompanyAggregate {
	gens := m.byCode[code]
	if len(gens) == 0 {
		return nil
	}
	return gens[len(gens)-1]
}

// mockAuditRepo captures created audit entries.
type mockAuditRepo struct {
	entries   []*models.AuditEntry
	createErr error
}

var _ repositories.AuditRepository = (*mockAuditRepo)(nil)

func (m *mockAuditRepo) Create(_ context.Context, entry *models.AuditEntry) error {
	if m.createErr != nil {
		return m.createErr
	}
	m.entries = append(m.entries, entry)
	return nil
}

func (m *mockAuditRepo) ListByTable(_ context.Context, tableName string, limit int) ([]*models.AuditEntry, error) {
	var out []*models.AuditEntry
	for _, e := range m.entries {
		if e.TableName == tableName {
			out = append(out, e)
		}
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (m *mockAuditRepo) ListByTarget(_ context.Context, tableName string, targetID uuid.UUID) ([]*models.AuditEntry, error) {
	var out []*models.AuditEntry
	for _, e := range m.entries {
		if e.TableName == tableName && e.TargetID != nil && *e.TargetID == targetID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *mockAuditRepo) WithTx(_ database.Querier) repositories.AuditRepository { return m }

// auditCall is one recorded call against recordingAudit.
type auditCall struct {
	op       string
	table    string
	targetID string
	before   map[string]any
	after    map[string]any
}

// recordingAudit is an AuditService stand-in for tests above the audit layer.
type recordingAudit struct {
	calls []auditCall
	err   error
}

var _ AuditService = (*recordingAudit)(nil)

func (a *recordingAudit) RecordInsert(_ context.Context, tableName, targetID string, after map[string]any) error {
	if a.err != nil {
		return a.err
	}
	a.calls = append(a.calls, auditCall{op: models.AuditOpInsert, table: tableName, targetID: targetID, after: after})
	return nil
}

func (a *recordingAudit) RecordUpdate(_ context.Context, tableName, targetID string, before, after map[string]any) error {
	if a.err != nil {
		return a.err
	}
	a.calls = append(a.calls, auditCall{op: models.AuditOpUpdate, table: tableName, targetID: targetID, before: before, after: after})
	return nil
}

func (a *recordingAudit) RecordDelete(_ context.Context, tableName, targetID string, before map[string]any) error {
	if a.err != nil {
		return a.err
	}
	a.calls = append(a.calls, auditCall{op: models.AuditOpDelete, table: tableName, targetID: targetID, before: before})
	return nil
}

func (a *recordingAudit) WithTx(_ database.Querier) AuditService { return a }

func (a *recordingAudit) callsFor(op string) []auditCall {
	var out []auditCall
	for _, c := range a.calls {
		if c.op == op {
			out = append(out, c)
		}
	}
	return out
}

// mockHistoryRepo enforces the finalize-once guard the real store applies.
type mockHistoryRepo struct {
	mu          sync.Mutex
	entries     map[uuid.UUID]*models.ProcessingHistory
	createErr   error
	finalizeErr error

	finalizeCalls int
}

var _ repositories.HistoryRepository = (*mockHistoryRepo)(nil)

func newMockHistoryRepo() *mockHistoryRepo {
	return &mockHistoryRepo{entries: make(map[uuid.UUID]*models.ProcessingHistory)}
}

func (m *mockHistoryRepo) Create(_ context.Context, entry *models.ProcessingHistory) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return m.createErr
	}
	entry.ID = uuid.New()
	entry.CreatedAt = time.Now()
	if entry.Status == "" {
		entry.Status = models.HistoryStatusProcessing
	}
	cp := *entry
	m.entries[entry.ID] = &cp
	return nil
}

func (m *mockHistoryRepo) Finalize(_ context.Context, entry *models.ProcessingHistory) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.finalizeCalls++
	if m.finalizeErr != nil {
		return m.finalizeErr
	}
	stored, ok := m.entries[entry.ID]
	if !ok {
		return apperrors.ErrNotFound
	}
	if stored.Status != models.HistoryStatusProcessing {
		return apperrors.ErrRunFinalized
	}
	now := time.Now()
	entry.FinalizedAt = &now
	cp := *entry
	m.entries[entry.ID] = &cp
	return nil
}

func (m *mockHistoryRepo) GetByID(_ context.Context, id uuid.UUID) (*models.ProcessingHistory, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.entries[id]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	cp := *stored
	return &cp, nil
}

func (m *mockHistoryRepo) ListRecent(_ context.Context, limit int) ([]*models.ProcessingHistory, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.ProcessingHistory
	for _, e := range m.entries {
		cp := *e
		out = append(out, &cp)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

// stubMarkerStore is an in-memory FileMarkerStore with optional failure.
type stubMarkerStore struct {
	mu      sync.Mutex
	seen    map[string]bool
	seenErr error
}

var _ repositories.FileMarkerStore = (*stubMarkerStore)(nil)

func newStubMarkerStore() *stubMarkerStore {
	return &stubMarkerStore{seen: make(map[string]bool)}
}

func (s *stubMarkerStore) Seen(_ context.Context, fileName string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.seenErr != nil {
		return false, s.seenErr
	}
	return s.seen[fileName], nil
}

func (s *stubMarkerStore) Mark(_ context.Context, fileName string, _ time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seen[fileName] = true
	return nil
}

func (s *stubMarkerStore) marked(fileName string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.seen[fileName]
}

// stubApplier records the company codes handed to the aggregate phase.
type stubApplier struct {
	codes []string
	err   error
}

var _ AggregateApplier = (*stubApplier)(nil)

func (a *stubApplier) ApplyFileOccurrences(_ context.Context, companyCodes []string) (int, error) {
	if a.err != nil {
		return 0, a.err
	}
	a.codes = append(a.codes, companyCodes...)
	distinct := make(map[string]struct{})
	for _, c := range companyCodes {
		if c != "" {
			distinct[c] = struct{}{}
		}
	}
	return len(distinct), nil
}
