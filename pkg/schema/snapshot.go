package schema

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// ColumnStore is the store surface the schema layer depends on.
// Satisfied by repositories.SchemaRepository.
type ColumnStore interface {
	// ListColumns returns the record table's column names in physical order.
	ListColumns(ctx context.Context) ([]string, error)
	// AddTextColumn adds a nullable text column if it does not already
	// exist, as a single conditional statement (no check-then-act race).
	AddTextColumn(ctx context.Context, name string) error
}

// Snapshot is the engine's point-in-time view of which columns exist in
// the record store. Comparison is case-insensitive. The set only grows;
// Refresh is called at the start of every run and after reconciliation so
// the engine never acts on stale schema for long.
type Snapshot struct {
	store ColumnStore

	mu      sync.RWMutex
	ordered []string          // physical order, as reported by the store
	byLower map[string]string // lowercased name -> stored name
}

// NewSnapshot creates an empty snapshot backed by the given store.
func NewSnapshot(store ColumnStore) *Snapshot {
	return &Snapshot{
		store:   store,
		byLower: make(map[string]string),
	}
}

// Refresh reloads the column set from the store.
func (s *Snapshot) Refresh(ctx context.Context) error {
	cols, err := s.store.ListColumns(ctx)
	if err != nil {
		return fmt.Errorf("failed to refresh schema snapshot: %w", err)
	}

	byLower := make(map[string]string, len(cols))
	for _, c := range cols {
		byLower[strings.ToLower(c)] = c
	}

	s.mu.Lock()
	s.ordered = cols
	s.byLower = byLower
	s.mu.Unlock()
	return nil
}

// Has reports whether a column exists, case-insensitively.
func (s *Snapshot) Has(name string) bool {
	_, ok := s.Canonical(name)
	return ok
}

// Canonical resolves a name to the column's stored spelling,
// case-insensitively. Callers that key data by column name must use the
// canonical form so lookups against the physical column set never miss on
// casing.
func (s *Snapshot) Canonical(name string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	stored, ok := s.byLower[strings.ToLower(name)]
	return stored, ok
}

// Columns returns the column names in physical order.
func (s *Snapshot) Columns() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.ordered...)
}

// Len returns the number of known columns.
func (s *Snapshot) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.ordered)
}
