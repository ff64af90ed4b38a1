package models

import (
	"time"

	"github.com/google/uuid"
)

// CompanyStatus is the processing status of one aggregate generation.
type CompanyStatus string

const (
	CompanyStatusNotStarted CompanyStatus = "not_started"
	CompanyStatusInProgress CompanyStatus = "in_progress"
	CompanyStatusWaiting    CompanyStatus = "waiting"
	CompanyStatusProcessed  CompanyStatus = "processed"
)

// Terminal reports whether the status ends a generation's lifecycle.
// Counter updates never apply to a terminal generation; a new sighting of
// the company starts a new generation instead.
func (s CompanyStatus) Terminal() bool {
	return s == CompanyStatusProcessed
}

// Valid reports whether s is one of the known statuses.
func (s CompanyStatus) Valid() bool {
	switch s {
	case CompanyStatusNotStarted, CompanyStatusInProgress, CompanyStatusWaiting, CompanyStatusProcessed:
		return true
	}
	return false
}

// CompanyAggregate is one generation of the per-company running aggregate.
// Stored in company_aggregates table. At most one row per company code is
// non-terminal at any time.
type CompanyAggregate struct {
	ID            uuid.UUID     `json:"id"`
	CompanyCode   string        `json:"company_code"`
	Generation    int           `json:"generation"`
	Status        CompanyStatus `json:"status"`
	TotalRows     int           `json:"total_rows"`
	ProcessedRows int           `json:"processed_rows"`
	Assignee      *string       `json:"assignee,omitempty"`
	CreatedAt     time.Time     `json:"created_at"`
	UpdatedAt     time.Time     `json:"updated_at"`

	// clean marks the in-memory entity as already persisted through the
	// explicit statement path, so a generic flush must not write it again.
	clean bool
}

// MarkClean flags the entity as flushed.
func (a *CompanyAggregate) MarkClean() { a.clean = true }

// MarkDirty flags the entity as holding unflushed changes.
func (a *CompanyAggregate) MarkDirty() { a.clean = false }

// IsClean reports whether the entity has no unflushed changes.
func (a *CompanyAggregate) IsClean() bool { return a.clean }

// FieldMap serializes the aggregate's persisted fields for audit entries.
func (a *CompanyAggregate) FieldMap() map[string]any {
	m := map[string]any{
		"id":             a.ID.String(),
		"company_code":   a.CompanyCode,
		"generation":     a.Generation,
		"status":         string(a.Status),
		"total_rows":     a.TotalRows,
		"processed_rows": a.ProcessedRows,
	}
	if a.Assignee != nil {
		m["assignee"] = *a.Assignee
	}
	return m
}
