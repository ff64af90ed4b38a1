package models

import (
	"time"

	"github.com/google/uuid"
)

// Audited table names.
const (
	TableRecords    = "intake_records"
	TableAggregates = "company_aggregates"
	TableAudit      = "audit_entries"
	TableHistory    = "processing_history"
)

// Audit operation kinds.
const (
	AuditOpInsert = "insert"
	AuditOpUpdate = "update"
	AuditOpDelete = "delete"
)

// AuditEntry is the immutable record of one mutation.
// Stored in audit_entries table. The audit table itself is never audited.
type AuditEntry struct {
	ID        uuid.UUID `json:"id"`
	TableName string    `json:"table_name"`
	Operation string    `json:"operation"` // 'insert', 'update', 'delete'

	// TargetID is the mutated row's primary key, recorded only when it
	// parses as a UUID; nil otherwise (not fatal).
	TargetID *uuid.UUID `json:"target_id,omitempty"`

	// BeforeState/AfterState are JSON serializations of the entity's
	// field set. Inserts carry only after, deletes only before.
	BeforeState []byte `json:"before_state,omitempty"`
	AfterState  []byte `json:"after_state,omitempty"`

	// Diff is the human-readable field-level diff for updates,
	// "field: 'old' -> 'new'" lines joined with "; ".
	Diff string `json:"diff,omitempty"`

	Actor     string    `json:"actor"`
	CreatedAt time.Time `json:"created_at"`
}

// FieldChange represents the old and new values for a changed field.
type FieldChange struct {
	Old any `json:"old"`
	New any `json:"new"`
}
