package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ImportRecord is one ingested row from a delimited file.
// Stored in intake_records table.
//
// Well-known columns (company code, monetary amount, review fields,
// provenance) live as typed struct fields; every other discovered column
// is carried in Dynamic, an ordered name->value mapping that maps 1:1 to
// the record table's dynamically added TEXT columns.
type ImportRecord struct {
	ID uuid.UUID `json:"id"`

	// Well-known typed columns
	CompanyCode string           `json:"company_code"`
	Amount      *decimal.Decimal `json:"amount,omitempty"`

	// Review fields, mutable by the dashboard only - ingestion never sets them
	Confirmed bool   `json:"confirmed"`
	Notes     string `json:"notes"`

	// Provenance, immutable once written
	SourceFile string    `json:"source_file"`
	TimeBlock  string    `json:"time_block"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`

	// Dynamic holds discovered-column values in file order.
	Dynamic DynamicValues `json:"dynamic,omitempty"`
}

// DynamicValues is an ordered mapping from sanitized column name to raw
// string value. Order is preserved so insert statements and audit
// serializations are deterministic.
type DynamicValues struct {
	names  []string
	values map[string]string
}

// Set stores a value under the given column name, preserving first-set order.
func (d *DynamicValues) Set(name, value string) {
	if d.values == nil {
		d.values = make(map[string]string)
	}
	if _, exists := d.values[name]; !exists {
		d.names = append(d.names, name)
	}
	d.values[name] = value
}

// Get returns the value for a column name and whether it is present.
func (d *DynamicValues) Get(name string) (string, bool) {
	v, ok := d.values[name]
	return v, ok
}

// Names returns the column names in first-set order.
func (d *DynamicValues) Names() []string {
	return append([]string(nil), d.names...)
}

// Len returns the number of stored values.
func (d *DynamicValues) Len() int {
	return len(d.names)
}

// Field reads a value by column name, checking the well-known typed
// fields first and falling back to the dynamic mapping.
func (r *ImportRecord) Field(name string) (string, bool) {
	switch name {
	case "id":
		return r.ID.String(), true
	case "company_code":
		return r.CompanyCode, true
	case "amount":
		if r.Amount == nil {
			return "", false
		}
		return r.Amount.String(), true
	case "notes":
		return r.Notes, true
	case "source_file":
		return r.SourceFile, true
	case "time_block":
		return r.TimeBlock, true
	}
	return r.Dynamic.Get(name)
}

// FieldMap serializes the record's persisted fields for audit entries.
func (r *ImportRecord) FieldMap() map[string]any {
	m := map[string]any{
		"id":           r.ID.String(),
		"company_code": r.CompanyCode,
		"confirmed":    r.Confirmed,
		"notes":        r.Notes,
		"source_file":  r.SourceFile,
		"time_block":   r.TimeBlock,
	}
	if r.Amount != nil {
		m["amount"] = r.Amount.String()
	}
	for _, name := range r.Dynamic.Names() {
		v, _ := r.Dynamic.Get(name)
		m[name] = v
	}
	return m
}
