// Package schema owns the engine's view of the record table's column set:
// name sanitization, the refreshable snapshot, and reconciliation of newly
// discovered columns against the live store.
package schema

import "strings"

// MaxIdentifierLength is the store's maximum column identifier length.
const MaxIdentifierLength = 128

// digitPrefix is prepended when a sanitized name would start with a digit.
const digitPrefix = "c_"

// ReservedColumns are system column names that always exist on the record
// table. They are never treated as missing during reconciliation, and
// ingestion never writes review fields (confirmed, notes) from file input.
var ReservedColumns = map[string]struct{}{
	"id":           {},
	"company_code": {},
	"amount":       {},
	"confirmed":    {},
	"notes":        {},
	"overflow":     {},
	"source_file":  {},
	"time_block":   {},
	"created_at":   {},
	"updated_at":   {},
}

// IsReserved reports whether the (case-insensitive) name is a system column.
func IsReserved(name string) bool {
	_, ok := ReservedColumns[strings.ToLower(name)]
	return ok
}

// SanitizeColumnName maps a raw header name onto a safe store identifier:
// characters outside [A-Za-z0-9_] become underscores, a leading digit gets
// the "c_" prefix, and the result is capped at MaxIdentifierLength.
func SanitizeColumnName(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return ""
	}

	var b strings.Builder
	b.Grow(len(trimmed))
	for _, r := range trimmed {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}

	name := b.String()
	if name[0] >= '0' && name[0] <= '9' {
		name = digitPrefix + name
	}
	if len(name) > MaxIdentifierLength {
		name = name[:MaxIdentifierLength]
	}
	return name
}
