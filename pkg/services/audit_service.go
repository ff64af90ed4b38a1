package services

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/clearbook/intake-engine/pkg/database"
	"github.com/clearbook/intake-engine/pkg/models"
	"github.com/clearbook/intake-engine/pkg/repositories"
)

// diffSeparator joins the per-field lines of an update diff.
const diffSeparator = "; "

// AuditService derives audit entries for every mutation the engine makes.
// Entries are generated synchronously with the mutation they describe.
// Mutations of the audit table itself and no-op updates are excluded, and
// audit entries never trigger further audit entries.
//
// By default audit persistence is best-effort: a failed entry is logged
// and the primary mutation stands. With requireAtomic the caller binds
// the service to the mutation's transaction via WithTx and a failed entry
// rolls back the primary write too.
type AuditService interface {
	// RecordInsert logs an insert; after is the full serialized field set.
	RecordInsert(ctx context.Context, tableName, targetID string, after map[string]any) error

	// RecordUpdate logs an update. Only fields whose value actually
	// changed appear in the diff; an update with no changed fields is a
	// no-op and produces no entry.
	RecordUpdate(ctx context.Context, tableName, targetID string, before, after map[string]any) error

	// RecordDelete logs a delete; before is the field set at deletion time.
	RecordDelete(ctx context.Context, tableName, targetID string, before map[string]any) error

	// WithTx returns a copy of the service whose entries are written
	// through the given querier.
	WithTx(q database.Querier) AuditService
}

type auditService struct {
	repo          repositories.AuditRepository
	actor         string
	requireAtomic bool
	logger        *zap.Logger
}

// NewAuditService creates a new AuditService.
func NewAuditService(repo repositories.AuditRepository, actor string, requireAtomic bool, logger *zap.Logger) AuditService {
	return &auditService{
		repo:          repo,
		actor:         actor,
		requireAtomic: requireAtomic,
		logger:        logger.Named("audit-service"),
	}
}

var _ AuditService = (*auditService)(nil)

func (s *auditService) WithTx(q database.Querier) AuditService {
	return &auditService{
		repo:          s.repo.WithTx(q),
		actor:         s.actor,
		requireAtomic: s.requireAtomic,
		logger:        s.logger,
	}
}

func (s *auditService) RecordInsert(ctx context.Context, tableName, targetID string, after map[string]any) error {
	if tableName == models.TableAudit {
		return nil
	}

	afterJSON, err := json.Marshal(after)
	if err != nil {
		return s.absorb(tableName, models.AuditOpInsert, fmt.Errorf("failed to serialize after-state: %w", err))
	}

	entry := &models.AuditEntry{
		TableName:  tableName,
		Operation:  models.AuditOpInsert,
		TargetID:   parseTargetID(targetID),
		AfterState: afterJSON,
		Actor:      s.actor,
	}
	if err := s.repo.Create(ctx, entry); err != nil {
		return s.absorb(tableName, models.AuditOpInsert, err)
	}
	return nil
}

func (s *auditService) RecordUpdate(ctx context.Context, tableName, targetID string, before, after map[string]any) error {
	if tableName == models.TableAudit {
		return nil
	}

	changes := ChangedFields(before, after)
	if len(changes) == 0 {
		// Clean entity, nothing actually changed.
		return nil
	}

	beforeJSON, err := json.Marshal(before)
	if err != nil {
		return s.absorb(tableName, models.AuditOpUpdate, fmt.Errorf("failed to serialize before-state: %w", err))
	}
	afterJSON, err := json.Marshal(after)
	if err != nil {
		return s.absorb(tableName, models.AuditOpUpdate, fmt.Errorf("failed to serialize after-state: %w", err))
	}

	entry := &models.AuditEntry{
		TableName:   tableName,
		Operation:   models.AuditOpUpdate,
		TargetID:    parseTargetID(targetID),
		BeforeState: beforeJSON,
		AfterState:  afterJSON,
		Diff:        FormatDiff(changes),
		Actor:       s.actor,
	}
	if err := s.repo.Create(ctx, entry); err != nil {
		return s.absorb(tableName, models.AuditOpUpdate, err)
	}
	return nil
}

func (s *auditService) RecordDelete(ctx context.Context, tableName, targetID string, before map[string]any) error {
	if tableName == models.TableAudit {
		return nil
	}

	beforeJSON, err := json.Marshal(before)
	if err != nil {
		return s.absorb(tableName, models.AuditOpDelete, fmt.Errorf("failed to serialize before-state: %w", err))
	}

	entry := &models.AuditEntry{
		TableName:   tableName,
		Operation:   models.AuditOpDelete,
		TargetID:    parseTargetID(targetID),
		BeforeState: beforeJSON,
		Actor:       s.actor,
	}
	if err := s.repo.Create(ctx, entry); err != nil {
		return s.absorb(tableName, models.AuditOpDelete, err)
	}
	return nil
}

// absorb applies the configured failure policy: propagate when audit
// writes must be atomic with the primary mutation, otherwise log and let
// the primary write stand.
func (s *auditService) absorb(tableName, operation string, err error) error {
	if s.requireAtomic {
		return fmt.Errorf("audit entry for %s %s: %w", tableName, operation, err)
	}
	s.logger.Error("Failed to record audit entry, primary mutation stands",
		zap.String("table", tableName),
		zap.String("operation", operation),
		zap.Error(err))
	return nil
}

// parseTargetID records the target identifier only when it parses as the
// store's identifier type; anything else is left empty, not fatal.
func parseTargetID(raw string) *uuid.UUID {
	id, err := uuid.Parse(raw)
	if err != nil {
		return nil
	}
	return &id
}

// ChangedFields returns the fields whose value differs between the two
// serialized states, keyed by field name.
func ChangedFields(before, after map[string]any) map[string]models.FieldChange {
	changes := make(map[string]models.FieldChange)
	for name, oldVal := range before {
		newVal, ok := after[name]
		if !ok {
			changes[name] = models.FieldChange{Old: oldVal, New: nil}
			continue
		}
		if fmt.Sprintf("%v", oldVal) != fmt.Sprintf("%v", newVal) {
			changes[name] = models.FieldChange{Old: oldVal, New: newVal}
		}
	}
	for name, newVal := range after {
		if _, ok := before[name]; !ok {
			changes[name] = models.FieldChange{Old: nil, New: newVal}
		}
	}
	return changes
}

// FormatDiff renders changed fields as "field: 'old' -> 'new'" lines
// joined by the separator, in field-name order.
func FormatDiff(changes map[string]models.FieldChange) string {
	names := make([]string, 0, len(changes))
	for name := range changes {
		names = append(names, name)
	}
	sort.Strings(names)

	lines := make([]string, 0, len(names))
	for _, name := range names {
		c := changes[name]
		lines = append(lines, fmt.Sprintf("%s: '%v' -> '%v'", name, c.Old, c.New))
	}
	return strings.Join(lines, diffSeparator)
}
