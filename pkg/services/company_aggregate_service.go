package services

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/clearbook/intake-engine/pkg/apperrors"
	"github.com/clearbook/intake-engine/pkg/database"
	"github.com/clearbook/intake-engine/pkg/models"
	"github.com/clearbook/intake-engine/pkg/repositories"
)

// TransitionRule decides whether a non-terminal aggregate should move from
// NotStarted to InProgress. The engine never auto-transitions on its own;
// the rule is supplied by the review-side caller.
type TransitionRule func(agg *models.CompanyAggregate) bool

// AssigneeRule is the default transition heuristic: review work begins
// once someone is assigned to a NotStarted generation.
func AssigneeRule(agg *models.CompanyAggregate) bool {
	return agg.Status == models.CompanyStatusNotStarted && agg.Assignee != nil && *agg.Assignee != ""
}

// CompanyAggregateService maintains the per-company aggregate generations.
//
// The aggregate table carries store-side triggers, so every update goes
// through the company repository's explicit statement path and the
// in-memory entity is marked clean afterwards; the audit entry semantics
// are identical to the generic path.
type CompanyAggregateService struct {
	db    *database.DB
	repo  repositories.CompanyRepository
	audit AuditService

	requireAtomic bool
	rule          TransitionRule
	logger        *zap.Logger
}

// NewCompanyAggregateService creates a new CompanyAggregateService.
// db may be nil in tests; it is only used when requireAtomic is set.
func NewCompanyAggregateService(db *database.DB, repo repositories.CompanyRepository, audit AuditService, requireAtomic bool, rule TransitionRule, logger *zap.Logger) *CompanyAggregateService {
	if rule == nil {
		rule = AssigneeRule
	}
	return &CompanyAggregateService{
		db:            db,
		repo:          repo,
		audit:         audit,
		requireAtomic: requireAtomic,
		rule:          rule,
		logger:        logger.Named("company-aggregates"),
	}
}

// ApplyFileOccurrences updates the aggregates for every company code seen
// in one file. Duplicate codes are folded into an occurrence count first,
// so the three-way branch below runs exactly once per distinct code:
//
//   - no aggregate yet: create generation 1 in NotStarted
//   - latest generation terminal: create the next generation, leaving the
//     terminal row untouched as history
//   - latest generation non-terminal: add the occurrences to its counters
//     (more rows arriving never changes the state by itself)
//
// Any persistence error aborts the remaining updates for this file and is
// returned to the caller; record rows already written are not rolled back.
func (s *CompanyAggregateService) ApplyFileOccurrences(ctx context.Context, companyCodes []string) (int, error) {
	counts := make(map[string]int, len(companyCodes))
	for _, code := range companyCodes {
		if code == "" {
			continue
		}
		counts[code]++
	}

	ordered := make([]string, 0, len(counts))
	for code := range counts {
		ordered = append(ordered, code)
	}
	sort.Strings(ordered)

	updated := 0
	for _, code := range ordered {
		if err := s.applyOne(ctx, code, counts[code]); err != nil {
			return updated, fmt.Errorf("aggregate update for company %q: %w", code, err)
		}
		updated++
	}
	return updated, nil
}

func (s *CompanyAggregateService) applyOne(ctx context.Context, code string, occurrences int) error {
	return s.inUnit(ctx, func(repo repositories.CompanyRepository, audit AuditService) error {
		latest, err := repo.GetLatest(ctx, code)
		switch {
		case errors.Is(err, apperrors.ErrNotFound):
			return s.createGeneration(ctx, repo, audit, code, 1, occurrences)

		case err != nil:
			return err

		case latest.Status.Terminal():
			s.logger.Info("company resurfaced after terminal generation, starting new cycle",
				zap.String("company_code", code),
				zap.Int("prior_generation", latest.Generation))
			return s.createGeneration(ctx, repo, audit, code, latest.Generation+1, occurrences)

		default:
			before := latest.FieldMap()
			latest.TotalRows += occurrences
			latest.ProcessedRows += occurrences
			latest.MarkDirty()

			if err := repo.Update(ctx, latest); err != nil {
				return err
			}
			// Explicit statement path has flushed the entity; the
			// generic path must not write it again.
			latest.MarkClean()

			s.logger.Info("updated aggregate counters",
				zap.String("company_code", code),
				zap.Int("generation", latest.Generation),
				zap.Int("occurrences", occurrences),
				zap.Int("total_rows", latest.TotalRows))
			return audit.RecordUpdate(ctx, models.TableAggregates, latest.ID.String(), before, latest.FieldMap())
		}
	})
}

func (s *CompanyAggregateService) createGeneration(ctx context.Context, repo repositories.CompanyRepository, audit AuditService, code string, generation, occurrences int) error {
	agg := &models.CompanyAggregate{
		CompanyCode:   code,
		Generation:    generation,
		Status:        models.CompanyStatusNotStarted,
		TotalRows:     occurrences,
		ProcessedRows: 0,
	}
	if err := repo.Create(ctx, agg); err != nil {
		return err
	}
	agg.MarkClean()

	s.logger.Info("created aggregate generation",
		zap.String("company_code", code),
		zap.Int("generation", generation),
		zap.Int("total_rows", occurrences))
	return audit.RecordInsert(ctx, models.TableAggregates, agg.ID.String(), agg.FieldMap())
}

// AssignReviewer sets the assignee on the latest generation and applies
// the configured transition rule, which may move NotStarted to InProgress.
func (s *CompanyAggregateService) AssignReviewer(ctx context.Context, code, assignee string) (*models.CompanyAggregate, error) {
	var out *models.CompanyAggregate
	err := s.inUnit(ctx, func(repo repositories.CompanyRepository, audit AuditService) error {
		agg, err := repo.GetLatest(ctx, code)
		if err != nil {
			return err
		}
		if agg.Status.Terminal() {
			return apperrors.ErrTerminalState
		}

		before := agg.FieldMap()
		agg.Assignee = &assignee
		if s.rule(agg) {
			agg.Status = models.CompanyStatusInProgress
		}
		agg.MarkDirty()

		if err := repo.Update(ctx, agg); err != nil {
			return err
		}
		agg.MarkClean()

		out = agg
		return audit.RecordUpdate(ctx, models.TableAggregates, agg.ID.String(), before, agg.FieldMap())
	})
	if err != nil {
		return nil, fmt.Errorf("assign reviewer for company %q: %w", code, err)
	}
	return out, nil
}

// MarkWaiting parks the latest generation in the Waiting state.
func (s *CompanyAggregateService) MarkWaiting(ctx context.Context, code string) error {
	err := s.inUnit(ctx, func(repo repositories.CompanyRepository, audit AuditService) error {
		agg, err := repo.GetLatest(ctx, code)
		if err != nil {
			return err
		}
		if agg.Status.Terminal() {
			return apperrors.ErrTerminalState
		}

		before := agg.FieldMap()
		agg.Status = models.CompanyStatusWaiting
		agg.MarkDirty()

		if err := repo.Update(ctx, agg); err != nil {
			return err
		}
		agg.MarkClean()
		return audit.RecordUpdate(ctx, models.TableAggregates, agg.ID.String(), before, agg.FieldMap())
	})
	if err != nil {
		return fmt.Errorf("mark waiting for company %q: %w", code, err)
	}
	return nil
}

// MarkProcessedIfComplete moves the latest generation to the terminal
// Processed state when its processed counter has caught up with its total.
// The decision inputs are the engine's counters; the call itself comes
// from the review collaborator once all records are confirmed.
func (s *CompanyAggregateService) MarkProcessedIfComplete(ctx context.Context, code string) (bool, error) {
	done := false
	err := s.inUnit(ctx, func(repo repositories.CompanyRepository, audit AuditService) error {
		agg, err := repo.GetLatest(ctx, code)
		if err != nil {
			return err
		}
		if agg.Status.Terminal() {
			return nil
		}
		if agg.ProcessedRows < agg.TotalRows {
			return nil
		}

		before := agg.FieldMap()
		agg.Status = models.CompanyStatusProcessed
		agg.MarkDirty()

		if err := repo.Update(ctx, agg); err != nil {
			return err
		}
		agg.MarkClean()
		done = true

		s.logger.Info("aggregate generation reached terminal state",
			zap.String("company_code", code),
			zap.Int("generation", agg.Generation))
		return audit.RecordUpdate(ctx, models.TableAggregates, agg.ID.String(), before, agg.FieldMap())
	})
	if err != nil {
		return false, fmt.Errorf("mark processed for company %q: %w", code, err)
	}
	return done, nil
}

// Generations returns every generation for a company, oldest first.
func (s *CompanyAggregateService) Generations(ctx context.Context, code string) ([]*models.CompanyAggregate, error) {
	return s.repo.ListByCompany(ctx, code)
}

// inUnit runs fn either directly or, when audit atomicity is required,
// inside one transaction shared by the mutation and its audit entry.
func (s *CompanyAggregateService) inUnit(ctx context.Context, fn func(repositories.CompanyRepository, AuditService) error) error {
	if !s.requireAtomic || s.db == nil {
		return fn(s.repo, s.audit)
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin aggregate transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(s.repo.WithTx(tx), s.audit.WithTx(tx)); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit aggregate transaction: %w", err)
	}
	return nil
}
