package services

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/clearbook/intake-engine/pkg/models"
	"github.com/clearbook/intake-engine/pkg/repositories"
)

// HistoryService records one history entry per file-processing run.
// Every invocation of the engine yields exactly one entry: Begin creates
// it in "processing" status, Finalize writes the terminal state exactly
// once regardless of how the run ended.
type HistoryService struct {
	repo   repositories.HistoryRepository
	logger *zap.Logger
}

// NewHistoryService creates a new HistoryService.
func NewHistoryService(repo repositories.HistoryRepository, logger *zap.Logger) *HistoryService {
	return &HistoryService{
		repo:   repo,
		logger: logger.Named("history"),
	}
}

// Run tracks one in-flight history entry.
type Run struct {
	svc   *HistoryService
	entry *models.ProcessingHistory

	mu        sync.Mutex
	finalized bool
}

// Begin creates the run's history entry in "processing" status.
func (s *HistoryService) Begin(ctx context.Context, fileName, timeBlock, sourcePath string) (*Run, error) {
	entry := &models.ProcessingHistory{
		FileName:   fileName,
		TimeBlock:  timeBlock,
		Status:     models.HistoryStatusProcessing,
		SourcePath: sourcePath,
	}
	if err := s.repo.Create(ctx, entry); err != nil {
		return nil, fmt.Errorf("begin history entry: %w", err)
	}
	return &Run{svc: s, entry: entry}, nil
}

// Outcome carries the terminal state of a run.
type Outcome struct {
	Status           string
	RecordsProcessed int
	RecordsSkipped   int
	LogText          string
	WorkingPath      string
	ArchivedPath     string
	ErrorMessage     string
}

// Finalize persists the run's outcome. The first call wins; subsequent
// calls are no-ops so the entry is never mutated after finalization.
// Persistence failures are logged, not returned - finalization runs in
// deferred paths where there is no one left to handle an error.
func (r *Run) Finalize(ctx context.Context, outcome Outcome) {
	r.mu.Lock()
	if r.finalized {
		r.mu.Unlock()
		return
	}
	r.finalized = true
	r.mu.Unlock()

	r.entry.Status = outcome.Status
	r.entry.RecordsProcessed = outcome.RecordsProcessed
	r.entry.RecordsSkipped = outcome.RecordsSkipped
	r.entry.LogText = outcome.LogText
	r.entry.WorkingPath = outcome.WorkingPath
	r.entry.ArchivedPath = outcome.ArchivedPath
	r.entry.ErrorMessage = outcome.ErrorMessage

	if err := r.svc.repo.Finalize(ctx, r.entry); err != nil {
		r.svc.logger.Error("Failed to finalize history entry",
			zap.String("file", r.entry.FileName),
			zap.String("status", outcome.Status),
			zap.Error(err))
	}
}

// Entry returns the underlying history entry.
func (r *Run) Entry() *models.ProcessingHistory {
	return r.entry
}
