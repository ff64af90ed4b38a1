package services

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/clearbook/intake-engine/pkg/repositories"
)

// FileProcessor is the run surface the worker drives.
// Satisfied by *FileIngestService.
type FileProcessor interface {
	ProcessFile(ctx context.Context, path string) error
}

// IntakeWorker serializes file processing: producers (watchers, the
// periodic inbox scan) enqueue paths into a bounded channel and a single
// consumer goroutine drains it, so at most one file is processed at a
// time system-wide. That keeps schema alterations and aggregate updates
// from racing across concurrent runs.
//
// Processing errors are logged, never propagated back to producers; a
// failed run is visible through its history entry.
type IntakeWorker struct {
	processor FileProcessor
	markers   repositories.FileMarkerStore
	logger    *zap.Logger

	jobs chan string
	done chan struct{}
}

// NewIntakeWorker creates a worker with the given queue depth.
func NewIntakeWorker(processor FileProcessor, markers repositories.FileMarkerStore, queueDepth int, logger *zap.Logger) *IntakeWorker {
	if queueDepth <= 0 {
		queueDepth = 64
	}
	return &IntakeWorker{
		processor: processor,
		markers:   markers,
		logger:    logger.Named("intake-worker"),
		jobs:      make(chan string, queueDepth),
		done:      make(chan struct{}),
	}
}

// Enqueue offers one file path to the worker. It blocks while the queue
// is full and returns the context error if the caller is cancelled first.
func (w *IntakeWorker) Enqueue(ctx context.Context, path string) error {
	select {
	case w.jobs <- path:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// EnqueueDir scans a directory (the periodic re-scan path) and enqueues
// every regular file not already marked as processed.
func (w *IntakeWorker) EnqueueDir(ctx context.Context, dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("failed to scan inbox %s: %w", dir, err)
	}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()

		seen, merr := w.markers.Seen(ctx, name)
		if merr != nil {
			w.logger.Warn("marker store unavailable, enqueueing anyway",
				zap.String("file", name),
				zap.Error(merr))
		}
		if seen {
			continue
		}

		if err := w.Enqueue(ctx, filepath.Join(dir, name)); err != nil {
			return err
		}
	}
	return nil
}

// Run drains the queue until the context is cancelled. Cancellation is
// cooperative: it is checked between files, and a run already in progress
// finishes its current batch before the ingest loop honors it.
func (w *IntakeWorker) Run(ctx context.Context) {
	defer close(w.done)

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("intake worker stopping", zap.Error(ctx.Err()))
			return
		case path := <-w.jobs:
			w.processOne(ctx, path)
		}
	}
}

func (w *IntakeWorker) processOne(ctx context.Context, path string) {
	name := filepath.Base(path)

	seen, err := w.markers.Seen(ctx, name)
	if err != nil {
		w.logger.Warn("marker check failed, processing anyway",
			zap.String("file", name),
			zap.Error(err))
	}
	if seen {
		w.logger.Debug("file already processed, skipping", zap.String("file", name))
		return
	}

	w.logger.Info("processing file", zap.String("path", path))
	start := time.Now()

	if err := w.processor.ProcessFile(ctx, path); err != nil {
		w.logger.Error("file run failed",
			zap.String("file", name),
			zap.Duration("elapsed", time.Since(start)),
			zap.Error(err))
		return
	}

	if err := w.markers.Mark(ctx, name, time.Now()); err != nil {
		w.logger.Warn("failed to mark file as processed",
			zap.String("file", name),
			zap.Error(err))
	}
	w.logger.Info("file run complete",
		zap.String("file", name),
		zap.Duration("elapsed", time.Since(start)))
}

// Done is closed when Run has returned.
func (w *IntakeWorker) Done() <-chan struct{} {
	return w.done
}
