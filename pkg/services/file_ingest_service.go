package services

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/clearbook/intake-engine/pkg/config"
	"github.com/clearbook/intake-engine/pkg/database"
	"github.com/clearbook/intake-engine/pkg/detect"
	"github.com/clearbook/intake-engine/pkg/logging"
	"github.com/clearbook/intake-engine/pkg/models"
	"github.com/clearbook/intake-engine/pkg/repositories"
	"github.com/clearbook/intake-engine/pkg/schema"
)

// timeBlockLayout labels a run with its wall-clock start, used to
// namespace the working copy and correlate log lines.
const timeBlockLayout = "20060102_150405"

// AggregateApplier is the aggregate surface the ingest run depends on.
// Satisfied by *CompanyAggregateService.
type AggregateApplier interface {
	ApplyFileOccurrences(ctx context.Context, companyCodes []string) (int, error)
}

// FileIngestService runs the end-to-end pipeline for one file: detect
// delimiter and headers, reconcile schema, stream rows into batches,
// apply aggregate updates, archive the file, and finalize the run's
// history entry.
type FileIngestService struct {
	db         *database.DB
	records    repositories.RecordRepository
	snapshot   *schema.Snapshot
	reconciler *schema.Reconciler
	aggregates AggregateApplier
	audit      AuditService
	history    *HistoryService

	intake        config.IntakeConfig
	requireAtomic bool
	logger        *zap.Logger
	now           func() time.Time
}

// NewFileIngestService creates a new FileIngestService.
// db may be nil in tests; it is only used when requireAtomic is set.
func NewFileIngestService(
	db *database.DB,
	records repositories.RecordRepository,
	snapshot *schema.Snapshot,
	reconciler *schema.Reconciler,
	aggregates AggregateApplier,
	audit AuditService,
	history *HistoryService,
	intake config.IntakeConfig,
	requireAtomic bool,
	logger *zap.Logger,
) *FileIngestService {
	return &FileIngestService{
		db:            db,
		records:       records,
		snapshot:      snapshot,
		reconciler:    reconciler,
		aggregates:    aggregates,
		audit:         audit,
		history:       history,
		intake:        intake,
		requireAtomic: requireAtomic,
		logger:        logger.Named("file-ingest"),
		now:           time.Now,
	}
}

// ProcessFile ingests one file. All per-row and per-column failures are
// absorbed and summarized; only run-level structural failures are
// returned. Whatever happens, exactly one history entry is finalized.
func (s *FileIngestService) ProcessFile(ctx context.Context, sourcePath string) (err error) {
	fileName := filepath.Base(sourcePath)
	timeBlock := s.now().Format(timeBlockLayout)

	runLog := logging.NewRunLog()
	logger := runLog.Attach(s.logger).With(
		zap.String("file", fileName),
		zap.String("time_block", timeBlock))

	run, herr := s.history.Begin(ctx, fileName, timeBlock, sourcePath)
	if herr != nil {
		// Without a history entry there is nothing to finalize; this is
		// the one failure mode that escapes before the run exists.
		return herr
	}

	var (
		writer       *BatchWriter
		workingPath  string
		archivedPath string
		warnings     bool
	)

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic during ingest of %s: %v", fileName, r)
			logger.Error("run panicked", zap.Any("panic", r))
		}

		outcome := Outcome{
			Status:       models.HistoryStatusSuccess,
			LogText:      runLog.Text(),
			WorkingPath:  workingPath,
			ArchivedPath: archivedPath,
		}
		if writer != nil {
			outcome.RecordsProcessed = writer.Processed()
			outcome.RecordsSkipped = writer.Skipped()
		}
		switch {
		case err != nil:
			outcome.Status = models.HistoryStatusError
			outcome.ErrorMessage = err.Error()
		case warnings:
			outcome.Status = models.HistoryStatusPartial
		}

		// Finalization must run on every exit path; use a context that
		// survives run cancellation.
		finalizeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		run.Finalize(finalizeCtx, outcome)
	}()

	// Work on a copy so the inbox file stays untouched until archival.
	workingPath = filepath.Join(s.intake.WorkDir, timeBlock+"_"+fileName)
	if err = copyFile(sourcePath, workingPath); err != nil {
		return fmt.Errorf("failed to stage working copy: %w", err)
	}

	delim, headers := detect.File(workingPath)
	logger.Info("detected delimiter",
		zap.String("delimiter", delimiterLabel(delim)),
		zap.Int("columns", len(headers)))
	if len(headers) == 0 {
		err = fmt.Errorf("no header row in %s", fileName)
		return err
	}
	logger.Info("detected columns", zap.Strings("headers", headers))

	// Fresh snapshot per run; never act on stale schema.
	if err = s.snapshot.Refresh(ctx); err != nil {
		return err
	}

	recon, rerr := s.reconciler.EnsureColumns(ctx, headers)
	if rerr != nil {
		err = rerr
		return err
	}
	if recon.Changed() {
		logger.Info("schema changes applied", zap.Strings("added_columns", recon.Added))
	}
	if len(recon.Failed) > 0 {
		warnings = true
		logger.Warn("columns rejected by store, their values are dropped for this run",
			zap.Strings("columns", recon.Failed))
	}

	writer = NewBatchWriter(s.db, s.records, s.audit, s.snapshot, s.intake.BatchSize, fileName, timeBlock, s.requireAtomic, logger)

	if err = s.streamRows(ctx, workingPath, delim, headers, writer, logger); err != nil {
		return err
	}
	if err = writer.Flush(ctx); err != nil {
		return err
	}
	logger.Info("rows written",
		zap.Int("processed", writer.Processed()),
		zap.Int("skipped", writer.Skipped()),
		zap.Int("batches", writer.Batches()))
	if writer.Skipped() > 0 {
		warnings = true
	}

	updated, aerr := s.aggregates.ApplyFileOccurrences(ctx, writer.CompanyCodes())
	if aerr != nil {
		// Fatal for the run's aggregate phase; records already written
		// are not rolled back.
		err = aerr
		return err
	}
	logger.Info("aggregate updates applied", zap.Int("companies", updated))

	archivedPath = filepath.Join(s.intake.ArchiveDir, timeBlock+"_"+fileName)
	if err = moveFile(sourcePath, archivedPath); err != nil {
		return fmt.Errorf("failed to archive source file: %w", err)
	}
	if rmErr := os.Remove(workingPath); rmErr != nil {
		logger.Warn("failed to remove working copy", zap.Error(rmErr))
	}
	logger.Info("file archived", zap.String("archived_path", archivedPath))

	return nil
}

// streamRows feeds the file's data rows to the writer in file order.
// Unparseable rows are skipped and logged with their ordinal; a
// cancellation signal is honored at batch boundaries so the batch in
// flight always completes.
func (s *FileIngestService) streamRows(ctx context.Context, path string, delim rune, headers []string, writer *BatchWriter, logger *zap.Logger) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open working copy: %w", err)
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.Comma = delim
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	// Header row.
	if _, err := reader.Read(); err != nil {
		return fmt.Errorf("failed to re-read header: %w", err)
	}

	ordinal := 0
	for {
		if ordinal > 0 && ordinal%writer.batchSize == 0 {
			if cerr := ctx.Err(); cerr != nil {
				return fmt.Errorf("run cancelled after %d rows: %w", ordinal, cerr)
			}
		}

		cells, rerr := reader.Read()
		if rerr == io.EOF {
			return nil
		}
		ordinal++
		if rerr != nil {
			var parseErr *csv.ParseError
			if errors.As(rerr, &parseErr) {
				writer.Skip(ordinal, rerr.Error())
				continue
			}
			return fmt.Errorf("failed reading row %d: %w", ordinal, rerr)
		}

		if err := writer.Add(ctx, ordinal, headers, cells); err != nil {
			return err
		}
	}
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Sync()
}

// moveFile renames when possible and falls back to copy+remove across
// filesystems.
func moveFile(src, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	if err := os.Rename(src, dst); err == nil {
		return nil
	}
	if err := copyFile(src, dst); err != nil {
		return err
	}
	return os.Remove(src)
}

func delimiterLabel(delim rune) string {
	switch delim {
	case '\t':
		return "tab"
	default:
		return strings.TrimSpace(string(delim))
	}
}
