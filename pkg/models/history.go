package models

import (
	"time"

	"github.com/google/uuid"
)

// Processing history outcome statuses.
const (
	HistoryStatusProcessing = "processing"
	HistoryStatusSuccess    = "success"
	HistoryStatusError      = "error"
	HistoryStatusPartial    = "partial"
)

// ProcessingHistory summarizes one file-processing run.
// Stored in processing_history table. Created in "processing" status when
// the run starts and finalized exactly once regardless of outcome.
type ProcessingHistory struct {
	ID        uuid.UUID `json:"id"`
	FileName  string    `json:"file_name"`
	TimeBlock string    `json:"time_block"`
	Status    string    `json:"status"`

	RecordsProcessed int `json:"records_processed"`
	RecordsSkipped   int `json:"records_skipped"`

	LogText      string `json:"log_text"`
	SourcePath   string `json:"source_path"`
	WorkingPath  string `json:"working_path"`
	ArchivedPath string `json:"archived_path"`
	ErrorMessage string `json:"error_message,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	FinalizedAt *time.Time `json:"finalized_at,omitempty"`
}
