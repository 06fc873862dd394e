package model

import "time"

// SessionStatus tracks one ingestion batch through its lifecycle.
type SessionStatus string

const (
	SessionPending    SessionStatus = "pending"
	SessionProcessing SessionStatus = "processing"
	SessionCompleted  SessionStatus = "completed"
	SessionFailed     SessionStatus = "failed"
	SessionCancelled  SessionStatus = "cancelled"
)

// Terminal reports whether the session can no longer change.
func (s SessionStatus) Terminal() bool {
	return s == SessionCompleted || s == SessionFailed || s == SessionCancelled
}

// FileStatus tracks a single file within an upload session. Partial
// failures are recorded per-file, not session-wide.
type FileStatus string

const (
	FilePending    FileStatus = "pending"
	FileProcessing FileStatus = "processing"
	FileCompleted  FileStatus = "completed"
	FileFailed     FileStatus = "failed"
)

// FileRecord is the per-file entry of an upload session.
type FileRecord struct {
	FileRef       string     `json:"file_ref"`
	SourceType    SourceType `json:"source_type"`
	SizeBytes     int        `json:"size_bytes"`
	Status        FileStatus `json:"status"`
	ChunksCreated int        `json:"chunks_created"`
	Error         string     `json:"error,omitempty"`
}

// UploadSession tracks one ingestion batch. Append-only until a terminal
// status; already-written chunks of a cancelled session are not rolled
// back.
type UploadSession struct {
	SessionID          string        `json:"session_id"`
	Namespace          Namespace     `json:"namespace"`
	Files              []FileRecord  `json:"files"`
	Status             SessionStatus `json:"status"`
	TotalChunksCreated int           `json:"total_chunks_created"`
	StartedAt          time.Time     `json:"started_at"`
	CompletedAt        *time.Time    `json:"completed_at,omitempty"`
}

// Summary aggregates per-file outcomes for audit and UI reporting.
type SessionSummary struct {
	TotalFiles     int      `json:"total_files"`
	CompletedFiles int      `json:"completed_files"`
	FailedFiles    int      `json:"failed_files"`
	TotalChunks    int      `json:"total_chunks"`
	Errors         []string `json:"errors,omitempty"`
}

// Summarize computes the session summary from the file records.
func (s *UploadSession) Summarize() SessionSummary {
	sum := SessionSummary{TotalFiles: len(s.Files), TotalChunks: s.TotalChunksCreated}
	for _, f := range s.Files {
		switch f.Status {
		case FileCompleted:
			sum.CompletedFiles++
		case FileFailed:
			sum.FailedFiles++
			if f.Error != "" {
				sum.Errors = append(sum.Errors, f.FileRef+": "+f.Error)
			}
		}
	}
	return sum
}
