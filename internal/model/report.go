package model

import "time"

type ReportStatus string

const (
	ReportStatusPending   ReportStatus = "pending"
	ReportStatusUploading ReportStatus = "uploading"
	ReportStatusCompleted ReportStatus = "completed"
	ReportStatusFailed    ReportStatus = "failed"
)

// ReportUpload tracks one CSV export pushed to object storage.
type ReportUpload struct {
	ID           int64        `json:"id"`
	Year         int          `json:"year"`
	Month        int          `json:"month"`
	Archived     bool         `json:"archived"`
	Filename     string       `json:"filename"`
	S3Key        string       `json:"s3_key"`
	Encrypted    bool         `json:"encrypted"`
	RowCount     int          `json:"row_count"`
	SizeBytes    int64        `json:"size_bytes"`
	Status       ReportStatus `json:"status"`
	ErrorMessage string       `json:"error_message,omitempty"`
	CompletedAt  *time.Time   `json:"completed_at,omitempty"`
	CreatedAt    time.Time    `json:"created_at"`
	UpdatedAt    time.Time    `json:"updated_at"`
}
