package models

import "time"

// DownloadJob is an asynchronous download processed by the worker. The
// resulting file lands in object storage.
type DownloadJob struct {
	ID          string     `json:"id" db:"id"`
	URL         string     `json:"url" db:"url"`
	Format      string     `json:"format" db:"format"`
	Quality     string     `json:"quality" db:"quality"`
	Status      string     `json:"status" db:"status"`
	Progress    float64    `json:"progress" db:"progress"`
	ErrorMsg    string     `json:"error_msg,omitempty" db:"error_msg"`
	RetryCount  int        `json:"retry_count" db:"retry_count"`
	ObjectKey   string     `json:"object_key,omitempty" db:"object_key"`
	FileSize    int64      `json:"file_size,omitempty" db:"file_size"`
	Muxed       bool       `json:"muxed" db:"muxed"`
	CallbackURL string     `json:"callback_url,omitempty" db:"callback_url"`
	StartedAt   *time.Time `json:"started_at,omitempty" db:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty" db:"completed_at"`
	CreatedAt   time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at" db:"updated_at"`
}

// JobStatus constants
const (
	JobStatusQueued     = "queued"
	JobStatusProcessing = "processing"
	JobStatusCompleted  = "completed"
	JobStatusFailed     = "failed"
)

// IsTerminal reports whether the job reached a final state
func (j *DownloadJob) IsTerminal() bool {
	return j.Status == JobStatusCompleted || j.Status == JobStatusFailed
}

// CreateJobRequest is the body of POST /download/jobs
type CreateJobRequest struct {
	URL         string `json:"url" binding:"required"`
	Format      string `json:"format"`
	Quality     string `json:"quality"`
	CallbackURL string `json:"callbackUrl,omitempty"`
}

// Webhook event names
const (
	WebhookEventJobCompleted = "download.completed"
	WebhookEventJobFailed    = "download.failed"
)

// WebhookEvent is the payload delivered to a job's callback URL
type WebhookEvent struct {
	ID        string      `json:"id"`
	Event     string      `json:"event"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data"`
}
