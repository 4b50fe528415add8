package analyses

import (
	"context"
	"errors"
	"io"
	"time"
)

// ErrNotFound is returned when a record or job handle does not resolve.
var ErrNotFound = errors.New("not found")

// ErrQueueUnavailable classifies an enqueue attempt that could not reach
// the broker. Callers branch on this value to run the synchronous fallback.
var ErrQueueUnavailable = errors.New("work queue unavailable")

// Repository port (interface untuk persistence)
type Repository interface {
	Save(ctx context.Context, a *Analysis) error
	Get(ctx context.Context, id AnalysisID) (*Analysis, error)
	ListByUser(ctx context.Context, userID int64, page, pageSize int) ([]*Analysis, error)
	Recent(ctx context.Context, userID int64, limit int) ([]*Analysis, error)
	Delete(ctx context.Context, userID int64, id AnalysisID) error
	Count(ctx context.Context) (int, error)
	CountSince(ctx context.Context, since time.Time) (int, error)
}

// ObjectRepository reads detected objects for an analysis. Nothing in the
// active workflow writes them.
type ObjectRepository interface {
	ListByAnalysis(ctx context.Context, id AnalysisID) ([]*DetectedObject, error)
}

// ErrorRepository persists unit-of-work failures.
type ErrorRepository interface {
	Save(ctx context.Context, e *ProcessingError) error
	Count(ctx context.Context) (int, error)
}

// ImageStore port (interface untuk penyimpanan gambar)
type ImageStore interface {
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) (string, error)
	Fetch(ctx context.Context, key string) ([]byte, error)
	URL(key string) string
}

// Task is the unit of work's typed input: invokable identically from the
// async worker pool and the synchronous fallback path.
type Task struct {
	JobID     string  `json:"job_id"`
	ImageKey  string  `json:"image_key"`
	QueryText string  `json:"query_text,omitempty"`
	UserID    *int64  `json:"user_id,omitempty"`
	Enqueued  float64 `json:"enqueued_at,omitempty"`
}

// JobState is what the poller reports for a handle.
type JobState struct {
	Status   JobStatus
	RecordID AnalysisID
	Error    string
}

// Queue port: submit a task, poll its state. Enqueue returns
// ErrQueueUnavailable when the broker cannot be reached.
type Queue interface {
	Enqueue(ctx context.Context, t Task) (string, error)
	Status(ctx context.Context, jobID string) (JobState, error)
}
