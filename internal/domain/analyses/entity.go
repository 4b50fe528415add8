package analyses

import (
	"time"
)

// AnalysisID tipe untuk Analysis
type AnalysisID string

// JobStatus enum for the asynchronous processing workflow
type JobStatus string

const (
	JobProcessing JobStatus = "processing"
	JobCompleted  JobStatus = "completed"
	JobFailed     JobStatus = "failed"
)

// Aggregate Root: Analysis
// Immutable after creation except for deletion.
type Analysis struct {
	ID            AnalysisID `json:"id"`
	ImageKey      string     `json:"image_key"`
	ImageURL      string     `json:"image_url"`
	UploadDate    time.Time  `json:"upload_date"`
	ShortCaption  string     `json:"short_caption"`
	NormalCaption string     `json:"normal_caption,omitempty"`
	QueryText     *string    `json:"query_text,omitempty"`
	QueryResult   *string    `json:"query_result,omitempty"`
	UserID        *int64     `json:"user_id,omitempty"`
}

// HasQuery reports whether the analysis carries a query/answer pair.
// The pair is set together or not at all.
func (a *Analysis) HasQuery() bool {
	return a.QueryText != nil && a.QueryResult != nil
}

// Point is one corner of a bounding box, normalized to [0,1].
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// DetectedObject belongs to at most one Analysis. The active processing
// path never writes these rows; the table and read path are kept for the
// admin surface until object detection ships.
type DetectedObject struct {
	ID         int64       `json:"id"`
	AnalysisID *AnalysisID `json:"analysis_id,omitempty"`
	Label      string      `json:"label"`
	Confidence float64     `json:"confidence"`
	Min        Point       `json:"min"`
	Max        Point       `json:"max"`
}

// ProcessingError is a persisted record of a failed unit of work,
// used for auditing and dashboard success rates.
type ProcessingError struct {
	ID        int64     `json:"id"`
	JobID     string    `json:"job_id"`
	Phase     string    `json:"phase,omitempty"` // decode | caption | query | persist
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"created_at"`
}

// DashboardStats rekap untuk admin dashboard
type DashboardStats struct {
	TotalAnalyses  int     `json:"total_analyses"`
	RecentAnalyses int     `json:"recent_analyses"`
	TotalFailures  int     `json:"total_failures"`
	SuccessRate    float64 `json:"success_rate"`
}
