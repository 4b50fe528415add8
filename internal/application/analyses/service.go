package analyses

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/putuastawa/visioncap/internal/application"
	accdomain "github.com/putuastawa/visioncap/internal/domain/accounts"
	domain "github.com/putuastawa/visioncap/internal/domain/analyses"
	"github.com/putuastawa/visioncap/internal/imaging"
	"github.com/putuastawa/visioncap/internal/logger"
)

// VisionHandler is the model-facing surface the unit of work needs.
type VisionHandler interface {
	ShortCaption(ctx context.Context, jpegData []byte) (string, error)
	NormalCaption(ctx context.Context, jpegData []byte) (string, error)
	AnswerQuery(ctx context.Context, jpegData []byte, question string) (string, error)
}

// Service implements use-cases untuk image analysis.
// Safe for concurrent use; all dependencies are injected.
type Service struct {
	Repo    domain.Repository
	Objects domain.ObjectRepository
	Errors  domain.ErrorRepository
	Images  domain.ImageStore
	Queue   domain.Queue
	Vision  VisionHandler
	Users   accdomain.Repository
	Clock   application.Clock
	Log     *logger.Logger
}

//
// ==== USE CASES ====
//

// SubmitCommand captures one upload request.
type SubmitCommand struct {
	ImageData   []byte
	Filename    string
	ContentType string
	QueryText   string
	UserID      *int64
}

// SubmitOutcome is the typed result of the queue-or-fallback dispatch:
// either an enqueued job handle, or a terminal result from the synchronous
// fallback path.
type SubmitOutcome struct {
	JobID  string
	Status domain.JobStatus
	Record *domain.Analysis
	Err    string
}

// Submit stores the image and dispatches the unit of work. The enqueue
// attempt uses a short connect timeout; a broker classified as unavailable
// runs the same unit of work synchronously in this call instead.
func (s *Service) Submit(ctx context.Context, cmd SubmitCommand) (SubmitOutcome, error) {
	if len(cmd.ImageData) == 0 {
		return SubmitOutcome{}, fmt.Errorf("no image file provided")
	}

	key := uploadKey(cmd.Filename)
	if _, err := s.Images.Put(ctx, key, bytes.NewReader(cmd.ImageData),
		int64(len(cmd.ImageData)), cmd.ContentType); err != nil {
		return SubmitOutcome{}, fmt.Errorf("store image: %w", err)
	}

	task := domain.Task{
		ImageKey:  key,
		QueryText: cmd.QueryText,
		UserID:    cmd.UserID,
	}

	jobID, err := s.Queue.Enqueue(ctx, task)
	if err == nil {
		return SubmitOutcome{JobID: jobID, Status: domain.JobProcessing}, nil
	}
	if !errors.Is(err, domain.ErrQueueUnavailable) {
		return SubmitOutcome{}, err
	}

	// Fallback: run the unit of work in the request itself. The client
	// waits for the full inference; availability over latency.
	s.Log.Warn("queue unavailable, processing synchronously", "err", err)
	task.JobID = uuid.New().String()
	recordID, execErr := s.Execute(ctx, task)
	if execErr != nil {
		return SubmitOutcome{Status: domain.JobFailed, Err: execErr.Error()}, nil
	}
	rec, err := s.Repo.Get(ctx, recordID)
	if err != nil {
		return SubmitOutcome{}, err
	}
	return SubmitOutcome{Status: domain.JobCompleted, Record: rec}, nil
}

// Execute runs one unit of work: decode, caption, optionally answer the
// query, resolve attribution, persist exactly one record. Any failure
// aborts the whole unit; no partial record is written. Invoked identically
// by the worker pool and the synchronous fallback.
func (s *Service) Execute(ctx context.Context, t domain.Task) (domain.AnalysisID, error) {
	log := s.Log.With("job_id", t.JobID, "image_key", t.ImageKey)

	raw, err := s.Images.Fetch(ctx, t.ImageKey)
	if err != nil {
		return "", s.fail(ctx, t, "fetch", err)
	}
	jpegData, err := imaging.ToJPEG(raw)
	if err != nil {
		return "", s.fail(ctx, t, "decode", err)
	}

	shortCaption, err := s.Vision.ShortCaption(ctx, jpegData)
	if err != nil {
		return "", s.fail(ctx, t, "caption", err)
	}

	var queryText, queryResult *string
	if q := strings.TrimSpace(t.QueryText); q != "" {
		answer, err := s.Vision.AnswerQuery(ctx, jpegData, q)
		if err != nil {
			return "", s.fail(ctx, t, "query", err)
		}
		queryText = &q
		queryResult = &answer
	}

	userID := t.UserID
	if userID != nil {
		if _, err := s.Users.ByID(ctx, *userID); err != nil {
			if !errors.Is(err, accdomain.ErrNotFound) {
				return "", s.fail(ctx, t, "user", err)
			}
			log.Warn("user not found, leaving analysis unattributed", "user_id", *userID)
			userID = nil
		}
	}

	a := &domain.Analysis{
		ID:           domain.AnalysisID(uuid.New().String()),
		ImageKey:     t.ImageKey,
		ImageURL:     s.Images.URL(t.ImageKey),
		UploadDate:   s.Clock.Now(),
		ShortCaption: shortCaption,
		QueryText:    queryText,
		QueryResult:  queryResult,
		UserID:       userID,
	}
	if err := s.Repo.Save(ctx, a); err != nil {
		return "", s.fail(ctx, t, "persist", err)
	}

	log.Info("analysis created", "record_id", a.ID)
	return a.ID, nil
}

// fail logs the failure, records it for auditing, and returns the error
// annotated with its phase.
func (s *Service) fail(ctx context.Context, t domain.Task, phase string, err error) error {
	s.Log.Error("unit of work failed", "job_id", t.JobID, "phase", phase, "err", err)
	perr := &domain.ProcessingError{
		JobID:     t.JobID,
		Phase:     phase,
		Message:   err.Error(),
		CreatedAt: s.Clock.Now(),
	}
	if saveErr := s.Errors.Save(ctx, perr); saveErr != nil {
		s.Log.Warn("could not persist processing error", "err", saveErr)
	}
	return fmt.Errorf("%s: %w", phase, err)
}

// JobResult is what the poller reports for a handle.
type JobResult struct {
	Status domain.JobStatus
	Record *domain.Analysis
	Err    string
}

// CheckJob resolves a job handle. Unknown or expired handles return
// domain.ErrNotFound.
func (s *Service) CheckJob(ctx context.Context, jobID string) (JobResult, error) {
	st, err := s.Queue.Status(ctx, jobID)
	if err != nil {
		return JobResult{}, err
	}
	switch st.Status {
	case domain.JobCompleted:
		rec, err := s.Repo.Get(ctx, st.RecordID)
		if errors.Is(err, domain.ErrNotFound) {
			return JobResult{Status: domain.JobFailed, Err: "analysis not found"}, nil
		}
		if err != nil {
			return JobResult{}, err
		}
		return JobResult{Status: domain.JobCompleted, Record: rec}, nil
	case domain.JobFailed:
		return JobResult{Status: domain.JobFailed, Err: st.Error}, nil
	default:
		return JobResult{Status: domain.JobProcessing}, nil
	}
}

// Get ambil 1 analysis by id, with its detected objects.
func (s *Service) Get(ctx context.Context, id domain.AnalysisID) (*domain.Analysis, []*domain.DetectedObject, error) {
	a, err := s.Repo.Get(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	objs, err := s.Objects.ListByAnalysis(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	return a, objs, nil
}

// ListByUser returns one page of the owner's analyses.
func (s *Service) ListByUser(ctx context.Context, userID int64, page, pageSize int) ([]*domain.Analysis, error) {
	return s.Repo.ListByUser(ctx, userID, page, pageSize)
}

// Recent returns the owner's latest analyses.
func (s *Service) Recent(ctx context.Context, userID int64, limit int) ([]*domain.Analysis, error) {
	return s.Repo.Recent(ctx, userID, limit)
}

// Delete removes an analysis owned by userID.
func (s *Service) Delete(ctx context.Context, userID int64, id domain.AnalysisID) error {
	if err := s.Repo.Delete(ctx, userID, id); err != nil {
		return err
	}
	s.Log.Info("analysis deleted", "record_id", id, "user_id", userID)
	return nil
}

// DashboardStats rekap untuk admin dashboard.
func (s *Service) DashboardStats(ctx context.Context) (*domain.DashboardStats, error) {
	total, err := s.Repo.Count(ctx)
	if err != nil {
		return nil, err
	}
	weekAgo := s.Clock.Now().AddDate(0, 0, -7)
	recent, err := s.Repo.CountSince(ctx, weekAgo)
	if err != nil {
		return nil, err
	}
	failures, err := s.Errors.Count(ctx)
	if err != nil {
		return nil, err
	}
	rate := 100.0
	if total+failures > 0 {
		rate = float64(total) / float64(total+failures) * 100
	}
	return &domain.DashboardStats{
		TotalAnalyses:  total,
		RecentAnalyses: recent,
		TotalFailures:  failures,
		SuccessRate:    rate,
	}, nil
}

func uploadKey(filename string) string {
	ext := strings.ToLower(path.Ext(filename))
	switch ext {
	case ".jpg", ".jpeg", ".png", ".gif", ".webp":
	default:
		ext = ".jpg"
	}
	return fmt.Sprintf("uploads/%s/%s%s",
		time.Now().UTC().Format("2006/01"), uuid.New().String(), ext)
}
