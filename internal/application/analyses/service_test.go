package analyses

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	accdomain "github.com/putuastawa/visioncap/internal/domain/accounts"
	domain "github.com/putuastawa/visioncap/internal/domain/analyses"
	"github.com/putuastawa/visioncap/internal/logger"
)

//
// ==== FAKES ====
//

type memRepo struct {
	records map[domain.AnalysisID]*domain.Analysis
}

func newMemRepo() *memRepo {
	return &memRepo{records: map[domain.AnalysisID]*domain.Analysis{}}
}

func (r *memRepo) Save(ctx context.Context, a *domain.Analysis) error {
	cp := *a
	r.records[a.ID] = &cp
	return nil
}

func (r *memRepo) Get(ctx context.Context, id domain.AnalysisID) (*domain.Analysis, error) {
	a, ok := r.records[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return a, nil
}

func (r *memRepo) ListByUser(ctx context.Context, userID int64, page, pageSize int) ([]*domain.Analysis, error) {
	var out []*domain.Analysis
	for _, a := range r.records {
		if a.UserID != nil && *a.UserID == userID {
			out = append(out, a)
		}
	}
	return out, nil
}

func (r *memRepo) Recent(ctx context.Context, userID int64, limit int) ([]*domain.Analysis, error) {
	return r.ListByUser(ctx, userID, 1, limit)
}

func (r *memRepo) Delete(ctx context.Context, userID int64, id domain.AnalysisID) error {
	a, ok := r.records[id]
	if !ok || a.UserID == nil || *a.UserID != userID {
		return domain.ErrNotFound
	}
	delete(r.records, id)
	return nil
}

func (r *memRepo) Count(ctx context.Context) (int, error) { return len(r.records), nil }

func (r *memRepo) CountSince(ctx context.Context, since time.Time) (int, error) {
	n := 0
	for _, a := range r.records {
		if !a.UploadDate.Before(since) {
			n++
		}
	}
	return n, nil
}

type memObjects struct{}

func (memObjects) ListByAnalysis(ctx context.Context, id domain.AnalysisID) ([]*domain.DetectedObject, error) {
	return nil, nil
}

type memErrors struct {
	saved []*domain.ProcessingError
}

func (e *memErrors) Save(ctx context.Context, p *domain.ProcessingError) error {
	e.saved = append(e.saved, p)
	return nil
}

func (e *memErrors) Count(ctx context.Context) (int, error) { return len(e.saved), nil }

type memStore struct {
	blobs map[string][]byte
}

func newMemStore() *memStore { return &memStore{blobs: map[string][]byte{}} }

func (s *memStore) Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) (string, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	s.blobs[key] = data
	return s.URL(key), nil
}

func (s *memStore) Fetch(ctx context.Context, key string) ([]byte, error) {
	data, ok := s.blobs[key]
	if !ok {
		return nil, fmt.Errorf("no such key %q", key)
	}
	return data, nil
}

func (s *memStore) URL(key string) string { return "http://blobs.local/" + key }

type fakeQueue struct {
	enqueueErr error
	enqueued   []domain.Task
	states     map[string]domain.JobState
}

func (q *fakeQueue) Enqueue(ctx context.Context, t domain.Task) (string, error) {
	if q.enqueueErr != nil {
		return "", q.enqueueErr
	}
	if t.JobID == "" {
		t.JobID = fmt.Sprintf("job-%d", len(q.enqueued)+1)
	}
	q.enqueued = append(q.enqueued, t)
	return t.JobID, nil
}

func (q *fakeQueue) Status(ctx context.Context, jobID string) (domain.JobState, error) {
	st, ok := q.states[jobID]
	if !ok {
		return domain.JobState{}, domain.ErrNotFound
	}
	return st, nil
}

type fakeVision struct {
	captionErr error
	queryErr   error
	questions  []string
}

func (v *fakeVision) ShortCaption(ctx context.Context, jpegData []byte) (string, error) {
	if v.captionErr != nil {
		return "", v.captionErr
	}
	return "a tabby cat", nil
}

func (v *fakeVision) NormalCaption(ctx context.Context, jpegData []byte) (string, error) {
	return "a tabby cat resting on a windowsill", nil
}

func (v *fakeVision) AnswerQuery(ctx context.Context, jpegData []byte, question string) (string, error) {
	if v.queryErr != nil {
		return "", v.queryErr
	}
	v.questions = append(v.questions, question)
	return "It looks like a tabby.", nil
}

type memUsers struct {
	users map[int64]*accdomain.User
}

func (u *memUsers) Create(ctx context.Context, usr *accdomain.User) error { return nil }

func (u *memUsers) ByID(ctx context.Context, id int64) (*accdomain.User, error) {
	usr, ok := u.users[id]
	if !ok {
		return nil, accdomain.ErrNotFound
	}
	return usr, nil
}

func (u *memUsers) ByUsername(ctx context.Context, username string) (*accdomain.User, error) {
	return nil, accdomain.ErrNotFound
}

func (u *memUsers) SaveProfile(ctx context.Context, p *accdomain.Profile) error { return nil }

func (u *memUsers) ProfileByUser(ctx context.Context, userID int64) (*accdomain.Profile, error) {
	return nil, accdomain.ErrNotFound
}

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

// pngPixel is a 1x1 png, enough for the decode step of the unit of work.
var pngPixel = []byte{
	0x89, 0x50, 0x4e, 0x47, 0x0d, 0x0a, 0x1a, 0x0a, 0x00, 0x00, 0x00, 0x0d,
	0x49, 0x48, 0x44, 0x52, 0x00, 0x00, 0x00, 0x01, 0x00, 0x00, 0x00, 0x01,
	0x08, 0x02, 0x00, 0x00, 0x00, 0x90, 0x77, 0x53, 0xde, 0x00, 0x00, 0x00,
	0x0c, 0x49, 0x44, 0x41, 0x54, 0x08, 0xd7, 0x63, 0xf8, 0xcf, 0xc0, 0x00,
	0x00, 0x03, 0x01, 0x01, 0x00, 0x18, 0xdd, 0x8d, 0xb0, 0x00, 0x00, 0x00,
	0x00, 0x49, 0x45, 0x4e, 0x44, 0xae, 0x42, 0x60, 0x82,
}

func newService(q *fakeQueue, v *fakeVision) (*Service, *memRepo, *memErrors, *memStore) {
	repo := newMemRepo()
	errs := &memErrors{}
	store := newMemStore()
	svc := &Service{
		Repo:    repo,
		Objects: memObjects{},
		Errors:  errs,
		Images:  store,
		Queue:   q,
		Vision:  v,
		Users:   &memUsers{users: map[int64]*accdomain.User{7: {ID: 7, Username: "putu"}}},
		Clock:   fixedClock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)},
		Log:     logger.NewNop(),
	}
	return svc, repo, errs, store
}

//
// ==== SUBMIT ====
//

func TestSubmitEnqueuesAndReturnsHandle(t *testing.T) {
	q := &fakeQueue{}
	svc, _, _, store := newService(q, &fakeVision{})

	userID := int64(7)
	out, err := svc.Submit(context.Background(), SubmitCommand{
		ImageData: pngPixel,
		Filename:  "cat.jpg",
		QueryText: "What breed is this cat?",
		UserID:    &userID,
	})
	require.NoError(t, err)
	assert.Equal(t, domain.JobProcessing, out.Status)
	assert.NotEmpty(t, out.JobID)
	assert.Nil(t, out.Record)

	require.Len(t, q.enqueued, 1)
	task := q.enqueued[0]
	assert.Equal(t, "What breed is this cat?", task.QueryText)
	require.NotNil(t, task.UserID)
	assert.Equal(t, int64(7), *task.UserID)
	assert.True(t, strings.HasPrefix(task.ImageKey, "uploads/"))
	assert.True(t, strings.HasSuffix(task.ImageKey, ".jpg"))

	// The upload is stored before the enqueue.
	_, err = store.Fetch(context.Background(), task.ImageKey)
	assert.NoError(t, err)
}

func TestSubmitRejectsEmptyImage(t *testing.T) {
	svc, _, _, _ := newService(&fakeQueue{}, &fakeVision{})
	_, err := svc.Submit(context.Background(), SubmitCommand{Filename: "cat.jpg"})
	require.Error(t, err)
}

func TestSubmitFallsBackWhenQueueUnavailable(t *testing.T) {
	q := &fakeQueue{enqueueErr: fmt.Errorf("%w: dial tcp refused", domain.ErrQueueUnavailable)}
	vis := &fakeVision{}
	svc, repo, _, _ := newService(q, vis)

	out, err := svc.Submit(context.Background(), SubmitCommand{
		ImageData: pngPixel,
		Filename:  "cat.png",
		QueryText: "What breed is this cat?",
	})
	require.NoError(t, err)
	assert.Equal(t, domain.JobCompleted, out.Status)
	assert.Empty(t, out.JobID, "fallback results carry no pollable handle")
	require.NotNil(t, out.Record)
	assert.Equal(t, "a tabby cat", out.Record.ShortCaption)
	require.NotNil(t, out.Record.QueryResult)
	assert.Equal(t, "It looks like a tabby.", *out.Record.QueryResult)

	assert.Len(t, repo.records, 1)
}

func TestSubmitDoesNotFallBackOnOtherEnqueueErrors(t *testing.T) {
	q := &fakeQueue{enqueueErr: errors.New("wrong type for list key")}
	svc, repo, _, _ := newService(q, &fakeVision{})

	_, err := svc.Submit(context.Background(), SubmitCommand{
		ImageData: pngPixel,
		Filename:  "cat.png",
	})
	require.Error(t, err)
	assert.Empty(t, repo.records)
}

func TestSubmitFallbackReportsFailureAsOutcome(t *testing.T) {
	q := &fakeQueue{enqueueErr: fmt.Errorf("%w: broker down", domain.ErrQueueUnavailable)}
	vis := &fakeVision{captionErr: errors.New("inference backend gone")}
	svc, repo, errs, _ := newService(q, vis)

	out, err := svc.Submit(context.Background(), SubmitCommand{
		ImageData: pngPixel,
		Filename:  "cat.png",
	})
	require.NoError(t, err, "a failed fallback is an outcome, not a transport error")
	assert.Equal(t, domain.JobFailed, out.Status)
	assert.Contains(t, out.Err, "inference backend gone")
	assert.Empty(t, repo.records)
	assert.Len(t, errs.saved, 1)
}

//
// ==== EXECUTE ====
//

func TestExecuteWithQueryFillsBothFields(t *testing.T) {
	vis := &fakeVision{}
	svc, repo, _, store := newService(&fakeQueue{}, vis)

	_, err := store.Put(context.Background(), "uploads/cat.png",
		strings.NewReader(string(pngPixel)), int64(len(pngPixel)), "image/png")
	require.NoError(t, err)

	userID := int64(7)
	id, err := svc.Execute(context.Background(), domain.Task{
		JobID:     "job-1",
		ImageKey:  "uploads/cat.png",
		QueryText: "  What breed is this cat?  ",
		UserID:    &userID,
	})
	require.NoError(t, err)

	rec := repo.records[id]
	require.NotNil(t, rec)
	assert.Equal(t, "a tabby cat", rec.ShortCaption)
	require.NotNil(t, rec.QueryText)
	assert.Equal(t, "What breed is this cat?", *rec.QueryText, "query is trimmed before inference")
	require.NotNil(t, rec.QueryResult)
	require.NotNil(t, rec.UserID)
	assert.Equal(t, int64(7), *rec.UserID)
	assert.Equal(t, "http://blobs.local/uploads/cat.png", rec.ImageURL)
	assert.Equal(t, []string{"What breed is this cat?"}, vis.questions)
}

func TestExecuteBlankQuerySkipsQuestionAnswering(t *testing.T) {
	vis := &fakeVision{}
	svc, repo, _, store := newService(&fakeQueue{}, vis)

	_, err := store.Put(context.Background(), "uploads/cat.png",
		strings.NewReader(string(pngPixel)), int64(len(pngPixel)), "image/png")
	require.NoError(t, err)

	id, err := svc.Execute(context.Background(), domain.Task{
		JobID:     "job-2",
		ImageKey:  "uploads/cat.png",
		QueryText: "   ",
	})
	require.NoError(t, err)

	rec := repo.records[id]
	require.NotNil(t, rec)
	assert.Nil(t, rec.QueryText)
	assert.Nil(t, rec.QueryResult)
	assert.Empty(t, vis.questions)
}

func TestExecuteUnknownUserLeavesRecordUnattributed(t *testing.T) {
	svc, repo, _, store := newService(&fakeQueue{}, &fakeVision{})

	_, err := store.Put(context.Background(), "uploads/cat.png",
		strings.NewReader(string(pngPixel)), int64(len(pngPixel)), "image/png")
	require.NoError(t, err)

	ghost := int64(404)
	id, err := svc.Execute(context.Background(), domain.Task{
		JobID:    "job-3",
		ImageKey: "uploads/cat.png",
		UserID:   &ghost,
	})
	require.NoError(t, err, "a stale user reference does not fail the job")
	assert.Nil(t, repo.records[id].UserID)
}

func TestExecuteFailureWritesNoRecordAndAuditsError(t *testing.T) {
	vis := &fakeVision{captionErr: errors.New("model crashed")}
	svc, repo, errs, store := newService(&fakeQueue{}, vis)

	_, err := store.Put(context.Background(), "uploads/cat.png",
		strings.NewReader(string(pngPixel)), int64(len(pngPixel)), "image/png")
	require.NoError(t, err)

	_, err = svc.Execute(context.Background(), domain.Task{
		JobID:    "job-4",
		ImageKey: "uploads/cat.png",
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "caption")
	assert.Empty(t, repo.records, "no partial record on failure")

	require.Len(t, errs.saved, 1)
	assert.Equal(t, "job-4", errs.saved[0].JobID)
	assert.Equal(t, "caption", errs.saved[0].Phase)
}

func TestExecuteMissingImageFailsInFetchPhase(t *testing.T) {
	svc, _, errs, _ := newService(&fakeQueue{}, &fakeVision{})

	_, err := svc.Execute(context.Background(), domain.Task{
		JobID:    "job-5",
		ImageKey: "uploads/gone.png",
	})
	require.Error(t, err)
	require.Len(t, errs.saved, 1)
	assert.Equal(t, "fetch", errs.saved[0].Phase)
}

//
// ==== POLLING ====
//

func TestCheckJobStates(t *testing.T) {
	q := &fakeQueue{states: map[string]domain.JobState{
		"done":    {Status: domain.JobCompleted, RecordID: "rec-1"},
		"broken":  {Status: domain.JobFailed, Error: "decode failed"},
		"running": {Status: domain.JobProcessing},
		"orphan":  {Status: domain.JobCompleted, RecordID: "rec-missing"},
	}}
	svc, repo, _, _ := newService(q, &fakeVision{})
	repo.records["rec-1"] = &domain.Analysis{ID: "rec-1", ShortCaption: "a tabby cat"}

	ctx := context.Background()

	res, err := svc.CheckJob(ctx, "done")
	require.NoError(t, err)
	assert.Equal(t, domain.JobCompleted, res.Status)
	require.NotNil(t, res.Record)
	assert.Equal(t, "a tabby cat", res.Record.ShortCaption)

	res, err = svc.CheckJob(ctx, "broken")
	require.NoError(t, err)
	assert.Equal(t, domain.JobFailed, res.Status)
	assert.Equal(t, "decode failed", res.Err)

	res, err = svc.CheckJob(ctx, "running")
	require.NoError(t, err)
	assert.Equal(t, domain.JobProcessing, res.Status)

	// Completed job whose record was deleted afterwards.
	res, err = svc.CheckJob(ctx, "orphan")
	require.NoError(t, err)
	assert.Equal(t, domain.JobFailed, res.Status)
	assert.Equal(t, "analysis not found", res.Err)

	_, err = svc.CheckJob(ctx, "never-seen")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

//
// ==== QUERIES & STATS ====
//

func TestDeleteEnforcesOwnership(t *testing.T) {
	svc, repo, _, _ := newService(&fakeQueue{}, &fakeVision{})
	owner := int64(7)
	repo.records["rec-1"] = &domain.Analysis{ID: "rec-1", UserID: &owner}

	err := svc.Delete(context.Background(), 99, "rec-1")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	err = svc.Delete(context.Background(), 7, "rec-1")
	assert.NoError(t, err)
	assert.Empty(t, repo.records)
}

func TestDashboardStats(t *testing.T) {
	svc, repo, errs, _ := newService(&fakeQueue{}, &fakeVision{})
	now := svc.Clock.Now()
	repo.records["old"] = &domain.Analysis{ID: "old", UploadDate: now.AddDate(0, 0, -30)}
	repo.records["new"] = &domain.Analysis{ID: "new", UploadDate: now.AddDate(0, 0, -1)}
	errs.saved = append(errs.saved, &domain.ProcessingError{JobID: "x", Phase: "caption"})

	stats, err := svc.DashboardStats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, stats.TotalAnalyses)
	assert.Equal(t, 1, stats.RecentAnalyses)
	assert.Equal(t, 1, stats.TotalFailures)
	assert.InDelta(t, 66.6, stats.SuccessRate, 0.1)
}

func TestDashboardStatsEmptySystem(t *testing.T) {
	svc, _, _, _ := newService(&fakeQueue{}, &fakeVision{})
	stats, err := svc.DashboardStats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 100.0, stats.SuccessRate)
}
