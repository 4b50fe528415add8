package httpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/putuastawa/visioncap/internal/application"
	appaccounts "github.com/putuastawa/visioncap/internal/application/accounts"
	appanalyses "github.com/putuastawa/visioncap/internal/application/analyses"
	accdomain "github.com/putuastawa/visioncap/internal/domain/accounts"
	domain "github.com/putuastawa/visioncap/internal/domain/analyses"
	"github.com/putuastawa/visioncap/internal/logger"
)

//
// ==== FAKES ====
//

type memUsers struct {
	nextID   int64
	users    map[int64]*accdomain.User
	profiles map[int64]*accdomain.Profile
}

func newMemUsers() *memUsers {
	return &memUsers{users: map[int64]*accdomain.User{}, profiles: map[int64]*accdomain.Profile{}}
}

func (m *memUsers) Create(ctx context.Context, u *accdomain.User) error {
	for _, existing := range m.users {
		if existing.Username == u.Username {
			return accdomain.ErrUsernameTaken
		}
	}
	m.nextID++
	u.ID = m.nextID
	cp := *u
	m.users[u.ID] = &cp
	return nil
}

func (m *memUsers) ByID(ctx context.Context, id int64) (*accdomain.User, error) {
	u, ok := m.users[id]
	if !ok {
		return nil, accdomain.ErrNotFound
	}
	return u, nil
}

func (m *memUsers) ByUsername(ctx context.Context, username string) (*accdomain.User, error) {
	for _, u := range m.users {
		if u.Username == username {
			return u, nil
		}
	}
	return nil, accdomain.ErrNotFound
}

func (m *memUsers) SaveProfile(ctx context.Context, p *accdomain.Profile) error {
	cp := *p
	m.profiles[p.UserID] = &cp
	return nil
}

func (m *memUsers) ProfileByUser(ctx context.Context, userID int64) (*accdomain.Profile, error) {
	p, ok := m.profiles[userID]
	if !ok {
		return nil, accdomain.ErrNotFound
	}
	return p, nil
}

type memRepo struct {
	records map[domain.AnalysisID]*domain.Analysis
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
	return len(r.records), nil
}

type memObjects struct{}

func (memObjects) ListByAnalysis(ctx context.Context, id domain.AnalysisID) ([]*domain.DetectedObject, error) {
	return nil, nil
}

type memErrors struct{ n int }

func (e *memErrors) Save(ctx context.Context, p *domain.ProcessingError) error {
	e.n++
	return nil
}
func (e *memErrors) Count(ctx context.Context) (int, error) { return e.n, nil }

type memStore struct{ blobs map[string][]byte }

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
	states     map[string]domain.JobState
	enqueued   int
}

func (q *fakeQueue) Enqueue(ctx context.Context, t domain.Task) (string, error) {
	if q.enqueueErr != nil {
		return "", q.enqueueErr
	}
	q.enqueued++
	return fmt.Sprintf("job-%d", q.enqueued), nil
}

func (q *fakeQueue) Status(ctx context.Context, jobID string) (domain.JobState, error) {
	st, ok := q.states[jobID]
	if !ok {
		return domain.JobState{}, domain.ErrNotFound
	}
	return st, nil
}

type fakeVision struct{}

func (fakeVision) ShortCaption(ctx context.Context, jpegData []byte) (string, error) {
	return "a tabby cat", nil
}

func (fakeVision) NormalCaption(ctx context.Context, jpegData []byte) (string, error) {
	return "a tabby cat on a sofa", nil
}

func (fakeVision) AnswerQuery(ctx context.Context, jpegData []byte, question string) (string, error) {
	return "It looks like a tabby.", nil
}

//
// ==== HARNESS ====
//

type harness struct {
	handler http.Handler
	queue   *fakeQueue
	repo    *memRepo
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	secret := []byte("test-secret")
	clock := application.SystemClock{}
	lg := logger.NewNop()

	users := newMemUsers()
	store := &memStore{blobs: map[string][]byte{}}
	queue := &fakeQueue{states: map[string]domain.JobState{}}
	repo := &memRepo{records: map[domain.AnalysisID]*domain.Analysis{}}

	analysesSvc := &appanalyses.Service{
		Repo:    repo,
		Objects: memObjects{},
		Errors:  &memErrors{},
		Images:  store,
		Queue:   queue,
		Vision:  fakeVision{},
		Users:   users,
		Clock:   clock,
		Log:     lg,
	}
	accountsSvc := &appaccounts.Service{
		Repo:     users,
		Pictures: store,
		Secret:   secret,
		TokenTTL: time.Hour,
		Clock:    clock,
		Log:      lg,
	}
	return &harness{
		handler: NewRouter(analysesSvc, accountsSvc, nil, secret, lg),
		queue:   queue,
		repo:    repo,
	}
}

func (h *harness) do(t *testing.T, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, req)
	return rec
}

func (h *harness) register(t *testing.T, username string) {
	t.Helper()
	body := fmt.Sprintf(`{"username":%q,"password":"s3cret-pass"}`, username)
	rec := h.do(t, httptest.NewRequest(http.MethodPost, "/auth/register", strings.NewReader(body)))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
}

func (h *harness) login(t *testing.T, username string) string {
	t.Helper()
	body := fmt.Sprintf(`{"username":%q,"password":"s3cret-pass"}`, username)
	rec := h.do(t, httptest.NewRequest(http.MethodPost, "/auth/login", strings.NewReader(body)))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var resp struct {
		Token string `json:"token"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.Token)
	return resp.Token
}

func pngBytes(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 2, 2))
	img.Set(0, 0, color.RGBA{R: 255, A: 255})
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func multipartImage(t *testing.T, queryText string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile("image", "cat.png")
	require.NoError(t, err)
	_, err = part.Write(pngBytes(t))
	require.NoError(t, err)
	if queryText != "" {
		require.NoError(t, w.WriteField("query_text", queryText))
	}
	require.NoError(t, w.Close())
	return &buf, w.FormDataContentType()
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

//
// ==== TESTS ====
//

func TestProtectedRoutesRequireToken(t *testing.T) {
	h := newHarness(t)
	for _, path := range []string{"/analyses", "/recent-analyses", "/profile", "/dashboard/stats"} {
		rec := h.do(t, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusUnauthorized, rec.Code, path)
	}
}

func TestRegisterThenLogin(t *testing.T) {
	h := newHarness(t)
	h.register(t, "putu")
	token := h.login(t, "putu")
	assert.NotEmpty(t, token)

	// Duplicate username answers 409.
	body := `{"username":"putu","password":"another-pass"}`
	rec := h.do(t, httptest.NewRequest(http.MethodPost, "/auth/register", strings.NewReader(body)))
	assert.Equal(t, http.StatusConflict, rec.Code)

	// Wrong password answers 401.
	body = `{"username":"putu","password":"wrong"}`
	rec = h.do(t, httptest.NewRequest(http.MethodPost, "/auth/login", strings.NewReader(body)))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestProcessImageQueued(t *testing.T) {
	h := newHarness(t)
	h.register(t, "putu")
	token := h.login(t, "putu")

	body, contentType := multipartImage(t, "What breed is this cat?")
	req := httptest.NewRequest(http.MethodPost, "/process-image/", body)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Authorization", "Bearer "+token)

	rec := h.do(t, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decode(t, rec)
	assert.Equal(t, "processing", resp["status"])
	assert.Equal(t, "job-1", resp["job_id"])
	assert.NotEmpty(t, resp["message"])
}

func TestProcessImageFallbackWhenQueueDown(t *testing.T) {
	h := newHarness(t)
	h.queue.enqueueErr = fmt.Errorf("%w: dial tcp refused", domain.ErrQueueUnavailable)
	h.register(t, "putu")
	token := h.login(t, "putu")

	body, contentType := multipartImage(t, "What breed is this cat?")
	req := httptest.NewRequest(http.MethodPost, "/process-image/", body)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Authorization", "Bearer "+token)

	rec := h.do(t, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decode(t, rec)
	assert.Equal(t, "completed", resp["status"])
	assert.Equal(t, "a tabby cat", resp["short_caption"])
	assert.Equal(t, "It looks like a tabby.", resp["query_result"])
	assert.Len(t, h.repo.records, 1)
}

func TestProcessImageWithoutFile(t *testing.T) {
	h := newHarness(t)
	h.register(t, "putu")
	token := h.login(t, "putu")

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	require.NoError(t, w.WriteField("query_text", "anything"))
	require.NoError(t, w.Close())

	req := httptest.NewRequest(http.MethodPost, "/process-image/", &buf)
	req.Header.Set("Content-Type", w.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+token)

	rec := h.do(t, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCheckJobLifecycle(t *testing.T) {
	h := newHarness(t)
	h.register(t, "putu")
	token := h.login(t, "putu")

	h.repo.records["rec-1"] = &domain.Analysis{ID: "rec-1", ShortCaption: "a tabby cat"}
	h.queue.states["running"] = domain.JobState{Status: domain.JobProcessing}
	h.queue.states["done"] = domain.JobState{Status: domain.JobCompleted, RecordID: "rec-1"}
	h.queue.states["broken"] = domain.JobState{Status: domain.JobFailed, Error: "decode failed"}

	get := func(jobID string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/check-job/"+jobID+"/", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		return h.do(t, req)
	}

	rec := get("running")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "processing", decode(t, rec)["status"])

	rec = get("done")
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode(t, rec)
	assert.Equal(t, "completed", resp["status"])
	assert.Equal(t, "a tabby cat", resp["short_caption"])

	rec = get("broken")
	require.Equal(t, http.StatusOK, rec.Code)
	resp = decode(t, rec)
	assert.Equal(t, "failed", resp["status"])
	assert.Equal(t, "decode failed", resp["error"])

	rec = get("never-seen")
	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "Job not found", decode(t, rec)["error"])
}

func TestAnalysesListAndDelete(t *testing.T) {
	h := newHarness(t)
	h.register(t, "putu")
	token := h.login(t, "putu")
	owner := int64(1)
	h.repo.records["rec-1"] = &domain.Analysis{ID: "rec-1", UserID: &owner, ShortCaption: "a tabby cat"}

	req := httptest.NewRequest(http.MethodGet, "/analyses", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := h.do(t, req)
	require.Equal(t, http.StatusOK, rec.Code)
	var list []map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list, 1)

	req = httptest.NewRequest(http.MethodGet, "/analyses/rec-1", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec = h.do(t, req)
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode(t, rec)
	assert.Contains(t, resp, "analysis")
	assert.Contains(t, resp, "detected_objects")

	req = httptest.NewRequest(http.MethodDelete, "/analyses/rec-1", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec = h.do(t, req)
	require.Equal(t, http.StatusOK, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/analyses/rec-1", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec = h.do(t, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestProfileRoundTrip(t *testing.T) {
	h := newHarness(t)
	h.register(t, "putu")
	token := h.login(t, "putu")

	req := httptest.NewRequest(http.MethodGet, "/profile", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := h.do(t, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	require.NoError(t, w.WriteField("bio", "cat person"))
	require.NoError(t, w.Close())

	req = httptest.NewRequest(http.MethodPut, "/profile", &buf)
	req.Header.Set("Content-Type", w.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+token)
	rec = h.do(t, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "cat person", decode(t, rec)["bio"])
}

func TestSpeechToTextDisabled(t *testing.T) {
	h := newHarness(t)
	h.register(t, "putu")
	token := h.login(t, "putu")

	req := httptest.NewRequest(http.MethodPost, "/speech-to-text/", strings.NewReader(`{"action":"status"}`))
	req.Header.Set("Authorization", "Bearer "+token)
	rec := h.do(t, req)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestDashboardStatsEndpoint(t *testing.T) {
	h := newHarness(t)
	h.register(t, "putu")
	token := h.login(t, "putu")

	req := httptest.NewRequest(http.MethodGet, "/dashboard/stats", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := h.do(t, req)
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode(t, rec)
	assert.Contains(t, resp, "total_analyses")
	assert.Contains(t, resp, "success_rate")
}
