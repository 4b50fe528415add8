package httpserver

import (
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	appaccounts "github.com/putuastawa/visioncap/internal/application/accounts"
	appanalyses "github.com/putuastawa/visioncap/internal/application/analyses"
	accdomain "github.com/putuastawa/visioncap/internal/domain/accounts"
	domain "github.com/putuastawa/visioncap/internal/domain/analyses"
	"github.com/putuastawa/visioncap/internal/logger"
	"github.com/putuastawa/visioncap/internal/middleware"
	"github.com/putuastawa/visioncap/internal/stt"
)

type Router struct {
	analysesSvc *appanalyses.Service
	accountsSvc *appaccounts.Service
	recognizer  *stt.Recognizer // nil when the feature is disabled
	log         *logger.Logger
}

func NewRouter(analysesSvc *appanalyses.Service, accountsSvc *appaccounts.Service,
	recognizer *stt.Recognizer, jwtSecret []byte, log *logger.Logger) http.Handler {

	r := &Router{
		analysesSvc: analysesSvc,
		accountsSvc: accountsSvc,
		recognizer:  recognizer,
		log:         log,
	}
	mux := chi.NewRouter()

	mux.Post("/auth/register", r.wrap(r.handleRegister))
	mux.Post("/auth/login", r.wrap(r.handleLogin))

	mux.Group(func(rt chi.Router) {
		rt.Use(middleware.SessionAuth(jwtSecret))

		rt.Post("/process-image/", r.wrap(r.handleProcessImage))
		rt.Get("/check-job/{jobID}/", r.wrap(r.handleCheckJob))

		rt.Get("/analyses", r.wrap(r.handleList))
		rt.Get("/analyses/{id}", r.wrap(r.handleGet))
		rt.Delete("/analyses/{id}", r.wrap(r.handleDelete))
		rt.Get("/recent-analyses", r.wrap(r.handleRecent))
		rt.Get("/dashboard/stats", r.wrap(r.handleStats))

		rt.Get("/profile", r.wrap(r.handleProfileGet))
		rt.Put("/profile", r.wrap(r.handleProfileUpdate))

		rt.Post("/speech-to-text/", r.wrap(r.handleSpeechToText))
	})

	return mux
}

type handlerFunc func(http.ResponseWriter, *http.Request) error

// httpError carries a specific status code out of a handler.
type httpError struct {
	status int
	msg    string
}

func (e *httpError) Error() string { return e.msg }

func badRequest(msg string) error { return &httpError{status: http.StatusBadRequest, msg: msg} }

func (r *Router) wrap(h handlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		err := h(w, req)
		if err == nil {
			return
		}
		var he *httpError
		switch {
		case errors.As(err, &he):
			writeError(w, he.status, he.msg)
		case errors.Is(err, domain.ErrNotFound), errors.Is(err, accdomain.ErrNotFound),
			errors.Is(err, sql.ErrNoRows):
			writeError(w, http.StatusNotFound, "not found")
		case errors.Is(err, accdomain.ErrInvalidCredentials):
			writeError(w, http.StatusUnauthorized, err.Error())
		case errors.Is(err, accdomain.ErrUsernameTaken):
			writeError(w, http.StatusConflict, err.Error())
		case errors.Is(err, stt.ErrDisabled):
			writeError(w, http.StatusServiceUnavailable, err.Error())
		default:
			r.log.Error("request failed", "path", req.URL.Path, "err", err)
			writeError(w, http.StatusInternalServerError, err.Error())
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	return json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	_ = writeJSON(w, status, map[string]any{"error": msg})
}

//
// ==== AUTH ====
//

// POST /auth/register
func (r *Router) handleRegister(w http.ResponseWriter, req *http.Request) error {
	var body struct {
		Username string `json:"username"`
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		return badRequest("invalid JSON body")
	}
	u, err := r.accountsSvc.Register(req.Context(), body.Username, body.Email, body.Password)
	if err != nil {
		if errors.Is(err, accdomain.ErrUsernameTaken) {
			return err
		}
		return badRequest(err.Error())
	}
	return writeJSON(w, http.StatusCreated, map[string]any{
		"id":       u.ID,
		"username": u.Username,
		"message":  "Account created successfully! Please log in.",
	})
}

// POST /auth/login
func (r *Router) handleLogin(w http.ResponseWriter, req *http.Request) error {
	var body struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		return badRequest("invalid JSON body")
	}
	token, err := r.accountsSvc.Login(req.Context(), body.Username, body.Password)
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, map[string]any{"token": token})
}

//
// ==== IMAGE PROCESSING ====
//

// POST /process-image/
// Multipart form: "image" file plus optional "query_text". On a reachable
// queue the response carries a job handle to poll; when the broker is down
// the image is processed in this request and the final result is returned.
func (r *Router) handleProcessImage(w http.ResponseWriter, req *http.Request) error {
	if err := req.ParseMultipartForm(middleware.MaxImageBytes); err != nil {
		return badRequest("invalid multipart form")
	}
	file, header, err := req.FormFile("image")
	if err != nil {
		return badRequest("No image file provided")
	}
	defer file.Close()

	contentType := header.Header.Get("Content-Type")
	if err := middleware.ValidateImageUpload(header.Filename, header.Size, contentType); err != nil {
		return badRequest(err.Error())
	}
	data, err := io.ReadAll(file)
	if err != nil {
		return err
	}
	queryText, err := middleware.ValidateQueryText(req.FormValue("query_text"))
	if err != nil {
		return badRequest(err.Error())
	}

	cmd := appanalyses.SubmitCommand{
		ImageData:   data,
		Filename:    header.Filename,
		ContentType: contentType,
		QueryText:   queryText,
	}
	if userID, ok := middleware.UserIDFromContext(req.Context()); ok {
		cmd.UserID = &userID
	}

	middleware.IncrementJobs()
	outcome, err := r.analysesSvc.Submit(req.Context(), cmd)
	if err != nil {
		middleware.IncrementJobsFailed()
		return err
	}

	switch outcome.Status {
	case domain.JobProcessing:
		return writeJSON(w, http.StatusOK, map[string]any{
			"job_id":  outcome.JobID,
			"status":  "processing",
			"message": "Image uploaded and processing started",
		})
	case domain.JobCompleted:
		middleware.IncrementFallbackRuns()
		resp := analysisJSON(outcome.Record)
		resp["status"] = "completed"
		resp["message"] = "Image processed directly (queue unavailable)"
		return writeJSON(w, http.StatusOK, resp)
	default:
		middleware.IncrementJobsFailed()
		return writeJSON(w, http.StatusInternalServerError, map[string]any{
			"status": "failed",
			"error":  outcome.Err,
		})
	}
}

// GET /check-job/{jobID}/
func (r *Router) handleCheckJob(w http.ResponseWriter, req *http.Request) error {
	jobID := chi.URLParam(req, "jobID")
	if err := middleware.ValidateJobID(jobID); err != nil {
		return badRequest(err.Error())
	}

	res, err := r.analysesSvc.CheckJob(req.Context(), jobID)
	if errors.Is(err, domain.ErrNotFound) {
		return writeJSON(w, http.StatusNotFound, map[string]any{
			"status": "failed",
			"error":  "Job not found",
		})
	}
	if err != nil {
		return err
	}

	switch res.Status {
	case domain.JobCompleted:
		resp := analysisJSON(res.Record)
		resp["status"] = "completed"
		return writeJSON(w, http.StatusOK, resp)
	case domain.JobFailed:
		middleware.IncrementJobsFailed()
		return writeJSON(w, http.StatusOK, map[string]any{
			"status": "failed",
			"error":  res.Err,
		})
	default:
		return writeJSON(w, http.StatusOK, map[string]any{
			"status":  "processing",
			"message": "Image is still being processed",
		})
	}
}

//
// ==== ANALYSES ====
//

// GET /analyses?page=&page_size=
func (r *Router) handleList(w http.ResponseWriter, req *http.Request) error {
	userID, _ := middleware.UserIDFromContext(req.Context())
	page, _ := strconv.Atoi(req.URL.Query().Get("page"))
	size, _ := strconv.Atoi(req.URL.Query().Get("page_size"))

	list, err := r.analysesSvc.ListByUser(req.Context(), userID, page, size)
	if err != nil {
		return err
	}
	if list == nil {
		list = []*domain.Analysis{}
	}
	return writeJSON(w, http.StatusOK, list)
}

// GET /analyses/{id}
func (r *Router) handleGet(w http.ResponseWriter, req *http.Request) error {
	id := domain.AnalysisID(chi.URLParam(req, "id"))
	a, objects, err := r.analysesSvc.Get(req.Context(), id)
	if err != nil {
		return err
	}
	if objects == nil {
		objects = []*domain.DetectedObject{}
	}
	return writeJSON(w, http.StatusOK, map[string]any{
		"analysis":         a,
		"detected_objects": objects,
	})
}

// DELETE /analyses/{id}
func (r *Router) handleDelete(w http.ResponseWriter, req *http.Request) error {
	userID, _ := middleware.UserIDFromContext(req.Context())
	id := domain.AnalysisID(chi.URLParam(req, "id"))
	if err := r.analysesSvc.Delete(req.Context(), userID, id); err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, map[string]any{"message": "Analysis deleted successfully"})
}

// GET /recent-analyses
func (r *Router) handleRecent(w http.ResponseWriter, req *http.Request) error {
	userID, _ := middleware.UserIDFromContext(req.Context())
	list, err := r.analysesSvc.Recent(req.Context(), userID, 10)
	if err != nil {
		return err
	}
	if list == nil {
		list = []*domain.Analysis{}
	}
	return writeJSON(w, http.StatusOK, list)
}

// GET /dashboard/stats
func (r *Router) handleStats(w http.ResponseWriter, req *http.Request) error {
	stats, err := r.analysesSvc.DashboardStats(req.Context())
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, stats)
}

//
// ==== PROFILE ====
//

// GET /profile
func (r *Router) handleProfileGet(w http.ResponseWriter, req *http.Request) error {
	userID, _ := middleware.UserIDFromContext(req.Context())
	p, err := r.accountsSvc.Profile(req.Context(), userID)
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, p)
}

// PUT /profile, multipart form with "bio" and optional "picture" file
func (r *Router) handleProfileUpdate(w http.ResponseWriter, req *http.Request) error {
	userID, _ := middleware.UserIDFromContext(req.Context())
	if err := req.ParseMultipartForm(middleware.MaxImageBytes); err != nil {
		return badRequest("invalid multipart form")
	}
	bio := middleware.SanitizeString(req.FormValue("bio"))

	var pic *appaccounts.PictureUpload
	if file, header, err := req.FormFile("picture"); err == nil {
		defer file.Close()
		contentType := header.Header.Get("Content-Type")
		if verr := middleware.ValidateImageUpload(header.Filename, header.Size, contentType); verr != nil {
			return badRequest(verr.Error())
		}
		data, rerr := io.ReadAll(file)
		if rerr != nil {
			return rerr
		}
		pic = &appaccounts.PictureUpload{
			Data:        data,
			Filename:    header.Filename,
			ContentType: contentType,
		}
	}

	p, err := r.accountsSvc.UpdateProfile(req.Context(), userID, bio, pic)
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, p)
}

//
// ==== SPEECH TO TEXT ====
//

// POST /speech-to-text/
// Body: {"action": "start" | "stop" | "status"}
func (r *Router) handleSpeechToText(w http.ResponseWriter, req *http.Request) error {
	if r.recognizer == nil {
		return stt.ErrDisabled
	}

	var body struct {
		Action string `json:"action"`
	}
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		return badRequest("invalid JSON body")
	}

	switch body.Action {
	case "start":
		started, err := r.recognizer.Start()
		if err != nil {
			return err
		}
		if !started {
			return writeJSON(w, http.StatusOK, map[string]any{
				"status":  "error",
				"message": "Recording already in progress",
			})
		}
		return writeJSON(w, http.StatusOK, map[string]any{
			"status":  "recording",
			"message": "Recording started",
		})
	case "stop":
		text, err := r.recognizer.Stop(req.Context())
		if err != nil {
			return err
		}
		return writeJSON(w, http.StatusOK, map[string]any{
			"status": "success",
			"text":   text,
		})
	case "status":
		recording, text := r.recognizer.Status()
		status := "idle"
		if recording {
			status = "recording"
		}
		return writeJSON(w, http.StatusOK, map[string]any{
			"status": status,
			"text":   text,
		})
	default:
		return badRequest("Invalid action")
	}
}

// analysisJSON flattens a record into the polling/fallback response shape.
func analysisJSON(a *domain.Analysis) map[string]any {
	return map[string]any{
		"id":            a.ID,
		"image_url":     a.ImageURL,
		"short_caption": a.ShortCaption,
		"query_text":    a.QueryText,
		"query_result":  a.QueryResult,
	}
}
