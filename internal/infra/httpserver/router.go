package httpserver

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/gorilla/websocket"

	appanalysis "github.com/bryanwahyu/voiceguard/internal/application/analysis"
	domai "github.com/bryanwahyu/voiceguard/internal/domain/ai"
	domain "github.com/bryanwahyu/voiceguard/internal/domain/analysis"
	"github.com/bryanwahyu/voiceguard/internal/middleware"
)

// Options carries the transport-level settings of the router.
type Options struct {
	TempDir        string
	APIKeys        map[string]string
	RateCapacity   int
	RateRefill     int
	AllowedOrigins []string
	Checkers       map[string]middleware.HealthChecker
	Readiness      *middleware.Readiness
}

type Router struct {
	svc      *appanalysis.Service
	tempDir  string
	upgrader websocket.Upgrader
}

func NewRouter(svc *appanalysis.Service, opts Options) http.Handler {
	if opts.TempDir == "" {
		opts.TempDir = os.TempDir()
	}
	if opts.RateCapacity <= 0 {
		opts.RateCapacity = 60
	}
	if opts.RateRefill <= 0 {
		opts.RateRefill = 1
	}
	origins := opts.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	r := &Router{
		svc:     svc,
		tempDir: opts.TempDir,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(req *http.Request) bool { return originAllowed(origins, req.Header.Get("Origin")) },
		},
	}

	mux := chi.NewRouter()
	mux.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders: []string{"X-Request-ID", "Retry-After"},
		MaxAge:         300,
	}))
	mux.Use(middleware.LoggingMiddleware)
	mux.Use(middleware.MetricsMiddleware)
	mux.Use(middleware.APIKeyAuth(opts.APIKeys))
	mux.Use(middleware.RateLimitMiddleware(opts.RateCapacity, opts.RateRefill))

	mux.Get("/health", middleware.HealthHandler(opts.Checkers))
	mux.Get("/ready", opts.Readiness.Handler)
	mux.Get("/live", middleware.LivenessHandler)
	mux.Get("/metrics", middleware.MetricsHandler)

	mux.Route("/v1/{tenant}", func(rt chi.Router) {
		rt.Use(middleware.RequireValidTenant)

		rt.Post("/validate", r.wrap(r.handleValidate))
		rt.Post("/sessions", r.wrap(r.handleStart))
		rt.Get("/sessions/{id}", r.wrap(r.handleGet))
		rt.Put("/sessions/{id}/file", r.wrap(r.handleUpload))
		rt.Post("/sessions/{id}/file", r.wrap(r.handleSelectMetadata))
		rt.Delete("/sessions/{id}/file", r.wrap(r.handleRemove))
		rt.Post("/sessions/{id}/analyze", r.wrap(r.handleAnalyze))
		rt.Delete("/sessions/{id}/analyze", r.wrap(r.handleCancel))
		rt.Post("/sessions/{id}/reset", r.wrap(r.handleReset))
		rt.Get("/sessions/{id}/events", r.wrap(r.handleEvents))
		rt.Get("/analyses/recent", r.wrap(r.handleRecent))
		rt.Get("/summary", r.wrap(r.handleSummary))
	})

	return mux
}

type handlerFunc func(http.ResponseWriter, *http.Request) error

// badRequest marks caller mistakes that map to 400.
type badRequest struct{ msg string }

func (e badRequest) Error() string { return e.msg }

func (r *Router) wrap(h handlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		err := h(w, req)
		if err == nil {
			return
		}
		var verr *domain.ValidationError
		var bad badRequest
		switch {
		case errors.As(err, &verr):
			writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"error": verr.Code(), "message": verr.Message})
		case errors.As(err, &bad):
			writeError(w, http.StatusBadRequest, bad.msg)
		case errors.Is(err, domain.ErrSessionNotFound):
			writeError(w, http.StatusNotFound, "session not found")
		case errors.Is(err, domain.ErrSessionBusy), errors.Is(err, domain.ErrInvalidTransition):
			writeError(w, http.StatusConflict, err.Error())
		case errors.Is(err, domai.ErrQuotaExceeded):
			writeError(w, http.StatusTooManyRequests, "ai quota exceeded")
		default:
			log.Printf("handler error: method=%s path=%s err=%v", req.Method, req.URL.Path, err)
			writeError(w, http.StatusInternalServerError, err.Error())
		}
	}
}

// sessionView adds the rendered band of a completed result.
type sessionView struct {
	*domain.Session
	Band *domain.BandInfo `json:"band,omitempty"`
}

func viewOf(s *domain.Session) sessionView {
	v := sessionView{Session: s}
	if s.Result != nil {
		b := domain.Describe(s.Result.RiskScore)
		v.Band = &b
	}
	return v
}

type analysisView struct {
	*domain.Analysis
	Band domain.BandInfo `json:"band"`
}

func sessionParams(req *http.Request) (string, domain.SessionID, error) {
	tenant := chi.URLParam(req, "tenant")
	id := chi.URLParam(req, "id")
	if err := middleware.ValidateSessionID(id); err != nil {
		return "", "", badRequest{err.Error()}
	}
	return tenant, domain.SessionID(id), nil
}

// POST /v1/{tenant}/validate
// Body: {"name": "...", "size": 123, "type": "audio/wav"}
func (r *Router) handleValidate(w http.ResponseWriter, req *http.Request) error {
	var f domain.SelectedFile
	if err := decodeBody(req, &f); err != nil {
		return err
	}
	if err := r.svc.Validate(f); err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, map[string]any{"valid": true})
}

// POST /v1/{tenant}/sessions
func (r *Router) handleStart(w http.ResponseWriter, req *http.Request) error {
	sess, err := r.svc.Start(req.Context(), chi.URLParam(req, "tenant"))
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusCreated, viewOf(sess))
}

// GET /v1/{tenant}/sessions/{id}
func (r *Router) handleGet(w http.ResponseWriter, req *http.Request) error {
	tenant, id, err := sessionParams(req)
	if err != nil {
		return err
	}
	sess, err := r.svc.Get(req.Context(), tenant, id)
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, viewOf(sess))
}

// PUT /v1/{tenant}/sessions/{id}/file  (multipart, field "file")
// The part's declared Content-Type is what gets validated.
func (r *Router) handleUpload(w http.ResponseWriter, req *http.Request) error {
	tenant, id, err := sessionParams(req)
	if err != nil {
		return err
	}
	mr, err := req.MultipartReader()
	if err != nil {
		return badRequest{"multipart body required"}
	}

	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			return badRequest{`multipart field "file" is missing`}
		}
		if err != nil {
			return badRequest{fmt.Sprintf("reading multipart: %v", err)}
		}
		if part.FormName() != "file" {
			part.Close()
			continue
		}

		file := domain.SelectedFile{
			Name:      middleware.SanitizeFileName(part.FileName()),
			MediaType: partMediaType(part.Header.Get("Content-Type")),
		}
		// type precedes size: reject before buffering anything
		if verr := r.svc.Validate(file); errors.Is(verr, domain.ErrUnsupportedType) {
			part.Close()
			_, err := r.svc.Select(req.Context(), tenant, id, file, "")
			return err
		}

		tmpPath, size, err := r.buffer(part, file.Name, r.svc.Validator.MaxBytes())
		part.Close()
		if err != nil {
			return err
		}
		file.Size = size

		sess, err := r.svc.Select(req.Context(), tenant, id, file, tmpPath)
		if err != nil {
			return err
		}
		return writeJSON(w, http.StatusOK, viewOf(sess))
	}
}

// partMediaType reduces a part's Content-Type header to its lower-case
// media type, so "audio/wav; codecs=1" is checked as "audio/wav". An
// unparsable header is passed through and fails validation.
func partMediaType(header string) string {
	mt, _, err := mime.ParseMediaType(header)
	if err != nil {
		return header
	}
	return mt
}

// buffer copies at most limit+1 bytes of src to a temp file, enough for the
// validator to see an oversized file without reading all of it.
func (r *Router) buffer(src io.Reader, name string, limit int64) (string, int64, error) {
	if err := os.MkdirAll(r.tempDir, 0o755); err != nil {
		return "", 0, fmt.Errorf("temp dir: %w", err)
	}
	f, err := os.CreateTemp(r.tempDir, "upload-*"+filepath.Ext(name))
	if err != nil {
		return "", 0, fmt.Errorf("temp file: %w", err)
	}
	n, err := io.CopyN(f, src, limit+1)
	cerr := f.Close()
	if err != nil && err != io.EOF {
		os.Remove(f.Name())
		return "", 0, badRequest{fmt.Sprintf("reading upload: %v", err)}
	}
	if cerr != nil {
		os.Remove(f.Name())
		return "", 0, cerr
	}
	return f.Name(), n, nil
}

// POST /v1/{tenant}/sessions/{id}/file
// Body: {"name": "...", "size": 123, "type": "audio/wav"}
func (r *Router) handleSelectMetadata(w http.ResponseWriter, req *http.Request) error {
	tenant, id, err := sessionParams(req)
	if err != nil {
		return err
	}
	var f domain.SelectedFile
	if err := decodeBody(req, &f); err != nil {
		return err
	}
	f.Name = middleware.SanitizeFileName(f.Name)
	sess, err := r.svc.Select(req.Context(), tenant, id, f, "")
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, viewOf(sess))
}

// DELETE /v1/{tenant}/sessions/{id}/file
func (r *Router) handleRemove(w http.ResponseWriter, req *http.Request) error {
	tenant, id, err := sessionParams(req)
	if err != nil {
		return err
	}
	sess, err := r.svc.Remove(req.Context(), tenant, id)
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, viewOf(sess))
}

// POST /v1/{tenant}/sessions/{id}/analyze
// 202 when the pipeline started, 200 (no-op) when no file is selected.
func (r *Router) handleAnalyze(w http.ResponseWriter, req *http.Request) error {
	tenant, id, err := sessionParams(req)
	if err != nil {
		return err
	}
	sess, started, err := r.svc.Analyze(req.Context(), tenant, id)
	if err != nil {
		return err
	}
	code := http.StatusOK
	if started {
		code = http.StatusAccepted
	}
	return writeJSON(w, code, viewOf(sess))
}

// DELETE /v1/{tenant}/sessions/{id}/analyze
func (r *Router) handleCancel(w http.ResponseWriter, req *http.Request) error {
	tenant, id, err := sessionParams(req)
	if err != nil {
		return err
	}
	cancelled, err := r.svc.Cancel(req.Context(), tenant, id)
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, map[string]any{"cancelled": cancelled})
}

// POST /v1/{tenant}/sessions/{id}/reset
func (r *Router) handleReset(w http.ResponseWriter, req *http.Request) error {
	tenant, id, err := sessionParams(req)
	if err != nil {
		return err
	}
	sess, err := r.svc.Reset(req.Context(), tenant, id)
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, viewOf(sess))
}

const eventWriteWait = 10 * time.Second

// GET /v1/{tenant}/sessions/{id}/events  (websocket)
// Sends the current state first, then every transition until the run ends.
func (r *Router) handleEvents(w http.ResponseWriter, req *http.Request) error {
	tenant, id, err := sessionParams(req)
	if err != nil {
		return err
	}
	if r.svc.Events == nil {
		return errors.New("event stream disabled")
	}
	if _, err := r.svc.Get(req.Context(), tenant, id); err != nil {
		return err
	}

	// subscribe before the snapshot so no transition falls in between
	events, unsubscribe := r.svc.Events.Subscribe(id)
	defer unsubscribe()

	conn, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		log.Printf("websocket upgrade failed: session=%s err=%v", id, err)
		return nil
	}
	defer conn.Close()

	// the hijacked conn still carries http.Server.WriteTimeout; every
	// write gets its own deadline instead
	send := func(v any) error {
		conn.SetWriteDeadline(time.Now().Add(eventWriteWait))
		return conn.WriteJSON(v)
	}

	snap, err := r.svc.Get(req.Context(), tenant, id)
	if err != nil {
		_ = send(map[string]string{"error": err.Error()})
		return nil
	}
	if err := send(appanalysis.Event{
		SessionID: snap.ID, Status: snap.Status, Result: snap.Result, Error: snap.Error, At: snap.UpdatedAt,
	}); err != nil {
		return nil
	}

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-closed:
			return nil
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			if err := send(ev); err != nil {
				return nil
			}
			if ev.Terminal() {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, string(ev.Status)),
					time.Now().Add(eventWriteWait))
				return nil
			}
		}
	}
}

// GET /v1/{tenant}/analyses/recent?limit=20
func (r *Router) handleRecent(w http.ResponseWriter, req *http.Request) error {
	tenant := chi.URLParam(req, "tenant")
	limit, _ := strconv.Atoi(req.URL.Query().Get("limit"))

	list, err := r.svc.Recent(req.Context(), tenant, middleware.ValidateLimit(limit))
	if err != nil {
		return err
	}
	out := make([]analysisView, 0, len(list))
	for _, a := range list {
		out = append(out, analysisView{Analysis: a, Band: domain.Describe(a.RiskScore)})
	}
	return writeJSON(w, http.StatusOK, out)
}

// GET /v1/{tenant}/summary?days=7
func (r *Router) handleSummary(w http.ResponseWriter, req *http.Request) error {
	tenant := chi.URLParam(req, "tenant")
	days, _ := strconv.Atoi(req.URL.Query().Get("days"))

	summary, err := r.svc.Summary(req.Context(), tenant, middleware.ValidateDays(days))
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, summary)
}

func decodeBody(req *http.Request, v any) error {
	if err := json.NewDecoder(io.LimitReader(req.Body, 1<<20)).Decode(v); err != nil {
		return badRequest{fmt.Sprintf("invalid JSON body: %v", err)}
	}
	return nil
}

func writeJSON(w http.ResponseWriter, code int, v any) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	return json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	_ = writeJSON(w, code, map[string]string{"error": msg})
}

func originAllowed(allowed []string, origin string) bool {
	if origin == "" {
		return true
	}
	for _, a := range allowed {
		if a == "*" || a == origin {
			return true
		}
	}
	return false
}
