package httpserver_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/bryanwahyu/voiceguard/internal/application"
	appanalysis "github.com/bryanwahyu/voiceguard/internal/application/analysis"
	domain "github.com/bryanwahyu/voiceguard/internal/domain/analysis"
	"github.com/bryanwahyu/voiceguard/internal/infra/httpserver"
	"github.com/bryanwahyu/voiceguard/internal/infra/memory"
	"github.com/bryanwahyu/voiceguard/internal/infra/storage"
)

type detectorFunc func(ctx context.Context, req domain.DetectRequest) (domain.Result, error)

func (f detectorFunc) Detect(ctx context.Context, req domain.DetectRequest) (domain.Result, error) {
	return f(ctx, req)
}

func verdict(score int) detectorFunc {
	return func(context.Context, domain.DetectRequest) (domain.Result, error) {
		return domain.Result{
			RiskScore:        score,
			Confidence:       92,
			Duration:         "2:34",
			DetectedPatterns: []string{"Synthetic speech markers identified"},
			Recommendations:  []string{"Do not share sensitive information with this caller"},
		}, nil
	}
}

type sessionBody struct {
	ID     string               `json:"id"`
	Status domain.Status        `json:"status"`
	Error  string               `json:"error"`
	File   *domain.SelectedFile `json:"file"`
	Result *domain.Result       `json:"result"`
	Band   *domain.BandInfo     `json:"band"`
}

type testServer struct {
	handler http.Handler
	svc     *appanalysis.Service
	tmp     string
}

func newTestServer(t *testing.T, maxMB int) *testServer {
	t.Helper()
	tmp := t.TempDir()
	svc := &appanalysis.Service{
		Sessions:  memory.NewSessionStore(),
		History:   memory.NewHistoryRepository(),
		Audio:     storage.NewSimulated(0),
		Detector:  verdict(75),
		Validator: domain.NewValidator(maxMB, nil),
		Clock:     application.SystemClock{},
		Events:    appanalysis.NewBroker(),
	}
	t.Cleanup(svc.Shutdown)
	h := httpserver.NewRouter(svc, httpserver.Options{TempDir: tmp, RateCapacity: 1000, RateRefill: 100})
	return &testServer{handler: h, svc: svc, tmp: tmp}
}

func (s *testServer) do(t *testing.T, method, path, contentType string, body []byte) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func (s *testServer) start(t *testing.T) string {
	t.Helper()
	rec := s.do(t, http.MethodPost, "/v1/acme/sessions", "", nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("start: %d %s", rec.Code, rec.Body.String())
	}
	var sess sessionBody
	decodeJSON(t, rec, &sess)
	if sess.Status != domain.StatusIdle || sess.ID == "" {
		t.Fatalf("new session = %+v", sess)
	}
	return sess.ID
}

func decodeJSON(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.NewDecoder(rec.Body).Decode(v); err != nil {
		t.Fatalf("decode JSON response: %v (body: %s)", err, rec.Body.String())
	}
}

func multipartFile(t *testing.T, field, name, contentType string, data []byte) ([]byte, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, field, name))
	h.Set("Content-Type", contentType)
	part, err := mw.CreatePart(h)
	if err != nil {
		t.Fatal(err)
	}
	part.Write(data)
	mw.Close()
	return buf.Bytes(), mw.FormDataContentType()
}

func tempFiles(t *testing.T, dir string) int {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	return len(entries)
}

// ─── Probes ────────────────────────────────────────────────────────────

func TestRouter_Probes(t *testing.T) {
	s := newTestServer(t, 0)
	for _, path := range []string{"/health", "/ready", "/live", "/metrics"} {
		if rec := s.do(t, http.MethodGet, path, "", nil); rec.Code != http.StatusOK {
			t.Errorf("%s = %d", path, rec.Code)
		}
	}
}

func TestRouter_CORS(t *testing.T) {
	s := newTestServer(t, 0)
	req := httptest.NewRequest(http.MethodGet, "/live", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Fatalf("Access-Control-Allow-Origin = %q", got)
	}
}

// ─── Validation ────────────────────────────────────────────────────────

func TestRouter_Validate(t *testing.T) {
	s := newTestServer(t, 0)

	ok := s.do(t, http.MethodPost, "/v1/acme/validate", "application/json",
		[]byte(`{"name":"a.mp3","size":1024,"type":"audio/mpeg"}`))
	if ok.Code != http.StatusOK {
		t.Fatalf("valid file = %d %s", ok.Code, ok.Body.String())
	}

	bad := s.do(t, http.MethodPost, "/v1/acme/validate", "application/json",
		[]byte(`{"name":"a.mp3","size":52428801,"type":"audio/mpeg"}`))
	if bad.Code != http.StatusUnprocessableEntity {
		t.Fatalf("oversized file = %d", bad.Code)
	}
	var body map[string]string
	decodeJSON(t, bad, &body)
	if body["error"] != "too_large" || body["message"] != "File size must be less than 50MB" {
		t.Fatalf("body = %v", body)
	}

	if rec := s.do(t, http.MethodPost, "/v1/acme/validate", "application/json", []byte(`{`)); rec.Code != http.StatusBadRequest {
		t.Fatalf("malformed JSON = %d", rec.Code)
	}
}

func TestRouter_SessionErrors(t *testing.T) {
	s := newTestServer(t, 0)

	if rec := s.do(t, http.MethodGet, "/v1/acme/sessions/not-a-uuid", "", nil); rec.Code != http.StatusBadRequest {
		t.Errorf("bad id = %d", rec.Code)
	}
	if rec := s.do(t, http.MethodGet, "/v1/acme/sessions/3f1c1f7e-8f0b-4a53-9d55-2a2f4f1b9c10", "", nil); rec.Code != http.StatusNotFound {
		t.Errorf("unknown id = %d", rec.Code)
	}

	id := s.start(t)
	if rec := s.do(t, http.MethodGet, "/v1/globex/sessions/"+id, "", nil); rec.Code != http.StatusNotFound {
		t.Errorf("other tenant = %d", rec.Code)
	}
}

// ─── Upload ────────────────────────────────────────────────────────────

func TestRouter_MultipartUpload(t *testing.T) {
	s := newTestServer(t, 0)
	id := s.start(t)

	body, ct := multipartFile(t, "file", "../call.wav", "audio/wav", []byte("RIFF....WAVEfmt "))
	rec := s.do(t, http.MethodPut, "/v1/acme/sessions/"+id+"/file", ct, body)
	if rec.Code != http.StatusOK {
		t.Fatalf("upload = %d %s", rec.Code, rec.Body.String())
	}
	var sess sessionBody
	decodeJSON(t, rec, &sess)
	if sess.File == nil || sess.File.Name != "call.wav" || sess.File.Size != 16 || sess.File.MediaType != "audio/wav" {
		t.Fatalf("file = %+v", sess.File)
	}
	if n := tempFiles(t, s.tmp); n != 1 {
		t.Fatalf("buffered files = %d, want 1", n)
	}

	// removing the file drops the buffered copy
	if rec := s.do(t, http.MethodDelete, "/v1/acme/sessions/"+id+"/file", "", nil); rec.Code != http.StatusOK {
		t.Fatalf("remove = %d", rec.Code)
	}
	if n := tempFiles(t, s.tmp); n != 0 {
		t.Fatalf("buffered files after remove = %d", n)
	}
}

func TestRouter_UploadUnsupportedType(t *testing.T) {
	s := newTestServer(t, 0)
	id := s.start(t)

	body, ct := multipartFile(t, "file", "voice.ogg", "audio/ogg", []byte("OggS"))
	rec := s.do(t, http.MethodPut, "/v1/acme/sessions/"+id+"/file", ct, body)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("upload = %d %s", rec.Code, rec.Body.String())
	}
	var verr map[string]string
	decodeJSON(t, rec, &verr)
	if verr["error"] != "unsupported_type" || verr["message"] != "Please upload an MP3 or WAV file" {
		t.Fatalf("body = %v", verr)
	}
	if n := tempFiles(t, s.tmp); n != 0 {
		t.Fatalf("rejected upload was buffered: %d files", n)
	}

	got := s.do(t, http.MethodGet, "/v1/acme/sessions/"+id, "", nil)
	var sess sessionBody
	decodeJSON(t, got, &sess)
	if sess.Error != "Please upload an MP3 or WAV file" || sess.File != nil {
		t.Fatalf("session = %+v", sess)
	}
}

func TestRouter_UploadTooLarge(t *testing.T) {
	s := newTestServer(t, 1)
	id := s.start(t)

	body, ct := multipartFile(t, "file", "long.mp3", "audio/mpeg", bytes.Repeat([]byte{0xff}, 1<<20+10))
	rec := s.do(t, http.MethodPut, "/v1/acme/sessions/"+id+"/file", ct, body)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("upload = %d %s", rec.Code, rec.Body.String())
	}
	var verr map[string]string
	decodeJSON(t, rec, &verr)
	if verr["message"] != "File size must be less than 1MB" {
		t.Fatalf("body = %v", verr)
	}
	if n := tempFiles(t, s.tmp); n != 0 {
		t.Fatalf("oversized upload left %d files", n)
	}
}

func TestRouter_UploadMissingField(t *testing.T) {
	s := newTestServer(t, 0)
	id := s.start(t)

	body, ct := multipartFile(t, "audio", "a.wav", "audio/wav", []byte("RIFF"))
	if rec := s.do(t, http.MethodPut, "/v1/acme/sessions/"+id+"/file", ct, body); rec.Code != http.StatusBadRequest {
		t.Fatalf("missing field = %d", rec.Code)
	}
	if rec := s.do(t, http.MethodPut, "/v1/acme/sessions/"+id+"/file", "application/json", []byte(`{}`)); rec.Code != http.StatusBadRequest {
		t.Fatalf("not multipart = %d", rec.Code)
	}
}

// ─── Analysis flow ─────────────────────────────────────────────────────

func TestRouter_AnalyzeFlow(t *testing.T) {
	s := newTestServer(t, 0)
	id := s.start(t)
	base := "/v1/acme/sessions/" + id

	// nothing selected: no-op
	noop := s.do(t, http.MethodPost, base+"/analyze", "", nil)
	if noop.Code != http.StatusOK {
		t.Fatalf("analyze without file = %d", noop.Code)
	}

	sel := s.do(t, http.MethodPost, base+"/file", "application/json",
		[]byte(`{"name":"bank_call.mp3","size":2048,"type":"audio/mpeg"}`))
	if sel.Code != http.StatusOK {
		t.Fatalf("select = %d %s", sel.Code, sel.Body.String())
	}

	started := s.do(t, http.MethodPost, base+"/analyze", "", nil)
	if started.Code != http.StatusAccepted {
		t.Fatalf("analyze = %d %s", started.Code, started.Body.String())
	}
	var running sessionBody
	decodeJSON(t, started, &running)
	if running.Status != domain.StatusUploading {
		t.Fatalf("status after analyze = %s", running.Status)
	}

	s.svc.Wait()

	var done sessionBody
	decodeJSON(t, s.do(t, http.MethodGet, base, "", nil), &done)
	if done.Status != domain.StatusComplete || done.Result == nil || done.Result.RiskScore != 75 {
		t.Fatalf("final session = %+v", done)
	}
	if done.Band == nil || done.Band.Level != "High Risk" || done.Band.Badge != "Dangerous" {
		t.Fatalf("band = %+v", done.Band)
	}

	// complete sessions must be reset before a new file
	if rec := s.do(t, http.MethodPost, base+"/file", "application/json",
		[]byte(`{"name":"b.wav","size":1,"type":"audio/wav"}`)); rec.Code != http.StatusConflict {
		t.Fatalf("select on complete = %d", rec.Code)
	}

	var recent []map[string]any
	decodeJSON(t, s.do(t, http.MethodGet, "/v1/acme/analyses/recent?limit=5", "", nil), &recent)
	if len(recent) != 1 || recent[0]["file_name"] != "bank_call.mp3" || recent[0]["status"] != "completed" {
		t.Fatalf("recent = %v", recent)
	}

	var summary domain.Summary
	decodeJSON(t, s.do(t, http.MethodGet, "/v1/acme/summary?days=7", "", nil), &summary)
	if summary.TotalScans != 1 || summary.ThreatsDetected != 1 {
		t.Fatalf("summary = %+v", summary)
	}

	reset := s.do(t, http.MethodPost, base+"/reset", "", nil)
	var idle sessionBody
	decodeJSON(t, reset, &idle)
	if reset.Code != http.StatusOK || idle.Status != domain.StatusIdle || idle.File != nil || idle.Result != nil || idle.Band != nil {
		t.Fatalf("reset = %d %+v", reset.Code, idle)
	}
}

func TestRouter_CancelAnalysis(t *testing.T) {
	s := newTestServer(t, 0)
	entered := make(chan struct{})
	s.svc.Detector = detectorFunc(func(ctx context.Context, _ domain.DetectRequest) (domain.Result, error) {
		close(entered)
		<-ctx.Done()
		return domain.Result{}, ctx.Err()
	})
	id := s.start(t)
	base := "/v1/acme/sessions/" + id

	s.do(t, http.MethodPost, base+"/file", "application/json", []byte(`{"name":"a.wav","size":1,"type":"audio/wav"}`))
	if rec := s.do(t, http.MethodPost, base+"/analyze", "", nil); rec.Code != http.StatusAccepted {
		t.Fatalf("analyze = %d", rec.Code)
	}
	select {
	case <-entered:
	case <-time.After(2 * time.Second):
		t.Fatal("detector never called")
	}

	if rec := s.do(t, http.MethodPost, base+"/reset", "", nil); rec.Code != http.StatusConflict {
		t.Fatalf("reset while analyzing = %d", rec.Code)
	}

	rec := s.do(t, http.MethodDelete, base+"/analyze", "", nil)
	var out map[string]bool
	decodeJSON(t, rec, &out)
	if !out["cancelled"] {
		t.Fatalf("cancel = %v", out)
	}
	s.svc.Wait()

	var sess sessionBody
	decodeJSON(t, s.do(t, http.MethodGet, base, "", nil), &sess)
	if sess.Status != domain.StatusIdle || sess.Error != appanalysis.MsgCancelled || sess.File == nil {
		t.Fatalf("after cancel = %+v", sess)
	}
}

// ─── Event stream ──────────────────────────────────────────────────────

func TestRouter_EventStream(t *testing.T) {
	s := newTestServer(t, 0)
	srv := httptest.NewServer(s.handler)
	defer srv.Close()

	id := s.start(t)
	base := "/v1/acme/sessions/" + id
	s.do(t, http.MethodPost, base+"/file", "application/json", []byte(`{"name":"a.wav","size":1,"type":"audio/wav"}`))

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + base + "/events"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	var snapshot appanalysis.Event
	if err := conn.ReadJSON(&snapshot); err != nil {
		t.Fatalf("read snapshot: %v", err)
	}
	if snapshot.Status != domain.StatusIdle {
		t.Fatalf("snapshot = %+v", snapshot)
	}

	if rec := s.do(t, http.MethodPost, base+"/analyze", "", nil); rec.Code != http.StatusAccepted {
		t.Fatalf("analyze = %d", rec.Code)
	}

	var statuses []domain.Status
	for {
		var ev appanalysis.Event
		if err := conn.ReadJSON(&ev); err != nil {
			break
		}
		statuses = append(statuses, ev.Status)
		if ev.Terminal() {
			if ev.Result == nil || ev.Result.RiskScore != 75 {
				t.Fatalf("terminal event = %+v", ev)
			}
			break
		}
	}
	want := []domain.Status{domain.StatusUploading, domain.StatusAnalyzing, domain.StatusComplete}
	if fmt.Sprint(statuses) != fmt.Sprint(want) {
		t.Fatalf("statuses = %v, want %v", statuses, want)
	}
}

func TestRouter_EventStreamOutlivesWriteTimeout(t *testing.T) {
	s := newTestServer(t, 0)
	s.svc.Detector = detectorFunc(func(ctx context.Context, req domain.DetectRequest) (domain.Result, error) {
		select {
		case <-time.After(600 * time.Millisecond):
		case <-ctx.Done():
			return domain.Result{}, ctx.Err()
		}
		return verdict(40)(ctx, req)
	})

	srv := httptest.NewUnstartedServer(s.handler)
	srv.Config.WriteTimeout = 200 * time.Millisecond
	srv.Start()
	defer srv.Close()

	id := s.start(t)
	base := "/v1/acme/sessions/" + id
	s.do(t, http.MethodPost, base+"/file", "application/json", []byte(`{"name":"a.wav","size":1,"type":"audio/wav"}`))

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+base+"/events", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	var snapshot appanalysis.Event
	if err := conn.ReadJSON(&snapshot); err != nil {
		t.Fatalf("read snapshot: %v", err)
	}
	if rec := s.do(t, http.MethodPost, base+"/analyze", "", nil); rec.Code != http.StatusAccepted {
		t.Fatalf("analyze = %d", rec.Code)
	}

	for {
		var ev appanalysis.Event
		if err := conn.ReadJSON(&ev); err != nil {
			t.Fatalf("stream ended before the result: %v", err)
		}
		if ev.Terminal() {
			if ev.Status != domain.StatusComplete || ev.Result == nil || ev.Result.RiskScore != 40 {
				t.Fatalf("terminal event = %+v", ev)
			}
			return
		}
	}
}

func TestRouter_UploadNormalizesPartType(t *testing.T) {
	s := newTestServer(t, 0)
	id := s.start(t)

	body, ct := multipartFile(t, "file", "call.wav", "Audio/WAV; codecs=1", []byte("RIFF"))
	rec := s.do(t, http.MethodPut, "/v1/acme/sessions/"+id+"/file", ct, body)
	if rec.Code != http.StatusOK {
		t.Fatalf("upload = %d %s", rec.Code, rec.Body.String())
	}
	var sess sessionBody
	decodeJSON(t, rec, &sess)
	if sess.File == nil || sess.File.MediaType != "audio/wav" {
		t.Fatalf("file = %+v", sess.File)
	}

	// the JSON intake is validated as declared
	rec = s.do(t, http.MethodPost, "/v1/acme/validate", "application/json",
		[]byte(`{"name":"a.wav","size":1,"type":"Audio/WAV; codecs=1"}`))
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("validate = %d %s", rec.Code, rec.Body.String())
	}
}
