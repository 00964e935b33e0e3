package web

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/JonMunkholm/bibcards/internal/config"
	"github.com/JonMunkholm/bibcards/internal/core"
	"github.com/JonMunkholm/bibcards/internal/render"
)

const sampleCSV = "Event Name,Race Category,BIB Number,Participant Name,Date\n" +
	"City Run,10K,12,Ana Silva,2025-06-01\n" +
	"City Run,10K,3,Bo Chen,2025-06-01\n" +
	"City Run,5K,40,Cy Okafor,2025-06-01\n"

func testConfig(t *testing.T, vars map[string]string) *config.Config {
	t.Helper()
	base := map[string]string{
		"RATE_LIMIT_ENABLED": "false",
		"EXPORT_SCALE":       "1",
		"EXPORT_YIELD_DELAY": "0s",
	}
	for k, v := range vars {
		base[k] = v
	}
	cfg, err := config.LoadFrom(func(k string) (string, bool) {
		v, ok := base[k]
		return v, ok
	})
	if err != nil {
		t.Fatalf("LoadFrom: %v", err)
	}
	return cfg
}

func newTestServer(t *testing.T, vars map[string]string) (*Server, *core.Service) {
	t.Helper()
	cfg := testConfig(t, vars)
	svc, err := core.NewService(cfg.ServiceOptions(render.Factory))
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	t.Cleanup(svc.Close)
	return NewServer(cfg, svc), svc
}

func do(t *testing.T, s *Server, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	return rec
}

func multipartBody(t *testing.T, filename string, data []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", filename)
	if err != nil {
		t.Fatalf("CreateFormFile: %v", err)
	}
	fw.Write(data)
	mw.Close()
	return &buf, mw.FormDataContentType()
}

func upload(t *testing.T, s *Server, path, filename string, data []byte) *httptest.ResponseRecorder {
	t.Helper()
	body, ct := multipartBody(t, filename, data)
	req := httptest.NewRequest(http.MethodPost, path, body)
	req.Header.Set("Content-Type", ct)
	return do(t, s, req)
}

func createSession(t *testing.T, s *Server) string {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/session", nil)
	req.Header.Set("Accept", "application/json")
	rec := do(t, s, req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create session status = %d: %s", rec.Code, rec.Body.String())
	}
	var resp SessionResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode session: %v", err)
	}
	return resp.ID
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var resp ErrorResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode error response: %v (body %q)", err, rec.Body.String())
	}
	return resp
}

func waitIdle(t *testing.T, svc *core.Service, id string) {
	t.Helper()
	sess, err := svc.Session(id)
	if err != nil {
		t.Fatalf("Session: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := sess.Wait(ctx); err != nil {
		t.Fatalf("Wait: %v", err)
	}
}

func pngBytes(t *testing.T) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, 8, 6))
	for i := range img.Pix {
		img.Pix[i] = 0xff
	}
	img.Set(1, 1, color.NRGBA{G: 0xff, A: 0xff})
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("png.Encode: %v", err)
	}
	return buf.Bytes()
}

func TestHealth(t *testing.T) {
	s, _ := newTestServer(t, nil)
	rec := do(t, s, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var resp HealthResponse
	json.NewDecoder(rec.Body).Decode(&resp)
	if resp.Status != "ok" || resp.Batches.MaxConcurrent != 2 {
		t.Errorf("health = %+v", resp)
	}
}

func TestSecurityHeaders(t *testing.T) {
	s, _ := newTestServer(t, nil)
	rec := do(t, s, httptest.NewRequest(http.MethodGet, "/", nil))
	if got := rec.Header().Get("X-Content-Type-Options"); got != "nosniff" {
		t.Errorf("X-Content-Type-Options = %q", got)
	}
	if got := rec.Header().Get("Content-Security-Policy"); !strings.Contains(got, "img-src 'self' data:") {
		t.Errorf("Content-Security-Policy = %q", got)
	}
}

func TestCreateSession_Browser(t *testing.T) {
	s, _ := newTestServer(t, nil)
	rec := do(t, s, httptest.NewRequest(http.MethodPost, "/session", nil))
	if rec.Code != http.StatusSeeOther {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusSeeOther)
	}
	loc := rec.Header().Get("Location")
	if !strings.HasPrefix(loc, "/session/") {
		t.Fatalf("Location = %q", loc)
	}

	page := do(t, s, httptest.NewRequest(http.MethodGet, loc, nil))
	if page.Code != http.StatusOK {
		t.Fatalf("page status = %d", page.Code)
	}
	if !strings.Contains(page.Body.String(), "Marathon BIB Creator") {
		t.Error("session page missing title")
	}
}

func TestCreateSession_BrowserErrorPage(t *testing.T) {
	s, _ := newTestServer(t, map[string]string{"SESSION_MAX": "1"})
	do(t, s, httptest.NewRequest(http.MethodPost, "/session", nil))

	rec := do(t, s, httptest.NewRequest(http.MethodPost, "/session", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusServiceUnavailable)
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/html") {
		t.Errorf("Content-Type = %q", ct)
	}
	if !strings.Contains(rec.Body.String(), "SES003") {
		t.Errorf("error page missing code:\n%s", rec.Body.String())
	}
}

func TestSessionPage_UnknownRedirects(t *testing.T) {
	s, _ := newTestServer(t, nil)
	rec := do(t, s, httptest.NewRequest(http.MethodGet, "/session/nope", nil))
	if rec.Code != http.StatusSeeOther || rec.Header().Get("Location") != "/" {
		t.Errorf("status = %d, location = %q", rec.Code, rec.Header().Get("Location"))
	}
}

func TestAPI_UnknownSession(t *testing.T) {
	s, _ := newTestServer(t, nil)
	rec := do(t, s, httptest.NewRequest(http.MethodGet, "/api/session/nope/participants", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusNotFound)
	}
	if resp := decodeError(t, rec); resp.Code != "SES001" {
		t.Errorf("code = %q, want SES001", resp.Code)
	}
}

func TestUploadParticipants(t *testing.T) {
	s, _ := newTestServer(t, nil)
	id := createSession(t, s)

	rec := upload(t, s, "/api/session/"+id+"/participants", "runners.csv", []byte(sampleCSV))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	var resp ParticipantsResponse
	json.NewDecoder(rec.Body).Decode(&resp)
	if resp.Count != 3 {
		t.Fatalf("count = %d, want 3", resp.Count)
	}
	var bibs []string
	for _, p := range resp.Participants {
		bibs = append(bibs, p.BibNumber)
	}
	if got := strings.Join(bibs, ","); got != "3,12,40" {
		t.Errorf("bib order = %s, want 3,12,40", got)
	}
}

func TestUploadParticipants_Errors(t *testing.T) {
	tests := []struct {
		name     string
		vars     map[string]string
		data     string
		wantCode int
		wantErr  string
	}{
		{"empty file", nil, "", http.StatusBadRequest, "FILE004"},
		{"malformed csv", nil, "a,b\n\"unterminated,x\n", http.StatusBadRequest, "FILE002"},
		{"too large", map[string]string{"UPLOAD_MAX_FILE_SIZE": "64"}, sampleCSV, http.StatusRequestEntityTooLarge, "FILE001"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, _ := newTestServer(t, tt.vars)
			id := createSession(t, s)
			rec := upload(t, s, "/api/session/"+id+"/participants", "runners.csv", []byte(tt.data))
			if rec.Code != tt.wantCode {
				t.Fatalf("status = %d, want %d (%s)", rec.Code, tt.wantCode, rec.Body.String())
			}
			if resp := decodeError(t, rec); resp.Code != tt.wantErr {
				t.Errorf("code = %q, want %q", resp.Code, tt.wantErr)
			}
		})
	}
}

func TestUploadBackground(t *testing.T) {
	s, svc := newTestServer(t, nil)
	id := createSession(t, s)

	rec := upload(t, s, "/api/session/"+id+"/background", "bg.txt", []byte("not an image"))
	if rec.Code != http.StatusUnsupportedMediaType {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusUnsupportedMediaType)
	}
	sess, _ := svc.Session(id)
	notes := sess.Notifications(0)
	if len(notes) == 0 || notes[len(notes)-1].Message != "Failed to load background image" {
		t.Errorf("notifications = %+v", notes)
	}

	rec = upload(t, s, "/api/session/"+id+"/background", "bg.png", pngBytes(t))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	if !sess.HasBackground() {
		t.Error("background not stored")
	}
}

func TestUploadBackground_TooManyPixels(t *testing.T) {
	s, svc := newTestServer(t, map[string]string{"UPLOAD_MAX_IMAGE_PIXELS": "20"})
	id := createSession(t, s)

	rec := upload(t, s, "/api/session/"+id+"/background", "bg.png", pngBytes(t))
	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusRequestEntityTooLarge)
	}
	if resp := decodeError(t, rec); resp.Code != "FILE006" {
		t.Errorf("code = %q, want FILE006", resp.Code)
	}
	if sess, _ := svc.Session(id); sess.HasBackground() {
		t.Error("oversized background was stored")
	}
}

func TestSetTheme(t *testing.T) {
	s, svc := newTestServer(t, nil)
	id := createSession(t, s)

	req := httptest.NewRequest(http.MethodPut, "/api/session/"+id+"/theme", strings.NewReader("theme=theme-blue"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if rec := do(t, s, req); rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	sess, _ := svc.Session(id)
	if sess.Theme() != "theme-blue" {
		t.Errorf("theme = %q", sess.Theme())
	}

	req = httptest.NewRequest(http.MethodPut, "/api/session/"+id+"/theme", strings.NewReader(`{"theme":"theme-neon"}`))
	req.Header.Set("Content-Type", "application/json")
	rec := do(t, s, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
	if resp := decodeError(t, rec); resp.Code != "SES004" {
		t.Errorf("code = %q, want SES004", resp.Code)
	}
}

func TestGenerate_NoData(t *testing.T) {
	s, _ := newTestServer(t, nil)
	id := createSession(t, s)

	rec := do(t, s, httptest.NewRequest(http.MethodPost, "/api/session/"+id+"/generate", nil))
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusUnprocessableEntity)
	}
	if resp := decodeError(t, rec); resp.Code != "BAT001" {
		t.Errorf("code = %q, want BAT001", resp.Code)
	}
}

func TestExport_BeforeGenerate(t *testing.T) {
	s, _ := newTestServer(t, nil)
	id := createSession(t, s)
	upload(t, s, "/api/session/"+id+"/participants", "runners.csv", []byte(sampleCSV))

	rec := do(t, s, httptest.NewRequest(http.MethodPost, "/api/session/"+id+"/export", nil))
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusUnprocessableEntity)
	}
}

func TestArchive_BeforeExport(t *testing.T) {
	s, _ := newTestServer(t, nil)
	id := createSession(t, s)

	rec := do(t, s, httptest.NewRequest(http.MethodGet, "/api/session/"+id+"/archive", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusNotFound)
	}
	if resp := decodeError(t, rec); resp.Code != "EXP002" {
		t.Errorf("code = %q, want EXP002", resp.Code)
	}
}

func TestPipeline_GenerateExportDownload(t *testing.T) {
	s, svc := newTestServer(t, nil)
	id := createSession(t, s)
	api := "/api/session/" + id

	if rec := upload(t, s, api+"/participants", "runners.csv", []byte(sampleCSV)); rec.Code != http.StatusOK {
		t.Fatalf("upload status = %d", rec.Code)
	}

	rec := do(t, s, httptest.NewRequest(http.MethodPost, api+"/generate", nil))
	if rec.Code != http.StatusAccepted {
		t.Fatalf("generate status = %d: %s", rec.Code, rec.Body.String())
	}
	waitIdle(t, svc, id)

	rec = do(t, s, httptest.NewRequest(http.MethodGet, api+"/barcode/12", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("barcode status = %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "image/png" {
		t.Errorf("barcode Content-Type = %q", ct)
	}
	if rec := do(t, s, httptest.NewRequest(http.MethodGet, api+"/barcode/999", nil)); rec.Code != http.StatusNotFound {
		t.Errorf("unknown barcode status = %d", rec.Code)
	}

	req := httptest.NewRequest(http.MethodPost, api+"/export", strings.NewReader(`{"transparent":true}`))
	req.Header.Set("Content-Type", "application/json")
	if rec := do(t, s, req); rec.Code != http.StatusAccepted {
		t.Fatalf("export status = %d: %s", rec.Code, rec.Body.String())
	}
	waitIdle(t, svc, id)

	rec = do(t, s, httptest.NewRequest(http.MethodGet, api+"/archive", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("archive status = %d: %s", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/zip" {
		t.Errorf("archive Content-Type = %q", ct)
	}
	if cd := rec.Header().Get("Content-Disposition"); !strings.Contains(cd, `filename="marathon-bib-cards-`) {
		t.Errorf("Content-Disposition = %q", cd)
	}
	if !bytes.HasPrefix(rec.Body.Bytes(), []byte("PK")) {
		t.Error("archive body is not a zip")
	}

	rec = do(t, s, httptest.NewRequest(http.MethodGet, api+"/notifications?since=0", nil))
	var notes []core.Notification
	json.NewDecoder(rec.Body).Decode(&notes)
	var titles []string
	for _, n := range notes {
		titles = append(titles, n.Title)
	}
	want := "CSV Loaded,BIB Cards Generated,Export Complete"
	if got := strings.Join(titles, ","); got != want {
		t.Errorf("notification titles = %s, want %s", got, want)
	}

	last := notes[len(notes)-1].ID
	rec = do(t, s, httptest.NewRequest(http.MethodGet, api+"/notifications?since="+strconv.Itoa(last), nil))
	if body := strings.TrimSpace(rec.Body.String()); body != "[]" {
		t.Errorf("notifications since last = %s, want []", body)
	}
}

func TestDeleteSession(t *testing.T) {
	s, _ := newTestServer(t, nil)
	id := createSession(t, s)

	rec := do(t, s, httptest.NewRequest(http.MethodDelete, "/api/session/"+id, nil))
	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusNoContent)
	}
	rec = do(t, s, httptest.NewRequest(http.MethodGet, "/api/session/"+id, nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("after delete status = %d, want %d", rec.Code, http.StatusNotFound)
	}
}

func TestAPIKeyRequired(t *testing.T) {
	s, _ := newTestServer(t, map[string]string{"REQUIRE_API_KEY": "true", "API_KEYS": "k1"})
	id := createSession(t, s)

	rec := do(t, s, httptest.NewRequest(http.MethodGet, "/api/session/"+id, nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusUnauthorized)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/session/"+id, nil)
	req.Header.Set("X-API-Key", "k1")
	if rec := do(t, s, req); rec.Code != http.StatusOK {
		t.Errorf("with key status = %d", rec.Code)
	}
}

func TestProgressStream(t *testing.T) {
	s, _ := newTestServer(t, nil)
	id := createSession(t, s)

	ts := httptest.NewServer(s.Router())
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/api/session/"+id+"/progress", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET progress: %v", err)
	}
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("Content-Type = %q", ct)
	}

	sc := bufio.NewScanner(resp.Body)
	var lines []string
	for sc.Scan() {
		line := sc.Text()
		if line == "" {
			break
		}
		lines = append(lines, line)
	}
	got := strings.Join(lines, "\n")
	if !strings.Contains(got, "event: progress") || !strings.Contains(got, `"stage":"complete"`) {
		t.Errorf("first event = %q", got)
	}
}
