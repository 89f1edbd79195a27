package server

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/54b3r/docrag/internal/ingestion"
)

// multipartBody encodes content under field with the given file name.
func multipartBody(t *testing.T, field, filename, content string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile(field, filename)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := fw.Write([]byte(content)); err != nil {
		t.Fatal(err)
	}
	if err := mw.Close(); err != nil {
		t.Fatal(err)
	}
	return &buf, mw.FormDataContentType()
}

func postUpload(s *Server, body *bytes.Buffer, contentType string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/upload", body)
	req.Header.Set("Content-Type", contentType)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	return w
}

func TestHandleUpload_Accepted(t *testing.T) {
	t.Parallel()

	ing := &fakeIngester{}
	s, _ := newTestServer(t, nil, ing)
	body, ct := multipartBody(t, "file", "../Employee Handbook.md", "# Handbook\n\nBe kind.")
	w := postUpload(s, body, ct)

	if w.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", w.Code, w.Body.String())
	}
	var resp uploadResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Message != "Processing started..." || resp.JobID == "" {
		t.Errorf("unexpected response: %+v", resp)
	}

	if len(ing.paths) != 1 {
		t.Fatalf("expected one submitted upload, got %d", len(ing.paths))
	}
	saved := ing.paths[0]
	if filepath.Dir(saved) != s.cfg.UploadDir {
		t.Errorf("upload saved outside the upload dir: %s", saved)
	}
	if !strings.HasSuffix(saved, "-Employee_Handbook.md") {
		t.Errorf("unexpected saved name %s", filepath.Base(saved))
	}
	data, err := os.ReadFile(saved)
	if err != nil || string(data) != "# Handbook\n\nBe kind." {
		t.Errorf("saved content = %q (%v)", data, err)
	}
	if j, _ := ing.Job(resp.JobID); j.Filename != "Employee_Handbook.md" {
		t.Errorf("job filename = %q", j.Filename)
	}
}

func TestHandleUpload_MissingFile(t *testing.T) {
	t.Parallel()

	s, _ := newTestServer(t, nil, nil)
	body, ct := multipartBody(t, "document", "a.md", "text")
	w := postUpload(s, body, ct)

	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", w.Code)
	}
}

func TestHandleUpload_NotMultipart(t *testing.T) {
	t.Parallel()

	s, _ := newTestServer(t, nil, nil)
	w := postUpload(s, bytes.NewBufferString(`{"file":"a"}`), "application/json")

	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", w.Code)
	}
}

func TestHandleUpload_TooLarge(t *testing.T) {
	t.Parallel()

	ing := &fakeIngester{}
	s, _ := newTestServer(t, nil, ing, func(c *Config) { c.MaxUploadBytes = 512 })
	body, ct := multipartBody(t, "file", "big.txt", strings.Repeat("x", 4096))
	w := postUpload(s, body, ct)

	if w.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413, got %d: %s", w.Code, w.Body.String())
	}
	if len(ing.paths) != 0 {
		t.Error("oversized upload must not be queued")
	}
	entries, _ := os.ReadDir(s.cfg.UploadDir)
	if len(entries) != 0 {
		t.Errorf("partial upload left behind: %v", entries)
	}
}

func TestHandleUpload_QueueFull(t *testing.T) {
	t.Parallel()

	s, _ := newTestServer(t, nil, &fakeIngester{full: true})
	body, ct := multipartBody(t, "file", "a.md", "text")
	w := postUpload(s, body, ct)

	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", w.Code)
	}
	if w.Header().Get("Retry-After") == "" {
		t.Error("expected Retry-After header")
	}
	entries, _ := os.ReadDir(s.cfg.UploadDir)
	if len(entries) != 0 {
		t.Errorf("rejected upload left on disk: %v", entries)
	}
}

// ---------------------------------------------------------------------------
// GET /upload/{id}
// ---------------------------------------------------------------------------

func TestHandleJob(t *testing.T) {
	t.Parallel()

	ing := &fakeIngester{jobs: map[string]ingestion.Job{
		"job-1": {ID: "job-1", Filename: "a.md", State: ingestion.StateFailed, Error: "parse failed"},
	}}
	s, _ := newTestServer(t, nil, ing)

	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/upload/job-1", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var j ingestion.Job
	if err := json.NewDecoder(w.Body).Decode(&j); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if j.State != ingestion.StateFailed || j.Error != "parse failed" {
		t.Errorf("unexpected job: %+v", j)
	}

	w = httptest.NewRecorder()
	s.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/upload/missing", nil))
	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", w.Code)
	}
}
