package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/mux"

	"github.com/modelhost/modelhost/pkg/blobstore"
	"github.com/modelhost/modelhost/pkg/config"
	"github.com/modelhost/modelhost/pkg/digest"
	"github.com/modelhost/modelhost/pkg/manifeststore"
	"github.com/modelhost/modelhost/pkg/modelstore"
	"github.com/modelhost/modelhost/pkg/scheduler"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	blobs, err := blobstore.New(t.TempDir())
	if err != nil {
		t.Fatalf("blobstore.New: %v", err)
	}
	manifests, err := manifeststore.New(t.TempDir())
	if err != nil {
		t.Fatalf("manifeststore.New: %v", err)
	}
	cfg := &config.Config{DefaultRegistry: "registry.ollama.ai", DefaultKeepAlive: 5 * time.Minute}
	store := modelstore.New(cfg, blobs, manifests, nil, nil, nil, nil, nil, nil)
	sched := scheduler.New(1, cfg.DefaultKeepAlive, func(string) int64 { return 0 })
	return New(cfg, store, sched, nil)
}

func TestHostAllowlistRejectsDisallowedHost(t *testing.T) {
	s := newTestServer(t)
	srv := httptest.NewServer(s.Router())
	defer srv.Close()

	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/api/version", nil)
	req.Host = "evil.example.com"
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Errorf("status = %d, want 403 for a disallowed Host header", resp.StatusCode)
	}
}

func TestHostAllowlistAllowsLocalhost(t *testing.T) {
	s := newTestServer(t)
	srv := httptest.NewServer(s.Router())
	defer srv.Close()

	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/api/version", nil)
	req.Host = "localhost"
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200 for an allowed Host header", resp.StatusCode)
	}
}

func TestHandleVersion(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/api/version", nil)
	w := httptest.NewRecorder()
	s.handleVersion(w, req)

	var body map[string]string
	json.NewDecoder(w.Body).Decode(&body)
	if body["version"] != version {
		t.Errorf("version = %q, want %q", body["version"], version)
	}
}

func TestHandleHealth(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	w := httptest.NewRecorder()
	s.handleHealth(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", w.Code)
	}
}

func TestHandleTagsEmptyStore(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/api/tags", nil)
	w := httptest.NewRecorder()
	s.handleTags(w, req)

	var body map[string]any
	json.NewDecoder(w.Body).Decode(&body)
	models, _ := body["models"].([]any)
	if len(models) != 0 {
		t.Errorf("handleTags on an empty store returned %d models, want 0", len(models))
	}
}

func TestHandlePsEmptyScheduler(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/api/ps", nil)
	w := httptest.NewRecorder()
	s.handlePs(w, req)

	var body map[string]any
	json.NewDecoder(w.Body).Decode(&body)
	models, _ := body["models"].([]any)
	if len(models) != 0 {
		t.Errorf("handlePs with no loaded models returned %d entries, want 0", len(models))
	}
}

func TestHandleBlobHeadMissing(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodHead, "/api/blobs/sha256:missing", nil)
	req = mux.SetURLVars(req, map[string]string{"digest": "sha256:missing"})
	w := httptest.NewRecorder()
	s.handleBlobHead(w, req)
	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404 for a missing blob", w.Code)
	}
}

func TestHandleBlobUploadThenHead(t *testing.T) {
	s := newTestServer(t)
	content := []byte("hello world")
	d := digest.FromBytes(content)

	uploadReq := httptest.NewRequest(http.MethodPost, "/api/blobs/"+string(d), bytes.NewReader(content))
	uploadReq = mux.SetURLVars(uploadReq, map[string]string{"digest": string(d)})
	uploadW := httptest.NewRecorder()
	s.handleBlobUpload(uploadW, uploadReq)
	if uploadW.Code != http.StatusCreated {
		t.Fatalf("upload status = %d, want 201, body %s", uploadW.Code, uploadW.Body.String())
	}

	headReq := httptest.NewRequest(http.MethodHead, "/api/blobs/"+string(d), nil)
	headReq = mux.SetURLVars(headReq, map[string]string{"digest": string(d)})
	headW := httptest.NewRecorder()
	s.handleBlobHead(headW, headReq)
	if headW.Code != http.StatusOK {
		t.Errorf("head status after upload = %d, want 200", headW.Code)
	}
}

func TestHandleDeleteMissingModelReturnsError(t *testing.T) {
	s := newTestServer(t)
	body, _ := json.Marshal(DeleteRequest{Name: "nonexistent:latest"})
	req := httptest.NewRequest(http.MethodDelete, "/api/delete", bytes.NewReader(body))
	w := httptest.NewRecorder()
	s.handleDelete(w, req)
	if w.Code == http.StatusOK {
		t.Errorf("handleDelete of a nonexistent model should not return 200")
	}
}
