package web

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ocotilloai/kestrel/internal/sessions"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	store, err := sessions.New(t.TempDir())
	if err != nil {
		t.Fatalf("sessions.New: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return NewServer(store, nil, nil, "test-model", "test-summary-model", nil, nil)
}

func doJSON(t *testing.T, s *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	return rec
}

func TestSessionCreateListDeleteRoundTrip(t *testing.T) {
	s := newTestServer(t)

	createRec := doJSON(t, s, http.MethodPost, "/session/create", map[string]string{"cwd": t.TempDir()})
	if createRec.Code != http.StatusCreated {
		t.Fatalf("create: expected 201, got %d: %s", createRec.Code, createRec.Body.String())
	}
	var created struct {
		SessionID string `json:"session_id"`
		CWD       string `json:"cwd"`
	}
	if err := json.Unmarshal(createRec.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode create response: %v", err)
	}
	if created.SessionID == "" {
		t.Fatalf("expected a non-empty session_id")
	}

	listRec := doJSON(t, s, http.MethodGet, "/sessions", nil)
	if listRec.Code != http.StatusOK {
		t.Fatalf("list: expected 200, got %d", listRec.Code)
	}
	var list []map[string]any
	if err := json.Unmarshal(listRec.Body.Bytes(), &list); err != nil {
		t.Fatalf("decode list response: %v", err)
	}
	if len(list) != 1 || list[0]["id"] != created.SessionID {
		t.Fatalf("expected the created session in the list, got %+v", list)
	}

	renameRec := doJSON(t, s, http.MethodPost, "/session/"+created.SessionID+"/rename", map[string]string{"name": "renamed"})
	if renameRec.Code != http.StatusOK {
		t.Fatalf("rename: expected 200, got %d", renameRec.Code)
	}

	deleteRec := doJSON(t, s, http.MethodDelete, "/session/"+created.SessionID, nil)
	if deleteRec.Code != http.StatusNoContent {
		t.Fatalf("delete: expected 204, got %d", deleteRec.Code)
	}

	transcriptRec := doJSON(t, s, http.MethodGet, "/session/"+created.SessionID+"/transcript", nil)
	if transcriptRec.Code != http.StatusNotFound {
		t.Fatalf("expected transcript lookup on a deleted session to 404, got %d", transcriptRec.Code)
	}
}

func TestSessionDeleteUnknownIDReturns404(t *testing.T) {
	s := newTestServer(t)
	rec := doJSON(t, s, http.MethodDelete, "/session/does-not-exist", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestRecordEventThenTranscriptReflectsIt(t *testing.T) {
	s := newTestServer(t)
	createRec := doJSON(t, s, http.MethodPost, "/session/create", map[string]string{"cwd": t.TempDir()})
	var created struct {
		SessionID string `json:"session_id"`
	}
	_ = json.Unmarshal(createRec.Body.Bytes(), &created)

	evRec := doJSON(t, s, http.MethodPost, "/session/"+created.SessionID+"/event", map[string]string{
		"type": "system", "role": "system", "source": "controller", "content": "hand-recorded",
	})
	if evRec.Code != http.StatusOK {
		t.Fatalf("record event: expected 200, got %d: %s", evRec.Code, evRec.Body.String())
	}

	dlRec := doJSON(t, s, http.MethodGet, "/session/"+created.SessionID+"/transcript/download", nil)
	if dlRec.Code != http.StatusOK {
		t.Fatalf("download: expected 200, got %d", dlRec.Code)
	}
	if !bytes.Contains(dlRec.Body.Bytes(), []byte("hand-recorded")) {
		t.Fatalf("expected the recorded event body in the download, got %q", dlRec.Body.String())
	}
}

func TestHealthzReportsOK(t *testing.T) {
	s := newTestServer(t)
	rec := doJSON(t, s, http.MethodGet, "/healthz", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestAudioEndpointReturnsNotImplementedWithoutSTT(t *testing.T) {
	s := newTestServer(t)
	createRec := doJSON(t, s, http.MethodPost, "/session/create", map[string]string{"cwd": t.TempDir()})
	var created struct {
		SessionID string `json:"session_id"`
	}
	_ = json.Unmarshal(createRec.Body.Bytes(), &created)

	rec := doJSON(t, s, http.MethodPost, "/session/"+created.SessionID+"/audio", nil)
	if rec.Code != http.StatusNotImplemented {
		t.Fatalf("expected 501 without a configured STT engine, got %d", rec.Code)
	}
}
