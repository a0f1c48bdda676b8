// Package web implements the HTTP control surface and WebSocket transport
// (SPEC_FULL.md §6): session lifecycle endpoints, transcript access,
// project/branch management, health/metrics, and the per-connection
// WebSocket upgrade that hands off to the orchestrator.
package web

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ocotilloai/kestrel/internal/llm"
	"github.com/ocotilloai/kestrel/internal/observability"
	"github.com/ocotilloai/kestrel/internal/orchestrator"
	"github.com/ocotilloai/kestrel/internal/sessions"
	"github.com/ocotilloai/kestrel/internal/summarizer"
	"github.com/ocotilloai/kestrel/internal/tools"
)

// Server bundles every dependency the HTTP/WS surface needs to serve
// requests, following the teacher's convention of a single *Server with
// handler methods rather than free functions closing over globals.
type Server struct {
	Store        *sessions.Store
	Orchestrator *orchestrator.Orchestrator
	Provider     llm.Provider
	Model        string
	SummaryModel string
	Metrics      *observability.Metrics
	Logger       *slog.Logger

	mux *http.ServeMux
}

// NewServer wires routes onto a fresh mux and returns the Server.
func NewServer(store *sessions.Store, orch *orchestrator.Orchestrator, provider llm.Provider, model, summaryModel string, metrics *observability.Metrics, logger *slog.Logger) *Server {
	s := &Server{
		Store: store, Orchestrator: orch, Provider: provider,
		Model: model, SummaryModel: summaryModel, Metrics: metrics, Logger: logger,
	}
	s.mux = http.NewServeMux()
	s.routes()
	return s
}

// ServeHTTP implements http.Handler by delegating to the route mux. It
// does not time or log requests.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) routes() {
	s.mux.HandleFunc("POST /session/create", s.handleSessionCreate)
	s.mux.HandleFunc("GET /sessions", s.handleSessionsList)
	s.mux.HandleFunc("POST /session/{id}/rename", s.handleSessionRename)
	s.mux.HandleFunc("DELETE /session/{id}", s.handleSessionDelete)
	s.mux.HandleFunc("GET /session/{id}/transcript", s.handleTranscript)
	s.mux.HandleFunc("GET /session/{id}/transcript/download", s.handleTranscriptDownload)
	s.mux.HandleFunc("POST /session/{id}/event", s.handleRecordEvent)
	s.mux.HandleFunc("POST /session/{id}/audio", s.handleAudio)
	s.mux.HandleFunc("GET /session/{id}/ws", s.handleWebSocket)

	s.mux.HandleFunc("POST /summarize", s.handleSummarize)

	s.mux.HandleFunc("GET /projects", s.handleProjects)
	s.mux.HandleFunc("GET /project/{p}/branches", s.handleProjectBranches)
	s.mux.HandleFunc("POST /project/{p}/branch", s.handleBranchCreate)
	s.mux.HandleFunc("POST /project/{p}/merge", s.handleBranchMerge)
	s.mux.HandleFunc("POST /project/{p}/sync", s.handleBranchSync)
	s.mux.HandleFunc("POST /project/{p}/session", s.handleProjectSession)
	s.mux.HandleFunc("DELETE /project/{p}", s.handleProjectDelete)
	s.mux.HandleFunc("DELETE /project/{p}/branch/{b}", s.handleBranchDelete)

	s.mux.HandleFunc("GET /healthz", s.handleHealthz)
	s.mux.Handle("GET /metrics", promhttp.Handler())
}

func (s *Server) handleSessionCreate(w http.ResponseWriter, r *http.Request) {
	var body struct {
		CWD          string `json:"cwd"`
		CopyFromPath string `json:"copy_from_path"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	sess, err := s.Store.Create(r.Context(), sessions.CreateOptions{CWD: body.CWD, CopyFromPath: body.CopyFromPath})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if s.Metrics != nil {
		s.Metrics.SessionStarted()
	}
	writeJSON(w, http.StatusCreated, map[string]any{"session_id": sess.ID, "cwd": sess.CWD})
}

func (s *Server) handleSessionsList(w http.ResponseWriter, r *http.Request) {
	list := s.Store.List()
	out := make([]map[string]any, 0, len(list))
	for _, sess := range list {
		out = append(out, map[string]any{"id": sess.ID, "alive": true, "name": sess.Name, "cwd": sess.CWD})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleSessionRename(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var body struct {
		Name string `json:"name"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	if err := s.Store.Rename(id, body.Name); err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handleSessionDelete(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.Store.Delete(id); err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	if s.Metrics != nil {
		s.Metrics.SessionEnded()
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleTranscript(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	events, err := s.Store.GetEvents(id)
	if err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	writeJSON(w, http.StatusOK, sessions.Aggregate(events))
}

func (s *Server) handleTranscriptDownload(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	events, err := s.Store.GetEvents(id)
	if err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	for _, ev := range events {
		w.Write([]byte("[" + string(ev.Source) + "/" + string(ev.Role) + "] " + ev.Body + "\n"))
	}
}

func (s *Server) handleRecordEvent(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var body struct {
		Type    string `json:"type"`
		Role    string `json:"role"`
		Source  string `json:"source"`
		Content string `json:"content"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	ev := newEventFromAPI(body.Type, body.Role, body.Source, body.Content)
	if err := s.Store.RecordEvent(id, ev); err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handleAudio(w http.ResponseWriter, r *http.Request) {
	// Transcription is delegated to an external STT engine behind
	// internal/speech.Transcriber, which this module does not implement
	// (SPEC_FULL.md A5, explicit out-of-scope).
	writeError(w, http.StatusNotImplemented, errNoSTTConfigured)
}

func (s *Server) handleSummarize(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Text string `json:"text"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	summary := summarizer.Summarize(r.Context(), s.Provider, s.SummaryModel, body.Text)
	writeJSON(w, http.StatusOK, map[string]any{"summary": summary})
}

func (s *Server) handleProjects(w http.ResponseWriter, r *http.Request) {
	seen := map[string]bool{}
	var projects []string
	for _, sess := range s.Store.List() {
		if sess.ProjectRoot != "" && !seen[sess.ProjectRoot] {
			seen[sess.ProjectRoot] = true
			projects = append(projects, sess.ProjectRoot)
		}
	}
	writeJSON(w, http.StatusOK, projects)
}

func (s *Server) handleProjectBranches(w http.ResponseWriter, r *http.Request) {
	project := r.PathValue("p")
	entries, err := s.Store.ListProjectBranches(project)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) handleBranchCreate(w http.ResponseWriter, r *http.Request) {
	project := r.PathValue("p")
	var body struct {
		Name string `json:"name"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	dir, err := s.Store.CreateBranch(project, body.Name)
	if err != nil {
		writeError(w, http.StatusConflict, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"path": dir})
}

func (s *Server) handleBranchMerge(w http.ResponseWriter, r *http.Request) {
	project := r.PathValue("p")
	var body struct {
		Branch string `json:"branch"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	if err := s.Store.MergeBranchIntoMain(project, body.Branch); err != nil {
		writeError(w, http.StatusConflict, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handleBranchSync(w http.ResponseWriter, r *http.Request) {
	project := r.PathValue("p")
	var body struct {
		Branch string `json:"branch"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	if err := s.Store.SyncBranchFromMain(project, body.Branch); err != nil {
		writeError(w, http.StatusConflict, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handleProjectSession(w http.ResponseWriter, r *http.Request) {
	project := r.PathValue("p")
	var body struct {
		Branch string `json:"branch"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	sess, err := s.Store.Create(r.Context(), sessions.CreateOptions{CWD: project + "/" + orDefault(body.Branch, "main")})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"session_id": sess.ID, "cwd": sess.CWD})
}

func (s *Server) handleProjectDelete(w http.ResponseWriter, r *http.Request) {
	project := r.PathValue("p")
	if err := s.Store.DeleteProject(project); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleBranchDelete(w http.ResponseWriter, r *http.Request) {
	project, branch := r.PathValue("p"), r.PathValue("b")
	if err := s.Store.DeleteBranch(project, branch); err != nil {
		writeError(w, http.StatusConflict, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "time": time.Now().UTC().Format(time.RFC3339)})
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if r.Body == nil {
		return true
	}
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(v); err != nil && !strings.Contains(err.Error(), "EOF") {
		writeError(w, http.StatusBadRequest, err)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]any{"error": err.Error()})
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

var errNoSTTConfigured = errSTT{}

type errSTT struct{}

func (errSTT) Error() string { return "no speech-to-text engine configured" }
