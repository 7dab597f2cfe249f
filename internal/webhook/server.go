// internal/webhook/server.go
package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/user/agentrelay/internal/gateway"
	"github.com/user/agentrelay/internal/process"
	"github.com/user/agentrelay/internal/state"
	"github.com/user/agentrelay/internal/store"
	"github.com/user/agentrelay/internal/types"
)

const defaultLimit = 200

// Submitter accepts requests for the agent. *gateway.Scheduler implements it.
type Submitter interface {
	Submit(prompt string, origin types.Origin, source types.Source) (*types.Request, error)
	Stats() gateway.Stats
}

// ErrorLog lists journaled failures. *store.Journal implements it.
type ErrorLog interface {
	Errors(ctx context.Context, limit int) ([]store.ErrorEntry, error)
}

// Deps are the server's collaborators. Everything but Scheduler and Registry
// is optional; endpoints whose dependency is missing answer 503.
type Deps struct {
	Scheduler Submitter
	Registry  *process.Registry
	Tasks     *state.TaskStore
	Sessions  types.SessionStore
	Events    types.EventStore
	Journal   ErrorLog
	Metrics   http.Handler
}

// Server is the operator HTTP API and webhook ingress.
type Server struct {
	deps   Deps
	mux    *http.ServeMux
	logger *slog.Logger
}

// NewServer registers every route on a fresh mux.
func NewServer(deps Deps) *Server {
	s := &Server{
		deps:   deps,
		mux:    http.NewServeMux(),
		logger: slog.Default().With("component", "http"),
	}
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("POST /webhook", s.handleAdHoc)
	s.mux.HandleFunc("POST /webhook/{name}", s.handleNamedTask)
	s.mux.HandleFunc("GET /api/status", s.handleStatus)
	s.mux.HandleFunc("GET /api/processes", s.handleProcesses)
	s.mux.HandleFunc("GET /api/processes/{ref}", s.handleProcess)
	s.mux.HandleFunc("POST /api/processes/{ref}/interrupt", s.handleInterrupt)
	s.mux.HandleFunc("POST /api/processes/killall", s.handleKillAll)
	s.mux.HandleFunc("GET /api/session", s.handleSession)
	s.mux.HandleFunc("GET /api/events", s.handleEvents)
	s.mux.HandleFunc("GET /api/errors", s.handleErrors)
	if deps.Metrics != nil {
		s.mux.Handle("GET /metrics", deps.Metrics)
	}
	return s
}

// ServeHTTP delegates to the internal mux, implementing http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	_, running := s.deps.Registry.Running()
	writeJSON(w, http.StatusOK, map[string]any{
		"status":      "ok",
		"queue_depth": s.deps.Scheduler.Stats().Depth,
		"running":     running,
	})
}

// adHocRequest is the JSON body for POST /webhook.
type adHocRequest struct {
	Prompt string `json:"prompt"`
	Origin string `json:"origin"`
}

type acceptedResponse struct {
	RequestID types.RequestID `json:"request_id"`
	Depth     int             `json:"queue_depth"`
}

func (s *Server) handleAdHoc(w http.ResponseWriter, r *http.Request) {
	var req adHocRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if strings.TrimSpace(req.Prompt) == "" || req.Origin == "" {
		writeError(w, http.StatusBadRequest, "prompt and origin are required")
		return
	}
	s.enqueue(w, req.Prompt, types.Origin(req.Origin), types.SourceUserText)
}

// namedTaskRequest is the optional JSON body for POST /webhook/{name}.
type namedTaskRequest struct {
	Prompt string `json:"prompt"`
}

func (s *Server) handleNamedTask(w http.ResponseWriter, r *http.Request) {
	if s.deps.Tasks == nil {
		writeError(w, http.StatusServiceUnavailable, "tasks not configured")
		return
	}
	name := r.PathValue("name")
	task, err := s.deps.Tasks.Get(name)
	if err != nil {
		writeError(w, http.StatusNotFound, "task not found")
		return
	}
	if !task.Enabled {
		writeError(w, http.StatusForbidden, "task is disabled")
		return
	}

	prompt := task.Prompt
	// Allow body to override the prompt
	var body namedTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err == nil && body.Prompt != "" {
		prompt = body.Prompt
	}
	s.enqueue(w, prompt, task.Origin, types.SourceScheduled)
}

func (s *Server) enqueue(w http.ResponseWriter, prompt string, origin types.Origin, source types.Source) {
	req, err := s.deps.Scheduler.Submit(prompt, origin, source)
	if err != nil {
		s.logger.Error("webhook enqueue failed", "error", err)
		writeError(w, http.StatusServiceUnavailable, "shutting down")
		return
	}
	s.logger.Info("webhook request accepted", "request_id", req.ID, "origin", string(origin), "source", string(source))
	writeJSON(w, http.StatusAccepted, acceptedResponse{RequestID: req.ID, Depth: s.deps.Scheduler.Stats().Depth})
}

type statusResponse struct {
	Depth     int             `json:"queue_depth"`
	Paused    bool            `json:"paused"`
	Processed int             `json:"processed"`
	Failed    int             `json:"failed"`
	Since     string          `json:"since"`
	Current   types.RequestID `json:"current_request,omitempty"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	st := s.deps.Scheduler.Stats()
	resp := statusResponse{
		Depth:     st.Depth,
		Paused:    st.Paused,
		Processed: st.Processed,
		Failed:    st.Failed,
		Since:     st.Since.Format("2006-01-02T15:04:05Z07:00"),
	}
	if st.Current != nil {
		resp.Current = st.Current.Request.ID
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleProcesses(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Registry.List())
}

func (s *Server) handleProcess(w http.ResponseWriter, r *http.Request) {
	rec, err := s.deps.Registry.Lookup(r.PathValue("ref"))
	if err != nil {
		s.writeLookupError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleInterrupt(w http.ResponseWriter, r *http.Request) {
	rec, err := s.deps.Registry.Interrupt(r.PathValue("ref"), process.CauseInterrupt)
	if err != nil {
		s.writeLookupError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleKillAll(w http.ResponseWriter, r *http.Request) {
	n := s.deps.Registry.InterruptAll(process.CauseInterrupt)
	writeJSON(w, http.StatusOK, map[string]int{"interrupted": n})
}

func (s *Server) writeLookupError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, process.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, process.ErrAmbiguous):
		writeError(w, http.StatusConflict, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	if s.deps.Sessions == nil {
		writeError(w, http.StatusServiceUnavailable, "sessions not configured")
		return
	}
	sess, err := s.deps.Sessions.Current(r.Context())
	if err != nil {
		s.logger.Error("read session failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if sess == nil {
		writeError(w, http.StatusNotFound, "no session")
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func limitParam(r *http.Request) int {
	if q := r.URL.Query().Get("limit"); q != "" {
		if n, err := strconv.Atoi(q); err == nil && n > 0 {
			return n
		}
	}
	return defaultLimit
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if s.deps.Events == nil {
		writeError(w, http.StatusServiceUnavailable, "events not configured")
		return
	}
	events, err := s.deps.Events.Tail(r.Context(), limitParam(r))
	if err != nil {
		s.logger.Error("tail events failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if events == nil {
		events = []*types.Event{}
	}
	writeJSON(w, http.StatusOK, events)
}

func (s *Server) handleErrors(w http.ResponseWriter, r *http.Request) {
	if s.deps.Journal == nil {
		writeError(w, http.StatusServiceUnavailable, "journal not configured")
		return
	}
	entries, err := s.deps.Journal.Errors(r.Context(), limitParam(r))
	if err != nil {
		s.logger.Error("list errors failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if entries == nil {
		entries = []store.ErrorEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}
