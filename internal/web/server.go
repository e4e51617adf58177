// Package web serves a JSON API over a form session.
package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/MinBZK/par-dpia-form/internal/answer"
	"github.com/MinBZK/par-dpia-form/internal/dependency"
	"github.com/MinBZK/par-dpia-form/internal/instance"
	"github.com/MinBZK/par-dpia-form/internal/logging"
	"github.com/MinBZK/par-dpia-form/internal/session"
	"github.com/MinBZK/par-dpia-form/internal/snapshot"
	"github.com/MinBZK/par-dpia-form/internal/task"
	"github.com/rs/zerolog"
)

const maxBodyBytes = 16 << 20

// Server provides the API handlers. Every request holds the session lock.
type Server struct {
	mu      sync.Mutex
	session *session.Session
	logger  zerolog.Logger
	now     func() time.Time
}

// NewServer creates a server over s.
func NewServer(s *session.Session) *Server {
	return &Server{session: s, logger: logging.Component("web"), now: time.Now}
}

// Routes returns the router for the API.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/namespaces", s.handleNamespaces)
	mux.HandleFunc("GET /api/namespaces/{ns}/tree", s.handleTree)
	mux.HandleFunc("GET /api/namespaces/{ns}/values/{id}", s.handleValue)
	mux.HandleFunc("PUT /api/namespaces/{ns}/answers/{id}", s.handleSetAnswer)
	mux.HandleFunc("DELETE /api/namespaces/{ns}/answers/{id}", s.handleClearAnswer)
	mux.HandleFunc("POST /api/namespaces/{ns}/instances", s.handleAddInstance)
	mux.HandleFunc("DELETE /api/namespaces/{ns}/instances/{id}", s.handleRemoveInstance)
	mux.HandleFunc("POST /api/namespaces/{ns}/sync", s.handleSync)
	mux.HandleFunc("POST /api/namespaces/{ns}/prune", s.handlePrune)
	mux.HandleFunc("GET /api/namespaces/{ns}/assessments", s.handleAssessments)
	mux.HandleFunc("GET /api/namespaces/{ns}/navigation", s.handleGetNavigation)
	mux.HandleFunc("POST /api/namespaces/{ns}/navigation", s.handleNavigate)
	mux.HandleFunc("GET /api/preview/{taskId}", s.handlePreview)
	mux.HandleFunc("GET /api/export", s.handleExport)
	mux.HandleFunc("POST /api/import", s.handleImport)
	return s.logRequests(mux)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.logger.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", rec.status).
			Dur("duration", time.Since(start)).
			Msg("web: request")
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

type errorBody struct {
	Error string        `json:"error"`
	Code  snapshot.Code `json:"code,omitempty"`
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn().Err(err).Msg("web: failed to write response")
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	var verr *snapshot.ValidationError
	switch {
	case errors.As(err, &verr):
		s.writeJSON(w, http.StatusUnprocessableEntity, errorBody{Error: verr.Message, Code: verr.Code})
		return
	case errors.Is(err, session.ErrUnknownNamespace),
		errors.Is(err, session.ErrUnknownInstance),
		errors.Is(err, task.ErrTaskNotFound),
		errors.Is(err, instance.ErrParentNotFound):
		s.writeJSON(w, http.StatusNotFound, errorBody{Error: err.Error()})
	case errors.Is(err, session.ErrNotUserManaged):
		s.writeJSON(w, http.StatusConflict, errorBody{Error: err.Error()})
	case errors.Is(err, session.ErrNotRootTask), errors.Is(err, errBadRequest):
		s.writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
	default:
		s.logger.Error().Err(err).Msg("web: request failed")
		s.writeJSON(w, http.StatusInternalServerError, errorBody{Error: err.Error()})
	}
}

var errBadRequest = errors.New("bad request")

func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: %w", errBadRequest, err)
	}
	return nil
}

func (s *Server) handleNamespaces(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writeJSON(w, http.StatusOK, map[string]any{
		"namespaces": s.session.Names(),
		"active":     s.session.Active(),
	})
}

func (s *Server) handleTree(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	nodes, err := s.session.Tree(r.PathValue("ns"), r.URL.Query().Get("root"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, nodes)
}

type valueResponse struct {
	InstanceID string         `json:"instanceId"`
	Value      answer.Value   `json:"value"`
	Origin     session.Origin `json:"origin,omitempty"`
}

func (s *Server) handleValue(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := r.PathValue("id")
	v, origin, err := s.session.Value(r.PathValue("ns"), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, valueResponse{InstanceID: id, Value: v, Origin: origin})
}

type answerRequest struct {
	Value answer.Value `json:"value"`
}

func (s *Server) handleSetAnswer(w http.ResponseWriter, r *http.Request) {
	var req answerRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	ns, id := r.PathValue("ns"), r.PathValue("id")
	var err error
	if req.Value.IsNull() {
		err = s.session.ClearAnswer(r.Context(), ns, id)
	} else {
		err = s.session.SetAnswer(r.Context(), ns, id, req.Value)
	}
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, valueResponse{InstanceID: id, Value: req.Value, Origin: session.OriginAnswer})
}

func (s *Server) handleClearAnswer(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.session.ClearAnswer(r.Context(), r.PathValue("ns"), r.PathValue("id")); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type addInstanceRequest struct {
	TaskID           string `json:"taskId"`
	ParentInstanceID string `json:"parentInstanceId,omitempty"`
}

func (s *Server) handleAddInstance(w http.ResponseWriter, r *http.Request) {
	var req addInstanceRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	if req.TaskID == "" {
		s.writeError(w, fmt.Errorf("%w: taskId is required", errBadRequest))
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	id, err := s.session.AddInstance(r.Context(), r.PathValue("ns"), req.TaskID, req.ParentInstanceID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, map[string]string{"instanceId": id})
}

func (s *Server) handleRemoveInstance(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.session.RemoveInstance(r.Context(), r.PathValue("ns"), r.PathValue("id")); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	report, err := s.session.SyncInstances(r.Context(), r.PathValue("ns"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]int{"created": report.Created, "removed": report.Removed})
}

func (s *Server) handlePrune(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed, err := s.session.Prune(r.Context(), r.PathValue("ns"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string][]string{"removed": removed})
}

type assessmentsResponse struct {
	Scores      map[string]float64 `json:"scores"`
	Assessments any                `json:"assessments"`
	Errors      []string           `json:"errors"`
}

func (s *Server) handleAssessments(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	res, err := s.session.Results(r.PathValue("ns"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, assessmentsResponse{
		Scores:      res.Scores,
		Assessments: res.Assessments,
		Errors:      res.ErrorMessages(),
	})
}

type navigationResponse struct {
	CurrentRootTaskID    string   `json:"currentRootTaskId"`
	CompletedRootTaskIDs []string `json:"completedRootTaskIds"`
	IsFirst              bool     `json:"isFirst"`
	IsLast               bool     `json:"isLast"`
	Moved                bool     `json:"moved"`
}

func (s *Server) navigation(ns string, moved bool) (navigationResponse, error) {
	n, err := s.session.Namespace(ns)
	if err != nil {
		return navigationResponse{}, err
	}
	return navigationResponse{
		CurrentRootTaskID:    n.CurrentRootTaskID(),
		CompletedRootTaskIDs: n.Completed(),
		IsFirst:              n.IsFirst(),
		IsLast:               n.IsLast(),
		Moved:                moved,
	}, nil
}

func (s *Server) handleGetNavigation(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	resp, err := s.navigation(r.PathValue("ns"), false)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, resp)
}

type navigateRequest struct {
	Action     string `json:"action"`
	RootTaskID string `json:"rootTaskId,omitempty"`
}

func (s *Server) handleNavigate(w http.ResponseWriter, r *http.Request) {
	var req navigateRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	ctx, ns := r.Context(), r.PathValue("ns")
	var (
		moved bool
		err   error
	)
	switch req.Action {
	case "next":
		moved, err = s.session.Next(ctx, ns)
	case "previous":
		moved, err = s.session.Previous(ctx, ns)
	case "goto":
		err = s.session.GoTo(ctx, ns, req.RootTaskID)
		moved = err == nil
	case "complete":
		err = s.session.Complete(ctx, ns, req.RootTaskID)
	default:
		err = fmt.Errorf("%w: unknown navigation action %q", errBadRequest, req.Action)
	}
	if err != nil {
		s.writeError(w, err)
		return
	}
	resp, err := s.navigation(ns, moved)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	refs := s.session.Preview(r.PathValue("taskId"))
	if refs == nil {
		refs = []dependency.Reference{}
	}
	s.writeJSON(w, http.StatusOK, refs)
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	embedded := r.URL.Query().Get("embedded") == "true"
	filename := snapshot.Filename("json", s.now())
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	if embedded {
		env, err := s.session.ExportEmbedded()
		if err != nil {
			s.writeError(w, err)
			return
		}
		s.writeJSON(w, http.StatusOK, env)
		return
	}
	s.writeJSON(w, http.StatusOK, s.session.Export())
}

func (s *Server) handleImport(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		s.writeError(w, snapshot.NewValidationError(snapshot.CodeUnreadable, err))
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var applied []string
	if r.URL.Query().Get("embedded") == "true" {
		env, err := snapshot.ReadEnvelope(raw)
		if err != nil {
			s.writeError(w, err)
			return
		}
		applied, err = s.session.ImportEmbedded(r.Context(), env)
		if err != nil {
			s.writeError(w, err)
			return
		}
	} else {
		applied, err = s.session.Import(r.Context(), raw)
		if err != nil {
			s.writeError(w, err)
			return
		}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"namespaces": applied, "active": s.session.Active()})
}
