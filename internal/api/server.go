// Package api exposes the analysis service over HTTP.
package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/joescharf/critic/internal/models"
	"github.com/joescharf/critic/internal/service"
	"github.com/joescharf/critic/internal/store"
)

// Server is the HTTP front-end. All behavior lives in the service layer;
// the server only translates requests and errors.
type Server struct {
	svc    *service.Service
	logger *slog.Logger
}

// NewServer wires an HTTP server around the service. logger may be nil.
func NewServer(svc *service.Service, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Server{svc: svc, logger: logger}
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/analyze", s.handleAnalyze)
	mux.HandleFunc("GET /api/v1/status/{id}", s.handleStatus)
	mux.HandleFunc("GET /api/v1/results/{id}", s.handleResult)
	mux.HandleFunc("GET /api/v1/tasks", s.handleList)
	mux.HandleFunc("POST /api/v1/tasks/{id}/cancel", s.handleCancel)
	mux.HandleFunc("POST /api/v1/webhook", s.handleWebhook)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	return s.logRequests(mux)
}

type analyzeRequest struct {
	Repository   string `json:"repository"`
	ChangeSet    int    `json:"change_set"`
	AnalysisType string `json:"analysis_type"`
}

func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	var req analyzeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, &service.Error{Kind: models.ErrKindValidation, Message: "malformed JSON body"})
		return
	}

	t, err := s.svc.Submit(r.Context(), service.SubmitRequest{
		Repo:         req.Repository,
		ChangeSet:    req.ChangeSet,
		AnalysisType: req.AnalysisType,
		AuthToken:    bearerToken(r),
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, t)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	t, err := s.svc.Status(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (s *Server) handleResult(w http.ResponseWriter, r *http.Request) {
	rep, err := s.svc.Result(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	filter := store.ListFilter{Repo: r.URL.Query().Get("repo")}
	if v := r.URL.Query().Get("change_set"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			s.writeError(w, &service.Error{Kind: models.ErrKindValidation, Message: "change_set must be a positive integer"})
			return
		}
		filter.ChangeSet = n
	}
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			s.writeError(w, &service.Error{Kind: models.ErrKindValidation, Message: "limit must be a positive integer"})
			return
		}
		filter.Limit = n
	}

	tasks, err := s.svc.List(r.Context(), filter)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"tasks": tasks, "count": len(tasks)})
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	t, err := s.svc.Cancel(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		s.writeError(w, &service.Error{Kind: models.ErrKindValidation, Message: "read payload"})
		return
	}

	t, err := s.svc.HandleWebhook(r.Context(), r.Header.Get("X-GitHub-Event"), payload)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if t == nil {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ignored"})
		return
	}
	writeJSON(w, http.StatusAccepted, t)
}

type errorBody struct {
	Error struct {
		Kind    string `json:"kind"`
		Message string `json:"message"`
	} `json:"error"`
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	var body errorBody

	if errors.Is(err, service.ErrNotReady) {
		body.Error.Kind = "not_ready"
		body.Error.Message = err.Error()
		writeJSON(w, http.StatusConflict, body)
		return
	}

	var serr *service.Error
	if errors.As(err, &serr) {
		body.Error.Kind = string(serr.Kind)
		body.Error.Message = serr.Message
		writeJSON(w, statusFor(serr.Kind), body)
		return
	}

	s.logger.Error("internal error", "error", err)
	body.Error.Kind = "internal"
	body.Error.Message = "internal server error"
	writeJSON(w, http.StatusInternalServerError, body)
}

func statusFor(kind models.ErrorKind) int {
	switch kind {
	case models.ErrKindValidation:
		return http.StatusBadRequest
	case models.ErrKindNotFound:
		return http.StatusNotFound
	case models.ErrKindInvalidTransition:
		return http.StatusConflict
	default:
		// Persisted task failures surfaced through the results endpoint.
		return http.StatusUnprocessableEntity
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func bearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	return ""
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Info("request", "method", r.Method, "path", r.URL.Path, "duration", time.Since(start))
	})
}
