package http

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/pkg/errors"

	"github.com/Balli0706/automotive-pim-dam/internal/log"
	"github.com/Balli0706/automotive-pim-dam/pkg/models"
	"github.com/Balli0706/automotive-pim-dam/pkg/service"
	"github.com/Balli0706/automotive-pim-dam/pkg/storage"
)

// Server exposes the workflow engine, task queue and audit log over HTTP.
// Authentication is out of scope: the caller's identity and role arrive in
// the request body and are trusted, the auth provider sits in front.
type Server struct {
	registry *service.RegistryService
	engine   *service.WorkflowService
	tasks    *service.TaskService
	audit    *service.AuditService
}

func NewServer(registry *service.RegistryService, engine *service.WorkflowService, tasks *service.TaskService, audit *service.AuditService) *Server {
	return &Server{
		registry: registry,
		engine:   engine,
		tasks:    tasks,
		audit:    audit,
	}
}

// Routes builds the request mux.
func (s *Server) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("POST /definitions", s.handleRegisterDefinition)
	mux.HandleFunc("GET /definitions", s.handleListDefinitions)
	mux.HandleFunc("GET /definitions/{id}", s.handleGetDefinition)
	mux.HandleFunc("POST /runs", s.handleStartRun)
	mux.HandleFunc("GET /runs", s.handleListRuns)
	mux.HandleFunc("GET /runs/{id}", s.handleGetRun)
	mux.HandleFunc("POST /runs/{id}/cancel", s.handleCancelRun)
	mux.HandleFunc("GET /runs/{id}/audit", s.handleRunAudit)
	mux.HandleFunc("GET /tasks", s.handleListTasks)
	mux.HandleFunc("POST /tasks/{id}/resolve", s.handleResolveTask)
	mux.HandleFunc("POST /tasks/{id}/assign", s.handleAssignTask)
	return mux
}

// StartServer runs the HTTP server on the given port, blocking.
func StartServer(port string, srv *Server) error {
	log.GetLogger().Infof("Starting approval workflow server on :%s", port)
	return http.ListenAndServe(":"+port, srv.Routes())
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	fmt.Fprintf(w, "Approval workflow server is running")
}

func (s *Server) handleRegisterDefinition(w http.ResponseWriter, r *http.Request) {
	var def models.WorkflowDefinition
	if err := json.NewDecoder(r.Body).Decode(&def); err != nil {
		http.Error(w, fmt.Sprintf("Invalid definition payload: %v", err), http.StatusBadRequest)
		return
	}
	if err := s.registry.Register(def); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, def)
}

func (s *Server) handleListDefinitions(w http.ResponseWriter, r *http.Request) {
	defs, err := s.registry.List()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, defs)
}

func (s *Server) handleGetDefinition(w http.ResponseWriter, r *http.Request) {
	def, err := s.registry.Get(r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, def)
}

type startRunRequest struct {
	DefinitionID string `json:"definition_id"`
	EntityKind   string `json:"entity_kind"`
	EntityID     string `json:"entity_id"`
	Initiator    string `json:"initiator"`
}

func (s *Server) handleStartRun(w http.ResponseWriter, r *http.Request) {
	var req startRunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("Invalid run payload: %v", err), http.StatusBadRequest)
		return
	}
	if req.DefinitionID == "" || req.EntityID == "" {
		http.Error(w, "Missing 'definition_id' or 'entity_id'", http.StatusBadRequest)
		return
	}
	run, err := s.engine.Start(r.Context(), req.DefinitionID, req.EntityKind, req.EntityID, req.Initiator)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, run)
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	runs, err := s.engine.ListRuns(models.RunStatus(r.URL.Query().Get("status")))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, runs)
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	run, err := s.engine.GetRun(r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

type cancelRunRequest struct {
	Actor  string `json:"actor"`
	Reason string `json:"reason"`
}

func (s *Server) handleCancelRun(w http.ResponseWriter, r *http.Request) {
	var req cancelRunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("Invalid cancel payload: %v", err), http.StatusBadRequest)
		return
	}
	run, err := s.engine.Cancel(r.Context(), r.PathValue("id"), req.Actor, req.Reason)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func (s *Server) handleRunAudit(w http.ResponseWriter, r *http.Request) {
	afterID, _ := strconv.ParseInt(r.URL.Query().Get("after"), 10, 64)
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	entries, err := s.audit.Query(r.PathValue("id"), afterID, limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	tasks, err := s.tasks.ListTasks(storage.TaskFilter{
		RunID:    q.Get("run_id"),
		Role:     models.Role(q.Get("role")),
		Status:   models.TaskStatus(q.Get("status")),
		Assignee: q.Get("assignee"),
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tasks)
}

type resolveTaskRequest struct {
	Actor   string `json:"actor"`
	Role    string `json:"role"`
	Outcome string `json:"outcome"`
	Note    string `json:"note"`
}

func (s *Server) handleResolveTask(w http.ResponseWriter, r *http.Request) {
	var req resolveTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("Invalid resolve payload: %v", err), http.StatusBadRequest)
		return
	}
	run, err := s.engine.ResolveTask(r.Context(), r.PathValue("id"), req.Actor, models.Role(req.Role), models.Outcome(req.Outcome), req.Note)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

type assignTaskRequest struct {
	User string `json:"user"`
}

func (s *Server) handleAssignTask(w http.ResponseWriter, r *http.Request) {
	var req assignTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("Invalid assign payload: %v", err), http.StatusBadRequest)
		return
	}
	if req.User == "" {
		http.Error(w, "Missing 'user'", http.StatusBadRequest)
		return
	}
	if err := s.tasks.Assign(r.PathValue("id"), req.User); err != nil {
		writeError(w, err)
		return
	}
	task, err := s.tasks.GetTask(r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.GetLogger().Errorf("Failed to encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, storage.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, service.ErrForbidden):
		status = http.StatusForbidden
	case errors.Is(err, service.ErrInvalidDefinition):
		status = http.StatusBadRequest
	case errors.Is(err, service.ErrInvalidOutcome):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, service.ErrAlreadyResolved),
		errors.Is(err, service.ErrAlreadyTerminal),
		errors.Is(err, service.ErrDefinitionExists):
		status = http.StatusConflict
	case errors.Is(err, service.ErrStorageUnavailable):
		status = http.StatusServiceUnavailable
	}
	if status == http.StatusInternalServerError {
		log.GetLogger().Errorf("Request failed: %v", err)
	}
	http.Error(w, err.Error(), status)
}
