// Package gateway exposes the scheduler over a small JSON HTTP API.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/dohr-michael/tempus/internal/events"
	"github.com/dohr-michael/tempus/internal/scheduler"
	"github.com/dohr-michael/tempus/internal/storage"
	"github.com/dohr-michael/tempus/internal/tasks"
)

// Server is the tempus gateway HTTP server.
type Server struct {
	httpServer *http.Server
	manager    *scheduler.Manager
	bus        *events.Bus
	history    *storage.ExecutionLog
	host       string
	port       int
}

// NewServer creates a new gateway server. The history log may be nil.
func NewServer(mgr *scheduler.Manager, bus *events.Bus, history *storage.ExecutionLog, host string, port int) *Server {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)

	s := &Server{
		manager: mgr,
		bus:     bus,
		history: history,
		host:    host,
		port:    port,
	}

	// Routes
	r.Get("/api/health", s.handleHealth)
	r.Get("/api/metrics", s.handleMetrics)
	r.Get("/api/events", s.handleEvents)
	r.Get("/api/history", s.handleHistory)

	r.Get("/api/tasks", s.handleListTasks)
	r.Post("/api/tasks", s.handleCreateTask)
	r.Get("/api/tasks/{id}", s.handleGetTask)
	r.Delete("/api/tasks/{id}", s.handleDeleteTask)
	r.Post("/api/tasks/{id}/execute", s.handleExecuteTask)
	r.Post("/api/due/execute", s.handleExecuteDue)

	s.httpServer = &http.Server{
		Addr:    fmt.Sprintf("%s:%d", host, port),
		Handler: r,
	}

	return s
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler { return s.httpServer.Handler }

// Start begins listening. It blocks until the server is stopped.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return err
	}
	slog.Info("tempus gateway listening", "addr", ln.Addr().String())
	return s.httpServer.Serve(ln)
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	m, err := s.manager.Metrics(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 50)
	writeJSON(w, http.StatusOK, s.bus.History(limit))
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		http.Error(w, "execution history not configured", http.StatusServiceUnavailable)
		return
	}
	records, err := s.history.Tail(queryInt(r, "limit", 50))
	if err != nil {
		writeError(w, err)
		return
	}
	if records == nil {
		records = []storage.ExecutionRecord{}
	}
	writeJSON(w, http.StatusOK, records)
}

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	list, err := s.manager.FindTasks(r.Context(), filterFromQuery(r))
	if err != nil {
		writeError(w, err)
		return
	}
	if list == nil {
		list = []*tasks.Task{}
	}
	writeJSON(w, http.StatusOK, list)
}

// createTaskRequest is a task plus the optional agent scope.
type createTaskRequest struct {
	tasks.Task
	AgentID string `json:"agentId,omitempty"`
}

func (s *Server) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	var req createTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}

	agentID := req.AgentID
	if agentID == "" {
		agentID = r.URL.Query().Get("agent")
	}

	var (
		created *tasks.Task
		err     error
	)
	if agentID != "" {
		created, err = s.manager.CreateTaskForAgent(r.Context(), &req.Task, agentID)
	} else {
		created, err = s.manager.CreateTask(r.Context(), &req.Task)
	}
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	t, err := s.manager.GetTask(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (s *Server) handleDeleteTask(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	ok, err := s.manager.DeleteTask(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	if !ok {
		http.Error(w, "task not found: "+id, http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"deleted": true})
}

func (s *Server) handleExecuteTask(w http.ResponseWriter, r *http.Request) {
	result, err := s.manager.ExecuteTaskNow(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleExecuteDue(w http.ResponseWriter, r *http.Request) {
	var (
		results []scheduler.ExecutionResult
		err     error
	)
	if agent := r.URL.Query().Get("agent"); agent != "" {
		results, err = s.manager.ExecuteDueTasksForAgent(r.Context(), agent)
	} else {
		results, err = s.manager.ExecuteDueTasks(r.Context())
	}
	if err != nil {
		writeError(w, err)
		return
	}
	if results == nil {
		results = []scheduler.ExecutionResult{}
	}
	writeJSON(w, http.StatusOK, results)
}

// filterFromQuery maps URL query parameters onto a task filter.
func filterFromQuery(r *http.Request) tasks.Filter {
	q := r.URL.Query()
	f := tasks.Filter{
		Name:          q.Get("name"),
		NameContains:  q.Get("nameContains"),
		Limit:         queryInt(r, "limit", 0),
		Offset:        queryInt(r, "offset", 0),
		SortBy:        q.Get("sortBy"),
		SortDirection: q.Get("sortDirection"),
	}
	for _, s := range splitCSV(q.Get("status")) {
		f.Statuses = append(f.Statuses, tasks.Status(strings.ToUpper(s)))
	}
	for _, s := range splitCSV(q.Get("type")) {
		f.ScheduleTypes = append(f.ScheduleTypes, tasks.ScheduleType(strings.ToUpper(s)))
	}
	f.Tags = splitCSV(q.Get("tags"))
	f.AnyTags = splitCSV(q.Get("anyTags"))
	if v := q.Get("minPriority"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			f.MinPriority = &n
		}
	}
	if v := q.Get("maxPriority"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			f.MaxPriority = &n
		}
	}
	if q.Get("dueNow") == "true" {
		f.IsDueNow = true
	}
	if q.Get("overdue") == "true" {
		f.IsOverdue = true
	}
	if agent := q.Get("agent"); agent != "" {
		f.Metadata = map[string]any{tasks.MetadataAgentKey + ".id": agent}
	}
	return f
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func queryInt(r *http.Request, key string, def int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError maps registry errors onto HTTP statuses.
func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, tasks.ErrTaskNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, tasks.ErrInvalidTask):
		http.Error(w, err.Error(), http.StatusBadRequest)
	default:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
