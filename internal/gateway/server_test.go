package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/dohr-michael/tempus/internal/events"
	"github.com/dohr-michael/tempus/internal/scheduler"
	"github.com/dohr-michael/tempus/internal/storage"
	"github.com/dohr-michael/tempus/internal/tasks"
)

func newTestServer(t *testing.T) (*Server, *scheduler.Manager) {
	t.Helper()
	bus := events.NewBus(64)
	t.Cleanup(func() { bus.Close() })

	history := storage.NewExecutionLog(filepath.Join(t.TempDir(), "history.jsonl"))
	mgr := scheduler.NewManager(scheduler.ManagerConfig{
		Registry: tasks.NewMemoryRegistry(),
		Bus:      bus,
		History:  history,
	})
	if err := mgr.Initialize(context.Background()); err != nil {
		t.Fatalf("initialize manager: %v", err)
	}
	t.Cleanup(mgr.Dispose)

	return NewServer(mgr, bus, history, "localhost", 0), mgr
}

func doRequest(t *testing.T, srv *Server, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
	}
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	return w
}

func TestHandleHealth(t *testing.T) {
	srv, _ := newTestServer(t)

	w := doRequest(t, srv, http.MethodGet, "/api/health", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}

	var body map[string]string
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["status"] != "ok" {
		t.Fatalf("expected status %q, got %q", "ok", body["status"])
	}
}

func TestCreateAndGetTask(t *testing.T) {
	srv, _ := newTestServer(t)

	w := doRequest(t, srv, http.MethodPost, "/api/tasks", `{"name": "report", "when": "urgent"}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d: %s", w.Code, w.Body.String())
	}

	var created tasks.Task
	if err := json.NewDecoder(w.Body).Decode(&created); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if created.ID == "" {
		t.Fatal("expected assigned id")
	}
	if created.Priority != 10 {
		t.Errorf("expected vague term priority 10, got %d", created.Priority)
	}

	w = doRequest(t, srv, http.MethodGet, "/api/tasks/"+created.ID, "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}
	var got tasks.Task
	if err := json.NewDecoder(w.Body).Decode(&got); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if got.Name != "report" {
		t.Errorf("expected name report, got %q", got.Name)
	}
}

func TestCreateTaskInvalid(t *testing.T) {
	srv, _ := newTestServer(t)

	w := doRequest(t, srv, http.MethodPost, "/api/tasks", `{"description": "no name"}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", w.Code)
	}
}

func TestGetTaskNotFound(t *testing.T) {
	srv, _ := newTestServer(t)

	w := doRequest(t, srv, http.MethodGet, "/api/tasks/01HUNKNOWNUNKNOWNUNKNOWN00", "")
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", w.Code)
	}
}

func TestListTasksWithFilter(t *testing.T) {
	srv, mgr := newTestServer(t)
	ctx := context.Background()

	if _, err := mgr.CreateTaskForAgent(ctx, &tasks.Task{Name: "a1", Priority: 9}, "agent-1"); err != nil {
		t.Fatal(err)
	}
	if _, err := mgr.CreateTaskForAgent(ctx, &tasks.Task{Name: "a2", Priority: 2}, "agent-2"); err != nil {
		t.Fatal(err)
	}

	w := doRequest(t, srv, http.MethodGet, "/api/tasks?agent=agent-1", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}
	var list []*tasks.Task
	if err := json.NewDecoder(w.Body).Decode(&list); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if len(list) != 1 || list[0].Name != "a1" {
		t.Fatalf("expected only a1, got %+v", list)
	}

	w = doRequest(t, srv, http.MethodGet, "/api/tasks?minPriority=5", "")
	list = nil
	if err := json.NewDecoder(w.Body).Decode(&list); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if len(list) != 1 || list[0].Name != "a1" {
		t.Fatalf("expected only the high priority task, got %+v", list)
	}
}

func TestDeleteTask(t *testing.T) {
	srv, mgr := newTestServer(t)

	created, err := mgr.CreateTask(context.Background(), &tasks.Task{Name: "doomed"})
	if err != nil {
		t.Fatal(err)
	}

	w := doRequest(t, srv, http.MethodDelete, "/api/tasks/"+created.ID, "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}

	w = doRequest(t, srv, http.MethodDelete, "/api/tasks/"+created.ID, "")
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected status 404 on second delete, got %d", w.Code)
	}
}

func TestExecuteDue(t *testing.T) {
	srv, mgr := newTestServer(t)

	past := time.Now().Add(-time.Second)
	task := &tasks.Task{Name: "due", ScheduledTime: &past, Handler: func(ctx context.Context) (any, error) {
		return "ok", nil
	}}
	created, err := mgr.CreateTask(context.Background(), task)
	if err != nil {
		t.Fatal(err)
	}

	w := doRequest(t, srv, http.MethodPost, "/api/due/execute", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", w.Code, w.Body.String())
	}
	var results []scheduler.ExecutionResult
	if err := json.NewDecoder(w.Body).Decode(&results); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if len(results) != 1 || !results[0].Successful || results[0].TaskID != created.ID {
		t.Fatalf("unexpected results %+v", results)
	}

	// The completed run shows up in the execution history.
	w = doRequest(t, srv, http.MethodGet, "/api/history", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}
	var records []storage.ExecutionRecord
	if err := json.NewDecoder(w.Body).Decode(&records); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if len(records) != 1 || records[0].TaskID != created.ID {
		t.Fatalf("unexpected history %+v", records)
	}
}

func TestExecuteTaskNow(t *testing.T) {
	srv, mgr := newTestServer(t)

	future := time.Now().Add(time.Hour)
	created, err := mgr.CreateTask(context.Background(), &tasks.Task{
		Name:          "later",
		ScheduledTime: &future,
		Handler:       func(ctx context.Context) (any, error) { return nil, nil },
	})
	if err != nil {
		t.Fatal(err)
	}

	w := doRequest(t, srv, http.MethodPost, "/api/tasks/"+created.ID+"/execute", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}
	var result scheduler.ExecutionResult
	if err := json.NewDecoder(w.Body).Decode(&result); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if !result.Successful {
		t.Fatalf("expected success, got %+v", result)
	}
}

func TestHandleMetrics(t *testing.T) {
	srv, mgr := newTestServer(t)

	if _, err := mgr.CreateTask(context.Background(), &tasks.Task{Name: "one"}); err != nil {
		t.Fatal(err)
	}

	w := doRequest(t, srv, http.MethodGet, "/api/metrics", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}
	var m scheduler.Metrics
	if err := json.NewDecoder(w.Body).Decode(&m); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if m.TotalTasks != 1 || m.TaskStatusCounts.Pending != 1 {
		t.Fatalf("unexpected metrics %+v", m)
	}
}

func TestHandleEvents(t *testing.T) {
	srv, mgr := newTestServer(t)

	if _, err := mgr.CreateTask(context.Background(), &tasks.Task{Name: "evt"}); err != nil {
		t.Fatal(err)
	}

	// Publish is async; poll the endpoint until the event lands.
	deadline := time.Now().Add(2 * time.Second)
	for {
		w := doRequest(t, srv, http.MethodGet, "/api/events", "")
		if w.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", w.Code)
		}
		var evts []events.Event
		if err := json.NewDecoder(w.Body).Decode(&evts); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		if len(evts) >= 1 {
			if evts[0].Type != events.EventTaskCreated {
				t.Fatalf("expected task.created, got %s", evts[0].Type)
			}
			return
		}
		if time.Now().After(deadline) {
			t.Fatal("timed out waiting for task.created event")
		}
		time.Sleep(5 * time.Millisecond)
	}
}
