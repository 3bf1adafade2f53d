package storage

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestQdrantEnsureCollection(t *testing.T) {
	var created struct {
		Vectors struct {
			Size     int    `json:"size"`
			Distance string `json:"distance"`
		} `json:"vectors"`
	}
	var sawAPIKey string

	mux := http.NewServeMux()
	mux.HandleFunc("GET /collections/tasks", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"status":{"error":"Not found"}}`, http.StatusNotFound)
	})
	mux.HandleFunc("PUT /collections/tasks", func(w http.ResponseWriter, r *http.Request) {
		sawAPIKey = r.Header.Get("api-key")
		if err := json.NewDecoder(r.Body).Decode(&created); err != nil {
			t.Errorf("decode create body: %v", err)
		}
		w.Write([]byte(`{"result":true,"status":"ok"}`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	b := NewQdrantBackend(srv.URL, "secret")
	if err := b.EnsureCollection(context.Background(), "tasks", 1536, DistanceDot); err != nil {
		t.Fatalf("EnsureCollection: %v", err)
	}
	if created.Vectors.Size != 1536 || created.Vectors.Distance != "Dot" {
		t.Errorf("create body = %+v, want size 1536 distance Dot", created.Vectors)
	}
	if sawAPIKey != "secret" {
		t.Errorf("api-key header = %q, want %q", sawAPIKey, "secret")
	}
}

func TestQdrantEnsureCollectionAlreadyExists(t *testing.T) {
	puts := 0
	mux := http.NewServeMux()
	mux.HandleFunc("GET /collections/tasks", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"result":{"status":"green"},"status":"ok"}`))
	})
	mux.HandleFunc("PUT /collections/tasks", func(w http.ResponseWriter, r *http.Request) {
		puts++
		w.Write([]byte(`{"result":true,"status":"ok"}`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	b := NewQdrantBackend(srv.URL, "")
	if err := b.EnsureCollection(context.Background(), "tasks", 1536, DistanceDot); err != nil {
		t.Fatalf("EnsureCollection: %v", err)
	}
	if puts != 0 {
		t.Errorf("existing collection was re-created %d times", puts)
	}
}

func TestQdrantScroll(t *testing.T) {
	var scrollBody map[string]any
	mux := http.NewServeMux()
	mux.HandleFunc("POST /collections/tasks/points/scroll", func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&scrollBody); err != nil {
			t.Errorf("decode scroll body: %v", err)
		}
		w.Write([]byte(`{
			"result": {
				"points": [
					{"id": "11111111-1111-1111-1111-111111111111", "payload": {"status": "PENDING"}}
				],
				"next_page_offset": "22222222-2222-2222-2222-222222222222"
			},
			"status": "ok"
		}`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	b := NewQdrantBackend(srv.URL, "")
	res, err := b.Scroll(context.Background(), "tasks", ScrollRequest{
		Filter:      &Filter{Must: []Condition{MatchValue("status", "PENDING"), TextContains("name", "rep")}},
		WithPayload: true,
		Limit:       10,
	})
	if err != nil {
		t.Fatalf("Scroll: %v", err)
	}
	if len(res.Points) != 1 || res.Points[0].Payload["status"] != "PENDING" {
		t.Fatalf("Scroll points = %+v", res.Points)
	}
	if res.NextOffset != "22222222-2222-2222-2222-222222222222" {
		t.Fatalf("NextOffset = %v", res.NextOffset)
	}

	// The wire filter must be in Qdrant's shape, with substring tests as
	// full-text match.
	filter, _ := scrollBody["filter"].(map[string]any)
	must, _ := filter["must"].([]any)
	if len(must) != 2 {
		t.Fatalf("wire filter must clauses = %v", filter)
	}
	second, _ := must[1].(map[string]any)
	match, _ := second["match"].(map[string]any)
	if match["text"] != "rep" {
		t.Errorf("substring clause rendered as %v, want full-text match", second)
	}
}

func TestQdrantCountAndDelete(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /collections/tasks/points/count", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"result":{"count":7},"status":"ok"}`))
	})
	var deleteBody map[string]any
	mux.HandleFunc("POST /collections/tasks/points/delete", func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&deleteBody)
		w.Write([]byte(`{"result":{"operation_id":1},"status":"ok"}`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	b := NewQdrantBackend(srv.URL, "")
	n, err := b.Count(context.Background(), "tasks", nil)
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if n != 7 {
		t.Errorf("Count = %d, want 7", n)
	}

	if err := b.Delete(context.Background(), "tasks", DeleteSelector{IDs: []string{"u1", "u2"}}); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	pts, _ := deleteBody["points"].([]any)
	if len(pts) != 2 {
		t.Errorf("delete body = %v, want two point ids", deleteBody)
	}
}

func TestQdrantErrorSurfacesDetail(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"status":{"error":"wrong vector size"}}`, http.StatusBadRequest)
	}))
	defer srv.Close()

	b := NewQdrantBackend(srv.URL, "")
	err := b.Upsert(context.Background(), "tasks", []Point{{ID: "x"}})
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "wrong vector size") {
		t.Errorf("error %q does not carry server detail", err)
	}
}
