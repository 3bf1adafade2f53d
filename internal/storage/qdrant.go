package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// QdrantBackend talks to a Qdrant server over its REST API. Only the
// point-store subset of the API is used; vectors are dummy placeholders
// sized at collection creation.
type QdrantBackend struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewQdrantBackend creates a client for the Qdrant server at baseURL
// (for example "http://localhost:6333"). The API key may be empty for
// unsecured deployments.
func NewQdrantBackend(baseURL, apiKey string) *QdrantBackend {
	return &QdrantBackend{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// qdrantEnvelope is the response wrapper every endpoint returns.
type qdrantEnvelope struct {
	Result json.RawMessage `json:"result"`
	Status any             `json:"status"`
}

func (b *QdrantBackend) EnsureCollection(ctx context.Context, name string, vectorSize int, distance string) error {
	exists, err := b.CollectionExists(ctx, name)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	body := map[string]any{
		"vectors": map[string]any{"size": vectorSize, "distance": distance},
	}
	if err := b.do(ctx, http.MethodPut, "/collections/"+name, body, nil); err != nil {
		return fmt.Errorf("create collection %q: %w", name, err)
	}
	return nil
}

func (b *QdrantBackend) CollectionExists(ctx context.Context, name string) (bool, error) {
	req, err := b.newRequest(ctx, http.MethodGet, "/collections/"+name, nil)
	if err != nil {
		return false, err
	}
	resp, err := b.httpClient.Do(req)
	if err != nil {
		return false, fmt.Errorf("qdrant request: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return false, nil
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return true, nil
	default:
		return false, fmt.Errorf("qdrant returned status %d for collection %q", resp.StatusCode, name)
	}
}

func (b *QdrantBackend) Collections(ctx context.Context) ([]string, error) {
	var result struct {
		Collections []struct {
			Name string `json:"name"`
		} `json:"collections"`
	}
	if err := b.do(ctx, http.MethodGet, "/collections", nil, &result); err != nil {
		return nil, fmt.Errorf("list collections: %w", err)
	}
	names := make([]string, 0, len(result.Collections))
	for _, c := range result.Collections {
		names = append(names, c.Name)
	}
	return names, nil
}

func (b *QdrantBackend) Upsert(ctx context.Context, collection string, points []Point) error {
	body := map[string]any{"points": points}
	if err := b.do(ctx, http.MethodPut, "/collections/"+collection+"/points?wait=true", body, nil); err != nil {
		return fmt.Errorf("upsert into %q: %w", collection, err)
	}
	return nil
}

func (b *QdrantBackend) SetPayload(ctx context.Context, collection string, ids []string, payload map[string]any) error {
	body := map[string]any{"payload": payload, "points": ids}
	if err := b.do(ctx, http.MethodPost, "/collections/"+collection+"/points/payload?wait=true", body, nil); err != nil {
		return fmt.Errorf("set payload in %q: %w", collection, err)
	}
	return nil
}

func (b *QdrantBackend) Retrieve(ctx context.Context, collection string, ids []string) ([]Point, error) {
	body := map[string]any{"ids": ids, "with_payload": true, "with_vector": false}
	var raw []qdrantPoint
	if err := b.do(ctx, http.MethodPost, "/collections/"+collection+"/points", body, &raw); err != nil {
		return nil, fmt.Errorf("retrieve from %q: %w", collection, err)
	}
	points := make([]Point, 0, len(raw))
	for _, qp := range raw {
		points = append(points, qp.toPoint())
	}
	return points, nil
}

func (b *QdrantBackend) Scroll(ctx context.Context, collection string, req ScrollRequest) (ScrollResult, error) {
	body := map[string]any{
		"with_payload": req.WithPayload,
	}
	if req.Filter != nil {
		body["filter"] = qdrantFilter(req.Filter)
	}
	if req.Limit > 0 {
		body["limit"] = req.Limit
	}
	if req.Offset != nil {
		body["offset"] = req.Offset
	}

	var result struct {
		Points         []qdrantPoint `json:"points"`
		NextPageOffset any           `json:"next_page_offset"`
	}
	if err := b.do(ctx, http.MethodPost, "/collections/"+collection+"/points/scroll", body, &result); err != nil {
		return ScrollResult{}, fmt.Errorf("scroll %q: %w", collection, err)
	}

	res := ScrollResult{NextOffset: result.NextPageOffset}
	for _, qp := range result.Points {
		res.Points = append(res.Points, qp.toPoint())
	}
	return res, nil
}

func (b *QdrantBackend) Count(ctx context.Context, collection string, filter *Filter) (int, error) {
	body := map[string]any{"exact": true}
	if filter != nil {
		body["filter"] = qdrantFilter(filter)
	}
	var result struct {
		Count int `json:"count"`
	}
	if err := b.do(ctx, http.MethodPost, "/collections/"+collection+"/points/count", body, &result); err != nil {
		return 0, fmt.Errorf("count %q: %w", collection, err)
	}
	return result.Count, nil
}

func (b *QdrantBackend) Delete(ctx context.Context, collection string, sel DeleteSelector) error {
	var body map[string]any
	switch {
	case len(sel.IDs) > 0:
		body = map[string]any{"points": sel.IDs}
	case sel.Filter != nil:
		body = map[string]any{"filter": qdrantFilter(sel.Filter)}
	default:
		return nil
	}
	if err := b.do(ctx, http.MethodPost, "/collections/"+collection+"/points/delete?wait=true", body, nil); err != nil {
		return fmt.Errorf("delete from %q: %w", collection, err)
	}
	return nil
}

// qdrantPoint tolerates ids arriving as strings or numbers.
type qdrantPoint struct {
	ID      any            `json:"id"`
	Vector  []float32      `json:"vector,omitempty"`
	Payload map[string]any `json:"payload,omitempty"`
}

func (qp qdrantPoint) toPoint() Point {
	return Point{ID: fmt.Sprint(qp.ID), Vector: qp.Vector, Payload: qp.Payload}
}

// qdrantFilter renders the shared DSL in Qdrant's wire format. The only
// divergence is the substring condition, which Qdrant expresses as a
// full-text match.
func qdrantFilter(f *Filter) map[string]any {
	out := make(map[string]any, 2)
	if len(f.Must) > 0 {
		out["must"] = qdrantConditions(f.Must)
	}
	if len(f.MustNot) > 0 {
		out["must_not"] = qdrantConditions(f.MustNot)
	}
	return out
}

func qdrantConditions(conds []Condition) []map[string]any {
	out := make([]map[string]any, 0, len(conds))
	for _, c := range conds {
		switch {
		case len(c.HasID) > 0:
			out = append(out, map[string]any{"has_id": c.HasID})
		case c.Match != nil && c.Match.Any != nil:
			out = append(out, map[string]any{"key": c.Key, "match": map[string]any{"any": c.Match.Any}})
		case c.Match != nil:
			out = append(out, map[string]any{"key": c.Key, "match": map[string]any{"value": c.Match.Value}})
		case c.Range != nil:
			rng := make(map[string]any, 2)
			if c.Range.GTE != nil {
				rng["gte"] = *c.Range.GTE
			}
			if c.Range.LTE != nil {
				rng["lte"] = *c.Range.LTE
			}
			out = append(out, map[string]any{"key": c.Key, "range": rng})
		case c.Text != nil:
			out = append(out, map[string]any{"key": c.Key, "match": map[string]any{"text": c.Text.Contains}})
		}
	}
	return out
}

func (b *QdrantBackend) newRequest(ctx context.Context, method, path string, body any) (*http.Request, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, b.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if b.apiKey != "" {
		req.Header.Set("api-key", b.apiKey)
	}
	return req, nil
}

// do performs a request and decodes the result envelope into out.
func (b *QdrantBackend) do(ctx context.Context, method, path string, body, out any) error {
	req, err := b.newRequest(ctx, method, path, body)
	if err != nil {
		return err
	}
	resp, err := b.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("qdrant request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("qdrant returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(detail)))
	}

	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}

	var envelope qdrantEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	if err := json.Unmarshal(envelope.Result, out); err != nil {
		return fmt.Errorf("decode result: %w", err)
	}
	return nil
}
