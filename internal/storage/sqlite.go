package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	_ "modernc.org/sqlite"
)

// SQLiteBackend persists points in a local SQLite database. Vectors and
// payloads are stored as JSON columns; filters are evaluated in process
// over scanned rows, which keeps all bindings behaviourally identical.
type SQLiteBackend struct {
	db *sql.DB
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS collections (
	name TEXT PRIMARY KEY,
	vector_size INTEGER NOT NULL,
	distance TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS points (
	collection TEXT NOT NULL,
	id TEXT NOT NULL,
	vector_json TEXT,
	payload_json TEXT,
	PRIMARY KEY (collection, id)
);

CREATE INDEX IF NOT EXISTS idx_points_collection ON points(collection);
`

// NewSQLiteBackend opens (creating when needed) a point store at path.
func NewSQLiteBackend(path string) (*SQLiteBackend, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// modernc's driver serialises writes; a single connection avoids
	// table-lock errors under concurrent use.
	db.SetMaxOpenConns(1)

	b := &SQLiteBackend{db: db}
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return b, nil
}

// Close closes the underlying database.
func (b *SQLiteBackend) Close() error {
	return b.db.Close()
}

func (b *SQLiteBackend) EnsureCollection(ctx context.Context, name string, vectorSize int, distance string) error {
	_, err := b.db.ExecContext(ctx,
		`INSERT INTO collections (name, vector_size, distance) VALUES (?, ?, ?)
		 ON CONFLICT(name) DO NOTHING`,
		name, vectorSize, distance)
	if err != nil {
		return fmt.Errorf("ensure collection %q: %w", name, err)
	}
	return nil
}

func (b *SQLiteBackend) CollectionExists(ctx context.Context, name string) (bool, error) {
	var one int
	err := b.db.QueryRowContext(ctx, `SELECT 1 FROM collections WHERE name = ?`, name).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("collection exists %q: %w", name, err)
	}
	return true, nil
}

func (b *SQLiteBackend) Collections(ctx context.Context) ([]string, error) {
	rows, err := b.db.QueryContext(ctx, `SELECT name FROM collections ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list collections: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

func (b *SQLiteBackend) Upsert(ctx context.Context, collection string, points []Point) error {
	if err := b.requireCollection(ctx, collection, "upsert"); err != nil {
		return err
	}
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("upsert: %w", err)
	}
	defer tx.Rollback()

	for _, p := range points {
		vectorJSON, err := json.Marshal(p.Vector)
		if err != nil {
			return fmt.Errorf("marshal vector for %q: %w", p.ID, err)
		}
		payloadJSON, err := json.Marshal(p.Payload)
		if err != nil {
			return fmt.Errorf("marshal payload for %q: %w", p.ID, err)
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO points (collection, id, vector_json, payload_json) VALUES (?, ?, ?, ?)
			 ON CONFLICT(collection, id) DO UPDATE SET vector_json = excluded.vector_json, payload_json = excluded.payload_json`,
			collection, p.ID, string(vectorJSON), string(payloadJSON))
		if err != nil {
			return fmt.Errorf("upsert point %q: %w", p.ID, err)
		}
	}
	return tx.Commit()
}

func (b *SQLiteBackend) SetPayload(ctx context.Context, collection string, ids []string, payload map[string]any) error {
	points, err := b.Retrieve(ctx, collection, ids)
	if err != nil {
		return err
	}
	for i := range points {
		if points[i].Payload == nil {
			points[i].Payload = make(map[string]any, len(payload))
		}
		for k, v := range payload {
			points[i].Payload[k] = v
		}
	}
	return b.Upsert(ctx, collection, points)
}

func (b *SQLiteBackend) Retrieve(ctx context.Context, collection string, ids []string) ([]Point, error) {
	if err := b.requireCollection(ctx, collection, "retrieve"); err != nil {
		return nil, err
	}
	points := make([]Point, 0, len(ids))
	for _, id := range ids {
		var vectorJSON, payloadJSON sql.NullString
		err := b.db.QueryRowContext(ctx,
			`SELECT vector_json, payload_json FROM points WHERE collection = ? AND id = ?`,
			collection, id).Scan(&vectorJSON, &payloadJSON)
		if err == sql.ErrNoRows {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("retrieve %q: %w", id, err)
		}
		p, err := decodePoint(id, vectorJSON, payloadJSON)
		if err != nil {
			return nil, err
		}
		points = append(points, p)
	}
	return points, nil
}

func (b *SQLiteBackend) Scroll(ctx context.Context, collection string, req ScrollRequest) (ScrollResult, error) {
	matched, err := b.scan(ctx, collection, req.Filter, "scroll")
	if err != nil {
		return ScrollResult{}, err
	}

	start := 0
	if n, ok := req.Offset.(int); ok && n > 0 {
		start = n
	}
	if start > len(matched) {
		start = len(matched)
	}
	end := len(matched)
	if req.Limit > 0 && start+req.Limit < end {
		end = start + req.Limit
	}

	res := ScrollResult{Points: matched[start:end]}
	if !req.WithPayload {
		for i := range res.Points {
			res.Points[i].Payload = nil
		}
	}
	if end < len(matched) {
		res.NextOffset = end
	}
	return res, nil
}

func (b *SQLiteBackend) Count(ctx context.Context, collection string, filter *Filter) (int, error) {
	matched, err := b.scan(ctx, collection, filter, "count")
	if err != nil {
		return 0, err
	}
	return len(matched), nil
}

func (b *SQLiteBackend) Delete(ctx context.Context, collection string, sel DeleteSelector) error {
	if err := b.requireCollection(ctx, collection, "delete"); err != nil {
		return err
	}
	ids := sel.IDs
	if len(ids) == 0 {
		if sel.Filter == nil {
			return nil
		}
		matched, err := b.scan(ctx, collection, sel.Filter, "delete")
		if err != nil {
			return err
		}
		for _, p := range matched {
			ids = append(ids, p.ID)
		}
	}
	for _, id := range ids {
		if _, err := b.db.ExecContext(ctx,
			`DELETE FROM points WHERE collection = ? AND id = ?`, collection, id); err != nil {
			return fmt.Errorf("delete point %q: %w", id, err)
		}
	}
	return nil
}

// scan loads all points of a collection ordered by id and filters them
// in process.
func (b *SQLiteBackend) scan(ctx context.Context, collection string, filter *Filter, op string) ([]Point, error) {
	if err := b.requireCollection(ctx, collection, op); err != nil {
		return nil, err
	}
	rows, err := b.db.QueryContext(ctx,
		`SELECT id, vector_json, payload_json FROM points WHERE collection = ? ORDER BY id`, collection)
	if err != nil {
		return nil, fmt.Errorf("%s %q: %w", op, collection, err)
	}
	defer rows.Close()

	var matched []Point
	for rows.Next() {
		var id string
		var vectorJSON, payloadJSON sql.NullString
		if err := rows.Scan(&id, &vectorJSON, &payloadJSON); err != nil {
			return nil, err
		}
		p, err := decodePoint(id, vectorJSON, payloadJSON)
		if err != nil {
			return nil, err
		}
		if filter.Matches(p.ID, p.Payload) {
			matched = append(matched, p)
		}
	}
	return matched, rows.Err()
}

func (b *SQLiteBackend) requireCollection(ctx context.Context, collection, op string) error {
	ok, err := b.CollectionExists(ctx, collection)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%s %q: %w", op, collection, ErrCollectionNotFound)
	}
	return nil
}

func decodePoint(id string, vectorJSON, payloadJSON sql.NullString) (Point, error) {
	p := Point{ID: id}
	if vectorJSON.Valid && vectorJSON.String != "" && vectorJSON.String != "null" {
		if err := json.Unmarshal([]byte(vectorJSON.String), &p.Vector); err != nil {
			return Point{}, fmt.Errorf("decode vector for %q: %w", id, err)
		}
	}
	if payloadJSON.Valid && payloadJSON.String != "" && payloadJSON.String != "null" {
		if err := json.Unmarshal([]byte(payloadJSON.String), &p.Payload); err != nil {
			return Point{}, fmt.Errorf("decode payload for %q: %w", id, err)
		}
	}
	return p, nil
}
