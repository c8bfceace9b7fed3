package vectorstore

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteBackend keeps points in a local SQLite file and scores them with a
// full cosine scan. Suitable for a single user's story history.
type SQLiteBackend struct {
	db *sql.DB
}

func NewSQLiteBackend(dbPath string) (*SQLiteBackend, error) {
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0750); err != nil {
			return nil, fmt.Errorf("failed to create db directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	b := &SQLiteBackend{db: db}
	if err := b.initSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return b, nil
}

func (b *SQLiteBackend) initSchema() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS collections (
			name TEXT PRIMARY KEY,
			dimension INTEGER NOT NULL,
			distance TEXT NOT NULL,
			created_at DATETIME
		);`,
		`CREATE TABLE IF NOT EXISTS points (
			collection TEXT NOT NULL,
			id TEXT NOT NULL,
			vector BLOB NOT NULL,
			payload TEXT,
			updated_at DATETIME,
			PRIMARY KEY (collection, id),
			FOREIGN KEY(collection) REFERENCES collections(name)
		);`,
	}

	for _, query := range queries {
		if _, err := b.db.Exec(query); err != nil {
			return fmt.Errorf("failed to init schema: %w", err)
		}
	}
	return nil
}

func (b *SQLiteBackend) Describe(ctx context.Context, name string) (Collection, error) {
	c := Collection{Name: name}
	var distance string
	err := b.db.QueryRowContext(ctx, `SELECT dimension, distance FROM collections WHERE name = ?`, name).
		Scan(&c.Dimension, &distance)
	if errors.Is(err, sql.ErrNoRows) {
		return Collection{}, fmt.Errorf("%w: %s", ErrCollectionNotFound, name)
	}
	if err != nil {
		return Collection{}, err
	}
	c.Distance = Distance(distance)
	return c, nil
}

func (b *SQLiteBackend) CreateCollection(ctx context.Context, c Collection) error {
	query := `INSERT INTO collections (name, dimension, distance, created_at) VALUES (?, ?, ?, ?)`
	_, err := b.db.ExecContext(ctx, query, c.Name, c.Dimension, string(c.Distance), time.Now())
	return err
}

func (b *SQLiteBackend) Upsert(ctx context.Context, collection string, p Point) error {
	c, err := b.Describe(ctx, collection)
	if err != nil {
		return err
	}
	if len(p.Vector) != c.Dimension {
		return fmt.Errorf("point %s has %d dimensions, collection %s has %d", p.ID, len(p.Vector), collection, c.Dimension)
	}

	vecBuf := new(bytes.Buffer)
	if err := binary.Write(vecBuf, binary.LittleEndian, p.Vector); err != nil {
		return fmt.Errorf("failed to encode vector: %w", err)
	}

	payloadJSON, err := json.Marshal(p.Payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	query := `INSERT INTO points (collection, id, vector, payload, updated_at) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(collection, id) DO UPDATE SET vector = excluded.vector, payload = excluded.payload, updated_at = excluded.updated_at`
	_, err = b.db.ExecContext(ctx, query, collection, p.ID, vecBuf.Bytes(), string(payloadJSON), time.Now())
	return err
}

func (b *SQLiteBackend) Search(ctx context.Context, collection string, queryVector []float32, limit int) ([]Match, error) {
	if _, err := b.Describe(ctx, collection); err != nil {
		return nil, err
	}

	rows, err := b.db.QueryContext(ctx, `SELECT id, vector, payload FROM points WHERE collection = ?`, collection)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var scored []Match
	for rows.Next() {
		var id string
		var vecBlob []byte
		var payloadJSON string

		if err := rows.Scan(&id, &vecBlob, &payloadJSON); err != nil {
			return nil, err
		}

		vector := make([]float32, len(vecBlob)/4)
		if err := binary.Read(bytes.NewReader(vecBlob), binary.LittleEndian, &vector); err != nil {
			return nil, fmt.Errorf("failed to decode vector %s: %w", id, err)
		}

		var payload map[string]string
		if err := json.Unmarshal([]byte(payloadJSON), &payload); err != nil {
			return nil, fmt.Errorf("failed to decode payload %s: %w", id, err)
		}

		scored = append(scored, Match{
			ID:      id,
			Score:   cosineSimilarity(queryVector, vector),
			Payload: payload,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].Score > scored[j].Score
	})

	if len(scored) > limit {
		scored = scored[:limit]
	}
	return scored, nil
}

func (b *SQLiteBackend) Close() error {
	return b.db.Close()
}

func cosineSimilarity(a, b []float32) float32 {
	if len(a) != len(b) || len(a) == 0 {
		return 0.0
	}
	var dot, magA, magB float32
	for i := 0; i < len(a); i++ {
		dot += a[i] * b[i]
		magA += a[i] * a[i]
		magB += b[i] * b[i]
	}
	if magA == 0 || magB == 0 {
		return 0.0
	}
	return dot / (float32(math.Sqrt(float64(magA))) * float32(math.Sqrt(float64(magB))))
}
