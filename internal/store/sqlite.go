package store

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

type SQLiteStore struct {
	db          *sql.DB
	artifactDir string
}

var _ Storage = (*SQLiteStore)(nil)

func NewSQLiteStore(dbPath, artifactDir string) (*SQLiteStore, error) {
	// Ensure directories exist
	if err := os.MkdirAll(filepath.Dir(dbPath), 0750); err != nil {
		return nil, fmt.Errorf("failed to create db directory: %w", err)
	}
	if err := os.MkdirAll(artifactDir, 0750); err != nil {
		return nil, fmt.Errorf("failed to create artifact directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	store := &SQLiteStore{
		db:          db,
		artifactDir: artifactDir,
	}

	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, err
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			step TEXT,
			topic TEXT,
			title TEXT,
			snapshot BLOB,
			created_at DATETIME,
			updated_at DATETIME
		);`,
		`CREATE TABLE IF NOT EXISTS artifacts (
			id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			name TEXT NOT NULL,
			path TEXT NOT NULL,
			type TEXT,
			source TEXT,
			size INTEGER,
			digest TEXT,
			created_at DATETIME,
			UNIQUE(session_id, name)
		);`,
		`CREATE TABLE IF NOT EXISTS configuration (
			key TEXT PRIMARY KEY,
			value TEXT
		);`,
	}

	for _, query := range queries {
		if _, err := s.db.Exec(query); err != nil {
			return fmt.Errorf("failed to init schema: %w", err)
		}
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Configuration Implementation

func (s *SQLiteStore) SetConfig(key, value string) error {
	query := `INSERT INTO configuration (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value`
	_, err := s.db.Exec(query, key, value)
	return err
}

// GetConfig returns the stored value, or "" when the key is unset.
func (s *SQLiteStore) GetConfig(key string) (string, error) {
	query := `SELECT value FROM configuration WHERE key = ?`
	var value string
	if err := s.db.QueryRow(query, key).Scan(&value); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", nil
		}
		return "", err
	}
	return value, nil
}

func (s *SQLiteStore) ListConfig() (map[string]string, error) {
	rows, err := s.db.Query(`SELECT key, value FROM configuration ORDER BY key`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, err
		}
		out[k] = v
	}
	return out, rows.Err()
}

// Session Implementation

func (s *SQLiteStore) SaveSession(ctx context.Context, rec *SessionRecord) error {
	if rec.ID == "" {
		return errors.New("session id is required")
	}
	now := time.Now().UTC()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	rec.UpdatedAt = now

	query := `INSERT INTO sessions (id, step, topic, title, snapshot, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET step = excluded.step, topic = excluded.topic, title = excluded.title,
			snapshot = excluded.snapshot, updated_at = excluded.updated_at`
	_, err := s.db.ExecContext(ctx, query, rec.ID, rec.Step, rec.Topic, rec.Title, rec.Snapshot, rec.CreatedAt, rec.UpdatedAt)
	return err
}

func (s *SQLiteStore) GetSession(ctx context.Context, id string) (*SessionRecord, error) {
	query := `SELECT id, step, topic, title, snapshot, created_at, updated_at FROM sessions WHERE id = ?`

	var rec SessionRecord
	err := s.db.QueryRowContext(ctx, query, id).
		Scan(&rec.ID, &rec.Step, &rec.Topic, &rec.Title, &rec.Snapshot, &rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("session %s: %w", id, ErrNotFound)
		}
		return nil, err
	}
	return &rec, nil
}

func (s *SQLiteStore) ListSessions(ctx context.Context, limit int) ([]*SessionRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	query := `SELECT id, step, topic, title, created_at, updated_at FROM sessions ORDER BY updated_at DESC LIMIT ?`
	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*SessionRecord
	for rows.Next() {
		var rec SessionRecord
		if err := rows.Scan(&rec.ID, &rec.Step, &rec.Topic, &rec.Title, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, &rec)
	}
	return out, rows.Err()
}

// Artifact Implementation

func (s *SQLiteStore) SaveArtifact(ctx context.Context, a *Artifact, content []byte) error {
	if a.ID == "" || a.SessionID == "" || a.Name == "" {
		return errors.New("artifact id, session id and name are required")
	}
	if a.Name != filepath.Base(a.Name) {
		return fmt.Errorf("artifact name %q must not contain a path", a.Name)
	}

	sum := sha256.Sum256(content)
	a.Digest = hex.EncodeToString(sum[:])
	a.Size = int64(len(content))
	a.Path = filepath.Join(a.SessionID, a.Name)
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}

	// 1. Save content to filesystem
	fullPath := filepath.Join(s.artifactDir, a.Path)
	if err := os.MkdirAll(filepath.Dir(fullPath), 0750); err != nil {
		return fmt.Errorf("failed to create artifact dir: %w", err)
	}
	if err := os.WriteFile(fullPath, content, 0600); err != nil {
		return fmt.Errorf("failed to write artifact content: %w", err)
	}

	// 2. Save metadata to DB
	query := `INSERT INTO artifacts (id, session_id, name, path, type, source, size, digest, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(session_id, name) DO UPDATE SET id = excluded.id, path = excluded.path, type = excluded.type,
			source = excluded.source, size = excluded.size, digest = excluded.digest, created_at = excluded.created_at`
	_, err := s.db.ExecContext(ctx, query, a.ID, a.SessionID, a.Name, a.Path, a.Type, a.Source, a.Size, a.Digest, a.CreatedAt)
	return err
}

func (s *SQLiteStore) GetArtifact(ctx context.Context, id string) (*Artifact, []byte, error) {
	// 1. Get metadata
	query := `SELECT id, session_id, name, path, type, source, size, digest, created_at FROM artifacts WHERE id = ?`

	var a Artifact
	err := s.db.QueryRowContext(ctx, query, id).
		Scan(&a.ID, &a.SessionID, &a.Name, &a.Path, &a.Type, &a.Source, &a.Size, &a.Digest, &a.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil, fmt.Errorf("artifact %s: %w", id, ErrNotFound)
		}
		return nil, nil, err
	}

	// 2. Get content
	content, err := os.ReadFile(filepath.Join(s.artifactDir, a.Path)) // #nosec G304
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read artifact content: %w", err)
	}

	return &a, content, nil
}

func (s *SQLiteStore) ListArtifacts(ctx context.Context, sessionID string) ([]*Artifact, error) {
	query := `SELECT id, session_id, name, path, type, source, size, digest, created_at
		FROM artifacts WHERE session_id = ? ORDER BY name`
	rows, err := s.db.QueryContext(ctx, query, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var artifacts []*Artifact
	for rows.Next() {
		var a Artifact
		if err := rows.Scan(&a.ID, &a.SessionID, &a.Name, &a.Path, &a.Type, &a.Source, &a.Size, &a.Digest, &a.CreatedAt); err != nil {
			return nil, err
		}
		artifacts = append(artifacts, &a)
	}
	return artifacts, rows.Err()
}

// ArtifactPath returns the absolute location of a saved artifact.
func (s *SQLiteStore) ArtifactPath(a *Artifact) string {
	return filepath.Join(s.artifactDir, a.Path)
}
