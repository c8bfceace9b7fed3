package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a session or artifact does not exist.
var ErrNotFound = errors.New("not found")

// SessionRecord is a stored session snapshot. Step, Topic and Title are
// copied out of the snapshot for listing.
type SessionRecord struct {
	ID        string
	Step      string
	Topic     string
	Title     string
	Snapshot  []byte
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Artifact is an exported file belonging to a session.
type Artifact struct {
	ID        string
	SessionID string
	Name      string // file name inside the session's directory
	Path      string // relative to the artifact root, set by SaveArtifact
	Type      string // "title", "story" or "image"
	Source    string // where the content came from, e.g. the image URL
	Size      int64
	Digest    string // sha256 of the content, set by SaveArtifact
	CreatedAt time.Time
}

// Storage defines the interface for persistence
type Storage interface {
	// SaveSession inserts or replaces a session snapshot.
	SaveSession(ctx context.Context, rec *SessionRecord) error
	GetSession(ctx context.Context, id string) (*SessionRecord, error)
	// ListSessions returns the most recently updated sessions first.
	ListSessions(ctx context.Context, limit int) ([]*SessionRecord, error)

	// SaveArtifact writes content under the session's directory and records
	// its metadata. Saving the same name again replaces it.
	SaveArtifact(ctx context.Context, a *Artifact, content []byte) error
	GetArtifact(ctx context.Context, id string) (*Artifact, []byte, error)
	ListArtifacts(ctx context.Context, sessionID string) ([]*Artifact, error)

	SetConfig(key, value string) error
	GetConfig(key string) (string, error)
	ListConfig() (map[string]string, error)

	Close() error
}
