// Package session holds the story session state machine: the Session value,
// its steps, and the transitions that call out to text, image, embedding and
// vector store services.
package session

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/felixgeelhaar/storyloom/internal/fault"
)

// Step is the position of a Session in the story flow.
type Step int

const (
	StepStart Step = iota
	StepTitleConfirm
	StepStoryGenerated
)

var stepNames = [...]string{
	StepStart:          "start",
	StepTitleConfirm:   "title_confirm",
	StepStoryGenerated: "story_generated",
}

func (s Step) String() string {
	if s < 0 || int(s) >= len(stepNames) {
		return fmt.Sprintf("step(%d)", int(s))
	}
	return stepNames[s]
}

func (s Step) MarshalText() ([]byte, error) {
	if s < 0 || int(s) >= len(stepNames) {
		return nil, fmt.Errorf("invalid step %d", int(s))
	}
	return []byte(stepNames[s]), nil
}

func (s *Step) UnmarshalText(b []byte) error {
	for i, name := range stepNames {
		if name == string(b) {
			*s = Step(i)
			return nil
		}
	}
	return fmt.Errorf("unknown step %q", b)
}

// Session is the mutable state of one interactive run. Transitions on a
// Machine are the only writers.
type Session struct {
	ID        string
	Step      Step
	Topic     string
	Title     string
	Summary   string
	Audience  Audience
	Category  string
	Story     string
	StoryID   string
	ImageURL  string
	ImageID   string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// New returns an empty session at StepStart with a fresh identity.
func New() *Session {
	now := time.Now().UTC()
	return &Session{
		ID:        uuid.NewString(),
		Step:      StepStart,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// HasStory reports whether a story has been accepted and persisted.
func (s *Session) HasStory() bool {
	return s.StoryID != ""
}

// HasImage reports whether an illustration is current.
func (s *Session) HasImage() bool {
	return s.ImageURL != ""
}

// Snapshot is the serializable form of a Session. Hosts persist it; the
// core never does.
type Snapshot struct {
	ID        string    `json:"id"`
	Step      Step      `json:"step"`
	Language  Language  `json:"language"`
	Topic     string    `json:"topic,omitempty"`
	Title     string    `json:"title,omitempty"`
	Summary   string    `json:"summary,omitempty"`
	Audience  Audience  `json:"audience,omitempty"`
	Category  string    `json:"category,omitempty"`
	Story     string    `json:"story,omitempty"`
	StoryID   string    `json:"story_id,omitempty"`
	ImageURL  string    `json:"image_url,omitempty"`
	ImageID   string    `json:"image_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Snapshot copies s into its serializable form.
func (s *Session) Snapshot(lang Language) Snapshot {
	return Snapshot{
		ID:        s.ID,
		Step:      s.Step,
		Language:  lang,
		Topic:     s.Topic,
		Title:     s.Title,
		Summary:   s.Summary,
		Audience:  s.Audience,
		Category:  s.Category,
		Story:     s.Story,
		StoryID:   s.StoryID,
		ImageURL:  s.ImageURL,
		ImageID:   s.ImageID,
		CreatedAt: s.CreatedAt,
		UpdatedAt: s.UpdatedAt,
	}
}

// Restore rebuilds a Session from a snapshot after checking that the
// snapshot describes a reachable state.
func Restore(snap Snapshot) (*Session, error) {
	const op = "restore session"

	if snap.ID == "" {
		return nil, fault.Validation(op, "snapshot has no id")
	}
	switch snap.Step {
	case StepStart:
		if snap.Title != "" || snap.StoryID != "" || snap.ImageURL != "" {
			return nil, fault.Validation(op, "snapshot at start carries artifacts")
		}
	case StepTitleConfirm:
		if snap.Topic == "" || snap.Title == "" || snap.Summary == "" {
			return nil, fault.Validation(op, "snapshot at %s is missing topic, title or summary", snap.Step)
		}
		if snap.StoryID != "" {
			return nil, fault.Validation(op, "snapshot at %s has a story id", snap.Step)
		}
	case StepStoryGenerated:
		if snap.Title == "" || snap.Summary == "" || snap.Story == "" || snap.StoryID == "" {
			return nil, fault.Validation(op, "snapshot at %s is missing its story", snap.Step)
		}
	default:
		return nil, fault.Validation(op, "invalid step %d", int(snap.Step))
	}

	return &Session{
		ID:        snap.ID,
		Step:      snap.Step,
		Topic:     snap.Topic,
		Title:     snap.Title,
		Summary:   snap.Summary,
		Audience:  snap.Audience,
		Category:  snap.Category,
		Story:     snap.Story,
		StoryID:   snap.StoryID,
		ImageURL:  snap.ImageURL,
		ImageID:   snap.ImageID,
		CreatedAt: snap.CreatedAt,
		UpdatedAt: snap.UpdatedAt,
	}, nil
}

// MarshalSnapshot encodes a snapshot as JSON.
func MarshalSnapshot(snap Snapshot) ([]byte, error) {
	return json.Marshal(snap)
}

// UnmarshalSnapshot decodes JSON produced by MarshalSnapshot.
func UnmarshalSnapshot(data []byte) (Snapshot, error) {
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return Snapshot{}, fault.Validation("decode snapshot", "%v", err)
	}
	return snap, nil
}
