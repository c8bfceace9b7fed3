// Package export writes a session's title, story and illustration as files
// through the artifact store.
package export

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/felixgeelhaar/storyloom/internal/fault"
	"github.com/felixgeelhaar/storyloom/internal/guard"
	"github.com/felixgeelhaar/storyloom/internal/session"
	"github.com/felixgeelhaar/storyloom/internal/store"
)

// Artifact types.
const (
	TypeTitle = "title"
	TypeStory = "story"
	TypeImage = "image"
)

// DefaultMaxImageBytes caps a downloaded illustration.
const DefaultMaxImageBytes = 20 << 20

// ArtifactStore is the part of store.Storage the exporter writes to.
type ArtifactStore interface {
	SaveArtifact(ctx context.Context, a *store.Artifact, content []byte) error
}

// FileNames are the per-language names of the exported files.
type FileNames struct {
	Title string
	Story string
	Image string
}

// Names returns the file names used for lang.
func Names(lang session.Language) FileNames {
	if lang == session.English {
		return FileNames{Title: "title.txt", Story: "story.txt", Image: "illustration.png"}
	}
	return FileNames{Title: "tytul.txt", Story: "opowiesc.txt", Image: "obraz.png"}
}

type Exporter struct {
	store    ArtifactStore
	guard    *guard.Guard
	client   *http.Client
	maxBytes int64
}

type Option func(*Exporter)

func WithHTTPClient(c *http.Client) Option { return func(e *Exporter) { e.client = c } }

func WithMaxImageBytes(n int64) Option { return func(e *Exporter) { e.maxBytes = n } }

func New(st ArtifactStore, g *guard.Guard, opts ...Option) *Exporter {
	e := &Exporter{
		store:    st,
		guard:    g,
		client:   &http.Client{Timeout: 60 * time.Second},
		maxBytes: DefaultMaxImageBytes,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Title exports the title and summary as the two labeled lines.
func (e *Exporter) Title(ctx context.Context, s *session.Session, lang session.Language) (*store.Artifact, error) {
	if s.Title == "" || s.Summary == "" {
		return nil, fault.Validation("export title", "there is no title to export yet")
	}
	content := session.FormatTitleSummary(lang, s.Title, s.Summary) + "\n"
	return e.save(ctx, s, Names(lang).Title, TypeTitle, "", []byte(content))
}

// Story exports the story text.
func (e *Exporter) Story(ctx context.Context, s *session.Session, lang session.Language) (*store.Artifact, error) {
	if s.Story == "" {
		return nil, fault.Validation("export story", "there is no story to export yet")
	}
	return e.save(ctx, s, Names(lang).Story, TypeStory, "", []byte(s.Story+"\n"))
}

// Image downloads the current illustration and exports it.
func (e *Exporter) Image(ctx context.Context, s *session.Session, lang session.Language) (*store.Artifact, error) {
	if s.ImageURL == "" {
		return nil, fault.Validation("export image", "there is no illustration to export yet")
	}
	data, err := e.fetch(ctx, s.ImageURL)
	if err != nil {
		return nil, fmt.Errorf("export image: %w", err)
	}
	return e.save(ctx, s, Names(lang).Image, TypeImage, s.ImageURL, data)
}

// All exports every artifact the session has so far. It fails only when
// there is nothing to export or a write fails.
func (e *Exporter) All(ctx context.Context, s *session.Session, lang session.Language) ([]*store.Artifact, error) {
	var out []*store.Artifact
	steps := []struct {
		have bool
		fn   func(context.Context, *session.Session, session.Language) (*store.Artifact, error)
	}{
		{s.Title != "", e.Title},
		{s.Story != "", e.Story},
		{s.ImageURL != "", e.Image},
	}
	for _, step := range steps {
		if !step.have {
			continue
		}
		a, err := step.fn(ctx, s, lang)
		if err != nil {
			return out, err
		}
		out = append(out, a)
	}
	if len(out) == 0 {
		return nil, fault.Validation("export", "nothing to export yet")
	}
	return out, nil
}

func (e *Exporter) save(ctx context.Context, s *session.Session, name, typ, source string, content []byte) (*store.Artifact, error) {
	if v := e.guard.CheckExportName(name); v != nil {
		return nil, fault.Validation("export", "%s", v.Message)
	}
	a := &store.Artifact{
		ID:        uuid.NewString(),
		SessionID: s.ID,
		Name:      name,
		Type:      typ,
		Source:    source,
	}
	if err := e.store.SaveArtifact(ctx, a, content); err != nil {
		return nil, fault.Store("export "+typ, err)
	}
	return a, nil
}

var errNotImage = errors.New("response is not an image")

func (e *Exporter) fetch(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("invalid illustration url: %w", err)
	}
	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch illustration: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch illustration: status %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "" && !strings.HasPrefix(ct, "image/") {
		return nil, fmt.Errorf("fetch illustration: %w (%s)", errNotImage, ct)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, e.maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read illustration: %w", err)
	}
	if int64(len(data)) > e.maxBytes {
		return nil, fmt.Errorf("illustration is larger than %d bytes", e.maxBytes)
	}
	return data, nil
}
