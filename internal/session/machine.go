package session

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/felixgeelhaar/storyloom/internal/fault"
	"github.com/felixgeelhaar/storyloom/internal/guard"
	"github.com/felixgeelhaar/storyloom/internal/observe"
	"github.com/felixgeelhaar/storyloom/internal/vectorstore"
)

// TextGenerator produces completions.
type TextGenerator interface {
	GenerateText(ctx context.Context, prompt string, temperature float32, maxTokens int) (string, error)
}

// ImageGenerator produces an image and returns a URL it can be fetched from.
type ImageGenerator interface {
	GenerateImage(ctx context.Context, prompt string) (string, error)
}

// Embedder turns text into a vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// RecordStore persists one point per call.
type RecordStore interface {
	Upsert(ctx context.Context, collection string, p vectorstore.Point) error
}

// Payload keys and record types written to the vector store.
const (
	PayloadType     = "type"
	PayloadTitle    = "title"
	PayloadSummary  = "summary"
	PayloadAudience = "audience"
	PayloadCategory = "category"
	PayloadStoryID  = "storyId"
	PayloadImageURL = "imageUrl"
	PayloadPrompt   = "prompt"

	RecordStory = "story"
	RecordImage = "image"
)

// DefaultCollection is the vector store collection holding both record types.
const DefaultCollection = "stories"

// Deps are the services a Machine calls during transitions. Image may be
// nil, in which case illustration transitions fail validation.
type Deps struct {
	Text     TextGenerator
	Image    ImageGenerator
	Embedder Embedder
	Store    RecordStore
}

// Machine runs transitions on Sessions. A transition computes everything
// into locals and writes to the Session only once all external calls
// succeeded, so a failed transition leaves the Session as it was.
type Machine struct {
	text       TextGenerator
	image      ImageGenerator
	embedder   Embedder
	store      RecordStore
	lang       Language
	collection string
	guard      *guard.Guard
	obs        *observe.Observer
	events     *EventBus
	newID      func() string
	now        func() time.Time

	// inflight holds the ids of sessions with a transition running.
	inflight sync.Map
}

// Option configures a Machine.
type Option func(*Machine)

func WithLanguage(l Language) Option { return func(m *Machine) { m.lang = l } }

func WithCollection(name string) Option { return func(m *Machine) { m.collection = name } }

func WithGuard(g *guard.Guard) Option { return func(m *Machine) { m.guard = g } }

func WithObserver(o *observe.Observer) Option { return func(m *Machine) { m.obs = o } }

func WithEventBus(b *EventBus) Option { return func(m *Machine) { m.events = b } }

// WithIDGenerator replaces uuid.NewString for record ids.
func WithIDGenerator(f func() string) Option { return func(m *Machine) { m.newID = f } }

func NewMachine(d Deps, opts ...Option) (*Machine, error) {
	if d.Text == nil || d.Embedder == nil || d.Store == nil {
		return nil, errors.New("session: text generator, embedder and store are required")
	}
	m := &Machine{
		text:       d.Text,
		image:      d.Image,
		embedder:   d.Embedder,
		store:      d.Store,
		lang:       DefaultLanguage,
		collection: DefaultCollection,
		guard:      guard.New(guard.DefaultPolicy),
		events:     NewEventBus(),
		newID:      uuid.NewString,
		now:        func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.obs == nil {
		m.obs = observe.Discard()
	}
	return m, nil
}

func (m *Machine) Language() Language { return m.lang }

func (m *Machine) Collection() string { return m.collection }

func (m *Machine) Events() *EventBus { return m.events }

// Snapshot returns the serializable view of s.
func (m *Machine) Snapshot(s *Session) Snapshot {
	return s.Snapshot(m.lang)
}

// SubmitTopic proposes a title and summary for topic and moves s to
// StepTitleConfirm.
func (m *Machine) SubmitTopic(ctx context.Context, s *Session, topic string) error {
	return m.run(ctx, s, "submit_topic", func(ctx context.Context) error {
		const op = "submit topic"
		if s.Step != StepStart {
			return fault.Validation(op, "a topic was already submitted (step %s)", s.Step)
		}
		if v := m.guard.CheckTopic(topic); v != nil {
			return fault.Validation(op, "%s", v.Message)
		}
		topic = strings.TrimSpace(topic)

		title, summary, err := m.propose(ctx, op, topic)
		if err != nil {
			return err
		}

		s.Topic, s.Title, s.Summary = topic, title, summary
		s.Step = StepTitleConfirm
		s.UpdatedAt = m.now()
		m.publish(s, EventTitleProposed, map[string]string{PayloadTitle: title, PayloadSummary: summary})
		return nil
	})
}

// RejectTitle asks for a new proposal on the stored topic. The step stays
// StepTitleConfirm.
func (m *Machine) RejectTitle(ctx context.Context, s *Session) error {
	return m.run(ctx, s, "reject_title", func(ctx context.Context) error {
		const op = "reject title"
		if s.Step != StepTitleConfirm {
			return fault.Validation(op, "no title to reject (step %s)", s.Step)
		}

		title, summary, err := m.propose(ctx, op, s.Topic)
		if err != nil {
			return err
		}

		rejected := s.Title
		s.Title, s.Summary = title, summary
		s.UpdatedAt = m.now()
		m.publish(s, EventTitleRejected, map[string]string{"rejected": rejected})
		m.publish(s, EventTitleProposed, map[string]string{PayloadTitle: title, PayloadSummary: summary})
		return nil
	})
}

// AcceptTitle writes the story for audience and category, stores a story
// record and moves s to StepStoryGenerated.
func (m *Machine) AcceptTitle(ctx context.Context, s *Session, audience Audience, category string) error {
	return m.run(ctx, s, "accept_title", func(ctx context.Context) error {
		const op = "accept title"
		if s.Step != StepTitleConfirm {
			return fault.Validation(op, "no title to accept (step %s)", s.Step)
		}
		if s.Title == "" || s.Summary == "" {
			return fault.Validation(op, "title and summary are required")
		}
		if audience != Child && audience != Adult {
			return fault.Validation(op, "unknown audience %q", audience)
		}
		category, err := CheckCategory(m.lang, audience, category)
		if err != nil {
			return err
		}

		story, err := m.text.GenerateText(ctx, StoryPrompt(m.lang, s.Topic, audience, category),
			StoryTemperature, StoryMaxTokens)
		if err != nil {
			return fault.Generation(op, err)
		}
		story = strings.TrimSpace(story)
		if story == "" {
			return fault.Generation(op, errors.New("empty story"))
		}

		id := m.newID()
		err = m.persist(ctx, op, id, s.Title+" "+s.Summary, map[string]string{
			PayloadType:     RecordStory,
			PayloadTitle:    s.Title,
			PayloadSummary:  s.Summary,
			PayloadAudience: string(audience),
			PayloadCategory: category,
		})
		if err != nil {
			return err
		}

		s.Audience, s.Category = audience, category
		s.Story, s.StoryID = story, id
		s.Step = StepStoryGenerated
		s.UpdatedAt = m.now()
		m.publish(s, EventStoryPersisted, map[string]string{PayloadStoryID: id})
		return nil
	})
}

// GenerateIllustration creates an illustration for the accepted story and
// stores an image record pointing back at it. Every call adds a new record.
func (m *Machine) GenerateIllustration(ctx context.Context, s *Session) error {
	return m.run(ctx, s, "generate_illustration", func(ctx context.Context) error {
		return m.illustrate(ctx, s, "generate illustration")
	})
}

// RegenerateIllustration replaces the current illustration with a new one.
// The previous image record stays in the store.
func (m *Machine) RegenerateIllustration(ctx context.Context, s *Session) error {
	return m.run(ctx, s, "regenerate_illustration", func(ctx context.Context) error {
		const op = "regenerate illustration"
		if !s.HasImage() {
			return fault.Validation(op, "there is no illustration to regenerate yet")
		}
		return m.illustrate(ctx, s, op)
	})
}

// Reset replaces s with a fresh session at StepStart.
func (m *Machine) Reset(s *Session) error {
	if s == nil {
		return fault.Validation("reset", "no session")
	}
	release, err := m.acquire("reset", s)
	if err != nil {
		return err
	}
	defer release()

	previous := s.ID
	*s = *New()
	m.obs.Log().Info().Str("session", s.ID).Str("previous", previous).Msg("session reset")
	m.publish(s, EventSessionReset, map[string]string{"previous": previous})
	return nil
}

func (m *Machine) illustrate(ctx context.Context, s *Session, op string) error {
	if !s.HasStory() || s.Step != StepStoryGenerated {
		return fault.Validation(op, "accept a title and generate the story first")
	}
	if m.image == nil {
		return fault.Validation(op, "no image generator configured")
	}

	prompt := IllustrationPrompt(m.lang, s.Title, s.Summary)
	url, err := m.image.GenerateImage(ctx, prompt)
	if err != nil {
		return fault.Generation(op, err)
	}
	url = strings.TrimSpace(url)
	if url == "" {
		return fault.Generation(op, errors.New("image service returned no url"))
	}

	id := m.newID()
	err = m.persist(ctx, op, id, prompt, map[string]string{
		PayloadType:     RecordImage,
		PayloadStoryID:  s.StoryID,
		PayloadImageURL: url,
		PayloadPrompt:   prompt,
	})
	if err != nil {
		return err
	}

	s.ImageURL, s.ImageID = url, id
	s.UpdatedAt = m.now()
	m.publish(s, EventIllustrationPersisted, map[string]string{
		"imageId":       id,
		PayloadImageURL: url,
		PayloadStoryID:  s.StoryID,
	})
	return nil
}

func (m *Machine) propose(ctx context.Context, op, topic string) (string, string, error) {
	reply, err := m.text.GenerateText(ctx, TitlePrompt(m.lang, topic), TitleTemperature, TitleMaxTokens)
	if err != nil {
		return "", "", fault.Generation(op, err)
	}

	title, summary := ParseTitleSummary(m.lang, reply)
	labels := m.lang.Labels()
	switch {
	case title == "" && summary == "":
		return "", "", fault.Parse(op, "reply has neither a %q nor a %q line", labels.Title, labels.Summary)
	case title == "":
		return "", "", fault.Parse(op, "reply has no %q line", labels.Title)
	case summary == "":
		return "", "", fault.Parse(op, "reply has no %q line", labels.Summary)
	}
	return title, summary, nil
}

func (m *Machine) persist(ctx context.Context, op, id, text string, payload map[string]string) error {
	ctx, span := m.obs.StartSpan(ctx, "session.persist",
		attribute.String("record.type", payload[PayloadType]),
		attribute.String("record.id", id))

	vec, err := m.embedder.Embed(ctx, text)
	if err != nil {
		err = fault.Embedding(op, err)
		observe.EndSpan(span, err)
		return err
	}

	err = m.store.Upsert(ctx, m.collection, vectorstore.Point{ID: id, Vector: vec, Payload: payload})
	if err != nil {
		err = fault.Store(op, err)
	}
	observe.EndSpan(span, err)
	return err
}

// acquire marks the session as busy until release is called. Sessions
// are keyed by id, so a copy of a busy session is busy too.
func (m *Machine) acquire(op string, s *Session) (release func(), err error) {
	id := s.ID
	if _, busy := m.inflight.LoadOrStore(id, struct{}{}); busy {
		return nil, fault.Validation(op, "another transition is in progress on session %s", id)
	}
	return func() { m.inflight.Delete(id) }, nil
}

// run serializes transitions per session and wraps them with a span and
// log lines.
func (m *Machine) run(ctx context.Context, s *Session, name string, fn func(context.Context) error) error {
	if s == nil {
		return fault.Validation(name, "no session")
	}
	release, err := m.acquire(name, s)
	if err != nil {
		return err
	}
	defer release()

	from := s.Step
	ctx, span := m.obs.StartSpan(ctx, "session."+name,
		attribute.String("session", s.ID),
		attribute.String("step", from.String()))
	log := m.obs.Log().With().
		Str("session", s.ID).
		Str("transition", name).
		Str("step", from.String()).
		Logger()
	log.Info().Msg("transition started")

	err = fn(ctx)
	observe.EndSpan(span, err)
	if err != nil {
		kind := fault.KindOf(err).String()
		log.Error().Err(err).Str("kind", kind).Msg("transition failed")
		m.publish(s, EventTransitionFailed, map[string]string{
			"transition": name,
			"kind":       kind,
			"error":      err.Error(),
		})
		return err
	}

	log.Info().Str("to", s.Step.String()).Msg("transition finished")
	return nil
}

func (m *Machine) publish(s *Session, t EventType, data map[string]string) {
	m.events.Publish(Event{
		Type:      t,
		Timestamp: m.now(),
		SessionID: s.ID,
		Step:      s.Step,
		Data:      data,
	})
}
