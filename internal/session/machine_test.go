package session

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/felixgeelhaar/storyloom/internal/fault"
	"github.com/felixgeelhaar/storyloom/internal/guard"
)

const kittenTopic = "a lost kitten finds its way home"

func TestNewMachine_RequiresDeps(t *testing.T) {
	_, err := NewMachine(Deps{Text: &fakeText{}})
	assert.Error(t, err)

	m, err := NewMachine(Deps{Text: &fakeText{}, Embedder: &fakeEmbedder{}, Store: &fakeStore{}})
	require.NoError(t, err)
	assert.Equal(t, Polish, m.Language())
	assert.Equal(t, DefaultCollection, m.Collection())
}

func TestMachine_EndToEndScenario(t *testing.T) {
	ctx := context.Background()
	r := newRig()
	r.text.replies = []string{kittenReply, threeParagraphs}
	r.image.urls = []string{"http://img/1"}
	s := New()

	require.NoError(t, r.machine.SubmitTopic(ctx, s, kittenTopic))
	assert.Equal(t, StepTitleConfirm, s.Step)
	assert.Equal(t, kittenTopic, s.Topic)
	assert.Equal(t, "Kitten's Journey", s.Title)
	assert.Equal(t, "A kitten finds its way home.", s.Summary)
	assert.Empty(t, s.StoryID)

	require.NoError(t, r.machine.AcceptTitle(ctx, s, Child, "Zwierzęta i natura"))
	assert.Equal(t, StepStoryGenerated, s.Step)
	assert.Equal(t, threeParagraphs, s.Story)
	require.NotEmpty(t, s.StoryID)

	stories := r.store.byType(RecordStory)
	require.Len(t, stories, 1)
	assert.Equal(t, s.StoryID, stories[0].ID)
	assert.Equal(t, map[string]string{
		PayloadType:     RecordStory,
		PayloadTitle:    "Kitten's Journey",
		PayloadSummary:  "A kitten finds its way home.",
		PayloadAudience: "child",
		PayloadCategory: "Zwierzęta i natura",
	}, stories[0].Payload)
	assert.Equal(t, "Kitten's Journey A kitten finds its way home.", r.embed.texts[0])

	require.NoError(t, r.machine.GenerateIllustration(ctx, s))
	assert.Equal(t, StepStoryGenerated, s.Step)
	assert.Equal(t, "http://img/1", s.ImageURL)

	images := r.store.byType(RecordImage)
	require.Len(t, images, 1)
	assert.Equal(t, s.StoryID, images[0].Payload[PayloadStoryID])
	assert.Equal(t, "http://img/1", images[0].Payload[PayloadImageURL])
	assert.Equal(t, r.image.prompts[0], images[0].Payload[PayloadPrompt])
	assert.Equal(t, r.image.prompts[0], r.embed.texts[1])

	for _, c := range r.store.colls {
		assert.Equal(t, DefaultCollection, c)
	}
	assert.Equal(t, []EventType{EventTitleProposed, EventStoryPersisted, EventIllustrationPersisted}, r.eventTypes())
}

func TestMachine_SubmitTopic(t *testing.T) {
	ctx := context.Background()

	t.Run("uses title parameters", func(t *testing.T) {
		r := newRig()
		r.text.replies = []string{kittenReply}
		require.NoError(t, r.machine.SubmitTopic(ctx, New(), "  "+kittenTopic+"\n"))

		require.Len(t, r.text.calls, 1)
		call := r.text.calls[0]
		assert.Equal(t, TitleTemperature, call.Temperature)
		assert.Equal(t, TitleMaxTokens, call.MaxTokens)
		assert.Contains(t, call.Prompt, kittenTopic)
		assert.Contains(t, call.Prompt, "Tytuł:")
		assert.Contains(t, call.Prompt, "Streszczenie:")
	})

	t.Run("blank topic makes no calls", func(t *testing.T) {
		r := newRig()
		s := New()
		for _, topic := range []string{"", "   ", "\t\n"} {
			err := r.machine.SubmitTopic(ctx, s, topic)
			assert.ErrorIs(t, err, fault.ErrValidation)
		}
		assert.Empty(t, r.text.calls)
		assert.Equal(t, StepStart, s.Step)
		assert.Empty(t, s.Topic)
	})

	t.Run("topic length limit", func(t *testing.T) {
		r := newRig(WithGuard(guard.New(guard.Policy{MaxTopicLength: 5})))
		err := r.machine.SubmitTopic(ctx, New(), "far too long")
		assert.ErrorIs(t, err, fault.ErrValidation)
		assert.Empty(t, r.text.calls)
	})

	t.Run("only from start", func(t *testing.T) {
		r := newRig()
		r.text.replies = []string{kittenReply}
		s := New()
		require.NoError(t, r.machine.SubmitTopic(ctx, s, kittenTopic))

		err := r.machine.SubmitTopic(ctx, s, "another")
		assert.ErrorIs(t, err, fault.ErrValidation)
		assert.Equal(t, kittenTopic, s.Topic)
		assert.Len(t, r.text.calls, 1)
	})

	t.Run("generation failure keeps start", func(t *testing.T) {
		r := newRig()
		r.text.err = errors.New("401 unauthorized")
		s := New()

		err := r.machine.SubmitTopic(ctx, s, kittenTopic)
		assert.ErrorIs(t, err, fault.ErrGeneration)
		assert.Equal(t, StepStart, s.Step)
		assert.Empty(t, s.Topic)
		assert.Empty(t, s.Title)
		assert.Equal(t, []EventType{EventTransitionFailed}, r.eventTypes())
		assert.Equal(t, "generation", r.events[0].Data["kind"])
	})

	t.Run("unparseable reply is a parse error", func(t *testing.T) {
		for name, reply := range map[string]string{
			"no labels":      "Here is a nice story idea about a kitten.",
			"title only":     "Tytuł: Kitten's Journey",
			"summary only":   "Streszczenie: A kitten finds its way home.",
			"wrong language": "Title: Kitten's Journey\nSummary: A kitten finds its way home.",
		} {
			t.Run(name, func(t *testing.T) {
				r := newRig()
				r.text.replies = []string{reply}
				s := New()

				err := r.machine.SubmitTopic(ctx, s, kittenTopic)
				assert.ErrorIs(t, err, fault.ErrParse)
				assert.Equal(t, StepStart, s.Step)
				assert.Empty(t, s.Title)
				assert.Empty(t, s.Summary)
			})
		}
	})

	t.Run("english labels", func(t *testing.T) {
		r := newRig(WithLanguage(English))
		r.text.replies = []string{"Title: Kitten's Journey\nSummary: A kitten finds its way home."}
		s := New()

		require.NoError(t, r.machine.SubmitTopic(ctx, s, kittenTopic))
		assert.Equal(t, "Kitten's Journey", s.Title)
		assert.Contains(t, r.text.calls[0].Prompt, "one-sentence summary")
	})
}

func proposed(t *testing.T, r *rig) *Session {
	t.Helper()
	r.text.replies = append([]string{kittenReply}, r.text.replies...)
	s := New()
	require.NoError(t, r.machine.SubmitTopic(context.Background(), s, kittenTopic))
	return s
}

func TestMachine_RejectTitle(t *testing.T) {
	ctx := context.Background()

	t.Run("replaces proposal and stays", func(t *testing.T) {
		r := newRig()
		r.text.replies = []string{"Tytuł: Home Again\nStreszczenie: The kitten returns."}
		s := proposed(t, r)

		require.NoError(t, r.machine.RejectTitle(ctx, s))
		assert.Equal(t, StepTitleConfirm, s.Step)
		assert.Equal(t, "Home Again", s.Title)
		assert.Equal(t, "The kitten returns.", s.Summary)
		assert.Equal(t, kittenTopic, s.Topic)
		require.Len(t, r.text.calls, 2)
		assert.Equal(t, r.text.calls[0].Prompt, r.text.calls[1].Prompt)
		assert.Empty(t, r.store.points)
		assert.Contains(t, r.eventTypes(), EventTitleRejected)
	})

	t.Run("failure keeps previous proposal", func(t *testing.T) {
		r := newRig()
		r.text.replies = []string{"no labels here"}
		s := proposed(t, r)

		err := r.machine.RejectTitle(ctx, s)
		assert.ErrorIs(t, err, fault.ErrParse)
		assert.Equal(t, "Kitten's Journey", s.Title)
		assert.Equal(t, StepTitleConfirm, s.Step)
	})

	t.Run("only at title_confirm", func(t *testing.T) {
		r := newRig()
		err := r.machine.RejectTitle(ctx, New())
		assert.ErrorIs(t, err, fault.ErrValidation)
		assert.Empty(t, r.text.calls)
	})
}

func TestMachine_AcceptTitle(t *testing.T) {
	ctx := context.Background()

	t.Run("story prompt and parameters", func(t *testing.T) {
		r := newRig()
		r.text.replies = []string{threeParagraphs}
		s := proposed(t, r)

		require.NoError(t, r.machine.AcceptTitle(ctx, s, Adult, "kryminał i thriller"))
		call := r.text.calls[1]
		assert.Equal(t, StoryTemperature, call.Temperature)
		assert.Equal(t, StoryMaxTokens, call.MaxTokens)
		assert.Contains(t, call.Prompt, "dorosłego")
		assert.Contains(t, call.Prompt, kittenTopic)
		assert.Contains(t, call.Prompt, "Kryminał i thriller")
		assert.Equal(t, "Kryminał i thriller", s.Category, "category is stored in catalog form")
		assert.Equal(t, Adult, s.Audience)
	})

	t.Run("category must match audience", func(t *testing.T) {
		r := newRig()
		s := proposed(t, r)

		err := r.machine.AcceptTitle(ctx, s, Child, "Horror")
		assert.ErrorIs(t, err, fault.ErrValidation)
		err = r.machine.AcceptTitle(ctx, s, Audience("teen"), "Horror")
		assert.ErrorIs(t, err, fault.ErrValidation)

		assert.Len(t, r.text.calls, 1)
		assert.Equal(t, StepTitleConfirm, s.Step)
	})

	t.Run("only at title_confirm", func(t *testing.T) {
		r := newRig()
		err := r.machine.AcceptTitle(ctx, New(), Child, "Horror")
		assert.ErrorIs(t, err, fault.ErrValidation)
		assert.Empty(t, r.text.calls)
	})

	failures := []struct {
		name  string
		setup func(r *rig)
		want  error
	}{
		{"generation", func(r *rig) { r.text.err = errors.New("rate limited") }, fault.ErrGeneration},
		{"empty story", func(r *rig) { r.text.replies = []string{"   "} }, fault.ErrGeneration},
		{"embedding", func(r *rig) {
			r.text.replies = []string{threeParagraphs}
			r.embed.err = errors.New("embedding service down")
		}, fault.ErrEmbedding},
		{"store", func(r *rig) {
			r.text.replies = []string{threeParagraphs}
			r.store.err = errors.New("qdrant unreachable")
		}, fault.ErrStore},
	}
	for _, tc := range failures {
		t.Run(tc.name+" failure does not advance", func(t *testing.T) {
			r := newRig()
			s := proposed(t, r)
			before := *s
			tc.setup(r)

			err := r.machine.AcceptTitle(ctx, s, Child, "Przygoda i odkrywanie")
			assert.ErrorIs(t, err, tc.want)
			assert.Equal(t, before, *s)
			assert.Empty(t, r.store.points)
		})
	}
}

func storied(t *testing.T, r *rig) *Session {
	t.Helper()
	r.text.replies = append([]string{kittenReply, threeParagraphs}, r.text.replies...)
	s := New()
	ctx := context.Background()
	require.NoError(t, r.machine.SubmitTopic(ctx, s, kittenTopic))
	require.NoError(t, r.machine.AcceptTitle(ctx, s, Child, "Baśnie i legendy"))
	return s
}

func TestMachine_GenerateIllustration(t *testing.T) {
	ctx := context.Background()

	t.Run("requires a story", func(t *testing.T) {
		for name, s := range map[string]*Session{
			"start": New(),
			"title_confirm": func() *Session {
				s := New()
				s.Step, s.Topic, s.Title, s.Summary = StepTitleConfirm, "t", "T", "S"
				return s
			}(),
		} {
			t.Run(name, func(t *testing.T) {
				r := newRig()
				err := r.machine.GenerateIllustration(ctx, s)
				assert.ErrorIs(t, err, fault.ErrValidation)
				assert.Empty(t, r.image.prompts)
				assert.Empty(t, r.embed.texts)
				assert.Empty(t, r.store.colls)
			})
		}
	})

	t.Run("accumulates image records", func(t *testing.T) {
		r := newRig()
		r.image.urls = []string{"http://img/1", "http://img/2"}
		s := storied(t, r)

		require.NoError(t, r.machine.GenerateIllustration(ctx, s))
		require.NoError(t, r.machine.GenerateIllustration(ctx, s))

		images := r.store.byType(RecordImage)
		require.Len(t, images, 2)
		assert.NotEqual(t, images[0].ID, images[1].ID)
		assert.Equal(t, s.StoryID, images[0].Payload[PayloadStoryID])
		assert.Equal(t, s.StoryID, images[1].Payload[PayloadStoryID])
		assert.Equal(t, "http://img/2", s.ImageURL)
		assert.Equal(t, images[1].ID, s.ImageID)
	})

	t.Run("prompt uses title and summary", func(t *testing.T) {
		r := newRig(WithLanguage(English))
		r.text.replies = []string{"Title: Kitten's Journey\nSummary: A kitten finds its way home.", threeParagraphs}
		s := New()
		require.NoError(t, r.machine.SubmitTopic(ctx, s, kittenTopic))
		require.NoError(t, r.machine.AcceptTitle(ctx, s, Child, "Animals and nature"))

		require.NoError(t, r.machine.GenerateIllustration(ctx, s))
		assert.Equal(t,
			"Fairy-tale style illustration for the story titled 'Kitten's Journey'. Short summary: A kitten finds its way home.",
			r.image.prompts[0])
	})

	t.Run("failure keeps previous image", func(t *testing.T) {
		r := newRig()
		r.image.urls = []string{"http://img/1"}
		s := storied(t, r)
		require.NoError(t, r.machine.GenerateIllustration(ctx, s))

		r.store.err = errors.New("write timeout")
		err := r.machine.RegenerateIllustration(ctx, s)
		assert.ErrorIs(t, err, fault.ErrStore)
		assert.Equal(t, "http://img/1", s.ImageURL)

		r.store.err = nil
		r.image.err = errors.New("content policy")
		err = r.machine.RegenerateIllustration(ctx, s)
		assert.ErrorIs(t, err, fault.ErrGeneration)
		assert.Equal(t, "http://img/1", s.ImageURL)
	})

	t.Run("no image generator", func(t *testing.T) {
		text := &fakeText{replies: []string{kittenReply, threeParagraphs}}
		m, err := NewMachine(Deps{Text: text, Embedder: &fakeEmbedder{}, Store: &fakeStore{}})
		require.NoError(t, err)
		s := New()
		require.NoError(t, m.SubmitTopic(ctx, s, kittenTopic))
		require.NoError(t, m.AcceptTitle(ctx, s, Child, "Baśnie i legendy"))

		assert.ErrorIs(t, m.GenerateIllustration(ctx, s), fault.ErrValidation)
	})
}

func TestMachine_RegenerateIllustration(t *testing.T) {
	ctx := context.Background()
	r := newRig()
	s := storied(t, r)

	err := r.machine.RegenerateIllustration(ctx, s)
	assert.ErrorIs(t, err, fault.ErrValidation)
	assert.Empty(t, r.image.prompts)

	require.NoError(t, r.machine.GenerateIllustration(ctx, s))
	first := s.ImageURL
	require.NoError(t, r.machine.RegenerateIllustration(ctx, s))
	assert.NotEqual(t, first, s.ImageURL)
	assert.Len(t, r.store.byType(RecordImage), 2)
}

func TestMachine_Reset(t *testing.T) {
	ctx := context.Background()
	r := newRig()
	s := storied(t, r)
	require.NoError(t, r.machine.GenerateIllustration(ctx, s))
	oldID := s.ID

	require.NoError(t, r.machine.Reset(s))

	assert.Equal(t, StepStart, s.Step)
	assert.Empty(t, s.Topic)
	assert.Empty(t, s.Title)
	assert.Empty(t, s.Summary)
	assert.Empty(t, s.Story)
	assert.Empty(t, s.StoryID)
	assert.Empty(t, s.ImageURL)
	assert.Empty(t, s.ImageID)
	assert.Empty(t, s.Category)
	assert.NotEqual(t, oldID, s.ID)

	last := r.events[len(r.events)-1]
	assert.Equal(t, EventSessionReset, last.Type)
	assert.Equal(t, oldID, last.Data["previous"])

	// A reset session accepts a new topic.
	r.text.replies = []string{kittenReply}
	require.NoError(t, r.machine.SubmitTopic(ctx, s, "a dragon learns to read"))

	assert.ErrorIs(t, r.machine.Reset(nil), fault.ErrValidation)
}

// gatedText holds its first call until gate is closed and answers every
// later call at once.
type gatedText struct {
	reply   string
	entered chan struct{}
	gate    chan struct{}
	once    sync.Once
}

func (g *gatedText) GenerateText(ctx context.Context, prompt string, temperature float32, maxTokens int) (string, error) {
	first := false
	g.once.Do(func() { first = true })
	if first {
		g.entered <- struct{}{}
		<-g.gate
	}
	return g.reply, nil
}

func TestMachine_TransitionsAreSerializedPerSession(t *testing.T) {
	ctx := context.Background()
	text := &gatedText{
		reply:   kittenReply,
		entered: make(chan struct{}),
		gate:    make(chan struct{}),
	}
	m, err := NewMachine(Deps{Text: text, Image: &fakeImage{}, Embedder: &fakeEmbedder{}, Store: &fakeStore{}})
	require.NoError(t, err)
	s := New()

	done := make(chan error, 1)
	go func() { done <- m.SubmitTopic(ctx, s, kittenTopic) }()
	<-text.entered

	err = m.SubmitTopic(ctx, s, "another topic")
	assert.ErrorIs(t, err, fault.ErrValidation)
	assert.True(t, strings.Contains(err.Error(), "in progress"))
	assert.ErrorIs(t, m.Reset(s), fault.ErrValidation)

	copied := *s
	err = m.SubmitTopic(ctx, &copied, kittenTopic)
	require.Error(t, err, "a copy shares the busy session id")
	assert.Contains(t, err.Error(), "in progress")

	other := New()
	require.NoError(t, m.SubmitTopic(ctx, other, "another topic"))
	assert.Equal(t, StepTitleConfirm, other.Step)
	require.NoError(t, m.Reset(other))
	assert.Equal(t, StepStart, other.Step)

	close(text.gate)
	require.NoError(t, <-done)
	assert.Equal(t, StepTitleConfirm, s.Step)

	// The session is free again once its transition finished.
	require.NoError(t, m.Reset(s))
}

func TestMachine_Snapshot(t *testing.T) {
	r := newRig()
	s := storied(t, r)

	snap := r.machine.Snapshot(s)
	assert.Equal(t, Polish, snap.Language)
	assert.Equal(t, s.StoryID, snap.StoryID)

	data, err := MarshalSnapshot(snap)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"step":"story_generated"`)

	decoded, err := UnmarshalSnapshot(data)
	require.NoError(t, err)
	restored, err := Restore(decoded)
	require.NoError(t, err)
	assert.Equal(t, s.ID, restored.ID)
	assert.Equal(t, s.Story, restored.Story)
	assert.Equal(t, StepStoryGenerated, restored.Step)

	// A restored session continues where it left off.
	require.NoError(t, r.machine.GenerateIllustration(context.Background(), restored))
}
