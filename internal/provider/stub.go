package provider

import (
	"context"
	"fmt"
	"hash/fnv"
	"math/rand/v2"
	"strings"
	"sync"
	"time"
)

const stubTitleReply = "Tytuł: Droga do domu\nStreszczenie: Mały kotek odnajduje drogę do domu.\n" +
	"Title: The Way Home\nSummary: A little kitten finds its way home."

const stubStoryReply = "Once upon a time a kitten wandered too far from the farm.\n\n" +
	"It followed the river, asked the owl for directions and slept under a bridge.\n\n" +
	"At dawn it smelled fresh bread, ran towards it and was home again."

// StubProvider is a scripted provider for tests and offline demos. Replies
// and Images are consumed in order; once exhausted it falls back to canned
// output. Embeddings are derived deterministically from the text.
type StubProvider struct {
	mu sync.Mutex

	Replies   []string
	Images    []string
	Dimension int
	Latency   time.Duration

	ChatErr  error
	ImageErr error
	EmbedErr error

	Prompts      []ChatRequest
	ImagePrompts []string
	Embedded     []string

	imageSeq int
}

func NewStubProvider(dimension int) *StubProvider {
	return &StubProvider{Dimension: dimension}
}

func (m *StubProvider) wait(ctx context.Context) error {
	if m.Latency <= 0 {
		return ctx.Err()
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(m.Latency):
		return nil
	}
}

func (m *StubProvider) Chat(ctx context.Context, req ChatRequest) (*Response, error) {
	if err := m.wait(ctx); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.Prompts = append(m.Prompts, req)
	if m.ChatErr != nil {
		return nil, m.ChatErr
	}

	var content string
	if len(m.Replies) > 0 {
		content = m.Replies[0]
		m.Replies = m.Replies[1:]
	} else {
		content = cannedReply(req)
	}

	words := len(strings.Fields(content))
	return &Response{
		Content: content,
		Usage:   Usage{PromptTokens: 10, CompletionTokens: words, TotalTokens: 10 + words},
	}, nil
}

func cannedReply(req ChatRequest) string {
	var prompt string
	if len(req.Messages) > 0 {
		prompt = strings.ToLower(req.Messages[len(req.Messages)-1].Content)
	}
	if strings.Contains(prompt, "streszczenie:") || strings.Contains(prompt, "summary:") {
		return stubTitleReply
	}
	return stubStoryReply
}

func (m *StubProvider) Image(ctx context.Context, prompt string) (string, error) {
	if err := m.wait(ctx); err != nil {
		return "", err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.ImagePrompts = append(m.ImagePrompts, prompt)
	if m.ImageErr != nil {
		return "", m.ImageErr
	}
	if len(m.Images) > 0 {
		url := m.Images[0]
		m.Images = m.Images[1:]
		return url, nil
	}
	m.imageSeq++
	return fmt.Sprintf("https://images.invalid/stub/%d.png", m.imageSeq), nil
}

func (m *StubProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.Embedded = append(m.Embedded, text)
	if m.EmbedErr != nil {
		return nil, m.EmbedErr
	}
	return StubVector(text, m.Dimension), nil
}

// StubVector returns a deterministic, non-zero vector of the given length.
func StubVector(text string, dimension int) []float32 {
	if dimension <= 0 {
		dimension = 3
	}
	h := fnv.New64a()
	h.Write([]byte(text))
	seed := h.Sum64()
	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))

	vec := make([]float32, dimension)
	for i := range vec {
		vec[i] = rng.Float32()*2 - 1
	}
	vec[0] += 2 // keeps the vector away from zero
	return vec
}

func (m *StubProvider) Name() string {
	return "stub"
}
