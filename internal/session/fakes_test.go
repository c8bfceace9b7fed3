package session

import (
	"context"
	"fmt"
	"sync"

	"github.com/felixgeelhaar/storyloom/internal/vectorstore"
)

type textCall struct {
	Prompt      string
	Temperature float32
	MaxTokens   int
}

// fakeText returns replies in order and records every call.
type fakeText struct {
	replies []string
	err     error
	calls   []textCall
	// entered is signalled and block waited on, when set, before replying.
	entered chan struct{}
	block   chan struct{}
}

func (f *fakeText) GenerateText(ctx context.Context, prompt string, temperature float32, maxTokens int) (string, error) {
	f.calls = append(f.calls, textCall{prompt, temperature, maxTokens})
	if f.entered != nil {
		f.entered <- struct{}{}
	}
	if f.block != nil {
		<-f.block
	}
	if f.err != nil {
		return "", f.err
	}
	if len(f.replies) == 0 {
		return "", fmt.Errorf("fakeText: no reply scripted")
	}
	r := f.replies[0]
	f.replies = f.replies[1:]
	return r, nil
}

type fakeImage struct {
	urls    []string
	err     error
	prompts []string
}

func (f *fakeImage) GenerateImage(ctx context.Context, prompt string) (string, error) {
	f.prompts = append(f.prompts, prompt)
	if f.err != nil {
		return "", f.err
	}
	if len(f.urls) == 0 {
		return fmt.Sprintf("http://img/%d", len(f.prompts)), nil
	}
	u := f.urls[0]
	f.urls = f.urls[1:]
	return u, nil
}

type fakeEmbedder struct {
	err   error
	texts []string
}

func (f *fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	f.texts = append(f.texts, text)
	if f.err != nil {
		return nil, f.err
	}
	return []float32{float32(len(text)), 1, 0}, nil
}

type fakeStore struct {
	mu     sync.Mutex
	err    error
	points []vectorstore.Point
	colls  []string
}

func (f *fakeStore) Upsert(ctx context.Context, collection string, p vectorstore.Point) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.colls = append(f.colls, collection)
	if f.err != nil {
		return f.err
	}
	f.points = append(f.points, p)
	return nil
}

func (f *fakeStore) byType(t string) []vectorstore.Point {
	var out []vectorstore.Point
	for _, p := range f.points {
		if p.Payload[PayloadType] == t {
			out = append(out, p)
		}
	}
	return out
}

type rig struct {
	text    *fakeText
	image   *fakeImage
	embed   *fakeEmbedder
	store   *fakeStore
	machine *Machine
	events  []Event
}

func newRig(opts ...Option) *rig {
	r := &rig{
		text:  &fakeText{},
		image: &fakeImage{},
		embed: &fakeEmbedder{},
		store: &fakeStore{},
	}
	m, err := NewMachine(Deps{Text: r.text, Image: r.image, Embedder: r.embed, Store: r.store}, opts...)
	if err != nil {
		panic(err)
	}
	m.Events().SubscribeAll(func(e Event) { r.events = append(r.events, e) })
	r.machine = m
	return r
}

func (r *rig) eventTypes() []EventType {
	out := make([]EventType, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Type)
	}
	return out
}

const kittenReply = "Tytuł: Kitten's Journey\nStreszczenie: A kitten finds its way home."

const threeParagraphs = "A kitten wandered off.\n\nIt followed the river.\n\nIt came home at dawn."
