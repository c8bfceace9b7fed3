package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/felixgeelhaar/storyloom/internal/config"
	"github.com/felixgeelhaar/storyloom/internal/credential"
	"github.com/felixgeelhaar/storyloom/internal/embedding"
	"github.com/felixgeelhaar/storyloom/internal/export"
	"github.com/felixgeelhaar/storyloom/internal/generation"
	"github.com/felixgeelhaar/storyloom/internal/guard"
	"github.com/felixgeelhaar/storyloom/internal/observe"
	"github.com/felixgeelhaar/storyloom/internal/provider"
	"github.com/felixgeelhaar/storyloom/internal/session"
	"github.com/felixgeelhaar/storyloom/internal/store"
	"github.com/felixgeelhaar/storyloom/internal/vectorstore"
)

// app holds what a command needs once configuration is resolved. Services
// that reach the network are opened on demand.
type app struct {
	settings *config.Settings
	obs      *observe.Observer
	store    *store.SQLiteStore
	creds    *credential.Manager
	guard    *guard.Guard

	gen     *generation.Client
	emb     *embedding.Client
	vectors *vectorstore.Adapter
	drawing bool

	closers []func() error
}

func (o *options) observer(out io.Writer) *observe.Observer {
	if o.jsonLogs {
		return observe.NewJSON(out, o.verbose)
	}
	return observe.New(out, o.verbose)
}

// openStore opens the local database without loading the full settings.
// The config command only needs this much.
func (o *options) openStore() (*store.SQLiteStore, *credential.Manager, error) {
	dataDir, err := config.DataDir(o.v, o.configFile)
	if err != nil {
		return nil, nil, err
	}
	cfg := config.Settings{DataDir: dataDir}
	st, err := store.NewSQLiteStore(cfg.DBPath(), cfg.ArtifactDir())
	if err != nil {
		return nil, nil, fmt.Errorf("failed to init store: %w", err)
	}
	creds, err := credential.FromEnv()
	if err != nil {
		st.Close()
		return nil, nil, fmt.Errorf("failed to init credentials: %w", err)
	}
	return st, creds, nil
}

// openApp resolves the settings and opens the local store. Interactive
// commands log to a file in the data directory instead of stderr, which the
// terminal UI owns.
func (o *options) openApp(cmd *cobra.Command, interactive bool) (*app, error) {
	st, creds, err := o.openStore()
	if err != nil {
		return nil, err
	}
	settings, err := config.Load(o.v, o.configFile, st, creds)
	if err != nil {
		st.Close()
		return nil, err
	}

	a := &app{
		settings: settings,
		store:    st,
		creds:    creds,
		guard:    guard.New(guard.DefaultPolicy),
	}
	a.closers = append(a.closers, st.Close)

	var logOut io.Writer = cmd.ErrOrStderr()
	if interactive {
		f, err := os.OpenFile(filepath.Join(settings.DataDir, "storyloom.log"),
			os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0600)
		if err != nil {
			st.Close()
			return nil, fmt.Errorf("failed to open log file: %w", err)
		}
		a.closers = append(a.closers, f.Close)
		logOut = f
	}
	a.obs = o.observer(logOut)
	a.closers = append(a.closers, a.obs.Close)
	a.obs.Log().Info().
		Str("provider", settings.Provider).
		Str("language", settings.Language).
		Str("vector_backend", settings.Vector.Backend).
		Str("data_dir", settings.DataDir).
		Msg("configuration loaded")
	return a, nil
}

func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	return errors.Join(errs...)
}

func (a *app) language() session.Language {
	lang, err := session.ParseLanguage(a.settings.Language)
	if err != nil {
		return session.DefaultLanguage
	}
	return lang
}

// openVectors connects the configured backend and makes sure the story
// collection exists. Existing collections are never recreated.
func (a *app) openVectors(ctx context.Context) (*vectorstore.Adapter, error) {
	if a.vectors != nil {
		return a.vectors, nil
	}

	vs := a.settings.Vector
	var (
		backend vectorstore.Backend
		err     error
	)
	switch vs.Backend {
	case "chromem":
		backend, err = vectorstore.NewChromemBackend(a.settings.VectorPath())
	case "qdrant":
		backend, err = vectorstore.NewQdrantBackend(vs.URL, vs.APIKey)
	default:
		backend, err = vectorstore.NewSQLiteBackend(a.settings.VectorPath())
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open %s vector store: %w", vs.Backend, err)
	}

	adapter := vectorstore.NewAdapter(backend)
	a.closers = append(a.closers, adapter.Close)
	err = adapter.EnsureCollection(ctx, vectorstore.Collection{
		Name:      vs.Collection,
		Dimension: vs.Dimension,
		Distance:  vectorstore.Cosine,
	})
	if err != nil {
		return nil, err
	}
	a.vectors = adapter
	return adapter, nil
}

// openClients builds the generation and embedding clients for the
// configured provider. Providers without embeddings or images borrow them
// from OpenAI when an OpenAI key is configured.
func (a *app) openClients() (*generation.Client, *embedding.Client, error) {
	if a.gen != nil {
		return a.gen, a.emb, nil
	}

	s := a.settings
	var (
		text     provider.Provider
		image    provider.ImageProvider
		embedder embedding.Embedder
	)

	openAI := func() (*provider.OpenAIProvider, error) {
		return provider.NewOpenAIProvider(provider.OpenAIConfig{
			APIKey:         s.OpenAI.APIKey,
			BaseURL:        s.OpenAI.BaseURL,
			ChatModel:      s.TextModel,
			ImageModel:     s.ImageModel,
			EmbeddingModel: s.EmbeddingModel,
		})
	}
	// fallback is nil when no OpenAI key is configured.
	var fallback *provider.OpenAIProvider
	if s.Provider != "openai" && s.OpenAI.APIKey != "" {
		p, err := openAI()
		if err != nil {
			return nil, nil, err
		}
		fallback = p
	}

	switch s.Provider {
	case "openai":
		p, err := openAI()
		if err != nil {
			return nil, nil, fmt.Errorf("failed to initialize openai provider: %w", err)
		}
		text, image, embedder = p, p, p

	case "ollama":
		p, err := provider.NewOllamaProvider(s.Ollama.Host,
			modelFor(s.TextModel, "gpt-4o"), modelFor(s.EmbeddingModel, "text-embedding-3-small"))
		if err != nil {
			return nil, nil, fmt.Errorf("failed to initialize ollama provider: %w", err)
		}
		text, embedder = p, p

	case "gemini":
		p, err := provider.NewGeminiProvider(s.Gemini.APIKey,
			modelFor(s.TextModel, "gpt-4o"), modelFor(s.EmbeddingModel, "text-embedding-3-small"))
		if err != nil {
			return nil, nil, fmt.Errorf("failed to initialize gemini provider: %w", err)
		}
		a.closers = append(a.closers, p.Close)
		text, embedder = p, p

	case "anthropic":
		p, err := provider.NewAnthropicProvider(s.Anthropic.APIKey, modelFor(s.TextModel, "gpt-4o"))
		if err != nil {
			return nil, nil, fmt.Errorf("failed to initialize anthropic provider: %w", err)
		}
		text = p

	case "cli":
		p, err := detectCLIProvider(s.CLI.Path)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to initialize CLI provider: %w", err)
		}
		text = p

	case "stub":
		p := provider.NewStubProvider(s.Vector.Dimension)
		text, image, embedder = p, p, p
	}

	if fallback != nil {
		if image == nil {
			image = fallback
		}
		if embedder == nil {
			embedder = fallback
		}
	}
	if embedder == nil {
		return nil, nil, fmt.Errorf("provider %s cannot embed text; set openai.api_key to embed with OpenAI", s.Provider)
	}
	if image == nil {
		a.obs.Log().Warn().Str("provider", s.Provider).Msg("no image provider configured, illustrations are disabled")
	}

	emb, err := embedding.New(embedder, s.Vector.Dimension, embedding.WithTimeout(s.Timeout))
	if err != nil {
		return nil, nil, err
	}
	a.gen = generation.New(text, image, s.Timeout)
	a.drawing = image != nil
	a.obs.Log().Info().
		Str("text_provider", a.gen.ProviderName()).
		Int("dimension", emb.Dimension()).
		Msg("generation clients ready")
	a.emb = emb
	return a.gen, a.emb, nil
}

// modelFor drops the OpenAI default so other providers pick their own.
func modelFor(configured, openAIDefault string) string {
	if configured == openAIDefault {
		return ""
	}
	return configured
}

func (a *app) newMachine(ctx context.Context, lang session.Language) (*session.Machine, error) {
	gen, emb, err := a.openClients()
	if err != nil {
		return nil, err
	}
	vectors, err := a.openVectors(ctx)
	if err != nil {
		return nil, err
	}
	deps := session.Deps{Text: gen, Embedder: emb, Store: vectors}
	if a.drawing {
		deps.Image = gen
	}
	return session.NewMachine(deps,
		session.WithLanguage(lang),
		session.WithCollection(a.settings.Vector.Collection),
		session.WithGuard(a.guard),
		session.WithObserver(a.obs),
	)
}

func (a *app) exporter() *export.Exporter {
	return export.New(a.store, a.guard, export.WithMaxImageBytes(export.DefaultMaxImageBytes))
}

// saveSession stores the session's snapshot so it can be listed and resumed.
func (a *app) saveSession(ctx context.Context, m *session.Machine, s *session.Session) error {
	data, err := session.MarshalSnapshot(m.Snapshot(s))
	if err != nil {
		return fmt.Errorf("failed to encode session: %w", err)
	}
	return a.store.SaveSession(ctx, &store.SessionRecord{
		ID:        s.ID,
		Step:      s.Step.String(),
		Topic:     s.Topic,
		Title:     s.Title,
		Snapshot:  data,
		CreatedAt: s.CreatedAt,
	})
}

// loadSession restores a stored snapshot and returns the language it was
// written in.
func (a *app) loadSession(ctx context.Context, id string) (*session.Session, session.Language, error) {
	rec, err := a.store.GetSession(ctx, id)
	if err != nil {
		return nil, "", err
	}
	snap, err := session.UnmarshalSnapshot(rec.Snapshot)
	if err != nil {
		return nil, "", err
	}
	s, err := session.Restore(snap)
	if err != nil {
		return nil, "", err
	}
	lang := snap.Language
	if lang == "" {
		lang = a.language()
	}
	return s, lang, nil
}

func detectCLIProvider(configured string) (provider.Provider, error) {
	if configured != "" {
		return provider.NewCLIProvider(configured, []string{})
	}

	tools := []string{"claude", "codex", "gemini", "llm"}
	for _, t := range tools {
		path, err := exec.LookPath(t)
		if err == nil {
			return provider.NewCLIProvider(path, []string{})
		}
	}
	return nil, fmt.Errorf("no local CLI generators detected (tried claude, codex, gemini, llm)")
}
