package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/theimaginaryfoundation/docquery/rag/embed"
	"github.com/theimaginaryfoundation/docquery/rag/evalcache"
	"github.com/theimaginaryfoundation/docquery/rag/ledger"
	"github.com/theimaginaryfoundation/docquery/rag/provider"
)

// MemoryCache selects the in-process verdict cache instead of a sqlite file.
const MemoryCache = "memory"

// Backends are the collaborators built from a config: both chat models wrapped in
// live usage counters, the embedder and the optional verdict cache.
type Backends struct {
	Primary  *provider.Metered
	Judge    *provider.Metered
	Embedder embed.Embedder
	Cache    *evalcache.Cache

	closers []func() error
}

// NeedsAPIKey reports whether any configured backend talks to the hosted OpenAI API.
func (c *File) NeedsAPIKey() bool {
	if !c.Primary.Overridden() || !c.Judge.Overridden() {
		return true
	}
	return c.Embedder.Type == EmbedderOpenAI
}

// Open builds the backends. apiKey is the fallback for models whose api_key_env is unset
// or empty. Embedding usage is recorded on l.
func (c *File) Open(apiKey string, l *ledger.Ledger) (*Backends, error) {
	b := &Backends{
		Primary: provider.NewMetered(newGenerator(c.Primary, apiKey)),
		Judge:   provider.NewMetered(newGenerator(c.Judge, apiKey)),
	}

	switch c.Embedder.Type {
	case EmbedderTFIDF:
		b.Embedder = embed.NewTFIDF()
	case EmbedderOpenAI:
		client := newOpenAIClient(c.Embedder.apiKey(apiKey), c.Embedder.BaseURL)
		b.Embedder = embed.NewOpenAI(&client, c.Embedder.Model, l)
	case EmbedderCompat:
		b.Embedder = embed.NewCompat(c.Embedder.apiKey(apiKey), c.Embedder.BaseURL, c.Embedder.Model, l)
	default:
		return nil, fmt.Errorf("embedder: unknown type %q", c.Embedder.Type)
	}

	if c.CacheEnabled() {
		cache, closer, err := openCache(c.Cache.Path)
		if err != nil {
			return nil, err
		}
		b.Cache = cache
		if closer != nil {
			b.closers = append(b.closers, closer)
		}
	}
	return b, nil
}

func (b *Backends) Close() error {
	var errs []error
	for _, c := range b.closers {
		errs = append(errs, c())
	}
	return errors.Join(errs...)
}

// CheckConsistency compares the ledger with the live counters of both models.
func (b *Backends) CheckConsistency(l *ledger.Ledger, logger *slog.Logger) bool {
	ok := true
	for _, m := range []struct {
		role ledger.Role
		gen  *provider.Metered
	}{{ledger.Primary, b.Primary}, {ledger.Judge, b.Judge}} {
		prompt, completion, _ := m.gen.Usage()
		if !l.CheckConsistency(logger, m.role, prompt, completion) {
			ok = false
		}
	}
	return ok
}

func (e EmbedderConfig) apiKey(fallback string) string {
	return ModelConfig{APIKeyEnv: e.APIKeyEnv}.APIKey(fallback)
}

func newGenerator(m ModelConfig, fallbackKey string) provider.Generator {
	key := m.APIKey(fallbackKey)
	if m.Backend == BackendChat {
		return provider.NewChat(key, m.BaseURL, m.Name, m.Capabilities())
	}
	client := newOpenAIClient(key, m.BaseURL)
	return provider.NewResponses(&client, m.Name)
}

func newOpenAIClient(apiKey, baseURL string) openai.Client {
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return openai.NewClient(opts...)
}

func openCache(path string) (*evalcache.Cache, func() error, error) {
	if path == MemoryCache {
		return evalcache.New(evalcache.NewMemory()), nil, nil
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, nil, fmt.Errorf("mkdir cache dir: %w", err)
		}
	}
	store, err := evalcache.OpenSQLite(path)
	if err != nil {
		return nil, nil, fmt.Errorf("open eval cache %s: %w", path, err)
	}
	return evalcache.New(store), store.Close, nil
}
