// Package config holds the settings shared by the docquery commands. A YAML file
// provides them; command-line flags override individual fields afterwards.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/theimaginaryfoundation/docquery/rag"
	"github.com/theimaginaryfoundation/docquery/rag/ledger"
	"github.com/theimaginaryfoundation/docquery/rag/provider"
	"github.com/theimaginaryfoundation/docquery/rag/retrieval"
)

const (
	BackendResponses = "responses"
	BackendChat      = "chat"

	EmbedderTFIDF  = "tfidf"
	EmbedderOpenAI = "openai"
	EmbedderCompat = "compat"

	defaultAPIKeyEnv = "OPENAI_API_KEY"
)

// ModelConfig describes one chat model and where to reach it.
type ModelConfig struct {
	Name string `yaml:"name"`
	// Backend is "responses" (OpenAI Responses API) or "chat" (any
	// OpenAI-compatible chat-completions endpoint).
	Backend   string `yaml:"backend"`
	BaseURL   string `yaml:"base_url,omitempty"`
	APIKeyEnv string `yaml:"api_key_env,omitempty"`
	// SupportsN and SupportsMaxTokens only apply to the chat backend; unset means true.
	SupportsN         *bool        `yaml:"supports_n,omitempty"`
	SupportsMaxTokens *bool        `yaml:"supports_max_tokens,omitempty"`
	Price             ledger.Price `yaml:"price"`
}

// Capabilities reports what the chat backend was declared to honour.
func (m ModelConfig) Capabilities() provider.Capabilities {
	caps := provider.Capabilities{N: true, MaxTokens: true}
	if m.SupportsN != nil {
		caps.N = *m.SupportsN
	}
	if m.SupportsMaxTokens != nil {
		caps.MaxTokens = *m.SupportsMaxTokens
	}
	return caps
}

// Overridden is true when the model is served from a custom endpoint.
func (m ModelConfig) Overridden() bool { return m.BaseURL != "" }

// APIKey reads the key from the model's environment variable, falling back to the
// given key (usually the -api-key flag or OPENAI_API_KEY).
func (m ModelConfig) APIKey(fallback string) string {
	if m.APIKeyEnv != "" {
		if v := strings.TrimSpace(os.Getenv(m.APIKeyEnv)); v != "" {
			return v
		}
	}
	return fallback
}

type EmbedderConfig struct {
	// Type is "tfidf" (offline), "openai" or "compat".
	Type      string       `yaml:"type"`
	Model     string       `yaml:"model,omitempty"`
	BaseURL   string       `yaml:"base_url,omitempty"`
	APIKeyEnv string       `yaml:"api_key_env,omitempty"`
	Price     ledger.Price `yaml:"price"`
}

type CacheConfig struct {
	Path     string `yaml:"path"`
	Disabled bool   `yaml:"disabled"`
}

type SummaryConfig struct {
	Language    string `yaml:"language"`
	Recursion   int    `yaml:"recursion"`
	ChunkTokens int    `yaml:"chunk_tokens"`
}

type CorpusConfig struct {
	ArrayField  string `yaml:"array_field,omitempty"`
	ChunkTokens int    `yaml:"chunk_tokens"`
}

// File is the root of a docquery config file.
type File struct {
	Primary  ModelConfig    `yaml:"primary"`
	Judge    ModelConfig    `yaml:"judge"`
	Embedder EmbedderConfig `yaml:"embedder"`

	// Retrievers is an underscore-joined strategy list such as "default_knn".
	Retrievers     string  `yaml:"retrievers"`
	TopK           int     `yaml:"top_k"`
	Relevancy      float64 `yaml:"relevancy"`
	ChildTokens    int     `yaml:"child_tokens"`
	CheckNumber    int     `yaml:"check_number"`
	MaxConcurrency int     `yaml:"max_concurrency"`

	// Budget is the dollar limit of the pre-run estimate; 0 disables the check.
	Budget  float64 `yaml:"budget"`
	Debug   bool    `yaml:"debug"`
	Private bool    `yaml:"private"`

	Cache   CacheConfig      `yaml:"cache"`
	Prune   rag.PruneFilters `yaml:"prune"`
	Summary SummaryConfig    `yaml:"summary"`
	Corpus  CorpusConfig     `yaml:"corpus"`
}

// Default returns the settings used when no config file exists.
func Default() *File {
	return &File{
		Primary: ModelConfig{
			Name:      "gpt-4o-mini",
			Backend:   BackendResponses,
			APIKeyEnv: defaultAPIKeyEnv,
			Price:     ledger.Price{Input: 0.15, Output: 0.60},
		},
		Judge: ModelConfig{
			Name:      "gpt-4o-mini",
			Backend:   BackendResponses,
			APIKeyEnv: defaultAPIKeyEnv,
			Price:     ledger.Price{Input: 0.15, Output: 0.60},
		},
		Embedder:       EmbedderConfig{Type: EmbedderTFIDF},
		Retrievers:     string(retrieval.StrategyDefault),
		TopK:           20,
		Relevancy:      retrieval.DefaultRelevancy,
		ChildTokens:    retrieval.DefaultChildTokens,
		CheckNumber:    3,
		MaxConcurrency: rag.DefaultMaxConcurrency,
		Budget:         5,
		Cache:          CacheConfig{Path: defaultCachePath()},
		Summary:        SummaryConfig{ChunkTokens: 3000},
		Corpus:         CorpusConfig{ChunkTokens: 500},
	}
}

// Load reads a config from path. Keys missing from the file keep their defaults, and
// a missing file yields the defaults.
func Load(path string) (*File, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return nil, err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	applyDefaults(cfg)
	return cfg, nil
}

// LoadDefault tries ./docquery.yaml, then ~/.config/docquery/config.yaml. It returns
// the path it used, or "" when it fell back to the defaults.
func LoadDefault() (*File, string, error) {
	candidates := []string{"docquery.yaml"}
	if p, err := userConfigPath(); err == nil {
		candidates = append(candidates, p)
	}
	for _, p := range candidates {
		if _, err := os.Stat(p); err == nil {
			cfg, err := Load(p)
			return cfg, p, err
		}
	}
	return Default(), "", nil
}

// Save writes the config to path, creating directories as needed.
func Save(path string, cfg *File) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func userConfigPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "docquery", "config.yaml"), nil
}

func defaultCachePath() string {
	dir, err := os.UserCacheDir()
	if err != nil {
		return filepath.Join(".docquery", "evalcache.db")
	}
	return filepath.Join(dir, "docquery", "evalcache.db")
}

// applyDefaults fills fields a config file may have cleared explicitly.
func applyDefaults(cfg *File) {
	if cfg.Primary.Backend == "" {
		cfg.Primary.Backend = BackendResponses
	}
	if cfg.Primary.APIKeyEnv == "" {
		cfg.Primary.APIKeyEnv = defaultAPIKeyEnv
	}
	// The judge inherits the primary endpoint unless it names its own.
	if cfg.Judge.Name == "" {
		cfg.Judge.Name = cfg.Primary.Name
		cfg.Judge.Price = cfg.Primary.Price
	}
	if cfg.Judge.Backend == "" {
		cfg.Judge.Backend = cfg.Primary.Backend
	}
	if cfg.Judge.BaseURL == "" {
		cfg.Judge.BaseURL = cfg.Primary.BaseURL
	}
	if cfg.Judge.APIKeyEnv == "" {
		cfg.Judge.APIKeyEnv = cfg.Primary.APIKeyEnv
	}
	if cfg.Embedder.Type == "" {
		cfg.Embedder.Type = EmbedderTFIDF
	}
	if cfg.Embedder.Type != EmbedderTFIDF {
		if cfg.Embedder.Model == "" {
			cfg.Embedder.Model = "text-embedding-3-small"
		}
		if cfg.Embedder.APIKeyEnv == "" {
			cfg.Embedder.APIKeyEnv = cfg.Primary.APIKeyEnv
		}
	}
	if cfg.Retrievers == "" {
		cfg.Retrievers = string(retrieval.StrategyDefault)
	}
	if cfg.Cache.Path == "" {
		cfg.Cache.Path = defaultCachePath()
	}
}

// Validate checks the settings once every override has been applied.
func (c *File) Validate() error {
	for _, m := range []struct {
		role string
		cfg  ModelConfig
	}{{"primary", c.Primary}, {"judge", c.Judge}} {
		if strings.TrimSpace(m.cfg.Name) == "" {
			return fmt.Errorf("%s: missing model name", m.role)
		}
		switch m.cfg.Backend {
		case BackendResponses, BackendChat:
		default:
			return fmt.Errorf("%s: unknown backend %q (want %s or %s)", m.role, m.cfg.Backend, BackendResponses, BackendChat)
		}
		if m.cfg.Price.Input < 0 || m.cfg.Price.Output < 0 {
			return fmt.Errorf("%s: price must be >= 0", m.role)
		}
		if c.Private && !m.cfg.Overridden() {
			return fmt.Errorf("%s: private mode requires a custom base_url", m.role)
		}
	}
	switch c.Embedder.Type {
	case EmbedderTFIDF:
	case EmbedderOpenAI:
		if c.Private {
			return errors.New("embedder: private mode cannot use the openai embedder")
		}
	case EmbedderCompat:
		if c.Embedder.BaseURL == "" {
			return errors.New("embedder: compat requires base_url")
		}
	default:
		return fmt.Errorf("embedder: unknown type %q", c.Embedder.Type)
	}
	if _, err := retrieval.ParseStrategies(c.Retrievers); err != nil {
		return err
	}
	if c.TopK <= 0 {
		return errors.New("top_k must be > 0")
	}
	if c.CheckNumber <= 0 {
		return errors.New("check_number must be > 0")
	}
	if c.MaxConcurrency <= 0 {
		return errors.New("max_concurrency must be > 0")
	}
	if c.Budget < 0 {
		return errors.New("budget must be >= 0")
	}
	if c.Summary.Recursion < 0 {
		return errors.New("summary.recursion must be >= 0")
	}
	if c.Summary.ChunkTokens <= 0 {
		return errors.New("summary.chunk_tokens must be > 0")
	}
	if c.Corpus.ChunkTokens <= 0 {
		return errors.New("corpus.chunk_tokens must be > 0")
	}
	return nil
}

// Concurrency is the effective fan-out; debug runs are sequential.
func (c *File) Concurrency() int {
	if c.Debug {
		return 1
	}
	return c.MaxConcurrency
}

// CacheEnabled is false in private mode or when the cache is switched off.
func (c *File) CacheEnabled() bool { return !c.Private && !c.Cache.Disabled }

// Strategies parses Retrievers; call after Validate.
func (c *File) Strategies() []retrieval.Strategy {
	s, _ := retrieval.ParseStrategies(c.Retrievers)
	return s
}

// Prices maps each ledger role to its configured price.
func (c *File) Prices() map[ledger.Role]ledger.Price {
	return map[ledger.Role]ledger.Price{
		ledger.Primary:   c.Primary.Price,
		ledger.Judge:     c.Judge.Price,
		ledger.Embedding: c.Embedder.Price,
	}
}
