package config

import (
	"flag"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"

	"github.com/theimaginaryfoundation/docquery/rag/ledger"
	"github.com/theimaginaryfoundation/docquery/rag/retrieval"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "docquery.yaml")
	if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	return p
}

func TestLoad_MissingFileReturnsDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.TopK != 20 || cfg.CheckNumber != 3 || cfg.Relevancy != retrieval.DefaultRelevancy {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}
}

func TestLoad_PartialFileKeepsDefaults(t *testing.T) {
	t.Parallel()

	p := writeConfig(t, `
primary:
  name: local-model
  backend: chat
  base_url: http://localhost:8080/v1
  supports_n: false
  price: {input: 1, output: 2}
judge:
  name: ""
retrievers: default_knn
relevancy: 0
prune:
  content: ["-draft"]
`)
	cfg, err := Load(p)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.TopK != 20 {
		t.Fatalf("top_k=%d", cfg.TopK)
	}
	if cfg.Relevancy != 0 {
		t.Fatalf("explicit relevancy 0 was overwritten: %v", cfg.Relevancy)
	}
	if cfg.Judge.Name != "local-model" || cfg.Judge.BaseURL != "http://localhost:8080/v1" || cfg.Judge.Price != (ledger.Price{Input: 1, Output: 2}) {
		t.Fatalf("judge did not inherit primary: %+v", cfg.Judge)
	}
	if caps := cfg.Primary.Capabilities(); caps.N || !caps.MaxTokens {
		t.Fatalf("caps=%+v", caps)
	}
	if !slices.Equal(cfg.Strategies(), []retrieval.Strategy{retrieval.StrategyDefault, retrieval.StrategyKNN}) {
		t.Fatalf("strategies=%v", cfg.Strategies())
	}
	if len(cfg.Prune.Content) != 1 || cfg.Prune.Content[0] != "-draft" {
		t.Fatalf("prune=%+v", cfg.Prune)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	t.Parallel()

	if _, err := Load(writeConfig(t, "top_k: [1, 2")); err == nil {
		t.Fatalf("expected parse error")
	}
}

func TestSave_RoundTrip(t *testing.T) {
	t.Parallel()

	p := filepath.Join(t.TempDir(), "nested", "config.yaml")
	in := Default()
	in.Retrievers = "hyde_svm"
	in.Summary.Recursion = 2
	if err := Save(p, in); err != nil {
		t.Fatalf("Save: %v", err)
	}
	out, err := Load(p)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if out.Retrievers != "hyde_svm" || out.Summary.Recursion != 2 || out.Primary != in.Primary {
		t.Fatalf("round trip mismatch: %+v", out)
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name   string
		mutate func(*File)
		want   string
	}{
		{"no model", func(c *File) { c.Primary.Name = " " }, "primary: missing model name"},
		{"bad backend", func(c *File) { c.Judge.Backend = "grpc" }, "judge: unknown backend"},
		{"negative price", func(c *File) { c.Primary.Price.Output = -1 }, "price"},
		{"private needs endpoint", func(c *File) { c.Private = true }, "private mode requires"},
		{"bad embedder", func(c *File) { c.Embedder.Type = "word2vec" }, "unknown type"},
		{"compat needs url", func(c *File) { c.Embedder.Type = EmbedderCompat }, "compat requires base_url"},
		{"bad retriever", func(c *File) { c.Retrievers = "default_bm25" }, "bm25"},
		{"top_k", func(c *File) { c.TopK = 0 }, "top_k"},
		{"check_number", func(c *File) { c.CheckNumber = 0 }, "check_number"},
		{"budget", func(c *File) { c.Budget = -1 }, "budget"},
		{"recursion", func(c *File) { c.Summary.Recursion = -1 }, "recursion"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			cfg := Default()
			tc.mutate(cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("err=%v want substring %q", err, tc.want)
			}
		})
	}
}

func TestPrivateMode(t *testing.T) {
	t.Parallel()

	cfg := Default()
	cfg.Private = true
	cfg.Primary.BaseURL = "http://localhost:1/v1"
	cfg.Judge.BaseURL = "http://localhost:1/v1"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if cfg.CacheEnabled() {
		t.Fatalf("private mode must disable the cache")
	}
	cfg.Embedder.Type = EmbedderOpenAI
	if err := cfg.Validate(); err == nil {
		t.Fatalf("private mode must refuse the openai embedder")
	}
}

func TestHelpers(t *testing.T) {
	t.Parallel()

	cfg := Default()
	cfg.Debug = true
	if cfg.Concurrency() != 1 {
		t.Fatalf("debug concurrency=%d", cfg.Concurrency())
	}
	cfg.Embedder.Price = ledger.Price{Input: 0.02}
	prices := cfg.Prices()
	if prices[ledger.Embedding].Input != 0.02 || prices[ledger.Primary] != cfg.Primary.Price {
		t.Fatalf("prices=%v", prices)
	}

	m := ModelConfig{APIKeyEnv: "DOCQUERY_TEST_UNSET_KEY"}
	if m.APIKey("fallback") != "fallback" {
		t.Fatalf("expected fallback key")
	}
}

func TestOverrides_OnlySetFlagsWin(t *testing.T) {
	t.Parallel()

	p := writeConfig(t, `
top_k: 7
check_number: 5
summary:
  recursion: 2
`)
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	o := RegisterFlags(fs, CommonFlags|QueryFlags)
	if err := fs.Parse([]string{"-check-number", "1", "-model", "m2", "-prune-content", "+a", "-prune-content", "-b"}); err != nil {
		t.Fatalf("Parse: %v", err)
	}
	cfg, used, err := o.LoadWithOverrides(p)
	if err != nil {
		t.Fatalf("LoadWithOverrides: %v", err)
	}
	if used != p {
		t.Fatalf("used=%q", used)
	}
	if cfg.TopK != 7 || cfg.Summary.Recursion != 2 {
		t.Fatalf("file values lost: %+v", cfg)
	}
	if cfg.CheckNumber != 1 || cfg.Primary.Name != "m2" {
		t.Fatalf("flag values not applied: %+v", cfg)
	}
	if !slices.Equal(cfg.Prune.Content, []string{"+a", "-b"}) {
		t.Fatalf("prune=%v", cfg.Prune.Content)
	}
	if fs.Lookup("recursion") != nil {
		t.Fatalf("summary flags registered without SummaryFlags")
	}
}
