package config

import (
	"flag"
	"strings"
)

// FlagGroup selects which config fields a command exposes as flags.
type FlagGroup int

const (
	CommonFlags FlagGroup = 1 << iota
	QueryFlags
	SummaryFlags
)

// Overrides holds flag values bound over a scratch config. Only flags that were set
// on the command line are copied onto the loaded file.
type Overrides struct {
	fs      *flag.FlagSet
	scratch *File
	apply   map[string]func(dst, src *File)
}

type stringList []string

func (s *stringList) String() string { return strings.Join(*s, ",") }

func (s *stringList) Set(v string) error {
	*s = append(*s, v)
	return nil
}

// RegisterFlags defines the config flags of the given groups on fs.
func RegisterFlags(fs *flag.FlagSet, groups FlagGroup) *Overrides {
	d := Default()
	o := &Overrides{fs: fs, scratch: d, apply: make(map[string]func(dst, src *File))}

	str := func(p *string, name, usage string, apply func(dst, src *File)) {
		fs.StringVar(p, name, *p, usage)
		o.apply[name] = apply
	}
	num := func(p *int, name, usage string, apply func(dst, src *File)) {
		fs.IntVar(p, name, *p, usage)
		o.apply[name] = apply
	}
	boolean := func(p *bool, name, usage string, apply func(dst, src *File)) {
		fs.BoolVar(p, name, *p, usage)
		o.apply[name] = apply
	}

	if groups&CommonFlags != 0 {
		str(&d.Primary.Name, "model", "Primary model name", func(dst, src *File) { dst.Primary.Name = src.Primary.Name })
		str(&d.Primary.Backend, "backend", "Primary backend: responses or chat", func(dst, src *File) { dst.Primary.Backend = src.Primary.Backend })
		str(&d.Primary.BaseURL, "base-url", "Custom endpoint for the primary model", func(dst, src *File) { dst.Primary.BaseURL = src.Primary.BaseURL })
		fs.Float64Var(&d.Budget, "budget", d.Budget, "Dollar limit of the cost estimate (0 disables the check)")
		o.apply["budget"] = func(dst, src *File) { dst.Budget = src.Budget }
		num(&d.MaxConcurrency, "max-concurrency", "Max concurrent model calls", func(dst, src *File) { dst.MaxConcurrency = src.MaxConcurrency })
		boolean(&d.Debug, "debug", "Verbose logs and sequential model calls", func(dst, src *File) { dst.Debug = src.Debug })
		boolean(&d.Private, "private", "Refuse hosted endpoints and disable the verdict cache", func(dst, src *File) { dst.Private = src.Private })
		str(&d.Corpus.ArrayField, "array-field", "Name of the documents array in wrapped JSON files", func(dst, src *File) { dst.Corpus.ArrayField = src.Corpus.ArrayField })
		num(&d.Corpus.ChunkTokens, "doc-tokens", "Max tokens per document cut from text files", func(dst, src *File) { dst.Corpus.ChunkTokens = src.Corpus.ChunkTokens })
	}

	if groups&QueryFlags != 0 {
		str(&d.Judge.Name, "eval-model", "Judge model name", func(dst, src *File) { dst.Judge.Name = src.Judge.Name })
		str(&d.Judge.Backend, "eval-backend", "Judge backend: responses or chat", func(dst, src *File) { dst.Judge.Backend = src.Judge.Backend })
		str(&d.Judge.BaseURL, "eval-base-url", "Custom endpoint for the judge model", func(dst, src *File) { dst.Judge.BaseURL = src.Judge.BaseURL })
		str(&d.Embedder.Type, "embedder", "Embedder: tfidf, openai or compat", func(dst, src *File) { dst.Embedder.Type = src.Embedder.Type })
		str(&d.Embedder.Model, "embed-model", "Embedding model name", func(dst, src *File) { dst.Embedder.Model = src.Embedder.Model })
		str(&d.Embedder.BaseURL, "embed-base-url", "Custom endpoint for embeddings", func(dst, src *File) { dst.Embedder.BaseURL = src.Embedder.BaseURL })
		str(&d.Retrievers, "retrievers", "Underscore-joined retrievers: default, hyde, knn, svm, parent", func(dst, src *File) { dst.Retrievers = src.Retrievers })
		num(&d.TopK, "top-k", "Documents requested from each retriever", func(dst, src *File) { dst.TopK = src.TopK })
		fs.Float64Var(&d.Relevancy, "relevancy", d.Relevancy, "Score floor shared by the retrievers")
		o.apply["relevancy"] = func(dst, src *File) { dst.Relevancy = src.Relevancy }
		num(&d.ChildTokens, "child-tokens", "Child passage size of the parent retriever", func(dst, src *File) { dst.ChildTokens = src.ChildTokens })
		num(&d.CheckNumber, "check-number", "Judge samples per document", func(dst, src *File) { dst.CheckNumber = src.CheckNumber })
		boolean(&d.Cache.Disabled, "no-cache", "Disable the verdict cache", func(dst, src *File) { dst.Cache.Disabled = src.Cache.Disabled })
		str(&d.Cache.Path, "cache", "Verdict cache sqlite path, or \"memory\"", func(dst, src *File) { dst.Cache.Path = src.Cache.Path })

		content := (*stringList)(&d.Prune.Content)
		fs.Var(content, "prune-content", "Content filter +re or -re (repeatable)")
		o.apply["prune-content"] = func(dst, src *File) { dst.Prune.Content = append([]string(nil), src.Prune.Content...) }
		meta := (*stringList)(&d.Prune.Metadata)
		fs.Var(meta, "prune-metadata", "Metadata filter k+re, v-re or b+key:value (repeatable)")
		o.apply["prune-metadata"] = func(dst, src *File) { dst.Prune.Metadata = append([]string(nil), src.Prune.Metadata...) }
	}

	if groups&SummaryFlags != 0 {
		str(&d.Summary.Language, "language", "Summary language (default: same as the text)", func(dst, src *File) { dst.Summary.Language = src.Summary.Language })
		num(&d.Summary.Recursion, "recursion", "Max recursive summary passes", func(dst, src *File) { dst.Summary.Recursion = src.Summary.Recursion })
		num(&d.Summary.ChunkTokens, "chunk-tokens", "Max tokens per summarised chunk", func(dst, src *File) { dst.Summary.ChunkTokens = src.Summary.ChunkTokens })
	}
	return o
}

// Apply copies every flag set on the command line onto dst. Call after fs.Parse.
func (o *Overrides) Apply(dst *File) {
	o.fs.Visit(func(f *flag.Flag) {
		if apply, ok := o.apply[f.Name]; ok {
			apply(dst, o.scratch)
		}
	})
}

// LoadWithOverrides loads path (or the default locations when path is empty) and
// applies the flags set on the command line.
func (o *Overrides) LoadWithOverrides(path string) (*File, string, error) {
	var (
		cfg *File
		err error
	)
	if path == "" {
		cfg, path, err = LoadDefault()
	} else {
		cfg, err = Load(path)
	}
	if err != nil {
		return nil, "", err
	}
	o.Apply(cfg)
	applyDefaults(cfg)
	return cfg, path, nil
}
