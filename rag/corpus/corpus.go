// Package corpus loads documents from disk: JSON or JSONL document dumps, and plain
// text files that are split into token-bounded documents.
package corpus

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/theimaginaryfoundation/docquery/rag"
	"github.com/theimaginaryfoundation/docquery/rag/chunker"
)

// Options controls how files are turned into documents.
type Options struct {
	// ArrayField names the documents array when a JSON file holds an object. When
	// empty the first array-valued field is used.
	ArrayField string
	// ChunkTokens bounds the documents cut from text files.
	ChunkTokens int
	// TextExtensions lists the extensions read as plain text (defaults to .txt, .md).
	TextExtensions []string
}

func (o Options) textExt(ext string) bool {
	exts := o.TextExtensions
	if len(exts) == 0 {
		exts = []string{".txt", ".md", ".markdown"}
	}
	ext = strings.ToLower(ext)
	for _, e := range exts {
		if strings.ToLower(e) == ext {
			return true
		}
	}
	return false
}

// record accepts both "content" and "page_content" for the text.
type record struct {
	Content     string         `json:"content"`
	PageContent string         `json:"page_content"`
	Metadata    map[string]any `json:"metadata"`
	Fingerprint string         `json:"fingerprint"`
}

func (r record) document(source string) (rag.Document, error) {
	content := r.Content
	if content == "" {
		content = r.PageContent
	}
	if strings.TrimSpace(content) == "" {
		return rag.Document{}, errors.New("document has no content")
	}
	meta := r.Metadata
	if meta == nil {
		meta = make(map[string]any)
	}
	if _, ok := meta["path"]; !ok {
		if _, ok := meta["source"]; !ok && source != "" {
			meta["source"] = source
		}
	}
	d := rag.Document{Content: content, Metadata: meta, Fingerprint: r.Fingerprint}
	if d.Fingerprint == "" {
		d.Fingerprint = rag.Fingerprint(content)
	}
	return d, nil
}

// Load reads a file or every supported file under a directory, in lexical path order.
func Load(ctx context.Context, path string, opts Options) ([]rag.Document, error) {
	if ctx == nil {
		return nil, errors.New("corpus.Load: ctx is nil")
	}
	if path == "" {
		return nil, errors.New("corpus.Load: path is empty")
	}
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("corpus.Load: %w", err)
	}
	if !info.IsDir() {
		return LoadFile(ctx, path, opts)
	}

	var files []string
	err = filepath.WalkDir(path, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if p != path && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		ext := filepath.Ext(p)
		if isDocumentDump(ext) || opts.textExt(ext) {
			files = append(files, p)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("corpus.Load: walk %s: %w", path, err)
	}
	sort.Strings(files)

	var out []rag.Document
	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		docs, err := LoadFile(ctx, f, opts)
		if err != nil {
			return nil, err
		}
		out = append(out, docs...)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("corpus.Load: %s: %w", path, rag.ErrEmptyCorpus)
	}
	return out, nil
}

func isDocumentDump(ext string) bool {
	switch strings.ToLower(ext) {
	case ".json", ".jsonl", ".ndjson":
		return true
	}
	return false
}

// LoadFile reads one file. JSON files may hold an array of documents, an object
// wrapping such an array, or a stream of objects (JSONL).
func LoadFile(ctx context.Context, path string, opts Options) ([]rag.Document, error) {
	if isDocumentDump(filepath.Ext(path)) {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("corpus: open %s: %w", path, err)
		}
		defer f.Close()
		docs, err := Decode(ctx, f, path, opts)
		if err != nil {
			return nil, fmt.Errorf("corpus: %s: %w", path, err)
		}
		return docs, nil
	}

	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("corpus: read %s: %w", path, err)
	}
	return TextDocuments(path, string(b), opts.ChunkTokens), nil
}

// TextDocuments cuts text into documents that remember their file and position.
func TextDocuments(path, text string, chunkTokens int) []rag.Document {
	pieces := chunker.New(chunkTokens).Split(text)
	title := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	out := make([]rag.Document, 0, len(pieces))
	for i, p := range pieces {
		out = append(out, rag.NewDocument(p, map[string]any{
			"path":  path,
			"title": title,
			"chunk": i,
		}))
	}
	return out
}

// Decode streams documents from r.
func Decode(ctx context.Context, r io.Reader, source string, opts Options) ([]rag.Document, error) {
	dec := json.NewDecoder(bufio.NewReaderSize(r, 1<<20))
	dec.UseNumber()

	var out []rag.Document
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read token: %w", err)
		}
		delim, ok := tok.(json.Delim)
		if !ok {
			return nil, fmt.Errorf("expected JSON array or object, got %T", tok)
		}
		switch delim {
		case '[':
			docs, err := decodeArray(ctx, dec, source)
			if err != nil {
				return nil, err
			}
			out = append(out, docs...)
		case '{':
			docs, err := decodeObject(ctx, dec, source, opts.ArrayField)
			if err != nil {
				return nil, err
			}
			out = append(out, docs...)
		default:
			return nil, fmt.Errorf("unexpected delimiter %q", delim)
		}
	}
	return out, nil
}

// decodeArray reads documents until the array's closing bracket, which it consumes.
func decodeArray(ctx context.Context, dec *json.Decoder, source string) ([]rag.Document, error) {
	var out []rag.Document
	for dec.More() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		var rec record
		if err := dec.Decode(&rec); err != nil {
			return nil, fmt.Errorf("decode document %d: %w", len(out), err)
		}
		d, err := rec.document(source)
		if err != nil {
			return nil, fmt.Errorf("document %d: %w", len(out), err)
		}
		out = append(out, d)
	}
	if err := expectDelim(dec, ']'); err != nil {
		return nil, err
	}
	return out, nil
}

// decodeObject handles an opened object. It is either a single document (a JSONL
// line) or a wrapper holding the documents array.
func decodeObject(ctx context.Context, dec *json.Decoder, source, arrayField string) ([]rag.Document, error) {
	var rec record
	var out []rag.Document
	foundArray := false
	isDocument := false
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return nil, fmt.Errorf("read object key: %w", err)
		}
		key, ok := keyTok.(string)
		if !ok {
			return nil, fmt.Errorf("expected string key, got %T", keyTok)
		}

		switch key {
		case "content", "page_content", "metadata", "fingerprint":
			isDocument = true
			if err := decodeField(dec, key, &rec); err != nil {
				return nil, err
			}
			continue
		}

		valTok, err := dec.Token()
		if err != nil {
			return nil, fmt.Errorf("read value of %q: %w", key, err)
		}
		isTarget := key == arrayField
		if arrayField == "" && !foundArray {
			if d, ok := valTok.(json.Delim); ok && d == '[' {
				isTarget = true
			}
		}
		if isTarget {
			if d, ok := valTok.(json.Delim); !ok || d != '[' {
				return nil, fmt.Errorf("field %q is not an array", key)
			}
			foundArray = true
			docs, err := decodeArray(ctx, dec, source)
			if err != nil {
				return nil, err
			}
			out = append(out, docs...)
			continue
		}
		if err := skipValue(dec, valTok); err != nil {
			return nil, fmt.Errorf("skip %q: %w", key, err)
		}
	}
	if err := expectDelim(dec, '}'); err != nil {
		return nil, err
	}

	if isDocument {
		d, err := rec.document(source)
		if err != nil {
			return nil, err
		}
		return append(out, d), nil
	}
	if !foundArray {
		return nil, errors.New("object is neither a document nor a documents wrapper")
	}
	return out, nil
}

func decodeField(dec *json.Decoder, key string, rec *record) error {
	var err error
	switch key {
	case "content":
		err = dec.Decode(&rec.Content)
	case "page_content":
		err = dec.Decode(&rec.PageContent)
	case "metadata":
		err = dec.Decode(&rec.Metadata)
	case "fingerprint":
		err = dec.Decode(&rec.Fingerprint)
	}
	if err != nil {
		return fmt.Errorf("decode %q: %w", key, err)
	}
	return nil
}

func expectDelim(dec *json.Decoder, want json.Delim) error {
	tok, err := dec.Token()
	if err != nil {
		return fmt.Errorf("read closing %q: %w", want, err)
	}
	if d, ok := tok.(json.Delim); !ok || d != want {
		return fmt.Errorf("expected closing %q, got %v", want, tok)
	}
	return nil
}

func skipValue(dec *json.Decoder, first json.Token) error {
	d, ok := first.(json.Delim)
	if !ok {
		return nil
	}
	switch d {
	case '{', '[':
	default:
		return fmt.Errorf("unexpected delimiter %q", d)
	}

	depth := 1
	for depth > 0 {
		tok, err := dec.Token()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return io.ErrUnexpectedEOF
			}
			return err
		}
		if dd, ok := tok.(json.Delim); ok {
			switch dd {
			case '{', '[':
				depth++
			case '}', ']':
				depth--
			}
		}
	}
	return nil
}
