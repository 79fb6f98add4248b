package rag

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// HashKeyField is the provenance field used to link answers back to documents.
const HashKeyField = "hash_key"

type Document struct {
	Content     string         `json:"content"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	Fingerprint string         `json:"fingerprint"`
}

// Fingerprint is the hex SHA-256 of content.
func Fingerprint(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

func NewDocument(content string, metadata map[string]any) Document {
	return Document{Content: content, Metadata: metadata, Fingerprint: Fingerprint(content)}
}

// Source is the path the document was loaded from, if ingestion recorded one.
func (d Document) Source() string {
	for _, k := range []string{"path", "source"} {
		if v, ok := d.Metadata[k]; ok && v != nil {
			return fmt.Sprint(v)
		}
	}
	return ""
}

func (d Document) HashKey() string {
	fp := d.Fingerprint
	if fp == "" {
		fp = Fingerprint(d.Content)
	}
	return fp[:8]
}

// WithProvenance returns a copy carrying the hash key. The receiver's metadata map
// is not modified.
func (d Document) WithProvenance() Document {
	meta := make(map[string]any, len(d.Metadata)+1)
	for k, v := range d.Metadata {
		meta[k] = v
	}
	meta[HashKeyField] = d.HashKey()
	d.Metadata = meta
	return d
}

func (d Document) Title() string {
	if v, ok := d.Metadata["title"]; ok && v != nil {
		return fmt.Sprint(v)
	}
	return ""
}

func (d Document) Author() string {
	if v, ok := d.Metadata["author"]; ok && v != nil {
		return fmt.Sprint(v)
	}
	return ""
}
