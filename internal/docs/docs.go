// Package docs models the documents handed to the LLM core by the ingestion
// layer. Extraction and merging happen upstream; a Document arrives either as
// raw bytes (for providers with native document input) or as pre-extracted
// plain text (for providers without it).
package docs

import (
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Document is one byte-addressable document reference.
type Document struct {
	Name      string
	MediaType string
	Text      string
	Data      []byte
}

// NewBinary creates a document from raw bytes.
func NewBinary(name, mediaType string, data []byte) *Document {
	return &Document{Name: name, MediaType: mediaType, Data: data}
}

// NewText creates a document from pre-extracted plain text.
func NewText(name, text string) *Document {
	return &Document{Name: name, MediaType: "text/plain", Text: text}
}

// HasData reports whether the document carries raw bytes.
func (d *Document) HasData() bool {
	return len(d.Data) > 0
}

// Base64 returns the document bytes encoded for inline attachment.
func (d *Document) Base64() string {
	return base64.StdEncoding.EncodeToString(d.Data)
}

// mediaTypes maps file extensions to MIME types for LoadFile.
var mediaTypes = map[string]string{
	".pdf": "application/pdf",
	".txt": "text/plain",
	".md":  "text/plain",
	".csv": "text/csv",
}

// LoadFile reads a document from disk. Text-like files are loaded as
// pre-extracted text; everything else is loaded as raw bytes.
func LoadFile(path string) (*Document, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- caller-supplied statement path
	if err != nil {
		return nil, fmt.Errorf("failed to read document %s: %w", path, err)
	}

	ext := strings.ToLower(filepath.Ext(path))
	mediaType, ok := mediaTypes[ext]
	if !ok {
		mediaType = "application/octet-stream"
	}

	name := filepath.Base(path)
	if strings.HasPrefix(mediaType, "text/") {
		return NewText(name, string(data)), nil
	}
	return NewBinary(name, mediaType, data), nil
}

// LoadFiles reads multiple documents from disk, preserving order.
func LoadFiles(paths []string) ([]*Document, error) {
	documents := make([]*Document, 0, len(paths))
	for _, path := range paths {
		doc, err := LoadFile(path)
		if err != nil {
			return nil, err
		}
		documents = append(documents, doc)
	}
	return documents, nil
}
