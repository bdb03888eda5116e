package models

import (
	"fmt"

	"github.com/mitchellh/mapstructure"
)

// Document is a unit of source content flowing between fetch, parse and normalize.
type Document struct {
	Path     string         `json:"path"                mapstructure:"path"`
	Title    string         `json:"title,omitempty"     mapstructure:"title"`
	Format   string         `json:"format,omitempty"    mapstructure:"format"`
	Content  string         `json:"content"             mapstructure:"content"`
	Size     int64          `json:"size"                mapstructure:"size"`
	Checksum string         `json:"checksum,omitempty"  mapstructure:"checksum"`
	Metadata map[string]any `json:"metadata,omitempty"  mapstructure:"metadata"`
}

// Chunk is a slice of a document sized for embedding and retrieval.
type Chunk struct {
	ID           string         `json:"id"                  mapstructure:"id"`
	DocumentPath string         `json:"document_path"       mapstructure:"document_path"`
	Index        int            `json:"index"               mapstructure:"index"`
	Text         string         `json:"text"                mapstructure:"text"`
	TokenCount   int            `json:"token_count"         mapstructure:"token_count"`
	Metadata     map[string]any `json:"metadata,omitempty"  mapstructure:"metadata"`
	Vector       []float32      `json:"vector,omitempty"    mapstructure:"vector"`
}

// ExtractDocuments reads documents from a step input. The input may be the
// document list itself or a step output map holding it under one of keys.
func ExtractDocuments(value any, keys ...string) ([]Document, error) {
	switch v := value.(type) {
	case nil:
		return nil, nil
	case []Document:
		return v, nil
	}

	if nested, ok := lookupNested(value, keys); ok {
		return ExtractDocuments(nested)
	}

	var docs []Document
	if err := decodeLoose(value, &docs); err != nil {
		return nil, fmt.Errorf("failed to decode documents: %w", err)
	}

	return docs, nil
}

// ExtractChunks reads chunks from a step input, see ExtractDocuments.
func ExtractChunks(value any, keys ...string) ([]Chunk, error) {
	switch v := value.(type) {
	case nil:
		return nil, nil
	case []Chunk:
		return v, nil
	}

	if nested, ok := lookupNested(value, keys); ok {
		return ExtractChunks(nested)
	}

	var chunks []Chunk
	if err := decodeLoose(value, &chunks); err != nil {
		return nil, fmt.Errorf("failed to decode chunks: %w", err)
	}

	return chunks, nil
}

func lookupNested(value any, keys []string) (any, bool) {
	m, ok := value.(map[string]any)
	if !ok {
		return nil, false
	}

	for _, key := range keys {
		if nested, found := m[key]; found {
			return nested, true
		}
	}

	return nil, false
}

func decodeLoose(input, output any) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		Result:           output,
	})
	if err != nil {
		return err
	}

	return decoder.Decode(input)
}
