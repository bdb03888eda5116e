package protocol

import (
	"context"
	"time"
)

// ModelState is the availability of a model in the model registry.
type ModelState string

const (
	ModelStateAvailable     ModelState = "available"
	ModelStateNotDownloaded ModelState = "not_downloaded"
	ModelStateDownloading   ModelState = "downloading"
	ModelStateError         ModelState = "error"
)

// ModelStatus describes a model. Progress and ETASeconds are set while
// downloading, Message when the model is in the error state.
type ModelStatus struct {
	State      ModelState `json:"state"`
	Progress   float64    `json:"progress,omitempty"`
	ETASeconds *uint64    `json:"eta_seconds,omitempty"`
	Message    string     `json:"message,omitempty"`
}

// ModelType groups models that can substitute for one another.
type ModelType string

const (
	ModelTypeEmbedding ModelType = "embedding"
	ModelTypeReranker  ModelType = "reranker"
)

// ModelRegistry reports model availability and fallbacks.
type ModelRegistry interface {
	GetModelStatus(ctx context.Context, modelID string) (ModelStatus, error)
	GetFallbackModel(ctx context.Context, modelType ModelType) (string, error)
}

// FileMetadata is returned by BlobStore writes.
type FileMetadata struct {
	Path      string    `json:"path"`
	Size      int64     `json:"size"`
	Checksum  string    `json:"checksum"`
	CreatedAt time.Time `json:"created_at"`
}

// FileInfo describes a blob found by Walk.
type FileInfo struct {
	Path string
	Size int64
}

// BlobStore reads source files and stores produced artifacts.
type BlobStore interface {
	// Walk calls fn for every regular file below root.
	Walk(ctx context.Context, root string, fn func(FileInfo) error) error
	Read(ctx context.Context, path string) ([]byte, error)
	// Store writes data under the store's root, enforcing its quota.
	Store(ctx context.Context, relPath string, data []byte) (*FileMetadata, error)
}

// IndexDocument is one entry handed to the search index.
type IndexDocument struct {
	ID       string
	Text     string
	Vector   []float32
	Metadata map[string]any
}

// IndexStats summarises a collection after indexing.
type IndexStats struct {
	Collection      string  `json:"collection"`
	DocumentCount   int     `json:"document_count"`
	VectorCount     int     `json:"vector_count"`
	TermCount       int     `json:"term_count"`
	IndexedCount    int     `json:"indexed_count"`
	RejectedCount   int     `json:"rejected_count"`
	HealthScore     float64 `json:"health_score"`
	VectorDimension int     `json:"vector_dimension"`
}

// SearchIndex stores chunks for lexical and vector retrieval.
type SearchIndex interface {
	Index(ctx context.Context, collection string, docs []IndexDocument) (*IndexStats, error)
	Stats(ctx context.Context, collection string) (*IndexStats, error)
}

// Embedder turns texts into vectors with the named model.
type Embedder interface {
	Embed(ctx context.Context, model string, texts []string) ([][]float32, error)
	Dimensions(model string) int
}
