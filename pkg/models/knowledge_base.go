package models

import "time"

// KnowledgeBaseStatus is the state of a packaged knowledge base.
type KnowledgeBaseStatus string

const (
	KnowledgeBaseStatusIndexed KnowledgeBaseStatus = "indexed"
)

// KnowledgeBase is the descriptor produced by a pack step.
type KnowledgeBase struct {
	ID            string              `json:"id"`
	Name          string              `json:"name"`
	Product       string              `json:"product"`
	Version       string              `json:"version"`
	Description   string              `json:"description,omitempty"`
	Status        KnowledgeBaseStatus `json:"status"`
	DocumentCount int                 `json:"document_count"`
	ChunkCount    int                 `json:"chunk_count"`
	IndexSize     int                 `json:"index_size"`
	HealthScore   float64             `json:"health_score"`
	ManifestRef   string              `json:"manifest_ref,omitempty"`
	Checksum      string              `json:"checksum,omitempty"`
	CreatedAt     time.Time           `json:"created_at"`
	UpdatedAt     time.Time           `json:"updated_at"`
}
