package models

// TemplateCategory groups pipeline templates in listings.
type TemplateCategory string

const (
	TemplateCategoryDataIngestion       TemplateCategory = "data_ingestion"
	TemplateCategoryTextProcessing      TemplateCategory = "text_processing"
	TemplateCategoryDocumentParsing     TemplateCategory = "document_parsing"
	TemplateCategoryEmbeddingGeneration TemplateCategory = "embedding_generation"
	TemplateCategoryIndexBuilding       TemplateCategory = "index_building"
	TemplateCategoryEvaluation          TemplateCategory = "evaluation"
	TemplateCategoryExportImport        TemplateCategory = "export_import"
	TemplateCategoryCustom              TemplateCategory = "custom"
)

// PipelineTemplate is a reusable pipeline spec with {{param}} placeholders in step config.
type PipelineTemplate struct {
	ID          string           `json:"id"`
	Name        string           `json:"name"`
	Description string           `json:"description"`
	Category    TemplateCategory `json:"category"`
	Spec        PipelineSpec     `json:"spec"`
	Author      string           `json:"author,omitempty"`
	Version     string           `json:"version"`
	Tags        []string         `json:"tags"`
}
