package template

import (
	"sort"

	"github.com/kbforge/kbforge/pkg/models"
)

const (
	builtinAuthor  = "kbforge"
	builtinVersion = "1.0.0"

	LocalFolderTemplateID   = "kb-creation-local-folder"
	WebDocsTemplateID       = "kb-creation-web-documentation"
	GitRepositoryTemplateID = "kb-creation-github-repository"
	PDFCollectionTemplateID = "kb-creation-pdf-collection"
)

// aliases maps short names accepted by the API to built-in template ids.
var aliases = map[string]string{
	"local-folder":      LocalFolderTemplateID,
	"web-documentation": WebDocsTemplateID,
	"github-repository": GitRepositoryTemplateID,
	"pdf-collection":    PDFCollectionTemplateID,
}

// Registry holds the templates a service can instantiate.
type Registry struct {
	templates map[string]*models.PipelineTemplate
}

// NewRegistry returns a registry holding the given templates.
func NewRegistry(templates ...*models.PipelineTemplate) *Registry {
	r := &Registry{templates: make(map[string]*models.PipelineTemplate)}
	for _, tpl := range templates {
		r.templates[tpl.ID] = tpl
	}

	return r
}

// Builtin returns a registry with the knowledge-base creation templates.
func Builtin() *Registry {
	return NewRegistry(
		localFolderTemplate(),
		webDocumentationTemplate(),
		gitRepositoryTemplate(),
		pdfCollectionTemplate(),
	)
}

// List returns every template ordered by id.
func (r *Registry) List() []*models.PipelineTemplate {
	out := make([]*models.PipelineTemplate, 0, len(r.templates))
	for _, tpl := range r.templates {
		out = append(out, tpl)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })

	return out
}

// Get resolves id or one of its short aliases.
func (r *Registry) Get(id string) (*models.PipelineTemplate, error) {
	if tpl, ok := r.templates[id]; ok {
		return tpl, nil
	}

	if canonical, ok := aliases[id]; ok {
		if tpl, ok := r.templates[canonical]; ok {
			return tpl, nil
		}
	}

	return nil, models.NewTemplateNotFoundError(id)
}

func localFolderTemplate() *models.PipelineTemplate {
	return &models.PipelineTemplate{
		ID:          LocalFolderTemplateID,
		Name:        "Knowledge base from local folder",
		Description: "Build a knowledge base from documents in a local folder",
		Category:    models.TemplateCategoryDataIngestion,
		Author:      builtinAuthor,
		Version:     builtinVersion,
		Tags:        []string{"kb-creation", "local-folder", "etl"},
		Spec: kbCreationSpec(
			map[string]any{"source": "local-folder", "path": "{{sourceUrl}}"},
			"Local folder path containing the documents",
			4,
		),
	}
}

func webDocumentationTemplate() *models.PipelineTemplate {
	return &models.PipelineTemplate{
		ID:          WebDocsTemplateID,
		Name:        "Knowledge base from web documentation",
		Description: "Crawl a documentation site and build a knowledge base",
		Category:    models.TemplateCategoryDataIngestion,
		Author:      builtinAuthor,
		Version:     builtinVersion,
		Tags:        []string{"kb-creation", "web-crawler", "documentation"},
		Spec: kbCreationSpec(
			map[string]any{"source": "web-crawler", "baseUrl": "{{sourceUrl}}", "respectRobots": true, "maxPages": 50},
			"Base URL of the documentation site",
			6,
		),
	}
}

func gitRepositoryTemplate() *models.PipelineTemplate {
	return &models.PipelineTemplate{
		ID:          GitRepositoryTemplateID,
		Name:        "Knowledge base from a git repository",
		Description: "Clone a repository and build a knowledge base from its documents",
		Category:    models.TemplateCategoryDataIngestion,
		Author:      builtinAuthor,
		Version:     builtinVersion,
		Tags:        []string{"kb-creation", "git", "repository"},
		Spec: kbCreationSpec(
			map[string]any{"source": "git-clone", "repo": "{{sourceUrl}}", "fileTypes": []any{"md", "mdx", "txt", "rst"}},
			"Clone URL of the repository",
			8,
		),
	}
}

func pdfCollectionTemplate() *models.PipelineTemplate {
	return &models.PipelineTemplate{
		ID:          PDFCollectionTemplateID,
		Name:        "Knowledge base from a PDF collection",
		Description: "Build a knowledge base from a folder of PDF documents",
		Category:    models.TemplateCategoryDocumentParsing,
		Author:      builtinAuthor,
		Version:     builtinVersion,
		Tags:        []string{"kb-creation", "pdf", "documents"},
		Spec: kbCreationSpec(
			map[string]any{"source": "local-folder", "path": "{{sourceUrl}}", "fileTypes": []any{"pdf"}},
			"Folder containing the PDF files",
			4,
		),
	}
}

// kbCreationSpec builds the fetch → parse → normalize → chunk → embed → index →
// eval → pack chain shared by the knowledge-base templates.
func kbCreationSpec(fetchConfig map[string]any, sourceDescription string, maxParallel int) models.PipelineSpec {
	steps := []*models.PipelineStep{
		newStep("fetch", "Fetch sources", models.StepTypeFetch, fetchConfig, nil,
			retry(3, 1000, 2, 10000), 600),
		newStep("parse", "Parse documents", models.StepTypeParse, map[string]any{},
			[]*models.StepInput{sourced("files", "fetch")},
			retry(2, 500, 2, 5000), 900),
		newStep("normalize", "Normalize text", models.StepTypeNormalize, map[string]any{"deduplicate": true},
			[]*models.StepInput{sourced("documents", "parse")},
			nil, 600),
		newStep("chunk", "Chunk documents", models.StepTypeChunk, map[string]any{"maxTokens": 512, "overlap": 64},
			[]*models.StepInput{sourced("documents", "normalize")},
			nil, 600),
		newStep("embed", "Generate embeddings", models.StepTypeEmbed, map[string]any{"model": "{{embeddingModel}}", "batchSize": 32},
			[]*models.StepInput{sourced("chunks", "chunk")},
			retry(2, 2000, 2, 20000), 3600),
		newStep("index", "Build indexes", models.StepTypeIndex, map[string]any{},
			[]*models.StepInput{sourced("chunks", "embed")},
			nil, 1200),
		newStep("eval", "Evaluate quality", models.StepTypeEval, map[string]any{"qualityThreshold": 0.8},
			[]*models.StepInput{sourced("index", "index")},
			nil, 600),
		newStep("pack", "Package knowledge base", models.StepTypePack,
			map[string]any{"createKB": true, "name": "{{name}}", "product": "{{product}}"},
			[]*models.StepInput{
				sourced("chunks", "embed"),
				sourced("index", "index"),
				sourced("evaluation", "eval"),
				{Name: "version", Type: models.StepIOTypeConfig, Default: "1.0.0"},
				{Name: "description", Type: models.StepIOTypeConfig},
			},
			nil, 300),
	}

	steps[1].Parallelizable = true
	steps[2].Parallelizable = true

	cpu := 2.0
	memory := uint64(2048)
	disk := uint64(5120)
	timeout := uint64(7200)

	minName, maxName := 2.0, 100.0

	return models.PipelineSpec{
		Version: models.SpecVersion,
		Steps:   steps,
		Parameters: map[string]*models.PipelineParameter{
			"sourceUrl": {
				Name:        "sourceUrl",
				Type:        models.ParameterTypeString,
				Description: sourceDescription,
				Required:    true,
			},
			"embeddingModel": {
				Name:        "embeddingModel",
				Type:        models.ParameterTypeString,
				Description: "Embedding model used for vector generation",
				Default:     "all-MiniLM-L6-v2",
				Validation: &models.ParameterValidation{
					Enum: []any{"all-MiniLM-L6-v2", "all-mpnet-base-v2", "e5-large-v2"},
				},
			},
			"name": {
				Name:        "name",
				Type:        models.ParameterTypeString,
				Description: "Knowledge base name",
				Required:    true,
				Validation: &models.ParameterValidation{
					Min:     &minName,
					Max:     &maxName,
					Pattern: `^[a-zA-Z0-9][a-zA-Z0-9\s\-_]*$`,
				},
			},
			"product": {
				Name:        "product",
				Type:        models.ParameterTypeString,
				Description: "Product the knowledge base documents",
				Required:    true,
			},
			"version": {
				Name:        "version",
				Type:        models.ParameterTypeString,
				Description: "Knowledge base version",
				Default:     "1.0.0",
			},
			"description": {
				Name:        "description",
				Type:        models.ParameterTypeString,
				Description: "Knowledge base description",
			},
		},
		Resources: &models.PipelineResources{
			CPU:              &cpu,
			MemoryMB:         &memory,
			DiskMB:           &disk,
			TimeoutSeconds:   &timeout,
			MaxParallelSteps: &maxParallel,
		},
		Triggers: []*models.PipelineTrigger{
			{Type: models.TriggerTypeManual, Enabled: true},
		},
	}
}

func newStep(
	id, name string,
	stepType models.StepType,
	config map[string]any,
	inputs []*models.StepInput,
	retryPolicy *models.RetryPolicy,
	timeoutSeconds uint64,
) *models.PipelineStep {
	if inputs == nil {
		inputs = make([]*models.StepInput, 0)
	}

	dependencies := make([]string, 0)
	for _, input := range inputs {
		if input.Source != nil {
			dependencies = appendUnique(dependencies, *input.Source)
		}
	}

	return &models.PipelineStep{
		ID:             id,
		Name:           name,
		Type:           stepType,
		Config:         config,
		Inputs:         inputs,
		Outputs:        make([]*models.StepOutput, 0),
		Dependencies:   dependencies,
		RetryPolicy:    retryPolicy,
		TimeoutSeconds: &timeoutSeconds,
	}
}

func sourced(name, source string) *models.StepInput {
	return &models.StepInput{
		Name:     name,
		Type:     models.StepIOTypeData,
		Required: true,
		Source:   &source,
	}
}

func retry(attempts uint32, initialMs uint64, multiplier float64, maxMs uint64) *models.RetryPolicy {
	return &models.RetryPolicy{
		MaxAttempts:       attempts,
		InitialDelayMs:    initialMs,
		BackoffMultiplier: multiplier,
		MaxDelayMs:        maxMs,
	}
}

func appendUnique(items []string, item string) []string {
	for _, existing := range items {
		if existing == item {
			return items
		}
	}

	return append(items, item)
}
