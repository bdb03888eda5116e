// Package fetch provides the step that collects raw source documents.
package fetch

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/kbforge/kbforge/pkg/models"
	"github.com/kbforge/kbforge/pkg/protocol"
)

const (
	SourceLocalFolder = "local-folder"
	SourceWebCrawler  = "web-crawler"
	SourceGitClone    = "git-clone"

	defaultMaxPages    = 10
	defaultMaxFileSize = 10 << 20
)

var defaultFileTypes = []string{"md", "markdown", "mdx", "txt", "rst", "html", "htm"}

// Config is the fetch step configuration.
type Config struct {
	Source        string   `mapstructure:"source"`
	Path          string   `mapstructure:"path"`
	BaseURL       string   `mapstructure:"baseUrl"`
	Repo          string   `mapstructure:"repo"`
	Branch        string   `mapstructure:"branch"`
	FileTypes     []string `mapstructure:"fileTypes"`
	MaxPages      int      `mapstructure:"maxPages"`
	MaxFileSize   int64    `mapstructure:"maxFileSize"`
	RespectRobots bool     `mapstructure:"respectRobots"`
}

type Step struct {
	blobs  protocol.BlobStore
	client *retryablehttp.Client
	git    string
}

// New returns a fetch step. A nil client gets a default retrying HTTP client.
func New(blobs protocol.BlobStore, client *retryablehttp.Client) *Step {
	if client == nil {
		client = retryablehttp.NewClient()
		client.RetryMax = 3
		client.Logger = nil
	}

	return &Step{blobs: blobs, client: client, git: "git"}
}

func (s *Step) Type() models.StepType { return models.StepTypeFetch }

func (s *Step) Name() string { return "Fetch" }

func (s *Step) Description() string {
	return "Collects documents from a local folder, a documentation site or a git repository"
}

func (s *Step) Schema() map[string]any {
	return map[string]any{
		"type":     "object",
		"required": []string{"source"},
		"properties": map[string]any{
			"source": map[string]any{
				"type": "string",
				"enum": []string{SourceLocalFolder, SourceWebCrawler, SourceGitClone},
			},
			"path":          map[string]any{"type": "string"},
			"baseUrl":       map[string]any{"type": "string"},
			"repo":          map[string]any{"type": "string"},
			"fileTypes":     map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
			"respectRobots": map[string]any{"type": "boolean"},
		},
	}
}

func (s *Step) Execute(ctx context.Context, step *models.PipelineStep, execCtx *protocol.ExecutionContext, inputs models.StepInputs) (*protocol.StepResult, error) {
	started := time.Now()

	var cfg Config
	if err := protocol.DecodeConfig(step, inputs, &cfg); err != nil {
		return nil, err
	}

	if cfg.MaxFileSize <= 0 {
		cfg.MaxFileSize = defaultMaxFileSize
	}

	var (
		output  map[string]any
		records int
		err     error
	)

	switch cfg.Source {
	case "":
		return nil, models.NewInvalidStepConfigError(step.Name, "missing 'source' parameter")
	case SourceLocalFolder:
		if cfg.Path == "" {
			return nil, models.NewInvalidStepConfigError(step.Name, "missing 'path' parameter for local-folder source")
		}

		output, records, err = s.fetchLocal(ctx, cfg)
	case SourceWebCrawler:
		if cfg.BaseURL == "" {
			return nil, models.NewInvalidStepConfigError(step.Name, "missing 'baseUrl' parameter for web-crawler source")
		}

		output, records, err = s.crawl(ctx, cfg)
	case SourceGitClone:
		if cfg.Repo == "" {
			return nil, models.NewInvalidStepConfigError(step.Name, "missing 'repo' parameter for git-clone source")
		}

		output, records, err = s.clone(ctx, cfg)
	default:
		return nil, models.NewInvalidStepConfigError(step.Name, fmt.Sprintf("unsupported source type: %s", cfg.Source))
	}

	if err != nil {
		return nil, err
	}

	return protocol.Completed(step, started, output, uint64(records)), nil
}

func (s *Step) fetchLocal(ctx context.Context, cfg Config) (map[string]any, int, error) {
	docs, totalSize, err := s.readTree(ctx, cfg.Path, cfg)
	if err != nil {
		return nil, 0, err
	}

	return map[string]any{
		"source_type": SourceLocalFolder,
		"files":       docs,
		"total_files": len(docs),
		"total_size":  totalSize,
	}, len(docs), nil
}

// readTree reads every accepted file below root through the blob store.
func (s *Step) readTree(ctx context.Context, root string, cfg Config) ([]models.Document, int64, error) {
	if s.blobs == nil {
		return nil, 0, models.WrapError(models.ErrStorage, "no blob store configured", nil)
	}

	fileTypes := cfg.FileTypes
	if len(fileTypes) == 0 {
		fileTypes = defaultFileTypes
	}

	docs := make([]models.Document, 0)

	var totalSize int64

	err := s.blobs.Walk(ctx, root, func(info protocol.FileInfo) error {
		ext := extension(info.Path)
		if !accepts(fileTypes, ext) || info.Size > cfg.MaxFileSize {
			return nil
		}

		data, err := s.blobs.Read(ctx, filepath.Join(root, info.Path))
		if err != nil {
			return err
		}

		docs = append(docs, models.Document{
			Path:    filepath.ToSlash(info.Path),
			Title:   strings.TrimSuffix(filepath.Base(info.Path), filepath.Ext(info.Path)),
			Format:  ext,
			Content: string(data),
			Size:    info.Size,
		})
		totalSize += info.Size

		return nil
	})
	if err != nil {
		return nil, 0, models.WrapError(models.ErrIO, fmt.Sprintf("failed to read %s", root), err)
	}

	return docs, totalSize, nil
}

func extension(path string) string {
	return strings.ToLower(strings.TrimPrefix(filepath.Ext(path), "."))
}

func accepts(fileTypes []string, ext string) bool {
	for _, fileType := range fileTypes {
		if strings.EqualFold(strings.TrimPrefix(fileType, "."), ext) {
			return true
		}
	}

	return false
}
