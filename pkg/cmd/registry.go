// Package cmd provides common initialization functions for command-line applications.
package cmd

import (
	"log/slog"

	"github.com/kbforge/kbforge/pkg/embedding"
	"github.com/kbforge/kbforge/pkg/protocol"
	"github.com/kbforge/kbforge/pkg/registry"
	"github.com/kbforge/kbforge/pkg/steps/annotate"
	"github.com/kbforge/kbforge/pkg/steps/chunk"
	"github.com/kbforge/kbforge/pkg/steps/embed"
	"github.com/kbforge/kbforge/pkg/steps/eval"
	"github.com/kbforge/kbforge/pkg/steps/fetch"
	"github.com/kbforge/kbforge/pkg/steps/index"
	"github.com/kbforge/kbforge/pkg/steps/normalize"
	"github.com/kbforge/kbforge/pkg/steps/pack"
	"github.com/kbforge/kbforge/pkg/steps/parse"
	"github.com/kbforge/kbforge/pkg/steps/transform"
	"github.com/kbforge/kbforge/pkg/steps/validate"
)

// EmbeddingDimensions sizes the vectors of the bundled embedder.
const EmbeddingDimensions = 384

// StepDependencies are the collaborators shared by the native steps.
type StepDependencies struct {
	Blobs    protocol.BlobStore
	Models   protocol.ModelRegistry
	Embedder protocol.Embedder
	Search   protocol.SearchIndex
}

// NewRegistry registers an executor for every step kind.
func NewRegistry(log *slog.Logger, deps StepDependencies) *registry.Registry {
	if deps.Embedder == nil {
		deps.Embedder = embedding.NewHashing(EmbeddingDimensions)
	}

	reg := registry.NewRegistry(log)

	reg.Register(fetch.New(deps.Blobs, nil))
	reg.Register(parse.New())
	reg.Register(normalize.New())
	reg.Register(chunk.New())
	reg.Register(annotate.New())
	reg.Register(embed.New(deps.Models, deps.Embedder))
	reg.Register(index.New(deps.Search))
	reg.Register(eval.New(deps.Search))
	reg.Register(pack.New(deps.Blobs))
	reg.Register(transform.New())
	reg.Register(validate.New())

	return reg
}
