package template

import (
	"testing"

	"github.com/kbforge/kbforge/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInstantiate_LocalFolderTemplate(t *testing.T) {
	tpl, err := Builtin().Get("local-folder")
	require.NoError(t, err)

	params := map[string]any{
		"name":           "Docs",
		"product":        "Acme",
		"sourceUrl":      "/data/docs",
		"embeddingModel": "all-mpnet-base-v2",
	}

	pipeline := Instantiate(tpl, "Docs KB", params)

	assert.Equal(t, "Docs KB", pipeline.Name)
	assert.Equal(t, []string{LocalFolderTemplateID}, pipeline.Templates)
	assert.Equal(t, tpl.Tags, pipeline.Tags)
	assert.Equal(t, models.PipelineStatusDraft, pipeline.Status)

	fetch, ok := pipeline.StepByID("fetch")
	require.True(t, ok)
	assert.Equal(t, "/data/docs", fetch.Config["path"])
	assert.Equal(t, "local-folder", fetch.Config["source"])

	embed, _ := pipeline.StepByID("embed")
	assert.Equal(t, "all-mpnet-base-v2", embed.Config["model"])

	pack, _ := pipeline.StepByID("pack")
	assert.Equal(t, "Docs", pack.Config["name"])
	assert.Equal(t, "Acme", pack.Config["product"])
	assert.Equal(t, true, pack.Config["createKB"])

	// the template itself is untouched
	tplFetch := tpl.Spec.Steps[0]
	assert.Equal(t, "{{sourceUrl}}", tplFetch.Config["path"])
}

func TestSubstituteParameters(t *testing.T) {
	config := map[string]any{
		"exact":     "{{name}}",
		"embedded":  "prefix-{{name}}",
		"unknown":   "{{other}}",
		"number":    3,
		"spaced":    "{{ name }}",
		"structure": map[string]any{"inner": "{{name}}"},
	}

	out := SubstituteParameters(config, map[string]any{"name": 42})

	assert.Equal(t, 42, out["exact"])
	assert.Equal(t, "prefix-{{name}}", out["embedded"])
	assert.Equal(t, "{{other}}", out["unknown"])
	assert.Equal(t, 3, out["number"])
	assert.Equal(t, "{{ name }}", out["spaced"])
	assert.Equal(t, map[string]any{"inner": "{{name}}"}, out["structure"])
	assert.Equal(t, "{{name}}", config["exact"])
}

func TestPlaceholders(t *testing.T) {
	tpl, err := Builtin().Get(WebDocsTemplateID)
	require.NoError(t, err)

	assert.ElementsMatch(t, []string{"sourceUrl", "embeddingModel", "name", "product"}, Placeholders(tpl.Spec))
}

func TestBuiltin(t *testing.T) {
	registry := Builtin()

	templates := registry.List()
	require.Len(t, templates, 4)

	for _, tpl := range templates {
		t.Run(tpl.ID, func(t *testing.T) {
			require.Len(t, tpl.Spec.Steps, 8)

			ids := make(map[string]bool)
			for _, step := range tpl.Spec.Steps {
				ids[step.ID] = true
				assert.True(t, step.Type.Valid())

				for _, dep := range step.Dependencies {
					assert.True(t, ids[dep], "step %s depends on later or unknown step %s", step.ID, dep)
				}
			}
		})
	}

	_, err := registry.Get("nope")
	require.ErrorIs(t, err, models.ErrTemplateNotFound)
}
