package normalize

import (
	"testing"

	"github.com/kbforge/kbforge/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestText(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"  hello \t  world  ", "hello world"},
		{"a\r\n\r\n\r\n\r\nb", "a\n\nb"},
		{"café", "café"},
		{"\n\n  \n", ""},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, Text(tt.in))
	}
}

func TestExecute_Deduplicates(t *testing.T) {
	step := &models.PipelineStep{ID: "normalize", Name: "Normalize", Type: models.StepTypeNormalize}

	parseOutput := map[string]any{
		"parsed_documents": []models.Document{
			{Path: "a.md", Content: "Same   text"},
			{Path: "b.md", Content: "Same text"},
			{Path: "c.md", Content: "   "},
			{Path: "d.md", Content: "Other"},
		},
	}

	result, err := New().Execute(t.Context(), step, nil, models.StepInputs{"documents": parseOutput})
	require.NoError(t, err)

	output := result.Output.(map[string]any)
	docs := output["normalized_documents"].([]models.Document)
	require.Len(t, docs, 2)
	assert.Equal(t, "a.md", docs[0].Path)
	assert.Equal(t, "d.md", docs[1].Path)
	assert.NotEmpty(t, docs[0].Checksum)

	stats := output["deduplication_stats"].(map[string]any)
	assert.Equal(t, 1, stats["duplicates_removed"])
	assert.Equal(t, 1, stats["empty_removed"])
}

func TestExecute_KeepsDuplicatesWhenDisabled(t *testing.T) {
	step := &models.PipelineStep{ID: "normalize", Name: "Normalize", Type: models.StepTypeNormalize}

	inputs := models.StepInputs{
		"documents":   []models.Document{{Path: "a", Content: "x"}, {Path: "b", Content: "x"}},
		"deduplicate": false,
		"lowercase":   true,
	}

	result, err := New().Execute(t.Context(), step, nil, inputs)
	require.NoError(t, err)

	docs := result.Output.(map[string]any)["normalized_documents"].([]models.Document)
	assert.Len(t, docs, 2)
}
