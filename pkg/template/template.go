// Package template renders step expressions and instantiates pipelines from templates.
package template

import (
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"os"
	"strconv"
	"strings"
	"text/template"
	"time"
)

// RenderContext is the data a transform expression can reach.
type RenderContext struct {
	RunID      string
	PipelineID string
	Parameters map[string]any
	Inputs     map[string]any
}

// data lays the context out as .inputs, .params, .run and .env.
func (c RenderContext) data() map[string]any {
	return map[string]any{
		"inputs": c.Inputs,
		"params": c.Parameters,
		"env":    environ(),
		"run": map[string]any{
			"id":          c.RunID,
			"pipeline_id": c.PipelineID,
		},
	}
}

// RenderWithContext renders expression against a run's inputs and parameters.
func RenderWithContext(expression string, renderCtx RenderContext) (any, error) {
	return Render(expression, renderCtx.data())
}

var funcs = template.FuncMap{
	"now":   func() string { return time.Now().UTC().Format(time.RFC3339) },
	"rand":  randBelow,
	"join":  strings.Join,
	"lower": strings.ToLower,
	"upper": strings.ToUpper,
	"trim":  strings.TrimSpace,
	"default": func(fallback, value any) any {
		if value == nil || value == "" {
			return fallback
		}

		return value
	},
	"toJSON": func(value any) (string, error) {
		out, err := json.Marshal(value)

		return string(out), err
	},
}

// Render executes a text/template and decodes the output: JSON objects and
// arrays, numbers and booleans come back typed, anything else as a string.
func Render(expression string, data any) (any, error) {
	tmpl, err := template.New("transform").Funcs(funcs).Parse(expression)
	if err != nil {
		return nil, fmt.Errorf("failed to parse template '%s': %w", expression, err)
	}

	var buf strings.Builder

	if err := tmpl.Execute(&buf, data); err != nil {
		return nil, fmt.Errorf("failed to execute template '%s': %w", expression, err)
	}

	value, err := decode(strings.TrimSpace(buf.String()))
	if err != nil {
		return nil, fmt.Errorf("failed to parse json '%s': %w", expression, err)
	}

	return value, nil
}

func decode(out string) (any, error) {
	if looksLikeJSON(out) {
		var value any
		if err := json.Unmarshal([]byte(out), &value); err != nil {
			return nil, err
		}

		return value, nil
	}

	if num, err := strconv.ParseFloat(out, 64); err == nil {
		return num, nil
	}

	if b, err := strconv.ParseBool(out); err == nil {
		return b, nil
	}

	return out, nil
}

func looksLikeJSON(out string) bool {
	return (strings.HasPrefix(out, "{") && strings.HasSuffix(out, "}")) ||
		(strings.HasPrefix(out, "[") && strings.HasSuffix(out, "]"))
}

func randBelow(n int) int {
	if n <= 0 {
		return 0
	}

	return rand.IntN(n)
}

func environ() map[string]any {
	env := make(map[string]any)

	for _, kv := range os.Environ() {
		if key, value, ok := strings.Cut(kv, "="); ok {
			env[key] = value
		}
	}

	return env
}
