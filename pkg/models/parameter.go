package models

import (
	"fmt"
	"reflect"
	"regexp"
	"unicode/utf8"
)

// ParameterType is the declared value type of a pipeline parameter.
type ParameterType string

const (
	ParameterTypeString  ParameterType = "string"
	ParameterTypeNumber  ParameterType = "number"
	ParameterTypeBoolean ParameterType = "boolean"
	ParameterTypeObject  ParameterType = "object"
	ParameterTypeArray   ParameterType = "array"
)

// PipelineParameter declares a value supplied at instantiation or run time.
type PipelineParameter struct {
	Name        string               `json:"name"`
	Type        ParameterType        `json:"type"`
	Description string               `json:"description,omitempty"`
	Required    bool                 `json:"required"`
	Default     any                  `json:"default,omitempty"`
	Validation  *ParameterValidation `json:"validation,omitempty"`
}

// ParameterValidation constrains parameter values. Min and Max bound numbers,
// or the rune length of strings.
type ParameterValidation struct {
	Min     *float64 `json:"min,omitempty"`
	Max     *float64 `json:"max,omitempty"`
	Pattern string   `json:"pattern,omitempty"`
	Enum    []any    `json:"enum,omitempty"`
}

// Validate checks value against the declared type and validation rules.
func (p *PipelineParameter) Validate(value any) error {
	if value == nil {
		if p.Required {
			return NewParameterValidationError(p.Name, "required parameter missing")
		}

		return nil
	}

	if err := p.checkType(value); err != nil {
		return err
	}

	if p.Validation == nil {
		return nil
	}

	rules := p.Validation

	if measure, ok := measureOf(value); ok {
		if rules.Min != nil && measure < *rules.Min {
			return NewParameterValidationError(p.Name, fmt.Sprintf("value below minimum %v", *rules.Min))
		}

		if rules.Max != nil && measure > *rules.Max {
			return NewParameterValidationError(p.Name, fmt.Sprintf("value above maximum %v", *rules.Max))
		}
	}

	if rules.Pattern != "" {
		s, ok := value.(string)
		if ok {
			re, err := regexp.Compile(rules.Pattern)
			if err != nil {
				return NewParameterValidationError(p.Name, fmt.Sprintf("invalid pattern %q: %v", rules.Pattern, err))
			}

			if !re.MatchString(s) {
				return NewParameterValidationError(p.Name, fmt.Sprintf("value does not match pattern %s", rules.Pattern))
			}
		}
	}

	if len(rules.Enum) > 0 && !enumContains(rules.Enum, value) {
		return NewParameterValidationError(p.Name, fmt.Sprintf("value must be one of %v", rules.Enum))
	}

	return nil
}

func (p *PipelineParameter) checkType(value any) error {
	var ok bool

	switch p.Type {
	case ParameterTypeString:
		_, ok = value.(string)
	case ParameterTypeNumber:
		_, ok = toFloat(value)
	case ParameterTypeBoolean:
		_, ok = value.(bool)
	case ParameterTypeObject:
		_, ok = value.(map[string]any)
	case ParameterTypeArray:
		kind := reflect.TypeOf(value).Kind()
		ok = kind == reflect.Slice || kind == reflect.Array
	default:
		ok = true
	}

	if !ok {
		return NewParameterValidationError(p.Name, fmt.Sprintf("expected %s, got %T", p.Type, value))
	}

	return nil
}

func measureOf(value any) (float64, bool) {
	if s, ok := value.(string); ok {
		return float64(utf8.RuneCountInString(s)), true
	}

	return toFloat(value)
}

func enumContains(enum []any, value any) bool {
	for _, candidate := range enum {
		if reflect.DeepEqual(candidate, value) {
			return true
		}

		cf, cok := toFloat(candidate)
		vf, vok := toFloat(value)

		if cok && vok && cf == vf {
			return true
		}
	}

	return false
}

func toFloat(value any) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	case uint:
		return float64(v), true
	case uint32:
		return float64(v), true
	case uint64:
		return float64(v), true
	}

	return 0, false
}
