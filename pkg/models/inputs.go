package models

import (
	"strconv"
)

// StepInputs is the merged input map handed to a step executor: resolved inputs
// first, then step config keys on top.
type StepInputs map[string]any

func (in StepInputs) Has(key string) bool {
	v, ok := in[key]

	return ok && v != nil
}

// String returns the value at key when it is a non-empty string.
func (in StepInputs) String(key string) (string, bool) {
	s, ok := in[key].(string)
	if !ok || s == "" {
		return "", false
	}

	return s, true
}

// StringOr returns the string at key or fallback.
func (in StepInputs) StringOr(key, fallback string) string {
	if s, ok := in.String(key); ok {
		return s
	}

	return fallback
}

// Bool accepts booleans and their string forms.
func (in StepInputs) Bool(key string) (bool, bool) {
	switch v := in[key].(type) {
	case bool:
		return v, true
	case string:
		b, err := strconv.ParseBool(v)

		return b, err == nil
	}

	return false, false
}

// Float accepts any numeric type and numeric strings.
func (in StepInputs) Float(key string) (float64, bool) {
	if f, ok := toFloat(in[key]); ok {
		return f, true
	}

	if s, ok := in[key].(string); ok {
		f, err := strconv.ParseFloat(s, 64)

		return f, err == nil
	}

	return 0, false
}

// FloatOr returns the number at key or fallback.
func (in StepInputs) FloatOr(key string, fallback float64) float64 {
	if f, ok := in.Float(key); ok {
		return f
	}

	return fallback
}

// IntOr returns the number at key truncated to int, or fallback.
func (in StepInputs) IntOr(key string, fallback int) int {
	if f, ok := in.Float(key); ok {
		return int(f)
	}

	return fallback
}
