package service

import (
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/nivello-hq/nivello-core/platform/go/persistence"
)

// TransformPhase says when a field transform runs: before the value is
// written, after it is read, or both.
type TransformPhase string

const (
	PhaseRequest  TransformPhase = "request"
	PhaseResponse TransformPhase = "response"
	PhaseBoth     TransformPhase = "both"
)

type transformFunc func(value any) (any, error)

var transformRegistry = map[string]transformFunc{
	"uppercase":     stringTransform(strings.ToUpper),
	"lowercase":     stringTransform(strings.ToLower),
	"trim":          stringTransform(strings.TrimSpace),
	"base64_encode": base64Encode,
	"base64_decode": base64Decode,
}

// applyTransforms runs the field's transform chain for the given phase, in
// declaration order. Unknown functions fail rather than silently passing
// values through.
func applyTransforms(field fieldSpec, phase TransformPhase, value any) (any, error) {
	if value == nil {
		return nil, nil
	}

	for _, spec := range field.Transforms {
		if !phaseMatches(spec.On, phase) {
			continue
		}
		fn, ok := transformRegistry[spec.Fn]
		if !ok {
			return nil, fmt.Errorf("%w: unknown transform %q on field %q", persistence.ErrInvalidArgument, spec.Fn, field.ID)
		}
		transformed, err := fn(value)
		if err != nil {
			return nil, fmt.Errorf("%w: transform %q on field %q: %v", persistence.ErrInvalidArgument, spec.Fn, field.ID, err)
		}
		value = transformed
	}
	return value, nil
}

func phaseMatches(declared string, phase TransformPhase) bool {
	switch TransformPhase(declared) {
	case PhaseBoth, "":
		return true
	case phase:
		return true
	default:
		return false
	}
}

func stringTransform(fn func(string) string) transformFunc {
	return func(value any) (any, error) {
		text, ok := value.(string)
		if !ok {
			return nil, fmt.Errorf("expected a string, got %T", value)
		}
		return fn(text), nil
	}
}

func base64Encode(value any) (any, error) {
	text, ok := value.(string)
	if !ok {
		return nil, fmt.Errorf("expected a string, got %T", value)
	}
	return base64.StdEncoding.EncodeToString([]byte(text)), nil
}

func base64Decode(value any) (any, error) {
	text, ok := value.(string)
	if !ok {
		return nil, fmt.Errorf("expected a string, got %T", value)
	}
	decoded, err := base64.StdEncoding.DecodeString(text)
	if err != nil {
		return nil, fmt.Errorf("decode base64: %w", err)
	}
	return string(decoded), nil
}
