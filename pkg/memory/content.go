package memory

import (
	"encoding/json"

	"github.com/go-playground/validator/v10"

	"github.com/refinelabs/refinery/pkg/errors"
)

// Content payloads are stored as JSON but validated against a per-type
// schema at the store boundary, so a malformed payload never reaches
// durable storage.

// InsightContent is a free-form learning about a project.
type InsightContent struct {
	Text   string   `json:"text" validate:"required"`
	Source string   `json:"source,omitempty"`
	Tags   []string `json:"tags,omitempty"`
}

// PatternContent describes a recurring code or architecture pattern.
type PatternContent struct {
	Name        string `json:"name" validate:"required"`
	Description string `json:"description,omitempty"`
	Occurrences int    `json:"occurrences,omitempty" validate:"gte=0"`
}

// ErrorContent records a failure worth remembering.
type ErrorContent struct {
	Message    string `json:"message" validate:"required"`
	Stack      string `json:"stack,omitempty"`
	Resolution string `json:"resolution,omitempty"`
}

// SuccessContent records a completed improvement and its metrics.
type SuccessContent struct {
	Summary string                 `json:"summary" validate:"required"`
	Metrics map[string]interface{} `json:"metrics,omitempty"`
}

// PreferenceContent is a key/value user or project preference.
type PreferenceContent struct {
	Key   string `json:"key" validate:"required"`
	Value string `json:"value" validate:"required"`
}

// ContextContent is background information fed to later stages.
type ContextContent struct {
	Text  string `json:"text" validate:"required"`
	Scope string `json:"scope,omitempty"`
}

var contentValidate = validator.New()

// ValidateContent checks a raw content payload against the schema for
// its memory type.
func ValidateContent(memType Type, content map[string]interface{}) error {
	if len(content) == 0 {
		return errors.New(errors.ValidationFailed, "memory content is required")
	}

	var target interface{}
	switch memType {
	case TypeInsight:
		target = &InsightContent{}
	case TypePattern:
		target = &PatternContent{}
	case TypeError:
		target = &ErrorContent{}
	case TypeSuccess:
		target = &SuccessContent{}
	case TypePreference:
		target = &PreferenceContent{}
	case TypeContext:
		target = &ContextContent{}
	default:
		return errors.WithFields(
			errors.New(errors.InvalidInput, "unknown memory type"),
			errors.Fields{"memory_type": string(memType)})
	}

	raw, err := json.Marshal(content)
	if err != nil {
		return errors.Wrap(err, errors.InvalidInput, "encode memory content")
	}
	if err := json.Unmarshal(raw, target); err != nil {
		return errors.WithFields(
			errors.Wrap(err, errors.ValidationFailed, "memory content does not match its type schema"),
			errors.Fields{"memory_type": string(memType)})
	}
	if err := contentValidate.Struct(target); err != nil {
		return errors.WithFields(
			errors.Wrap(err, errors.ValidationFailed, "memory content failed schema validation"),
			errors.Fields{"memory_type": string(memType)})
	}
	return nil
}
