// internal/analysis/errors.go
package analysis

import (
	"errors"
	"fmt"

	"mcp-food-log/internal/llm"
	"mcp-food-log/internal/metrics"
	"mcp-food-log/internal/schema"
)

// ErrInvalidMedia means the caller supplied no media or an empty blob.
var ErrInvalidMedia = errors.New("no media provided")

// ValidationError means the model answered but its output broke the
// MealAnalysis contract. It points at prompt or model drift rather than
// an infrastructure failure.
type ValidationError struct {
	Err *schema.SchemaError
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("model output failed validation: %v", e.Err)
}

func (e *ValidationError) Unwrap() error { return e.Err }

// PublicMessage is the user-safe text for an analysis failure.
func PublicMessage(err error) string {
	var (
		me *llm.ModelError
		ve *ValidationError
	)
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidMedia):
		return "No image or audio provided"
	case errors.As(err, &ve):
		return "The analysis result was not in the expected format. Please try again."
	case errors.As(err, &me) && me.Stage == llm.StageTranscription:
		return "Failed to transcribe audio"
	case errors.As(err, &me):
		return "Failed to analyze meal"
	default:
		return "Analysis failed"
	}
}

func outcome(err error) string {
	var (
		me *llm.ModelError
		ve *ValidationError
	)
	switch {
	case err == nil:
		return metrics.OutcomeSuccess
	case errors.Is(err, ErrInvalidMedia):
		return metrics.OutcomeInvalidMedia
	case errors.As(err, &ve):
		return metrics.OutcomeValidation
	case errors.As(err, &me):
		return metrics.OutcomeModelError
	default:
		return metrics.OutcomeInternal
	}
}
