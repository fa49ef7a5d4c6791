// Package llm sends meal photos, voice notes and descriptions to an
// external model under one prompt contract and returns its raw JSON.
// The output is not validated here; see package schema.
package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
)

const (
	StageTranscription = "transcription"
	StageAnalysis      = "analysis"
)

var (
	ErrNoContent    = errors.New("model returned no content")
	ErrNotJSON      = errors.New("model response is not valid JSON")
	ErrUnsupported  = errors.New("unsupported media kind")
	ErrEmptyRequest = errors.New("nothing to analyze")
)

// ModelError wraps a failed model call with the pipeline stage it came from.
type ModelError struct {
	Stage string
	Err   error
}

func (e *ModelError) Error() string {
	return fmt.Sprintf("model %s failed: %v", e.Stage, e.Err)
}

func (e *ModelError) Unwrap() error { return e.Err }

// RawOutput is the model's JSON document, unvalidated.
type RawOutput = json.RawMessage

// Generator is the part of a langchaingo model the adapter uses.
type Generator interface {
	GenerateContent(ctx context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error)
}

type Config struct {
	VisionModel string
	TextModel   string
	MaxTokens   int
	Temperature float64
}

func (c Config) withDefaults() Config {
	if c.VisionModel == "" {
		c.VisionModel = "gpt-4o-mini"
	}
	if c.TextModel == "" {
		c.TextModel = c.VisionModel
	}
	if c.MaxTokens <= 0 {
		c.MaxTokens = 2000
	}
	return c
}

type Adapter struct {
	gen         Generator
	transcriber Transcriber
	cfg         Config
}

func NewAdapter(gen Generator, transcriber Transcriber, cfg Config) *Adapter {
	return &Adapter{gen: gen, transcriber: transcriber, cfg: cfg.withDefaults()}
}

// NewOpenAIGenerator builds the OpenAI-compatible chat client.
func NewOpenAIGenerator(apiKey, baseURL string) (*openai.LLM, error) {
	opts := []openai.Option{openai.WithToken(apiKey)}
	if baseURL != "" {
		opts = append(opts, openai.WithBaseURL(baseURL))
	}
	client, err := openai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create openai client: %w", err)
	}
	return client, nil
}

// Analyze sends an image, or the transcript of a voice note, through the
// prompt contract.
func (a *Adapter) Analyze(ctx context.Context, media Media) (RawOutput, error) {
	if media.Empty() {
		return nil, &ModelError{Stage: StageAnalysis, Err: ErrEmptyRequest}
	}
	switch media.Kind {
	case KindImage:
		return a.complete(ctx, a.cfg.VisionModel,
			llms.TextPart(imageInstruction),
			llms.ImageURLPart(media.DataURL()),
		)
	case KindAudio:
		if a.transcriber == nil {
			return nil, &ModelError{Stage: StageTranscription, Err: ErrUnsupported}
		}
		transcript, err := a.transcriber.Transcribe(ctx, media)
		if err != nil {
			return nil, &ModelError{Stage: StageTranscription, Err: err}
		}
		if strings.TrimSpace(transcript) == "" {
			return nil, &ModelError{Stage: StageTranscription, Err: ErrNoContent}
		}
		return a.AnalyzeText(ctx, transcript)
	default:
		return nil, &ModelError{Stage: StageAnalysis, Err: fmt.Errorf("%w: %q", ErrUnsupported, media.Kind)}
	}
}

// AnalyzeText runs a free-text meal description through the prompt contract.
func (a *Adapter) AnalyzeText(ctx context.Context, description string) (RawOutput, error) {
	if strings.TrimSpace(description) == "" {
		return nil, &ModelError{Stage: StageAnalysis, Err: ErrEmptyRequest}
	}
	return a.complete(ctx, a.cfg.TextModel, llms.TextPart(textInstruction(description)))
}

func (a *Adapter) complete(ctx context.Context, model string, parts ...llms.ContentPart) (RawOutput, error) {
	messages := []llms.MessageContent{
		{Role: llms.ChatMessageTypeSystem, Parts: []llms.ContentPart{llms.TextPart(systemPrompt())}},
		{Role: llms.ChatMessageTypeHuman, Parts: parts},
	}

	resp, err := a.gen.GenerateContent(ctx, messages,
		llms.WithModel(model),
		llms.WithJSONMode(),
		llms.WithMaxTokens(a.cfg.MaxTokens),
		llms.WithTemperature(a.cfg.Temperature),
	)
	if err != nil {
		return nil, &ModelError{Stage: StageAnalysis, Err: err}
	}
	if resp == nil || len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Content) == "" {
		return nil, &ModelError{Stage: StageAnalysis, Err: ErrNoContent}
	}

	raw, ok := extractJSON(resp.Choices[0].Content)
	if !ok {
		return nil, &ModelError{Stage: StageAnalysis, Err: ErrNotJSON}
	}
	return raw, nil
}

// extractJSON trims prose or code fences around the outermost object.
func extractJSON(content string) (RawOutput, bool) {
	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start == -1 || end <= start {
		return nil, false
	}
	candidate := []byte(content[start : end+1])
	if !json.Valid(candidate) {
		return nil, false
	}
	return RawOutput(candidate), true
}
