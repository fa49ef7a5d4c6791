// internal/llm/transcribe.go
package llm

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

// Transcriber turns a voice note into text.
type Transcriber interface {
	Transcribe(ctx context.Context, audio Media) (string, error)
}

// WhisperClient calls an OpenAI-compatible /audio/transcriptions endpoint.
type WhisperClient struct {
	client   *openai.Client
	model    string
	language string
}

func NewWhisperClient(baseURL, apiKey, model string, timeout time.Duration) *WhisperClient {
	if model == "" {
		model = openai.Whisper1
	}
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = strings.TrimRight(baseURL, "/")
	}
	cfg.HTTPClient = &http.Client{Timeout: timeout}
	return &WhisperClient{
		client:   openai.NewClientWithConfig(cfg),
		model:    model,
		language: "en",
	}
}

// Transcribe uploads the clip under a file name whose extension the endpoint
// recognises, derived from the upload's MIME type.
func (w *WhisperClient) Transcribe(ctx context.Context, audio Media) (string, error) {
	resp, err := w.client.CreateTranscription(ctx, openai.AudioRequest{
		Model:    w.model,
		FilePath: "audio." + AudioExtension(audio.MIMEType),
		Reader:   bytes.NewReader(audio.Data),
		Language: w.language,
		Format:   openai.AudioResponseFormatJSON,
	})
	if err != nil {
		return "", fmt.Errorf("transcription request failed: %w", err)
	}
	if strings.TrimSpace(resp.Text) == "" {
		return "", ErrNoContent
	}
	return resp.Text, nil
}
