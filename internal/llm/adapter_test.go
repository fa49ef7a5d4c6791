package llm

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"
)

type fakeGenerator struct {
	content  string
	err      error
	messages []llms.MessageContent
	opts     llms.CallOptions
}

func (f *fakeGenerator) GenerateContent(_ context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error) {
	f.messages = messages
	for _, o := range options {
		o(&f.opts)
	}
	if f.err != nil {
		return nil, f.err
	}
	return &llms.ContentResponse{Choices: []*llms.ContentChoice{{Content: f.content}}}, nil
}

func (f *fakeGenerator) humanText() string {
	var sb strings.Builder
	for _, m := range f.messages {
		if m.Role != llms.ChatMessageTypeHuman {
			continue
		}
		for _, p := range m.Parts {
			if tp, ok := p.(llms.TextContent); ok {
				sb.WriteString(tp.Text)
			}
		}
	}
	return sb.String()
}

type fakeTranscriber struct {
	text string
	err  error
	got  Media
}

func (f *fakeTranscriber) Transcribe(_ context.Context, audio Media) (string, error) {
	f.got = audio
	return f.text, f.err
}

const eggsJSON = `{"foods":[{"name":"eggs","estimatedPortion":{"count":100,"unit":"g"},"sizeDescription":"two large eggs","typicalServing":"1 egg (50g)","calories":143,"protein":12.6}],"mealSummary":"Two eggs","mealCategories":["egg"]}`

func TestAnalyzeImage(t *testing.T) {
	gen := &fakeGenerator{content: eggsJSON}
	a := NewAdapter(gen, nil, Config{VisionModel: "vision-test"})

	raw, err := a.Analyze(context.Background(), Media{Kind: KindImage, Data: []byte{0xff, 0xd8}, MIMEType: "image/jpeg"})
	require.NoError(t, err)
	assert.JSONEq(t, eggsJSON, string(raw))

	assert.True(t, gen.opts.JSONMode)
	assert.Equal(t, "vision-test", gen.opts.Model)

	require.Len(t, gen.messages, 2)
	assert.Equal(t, llms.ChatMessageTypeSystem, gen.messages[0].Role)
	system := gen.messages[0].Parts[0].(llms.TextContent).Text
	assert.Contains(t, system, `"g|oz"`)
	assert.Contains(t, system, "nuts_seeds")

	var image llms.ImageURLContent
	for _, p := range gen.messages[1].Parts {
		if ic, ok := p.(llms.ImageURLContent); ok {
			image = ic
		}
	}
	assert.Equal(t, "data:image/jpeg;base64,/9g=", image.URL)
}

func TestAnalyzeAudioUsesTranscript(t *testing.T) {
	gen := &fakeGenerator{content: eggsJSON}
	tr := &fakeTranscriber{text: "two eggs and a slice of toast"}
	a := NewAdapter(gen, tr, Config{VisionModel: "vision", TextModel: "text"})

	raw, err := a.Analyze(context.Background(), Media{Kind: KindAudio, Data: []byte("ogg"), MIMEType: "audio/ogg"})
	require.NoError(t, err)
	assert.NotEmpty(t, raw)

	assert.Equal(t, "audio/ogg", tr.got.MIMEType)
	assert.Contains(t, gen.humanText(), "two eggs and a slice of toast")
	assert.Equal(t, "text", gen.opts.Model)
}

func TestAnalyzeErrors(t *testing.T) {
	img := Media{Kind: KindImage, Data: []byte("x"), MIMEType: "image/png"}

	tests := []struct {
		name  string
		gen   *fakeGenerator
		tr    *fakeTranscriber
		media Media
		stage string
		is    error
	}{
		{name: "empty content", gen: &fakeGenerator{content: "  "}, media: img, stage: StageAnalysis, is: ErrNoContent},
		{name: "prose only", gen: &fakeGenerator{content: "I cannot see any food."}, media: img, stage: StageAnalysis, is: ErrNotJSON},
		{name: "truncated json", gen: &fakeGenerator{content: `{"foods": [ }`}, media: img, stage: StageAnalysis, is: ErrNotJSON},
		{name: "transport failure", gen: &fakeGenerator{err: context.DeadlineExceeded}, media: img, stage: StageAnalysis, is: context.DeadlineExceeded},
		{name: "empty media", gen: &fakeGenerator{}, media: Media{Kind: KindImage}, stage: StageAnalysis, is: ErrEmptyRequest},
		{
			name:  "transcription failure",
			gen:   &fakeGenerator{content: eggsJSON},
			tr:    &fakeTranscriber{err: errors.New("401 unauthorized")},
			media: Media{Kind: KindAudio, Data: []byte("a"), MIMEType: "audio/webm"},
			stage: StageTranscription,
		},
		{
			name:  "blank transcript",
			gen:   &fakeGenerator{content: eggsJSON},
			tr:    &fakeTranscriber{text: " "},
			media: Media{Kind: KindAudio, Data: []byte("a"), MIMEType: "audio/webm"},
			stage: StageTranscription,
			is:    ErrNoContent,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var tr Transcriber
			if tt.tr != nil {
				tr = tt.tr
			}
			a := NewAdapter(tt.gen, tr, Config{})
			_, err := a.Analyze(context.Background(), tt.media)
			require.Error(t, err)

			var me *ModelError
			require.True(t, errors.As(err, &me))
			assert.Equal(t, tt.stage, me.Stage)
			if tt.is != nil {
				assert.ErrorIs(t, err, tt.is)
			}
		})
	}
}

func TestExtractJSONStripsFences(t *testing.T) {
	raw, ok := extractJSON("```json\n{\"foods\": []}\n```")
	require.True(t, ok)
	assert.JSONEq(t, `{"foods": []}`, string(raw))
}

func TestAudioExtension(t *testing.T) {
	assert.Equal(t, "webm", AudioExtension("audio/webm;codecs=opus"))
	assert.Equal(t, "m4a", AudioExtension("audio/x-m4a"))
	assert.Equal(t, "mp3", AudioExtension("audio/mpeg"))
	assert.Equal(t, "wav", AudioExtension("AUDIO/WAV"))
	assert.Equal(t, DefaultAudioExtension, AudioExtension("application/x-unknown"))
	assert.Equal(t, DefaultAudioExtension, AudioExtension(""))
}

func TestWhisperClient(t *testing.T) {
	var gotFile, gotModel, gotAuth, gotLang string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/audio/transcriptions", r.URL.Path)
		gotAuth = r.Header.Get("Authorization")
		require.NoError(t, r.ParseMultipartForm(1<<20))
		gotModel = r.FormValue("model")
		gotLang = r.FormValue("language")
		f, hdr, err := r.FormFile("file")
		require.NoError(t, err)
		defer f.Close()
		data, _ := io.ReadAll(f)
		gotFile = hdr.Filename + ":" + string(data)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"text": "a bowl of oatmeal"}`))
	}))
	defer srv.Close()

	c := NewWhisperClient(srv.URL+"/v1", "sk-test", "", time.Second)
	text, err := c.Transcribe(context.Background(), Media{Kind: KindAudio, Data: []byte("voice"), MIMEType: "audio/mp4"})
	require.NoError(t, err)
	assert.Equal(t, "a bowl of oatmeal", text)
	assert.Equal(t, "audio.m4a:voice", gotFile)
	assert.Equal(t, "whisper-1", gotModel)
	assert.Equal(t, "Bearer sk-test", gotAuth)
	assert.Equal(t, "en", gotLang)
}

func TestWhisperClientEmptyTranscript(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"text": "  "}`))
	}))
	defer srv.Close()

	c := NewWhisperClient(srv.URL, "k", "", time.Second)
	_, err := c.Transcribe(context.Background(), Media{Kind: KindAudio, Data: []byte("v"), MIMEType: "audio/ogg"})
	assert.ErrorIs(t, err, ErrNoContent)
}

func TestWhisperClientStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "quota exceeded", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := NewWhisperClient(srv.URL, "k", "", time.Second)
	_, err := c.Transcribe(context.Background(), Media{Kind: KindAudio, Data: []byte("v"), MIMEType: "audio/webm"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "429")
}
