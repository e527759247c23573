// Package openai provides a transcription backend on the OpenAI audio API.
package openai

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"

	"github.com/lingopack/lingopack/pkg/provider/stt"
)

const defaultModel = "whisper-1"

// Transcriber implements stt.Transcriber using the OpenAI audio
// transcriptions API.
type Transcriber struct {
	client   oai.Client
	model    string
	language string
}

var _ stt.Transcriber = (*Transcriber)(nil)

// config holds optional configuration for the transcriber.
type config struct {
	baseURL  string
	model    string
	language string
	timeout  time.Duration
}

// Option is a functional option for Transcriber.
type Option func(*config)

// WithBaseURL overrides the default OpenAI API base URL. Use it to point at
// an OpenAI-compatible server.
func WithBaseURL(url string) Option {
	return func(c *config) {
		c.baseURL = url
	}
}

// WithModel selects the transcription model. Defaults to whisper-1.
func WithModel(model string) Option {
	return func(c *config) {
		c.model = model
	}
}

// WithLanguage pins the language of the input audio as an ISO 639-1 code.
// When empty the API detects the language itself.
func WithLanguage(lang string) Option {
	return func(c *config) {
		c.language = lang
	}
}

// WithTimeout sets a per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *config) {
		c.timeout = d
	}
}

// New constructs a Transcriber. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Transcriber, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai: apiKey must not be empty")
	}

	cfg := &config{model: defaultModel}
	for _, o := range opts {
		o(cfg)
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
	}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	if cfg.timeout > 0 {
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{
			Timeout: cfg.timeout,
		}))
	}

	client := oai.NewClient(reqOpts...)
	return &Transcriber{
		client:   client,
		model:    cfg.model,
		language: cfg.language,
	}, nil
}

// Transcribe implements stt.Transcriber. It uploads the audio file at path
// and returns the transcribed text.
func (t *Transcriber) Transcribe(ctx context.Context, path string) (*stt.Result, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("openai: open audio file: %w", err)
	}
	defer f.Close()

	params := oai.AudioTranscriptionNewParams{
		Model: oai.AudioModel(t.model),
		File:  f,
	}
	if t.language != "" {
		params.Language = param.NewOpt(t.language)
	}

	transcription, err := t.client.Audio.Transcriptions.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("openai: transcribe %s: %w", path, err)
	}

	return &stt.Result{
		Text:     strings.TrimSpace(transcription.Text),
		Language: t.language,
	}, nil
}
