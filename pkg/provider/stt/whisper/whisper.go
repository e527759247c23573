// Package whisper provides local whisper.cpp-backed transcribers.
//
// Client talks to a running whisper-server binary, which exposes a REST API
// at POST /inference accepting multipart file uploads. Native loads a
// whisper.cpp model through the CGO bindings and runs inference in-process.
//
// Usage:
//
//	c, err := whisper.New("http://localhost:9000",
//	    whisper.WithLanguage("zh"),
//	)
//	res, err := c.Transcribe(ctx, "uploads/task.wav")
package whisper

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/lingopack/lingopack/pkg/provider/stt"
)

const (
	defaultLanguage   = "zh"
	defaultSampleRate = 16000
)

var _ stt.Transcriber = (*Client)(nil)

// Option is a functional option for configuring a Client.
type Option func(*Client)

// WithModel sets the model identifier forwarded to the whisper-server
// (e.g. "base", "small"). When empty the server uses whichever model it was
// started with, which is the default.
func WithModel(model string) Option {
	return func(c *Client) {
		c.model = model
	}
}

// WithLanguage sets the language code sent to the whisper-server (e.g. "zh",
// "en"). Defaults to "zh", the dominant source language of the pipeline.
func WithLanguage(lang string) Option {
	return func(c *Client) {
		c.language = lang
	}
}

// WithTimeout sets the per-request HTTP timeout. Defaults to 120s; batch
// inference on long recordings is slow.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.httpClient.Timeout = d
	}
}

// Client implements stt.Transcriber backed by a whisper-server HTTP endpoint.
// Multiple transcriptions may run concurrently.
type Client struct {
	serverURL  string
	model      string
	language   string
	httpClient *http.Client
}

// New creates a Client that connects to the whisper-server at serverURL
// (e.g. "http://localhost:9000"). serverURL must be non-empty.
func New(serverURL string, opts ...Option) (*Client, error) {
	if serverURL == "" {
		return nil, errors.New("whisper: serverURL must not be empty")
	}
	c := &Client{
		serverURL:  strings.TrimRight(serverURL, "/"),
		language:   defaultLanguage,
		httpClient: &http.Client{Timeout: 120 * time.Second},
	}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

// Transcribe implements stt.Transcriber. It uploads the file at path to the
// whisper-server /inference endpoint as multipart/form-data and parses the
// JSON reply.
func (c *Client) Transcribe(ctx context.Context, path string) (*stt.Result, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("whisper: open audio file: %w", err)
	}
	defer f.Close()

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	fw, err := mw.CreateFormFile("file", filepath.Base(path))
	if err != nil {
		return nil, fmt.Errorf("whisper: create form file: %w", err)
	}
	if _, err := io.Copy(fw, f); err != nil {
		return nil, fmt.Errorf("whisper: read audio file: %w", err)
	}

	if c.language != "" {
		if err := mw.WriteField("language", c.language); err != nil {
			return nil, fmt.Errorf("whisper: write language field: %w", err)
		}
	}
	if c.model != "" {
		if err := mw.WriteField("model", c.model); err != nil {
			return nil, fmt.Errorf("whisper: write model field: %w", err)
		}
	}
	if err := mw.WriteField("response_format", "json"); err != nil {
		return nil, fmt.Errorf("whisper: write response_format field: %w", err)
	}

	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("whisper: close multipart writer: %w", err)
	}

	endpoint := c.serverURL + "/inference"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, &body)
	if err != nil {
		return nil, fmt.Errorf("whisper: create request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("whisper: http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("whisper: server returned HTTP %d", resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("whisper: read response body: %w", err)
	}

	var result struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("whisper: parse JSON response: %w", err)
	}

	return &stt.Result{
		Text:     strings.TrimSpace(result.Text),
		Language: c.language,
	}, nil
}
