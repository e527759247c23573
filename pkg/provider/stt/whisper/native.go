// This file contains the Native transcriber backed by the whisper.cpp CGO
// bindings. The whisper.cpp static library (libwhisper.a) and headers
// (whisper.h) must be available at link time via LIBRARY_PATH and
// C_INCLUDE_PATH environment variables.

package whisper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	whisperlib "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"

	"github.com/lingopack/lingopack/pkg/provider/stt"
)

var _ stt.Transcriber = (*Native)(nil)

// Native implements stt.Transcriber using whisper.cpp Go bindings (CGO),
// eliminating server round-trips entirely. The model is loaded once at
// startup and shared across concurrent transcriptions; each call creates its
// own whisper context, which is the bindings' unit of thread confinement.
type Native struct {
	model    whisperlib.Model
	language string
}

// NativeOption is a functional option for configuring a Native transcriber.
type NativeOption func(*Native)

// WithNativeLanguage sets the language code for transcription (e.g. "zh",
// "en"). Defaults to "zh".
func WithNativeLanguage(lang string) NativeOption {
	return func(n *Native) { n.language = lang }
}

// NewNative creates a Native transcriber that loads the whisper.cpp model
// from the given file path. The caller must call Close when the transcriber
// is no longer needed.
func NewNative(modelPath string, opts ...NativeOption) (*Native, error) {
	if modelPath == "" {
		return nil, errors.New("whisper: modelPath must not be empty")
	}
	model, err := whisperlib.New(modelPath)
	if err != nil {
		return nil, fmt.Errorf("whisper: load model %q: %w", modelPath, err)
	}

	n := &Native{
		model:    model,
		language: defaultLanguage,
	}
	for _, o := range opts {
		o(n)
	}
	return n, nil
}

// Close releases the whisper model.
func (n *Native) Close() error {
	if n.model != nil {
		return n.model.Close()
	}
	return nil
}

// Transcribe implements stt.Transcriber. The file at path must be a 16-bit
// PCM WAV recorded at 16 kHz, which is what whisper.cpp consumes natively;
// multi-channel audio is down-mixed to mono.
func (n *Native) Transcribe(ctx context.Context, path string) (*stt.Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("whisper: context already cancelled: %w", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("whisper: read audio file: %w", err)
	}
	pcm, sampleRate, channels, err := decodeWAV(data)
	if err != nil {
		return nil, fmt.Errorf("whisper: decode %q: %w", path, err)
	}
	if sampleRate != defaultSampleRate {
		return nil, fmt.Errorf("whisper: native transcriber requires %d Hz WAV input, got %d Hz", defaultSampleRate, sampleRate)
	}

	samples := pcmToFloat32Mono(pcm, channels)

	// Each context is NOT thread-safe, but the model can be shared.
	wctx, err := n.model.NewContext()
	if err != nil {
		return nil, fmt.Errorf("whisper: create context: %w", err)
	}
	if err := wctx.SetLanguage(n.language); err != nil {
		slog.Warn("whisper: failed to set language, using default",
			"language", n.language, "error", err)
	}

	if err := wctx.Process(samples, nil, nil, nil); err != nil {
		return nil, fmt.Errorf("whisper: process audio: %w", err)
	}

	var parts []string
	for {
		segment, err := wctx.NextSegment()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("whisper: read segment: %w", err)
		}
		if text := strings.TrimSpace(segment.Text); text != "" {
			parts = append(parts, text)
		}
	}

	return &stt.Result{
		Text:     strings.Join(parts, " "),
		Language: n.language,
	}, nil
}
