package resilience

import (
	"context"

	"github.com/lingopack/lingopack/pkg/provider/stt"
)

// TranscriberFallback implements [stt.Transcriber] with automatic failover
// across multiple STT backends. Each backend has its own circuit breaker.
type TranscriberFallback struct {
	group *FallbackGroup[stt.Transcriber]
}

// Compile-time interface assertion.
var _ stt.Transcriber = (*TranscriberFallback)(nil)

// NewTranscriberFallback creates a [TranscriberFallback] with primary as the
// preferred backend.
func NewTranscriberFallback(primary stt.Transcriber, primaryName string, cfg FallbackConfig) *TranscriberFallback {
	return &TranscriberFallback{
		group: NewFallbackGroup(primary, primaryName, cfg),
	}
}

// AddFallback registers an additional transcriber as a fallback.
func (f *TranscriberFallback) AddFallback(name string, t stt.Transcriber) {
	f.group.AddFallback(name, t)
}

// Transcribe submits the audio file to the first healthy backend. If the
// primary fails or its breaker is open, subsequent fallbacks are tried.
func (f *TranscriberFallback) Transcribe(ctx context.Context, path string) (*stt.Result, error) {
	return ExecuteWithResult(f.group, func(t stt.Transcriber) (*stt.Result, error) {
		return t.Transcribe(ctx, path)
	})
}
