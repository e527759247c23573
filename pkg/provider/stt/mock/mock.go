// Package mock provides a test double for the stt.Transcriber interface.
//
// Use Transcriber in unit tests to verify which audio files a worker submits
// and to feed controlled transcripts without a live STT backend. All fields
// are safe to set before calling any method; mutating them during a
// concurrent call is the caller's responsibility.
//
// Example:
//
//	tr := &mock.Transcriber{
//	    Result: &stt.Result{Text: "请把门关上。", Language: "zh"},
//	}
//	res, err := tr.Transcribe(ctx, "/uploads/task-1.wav")
package mock

import (
	"context"
	"sync"

	"github.com/lingopack/lingopack/pkg/provider/stt"
)

// TranscribeCall records a single invocation of Transcribe.
type TranscribeCall struct {
	// Ctx is the context passed to Transcribe.
	Ctx context.Context
	// Path is the audio file path passed to Transcribe.
	Path string
}

// Transcriber is a mock implementation of stt.Transcriber.
// A zero value returns (nil, nil) from Transcribe; set Result and Err to
// script behaviour.
type Transcriber struct {
	mu sync.Mutex

	// --- Configurable responses ---

	// Results is consumed one entry per Transcribe call, in order. Once
	// drained, Result applies.
	Results []*stt.Result

	// Result is returned by Transcribe when Results is drained. May be nil.
	Result *stt.Result

	// Errs is consumed one entry per Transcribe call, in order, alongside
	// Results. A nil entry means that call succeeds.
	Errs []error

	// Err, if non-nil, is returned by every Transcribe call once Errs is
	// drained.
	Err error

	// --- Call records (read after test) ---

	// TranscribeCalls records every invocation of Transcribe in order.
	TranscribeCalls []TranscribeCall
}

var _ stt.Transcriber = (*Transcriber)(nil)

// Transcribe records the call and returns the next scripted result.
func (m *Transcriber) Transcribe(ctx context.Context, path string) (*stt.Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.TranscribeCalls = append(m.TranscribeCalls, TranscribeCall{Ctx: ctx, Path: path})

	res := m.Result
	if len(m.Results) > 0 {
		res = m.Results[0]
		m.Results = m.Results[1:]
	}
	err := m.Err
	if len(m.Errs) > 0 {
		err = m.Errs[0]
		m.Errs = m.Errs[1:]
	}
	if err != nil {
		return nil, err
	}
	return res, nil
}

// Calls returns a snapshot of the recorded Transcribe calls.
func (m *Transcriber) Calls() []TranscribeCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]TranscribeCall, len(m.TranscribeCalls))
	copy(out, m.TranscribeCalls)
	return out
}

// Reset clears all recorded calls. Thread-safe.
func (m *Transcriber) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.TranscribeCalls = nil
}
