// Package mock provides a test double for the sttscore.Scorer interface.
package mock

import (
	"context"
	"sync"

	"github.com/lingopack/lingopack/internal/sttscore"
	"github.com/lingopack/lingopack/internal/task"
)

// ScoreCall records a single invocation of Score.
type ScoreCall struct {
	// Ctx is the context passed to Score.
	Ctx context.Context
	// Reference is the reference text passed to Score.
	Reference string
	// Transcript is the STT output passed to Score.
	Transcript string
}

// Scorer is a mock implementation of sttscore.Scorer.
// A zero value returns (nil, nil) from Score; set Score and Err to script
// behaviour.
type Scorer struct {
	mu sync.Mutex

	// --- Configurable responses ---

	// Results is consumed one entry per Score call, in order. Once drained,
	// Result applies.
	Results []*task.STTScore

	// Result is returned by Score when Results is drained. May be nil.
	Result *task.STTScore

	// Errs is consumed one entry per Score call, in order, alongside
	// Results. A nil entry means that call succeeds.
	Errs []error

	// Err, if non-nil, is returned by every Score call once Errs is drained.
	Err error

	// --- Call records (read after test) ---

	// ScoreCalls records every invocation of Score in order.
	ScoreCalls []ScoreCall
}

var _ sttscore.Scorer = (*Scorer)(nil)

// Score records the call and returns the next scripted result.
func (m *Scorer) Score(ctx context.Context, reference, transcript string) (*task.STTScore, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.ScoreCalls = append(m.ScoreCalls, ScoreCall{
		Ctx:        ctx,
		Reference:  reference,
		Transcript: transcript,
	})

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

// Calls returns a snapshot of the recorded Score calls.
func (m *Scorer) Calls() []ScoreCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]ScoreCall, len(m.ScoreCalls))
	copy(out, m.ScoreCalls)
	return out
}

// Reset clears all recorded calls. Thread-safe.
func (m *Scorer) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ScoreCalls = nil
}
