// Package mock provides a test double for the translate.Translator interface.
package mock

import (
	"context"
	"sync"

	"github.com/lingopack/lingopack/internal/task"
	"github.com/lingopack/lingopack/internal/translate"
)

// TranslateCall records a single invocation of Translate.
type TranslateCall struct {
	// Ctx is the context passed to Translate.
	Ctx context.Context
	// Text is the source text passed to Translate.
	Text string
	// Targets is the target language list passed to Translate.
	Targets []task.LanguageCode
}

// Translator is a mock implementation of translate.Translator.
// A zero value returns (nil, nil) from Translate; set Result and Err to
// script behaviour.
type Translator struct {
	mu sync.Mutex

	// --- Configurable responses ---

	// Results is consumed one entry per Translate call, in order. Once
	// drained, Result applies.
	Results [][]task.Translation

	// Result is returned by Translate when Results is drained.
	Result []task.Translation

	// Errs is consumed one entry per Translate call, in order, alongside
	// Results. A nil entry means that call succeeds.
	Errs []error

	// Err, if non-nil, is returned by every Translate call once Errs is
	// drained.
	Err error

	// --- Call records (read after test) ---

	// TranslateCalls records every invocation of Translate in order.
	TranslateCalls []TranslateCall
}

var _ translate.Translator = (*Translator)(nil)

// Translate records the call and returns the next scripted result.
func (m *Translator) Translate(ctx context.Context, text string, targets []task.LanguageCode) ([]task.Translation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.TranslateCalls = append(m.TranslateCalls, TranslateCall{
		Ctx:     ctx,
		Text:    text,
		Targets: append([]task.LanguageCode(nil), targets...),
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

// Calls returns a snapshot of the recorded Translate calls.
func (m *Translator) Calls() []TranslateCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]TranslateCall, len(m.TranslateCalls))
	copy(out, m.TranslateCalls)
	return out
}

// Reset clears all recorded calls. Thread-safe.
func (m *Translator) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.TranslateCalls = nil
}
