// Package mock provides a test double for the llm.Completer interface.
//
// Use Completer in unit tests to verify the prompts an engine sends and to
// feed controlled replies without a live LLM backend. All fields are safe to
// set before calling any method; mutating them during a concurrent call is
// the caller's responsibility.
//
// Example:
//
//	c := &mock.Completer{
//	    Response: &llm.Response{Content: `[{"lang":"de-DE","text":"Hallo"}]`},
//	}
//	resp, err := c.Complete(ctx, req)
package mock

import (
	"context"
	"sync"

	"github.com/lingopack/lingopack/pkg/provider/llm"
)

// CompleteCall records a single invocation of Complete.
type CompleteCall struct {
	// Ctx is the context passed to Complete.
	Ctx context.Context
	// Req is the request passed to Complete.
	Req llm.Request
}

// Completer is a mock implementation of llm.Completer.
// A zero value returns (nil, nil) from Complete; set Response and Err to
// script behaviour.
type Completer struct {
	mu sync.Mutex

	// --- Configurable responses ---

	// Responses is consumed one entry per Complete call, in order. Once
	// drained, Response applies.
	Responses []*llm.Response

	// Response is returned by Complete when Responses is drained. May be nil.
	Response *llm.Response

	// Errs is consumed one entry per Complete call, in order, alongside
	// Responses. A nil entry means that call succeeds.
	Errs []error

	// Err, if non-nil, is returned by every Complete call once Errs is
	// drained.
	Err error

	// --- Call records (read after test) ---

	// CompleteCalls records every invocation of Complete in order.
	CompleteCalls []CompleteCall
}

var _ llm.Completer = (*Completer)(nil)

// Complete records the call and returns the next scripted response.
func (c *Completer) Complete(ctx context.Context, req llm.Request) (*llm.Response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.CompleteCalls = append(c.CompleteCalls, CompleteCall{Ctx: ctx, Req: req})

	resp := c.Response
	if len(c.Responses) > 0 {
		resp = c.Responses[0]
		c.Responses = c.Responses[1:]
	}
	err := c.Err
	if len(c.Errs) > 0 {
		err = c.Errs[0]
		c.Errs = c.Errs[1:]
	}
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// Calls returns a snapshot of the recorded Complete calls.
func (c *Completer) Calls() []CompleteCall {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]CompleteCall, len(c.CompleteCalls))
	copy(out, c.CompleteCalls)
	return out
}

// Reset clears all recorded calls. Thread-safe.
func (c *Completer) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.CompleteCalls = nil
}
