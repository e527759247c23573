package config

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/lingopack/lingopack/pkg/provider/llm"
	"github.com/lingopack/lingopack/pkg/provider/llm/anyllm"
	llmopenai "github.com/lingopack/lingopack/pkg/provider/llm/openai"
	"github.com/lingopack/lingopack/pkg/provider/stt"
	sttopenai "github.com/lingopack/lingopack/pkg/provider/stt/openai"
	"github.com/lingopack/lingopack/pkg/provider/stt/whisper"
)

// ErrProviderNotRegistered is returned by Create* methods when no factory has
// been registered under the requested provider name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// defaultWhisperURL is where a local whisper-server listens out of the box.
const defaultWhisperURL = "http://localhost:9000"

// Registry maps provider names to their constructor functions for each
// provider kind. It is safe for concurrent use.
type Registry struct {
	mu  sync.RWMutex
	stt map[string]func(ProviderEntry) (stt.Transcriber, error)
	llm map[string]func(ProviderEntry) (llm.Completer, error)
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		stt: make(map[string]func(ProviderEntry) (stt.Transcriber, error)),
		llm: make(map[string]func(ProviderEntry) (llm.Completer, error)),
	}
}

// RegisterSTT registers a transcriber factory under name.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) RegisterSTT(name string, factory func(ProviderEntry) (stt.Transcriber, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stt[name] = factory
}

// RegisterLLM registers a completion backend factory under name.
func (r *Registry) RegisterLLM(name string, factory func(ProviderEntry) (llm.Completer, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.llm[name] = factory
}

// CreateSTT instantiates a transcriber using the factory registered under
// entry.Name. Returns [ErrProviderNotRegistered] if no factory has been
// registered for that name.
func (r *Registry) CreateSTT(entry ProviderEntry) (stt.Transcriber, error) {
	r.mu.RLock()
	factory, ok := r.stt[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: stt/%q (registered: %s)",
			ErrProviderNotRegistered, entry.Name, strings.Join(r.STTNames(), ", "))
	}
	return factory(entry)
}

// CreateLLM instantiates a completion backend using the factory registered
// under entry.Name. Returns [ErrProviderNotRegistered] if no factory has
// been registered for that name.
func (r *Registry) CreateLLM(entry ProviderEntry) (llm.Completer, error) {
	r.mu.RLock()
	factory, ok := r.llm[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: llm/%q (registered: %s)",
			ErrProviderNotRegistered, entry.Name, strings.Join(r.LLMNames(), ", "))
	}
	return factory(entry)
}

// STTNames returns the registered transcriber names, sorted.
func (r *Registry) STTNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Sorted(maps.Keys(r.stt))
}

// LLMNames returns the registered completion backend names, sorted.
func (r *Registry) LLMNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Sorted(maps.Keys(r.llm))
}

// DefaultRegistry returns a [Registry] pre-populated with every built-in
// provider:
//
//   - stt: "whisper" (whisper-server HTTP), "whisper-native" (in-process
//     whisper.cpp; Model is the ggml file path), "openai".
//   - llm: "openai" plus the any-llm-go backends "anthropic", "gemini",
//     "ollama", "deepseek", "mistral", "groq", "llamacpp", "llamafile".
func DefaultRegistry() *Registry {
	r := NewRegistry()

	r.RegisterSTT("whisper", func(e ProviderEntry) (stt.Transcriber, error) {
		url := e.Endpoint
		if url == "" {
			url = defaultWhisperURL
		}
		var opts []whisper.Option
		if e.Model != "" {
			opts = append(opts, whisper.WithModel(e.Model))
		}
		return whisper.New(url, opts...)
	})
	r.RegisterSTT("whisper-native", func(e ProviderEntry) (stt.Transcriber, error) {
		return whisper.NewNative(e.Model)
	})
	r.RegisterSTT("openai", func(e ProviderEntry) (stt.Transcriber, error) {
		var opts []sttopenai.Option
		if e.Model != "" {
			opts = append(opts, sttopenai.WithModel(e.Model))
		}
		if e.Endpoint != "" {
			opts = append(opts, sttopenai.WithBaseURL(e.Endpoint))
		}
		return sttopenai.New(e.APIKey, opts...)
	})

	r.RegisterLLM("openai", func(e ProviderEntry) (llm.Completer, error) {
		var opts []llmopenai.Option
		if e.Endpoint != "" {
			opts = append(opts, llmopenai.WithBaseURL(e.Endpoint))
		}
		return llmopenai.New(e.APIKey, e.Model, opts...)
	})
	for _, name := range []string{"anthropic", "gemini", "ollama", "deepseek", "mistral", "groq", "llamacpp", "llamafile"} {
		r.RegisterLLM(name, anyLLMFactory(name))
	}

	return r
}

// anyLLMFactory builds a factory for one any-llm-go backend.
func anyLLMFactory(name string) func(ProviderEntry) (llm.Completer, error) {
	return func(e ProviderEntry) (llm.Completer, error) {
		var opts []anyllmlib.Option
		if e.APIKey != "" {
			opts = append(opts, anyllmlib.WithAPIKey(e.APIKey))
		}
		if e.Endpoint != "" {
			opts = append(opts, anyllmlib.WithBaseURL(e.Endpoint))
		}
		return anyllm.New(name, e.Model, opts...)
	}
}
