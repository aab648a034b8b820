package config

import (
	"errors"
	"fmt"
	"sync"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/callyard/callyard/pkg/provider/llm"
	"github.com/callyard/callyard/pkg/provider/llm/anyllm"
	openaillm "github.com/callyard/callyard/pkg/provider/llm/openai"
	"github.com/callyard/callyard/pkg/provider/stt"
	"github.com/callyard/callyard/pkg/provider/stt/deepgram"
	openaistt "github.com/callyard/callyard/pkg/provider/stt/openai"
	"github.com/callyard/callyard/pkg/provider/tts"
	"github.com/callyard/callyard/pkg/provider/tts/elevenlabs"
	openaitts "github.com/callyard/callyard/pkg/provider/tts/openai"
)

// ErrProviderNotRegistered is returned by Create* methods when no factory has
// been registered under the requested provider name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// Registry maps provider names to their constructor functions for each
// provider type. It is safe for concurrent use.
type Registry struct {
	mu  sync.RWMutex
	llm map[string]func(ProviderEntry) (llm.Provider, error)
	stt map[string]func(ProviderEntry) (stt.Provider, error)
	tts map[string]func(ProviderEntry) (tts.Provider, error)
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		llm: make(map[string]func(ProviderEntry) (llm.Provider, error)),
		stt: make(map[string]func(ProviderEntry) (stt.Provider, error)),
		tts: make(map[string]func(ProviderEntry) (tts.Provider, error)),
	}
}

// RegisterLLM registers an LLM provider factory under name.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) RegisterLLM(name string, factory func(ProviderEntry) (llm.Provider, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.llm[name] = factory
}

// RegisterSTT registers an STT provider factory under name.
func (r *Registry) RegisterSTT(name string, factory func(ProviderEntry) (stt.Provider, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stt[name] = factory
}

// RegisterTTS registers a TTS provider factory under name.
func (r *Registry) RegisterTTS(name string, factory func(ProviderEntry) (tts.Provider, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tts[name] = factory
}

// CreateLLM instantiates an LLM provider using the factory registered under
// entry.Name. Returns [ErrProviderNotRegistered] if no factory has been
// registered for that name.
func (r *Registry) CreateLLM(entry ProviderEntry) (llm.Provider, error) {
	r.mu.RLock()
	factory, ok := r.llm[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: llm/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}

// CreateSTT instantiates an STT provider using the factory registered under
// entry.Name.
func (r *Registry) CreateSTT(entry ProviderEntry) (stt.Provider, error) {
	r.mu.RLock()
	factory, ok := r.stt[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: stt/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}

// CreateTTS instantiates a TTS provider using the factory registered under
// entry.Name.
func (r *Registry) CreateTTS(entry ProviderEntry) (tts.Provider, error) {
	r.mu.RLock()
	factory, ok := r.tts[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: tts/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}

// anyLLMBackends are the additional LLM backends reachable through the
// any-llm-go multi-provider client.
var anyLLMBackends = []string{
	"anthropic", "gemini", "ollama", "deepseek", "mistral", "groq", "llamacpp", "llamafile",
}

// DefaultRegistry returns a [Registry] with all built-in provider factories
// registered.
func DefaultRegistry() *Registry {
	r := NewRegistry()

	r.RegisterLLM("openai", func(e ProviderEntry) (llm.Provider, error) {
		var opts []openaillm.Option
		if e.BaseURL != "" {
			opts = append(opts, openaillm.WithBaseURL(e.BaseURL))
		}
		return openaillm.New(e.Key(), e.Model, opts...)
	})
	for _, backend := range anyLLMBackends {
		r.RegisterLLM(backend, func(e ProviderEntry) (llm.Provider, error) {
			var opts []anyllmlib.Option
			if key := e.Key(); key != "" {
				opts = append(opts, anyllmlib.WithAPIKey(key))
			}
			return anyllm.New(backend, e.Model, opts...)
		})
	}

	r.RegisterSTT("openai", func(e ProviderEntry) (stt.Provider, error) {
		var opts []openaistt.Option
		if e.Model != "" {
			opts = append(opts, openaistt.WithModel(e.Model))
		}
		return openaistt.New(e.Key(), opts...)
	})
	r.RegisterSTT("deepgram", func(e ProviderEntry) (stt.Provider, error) {
		var opts []deepgram.Option
		if e.Model != "" {
			opts = append(opts, deepgram.WithModel(e.Model))
		}
		if e.BaseURL != "" {
			opts = append(opts, deepgram.WithEndpoint(e.BaseURL))
		}
		return deepgram.New(e.Key(), opts...)
	})

	r.RegisterTTS("openai", func(e ProviderEntry) (tts.Provider, error) {
		var opts []openaitts.Option
		if e.Model != "" {
			opts = append(opts, openaitts.WithModel(e.Model))
		}
		if e.Voice != "" {
			opts = append(opts, openaitts.WithVoice(e.Voice))
		}
		return openaitts.New(e.Key(), opts...)
	})
	r.RegisterTTS("elevenlabs", func(e ProviderEntry) (tts.Provider, error) {
		var opts []elevenlabs.Option
		if e.Model != "" {
			opts = append(opts, elevenlabs.WithModel(e.Model))
		}
		return elevenlabs.New(e.Key(), e.Voice, opts...)
	})

	return r
}
