package conversation

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Session is the call-control surface exposed to plugin functions. It is
// implemented by the telephony session; tests supply lightweight fakes.
type Session interface {
	// Say synthesises and plays text toward the caller.
	Say(ctx context.Context, text string, cache bool) error
	// PlayAudio plays a WAV file toward the caller.
	PlayAudio(ctx context.Context, path string, loop bool) error
	// StopAudio stops any file playback started by PlayAudio.
	StopAudio()
	// Forward bridges the call to another number.
	Forward(ctx context.Context, number string, timeout time.Duration) (bool, error)
	// HasPickedUpCall reports whether the call is confirmed with live media.
	HasPickedUpCall() bool
	// IsForwarded reports whether the call is currently bridged.
	IsForwarded() bool
}

// Func is a plugin function invoked by function and function_choice items.
// It receives a snapshot of the extracted information (values may be nil when
// filtering failed) and the session handle. For function items the returned
// string is spoken; for function_choice items it selects an option key.
type Func func(ctx context.Context, info map[string]*string, session Session) (string, error)

// Registry maps (module, function) keys to statically registered plugin
// functions. It replaces runtime module loading with explicit registration
// and is safe for concurrent use.
type Registry struct {
	mu    sync.RWMutex
	funcs map[string]Func
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{funcs: make(map[string]Func)}
}

func registryKey(module, function string) string {
	return module + "." + function
}

// Register binds fn to the (module, function) key, replacing any prior
// binding.
func (r *Registry) Register(module, function string, fn Func) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.funcs[registryKey(module, function)] = fn
}

// Lookup resolves the function registered under (module, function).
func (r *Registry) Lookup(module, function string) (Func, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.funcs[registryKey(module, function)]
	if !ok {
		return nil, fmt.Errorf("conversation: no function registered for %s.%s", module, function)
	}
	return fn, nil
}
