// Package mock provides a test double for the tts.Provider interface.
package mock

import (
	"context"
	"sync"

	"github.com/callyard/callyard/pkg/provider/tts"
)

// Call records a single invocation of Synthesize.
type Call struct {
	Text string
	Cfg  tts.StreamConfig
}

// Provider is a mock implementation of tts.Provider. It emits the configured
// Chunks on every Synthesize call and records invocations.
type Provider struct {
	mu sync.Mutex

	// Chunks is the sequence of PCM chunks emitted per Synthesize call.
	Chunks [][]byte

	// Err, if non-nil, is returned by Synthesize instead of starting a stream.
	Err error

	// Calls records every Synthesize invocation in order.
	Calls []Call
}

// Compile-time assertion that Provider satisfies tts.Provider.
var _ tts.Provider = (*Provider)(nil)

// Synthesize implements tts.Provider.
func (p *Provider) Synthesize(ctx context.Context, text string, cfg tts.StreamConfig) (<-chan []byte, error) {
	p.mu.Lock()
	p.Calls = append(p.Calls, Call{Text: text, Cfg: cfg})
	err := p.Err
	chunks := p.Chunks
	p.mu.Unlock()

	if err != nil {
		return nil, err
	}

	ch := make(chan []byte, len(chunks))
	go func() {
		defer close(ch)
		for _, c := range chunks {
			out := make([]byte, len(c))
			copy(out, c)
			select {
			case ch <- out:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch, nil
}
