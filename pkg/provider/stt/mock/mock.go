// Package mock provides a test double for the stt.Provider interface.
package mock

import (
	"context"
	"io"
	"sync"

	"github.com/callyard/callyard/pkg/provider/stt"
)

// Call records a single invocation of Transcribe.
type Call struct {
	Audio    []byte
	Filename string
}

// Provider is a mock implementation of stt.Provider. It returns the configured
// Transcripts in order, repeating the last one when exhausted.
type Provider struct {
	mu sync.Mutex

	// Transcripts is the sequence of transcripts to return.
	Transcripts []string

	// Err, if non-nil, is returned by every Transcribe call.
	Err error

	// Calls records every Transcribe invocation in order.
	Calls []Call

	next int
}

// Compile-time assertion that Provider satisfies stt.Provider.
var _ stt.Provider = (*Provider)(nil)

// Transcribe implements stt.Provider.
func (p *Provider) Transcribe(_ context.Context, audio io.Reader, filename string) (string, error) {
	data, _ := io.ReadAll(audio)

	p.mu.Lock()
	defer p.mu.Unlock()

	p.Calls = append(p.Calls, Call{Audio: data, Filename: filename})
	if p.Err != nil {
		return "", p.Err
	}
	if len(p.Transcripts) == 0 {
		return "", nil
	}
	idx := p.next
	if idx >= len(p.Transcripts) {
		idx = len(p.Transcripts) - 1
	} else {
		p.next++
	}
	return p.Transcripts[idx], nil
}

// CallCount returns the number of recorded Transcribe calls.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Calls)
}
