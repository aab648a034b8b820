// Package mock provides a test double for the llm.Provider interface.
//
// Use Provider in unit tests to verify that the conversation engine sends
// correct CompletionRequests and to feed scripted responses without a live
// LLM backend.
//
// Example:
//
//	p := &mock.Provider{Responses: []string{"YES", "Max"}}
//	out, err := p.Complete(ctx, req) // "YES"
//	out, err = p.Complete(ctx, req)  // "Max"
package mock

import (
	"context"
	"sync"

	"github.com/callyard/callyard/pkg/provider/llm"
)

// Call records a single invocation of Complete.
type Call struct {
	// Ctx is the context passed to Complete.
	Ctx context.Context
	// Req is the CompletionRequest passed to Complete.
	Req llm.CompletionRequest
}

// Provider is a mock implementation of llm.Provider.
//
// Responses are consumed in order, one per Complete call; when the slice is
// exhausted the last element is repeated. Set Err to make every call fail
// instead. All methods are safe for concurrent use.
type Provider struct {
	mu sync.Mutex

	// Responses is the scripted sequence of completion texts.
	Responses []string

	// Err, if non-nil, is returned by every Complete call.
	Err error

	// Calls records every Complete invocation in order.
	Calls []Call

	next int
}

// Compile-time assertion that Provider satisfies llm.Provider.
var _ llm.Provider = (*Provider)(nil)

// Complete implements llm.Provider.
func (p *Provider) Complete(ctx context.Context, req llm.CompletionRequest) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.Calls = append(p.Calls, Call{Ctx: ctx, Req: req})

	if p.Err != nil {
		return "", p.Err
	}
	if len(p.Responses) == 0 {
		return "", nil
	}
	i := p.next
	if i >= len(p.Responses) {
		i = len(p.Responses) - 1
	}
	p.next++
	return p.Responses[i], nil
}

// CallCount returns the number of Complete invocations so far.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Calls)
}
