// Package providertest offers a scripted provider for driver tests.
package providertest

import (
	"context"
	"fmt"
	"sync"

	"github.com/nextlevelbuilder/teamdrive/internal/provider"
)

// Turn scripts one generation. Err, when non-nil, is returned before any
// output is produced (so the retry wrapper may retry it).
type Turn struct {
	Thinking string
	Saying   string
	Calls    []provider.ToolCall
	Usage    provider.Usage
	Err      error
}

// Provider replays scripted turns in order. Safe for concurrent use.
type Provider struct {
	mu    sync.Mutex
	turns []Turn
	next  int

	// Requests records every GenRequest seen, for assertions.
	Requests []provider.GenRequest
}

func New(turns ...Turn) *Provider {
	return &Provider{turns: turns}
}

// Push appends more scripted turns.
func (p *Provider) Push(turns ...Turn) {
	p.mu.Lock()
	p.turns = append(p.turns, turns...)
	p.mu.Unlock()
}

// Calls returns how many generations have been consumed.
func (p *Provider) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.next
}

func (p *Provider) Name() string { return "scripted" }

func (p *Provider) take(req provider.GenRequest) (Turn, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Requests = append(p.Requests, req)
	if p.next >= len(p.turns) {
		return Turn{}, fmt.Errorf("scripted provider exhausted after %d turns", p.next)
	}
	t := p.turns[p.next]
	p.next++
	return t, nil
}

func (p *Provider) GenToReceiver(ctx context.Context, req provider.GenRequest, recv *provider.Receiver) (provider.GenResult, error) {
	t, err := p.take(req)
	if err != nil {
		return provider.GenResult{}, err
	}
	if t.Err != nil {
		return provider.GenResult{}, t.Err
	}
	if ctx.Err() != nil {
		return provider.GenResult{}, ctx.Err()
	}
	if recv == nil {
		recv = &provider.Receiver{}
	}
	if t.Thinking != "" && recv.OnThinkingChunk != nil {
		recv.OnThinkingChunk(t.Thinking)
	}
	if t.Saying != "" {
		if recv.OnSayingStart != nil {
			recv.OnSayingStart()
		}
		if recv.OnSayingChunk != nil {
			recv.OnSayingChunk(t.Saying)
		}
		if recv.OnSayingFinish != nil {
			recv.OnSayingFinish(t.Saying)
		}
	}
	for _, call := range t.Calls {
		if recv.OnToolCall != nil {
			recv.OnToolCall(call)
		}
	}
	return provider.GenResult{Usage: t.Usage, Model: "scripted-1"}, nil
}

func (p *Provider) GenMessages(ctx context.Context, req provider.GenRequest) ([]provider.Message, provider.GenResult, error) {
	t, err := p.take(req)
	if err != nil {
		return nil, provider.GenResult{}, err
	}
	if t.Err != nil {
		return nil, provider.GenResult{}, t.Err
	}
	var msgs []provider.Message
	if t.Thinking != "" {
		msgs = append(msgs, provider.Message{Role: "assistant", Thinking: t.Thinking})
	}
	if t.Saying != "" {
		msgs = append(msgs, provider.Message{Role: "assistant", Content: t.Saying})
	}
	if len(t.Calls) > 0 {
		msgs = append(msgs, provider.Message{Role: "assistant", ToolCalls: t.Calls})
	}
	return msgs, provider.GenResult{Usage: t.Usage, Model: "scripted-1"}, nil
}

var _ provider.Provider = (*Provider)(nil)
