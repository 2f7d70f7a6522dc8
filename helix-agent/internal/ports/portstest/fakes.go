// Package portstest provides scripted fakes of the ports interfaces.
package portstest

import (
	"context"
	"fmt"
	"sync"

	"github.com/Divas-Gupta30/helix/helix-agent/internal/ports"
)

// Reply is one scripted completion result.
type Reply struct {
	Text string
	Err  error
}

// CompletionCall records one Complete invocation.
type CompletionCall struct {
	Prompt    string
	MaxTokens int
}

// Completer answers Complete calls from a queue of replies, in order. Once
// the queue is drained it fails with ports.ErrInvalidResponse.
type Completer struct {
	mu      sync.Mutex
	replies []Reply
	calls   []CompletionCall
}

// NewCompleter returns a Completer that replies with texts in order.
func NewCompleter(texts ...string) *Completer {
	c := &Completer{}
	for _, t := range texts {
		c.replies = append(c.replies, Reply{Text: t})
	}
	return c
}

// Push appends replies to the queue.
func (c *Completer) Push(replies ...Reply) *Completer {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.replies = append(c.replies, replies...)
	return c
}

func (c *Completer) Complete(ctx context.Context, prompt string, maxTokens int) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.calls = append(c.calls, CompletionCall{Prompt: prompt, MaxTokens: maxTokens})
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if len(c.replies) == 0 {
		return "", fmt.Errorf("%w: no scripted reply", ports.ErrInvalidResponse)
	}
	r := c.replies[0]
	c.replies = c.replies[1:]
	return r.Text, r.Err
}

// Calls returns every recorded call, oldest first.
func (c *Completer) Calls() []CompletionCall {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]CompletionCall(nil), c.calls...)
}

// ExecCall records one Run invocation.
type ExecCall struct {
	Query  string
	Params map[string]any
}

// Executor returns fixed rows, or Err when set, and records every call.
type Executor struct {
	mu    sync.Mutex
	Rows  []map[string]any
	Err   error
	calls []ExecCall
}

func (e *Executor) Run(ctx context.Context, query string, params map[string]any) ([]map[string]any, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.calls = append(e.calls, ExecCall{Query: query, Params: params})
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if e.Err != nil {
		return nil, e.Err
	}
	return e.Rows, nil
}

// Calls returns every recorded call, oldest first.
func (e *Executor) Calls() []ExecCall {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]ExecCall(nil), e.calls...)
}

var (
	_ ports.TextCompletionService = (*Completer)(nil)
	_ ports.QueryExecutor         = (*Executor)(nil)
)
