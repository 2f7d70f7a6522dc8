// Package ports defines the boundaries the workflow depends on. Adapters in
// completion and graphdb implement them; tests use hand-written fakes.
package ports

import (
	"context"
	"errors"
)

// TextCompletionService is a stateless request/response text generator.
type TextCompletionService interface {
	// Complete returns the model's text for prompt, capped at maxTokens.
	Complete(ctx context.Context, prompt string, maxTokens int) (string, error)
}

// QueryExecutor validates and runs a parameterized graph query.
type QueryExecutor interface {
	// Run executes query with parameters bound separately and returns one
	// map per result row.
	Run(ctx context.Context, query string, params map[string]any) ([]map[string]any, error)
}

// Completion service failures. Adapters wrap one of these with %w.
var (
	ErrServiceUnavailable = errors.New("completion service unavailable")
	ErrInvalidResponse    = errors.New("invalid completion response")
)

// Query executor failures. Adapters wrap one of these with %w.
var (
	ErrExecutorUnavailable = errors.New("query executor unavailable")
	ErrQuerySyntax         = errors.New("query syntax error")
	ErrQueryExecution      = errors.New("query execution error")
)

// Retryable reports whether err comes from a dependency being down rather
// than from a bad request. Nothing in the workflow retries on its own; this
// only tells callers whether asking again could help.
func Retryable(err error) bool {
	return errors.Is(err, ErrServiceUnavailable) || errors.Is(err, ErrExecutorUnavailable)
}
