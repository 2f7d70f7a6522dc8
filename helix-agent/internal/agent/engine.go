// Package agent is the single entry point callers use to ask questions of a
// conversation. It owns the turn lifecycle around graph.Pipeline.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/Divas-Gupta30/helix/helix-agent/internal/events"
	"github.com/Divas-Gupta30/helix/helix-agent/internal/graph"
	"github.com/Divas-Gupta30/helix/helix-agent/internal/logger"
	"github.com/Divas-Gupta30/helix/helix-agent/internal/memory"
)

// ErrEmptyQuestion is returned before any turn is opened.
var ErrEmptyQuestion = errors.New("question is empty")

const defaultHookTimeout = 5 * time.Second

// WorkflowError reports a turn that failed inside the pipeline. The turn
// was still committed and Turn holds what it recorded.
type WorkflowError struct {
	Stage string
	Cause error
	Turn  memory.Turn
}

func (e *WorkflowError) Error() string {
	return fmt.Sprintf("workflow failed at %s: %v", e.Stage, e.Cause)
}

func (e *WorkflowError) Unwrap() error {
	return e.Cause
}

// Result is a successfully answered turn.
type Result struct {
	Answer string      `json:"answer"`
	Turn   memory.Turn `json:"turn"`
}

// TurnArchive keeps committed turns beyond the in-memory window.
type TurnArchive interface {
	Save(ctx context.Context, sessionID string, turn memory.Turn) error
}

// TurnObserver is told about every committed turn.
type TurnObserver interface {
	ObserveTurn(failed bool)
}

// Engine answers questions for one conversation. Calls to Answer are
// sequential; a second call while one is in flight fails with a
// *memory.StateError.
type Engine struct {
	sessionID string
	memory    *memory.Memory
	pipeline  *graph.Pipeline
	commit    func(memory.Handle) (memory.Turn, error)

	archive     TurnArchive
	publisher   events.Publisher
	observer    TurnObserver
	hookTimeout time.Duration
	logger      *slog.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithSessionID names the conversation in logs, archives and events.
func WithSessionID(id string) Option {
	return func(e *Engine) {
		e.sessionID = id
	}
}

// WithArchive stores every committed turn.
func WithArchive(a TurnArchive) Option {
	return func(e *Engine) {
		e.archive = a
	}
}

// WithPublisher emits a TurnCommitted event for every committed turn.
func WithPublisher(p events.Publisher) Option {
	return func(e *Engine) {
		e.publisher = p
	}
}

// WithTurnObserver counts committed turns.
func WithTurnObserver(o TurnObserver) Option {
	return func(e *Engine) {
		e.observer = o
	}
}

// WithHookTimeout bounds archive and publish calls.
func WithHookTimeout(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.hookTimeout = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// New returns an Engine running p against mem. p must have been built on mem.
func New(mem *memory.Memory, p *graph.Pipeline, opts ...Option) *Engine {
	e := &Engine{
		memory:      mem,
		pipeline:    p,
		commit:      mem.CommitTurn,
		hookTimeout: defaultHookTimeout,
		logger:      logger.Nop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.With("session", e.sessionID)
	return e
}

// SessionID returns the conversation's id.
func (e *Engine) SessionID() string {
	return e.sessionID
}

// Memory exposes the conversation window for read-only display.
func (e *Engine) Memory() *memory.Memory {
	return e.memory
}

// Answer runs question through the pipeline as one turn.
//
// On a pipeline failure the partial turn is committed with its failure and a
// *WorkflowError is returned. If ctx ends mid-turn the turn is abandoned
// instead, and the returned error wraps ctx.Err().
func (e *Engine) Answer(ctx context.Context, question string) (*Result, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return nil, ErrEmptyQuestion
	}

	h, err := e.memory.StartTurn(question)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	s := graph.NewState(question)
	runErr := e.pipeline.Run(ctx, h, s)

	if runErr != nil && ctx.Err() != nil {
		e.abandon(h)
		e.logger.Info("turn abandoned", "turn", h.Sequence(), "error", ctx.Err())
		return nil, fmt.Errorf("answer abandoned: %w", ctx.Err())
	}

	var wfErr *WorkflowError
	if runErr != nil {
		wfErr = &WorkflowError{Stage: "unknown", Cause: runErr}
		var se *graph.StageError
		if errors.As(runErr, &se) {
			wfErr.Stage = se.Stage.String()
			wfErr.Cause = se.Err
		}
		if err := e.memory.MarkFailed(h, wfErr.Stage, wfErr.Cause); err != nil {
			e.abandon(h)
			return nil, err
		}
	}

	turn, err := e.commit(h)
	if err != nil {
		e.abandon(h)
		return nil, err
	}
	e.afterCommit(ctx, turn)

	if wfErr != nil {
		wfErr.Turn = turn
		e.logger.Warn("turn failed",
			"turn", turn.Sequence,
			"stage", wfErr.Stage,
			"duration", time.Since(start),
			"error", wfErr.Cause,
		)
		return nil, wfErr
	}

	e.logger.Info("turn committed",
		"turn", turn.Sequence,
		"type", turn.QuestionType,
		"entities", len(turn.Entities),
		"duration", time.Since(start),
	)
	return &Result{Answer: turn.Answer, Turn: turn}, nil
}

// abandon drops the open turn so the conversation can take the next question.
func (e *Engine) abandon(h memory.Handle) {
	if err := e.memory.AbandonTurn(h); err != nil {
		e.logger.Error("abandon turn", "turn", h.Sequence(), "error", err)
	}
}

// afterCommit runs the archive and publish hooks. Their failures are logged
// and never change the answer.
func (e *Engine) afterCommit(ctx context.Context, turn memory.Turn) {
	if e.observer != nil {
		e.observer.ObserveTurn(turn.Failed())
	}
	if e.archive == nil && e.publisher == nil {
		return
	}

	hctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.hookTimeout)
	defer cancel()

	if e.archive != nil {
		if err := e.archive.Save(hctx, e.sessionID, turn); err != nil {
			e.logger.Error("archive turn", "turn", turn.Sequence, "error", err)
		}
	}
	if e.publisher != nil {
		if err := e.publisher.Publish(hctx, events.NewTurnCommitted(e.sessionID, turn)); err != nil {
			e.logger.Error("publish turn", "turn", turn.Sequence, "error", err)
		}
	}
}

// History returns the display digests of the committed turns, oldest first.
func (e *Engine) History() []string {
	return e.memory.FormatForDisplay()
}

// Reset forgets the conversation so far.
func (e *Engine) Reset() {
	e.memory.Clear()
	e.logger.Info("conversation reset")
}
