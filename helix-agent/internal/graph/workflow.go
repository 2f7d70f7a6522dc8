package graph

import (
	"context"
	"log/slog"
	"time"

	"github.com/Divas-Gupta30/helix/helix-agent/internal/logger"
	"github.com/Divas-Gupta30/helix/helix-agent/internal/memory"
	"github.com/Divas-Gupta30/helix/helix-agent/internal/ports"
	"github.com/Divas-Gupta30/helix/helix-agent/internal/processing"
)

// Token budgets per model call.
const (
	classifyMaxTokens = 20
	extractMaxTokens  = 100
	formatMaxTokens   = 250
)

// DefaultRowLimit caps rows returned by every template.
const DefaultRowLimit = 25

// State is the working memory of one Run. Each stage fills in its own field
// and later stages read it from here rather than from the turn record.
type State struct {
	Question     string
	Stage        Stage
	QuestionType memory.QuestionType
	Entities     []string
	Query        Query
	Summary      processing.Summary
	Answer       string
}

// NewState starts a run for question.
func NewState(question string) *State {
	return &State{Question: question, Stage: StageClassify}
}

// StageObserver is told how long each stage took and how it ended.
type StageObserver interface {
	ObserveStage(stage string, elapsed time.Duration, err error)
}

// Pipeline runs classify, extract, generate, execute and format in order
// against one conversation memory.
type Pipeline struct {
	memory   *memory.Memory
	llm      ports.TextCompletionService
	executor ports.QueryExecutor

	templates   TemplateSource
	previewRows int
	rowLimit    int

	logger   *slog.Logger
	observer StageObserver
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithLogger sets the logger. Defaults to a no-op logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Pipeline) {
		if l != nil {
			p.logger = l
		}
	}
}

// WithObserver reports per-stage timings, typically to metrics.
func WithObserver(o StageObserver) Option {
	return func(p *Pipeline) {
		p.observer = o
	}
}

// WithPreviewRows sets how many rows the execution summary previews.
func WithPreviewRows(n int) Option {
	return func(p *Pipeline) {
		if n > 0 {
			p.previewRows = n
		}
	}
}

// WithRowLimit sets the $limit parameter bound into every query.
func WithRowLimit(n int) Option {
	return func(p *Pipeline) {
		if n > 0 {
			p.rowLimit = n
		}
	}
}

// WithTemplates replaces the query templates. Types missing from t fall back
// to the Unknown entry.
func WithTemplates(t map[memory.QuestionType]Template) Option {
	return func(p *Pipeline) {
		p.templates = staticTemplates(t)
	}
}

// WithTemplateSource reads the templates from src at the start of every
// generate step, so a reloaded set applies from the next turn on.
func WithTemplateSource(src TemplateSource) Option {
	return func(p *Pipeline) {
		if src != nil {
			p.templates = src
		}
	}
}

// New wires a pipeline to its memory and the two external services.
func New(mem *memory.Memory, llm ports.TextCompletionService, executor ports.QueryExecutor, opts ...Option) *Pipeline {
	p := &Pipeline{
		memory:      mem,
		llm:         llm,
		executor:    executor,
		templates:   staticTemplates(DefaultTemplates()),
		previewRows: processing.DefaultPreviewRows,
		rowLimit:    DefaultRowLimit,
		logger:      logger.Nop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

type node struct {
	stage Stage
	run   func(context.Context, memory.Handle, *State) error
}

// Run drives s through every stage for the open turn h. On failure s.Stage is
// StageFailed and the returned *StageError names the stage that stopped.
func (p *Pipeline) Run(ctx context.Context, h memory.Handle, s *State) error {
	nodes := []node{
		{StageClassify, p.classify},
		{StageExtract, p.extract},
		{StageGenerate, p.generate},
		{StageExecute, p.execute},
		{StageFormat, p.format},
	}

	for _, n := range nodes {
		s.Stage = n.stage
		if err := ctx.Err(); err != nil {
			s.Stage = StageFailed
			return &StageError{Stage: n.stage, Err: err}
		}

		start := time.Now()
		err := n.run(ctx, h, s)
		elapsed := time.Since(start)
		if p.observer != nil {
			p.observer.ObserveStage(n.stage.String(), elapsed, err)
		}

		if err != nil {
			p.logger.Warn("stage failed",
				"stage", n.stage.String(),
				"turn", h.Sequence(),
				"duration", elapsed,
				"error", err,
			)
			s.Stage = StageFailed
			return &StageError{Stage: n.stage, Err: err}
		}
		p.logger.Debug("stage finished", "stage", n.stage.String(), "turn", h.Sequence(), "duration", elapsed)
	}

	s.Stage = StageDone
	return nil
}
