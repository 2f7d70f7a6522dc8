package graph

import (
	"context"
	"errors"
	"fmt"

	"github.com/Divas-Gupta30/helix/helix-agent/internal/memory"
	"github.com/Divas-Gupta30/helix/helix-agent/internal/ports"
	"github.com/Divas-Gupta30/helix/helix-agent/internal/processing"
)

// execute validates the generated query and runs it exactly once. A bad
// query is a property of the generator, so failures are not retried.
func (p *Pipeline) execute(ctx context.Context, h memory.Handle, s *State) error {
	if err := ValidateQuery(s.Query.Text); err != nil {
		return err
	}

	rows, err := p.executor.Run(ctx, s.Query.Text, s.Query.Params)
	if err != nil {
		return classifyExecutorError(err)
	}

	s.Summary = processing.Summarize(rows, p.previewRows)
	p.logger.Debug("query executed",
		"turn", h.Sequence(),
		"template", s.Query.Template,
		"rows", s.Summary.Rows,
	)
	return p.memory.RecordStep(h, memory.FieldExecutionSummary, s.Summary.String())
}

func classifyExecutorError(err error) error {
	switch {
	case errors.Is(err, ports.ErrExecutorUnavailable),
		errors.Is(err, ports.ErrQuerySyntax),
		errors.Is(err, ports.ErrQueryExecution):
		return fmt.Errorf("running query: %w", err)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	default:
		return fmt.Errorf("running query: %w: %w", ports.ErrQueryExecution, err)
	}
}
