package graph

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/Divas-Gupta30/helix/helix-agent/internal/memory"
	"github.com/Divas-Gupta30/helix/helix-agent/internal/ports"
)

// NoResultsAnswer is returned without a model call when the query matched
// nothing.
const NoResultsAnswer = "I didn't find any information matching your question in the knowledge graph."

// format turns the execution summary into the final answer. The model only
// ever sees the summary, never raw rows.
func (p *Pipeline) format(ctx context.Context, h memory.Handle, s *State) error {
	if s.Summary.Empty() {
		s.Answer = NoResultsAnswer
		return p.memory.RecordStep(h, memory.FieldAnswer, s.Answer)
	}

	digest := s.Summary.String()
	out, err := p.llm.Complete(ctx, formatPrompt(s.Question, digest), formatMaxTokens)
	switch {
	case err == nil:
		out = strings.TrimSpace(out)
	case errors.Is(err, ports.ErrInvalidResponse):
		p.logger.Warn("format response unusable", "turn", h.Sequence(), "error", err)
		out = ""
	default:
		return fmt.Errorf("formatting answer: %w", err)
	}

	if out == "" {
		out = fallbackAnswer(digest)
	}
	s.Answer = out
	return p.memory.RecordStep(h, memory.FieldAnswer, s.Answer)
}

func fallbackAnswer(digest string) string {
	return "Here is what the knowledge graph returned: " + digest + "."
}
