package graph

import (
	"context"
	"errors"
	"fmt"

	"github.com/Divas-Gupta30/helix/helix-agent/internal/memory"
	"github.com/Divas-Gupta30/helix/helix-agent/internal/ports"
)

// classify asks the model for the question type, biased by the previous
// turn's type so short follow-ups keep their category.
func (p *Pipeline) classify(ctx context.Context, h memory.Handle, s *State) error {
	var prior memory.QuestionType
	if recent := p.memory.RecentSummary(1); len(recent) > 0 {
		prior = recent[0].QuestionType
	}

	qt := memory.Unknown
	out, err := p.llm.Complete(ctx, classifyPrompt(s.Question, prior), classifyMaxTokens)
	switch {
	case err == nil:
		qt = memory.ParseQuestionType(out)
	case errors.Is(err, ports.ErrInvalidResponse):
		p.logger.Warn("classification response unusable", "turn", h.Sequence(), "error", err)
	default:
		return fmt.Errorf("classifying question: %w", err)
	}

	if qt == memory.Unknown && prior != "" && prior != memory.Unknown && isFollowUp(s.Question) {
		qt = prior
	}

	s.QuestionType = qt
	return p.memory.RecordStep(h, memory.FieldQuestionType, qt)
}
