package graph

import (
	"context"
	"errors"
	"fmt"

	"github.com/Divas-Gupta30/helix/helix-agent/internal/memory"
	"github.com/Divas-Gupta30/helix/helix-agent/internal/ports"
)

// extract pulls entity names out of the question, offering the previous
// turn's entities as referents for pronouns and ellipsis. When that turn
// named none, the filter it carried is offered instead.
func (p *Pipeline) extract(ctx context.Context, h memory.Handle, s *State) error {
	candidates := p.memory.RecentEntities(1)
	if len(candidates) == 0 {
		if recent := p.memory.RecentSummary(1); len(recent) > 0 {
			candidates = recent[0].Filter
		}
	}
	lastQuestion, _ := p.memory.LastQuestion()

	var entities []string
	out, err := p.llm.Complete(ctx, extractPrompt(s.Question, lastQuestion, candidates), extractMaxTokens)
	switch {
	case err == nil:
		entities = parseEntities(out)
	case errors.Is(err, ports.ErrInvalidResponse):
		p.logger.Warn("extraction response unusable", "turn", h.Sequence(), "error", err)
	default:
		return fmt.Errorf("extracting entities: %w", err)
	}

	if entities == nil {
		entities = []string{}
	}
	s.Entities = entities
	return p.memory.RecordStep(h, memory.FieldEntities, entities)
}
