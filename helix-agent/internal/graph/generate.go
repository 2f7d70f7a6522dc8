package graph

import (
	"context"
	"fmt"

	"github.com/Divas-Gupta30/helix/helix-agent/internal/memory"
)

// generate picks the template for the question type and binds entities.
// With nothing extracted and the previous turn asking the same kind of
// question, the filter that turn applied stays in force. The applied filter
// is recorded with the query, so a chain of follow-ups keeps it.
func (p *Pipeline) generate(_ context.Context, h memory.Handle, s *State) error {
	templates := p.templates.Templates()
	tmpl, ok := templates[s.QuestionType]
	if !ok {
		tmpl, ok = templates[memory.Unknown]
	}
	if !ok {
		return fmt.Errorf("no query template for %q", s.QuestionType)
	}

	entities := s.Entities
	carried := false
	if len(entities) == 0 {
		if recent := p.memory.RecentSummary(1); len(recent) > 0 && recent[0].QuestionType == s.QuestionType {
			if prior := recent[0].Filter; len(prior) > 0 {
				entities = prior
				carried = true
			}
		}
	}

	q := tmpl.Bind(entities, p.rowLimit)
	q.CarriedForward = carried
	if carried {
		p.logger.Debug("carrying entities forward", "turn", h.Sequence(), "entities", entities)
	}

	s.Query = q
	return p.memory.RecordStep(h, memory.FieldQuery, memory.AppliedQuery{Text: q.Text, Filter: entities})
}
