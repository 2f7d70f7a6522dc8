package graph

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/Divas-Gupta30/helix/helix-agent/internal/memory"
)

var typeDescriptions = map[memory.QuestionType]string{
	memory.GeneDisease:   "genes linked to diseases",
	memory.DrugTreatment: "drugs and the diseases they treat",
	memory.GeneProtein:   "genes and the proteins they encode",
	memory.Pathway:       "gene -> protein -> disease chains and the drugs targeting them",
}

func classifyPrompt(question string, prior memory.QuestionType) string {
	var sb strings.Builder
	sb.WriteString("Classify this biomedical question. Choose exactly one type:\n")
	for _, t := range memory.KnownQuestionTypes {
		fmt.Fprintf(&sb, "- %s: %s\n", t, typeDescriptions[t])
	}
	fmt.Fprintf(&sb, "- %s: anything else\n", memory.Unknown)
	fmt.Fprintf(&sb, "\nQuestion: %s\n", question)

	if prior != "" && prior != memory.Unknown {
		fmt.Fprintf(&sb, "\nThe previous question was classified as %s. ", prior)
		sb.WriteString("If this question is a follow-up (\"what about\", \"and\", \"also\", \"how about\"), use the same type.\n")
	}

	sb.WriteString("\nRespond with just the type.")
	return sb.String()
}

func extractPrompt(question, lastQuestion string, candidates []string) string {
	var sb strings.Builder
	sb.WriteString("Extract the biomedical entities (genes, proteins, diseases, drugs, categories, ")
	sb.WriteString("approval statuses) named in this question.\n\n")
	fmt.Fprintf(&sb, "Question: %s\n", question)

	if len(candidates) > 0 {
		quoted, _ := json.Marshal(candidates)
		sb.WriteString("\nPronoun resolution:\n")
		if lastQuestion != "" {
			fmt.Fprintf(&sb, "Previous question: %q\n", lastQuestion)
		}
		fmt.Fprintf(&sb, "Previous entities: %s\n", quoted)
		sb.WriteString("If the question refers back to them (\"it\", \"they\", \"those\", \"that disease\"), ")
		sb.WriteString("include the referenced previous entities in your output.\n")
	}

	sb.WriteString("\nReturn ONLY a JSON list of strings, e.g. [\"TP53\", \"Breast_Cancer\"], or [] if none.")
	return sb.String()
}

func formatPrompt(question, summary string) string {
	return fmt.Sprintf(`Turn these database results into a clear, concise answer.

Question: %s
Results: %s

Only use facts present in the results.`, question, summary)
}

// parseEntities reads a JSON string list out of model output, tolerating
// markdown fences and surrounding prose. Anything unparseable yields nil.
func parseEntities(out string) []string {
	text := strings.TrimSpace(out)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")

	start := strings.Index(text, "[")
	end := strings.LastIndex(text, "]")
	if start < 0 || end < start {
		return nil
	}

	var raw []any
	if err := json.Unmarshal([]byte(text[start:end+1]), &raw); err != nil {
		return nil
	}

	entities := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			entities = append(entities, s)
		}
	}
	return memory.Dedupe(entities)
}

var followUpCues = []string{"what about", "how about", "and ", "also", "what of"}

func isFollowUp(question string) bool {
	q := strings.ToLower(strings.TrimSpace(question))
	for _, cue := range followUpCues {
		if strings.HasPrefix(q, cue) {
			return true
		}
	}
	return false
}
