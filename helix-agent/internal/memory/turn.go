package memory

import (
	"strconv"
	"strings"
	"time"
)

// QuestionType is the closed set of question categories the pipeline routes on.
type QuestionType string

const (
	GeneDisease   QuestionType = "gene_disease"
	DrugTreatment QuestionType = "drug_treatment"
	GeneProtein   QuestionType = "gene_protein"
	Pathway       QuestionType = "pathway"
	Unknown       QuestionType = "unknown"
)

// KnownQuestionTypes lists every type except Unknown, in prompt order.
var KnownQuestionTypes = []QuestionType{GeneDisease, DrugTreatment, GeneProtein, Pathway}

// Valid reports whether t is one of the enum values, Unknown included.
func (t QuestionType) Valid() bool {
	if t == Unknown {
		return true
	}
	for _, k := range KnownQuestionTypes {
		if t == k {
			return true
		}
	}
	return false
}

// ParseQuestionType maps free-form model output onto the enum. Output naming
// no type, or naming more than one, is Unknown.
func ParseQuestionType(s string) QuestionType {
	cleaned := strings.ToLower(strings.TrimSpace(s))
	cleaned = strings.Trim(cleaned, "`\"'.:* \n\t")
	if t := QuestionType(cleaned); t.Valid() {
		return t
	}

	var found QuestionType
	for _, k := range KnownQuestionTypes {
		if !strings.Contains(cleaned, string(k)) {
			continue
		}
		if found != "" {
			return Unknown
		}
		found = k
	}
	if found == "" {
		return Unknown
	}
	return found
}

// Field names one recordable slot of a Turn.
type Field int

const (
	FieldQuestionType Field = iota
	FieldEntities
	FieldQuery
	FieldExecutionSummary
	FieldAnswer
)

func (f Field) String() string {
	switch f {
	case FieldQuestionType:
		return "questionType"
	case FieldEntities:
		return "entities"
	case FieldQuery:
		return "query"
	case FieldExecutionSummary:
		return "executionSummary"
	case FieldAnswer:
		return "answer"
	default:
		return "field(" + strconv.Itoa(int(f)) + ")"
	}
}

// Turn is one question/answer interaction. Committed turns are copies and
// are never written again.
type Turn struct {
	Sequence         int64        `json:"sequence"`
	Question         string       `json:"question"`
	QuestionType     QuestionType `json:"question_type"`
	Entities         []string     `json:"entities"`
	Query            string       `json:"query"`
	Filter           []string     `json:"filter"`
	ExecutionSummary string       `json:"execution_summary"`
	Answer           string       `json:"answer"`
	FailedStage      string       `json:"failed_stage,omitempty"`
	Failure          string       `json:"failure,omitempty"`
	StartedAt        time.Time    `json:"started_at"`
	CommittedAt      time.Time    `json:"committed_at"`
}

// Failed reports whether a stage failed while this turn was open.
func (t Turn) Failed() bool {
	return t.FailedStage != ""
}

func (t Turn) clone() Turn {
	c := t
	c.Entities = append([]string(nil), t.Entities...)
	c.Filter = append([]string(nil), t.Filter...)
	return c
}

// Summary is the slice of a turn the generator needs to keep filters alive
// across a follow-up question.
type Summary struct {
	Question     string
	QuestionType QuestionType
	Query        string
	Filter       []string
}

// AppliedQuery is what the generate stage records under FieldQuery: the
// query text and the entities actually bound into it, carried ones included.
type AppliedQuery struct {
	Text   string
	Filter []string
}

// Dedupe trims entries, drops empties, and keeps the first occurrence of each.
func Dedupe(in []string) []string {
	out := make([]string, 0, len(in))
	seen := make(map[string]struct{}, len(in))
	for _, s := range in {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
