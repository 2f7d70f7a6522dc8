package graph_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/Divas-Gupta30/helix/helix-agent/internal/graph"
	"github.com/Divas-Gupta30/helix/helix-agent/internal/memory"
	"github.com/Divas-Gupta30/helix/helix-agent/internal/ports"
	"github.com/Divas-Gupta30/helix/helix-agent/internal/ports/portstest"
)

type stageRecorder struct {
	mu     sync.Mutex
	stages []string
	errs   []error
}

func (r *stageRecorder) ObserveStage(stage string, _ time.Duration, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stages = append(r.stages, stage)
	r.errs = append(r.errs, err)
}

var _ = Describe("Pipeline", func() {
	var (
		ctx      context.Context
		mem      *memory.Memory
		llm      *portstest.Completer
		executor *portstest.Executor
		pipeline *graph.Pipeline
	)

	// run drives one question through the pipeline and commits the turn,
	// failed or not.
	run := func(question string) (*graph.State, memory.Turn, error) {
		h, err := mem.StartTurn(question)
		Expect(err).NotTo(HaveOccurred())

		s := graph.NewState(question)
		runErr := pipeline.Run(ctx, h, s)
		if runErr != nil {
			var se *graph.StageError
			Expect(errors.As(runErr, &se)).To(BeTrue())
			Expect(mem.MarkFailed(h, se.Stage.String(), se.Err)).To(Succeed())
		}
		turn, err := mem.CommitTurn(h)
		Expect(err).NotTo(HaveOccurred())
		return s, turn, runErr
	}

	BeforeEach(func() {
		ctx = context.Background()
		mem = memory.New(memory.DefaultCapacity)
		llm = portstest.NewCompleter()
		executor = &portstest.Executor{}
		pipeline = graph.New(mem, llm, executor)
	})

	Describe("a successful turn", func() {
		BeforeEach(func() {
			llm.Push(
				portstest.Reply{Text: "gene_disease"},
				portstest.Reply{Text: `["TP53"]`},
				portstest.Reply{Text: "TP53 is linked to Breast_Cancer."},
			)
			executor.Rows = []map[string]any{
				{"gene": "TP53", "disease": "Breast_Cancer", "category": "Cancer"},
			}
		})

		It("binds entities as parameters and never into the query text", func() {
			s, _, err := run("Which diseases is TP53 linked to?")
			Expect(err).NotTo(HaveOccurred())
			Expect(s.Stage).To(Equal(graph.StageDone))

			calls := executor.Calls()
			Expect(calls).To(HaveLen(1))
			Expect(calls[0].Query).NotTo(ContainSubstring("TP53"))
			Expect(calls[0].Params).To(HaveKeyWithValue(graph.ParamEntities, []string{"TP53"}))
			Expect(calls[0].Params).To(HaveKeyWithValue(graph.ParamLimit, graph.DefaultRowLimit))
			Expect(s.Query.Template).To(Equal("gene_disease"))
		})

		It("records every field of the turn", func() {
			_, turn, err := run("Which diseases is TP53 linked to?")
			Expect(err).NotTo(HaveOccurred())

			Expect(turn.QuestionType).To(Equal(memory.GeneDisease))
			Expect(turn.Entities).To(Equal([]string{"TP53"}))
			Expect(turn.Filter).To(Equal([]string{"TP53"}))
			Expect(turn.Query).To(Equal(graph.DefaultTemplates()[memory.GeneDisease].Text))
			Expect(turn.ExecutionSummary).To(HavePrefix("1 row; columns: category, disease, gene"))
			Expect(turn.Answer).To(Equal("TP53 is linked to Breast_Cancer."))
			Expect(turn.Failed()).To(BeFalse())
		})

		It("uses the per-stage token budgets", func() {
			_, _, err := run("Which diseases is TP53 linked to?")
			Expect(err).NotTo(HaveOccurred())

			calls := llm.Calls()
			Expect(calls).To(HaveLen(3))
			Expect(calls[0].MaxTokens).To(Equal(20))
			Expect(calls[1].MaxTokens).To(Equal(100))
			Expect(calls[2].MaxTokens).To(Equal(250))
		})

		It("gives the format prompt the summary rather than raw rows", func() {
			executor.Rows = append(executor.Rows,
				map[string]any{"gene": "TP53", "disease": "Lung_Cancer", "category": "Cancer"},
				map[string]any{"gene": "TP53", "disease": "Li_Fraumeni", "category": "Syndrome"},
				map[string]any{"gene": "TP53", "disease": "Glioma", "category": "Cancer"},
			)
			_, _, err := run("Which diseases is TP53 linked to?")
			Expect(err).NotTo(HaveOccurred())

			prompt := llm.Calls()[2].Prompt
			Expect(prompt).To(ContainSubstring("4 rows"))
			Expect(prompt).To(ContainSubstring("+1 more"))
			Expect(prompt).NotTo(ContainSubstring("Glioma"))
		})

		It("reports each stage to the observer", func() {
			rec := &stageRecorder{}
			pipeline = graph.New(mem, llm, executor, graph.WithObserver(rec))

			_, _, err := run("Which diseases is TP53 linked to?")
			Expect(err).NotTo(HaveOccurred())
			Expect(rec.stages).To(Equal([]string{"classify", "extract", "generate", "execute", "format"}))
			Expect(rec.errs).To(HaveEach(BeNil()))
		})
	})

	Describe("follow-up questions", func() {
		BeforeEach(func() {
			llm.Push(
				portstest.Reply{Text: "drug_treatment"},
				portstest.Reply{Text: `["Hypertension"]`},
				portstest.Reply{Text: "Lisinopril treats Hypertension."},
			)
			executor.Rows = []map[string]any{
				{"drug": "Lisinopril", "disease": "Hypertension", "approval_status": "Approved", "efficacy": "High"},
			}
			_, turn, err := run("What drugs treat Hypertension?")
			Expect(err).NotTo(HaveOccurred())
			Expect(turn.QuestionType).To(Equal(memory.DrugTreatment))
		})

		It("keeps the previous type and substitutes the new entity", func() {
			llm.Push(
				portstest.Reply{Text: "unknown"},
				portstest.Reply{Text: `["Coronary_Artery_Disease"]`},
				portstest.Reply{Text: "Atorvastatin treats Coronary_Artery_Disease."},
			)

			s, turn, err := run("What about Coronary_Artery_Disease?")
			Expect(err).NotTo(HaveOccurred())
			Expect(turn.QuestionType).To(Equal(memory.DrugTreatment))
			Expect(s.Query.Template).To(Equal("drug_treatment"))
			Expect(s.Query.CarriedForward).To(BeFalse())

			calls := executor.Calls()
			Expect(calls).To(HaveLen(2))
			Expect(calls[1].Params).To(HaveKeyWithValue(graph.ParamEntities, []string{"Coronary_Artery_Disease"}))

			prompts := llm.Calls()
			Expect(prompts[3].Prompt).To(ContainSubstring("classified as drug_treatment"))
			Expect(prompts[4].Prompt).To(ContainSubstring(`["Hypertension"]`))
		})

		It("does not inherit the type without a follow-up cue", func() {
			llm.Push(
				portstest.Reply{Text: "unknown"},
				portstest.Reply{Text: `["BRCA1"]`},
				portstest.Reply{Text: "BRCA1 is a gene."},
			)

			s, _, err := run("Tell me about BRCA1")
			Expect(err).NotTo(HaveOccurred())
			Expect(s.QuestionType).To(Equal(memory.Unknown))
			Expect(s.Query.Template).To(Equal("entity_search"))
		})

		It("carries the previous entities forward when nothing new is named", func() {
			llm.Push(
				portstest.Reply{Text: "drug_treatment"},
				portstest.Reply{Text: "[]"},
				portstest.Reply{Text: "Only Lisinopril is approved."},
			)

			s, turn, err := run("Now only show approved ones")
			Expect(err).NotTo(HaveOccurred())
			Expect(s.Query.CarriedForward).To(BeTrue())
			Expect(executor.Calls()[1].Params).To(HaveKeyWithValue(graph.ParamEntities, []string{"Hypertension"}))
			Expect(turn.Entities).To(BeEmpty())
			Expect(turn.Filter).To(Equal([]string{"Hypertension"}))
		})

		It("keeps a carried filter through a chain of follow-ups", func() {
			llm.Push(
				portstest.Reply{Text: "drug_treatment"},
				portstest.Reply{Text: "[]"},
				portstest.Reply{Text: "Only Lisinopril is approved."},
				portstest.Reply{Text: "drug_treatment"},
				portstest.Reply{Text: "[]"},
				portstest.Reply{Text: "Lisinopril has high efficacy."},
			)

			_, _, err := run("Now only show approved ones")
			Expect(err).NotTo(HaveOccurred())
			s, turn, err := run("And sort them by efficacy")
			Expect(err).NotTo(HaveOccurred())
			Expect(s.Query.CarriedForward).To(BeTrue())
			Expect(turn.Filter).To(Equal([]string{"Hypertension"}))

			calls := executor.Calls()
			Expect(calls).To(HaveLen(3))
			for _, c := range calls {
				Expect(c.Params).To(HaveKeyWithValue(graph.ParamEntities, []string{"Hypertension"}))
			}

			prompts := llm.Calls()
			Expect(prompts[7].Prompt).To(ContainSubstring(`["Hypertension"]`))
		})

		It("lets newly named entities replace the carried filter", func() {
			llm.Push(
				portstest.Reply{Text: "drug_treatment"},
				portstest.Reply{Text: "[]"},
				portstest.Reply{Text: "Only Lisinopril is approved."},
				portstest.Reply{Text: "drug_treatment"},
				portstest.Reply{Text: `["Asthma"]`},
				portstest.Reply{Text: "Albuterol treats Asthma."},
			)

			_, _, err := run("Now only show approved ones")
			Expect(err).NotTo(HaveOccurred())
			s, turn, err := run("Which drugs treat Asthma?")
			Expect(err).NotTo(HaveOccurred())
			Expect(s.Query.CarriedForward).To(BeFalse())
			Expect(turn.Filter).To(Equal([]string{"Asthma"}))
			Expect(executor.Calls()[2].Params).To(HaveKeyWithValue(graph.ParamEntities, []string{"Asthma"}))
		})

		It("does not carry entities across question types", func() {
			llm.Push(
				portstest.Reply{Text: "gene_protein"},
				portstest.Reply{Text: "[]"},
				portstest.Reply{Text: "Many genes encode proteins."},
			)

			s, _, err := run("Which genes encode proteins?")
			Expect(err).NotTo(HaveOccurred())
			Expect(s.Query.CarriedForward).To(BeFalse())
			Expect(executor.Calls()[1].Params).To(HaveKeyWithValue(graph.ParamEntities, []string{}))
		})
	})

	Describe("degraded model output", func() {
		BeforeEach(func() {
			executor.Rows = []map[string]any{{"gene": "BRCA1"}}
		})

		It("treats an invalid classification as unknown", func() {
			llm.Push(
				portstest.Reply{Err: fmt.Errorf("%w: empty body", ports.ErrInvalidResponse)},
				portstest.Reply{Text: `["BRCA1"]`},
				portstest.Reply{Text: "BRCA1 found."},
			)

			s, _, err := run("BRCA1?")
			Expect(err).NotTo(HaveOccurred())
			Expect(s.QuestionType).To(Equal(memory.Unknown))
			Expect(s.Query.Template).To(Equal("entity_search"))
		})

		It("maps an ambiguous classification to unknown", func() {
			llm.Push(
				portstest.Reply{Text: "gene_disease or gene_protein"},
				portstest.Reply{Text: `["BRCA1"]`},
				portstest.Reply{Text: "BRCA1 found."},
			)

			s, _, err := run("BRCA1?")
			Expect(err).NotTo(HaveOccurred())
			Expect(s.QuestionType).To(Equal(memory.Unknown))
		})

		It("parses fenced entity lists and drops duplicates", func() {
			llm.Push(
				portstest.Reply{Text: "gene_protein"},
				portstest.Reply{Text: "```json\n[\"BRCA1\", \"BRCA1\", \" \", 7]\n```"},
				portstest.Reply{Text: "BRCA1 encodes a protein."},
			)

			s, _, err := run("What does BRCA1 encode?")
			Expect(err).NotTo(HaveOccurred())
			Expect(s.Entities).To(Equal([]string{"BRCA1"}))
		})

		It("falls back to an empty entity list on unparseable output", func() {
			llm.Push(
				portstest.Reply{Text: "gene_protein"},
				portstest.Reply{Text: "BRCA1 probably"},
				portstest.Reply{Text: "Genes encode proteins."},
			)

			s, _, err := run("What does it encode?")
			Expect(err).NotTo(HaveOccurred())
			Expect(s.Entities).To(BeEmpty())
		})

		It("builds an answer from the summary when formatting fails", func() {
			llm.Push(
				portstest.Reply{Text: "gene_protein"},
				portstest.Reply{Text: `["BRCA1"]`},
				portstest.Reply{Err: fmt.Errorf("%w: truncated stream", ports.ErrInvalidResponse)},
			)

			s, _, err := run("What does BRCA1 encode?")
			Expect(err).NotTo(HaveOccurred())
			Expect(s.Answer).To(ContainSubstring("1 row"))
			Expect(s.Answer).To(ContainSubstring("gene: BRCA1"))
		})

		It("answers without the model when nothing matched", func() {
			executor.Rows = nil
			llm.Push(
				portstest.Reply{Text: "gene_protein"},
				portstest.Reply{Text: `["NOPE1"]`},
			)

			s, turn, err := run("What does NOPE1 encode?")
			Expect(err).NotTo(HaveOccurred())
			Expect(s.Answer).To(Equal(graph.NoResultsAnswer))
			Expect(turn.ExecutionSummary).To(Equal("no results"))
			Expect(llm.Calls()).To(HaveLen(2))
		})
	})

	Describe("failures", func() {
		It("fails the turn when the completion service is down", func() {
			llm.Push(portstest.Reply{Err: fmt.Errorf("%w: connection refused", ports.ErrServiceUnavailable)})

			s, turn, err := run("Which diseases is TP53 linked to?")
			Expect(err).To(MatchError(ports.ErrServiceUnavailable))
			Expect(s.Stage).To(Equal(graph.StageFailed))

			var se *graph.StageError
			Expect(errors.As(err, &se)).To(BeTrue())
			Expect(se.Stage).To(Equal(graph.StageClassify))
			Expect(executor.Calls()).To(BeEmpty())
			Expect(turn.FailedStage).To(Equal("classify"))
		})

		It("surfaces a syntax error without retrying", func() {
			llm.Push(
				portstest.Reply{Text: "gene_disease"},
				portstest.Reply{Text: `["TP53"]`},
			)
			executor.Err = fmt.Errorf("%w: Invalid input 'MATCHH'", ports.ErrQuerySyntax)

			_, turn, err := run("Which diseases is TP53 linked to?")
			Expect(err).To(MatchError(ports.ErrQuerySyntax))
			Expect(executor.Calls()).To(HaveLen(1))
			Expect(turn.FailedStage).To(Equal("execute"))
			Expect(turn.Failure).To(ContainSubstring("MATCHH"))
			Expect(turn.Answer).To(BeEmpty())
		})

		It("classifies unknown executor errors as execution errors", func() {
			llm.Push(
				portstest.Reply{Text: "gene_disease"},
				portstest.Reply{Text: `["TP53"]`},
			)
			executor.Err = errors.New("boom")

			_, _, err := run("Which diseases is TP53 linked to?")
			Expect(err).To(MatchError(ports.ErrQueryExecution))
		})

		It("rejects a mutating template before reaching the executor", func() {
			pipeline = graph.New(mem, llm, executor, graph.WithTemplates(map[memory.QuestionType]graph.Template{
				memory.GeneDisease: {Name: "bad", Text: "MATCH (g:Gene) DETACH DELETE g"},
			}))
			llm.Push(
				portstest.Reply{Text: "gene_disease"},
				portstest.Reply{Text: `["TP53"]`},
			)

			_, turn, err := run("Which diseases is TP53 linked to?")
			Expect(err).To(MatchError(graph.ErrValidationRejected))
			Expect(executor.Calls()).To(BeEmpty())
			Expect(turn.FailedStage).To(Equal("execute"))
		})

		It("fails generate when no template covers the type", func() {
			pipeline = graph.New(mem, llm, executor, graph.WithTemplates(map[memory.QuestionType]graph.Template{}))
			llm.Push(
				portstest.Reply{Text: "gene_disease"},
				portstest.Reply{Text: `["TP53"]`},
			)

			_, turn, err := run("Which diseases is TP53 linked to?")
			Expect(err).To(HaveOccurred())
			Expect(turn.FailedStage).To(Equal("generate"))
		})

		It("stops before the first stage when the context is done", func() {
			cctx, cancel := context.WithCancel(ctx)
			cancel()
			ctx = cctx

			_, _, err := run("Which diseases is TP53 linked to?")
			Expect(err).To(MatchError(context.Canceled))
			Expect(llm.Calls()).To(BeEmpty())
		})
	})
})
