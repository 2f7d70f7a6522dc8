package memory_test

import (
	"errors"
	"fmt"
	"sync"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/Divas-Gupta30/helix/helix-agent/internal/memory"
)

// commit runs a full turn through m with the given type and entities.
func commit(m *memory.Memory, question string, qt memory.QuestionType, entities ...string) memory.Turn {
	h, err := m.StartTurn(question)
	Expect(err).NotTo(HaveOccurred())
	Expect(m.RecordStep(h, memory.FieldQuestionType, qt)).To(Succeed())
	Expect(m.RecordStep(h, memory.FieldEntities, entities)).To(Succeed())
	Expect(m.RecordStep(h, memory.FieldQuery, "MATCH (n) RETURN n")).To(Succeed())
	turn, err := m.CommitTurn(h)
	Expect(err).NotTo(HaveOccurred())
	return turn
}

func questions(turns []memory.Turn) []string {
	out := make([]string, len(turns))
	for i, t := range turns {
		out[i] = t.Question
	}
	return out
}

var _ = Describe("Memory", func() {
	var m *memory.Memory

	BeforeEach(func() {
		m = memory.New(memory.DefaultCapacity)
	})

	Describe("New", func() {
		It("falls back to the default capacity", func() {
			Expect(memory.New(0).Capacity()).To(Equal(memory.DefaultCapacity))
			Expect(memory.New(-3).Capacity()).To(Equal(memory.DefaultCapacity))
			Expect(memory.New(4).Capacity()).To(Equal(4))
		})
	})

	Describe("turn lifecycle", func() {
		It("rejects a second StartTurn while a turn is open", func() {
			_, err := m.StartTurn("first")
			Expect(err).NotTo(HaveOccurred())

			_, err = m.StartTurn("second")
			Expect(err).To(HaveOccurred())
			Expect(memory.IsStateError(err)).To(BeTrue())
		})

		It("allows StartTurn again after commit", func() {
			h, err := m.StartTurn("first")
			Expect(err).NotTo(HaveOccurred())
			_, err = m.CommitTurn(h)
			Expect(err).NotTo(HaveOccurred())

			_, err = m.StartTurn("second")
			Expect(err).NotTo(HaveOccurred())
		})

		It("allows StartTurn again after abandoning", func() {
			h, err := m.StartTurn("first")
			Expect(err).NotTo(HaveOccurred())
			Expect(m.AbandonTurn(h)).To(Succeed())
			Expect(m.Len()).To(Equal(0))

			_, err = m.StartTurn("second")
			Expect(err).NotTo(HaveOccurred())
		})

		It("assigns increasing sequence numbers", func() {
			a := commit(m, "a", memory.GeneDisease)
			b := commit(m, "b", memory.GeneDisease)
			Expect(b.Sequence).To(BeNumerically(">", a.Sequence))
		})

		It("rejects stale handles", func() {
			h, err := m.StartTurn("first")
			Expect(err).NotTo(HaveOccurred())
			_, err = m.CommitTurn(h)
			Expect(err).NotTo(HaveOccurred())

			Expect(m.RecordStep(h, memory.FieldAnswer, "late")).To(MatchError(memory.ErrInvalidHandle))
			_, err = m.CommitTurn(h)
			Expect(err).To(MatchError(memory.ErrInvalidHandle))
			Expect(m.AbandonTurn(h)).To(MatchError(memory.ErrInvalidHandle))
		})

		It("rejects handles issued by another memory", func() {
			other := memory.New(2)
			foreign, err := other.StartTurn("elsewhere")
			Expect(err).NotTo(HaveOccurred())

			_, err = m.StartTurn("here")
			Expect(err).NotTo(HaveOccurred())
			Expect(m.RecordStep(foreign, memory.FieldAnswer, "x")).To(MatchError(memory.ErrInvalidHandle))
		})

		It("rejects the zero handle", func() {
			_, err := m.StartTurn("here")
			Expect(err).NotTo(HaveOccurred())
			_, err = m.CommitTurn(memory.Handle{})
			Expect(errors.Is(err, memory.ErrInvalidHandle)).To(BeTrue())
		})
	})

	Describe("RecordStep", func() {
		var h memory.Handle

		BeforeEach(func() {
			var err error
			h, err = m.StartTurn("What genes are linked to diabetes?")
			Expect(err).NotTo(HaveOccurred())
		})

		It("writes every field into the committed turn", func() {
			Expect(m.RecordStep(h, memory.FieldQuestionType, memory.GeneDisease)).To(Succeed())
			Expect(m.RecordStep(h, memory.FieldEntities, []string{"Diabetes"})).To(Succeed())
			Expect(m.RecordStep(h, memory.FieldQuery, "MATCH (g:Gene) RETURN g")).To(Succeed())
			Expect(m.RecordStep(h, memory.FieldExecutionSummary, "2 rows")).To(Succeed())
			Expect(m.RecordStep(h, memory.FieldAnswer, "INS and TCF7L2")).To(Succeed())

			turn, err := m.CommitTurn(h)
			Expect(err).NotTo(HaveOccurred())
			Expect(turn.QuestionType).To(Equal(memory.GeneDisease))
			Expect(turn.Entities).To(Equal([]string{"Diabetes"}))
			Expect(turn.Query).To(Equal("MATCH (g:Gene) RETURN g"))
			Expect(turn.ExecutionSummary).To(Equal("2 rows"))
			Expect(turn.Answer).To(Equal("INS and TCF7L2"))
			Expect(turn.CommittedAt).NotTo(BeZero())
		})

		It("deduplicates entities preserving insertion order", func() {
			Expect(m.RecordStep(h, memory.FieldEntities, []string{"TP53", " BRCA1 ", "TP53", "", "EGFR"})).To(Succeed())
			turn, err := m.CommitTurn(h)
			Expect(err).NotTo(HaveOccurred())
			Expect(turn.Entities).To(Equal([]string{"TP53", "BRCA1", "EGFR"}))
		})

		It("records the applied filter with the query", func() {
			Expect(m.RecordStep(h, memory.FieldEntities, []string{})).To(Succeed())
			Expect(m.RecordStep(h, memory.FieldQuery, memory.AppliedQuery{
				Text:   "MATCH (d:Drug) RETURN d",
				Filter: []string{"Hypertension", "Hypertension"},
			})).To(Succeed())

			turn, err := m.CommitTurn(h)
			Expect(err).NotTo(HaveOccurred())
			Expect(turn.Query).To(Equal("MATCH (d:Drug) RETURN d"))
			Expect(turn.Entities).To(BeEmpty())
			Expect(turn.Filter).To(Equal([]string{"Hypertension"}))
			Expect(m.RecentSummary(1)[0].Filter).To(Equal([]string{"Hypertension"}))
			Expect(m.FormatForDisplay()[0]).To(ContainSubstring("entities: none | filter: Hypertension"))
		})

		It("refuses to record the same field twice", func() {
			Expect(m.RecordStep(h, memory.FieldQuery, "q1")).To(Succeed())
			err := m.RecordStep(h, memory.FieldQuery, "q2")
			Expect(memory.IsStateError(err)).To(BeTrue())
		})

		It("rejects values of the wrong type", func() {
			Expect(m.RecordStep(h, memory.FieldEntities, "TP53")).To(HaveOccurred())
			Expect(m.RecordStep(h, memory.FieldQuery, 42)).To(HaveOccurred())
			Expect(m.RecordStep(h, memory.FieldQuestionType, memory.QuestionType("astrology"))).To(HaveOccurred())
			Expect(m.RecordStep(h, memory.Field(99), "x")).To(MatchError(ContainSubstring("unknown field field(99)")))
		})

		It("does not alias the caller's entity slice", func() {
			entities := []string{"TP53"}
			Expect(m.RecordStep(h, memory.FieldEntities, entities)).To(Succeed())
			entities[0] = "mutated"
			turn, err := m.CommitTurn(h)
			Expect(err).NotTo(HaveOccurred())
			Expect(turn.Entities).To(Equal([]string{"TP53"}))
		})
	})

	Describe("MarkFailed", func() {
		It("keeps failure context in the committed turn", func() {
			h, err := m.StartTurn("bad question")
			Expect(err).NotTo(HaveOccurred())
			Expect(m.MarkFailed(h, "execute", errors.New("boom"))).To(Succeed())
			Expect(memory.IsStateError(m.MarkFailed(h, "format", errors.New("again")))).To(BeTrue())

			turn, err := m.CommitTurn(h)
			Expect(err).NotTo(HaveOccurred())
			Expect(turn.Failed()).To(BeTrue())
			Expect(turn.FailedStage).To(Equal("execute"))
			Expect(turn.Failure).To(Equal("boom"))
			Expect(m.FormatForDisplay()[0]).To(ContainSubstring("failed at execute: boom"))
		})
	})

	Describe("window", func() {
		It("keeps exactly [B, C] when capacity is 2 and A, B, C are committed", func() {
			m = memory.New(2)
			commit(m, "A", memory.GeneDisease)
			commit(m, "B", memory.GeneDisease)
			commit(m, "C", memory.GeneDisease)

			display := m.FormatForDisplay()
			Expect(display).To(HaveLen(2))
			Expect(display[0]).To(HavePrefix("Turn 2: B"))
			Expect(display[1]).To(HavePrefix("Turn 3: C"))
		})

		It("grows by one per commit until full, then stays at capacity", func() {
			m = memory.New(3)
			for i := 1; i <= 5; i++ {
				before := m.Len()
				commit(m, fmt.Sprintf("q%d", i), memory.Pathway)
				if before < 3 {
					Expect(m.Len()).To(Equal(before + 1))
				} else {
					Expect(m.Len()).To(Equal(3))
				}
			}
		})

		DescribeTable("keeps the N most recent turns in order",
			func(capacity, n int) {
				m = memory.New(capacity)
				var all []string
				for i := 1; i <= n; i++ {
					q := fmt.Sprintf("question %d", i)
					all = append(all, q)
					commit(m, q, memory.GeneProtein)
					Expect(len(m.FormatForDisplay())).To(BeNumerically("<=", capacity))
				}

				want := all
				if len(want) > capacity {
					want = want[len(want)-capacity:]
				}
				Expect(questions(m.Turns())).To(Equal(want))
			},
			Entry("under capacity", 5, 3),
			Entry("exactly capacity", 4, 4),
			Entry("one over", 4, 5),
			Entry("far over", 3, 25),
			Entry("capacity one", 1, 7),
			Entry("default capacity", memory.DefaultCapacity, 23),
		)

		It("does not count or expose the open turn", func() {
			m = memory.New(2)
			commit(m, "A", memory.GeneDisease, "TP53")
			commit(m, "B", memory.GeneDisease, "BRCA1")

			h, err := m.StartTurn("C")
			Expect(err).NotTo(HaveOccurred())
			Expect(m.RecordStep(h, memory.FieldEntities, []string{"EGFR"})).To(Succeed())

			Expect(m.Len()).To(Equal(2))
			Expect(m.FormatForDisplay()).To(HaveLen(2))
			Expect(m.RecentEntities(5)).NotTo(ContainElement("EGFR"))
			Expect(questions(m.Turns())).To(Equal([]string{"A", "B"}))
		})

		It("returns copies from Turns", func() {
			commit(m, "A", memory.GeneDisease, "TP53")
			turns := m.Turns()
			turns[0].Entities[0] = "mutated"
			Expect(m.Turns()[0].Entities).To(Equal([]string{"TP53"}))
		})

		It("clears committed turns", func() {
			commit(m, "A", memory.GeneDisease)
			m.Clear()
			Expect(m.Len()).To(Equal(0))
			_, ok := m.LastQuestion()
			Expect(ok).To(BeFalse())
		})
	})

	Describe("RecentEntities", func() {
		It("is empty without history", func() {
			Expect(m.RecentEntities(1)).To(BeEmpty())
		})

		It("defaults to the last turn", func() {
			commit(m, "A", memory.GeneDisease, "TP53")
			commit(m, "B", memory.GeneDisease, "BRCA1", "Breast_Cancer")
			Expect(m.RecentEntities(0)).To(Equal([]string{"BRCA1", "Breast_Cancer"}))
			Expect(m.RecentEntities(1)).To(Equal([]string{"BRCA1", "Breast_Cancer"}))
		})

		It("orders newest turn first and deduplicates", func() {
			commit(m, "A", memory.GeneDisease, "TP53", "Cancer")
			commit(m, "B", memory.GeneDisease, "BRCA1", "TP53")
			Expect(m.RecentEntities(2)).To(Equal([]string{"BRCA1", "TP53", "Cancer"}))
		})
	})

	Describe("RecentSummary", func() {
		It("returns the last k turns in chronological order", func() {
			commit(m, "What drugs treat Hypertension?", memory.DrugTreatment, "Hypertension")
			commit(m, "Which genes encode insulin?", memory.GeneProtein, "INS")

			summary := m.RecentSummary(2)
			Expect(summary).To(HaveLen(2))
			Expect(summary[0].QuestionType).To(Equal(memory.DrugTreatment))
			Expect(summary[1].QuestionType).To(Equal(memory.GeneProtein))

			last := m.RecentSummary(1)
			Expect(last).To(HaveLen(1))
			Expect(last[0].Question).To(Equal("Which genes encode insulin?"))
		})

		It("caps k at the window length", func() {
			commit(m, "only", memory.Pathway)
			Expect(m.RecentSummary(10)).To(HaveLen(1))
		})
	})

	Describe("LastQuestion", func() {
		It("returns the newest committed question", func() {
			commit(m, "first", memory.Pathway)
			commit(m, "second", memory.Pathway)
			q, ok := m.LastQuestion()
			Expect(ok).To(BeTrue())
			Expect(q).To(Equal("second"))
		})
	})

	Describe("concurrent readers", func() {
		It("can read while turns are committed", func() {
			m = memory.New(3)
			var wg sync.WaitGroup
			stop := make(chan struct{})

			for i := 0; i < 4; i++ {
				wg.Add(1)
				go func() {
					defer GinkgoRecover()
					defer wg.Done()
					for {
						select {
						case <-stop:
							return
						default:
							Expect(len(m.FormatForDisplay())).To(BeNumerically("<=", 3))
							_ = m.RecentEntities(2)
						}
					}
				}()
			}

			for i := 0; i < 50; i++ {
				commit(m, fmt.Sprintf("q%d", i), memory.GeneDisease, fmt.Sprintf("G%d", i))
			}
			close(stop)
			wg.Wait()

			Expect(m.Len()).To(Equal(3))
		})
	})
})

var _ = Describe("ParseQuestionType", func() {
	DescribeTable("maps model output onto the enum",
		func(in string, want memory.QuestionType) {
			Expect(memory.ParseQuestionType(in)).To(Equal(want))
		},
		Entry("exact", "gene_disease", memory.GeneDisease),
		Entry("padded and cased", "  Drug_Treatment\n", memory.DrugTreatment),
		Entry("quoted", "`pathway`.", memory.Pathway),
		Entry("in a sentence", "The type is gene_protein", memory.GeneProtein),
		Entry("ambiguous", "gene_disease or drug_treatment", memory.Unknown),
		Entry("garbage", "I am not sure", memory.Unknown),
		Entry("empty", "", memory.Unknown),
		Entry("explicit unknown", "unknown", memory.Unknown),
	)
})
