package memory

import (
	"fmt"
	"strings"
	"sync"
	"time"
)

// DefaultCapacity is the number of committed turns a Memory keeps.
const DefaultCapacity = 10

// Handle names the open turn a stage writes into. The zero Handle is never valid.
type Handle struct {
	owner *Memory
	seq   int64
}

// Sequence returns the sequence number of the turn the handle was issued for.
func (h Handle) Sequence() int64 {
	return h.seq
}

// Memory is a bounded FIFO window of committed turns plus at most one open
// turn. One Memory belongs to one conversation; it is not shared across
// sessions.
//
// Read accessors only see committed turns. They take a read lock and return
// copies, so a display can poll while a request is in flight.
type Memory struct {
	mu       sync.RWMutex
	capacity int
	nextSeq  int64
	turns    []Turn

	open     *Turn
	recorded map[Field]bool

	now func() time.Time
}

// New creates a Memory holding at most capacity committed turns. A
// non-positive capacity falls back to DefaultCapacity.
func New(capacity int) *Memory {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Memory{
		capacity: capacity,
		turns:    make([]Turn, 0, capacity),
		now:      time.Now,
	}
}

// Capacity returns the window size.
func (m *Memory) Capacity() int {
	return m.capacity
}

// Len returns the number of committed turns.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.turns)
}

// StartTurn opens a new turn for question. Only one turn may be open at a time.
func (m *Memory) StartTurn(question string) (Handle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.open != nil {
		return Handle{}, &StateError{
			Op:  "start turn",
			Msg: fmt.Sprintf("turn %d is still open", m.open.Sequence),
		}
	}

	m.nextSeq++
	m.open = &Turn{
		Sequence:  m.nextSeq,
		Question:  question,
		StartedAt: m.now(),
	}
	m.recorded = make(map[Field]bool, 5)

	return Handle{owner: m, seq: m.nextSeq}, nil
}

// RecordStep writes one field of the open turn. Each field can be written
// once per turn. QuestionType takes a QuestionType, Entities a []string,
// Query a string or an AppliedQuery, and every other field a string.
func (m *Memory) RecordStep(h Handle, field Field, value any) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.checkHandle(h); err != nil {
		return err
	}
	if m.recorded[field] {
		return &StateError{
			Op:  "record step",
			Msg: fmt.Sprintf("%s already recorded for turn %d", field, h.seq),
		}
	}

	t := m.open
	switch field {
	case FieldQuestionType:
		qt, ok := value.(QuestionType)
		if !ok || !qt.Valid() {
			return fmt.Errorf("record %s: unsupported value %v", field, value)
		}
		t.QuestionType = qt
	case FieldEntities:
		entities, ok := value.([]string)
		if !ok {
			return fmt.Errorf("record %s: expected []string, got %T", field, value)
		}
		t.Entities = Dedupe(entities)
	case FieldQuery:
		switch q := value.(type) {
		case string:
			t.Query = q
		case AppliedQuery:
			t.Query = q.Text
			t.Filter = Dedupe(q.Filter)
		default:
			return fmt.Errorf("record %s: expected string or AppliedQuery, got %T", field, value)
		}
	case FieldExecutionSummary, FieldAnswer:
		s, ok := value.(string)
		if !ok {
			return fmt.Errorf("record %s: expected string, got %T", field, value)
		}
		if field == FieldExecutionSummary {
			t.ExecutionSummary = s
		} else {
			t.Answer = s
		}
	default:
		return fmt.Errorf("record step: unknown field %s", field)
	}

	m.recorded[field] = true
	return nil
}

// MarkFailed attaches failure context to the open turn so it stays visible
// in history once the turn is committed.
func (m *Memory) MarkFailed(h Handle, stage string, cause error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.checkHandle(h); err != nil {
		return err
	}
	if m.open.FailedStage != "" {
		return &StateError{Op: "mark failed", Msg: fmt.Sprintf("turn %d already failed", h.seq)}
	}

	m.open.FailedStage = stage
	if cause != nil {
		m.open.Failure = cause.Error()
	}
	return nil
}

// CommitTurn freezes the open turn into the window, evicting the oldest
// committed turn when the window is full.
func (m *Memory) CommitTurn(h Handle) (Turn, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.checkHandle(h); err != nil {
		return Turn{}, err
	}

	committed := m.open.clone()
	committed.CommittedAt = m.now()

	if len(m.turns) >= m.capacity {
		evict := len(m.turns) - m.capacity + 1
		m.turns = append(m.turns[:0:0], m.turns[evict:]...)
	}
	m.turns = append(m.turns, committed)

	m.open = nil
	m.recorded = nil

	return committed.clone(), nil
}

// AbandonTurn discards the open turn without committing it, for requests
// that were cancelled mid-flight.
func (m *Memory) AbandonTurn(h Handle) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.checkHandle(h); err != nil {
		return err
	}
	m.open = nil
	m.recorded = nil
	return nil
}

// RecentEntities returns the deduplicated entities of the last k committed
// turns, newest turn first and each turn in its own order. k <= 0 means 1.
func (m *Memory) RecentEntities(k int) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	recent := m.lastK(k)
	var all []string
	for i := len(recent) - 1; i >= 0; i-- {
		all = append(all, recent[i].Entities...)
	}
	return Dedupe(all)
}

// RecentSummary returns question, type, query and applied filter of the last
// k committed turns, oldest first. k <= 0 means 1.
func (m *Memory) RecentSummary(k int) []Summary {
	m.mu.RLock()
	defer m.mu.RUnlock()

	recent := m.lastK(k)
	out := make([]Summary, len(recent))
	for i, t := range recent {
		out[i] = Summary{
			Question:     t.Question,
			QuestionType: t.QuestionType,
			Query:        t.Query,
			Filter:       append([]string(nil), t.Filter...),
		}
	}
	return out
}

// LastQuestion returns the most recently committed question, if any.
func (m *Memory) LastQuestion() (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if len(m.turns) == 0 {
		return "", false
	}
	return m.turns[len(m.turns)-1].Question, true
}

// Turns returns copies of the committed turns, oldest first.
func (m *Memory) Turns() []Turn {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Turn, len(m.turns))
	for i, t := range m.turns {
		out[i] = t.clone()
	}
	return out
}

// FormatForDisplay renders one line per committed turn, oldest first.
func (m *Memory) FormatForDisplay() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]string, len(m.turns))
	for i, t := range m.turns {
		out[i] = digest(t)
	}
	return out
}

// Clear drops every committed turn. An open turn is left alone.
func (m *Memory) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.turns = m.turns[:0:0]
}

func (m *Memory) checkHandle(h Handle) error {
	if h.owner != m || m.open == nil || h.seq != m.open.Sequence {
		return ErrInvalidHandle
	}
	return nil
}

// lastK must be called with the lock held.
func (m *Memory) lastK(k int) []Turn {
	if k <= 0 {
		k = 1
	}
	if k > len(m.turns) {
		k = len(m.turns)
	}
	return m.turns[len(m.turns)-k:]
}

func digest(t Turn) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Turn %d: %s | type: %s", t.Sequence, t.Question, orNone(string(t.QuestionType)))
	if len(t.Entities) > 0 {
		fmt.Fprintf(&sb, " | entities: %s", strings.Join(t.Entities, ", "))
	} else {
		sb.WriteString(" | entities: none")
		if len(t.Filter) > 0 {
			fmt.Fprintf(&sb, " | filter: %s", strings.Join(t.Filter, ", "))
		}
	}
	fmt.Fprintf(&sb, " | result: %s", orNone(t.ExecutionSummary))
	if t.Failed() {
		fmt.Fprintf(&sb, " | failed at %s: %s", t.FailedStage, t.Failure)
	}
	return sb.String()
}

func orNone(s string) string {
	if s == "" {
		return "none"
	}
	return s
}
