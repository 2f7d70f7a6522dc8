package graph

import "fmt"

// Stage is a pipeline state. Stages only move forward; any stage may end in
// StageFailed.
type Stage int

const (
	StageClassify Stage = iota
	StageExtract
	StageGenerate
	StageExecute
	StageFormat
	StageDone
	StageFailed
)

func (s Stage) String() string {
	switch s {
	case StageClassify:
		return "classify"
	case StageExtract:
		return "extract"
	case StageGenerate:
		return "generate"
	case StageExecute:
		return "execute"
	case StageFormat:
		return "format"
	case StageDone:
		return "done"
	case StageFailed:
		return "failed"
	default:
		return fmt.Sprintf("stage(%d)", int(s))
	}
}

// Terminal reports whether no further stage runs after s.
func (s Stage) Terminal() bool {
	return s == StageDone || s == StageFailed
}

// StageError reports which stage stopped the pipeline and why.
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	return e.Stage.String() + ": " + e.Err.Error()
}

func (e *StageError) Unwrap() error {
	return e.Err
}
