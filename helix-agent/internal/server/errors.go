package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/Divas-Gupta30/helix/helix-agent/internal/agent"
	"github.com/Divas-Gupta30/helix/helix-agent/internal/graph"
	"github.com/Divas-Gupta30/helix/helix-agent/internal/memory"
	"github.com/Divas-Gupta30/helix/helix-agent/internal/ports"
)

// statusClientClosedRequest is the nginx convention for a caller that went
// away before the answer was ready.
const statusClientClosedRequest = 499

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Stage   string `json:"stage,omitempty"`
}

type errorResponse struct {
	Error *apiError    `json:"error"`
	Turn  *memory.Turn `json:"turn,omitempty"`
}

// classifyError maps an Answer error to an HTTP status and error code.
func classifyError(err error) (int, string) {
	switch {
	case errors.Is(err, agent.ErrEmptyQuestion):
		return http.StatusBadRequest, "invalid_request"
	case memory.IsStateError(err):
		return http.StatusConflict, "turn_in_progress"
	case errors.Is(err, ports.ErrServiceUnavailable), errors.Is(err, ports.ErrExecutorUnavailable):
		return http.StatusServiceUnavailable, "dependency_unavailable"
	case errors.Is(err, graph.ErrValidationRejected):
		return http.StatusUnprocessableEntity, "query_rejected"
	case errors.Is(err, ports.ErrQuerySyntax):
		return http.StatusUnprocessableEntity, "query_syntax"
	case errors.Is(err, ports.ErrQueryExecution):
		return http.StatusUnprocessableEntity, "query_execution"
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "timeout"
	case errors.Is(err, context.Canceled):
		return statusClientClosedRequest, "cancelled"
	default:
		return http.StatusInternalServerError, "internal"
	}
}

func writeAnswerError(w http.ResponseWriter, err error) {
	status, code := classifyError(err)
	resp := errorResponse{Error: &apiError{Code: code, Message: err.Error()}}

	var wfErr *agent.WorkflowError
	if errors.As(err, &wfErr) {
		resp.Error.Stage = wfErr.Stage
		resp.Error.Message = wfErr.Cause.Error()
		turn := wfErr.Turn
		resp.Turn = &turn
	}
	writeJSON(w, status, resp)
}

func writeError(w http.ResponseWriter, status int, code, message, stage string) {
	writeJSON(w, status, errorResponse{Error: &apiError{Code: code, Message: message, Stage: stage}})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
