package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/Divas-Gupta30/helix/helix-agent/internal/memory"
)

const maxBodyBytes = 64 << 10

type createSessionResponse struct {
	SessionID string `json:"session_id"`
}

type answerRequest struct {
	Question string `json:"question"`
}

type answerResponse struct {
	SessionID string      `json:"session_id"`
	Answer    string      `json:"answer"`
	Turn      memory.Turn `json:"turn"`
}

type historyResponse struct {
	SessionID string        `json:"session_id"`
	Display   []string      `json:"display"`
	Turns     []memory.Turn `json:"turns"`
}

func (s *Server) handleCreateSession(w http.ResponseWriter, _ *http.Request) {
	id, err := s.createSession()
	if errors.Is(err, ErrTooManySessions) {
		s.logger.Warn("create session", "error", err, "max", s.config.MaxSessions)
		writeError(w, http.StatusTooManyRequests, "too_many_sessions", err.Error(), "")
		return
	}
	if err != nil {
		s.logger.Error("create session", "error", err)
		writeError(w, http.StatusInternalServerError, "internal", "could not create session", "")
		return
	}
	s.logger.Info("session created", "session", id)
	writeJSON(w, http.StatusCreated, createSessionResponse{SessionID: id})
}

func (s *Server) handleAnswer(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	engine, ok := s.session(id)
	if !ok {
		writeError(w, http.StatusNotFound, "session_not_found", "unknown session "+id, "")
		return
	}

	var req answerRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "Parse error", "")
		return
	}

	res, err := engine.Answer(r.Context(), req.Question)
	if err != nil {
		writeAnswerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, answerResponse{SessionID: id, Answer: res.Answer, Turn: res.Turn})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	engine, ok := s.session(id)
	if !ok {
		writeError(w, http.StatusNotFound, "session_not_found", "unknown session "+id, "")
		return
	}

	mem := engine.Memory()
	writeJSON(w, http.StatusOK, historyResponse{
		SessionID: id,
		Display:   mem.FormatForDisplay(),
		Turns:     mem.Turns(),
	})
}

func (s *Server) handleArchive(w http.ResponseWriter, r *http.Request) {
	if s.archive == nil {
		writeError(w, http.StatusNotFound, "archive_disabled", "turn archive is not configured", "")
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "invalid_request", "limit must be a positive integer", "")
			return
		}
		limit = n
	}

	id := mux.Vars(r)["id"]
	turns, err := s.archive.Recent(r.Context(), id, limit)
	if err != nil {
		s.logger.Error("read archive", "session", id, "error", err)
		writeError(w, http.StatusServiceUnavailable, "dependency_unavailable", "archive unavailable", "")
		return
	}
	if turns == nil {
		turns = []memory.Turn{}
	}
	writeJSON(w, http.StatusOK, historyResponse{SessionID: id, Display: []string{}, Turns: turns})
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if !s.deleteSession(id) {
		writeError(w, http.StatusNotFound, "session_not_found", "unknown session "+id, "")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	status := "healthy"
	code := http.StatusOK
	checks := make(map[string]string, len(s.checks))
	for name, check := range s.checks {
		if err := check(ctx); err != nil {
			checks[name] = "disconnected"
			status = "degraded"
			code = http.StatusServiceUnavailable
			continue
		}
		checks[name] = "connected"
	}

	sessions := s.sessionCount()

	writeJSON(w, code, map[string]any{
		"status":   status,
		"checks":   checks,
		"sessions": sessions,
	})
}
