package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/haasonsaas/cinebot/internal/agent"
	"github.com/haasonsaas/cinebot/internal/observability"
	"github.com/haasonsaas/cinebot/internal/sessions"
	"github.com/haasonsaas/cinebot/pkg/models"
)

const maxChatBodySize = 64 << 10

type chatRequest struct {
	Message   string `json:"message"`
	SessionID string `json:"session_id,omitempty"`
}

type chatResponse struct {
	Response  string `json:"response"`
	SessionID string `json:"session_id"`
	MessageID string `json:"message_id"`
	Timestamp string `json:"timestamp"`
	Rounds    int    `json:"rounds"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxChatBodySize)
	defer r.Body.Close()

	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(w, http.StatusRequestEntityTooLarge, "Request body too large", s.now())
			return
		}
		writeError(w, http.StatusBadRequest, "Invalid JSON body", s.now())
		return
	}
	if msg := s.validateChat(req); msg != "" {
		writeError(w, http.StatusBadRequest, msg, s.now())
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.config.Server.RequestTimeout)
	defer cancel()

	session, created, err := s.store.GetOrCreate(ctx, strings.TrimSpace(req.SessionID))
	if err != nil {
		s.internalError(w, r, "get session", err)
		return
	}
	if created {
		s.refreshSessionGauge(ctx)
	}
	ctx = observability.AddSessionID(ctx, session.ID)
	logger := observability.LoggerFrom(ctx, s.logger)

	if err := s.locker.Lock(ctx, session.ID); err != nil {
		if errors.Is(err, sessions.ErrLockTimeout) {
			writeError(w, http.StatusConflict, "Session is busy with another message; try again shortly", s.now())
			return
		}
		writeError(w, http.StatusServiceUnavailable, "Request timed out waiting for the session", s.now())
		return
	}
	defer s.locker.Unlock(session.ID)

	// The sweeper may have expired the session while we queued for the lock.
	if _, err := s.store.Get(ctx, session.ID); errors.Is(err, sessions.ErrSessionNotFound) {
		if err := s.store.Create(ctx, &models.Session{ID: session.ID}); err != nil {
			s.internalError(w, r, "recreate session", err)
			return
		}
	}

	history, err := s.store.GetHistory(ctx, session.ID, 0)
	if err != nil {
		s.internalError(w, r, "load history", err)
		return
	}

	var result *agent.TurnResult
	err = s.pool.Do(ctx, func(ctx context.Context) error {
		var runErr error
		result, runErr = s.loop.RunTurn(ctx, history, req.Message)
		return runErr
	})
	if err != nil {
		status, message := turnErrorStatus(err)
		logger.Warn("turn failed", "status", status, "error", err)
		s.metrics.RecordError("agent", turnErrorType(err))
		writeError(w, status, message, s.now())
		return
	}

	// The turn finished; commit it even if the client has gone away.
	if err := s.store.AppendMessages(context.WithoutCancel(ctx), session.ID, result.Appended); err != nil {
		s.internalError(w, r, "commit turn", err)
		return
	}

	final := result.Appended[len(result.Appended)-1]
	logger.Info("turn completed",
		"rounds", result.Rounds,
		"model_calls", result.ModelCalls,
		"tool_calls", result.ToolCalls,
		"input_tokens", result.Usage.InputTokens,
		"output_tokens", result.Usage.OutputTokens,
	)
	writeJSON(w, http.StatusOK, chatResponse{
		Response:  result.Reply,
		SessionID: session.ID,
		MessageID: final.ID,
		Timestamp: formatTime(final.CreatedAt),
		Rounds:    result.Rounds,
	})
}

func (s *Server) validateChat(req chatRequest) string {
	if strings.TrimSpace(req.Message) == "" {
		return "message must not be empty"
	}
	if n := utf8.RuneCountInString(req.Message); n > s.config.Server.MaxMessageLength {
		return fmt.Sprintf("message must be at most %d characters (got %d)", s.config.Server.MaxMessageLength, n)
	}
	if len(req.SessionID) > 128 {
		return "session_id is too long"
	}
	return ""
}

// turnErrorStatus maps a failed turn to an HTTP status and client message.
func turnErrorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, ErrPoolSaturated):
		return http.StatusServiceUnavailable, "Server is busy; try again shortly"
	case agent.IsLoopBoundExceeded(err):
		return http.StatusLoopDetected, "The assistant could not finish within the allowed number of steps"
	case agent.IsModelUnavailable(err):
		return http.StatusBadGateway, "The language model is unavailable; try again shortly"
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "The request timed out"
	case errors.Is(err, context.Canceled):
		return http.StatusServiceUnavailable, "The request was cancelled"
	default:
		return http.StatusInternalServerError, "Failed to process message"
	}
}

func turnErrorType(err error) string {
	switch {
	case errors.Is(err, ErrPoolSaturated):
		return "pool_saturated"
	case agent.IsLoopBoundExceeded(err):
		return "loop_bound_exceeded"
	case agent.IsModelUnavailable(err):
		return "model_unavailable"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	default:
		return "error"
	}
}

func (s *Server) internalError(w http.ResponseWriter, r *http.Request, op string, err error) {
	observability.LoggerFrom(r.Context(), s.logger).Error(op+" failed", "error", err)
	s.metrics.RecordError("session", "store")
	writeError(w, http.StatusInternalServerError, "Internal server error", s.now())
}
