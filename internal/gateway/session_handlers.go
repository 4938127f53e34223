package gateway

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/haasonsaas/cinebot/internal/sessions"
	"github.com/haasonsaas/cinebot/pkg/models"
)

type sessionInfo struct {
	SessionID    string `json:"session_id"`
	CreatedAt    string `json:"created_at"`
	LastActivity string `json:"last_activity"`
	MessageCount int    `json:"message_count"`
}

type messageView struct {
	ID          string              `json:"id"`
	Role        models.Role         `json:"role"`
	Content     string              `json:"content"`
	Timestamp   string              `json:"timestamp"`
	ToolCalls   []models.ToolCall   `json:"tool_calls,omitempty"`
	ToolResults []models.ToolResult `json:"tool_results,omitempty"`
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	summaries, err := s.store.List(r.Context(), sessions.ListOptions{})
	if err != nil {
		s.internalError(w, r, "list sessions", err)
		return
	}
	out := make([]sessionInfo, 0, len(summaries))
	for _, summary := range summaries {
		out = append(out, sessionInfo{
			SessionID:    summary.Session.ID,
			CreatedAt:    formatTime(summary.Session.CreatedAt),
			LastActivity: formatTime(summary.Session.UpdatedAt),
			MessageCount: summary.MessageCount,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

// handleSessionMessages returns the visible conversation: user messages and
// final assistant replies. include_tools=true adds tool calls and results.
func (s *Server) handleSessionMessages(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("session_id")
	includeTools := false
	if raw := r.URL.Query().Get("include_tools"); raw != "" {
		parsed, err := strconv.ParseBool(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "include_tools must be a boolean", s.now())
			return
		}
		includeTools = parsed
	}

	history, err := s.store.GetHistory(r.Context(), id, 0)
	if err != nil {
		if errors.Is(err, sessions.ErrSessionNotFound) {
			s.sessionNotFound(w, id)
			return
		}
		s.internalError(w, r, "get history", err)
		return
	}

	out := make([]messageView, 0, len(history))
	for i := range history {
		msg := &history[i]
		if !includeTools && msg.Role != models.RoleUser && !msg.IsTerminal() {
			continue
		}
		view := messageView{
			ID:        msg.ID,
			Role:      msg.Role,
			Content:   msg.Content,
			Timestamp: formatTime(msg.CreatedAt),
		}
		if includeTools {
			view.ToolCalls = msg.ToolCalls
			view.ToolResults = msg.ToolResults
		}
		out = append(out, view)
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("session_id")
	if !s.lockSession(w, r, id) {
		return
	}
	defer s.locker.Unlock(id)
	if err := s.store.Delete(r.Context(), id); err != nil {
		if errors.Is(err, sessions.ErrSessionNotFound) {
			s.sessionNotFound(w, id)
			return
		}
		s.internalError(w, r, "delete session", err)
		return
	}
	s.refreshSessionGauge(r.Context())
	writeJSON(w, http.StatusOK, messageResponse{Message: fmt.Sprintf("Session %s deleted successfully", id)})
}

func (s *Server) handleClearSessions(w http.ResponseWriter, r *http.Request) {
	removed, busy, err := sessions.Clear(r.Context(), s.store, s.locker)
	if err != nil {
		s.internalError(w, r, "clear sessions", err)
		return
	}
	s.refreshSessionGauge(r.Context())
	resp := map[string]any{
		"message": "All sessions cleared",
		"deleted": removed,
	}
	if busy > 0 {
		resp["message"] = "Idle sessions cleared; sessions with a message in progress were kept"
		resp["skipped"] = busy
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleResetSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("session_id")
	if !s.lockSession(w, r, id) {
		return
	}
	defer s.locker.Unlock(id)
	if err := s.store.ResetHistory(r.Context(), id); err != nil {
		if errors.Is(err, sessions.ErrSessionNotFound) {
			s.sessionNotFound(w, id)
			return
		}
		s.internalError(w, r, "reset session", err)
		return
	}
	writeJSON(w, http.StatusOK, messageResponse{Message: fmt.Sprintf("Session %s reset successfully", id)})
}

// lockSession waits for an in-flight turn on id to finish. It writes the
// error response and returns false when the session stays busy.
func (s *Server) lockSession(w http.ResponseWriter, r *http.Request, id string) bool {
	err := s.locker.Lock(r.Context(), id)
	switch {
	case err == nil:
		return true
	case errors.Is(err, sessions.ErrLockTimeout):
		writeError(w, http.StatusConflict, fmt.Sprintf("Session %s is busy with another message; try again shortly", id), s.now())
	default:
		writeError(w, http.StatusServiceUnavailable, "Request timed out waiting for the session", s.now())
	}
	return false
}

func (s *Server) sessionNotFound(w http.ResponseWriter, id string) {
	writeError(w, http.StatusNotFound, fmt.Sprintf("Session %s not found", id), s.now())
}
