package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/alqutdigital/finance-chat/internal/chat"
)

// History endpoint messages.
const (
	MessageMissingSessionID = "Please include session_id in the body"
	MessageSessionNotFound  = "Session not found"
	MessageSessionMissing   = "session doesn't exist"
)

// HistoryRequest is the body of the history endpoints.
type HistoryRequest struct {
	SessionID string `json:"session_id"`
}

// HistoryResponse lists a session's turns.
type HistoryResponse struct {
	SessionID string       `json:"session_id,omitempty"`
	Message   string       `json:"message,omitempty"`
	History   chat.History `json:"history"`
}

// sessionIDFrom reads session_id from the JSON body, falling back to the
// query string since some clients cannot send a body with GET or DELETE.
func sessionIDFrom(r *http.Request) (string, error) {
	var req HistoryRequest
	if r.Body != nil {
		err := json.NewDecoder(r.Body).Decode(&req)
		if err != nil && !errors.Is(err, io.EOF) {
			return "", fmt.Errorf("invalid request body: %w", err)
		}
	}
	if id := strings.TrimSpace(req.SessionID); id != "" {
		return id, nil
	}
	return strings.TrimSpace(r.URL.Query().Get("session_id")), nil
}

// GetHistory returns a session's turns.
// GET /finance_chat/api/chat/history
func GetHistory(svc ChatService, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := sessionIDFrom(r)
		if err != nil {
			RespondBadRequest(w, "Invalid request body")
			return
		}
		if id == "" {
			RespondJSON(w, http.StatusBadRequest, MessageResponse{Message: MessageMissingSessionID})
			return
		}

		history, ok, err := svc.History(r.Context(), id)
		if err != nil {
			logger.Error("failed to load history", "error", err, "session_id", id)
			RespondJSON(w, http.StatusInternalServerError, ChatErrorResponse{Error: "Internal error loading history", Details: err.Error()})
			return
		}
		if !ok {
			RespondJSON(w, http.StatusOK, HistoryResponse{Message: MessageSessionNotFound, History: chat.History{}})
			return
		}
		if history == nil {
			history = chat.History{}
		}
		RespondJSON(w, http.StatusOK, HistoryResponse{SessionID: id, History: history})
	}
}

// DeleteHistory removes a session.
// DELETE /finance_chat/api/chat/history
func DeleteHistory(svc ChatService, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := sessionIDFrom(r)
		if err != nil {
			RespondBadRequest(w, "Invalid request body")
			return
		}
		if id == "" {
			RespondJSON(w, http.StatusOK, MessageResponse{Message: MessageMissingSessionID})
			return
		}

		existed, err := svc.DeleteSession(r.Context(), id)
		if err != nil {
			logger.Error("failed to delete session", "error", err, "session_id", id)
			RespondJSON(w, http.StatusInternalServerError, ChatErrorResponse{Error: "Internal error deleting session", Details: err.Error()})
			return
		}
		if !existed {
			RespondJSON(w, http.StatusOK, MessageResponse{Message: MessageSessionMissing})
			return
		}

		logger.Info("session deleted", "session_id", id)
		RespondJSON(w, http.StatusOK, MessageResponse{Message: fmt.Sprintf("session with id %s deleted successfully", id)})
	}
}
