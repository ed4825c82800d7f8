package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"
)

// ChatErrorMessage is the error text of a turn that failed outside the strategies.
const ChatErrorMessage = "Internal error processing chat"

// ChatRequest is the body of POST /chat.
type ChatRequest struct {
	SessionID string `json:"session_id" validate:"required,max=128"`
	// Question may be empty; the SQL path reports that case itself.
	Question string `json:"question" validate:"max=4000"`
}

// HandleChat answers a question within a session.
// POST /finance_chat/api/chat
//
// Request body:
//
//	{"session_id": "abc", "question": "total number of purchase orders?"}
//
// The response is always the chat envelope, including for strategy failures.
func HandleChat(svc ChatService, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req ChatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			logger.Warn("failed to decode chat request", "error", err)
			RespondBadRequest(w, "Invalid request body")
			return
		}
		if errs := validateRequest(req); len(errs) > 0 {
			RespondValidationError(w, errs)
			return
		}

		resp, err := svc.Handle(r.Context(), req.SessionID, req.Question)
		if err != nil {
			logger.Error("failed to process chat message", "error", err, "session_id", req.SessionID)
			RespondJSON(w, http.StatusInternalServerError, ChatErrorResponse{
				Error:   ChatErrorMessage,
				Details: err.Error(),
			})
			return
		}

		RespondJSON(w, http.StatusOK, resp)
	}
}
