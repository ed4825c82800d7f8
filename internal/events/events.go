package events

import (
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
)

// TurnEvent is published after every answered chat turn.
type TurnEvent struct {
	EventID        string    `json:"event_id"`
	SessionID      string    `json:"session_id"`
	Question       string    `json:"question"`
	RewrittenQuery string    `json:"rewritten_query,omitempty"`
	Source         string    `json:"source"`
	Status         string    `json:"status"`
	Message        string    `json:"message"`
	SQLQuery       string    `json:"sql_query,omitempty"`
	DurationMS     int64     `json:"duration_ms"`
	AnsweredAt     time.Time `json:"answered_at"`
}

// NewTurnEvent creates a TurnEvent with a generated ID.
func NewTurnEvent(sessionID, question, source, status string) TurnEvent {
	return TurnEvent{
		EventID:    uuid.New().String(),
		SessionID:  sessionID,
		Question:   question,
		Source:     source,
		Status:     status,
		AnsweredAt: time.Now().UTC(),
	}
}

// Subject returns the subject the event is published on.
func (e TurnEvent) Subject() string {
	source := strings.ToLower(strings.TrimSpace(e.Source))
	if source == "" {
		source = "unknown"
	}
	return SubjectTurnPrefix + source
}

// Validate checks if the event has required fields.
func (e TurnEvent) Validate() error {
	if e.EventID == "" {
		return errors.New("event_id is required")
	}
	if e.SessionID == "" {
		return errors.New("session_id is required")
	}
	return nil
}
