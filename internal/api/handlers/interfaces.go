// Package handlers provides HTTP request handlers for the API.
package handlers

import (
	"context"

	"github.com/alqutdigital/finance-chat/internal/chat"
)

// ChatService answers questions and manages session history.
type ChatService interface {
	// Handle answers one question. Strategy failures are reported in the
	// response; an error means the turn could not be served at all.
	Handle(ctx context.Context, sessionID, question string) (chat.Response, error)

	// History returns the session's turns and whether the session exists.
	History(ctx context.Context, sessionID string) (chat.History, bool, error)

	// DeleteSession removes a session and reports whether it existed.
	DeleteSession(ctx context.Context, sessionID string) (bool, error)
}

// HealthChecker defines an interface for components that can report health.
type HealthChecker interface {
	Health(ctx context.Context) error
}
