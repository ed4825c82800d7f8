package api

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alqutdigital/finance-chat/internal/api/middleware"
	"github.com/alqutdigital/finance-chat/internal/chat"
)

type stubChat struct{}

func (stubChat) Handle(_ context.Context, _, question string) (chat.Response, error) {
	meta := chat.NewMetaData()
	meta.RewrittenQuery = question
	return chat.Response{
		Status:      chat.StatusSuccess,
		Source:      chat.SourceSQL,
		Message:     "ok",
		BotResponse: chat.Text("done"),
		Meta:        meta,
	}, nil
}

func (stubChat) History(context.Context, string) (chat.History, bool, error) {
	return chat.History{chat.UserTurn("hi")}, true, nil
}

func (stubChat) DeleteSession(context.Context, string) (bool, error) { return true, nil }

func newTestRouter(cfg RouterConfig) http.Handler {
	return NewRouter(Dependencies{
		Logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
		ChatService: stubChat{},
	}, cfg)
}

func TestRouter_Routes(t *testing.T) {
	h := newTestRouter(DefaultRouterConfig())

	tests := []struct {
		method string
		path   string
		body   string
		status int
	}{
		{http.MethodGet, BasePath + "/", "", http.StatusOK},
		{http.MethodPost, BasePath + "/chat", `{"session_id":"s","question":"q"}`, http.StatusOK},
		{http.MethodGet, BasePath + "/chat/history?session_id=s", "", http.StatusOK},
		{http.MethodDelete, BasePath + "/chat/history", `{"session_id":"s"}`, http.StatusOK},
		{http.MethodGet, "/health", "", http.StatusOK},
		{http.MethodGet, "/ready", "", http.StatusOK},
		{http.MethodGet, "/metrics", "", http.StatusOK},
		{http.MethodGet, BasePath + "/chat", "", http.StatusMethodNotAllowed},
		{http.MethodGet, "/api/v1/chat", "", http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			var body io.Reader
			if tt.body != "" {
				body = strings.NewReader(tt.body)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, httptest.NewRequest(tt.method, tt.path, body))
			assert.Equal(t, tt.status, rec.Code)
		})
	}
}

func TestRouter_ChatIsRateLimited(t *testing.T) {
	cfg := DefaultRouterConfig()
	cfg.RateLimitConfig.ChatRequests = middleware.Limit{Requests: 2, Window: time.Minute}
	h := newTestRouter(cfg)

	codes := make([]int, 0, 3)
	for range 3 {
		req := httptest.NewRequest(http.MethodPost, BasePath+"/chat", strings.NewReader(`{"session_id":"s","question":"q"}`))
		req.RemoteAddr = "10.0.0.1:1234"
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		codes = append(codes, rec.Code)
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)

	// History has its own budget.
	req := httptest.NewRequest(http.MethodGet, BasePath+"/chat/history?session_id=s", nil)
	req.RemoteAddr = "10.0.0.1:1234"
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRouter_CORSPreflight(t *testing.T) {
	cfg := DefaultRouterConfig()
	cfg.AllowedOrigins = []string{"http://localhost:3000"}
	h := newTestRouter(cfg)

	req := httptest.NewRequest(http.MethodOptions, BasePath+"/chat", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, "http://localhost:3000", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestRouter_CORSAllowsCustomRequestHeaders(t *testing.T) {
	cfg := DefaultRouterConfig()
	cfg.AllowedOrigins = []string{"http://localhost:3000"}
	h := newTestRouter(cfg)

	req := httptest.NewRequest(http.MethodOptions, BasePath+"/chat", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	req.Header.Set("Access-Control-Request-Headers", "X-Client-Version")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, "http://localhost:3000", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestRouter_CORSWithoutOriginsDeniesCrossOrigin(t *testing.T) {
	h := newTestRouter(DefaultRouterConfig())

	t.Run("preflight", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodOptions, BasePath+"/chat", nil)
		req.Header.Set("Origin", "https://evil.example")
		req.Header.Set("Access-Control-Request-Method", http.MethodPost)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)

		assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
	})

	t.Run("simple request", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, BasePath+"/", nil)
		req.Header.Set("Origin", "https://evil.example")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
	})
}

func TestFormatAddr(t *testing.T) {
	assert.Equal(t, ":8000", formatAddr("", 8000))
	assert.Equal(t, "127.0.0.1:9000", formatAddr("127.0.0.1", 9000))
}
