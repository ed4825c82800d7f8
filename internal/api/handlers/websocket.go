package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/alqutdigital/finance-chat/internal/chat"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Maximum message size allowed from peer.
	maxMessageSize = 8192

	// Rate limit: max questions per second per connection.
	maxQuestionsPerSecond = 2
)

// WSConfig holds chat socket configuration.
type WSConfig struct {
	// AllowedOrigins lists browser origins that may connect from another
	// host. Empty allows same-origin and non-browser clients only; "*" allows all.
	AllowedOrigins       []string
	MaxMessagesPerSecond int
	// TurnTimeout bounds a single answered question.
	TurnTimeout time.Duration
	// PongWait is how long the peer may stay silent while idle. Pings go
	// out at nine tenths of it.
	PongWait time.Duration
}

// DefaultWSConfig returns sensible defaults.
func DefaultWSConfig() WSConfig {
	return WSConfig{
		MaxMessagesPerSecond: maxQuestionsPerSecond,
		TurnTimeout:          2 * time.Minute,
		PongWait:             pongWait,
	}
}

// WSRequest is a question frame sent by the client.
type WSRequest struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id,omitempty"`
	Question  string `json:"question"`
}

// WSReply is a frame sent to the client.
type WSReply struct {
	Type      string         `json:"type"`
	SessionID string         `json:"session_id"`
	Response  *chat.Response `json:"response,omitempty"`
	Error     string         `json:"error,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// WebSocket frame types.
const (
	WSTypeQuestion = "question"
	WSTypePing     = "ping"
	WSTypePong     = "pong"
	WSTypeAnswer   = "answer"
	WSTypeError    = "error"
)

// ChatSocket serves the chat endpoint over a WebSocket. Each connection is
// bound to one session; questions on a connection are answered in order.
type ChatSocket struct {
	svc      ChatService
	cfg      WSConfig
	logger   *slog.Logger
	upgrader websocket.Upgrader
}

// NewChatSocket creates a ChatSocket.
func NewChatSocket(svc ChatService, cfg WSConfig, logger *slog.Logger) *ChatSocket {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxMessagesPerSecond <= 0 {
		cfg.MaxMessagesPerSecond = maxQuestionsPerSecond
	}
	if cfg.PongWait <= 0 {
		cfg.PongWait = pongWait
	}
	origins := cfg.AllowedOrigins
	return &ChatSocket{
		svc:    svc,
		cfg:    cfg,
		logger: logger.With("component", "chat_socket"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				return originAllowed(r, origins)
			},
		},
	}
}

// originAllowed accepts requests without an Origin header, same-host
// origins and the configured list.
func originAllowed(r *http.Request, origins []string) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	if u, err := url.Parse(origin); err == nil && strings.EqualFold(u.Host, r.Host) {
		return true
	}
	for _, allowed := range origins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}

// ServeHTTP upgrades the request. The session comes from ?session_id, or a
// fresh one is generated and announced in every reply.
func (s *ChatSocket) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	sessionID := strings.TrimSpace(r.URL.Query().Get("session_id"))
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	c := &socketConn{
		socket:    s,
		conn:      conn,
		sessionID: sessionID,
		done:      make(chan struct{}),
	}
	s.logger.Info("websocket connected", "session_id", sessionID, "remote", r.RemoteAddr)

	// The request context ends when the handler returns, so turns use their own.
	ctx, cancel := context.WithCancel(context.Background())
	go c.pingLoop()
	c.readLoop(ctx)
	cancel()
}

type socketConn struct {
	socket    *ChatSocket
	conn      *websocket.Conn
	sessionID string

	writeMu     sync.Mutex
	windowStart time.Time
	windowCount int

	done      chan struct{}
	closeOnce sync.Once
}

func (c *socketConn) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.conn.Close()
		c.socket.logger.Info("websocket disconnected", "session_id", c.sessionID)
	})
}

func (c *socketConn) readLoop(ctx context.Context) {
	defer c.close()

	c.conn.SetReadLimit(maxMessageSize)
	wait := c.socket.cfg.PongWait
	_ = c.conn.SetReadDeadline(time.Now().Add(wait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(wait))
	})

	for {
		var req WSRequest
		if err := c.conn.ReadJSON(&req); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.socket.logger.Warn("websocket read failed", "error", err, "session_id", c.sessionID)
			}
			return
		}

		switch req.Type {
		case WSTypePing:
			c.reply(WSReply{Type: WSTypePong})
		case WSTypeQuestion, "":
			if !c.allow() {
				c.reply(WSReply{Type: WSTypeError, Error: "Rate limit exceeded"})
				continue
			}
			c.answer(ctx, req)
			// Pongs queued during a long turn are only read now.
			_ = c.conn.SetReadDeadline(time.Now().Add(wait))
		default:
			c.reply(WSReply{Type: WSTypeError, Error: "unknown message type: " + req.Type})
		}
	}
}

func (c *socketConn) answer(ctx context.Context, req WSRequest) {
	if req.SessionID != "" && req.SessionID != c.sessionID {
		c.reply(WSReply{Type: WSTypeError, Error: "session_id does not match this connection"})
		return
	}
	if len(req.Question) > 4000 {
		c.reply(WSReply{Type: WSTypeError, Error: "question must be at most 4000 characters"})
		return
	}

	if t := c.socket.cfg.TurnTimeout; t > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t)
		defer cancel()
	}

	resp, err := c.socket.svc.Handle(ctx, c.sessionID, req.Question)
	if err != nil {
		c.socket.logger.Error("failed to process chat message", "error", err, "session_id", c.sessionID)
		c.reply(WSReply{Type: WSTypeError, Error: ChatErrorMessage + ": " + err.Error()})
		return
	}
	c.reply(WSReply{Type: WSTypeAnswer, Response: &resp})
}

// allow applies a fixed one-second window per connection.
func (c *socketConn) allow() bool {
	now := time.Now()
	if now.Sub(c.windowStart) >= time.Second {
		c.windowStart = now
		c.windowCount = 0
	}
	c.windowCount++
	return c.windowCount <= c.socket.cfg.MaxMessagesPerSecond
}

func (c *socketConn) reply(msg WSReply) {
	msg.SessionID = c.sessionID
	msg.Timestamp = time.Now().UTC()

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.conn.WriteJSON(msg); err != nil {
		c.socket.logger.Warn("websocket write failed", "error", err, "session_id", c.sessionID)
	}
}

func (c *socketConn) pingLoop() {
	ticker := time.NewTicker(c.socket.cfg.PongWait * 9 / 10)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.writeMu.Lock()
			err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
			c.writeMu.Unlock()
			if err != nil {
				c.close()
				return
			}
		}
	}
}
