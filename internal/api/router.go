// Package api wires the HTTP surface of the finance chat service.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/alqutdigital/finance-chat/internal/api/handlers"
	"github.com/alqutdigital/finance-chat/internal/api/middleware"
)

// BasePath prefixes every chat route.
const BasePath = "/finance_chat/api"

// RouterConfig holds configuration for the API router.
type RouterConfig struct {
	// CORS settings
	AllowedOrigins   []string
	AllowedMethods   []string
	AllowedHeaders   []string
	ExposedHeaders   []string
	AllowCredentials bool
	MaxAge           int

	// Timeout settings
	RequestTimeout time.Duration

	// Rate limiting
	EnableRateLimiting bool
	RateLimitConfig    middleware.RateLimitConfig

	EnableMetrics bool
	WebSocket     handlers.WSConfig
}

// DefaultRouterConfig returns a default router configuration.
func DefaultRouterConfig() RouterConfig {
	return RouterConfig{
		AllowedMethods:     []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:     []string{"*"},
		ExposedHeaders:     []string{"X-Request-ID", "X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset"},
		AllowCredentials:   false,
		MaxAge:             300,
		RequestTimeout:     2 * time.Minute,
		EnableRateLimiting: true,
		RateLimitConfig:    middleware.DefaultRateLimitConfig(30),
		EnableMetrics:      true,
		WebSocket:          handlers.DefaultWSConfig(),
	}
}

// Dependencies holds all dependencies required by the API handlers.
type Dependencies struct {
	Logger         *slog.Logger
	ChatService    handlers.ChatService
	RateLimitStore middleware.RateLimitStore
	// Checks are probed by /ready. A nil entry is reported as not configured.
	Checks map[string]handlers.HealthChecker
}

// NewRouter creates and configures a new Chi router with all middleware and routes.
func NewRouter(deps Dependencies, config RouterConfig) *chi.Mux {
	r := chi.NewRouter()

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logger(logger))
	r.Use(middleware.Recoverer(logger))
	corsOptions := cors.Options{
		AllowedOrigins:   config.AllowedOrigins,
		AllowedMethods:   config.AllowedMethods,
		AllowedHeaders:   config.AllowedHeaders,
		ExposedHeaders:   config.ExposedHeaders,
		AllowCredentials: config.AllowCredentials,
		MaxAge:           config.MaxAge,
	}
	// cors treats an empty list as "*"; no origins means no cross-origin access.
	if len(config.AllowedOrigins) == 0 {
		corsOptions.AllowOriginFunc = func(*http.Request, string) bool { return false }
	}
	r.Use(cors.Handler(corsOptions))

	var rateLimiter *middleware.RateLimiter
	if config.EnableRateLimiting {
		store := deps.RateLimitStore
		if store == nil {
			store = middleware.NewMemoryRateLimitStore()
		}
		rateLimiter = middleware.NewRateLimiter(store, config.RateLimitConfig, logger)
	}
	limit := func(r chi.Router, limitType string) chi.Router {
		if rateLimiter == nil {
			return r
		}
		return r.With(rateLimiter.Middleware(limitType))
	}

	r.Get("/health", handlers.HealthCheck())
	r.Get("/ready", handlers.ReadyCheck(deps.Checks))
	if config.EnableMetrics {
		r.Handle("/metrics", promhttp.Handler())
	}

	r.Route(BasePath, func(r chi.Router) {
		// The socket is long-lived and must not inherit the request timeout.
		r.Get("/chat/ws", handlers.NewChatSocket(deps.ChatService, config.WebSocket, logger).ServeHTTP)

		r.Group(func(r chi.Router) {
			if config.RequestTimeout > 0 {
				r.Use(chimiddleware.Timeout(config.RequestTimeout))
			}

			r.Get("/", handlers.Root())
			limit(r, middleware.LimitChat).Post("/chat", handlers.HandleChat(deps.ChatService, logger))

			history := limit(r, middleware.LimitHistory)
			history.Get("/chat/history", handlers.GetHistory(deps.ChatService, logger))
			history.Delete("/chat/history", handlers.DeleteHistory(deps.ChatService, logger))
		})
	})

	return r
}

// Server represents the HTTP server.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// ServerConfig holds configuration for the HTTP server.
type ServerConfig struct {
	Host         string
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// DefaultServerConfig returns default server configuration. The write
// timeout covers a full turn, which may include two model calls.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Port:         8000,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 3 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}
}

// NewServer creates a new HTTP server.
func NewServer(handler http.Handler, config ServerConfig, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		httpServer: &http.Server{
			Addr:         formatAddr(config.Host, config.Port),
			Handler:      handler,
			ReadTimeout:  config.ReadTimeout,
			WriteTimeout: config.WriteTimeout,
			IdleTimeout:  config.IdleTimeout,
		},
		logger: logger.With("component", "http_server"),
	}
}

// Start serves until Shutdown is called. http.ErrServerClosed is not an error.
func (s *Server) Start() error {
	s.logger.Info("starting HTTP server", "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")
	return s.httpServer.Shutdown(ctx)
}

// Addr returns the server address.
func (s *Server) Addr() string {
	return s.httpServer.Addr
}

func formatAddr(host string, port int) string {
	if host == "" {
		return fmt.Sprintf(":%d", port)
	}
	return fmt.Sprintf("%s:%d", host, port)
}
