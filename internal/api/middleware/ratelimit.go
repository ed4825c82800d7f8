package middleware

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/alqutdigital/finance-chat/internal/metrics"
)

// Limit names.
const (
	LimitChat    = "chat"
	LimitHistory = "history"
)

// RateLimitConfig holds configuration for rate limiting.
type RateLimitConfig struct {
	ChatRequests        Limit
	HistoryRequests     Limit
	Default             Limit
	GracefulDegradation bool // Continue without rate limiting if the store is unavailable
}

// Limit defines rate limit parameters.
type Limit struct {
	Requests int
	Window   time.Duration
}

// DefaultRateLimitConfig returns the default limits. chatPerMinute <= 0 keeps 30.
func DefaultRateLimitConfig(chatPerMinute int) RateLimitConfig {
	if chatPerMinute <= 0 {
		chatPerMinute = 30
	}
	return RateLimitConfig{
		ChatRequests:        Limit{Requests: chatPerMinute, Window: time.Minute},
		HistoryRequests:     Limit{Requests: 60, Window: time.Minute},
		Default:             Limit{Requests: 100, Window: time.Minute},
		GracefulDegradation: true,
	}
}

// RateLimitStore counts requests per key within a window.
type RateLimitStore interface {
	// Increment increments the counter for a key and returns the new count.
	// A new key expires after window.
	Increment(ctx context.Context, key string, window time.Duration) (int64, error)
	IsHealthy() bool
}

// MemoryRateLimitStore keeps counters in process memory. Suitable for a single instance.
type MemoryRateLimitStore struct {
	counters *gocache.Cache
}

// NewMemoryRateLimitStore creates an in-memory store. Expired counters are purged every 5 minutes.
func NewMemoryRateLimitStore() *MemoryRateLimitStore {
	return &MemoryRateLimitStore{counters: gocache.New(time.Minute, 5*time.Minute)}
}

func (s *MemoryRateLimitStore) Increment(_ context.Context, key string, window time.Duration) (int64, error) {
	// Add only succeeds for a missing or expired key, which starts a new window.
	if err := s.counters.Add(key, int64(1), window); err == nil {
		return 1, nil
	}
	n, err := s.counters.IncrementInt64(key, 1)
	if err != nil {
		// The key expired between Add and Increment.
		s.counters.Set(key, int64(1), window)
		return 1, nil
	}
	return n, nil
}

func (s *MemoryRateLimitStore) IsHealthy() bool { return true }

// RedisCounter is the subset of Redis used for shared counters.
type RedisCounter interface {
	Incr(ctx context.Context, key string) (int64, error)
	Expire(ctx context.Context, key string, expiration time.Duration) error
	Ping(ctx context.Context) error
}

// RedisRateLimitStore shares counters across instances.
type RedisRateLimitStore struct {
	client  RedisCounter
	prefix  string
	healthy bool
	logger  *slog.Logger
}

// NewRedisRateLimitStore creates a Redis-backed store and checks the connection once.
func NewRedisRateLimitStore(client RedisCounter, prefix string, logger *slog.Logger) *RedisRateLimitStore {
	if logger == nil {
		logger = slog.Default()
	}
	store := &RedisRateLimitStore{
		client:  client,
		prefix:  prefix,
		healthy: client != nil,
		logger:  logger,
	}

	if client != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := client.Ping(ctx); err != nil {
			store.logger.Warn("Redis connection failed for rate limiting", "error", err)
			store.healthy = false
		}
	}
	return store
}

func (s *RedisRateLimitStore) Increment(ctx context.Context, key string, window time.Duration) (int64, error) {
	if !s.IsHealthy() {
		return 0, fmt.Errorf("redis not available")
	}

	fullKey := s.prefix + ":" + key
	count, err := s.client.Incr(ctx, fullKey)
	if err != nil {
		return 0, fmt.Errorf("failed to increment rate limit counter: %w", err)
	}
	if count == 1 {
		if err := s.client.Expire(ctx, fullKey, window); err != nil {
			s.logger.Warn("failed to set rate limit expiration", "key", fullKey, "error", err)
		}
	}
	return count, nil
}

func (s *RedisRateLimitStore) IsHealthy() bool {
	return s.healthy && s.client != nil
}

// RateLimiter provides per-client fixed-window rate limiting.
type RateLimiter struct {
	store  RateLimitStore
	config RateLimitConfig
	logger *slog.Logger
}

// NewRateLimiter creates a new RateLimiter instance.
func NewRateLimiter(store RateLimitStore, config RateLimitConfig, logger *slog.Logger) *RateLimiter {
	if logger == nil {
		logger = slog.Default()
	}
	return &RateLimiter{
		store:  store,
		config: config,
		logger: logger.With("component", "rate_limiter"),
	}
}

// Middleware limits requests of the named limit type.
func (rl *RateLimiter) Middleware(limitType string) func(next http.Handler) http.Handler {
	limit := rl.getLimit(limitType)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			clientID := clientIP(r)
			key := limitType + ":" + clientID

			if !rl.store.IsHealthy() {
				if rl.config.GracefulDegradation {
					next.ServeHTTP(w, r)
					return
				}
				writeJSONError(w, http.StatusServiceUnavailable, "Service temporarily unavailable")
				return
			}

			count, err := rl.store.Increment(r.Context(), key, limit.Window)
			if err != nil {
				rl.logger.Error("rate limit check failed", "error", err, "key", key)
				if rl.config.GracefulDegradation {
					next.ServeHTTP(w, r)
					return
				}
				writeJSONError(w, http.StatusServiceUnavailable, "Service temporarily unavailable")
				return
			}

			remaining := max(limit.Requests-int(count), 0)
			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(limit.Requests))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
			w.Header().Set("X-RateLimit-Reset", strconv.Itoa(int(limit.Window.Seconds())))

			if count > int64(limit.Requests) {
				metrics.RecordRateLimited(limitType)
				rl.logger.Warn("rate limit exceeded",
					"client_id", clientID,
					"limit_type", limitType,
					"count", count,
					"limit", limit.Requests,
				)
				w.Header().Set("Retry-After", strconv.Itoa(int(limit.Window.Seconds())))
				writeJSONError(w, http.StatusTooManyRequests, "Rate limit exceeded. Please try again later.")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func (rl *RateLimiter) getLimit(limitType string) Limit {
	switch limitType {
	case LimitChat:
		return rl.config.ChatRequests
	case LimitHistory:
		return rl.config.HistoryRequests
	default:
		return rl.config.Default
	}
}

// clientIP prefers proxy headers, falling back to the remote address.
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return strings.TrimSpace(xri)
	}
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}
