// Package session stores per-session chat history.
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/alqutdigital/finance-chat/internal/chat"
	"github.com/alqutdigital/finance-chat/internal/storage"
	gocache "github.com/patrickmn/go-cache"
)

// Store persists chat history keyed by session ID.
type Store interface {
	// Get returns the history and whether the session exists.
	Get(ctx context.Context, id string) (chat.History, bool, error)

	// Put replaces the session's history, creating the session if needed.
	Put(ctx context.Context, id string, history chat.History) error

	// Clear empties the history but keeps the session.
	Clear(ctx context.Context, id string) error

	// Delete removes the session and reports whether it existed.
	Delete(ctx context.Context, id string) (bool, error)
}

// MemoryStore keeps sessions in process memory.
type MemoryStore struct {
	cache *gocache.Cache
}

// NewMemoryStore creates a MemoryStore. A zero ttl keeps sessions until deleted.
func NewMemoryStore(ttl time.Duration) *MemoryStore {
	if ttl <= 0 {
		return &MemoryStore{cache: gocache.New(gocache.NoExpiration, 0)}
	}
	return &MemoryStore{cache: gocache.New(ttl, ttl)}
}

func (m *MemoryStore) Get(_ context.Context, id string) (chat.History, bool, error) {
	v, ok := m.cache.Get(id)
	if !ok {
		return nil, false, nil
	}
	h := v.(chat.History)
	return append(chat.History{}, h...), true, nil
}

func (m *MemoryStore) Put(_ context.Context, id string, history chat.History) error {
	m.cache.SetDefault(id, append(chat.History{}, history...))
	return nil
}

func (m *MemoryStore) Clear(_ context.Context, id string) error {
	m.cache.SetDefault(id, chat.History{})
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, id string) (bool, error) {
	if _, ok := m.cache.Get(id); !ok {
		return false, nil
	}
	m.cache.Delete(id)
	return true, nil
}

// Len returns the number of live sessions.
func (m *MemoryStore) Len() int {
	return m.cache.ItemCount()
}

// RedisStore keeps sessions as JSON documents in Redis so several server
// replicas can share them.
type RedisStore struct {
	client storage.RedisClient
	prefix string
	ttl    time.Duration
}

// NewRedisStore creates a RedisStore. A zero ttl keeps sessions until deleted.
func NewRedisStore(client storage.RedisClient, prefix string, ttl time.Duration) *RedisStore {
	if prefix == "" {
		prefix = "finchat:session"
	}
	return &RedisStore{client: client, prefix: prefix, ttl: ttl}
}

func (r *RedisStore) key(id string) string {
	return r.prefix + ":" + id
}

func (r *RedisStore) Get(ctx context.Context, id string) (chat.History, bool, error) {
	raw, err := r.client.Get(ctx, r.key(id))
	if err == storage.ErrKeyNotFound {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to load session: %w", err)
	}

	var h chat.History
	if err := json.Unmarshal([]byte(raw), &h); err != nil {
		return nil, false, fmt.Errorf("failed to decode session: %w", err)
	}
	if h == nil {
		h = chat.History{}
	}
	return h, true, nil
}

func (r *RedisStore) Put(ctx context.Context, id string, history chat.History) error {
	if history == nil {
		history = chat.History{}
	}
	data, err := json.Marshal(history)
	if err != nil {
		return fmt.Errorf("failed to encode session: %w", err)
	}
	if err := r.client.Set(ctx, r.key(id), data, r.ttl); err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}
	return nil
}

func (r *RedisStore) Clear(ctx context.Context, id string) error {
	return r.Put(ctx, id, chat.History{})
}

func (r *RedisStore) Delete(ctx context.Context, id string) (bool, error) {
	n, err := r.client.Del(ctx, r.key(id))
	if err != nil {
		return false, fmt.Errorf("failed to delete session: %w", err)
	}
	return n > 0, nil
}
