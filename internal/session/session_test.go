package session

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alqutdigital/finance-chat/internal/chat"
	"github.com/alqutdigital/finance-chat/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memRedis struct {
	mu   sync.Mutex
	data map[string]string
}

func (m *memRedis) Get(_ context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	if !ok {
		return "", storage.ErrKeyNotFound
	}
	return v, nil
}

func (m *memRedis) Set(_ context.Context, key string, value any, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = string(value.([]byte))
	return nil
}

func (m *memRedis) Del(_ context.Context, keys ...string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, k := range keys {
		if _, ok := m.data[k]; ok {
			delete(m.data, k)
			n++
		}
	}
	return n, nil
}

func (m *memRedis) Exists(_ context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.data[key]
	return ok, nil
}

func (m *memRedis) Keys(_ context.Context, pattern string) ([]string, error) {
	var out []string
	for k := range m.data {
		if strings.HasPrefix(k, strings.TrimSuffix(pattern, "*")) {
			out = append(out, k)
		}
	}
	return out, nil
}

func (m *memRedis) Ping(context.Context) error { return nil }
func (m *memRedis) Close() error               { return nil }

func TestStores(t *testing.T) {
	stores := map[string]Store{
		"memory": NewMemoryStore(0),
		"redis":  NewRedisStore(&memRedis{data: map[string]string{}}, "", 0),
	}

	for name, store := range stores {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			_, ok, err := store.Get(ctx, "s1")
			require.NoError(t, err)
			assert.False(t, ok)

			hist := chat.History{chat.UserTurn("how many invoices?"), chat.UserTurn("and unpaid?")}
			require.NoError(t, store.Put(ctx, "s1", hist))

			got, ok, err := store.Get(ctx, "s1")
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, hist, got)

			require.NoError(t, store.Clear(ctx, "s1"))
			got, ok, err = store.Get(ctx, "s1")
			require.NoError(t, err)
			assert.True(t, ok)
			assert.Empty(t, got)

			deleted, err := store.Delete(ctx, "s1")
			require.NoError(t, err)
			assert.True(t, deleted)

			deleted, err = store.Delete(ctx, "s1")
			require.NoError(t, err)
			assert.False(t, deleted)

			_, ok, err = store.Get(ctx, "s1")
			require.NoError(t, err)
			assert.False(t, ok)
		})
	}
}

func TestMemoryStore_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(time.Minute)

	hist := chat.History{chat.UserTurn("q1")}
	require.NoError(t, store.Put(ctx, "s", hist))
	hist[0] = chat.UserTurn("mutated")

	got, _, err := store.Get(ctx, "s")
	require.NoError(t, err)
	assert.Equal(t, "q1", got[0].Text)

	got[0] = chat.UserTurn("mutated again")
	again, _, _ := store.Get(ctx, "s")
	assert.Equal(t, "q1", again[0].Text)
	assert.Equal(t, 1, store.Len())
}
