//go:build integration

package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alqutdigital/finance-chat/internal/chat"
	"github.com/alqutdigital/finance-chat/internal/storage"
	"github.com/alqutdigital/finance-chat/internal/testenv"
)

func TestRedisStore_Integration(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	env := testenv.New(testenv.DefaultConfig(), nil)
	t.Cleanup(func() { _ = env.Cleanup(context.Background()) })
	require.NoError(t, env.StartRedis(ctx))

	client, err := storage.NewRedisClient(ctx, storage.RedisConfig{Addr: env.RedisAddr})
	require.NoError(t, err)
	defer client.Close()

	store := NewRedisStore(client, "", time.Minute)

	_, ok, err := store.Get(ctx, "s1")
	require.NoError(t, err)
	assert.False(t, ok)

	h := chat.History{chat.UserTurn("total invoices?"), chat.BotTurn("[{\"count\":42}]")}
	require.NoError(t, store.Put(ctx, "s1", h))

	got, ok, err := store.Get(ctx, "s1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, h, got)

	require.NoError(t, store.Clear(ctx, "s1"))
	got, ok, err = store.Get(ctx, "s1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Empty(t, got)

	existed, err := store.Delete(ctx, "s1")
	require.NoError(t, err)
	assert.True(t, existed)

	existed, err = store.Delete(ctx, "s1")
	require.NoError(t, err)
	assert.False(t, existed)
}
