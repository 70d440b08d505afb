package apikey

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedisStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return NewRedisStore(client, WithRedisKeyPrefix("test:")), mr
}

func TestRedisStore_PutAndFind(t *testing.T) {
	t.Parallel()

	store, mr := newTestRedisStore(t)
	ctx := context.Background()

	_, rec := issueTestKey(t, HashArgon2id, nil)
	require.NoError(t, store.Put(ctx, rec))
	assert.True(t, mr.Exists("test:apikey:prefix:"+rec.Prefix))

	got, err := store.FindByPrefix(ctx, rec.Prefix)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, rec.ID, got[0].ID)
	assert.Equal(t, rec.Hash, got[0].Hash)

	empty, err := store.FindByPrefix(ctx, "sak_0000000_")
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestRedisStore_SkipsUndecodableRecords(t *testing.T) {
	t.Parallel()

	store, mr := newTestRedisStore(t)
	ctx := context.Background()

	_, rec := issueTestKey(t, HashArgon2id, nil)
	require.NoError(t, store.Put(ctx, rec))
	mr.HSet("test:apikey:prefix:"+rec.Prefix, "garbage", "{not json")

	got, err := store.FindByPrefix(ctx, rec.Prefix)
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestRedisStore_Revocation(t *testing.T) {
	t.Parallel()

	store, _ := newTestRedisStore(t)
	ctx := context.Background()

	_, rec := issueTestKey(t, HashArgon2id, nil)
	require.NoError(t, store.Put(ctx, rec))

	revoked, err := store.IsRevoked(ctx, rec)
	require.NoError(t, err)
	assert.False(t, revoked)

	require.NoError(t, store.Revoke(ctx, rec.ID))
	revoked, err = store.IsRevoked(ctx, rec)
	require.NoError(t, err)
	assert.True(t, revoked)

	disabled := rec.Clone()
	disabled.ID = "other"
	disabled.Enabled = false
	revoked, err = store.IsRevoked(ctx, disabled)
	require.NoError(t, err)
	assert.True(t, revoked)
}

func TestRedisStore_IsRevokedRereadsRecord(t *testing.T) {
	t.Parallel()

	store, mr := newTestRedisStore(t)
	ctx := context.Background()

	_, rec := issueTestKey(t, HashArgon2id, nil)
	require.NoError(t, store.Put(ctx, rec))
	stale := rec.Clone()

	updated := rec.Clone()
	updated.Enabled = false
	require.NoError(t, store.Put(ctx, updated))

	revoked, err := store.IsRevoked(ctx, stale)
	require.NoError(t, err)
	assert.True(t, revoked)

	mr.HDel("test:apikey:prefix:"+rec.Prefix, rec.ID)
	revoked, err = store.IsRevoked(ctx, rec)
	require.NoError(t, err)
	assert.True(t, revoked)
}

func TestRedisStore_Unavailable(t *testing.T) {
	t.Parallel()

	store, mr := newTestRedisStore(t)
	mr.Close()

	_, err := store.FindByPrefix(context.Background(), "sak_0000000_")
	assert.Error(t, err)
}

func TestOpenRedisStore(t *testing.T) {
	t.Parallel()

	mr := miniredis.RunT(t)
	ctx := context.Background()

	store, err := OpenRedisStore(ctx, &RedisConfig{URL: "redis://" + mr.Addr(), PoolSize: 2})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	assert.Equal(t, defaultRedisKeyPrefix, store.keyPrefix)

	_, err = OpenRedisStore(ctx, &RedisConfig{})
	assert.Error(t, err)

	_, err = OpenRedisStore(ctx, &RedisConfig{URL: "://bad"})
	assert.Error(t, err)
}
