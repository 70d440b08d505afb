package apikey

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore_FindByPrefix(t *testing.T) {
	t.Parallel()

	_, a := issueTestKey(t, HashArgon2id, nil)
	_, b := issueTestKey(t, HashArgon2id, nil)
	collider := b.Clone()
	collider.ID = "collider"
	collider.Prefix = a.Prefix

	store, err := NewMemoryStore(a, b, collider)
	require.NoError(t, err)
	assert.Equal(t, 3, store.Count())

	ctx := context.Background()

	got, err := store.FindByPrefix(ctx, a.Prefix)
	require.NoError(t, err)
	assert.Len(t, got, 2)

	got, err = store.FindByPrefix(ctx, "sak_0000000_")
	require.NoError(t, err)
	assert.NotNil(t, got)
	assert.Empty(t, got)

	// Returned records are copies.
	got, err = store.FindByPrefix(ctx, b.Prefix)
	require.NoError(t, err)
	require.Len(t, got, 1)
	got[0].Revoked = true
	revoked, err := store.IsRevoked(ctx, b)
	require.NoError(t, err)
	assert.False(t, revoked)
}

func TestMemoryStore_RevokeAndRemove(t *testing.T) {
	t.Parallel()

	_, rec := issueTestKey(t, HashArgon2id, nil)
	store, err := NewMemoryStore(rec)
	require.NoError(t, err)
	ctx := context.Background()

	prefix, err := store.Revoke(rec.ID)
	require.NoError(t, err)
	assert.Equal(t, rec.Prefix, prefix)

	revoked, err := store.IsRevoked(ctx, rec)
	require.NoError(t, err)
	assert.True(t, revoked)

	require.NoError(t, store.Remove(rec.ID))
	assert.Equal(t, 0, store.Count())
	assert.ErrorIs(t, store.Remove(rec.ID), ErrRecordNotFound)
	_, err = store.Revoke(rec.ID)
	assert.ErrorIs(t, err, ErrRecordNotFound)

	// A record that disappeared after lookup counts as revoked.
	revoked, err = store.IsRevoked(ctx, rec)
	require.NoError(t, err)
	assert.True(t, revoked)
}

func TestMemoryStore_DisabledIsRevoked(t *testing.T) {
	t.Parallel()

	_, rec := issueTestKey(t, HashArgon2id, nil)
	rec.Enabled = false
	store, err := NewMemoryStore(rec)
	require.NoError(t, err)

	revoked, err := store.IsRevoked(context.Background(), rec)
	require.NoError(t, err)
	assert.True(t, revoked)
}

func TestMemoryStore_PutReplacesPrefix(t *testing.T) {
	t.Parallel()

	_, rec := issueTestKey(t, HashArgon2id, nil)
	store, err := NewMemoryStore(rec)
	require.NoError(t, err)

	moved := rec.Clone()
	moved.Prefix = "sak_1234567_"
	require.NoError(t, store.Put(moved))

	ctx := context.Background()
	old, err := store.FindByPrefix(ctx, rec.Prefix)
	require.NoError(t, err)
	assert.Empty(t, old)

	cur, err := store.FindByPrefix(ctx, moved.Prefix)
	require.NoError(t, err)
	assert.Len(t, cur, 1)
}

func TestNewMemoryStore_RejectsInvalidRecord(t *testing.T) {
	t.Parallel()

	_, err := NewMemoryStore(&Record{ID: "x"})
	assert.ErrorIs(t, err, ErrInvalidRecord)
}
