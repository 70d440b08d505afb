package apikey

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingHasher struct {
	Hasher
	n atomic.Int32
}

func (h *countingHasher) Hash(secret string, salt []byte) ([]byte, error) {
	h.n.Add(1)
	return h.Hasher.Hash(secret, salt)
}

func newCountingHashers() (Hashers, *countingHasher, *countingHasher) {
	base := testHashers()
	a := &countingHasher{Hasher: base[HashArgon2id]}
	s := &countingHasher{Hasher: base[HashScrypt]}
	return NewHashers(a, s), a, s
}

func newTestVerifier(t *testing.T, store Store, opts ...VerifierOption) Verifier {
	t.Helper()

	v, err := NewVerifier(store, append([]VerifierOption{WithHashers(testHashers())}, opts...)...)
	require.NoError(t, err)
	return v
}

func TestVerifier_Valid(t *testing.T) {
	t.Parallel()

	rawA, recA := issueTestKey(t, HashArgon2id, nil)
	rawS, recS := issueTestKey(t, HashScrypt, func(r *IssueRequest) { r.Owner = "team-s" })
	store, err := NewMemoryStore(recA, recS)
	require.NoError(t, err)

	v := newTestVerifier(t, store)

	info, err := v.Verify(context.Background(), rawA)
	require.NoError(t, err)
	assert.Equal(t, recA.ID, info.ID)
	assert.Equal(t, "team-a", info.Owner)
	assert.Equal(t, []string{"read"}, info.Scopes)

	info, err = v.Verify(context.Background(), rawS)
	require.NoError(t, err)
	assert.Equal(t, recS.ID, info.ID)
	assert.Equal(t, HashScrypt, info.Algorithm)
}

func TestVerifier_Rejections(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)

	rawOK, recOK := issueTestKey(t, HashArgon2id, nil)
	rawRevoked, recRevoked := issueTestKey(t, HashArgon2id, nil)
	recRevoked.Revoked = true
	rawDisabled, recDisabled := issueTestKey(t, HashArgon2id, nil)
	recDisabled.Enabled = false
	rawExpired, recExpired := issueTestKey(t, HashArgon2id, func(r *IssueRequest) { r.ExpiresAt = timePtr(now) })
	rawUnstored, _ := issueTestKey(t, HashArgon2id, nil)

	store, err := NewMemoryStore(recOK, recRevoked, recDisabled, recExpired)
	require.NoError(t, err)
	v := newTestVerifier(t, store, WithVerifierClock(func() time.Time { return now }))

	tests := []struct {
		name    string
		raw     string
		wantErr error
	}{
		{name: "valid", raw: rawOK},
		{name: "empty", raw: "", wantErr: ErrEmptyKey},
		{name: "not an api key", raw: "Bearer abc", wantErr: ErrMalformedKey},
		{name: "bad checksum", raw: rawOK[:4] + "0000000" + rawOK[11:], wantErr: ErrMalformedKey},
		{name: "unknown key", raw: rawUnstored, wantErr: ErrInvalidKey},
		{name: "revoked", raw: rawRevoked, wantErr: ErrKeyRevoked},
		{name: "disabled", raw: rawDisabled, wantErr: ErrKeyRevoked},
		{name: "expired at boundary", raw: rawExpired, wantErr: ErrKeyExpired},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			info, err := v.Verify(context.Background(), tt.raw)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Nil(t, info)
				return
			}
			require.NoError(t, err)
			assert.NotNil(t, info)
		})
	}
}

func TestVerifier_MalformedSkipsStore(t *testing.T) {
	t.Parallel()

	stub := &stubStore{}
	v := newTestVerifier(t, stub)

	_, err := v.Verify(context.Background(), "sak_nope")
	assert.ErrorIs(t, err, ErrMalformedKey)
	assert.Equal(t, int32(0), stub.calls.Load())
}

func TestVerifier_EvaluatesEveryCandidate(t *testing.T) {
	t.Parallel()

	raw, rec := issueTestKey(t, HashArgon2id, nil)
	_, other := issueTestKey(t, HashArgon2id, nil)

	colliders := make([]*Record, 0, 3)
	colliders = append(colliders, rec)
	for _, id := range []string{"c1", "c2"} {
		c := other.Clone()
		c.ID = id
		c.Prefix = rec.Prefix
		colliders = append(colliders, c)
	}

	stub := &stubStore{
		find: func(context.Context, string) ([]*Record, error) { return colliders, nil },
	}
	hs, argon, _ := newCountingHashers()
	v, err := NewVerifier(stub, WithHashers(hs))
	require.NoError(t, err)

	info, err := v.Verify(context.Background(), raw)
	require.NoError(t, err)
	assert.Equal(t, rec.ID, info.ID)
	assert.Equal(t, int32(3), argon.n.Load())
}

func TestVerifier_CollisionMatchesCorrectRecord(t *testing.T) {
	t.Parallel()

	raw, rec := issueTestKey(t, HashScrypt, nil)
	_, other := issueTestKey(t, HashArgon2id, nil)
	other.Prefix = rec.Prefix

	store, err := NewMemoryStore(other, rec)
	require.NoError(t, err)
	v := newTestVerifier(t, store)

	for i := 0; i < 5; i++ {
		info, err := v.Verify(context.Background(), raw)
		require.NoError(t, err)
		assert.Equal(t, rec.ID, info.ID)
	}
}

func TestVerifier_DecoyHashOnEmptyBucket(t *testing.T) {
	t.Parallel()

	raw, _ := issueTestKey(t, HashArgon2id, nil)
	hs, argon, _ := newCountingHashers()
	v, err := NewVerifier(&stubStore{}, WithHashers(hs))
	require.NoError(t, err)

	_, err = v.Verify(context.Background(), raw)
	assert.ErrorIs(t, err, ErrInvalidKey)
	assert.Equal(t, int32(1), argon.n.Load())
}

func TestVerifier_UnusableRecordsNeverMatch(t *testing.T) {
	t.Parallel()

	raw, rec := issueTestKey(t, HashArgon2id, nil)

	unknownAlg := rec.Clone()
	unknownAlg.Algorithm = "bcrypt"
	wrongPrefix := rec.Clone()
	wrongPrefix.Prefix = "sak_0000000_"
	corrupt := rec.Clone()
	corrupt.Salt = "!!"

	for name, candidate := range map[string]*Record{
		"unknown algorithm": unknownAlg,
		"prefix mismatch":   wrongPrefix,
		"corrupt salt":      corrupt,
	} {
		candidate := candidate
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			stub := &stubStore{
				find: func(context.Context, string) ([]*Record, error) { return []*Record{candidate}, nil },
			}
			v := newTestVerifier(t, stub)

			_, err := v.Verify(context.Background(), raw)
			assert.ErrorIs(t, err, ErrInvalidKey)
		})
	}
}

func TestVerifier_StoreUnavailable(t *testing.T) {
	t.Parallel()

	raw, rec := issueTestKey(t, HashArgon2id, nil)

	t.Run("find fails", func(t *testing.T) {
		t.Parallel()

		stub := &stubStore{
			find: func(context.Context, string) ([]*Record, error) { return nil, errors.New("dial tcp: refused") },
		}
		v := newTestVerifier(t, stub)

		_, err := v.Verify(context.Background(), raw)
		assert.ErrorIs(t, err, ErrStoreUnavailable)
	})

	t.Run("revocation check fails", func(t *testing.T) {
		t.Parallel()

		stub := &stubStore{
			find:    func(context.Context, string) ([]*Record, error) { return []*Record{rec}, nil },
			revoked: func(context.Context, *Record) (bool, error) { return false, errors.New("timeout") },
		}
		v := newTestVerifier(t, stub)

		_, err := v.Verify(context.Background(), raw)
		assert.ErrorIs(t, err, ErrStoreUnavailable)
	})

	t.Run("guarded store timeout", func(t *testing.T) {
		t.Parallel()

		stub := &stubStore{
			find: func(ctx context.Context, _ string) ([]*Record, error) {
				<-ctx.Done()
				return nil, ctx.Err()
			},
		}
		g := NewGuardedStore(stub, "slow", BreakerSettings{}, WithGuardTimeout(10*time.Millisecond))
		v := newTestVerifier(t, g)

		_, err := v.Verify(context.Background(), raw)
		assert.ErrorIs(t, err, ErrStoreUnavailable)
	})
}

func TestVerifier_Cache(t *testing.T) {
	t.Parallel()

	raw, rec := issueTestKey(t, HashArgon2id, nil)
	stub := &stubStore{
		find: func(context.Context, string) ([]*Record, error) { return []*Record{rec.Clone()}, nil },
	}
	cache := NewIdentityCache(10, time.Minute)
	v := newTestVerifier(t, stub, WithIdentityCache(cache))

	for i := 0; i < 3; i++ {
		info, err := v.Verify(context.Background(), raw)
		require.NoError(t, err)
		assert.Equal(t, rec.ID, info.ID)
	}
	assert.Equal(t, int32(1), stub.calls.Load())

	cache.InvalidatePrefix(rec.Prefix)
	_, err := v.Verify(context.Background(), raw)
	require.NoError(t, err)
	assert.Equal(t, int32(2), stub.calls.Load())
}

func TestVerifier_CacheSkipsFailures(t *testing.T) {
	t.Parallel()

	raw, rec := issueTestKey(t, HashArgon2id, nil)
	rec.Revoked = true
	store, err := NewMemoryStore(rec)
	require.NoError(t, err)

	cache := NewIdentityCache(10, time.Minute)
	v := newTestVerifier(t, store, WithIdentityCache(cache))

	_, err = v.Verify(context.Background(), raw)
	assert.ErrorIs(t, err, ErrKeyRevoked)
	assert.Equal(t, 0, cache.Len())
}

func TestVerifier_CachedKeyRevoked(t *testing.T) {
	t.Parallel()

	raw, rec := issueTestKey(t, HashArgon2id, nil)
	store, err := NewMemoryStore(rec)
	require.NoError(t, err)

	cache := NewIdentityCache(10, DefaultCacheTTL)
	v := newTestVerifier(t, store, WithIdentityCache(cache))

	_, err = v.Verify(context.Background(), raw)
	require.NoError(t, err)
	require.Equal(t, 1, cache.Len())

	_, err = store.Revoke(rec.ID)
	require.NoError(t, err)

	info, err := v.Verify(context.Background(), raw)
	assert.Nil(t, info)
	assert.ErrorIs(t, err, ErrKeyRevoked)
	assert.Equal(t, 0, cache.Len())
}

func TestVerifier_CacheHitStoreError(t *testing.T) {
	t.Parallel()

	raw, rec := issueTestKey(t, HashArgon2id, nil)
	var failing atomic.Bool
	stub := &stubStore{
		find: func(context.Context, string) ([]*Record, error) { return []*Record{rec.Clone()}, nil },
		revoked: func(context.Context, *Record) (bool, error) {
			if failing.Load() {
				return false, errors.New("backend down")
			}
			return false, nil
		},
	}
	cache := NewIdentityCache(10, time.Minute)
	v := newTestVerifier(t, stub, WithIdentityCache(cache))

	_, err := v.Verify(context.Background(), raw)
	require.NoError(t, err)

	failing.Store(true)
	_, err = v.Verify(context.Background(), raw)
	assert.ErrorIs(t, err, ErrStoreUnavailable)
	assert.Equal(t, 0, cache.Len())
}

func TestVerifier_CancelledCacheHitKeepsEntry(t *testing.T) {
	t.Parallel()

	raw, rec := issueTestKey(t, HashArgon2id, nil)
	store, err := NewMemoryStore(rec)
	require.NoError(t, err)
	cache := NewIdentityCache(10, time.Minute)
	v := newTestVerifier(t, NewGuardedStore(store, "memory", BreakerSettings{}), WithIdentityCache(cache))

	_, err = v.Verify(context.Background(), raw)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = v.Verify(ctx, raw)
	assert.ErrorIs(t, err, ErrStoreUnavailable)
	assert.Equal(t, 1, cache.Len())
}

func TestVerifier_ResultsDoNotShareState(t *testing.T) {
	t.Parallel()

	raw, rec := issueTestKey(t, HashArgon2id, nil)
	store, err := NewMemoryStore(rec)
	require.NoError(t, err)
	v := newTestVerifier(t, store, WithIdentityCache(NewIdentityCache(10, time.Minute)))

	first, err := v.Verify(context.Background(), raw)
	require.NoError(t, err)
	first.Scopes[0] = "admin"

	second, err := v.Verify(context.Background(), raw)
	require.NoError(t, err)
	assert.Equal(t, []string{"read"}, second.Scopes)
}

func TestVerifier_CachedEntryExpires(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	var clock atomic.Int64
	clock.Store(now.UnixNano())

	raw, rec := issueTestKey(t, HashArgon2id, func(r *IssueRequest) { r.ExpiresAt = timePtr(now.Add(time.Minute)) })
	store, err := NewMemoryStore(rec)
	require.NoError(t, err)

	cache := NewIdentityCache(10, time.Hour)
	v := newTestVerifier(t, store,
		WithIdentityCache(cache),
		WithVerifierClock(func() time.Time { return time.Unix(0, clock.Load()).UTC() }),
	)

	_, err = v.Verify(context.Background(), raw)
	require.NoError(t, err)

	clock.Store(now.Add(2 * time.Minute).UnixNano())
	_, err = v.Verify(context.Background(), raw)
	assert.ErrorIs(t, err, ErrKeyExpired)
}

func TestNewVerifier_RequiresStore(t *testing.T) {
	t.Parallel()

	_, err := NewVerifier(nil)
	assert.Error(t, err)
}

func TestFailureReason(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "store_unavailable", failureReason(storeErr(errors.New("x"))))
	assert.Equal(t, "revoked", failureReason(ErrKeyRevoked))
	assert.Equal(t, "error", failureReason(errors.New("other")))
	assert.Equal(t, ErrStoreUnavailable, storeErr(ErrStoreUnavailable))
}
