package apikey

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// Cheap parameters keep the suite fast; production defaults are far slower.
func testHashers() Hashers {
	return NewHashers(
		NewArgon2idHasher(Argon2Params{Time: 1, Memory: 1024, Threads: 1, KeyLen: 32}),
		NewScryptHasher(ScryptParams{N: 1024, R: 8, P: 1, KeyLen: 32}),
	)
}

func issueTestKey(t *testing.T, alg HashAlgorithm, mutate func(*IssueRequest)) (string, *Record) {
	t.Helper()

	h, err := testHashers().Get(alg)
	require.NoError(t, err)

	req := IssueRequest{Owner: "team-a", Name: "ci", Scopes: []string{"read"}}
	if mutate != nil {
		mutate(&req)
	}
	raw, rec, err := Issue(h, req)
	require.NoError(t, err)
	return raw, rec
}

func timePtr(t time.Time) *time.Time {
	return &t
}
