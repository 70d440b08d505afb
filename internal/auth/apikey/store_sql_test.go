package apikey

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var sqlColumns = []string{
	"id", "prefix", "salt", "hash", "algorithm", "owner", "name",
	"scopes", "enabled", "revoked", "expires_at", "created_at",
}

func newTestSQLStore(t *testing.T) (*SQLStore, sqlmock.Sqlmock) {
	t.Helper()

	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	return NewSQLStore(db, nil), mock
}

func TestSQLStore_FindByPrefix(t *testing.T) {
	t.Parallel()

	store, mock := newTestSQLStore(t)
	_, rec := issueTestKey(t, HashArgon2id, nil)
	expires := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
	created := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectQuery(findByPrefixQuery).
		WithArgs(rec.Prefix).
		WillReturnRows(sqlmock.NewRows(sqlColumns).
			AddRow(rec.ID, rec.Prefix, rec.Salt, rec.Hash, "argon2id", "team-a", "ci",
				"{read,write}", true, false, expires, created).
			AddRow("second", rec.Prefix, rec.Salt, rec.Hash, "scrypt", "team-b", nil,
				"{}", true, true, nil, created))

	got, err := store.FindByPrefix(context.Background(), rec.Prefix)
	require.NoError(t, err)
	require.Len(t, got, 2)

	assert.Equal(t, rec.ID, got[0].ID)
	assert.Equal(t, []string{"read", "write"}, got[0].Scopes)
	require.NotNil(t, got[0].ExpiresAt)
	assert.True(t, expires.Equal(*got[0].ExpiresAt))
	assert.Equal(t, "ci", got[0].Name)

	assert.Equal(t, HashScrypt, got[1].Algorithm)
	assert.Empty(t, got[1].Name)
	assert.Nil(t, got[1].ExpiresAt)
	assert.True(t, got[1].Revoked)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLStore_FindByPrefix_QueryError(t *testing.T) {
	t.Parallel()

	store, mock := newTestSQLStore(t)
	mock.ExpectQuery(findByPrefixQuery).
		WithArgs("sak_0000000_").
		WillReturnError(errors.New("connection reset"))

	_, err := store.FindByPrefix(context.Background(), "sak_0000000_")
	assert.ErrorContains(t, err, "connection reset")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLStore_IsRevoked(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		rows    *sqlmock.Rows
		err     error
		want    bool
		wantErr bool
	}{
		{name: "active", rows: sqlmock.NewRows([]string{"revoked", "enabled"}).AddRow(false, true)},
		{name: "revoked", rows: sqlmock.NewRows([]string{"revoked", "enabled"}).AddRow(true, true), want: true},
		{name: "disabled", rows: sqlmock.NewRows([]string{"revoked", "enabled"}).AddRow(false, false), want: true},
		{name: "deleted", err: sql.ErrNoRows, want: true},
		{name: "db error", err: errors.New("timeout"), wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			store, mock := newTestSQLStore(t)
			exp := mock.ExpectQuery(revocationQuery).WithArgs("id-1")
			if tt.err != nil {
				exp.WillReturnError(tt.err)
			} else {
				exp.WillReturnRows(tt.rows)
			}

			got, err := store.IsRevoked(context.Background(), &Record{ID: "id-1"})
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestSQLStore_Insert(t *testing.T) {
	t.Parallel()

	store, mock := newTestSQLStore(t)
	_, rec := issueTestKey(t, HashArgon2id, nil)

	mock.ExpectExec(insertRecordQuery).
		WithArgs(rec.ID, rec.Prefix, rec.Salt, rec.Hash, "argon2id", rec.Owner, rec.Name,
			sqlmock.AnyArg(), true, false, nil, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, store.Insert(context.Background(), rec))
	assert.NoError(t, mock.ExpectationsWereMet())

	assert.ErrorIs(t, store.Insert(context.Background(), &Record{}), ErrInvalidRecord)
}

func TestOpenSQLStore_RequiresDSN(t *testing.T) {
	t.Parallel()

	_, err := OpenSQLStore(context.Background(), &SQLConfig{}, nil)
	assert.Error(t, err)
	_, err = OpenSQLStore(context.Background(), nil, nil)
	assert.Error(t, err)
}
