package blob

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPostgresStore_Get(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery("SELECT data FROM blobs").
		WithArgs("projects/torre.json").
		WillReturnRows(pgxmock.NewRows([]string{"data"}).AddRow([]byte(`{}`)))
	mock.ExpectQuery("SELECT data FROM blobs").
		WithArgs("projects/missing.json").
		WillReturnError(pgx.ErrNoRows)

	s := NewPostgresStore(mock)
	data, err := s.Get(context.Background(), "projects/torre.json")
	require.NoError(t, err)
	assert.Equal(t, "{}", string(data))

	_, err = s.Get(context.Background(), "projects/missing.json")
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_PutAndAppend(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectExec("INSERT INTO blobs").
		WithArgs("faq/general.json", []byte(`[]`)).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(`INSERT INTO blobs .* blobs\.data \|\| EXCLUDED\.data`).
		WithArgs("conversations/log.jsonl", []byte("line\n")).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	s := NewPostgresStore(mock)
	require.NoError(t, s.Put(context.Background(), "faq/general.json", []byte(`[]`)))
	require.NoError(t, s.Append(context.Background(), "conversations/log.jsonl", []byte("line\n")))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_List(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery("SELECT key FROM blobs").
		WithArgs(`faq/\_x%`).
		WillReturnRows(pgxmock.NewRows([]string{"key"}).AddRow("faq/_x1.json").AddRow("faq/_x2.json"))

	keys, err := NewPostgresStore(mock).List(context.Background(), "faq/_x")
	require.NoError(t, err)
	assert.Equal(t, []string{"faq/_x1.json", "faq/_x2.json"}, keys)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Delete(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectExec("DELETE FROM blobs").
		WithArgs("faq/torre.json").
		WillReturnResult(pgxmock.NewResult("DELETE", 0))

	require.NoError(t, NewPostgresStore(mock).Delete(context.Background(), "faq/torre.json"))
	assert.NoError(t, mock.ExpectationsWereMet())
}
