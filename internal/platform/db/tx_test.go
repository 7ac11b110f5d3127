package db

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func serializationErr() error {
	return fmt.Errorf("exec update: %w", &pgconn.PgError{Code: "40001"})
}

func TestWithRetryRerunsOnSerializationFailure(t *testing.T) {
	calls := 0
	err := withRetry(func() error {
		calls++
		if calls == 1 {
			return serializationErr()
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestWithRetryStopsOnOtherErrors(t *testing.T) {
	boom := errors.New("boom")
	calls := 0
	err := withRetry(func() error {
		calls++
		return boom
	})
	require.ErrorIs(t, err, boom)
	assert.Equal(t, 1, calls)
}

func TestWithRetryIsBounded(t *testing.T) {
	calls := 0
	err := withRetry(func() error {
		calls++
		return serializationErr()
	})
	require.Error(t, err)
	assert.Equal(t, maxTxAttempts, calls)

	var pgErr *pgconn.PgError
	require.ErrorAs(t, err, &pgErr)
	assert.Equal(t, "40001", pgErr.Code)
}

func TestRetryableTxError(t *testing.T) {
	assert.False(t, retryableTxError(nil))
	assert.False(t, retryableTxError(errors.New("boom")))
	assert.False(t, retryableTxError(&pgconn.PgError{Code: "23505"}))
	assert.True(t, retryableTxError(&pgconn.PgError{Code: "40001"}))
	assert.True(t, retryableTxError(&pgconn.PgError{Code: "40P01"}))
}
