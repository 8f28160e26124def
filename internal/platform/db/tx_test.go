package db

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/require"
)

func TestClassify(t *testing.T) {
	for _, code := range []string{"40001", "40P01", "55P03"} {
		err := Classify(fmt.Errorf("insert: %w", &pgconn.PgError{Code: code}))
		require.ErrorIs(t, err, ErrRetryable, code)
		var pgErr *pgconn.PgError
		require.True(t, errors.As(err, &pgErr))
	}
	plain := errors.New("boom")
	require.Equal(t, plain, Classify(plain))
	require.NoError(t, Classify(nil))
}

func TestIsUniqueViolation(t *testing.T) {
	err := fmt.Errorf("wrap: %w", &pgconn.PgError{Code: "23505", ConstraintName: "ledger_vouchers_pkey"})
	require.True(t, IsUniqueViolation(err, ""))
	require.True(t, IsUniqueViolation(err, "ledger_vouchers_pkey"))
	require.False(t, IsUniqueViolation(err, "other"))
	require.False(t, IsUniqueViolation(errors.New("x"), ""))
}
