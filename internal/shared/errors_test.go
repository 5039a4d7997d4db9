package shared

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/require"
)

func TestKindOf(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want ErrorKind
	}{
		{"nil", nil, ""},
		{"validation", fmt.Errorf("qty: %w", ErrValidation), KindInvalid},
		{"not found", fmt.Errorf("po 9: %w", ErrNotFound), KindNotFound},
		{"consistency", fmt.Errorf("over receipt: %w", ErrConsistency), KindFatal},
		{"data quality", fmt.Errorf("lead time: %w", ErrDataQuality), KindDataQuality},
		{"retryable", fmt.Errorf("lock: %w", ErrRetryable), KindRetryable},
		{"deadlock", fmt.Errorf("tx: %w", &pgconn.PgError{Code: "40P01"}), KindRetryable},
		{"serialization", &pgconn.PgError{Code: "40001"}, KindRetryable},
		{"other pg", &pgconn.PgError{Code: "23503"}, KindInternal},
		{"plain", errors.New("boom"), KindInternal},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, KindOf(tc.err))
		})
	}
}

func TestIsUniqueViolation(t *testing.T) {
	require.True(t, IsUniqueViolation(fmt.Errorf("insert: %w", &pgconn.PgError{Code: "23505"})))
	require.False(t, IsUniqueViolation(&pgconn.PgError{Code: "23503"}))
	require.False(t, IsUniqueViolation(nil))
}

func TestRecalcLockKey(t *testing.T) {
	require.Equal(t, "replenish:product:SKU-1:lock", RecalcLockKey("SKU-1"))
}
