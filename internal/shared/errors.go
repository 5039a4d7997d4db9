package shared

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
)

var (
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
	// ErrValidation marks invalid caller input.
	ErrValidation = errors.New("validation failed")
	// ErrConsistency marks an operation that would break a stock or lifecycle invariant.
	ErrConsistency = errors.New("consistency violation")
	// ErrDataQuality marks master data problems that need an operator.
	ErrDataQuality = errors.New("data quality problem")
	// ErrRetryable marks transient failures that are safe to repeat.
	ErrRetryable = errors.New("temporary failure, retry")
)

// ErrorKind tells callers whether a failed operation may be retried.
type ErrorKind string

const (
	KindInvalid     ErrorKind = "invalid"
	KindNotFound    ErrorKind = "not_found"
	KindRetryable   ErrorKind = "retryable"
	KindFatal       ErrorKind = "fatal"
	KindDataQuality ErrorKind = "data_quality"
	KindInternal    ErrorKind = "internal"
)

// KindOf classifies err. Serialization failures and deadlocks reported by
// PostgreSQL are retryable.
func KindOf(err error) ErrorKind {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrRetryable):
		return KindRetryable
	case errors.Is(err, ErrConsistency):
		return KindFatal
	case errors.Is(err, ErrDataQuality):
		return KindDataQuality
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrValidation):
		return KindInvalid
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", "40P01", "55P03":
			return KindRetryable
		}
	}
	return KindInternal
}

// IsUniqueViolation reports whether err is a PostgreSQL unique constraint violation.
func IsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
