package submissions

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrImmutableField    = errors.New("field is immutable once set")
	ErrInvalidPatch      = errors.New("invalid patch")
)

const (
	ErrorCodeOracleTimeout     = "ORACLE_TIMEOUT"
	ErrorCodeOracleUnavailable = "ORACLE_UNAVAILABLE"
	ErrorCodeOracleMalformed   = "ORACLE_MALFORMED"
	ErrorCodeOracle            = "ORACLE_ERROR"
	ErrorCodeStorage           = "STORAGE_ERROR"
	ErrorCodeQueue             = "QUEUE_ERROR"
	ErrorCodeInternal          = "INTERNAL_ERROR"
)

// ValidationError rejects a submission before any record exists.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation: %s: %s", e.Field, e.Message)
}
