package core

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

var (
	ErrInvalidAmount    = errors.New("invalid amount")
	ErrEmptyDescription = errors.New("empty description")
	ErrEmptyRoster      = errors.New("empty apartment roster")
	ErrZeroWeight       = errors.New("zero distribution weight")
	ErrUnknownRule      = errors.New("unknown distribution rule")
)

// ConfigurationError reports invalid building or distribution configuration.
// It is fatal for the operation that hit it; nothing is partially computed.
type ConfigurationError struct {
	Field  string
	Reason string
	Err    error
}

func (e *ConfigurationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("configuration error: %s: %s: %v", e.Field, e.Reason, e.Err)
	}
	return fmt.Sprintf("configuration error: %s: %s", e.Field, e.Reason)
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

// ReconciliationError reports a ledger that disagrees with its source
// records: duplicate entries outside the idempotency guard, or apartment
// shares that do not sum back to the source amount. It blocks the operation
// and carries enough context for a manual audit.
type ReconciliationError struct {
	RefType  ReferenceType
	RefID    uuid.UUID
	Expected int64
	Computed int64
	Reason   string
}

func (e *ReconciliationError) Error() string {
	return fmt.Sprintf("reconciliation error: %s %s/%s: expected %d cents, computed %d cents",
		e.Reason, e.RefType, e.RefID, e.Expected, e.Computed)
}
