package encounter

import (
	"errors"
	"fmt"

	"github.com/thinhdabezt/hexbound-vtt/internal/storage"
)

// Error kinds reported to callers.
const (
	KindValidation   = "validation"
	KindPrecondition = "precondition"
	KindTransient    = "transient"
	KindInvariant    = "invariant"
	KindInternal     = "internal"
)

// ValidationError reports malformed command input such as an unknown
// condition name or dice formula.
type ValidationError struct {
	Field  string
	Reason string
	Err    error
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Reason
	}
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return e.Err }

func invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// PreconditionError reports a well-formed command that the current state does
// not allow. When HasDeficit is set the message names what was needed and what
// was available.
type PreconditionError struct {
	Reason     string
	Need       int
	Have       int
	HasDeficit bool
}

func (e *PreconditionError) Error() string {
	if e.HasDeficit {
		return fmt.Sprintf("%s: need %d, have %d", e.Reason, e.Need, e.Have)
	}
	return e.Reason
}

func rejected(format string, args ...any) error {
	return &PreconditionError{Reason: fmt.Sprintf(format, args...)}
}

func deficit(reason string, need, have int) error {
	return &PreconditionError{Reason: reason, Need: need, Have: have, HasDeficit: true}
}

// TransientStoreError reports that the backing store was unreachable or timed
// out. The command had no effect and may be retried.
type TransientStoreError struct {
	Op  string
	Err error
}

func (e *TransientStoreError) Error() string {
	return fmt.Sprintf("%s: store temporarily unavailable: %v", e.Op, e.Err)
}

func (e *TransientStoreError) Unwrap() error { return e.Err }

// InvariantViolation reports a corrupt session snapshot. The session has been
// deactivated.
type InvariantViolation struct {
	EncounterID string
	Err         error
}

func (e *InvariantViolation) Error() string {
	return fmt.Sprintf("encounter %s: %v", e.EncounterID, e.Err)
}

func (e *InvariantViolation) Unwrap() error { return e.Err }

// storeErr classifies a store failure for op.
func storeErr(op string, err error) error {
	if storage.IsTransient(err) {
		return &TransientStoreError{Op: op, Err: err}
	}
	return fmt.Errorf("%s: %w", op, err)
}

// Kind classifies err into one of the Kind constants.
func Kind(err error) string {
	var (
		ve *ValidationError
		pe *PreconditionError
		te *TransientStoreError
		iv *InvariantViolation
	)
	switch {
	case errors.As(err, &ve):
		return KindValidation
	case errors.As(err, &pe):
		return KindPrecondition
	case errors.As(err, &te):
		return KindTransient
	case errors.As(err, &iv):
		return KindInvariant
	default:
		return KindInternal
	}
}
