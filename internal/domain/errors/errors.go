package errors

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

var (
	// Group errors
	ErrGroupNotFound       = errors.New("group not found")
	ErrGroupNotActive      = errors.New("group is not active")
	ErrGroupNotPaused      = errors.New("group is not paused")
	ErrCycleNotStarted     = errors.New("cycle has not been started")
	ErrCycleAlreadyStarted = errors.New("cycle already started")
	ErrMembershipNotFound  = errors.New("membership not found")

	// Payment errors
	ErrPaymentNotFound        = errors.New("payment not found")
	ErrPayoutNotFound         = errors.New("payout not found")
	ErrInvalidAmount          = errors.New("invalid amount")
	ErrInvalidStateTransition = errors.New("invalid state transition")
	ErrMaxRetriesExceeded     = errors.New("max retries exceeded")
	ErrDuplicatePayment       = errors.New("payment already exists for this cycle and member")
	ErrDuplicatePayout        = errors.New("payout already exists for this cycle")

	// Gateway errors
	ErrGatewayUnavailable = errors.New("payment gateway unavailable")
	ErrGatewayRejected    = errors.New("payment rejected by gateway")

	// Webhook errors
	ErrInvalidSignature = errors.New("invalid webhook signature")
	ErrEventNotFound    = errors.New("webhook event not found")

	// Job errors
	ErrDuplicateJob = errors.New("duplicate job, already running")

	// Idempotency errors
	ErrDuplicateIdempotencyKey = errors.New("duplicate idempotency key")

	// Auth errors
	ErrUnauthorized = errors.New("unauthorized")

	// Validation errors
	ErrInvalidInput = errors.New("invalid input")
)

// DomainError wraps errors with additional context
type DomainError struct {
	Code    string
	Message string
	Err     error
}

func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *DomainError) Unwrap() error {
	return e.Err
}

// NewDomainError creates a new domain error
func NewDomainError(code, message string, err error) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// ValidationError represents a validation error
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed for field %s: %s", e.Field, e.Message)
}

// NewValidationError creates a new validation error
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{
		Field:   field,
		Message: message,
	}
}

// InvariantViolation signals corrupted cycle state that must never be
// auto-recovered: the job is failed and an operator has to step in.
type InvariantViolation struct {
	GroupID uuid.UUID
	Cycle   int
	Detail  string
}

func (e *InvariantViolation) Error() string {
	return fmt.Sprintf("invariant violation for group %s cycle %d: %s", e.GroupID, e.Cycle, e.Detail)
}

// NewInvariantViolation creates a new invariant violation error.
func NewInvariantViolation(groupID uuid.UUID, cycle int, detail string) *InvariantViolation {
	return &InvariantViolation{GroupID: groupID, Cycle: cycle, Detail: detail}
}

// IsInvariantViolation reports whether err is an InvariantViolation.
func IsInvariantViolation(err error) bool {
	var iv *InvariantViolation
	return errors.As(err, &iv)
}
