package apperr

import (
	"errors"
	"fmt"
)

// Domain-level error values returned by the ledger services.
var (
	ErrValidation           = errors.New("validation failed")
	ErrInsufficientBalance  = errors.New("insufficient balance")
	ErrNoActiveRate         = errors.New("no active exchange rate")
	ErrImmutableTransaction = errors.New("record is terminal and cannot be modified")
	ErrNotFound             = errors.New("not found")
	ErrUnauthorized         = errors.New("unauthorized")
	ErrPaymentGateway       = errors.New("payment gateway declined")
	ErrConflict             = errors.New("conflicting concurrent update")
)

// ValidationError describes malformed input rejected before any write.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// Invalid builds a ValidationError for field.
func Invalid(field, format string, args ...interface{}) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// PaymentGatewayFailure is a declined charge or payout. It is a business
// outcome, not a server fault; the FAILED ledger row stays behind.
type PaymentGatewayFailure struct {
	Reason        string
	TransactionID string
}

func (e *PaymentGatewayFailure) Error() string {
	return fmt.Sprintf("payment declined: %s", e.Reason)
}

func (e *PaymentGatewayFailure) Is(target error) bool { return target == ErrPaymentGateway }

// OperationError wraps a store failure with a stable operation code.
type OperationError struct {
	operation string
	subject   string
	code      string
	err       error
}

func (operationError OperationError) Error() string {
	return fmt.Sprintf("%s.%s.%s: %v", operationError.operation, operationError.subject, operationError.code, operationError.err)
}

func (operationError OperationError) Unwrap() error { return operationError.err }

func (operationError OperationError) Operation() string { return operationError.operation }

func (operationError OperationError) Subject() string { return operationError.subject }

func (operationError OperationError) Code() string { return operationError.code }

// Wrap annotates err with operation, subject and code. It returns nil for a
// nil err so callers can wrap unconditionally.
func Wrap(operation, subject, code string, err error) error {
	if err == nil {
		return nil
	}
	return OperationError{operation: operation, subject: subject, code: code, err: err}
}
