package users

import (
	"fmt"
)

// ValidationError is returned by the form validation. Message is short enough to show as is.
type ValidationError struct {
	Field   string
	Value   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// NewValidationError creates a new validation error
func NewValidationError(field, value, message string) *ValidationError {
	return &ValidationError{
		Field:   field,
		Value:   value,
		Message: message,
	}
}

// OperationError wraps a failure of one of the directory operations
type OperationError struct {
	Operation string
	UserID    ID
	Cause     error
}

func (e *OperationError) Error() string {
	if e.UserID != "" {
		return fmt.Sprintf("%s failed for user %s: %v", e.Operation, e.UserID, e.Cause)
	}
	return fmt.Sprintf("%s failed: %v", e.Operation, e.Cause)
}

func (e *OperationError) Unwrap() error {
	return e.Cause
}

// Operation names used in errors, logs and metrics
const (
	OperationFetch  = "fetch"
	OperationCreate = "create"
	OperationUpdate = "update"
	OperationDelete = "delete"
)

func newOperationError(op string, id ID, cause error) *OperationError {
	return &OperationError{
		Operation: op,
		UserID:    id,
		Cause:     cause,
	}
}
