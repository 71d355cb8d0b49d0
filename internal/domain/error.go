package domain

import "errors"

var (
	// Common domain errors
	ErrNotFound           = errors.New("entity not found")
	ErrInvalidArgument    = errors.New("invalid argument")
	ErrOperationFailed    = errors.New("operation failed")
	ErrReadDatabaseRow    = errors.New("failed to read database row")
	ErrInvalidExecContext = errors.New("invalid execution context")

	// Payment workflow errors
	ErrValidation = errors.New("validation failed")                // user-correctable input, e.g. a bad phone number
	ErrConfig     = errors.New("missing or invalid configuration") // operator-fatal, raised at construction
	ErrAuth       = errors.New("gateway credentials rejected")     // operator-fatal
	ErrTransport  = errors.New("gateway unreachable")              // retryable per attempt
	ErrGateway    = errors.New("gateway returned a failure")
	ErrDecryption = errors.New("decryption failed")
)
