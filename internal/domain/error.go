package domain

import "errors"

var (
	// Common domain errors
	ErrNotFound           = errors.New("entity not found")
	ErrAlreadyExists      = errors.New("entity already exists")
	ErrInvalidArgument    = errors.New("invalid argument")
	ErrOperationFailed    = errors.New("database operation failed")
	ErrReadDatabaseRow    = errors.New("failed to read database row")
	ErrInvalidExecContext = errors.New("invalid database execution context")

	// Payment pipeline errors
	ErrMissingIdentifier   = errors.New("order id or payment id required")
	ErrTokenFetch          = errors.New("provider token fetch failed")
	ErrProviderUnavailable = errors.New("payment provider unavailable")
	ErrEventAlreadySeen    = errors.New("webhook event already processed")
	ErrTerminalState       = errors.New("transaction already failed; manual recovery required")
)
