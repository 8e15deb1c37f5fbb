package domain

import "errors"

var (
	// Common domain errors
	ErrNotFound             = errors.New("entity not found")
	ErrAlreadyExists        = errors.New("entity already exists")
	ErrInvalidArgument      = errors.New("invalid argument")
	ErrOperationFailed      = errors.New("operation failed")
	ErrReadDatabaseRow      = errors.New("failed to read database row")
	ErrInvalidExecContext   = errors.New("invalid executor context")
	ErrNoActiveSubscription = errors.New("no active subscription")

	// Payment verification
	ErrAlreadyProcessed   = errors.New("payment already processed")
	ErrSignatureMismatch  = errors.New("payment signature mismatch")
	ErrAmountMismatch     = errors.New("payment amount mismatch")
	ErrCaptureFailed      = errors.New("payment not captured at gateway")
	ErrGatewayUnavailable = errors.New("payment gateway unavailable")

	// Fraud guard rejections
	ErrDuplicateReference = errors.New("transaction reference already submitted")
	ErrCrossUserReference = errors.New("transaction reference belongs to another account")
	ErrPendingExists      = errors.New("a pending payment already exists")
	ErrRateLimited        = errors.New("rate limit exceeded")

	// Tamper guard
	ErrTamperDetected = errors.New("subscription duration exceeds plan entitlement")
)
