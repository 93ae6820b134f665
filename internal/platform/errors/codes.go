// Package errors provides coded domain errors shared by the party services.
package errors

// Code is a machine-readable error code.
type Code string

const (
	// CodeUnknown represents an unknown error.
	CodeUnknown Code = "UNKNOWN"

	// Validation errors
	CodeInvalidArgument Code = "INVALID_ARGUMENT"

	// Session errors
	CodeNotFound                Code = "NOT_FOUND"
	CodeInvalidStatusTransition Code = "INVALID_STATUS_TRANSITION"
	CodeSessionCodeExhausted    Code = "SESSION_CODE_EXHAUSTED"
	CodePermissionDenied        Code = "PERMISSION_DENIED"

	// Concurrency errors
	CodeRoleConflict          Code = "ROLE_CONFLICT"
	CodeTurnConflict          Code = "TURN_CONFLICT"
	CodeTransactionContention Code = "TRANSACTION_CONTENTION"

	// Connectivity errors
	CodeStoreTimeout         Code = "STORE_TIMEOUT"
	CodeStoreUnavailable     Code = "STORE_UNAVAILABLE"
	CodeValidatorUnavailable Code = "VALIDATOR_UNAVAILABLE"
)

// Retryable reports whether an operation failing with this code may succeed
// when repeated without any change from the caller.
func (c Code) Retryable() bool {
	switch c {
	case CodeTransactionContention,
		CodeStoreTimeout,
		CodeStoreUnavailable,
		CodeValidatorUnavailable:
		return true
	default:
		return false
	}
}

// Known reports whether the code is one of the declared codes. Remote peers
// use it to rebuild typed errors from wire frames.
func (c Code) Known() bool {
	switch c {
	case CodeUnknown,
		CodeInvalidArgument,
		CodeNotFound,
		CodeInvalidStatusTransition,
		CodeSessionCodeExhausted,
		CodePermissionDenied,
		CodeRoleConflict,
		CodeTurnConflict,
		CodeTransactionContention,
		CodeStoreTimeout,
		CodeStoreUnavailable,
		CodeValidatorUnavailable:
		return true
	default:
		return false
	}
}
