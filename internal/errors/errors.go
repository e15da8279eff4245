// Package errors provides structured error handling for netmapper operations.
// It defines error codes, per-domain error types, and utilities for creating
// and classifying errors with context.
package errors

import (
	"fmt"
)

// ErrorCode represents different types of errors that can occur.
type ErrorCode string

const (
	// General errors.
	CodeUnknown       ErrorCode = "UNKNOWN"
	CodeValidation    ErrorCode = "VALIDATION"
	CodeConfiguration ErrorCode = "CONFIGURATION"
	CodeTimeout       ErrorCode = "TIMEOUT"
	CodeNotFound      ErrorCode = "NOT_FOUND"

	// Gateway errors.
	CodeRateLimited    ErrorCode = "RATE_LIMITED"
	CodeUnknownCommand ErrorCode = "UNKNOWN_COMMAND"
	CodeMalformed      ErrorCode = "MALFORMED_REQUEST"

	// Probing and scanning errors.
	CodeProbeFailed   ErrorCode = "PROBE_FAILED"
	CodeScanFailed    ErrorCode = "SCAN_FAILED"
	CodeTargetInvalid ErrorCode = "TARGET_INVALID"

	// Database errors.
	CodeDatabaseConnection ErrorCode = "DATABASE_CONNECTION"
	CodeDatabaseQuery      ErrorCode = "DATABASE_QUERY"
	CodeDatabaseMigration  ErrorCode = "DATABASE_MIGRATION"
)

// GatewayError represents an error surfaced to a protocol client.
type GatewayError struct {
	Code    ErrorCode
	Message string
	Command string
	Cause   error
}

// Error implements the error interface.
func (e *GatewayError) Error() string {
	if e.Command != "" {
		return fmt.Sprintf("[%s] %s (cmd: %s)", e.Code, e.Message, e.Command)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error for error unwrapping.
func (e *GatewayError) Unwrap() error {
	return e.Cause
}

// NewGatewayError creates a new gateway error with the specified code and message.
func NewGatewayError(code ErrorCode, message string) *GatewayError {
	return &GatewayError{Code: code, Message: message}
}

// NewGatewayErrorWithCommand creates a gateway error for a specific command.
func NewGatewayErrorWithCommand(code ErrorCode, message, command string) *GatewayError {
	return &GatewayError{Code: code, Message: message, Command: command}
}

// WrapGatewayError wraps an existing error as a gateway error.
func WrapGatewayError(code ErrorCode, message string, err error) *GatewayError {
	return &GatewayError{Code: code, Message: message, Cause: err}
}

// DatabaseError represents store-related errors.
type DatabaseError struct {
	Code      ErrorCode
	Message   string
	Operation string
	Cause     error
}

// Error implements the error interface.
func (e *DatabaseError) Error() string {
	if e.Operation != "" {
		return fmt.Sprintf("[%s] %s (operation: %s)", e.Code, e.Message, e.Operation)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error.
func (e *DatabaseError) Unwrap() error {
	return e.Cause
}

// NewDatabaseError creates a new database error.
func NewDatabaseError(code ErrorCode, message string) *DatabaseError {
	return &DatabaseError{Code: code, Message: message}
}

// WrapDatabaseError wraps an existing error as a database error.
func WrapDatabaseError(code ErrorCode, message string, err error) *DatabaseError {
	return &DatabaseError{Code: code, Message: message, Cause: err}
}

// ProbeError represents discovery or port-scan failures. These are swallowed
// at the discovery boundary and never surface as protocol errors.
type ProbeError struct {
	Code    ErrorCode
	Message string
	Network string
	Cause   error
}

// Error implements the error interface.
func (e *ProbeError) Error() string {
	if e.Network != "" {
		return fmt.Sprintf("[%s] %s (network: %s)", e.Code, e.Message, e.Network)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error.
func (e *ProbeError) Unwrap() error {
	return e.Cause
}

// WrapProbeError wraps an existing error as a probe error.
func WrapProbeError(code ErrorCode, message, network string, err error) *ProbeError {
	return &ProbeError{Code: code, Message: message, Network: network, Cause: err}
}

// ConfigError represents configuration-related errors.
type ConfigError struct {
	Code    ErrorCode
	Message string
	Field   string
	Cause   error
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("[%s] %s (field: %s)", e.Code, e.Message, e.Field)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error.
func (e *ConfigError) Unwrap() error {
	return e.Cause
}

// NewConfigError creates a new configuration error.
func NewConfigError(code ErrorCode, message, field string) *ConfigError {
	return &ConfigError{Code: code, Message: message, Field: field}
}

// IsCode checks if an error has a specific error code.
func IsCode(err error, code ErrorCode) bool {
	return GetCode(err) == code
}

// GetCode extracts the error code from an error if it has one.
func GetCode(err error) ErrorCode {
	switch e := err.(type) {
	case *GatewayError:
		return e.Code
	case *DatabaseError:
		return e.Code
	case *ProbeError:
		return e.Code
	case *ConfigError:
		return e.Code
	}
	return CodeUnknown
}

// IsFatal determines if an error indicates a condition that should abort startup.
func IsFatal(err error) bool {
	switch GetCode(err) {
	case CodeConfiguration, CodeDatabaseConnection, CodeDatabaseMigration:
		return true
	default:
		return false
	}
}

// ErrInvalidCIDR creates a validation error for a malformed CIDR string.
func ErrInvalidCIDR(cidr string) *GatewayError {
	return NewGatewayError(CodeValidation, fmt.Sprintf("invalid CIDR: %s", cidr))
}

// ErrInvalidIP creates a validation error for a malformed IP string.
func ErrInvalidIP(ip string) *GatewayError {
	return NewGatewayError(CodeValidation, fmt.Sprintf("invalid IP address: %s", ip))
}

// ErrRateLimited creates the typed rejection returned when a client exceeds
// its request window.
func ErrRateLimited(clientID string) *GatewayError {
	return NewGatewayError(CodeRateLimited, fmt.Sprintf("rate limit exceeded for client %s", clientID))
}

// ErrDatabaseConnection creates an error for store open failures.
func ErrDatabaseConnection(err error) *DatabaseError {
	return WrapDatabaseError(CodeDatabaseConnection, "failed to open database", err)
}

// ErrDatabaseQuery creates an error for store query failures.
func ErrDatabaseQuery(operation string, err error) *DatabaseError {
	dbErr := WrapDatabaseError(CodeDatabaseQuery, "database query failed", err)
	dbErr.Operation = operation
	return dbErr
}
