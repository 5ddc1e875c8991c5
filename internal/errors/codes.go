package errors

import (
	"fmt"
	"net/http"
)

// ErrorCode represents internal error codes for chunk store operations
type ErrorCode int

const (
	// Success
	ErrCodeOK ErrorCode = 0

	// Client errors (4xx equivalent)
	ErrCodeInvalidArgument ErrorCode = 1000
	ErrCodeKeyNotFound     ErrorCode = 1001
	ErrCodeInvalidMarker   ErrorCode = 1002
	ErrCodeKeyOutOfRange   ErrorCode = 1003
	ErrCodeUnknownNodeType ErrorCode = 1004

	// Server errors (5xx equivalent)
	ErrCodeInternal          ErrorCode = 2000
	ErrCodeSnapshotIO        ErrorCode = 2001
	ErrCodeCorruptedSnapshot ErrorCode = 2002
	ErrCodeTransport         ErrorCode = 2003
	ErrCodeJoinRejected      ErrorCode = 2004

	// Contract violations (fatal, not retried)
	ErrCodeNotAdjacent      ErrorCode = 3000
	ErrCodeEmptySplit       ErrorCode = 3001
	ErrCodeSelfNotInCluster ErrorCode = 3002
	ErrCodeBrokenTiling     ErrorCode = 3003
)

// StoreError represents a structured error with code and context
type StoreError struct {
	Code    ErrorCode
	Message string
	Cause   error
}

// Error implements the error interface
func (e *StoreError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

// Unwrap returns the underlying error
func (e *StoreError) Unwrap() error {
	return e.Cause
}

// HTTPStatus maps internal error codes to HTTP status codes for the
// exchange server.
func (e *StoreError) HTTPStatus() int {
	switch e.Code {
	case ErrCodeOK:
		return http.StatusOK
	case ErrCodeInvalidArgument, ErrCodeInvalidMarker, ErrCodeUnknownNodeType:
		return http.StatusBadRequest
	case ErrCodeKeyNotFound:
		return http.StatusNotFound
	case ErrCodeKeyOutOfRange:
		return http.StatusConflict
	case ErrCodeTransport:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// New creates a new StoreError
func New(code ErrorCode, message string, cause error) *StoreError {
	return &StoreError{Code: code, Message: message, Cause: cause}
}

// Convenience constructors for common errors

func InvalidArgument(message string, cause error) *StoreError {
	return New(ErrCodeInvalidArgument, message, cause)
}

func InvalidMarker(value string) *StoreError {
	return New(ErrCodeInvalidMarker, fmt.Sprintf("invalid chunk marker %q", value), nil)
}

func KeyOutOfRange(key, start, end string) *StoreError {
	return New(ErrCodeKeyOutOfRange, fmt.Sprintf("key %q outside chunk range [%s, %s)", key, start, end), nil)
}

func SnapshotIO(message string, cause error) *StoreError {
	return New(ErrCodeSnapshotIO, message, cause)
}

func CorruptedSnapshot(path, reason string) *StoreError {
	return New(ErrCodeCorruptedSnapshot, fmt.Sprintf("corrupted chunk snapshot %s: %s", path, reason), nil)
}

func Transport(message string, cause error) *StoreError {
	return New(ErrCodeTransport, message, cause)
}

func JoinRejected(peer, reason string) *StoreError {
	return New(ErrCodeJoinRejected, fmt.Sprintf("join rejected by %s: %s", peer, reason), nil)
}

func NotAdjacent(leftEnd, rightStart string) *StoreError {
	return New(ErrCodeNotAdjacent, fmt.Sprintf("cannot merge non-adjacent chunks: left ends at %s, right starts at %s", leftEnd, rightStart), nil)
}

func EmptySplit() *StoreError {
	return New(ErrCodeEmptySplit, "cannot split an empty chunk", nil)
}

func SelfNotInCluster(port int, connectionString string) *StoreError {
	return New(ErrCodeSelfNotInCluster, fmt.Sprintf("own port %d not present in connection string %q", port, connectionString), nil)
}

func BrokenTiling(message string) *StoreError {
	return New(ErrCodeBrokenTiling, message, nil)
}

func Internal(message string, cause error) *StoreError {
	return New(ErrCodeInternal, message, cause)
}

// IsStoreError checks if an error is a StoreError
func IsStoreError(err error) bool {
	_, ok := err.(*StoreError)
	return ok
}

// GetCode extracts the error code from an error
func GetCode(err error) ErrorCode {
	if se, ok := err.(*StoreError); ok {
		return se.Code
	}
	return ErrCodeInternal
}
