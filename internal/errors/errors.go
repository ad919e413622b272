// Package errors implements the structural error kinds described in
// spec.md §7: a stable code, a human message, optional details, and a
// retryable hint, so the command router can shape `{code, message,
// details?, request_id}` responses without re-deriving policy per call
// site.
package errors

import (
	"errors"
	"fmt"
)

// Code is one of the stable error codes from spec.md §7.
type Code string

const (
	CodeAuthFailed         Code = "AUTH_FAILED"
	CodeAccessDenied       Code = "ACCESS_DENIED"
	CodeNotFound           Code = "NOT_FOUND"
	CodeDuplicateKey       Code = "DUPLICATE_KEY"
	CodeValidationError    Code = "VALIDATION_ERROR"
	CodeTransactionConflict Code = "TRANSACTION_CONFLICT"
	CodeDeadlock           Code = "DEADLOCK"
	CodeLockTimeout        Code = "LOCK_TIMEOUT"
	CodeTimeout            Code = "TIMEOUT"
	CodeCorruptedLog       Code = "CORRUPTED_LOG"
	CodeInternal           Code = "INTERNAL_ERROR"
	CodeQuerySyntax        Code = "QUERY_SYNTAX_ERROR"
	CodeRegexTimeout       Code = "REGEX_TIMEOUT"
	CodeCursorNotFound     Code = "CURSOR_NOT_FOUND"
)

// retryableByDefault records, per spec.md §7's propagation policy, which
// codes are safe for a client to retry without additional context.
var retryableByDefault = map[Code]bool{
	CodeLockTimeout: true,
	CodeDeadlock:    true,
	CodeTimeout:     true,
}

// Error is the structural error type surfaced to callers across the store,
// lock manager, WAL, transaction coordinator, and query engine.
type Error struct {
	Code      Code
	Message   string
	Details   map[string]interface{}
	Retryable bool
	cause     error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// New constructs an Error with the default retryability for its code.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message, Retryable: retryableByDefault[code]}
}

// Wrap attaches a code/message to an underlying cause, preserving it for
// errors.Is/As traversal.
func Wrap(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Retryable: retryableByDefault[code], cause: cause}
}

// WithDetails returns a copy of e with Details set.
func (e *Error) WithDetails(details map[string]interface{}) *Error {
	cp := *e
	cp.Details = details
	return &cp
}

// As reports whether err is (or wraps) an *Error, writing it into target.
func As(err error, target **Error) bool {
	return errors.As(err, target)
}

// CodeOf extracts the Code from err if it is (or wraps) an *Error,
// otherwise returns CodeInternal — unexpected, unclassified state is
// always logged per spec.md §7.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeInternal
}

// Convenience constructors for the most common call sites.

func NotFound(what string) *Error {
	return New(CodeNotFound, fmt.Sprintf("%s not found", what))
}

func DuplicateKey(detail string) *Error {
	return New(CodeDuplicateKey, fmt.Sprintf("duplicate key: %s", detail))
}

func Validation(detail string) *Error {
	return New(CodeValidationError, detail)
}

func LockTimeout(resource string) *Error {
	return New(CodeLockTimeout, fmt.Sprintf("timed out acquiring lock on %s", resource))
}

func Deadlock(txID uint64) *Error {
	return New(CodeDeadlock, fmt.Sprintf("transaction %d aborted as deadlock victim", txID))
}

func CorruptedLog(detail string) *Error {
	return New(CodeCorruptedLog, detail)
}

func Internal(detail string) *Error {
	return New(CodeInternal, detail)
}

func QuerySyntaxError(detail string) *Error {
	return New(CodeQuerySyntax, detail)
}

func RegexTimeout(pattern string) *Error {
	return New(CodeRegexTimeout, fmt.Sprintf("regex %q exceeded evaluation time budget", pattern))
}

func CursorNotFound(id string) *Error {
	return New(CodeCursorNotFound, fmt.Sprintf("cursor %q not found or expired", id))
}

// Sentinel errors kept for equality checks (errors.Is) in lower layers that
// predate the structural Error type; the router maps the document,
// collection and payload sentinels to their matching Code before
// returning to a client.
var (
	ErrInvalidJSON        = errors.New("payload must be valid JSON")
	ErrDocExists          = errors.New("document already exists")
	ErrDocNotFound        = errors.New("document not found")
	ErrStoreClosed        = errors.New("store is not open")
	ErrPayloadTooLarge    = errors.New("payload exceeds maximum size")
	ErrCollectionNotFound = errors.New("collection not found")
	ErrCollectionExists   = errors.New("collection already exists")
	ErrCollectionNotEmpty = errors.New("collection is not empty")
	ErrInvalidPath        = errors.New("invalid JSON path")
	ErrNotJSONObject      = errors.New("document is not a JSON object")
	ErrInvalidPatch       = errors.New("invalid patch operations")
	ErrPoolStopped        = errors.New("pool is stopped")
	ErrQueueFull          = errors.New("write queue is full")
)
