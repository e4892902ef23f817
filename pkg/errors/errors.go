package errors

import (
	"errors"
	"fmt"
)

// ErrorType represents the class of failure a collection run can hit
type ErrorType string

const (
	ErrorTypeAuth            ErrorType = "auth"
	ErrorTypeTransient       ErrorType = "transient"
	ErrorTypeChallenge       ErrorType = "challenge"
	ErrorTypeCorruption      ErrorType = "corruption"
	ErrorTypeCheckpointWrite ErrorType = "checkpoint_write"
	ErrorTypeStore           ErrorType = "store"
	ErrorTypeInvalidInput    ErrorType = "invalid_input"
	ErrorTypeCancelled       ErrorType = "cancelled"
	ErrorTypeUnknown         ErrorType = "unknown"
)

// Error is a typed failure carrying the operation and subject it happened in
type Error struct {
	Type    ErrorType
	Op      string
	Subject string
	Message string
	Err     error
}

// Sentinels for errors.Is checks. Any *Error of the same type matches.
var (
	ErrAuth            = &Error{Type: ErrorTypeAuth, Message: "authentication failed"}
	ErrTransient       = &Error{Type: ErrorTypeTransient, Message: "transient source failure"}
	ErrChallenge       = &Error{Type: ErrorTypeChallenge, Message: "verification challenge detected"}
	ErrCorruption      = &Error{Type: ErrorTypeCorruption, Message: "corrupt record"}
	ErrCheckpointWrite = &Error{Type: ErrorTypeCheckpointWrite, Message: "checkpoint write failed"}
	ErrInvalidInput    = &Error{Type: ErrorTypeInvalidInput, Message: "invalid input"}
)

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	} else if e.Err != nil {
		msg = msg + ": " + e.Err.Error()
	}

	switch {
	case e.Op != "" && e.Subject != "":
		return fmt.Sprintf("%s error in %s (%s): %s", e.Type, e.Op, e.Subject, msg)
	case e.Op != "":
		return fmt.Sprintf("%s error in %s: %s", e.Type, e.Op, msg)
	default:
		return fmt.Sprintf("%s error: %s", e.Type, msg)
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is the sentinel for this error's type
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Type == e.Type && t.Op == "" && t.Err == nil
}

// New creates a typed error for an operation
func New(errorType ErrorType, op, message string) *Error {
	return &Error{Type: errorType, Op: op, Message: message}
}

// Wrap attaches a type and operation to an underlying error
func Wrap(errorType ErrorType, op string, err error) *Error {
	return &Error{Type: errorType, Op: op, Err: err}
}

// WithSubject returns a copy of the error annotated with the subject
func (e *Error) WithSubject(subject string) *Error {
	cp := *e
	cp.Subject = subject
	return &cp
}

// TypeOf returns the type of the first *Error in err's chain
func TypeOf(err error) ErrorType {
	var typed *Error
	if errors.As(err, &typed) {
		return typed.Type
	}
	return ErrorTypeUnknown
}

// IsRetryable checks if an error type should be retried
func IsRetryable(errorType ErrorType) bool {
	switch errorType {
	case ErrorTypeTransient:
		return true
	case ErrorTypeAuth, ErrorTypeChallenge, ErrorTypeCorruption,
		ErrorTypeCheckpointWrite, ErrorTypeInvalidInput, ErrorTypeCancelled:
		return false
	default:
		return false
	}
}

func IsAuth(err error) bool            { return errors.Is(err, ErrAuth) }
func IsTransient(err error) bool       { return errors.Is(err, ErrTransient) }
func IsCheckpointWrite(err error) bool { return errors.Is(err, ErrCheckpointWrite) }
