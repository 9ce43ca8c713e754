package repositories

import "fmt"

// ErrorKind categorises repository failures for service-level translation.
type ErrorKind int

const (
	ErrorKindUnknown ErrorKind = iota
	ErrorKindNotFound
	ErrorKindConflict
	ErrorKindUnavailable
)

// Error is the concrete RepositoryError implementation shared by the storage
// backends.
type Error struct {
	Kind    ErrorKind
	Op      string
	Message string
	Cause   error
}

// NewError builds a categorised repository error.
func NewError(kind ErrorKind, op, message string, cause error) *Error {
	return &Error{Kind: kind, Op: op, Message: message, Cause: cause}
}

func (e *Error) Error() string {
	if e == nil {
		return "repository: <nil>"
	}
	msg := e.Message
	if msg == "" && e.Cause != nil {
		msg = e.Cause.Error()
	}
	if e.Op != "" {
		return fmt.Sprintf("repository %s: %s", e.Op, msg)
	}
	return fmt.Sprintf("repository: %s", msg)
}

// Unwrap exposes the underlying cause for errors.Is/As chains.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// IsNotFound implements RepositoryError.
func (e *Error) IsNotFound() bool { return e != nil && e.Kind == ErrorKindNotFound }

// IsConflict implements RepositoryError.
func (e *Error) IsConflict() bool { return e != nil && e.Kind == ErrorKindConflict }

// IsUnavailable implements RepositoryError.
func (e *Error) IsUnavailable() bool { return e != nil && e.Kind == ErrorKindUnavailable }
