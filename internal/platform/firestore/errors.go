package firestore

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Error annotates a Firestore failure with the operation and its classification.
type Error struct {
	Op   string
	Code codes.Code
	Err  error
}

func (e *Error) Error() string {
	if e.Op != "" {
		return fmt.Sprintf("firestore %s: %v", e.Op, e.Err)
	}
	return "firestore: " + e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

// Unavailable reports whether the failure is transient.
func (e *Error) Unavailable() bool {
	switch e.Code {
	case codes.Unavailable, codes.ResourceExhausted, codes.Internal, codes.Aborted:
		return true
	default:
		return false
	}
}

// WrapError annotates err with op. Context cancellations are passed through unchanged so
// callers can match them with errors.Is.
func WrapError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	switch code := status.Code(err); code {
	case codes.Canceled:
		return context.Canceled
	case codes.DeadlineExceeded:
		return context.DeadlineExceeded
	default:
		var existing *Error
		if errors.As(err, &existing) {
			return existing
		}
		return &Error{Op: op, Code: code, Err: err}
	}
}

// IsNotFound reports whether err is a Firestore NotFound.
func IsNotFound(err error) bool {
	var fsErr *Error
	if errors.As(err, &fsErr) {
		return fsErr.Code == codes.NotFound
	}
	return status.Code(err) == codes.NotFound
}

// IsUnavailable reports whether err is a transient Firestore failure.
func IsUnavailable(err error) bool {
	var fsErr *Error
	return errors.As(err, &fsErr) && fsErr.Unavailable()
}
