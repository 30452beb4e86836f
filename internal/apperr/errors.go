// Package apperr defines the domain error taxonomy shared by the job and
// sequence services and mapped to HTTP status codes by the API layer.
package apperr

import (
	"errors"
	"fmt"
)

// NotFoundError reports a missing resource. It is also returned when the
// resource exists but belongs to another user.
type NotFoundError struct {
	Resource string
	ID       any
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s with id %v not found", e.Resource, e.ID)
}

// ValidationError reports bad input or an unusable upstream response.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// PermissionDeniedError reports an action the caller may not perform on a
// resource it can see.
type PermissionDeniedError struct {
	Action   string
	Resource string
}

func (e *PermissionDeniedError) Error() string {
	return fmt.Sprintf("Permission denied: cannot %s %s", e.Action, e.Resource)
}

func NotFound(resource string, id any) error {
	return &NotFoundError{Resource: resource, ID: id}
}

func Validation(format string, args ...any) error {
	return &ValidationError{Message: fmt.Sprintf(format, args...)}
}

func PermissionDenied(action, resource string) error {
	return &PermissionDeniedError{Action: action, Resource: resource}
}

func IsNotFound(err error) bool {
	var e *NotFoundError
	return errors.As(err, &e)
}

func IsValidation(err error) bool {
	var e *ValidationError
	return errors.As(err, &e)
}

func IsPermissionDenied(err error) bool {
	var e *PermissionDeniedError
	return errors.As(err, &e)
}
