package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/jakub-figat/chromatin/internal/apperr"
	"github.com/jakub-figat/chromatin/pkg/models"
)

// Causes a worker attaches when it cancels a running job's context.
var (
	ErrRevoked        = errors.New("job revoked")
	ErrWorkerShutdown = errors.New("worker shutting down")
)

// PanicError carries a recovered handler panic and the stack it came from.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("%v", e.Value)
}

// TimeLimitError reports a handler that outlived the hard time limit.
type TimeLimitError struct {
	Limit time.Duration
}

func (e *TimeLimitError) Error() string {
	return fmt.Sprintf("job exceeded hard time limit of %s", e.Limit)
}

// failureMessage renders err for the job's error_message column: an error
// kind, the message, and the stack for panics, cut to the column size.
func failureMessage(err error) string {
	msg := fmt.Sprintf("%s: %s\n", errorKind(err), err.Error())

	var pe *PanicError
	if errors.As(err, &pe) {
		msg += string(pe.Stack)
	}
	return truncateString(msg, models.ErrorMessageMaxLen)
}

func errorKind(err error) string {
	var (
		nf *apperr.NotFoundError
		ve *apperr.ValidationError
		pd *apperr.PermissionDeniedError
		pe *PanicError
		te *TimeLimitError
	)
	switch {
	case errors.As(err, &ve):
		return "ValidationError"
	case errors.As(err, &nf):
		return "NotFoundError"
	case errors.As(err, &pd):
		return "PermissionDeniedError"
	case errors.As(err, &pe):
		return "Panic"
	case errors.As(err, &te):
		return "TimeLimitExceeded"
	case errors.Is(err, context.DeadlineExceeded):
		return "SoftTimeLimitExceeded"
	case errors.Is(err, context.Canceled):
		return "Terminated"
	}
	return "Error"
}

// truncateString truncates s to maxBytes without splitting UTF-8 runes.
func truncateString(s string, maxBytes int) string {
	if len(s) <= maxBytes {
		return s
	}
	for maxBytes > 0 && !utf8.RuneStart(s[maxBytes]) {
		maxBytes--
	}
	return s[:maxBytes]
}
