// Package predict talks to the external structure prediction service and
// parses the confidence values out of the structures it returns.
package predict

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sony/gobreaker"
)

// Source is the provenance tag stored with structures from ESMFold.
const Source = "esmfold"

const (
	maxDetailLen = 200
	maxBodyBytes = 64 << 20
)

// Sentinel errors for prediction client failures.
var (
	ErrServiceError = errors.New("prediction service error")
	ErrUnreachable  = errors.New("prediction service unreachable")
	ErrTimeout      = errors.New("prediction service timeout")
)

// StatusError is a non-2xx response from the prediction service.
type StatusError struct {
	StatusCode int
	Detail     string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("status %d: %s", e.StatusCode, e.Detail)
}

func (e *StatusError) Unwrap() error { return ErrServiceError }

// Predictor turns a residue string into a structure payload in PDB format.
type Predictor interface {
	Predict(ctx context.Context, residues string) (string, error)
}

// ESMFoldClient implements Predictor against the ESMFold HTTP API. Calls go
// through a circuit breaker so a dead upstream fails jobs fast instead of
// holding workers for the full timeout.
type ESMFoldClient struct {
	url     string
	client  *http.Client
	breaker *gobreaker.CircuitBreaker
}

// NewESMFoldClient creates a client. The timeout covers the whole request and
// should be much larger than typical API timeouts; folding is slow.
func NewESMFoldClient(apiURL string, timeout time.Duration) *ESMFoldClient {
	return &ESMFoldClient{
		url:    apiURL,
		client: &http.Client{Timeout: timeout},
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "esmfold",
			MaxRequests: 1,
			Interval:    time.Minute,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
			IsSuccessful: isBreakerSuccess,
		}),
	}
}

// Predict posts the residues as a form field and returns the response body.
func (c *ESMFoldClient) Predict(ctx context.Context, residues string) (string, error) {
	out, err := c.breaker.Execute(func() (interface{}, error) {
		return c.do(ctx, residues)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return "", fmt.Errorf("%w: %v", ErrUnreachable, err)
		}
		return "", err
	}
	return out.(string), nil
}

func (c *ESMFoldClient) do(ctx context.Context, residues string) (string, error) {
	form := url.Values{"sequence": {residues}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "text/plain")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", classifyError(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return "", classifyError(err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		detail := strings.TrimSpace(string(body))
		if detail == "" {
			detail = http.StatusText(resp.StatusCode)
		}
		return "", &StatusError{StatusCode: resp.StatusCode, Detail: truncateDetail(detail)}
	}

	return string(body), nil
}

// isBreakerSuccess keeps client errors and caller cancellation from tripping
// the breaker; only upstream faults count.
func isBreakerSuccess(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return true
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.StatusCode < 500
	}
	return false
}

// classifyError maps transport-level errors to sentinel errors. Context errors
// stay in the chain so callers can tell cancellation from upstream failure.
func classifyError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %w", ErrTimeout, err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}

	return fmt.Errorf("%w: %v", ErrUnreachable, err)
}

func truncateDetail(s string) string {
	if len(s) <= maxDetailLen {
		return s
	}
	cut := maxDetailLen
	for cut > 0 && !isRuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}

func isRuneStart(b byte) bool { return b&0xC0 != 0x80 }

var _ Predictor = (*ESMFoldClient)(nil)
