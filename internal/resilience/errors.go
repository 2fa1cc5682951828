package resilience

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"syscall"

	"github.com/rotisserie/eris"
)

// ErrExhausted matches every *ExhaustedError.
var ErrExhausted = eris.New("resilience: retries exhausted")

// FetchKind classifies a failed remote call.
type FetchKind string

// Fetch error kinds. All of them are retryable.
const (
	KindTimeout   FetchKind = "timeout"
	KindTransport FetchKind = "transport"
	KindMalformed FetchKind = "malformed"
	KindStatus    FetchKind = "status"
)

// FetchError is a failed remote call: the request timed out, the transport
// failed, the server answered with a non-2xx status or with a body that is
// not valid JSON.
type FetchError struct {
	Kind       FetchKind
	Op         string
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	b.WriteString(string(e.Kind))
	if e.StatusCode != 0 {
		fmt.Fprintf(&b, " %d", e.StatusCode)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// NewFetchError wraps err as a fetch failure of the given kind.
func NewFetchError(kind FetchKind, op string, err error) *FetchError {
	return &FetchError{Kind: kind, Op: op, Err: err}
}

// StatusError reports a non-2xx response. body may be empty.
func StatusError(op string, statusCode int, body string) *FetchError {
	var err error
	if body != "" {
		err = errors.New(body)
	}
	return &FetchError{Kind: KindStatus, Op: op, StatusCode: statusCode, Err: err}
}

// TransportError classifies an error returned by an HTTP client as a timeout
// or a transport failure.
func TransportError(op string, err error) *FetchError {
	kind := KindTransport
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		kind = KindTimeout
	}
	return &FetchError{Kind: kind, Op: op, Err: err}
}

// ExhaustedError is returned once every attempt of an operation has failed.
// It wraps the last attempt's error.
type ExhaustedError struct {
	Attempts int
	Err      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("resilience: exhausted after %d attempts: %v", e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() error {
	return e.Err
}

// Is makes errors.Is(err, ErrExhausted) true for every ExhaustedError.
func (e *ExhaustedError) Is(target error) bool {
	return target == ErrExhausted
}

// IsExhausted reports whether err (or any error in its chain) is an
// ExhaustedError.
func IsExhausted(err error) bool {
	return errors.Is(err, ErrExhausted)
}

// IsRetryable returns true for fetch errors, attempt timeouts and common
// transient network failures (timeouts, connection resets, DNS failures).
// Cancellation and already exhausted operations are not retryable.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || IsExhausted(err) {
		return false
	}

	var fe *FetchError
	if errors.As(err, &fe) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	if errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNABORTED) {
		return true
	}

	// String-based heuristics for wrapped errors from HTTP clients.
	msg := strings.ToLower(err.Error())
	transientPatterns := []string{
		"connection reset by peer",
		"broken pipe",
		"temporary failure in name resolution",
		"no such host",
		"tls handshake timeout",
		"i/o timeout",
		"server closed idle connection",
		"unexpected eof",
	}
	for _, p := range transientPatterns {
		if strings.Contains(msg, p) {
			return true
		}
	}

	return false
}

// KindOf returns the FetchKind in err's chain, or "" when there is none.
func KindOf(err error) FetchKind {
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	return ""
}
