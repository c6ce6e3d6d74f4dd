package transfer

import (
	"errors"
	"fmt"
	"net"
	"os"
)

var (
	// ErrSizeLimitExceeded is returned when a response body grows past the
	// caller's limit.
	ErrSizeLimitExceeded = errors.New("size limit exceeded")

	// ErrInvalidPath is returned for request paths not starting with "/".
	ErrInvalidPath = errors.New("request path must start with /")
)

// TransportError reports a failed connection, a non-200 response or a broken
// response stream.
type TransportError struct {
	Op         string // "connect", "get" or "read"
	Server     string
	Path       string
	StatusCode int // set for unexpected responses
	Err        error
}

func (e *TransportError) Error() string {
	target := e.Server + e.Path
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s %s: unexpected status %d", e.Op, target, e.StatusCode)
	}
	return fmt.Sprintf("%s %s: %v", e.Op, target, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// Timeout reports whether the failure was a connect or read timeout.
func (e *TransportError) Timeout() bool {
	return isTimeoutError(e.Err)
}

// isTimeoutError reports whether err is a network timeout.
func isTimeoutError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}
	return false
}

// VerificationError means an artifact is not trustworthy: its signature was
// missing or malformed, or it did not match. The message carries no
// transport detail; Cause exposes it for logging.
type VerificationError struct {
	Server string
	Path   string
	cause  error
}

func newVerificationError(server, path string, cause error) *VerificationError {
	return &VerificationError{Server: server, Path: path, cause: cause}
}

func (e *VerificationError) Error() string {
	return fmt.Sprintf("file at '%s%s' failed verification: artifact is not trustworthy", e.Server, e.Path)
}

// Cause returns the underlying failure, if any. It is not reachable
// through errors.Unwrap.
func (e *VerificationError) Cause() error {
	return e.cause
}
