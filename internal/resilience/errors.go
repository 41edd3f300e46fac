package resilience

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"syscall"
)

// UpstreamError reports a failed call to an external service.
type UpstreamError struct {
	Upstream   string
	StatusCode int
	Transient  bool
	Err        error
}

func (e *UpstreamError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s: status %d: %v", e.Upstream, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Upstream, e.Err)
}

func (e *UpstreamError) Unwrap() error {
	return e.Err
}

// NewTransientError marks err from upstream as safe to retry.
func NewTransientError(upstream string, err error, statusCode int) *UpstreamError {
	return &UpstreamError{Upstream: upstream, StatusCode: statusCode, Transient: true, Err: err}
}

// StatusError builds an UpstreamError for a non-2xx response; the status code
// decides whether it is transient.
func StatusError(upstream string, statusCode int, body string) *UpstreamError {
	if len(body) > 512 {
		body = body[:512]
	}
	return &UpstreamError{
		Upstream:   upstream,
		StatusCode: statusCode,
		Transient:  IsTransientHTTPStatus(statusCode),
		Err:        errors.New(strings.TrimSpace(body)),
	}
}

var transientMessages = []string{
	"connection reset by peer",
	"broken pipe",
	"temporary failure in name resolution",
	"tls handshake timeout",
	"i/o timeout",
	"server closed idle connection",
	"unexpected eof",
}

// IsTransient reports whether err is worth retrying: a transient
// UpstreamError, a network timeout, a refused or reset connection, or an
// error text matching a known transient failure.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	var ue *UpstreamError
	if errors.As(err, &ue) {
		return ue.Transient
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	if errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.ECONNREFUSED) {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, m := range transientMessages {
		if strings.Contains(msg, m) {
			return true
		}
	}
	return false
}

// IsTransientHTTPStatus reports whether a response status is worth retrying.
func IsTransientHTTPStatus(code int) bool {
	switch code {
	case 408, 425, 429, 500, 502, 503, 504:
		return true
	}
	return false
}
