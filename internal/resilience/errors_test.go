package resilience

import (
	"errors"
	"fmt"
	"syscall"
	"testing"

	"github.com/rotisserie/eris"
)

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"plain", errors.New("boom"), false},
		{"transient upstream", NewTransientError("llm", errors.New("x"), 429), true},
		{"wrapped transient", eris.Wrap(NewTransientError("llm", errors.New("x"), 503), "call"), true},
		{"status 500", StatusError("vector", 500, "oops"), true},
		{"status 404", StatusError("vector", 404, "missing"), false},
		{"conn refused", fmt.Errorf("dial: %w", syscall.ECONNREFUSED), true},
		{"reset text", errors.New("read tcp: connection reset by peer"), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsTransient(tt.err); got != tt.want {
				t.Errorf("IsTransient(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestStatusError_Message(t *testing.T) {
	err := StatusError("similarity", 502, "  bad gateway\n")
	if got := err.Error(); got != "similarity: status 502: bad gateway" {
		t.Errorf("unexpected message %q", got)
	}

	var ue *UpstreamError
	if !errors.As(eris.Wrap(err, "outer"), &ue) {
		t.Fatal("expected UpstreamError in chain")
	}
	if ue.Upstream != "similarity" {
		t.Errorf("unexpected upstream %q", ue.Upstream)
	}
}

func TestIsTransientHTTPStatus(t *testing.T) {
	for _, code := range []int{408, 429, 500, 502, 503, 504} {
		if !IsTransientHTTPStatus(code) {
			t.Errorf("%d should be transient", code)
		}
	}
	for _, code := range []int{200, 400, 401, 403, 404, 422} {
		if IsTransientHTTPStatus(code) {
			t.Errorf("%d should not be transient", code)
		}
	}
}
