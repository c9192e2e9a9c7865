package errors

import (
	"fmt"
	"net/http"
	"testing"
)

func TestHasCode(t *testing.T) {
	inner := AdapterDelivery("slack", fmt.Errorf("connection refused"))
	wrapped := fmt.Errorf("notify: %w", inner)

	tests := []struct {
		name string
		err  error
		code string
		want bool
	}{
		{name: "direct", err: inner, code: ErrCodeAdapterDelivery, want: true},
		{name: "wrapped by fmt", err: wrapped, code: ErrCodeAdapterDelivery, want: true},
		{name: "different code", err: inner, code: ErrCodeConfiguration, want: false},
		{name: "nested app errors", err: Wrap(ConfigurationError("bad", nil), ErrCodeInternal, "outer", 500), code: ErrCodeConfiguration, want: true},
		{name: "plain error", err: fmt.Errorf("boom"), code: ErrCodeInternal, want: false},
		{name: "nil", err: nil, code: ErrCodeInternal, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := HasCode(tt.err, tt.code); got != tt.want {
				t.Errorf("HasCode() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestConstructors(t *testing.T) {
	cfgErr := ConfigurationError("invalid rule set", []string{"threshold"})
	if cfgErr.StatusCode != http.StatusUnprocessableEntity {
		t.Errorf("ConfigurationError status = %d", cfgErr.StatusCode)
	}
	if cfgErr.Details == nil {
		t.Error("ConfigurationError lost details")
	}

	snapErr := SnapshotMismatch("missing captured_at", nil)
	if snapErr.Error() != "missing captured_at" {
		t.Errorf("SnapshotMismatch().Error() = %q", snapErr.Error())
	}

	delErr := AdapterDelivery("email", fmt.Errorf("timeout"))
	if delErr.Error() != "delivery via email failed: timeout" {
		t.Errorf("AdapterDelivery().Error() = %q", delErr.Error())
	}
}
