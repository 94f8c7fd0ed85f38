package errors

import (
	"fmt"
	"net/http"
	"testing"

	"sidescreen/internal/core/domain"
)

func TestFromDomain(t *testing.T) {
	tests := []struct {
		kind   domain.ErrorKind
		code   ErrorCode
		status int
	}{
		{domain.KindInvalidConfig, ErrCodeInvalidInput, http.StatusBadRequest},
		{domain.KindNotFound, ErrCodeNotFound, http.StatusNotFound},
		{domain.KindAlreadyStreaming, ErrCodeConflict, http.StatusConflict},
		{domain.KindCapacityExceeded, ErrCodeCapacity, http.StatusTooManyRequests},
		{domain.KindPairingRequired, ErrCodePreconditionFailed, http.StatusPreconditionFailed},
		{domain.KindPairingTimeout, ErrCodeTimeout, http.StatusGatewayTimeout},
		{domain.KindChannelUnavailable, ErrCodeServiceUnavailable, http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			err := fmt.Errorf("handler: %w", domain.NewError("op", tt.kind, "because", nil))
			appErr := FromDomain(err)
			if appErr.Code != tt.code || appErr.HTTPStatus != tt.status {
				t.Fatalf("got %s/%d, want %s/%d", appErr.Code, appErr.HTTPStatus, tt.code, tt.status)
			}
			if appErr.Message != "because" {
				t.Errorf("message = %q", appErr.Message)
			}
			if appErr.Context["kind"] != string(tt.kind) {
				t.Errorf("kind context = %v", appErr.Context["kind"])
			}
		})
	}
}

func TestFromDomainPassThrough(t *testing.T) {
	if FromDomain(nil) != nil {
		t.Fatal("nil error should map to nil")
	}

	orig := NewRateLimitError()
	if FromDomain(orig) != orig {
		t.Error("AppError should pass through unchanged")
	}

	plain := FromDomain(fmt.Errorf("disk on fire"))
	if plain.Code != ErrCodeInternal || plain.HTTPStatus != http.StatusInternalServerError {
		t.Errorf("plain error mapped to %s/%d", plain.Code, plain.HTTPStatus)
	}
}
