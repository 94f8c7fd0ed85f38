package validation

import (
	"strings"
	"testing"
)

func TestValidateDeviceID(t *testing.T) {
	tests := []struct {
		name     string
		deviceID string
		wantErr  bool
	}{
		{"valid", "tablet-01", false},
		{"valid serial", "R58M12ABC.usb:1", false},
		{"empty", "", true},
		{"too long", strings.Repeat("a", 129), true},
		{"invalid chars", "tablet 01", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateDeviceID(tt.deviceID)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateDeviceID() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidateSessionID(t *testing.T) {
	tests := []struct {
		name      string
		sessionID string
		wantErr   bool
	}{
		{"valid", "ses_0123456789abcdef0123", false},
		{"empty", "", true},
		{"missing prefix", "0123456789abcdef0123", true},
		{"upper hex", "ses_0123456789ABCDEF0123", true},
		{"short", "ses_0123", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateSessionID(tt.sessionID)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateSessionID() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidateAddress(t *testing.T) {
	tests := []struct {
		name    string
		addr    string
		wantErr bool
	}{
		{"host port", "127.0.0.1:27183", false},
		{"websocket url", "ws://192.168.1.20:7421/display", false},
		{"secure websocket", "wss://tablet.local/display", false},
		{"empty", "", true},
		{"missing port", "127.0.0.1", true},
		{"http scheme", "http://tablet.local", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateAddress(tt.addr)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateAddress() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidateTransport(t *testing.T) {
	if err := ValidateTransport("usb"); err != nil {
		t.Errorf("usb should be valid: %v", err)
	}
	if err := ValidateTransport("network"); err != nil {
		t.Errorf("network should be valid: %v", err)
	}
	if err := ValidateTransport("bluetooth"); err == nil {
		t.Error("bluetooth should be rejected")
	}
}

func TestValidateFPSAndQuality(t *testing.T) {
	if err := ValidateFPS(30, 1, 120); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if err := ValidateFPS(0, 1, 120); err == nil {
		t.Error("expected error for fps 0")
	}
	if err := ValidateQuality(101, 1, 100); err == nil {
		t.Error("expected error for quality 101")
	}
}

func TestValidateDeviceName(t *testing.T) {
	if err := ValidateDeviceName(""); err != nil {
		t.Errorf("empty name is optional: %v", err)
	}
	if err := ValidateDeviceName("Living room tablet"); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if err := ValidateDeviceName(strings.Repeat("x", 101)); err == nil {
		t.Error("expected error for long name")
	}
}
