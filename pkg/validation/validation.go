package validation

import (
	"fmt"
	"net"
	"net/url"
	"regexp"
	"strings"
	"unicode/utf8"
)

var (
	// IdentifierRegex validates device and source identifiers
	IdentifierRegex = regexp.MustCompile(`^[a-zA-Z0-9._:-]+$`)

	// SessionIDRegex validates derived session identifiers
	SessionIDRegex = regexp.MustCompile(`^ses_[0-9a-f]{20}$`)
)

// ValidateDeviceID validates device ID
func ValidateDeviceID(deviceID string) error {
	return validateIdentifier(deviceID, "device ID")
}

// ValidateSourceID validates source ID
func ValidateSourceID(sourceID string) error {
	return validateIdentifier(sourceID, "source ID")
}

func validateIdentifier(id, field string) error {
	if id == "" {
		return fmt.Errorf("%s is required", field)
	}
	if len(id) > 128 {
		return fmt.Errorf("%s is too long (max 128 characters)", field)
	}
	if !IdentifierRegex.MatchString(id) {
		return fmt.Errorf("invalid %s format", field)
	}
	return nil
}

// ValidateSessionID validates session ID
func ValidateSessionID(sessionID string) error {
	if sessionID == "" {
		return fmt.Errorf("session ID is required")
	}
	if !SessionIDRegex.MatchString(sessionID) {
		return fmt.Errorf("invalid session ID format")
	}
	return nil
}

// ValidateDeviceName validates a human readable device name
func ValidateDeviceName(name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil
	}
	if !utf8.ValidString(name) {
		return fmt.Errorf("device name contains invalid characters")
	}
	return ValidateStringLength(name, 1, 100, "device name")
}

// ValidateTransport validates transport kind
func ValidateTransport(transport string) error {
	switch transport {
	case "usb", "network":
		return nil
	default:
		return fmt.Errorf("invalid transport (must be usb or network)")
	}
}

// ValidateAddress accepts host:port or a ws/wss URL.
func ValidateAddress(addr string) error {
	if addr == "" {
		return fmt.Errorf("address is required")
	}
	if strings.Contains(addr, "://") {
		u, err := url.Parse(addr)
		if err != nil {
			return fmt.Errorf("invalid address: %w", err)
		}
		if u.Scheme != "ws" && u.Scheme != "wss" {
			return fmt.Errorf("invalid address scheme (must be ws or wss)")
		}
		if u.Host == "" {
			return fmt.Errorf("address must have a host")
		}
		return nil
	}
	if _, _, err := net.SplitHostPort(addr); err != nil {
		return fmt.Errorf("invalid address: %w", err)
	}
	return nil
}

// ValidateFPS validates target frame rate
func ValidateFPS(fps, min, max int) error {
	if fps < min || fps > max {
		return fmt.Errorf("fps must be between %d and %d", min, max)
	}
	return nil
}

// ValidateQuality validates compression quality
func ValidateQuality(quality, min, max int) error {
	if quality < min || quality > max {
		return fmt.Errorf("quality must be between %d and %d", min, max)
	}
	return nil
}

// ValidateStringLength validates string length
func ValidateStringLength(s string, min, max int, fieldName string) error {
	length := utf8.RuneCountInString(s)
	if length < min {
		return fmt.Errorf("%s must be at least %d characters", fieldName, min)
	}
	if length > max {
		return fmt.Errorf("%s is too long (max %d characters)", fieldName, max)
	}
	return nil
}
