package domain

import (
	"errors"
	"strings"
)

// ErrorKind classifies failures returned from public entrypoints.
type ErrorKind string

const (
	KindChannelUnavailable ErrorKind = "channel_unavailable"
	KindPairingTimeout     ErrorKind = "pairing_timeout"
	KindPairingRejected    ErrorKind = "pairing_rejected"
	KindAlreadyStreaming   ErrorKind = "already_streaming"
	KindCapacityExceeded   ErrorKind = "capacity_exceeded"
	KindPairingRequired    ErrorKind = "pairing_required"
	KindInvalidConfig      ErrorKind = "invalid_config"
	KindSourceUnavailable  ErrorKind = "source_unavailable"
	KindCompressFailed     ErrorKind = "compress_failed"
	KindChannelFailed      ErrorKind = "channel_failed"
	KindStreamRejected     ErrorKind = "stream_rejected"
	KindNotFound           ErrorKind = "not_found"
)

// Error carries a kind for programmatic handling and a reason a UI can render.
type Error struct {
	Op     string
	Kind   ErrorKind
	Reason string
	Err    error
}

func NewError(op string, kind ErrorKind, reason string, cause error) *Error {
	return &Error{Op: op, Kind: kind, Reason: reason, Err: cause}
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	b.WriteString(string(e.Kind))
	if e.Reason != "" {
		b.WriteString(": ")
		b.WriteString(e.Reason)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error of the same kind, so the sentinels below work with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

var (
	ErrChannelUnavailable = &Error{Kind: KindChannelUnavailable}
	ErrPairingTimeout     = &Error{Kind: KindPairingTimeout}
	ErrPairingRejected    = &Error{Kind: KindPairingRejected}
	ErrAlreadyStreaming   = &Error{Kind: KindAlreadyStreaming}
	ErrCapacityExceeded   = &Error{Kind: KindCapacityExceeded}
	ErrPairingRequired    = &Error{Kind: KindPairingRequired}
	ErrInvalidConfig      = &Error{Kind: KindInvalidConfig}
	ErrSourceUnavailable  = &Error{Kind: KindSourceUnavailable}
	ErrCompressFailed     = &Error{Kind: KindCompressFailed}
	ErrChannelFailed      = &Error{Kind: KindChannelFailed}
	ErrStreamRejected     = &Error{Kind: KindStreamRejected}
	ErrNotFound           = &Error{Kind: KindNotFound}
)

// KindOf returns the kind of the first *Error in err's chain, or "" if there is none.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// ReasonOf returns a human-readable reason suitable for display.
func ReasonOf(err error) string {
	var e *Error
	if errors.As(err, &e) && e.Reason != "" {
		return e.Reason
	}
	if err == nil {
		return ""
	}
	return err.Error()
}
