package errors

import (
	"sidescreen/internal/core/domain"
)

var kindCode = map[domain.ErrorKind]ErrorCode{
	domain.KindInvalidConfig:      ErrCodeInvalidInput,
	domain.KindNotFound:           ErrCodeNotFound,
	domain.KindAlreadyStreaming:   ErrCodeConflict,
	domain.KindCapacityExceeded:   ErrCodeCapacity,
	domain.KindPairingRequired:    ErrCodePreconditionFailed,
	domain.KindPairingRejected:    ErrCodePreconditionFailed,
	domain.KindStreamRejected:     ErrCodePreconditionFailed,
	domain.KindPairingTimeout:     ErrCodeTimeout,
	domain.KindChannelUnavailable: ErrCodeServiceUnavailable,
	domain.KindChannelFailed:      ErrCodeServiceUnavailable,
	domain.KindSourceUnavailable:  ErrCodeServiceUnavailable,
}

// FromDomain maps an engine error onto an AppError. Errors that are already
// AppErrors pass through; errors without a domain kind become internal errors.
func FromDomain(err error) *AppError {
	if err == nil {
		return nil
	}
	if appErr := GetAppError(err); appErr != nil {
		return appErr
	}

	kind := domain.KindOf(err)
	code, ok := kindCode[kind]
	if !ok {
		return WrapError(err, ErrCodeInternal, "internal server error")
	}
	return WrapError(err, code, domain.ReasonOf(err)).WithContext("kind", string(kind))
}
