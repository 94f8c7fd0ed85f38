package ports

import (
	"context"
	"time"

	"sidescreen/internal/core/domain"
)

type SessionService interface {
	StartSession(ctx context.Context, device domain.Device, source domain.FrameSourceDescriptor, cfg domain.SessionConfig) (domain.SessionID, error)
	StopSession(ctx context.Context, id domain.SessionID) (bool, error)
	RequestStop(id domain.SessionID) (<-chan struct{}, bool)
	UpdateQuality(id domain.SessionID, quality, fps int) (domain.QualitySettings, error)
	ListActiveSessions() []domain.SessionSnapshot
	GetSession(id domain.SessionID) (domain.SessionSnapshot, bool)
}

type DeviceService interface {
	Connect(ctx context.Context, device domain.Device) error
	Pair(ctx context.Context, id domain.DeviceID) error
	Disconnect(id domain.DeviceID)
	ForgetDevice(ctx context.Context, id domain.DeviceID) error
	Device(id domain.DeviceID) (domain.DeviceStatus, bool)
	ListDevices() []domain.DeviceStatus
}

// InputInjector performs OS-level input injection on the host.
type InputInjector interface {
	Forward(ctx context.Context, event domain.HostInputEvent) error
}

// MetricsRecorder receives engine measurements. Implementations must not block.
type MetricsRecorder interface {
	SessionStarted(device domain.DeviceID)
	SessionEnded(device domain.DeviceID, state domain.SessionState)
	FrameSent(bytes int, sendTime time.Duration)
	FrameSkipped(reason string)
	CompressFailed()
	FrameCompressed(d time.Duration)
	FrameCaptured(source domain.SourceID, d time.Duration, err error)
	PairingFinished(outcome string, d time.Duration)
	DeviceConnected(transport domain.TransportKind)
	DeviceDisconnected(transport domain.TransportKind)
	InputDropped(reason string)
}
