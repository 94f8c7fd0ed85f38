package domain

import "time"

type LifecycleEventType string

const (
	EventSessionStarted LifecycleEventType = "session.started"
	EventSessionStopped LifecycleEventType = "session.stopped"
	EventSessionError   LifecycleEventType = "session.error"

	EventDeviceConnected    LifecycleEventType = "device.connected"
	EventDevicePaired       LifecycleEventType = "device.paired"
	EventDeviceDisconnected LifecycleEventType = "device.disconnected"
)

type LifecycleEvent struct {
	Type      LifecycleEventType `json:"type"`
	SessionID SessionID          `json:"session_id,omitempty"`
	DeviceID  DeviceID           `json:"device_id,omitempty"`
	SourceID  SourceID           `json:"source_id,omitempty"`
	Kind      ErrorKind          `json:"kind,omitempty"`
	Reason    string             `json:"reason,omitempty"`
	Timestamp time.Time          `json:"timestamp"`
}
