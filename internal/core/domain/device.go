package domain

import "time"

type DeviceID string

type TransportKind string

const (
	TransportUSB     TransportKind = "usb"
	TransportNetwork TransportKind = "network"
)

func (t TransportKind) Valid() bool {
	return t == TransportUSB || t == TransportNetwork
}

type DeviceCapabilities struct {
	Touch     bool
	MaxWidth  int
	MaxHeight int
	Codecs    []string
}

// Device is owned by the discovery layer; the core only reads it.
type Device struct {
	ID           DeviceID
	Name         string
	Transport    TransportKind
	Address      string
	Capabilities DeviceCapabilities
}

func (d Device) SupportsCodec(codec string) bool {
	if len(d.Capabilities.Codecs) == 0 {
		return true
	}
	for _, c := range d.Capabilities.Codecs {
		if c == codec {
			return true
		}
	}
	return false
}

// DeviceStatus is a point-in-time view of a device known to the coordinator.
type DeviceStatus struct {
	Device      Device
	State       PairingState
	Connected   bool
	Trusted     bool
	ConnectedAt time.Time
	LastSeen    time.Time
	Streams     int
}
