package domain

import "time"

type PairingState string

const (
	PairingUnpaired  PairingState = "unpaired"
	PairingPairing   PairingState = "pairing"
	PairingPaired    PairingState = "paired"
	PairingStreaming PairingState = "streaming"
)

// Trusted reports whether sessions may be started in this state.
func (s PairingState) Trusted() bool {
	return s == PairingPaired || s == PairingStreaming
}

// HostIdentity is advertised to devices in pairing requests.
type HostIdentity struct {
	ID      string
	Name    string
	Version string
}

// TrustRecord remembers a device that accepted pairing before.
type TrustRecord struct {
	DeviceID  DeviceID      `json:"device_id"`
	Name      string        `json:"name"`
	Transport TransportKind `json:"transport"`
	PairedAt  time.Time     `json:"paired_at"`
	LastSeen  time.Time     `json:"last_seen"`
}
