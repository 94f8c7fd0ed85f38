package domain

import "time"

type InputKind string

const (
	InputTouch  InputKind = "touch"
	InputMouse  InputKind = "mouse"
	InputScroll InputKind = "scroll"
)

type InputAction string

const (
	ActionDown   InputAction = "down"
	ActionMove   InputAction = "move"
	ActionUp     InputAction = "up"
	ActionCancel InputAction = "cancel"
	ActionWheel  InputAction = "wheel"
)

// InputEvent arrives from a device with coordinates normalized to [0,1].
type InputEvent struct {
	StreamID  SessionID // optional, selects the session when a device has several
	Kind      InputKind
	Action    InputAction
	X         float64
	Y         float64
	Pressure  float64
	ScrollDX  float64
	ScrollDY  float64
	Timestamp time.Time
}

// Continuous reports whether dropping the event loses no pointer state.
func (e InputEvent) Continuous() bool {
	return e.Action == ActionMove || e.Action == ActionWheel
}

// HostInputEvent is an InputEvent mapped into host desktop coordinates.
type HostInputEvent struct {
	DeviceID  DeviceID
	SourceID  SourceID
	Kind      InputKind
	Action    InputAction
	X         int
	Y         int
	Pressure  float64
	ScrollDX  float64
	ScrollDY  float64
	Timestamp time.Time
}
