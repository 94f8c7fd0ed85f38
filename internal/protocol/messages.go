// Package protocol defines the messages exchanged between the host and a
// display device and their binary encoding.
package protocol

import "fmt"

type MessageType uint8

const (
	TypePairingRequest MessageType = iota + 1
	TypePairingResponse
	TypeStreamStart
	TypeStreamStartAck
	TypeStreamStop
	TypeFrameData
	TypeInputEvent
	TypeHeartbeat
)

func (t MessageType) String() string {
	switch t {
	case TypePairingRequest:
		return "pairing_request"
	case TypePairingResponse:
		return "pairing_response"
	case TypeStreamStart:
		return "stream_start"
	case TypeStreamStartAck:
		return "stream_start_ack"
	case TypeStreamStop:
		return "stream_stop"
	case TypeFrameData:
		return "frame_data"
	case TypeInputEvent:
		return "input_event"
	case TypeHeartbeat:
		return "heartbeat"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(t))
	}
}

func (t MessageType) Valid() bool {
	return t >= TypePairingRequest && t <= TypeHeartbeat
}

// Message is one typed unit on a device channel.
type Message struct {
	Type    MessageType
	Payload []byte
}

// Payload is implemented by every message body.
type Payload interface {
	MessageType() MessageType
	Marshal() []byte
	Unmarshal(b []byte) error
}

// NewMessage encodes p into a Message.
func NewMessage(p Payload) Message {
	return Message{Type: p.MessageType(), Payload: p.Marshal()}
}

// Decode unmarshals msg into p after checking the type matches.
func Decode(msg Message, p Payload) error {
	if msg.Type != p.MessageType() {
		return fmt.Errorf("expected %s message, got %s", p.MessageType(), msg.Type)
	}
	if err := p.Unmarshal(msg.Payload); err != nil {
		return fmt.Errorf("decode %s: %w", msg.Type, err)
	}
	return nil
}

// PairingRequest initiates trust with a device.
type PairingRequest struct {
	HostID   string
	HostName string
	Version  string
	Nonce    string
	MaxFPS   int
	Codecs   []string
	Trusted  bool // the device accepted this host before
}

type PairingResponse struct {
	Nonce      string
	Accepted   bool
	Reason     string
	DeviceName string
}

type StreamStart struct {
	StreamID string
	Width    int
	Height   int
	Format   string
	FPS      int
	Quality  int
}

type StreamStartAck struct {
	StreamID string
	Accepted bool
	Reason   string
}

type StreamStop struct {
	StreamID string
	Reason   string
}

type FrameData struct {
	StreamID  string
	Seq       uint64
	Width     int
	Height    int
	Format    string
	Timestamp int64 // unix microseconds at capture
	Data      []byte
}

type InputEvent struct {
	StreamID  string
	Kind      string
	Action    string
	X         float64
	Y         float64
	Pressure  float64
	ScrollDX  float64
	ScrollDY  float64
	Timestamp int64 // unix microseconds on the device clock
}

type Heartbeat struct {
	Timestamp int64
	Seq       uint64
}

func (*PairingRequest) MessageType() MessageType  { return TypePairingRequest }
func (*PairingResponse) MessageType() MessageType { return TypePairingResponse }
func (*StreamStart) MessageType() MessageType     { return TypeStreamStart }
func (*StreamStartAck) MessageType() MessageType  { return TypeStreamStartAck }
func (*StreamStop) MessageType() MessageType      { return TypeStreamStop }
func (*FrameData) MessageType() MessageType       { return TypeFrameData }
func (*InputEvent) MessageType() MessageType      { return TypeInputEvent }
func (*Heartbeat) MessageType() MessageType       { return TypeHeartbeat }
