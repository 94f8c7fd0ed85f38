package ports

import (
	"context"

	"sidescreen/internal/core/domain"
	"sidescreen/internal/protocol"
)

// DeviceChannel is a bidirectional message transport to one device.
// Send returns within a bounded time or fails.
type DeviceChannel interface {
	Send(ctx context.Context, msgType protocol.MessageType, payload []byte) error
	TryReceive() (protocol.Message, bool)
	Receive(ctx context.Context) (protocol.Message, error)
	// Done is closed once the channel is closed or has failed.
	Done() <-chan struct{}
	Err() error
	Close() error
}

// ChannelOpener opens channels for one transport kind.
type ChannelOpener interface {
	Open(ctx context.Context, device domain.Device) (DeviceChannel, error)
}
