package transport

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"strings"
	"time"

	"go.uber.org/zap"

	"sidescreen/internal/core/domain"
	"sidescreen/internal/core/ports"
	"sidescreen/internal/protocol"
)

// streamWire carries length-prefixed envelopes over a byte stream, which is
// what the USB multiplexer hands us once a session to the device app is up.
type streamWire struct {
	conn   net.Conn
	reader *bufio.Reader
}

func (w *streamWire) write(msg protocol.Message, deadline time.Time) error {
	if err := w.conn.SetWriteDeadline(deadline); err != nil {
		return err
	}
	return protocol.WriteFrame(w.conn, msg)
}

func (w *streamWire) read() (protocol.Message, error) {
	return protocol.ReadFrame(w.reader)
}

func (w *streamWire) interrupt() {
	_ = w.conn.SetWriteDeadline(time.Now())
}

func (w *streamWire) close() error {
	return w.conn.Close()
}

// NewStreamChannel wraps an established USB session stream.
func NewStreamChannel(conn net.Conn, cfg Config, logger *zap.SugaredLogger) ports.DeviceChannel {
	w := &streamWire{conn: conn, reader: bufio.NewReaderSize(conn, 64<<10)}
	return newChannel("usb:"+conn.RemoteAddr().String(), w, cfg, logger)
}

// USBOpener dials the local socket the USB multiplexer exposes for a device.
// Device addresses are "unix:///path/to/socket" or "tcp://host:port"; a bare
// host:port is treated as tcp.
type USBOpener struct {
	DialTimeout time.Duration
	Channel     Config
	Logger      *zap.SugaredLogger
}

func NewUSBOpener(dialTimeout time.Duration, cfg Config, logger *zap.SugaredLogger) *USBOpener {
	return &USBOpener{
		DialTimeout: dialTimeout,
		Channel:     cfg,
		Logger:      logger,
	}
}

func (o *USBOpener) Open(ctx context.Context, device domain.Device) (ports.DeviceChannel, error) {
	if device.Address == "" {
		return nil, domain.NewError("usb open", domain.KindChannelUnavailable,
			fmt.Sprintf("device %s has no usb endpoint", device.ID), nil)
	}

	network, address := splitAddress(device.Address)
	dialer := net.Dialer{Timeout: o.DialTimeout}
	conn, err := dialer.DialContext(ctx, network, address)
	if err != nil {
		return nil, domain.NewError("usb open", domain.KindChannelUnavailable,
			fmt.Sprintf("dial %s", device.Address), err)
	}

	o.Logger.Infow("usb session opened",
		"device_id", device.ID,
		"address", device.Address,
	)
	return NewStreamChannel(conn, o.Channel, o.Logger), nil
}

func splitAddress(addr string) (network, address string) {
	if scheme, rest, ok := strings.Cut(addr, "://"); ok {
		return scheme, rest
	}
	return "tcp", addr
}
