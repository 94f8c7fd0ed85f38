package transport

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"sidescreen/internal/core/domain"
	"sidescreen/internal/core/ports"
	"sidescreen/internal/protocol"
)

type WebSocketConfig struct {
	DevicePath     string
	DialTimeout    time.Duration
	PingInterval   time.Duration
	PongTimeout    time.Duration
	MaxMessageSize int64
}

func DefaultWebSocketConfig() WebSocketConfig {
	return WebSocketConfig{
		DevicePath:     "/display",
		DialTimeout:    5 * time.Second,
		PingInterval:   10 * time.Second,
		PongTimeout:    30 * time.Second,
		MaxMessageSize: 1 << 20,
	}
}

// wsWire sends each envelope as one binary message. Pings run on their own
// ticker; WriteControl is safe alongside the data writer.
type wsWire struct {
	conn *websocket.Conn
	cfg  WebSocketConfig
	stop chan struct{}
	once sync.Once
}

func newWSWire(conn *websocket.Conn, cfg WebSocketConfig) *wsWire {
	w := &wsWire{conn: conn, cfg: cfg, stop: make(chan struct{})}

	// frames flow host to device; inbound limit only guards against garbage
	conn.SetReadLimit(cfg.MaxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(cfg.PongTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(cfg.PongTimeout))
	})

	go w.pingLoop()
	return w
}

func (w *wsWire) write(msg protocol.Message, deadline time.Time) error {
	if err := w.conn.SetWriteDeadline(deadline); err != nil {
		return err
	}
	return w.conn.WriteMessage(websocket.BinaryMessage, protocol.MarshalEnvelope(msg))
}

func (w *wsWire) read() (protocol.Message, error) {
	for {
		kind, data, err := w.conn.ReadMessage()
		if err != nil {
			return protocol.Message{}, err
		}
		_ = w.conn.SetReadDeadline(time.Now().Add(w.cfg.PongTimeout))
		if kind != websocket.BinaryMessage {
			continue
		}
		return protocol.UnmarshalEnvelope(data)
	}
}

func (w *wsWire) interrupt() {
	_ = w.conn.UnderlyingConn().SetWriteDeadline(time.Now())
}

func (w *wsWire) close() error {
	w.once.Do(func() { close(w.stop) })
	_ = w.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	return w.conn.Close()
}

func (w *wsWire) pingLoop() {
	ticker := time.NewTicker(w.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-w.stop:
			return
		case <-ticker.C:
			if err := w.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(w.cfg.PingInterval)); err != nil {
				return
			}
		}
	}
}

// NewWebSocketChannel wraps an established websocket connection.
func NewWebSocketChannel(conn *websocket.Conn, cfg WebSocketConfig, chCfg Config, logger *zap.SugaredLogger) ports.DeviceChannel {
	return newChannel("ws:"+conn.RemoteAddr().String(), newWSWire(conn, cfg), chCfg, logger)
}

// NetworkOpener opens network channels. Devices that dialed in through a
// DeviceListener are handed over from the listener; others are dialed at
// ws://<address><DevicePath>.
type NetworkOpener struct {
	cfg      WebSocketConfig
	chCfg    Config
	listener *DeviceListener
	dialer   *websocket.Dialer
	logger   *zap.SugaredLogger
}

func NewNetworkOpener(cfg WebSocketConfig, chCfg Config, listener *DeviceListener, logger *zap.SugaredLogger) *NetworkOpener {
	return &NetworkOpener{
		cfg:      cfg,
		chCfg:    chCfg,
		listener: listener,
		dialer: &websocket.Dialer{
			HandshakeTimeout: cfg.DialTimeout,
			ReadBufferSize:   4096,
			WriteBufferSize:  64 << 10,
		},
		logger: logger,
	}
}

func (o *NetworkOpener) Open(ctx context.Context, device domain.Device) (ports.DeviceChannel, error) {
	if o.listener != nil {
		if conn, ok := o.listener.take(device.ID); ok {
			o.logger.Infow("using device-initiated connection", "device_id", device.ID)
			return NewWebSocketChannel(conn, o.cfg, o.chCfg, o.logger), nil
		}
	}

	if device.Address == "" {
		return nil, domain.NewError("network open", domain.KindChannelUnavailable,
			fmt.Sprintf("device %s has no network address", device.ID), nil)
	}

	target := deviceURL(device.Address, o.cfg.DevicePath)
	conn, resp, err := o.dialer.DialContext(ctx, target, nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return nil, domain.NewError("network open", domain.KindChannelUnavailable,
			fmt.Sprintf("dial %s", target), err)
	}

	o.logger.Infow("websocket channel opened",
		"device_id", device.ID,
		"url", target,
	)
	return NewWebSocketChannel(conn, o.cfg, o.chCfg, o.logger), nil
}

func deviceURL(address, path string) string {
	if strings.HasPrefix(address, "ws://") || strings.HasPrefix(address, "wss://") {
		return address
	}
	u := url.URL{Scheme: "ws", Host: address, Path: path}
	return u.String()
}
