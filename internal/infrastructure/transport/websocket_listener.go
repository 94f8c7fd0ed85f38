package transport

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"sidescreen/internal/core/domain"
	"sidescreen/internal/core/ports"
)

// DeviceListener accepts websocket connections dialed by devices. An accepted
// connection is parked until the coordinator opens a channel for the device,
// or dropped after the park timeout.
type DeviceListener struct {
	upgrader    websocket.Upgrader
	parkTimeout time.Duration
	logger      *zap.SugaredLogger

	mu        sync.Mutex
	discovery ports.DiscoveryHandler
	parked    map[domain.DeviceID]*parkedConn
}

type parkedConn struct {
	conn  *websocket.Conn
	timer *time.Timer
}

func NewDeviceListener(parkTimeout time.Duration, logger *zap.SugaredLogger) *DeviceListener {
	if parkTimeout <= 0 {
		parkTimeout = 30 * time.Second
	}
	return &DeviceListener{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 64 << 10,
			CheckOrigin: func(r *http.Request) bool {
				// devices are native apps, not browsers
				return r.Header.Get("Origin") == ""
			},
		},
		parkTimeout: parkTimeout,
		logger:      logger,
		parked:      make(map[domain.DeviceID]*parkedConn),
	}
}

// SetDiscoveryHandler registers the receiver of attach/detach callbacks.
func (l *DeviceListener) SetDiscoveryHandler(h ports.DiscoveryHandler) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.discovery = h
}

// ServeHTTP upgrades a device connection. The device identifies itself with
// the device_id and name query parameters.
func (l *DeviceListener) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	id := domain.DeviceID(r.URL.Query().Get("device_id"))
	if id == "" {
		http.Error(w, "missing device_id", http.StatusBadRequest)
		return
	}
	name := r.URL.Query().Get("name")
	if name == "" {
		name = string(id)
	}

	conn, err := l.upgrader.Upgrade(w, r, nil)
	if err != nil {
		l.logger.Errorw("device websocket upgrade failed", "device_id", id, "error", err)
		return
	}

	device := domain.Device{
		ID:        id,
		Name:      name,
		Transport: domain.TransportNetwork,
		Capabilities: domain.DeviceCapabilities{
			Touch: r.URL.Query().Get("touch") == "1",
		},
	}

	l.mu.Lock()
	if old, ok := l.parked[id]; ok {
		old.timer.Stop()
		old.conn.Close()
		l.logger.Infow("replacing parked connection for reconnecting device", "device_id", id)
	}
	p := &parkedConn{conn: conn}
	p.timer = time.AfterFunc(l.parkTimeout, func() { l.expire(id, p) })
	l.parked[id] = p
	discovery := l.discovery
	l.mu.Unlock()

	l.logger.Infow("device connected via websocket",
		"device_id", id,
		"remote_addr", r.RemoteAddr,
	)
	if discovery != nil {
		discovery.OnDeviceAttached(device)
	}
}

// Parked reports whether a connection from id is waiting to be opened.
func (l *DeviceListener) Parked(id domain.DeviceID) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.parked[id]
	return ok
}

// Close drops every parked connection.
func (l *DeviceListener) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	for id, p := range l.parked {
		p.timer.Stop()
		p.conn.Close()
		delete(l.parked, id)
	}
}

func (l *DeviceListener) take(id domain.DeviceID) (*websocket.Conn, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	p, ok := l.parked[id]
	if !ok {
		return nil, false
	}
	p.timer.Stop()
	delete(l.parked, id)
	return p.conn, true
}

func (l *DeviceListener) expire(id domain.DeviceID, p *parkedConn) {
	l.mu.Lock()
	if l.parked[id] != p {
		l.mu.Unlock()
		return
	}
	delete(l.parked, id)
	discovery := l.discovery
	l.mu.Unlock()

	p.conn.Close()
	l.logger.Infow("parked device connection expired", "device_id", id)
	if discovery != nil {
		discovery.OnDeviceDetached(id)
	}
}
