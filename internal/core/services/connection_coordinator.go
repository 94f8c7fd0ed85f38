package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"sidescreen/internal/core/domain"
	"sidescreen/internal/core/ports"
	"sidescreen/internal/protocol"
	"sidescreen/pkg/retry"
	"sidescreen/pkg/tracing"
)

type CoordinatorConfig struct {
	Host              domain.HostIdentity
	PairTimeout       time.Duration
	HeartbeatInterval time.Duration
	HeartbeatTimeout  time.Duration
	Connect           retry.Config
	AutoConnect       bool // connect devices reported by discovery
	MaxFPS            int
	Codecs            []string
}

func DefaultCoordinatorConfig() CoordinatorConfig {
	connect := retry.DefaultConfig()
	connect.MaxAttempts = 2
	connect.InitialDelay = 250 * time.Millisecond
	return CoordinatorConfig{
		PairTimeout:       30 * time.Second,
		HeartbeatInterval: 5 * time.Second,
		HeartbeatTimeout:  15 * time.Second,
		Connect:           connect,
		AutoConnect:       true,
		MaxFPS:            domain.MaxFPS,
		Codecs:            []string{domain.CodecJPEG},
	}
}

// ConnectionCoordinator owns every device channel and its pairing state.
// Sessions borrow channels through DeviceLinks but never close them.
type ConnectionCoordinator struct {
	cfg     CoordinatorConfig
	openers map[domain.TransportKind]ports.ChannelOpener
	trust   ports.TrustRepository
	input   ports.InputHandler

	notifier *EventNotifier
	metrics  ports.MetricsRecorder
	logger   *zap.SugaredLogger

	mu      sync.Mutex
	devices map[domain.DeviceID]*deviceEntry
	known   map[domain.DeviceID]domain.Device
}

type deviceEntry struct {
	device      domain.Device
	channel     ports.DeviceChannel
	state       domain.PairingState
	trusted     bool
	streams     int
	connectedAt time.Time
	lastSeen    time.Time
	pairing     *pairAttempt
	acks        map[domain.SessionID]chan protocol.StreamStartAck
	cancel      context.CancelFunc
	closed      chan struct{}
}

type pairAttempt struct {
	nonce     string
	responses chan protocol.PairingResponse
	done      chan struct{}
	err       error
}

func NewConnectionCoordinator(
	cfg CoordinatorConfig,
	trust ports.TrustRepository,
	notifier *EventNotifier,
	metrics ports.MetricsRecorder,
	logger *zap.SugaredLogger,
) *ConnectionCoordinator {
	if metrics == nil {
		metrics = NoopMetrics{}
	}
	if cfg.Host.ID == "" {
		cfg.Host.ID = uuid.NewString()
	}
	return &ConnectionCoordinator{
		cfg:      cfg,
		openers:  make(map[domain.TransportKind]ports.ChannelOpener),
		trust:    trust,
		notifier: notifier,
		metrics:  metrics,
		logger:   logger,
		devices:  make(map[domain.DeviceID]*deviceEntry),
		known:    make(map[domain.DeviceID]domain.Device),
	}
}

// RegisterOpener sets the channel opener for a transport kind.
func (c *ConnectionCoordinator) RegisterOpener(kind domain.TransportKind, opener ports.ChannelOpener) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.openers[kind] = opener
}

// SetInputHandler sets the receiver of inbound input events.
func (c *ConnectionCoordinator) SetInputHandler(h ports.InputHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.input = h
}

func (c *ConnectionCoordinator) Host() domain.HostIdentity {
	return c.cfg.Host
}

// Connect opens a channel to device. Connecting an already connected device
// is a no-op.
func (c *ConnectionCoordinator) Connect(ctx context.Context, device domain.Device) (err error) {
	spanCtx, _ := tracing.TraceDevice(ctx, "connect", string(device.ID))
	defer func() { tracing.End(spanCtx, err) }()

	c.mu.Lock()
	if entry, ok := c.devices[device.ID]; ok && !channelDone(entry.channel) {
		c.mu.Unlock()
		return nil
	}
	opener, ok := c.openers[device.Transport]
	c.known[device.ID] = device
	c.mu.Unlock()

	if !ok {
		return domain.NewError("connect", domain.KindChannelUnavailable,
			fmt.Sprintf("no channel opener for transport %q", device.Transport), nil)
	}

	channel, err := retry.RetryWithResult(ctx, c.cfg.Connect, func() (ports.DeviceChannel, error) {
		return opener.Open(ctx, device)
	})
	if err != nil {
		c.logger.Warnw("device channel unavailable",
			"device_id", device.ID,
			"transport", device.Transport,
			"error", err,
		)
		return domain.NewError("connect", domain.KindChannelUnavailable,
			fmt.Sprintf("could not open %s channel to %s", device.Transport, device.ID), err)
	}

	trusted := c.isTrusted(ctx, device.ID)

	loopCtx, cancel := context.WithCancel(context.Background())
	now := time.Now()
	entry := &deviceEntry{
		device:      device,
		channel:     channel,
		state:       domain.PairingUnpaired,
		trusted:     trusted,
		connectedAt: now,
		lastSeen:    now,
		acks:        make(map[domain.SessionID]chan protocol.StreamStartAck),
		cancel:      cancel,
		closed:      make(chan struct{}),
	}

	c.mu.Lock()
	if existing, ok := c.devices[device.ID]; ok && !channelDone(existing.channel) {
		// lost a race with a concurrent Connect
		c.mu.Unlock()
		cancel()
		_ = channel.Close()
		return nil
	}
	stale := c.devices[device.ID]
	c.devices[device.ID] = entry
	c.mu.Unlock()

	if stale != nil {
		c.teardown(stale)
	}

	go c.receive(loopCtx, entry)
	go c.heartbeat(loopCtx, entry)

	c.metrics.DeviceConnected(device.Transport)
	c.notifier.Publish(domain.LifecycleEvent{
		Type:      domain.EventDeviceConnected,
		DeviceID:  device.ID,
		Timestamp: now,
	})
	c.logger.Infow("device connected",
		"device_id", device.ID,
		"transport", device.Transport,
		"trusted", trusted,
	)
	return nil
}

// Pair runs the pairing handshake and waits for its outcome.
func (c *ConnectionCoordinator) Pair(ctx context.Context, id domain.DeviceID) error {
	select {
	case err := <-c.PairAsync(id):
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// PairAsync starts pairing, or joins an attempt already in progress. The
// returned channel yields exactly one result.
func (c *ConnectionCoordinator) PairAsync(id domain.DeviceID) <-chan error {
	result := make(chan error, 1)

	c.mu.Lock()
	entry, ok := c.devices[id]
	if !ok {
		c.mu.Unlock()
		result <- domain.NewError("pair", domain.KindChannelUnavailable,
			fmt.Sprintf("device %s is not connected", id), nil)
		return result
	}
	if entry.state.Trusted() {
		c.mu.Unlock()
		result <- nil
		return result
	}

	attempt := entry.pairing
	if attempt == nil {
		attempt = &pairAttempt{
			nonce:     uuid.NewString(),
			responses: make(chan protocol.PairingResponse, 1),
			done:      make(chan struct{}),
		}
		entry.pairing = attempt
		entry.state = domain.PairingPairing
		go c.runPairing(entry, attempt, entry.trusted)
	}
	c.mu.Unlock()

	go func() {
		<-attempt.done
		result <- attempt.err
	}()
	return result
}

func (c *ConnectionCoordinator) runPairing(entry *deviceEntry, attempt *pairAttempt, trusted bool) {
	id := entry.device.ID
	start := time.Now()
	ctx, _ := tracing.TraceDevice(context.Background(), "pair", string(id))

	c.logger.Infow("pairing started", "device_id", id, "timeout", c.cfg.PairTimeout)

	req := &protocol.PairingRequest{
		HostID:   c.cfg.Host.ID,
		HostName: c.cfg.Host.Name,
		Version:  c.cfg.Host.Version,
		Nonce:    attempt.nonce,
		MaxFPS:   c.cfg.MaxFPS,
		Codecs:   c.cfg.Codecs,
		Trusted:  trusted,
	}

	timer := time.NewTimer(c.cfg.PairTimeout)
	defer timer.Stop()

	var (
		resp protocol.PairingResponse
		err  error
	)
	sendCtx, cancel := context.WithTimeout(ctx, c.cfg.PairTimeout)
	sendErr := entry.channel.Send(sendCtx, protocol.TypePairingRequest, req.Marshal())
	cancel()

	if sendErr != nil {
		err = domain.NewError("pair", domain.KindChannelFailed, "pairing request could not be sent", sendErr)
	} else {
		select {
		case resp = <-attempt.responses:
			if !resp.Accepted {
				reason := resp.Reason
				if reason == "" {
					reason = "device declined pairing"
				}
				err = domain.NewError("pair", domain.KindPairingRejected, reason, nil)
			}
		case <-timer.C:
			err = domain.NewError("pair", domain.KindPairingTimeout,
				fmt.Sprintf("no pairing response within %s", c.cfg.PairTimeout), nil)
		case <-entry.closed:
			err = domain.NewError("pair", domain.KindPairingRejected, "device disconnected during pairing", nil)
		}
	}

	err = c.finishPairing(entry, attempt, resp, err)
	tracing.End(ctx, err)

	outcome := "accepted"
	if err != nil {
		outcome = string(domain.KindOf(err))
	}
	c.metrics.PairingFinished(outcome, time.Since(start))

	if err != nil {
		c.logger.Warnw("pairing failed", "device_id", id, "error", err)
		return
	}

	c.logger.Infow("device paired", "device_id", id, "device_name", resp.DeviceName)
	c.remember(entry, resp.DeviceName)
	c.notifier.Publish(domain.LifecycleEvent{
		Type:      domain.EventDevicePaired,
		DeviceID:  id,
		Timestamp: time.Now(),
	})
}

// finishPairing settles the attempt. A disconnect that already removed the
// entry overrides any response or send failure; the original error is kept
// as the cause.
func (c *ConnectionCoordinator) finishPairing(entry *deviceEntry, attempt *pairAttempt, resp protocol.PairingResponse, err error) error {
	c.mu.Lock()
	current := c.devices[entry.device.ID] == entry
	if !current && domain.KindOf(err) != domain.KindPairingRejected {
		err = domain.NewError("pair", domain.KindPairingRejected, "device disconnected during pairing", err)
	}
	if entry.pairing == attempt {
		entry.pairing = nil
	}
	if current {
		if err == nil {
			entry.state = domain.PairingPaired
			entry.trusted = true
			entry.lastSeen = time.Now()
			if resp.DeviceName != "" && entry.device.Name == "" {
				entry.device.Name = resp.DeviceName
			}
		} else {
			entry.state = domain.PairingUnpaired
		}
	}
	attempt.err = err
	close(attempt.done)
	c.mu.Unlock()
	return err
}

func (c *ConnectionCoordinator) remember(entry *deviceEntry, deviceName string) {
	if c.trust == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	now := time.Now()
	record := &domain.TrustRecord{
		DeviceID:  entry.device.ID,
		Name:      entry.device.Name,
		Transport: entry.device.Transport,
		PairedAt:  now,
		LastSeen:  now,
	}
	if record.Name == "" {
		record.Name = deviceName
	}
	if prev, err := c.trust.Get(ctx, entry.device.ID); err == nil {
		record.PairedAt = prev.PairedAt
	}
	if err := c.trust.Save(ctx, record); err != nil {
		c.logger.Warnw("failed to save trust record",
			"device_id", entry.device.ID,
			"error", err,
		)
	}
}

func (c *ConnectionCoordinator) isTrusted(ctx context.Context, id domain.DeviceID) bool {
	if c.trust == nil {
		return false
	}
	_, err := c.trust.Get(ctx, id)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		c.logger.Warnw("trust lookup failed", "device_id", id, "error", err)
	}
	return err == nil
}

// Disconnect tears the device down whatever its state. It always succeeds.
func (c *ConnectionCoordinator) Disconnect(id domain.DeviceID) {
	c.mu.Lock()
	entry, ok := c.devices[id]
	if ok {
		delete(c.devices, id)
	}
	c.mu.Unlock()

	if !ok {
		return
	}
	c.teardown(entry)
	c.logger.Infow("device disconnected", "device_id", id)
}

func (c *ConnectionCoordinator) teardown(entry *deviceEntry) {
	entry.cancel()
	close(entry.closed)
	if err := entry.channel.Close(); err != nil {
		c.logger.Debugw("channel close failed", "device_id", entry.device.ID, "error", err)
	}

	c.metrics.DeviceDisconnected(entry.device.Transport)
	c.notifier.Publish(domain.LifecycleEvent{
		Type:      domain.EventDeviceDisconnected,
		DeviceID:  entry.device.ID,
		Timestamp: time.Now(),
	})
}

// drop disconnects entry if it is still the device's current connection.
func (c *ConnectionCoordinator) drop(entry *deviceEntry, reason string) {
	c.mu.Lock()
	current := c.devices[entry.device.ID] == entry
	if current {
		delete(c.devices, entry.device.ID)
	}
	c.mu.Unlock()

	if current {
		c.logger.Warnw("device dropped", "device_id", entry.device.ID, "reason", reason)
		c.teardown(entry)
	}
}

// ForgetDevice removes the device's trust record.
func (c *ConnectionCoordinator) ForgetDevice(ctx context.Context, id domain.DeviceID) error {
	if c.trust == nil {
		return domain.NewError("forget", domain.KindNotFound, "no trust store configured", nil)
	}
	if err := c.trust.Delete(ctx, id); err != nil {
		return err
	}

	c.mu.Lock()
	if entry, ok := c.devices[id]; ok {
		entry.trusted = false
	}
	c.mu.Unlock()

	c.logger.Infow("device forgotten", "device_id", id)
	return nil
}

func (c *ConnectionCoordinator) OnDeviceAttached(device domain.Device) {
	c.mu.Lock()
	c.known[device.ID] = device
	c.mu.Unlock()

	c.logger.Infow("device attached", "device_id", device.ID, "transport", device.Transport)
	if !c.cfg.AutoConnect {
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), c.cfg.PairTimeout)
		defer cancel()
		if err := c.Connect(ctx, device); err != nil {
			c.logger.Warnw("auto connect failed", "device_id", device.ID, "error", err)
		}
	}()
}

func (c *ConnectionCoordinator) OnDeviceDetached(id domain.DeviceID) {
	c.Disconnect(id)

	c.mu.Lock()
	delete(c.known, id)
	c.mu.Unlock()

	c.logger.Infow("device detached", "device_id", id)
}

// Known returns a device reported by discovery or connected before.
func (c *ConnectionCoordinator) Known(id domain.DeviceID) (domain.Device, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if entry, ok := c.devices[id]; ok {
		return entry.device, true
	}
	device, ok := c.known[id]
	return device, ok
}

func (c *ConnectionCoordinator) Device(id domain.DeviceID) (domain.DeviceStatus, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if entry, ok := c.devices[id]; ok {
		return entry.status(), true
	}
	if device, ok := c.known[id]; ok {
		return domain.DeviceStatus{Device: device, State: domain.PairingUnpaired}, true
	}
	return domain.DeviceStatus{}, false
}

func (c *ConnectionCoordinator) ListDevices() []domain.DeviceStatus {
	c.mu.Lock()
	defer c.mu.Unlock()

	list := make([]domain.DeviceStatus, 0, len(c.known))
	for id, device := range c.known {
		if entry, ok := c.devices[id]; ok {
			list = append(list, entry.status())
			continue
		}
		list = append(list, domain.DeviceStatus{Device: device, State: domain.PairingUnpaired})
	}
	for id, entry := range c.devices {
		if _, ok := c.known[id]; !ok {
			list = append(list, entry.status())
		}
	}
	sort.Slice(list, func(i, j int) bool { return list[i].Device.ID < list[j].Device.ID })
	return list
}

func (e *deviceEntry) status() domain.DeviceStatus {
	return domain.DeviceStatus{
		Device:      e.device,
		State:       e.state,
		Connected:   !channelDone(e.channel),
		Trusted:     e.trusted,
		ConnectedAt: e.connectedAt,
		LastSeen:    e.lastSeen,
		Streams:     e.streams,
	}
}

// Channel implements DeviceLinks.
func (c *ConnectionCoordinator) Channel(id domain.DeviceID) (ports.DeviceChannel, domain.PairingState, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.devices[id]
	if !ok {
		return nil, domain.PairingUnpaired, false
	}
	return entry.channel, entry.state, true
}

// ExpectStreamAck registers interest in the device's answer to a stream start.
func (c *ConnectionCoordinator) ExpectStreamAck(device domain.DeviceID, session domain.SessionID) (<-chan protocol.StreamStartAck, func()) {
	ch := make(chan protocol.StreamStartAck, 1)

	c.mu.Lock()
	entry, ok := c.devices[device]
	if ok {
		entry.acks[session] = ch
	}
	c.mu.Unlock()

	return ch, func() {
		if !ok {
			return
		}
		c.mu.Lock()
		defer c.mu.Unlock()
		if entry.acks[session] == ch {
			delete(entry.acks, session)
		}
	}
}

// SetStreamCount moves a paired device in and out of the streaming state.
func (c *ConnectionCoordinator) SetStreamCount(device domain.DeviceID, n int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.devices[device]
	if !ok {
		return
	}
	entry.streams = n
	switch {
	case n > 0 && entry.state == domain.PairingPaired:
		entry.state = domain.PairingStreaming
	case n == 0 && entry.state == domain.PairingStreaming:
		entry.state = domain.PairingPaired
	}
}

// Shutdown disconnects every device.
func (c *ConnectionCoordinator) Shutdown() {
	c.mu.Lock()
	ids := make([]domain.DeviceID, 0, len(c.devices))
	for id := range c.devices {
		ids = append(ids, id)
	}
	c.mu.Unlock()

	for _, id := range ids {
		c.Disconnect(id)
	}
}

func (c *ConnectionCoordinator) receive(ctx context.Context, entry *deviceEntry) {
	id := entry.device.ID
	for {
		msg, err := entry.channel.Receive(ctx)
		if err != nil {
			if ctx.Err() == nil {
				c.drop(entry, fmt.Sprintf("receive failed: %v", err))
			}
			return
		}

		c.mu.Lock()
		entry.lastSeen = time.Now()
		input := c.input
		c.mu.Unlock()

		switch msg.Type {
		case protocol.TypePairingResponse:
			var resp protocol.PairingResponse
			if err := protocol.Decode(msg, &resp); err != nil {
				c.logger.Warnw("malformed message", "device_id", id, "error", err)
				continue
			}
			c.resolvePairing(entry, resp)

		case protocol.TypeStreamStartAck:
			var ack protocol.StreamStartAck
			if err := protocol.Decode(msg, &ack); err != nil {
				c.logger.Warnw("malformed message", "device_id", id, "error", err)
				continue
			}
			c.resolveAck(entry, ack)

		case protocol.TypeInputEvent:
			var ev protocol.InputEvent
			if err := protocol.Decode(msg, &ev); err != nil {
				c.logger.Warnw("malformed message", "device_id", id, "error", err)
				continue
			}
			if input != nil {
				input.RouteInputEvent(ctx, id, inputFromWire(ev))
			}

		case protocol.TypeHeartbeat:

		default:
			c.logger.Debugw("unexpected message from device", "device_id", id, "type", msg.Type)
		}
	}
}

func (c *ConnectionCoordinator) resolvePairing(entry *deviceEntry, resp protocol.PairingResponse) {
	c.mu.Lock()
	attempt := entry.pairing
	c.mu.Unlock()

	if attempt == nil {
		c.logger.Debugw("pairing response without pending request", "device_id", entry.device.ID)
		return
	}
	if resp.Nonce != attempt.nonce {
		c.logger.Warnw("pairing response nonce mismatch", "device_id", entry.device.ID)
		return
	}
	select {
	case attempt.responses <- resp:
	default:
	}
}

func (c *ConnectionCoordinator) resolveAck(entry *deviceEntry, ack protocol.StreamStartAck) {
	c.mu.Lock()
	ch, ok := entry.acks[domain.SessionID(ack.StreamID)]
	if ok {
		delete(entry.acks, domain.SessionID(ack.StreamID))
	}
	c.mu.Unlock()

	if !ok {
		c.logger.Debugw("stream ack for unknown session",
			"device_id", entry.device.ID,
			"stream_id", ack.StreamID,
		)
		return
	}
	select {
	case ch <- ack:
	default:
	}
}

func (c *ConnectionCoordinator) heartbeat(ctx context.Context, entry *deviceEntry) {
	ticker := time.NewTicker(c.cfg.HeartbeatInterval)
	defer ticker.Stop()

	var seq uint64
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			c.mu.Lock()
			state, lastSeen := entry.state, entry.lastSeen
			c.mu.Unlock()

			if !state.Trusted() {
				continue
			}
			if now.Sub(lastSeen) > c.cfg.HeartbeatTimeout {
				c.drop(entry, "heartbeat timeout")
				return
			}

			seq++
			hb := &protocol.Heartbeat{Timestamp: now.UnixMicro(), Seq: seq}
			sendCtx, cancel := context.WithTimeout(ctx, c.cfg.HeartbeatInterval)
			if err := entry.channel.Send(sendCtx, protocol.TypeHeartbeat, hb.Marshal()); err != nil {
				c.logger.Debugw("heartbeat send failed", "device_id", entry.device.ID, "error", err)
			}
			cancel()
		}
	}
}

func inputFromWire(ev protocol.InputEvent) domain.InputEvent {
	ts := time.Now()
	if ev.Timestamp > 0 {
		ts = time.UnixMicro(ev.Timestamp)
	}
	return domain.InputEvent{
		StreamID:  domain.SessionID(ev.StreamID),
		Kind:      domain.InputKind(ev.Kind),
		Action:    domain.InputAction(ev.Action),
		X:         ev.X,
		Y:         ev.Y,
		Pressure:  ev.Pressure,
		ScrollDX:  ev.ScrollDX,
		ScrollDY:  ev.ScrollDY,
		Timestamp: ts,
	}
}

func channelDone(ch ports.DeviceChannel) bool {
	select {
	case <-ch.Done():
		return true
	default:
		return false
	}
}
