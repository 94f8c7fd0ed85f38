package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"sidescreen/internal/core/domain"
	"sidescreen/internal/core/ports"
	"sidescreen/internal/protocol"
)

var errChannelClosed = errors.New("channel closed")

// fakeChannel is an in-memory DeviceChannel. respond, when set, runs on every
// Send and may push replies into the inbox the way a device would.
type fakeChannel struct {
	inbox     chan protocol.Message
	done      chan struct{}
	closeOnce sync.Once

	respond     func(ch *fakeChannel, msg protocol.Message)
	stallFrames atomic.Bool
	stallPair   atomic.Bool
	pairBlocked atomic.Int32
	failFrames  atomic.Bool
	inflight    atomic.Int32
	maxInflight atomic.Int32
	sentByType  sync.Map // protocol.MessageType -> *atomic.Int64
	mu          sync.Mutex
	sent        []protocol.Message
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{
		inbox: make(chan protocol.Message, 64),
		done:  make(chan struct{}),
	}
}

func (c *fakeChannel) Send(ctx context.Context, msgType protocol.MessageType, payload []byte) error {
	select {
	case <-c.done:
		return errChannelClosed
	default:
	}

	if msgType == protocol.TypePairingRequest && c.stallPair.Load() {
		c.pairBlocked.Add(1)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.done:
			return errChannelClosed
		}
	}

	if msgType == protocol.TypeFrameData {
		n := c.inflight.Add(1)
		defer c.inflight.Add(-1)
		for {
			m := c.maxInflight.Load()
			if n <= m || c.maxInflight.CompareAndSwap(m, n) {
				break
			}
		}
		if c.failFrames.Load() {
			return errors.New("write: broken pipe")
		}
		if c.stallFrames.Load() {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-c.done:
				return errChannelClosed
			}
		}
	}

	msg := protocol.Message{Type: msgType, Payload: append([]byte(nil), payload...)}
	c.mu.Lock()
	c.sent = append(c.sent, msg)
	c.mu.Unlock()
	c.counter(msgType).Add(1)

	if c.respond != nil {
		c.respond(c, msg)
	}
	return nil
}

func (c *fakeChannel) counter(t protocol.MessageType) *atomic.Int64 {
	v, _ := c.sentByType.LoadOrStore(t, new(atomic.Int64))
	return v.(*atomic.Int64)
}

func (c *fakeChannel) sentCount(t protocol.MessageType) int64 {
	return c.counter(t).Load()
}

func (c *fakeChannel) lastSent(t protocol.MessageType) (protocol.Message, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := len(c.sent) - 1; i >= 0; i-- {
		if c.sent[i].Type == t {
			return c.sent[i], true
		}
	}
	return protocol.Message{}, false
}

func (c *fakeChannel) deliver(p protocol.Payload) {
	select {
	case c.inbox <- protocol.NewMessage(p):
	case <-c.done:
	}
}

func (c *fakeChannel) TryReceive() (protocol.Message, bool) {
	select {
	case msg := <-c.inbox:
		return msg, true
	default:
		return protocol.Message{}, false
	}
}

func (c *fakeChannel) Receive(ctx context.Context) (protocol.Message, error) {
	select {
	case msg := <-c.inbox:
		return msg, nil
	case <-ctx.Done():
		return protocol.Message{}, ctx.Err()
	case <-c.done:
		return protocol.Message{}, errChannelClosed
	}
}

func (c *fakeChannel) Done() <-chan struct{} { return c.done }

func (c *fakeChannel) Err() error {
	select {
	case <-c.done:
		return errChannelClosed
	default:
		return nil
	}
}

func (c *fakeChannel) Close() error {
	c.closeOnce.Do(func() { close(c.done) })
	return nil
}

// cooperativeDevice accepts pairing and every stream start.
func cooperativeDevice(ch *fakeChannel, msg protocol.Message) {
	switch msg.Type {
	case protocol.TypePairingRequest:
		var req protocol.PairingRequest
		if protocol.Decode(msg, &req) == nil {
			go ch.deliver(&protocol.PairingResponse{Nonce: req.Nonce, Accepted: true, DeviceName: "Test Tablet"})
		}
	case protocol.TypeStreamStart:
		var start protocol.StreamStart
		if protocol.Decode(msg, &start) == nil {
			go ch.deliver(&protocol.StreamStartAck{StreamID: start.StreamID, Accepted: true})
		}
	}
}

type fakeOpener struct {
	mu       sync.Mutex
	channels map[domain.DeviceID]*fakeChannel
	err      error
	calls    atomic.Int32
}

func newFakeOpener() *fakeOpener {
	return &fakeOpener{channels: make(map[domain.DeviceID]*fakeChannel)}
}

func (o *fakeOpener) add(id domain.DeviceID, ch *fakeChannel) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.channels[id] = ch
}

func (o *fakeOpener) Open(ctx context.Context, device domain.Device) (ports.DeviceChannel, error) {
	o.calls.Add(1)
	if o.err != nil {
		return nil, o.err
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	ch, ok := o.channels[device.ID]
	if !ok {
		return nil, fmt.Errorf("device %s not reachable", device.ID)
	}
	return ch, nil
}

// fakeSource returns small frames and counts captures per source.
type fakeSource struct {
	mu          sync.Mutex
	calls       map[domain.SourceID]int
	unavailable map[domain.SourceID]bool
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		calls:       make(map[domain.SourceID]int),
		unavailable: make(map[domain.SourceID]bool),
	}
}

func (s *fakeSource) CaptureFrame(ctx context.Context, desc domain.FrameSourceDescriptor) (*domain.FrameBuffer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.calls[desc.ID]++
	if s.unavailable[desc.ID] {
		return nil, domain.NewError("capture", domain.KindSourceUnavailable, "display removed", nil)
	}
	return &domain.FrameBuffer{
		SourceID:   desc.ID,
		Width:      4,
		Height:     4,
		Stride:     16,
		Format:     domain.PixelFormatRGBA,
		Pix:        make([]byte, 64),
		CapturedAt: time.Now(),
	}, nil
}

func (s *fakeSource) captures(id domain.SourceID) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[id]
}

func (s *fakeSource) remove(id domain.SourceID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.unavailable[id] = true
}

type fakeCompressor struct {
	fail atomic.Bool
}

func (c *fakeCompressor) Compress(frame *domain.FrameBuffer, quality int) ([]byte, error) {
	if c.fail.Load() {
		return nil, errors.New("encoder exploded")
	}
	return []byte{byte(quality), byte(frame.Seq)}, nil
}

func (c *fakeCompressor) Format() string { return domain.CodecJPEG }

type mockInjector struct {
	mock.Mock
}

func (m *mockInjector) Forward(ctx context.Context, event domain.HostInputEvent) error {
	args := m.Called(ctx, event)
	return args.Error(0)
}

type mockTrustRepository struct {
	mock.Mock
}

func (m *mockTrustRepository) Save(ctx context.Context, record *domain.TrustRecord) error {
	return m.Called(ctx, record).Error(0)
}

func (m *mockTrustRepository) Get(ctx context.Context, id domain.DeviceID) (*domain.TrustRecord, error) {
	args := m.Called(ctx, id)
	if rec, ok := args.Get(0).(*domain.TrustRecord); ok {
		return rec, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockTrustRepository) Delete(ctx context.Context, id domain.DeviceID) error {
	return m.Called(ctx, id).Error(0)
}

func (m *mockTrustRepository) List(ctx context.Context) ([]*domain.TrustRecord, error) {
	args := m.Called(ctx)
	return args.Get(0).([]*domain.TrustRecord), args.Error(1)
}

// engine wires a coordinator and manager over fakes.
type engine struct {
	t          *testing.T
	opener     *fakeOpener
	source     *fakeSource
	compressor *fakeCompressor
	injector   *mockInjector
	metrics    *recordingMetrics
	notifier   *EventNotifier
	hub        *CaptureHub
	coord      *ConnectionCoordinator
	manager    *SessionManager
}

// recordingMetrics keeps the reasons passed to InputDropped.
type recordingMetrics struct {
	NoopMetrics
	mu      sync.Mutex
	dropped []string
}

func (r *recordingMetrics) InputDropped(reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.dropped = append(r.dropped, reason)
}

func (r *recordingMetrics) drops() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.dropped...)
}

type engineSetup struct {
	manager SessionManagerConfig
	coord   CoordinatorConfig
}

type engineOption func(*engineSetup)

func withMaxSessions(n int) engineOption {
	return func(s *engineSetup) { s.manager.MaxSessions = n }
}

func withSessionOptions(fn func(*SessionOptions)) engineOption {
	return func(s *engineSetup) { fn(&s.manager.Options) }
}

func newEngine(t *testing.T, opts ...engineOption) *engine {
	t.Helper()
	logger := zap.NewNop().Sugar()

	setup := engineSetup{
		manager: SessionManagerConfig{MaxSessions: 4, Options: DefaultSessionOptions()},
		coord:   DefaultCoordinatorConfig(),
	}
	setup.manager.Options.Adaptive.Enabled = false
	setup.coord.Host = domain.HostIdentity{ID: "host-1", Name: "test-host", Version: "test"}
	setup.coord.AutoConnect = false
	setup.coord.Connect.MaxAttempts = 0
	for _, opt := range opts {
		opt(&setup)
	}

	e := &engine{
		t:          t,
		opener:     newFakeOpener(),
		source:     newFakeSource(),
		compressor: &fakeCompressor{},
		injector:   &mockInjector{},
		metrics:    &recordingMetrics{},
		notifier:   NewEventNotifier(logger),
	}
	e.hub = NewCaptureHub(e.source, nil, logger)
	e.coord = NewConnectionCoordinator(setup.coord, nil, e.notifier, nil, logger)
	e.coord.RegisterOpener(domain.TransportUSB, e.opener)
	router := NewInputRouter(e.injector, InputRouterConfig{}, e.metrics, logger)
	e.manager = NewSessionManager(setup.manager, e.coord, e.hub, e.compressor, router, e.notifier, e.metrics, logger)
	e.coord.SetInputHandler(e.manager)

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = e.manager.Shutdown(ctx)
		e.coord.Shutdown()
		e.hub.Close()
	})
	return e
}

// pairedDevice connects and pairs a cooperative device.
func (e *engine) pairedDevice(id domain.DeviceID) (domain.Device, *fakeChannel) {
	e.t.Helper()
	ch := newFakeChannel()
	ch.respond = cooperativeDevice
	e.opener.add(id, ch)

	device := domain.Device{ID: id, Name: string(id), Transport: domain.TransportUSB}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(e.t, e.coord.Connect(ctx, device))
	require.NoError(e.t, e.coord.Pair(ctx, id))
	return device, ch
}

func testSource(id domain.SourceID) domain.FrameSourceDescriptor {
	return domain.FrameSourceDescriptor{ID: id, Bounds: domain.Rect{Width: 1920, Height: 1080}}
}

func sessionConfig(fps, quality int) domain.SessionConfig {
	return domain.SessionConfig{TargetFPS: fps, Quality: quality, Codec: domain.CodecJPEG}
}

// waitEvent returns the first event of type want, failing after timeout.
func waitEvent(t *testing.T, events <-chan domain.LifecycleEvent, want domain.LifecycleEventType, timeout time.Duration) domain.LifecycleEvent {
	t.Helper()
	deadline := time.After(timeout)
	for {
		select {
		case ev, ok := <-events:
			require.True(t, ok, "event stream closed")
			if ev.Type == want {
				return ev
			}
		case <-deadline:
			t.Fatalf("no %s event within %s", want, timeout)
			return domain.LifecycleEvent{}
		}
	}
}
