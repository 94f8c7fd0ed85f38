package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"sidescreen/internal/core/domain"
	"sidescreen/internal/protocol"
)

type recordingInput struct {
	events chan domain.InputEvent
}

func (r *recordingInput) RouteInputEvent(ctx context.Context, deviceID domain.DeviceID, event domain.InputEvent) {
	r.events <- event
}

func newCoordinator(t *testing.T, trust *mockTrustRepository, mutate func(*CoordinatorConfig)) (*ConnectionCoordinator, *fakeOpener, *EventNotifier) {
	t.Helper()
	logger := zap.NewNop().Sugar()

	cfg := DefaultCoordinatorConfig()
	cfg.Host = domain.HostIdentity{ID: "host-1", Name: "test-host", Version: "test"}
	cfg.AutoConnect = false
	cfg.Connect.MaxAttempts = 1
	cfg.Connect.InitialDelay = time.Millisecond
	if mutate != nil {
		mutate(&cfg)
	}

	notifier := NewEventNotifier(logger)
	var coord *ConnectionCoordinator
	if trust != nil {
		coord = NewConnectionCoordinator(cfg, trust, notifier, nil, logger)
	} else {
		coord = NewConnectionCoordinator(cfg, nil, notifier, nil, logger)
	}
	opener := newFakeOpener()
	coord.RegisterOpener(domain.TransportUSB, opener)
	t.Cleanup(coord.Shutdown)
	return coord, opener, notifier
}

func usbDevice(id domain.DeviceID) domain.Device {
	return domain.Device{ID: id, Name: string(id), Transport: domain.TransportUSB}
}

func TestConnectReportsChannelUnavailable(t *testing.T) {
	coord, opener, _ := newCoordinator(t, nil, nil)
	opener.err = errors.New("device locked")

	err := coord.Connect(context.Background(), usbDevice("dev1"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrChannelUnavailable))
	assert.Equal(t, int32(2), opener.calls.Load(), "one retry")

	_, _, ok := coord.Channel("dev1")
	assert.False(t, ok)
}

func TestConnectWithoutOpener(t *testing.T) {
	coord, _, _ := newCoordinator(t, nil, nil)

	err := coord.Connect(context.Background(), domain.Device{ID: "dev1", Transport: domain.TransportNetwork})
	assert.Equal(t, domain.KindChannelUnavailable, domain.KindOf(err))
}

func TestConnectIsIdempotent(t *testing.T) {
	coord, opener, _ := newCoordinator(t, nil, nil)
	opener.add("dev1", newFakeChannel())

	require.NoError(t, coord.Connect(context.Background(), usbDevice("dev1")))
	require.NoError(t, coord.Connect(context.Background(), usbDevice("dev1")))
	assert.Equal(t, int32(1), opener.calls.Load())

	status, ok := coord.Device("dev1")
	require.True(t, ok)
	assert.True(t, status.Connected)
	assert.Equal(t, domain.PairingUnpaired, status.State)
}

func TestPairSucceeds(t *testing.T) {
	coord, opener, notifier := newCoordinator(t, nil, nil)
	ch := newFakeChannel()
	ch.respond = cooperativeDevice
	opener.add("dev1", ch)

	events, unsubscribe := notifier.Subscribe(8)
	defer unsubscribe()

	require.NoError(t, coord.Connect(context.Background(), usbDevice("dev1")))
	require.NoError(t, coord.Pair(context.Background(), "dev1"))

	_, state, _ := coord.Channel("dev1")
	assert.Equal(t, domain.PairingPaired, state)
	waitEvent(t, events, domain.EventDevicePaired, time.Second)

	msg, ok := ch.lastSent(protocol.TypePairingRequest)
	require.True(t, ok)
	var req protocol.PairingRequest
	require.NoError(t, protocol.Decode(msg, &req))
	assert.Equal(t, "host-1", req.HostID)
	assert.Equal(t, "test-host", req.HostName)
	assert.NotEmpty(t, req.Nonce)
	assert.Equal(t, []string{domain.CodecJPEG}, req.Codecs)
	assert.False(t, req.Trusted)

	// already paired
	require.NoError(t, coord.Pair(context.Background(), "dev1"))
	assert.Equal(t, int64(1), ch.sentCount(protocol.TypePairingRequest))
}

func TestPairTimeout(t *testing.T) {
	coord, opener, _ := newCoordinator(t, nil, func(c *CoordinatorConfig) {
		c.PairTimeout = 50 * time.Millisecond
	})
	opener.add("dev1", newFakeChannel())
	require.NoError(t, coord.Connect(context.Background(), usbDevice("dev1")))

	start := time.Now()
	err := coord.Pair(context.Background(), "dev1")
	assert.True(t, errors.Is(err, domain.ErrPairingTimeout))
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)

	_, state, ok := coord.Channel("dev1")
	require.True(t, ok, "timeout keeps the connection")
	assert.Equal(t, domain.PairingUnpaired, state)
}

func TestPairRejected(t *testing.T) {
	coord, opener, _ := newCoordinator(t, nil, nil)
	ch := newFakeChannel()
	ch.respond = func(c *fakeChannel, msg protocol.Message) {
		var req protocol.PairingRequest
		if protocol.Decode(msg, &req) == nil {
			go c.deliver(&protocol.PairingResponse{Nonce: req.Nonce, Accepted: false, Reason: "user declined"})
		}
	}
	opener.add("dev1", ch)
	require.NoError(t, coord.Connect(context.Background(), usbDevice("dev1")))

	err := coord.Pair(context.Background(), "dev1")
	assert.Equal(t, domain.KindPairingRejected, domain.KindOf(err))
	assert.Equal(t, "user declined", domain.ReasonOf(err))

	_, state, _ := coord.Channel("dev1")
	assert.Equal(t, domain.PairingUnpaired, state)
}

func TestPairIgnoresStaleNonce(t *testing.T) {
	coord, opener, _ := newCoordinator(t, nil, func(c *CoordinatorConfig) {
		c.PairTimeout = 100 * time.Millisecond
	})
	ch := newFakeChannel()
	ch.respond = func(c *fakeChannel, msg protocol.Message) {
		go c.deliver(&protocol.PairingResponse{Nonce: "replayed", Accepted: true})
	}
	opener.add("dev1", ch)
	require.NoError(t, coord.Connect(context.Background(), usbDevice("dev1")))

	err := coord.Pair(context.Background(), "dev1")
	assert.Equal(t, domain.KindPairingTimeout, domain.KindOf(err))
}

func TestDisconnectDuringPairReportsRejected(t *testing.T) {
	coord, opener, _ := newCoordinator(t, nil, nil)
	ch := newFakeChannel()
	opener.add("dev1", ch)
	require.NoError(t, coord.Connect(context.Background(), usbDevice("dev1")))

	result := coord.PairAsync("dev1")
	require.Eventually(t, func() bool { return ch.sentCount(protocol.TypePairingRequest) == 1 },
		time.Second, 5*time.Millisecond)

	coord.Disconnect("dev1")

	select {
	case err := <-result:
		assert.Equal(t, domain.KindPairingRejected, domain.KindOf(err))
	case <-time.After(time.Second):
		t.Fatal("pairing did not finish after disconnect")
	}

	_, _, ok := coord.Channel("dev1")
	assert.False(t, ok)
	assert.NotNil(t, ch.Err(), "channel closed")
}

func TestDisconnectWhilePairingRequestBlockedReportsRejected(t *testing.T) {
	coord, opener, _ := newCoordinator(t, nil, nil)
	ch := newFakeChannel()
	ch.stallPair.Store(true)
	opener.add("dev1", ch)
	require.NoError(t, coord.Connect(context.Background(), usbDevice("dev1")))

	result := coord.PairAsync("dev1")
	require.Eventually(t, func() bool { return ch.pairBlocked.Load() == 1 },
		time.Second, 5*time.Millisecond)

	coord.Disconnect("dev1")

	select {
	case err := <-result:
		assert.Equal(t, domain.KindPairingRejected, domain.KindOf(err))
		assert.ErrorIs(t, err, errChannelClosed)
	case <-time.After(time.Second):
		t.Fatal("pairing did not finish after disconnect")
	}
}

func TestConcurrentPairJoinsOneAttempt(t *testing.T) {
	coord, opener, _ := newCoordinator(t, nil, nil)
	ch := newFakeChannel()
	opener.add("dev1", ch)
	require.NoError(t, coord.Connect(context.Background(), usbDevice("dev1")))

	first := coord.PairAsync("dev1")
	second := coord.PairAsync("dev1")
	require.Eventually(t, func() bool { return ch.sentCount(protocol.TypePairingRequest) == 1 },
		time.Second, 5*time.Millisecond)

	msg, _ := ch.lastSent(protocol.TypePairingRequest)
	var req protocol.PairingRequest
	require.NoError(t, protocol.Decode(msg, &req))
	ch.deliver(&protocol.PairingResponse{Nonce: req.Nonce, Accepted: true})

	assert.NoError(t, <-first)
	assert.NoError(t, <-second)
	assert.Equal(t, int64(1), ch.sentCount(protocol.TypePairingRequest))
}

func TestPairRecordsTrust(t *testing.T) {
	trust := &mockTrustRepository{}
	saved := make(chan struct{})
	trust.On("Get", mock.Anything, domain.DeviceID("dev1")).Return(nil, domain.NewError("get", domain.KindNotFound, "", nil))
	trust.On("Save", mock.Anything, mock.MatchedBy(func(r *domain.TrustRecord) bool {
		return r.DeviceID == "dev1" && r.Transport == domain.TransportUSB && !r.PairedAt.IsZero()
	})).Return(nil).Once().Run(func(mock.Arguments) { close(saved) })

	coord, opener, _ := newCoordinator(t, trust, nil)
	ch := newFakeChannel()
	ch.respond = cooperativeDevice
	opener.add("dev1", ch)

	require.NoError(t, coord.Connect(context.Background(), usbDevice("dev1")))
	require.NoError(t, coord.Pair(context.Background(), "dev1"))

	require.Eventually(t, func() bool {
		status, _ := coord.Device("dev1")
		return status.Trusted
	}, time.Second, 5*time.Millisecond)
	select {
	case <-saved:
	case <-time.After(time.Second):
		t.Fatal("trust record not saved")
	}
	trust.AssertExpectations(t)
}

func TestPairAdvertisesKnownDevice(t *testing.T) {
	trust := &mockTrustRepository{}
	paired := time.Now().Add(-24 * time.Hour)
	trust.On("Get", mock.Anything, domain.DeviceID("dev1")).
		Return(&domain.TrustRecord{DeviceID: "dev1", PairedAt: paired}, nil)
	trust.On("Save", mock.Anything, mock.MatchedBy(func(r *domain.TrustRecord) bool {
		return r.PairedAt.Equal(paired)
	})).Return(nil)

	coord, opener, _ := newCoordinator(t, trust, nil)
	ch := newFakeChannel()
	ch.respond = cooperativeDevice
	opener.add("dev1", ch)

	require.NoError(t, coord.Connect(context.Background(), usbDevice("dev1")))
	require.NoError(t, coord.Pair(context.Background(), "dev1"))

	msg, ok := ch.lastSent(protocol.TypePairingRequest)
	require.True(t, ok)
	var req protocol.PairingRequest
	require.NoError(t, protocol.Decode(msg, &req))
	assert.True(t, req.Trusted)
}

func TestForgetDevice(t *testing.T) {
	trust := &mockTrustRepository{}
	trust.On("Get", mock.Anything, mock.Anything).Return(&domain.TrustRecord{DeviceID: "dev1"}, nil)
	trust.On("Delete", mock.Anything, domain.DeviceID("dev1")).Return(nil).Once()

	coord, opener, _ := newCoordinator(t, trust, nil)
	opener.add("dev1", newFakeChannel())
	require.NoError(t, coord.Connect(context.Background(), usbDevice("dev1")))

	status, _ := coord.Device("dev1")
	require.True(t, status.Trusted)

	require.NoError(t, coord.ForgetDevice(context.Background(), "dev1"))
	status, _ = coord.Device("dev1")
	assert.False(t, status.Trusted)
	trust.AssertExpectations(t)
}

func TestHeartbeatTimeoutDisconnects(t *testing.T) {
	coord, opener, notifier := newCoordinator(t, nil, func(c *CoordinatorConfig) {
		c.HeartbeatInterval = 10 * time.Millisecond
		c.HeartbeatTimeout = 40 * time.Millisecond
	})
	ch := newFakeChannel()
	ch.respond = cooperativeDevice
	opener.add("dev1", ch)

	events, unsubscribe := notifier.Subscribe(8)
	defer unsubscribe()

	require.NoError(t, coord.Connect(context.Background(), usbDevice("dev1")))
	require.NoError(t, coord.Pair(context.Background(), "dev1"))

	waitEvent(t, events, domain.EventDeviceDisconnected, time.Second)
	assert.Greater(t, ch.sentCount(protocol.TypeHeartbeat), int64(0))

	status, ok := coord.Device("dev1")
	require.True(t, ok, "still known from discovery")
	assert.False(t, status.Connected)
	assert.Equal(t, domain.PairingUnpaired, status.State)
}

func TestHeartbeatsKeepDeviceAlive(t *testing.T) {
	coord, opener, _ := newCoordinator(t, nil, func(c *CoordinatorConfig) {
		c.HeartbeatInterval = 10 * time.Millisecond
		c.HeartbeatTimeout = 40 * time.Millisecond
	})
	ch := newFakeChannel()
	ch.respond = func(c *fakeChannel, msg protocol.Message) {
		cooperativeDevice(c, msg)
		if msg.Type == protocol.TypeHeartbeat {
			go c.deliver(&protocol.Heartbeat{Timestamp: time.Now().UnixMicro()})
		}
	}
	opener.add("dev1", ch)

	require.NoError(t, coord.Connect(context.Background(), usbDevice("dev1")))
	require.NoError(t, coord.Pair(context.Background(), "dev1"))

	time.Sleep(150 * time.Millisecond)
	status, _ := coord.Device("dev1")
	assert.True(t, status.Connected)
	assert.Equal(t, domain.PairingPaired, status.State)
}

func TestInputEventsReachHandler(t *testing.T) {
	coord, opener, _ := newCoordinator(t, nil, nil)
	ch := newFakeChannel()
	opener.add("dev1", ch)
	input := &recordingInput{events: make(chan domain.InputEvent, 1)}
	coord.SetInputHandler(input)

	require.NoError(t, coord.Connect(context.Background(), usbDevice("dev1")))
	ch.deliver(&protocol.InputEvent{Kind: "touch", Action: "move", X: 0.25, Y: 0.75, Timestamp: 1_700_000_000_000_000})

	select {
	case ev := <-input.events:
		assert.Equal(t, domain.InputTouch, ev.Kind)
		assert.Equal(t, domain.ActionMove, ev.Action)
		assert.InDelta(t, 0.25, ev.X, 1e-9)
		assert.Equal(t, int64(1_700_000_000_000_000), ev.Timestamp.UnixMicro())
	case <-time.After(time.Second):
		t.Fatal("input event not delivered")
	}
}

func TestStreamCountTogglesStreamingState(t *testing.T) {
	coord, opener, _ := newCoordinator(t, nil, nil)
	ch := newFakeChannel()
	ch.respond = cooperativeDevice
	opener.add("dev1", ch)
	require.NoError(t, coord.Connect(context.Background(), usbDevice("dev1")))
	require.NoError(t, coord.Pair(context.Background(), "dev1"))

	coord.SetStreamCount("dev1", 2)
	status, _ := coord.Device("dev1")
	assert.Equal(t, domain.PairingStreaming, status.State)
	assert.Equal(t, 2, status.Streams)

	coord.SetStreamCount("dev1", 0)
	status, _ = coord.Device("dev1")
	assert.Equal(t, domain.PairingPaired, status.State)
}

func TestDiscoveryCallbacks(t *testing.T) {
	coord, opener, _ := newCoordinator(t, nil, func(c *CoordinatorConfig) {
		c.AutoConnect = true
	})
	opener.add("dev1", newFakeChannel())

	coord.OnDeviceAttached(usbDevice("dev1"))
	require.Eventually(t, func() bool {
		status, _ := coord.Device("dev1")
		return status.Connected
	}, time.Second, 5*time.Millisecond)
	assert.Len(t, coord.ListDevices(), 1)

	coord.OnDeviceDetached("dev1")
	_, ok := coord.Device("dev1")
	assert.False(t, ok)
	assert.Empty(t, coord.ListDevices())
}

func TestPairUnknownDevice(t *testing.T) {
	coord, _, _ := newCoordinator(t, nil, nil)
	err := coord.Pair(context.Background(), "nobody")
	assert.Equal(t, domain.KindChannelUnavailable, domain.KindOf(err))
}
