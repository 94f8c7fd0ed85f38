package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"sidescreen/internal/core/domain"
	"sidescreen/internal/core/ports"
	"sidescreen/internal/protocol"
	"sidescreen/pkg/tracing"
)

// DeviceLinks exposes connected devices to the session manager. It is
// implemented by ConnectionCoordinator.
type DeviceLinks interface {
	Channel(id domain.DeviceID) (ports.DeviceChannel, domain.PairingState, bool)
	ExpectStreamAck(device domain.DeviceID, session domain.SessionID) (<-chan protocol.StreamStartAck, func())
	SetStreamCount(device domain.DeviceID, n int)
}

type SessionManagerConfig struct {
	MaxSessions int
	Options     SessionOptions
}

// SessionManager owns the session table. Every mutation of the table goes
// through it.
type SessionManager struct {
	cfg        SessionManagerConfig
	links      DeviceLinks
	hub        *CaptureHub
	compressor ports.FrameCompressor
	router     *InputRouter
	notifier   *EventNotifier
	metrics    ports.MetricsRecorder
	logger     *zap.SugaredLogger

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	sessions map[domain.SessionID]*StreamingSession
	order    []domain.SessionID
	closed   bool
}

func NewSessionManager(
	cfg SessionManagerConfig,
	links DeviceLinks,
	hub *CaptureHub,
	compressor ports.FrameCompressor,
	router *InputRouter,
	notifier *EventNotifier,
	metrics ports.MetricsRecorder,
	logger *zap.SugaredLogger,
) *SessionManager {
	if metrics == nil {
		metrics = NoopMetrics{}
	}
	if cfg.MaxSessions <= 0 {
		cfg.MaxSessions = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &SessionManager{
		cfg:        cfg,
		links:      links,
		hub:        hub,
		compressor: compressor,
		router:     router,
		notifier:   notifier,
		metrics:    metrics,
		logger:     logger,
		ctx:        ctx,
		cancel:     cancel,
		sessions:   make(map[domain.SessionID]*StreamingSession),
	}
}

// Subscribe registers a lifecycle event subscriber.
func (m *SessionManager) Subscribe(buffer int) (<-chan domain.LifecycleEvent, func()) {
	return m.notifier.Subscribe(buffer)
}

func (m *SessionManager) StartSession(ctx context.Context, device domain.Device, source domain.FrameSourceDescriptor, cfg domain.SessionConfig) (_ domain.SessionID, err error) {
	id := domain.DeriveSessionID(source.ID, device.ID)
	spanCtx, _ := tracing.TraceSession(ctx, "start", string(id), string(device.ID), string(source.ID))
	defer func() { tracing.End(spanCtx, err) }()

	if err = m.validate(device, source, &cfg); err != nil {
		return "", err
	}

	channel, state, ok := m.links.Channel(device.ID)
	if !ok || !state.Trusted() {
		return "", domain.NewError("start", domain.KindPairingRequired,
			fmt.Sprintf("device %s must be paired before streaming", device.ID), nil)
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return "", domain.NewError("start", domain.KindCapacityExceeded, "session manager is shutting down", nil)
	}
	if _, exists := m.sessions[id]; exists {
		m.mu.Unlock()
		return "", domain.NewError("start", domain.KindAlreadyStreaming,
			fmt.Sprintf("source %s is already streaming to device %s", source.ID, device.ID), nil)
	}
	limit := m.cfg.MaxSessions
	if cfg.MaxSessions > 0 && cfg.MaxSessions < limit {
		limit = cfg.MaxSessions
	}
	if len(m.sessions) >= limit {
		m.mu.Unlock()
		return "", domain.NewError("start", domain.KindCapacityExceeded,
			fmt.Sprintf("at most %d concurrent sessions", limit), nil)
	}

	acks, cancelAck := m.links.ExpectStreamAck(device.ID, id)
	session := newStreamingSession(sessionParams{
		ID:         id,
		Device:     device,
		Source:     source,
		Config:     cfg,
		Options:    m.cfg.Options,
		Channel:    channel,
		Feed:       m.hub.Acquire(source, cfg.TargetFPS),
		Compressor: m.compressor,
		Acks:       acks,
		Metrics:    m.metrics,
		Logger:     m.logger,
		OnExit: func(s *StreamingSession, err error) {
			cancelAck()
			m.onSessionExit(s, err)
		},
	})
	m.sessions[id] = session
	m.order = append(m.order, id)
	count := m.deviceSessionsLocked(device.ID)
	m.mu.Unlock()

	m.links.SetStreamCount(device.ID, count)
	session.start(m.ctx)

	m.metrics.SessionStarted(device.ID)
	m.notifier.Publish(domain.LifecycleEvent{
		Type:      domain.EventSessionStarted,
		SessionID: id,
		DeviceID:  device.ID,
		SourceID:  source.ID,
		Timestamp: time.Now(),
	})
	m.logger.Infow("session started",
		"session_id", id,
		"device_id", device.ID,
		"source_id", source.ID,
		"fps", cfg.TargetFPS,
		"quality", cfg.Quality,
	)
	return id, nil
}

func (m *SessionManager) validate(device domain.Device, source domain.FrameSourceDescriptor, cfg *domain.SessionConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	if source.ID == "" || source.Bounds.Empty() {
		return domain.NewError("start", domain.KindInvalidConfig, "source descriptor has no id or empty bounds", nil)
	}
	if cfg.Codec == "" {
		cfg.Codec = m.compressor.Format()
	}
	if cfg.Codec != m.compressor.Format() {
		return domain.NewError("start", domain.KindInvalidConfig,
			fmt.Sprintf("codec %q is not available", cfg.Codec), nil)
	}
	if !device.SupportsCodec(cfg.Codec) {
		return domain.NewError("start", domain.KindInvalidConfig,
			fmt.Sprintf("device %s does not decode %s", device.ID, cfg.Codec), nil)
	}
	return nil
}

// RequestStop asks a session to drain and returns a channel closed once it
// has stopped. It reports false for unknown or already stopped sessions.
func (m *SessionManager) RequestStop(id domain.SessionID) (<-chan struct{}, bool) {
	m.mu.Lock()
	session, ok := m.sessions[id]
	m.mu.Unlock()
	if !ok {
		return nil, false
	}

	session.Stop()
	return session.Done(), true
}

// StopSession stops a session and waits for it to drain. A false result
// with a nil error means there was no such session.
func (m *SessionManager) StopSession(ctx context.Context, id domain.SessionID) (bool, error) {
	done, ok := m.RequestStop(id)
	if !ok {
		return false, nil
	}

	select {
	case <-done:
		return true, nil
	case <-ctx.Done():
		return true, ctx.Err()
	}
}

// UpdateQuality clamps the request and applies it to a running session.
func (m *SessionManager) UpdateQuality(id domain.SessionID, quality, fps int) (domain.QualitySettings, error) {
	m.mu.Lock()
	session, ok := m.sessions[id]
	m.mu.Unlock()
	if !ok {
		return domain.QualitySettings{}, domain.NewError("update_quality", domain.KindNotFound,
			fmt.Sprintf("session %s not found", id), nil)
	}

	settings := domain.ClampQuality(quality, fps)
	session.UpdateQuality(settings)

	m.logger.Infow("session quality updated",
		"session_id", id,
		"requested_quality", quality,
		"requested_fps", fps,
		"quality", settings.Quality,
		"fps", settings.FPS,
	)
	return settings, nil
}

// ListActiveSessions returns snapshots in insertion order.
func (m *SessionManager) ListActiveSessions() []domain.SessionSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	list := make([]domain.SessionSnapshot, 0, len(m.order))
	for _, id := range m.order {
		list = append(list, m.sessions[id].Snapshot())
	}
	return list
}

func (m *SessionManager) GetSession(id domain.SessionID) (domain.SessionSnapshot, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	session, ok := m.sessions[id]
	if !ok {
		return domain.SessionSnapshot{}, false
	}
	return session.Snapshot(), true
}

// RouteInputEvent delivers device input to the session it targets: the one
// named by the event's stream id, otherwise the device's oldest session.
func (m *SessionManager) RouteInputEvent(ctx context.Context, deviceID domain.DeviceID, event domain.InputEvent) {
	m.mu.Lock()
	var target *StreamingSession
	if event.StreamID != "" {
		if s, ok := m.sessions[event.StreamID]; ok && s.device.ID == deviceID {
			target = s
		}
	} else {
		for _, id := range m.order {
			if s := m.sessions[id]; s.device.ID == deviceID {
				target = s
				break
			}
		}
	}
	m.mu.Unlock()

	if target == nil {
		m.metrics.InputDropped("no_session")
		m.logger.Debugw("input dropped, no session for device",
			"device_id", deviceID,
			"stream_id", event.StreamID,
			"kind", event.Kind,
		)
		return
	}
	if state := target.State(); state != domain.SessionStreaming {
		m.metrics.InputDropped("not_streaming")
		m.logger.Debugw("input dropped, session not streaming",
			"session_id", target.id,
			"state", state,
		)
		return
	}

	if err := m.router.Route(ctx, deviceID, target.source, event); err != nil {
		m.metrics.InputDropped("inject_failed")
	}
}

// Shutdown stops every session in parallel and rejects new ones.
func (m *SessionManager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	m.closed = true
	ids := append([]domain.SessionID(nil), m.order...)
	m.mu.Unlock()

	g, gctx := errgroup.WithContext(ctx)
	for _, id := range ids {
		id := id
		g.Go(func() error {
			_, err := m.StopSession(gctx, id)
			return err
		})
	}
	err := g.Wait()
	m.cancel()

	if err != nil {
		m.logger.Warnw("sessions did not drain before shutdown deadline", "error", err)
		return fmt.Errorf("shutdown sessions: %w", err)
	}
	return nil
}

func (m *SessionManager) onSessionExit(s *StreamingSession, cause error) {
	m.mu.Lock()
	if cur, ok := m.sessions[s.id]; ok && cur == s {
		delete(m.sessions, s.id)
		for i, id := range m.order {
			if id == s.id {
				m.order = append(m.order[:i], m.order[i+1:]...)
				break
			}
		}
	}
	count := m.deviceSessionsLocked(s.device.ID)
	m.mu.Unlock()

	m.links.SetStreamCount(s.device.ID, count)
	if count == 0 {
		m.router.Forget(s.device.ID)
	}

	snap := s.Snapshot()
	now := time.Now()
	if cause != nil {
		m.metrics.SessionEnded(s.device.ID, domain.SessionFaulted)
		m.notifier.Publish(domain.LifecycleEvent{
			Type:      domain.EventSessionError,
			SessionID: s.id,
			DeviceID:  s.device.ID,
			SourceID:  s.source.ID,
			Kind:      domain.KindOf(cause),
			Reason:    domain.ReasonOf(cause),
			Timestamp: now,
		})
	} else {
		m.metrics.SessionEnded(s.device.ID, domain.SessionStopped)
	}
	m.notifier.Publish(domain.LifecycleEvent{
		Type:      domain.EventSessionStopped,
		SessionID: s.id,
		DeviceID:  s.device.ID,
		SourceID:  s.source.ID,
		Timestamp: now,
	})

	m.logger.Infow("session stopped",
		"session_id", s.id,
		"device_id", s.device.ID,
		"frames_sent", snap.FramesSent,
		"frames_skipped", snap.FramesSkipped,
		"bytes_sent", snap.BytesSent,
		"faulted", cause != nil,
	)
}

func (m *SessionManager) deviceSessionsLocked(id domain.DeviceID) int {
	n := 0
	for _, s := range m.sessions {
		if s.device.ID == id {
			n++
		}
	}
	return n
}
