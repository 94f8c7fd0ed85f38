package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"sidescreen/internal/core/domain"
	"sidescreen/internal/core/ports"
	"sidescreen/internal/protocol"
)

// SessionOptions holds the timing knobs shared by every session of a manager.
type SessionOptions struct {
	AckTimeout          time.Duration
	DrainTimeout        time.Duration
	MaxCompressFailures int
	Adaptive            AdaptiveConfig
}

func DefaultSessionOptions() SessionOptions {
	return SessionOptions{
		AckTimeout:          10 * time.Second,
		DrainTimeout:        2 * time.Second,
		MaxCompressFailures: 3,
		Adaptive:            DefaultAdaptiveConfig(),
	}
}

var errStopRequested = errors.New("stop requested")

// StreamingSession streams one source to one device. It owns its send loop
// and at most one in-flight delivery; the device channel belongs to the
// connection coordinator.
type StreamingSession struct {
	id         domain.SessionID
	device     domain.Device
	source     domain.FrameSourceDescriptor
	cfg        domain.SessionConfig
	opts       SessionOptions
	channel    ports.DeviceChannel
	feed       *SourceFeed
	compressor ports.FrameCompressor
	acks       <-chan protocol.StreamStartAck
	controller *QualityController
	metrics    ports.MetricsRecorder
	logger     *zap.SugaredLogger
	onExit     func(*StreamingSession, error)

	mu          sync.Mutex
	state       domain.SessionState
	target      domain.QualitySettings
	effective   domain.QualitySettings
	stats       sessionStats
	startedAt   time.Time
	faultReason string

	settings chan struct{}
	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

type sessionStats struct {
	framesSent       uint64
	bytesSent        uint64
	framesSkipped    uint64
	compressFailures uint64
	lastFrameSentAt  time.Time
}

type sessionParams struct {
	ID         domain.SessionID
	Device     domain.Device
	Source     domain.FrameSourceDescriptor
	Config     domain.SessionConfig
	Options    SessionOptions
	Channel    ports.DeviceChannel
	Feed       *SourceFeed
	Compressor ports.FrameCompressor
	Acks       <-chan protocol.StreamStartAck
	Metrics    ports.MetricsRecorder
	Logger     *zap.SugaredLogger
	OnExit     func(*StreamingSession, error)
}

type deliveryResult struct {
	bytes       int
	sendTime    time.Duration
	compressErr error
	sendErr     error
}

// deliveryWindow accumulates send-path observations between quality checks.
type deliveryWindow struct {
	started     time.Time
	ticks       int
	sent        int
	skippedBusy int
	sendTime    time.Duration
}

func (w deliveryWindow) metrics(now time.Time) domain.DeliveryMetrics {
	m := domain.DeliveryMetrics{
		Window:      now.Sub(w.started),
		Ticks:       w.ticks,
		Sent:        w.sent,
		SkippedBusy: w.skippedBusy,
		Timestamp:   now,
	}
	if w.sent > 0 {
		m.MeanSendTime = w.sendTime / time.Duration(w.sent)
	}
	return m
}

func newStreamingSession(p sessionParams) *StreamingSession {
	if p.Metrics == nil {
		p.Metrics = NoopMetrics{}
	}
	initial := domain.QualitySettings{Quality: p.Config.Quality, FPS: p.Config.TargetFPS}
	s := &StreamingSession{
		id:         p.ID,
		device:     p.Device,
		source:     p.Source,
		cfg:        p.Config,
		opts:       p.Options,
		channel:    p.Channel,
		feed:       p.Feed,
		compressor: p.Compressor,
		acks:       p.Acks,
		metrics:    p.Metrics,
		logger:     p.Logger.With("session_id", p.ID, "device_id", p.Device.ID, "source_id", p.Source.ID),
		onExit:     p.OnExit,
		state:      domain.SessionInitializing,
		target:     initial,
		effective:  initial,
		startedAt:  time.Now(),
		settings:   make(chan struct{}, 1),
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
	}
	if p.Options.Adaptive.Enabled {
		s.controller = NewQualityController(p.Options.Adaptive)
	}
	return s
}

func (s *StreamingSession) ID() domain.SessionID {
	return s.id
}

// Done is closed once the session is stopped and its feed released.
func (s *StreamingSession) Done() <-chan struct{} {
	return s.done
}

func (s *StreamingSession) State() domain.SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Stop asks the session to drain. It does not wait.
func (s *StreamingSession) Stop() {
	s.stopOnce.Do(func() { close(s.stop) })
}

// UpdateQuality replaces the requested settings. The change applies from the
// next delivery; a send already in flight keeps the settings it started with.
func (s *StreamingSession) UpdateQuality(q domain.QualitySettings) {
	s.mu.Lock()
	s.target = q
	s.effective = q
	s.mu.Unlock()

	s.feed.SetRate(q.FPS)
	s.signalSettings()
}

func (s *StreamingSession) Effective() domain.QualitySettings {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.effective
}

func (s *StreamingSession) Snapshot() domain.SessionSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	return domain.SessionSnapshot{
		ID:               s.id,
		DeviceID:         s.device.ID,
		SourceID:         s.source.ID,
		State:            s.state,
		Config:           s.cfg,
		Effective:        s.effective,
		FramesSent:       s.stats.framesSent,
		BytesSent:        s.stats.bytesSent,
		FramesSkipped:    s.stats.framesSkipped,
		CompressFailures: s.stats.compressFailures,
		LastFrameSentAt:  s.stats.lastFrameSentAt,
		StartedAt:        s.startedAt,
		FaultReason:      s.faultReason,
	}
}

func (s *StreamingSession) start(ctx context.Context) {
	go s.run(ctx)
}

func (s *StreamingSession) run(ctx context.Context) {
	var err error
	defer func() {
		s.feed.Release()
		s.setState(domain.SessionStopped)
		if s.onExit != nil {
			s.onExit(s, err)
		}
		close(s.done)
	}()

	if err = s.handshake(ctx); err != nil {
		if errors.Is(err, errStopRequested) {
			err = nil
			s.setState(domain.SessionDraining)
			s.sendStop("stopped")
			return
		}
		s.fault(err)
		return
	}

	s.setState(domain.SessionStreaming)
	s.logger.Infow("session streaming", "fps", s.cfg.TargetFPS, "quality", s.cfg.Quality)

	if err = s.stream(ctx); err != nil {
		s.fault(err)
	}
}

func (s *StreamingSession) handshake(ctx context.Context) error {
	eff := s.Effective()
	start := &protocol.StreamStart{
		StreamID: string(s.id),
		Width:    s.source.Bounds.Width,
		Height:   s.source.Bounds.Height,
		Format:   s.compressor.Format(),
		FPS:      eff.FPS,
		Quality:  eff.Quality,
	}

	timer := time.NewTimer(s.opts.AckTimeout)
	defer timer.Stop()

	sendCtx, cancel := context.WithTimeout(ctx, s.opts.AckTimeout)
	err := s.channel.Send(sendCtx, protocol.TypeStreamStart, start.Marshal())
	cancel()
	if err != nil {
		return domain.NewError("stream_start", domain.KindChannelFailed, "stream start could not be sent", err)
	}

	select {
	case ack := <-s.acks:
		if !ack.Accepted {
			reason := ack.Reason
			if reason == "" {
				reason = "device declined the stream"
			}
			return domain.NewError("stream_start", domain.KindStreamRejected, reason, nil)
		}
		return nil
	case <-timer.C:
		return domain.NewError("stream_start", domain.KindStreamRejected,
			fmt.Sprintf("device did not acknowledge stream start within %s", s.opts.AckTimeout), nil)
	case <-s.channel.Done():
		return s.channelLost()
	case <-s.stop:
		return errStopRequested
	case <-ctx.Done():
		return errStopRequested
	}
}

func (s *StreamingSession) stream(ctx context.Context) error {
	fps := s.Effective().FPS
	ticker := time.NewTicker(domain.FrameInterval(fps))
	defer ticker.Stop()

	var adjust <-chan time.Time
	if s.controller != nil && s.opts.Adaptive.Window > 0 {
		t := time.NewTicker(s.opts.Adaptive.Window)
		defer t.Stop()
		adjust = t.C
	}

	sendCtx, cancelSends := context.WithCancel(context.Background())
	defer cancelSends()

	results := make(chan deliveryResult, 1)
	var (
		lastSeq  uint64
		armed    bool
		inflight bool
		failures int
		window   = deliveryWindow{started: time.Now()}
	)

	// dispatch hands the newest unsent frame to a delivery worker.
	dispatch := func() (bool, error) {
		select {
		case <-s.stop:
			return false, nil
		default:
		}
		frame, err := s.feed.Latest()
		if err != nil {
			return false, sourceLost(err)
		}
		if frame == nil || frame.Seq <= lastSeq {
			return false, nil
		}
		lastSeq = frame.Seq
		inflight = true
		go s.deliver(sendCtx, frame, s.Effective().Quality, results)
		return true, nil
	}

	for {
		select {
		case <-s.stop:
			return s.drain(inflight, results, cancelSends)
		case <-ctx.Done():
			return s.drain(inflight, results, cancelSends)
		case <-s.channel.Done():
			return s.channelLost()

		case <-s.settings:
			if s.controller != nil {
				s.controller.Reset()
			}
			if next := s.Effective().FPS; next != fps {
				fps = next
				ticker.Reset(domain.FrameInterval(fps))
			}

		case <-ticker.C:
			window.ticks++
			if inflight {
				window.skippedBusy++
				armed = false
				s.mu.Lock()
				s.stats.framesSkipped++
				s.mu.Unlock()
				s.metrics.FrameSkipped("busy")
				continue
			}
			sent, err := dispatch()
			if err != nil {
				return err
			}
			// nothing new yet: send on the next frame signal instead of waiting a full tick
			armed = !sent

		case <-s.feed.Ready():
			if !armed || inflight {
				if _, err := s.feed.Latest(); err != nil {
					return sourceLost(err)
				}
				continue
			}
			sent, err := dispatch()
			if err != nil {
				return err
			}
			if sent {
				armed = false
			}

		case res := <-results:
			inflight = false
			if err := s.record(res, &failures); err != nil {
				return err
			}
			if res.compressErr == nil {
				window.sent++
				window.sendTime += res.sendTime
			}

		case now := <-adjust:
			s.adapt(window.metrics(now))
			window = deliveryWindow{started: now}
		}
	}
}

func (s *StreamingSession) deliver(ctx context.Context, frame *domain.FrameBuffer, quality int, results chan<- deliveryResult) {
	start := time.Now()
	data, err := s.compressor.Compress(frame, quality)
	if err != nil {
		results <- deliveryResult{compressErr: err}
		return
	}
	s.metrics.FrameCompressed(time.Since(start))

	msg := &protocol.FrameData{
		StreamID:  string(s.id),
		Seq:       frame.Seq,
		Width:     frame.Width,
		Height:    frame.Height,
		Format:    s.compressor.Format(),
		Timestamp: frame.CapturedAt.UnixMicro(),
		Data:      data,
	}

	sendStart := time.Now()
	err = s.channel.Send(ctx, protocol.TypeFrameData, msg.Marshal())
	results <- deliveryResult{bytes: len(data), sendTime: time.Since(sendStart), sendErr: err}
}

// record applies one delivery result. A non-nil return faults the session.
func (s *StreamingSession) record(res deliveryResult, failures *int) error {
	if res.compressErr != nil {
		*failures++
		s.mu.Lock()
		s.stats.compressFailures++
		s.mu.Unlock()
		s.metrics.CompressFailed()

		s.logger.Warnw("frame compression failed",
			"consecutive", *failures,
			"error", res.compressErr,
		)
		if *failures >= s.opts.MaxCompressFailures {
			return domain.NewError("compress", domain.KindCompressFailed,
				fmt.Sprintf("%d consecutive compression failures", *failures), res.compressErr)
		}
		return nil
	}
	*failures = 0

	if res.sendErr != nil {
		return domain.NewError("send", domain.KindChannelFailed, "frame send failed", res.sendErr)
	}

	s.mu.Lock()
	s.stats.framesSent++
	s.stats.bytesSent += uint64(res.bytes)
	s.stats.lastFrameSentAt = time.Now()
	s.mu.Unlock()
	s.metrics.FrameSent(res.bytes, res.sendTime)
	return nil
}

func (s *StreamingSession) adapt(m domain.DeliveryMetrics) {
	if s.controller == nil {
		return
	}

	s.mu.Lock()
	current, target := s.effective, s.target
	s.mu.Unlock()

	next, changed := s.controller.Evaluate(m, current, target)
	if !changed {
		return
	}

	s.mu.Lock()
	if s.effective != current {
		// a manual update won the race
		s.mu.Unlock()
		return
	}
	s.effective = next
	s.mu.Unlock()

	s.logger.Infow("quality adapted",
		"busy_ratio", m.BusyRatio(),
		"mean_send_time", m.MeanSendTime,
		"quality", next.Quality,
		"fps", next.FPS,
	)
	s.feed.SetRate(next.FPS)
	s.signalSettings()
}

func (s *StreamingSession) drain(inflight bool, results <-chan deliveryResult, cancelSends context.CancelFunc) error {
	s.setState(domain.SessionDraining)

	if inflight {
		timer := time.NewTimer(s.opts.DrainTimeout)
		select {
		case res := <-results:
			var failures int
			if err := s.record(res, &failures); err != nil {
				s.logger.Debugw("final delivery failed", "error", err)
			}
		case <-timer.C:
			s.logger.Warnw("in-flight send did not finish before drain timeout",
				"drain_timeout", s.opts.DrainTimeout,
			)
		case <-s.channel.Done():
		}
		timer.Stop()
	}
	cancelSends()

	s.sendStop("stopped")
	return nil
}

// sendStop tells the device the stream ended, if the channel is still usable.
func (s *StreamingSession) sendStop(reason string) {
	select {
	case <-s.channel.Done():
		return
	default:
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.opts.DrainTimeout)
	defer cancel()

	stop := &protocol.StreamStop{StreamID: string(s.id), Reason: reason}
	if err := s.channel.Send(ctx, protocol.TypeStreamStop, stop.Marshal()); err != nil {
		s.logger.Warnw("stream stop not delivered", "error", err)
	}
}

func (s *StreamingSession) fault(err error) {
	s.mu.Lock()
	s.state = domain.SessionFaulted
	s.faultReason = domain.ReasonOf(err)
	s.mu.Unlock()

	s.logger.Errorw("session faulted",
		"kind", domain.KindOf(err),
		"error", err,
	)
}

func (s *StreamingSession) channelLost() error {
	cause := s.channel.Err()
	if cause == nil {
		cause = errors.New("channel closed")
	}
	return domain.NewError("stream", domain.KindChannelFailed, "device channel closed", cause)
}

func sourceLost(err error) error {
	return domain.NewError("capture", domain.KindSourceUnavailable, "capture source is no longer available", err)
}

func (s *StreamingSession) setState(state domain.SessionState) {
	s.mu.Lock()
	prev := s.state
	s.state = state
	s.mu.Unlock()

	if prev != state {
		s.logger.Debugw("session state changed", "from", prev, "to", state)
	}
}

func (s *StreamingSession) signalSettings() {
	select {
	case s.settings <- struct{}{}:
	default:
	}
}
