package services

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"sidescreen/internal/core/domain"
	"sidescreen/internal/core/ports"
)

// CaptureHub runs one capture loop per source and shares its latest frame
// with every session that holds a feed on that source.
type CaptureHub struct {
	source  ports.FrameSource
	metrics ports.MetricsRecorder
	logger  *zap.SugaredLogger

	mu    sync.Mutex
	loops map[domain.SourceID]*captureLoop
	wg    sync.WaitGroup
}

type captureLoop struct {
	desc   domain.FrameSourceDescriptor
	feeds  map[*SourceFeed]struct{}
	retune chan struct{}
	cancel context.CancelFunc

	// guarded by CaptureHub.mu
	latest *domain.FrameBuffer
	seq    uint64
	err    error
}

// SourceFeed is one session's handle on a shared capture loop.
type SourceFeed struct {
	hub      *CaptureHub
	loop     *captureLoop
	ready    chan struct{}
	fps      int
	released bool
}

func NewCaptureHub(source ports.FrameSource, metrics ports.MetricsRecorder, logger *zap.SugaredLogger) *CaptureHub {
	if metrics == nil {
		metrics = NoopMetrics{}
	}
	return &CaptureHub{
		source:  source,
		metrics: metrics,
		logger:  logger,
		loops:   make(map[domain.SourceID]*captureLoop),
	}
}

// Acquire returns a feed on desc's capture loop, starting the loop if this is
// the first feed for the source.
func (h *CaptureHub) Acquire(desc domain.FrameSourceDescriptor, fps int) *SourceFeed {
	h.mu.Lock()
	defer h.mu.Unlock()

	loop, ok := h.loops[desc.ID]
	if !ok {
		ctx, cancel := context.WithCancel(context.Background())
		loop = &captureLoop{
			desc:   desc,
			feeds:  make(map[*SourceFeed]struct{}),
			retune: make(chan struct{}, 1),
			cancel: cancel,
		}
		h.loops[desc.ID] = loop
		h.wg.Add(1)
		go h.run(ctx, loop)

		h.logger.Infow("capture started", "source_id", desc.ID)
	}

	feed := &SourceFeed{
		hub:   h,
		loop:  loop,
		ready: make(chan struct{}, 1),
		fps:   fps,
	}
	loop.feeds[feed] = struct{}{}
	if ok {
		loop.signalRetune()
		if loop.latest != nil || loop.err != nil {
			feed.notify()
		}
	}
	return feed
}

// Refs reports how many feeds hold the source's capture loop.
func (h *CaptureHub) Refs(id domain.SourceID) int {
	h.mu.Lock()
	defer h.mu.Unlock()

	if loop, ok := h.loops[id]; ok {
		return len(loop.feeds)
	}
	return 0
}

// Close stops every capture loop and waits for them to exit.
func (h *CaptureHub) Close() {
	h.mu.Lock()
	for id, loop := range h.loops {
		loop.cancel()
		delete(h.loops, id)
	}
	h.mu.Unlock()

	h.wg.Wait()
}

func (h *CaptureHub) run(ctx context.Context, loop *captureLoop) {
	defer h.wg.Done()

	interval := h.interval(loop)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	if !h.capture(ctx, loop) {
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-loop.retune:
			if next := h.interval(loop); next != interval {
				interval = next
				ticker.Reset(interval)
				h.logger.Debugw("capture interval changed",
					"source_id", loop.desc.ID,
					"interval", interval,
				)
			}
		case <-ticker.C:
			if !h.capture(ctx, loop) {
				return
			}
		}
	}
}

// capture takes one frame. It returns false once the loop must stop.
func (h *CaptureHub) capture(ctx context.Context, loop *captureLoop) bool {
	start := time.Now()
	frame, err := h.source.CaptureFrame(ctx, loop.desc)
	h.metrics.FrameCaptured(loop.desc.ID, time.Since(start), err)

	if ctx.Err() != nil {
		return false
	}

	if err != nil {
		if domain.KindOf(err) != domain.KindSourceUnavailable {
			h.logger.Warnw("capture failed",
				"source_id", loop.desc.ID,
				"error", err,
			)
			return true
		}

		h.logger.Errorw("source unavailable, stopping capture",
			"source_id", loop.desc.ID,
			"error", err,
		)
		h.mu.Lock()
		loop.err = err
		if h.loops[loop.desc.ID] == loop {
			delete(h.loops, loop.desc.ID)
		}
		loop.notifyAll()
		h.mu.Unlock()
		return false
	}

	published := *frame
	h.mu.Lock()
	loop.seq++
	published.Seq = loop.seq
	loop.latest = &published
	loop.notifyAll()
	h.mu.Unlock()
	return true
}

// interval is the period of the fastest feed, capped by the source refresh rate.
func (h *CaptureHub) interval(loop *captureLoop) time.Duration {
	h.mu.Lock()
	defer h.mu.Unlock()

	fps := 0
	for f := range loop.feeds {
		fps = max(fps, f.fps)
	}
	if hint := loop.desc.RefreshHint; hint > 0 && fps > hint {
		fps = hint
	}
	return domain.FrameInterval(fps)
}

func (l *captureLoop) notifyAll() {
	for f := range l.feeds {
		f.notify()
	}
}

func (l *captureLoop) signalRetune() {
	select {
	case l.retune <- struct{}{}:
	default:
	}
}

func (f *SourceFeed) notify() {
	select {
	case f.ready <- struct{}{}:
	default:
	}
}

func (f *SourceFeed) SourceID() domain.SourceID {
	return f.loop.desc.ID
}

// Latest returns the most recent frame, or the error that stopped the source.
func (f *SourceFeed) Latest() (*domain.FrameBuffer, error) {
	f.hub.mu.Lock()
	defer f.hub.mu.Unlock()
	return f.loop.latest, f.loop.err
}

// Ready receives a signal after each published frame or source failure.
func (f *SourceFeed) Ready() <-chan struct{} {
	return f.ready
}

// SetRate changes the fps this feed needs from the capture loop.
func (f *SourceFeed) SetRate(fps int) {
	f.hub.mu.Lock()
	defer f.hub.mu.Unlock()

	if f.released || f.fps == fps {
		return
	}
	f.fps = fps
	f.loop.signalRetune()
}

// Release drops the feed. The last release on a source stops its capture loop.
func (f *SourceFeed) Release() {
	h := f.hub
	h.mu.Lock()
	defer h.mu.Unlock()

	if f.released {
		return
	}
	f.released = true
	delete(f.loop.feeds, f)

	if len(f.loop.feeds) > 0 {
		f.loop.signalRetune()
		return
	}
	f.loop.cancel()
	if h.loops[f.loop.desc.ID] == f.loop {
		delete(h.loops, f.loop.desc.ID)
		h.logger.Infow("capture stopped", "source_id", f.loop.desc.ID)
	}
}
