package services

import (
	"context"
	"fmt"
	"math"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"sidescreen/internal/core/domain"
	"sidescreen/internal/core/ports"
)

type InputRouterConfig struct {
	EventsPerSecond float64 // 0 disables limiting
	Burst           int
}

// InputRouter maps normalized device input onto the host desktop and hands it
// to the injector. Continuous events (move, wheel) are rate limited per
// device; discrete ones never are, so pointer state cannot get stuck.
type InputRouter struct {
	injector ports.InputInjector
	cfg      InputRouterConfig
	metrics  ports.MetricsRecorder
	logger   *zap.SugaredLogger

	mu       sync.Mutex
	limiters map[domain.DeviceID]*rate.Limiter
}

func NewInputRouter(injector ports.InputInjector, cfg InputRouterConfig, metrics ports.MetricsRecorder, logger *zap.SugaredLogger) *InputRouter {
	if metrics == nil {
		metrics = NoopMetrics{}
	}
	return &InputRouter{
		injector: injector,
		cfg:      cfg,
		metrics:  metrics,
		logger:   logger,
		limiters: make(map[domain.DeviceID]*rate.Limiter),
	}
}

// Route forwards event for a session showing source. Dropped events return nil.
func (r *InputRouter) Route(ctx context.Context, deviceID domain.DeviceID, source domain.FrameSourceDescriptor, event domain.InputEvent) error {
	if r.injector == nil {
		r.drop(deviceID, event, "no_injector")
		return nil
	}
	if !validCoordinate(event.X) || !validCoordinate(event.Y) {
		r.drop(deviceID, event, "invalid")
		return nil
	}
	if event.Continuous() && !r.limiter(deviceID).Allow() {
		r.drop(deviceID, event, "rate_limited")
		return nil
	}

	x, y := MapToHost(source.Bounds, event.X, event.Y)
	hostEvent := domain.HostInputEvent{
		DeviceID:  deviceID,
		SourceID:  source.ID,
		Kind:      event.Kind,
		Action:    event.Action,
		X:         x,
		Y:         y,
		Pressure:  event.Pressure,
		ScrollDX:  event.ScrollDX,
		ScrollDY:  event.ScrollDY,
		Timestamp: event.Timestamp,
	}

	if err := r.injector.Forward(ctx, hostEvent); err != nil {
		r.logger.Warnw("input injection failed",
			"device_id", deviceID,
			"kind", event.Kind,
			"action", event.Action,
			"error", err,
		)
		return fmt.Errorf("forward input: %w", err)
	}
	return nil
}

// Forget discards per-device limiter state.
func (r *InputRouter) Forget(deviceID domain.DeviceID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.limiters, deviceID)
}

func (r *InputRouter) limiter(deviceID domain.DeviceID) *rate.Limiter {
	r.mu.Lock()
	defer r.mu.Unlock()

	l, ok := r.limiters[deviceID]
	if !ok {
		limit := rate.Inf
		if r.cfg.EventsPerSecond > 0 {
			limit = rate.Limit(r.cfg.EventsPerSecond)
		}
		l = rate.NewLimiter(limit, max(r.cfg.Burst, 1))
		r.limiters[deviceID] = l
	}
	return l
}

func (r *InputRouter) drop(deviceID domain.DeviceID, event domain.InputEvent, reason string) {
	r.metrics.InputDropped(reason)
	r.logger.Debugw("input event dropped",
		"device_id", deviceID,
		"kind", event.Kind,
		"action", event.Action,
		"reason", reason,
	)
}

// MapToHost converts normalized [0,1] coordinates into pixels inside bounds.
// Values outside the range are clamped to the nearest edge.
func MapToHost(bounds domain.Rect, nx, ny float64) (int, int) {
	nx = math.Min(math.Max(nx, 0), 1)
	ny = math.Min(math.Max(ny, 0), 1)
	x := bounds.X + int(math.Round(nx*float64(max(bounds.Width-1, 0))))
	y := bounds.Y + int(math.Round(ny*float64(max(bounds.Height-1, 0))))
	return x, y
}

func validCoordinate(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
