package input

import (
	"context"
	"sync/atomic"

	"go.uber.org/zap"

	"sidescreen/internal/core/domain"
)

// LogInjector records host input events instead of injecting them. It stands
// in on hosts without a platform injection backend.
type LogInjector struct {
	logger   *zap.SugaredLogger
	injected atomic.Uint64
}

func NewLogInjector(logger *zap.SugaredLogger) *LogInjector {
	return &LogInjector{logger: logger}
}

func (i *LogInjector) Forward(ctx context.Context, event domain.HostInputEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	i.injected.Add(1)
	i.logger.Debugw("input event",
		"device_id", event.DeviceID,
		"source_id", event.SourceID,
		"kind", event.Kind,
		"action", event.Action,
		"x", event.X,
		"y", event.Y,
	)
	return nil
}

// Injected returns the number of events forwarded so far.
func (i *LogInjector) Injected() uint64 {
	return i.injected.Load()
}
