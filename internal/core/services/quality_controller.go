package services

import (
	"time"

	"sidescreen/internal/core/domain"
)

// AdaptiveConfig tunes the per-session quality controller.
type AdaptiveConfig struct {
	Enabled       bool
	Window        time.Duration
	BusyThreshold float64 // busy ratio at or above which the session degrades
	StableWindows int     // calm windows required before stepping back up
}

func DefaultAdaptiveConfig() AdaptiveConfig {
	return AdaptiveConfig{
		Enabled:       true,
		Window:        2 * time.Second,
		BusyThreshold: 0.2,
		StableWindows: 3,
	}
}

const (
	qualityStep = 10
	// recovery uses a stricter threshold than degradation to prevent oscillation
	hysteresisFactor = 0.25
	// mean send time above this share of the frame interval counts as pressure
	slowSendFactor = 0.8
)

// QualityController adapts a session's effective quality and fps to its
// delivery metrics. Quality is lowered first, then fps; recovery restores fps
// first, then quality, never exceeding the requested target.
type QualityController struct {
	cfg    AdaptiveConfig
	stable int
}

func NewQualityController(cfg AdaptiveConfig) *QualityController {
	if cfg.StableWindows < 1 {
		cfg.StableWindows = 1
	}
	return &QualityController{cfg: cfg}
}

// Reset forgets accumulated calm windows, e.g. after a manual quality update.
func (c *QualityController) Reset() {
	c.stable = 0
}

// Evaluate returns the settings for the next window and whether they changed.
func (c *QualityController) Evaluate(m domain.DeliveryMetrics, current, target domain.QualitySettings) (domain.QualitySettings, bool) {
	if !c.cfg.Enabled || m.Ticks == 0 {
		return current, false
	}

	busy := m.BusyRatio()
	slow := m.MeanSendTime > time.Duration(float64(domain.FrameInterval(current.FPS))*slowSendFactor)

	if busy >= c.cfg.BusyThreshold || slow {
		c.stable = 0
		return c.degrade(current, target)
	}

	calm := busy <= c.cfg.BusyThreshold*hysteresisFactor &&
		m.MeanSendTime <= time.Duration(float64(domain.FrameInterval(current.FPS))*slowSendFactor*(1-hysteresisFactor))
	if !calm {
		c.stable = 0
		return current, false
	}

	c.stable++
	if c.stable < c.cfg.StableWindows {
		return current, false
	}
	c.stable = 0
	return c.recover(current, target)
}

func (c *QualityController) degrade(current, target domain.QualitySettings) (domain.QualitySettings, bool) {
	next := current
	qualityFloor := min(domain.AdjustMinQuality, target.Quality)
	fpsFloor := min(domain.AdjustMinFPS, target.FPS)

	switch {
	case current.Quality > qualityFloor:
		next.Quality = max(current.Quality-qualityStep, qualityFloor)
	case current.FPS > fpsFloor:
		next.FPS = max(current.FPS*3/4, fpsFloor)
	default:
		return current, false
	}
	return next, true
}

func (c *QualityController) recover(current, target domain.QualitySettings) (domain.QualitySettings, bool) {
	next := current

	switch {
	case current.FPS < target.FPS:
		next.FPS = min(current.FPS*4/3+1, target.FPS)
	case current.Quality < target.Quality:
		next.Quality = min(current.Quality+qualityStep, target.Quality)
	default:
		return current, false
	}
	return next, true
}
