package monitoring

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
)

// HealthCheck probes one dependency. A failing optional check degrades the
// daemon without making it unready.
type HealthCheck struct {
	Name     string
	Check    func(ctx context.Context) error
	Interval time.Duration
	Timeout  time.Duration
	Optional bool
}

type HealthStatus struct {
	Status    string            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Checks    map[string]string `json:"checks"`
}

// Healthy reports whether the daemon can serve: degraded counts.
func (s HealthStatus) Healthy() bool {
	return s.Status != StatusUnhealthy
}

type HealthChecker struct {
	mu     sync.RWMutex
	checks []HealthCheck
	last   map[string]error
	logger *zap.SugaredLogger
}

func NewHealthChecker(logger *zap.SugaredLogger) *HealthChecker {
	return &HealthChecker{
		last:   make(map[string]error),
		logger: logger,
	}
}

func (h *HealthChecker) Register(check HealthCheck) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checks = append(h.checks, check)
}

func (h *HealthChecker) AddCheck(name string, check func(ctx context.Context) error, interval, timeout time.Duration) {
	h.Register(HealthCheck{Name: name, Check: check, Interval: interval, Timeout: timeout})
}

// CheckAll runs every check now, concurrently.
func (h *HealthChecker) CheckAll(ctx context.Context) HealthStatus {
	h.mu.RLock()
	checks := append([]HealthCheck(nil), h.checks...)
	h.mu.RUnlock()

	errs := make([]error, len(checks))
	var wg sync.WaitGroup
	for i, check := range checks {
		wg.Add(1)
		go func(i int, check HealthCheck) {
			defer wg.Done()
			errs[i] = probe(ctx, check)
		}(i, check)
	}
	wg.Wait()

	status := HealthStatus{
		Status:    StatusHealthy,
		Timestamp: time.Now(),
		Checks:    make(map[string]string, len(checks)),
	}
	for i, check := range checks {
		if errs[i] == nil {
			status.Checks[check.Name] = StatusHealthy
			continue
		}
		status.Checks[check.Name] = errs[i].Error()
		switch {
		case !check.Optional:
			status.Status = StatusUnhealthy
		case status.Status == StatusHealthy:
			status.Status = StatusDegraded
		}
	}
	return status
}

// StartBackgroundChecks polls each check with an interval until ctx is done
// and logs transitions between passing and failing.
func (h *HealthChecker) StartBackgroundChecks(ctx context.Context) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, check := range h.checks {
		if check.Interval > 0 {
			go h.poll(ctx, check)
		}
	}
}

func (h *HealthChecker) poll(ctx context.Context, check HealthCheck) {
	ticker := time.NewTicker(check.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		err := probe(ctx, check)
		h.mu.Lock()
		prev, seen := h.last[check.Name]
		h.last[check.Name] = err
		h.mu.Unlock()

		if err != nil && (!seen || prev == nil) {
			h.logger.Warnw("health check failing", "check", check.Name, "optional", check.Optional, "error", err)
		} else if err == nil && prev != nil {
			h.logger.Infow("health check recovered", "check", check.Name)
		}
	}
}

func probe(ctx context.Context, check HealthCheck) error {
	if check.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, check.Timeout)
		defer cancel()
	}
	return check.Check(ctx)
}
