package circuitbreaker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrOpen is returned without calling the protected function while the breaker is open.
var ErrOpen = errors.New("circuit breaker is open")

type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

var stateNames = [...]string{
	StateClosed:   "closed",
	StateOpen:     "open",
	StateHalfOpen: "half-open",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

// Config holds circuit breaker configuration
type Config struct {
	FailureThreshold    int           // consecutive failures before opening
	SuccessThreshold    int           // half-open successes needed to close
	Timeout             time.Duration // open duration before probing
	MaxRequestsHalfOpen int           // concurrent probes while half-open
}

func DefaultConfig() Config {
	return Config{
		FailureThreshold:    5,
		SuccessThreshold:    2,
		Timeout:             30 * time.Second,
		MaxRequestsHalfOpen: 1,
	}
}

// Counts is a snapshot of the breaker's bookkeeping for the current state.
type Counts struct {
	State     State
	Failures  int
	Successes int
	Probes    int
	Since     time.Time
}

type CircuitBreaker struct {
	config Config
	now    func() time.Time

	mu       sync.Mutex
	counts   Counts
	onChange func(from, to State)
}

func New(config Config) *CircuitBreaker {
	return &CircuitBreaker{
		config: config,
		now:    time.Now,
		counts: Counts{State: StateClosed, Since: time.Now()},
	}
}

// OnStateChange registers fn to be called, on its own goroutine, after each transition.
func (cb *CircuitBreaker) OnStateChange(fn func(from, to State)) {
	cb.mu.Lock()
	cb.onChange = fn
	cb.mu.Unlock()
}

// Execute runs fn unless the breaker is open. Context cancellation is not
// counted as a failure of the protected dependency.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if state, ok := cb.admit(); !ok {
		return fmt.Errorf("%w (%s)", ErrOpen, state)
	}

	err := fn()
	cb.record(err)
	return err
}

func (cb *CircuitBreaker) admit() (State, bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	c := &cb.counts
	if c.State == StateOpen {
		if cb.now().Sub(c.Since) < cb.config.Timeout {
			return c.State, false
		}
		cb.setState(StateHalfOpen)
	}
	if c.State == StateHalfOpen {
		if c.Probes >= cb.config.MaxRequestsHalfOpen {
			return c.State, false
		}
		c.Probes++
	}
	return c.State, true
}

func (cb *CircuitBreaker) record(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	c := &cb.counts
	halfOpen := c.State == StateHalfOpen
	if halfOpen && c.Probes > 0 {
		c.Probes--
	}

	switch {
	case errors.Is(err, context.Canceled):
	case err != nil:
		c.Failures++
		c.Successes = 0
		if halfOpen || c.Failures >= cb.config.FailureThreshold {
			cb.setState(StateOpen)
		}
	default:
		c.Failures = 0
		if !halfOpen {
			return
		}
		c.Successes++
		if c.Successes >= cb.config.SuccessThreshold {
			cb.setState(StateClosed)
		}
	}
}

// setState must be called with mu held.
func (cb *CircuitBreaker) setState(to State) {
	from := cb.counts.State
	if from == to {
		return
	}
	cb.counts = Counts{State: to, Since: cb.now()}
	if cb.onChange != nil {
		go cb.onChange(from, to)
	}
}

func (cb *CircuitBreaker) State() State {
	return cb.Counts().State
}

func (cb *CircuitBreaker) Counts() Counts {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.counts
}

// Reset forces the breaker closed.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.setState(StateClosed)
}
