package webhook

import (
	"net/url"
	"sync"
	"time"
)

// CircuitState represents the current state of the circuit breaker
type CircuitState int

const (
	// CircuitClosed allows requests to pass through
	CircuitClosed CircuitState = iota
	// CircuitOpen blocks all requests
	CircuitOpen
	// CircuitHalfOpen lets probe requests through to test recovery
	CircuitHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// BreakerSettings configures circuit breakers. Zero fields take defaults:
// open after 5 consecutive failures, probe after 30s, close after 2 probe successes.
type BreakerSettings struct {
	FailureThreshold int           `env:"WEBHOOK_BREAKER_FAILURES" envDefault:"5"`
	SuccessThreshold int           `env:"WEBHOOK_BREAKER_SUCCESSES" envDefault:"2"`
	RecoveryTimeout  time.Duration `env:"WEBHOOK_BREAKER_RECOVERY" envDefault:"30s"`
}

func (s BreakerSettings) withDefaults() BreakerSettings {
	if s.FailureThreshold <= 0 {
		s.FailureThreshold = 5
	}
	if s.SuccessThreshold <= 0 {
		s.SuccessThreshold = 2
	}
	if s.RecoveryTimeout <= 0 {
		s.RecoveryTimeout = 30 * time.Second
	}
	return s
}

// CircuitBreaker stops calls to an endpoint that keeps failing.
// Safe for concurrent use.
type CircuitBreaker struct {
	mu       sync.Mutex
	settings BreakerSettings
	now      func() time.Time

	state        CircuitState
	failures     int
	successCount int
	openedAt     time.Time
}

// NewCircuitBreaker creates a closed circuit breaker.
func NewCircuitBreaker(settings BreakerSettings) *CircuitBreaker {
	return &CircuitBreaker{settings: settings.withDefaults(), now: time.Now}
}

// Allow reports whether a request may be sent. An open circuit turns
// half-open once the recovery timeout has passed.
func (cb *CircuitBreaker) Allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == CircuitOpen {
		if cb.now().Sub(cb.openedAt) < cb.settings.RecoveryTimeout {
			return false
		}
		cb.state = CircuitHalfOpen
		cb.successCount = 0
	}
	return true
}

// Record feeds the outcome of a request into the breaker.
func (cb *CircuitBreaker) Record(success bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if success {
		switch cb.state {
		case CircuitClosed:
			cb.failures = 0
		case CircuitHalfOpen:
			cb.successCount++
			if cb.successCount >= cb.settings.SuccessThreshold {
				cb.state = CircuitClosed
				cb.failures = 0
				cb.successCount = 0
			}
		}
		return
	}

	switch cb.state {
	case CircuitClosed:
		cb.failures++
		if cb.failures >= cb.settings.FailureThreshold {
			cb.open()
		}
	case CircuitHalfOpen:
		cb.open()
	}
}

// open must be called with cb.mu held.
func (cb *CircuitBreaker) open() {
	cb.state = CircuitOpen
	cb.openedAt = cb.now()
	cb.successCount = 0
}

// State returns the current state, reporting half-open once an open circuit may be probed.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == CircuitOpen && cb.now().Sub(cb.openedAt) >= cb.settings.RecoveryTimeout {
		return CircuitHalfOpen
	}
	return cb.state
}

// Reset closes the circuit.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.state = CircuitClosed
	cb.failures = 0
	cb.successCount = 0
	cb.openedAt = time.Time{}
}

// Breakers keeps one CircuitBreaker per endpoint host, so one school's
// broken endpoint never blocks deliveries to another.
type Breakers struct {
	mu       sync.Mutex
	settings BreakerSettings
	now      func() time.Time
	byHost   map[string]*CircuitBreaker
}

// NewBreakers creates an empty registry whose breakers use settings.
func NewBreakers(settings BreakerSettings) *Breakers {
	return &Breakers{
		settings: settings.withDefaults(),
		now:      time.Now,
		byHost:   make(map[string]*CircuitBreaker),
	}
}

// For returns the breaker of the endpoint's host, creating it on first use.
func (b *Breakers) For(endpoint string) *CircuitBreaker {
	key := endpoint
	if u, err := url.Parse(endpoint); err == nil && u.Host != "" {
		key = u.Host
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	cb, ok := b.byHost[key]
	if !ok {
		cb = NewCircuitBreaker(b.settings)
		cb.now = b.now
		b.byHost[key] = cb
	}
	return cb
}

// States returns the state of every known host.
func (b *Breakers) States() map[string]CircuitState {
	b.mu.Lock()
	hosts := make(map[string]*CircuitBreaker, len(b.byHost))
	for h, cb := range b.byHost {
		hosts[h] = cb
	}
	b.mu.Unlock()

	out := make(map[string]CircuitState, len(hosts))
	for h, cb := range hosts {
		out[h] = cb.State()
	}
	return out
}
