package circuitbreaker

import (
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

var (
	ErrCircuitOpen     = errors.New("circuit breaker is open")
	ErrTooManyRequests = errors.New("too many requests in half-open state")
)

type State int

const (
	StateClosed State = iota
	StateHalfOpen
	StateOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateHalfOpen:
		return "half-open"
	case StateOpen:
		return "open"
	default:
		return "unknown"
	}
}

type Config struct {
	// MaxRequests is the number of trial calls let through while half-open.
	MaxRequests uint32
	// OpenTimeout is how long the breaker stays open before a trial call.
	OpenTimeout      time.Duration
	FailureThreshold uint32
	SuccessThreshold uint32
	OnStateChange    func(name string, from State, to State)
	Logger           *zap.Logger
	Now              func() time.Time
}

// CircuitBreaker guards one downstream dependency. Callers ask Allow before a
// call and report its result with Done.
type CircuitBreaker struct {
	name             string
	maxRequests      uint32
	openTimeout      time.Duration
	failureThreshold uint32
	successThreshold uint32
	onStateChange    func(name string, from State, to State)
	logger           *zap.Logger
	now              func() time.Time

	mu                   sync.Mutex
	state                State
	generation           uint64
	requests             uint32
	consecutiveFailures  uint32
	consecutiveSuccesses uint32
	openedAt             time.Time
}

// Ticket ties a Done report to the breaker generation that allowed the call.
type Ticket struct {
	generation uint64
}

func New(name string, cfg Config) *CircuitBreaker {
	cb := &CircuitBreaker{
		name:             name,
		maxRequests:      cfg.MaxRequests,
		openTimeout:      cfg.OpenTimeout,
		failureThreshold: cfg.FailureThreshold,
		successThreshold: cfg.SuccessThreshold,
		onStateChange:    cfg.OnStateChange,
		logger:           cfg.Logger,
		now:              cfg.Now,
	}

	if cb.maxRequests == 0 {
		cb.maxRequests = 1
	}
	if cb.openTimeout == 0 {
		cb.openTimeout = 60 * time.Second
	}
	if cb.failureThreshold == 0 {
		cb.failureThreshold = 5
	}
	if cb.successThreshold == 0 {
		cb.successThreshold = 1
	}
	if cb.logger == nil {
		cb.logger = zap.NewNop()
	}
	if cb.now == nil {
		cb.now = time.Now
	}

	return cb
}

func (cb *CircuitBreaker) Name() string { return cb.name }

// Allow reports whether a call may proceed. It returns ErrCircuitOpen while
// open and ErrTooManyRequests once the half-open trial quota is used up.
func (cb *CircuitBreaker) Allow() (Ticket, error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	state := cb.currentState()
	switch {
	case state == StateOpen:
		return Ticket{}, ErrCircuitOpen
	case state == StateHalfOpen && cb.requests >= cb.maxRequests:
		return Ticket{}, ErrTooManyRequests
	}

	cb.requests++
	return Ticket{generation: cb.generation}, nil
}

// Done records the result of a call admitted by Allow. Reports from a
// generation that has since ended are ignored.
func (cb *CircuitBreaker) Done(t Ticket, success bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	state := cb.currentState()
	if t.generation != cb.generation {
		return
	}

	if success {
		cb.consecutiveSuccesses++
		cb.consecutiveFailures = 0
		if state == StateHalfOpen && cb.consecutiveSuccesses >= cb.successThreshold {
			cb.setState(StateClosed)
		}
		return
	}

	cb.consecutiveFailures++
	cb.consecutiveSuccesses = 0
	if state == StateHalfOpen || cb.consecutiveFailures >= cb.failureThreshold {
		cb.setState(StateOpen)
	}
}

func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.currentState()
}

func (cb *CircuitBreaker) currentState() State {
	if cb.state == StateOpen && !cb.now().Before(cb.openedAt.Add(cb.openTimeout)) {
		cb.setState(StateHalfOpen)
	}
	return cb.state
}

func (cb *CircuitBreaker) setState(state State) {
	if cb.state == state {
		return
	}

	prev := cb.state
	cb.state = state
	cb.generation++
	cb.requests = 0
	cb.consecutiveFailures = 0
	cb.consecutiveSuccesses = 0
	if state == StateOpen {
		cb.openedAt = cb.now()
	}

	if cb.onStateChange != nil {
		cb.onStateChange(cb.name, prev, state)
	}

	cb.logger.Info("Circuit breaker state changed",
		zap.String("name", cb.name),
		zap.String("from", prev.String()),
		zap.String("to", state.String()),
	)
}
