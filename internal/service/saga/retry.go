package saga

import (
	"context"
	"errors"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/drafts/internal/clock"
	"github.com/vladislavdragonenkov/drafts/internal/domain"
	"github.com/vladislavdragonenkov/drafts/internal/metrics"
)

// RetryConfig задаёт повторы вызовов durable-хранилища.
type RetryConfig struct {
	MaxAttempts   int
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
	// CallTimeout ограничивает одну попытку вызова.
	CallTimeout time.Duration
}

// DefaultRetryConfig возвращает конфигурацию по умолчанию.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:   3,
		InitialDelay:  100 * time.Millisecond,
		MaxDelay:      2 * time.Second,
		BackoffFactor: 2.0,
		CallTimeout:   3 * time.Second,
	}
}

func (c RetryConfig) normalized() RetryConfig {
	def := DefaultRetryConfig()
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = def.MaxAttempts
	}
	if c.InitialDelay < 0 {
		c.InitialDelay = 0
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = def.MaxDelay
	}
	if c.BackoffFactor < 1 {
		c.BackoffFactor = def.BackoffFactor
	}
	if c.CallTimeout <= 0 {
		c.CallTimeout = def.CallTimeout
	}
	return c
}

// retrier выполняет вызов с таймаутом попытки и экспоненциальной задержкой.
// Повторяются только временные ошибки.
type retrier struct {
	cfg     RetryConfig
	breaker *CircuitBreaker
	metrics *metrics.CommitMetrics
	logger  *log.Entry
	sleep   func(ctx context.Context, d time.Duration) error
}

func newRetrier(cfg RetryConfig, breaker *CircuitBreaker, m *metrics.CommitMetrics, logger *log.Entry) *retrier {
	return &retrier{
		cfg:     cfg.normalized(),
		breaker: breaker,
		metrics: m,
		logger:  logger,
		sleep:   sleepContext,
	}
}

// call выполняет fn; guarded=false обходит circuit breaker (компенсации).
func (r *retrier) call(ctx context.Context, op string, guarded bool, fn func(ctx context.Context) error) error {
	var lastErr error
	delay := r.cfg.InitialDelay

	for attempt := 1; attempt <= r.cfg.MaxAttempts; attempt++ {
		lastErr = r.attempt(ctx, op, guarded, fn)
		if lastErr == nil {
			if attempt > 1 {
				r.logger.WithFields(log.Fields{"op": op, "attempt": attempt}).Info("durable call succeeded after retry")
			}
			return nil
		}
		if !domain.IsTransient(lastErr) || errors.Is(lastErr, domain.ErrCircuitOpen) || ctx.Err() != nil {
			return lastErr
		}
		if attempt == r.cfg.MaxAttempts {
			break
		}

		r.metrics.BackendRetry(op)
		r.logger.WithError(lastErr).WithFields(log.Fields{
			"op":      op,
			"attempt": attempt,
			"delay":   delay,
		}).Warn("durable call failed, retrying")

		if err := r.sleep(ctx, delay); err != nil {
			return lastErr
		}
		delay = time.Duration(float64(delay) * r.cfg.BackoffFactor)
		if delay > r.cfg.MaxDelay {
			delay = r.cfg.MaxDelay
		}
	}
	return lastErr
}

func (r *retrier) attempt(ctx context.Context, op string, guarded bool, fn func(ctx context.Context) error) error {
	run := func() error {
		callCtx, cancel := context.WithTimeout(ctx, r.cfg.CallTimeout)
		defer cancel()

		started := time.Now()
		err := fn(callCtx)
		r.metrics.ObserveCall(op, time.Since(started))

		// Таймаут попытки при живом родительском контексте — временная ошибка.
		if err != nil && errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil && !domain.IsTransient(err) {
			return domain.Transient(op, err)
		}
		return err
	}
	if !guarded || r.breaker == nil {
		return run()
	}
	return r.breaker.Execute(op, run)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// CircuitState описывает состояние circuit breaker.
type CircuitState int

const (
	CircuitClosed CircuitState = iota
	CircuitOpen
	CircuitHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half-open"
	default:
		return "closed"
	}
}

// CircuitBreaker отсекает вызовы к хранилищу после серии временных ошибок.
// Терминальные ошибки (4xx, дубликаты) не считаются отказом хранилища.
type CircuitBreaker struct {
	mu           sync.Mutex
	maxFailures  int
	resetTimeout time.Duration
	clock        clock.Clock

	failures    int
	lastFailure time.Time
	state       CircuitState
	probing     bool

	logger   *log.Entry
	onChange func(CircuitState)
}

// NewCircuitBreaker создаёт circuit breaker.
func NewCircuitBreaker(maxFailures int, resetTimeout time.Duration, c clock.Clock, logger *log.Entry) *CircuitBreaker {
	if maxFailures <= 0 {
		maxFailures = 5
	}
	if resetTimeout <= 0 {
		resetTimeout = 30 * time.Second
	}
	if c == nil {
		c = clock.NewSystem()
	}
	if logger == nil {
		logger = log.WithField("component", "circuit-breaker")
	}
	return &CircuitBreaker{
		maxFailures:  maxFailures,
		resetTimeout: resetTimeout,
		clock:        c,
		state:        CircuitClosed,
		logger:       logger,
	}
}

// OnStateChange регистрирует наблюдателя смены состояния (метрики).
func (cb *CircuitBreaker) OnStateChange(fn func(CircuitState)) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.onChange = fn
}

// State возвращает текущее состояние.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Execute выполняет операцию через circuit breaker.
// В half-open пропускается одна пробная операция, остальные отклоняются.
func (cb *CircuitBreaker) Execute(operation string, fn func() error) error {
	if err := cb.before(operation); err != nil {
		return err
	}
	err := fn()
	cb.after(operation, err)
	return err
}

func (cb *CircuitBreaker) before(operation string) error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case CircuitOpen:
		if cb.clock.Now().Sub(cb.lastFailure) < cb.resetTimeout {
			return domain.Transient(operation, domain.ErrCircuitOpen)
		}
		cb.setState(CircuitHalfOpen)
		cb.logger.WithField("operation", operation).Info("circuit breaker half-open")
		cb.probing = true
		return nil
	case CircuitHalfOpen:
		if cb.probing {
			return domain.Transient(operation, domain.ErrCircuitOpen)
		}
		cb.probing = true
	}
	return nil
}

func (cb *CircuitBreaker) after(operation string, err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	wasProbe := cb.state == CircuitHalfOpen
	if wasProbe {
		cb.probing = false
	}

	if err != nil && domain.IsTransient(err) {
		cb.failures++
		cb.lastFailure = cb.clock.Now()
		if wasProbe || cb.failures >= cb.maxFailures {
			if cb.state != CircuitOpen {
				cb.logger.WithFields(log.Fields{
					"operation": operation,
					"failures":  cb.failures,
				}).Warn("circuit breaker opened")
			}
			cb.setState(CircuitOpen)
		}
		return
	}

	if wasProbe {
		cb.logger.WithField("operation", operation).Info("circuit breaker closed")
		cb.setState(CircuitClosed)
	}
	cb.failures = 0
}

func (cb *CircuitBreaker) setState(state CircuitState) {
	if cb.state == state {
		return
	}
	cb.state = state
	if cb.onChange != nil {
		cb.onChange(state)
	}
}
