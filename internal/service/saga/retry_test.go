package saga

import (
	"context"
	"errors"
	"testing"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/drafts/internal/clock"
	"github.com/vladislavdragonenkov/drafts/internal/domain"
)

var errUnavailable = errors.New("backend unavailable")

func testLogger() *log.Entry {
	logger := log.New()
	logger.SetLevel(log.PanicLevel)
	return logger.WithField("test", "saga")
}

func instantRetrier(cfg RetryConfig, cb *CircuitBreaker) *retrier {
	r := newRetrier(cfg, cb, nil, testLogger())
	r.sleep = func(ctx context.Context, _ time.Duration) error { return ctx.Err() }
	return r
}

func TestDefaultRetryConfig(t *testing.T) {
	cfg := DefaultRetryConfig()
	assert.Equal(t, 3, cfg.MaxAttempts)
	assert.Positive(t, cfg.InitialDelay)
	assert.Positive(t, cfg.MaxDelay)
	assert.Greater(t, cfg.BackoffFactor, 1.0)
	assert.Positive(t, cfg.CallTimeout)
}

func TestRetryConfig_Normalized(t *testing.T) {
	cfg := RetryConfig{MaxAttempts: -1, InitialDelay: -time.Second, BackoffFactor: 0.5}.normalized()
	def := DefaultRetryConfig()

	assert.Equal(t, def.MaxAttempts, cfg.MaxAttempts)
	assert.Zero(t, cfg.InitialDelay)
	assert.Equal(t, def.MaxDelay, cfg.MaxDelay)
	assert.Equal(t, def.BackoffFactor, cfg.BackoffFactor)
	assert.Equal(t, def.CallTimeout, cfg.CallTimeout)
}

func TestRetrier_RetriesTransientUntilSuccess(t *testing.T) {
	r := instantRetrier(RetryConfig{MaxAttempts: 3}, nil)

	attempts := 0
	err := r.call(context.Background(), "create", true, func(context.Context) error {
		attempts++
		if attempts < 3 {
			return domain.Transient("create", errUnavailable)
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestRetrier_DoesNotRetryFatal(t *testing.T) {
	r := instantRetrier(RetryConfig{MaxAttempts: 5}, nil)

	attempts := 0
	err := r.call(context.Background(), "create", true, func(context.Context) error {
		attempts++
		return domain.ErrDuplicateRecord
	})

	assert.ErrorIs(t, err, domain.ErrDuplicateRecord)
	assert.Equal(t, 1, attempts)
}

func TestRetrier_ExhaustsAttempts(t *testing.T) {
	r := instantRetrier(RetryConfig{MaxAttempts: 4}, nil)

	attempts := 0
	err := r.call(context.Background(), "update", true, func(context.Context) error {
		attempts++
		return domain.Transient("update", errUnavailable)
	})

	assert.True(t, domain.IsTransient(err))
	assert.Equal(t, 4, attempts)
}

func TestRetrier_BackoffGrowsAndIsCapped(t *testing.T) {
	r := newRetrier(RetryConfig{
		MaxAttempts:   5,
		InitialDelay:  10 * time.Millisecond,
		MaxDelay:      25 * time.Millisecond,
		BackoffFactor: 2,
	}, nil, nil, testLogger())

	var delays []time.Duration
	r.sleep = func(_ context.Context, d time.Duration) error {
		delays = append(delays, d)
		return nil
	}

	_ = r.call(context.Background(), "create", false, func(context.Context) error {
		return domain.Transient("create", errUnavailable)
	})

	assert.Equal(t, []time.Duration{10 * time.Millisecond, 20 * time.Millisecond, 25 * time.Millisecond, 25 * time.Millisecond}, delays)
}

func TestRetrier_AttemptTimeoutIsTransient(t *testing.T) {
	r := instantRetrier(RetryConfig{MaxAttempts: 2, CallTimeout: 5 * time.Millisecond}, nil)

	attempts := 0
	err := r.call(context.Background(), "create", false, func(ctx context.Context) error {
		attempts++
		<-ctx.Done()
		return ctx.Err()
	})

	assert.True(t, domain.IsTransient(err))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 2, attempts)
}

func TestRetrier_StopsWhenContextCanceled(t *testing.T) {
	r := instantRetrier(RetryConfig{MaxAttempts: 5}, nil)
	ctx, cancel := context.WithCancel(context.Background())

	attempts := 0
	err := r.call(ctx, "create", false, func(context.Context) error {
		attempts++
		cancel()
		return domain.Transient("create", errUnavailable)
	})

	require.Error(t, err)
	assert.Equal(t, 1, attempts)
}

func TestRetrier_UnguardedBypassesOpenBreaker(t *testing.T) {
	c := clock.NewManual(time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC))
	cb := NewCircuitBreaker(1, time.Minute, c, testLogger())
	_ = cb.Execute("create", func() error { return domain.Transient("create", errUnavailable) })
	require.Equal(t, CircuitOpen, cb.State())

	r := instantRetrier(RetryConfig{MaxAttempts: 3}, cb)

	guardedCalls := 0
	err := r.call(context.Background(), "create", true, func(context.Context) error {
		guardedCalls++
		return nil
	})
	assert.ErrorIs(t, err, domain.ErrCircuitOpen)
	assert.Zero(t, guardedCalls, "open breaker must not be retried")

	deleted := false
	err = r.call(context.Background(), "delete", false, func(context.Context) error {
		deleted = true
		return nil
	})
	require.NoError(t, err)
	assert.True(t, deleted)
}

func TestCircuitBreaker_OpensAfterTransientFailures(t *testing.T) {
	c := clock.NewManual(time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC))
	cb := NewCircuitBreaker(3, 30*time.Second, c, testLogger())

	var transitions []CircuitState
	cb.OnStateChange(func(s CircuitState) { transitions = append(transitions, s) })

	for i := 0; i < 3; i++ {
		_ = cb.Execute("create", func() error { return domain.Transient("create", errUnavailable) })
	}
	assert.Equal(t, CircuitOpen, cb.State())

	called := false
	err := cb.Execute("create", func() error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, domain.ErrCircuitOpen)
	assert.True(t, domain.IsTransient(err))
	assert.False(t, called)
	assert.Equal(t, []CircuitState{CircuitOpen}, transitions)
}

func TestCircuitBreaker_IgnoresFatalErrors(t *testing.T) {
	cb := NewCircuitBreaker(2, time.Minute, clock.NewSystem(), testLogger())

	for i := 0; i < 5; i++ {
		_ = cb.Execute("create", func() error { return domain.ErrDuplicateRecord })
	}
	assert.Equal(t, CircuitClosed, cb.State())
}

func TestCircuitBreaker_SuccessResetsFailures(t *testing.T) {
	cb := NewCircuitBreaker(2, time.Minute, clock.NewSystem(), testLogger())

	_ = cb.Execute("create", func() error { return domain.Transient("create", errUnavailable) })
	_ = cb.Execute("create", func() error { return nil })
	_ = cb.Execute("create", func() error { return domain.Transient("create", errUnavailable) })

	assert.Equal(t, CircuitClosed, cb.State())
}

func TestCircuitBreaker_HalfOpenProbe(t *testing.T) {
	c := clock.NewManual(time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC))
	cb := NewCircuitBreaker(1, 10*time.Second, c, testLogger())

	_ = cb.Execute("create", func() error { return domain.Transient("create", errUnavailable) })
	require.Equal(t, CircuitOpen, cb.State())

	c.Advance(11 * time.Second)

	t.Run("failed probe reopens", func(t *testing.T) {
		err := cb.Execute("create", func() error { return domain.Transient("create", errUnavailable) })
		require.Error(t, err)
		assert.Equal(t, CircuitOpen, cb.State())
	})

	c.Advance(11 * time.Second)

	t.Run("successful probe closes", func(t *testing.T) {
		err := cb.Execute("create", func() error {
			// Пока идёт проба, остальные вызовы отклоняются.
			rejected := cb.Execute("create", func() error { return nil })
			assert.ErrorIs(t, rejected, domain.ErrCircuitOpen)
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, CircuitClosed, cb.State())
	})
}

func TestCircuitState_String(t *testing.T) {
	assert.Equal(t, "closed", CircuitClosed.String())
	assert.Equal(t, "open", CircuitOpen.String())
	assert.Equal(t, "half-open", CircuitHalfOpen.String())
}
