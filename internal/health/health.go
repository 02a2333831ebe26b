// Package health отдаёт liveness/readiness и состояние зависимостей сервиса.
package health

import (
	"context"
	"encoding/json"
	"errors"
	"maps"
	"net/http"
	"slices"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// Status: итог проверки компонента или сервиса целиком.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusUnhealthy Status = "unhealthy"
	StatusDegraded  Status = "degraded"
)

const defaultCheckTimeout = 2 * time.Second

// Check описывает результат проверки одного компонента.
type Check struct {
	Name       string        `json:"name"`
	Status     Status        `json:"status"`
	Message    string        `json:"message,omitempty"`
	Critical   bool          `json:"critical"`
	DurationMs int64         `json:"duration_ms"`
	Duration   time.Duration `json:"-"`
}

// Response представляет ответ /healthz.
type Response struct {
	Status        Status           `json:"status"`
	Timestamp     time.Time        `json:"timestamp"`
	Checks        map[string]Check `json:"checks,omitempty"`
	Version       string           `json:"version,omitempty"`
	UptimeSeconds int64            `json:"uptime_seconds"`
}

// Checker проверяет одну зависимость.
type Checker interface {
	Check(ctx context.Context) Check
}

type registered struct {
	checker  Checker
	critical bool
}

// Handler агрегирует проверки зависимостей.
// Некритичная зависимость (брокер событий) даёт degraded, но не снимает готовность.
type Handler struct {
	mu        sync.RWMutex
	checkers  map[string]registered
	version   string
	startTime time.Time
	timeout   time.Duration
}

func NewHandler(version string) *Handler {
	return &Handler{
		checkers:  make(map[string]registered),
		version:   version,
		startTime: time.Now(),
		timeout:   defaultCheckTimeout,
	}
}

// RegisterChecker регистрирует критичную проверку.
func (h *Handler) RegisterChecker(name string, checker Checker) {
	h.register(name, checker, true)
}

// RegisterOptional регистрирует проверку, отказ которой переводит сервис в degraded.
func (h *Handler) RegisterOptional(name string, checker Checker) {
	h.register(name, checker, false)
}

func (h *Handler) register(name string, checker Checker, critical bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checkers[name] = registered{checker: checker, critical: critical}
}

// Evaluate опрашивает зависимости параллельно, каждую со своим таймаутом.
func (h *Handler) Evaluate(ctx context.Context) (Status, map[string]Check) {
	h.mu.RLock()
	checkers := maps.Clone(h.checkers)
	h.mu.RUnlock()

	names := slices.Sorted(maps.Keys(checkers))
	results := make([]Check, len(names))

	var g errgroup.Group
	for i, name := range names {
		g.Go(func() error {
			reg := checkers[name]
			checkCtx, cancel := context.WithTimeout(ctx, h.timeout)
			defer cancel()

			check := reg.checker.Check(checkCtx)
			check.Critical = reg.critical
			if check.Status == StatusUnhealthy && !reg.critical {
				check.Status = StatusDegraded
			}
			results[i] = check
			return nil
		})
	}
	_ = g.Wait()

	checks := make(map[string]Check, len(names))
	overall := StatusHealthy
	for i, name := range names {
		checks[name] = results[i]
		overall = worse(overall, results[i].Status)
	}
	return overall, checks
}

func worse(a, b Status) Status {
	rank := func(s Status) int {
		switch s {
		case StatusUnhealthy:
			return 2
		case StatusDegraded:
			return 1
		default:
			return 0
		}
	}
	if rank(b) > rank(a) {
		return b
	}
	return a
}

// Ready сообщает, доступны ли все критичные зависимости.
func (h *Handler) Ready(ctx context.Context) bool {
	status, _ := h.Evaluate(ctx)
	return status != StatusUnhealthy
}

// ServeHTTP отдаёт подробный статус зависимостей.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	overall, checks := h.Evaluate(r.Context())

	response := Response{
		Status:        overall,
		Timestamp:     time.Now().UTC(),
		Checks:        checks,
		Version:       h.version,
		UptimeSeconds: int64(time.Since(h.startTime).Seconds()),
	}

	statusCode := http.StatusOK
	if overall == StatusUnhealthy {
		statusCode = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(response)
}

// LivenessHandler отвечает 200, пока процесс жив.
func LivenessHandler(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// ReadinessHandler отвечает 503, пока недоступна хотя бы одна критичная зависимость.
func (h *Handler) ReadinessHandler(w http.ResponseWriter, r *http.Request) {
	if !h.Ready(r.Context()) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("not ready"))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}

// FuncChecker выполняет проверку через функцию.
type FuncChecker struct {
	name    string
	checkFn func(ctx context.Context) error
}

// NewFuncChecker создаёт проверку из функции.
func NewFuncChecker(name string, checkFn func(ctx context.Context) error) *FuncChecker {
	return &FuncChecker{name: name, checkFn: checkFn}
}

func (c *FuncChecker) Check(ctx context.Context) Check {
	start := time.Now()
	err := c.checkFn(ctx)
	check := Check{Name: c.name, Status: StatusHealthy, Duration: time.Since(start)}
	check.DurationMs = check.Duration.Milliseconds()

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		check.Status, check.Message = StatusUnhealthy, "timeout: "+err.Error()
	case err != nil:
		check.Status, check.Message = StatusUnhealthy, err.Error()
	}
	return check
}

// Pinger: зависимость с проверкой соединения, например *sql.DB.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// NewPingChecker проверяет зависимость через PingContext.
func NewPingChecker(name string, p Pinger) *FuncChecker {
	return NewFuncChecker(name, p.PingContext)
}
