// Package metrics содержит Prometheus-метрики оркестратора коммитов.
package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Итоги коммита для метки outcome.
const (
	OutcomeCommitted = "committed"
	OutcomeFailed    = "failed"
	OutcomeConflict  = "conflict"
	OutcomeReplayed  = "replayed"
	OutcomeRejected  = "rejected"
)

// Результаты компенсирующего удаления для метки result.
const (
	CompensationDeleted  = "deleted"
	CompensationNotFound = "not_found"
	CompensationOrphaned = "orphaned"
)

// CommitMetrics содержит метрики коммитов черновиков.
// Нулевой указатель допустим: все методы становятся no-op.
type CommitMetrics struct {
	commits        *prometheus.CounterVec
	commitDuration prometheus.Histogram
	callDuration   *prometheus.HistogramVec
	backendRetries *prometheus.CounterVec
	compensations  *prometheus.CounterVec
	breakerOpen    prometheus.Gauge
	activeCommits  prometheus.Gauge
	events         *prometheus.CounterVec
	orphans        *prometheus.CounterVec
}

// NewCommitMetrics регистрирует метрики в DefaultRegisterer.
func NewCommitMetrics() *CommitMetrics {
	return NewCommitMetricsWithRegisterer(prometheus.DefaultRegisterer)
}

// NewCommitMetricsWithRegisterer регистрирует метрики в переданном registerer.
// Повторная регистрация возвращает уже существующие коллекторы.
func NewCommitMetricsWithRegisterer(registerer prometheus.Registerer) *CommitMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	return &CommitMetrics{
		commits: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "drafts_commits_total",
			Help: "Commit attempts grouped by outcome.",
		}, []string{"kind", "outcome"}),
		commitDuration: registerHistogram(registerer, prometheus.HistogramOpts{
			Name:    "drafts_commit_duration_seconds",
			Help:    "Duration of a commit from lock acquisition to outcome.",
			Buckets: prometheus.DefBuckets,
		}),
		callDuration: registerHistogramVec(registerer, prometheus.HistogramOpts{
			Name:    "drafts_durable_call_duration_seconds",
			Help:    "Duration of individual durable backend calls.",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0},
		}, []string{"op"}),
		backendRetries: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "drafts_durable_retries_total",
			Help: "Retries of durable backend calls after transient errors.",
		}, []string{"op"}),
		compensations: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "drafts_compensations_total",
			Help: "Compensating deletes grouped by result.",
		}, []string{"result"}),
		breakerOpen: registerGauge(registerer, prometheus.GaugeOpts{
			Name: "drafts_circuit_breaker_open",
			Help: "1 while the durable backend circuit breaker is open.",
		}),
		activeCommits: registerGauge(registerer, prometheus.GaugeOpts{
			Name: "drafts_active_commits",
			Help: "Commits currently holding the session lock.",
		}),
		events: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "drafts_events_total",
			Help: "Audit events grouped by sink result.",
		}, []string{"sink", "result"}),
		orphans: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "drafts_orphan_records_total",
			Help: "Orphan records grouped by reconciliation result.",
		}, []string{"result"}),
	}
}

func registerCounterVec(registerer prometheus.Registerer, opts prometheus.CounterOpts, labels []string) *prometheus.CounterVec {
	collector := prometheus.NewCounterVec(opts, labels)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(*prometheus.CounterVec)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register counter vec %q: %v", opts.Name, err))
	}
	return collector
}

func registerGauge(registerer prometheus.Registerer, opts prometheus.GaugeOpts) prometheus.Gauge {
	collector := prometheus.NewGauge(opts)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(prometheus.Gauge)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register gauge %q: %v", opts.Name, err))
	}
	return collector
}

func registerHistogram(registerer prometheus.Registerer, opts prometheus.HistogramOpts) prometheus.Histogram {
	collector := prometheus.NewHistogram(opts)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(prometheus.Histogram)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register histogram %q: %v", opts.Name, err))
	}
	return collector
}

func registerHistogramVec(registerer prometheus.Registerer, opts prometheus.HistogramOpts, labels []string) *prometheus.HistogramVec {
	collector := prometheus.NewHistogramVec(opts, labels)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(*prometheus.HistogramVec)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register histogram vec %q: %v", opts.Name, err))
	}
	return collector
}

// CommitStarted отмечает захват блокировки коммита.
func (m *CommitMetrics) CommitStarted() {
	if m == nil {
		return
	}
	m.activeCommits.Inc()
}

// CommitFinished фиксирует итог и длительность коммита, захватившего блокировку.
func (m *CommitMetrics) CommitFinished(kind, outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.activeCommits.Dec()
	m.commits.WithLabelValues(kind, outcome).Inc()
	m.commitDuration.Observe(duration.Seconds())
}

// CommitOutcome фиксирует итог без захвата блокировки (повтор, отказ).
func (m *CommitMetrics) CommitOutcome(kind, outcome string) {
	if m == nil {
		return
	}
	m.commits.WithLabelValues(kind, outcome).Inc()
}

// ObserveCall записывает длительность вызова durable-хранилища.
func (m *CommitMetrics) ObserveCall(op string, duration time.Duration) {
	if m == nil {
		return
	}
	m.callDuration.WithLabelValues(op).Observe(duration.Seconds())
}

// BackendRetry увеличивает счётчик повторов.
func (m *CommitMetrics) BackendRetry(op string) {
	if m == nil {
		return
	}
	m.backendRetries.WithLabelValues(op).Inc()
}

// Compensation фиксирует результат компенсирующего удаления.
func (m *CommitMetrics) Compensation(result string) {
	if m == nil {
		return
	}
	m.compensations.WithLabelValues(result).Inc()
}

// BreakerOpen выставляет состояние circuit breaker.
func (m *CommitMetrics) BreakerOpen(open bool) {
	if m == nil {
		return
	}
	if open {
		m.breakerOpen.Set(1)
		return
	}
	m.breakerOpen.Set(0)
}

// Event фиксирует запись аудит-события в outbox или timeline.
func (m *CommitMetrics) Event(sink string, ok bool) {
	if m == nil {
		return
	}
	result := "ok"
	if !ok {
		result = "error"
	}
	m.events.WithLabelValues(sink, result).Inc()
}

// Orphan фиксирует результат сверки orphan-записи.
func (m *CommitMetrics) Orphan(result string) {
	if m == nil {
		return
	}
	m.orphans.WithLabelValues(result).Inc()
}
