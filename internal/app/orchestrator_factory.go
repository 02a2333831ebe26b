package app

import (
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/drafts/internal/domain"
	"github.com/vladislavdragonenkov/drafts/internal/metrics"
	"github.com/vladislavdragonenkov/drafts/internal/service/saga"
	"github.com/vladislavdragonenkov/drafts/internal/service/stage"
	"github.com/vladislavdragonenkov/drafts/internal/service/validation"
)

// services: прикладные сервисы поверх хранилищ.
type services struct {
	stager       *stage.Manager
	orchestrator *saga.Orchestrator
	reconciler   *saga.Reconciler
}

func retryConfigFrom(cfg Config) saga.RetryConfig {
	return saga.RetryConfig{
		MaxAttempts:   cfg.RetryMaxAttempts,
		InitialDelay:  cfg.RetryInitialDelay,
		MaxDelay:      cfg.RetryMaxDelay,
		BackoffFactor: 2.0,
		CallTimeout:   cfg.CallTimeout,
	}
}

// createServices собирает Stage Manager, оркестратор коммитов и сверку карантина.
func createServices(
	cfg Config,
	deps *Dependencies,
	events domain.EventPublisher,
	commitMetrics *metrics.CommitMetrics,
) (*services, error) {
	policy := domain.NewStaticAccessPolicy(cfg.RecordPrivilege, cfg.RecordVisibility)
	logger := deps.Logger

	stager := stage.NewManager(deps.Sessions, deps.Catalog,
		stage.WithEvents(events),
		stage.WithPolicy(policy),
		stage.WithClock(deps.Clock),
		stage.WithLogger(logger.WithField("component", "stage-manager")),
	)

	breaker := saga.NewCircuitBreaker(cfg.BreakerFailures, cfg.BreakerReset, deps.Clock,
		logger.WithField("component", "circuit-breaker"))

	orchestrator, err := saga.NewOrchestrator(saga.Deps{
		Sessions:  deps.Sessions,
		Durable:   deps.Durable,
		Catalog:   deps.Catalog,
		Validator: validation.New(deps.Durable),
		Results:   deps.Results,
		Orphans:   deps.Orphans,
	},
		saga.WithEvents(events),
		saga.WithPolicy(policy),
		saga.WithMetrics(commitMetrics),
		saga.WithRetryConfig(retryConfigFrom(cfg)),
		saga.WithCircuitBreaker(breaker),
		saga.WithClock(deps.Clock),
		saga.WithResultTTL(cfg.CommitResultTTL),
		saga.WithLogger(logger.WithField("component", "commit-orchestrator")),
	)
	if err != nil {
		return nil, err
	}

	reconciler := saga.NewReconciler(deps.Orphans, deps.Durable,
		saga.WithReconcileLogger(logger.WithField("component", "orphan-reconciler")),
		saga.WithReconcileEvents(events),
		saga.WithReconcileMetrics(commitMetrics),
		saga.WithReconcileInterval(cfg.ReconcileInterval),
		saga.WithReconcileMaxAttempts(cfg.ReconcileMaxAttempt),
	)

	logger.WithFields(log.Fields{
		"retry_max_attempts": cfg.RetryMaxAttempts,
		"breaker_failures":   cfg.BreakerFailures,
		"record_privilege":   cfg.RecordPrivilege,
	}).Debug("commit services configured")

	return &services{stager: stager, orchestrator: orchestrator, reconciler: reconciler}, nil
}
