// Package app собирает сервис черновиков из конфигурации и управляет его жизненным циклом.
package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	promgrpc "github.com/grpc-ecosystem/go-grpc-prometheus"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	grpchealth "google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/vladislavdragonenkov/drafts/internal/health"
	"github.com/vladislavdragonenkov/drafts/internal/metrics"
	"github.com/vladislavdragonenkov/drafts/internal/service/events"
	"github.com/vladislavdragonenkov/drafts/internal/service/idempotency"
	"github.com/vladislavdragonenkov/drafts/internal/service/outbox"
	"github.com/vladislavdragonenkov/drafts/internal/service/sweeper"
	"github.com/vladislavdragonenkov/drafts/internal/transport/httpapi"
	"github.com/vladislavdragonenkov/drafts/internal/version"
)

const readinessPollInterval = 5 * time.Second

// Run поднимает хранилища, HTTP API, gRPC health, сервер метрик и фоновые воркеры.
// Блокируется до отмены ctx или падения одного из серверов.
func Run(ctx context.Context, cfg Config) error {
	logger := log.WithField("component", "app")
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	deps, err := NewDependencies(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := deps.Close(); err != nil {
			logger.WithError(err).Warn("failed to close storage")
		}
	}()

	sink := initEventSink(cfg, deps, logger)
	commitMetrics := metrics.NewCommitMetrics()
	publisher := events.NewPublisher(deps.Outbox, deps.Timeline,
		events.WithLogger(logger.WithField("component", "event-publisher")),
		events.WithClock(deps.Clock),
		events.WithMetrics(commitMetrics),
		events.WithQueue(cfg.EventQueueSize),
	)

	svc, err := createServices(cfg, deps, publisher, commitMetrics)
	if err != nil {
		return fmt.Errorf("create services: %w", err)
	}

	healthHandler := health.NewHandler(version.GetVersion())
	deps.RegisterHealth(healthHandler)
	sink.registerHealth(healthHandler)

	apiServer, err := httpapi.NewServer(httpapi.Config{
		Addr:     cfg.HTTPAddr,
		Stager:   svc.stager,
		Commits:  svc.orchestrator,
		Timeline: deps.Timeline,
		Logger:   logger.WithField("component", "http"),
		Extra:    healthRoutes(healthHandler),
	})
	if err != nil {
		return fmt.Errorf("create http server: %w", err)
	}

	grpcServer, healthServer := newGRPCServer(logger)
	metricsSrv := newMetricsServer(cfg.MetricsAddr, healthHandler)

	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		return fmt.Errorf("listen grpc: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)

	// Писатель событий останавливается последним, чтобы дописать аудит завершающихся запросов.
	eventsCtx, stopEvents := context.WithCancel(context.WithoutCancel(gctx))
	defer stopEvents()
	g.Go(func() error { publisher.Run(eventsCtx); return nil })

	g.Go(func() error { return apiServer.Start() })
	g.Go(func() error {
		logger.WithField("addr", cfg.MetricsAddr).Info("metrics server listening")
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("metrics server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		logger.WithField("addr", cfg.GRPCAddr).Info("gRPC health server listening")
		if err := grpcServer.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			return fmt.Errorf("grpc server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		trackReadiness(gctx, healthHandler, healthServer)
		return nil
	})

	startWorkers(gctx, g, cfg, deps, sink, svc, publisher)

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutdown signal received, stopping servers")
		healthServer.Shutdown()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()

		if err := apiServer.Shutdown(shutdownCtx); err != nil {
			logger.WithError(err).Warn("http shutdown with error")
		}
		shutdownHTTP(metricsSrv, logger)
		stopGRPC(grpcServer, cfg.ShutdownTimeout, logger)
		stopEvents()
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

// startWorkers запускает фоновые воркеры в общей группе.
func startWorkers(
	ctx context.Context,
	g *errgroup.Group,
	cfg Config,
	deps *Dependencies,
	sink eventSink,
	svc *services,
	publisher *events.Publisher,
) {
	logger := deps.Logger

	outboxOpts := []outbox.Option{
		outbox.WithLogger(logger.WithField("component", "outbox-worker")),
		outbox.WithClock(deps.Clock),
		outbox.WithPollInterval(cfg.OutboxPollInterval),
		outbox.WithBatchSize(cfg.OutboxBatchSize),
		outbox.WithMaxAttempts(cfg.OutboxMaxAttempts),
		outbox.WithRetryBaseDelay(cfg.OutboxRetryDelay),
	}
	if sink.dlq != nil {
		outboxOpts = append(outboxOpts, outbox.WithDLQPublisher(sink.dlq))
	}
	outboxWorker := outbox.NewWorker(deps.Outbox, sink.publisher, outboxOpts...)

	cleanup := idempotency.NewCleanupWorker(deps.Results,
		idempotency.WithLogger(logger.WithField("component", "commit-results-cleanup")),
		idempotency.WithClock(deps.Clock),
		idempotency.WithInterval(cfg.CleanupInterval),
		idempotency.WithBatchSize(cfg.CleanupBatchSize),
	)

	g.Go(func() error { outboxWorker.Run(ctx); return nil })
	g.Go(func() error { cleanup.Run(ctx); return nil })
	g.Go(func() error { svc.reconciler.Run(ctx); return nil })

	if deps.Sweepable != nil {
		sw := sweeper.New(deps.Sweepable,
			sweeper.WithLogger(logger.WithField("component", "session-sweeper")),
			sweeper.WithEvents(publisher),
			sweeper.WithInterval(cfg.SweepInterval),
		)
		g.Go(func() error { sw.Run(ctx); return nil })
	}
}

// healthRoutes монтирует health-пробы в gin-роутер API.
func healthRoutes(h *health.Handler) func(r *gin.Engine) {
	return func(r *gin.Engine) {
		r.GET("/healthz", gin.WrapH(h))
		r.GET("/livez", gin.WrapF(health.LivenessHandler))
		r.GET("/readyz", gin.WrapF(h.ReadinessHandler))
	}
}

// newGRPCServer создаёт gRPC-сервер со стандартным health-сервисом и метриками.
func newGRPCServer(logger *log.Entry) (*grpc.Server, *grpchealth.Server) {
	grpcMetrics := promgrpc.NewServerMetrics()
	grpcServer := grpc.NewServer(
		grpc.ChainUnaryInterceptor(grpcMetrics.UnaryServerInterceptor()),
		grpc.ChainStreamInterceptor(grpcMetrics.StreamServerInterceptor()),
	)
	if err := prometheus.Register(grpcMetrics); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(*promgrpc.ServerMetrics); ok {
				grpcMetrics = existing
			}
		} else {
			logger.WithError(err).Warn("failed to register grpc metrics")
		}
	}

	healthServer := grpchealth.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthServer)
	reflection.Register(grpcServer)
	grpcMetrics.InitializeMetrics(grpcServer)
	return grpcServer, healthServer
}

// trackReadiness переводит gRPC health в NOT_SERVING, пока критичные проверки не проходят.
func trackReadiness(ctx context.Context, h *health.Handler, server *grpchealth.Server) {
	ticker := time.NewTicker(readinessPollInterval)
	defer ticker.Stop()

	for {
		status := healthpb.HealthCheckResponse_NOT_SERVING
		if h.Ready(ctx) {
			status = healthpb.HealthCheckResponse_SERVING
		}
		server.SetServingStatus("", status)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// newMetricsServer создаёт HTTP-сервер /metrics для Prometheus.
func newMetricsServer(addr string, healthHandler http.Handler) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/healthz", healthHandler)
	mux.HandleFunc("/livez", health.LivenessHandler)
	return &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
}

// stopGRPC останавливает gRPC-сервер, принудительно по таймауту.
func stopGRPC(server *grpc.Server, timeout time.Duration, logger *log.Entry) {
	stopped := make(chan struct{})
	go func() {
		server.GracefulStop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(timeout):
		logger.Warn("graceful stop timed out, forcing grpc server stop")
		server.Stop()
	}
}

// shutdownHTTP аккуратно останавливает HTTP-сервер.
func shutdownHTTP(srv *http.Server, logger *log.Entry) {
	if srv == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.WithError(err).Warn("metrics shutdown with error")
	}
}
