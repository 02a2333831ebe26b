// Package httpapi отдаёт HTTP/JSON API черновиков на gin.
package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/drafts/internal/domain"
)

// Stager: операции подготовки черновика.
type Stager interface {
	Open(ctx context.Context, actor domain.Actor, kind domain.DraftKind) (domain.Draft, error)
	Get(ctx context.Context, actor domain.Actor, sessionID string) (domain.Draft, error)
	Add(ctx context.Context, actor domain.Actor, sessionID, refID string, quantity int32) (domain.Draft, error)
	Remove(ctx context.Context, actor domain.Actor, sessionID, itemID string) (domain.Draft, error)
	SetField(ctx context.Context, actor domain.Actor, sessionID, name, value string) (domain.Draft, error)
	UnsetField(ctx context.Context, actor domain.Actor, sessionID, name string) (domain.Draft, error)
}

// Committer фиксирует черновик в durable-хранилище.
type Committer interface {
	Commit(ctx context.Context, actor domain.Actor, sessionID string) (domain.CommitResult, error)
}

// Config задаёт зависимости и параметры HTTP-сервера.
type Config struct {
	Addr     string
	Stager   Stager
	Commits  Committer
	Timeline domain.TimelineRepository
	Logger   *log.Entry
	// Extra регистрирует дополнительные маршруты (health, metrics).
	Extra func(r *gin.Engine)
}

// Server обслуживает HTTP API черновиков.
type Server struct {
	router *gin.Engine
	server *http.Server
	logger *log.Entry
}

// NewServer создаёт сервер и регистрирует маршруты.
func NewServer(cfg Config) (*Server, error) {
	if cfg.Stager == nil || cfg.Commits == nil {
		return nil, errors.New("httpapi: stager and committer are required")
	}
	if cfg.Logger == nil {
		cfg.Logger = log.WithField("component", "http")
	}

	router := NewRouter(cfg)
	return &Server{
		router: router,
		logger: cfg.Logger,
		server: &http.Server{
			Addr:              cfg.Addr,
			Handler:           router,
			ReadHeaderTimeout: 5 * time.Second,
		},
	}, nil
}

// NewRouter собирает gin.Engine с middleware и маршрутами /api/v1.
func NewRouter(cfg Config) *gin.Engine {
	if cfg.Logger == nil {
		cfg.Logger = log.WithField("component", "http")
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestID())
	router.Use(requestLogger(cfg.Logger))

	h := &handlers{
		stager:   cfg.Stager,
		commits:  cfg.Commits,
		timeline: cfg.Timeline,
		logger:   cfg.Logger,
	}

	v1 := router.Group("/api/v1", actorFromHeaders())
	{
		v1.POST("/drafts", h.open)
		v1.GET("/drafts/:id", h.get)
		v1.PUT("/drafts/:id/items/:ref", h.addItem)
		v1.DELETE("/drafts/:id/items/:ref", h.removeItem)
		v1.PUT("/drafts/:id/fields/:name", h.setField)
		v1.DELETE("/drafts/:id/fields/:name", h.unsetField)
		v1.POST("/drafts/:id/commit", h.commit)
		v1.GET("/drafts/:id/timeline", h.timelineOf)

		// Первый add/setField без сессии создаёт черновик нужного вида.
		v1.PUT("/cart/items/:ref", h.addItem)
		v1.PUT("/registration/fields/:name", h.setField)
	}

	if cfg.Extra != nil {
		cfg.Extra(router)
	}
	return router
}

// Handler возвращает http.Handler (для тестов и встраивания).
func (s *Server) Handler() http.Handler { return s.router }

// Start запускает сервер и блокируется до остановки.
func (s *Server) Start() error {
	s.logger.WithField("addr", s.server.Addr).Info("starting HTTP server")
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

// Shutdown корректно останавливает сервер.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown http server: %w", err)
	}
	return nil
}
