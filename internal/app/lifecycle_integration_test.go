package app

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/suite"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/vladislavdragonenkov/drafts/internal/domain"
	"github.com/vladislavdragonenkov/drafts/internal/health"
	"github.com/vladislavdragonenkov/drafts/internal/storage/memory"
)

// DraftLifecycleSuite прогоняет черновик через HTTP API с сессиями в Redis.
type DraftLifecycleSuite struct {
	suite.Suite
	container testcontainers.Container
	redisURL  string

	deps   *Dependencies
	router *gin.Engine
}

func TestDraftLifecycleSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping redis integration suite in short mode")
	}
	testcontainers.SkipIfProviderIsNotHealthy(t)
	suite.Run(t, new(DraftLifecycleSuite))
}

func (s *DraftLifecycleSuite) SetupSuite() {
	ctx := context.Background()
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections"),
		},
		Started: true,
	})
	if err != nil {
		s.T().Skipf("redis container is unavailable: %v", err)
	}
	s.container = container

	host, err := container.Host(ctx)
	s.Require().NoError(err)
	port, err := container.MappedPort(ctx, "6379/tcp")
	s.Require().NoError(err)
	s.redisURL = fmt.Sprintf("redis://%s:%s/0", host, port.Port())
}

func (s *DraftLifecycleSuite) TearDownSuite() {
	if s.container != nil {
		_ = s.container.Terminate(context.Background())
	}
}

func (s *DraftLifecycleSuite) SetupTest() {
	cfg := DefaultConfig()
	cfg.SessionDriver = SessionDriverRedis
	cfg.RedisURL = s.redisURL
	cfg.CatalogSeed = []string{"A:1000:EUR", "B:500:EUR:50"}

	deps, err := NewDependencies(context.Background(), cfg, testLogger())
	s.Require().NoError(err)
	s.deps = deps
	s.Require().Nil(deps.Sweepable, "redis sessions expire natively")

	h := health.NewHandler("test")
	deps.RegisterHealth(h)
	s.router = newTestRouter(s.T(), deps, h)
}

func (s *DraftLifecycleSuite) TearDownTest() {
	s.Require().NoError(s.deps.Close())
}

func (s *DraftLifecycleSuite) call(method, path, actor string, body any) *httptest.ResponseRecorder {
	var reader bytes.Buffer
	if body != nil {
		s.Require().NoError(json.NewEncoder(&reader).Encode(body))
	}
	req := httptest.NewRequest(method, path, &reader)
	req.Header.Set("Content-Type", "application/json")
	if actor != "" {
		req.Header.Set("X-Actor-ID", actor)
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func (s *DraftLifecycleSuite) TestCartCommit() {
	rec := s.call(http.MethodPut, "/api/v1/cart/items/A", "user-1", map[string]any{"quantity": 2})
	s.Require().Equal(http.StatusOK, rec.Code, rec.Body.String())

	var draft domain.Draft
	s.Require().NoError(json.Unmarshal(rec.Body.Bytes(), &draft))
	s.Equal(int64(2000), draft.TotalMinor)

	rec = s.call(http.MethodPut, "/api/v1/drafts/"+draft.ID+"/items/B", "user-1", map[string]any{"quantity": 1})
	s.Require().Equal(http.StatusOK, rec.Code, rec.Body.String())

	rec = s.call(http.MethodPost, "/api/v1/drafts/"+draft.ID+"/commit", "user-1", nil)
	s.Require().Equal(http.StatusOK, rec.Code, rec.Body.String())

	var result map[string]any
	s.Require().NoError(json.Unmarshal(rec.Body.Bytes(), &result))
	s.Equal(string(domain.CommitStatusCommitted), result["status"])

	durable := s.deps.Durable.(*memory.DurableRepository)
	s.Len(durable.ListBySession(draft.ID), 2)

	rec = s.call(http.MethodPost, "/api/v1/drafts/"+draft.ID+"/commit", "user-1", nil)
	s.Equal(http.StatusOK, rec.Code, "replay returns the stored result")
	s.Len(durable.ListBySession(draft.ID), 2)
}

func (s *DraftLifecycleSuite) TestStrangerCannotTouchDraft() {
	rec := s.call(http.MethodPut, "/api/v1/cart/items/A", "user-1", map[string]any{"quantity": 1})
	s.Require().Equal(http.StatusOK, rec.Code)

	var draft domain.Draft
	s.Require().NoError(json.Unmarshal(rec.Body.Bytes(), &draft))

	rec = s.call(http.MethodPost, "/api/v1/drafts/"+draft.ID+"/commit", "intruder", nil)
	s.Equal(http.StatusForbidden, rec.Code)
}

func (s *DraftLifecycleSuite) TestHealthReportsRedis() {
	rec := s.call(http.MethodGet, "/healthz", "", nil)
	s.Equal(http.StatusOK, rec.Code)
	s.Contains(rec.Body.String(), "redis")
}
