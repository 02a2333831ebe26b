package redis

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	goredis "github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/suite"

	"github.com/vladislavdragonenkov/drafts/internal/clock"
	"github.com/vladislavdragonenkov/drafts/internal/domain"
)

type SessionStoreTestSuite struct {
	suite.Suite
	client *goredis.Client
	mock   redismock.ClientMock
	clock  *clock.Manual
	store  *SessionStore
	ctx    context.Context
}

func (s *SessionStoreTestSuite) SetupTest() {
	s.client, s.mock = redismock.NewClientMock()
	s.clock = clock.NewManual(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	s.ctx = context.Background()

	logger := log.New()
	logger.SetLevel(log.PanicLevel)

	s.store = NewSessionStore(s.client,
		WithClock(s.clock),
		WithTTL(15*time.Minute),
		WithLockTTL(5*time.Second),
		WithIDGenerator(func() string { return "sess-1" }),
		WithLogger(log.NewEntry(logger)),
	)
}

func (s *SessionStoreTestSuite) TearDownTest() {
	s.NoError(s.mock.ExpectationsWereMet())
}

func (s *SessionStoreTestSuite) draftJSON(d domain.Draft) string {
	data, err := json.Marshal(d)
	s.Require().NoError(err)
	return string(data)
}

func (s *SessionStoreTestSuite) TestCreateSession() {
	expected := domain.NewDraft("sess-1", "user-1", domain.DraftKindCart, s.clock.Now(), 15*time.Minute)
	s.mock.ExpectSet("drafts:session:sess-1", s.draftJSON(expected), 15*time.Minute).SetVal("OK")

	draft, err := s.store.CreateSession(s.ctx, " user-1 ", domain.DraftKindCart)

	s.Require().NoError(err)
	s.Equal("sess-1", draft.ID)
	s.Equal("user-1", draft.OwnerID)
	s.Equal(domain.DraftStateInitiated, draft.State)
}

func (s *SessionStoreTestSuite) TestCreateSessionRequiresOwner() {
	_, err := s.store.CreateSession(s.ctx, "  ", domain.DraftKindCart)
	s.ErrorIs(err, domain.ErrOwnerRequired)
}

func (s *SessionStoreTestSuite) TestCreateSessionStoreError() {
	expected := domain.NewDraft("sess-1", "user-1", domain.DraftKindRegistration, s.clock.Now(), 15*time.Minute)
	s.mock.ExpectSet("drafts:session:sess-1", s.draftJSON(expected), 15*time.Minute).SetErr(errors.New("connection refused"))

	_, err := s.store.CreateSession(s.ctx, "user-1", domain.DraftKindRegistration)
	s.Error(err)
	s.Contains(err.Error(), "connection refused")
}

func (s *SessionStoreTestSuite) TestGetSession() {
	stored := domain.NewDraft("sess-1", "user-1", domain.DraftKindCart, s.clock.Now(), 15*time.Minute)
	s.mock.ExpectGet("drafts:session:sess-1").SetVal(s.draftJSON(stored))

	draft, err := s.store.GetSession(s.ctx, "sess-1")

	s.Require().NoError(err)
	s.Equal(stored.ID, draft.ID)
	s.Equal(stored.OwnerID, draft.OwnerID)
	s.NotNil(draft.Fields)
	s.NotNil(draft.Items)
}

func (s *SessionStoreTestSuite) TestGetSessionNotFound() {
	s.mock.ExpectGet("drafts:session:missing").RedisNil()

	_, err := s.store.GetSession(s.ctx, "missing")
	s.ErrorIs(err, domain.ErrSessionNotFound)
}

func (s *SessionStoreTestSuite) TestGetSessionExpiredPayload() {
	stored := domain.NewDraft("sess-1", "user-1", domain.DraftKindCart, s.clock.Now().Add(-time.Hour), 15*time.Minute)
	s.mock.ExpectGet("drafts:session:sess-1").SetVal(s.draftJSON(stored))

	_, err := s.store.GetSession(s.ctx, "sess-1")
	s.ErrorIs(err, domain.ErrSessionNotFound)
}

func (s *SessionStoreTestSuite) TestGetSessionCorruptedPayload() {
	s.mock.ExpectGet("drafts:session:sess-1").SetVal("{not-json")

	_, err := s.store.GetSession(s.ctx, "sess-1")
	s.Error(err)
	s.NotErrorIs(err, domain.ErrSessionNotFound)
}

func (s *SessionStoreTestSuite) TestTryAcquireCommitLock() {
	s.mock.ExpectSetNX("drafts:session:sess-1:commit-lock", "token-a", 5*time.Second).SetVal(true)
	s.mock.ExpectSetNX("drafts:session:sess-1:commit-lock", "token-b", 5*time.Second).SetVal(false)

	ok, err := s.store.TryAcquireCommitLock(s.ctx, "sess-1", "token-a")
	s.Require().NoError(err)
	s.True(ok)

	ok, err = s.store.TryAcquireCommitLock(s.ctx, "sess-1", "token-b")
	s.Require().NoError(err)
	s.False(ok)
}

func (s *SessionStoreTestSuite) TestReleaseCommitLockUsesScript() {
	s.mock.ExpectEvalSha(releaseLockScript.Hash(), []string{"drafts:session:sess-1:commit-lock"}, "token-a").SetVal(int64(1))

	s.NoError(s.store.ReleaseCommitLock(s.ctx, "sess-1", "token-a"))
}

func (s *SessionStoreTestSuite) TestExtendCommitLockChecksToken() {
	key := []string{"drafts:session:sess-1:commit-lock"}
	s.mock.ExpectEvalSha(extendLockScript.Hash(), key, "token-a", int64(5000)).SetVal(int64(1))
	s.mock.ExpectEvalSha(extendLockScript.Hash(), key, "token-b", int64(5000)).SetVal(int64(0))

	ok, err := s.store.ExtendCommitLock(s.ctx, "sess-1", "token-a")
	s.Require().NoError(err)
	s.True(ok)

	ok, err = s.store.ExtendCommitLock(s.ctx, "sess-1", "token-b")
	s.Require().NoError(err)
	s.False(ok)
}

func (s *SessionStoreTestSuite) TestClearSessionDropsLock() {
	s.mock.ExpectDel("drafts:session:sess-1", "drafts:session:sess-1:commit-lock").SetVal(2)

	s.NoError(s.store.ClearSession(s.ctx, "sess-1"))
}

func (s *SessionStoreTestSuite) TestPing() {
	s.mock.ExpectPing().SetVal("PONG")
	s.NoError(s.store.Ping(s.ctx))
}

func TestSessionStoreTestSuite(t *testing.T) {
	suite.Run(t, new(SessionStoreTestSuite))
}
