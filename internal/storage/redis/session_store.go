package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/drafts/internal/clock"
	"github.com/vladislavdragonenkov/drafts/internal/domain"
)

const (
	defaultSessionTTL  = 30 * time.Minute
	defaultLockTTL     = 10 * time.Second
	defaultMaxRetries  = 5
	sessionKeyPrefix   = "drafts:session:"
	commitLockKeySufix = ":commit-lock"
)

// releaseLockScript удаляет блокировку только если её держит тот же токен.
var releaseLockScript = goredis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// extendLockScript продлевает блокировку только владельцу токена.
var extendLockScript = goredis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

// Options задаёт параметры Redis-хранилища черновиков.
type Options struct {
	Logger     *log.Entry
	Clock      clock.Clock
	TTL        time.Duration
	LockTTL    time.Duration
	MaxRetries int
	NewID      func() string
}

// Option настраивает SessionStore.
type Option func(*Options)

// WithLogger задаёт logger.
func WithLogger(logger *log.Entry) Option {
	return func(opts *Options) { opts.Logger = logger }
}

// WithClock подменяет источник времени.
func WithClock(c clock.Clock) Option {
	return func(opts *Options) { opts.Clock = c }
}

// WithTTL задаёт время жизни брошенного черновика.
func WithTTL(ttl time.Duration) Option {
	return func(opts *Options) { opts.TTL = ttl }
}

// WithLockTTL задаёт TTL блокировки коммита.
func WithLockTTL(ttl time.Duration) Option {
	return func(opts *Options) { opts.LockTTL = ttl }
}

// WithMaxRetries задаёт число повторов optimistic-транзакции при конкурентной записи.
func WithMaxRetries(n int) Option {
	return func(opts *Options) { opts.MaxRetries = n }
}

// WithIDGenerator подменяет генератор идентификаторов сессий.
func WithIDGenerator(fn func() string) Option {
	return func(opts *Options) { opts.NewID = fn }
}

// SessionStore хранит черновики в Redis: JSON под ключом с TTL,
// изменения через WATCH/MULTI, блокировка коммита через SET NX PX.
type SessionStore struct {
	client     goredis.UniversalClient
	logger     *log.Entry
	clock      clock.Clock
	ttl        time.Duration
	lockTTL    time.Duration
	maxRetries int
	newID      func() string
}

// NewSessionStore создаёт хранилище черновиков поверх Redis-клиента.
func NewSessionStore(client goredis.UniversalClient, options ...Option) *SessionStore {
	opts := Options{
		TTL:        defaultSessionTTL,
		LockTTL:    defaultLockTTL,
		MaxRetries: defaultMaxRetries,
	}
	for _, option := range options {
		option(&opts)
	}

	if opts.Logger == nil {
		opts.Logger = log.WithField("component", "redis-session-store")
	}
	if opts.Clock == nil {
		opts.Clock = clock.NewSystem()
	}
	if opts.TTL <= 0 {
		opts.TTL = defaultSessionTTL
	}
	if opts.LockTTL <= 0 {
		opts.LockTTL = defaultLockTTL
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = defaultMaxRetries
	}
	if opts.NewID == nil {
		opts.NewID = uuid.NewString
	}

	return &SessionStore{
		client:     client,
		logger:     opts.Logger,
		clock:      opts.Clock,
		ttl:        opts.TTL,
		lockTTL:    opts.LockTTL,
		maxRetries: opts.MaxRetries,
		newID:      opts.NewID,
	}
}

func (s *SessionStore) CreateSession(ctx context.Context, ownerID string, kind domain.DraftKind) (domain.Draft, error) {
	ownerID = strings.TrimSpace(ownerID)
	if ownerID == "" {
		return domain.Draft{}, domain.ErrOwnerRequired
	}

	draft := domain.NewDraft(s.newID(), ownerID, kind, s.clock.Now(), s.ttl)
	data, err := json.Marshal(draft)
	if err != nil {
		return domain.Draft{}, fmt.Errorf("marshal draft: %w", err)
	}

	if err := s.client.Set(ctx, sessionKey(draft.ID), string(data), s.ttl).Err(); err != nil {
		return domain.Draft{}, fmt.Errorf("store draft %s: %w", draft.ID, err)
	}
	return draft, nil
}

func (s *SessionStore) GetSession(ctx context.Context, id string) (domain.Draft, error) {
	raw, err := s.client.Get(ctx, sessionKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return domain.Draft{}, domain.ErrSessionNotFound
		}
		return domain.Draft{}, fmt.Errorf("get draft %s: %w", id, err)
	}
	return s.decode(id, raw)
}

func (s *SessionStore) StageItem(ctx context.Context, id string, item domain.LineItem) (domain.Draft, error) {
	return s.mutate(ctx, id, func(d *domain.Draft) (bool, error) {
		return d.StageItem(item)
	})
}

func (s *SessionStore) UnstageItem(ctx context.Context, id, itemID string) (domain.Draft, error) {
	return s.mutate(ctx, id, func(d *domain.Draft) (bool, error) {
		return d.UnstageItem(itemID)
	})
}

func (s *SessionStore) SetField(ctx context.Context, id, name, value string) (domain.Draft, error) {
	return s.mutate(ctx, id, func(d *domain.Draft) (bool, error) {
		return d.SetField(name, value)
	})
}

func (s *SessionStore) UnsetField(ctx context.Context, id, name string) (domain.Draft, error) {
	return s.mutate(ctx, id, func(d *domain.Draft) (bool, error) {
		return d.UnsetField(name)
	})
}

func (s *SessionStore) Transition(ctx context.Context, id string, expectedVersion int64, to domain.DraftState) (domain.Draft, error) {
	return s.mutate(ctx, id, func(d *domain.Draft) (bool, error) {
		if expectedVersion >= 0 && d.Version != expectedVersion {
			return false, domain.ErrDraftVersionConflict
		}
		if err := d.Advance(to); err != nil {
			return false, err
		}
		return true, nil
	})
}

func (s *SessionStore) ClearSession(ctx context.Context, id string) error {
	if err := s.client.Del(ctx, sessionKey(id), commitLockKey(id)).Err(); err != nil {
		return fmt.Errorf("clear draft %s: %w", id, err)
	}
	return nil
}

func (s *SessionStore) TryAcquireCommitLock(ctx context.Context, id, token string) (bool, error) {
	ok, err := s.client.SetNX(ctx, commitLockKey(id), token, s.lockTTL).Result()
	if err != nil {
		return false, fmt.Errorf("acquire commit lock %s: %w", id, err)
	}
	return ok, nil
}

func (s *SessionStore) ExtendCommitLock(ctx context.Context, id, token string) (bool, error) {
	n, err := extendLockScript.Run(ctx, s.client, []string{commitLockKey(id)}, token, s.lockTTL.Milliseconds()).Int64()
	if err != nil && !errors.Is(err, goredis.Nil) {
		return false, fmt.Errorf("extend commit lock %s: %w", id, err)
	}
	return n == 1, nil
}

func (s *SessionStore) ReleaseCommitLock(ctx context.Context, id, token string) error {
	if err := releaseLockScript.Run(ctx, s.client, []string{commitLockKey(id)}, token).Err(); err != nil && !errors.Is(err, goredis.Nil) {
		return fmt.Errorf("release commit lock %s: %w", id, err)
	}
	return nil
}

// Ping проверяет доступность Redis для health-check.
func (s *SessionStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// mutate выполняет read-modify-write под WATCH; при гонке транзакция повторяется.
func (s *SessionStore) mutate(ctx context.Context, id string, fn func(*domain.Draft) (bool, error)) (domain.Draft, error) {
	key := sessionKey(id)

	for attempt := 1; attempt <= s.maxRetries; attempt++ {
		var result domain.Draft

		err := s.client.Watch(ctx, func(tx *goredis.Tx) error {
			raw, err := tx.Get(ctx, key).Bytes()
			if err != nil {
				if errors.Is(err, goredis.Nil) {
					return domain.ErrSessionNotFound
				}
				return fmt.Errorf("get draft %s: %w", id, err)
			}

			draft, err := s.decode(id, raw)
			if err != nil {
				return err
			}

			changed, err := fn(&draft)
			if err != nil {
				return err
			}
			if !changed {
				result = draft
				return nil
			}

			draft.Touch(s.clock.Now(), s.ttl)
			data, err := json.Marshal(draft)
			if err != nil {
				return fmt.Errorf("marshal draft: %w", err)
			}

			_, err = tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
				pipe.Set(ctx, key, string(data), s.ttl)
				return nil
			})
			if err != nil {
				return err
			}
			result = draft
			return nil
		}, key)

		if errors.Is(err, goredis.TxFailedErr) {
			s.logger.WithFields(log.Fields{
				"session_id": id,
				"attempt":    attempt,
			}).Debug("draft changed concurrently, retrying")
			continue
		}
		if err != nil {
			return domain.Draft{}, err
		}
		return result, nil
	}

	return domain.Draft{}, fmt.Errorf("%w: %s", domain.ErrDraftVersionConflict, id)
}

func (s *SessionStore) decode(id string, raw []byte) (domain.Draft, error) {
	var draft domain.Draft
	if err := json.Unmarshal(raw, &draft); err != nil {
		return domain.Draft{}, fmt.Errorf("decode draft %s: %w", id, err)
	}
	if draft.Fields == nil {
		draft.Fields = map[string]string{}
	}
	if draft.Items == nil {
		draft.Items = []domain.LineItem{}
	}
	if draft.Expired(s.clock.Now()) {
		return domain.Draft{}, domain.ErrSessionNotFound
	}
	return draft, nil
}

func sessionKey(id string) string {
	return sessionKeyPrefix + id
}

func commitLockKey(id string) string {
	return sessionKeyPrefix + id + commitLockKeySufix
}

var _ domain.SessionStore = (*SessionStore)(nil)
