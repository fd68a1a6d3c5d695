package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// SessionLocker serialises work on one session. The returned unlock func is
// safe to call more than once.
type SessionLocker interface {
	Lock(ctx context.Context, sessionID string) (func(), error)
}

type LockerType string

const (
	LockerTypeMemory LockerType = "memory"
	LockerTypeRedis  LockerType = "redis"
)

var ErrInvalidLockerConfig = errors.New("invalid session locker configuration")

type lockerConfig struct {
	redisClient *redis.Client
	ttl         time.Duration
	retry       time.Duration
}

type LockerOption func(*lockerConfig)

func WithLockRedisClient(client *redis.Client) LockerOption {
	return func(c *lockerConfig) { c.redisClient = client }
}

// WithLockTTL bounds how long a crashed holder can keep a redis lock.
func WithLockTTL(ttl time.Duration) LockerOption {
	return func(c *lockerConfig) { c.ttl = ttl }
}

func WithLockRetry(interval time.Duration) LockerOption {
	return func(c *lockerConfig) { c.retry = interval }
}

// NewSessionLocker builds a locker of the given type. The redis driver
// requires WithLockRedisClient.
func NewSessionLocker(lockerType LockerType, opts ...LockerOption) (SessionLocker, error) {
	config := &lockerConfig{}
	for _, opt := range opts {
		opt(config)
	}

	switch lockerType {
	case LockerTypeMemory:
		return &memoryLocker{locks: make(map[string]*keyLock)}, nil

	case LockerTypeRedis:
		if config.redisClient == nil {
			return nil, ErrInvalidLockerConfig
		}
		ttl := config.ttl
		if ttl <= 0 {
			ttl = time.Minute
		}
		retry := config.retry
		if retry <= 0 {
			retry = 50 * time.Millisecond
		}
		return &redisLocker{client: config.redisClient, ttl: ttl, retry: retry}, nil

	default:
		return nil, fmt.Errorf("%w: unknown locker type %q", ErrInvalidLockerConfig, lockerType)
	}
}

// memoryLocker keeps one buffered channel per locked key; entries are
// dropped once nobody holds or waits for them.
type memoryLocker struct {
	mu    sync.Mutex
	locks map[string]*keyLock
}

type keyLock struct {
	ch   chan struct{}
	refs int
}

func (l *memoryLocker) Lock(ctx context.Context, sessionID string) (func(), error) {
	l.mu.Lock()
	kl, ok := l.locks[sessionID]
	if !ok {
		kl = &keyLock{ch: make(chan struct{}, 1)}
		l.locks[sessionID] = kl
	}
	kl.refs++
	l.mu.Unlock()

	select {
	case kl.ch <- struct{}{}:
	case <-ctx.Done():
		l.release(sessionID, kl, false)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() { l.release(sessionID, kl, true) })
	}, nil
}

func (l *memoryLocker) release(sessionID string, kl *keyLock, held bool) {
	if held {
		<-kl.ch
	}
	l.mu.Lock()
	kl.refs--
	if kl.refs == 0 {
		delete(l.locks, sessionID)
	}
	l.mu.Unlock()
}

// releaseScript deletes the key only while it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

type redisLocker struct {
	client *redis.Client
	ttl    time.Duration
	retry  time.Duration
}

func (l *redisLocker) Lock(ctx context.Context, sessionID string) (func(), error) {
	key := "visa:mock:turn-lock:" + sessionID
	token := uuid.NewString()

	ticker := time.NewTicker(l.retry)
	defer ticker.Stop()

	for {
		acquired, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to acquire session lock: %w", err)
		}
		if acquired {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			if err := releaseScript.Run(ctx, l.client, []string{key}, token).Err(); err != nil {
				slog.Warn("Failed to release session lock", "error", err, "session_id", sessionID)
			}
		})
	}, nil
}
