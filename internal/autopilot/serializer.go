package autopilot

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/leadpilot/internal/apperr"
)

// LeadLocker hands out the per-lead serialization slot. The returned release
// function must be called exactly once.
type LeadLocker interface {
	Lock(ctx context.Context, key string) (release func(), err error)
}

// LocalLocks serializes pipeline runs per lead inside one process
type LocalLocks struct {
	mu    sync.Mutex
	slots map[string]*slot
}

type slot struct {
	ch   chan struct{}
	refs int
}

func NewLocalLocks() *LocalLocks {
	return &LocalLocks{slots: make(map[string]*slot)}
}

func (l *LocalLocks) Lock(ctx context.Context, key string) (func(), error) {
	l.mu.Lock()
	s, ok := l.slots[key]
	if !ok {
		s = &slot{ch: make(chan struct{}, 1)}
		l.slots[key] = s
	}
	s.refs++
	l.mu.Unlock()

	select {
	case s.ch <- struct{}{}:
		var once sync.Once
		return func() {
			once.Do(func() {
				<-s.ch
				l.put(key, s)
			})
		}, nil
	case <-ctx.Done():
		l.put(key, s)
		return nil, apperr.E(apperr.KindTimeout, "autopilot.lock", ctx.Err())
	}
}

func (l *LocalLocks) put(key string, s *slot) {
	l.mu.Lock()
	defer l.mu.Unlock()
	s.refs--
	if s.refs == 0 {
		delete(l.slots, key)
	}
}

// held reports how many callers hold or wait for key
func (l *LocalLocks) held(key string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	if s, ok := l.slots[key]; ok {
		return s.refs
	}
	return 0
}

type redisClient interface {
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
	Eval(ctx context.Context, script string, keys []string, args ...interface{}) *redis.Cmd
}

// releaseScript deletes the lock only if we still own it
const releaseScript = `if redis.call("get", KEYS[1]) == ARGV[1] then return redis.call("del", KEYS[1]) else return 0 end`

// RedisLocks extends the serialization slot across processes. The TTL bounds how
// long a crashed holder can block a lead.
type RedisLocks struct {
	client redisClient
	prefix string
	ttl    time.Duration
	poll   time.Duration
	logger zerolog.Logger
}

func NewRedisLocks(client redisClient, ttl time.Duration) *RedisLocks {
	if ttl <= 0 {
		ttl = 2 * time.Minute
	}
	return &RedisLocks{
		client: client,
		prefix: "leadpilot:lead-lock:",
		ttl:    ttl,
		poll:   50 * time.Millisecond,
		logger: log.With().Str("component", "lead-lock").Logger(),
	}
}

// NewRedisClient builds the client used for RedisLocks. addr may be a host:port
// pair or a redis:// URL.
func NewRedisClient(addr, password string, db int) (*redis.Client, error) {
	if strings.HasPrefix(addr, "redis://") || strings.HasPrefix(addr, "rediss://") {
		opt, err := redis.ParseURL(addr)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		return redis.NewClient(opt), nil
	}
	return redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db}), nil
}

func (r *RedisLocks) Lock(ctx context.Context, key string) (func(), error) {
	k := r.prefix + key
	token := uuid.NewString()
	ticker := time.NewTicker(r.poll)
	defer ticker.Stop()
	for {
		ok, err := r.client.SetNX(ctx, k, token, r.ttl).Result()
		if err != nil {
			if ctx.Err() != nil {
				return nil, apperr.E(apperr.KindTimeout, "autopilot.lock", ctx.Err())
			}
			return nil, apperr.Storage("autopilot.lock", fmt.Errorf("redis setnx: %w", err))
		}
		if ok {
			var once sync.Once
			return func() {
				once.Do(func() {
					ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					if err := r.client.Eval(ctx, releaseScript, []string{k}, token).Err(); err != nil {
						// the key still expires after ttl
						r.logger.Warn().Err(err).Str("reason", apperr.ReasonLockReleaseFailed).Str("key", k).Dur("ttl", r.ttl).Msg("lead lock not released")
					}
				})
			}, nil
		}
		select {
		case <-ctx.Done():
			return nil, apperr.E(apperr.KindTimeout, "autopilot.lock", ctx.Err())
		case <-ticker.C:
		}
	}
}

// ChainLocks acquires every locker in order and releases in reverse
type ChainLocks []LeadLocker

func (c ChainLocks) Lock(ctx context.Context, key string) (func(), error) {
	releases := make([]func(), 0, len(c))
	releaseAll := func() {
		for i := len(releases) - 1; i >= 0; i-- {
			releases[i]()
		}
	}
	for _, l := range c {
		rel, err := l.Lock(ctx, key)
		if err != nil {
			releaseAll()
			return nil, err
		}
		releases = append(releases, rel)
	}
	return releaseAll, nil
}
