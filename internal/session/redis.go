package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	sessionKeyPrefix = "nfse:session:"
	lockKeyPrefix    = "nfse:lock:"

	// keys outlive the session ttl so lazy expiration still sees the record
	keyGrace = 24 * time.Hour
)

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

var renewScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0`)

// RedisBackend keeps active sessions in Redis so several service
// instances share them.
type RedisBackend struct {
	client     *redis.Client
	lockTTL    time.Duration
	renewEvery time.Duration
	retryWait  time.Duration
	log        zerolog.Logger
}

// RedisOption configures a RedisBackend
type RedisOption func(*RedisBackend)

// WithRedisLogger sets the logger
func WithRedisLogger(l zerolog.Logger) RedisOption {
	return func(r *RedisBackend) { r.log = l }
}

// NewRedisBackend creates a backend. lockTTL bounds how long a crashed turn
// can hold a phone's lock; a live turn keeps renewing it.
func NewRedisBackend(client *redis.Client, lockTTL time.Duration, opts ...RedisOption) *RedisBackend {
	if lockTTL <= 0 {
		lockTTL = 30 * time.Second
	}
	r := &RedisBackend{
		client:     client,
		lockTTL:    lockTTL,
		renewEvery: lockTTL / 3,
		retryWait:  50 * time.Millisecond,
		log:        zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.renewEvery <= 0 {
		r.renewEvery = lockTTL
	}
	return r
}

// NewRedisClient creates the client from connection settings
func NewRedisClient(addr, password string, db int) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
}

func sessionKey(phone string) string { return sessionKeyPrefix + phone }
func lockKey(phone string) string    { return lockKeyPrefix + phone }

// Load reads the phone's session
func (r *RedisBackend) Load(ctx context.Context, phone string) (*Session, error) {
	data, err := r.client.Get(ctx, sessionKey(phone)).Bytes()
	if err == redis.Nil {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read session: %w", err)
	}

	var s Session
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("failed to decode session: %w", err)
	}
	return &s, nil
}

// Put writes the session with a key ttl past its own expiry
func (r *RedisBackend) Put(ctx context.Context, s *Session) error {
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to encode session: %w", err)
	}
	if err := r.client.Set(ctx, sessionKey(s.Phone), data, s.TTL()+keyGrace).Err(); err != nil {
		return fmt.Errorf("failed to write session: %w", err)
	}
	return nil
}

// Delete removes the phone's session
func (r *RedisBackend) Delete(ctx context.Context, phone string) error {
	if err := r.client.Del(ctx, sessionKey(phone)).Err(); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

// Phones scans for stored session keys
func (r *RedisBackend) Phones(ctx context.Context) ([]string, error) {
	var phones []string
	iter := r.client.Scan(ctx, 0, sessionKeyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		phones = append(phones, strings.TrimPrefix(iter.Val(), sessionKeyPrefix))
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan sessions: %w", err)
	}
	return phones, nil
}

// Lock takes the phone's lock with SETNX, retrying until ctx ends. The lease
// is renewed until the returned func is called.
func (r *RedisBackend) Lock(ctx context.Context, phone string) (func(), error) {
	token := uuid.NewString()
	key := lockKey(phone)

	for {
		ok, err := r.client.SetNX(ctx, key, token, r.lockTTL).Result()
		if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("failed to acquire lock: %w", err)
		}
		if ok {
			break
		}

		select {
		case <-ctx.Done():
			return nil, ErrLockTimeout
		case <-time.After(r.retryWait):
		}
	}

	stop := make(chan struct{})
	done := make(chan struct{})
	go r.renew(key, token, stop, done)

	var once sync.Once
	return func() {
		once.Do(func() {
			close(stop)
			<-done

			// the caller's ctx may be gone by now
			releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := releaseScript.Run(releaseCtx, r.client, []string{key}, token).Err(); err != nil {
				r.log.Error().Err(err).Str("key", key).Msg("failed to release session lock")
			}
		})
	}, nil
}

// renew extends the lease while the turn runs. It gives up once the key no
// longer carries token.
func (r *RedisBackend) renew(key, token string, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(r.renewEvery)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
		}

		ctx, cancel := context.WithTimeout(context.Background(), r.renewEvery)
		renewed, err := renewScript.Run(ctx, r.client, []string{key}, token, r.lockTTL.Milliseconds()).Int()
		cancel()

		switch {
		case err != nil:
			r.log.Warn().Err(err).Str("key", key).Msg("failed to renew session lock")
		case renewed == 0:
			r.log.Error().Str("key", key).Msg("session lock lost before the turn finished")
			return
		}
	}
}
