package lock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrHeld is returned when another holder owns the lock
var ErrHeld = errors.New("lock held by another run")

// ErrLost is returned when a lease expired or was taken over before renewal
var ErrLost = errors.New("lock lease lost")

// Locker hands out short-lived exclusive locks by key
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (Lease, error)
}

// Lease is an acquired lock
type Lease interface {
	// Refresh extends the lease to ttl from now. It returns ErrLost once the
	// key no longer carries this lease's token.
	Refresh(ctx context.Context, ttl time.Duration) error
	Release(ctx context.Context) error
}

// Key returns the lock key of a pipeline run for a building
func Key(pipelineName, buildingID string) string {
	return fmt.Sprintf("lock:pipeline:%s:%s", pipelineName, buildingID)
}

// release deletes the key only while it still carries our token
var release = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// refresh extends the key's expiry only while it still carries our token
var refresh = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

// KeepAlive renews lease every ttl/3 until the returned stop func is called.
// The returned context is cancelled with an ErrLost cause when a renewal fails.
func KeepAlive(ctx context.Context, lease Lease, ttl time.Duration) (context.Context, func()) {
	ctx, cancel := context.WithCancelCause(ctx)
	interval := ttl / 3
	if interval <= 0 {
		return ctx, func() { cancel(nil) }
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				err := lease.Refresh(ctx, ttl)
				if err == nil {
					continue
				}
				if ctx.Err() != nil {
					return
				}
				if !errors.Is(err, ErrLost) {
					err = fmt.Errorf("%w: %v", ErrLost, err)
				}
				cancel(err)
				return
			}
		}
	}()
	return ctx, func() {
		cancel(nil)
		<-done
	}
}

// RedisLocker implements Locker with SET NX PX and a token-checked release
type RedisLocker struct {
	redis *redis.Client
}

// NewRedisLocker creates a new Redis locker
func NewRedisLocker(redisClient *redis.Client) *RedisLocker {
	return &RedisLocker{redis: redisClient}
}

// Acquire takes the lock for ttl or returns ErrHeld
func (l *RedisLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (Lease, error) {
	token := uuid.NewString()
	ok, err := l.redis.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to acquire lock %s: %w", key, err)
	}
	if !ok {
		return nil, ErrHeld
	}
	return &redisLease{redis: l.redis, key: key, token: token}, nil
}

type redisLease struct {
	redis *redis.Client
	key   string
	token string
}

func (r *redisLease) Refresh(ctx context.Context, ttl time.Duration) error {
	n, err := refresh.Run(ctx, r.redis, []string{r.key}, r.token, ttl.Milliseconds()).Int()
	if err != nil {
		return fmt.Errorf("failed to refresh lock %s: %w", r.key, err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrLost, r.key)
	}
	return nil
}

func (r *redisLease) Release(ctx context.Context) error {
	if err := release.Run(ctx, r.redis, []string{r.key}, r.token).Err(); err != nil && err != redis.Nil {
		return fmt.Errorf("failed to release lock %s: %w", r.key, err)
	}
	return nil
}

// Local is an in-process Locker, used by single-instance runs and tests
type Local struct {
	mu   sync.Mutex
	held map[string]localEntry
	now  func() time.Time
}

type localEntry struct {
	token  string
	expiry time.Time
}

// NewLocal creates an empty in-process locker
func NewLocal() *Local {
	return &Local{held: make(map[string]localEntry), now: time.Now}
}

// Acquire takes the lock for ttl or returns ErrHeld
func (l *Local) Acquire(ctx context.Context, key string, ttl time.Duration) (Lease, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if e, ok := l.held[key]; ok && l.now().Before(e.expiry) {
		return nil, ErrHeld
	}
	token := uuid.NewString()
	l.held[key] = localEntry{token: token, expiry: l.now().Add(ttl)}
	return &localLease{owner: l, key: key, token: token}, nil
}

type localLease struct {
	owner *Local
	key   string
	token string
}

func (r *localLease) Refresh(ctx context.Context, ttl time.Duration) error {
	r.owner.mu.Lock()
	defer r.owner.mu.Unlock()
	now := r.owner.now()
	e, ok := r.owner.held[r.key]
	if !ok || e.token != r.token || !now.Before(e.expiry) {
		return fmt.Errorf("%w: %s", ErrLost, r.key)
	}
	r.owner.held[r.key] = localEntry{token: r.token, expiry: now.Add(ttl)}
	return nil
}

func (r *localLease) Release(ctx context.Context) error {
	r.owner.mu.Lock()
	defer r.owner.mu.Unlock()
	if e, ok := r.owner.held[r.key]; ok && e.token == r.token {
		delete(r.owner.held, r.key)
	}
	return nil
}
