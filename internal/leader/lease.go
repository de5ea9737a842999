// Package leader elects a single process to run the periodic background
// loops. The lock is a Redis key with a TTL; whoever sets it first leads
// until it stops renewing.
package leader

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/oakridgehealth/frontdesk/pkg/logging"
)

const defaultTTL = 30 * time.Second

// renewScript extends the lease only if we still hold it.
var renewScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0`)

// releaseScript deletes the lease only if we still hold it.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

// ErrNotHeld is returned when renewing or releasing a lease another
// process has taken over.
var ErrNotHeld = errors.New("leader: lease not held")

// Lease is a single named Redis lock owned by this process.
type Lease struct {
	client *redis.Client
	key    string
	id     string
	ttl    time.Duration
	logger *logging.Logger
}

// LeaseConfig wires a Lease.
type LeaseConfig struct {
	Client *redis.Client
	Key    string
	TTL    time.Duration
	Logger *logging.Logger
}

// NewLease builds a lease. Client and Key are required.
func NewLease(cfg LeaseConfig) *Lease {
	if cfg.Client == nil {
		panic("leader: nil redis client")
	}
	if cfg.Key == "" {
		panic("leader: empty lease key")
	}
	if cfg.TTL <= 0 {
		cfg.TTL = defaultTTL
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Default()
	}
	return &Lease{
		client: cfg.Client,
		key:    cfg.Key,
		id:     uuid.New().String(),
		ttl:    cfg.TTL,
		logger: cfg.Logger,
	}
}

// TryAcquire attempts to take the lease. False means someone else holds it.
func (l *Lease) TryAcquire(ctx context.Context) (bool, error) {
	ok, err := l.client.SetNX(ctx, l.key, l.id, l.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("leader: acquire: %w", err)
	}
	return ok, nil
}

// Renew extends the lease TTL. ErrNotHeld means the lease was lost.
func (l *Lease) Renew(ctx context.Context) error {
	n, err := renewScript.Run(ctx, l.client, []string{l.key}, l.id, l.ttl.Milliseconds()).Int()
	if err != nil {
		return fmt.Errorf("leader: renew: %w", err)
	}
	if n == 0 {
		return ErrNotHeld
	}
	return nil
}

// Release gives the lease up so another process can take it immediately.
func (l *Lease) Release(ctx context.Context) error {
	n, err := releaseScript.Run(ctx, l.client, []string{l.key}, l.id).Int()
	if err != nil {
		return fmt.Errorf("leader: release: %w", err)
	}
	if n == 0 {
		return ErrNotHeld
	}
	return nil
}

// Run blocks until ctx is done, running work only while this process holds
// the lease. work receives a context that is cancelled when leadership is
// lost; it must return promptly on cancellation and may be started again if
// the lease is reacquired.
func (l *Lease) Run(ctx context.Context, work func(ctx context.Context)) {
	retry := l.ttl / 2
	if retry < time.Second {
		retry = time.Second
	}

	for {
		ok, err := l.TryAcquire(ctx)
		if err != nil {
			l.logger.Error("leader: acquire failed", "key", l.key, "error", err)
		}
		if ok {
			l.logger.Info("leader: lease acquired", "key", l.key)
			l.lead(ctx, work)
			l.logger.Info("leader: lease lost", "key", l.key)
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(retry):
		}
	}
}

// lead runs work while renewing, returning once the lease or ctx is gone.
func (l *Lease) lead(ctx context.Context, work func(ctx context.Context)) {
	workCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		work(workCtx)
	}()

	ticker := time.NewTicker(l.ttl / 3)
	defer ticker.Stop()
	defer func() {
		cancel()
		<-done
	}()

	for {
		select {
		case <-ctx.Done():
			if err := l.Release(context.WithoutCancel(ctx)); err != nil && !errors.Is(err, ErrNotHeld) {
				l.logger.Error("leader: release failed", "key", l.key, "error", err)
			}
			return
		case <-done:
			return
		case <-ticker.C:
			if err := l.Renew(ctx); err != nil {
				if !errors.Is(err, ErrNotHeld) {
					l.logger.Error("leader: renew failed", "key", l.key, "error", err)
				}
				return
			}
		}
	}
}
