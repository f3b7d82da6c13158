package lock

import (
	"context"
	"errors"
	"fmt"
	"path"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"
	"go.etcd.io/etcd/client/v3/concurrency"
	"go.uber.org/zap"
)

// KeyPrefix is the etcd key prefix under which locks are created.
const KeyPrefix = "/gridvm/locks/"

// sessionTTL bounds how long a lock outlives a crashed holder, in seconds.
const sessionTTL = 30

// EtcdLocker implements Locker with etcd concurrency mutexes.
type EtcdLocker struct {
	client *clientv3.Client
	log    *zap.Logger
}

// NewEtcdLocker connects to the etcd cluster at endpoints.
func NewEtcdLocker(endpoints []string, dialTimeout time.Duration, log *zap.Logger) (*EtcdLocker, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if dialTimeout == 0 {
		dialTimeout = 5 * time.Second
	}
	cli, err := clientv3.New(clientv3.Config{
		Endpoints:   endpoints,
		DialTimeout: dialTimeout,
		Logger:      log.Named("etcd"),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to etcd: %w", err)
	}
	return &EtcdLocker{client: cli, log: log.Named("lock")}, nil
}

// Lock blocks until name is acquired or ctx is done.
func (l *EtcdLocker) Lock(ctx context.Context, name string) (Unlock, error) {
	// The session lease must outlive ctx: it is kept alive while the lock is
	// held and revoked on release, even after ctx is cancelled. ctx only
	// bounds the wait for the mutex.
	session, err := concurrency.NewSession(l.client,
		concurrency.WithTTL(sessionTTL),
		concurrency.WithContext(context.WithoutCancel(ctx)))
	if err != nil {
		return nil, fmt.Errorf("failed to open etcd session: %w", err)
	}

	key := path.Join(KeyPrefix, name)
	mu := concurrency.NewMutex(session, key)
	if err := mu.Lock(ctx); err != nil {
		_ = session.Close()
		return nil, fmt.Errorf("failed to acquire lock %s: %w", name, err)
	}
	l.log.Debug("acquired lock", zap.String("key", key))

	return func(ctx context.Context) error {
		var errs []error
		if err := mu.Unlock(ctx); err != nil {
			errs = append(errs, err)
		}
		if err := session.Close(); err != nil {
			errs = append(errs, err)
		}
		if len(errs) > 0 {
			return fmt.Errorf("failed to release lock %s: %w", name, errors.Join(errs...))
		}
		l.log.Debug("released lock", zap.String("key", key))
		return nil
	}, nil
}

// Close closes the etcd client.
func (l *EtcdLocker) Close() error {
	return l.client.Close()
}
