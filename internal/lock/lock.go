// Package lock provides the named mutual-exclusion lock that serializes
// subnet bookkeeping across concurrent gridvm processes.
//
// Two backends are available:
//   - RemoteLocker: an atomic mkdir on the frontend, needing nothing but the
//     command channel
//   - EtcdLocker: an etcd concurrency mutex, for sites running an etcd cluster
package lock

import (
	"context"
	"errors"
	"fmt"
	"path"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jbweber/gridvm/internal/config"
	"github.com/jbweber/gridvm/internal/remote"
	"github.com/jbweber/gridvm/internal/retry"
)

// Unlock releases a held lock.
type Unlock func(ctx context.Context) error

// Locker acquires named locks.
type Locker interface {
	Lock(ctx context.Context, name string) (Unlock, error)
}

// ErrHeld is the transient reason recorded while another process holds the lock.
var ErrHeld = errors.New("lock is held by another process")

// heldStatus is the exit status of the acquire command when the lock
// directory already exists.
const heldStatus = 1

// RemoteLocker implements Locker with directories on the frontend. mkdir is
// atomic on the shared home filesystem, so at most one caller can create
// {dir}/{name}.lock.
type RemoteLocker struct {
	ch     remote.Channel
	dir    string
	policy retry.Policy
	log    *zap.Logger
}

// NewRemoteLocker returns a RemoteLocker keeping its lock directories in dir.
func NewRemoteLocker(ch remote.Channel, dir string, policy retry.Policy, log *zap.Logger) *RemoteLocker {
	if log == nil {
		log = zap.NewNop()
	}
	return &RemoteLocker{ch: ch, dir: dir, policy: policy, log: log.Named("lock")}
}

// Lock blocks until name is acquired or the retry budget is spent.
func (l *RemoteLocker) Lock(ctx context.Context, name string) (Unlock, error) {
	lockDir := path.Join(l.dir, name+".lock")
	owner := path.Join(lockDir, "owner")
	token := uuid.NewString()

	// Exit status heldStatus means another process holds the lock. Any other
	// failure removes the directory this attempt created, so a lock never
	// exists without its owner file.
	acquire := fmt.Sprintf("mkdir -p %[1]s || exit 2; mkdir %[2]s 2>/dev/null || exit %[5]d; "+
		"echo %[3]s > %[4]s || { rm -rf %[2]s; exit 2; }",
		remote.Quote(l.dir), remote.Quote(lockDir), remote.Quote(token), remote.Quote(owner), heldStatus)

	err := retry.Do(ctx, l.policy, func(ctx context.Context, attempt int) (retry.Status, error) {
		_, err := l.ch.Execute(ctx, acquire)
		var cmdErr *remote.CommandError
		switch {
		case err == nil:
			return retry.Done, nil
		case errors.As(err, &cmdErr) && cmdErr.ExitCode == heldStatus:
			if attempt == 1 {
				l.log.Info("waiting for lock", zap.String("name", name))
			}
			return retry.Again, ErrHeld
		default:
			return retry.Done, err
		}
	})
	if err != nil {
		if errors.Is(err, retry.ErrGaveUp) {
			return nil, fmt.Errorf("failed to acquire lock %s (remove %s if it is stale): %w", name, lockDir, err)
		}
		return nil, fmt.Errorf("failed to acquire lock %s: %w", name, err)
	}
	l.log.Debug("acquired lock", zap.String("name", name), zap.String("token", token))

	release := fmt.Sprintf(`if [ "$(cat %s 2>/dev/null)" = %s ]; then rm -rf %s; fi`,
		remote.Quote(owner), remote.Quote(token), remote.Quote(lockDir))

	return func(ctx context.Context) error {
		if _, err := l.ch.Execute(ctx, release); err != nil {
			return fmt.Errorf("failed to release lock %s: %w", name, err)
		}
		l.log.Debug("released lock", zap.String("name", name))
		return nil
	}, nil
}

// New returns the Locker selected by cfg. The returned close function
// releases backend resources and must be called when done.
func New(cfg config.LockConfig, ch remote.Channel, dir string, policy retry.Policy, log *zap.Logger) (Locker, func() error, error) {
	switch cfg.Backend {
	case "", config.LockRemote:
		return NewRemoteLocker(ch, dir, policy, log), func() error { return nil }, nil
	case config.LockEtcd:
		l, err := NewEtcdLocker(cfg.Endpoints, cfg.DialTimeout, log)
		if err != nil {
			return nil, nil, err
		}
		return l, l.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown lock backend %q", cfg.Backend)
	}
}

// With runs fn while holding name. The lock is released even when fn fails.
func With(ctx context.Context, l Locker, name string, fn func() error) (err error) {
	unlock, err := l.Lock(ctx, name)
	if err != nil {
		return err
	}
	defer func() {
		// Release with a fresh context so cancellation does not leak the lock.
		if uerr := unlock(context.WithoutCancel(ctx)); uerr != nil {
			err = errors.Join(err, uerr)
		}
	}()
	return fn()
}
