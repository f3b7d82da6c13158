// Package retry provides the bounded retry loop used to drive asynchronous
// remote state (a job reaching Running, a busy storage pool freeing up) to
// completion.
//
// The action decides what happens next by returning a Status:
//   - Done with a nil error: success, stop.
//   - Done with an error: permanent failure, stop without retrying.
//   - Again: not ready yet, retry after Interval. An accompanying error is
//     recorded as the reason and reported if the budget runs out.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Status is the outcome of one attempt.
type Status int

const (
	// Done stops the loop.
	Done Status = iota
	// Again schedules another attempt.
	Again
)

func (s Status) String() string {
	switch s {
	case Done:
		return "Done"
	case Again:
		return "Again"
	default:
		return fmt.Sprintf("Status(%d)", int(s))
	}
}

// Action is one attempt. attempt starts at 1.
type Action func(ctx context.Context, attempt int) (Status, error)

// Policy bounds a retry loop.
type Policy struct {
	Attempts int
	Interval time.Duration

	// Sleep waits between attempts. Defaults to a context-aware timer.
	Sleep func(ctx context.Context, d time.Duration) error
}

// Reference budgets.
var (
	// JobWait covers a scheduler job reaching Running (about 100s).
	JobWait = Policy{Attempts: 100, Interval: time.Second}

	// DiskCleanup covers block-pool image removal while the store is busy.
	DiskCleanup = Policy{Attempts: 10, Interval: 5 * time.Second}

	// LockWait covers acquiring the subnet lock.
	LockWait = Policy{Attempts: 120, Interval: time.Second}
)

// ErrGaveUp is matched by every GaveUpError.
var ErrGaveUp = errors.New("retry budget exhausted")

// GaveUpError reports an exhausted budget.
type GaveUpError struct {
	Attempts int
	Last     error
}

func (e *GaveUpError) Error() string {
	if e.Last == nil {
		return fmt.Sprintf("gave up after %d attempts", e.Attempts)
	}
	return fmt.Sprintf("gave up after %d attempts: %v", e.Attempts, e.Last)
}

func (e *GaveUpError) Is(target error) bool {
	return target == ErrGaveUp
}

func (e *GaveUpError) Unwrap() error {
	return e.Last
}

// Do runs action until it returns Done or the budget is spent.
// There is no sleep after the final attempt.
func Do(ctx context.Context, p Policy, action Action) error {
	if p.Attempts < 1 {
		return fmt.Errorf("invalid retry policy: attempts must be positive, got %d", p.Attempts)
	}
	sleep := p.Sleep
	if sleep == nil {
		sleep = Sleep
	}

	var last error
	for attempt := 1; attempt <= p.Attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		status, err := action(ctx, attempt)
		if status == Done {
			return err
		}
		last = err

		if attempt < p.Attempts {
			if err := sleep(ctx, p.Interval); err != nil {
				return err
			}
		}
	}

	return &GaveUpError{Attempts: p.Attempts, Last: last}
}

// Sleep waits for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// NoSleep is a Sleep that never waits. Useful in tests.
func NoSleep(ctx context.Context, _ time.Duration) error {
	return ctx.Err()
}

// WithoutSleep returns a copy of p that does not wait between attempts.
func (p Policy) WithoutSleep() Policy {
	p.Sleep = NoSleep
	return p
}
