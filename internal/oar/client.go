package oar

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/jbweber/gridvm/internal/remote"
	"github.com/jbweber/gridvm/internal/retry"
)

// DefaultCheckpointSignal is sent by the soft delete (SIGUSR2).
const DefaultCheckpointSignal = 12

// Client submits, observes and deletes jobs of one user.
type Client struct {
	ch     remote.Channel
	user   string
	signal int
	log    *zap.Logger
}

// NewClient returns a Client issuing commands over ch on behalf of user.
func NewClient(ch remote.Channel, user string, log *zap.Logger) *Client {
	if log == nil {
		log = zap.NewNop()
	}
	return &Client{
		ch:     ch,
		user:   user,
		signal: DefaultCheckpointSignal,
		log:    log.Named("oar"),
	}
}

// Submit submits spec and returns the scheduler-assigned id.
func (c *Client) Submit(ctx context.Context, spec JobSpec) (string, error) {
	out, err := c.ch.Execute(ctx, spec.command(remote.Quote))
	if err != nil {
		return "", fmt.Errorf("failed to submit job %s: %w", spec.Name, err)
	}

	id, err := parseJobID(out)
	if err != nil {
		return "", err
	}
	c.log.Info("submitted job", zap.String("name", spec.Name), zap.String("id", id))
	return id, nil
}

// Poll returns the current state of job id.
//
// A failed status query is reported as Unknown: right after submission the
// scheduler may not know the job yet, and the caller's retry loop keeps
// waiting. Only context cancellation is returned as an error.
func (c *Client) Poll(ctx context.Context, id string) (Job, error) {
	out, err := c.ch.Execute(ctx, "oarstat --json -j "+remote.Quote(id))
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Job{}, ctxErr
		}
		c.log.Debug("status query failed, treating job as unknown", zap.String("id", id), zap.Error(err))
		return Job{ID: id, State: Unknown}, nil
	}

	jobs, err := parseJobs(out)
	if err != nil {
		c.log.Warn("unreadable status output, treating job as unknown", zap.String("id", id), zap.Error(err))
		return Job{ID: id, State: Unknown}, nil
	}
	for _, j := range jobs {
		if j.ID == id {
			return j, nil
		}
	}
	return Job{ID: id, State: Unknown}, nil
}

// FindByName returns the oldest non-terminal job of the user named name,
// or nil when there is none. Query failures are returned.
func (c *Client) FindByName(ctx context.Context, name string) (*Job, error) {
	out, err := c.ch.Execute(ctx, "oarstat --json -u "+remote.Quote(c.user))
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs of %s: %w", c.user, err)
	}

	jobs, err := parseJobs(out)
	if err != nil {
		return nil, err
	}
	for _, j := range jobs {
		if j.Name == name && !j.State.IsTerminal() {
			c.log.Debug("found job", zap.String("name", name), zap.String("id", j.ID), zap.String("state", string(j.State)))
			return &j, nil
		}
	}
	return nil, nil
}

// Delete asks the job to checkpoint and stop, and kills it outright if the
// soft delete cannot be issued.
func (c *Client) Delete(ctx context.Context, id string) error {
	soft := fmt.Sprintf("oardel -c -s %d %s", c.signal, remote.Quote(id))
	_, err := c.ch.Execute(ctx, soft)
	if err == nil {
		c.log.Info("deleted job", zap.String("id", id))
		return nil
	}
	c.log.Warn("soft delete failed, falling back to hard delete", zap.String("id", id), zap.Error(err))

	if _, err := c.ch.Execute(ctx, "oardel "+remote.Quote(id)); err != nil {
		return fmt.Errorf("failed to delete job %s: %w", id, err)
	}
	c.log.Info("deleted job", zap.String("id", id), zap.Bool("hard", true))
	return nil
}

// FailureDetail reads the captured stderr of job.
func (c *Client) FailureDetail(ctx context.Context, job Job) (string, error) {
	if job.StderrFile == "" {
		return "", nil
	}
	out, err := c.ch.Execute(ctx, "cat "+remote.Quote(job.StderrFile))
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", job.StderrFile, err)
	}
	return out, nil
}

// WaitRunning polls job id until it runs, fails or p is exhausted.
//
// Unknown and Waiting are retried. Error and Terminated stop the loop at
// once with a *JobError carrying the job's stderr.
func (c *Client) WaitRunning(ctx context.Context, id string, p retry.Policy) (Job, error) {
	var last Job
	err := retry.Do(ctx, p, func(ctx context.Context, attempt int) (retry.Status, error) {
		job, err := c.Poll(ctx, id)
		if err != nil {
			return retry.Done, err
		}
		last = job

		switch job.State {
		case Running:
			return retry.Done, nil
		case Error, Terminated:
			detail, err := c.FailureDetail(ctx, job)
			if err != nil {
				c.log.Warn("failed to fetch failure detail", zap.String("id", id), zap.Error(err))
			}
			return retry.Done, &JobError{ID: id, State: job.State, Detail: detail}
		default:
			c.log.Debug("waiting for job", zap.String("id", id),
				zap.String("state", string(job.State)), zap.Int("attempt", attempt))
			return retry.Again, fmt.Errorf("%w (state %s)", ErrJobNotRunning, job.State)
		}
	})
	if err != nil {
		var jobErr *JobError
		if errors.As(err, &jobErr) {
			c.log.Error("job failed", zap.String("id", id), zap.String("state", string(jobErr.State)),
				zap.String("detail", jobErr.Detail))
		}
		return last, err
	}
	return last, nil
}
