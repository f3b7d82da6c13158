// Package subnet gives machines a network identity.
//
// NAT machines use qemu user networking with forwarded ports. Bridged
// machines share one reserved subnet per project: a long-lived scheduler job
// whose address table is written once to the frontend, and whose remote
// reference count decides when the job is deleted. Find-or-create, the
// increment and the decrement-and-maybe-delete all run under the project's
// subnet lock.
package subnet

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/jbweber/gridvm/internal/config"
	"github.com/jbweber/gridvm/internal/lock"
	"github.com/jbweber/gridvm/internal/naming"
	"github.com/jbweber/gridvm/internal/oar"
	"github.com/jbweber/gridvm/internal/remote"
	"github.com/jbweber/gridvm/internal/retry"
)

// placeholder keeps the subnet job alive until it is deleted or its
// walltime runs out.
const placeholder = "sleep 86400"

// JobClient is the part of oar.Client the manager needs.
type JobClient interface {
	Submit(ctx context.Context, spec oar.JobSpec) (string, error)
	FindByName(ctx context.Context, name string) (*oar.Job, error)
	WaitRunning(ctx context.Context, id string, p retry.Policy) (oar.Job, error)
	Delete(ctx context.Context, id string) error
}

// Lease is the network identity of one machine.
type Lease struct {
	Args    string // qemu -net arguments
	Address string // contact address, empty for NAT
	MAC     string
	JobID   string // subnet job, empty for NAT
}

// Manager acquires and releases network identities for one project.
type Manager struct {
	jobs     JobClient
	ch       remote.Channel
	locker   lock.Locker
	project  string
	walltime string        // machine walltime
	need     time.Duration // parsed walltime, 0 when unparseable
	wait     retry.Policy
	now      func() time.Time
	log      *zap.Logger
}

// NewManager returns a Manager for project. walltime is the walltime of the
// machines: the subnet job gets it when the network sets none, and a reused
// subnet ending sooner is reported. wait applies to the subnet job.
func NewManager(jobs JobClient, ch remote.Channel, locker lock.Locker, project, walltime string, wait retry.Policy, log *zap.Logger) *Manager {
	if log == nil {
		log = zap.NewNop()
	}
	need, _ := oar.ParseWalltime(walltime)
	return &Manager{
		jobs:     jobs,
		ch:       ch,
		locker:   locker,
		project:  project,
		walltime: walltime,
		need:     need,
		wait:     wait,
		now:      time.Now,
		log:      log.Named("subnet"),
	}
}

// Acquire returns the network identity of the machine with ordinal.
//
// For a bridged network this finds or creates the project subnet; it does
// not count the machine as a user of it. Call Join once the machine runs.
func (m *Manager) Acquire(ctx context.Context, cfg config.NetworkConfig, ordinal int) (Lease, error) {
	if !cfg.IsBridged() {
		return Lease{Args: natArgs(cfg.Ports)}, nil
	}

	var jobID string
	err := lock.With(ctx, m.locker, naming.SubnetLockName(m.project), func() error {
		id, err := m.findOrCreate(ctx, cfg)
		jobID = id
		return err
	})
	if err != nil {
		return Lease{}, err
	}

	table, err := m.readTable(ctx)
	if err != nil {
		return Lease{}, err
	}
	entry, err := table.Pick(ordinal)
	if err != nil {
		return Lease{}, err
	}
	if ordinal >= len(table) {
		m.log.Warn("ordinal exceeds subnet size, address is shared with another machine",
			zap.Int("ordinal", ordinal), zap.Int("size", len(table)), zap.String("address", entry.Address))
	}

	m.log.Info("assigned address", zap.Int("ordinal", ordinal),
		zap.String("address", entry.Address), zap.String("mac", entry.MAC))
	return Lease{
		Args:    fmt.Sprintf("-net nic,model=virtio,macaddr=%s -net bridge,br=%s", entry.MAC, cfg.Bridge),
		Address: entry.Address,
		MAC:     entry.MAC,
		JobID:   jobID,
	}, nil
}

// findOrCreate returns the id of the project subnet job, submitting it and
// writing its address table and reference count when there is none.
// The caller holds the subnet lock.
func (m *Manager) findOrCreate(ctx context.Context, cfg config.NetworkConfig) (string, error) {
	name := naming.SubnetJobName(m.project)

	job, err := m.jobs.FindByName(ctx, name)
	if err != nil {
		return "", fmt.Errorf("failed to look up subnet job: %w", err)
	}
	if job != nil {
		m.log.Debug("reusing subnet", zap.String("job", job.ID))
		if job.State != oar.Running {
			running, err := m.jobs.WaitRunning(ctx, job.ID, m.wait)
			if err != nil {
				return "", fmt.Errorf("subnet job %s did not start: %w", job.ID, err)
			}
			job = &running
		}
		m.checkRemaining(*job)
		ready, err := m.tableExists(ctx)
		if err != nil {
			return "", err
		}
		if !ready {
			// The creator stopped before writing the table.
			m.log.Warn("subnet job has no address table, writing it", zap.String("job", job.ID))
			if err := m.materialize(ctx, job.ID); err != nil {
				return "", err
			}
		}
		return job.ID, nil
	}

	walltime := cfg.Walltime
	if walltime == "" {
		walltime = m.walltime
	}
	m.log.Info("reserving subnet", zap.String("name", name), zap.Int("prefix", cfg.Prefix),
		zap.String("walltime", walltime))
	id, err := m.jobs.Submit(ctx, oar.JobSpec{
		Name:      name,
		Resources: fmt.Sprintf("slash_%d=1", cfg.Prefix),
		Walltime:  walltime,
		Command:   placeholder,
	})
	if err != nil {
		return "", fmt.Errorf("failed to submit subnet job: %w", err)
	}
	if _, err := m.jobs.WaitRunning(ctx, id, m.wait); err != nil {
		return "", fmt.Errorf("subnet job %s did not start: %w", id, err)
	}
	if err := m.materialize(ctx, id); err != nil {
		return "", err
	}
	return id, nil
}

// checkRemaining warns when the reused subnet job ends before a machine
// started now would.
func (m *Manager) checkRemaining(job oar.Job) {
	left, ok := job.Remaining(m.now())
	if !ok {
		return
	}
	if m.need > 0 && left < m.need {
		m.log.Warn("subnet job ends before the machine walltime, the machine will lose its network",
			zap.String("job", job.ID), zap.Duration("remaining", left.Round(time.Second)),
			zap.String("walltime", m.walltime))
		return
	}
	m.log.Debug("subnet walltime left", zap.String("job", job.ID), zap.Duration("remaining", left.Round(time.Second)))
}

func (m *Manager) materialize(ctx context.Context, jobID string) error {
	table := naming.SubnetTablePath(m.project)
	cmd := fmt.Sprintf("g5k-subnets -j %s -im > %s", remote.Quote(jobID), remote.Quote(table))
	if _, err := m.ch.Execute(ctx, cmd); err != nil {
		return fmt.Errorf("failed to write subnet table: %w", err)
	}
	return m.writeCount(ctx, 0)
}

func (m *Manager) tableExists(ctx context.Context) (bool, error) {
	q := remote.Quote(naming.SubnetTablePath(m.project))
	out, err := m.ch.Execute(ctx, fmt.Sprintf(`[ -s %s ] && echo %s || echo ""`, q, q))
	if err != nil {
		return false, fmt.Errorf("failed to check subnet table: %w", err)
	}
	return strings.TrimSpace(out) != "", nil
}

func (m *Manager) readTable(ctx context.Context) (Table, error) {
	out, err := m.ch.Execute(ctx, "cat "+remote.Quote(naming.SubnetTablePath(m.project)))
	if err != nil {
		return nil, fmt.Errorf("failed to read subnet table: %w", err)
	}
	return ParseTable(out)
}

// Join counts one more machine as a user of the subnet.
func (m *Manager) Join(ctx context.Context, cfg config.NetworkConfig) error {
	if !cfg.IsBridged() {
		return nil
	}
	return lock.With(ctx, m.locker, naming.SubnetLockName(m.project), func() error {
		n, err := m.readCount(ctx)
		if err != nil {
			return err
		}
		if err := m.writeCount(ctx, n+1); err != nil {
			return err
		}
		m.log.Debug("joined subnet", zap.Int("count", n+1))
		return nil
	})
}

// Release counts one machine less as a user of the subnet and deletes the
// subnet job once nobody uses it.
func (m *Manager) Release(ctx context.Context, cfg config.NetworkConfig) error {
	if !cfg.IsBridged() {
		return nil
	}
	return lock.With(ctx, m.locker, naming.SubnetLockName(m.project), func() error {
		n, err := m.readCount(ctx)
		if err != nil {
			return err
		}
		n--
		if err := m.writeCount(ctx, n); err != nil {
			return err
		}
		if n > 0 {
			m.log.Debug("left subnet", zap.Int("count", n))
			return nil
		}
		return m.teardown(ctx)
	})
}

// teardown deletes the subnet job and its bookkeeping files. The caller
// holds the subnet lock.
func (m *Manager) teardown(ctx context.Context) error {
	name := naming.SubnetJobName(m.project)
	job, err := m.jobs.FindByName(ctx, name)
	if err != nil {
		return fmt.Errorf("failed to look up subnet job: %w", err)
	}
	if job == nil {
		m.log.Info("subnet job already gone", zap.String("name", name))
	} else {
		m.log.Info("releasing subnet", zap.String("job", job.ID))
		if err := m.jobs.Delete(ctx, job.ID); err != nil {
			return fmt.Errorf("failed to delete subnet job: %w", err)
		}
	}

	cmd := fmt.Sprintf("rm -f %s %s",
		remote.Quote(naming.SubnetTablePath(m.project)),
		remote.Quote(naming.SubnetCountPath(m.project)))
	if _, err := m.ch.Execute(ctx, cmd); err != nil {
		return fmt.Errorf("failed to remove subnet files: %w", err)
	}
	return nil
}

func (m *Manager) readCount(ctx context.Context) (int, error) {
	out, err := m.ch.Execute(ctx, "cat "+remote.Quote(naming.SubnetCountPath(m.project)))
	if err != nil {
		return 0, fmt.Errorf("failed to read subnet reference count: %w", err)
	}
	n, err := strconv.Atoi(strings.TrimSpace(out))
	if err != nil {
		return 0, fmt.Errorf("invalid subnet reference count %q: %w", out, err)
	}
	return n, nil
}

func (m *Manager) writeCount(ctx context.Context, n int) error {
	cmd := fmt.Sprintf("echo %d > %s", n, remote.Quote(naming.SubnetCountPath(m.project)))
	if _, err := m.ch.Execute(ctx, cmd); err != nil {
		return fmt.Errorf("failed to write subnet reference count: %w", err)
	}
	return nil
}

// natArgs renders user-mode networking with forwarded ports.
//
// Example: -net nic,model=virtio -net user,hostfwd=tcp::2222-:22
func natArgs(ports []string) string {
	fwd := make([]string, 0, len(ports)+1)
	fwd = append(fwd, "user")
	for _, p := range ports {
		fwd = append(fwd, "hostfwd=tcp::"+p)
	}
	return "-net nic,model=virtio -net " + strings.Join(fwd, ",")
}
