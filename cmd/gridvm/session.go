package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/jbweber/gridvm/internal/config"
	"github.com/jbweber/gridvm/internal/lock"
	"github.com/jbweber/gridvm/internal/logging"
	"github.com/jbweber/gridvm/internal/naming"
	"github.com/jbweber/gridvm/internal/remote"
	"github.com/jbweber/gridvm/internal/state"
	"github.com/jbweber/gridvm/internal/vm"
)

// session holds everything a command needs for one project.
type session struct {
	cfg   *config.Config
	log   *zap.Logger
	ch    *remote.SSHChannel
	store *state.Store
	orch  *vm.Orchestrator

	closeLocker func() error
}

func overrides() config.Overrides {
	return config.Overrides{
		Username:   settings.GetString(keyUsername),
		Site:       settings.GetString(keySite),
		Gateway:    settings.GetString(keyGateway),
		PrivateKey: settings.GetString(keyPrivateKey),
	}
}

func newLogger() (*zap.Logger, error) {
	return logging.New(settings.GetString(keyLogLevel), settings.GetString(keyLogFormat))
}

func newStore() (*state.Store, error) {
	root := settings.GetString(keyStateDir)
	if root == "" {
		var err error
		if root, err = state.DefaultRoot(); err != nil {
			return nil, err
		}
	}
	return state.NewStore(root), nil
}

// dial opens the SSH channel described by p.
func dial(ctx context.Context, p *config.ProviderConfig, log *zap.Logger) (*remote.SSHChannel, error) {
	ch, err := remote.Dial(ctx, remote.Options{
		User:                  p.Username,
		Host:                  p.Site,
		Gateway:               p.Gateway,
		PrivateKeyPath:        p.PrivateKey,
		KnownHostsPath:        p.KnownHosts,
		InsecureIgnoreHostKey: p.InsecureIgnoreHostKey,
		Logger:                log,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", p.Site, err)
	}
	return ch, nil
}

// openSession loads the configuration and connects to the frontend.
func openSession(ctx context.Context) (*session, error) {
	log, err := newLogger()
	if err != nil {
		return nil, err
	}

	cfg, err := config.Load(settings.GetString(keyConfig), overrides())
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	p := &cfg.Provider

	store, err := newStore()
	if err != nil {
		return nil, err
	}

	ch, err := dial(ctx, p, log)
	if err != nil {
		return nil, err
	}

	locker, closeLocker, err := lock.New(p.Lock, ch, naming.LockDir(p.ProjectID), p.Retry.LockPolicy(), log)
	if err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("failed to set up subnet lock: %w", err)
	}

	return &session{
		cfg:         cfg,
		log:         log,
		ch:          ch,
		store:       store,
		orch:        vm.New(ch, p, locker, log),
		closeLocker: closeLocker,
	}, nil
}

func (s *session) Close() error {
	var errs []error
	if s.closeLocker != nil {
		errs = append(errs, s.closeLocker())
	}
	errs = append(errs, s.ch.Close())
	_ = s.log.Sync()
	return errors.Join(errs...)
}

// machines returns the configured machines named in names, or all of them.
func (s *session) machines(names []string) ([]config.MachineConfig, error) {
	if len(names) == 0 {
		return s.cfg.Machines, nil
	}
	out := make([]config.MachineConfig, 0, len(names))
	for _, n := range names {
		m, err := s.cfg.Machine(n)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}

// load returns the machine of mc, filled from its record when there is one.
func (s *session) load(mc config.MachineConfig) (*vm.Machine, *state.Record, error) {
	m := &vm.Machine{Name: mc.Name, Ordinal: mc.GetOrdinal()}
	rec, err := s.store.Load(s.cfg.Provider.ProjectID, mc.Name)
	if errors.Is(err, state.ErrNotFound) {
		return m, nil, nil
	}
	if err != nil {
		return nil, nil, err
	}
	m.ID = rec.JobID
	m.Address = rec.Address
	m.SubnetJoined = rec.SubnetJoined
	return m, rec, nil
}

// save records m, keeping the creation time of rec.
func (s *session) save(m *vm.Machine, rec *state.Record) error {
	next := &state.Record{
		Project:      s.cfg.Provider.ProjectID,
		Name:         m.Name,
		Ordinal:      m.Ordinal,
		Site:         s.cfg.Provider.Site,
		JobID:        m.ID,
		Address:      m.Address,
		SubnetJoined: m.SubnetJoined,
	}
	if rec != nil {
		next.CreatedAt = rec.CreatedAt
	} else {
		next.CreatedAt = time.Now().UTC()
	}
	return s.store.Save(next)
}

func (s *session) env(m *vm.Machine, ui vm.UI) *vm.Env {
	return &vm.Env{Machine: m, Config: &s.cfg.Provider, UI: ui}
}
