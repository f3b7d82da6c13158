package remote

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"
	"golang.org/x/crypto/ssh/knownhosts"
)

// Options configures an SSH channel.
type Options struct {
	User string
	Host string // frontend host, e.g. "rennes"

	// Gateway is an optional jump host. When set, the connection to Host is
	// tunnelled through it.
	Gateway string

	// PrivateKeyPath is an optional key file. When empty, the ssh-agent at
	// $SSH_AUTH_SOCK is used.
	PrivateKeyPath string

	// KnownHostsPath defaults to ~/.ssh/known_hosts.
	KnownHostsPath string

	// InsecureIgnoreHostKey disables host key verification.
	InsecureIgnoreHostKey bool

	// Timeout bounds each TCP dial. Defaults to 30 seconds.
	Timeout time.Duration

	Logger *zap.Logger
}

// SSHChannel is a Channel backed by an SSH connection.
type SSHChannel struct {
	client  *ssh.Client
	gateway *ssh.Client
	log     *zap.Logger
}

const defaultPort = "22"

// Dial connects to opts.Host, through opts.Gateway if set.
// The returned channel must be closed via Close() when done.
func Dial(ctx context.Context, opts Options) (*SSHChannel, error) {
	if opts.Host == "" {
		return nil, fmt.Errorf("host is required")
	}
	if opts.Timeout == 0 {
		opts.Timeout = 30 * time.Second
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}

	cfg, err := clientConfig(opts)
	if err != nil {
		return nil, err
	}

	type result struct {
		ch  *SSHChannel
		err error
	}
	resultCh := make(chan result, 1)

	go func() {
		ch, err := dial(opts, cfg, log)
		resultCh <- result{ch: ch, err: err}
	}()

	select {
	case <-ctx.Done():
		// Close whatever the dialer eventually returns.
		go func() {
			if res := <-resultCh; res.ch != nil {
				_ = res.ch.Close()
			}
		}()
		return nil, fmt.Errorf("connection cancelled: %w", ctx.Err())
	case res := <-resultCh:
		return res.ch, res.err
	}
}

func dial(opts Options, cfg *ssh.ClientConfig, log *zap.Logger) (*SSHChannel, error) {
	target := withPort(opts.Host)

	if opts.Gateway == "" {
		log.Debug("connecting", zap.String("user", opts.User), zap.String("host", opts.Host))
		client, err := ssh.Dial("tcp", target, cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to %s: %w", opts.Host, err)
		}
		return &SSHChannel{client: client, log: log}, nil
	}

	log.Debug("connecting through gateway",
		zap.String("user", opts.User),
		zap.String("host", opts.Host),
		zap.String("gateway", opts.Gateway))

	gw, err := ssh.Dial("tcp", withPort(opts.Gateway), cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to gateway %s: %w", opts.Gateway, err)
	}

	conn, err := gw.Dial("tcp", target)
	if err != nil {
		_ = gw.Close()
		return nil, fmt.Errorf("failed to reach %s through %s: %w", opts.Host, opts.Gateway, err)
	}

	c, chans, reqs, err := ssh.NewClientConn(conn, target, cfg)
	if err != nil {
		_ = conn.Close()
		_ = gw.Close()
		return nil, fmt.Errorf("failed to open session to %s: %w", opts.Host, err)
	}

	return &SSHChannel{client: ssh.NewClient(c, chans, reqs), gateway: gw, log: log}, nil
}

func clientConfig(opts Options) (*ssh.ClientConfig, error) {
	auth, err := authMethods(opts.PrivateKeyPath)
	if err != nil {
		return nil, err
	}

	hostKeyCallback := ssh.InsecureIgnoreHostKey()
	if !opts.InsecureIgnoreHostKey {
		path := opts.KnownHostsPath
		if path == "" {
			home, err := os.UserHomeDir()
			if err != nil {
				return nil, fmt.Errorf("failed to locate home directory: %w", err)
			}
			path = filepath.Join(home, ".ssh", "known_hosts")
		}
		hostKeyCallback, err = knownhosts.New(path)
		if err != nil {
			return nil, fmt.Errorf("failed to load known hosts %s: %w", path, err)
		}
	}

	return &ssh.ClientConfig{
		User:            opts.User,
		Auth:            auth,
		HostKeyCallback: hostKeyCallback,
		Timeout:         opts.Timeout,
	}, nil
}

func authMethods(keyPath string) ([]ssh.AuthMethod, error) {
	if keyPath != "" {
		data, err := os.ReadFile(keyPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read private key: %w", err)
		}
		signer, err := ssh.ParsePrivateKey(data)
		if err != nil {
			return nil, fmt.Errorf("failed to parse private key %s: %w", keyPath, err)
		}
		return []ssh.AuthMethod{ssh.PublicKeys(signer)}, nil
	}

	sock := os.Getenv("SSH_AUTH_SOCK")
	if sock == "" {
		return nil, fmt.Errorf("no private key configured and SSH_AUTH_SOCK is not set")
	}
	conn, err := net.Dial("unix", sock)
	if err != nil {
		return nil, fmt.Errorf("failed to reach ssh-agent: %w", err)
	}
	return []ssh.AuthMethod{ssh.PublicKeysCallback(agent.NewClient(conn).Signers)}, nil
}

func withPort(host string) string {
	if _, _, err := net.SplitHostPort(host); err == nil {
		return host
	}
	return net.JoinHostPort(host, defaultPort)
}

// Execute runs cmd in a new session.
func (c *SSHChannel) Execute(ctx context.Context, cmd string) (string, error) {
	if c.client == nil {
		return "", fmt.Errorf("channel is closed")
	}
	c.log.Debug("executing", zap.String("cmd", cmd))

	session, err := c.client.NewSession()
	if err != nil {
		return "", fmt.Errorf("failed to open session: %w", err)
	}
	defer func() { _ = session.Close() }()

	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr

	if err := run(ctx, session, cmd); err != nil {
		var exitErr *ssh.ExitError
		if errors.As(err, &exitErr) {
			cmdErr := &CommandError{
				Command:  cmd,
				ExitCode: exitErr.ExitStatus(),
				Stderr:   strings.TrimSpace(stderr.String()),
			}
			c.log.Debug("command failed", zap.String("cmd", cmd),
				zap.Int("code", cmdErr.ExitCode), zap.String("stderr", cmdErr.Stderr))
			return "", cmdErr
		}
		return "", fmt.Errorf("failed to execute %q: %w", cmd, err)
	}

	out := strings.TrimRight(stdout.String(), "\r\n")
	c.log.Debug("returning", zap.String("stdout", out))
	return out, nil
}

// Upload streams localPath into `cat > remotePath` on the remote host.
func (c *SSHChannel) Upload(ctx context.Context, localPath, remotePath string) error {
	if c.client == nil {
		return &TransferError{LocalPath: localPath, RemotePath: remotePath, Err: fmt.Errorf("channel is closed")}
	}
	f, err := os.Open(localPath)
	if err != nil {
		return &TransferError{LocalPath: localPath, RemotePath: remotePath, Err: err}
	}
	defer func() { _ = f.Close() }()

	info, err := f.Stat()
	if err != nil {
		return &TransferError{LocalPath: localPath, RemotePath: remotePath, Err: err}
	}

	session, err := c.client.NewSession()
	if err != nil {
		return &TransferError{LocalPath: localPath, RemotePath: remotePath, Err: err}
	}
	defer func() { _ = session.Close() }()

	var stderr bytes.Buffer
	session.Stdin = f
	session.Stderr = &stderr

	cmd := fmt.Sprintf("cat > %s && chmod %o %s", Quote(remotePath), info.Mode().Perm(), Quote(remotePath))
	c.log.Debug("uploading", zap.String("local", localPath), zap.String("remote", remotePath))
	if err := run(ctx, session, cmd); err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			err = fmt.Errorf("%w: %s", err, msg)
		}
		return &TransferError{LocalPath: localPath, RemotePath: remotePath, Err: err}
	}
	return nil
}

// run executes cmd, closing the session if ctx is cancelled first.
func run(ctx context.Context, session *ssh.Session, cmd string) error {
	done := make(chan error, 1)
	go func() {
		done <- session.Run(cmd)
	}()

	select {
	case <-ctx.Done():
		_ = session.Signal(ssh.SIGTERM)
		_ = session.Close()
		return ctx.Err()
	case err := <-done:
		return err
	}
}

// Ping verifies the connection by running a no-op command.
func (c *SSHChannel) Ping(ctx context.Context) error {
	if _, err := c.Execute(ctx, "true"); err != nil {
		return fmt.Errorf("ssh connection is dead: %w", err)
	}
	return nil
}

// Close closes the connection and the gateway hop, if any.
// It is safe to call Close multiple times.
func (c *SSHChannel) Close() error {
	var errs []error
	if c.client != nil {
		if err := c.client.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			errs = append(errs, err)
		}
		c.client = nil
	}
	if c.gateway != nil {
		if err := c.gateway.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			errs = append(errs, err)
		}
		c.gateway = nil
	}
	if len(errs) > 0 {
		return fmt.Errorf("failed to close ssh connection: %w", errors.Join(errs...))
	}
	return nil
}
