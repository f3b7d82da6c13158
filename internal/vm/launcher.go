package vm

import (
	"context"
	"embed"
	"fmt"
	"os"

	"github.com/jbweber/gridvm/internal/config"
	"github.com/jbweber/gridvm/internal/naming"
	"github.com/jbweber/gridvm/internal/remote"
)

//go:embed scripts/*.sh
var scripts embed.FS

const (
	launcherFwd    = "launch_vm_fwd.sh"
	launcherBridge = "launch_vm_bridge.sh"
)

// launcher returns the script for the network mode and its arguments.
// The forwarded-port launcher expects the drive first, the bridge launcher
// the network first.
func launcher(net config.NetworkConfig, drive, netArgs string) (script, args string) {
	if net.IsBridged() {
		return launcherBridge, netArgs + " " + drive
	}
	return launcherFwd, drive + " " + netArgs
}

// uploadLauncher copies the embedded script to the project working directory
// and returns its remote path.
func (o *Orchestrator) uploadLauncher(ctx context.Context, script string) (string, error) {
	data, err := scripts.ReadFile("scripts/" + script)
	if err != nil {
		return "", fmt.Errorf("launcher %s not found: %w", script, err)
	}

	f, err := os.CreateTemp("", "gridvm-*-"+script)
	if err != nil {
		return "", fmt.Errorf("failed to stage launcher: %w", err)
	}
	defer os.Remove(f.Name()) //nolint:errcheck

	if _, err := f.Write(data); err != nil {
		f.Close() //nolint:errcheck,gosec // write error takes precedence
		return "", fmt.Errorf("failed to stage launcher: %w", err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("failed to stage launcher: %w", err)
	}

	dst := naming.LauncherPath(o.project, script)
	if err := o.ch.Upload(ctx, f.Name(), dst); err != nil {
		return "", err
	}
	if _, err := o.ch.Execute(ctx, "chmod +x "+remote.Quote(dst)); err != nil {
		return "", fmt.Errorf("failed to make launcher executable: %w", err)
	}
	return dst, nil
}
