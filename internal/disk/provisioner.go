package disk

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"

	"go.uber.org/zap"

	"github.com/jbweber/gridvm/internal/remote"
	"github.com/jbweber/gridvm/internal/retry"
)

// ErrSharedImage is returned when asked to remove the disk of a machine that
// boots the shared source image. The source is left untouched.
var ErrSharedImage = errors.New("boot disk is the shared source image")

// StorageCleanupError reports a block-pool image that could not be removed.
type StorageCleanupError struct {
	Image    string
	Attempts int
	Err      error
}

func (e *StorageCleanupError) Error() string {
	return fmt.Sprintf("failed to remove %s after %d attempts: %v", e.Image, e.Attempts, e.Err)
}

func (e *StorageCleanupError) Unwrap() error {
	return e.Err
}

// Provisioner materializes and removes boot disks on the frontend.
//
// Per-machine artifacts live at {workdir}/{machine}, as a file or as an RBD
// image of that name in the source pool. The existence check is the only
// guard against provisioning twice, so two callers provisioning the same
// machine for the first time at once may both clone.
type Provisioner struct {
	ch      remote.Channel
	workdir string
	cleanup retry.Policy
	log     *zap.Logger
}

// NewProvisioner returns a Provisioner working under workdir. cleanup bounds
// the retries of block-pool image removal.
func NewProvisioner(ch remote.Channel, workdir string, cleanup retry.Policy, log *zap.Logger) *Provisioner {
	if log == nil {
		log = zap.NewNop()
	}
	return &Provisioner{
		ch:      ch,
		workdir: workdir,
		cleanup: cleanup,
		log:     log.Named("disk"),
	}
}

func (p *Provisioner) target(machine string) string {
	return path.Join(p.workdir, machine)
}

// ResolveBootDisk returns the boot disk of machine, cloning or copying the
// source first when the strategy needs a per-machine artifact that does not
// exist yet.
func (p *Provisioner) ResolveBootDisk(ctx context.Context, spec ImageSpec, machine string) (BootDisk, error) {
	disk := BootDisk{Cache: spec.Cache}

	switch spec.Backing {
	case Snapshot, Direct:
		loc, err := sourceLocator(spec.Backend)
		if err != nil {
			return BootDisk{}, err
		}
		disk.Locator = loc
		disk.Snapshot = spec.Backing == Snapshot
	case CopyOnWrite, FullCopy:
		loc, err := p.materialize(ctx, spec, machine)
		if err != nil {
			return BootDisk{}, err
		}
		disk.Locator = loc
	default:
		return BootDisk{}, fmt.Errorf("unsupported backing strategy %s", spec.Backing)
	}

	p.log.Debug("resolved boot disk", zap.String("machine", machine),
		zap.Stringer("backing", spec.Backing), zap.String("locator", disk.Locator))
	return disk, nil
}

func sourceLocator(b Backend) (string, error) {
	switch b := b.(type) {
	case LocalFile:
		return b.Path, nil
	case BlockPool:
		return b.rbdLocator(b.Image), nil
	default:
		return "", fmt.Errorf("unsupported storage backend %T", b)
	}
}

// materialize creates the per-machine artifact unless it already exists and
// returns its locator.
func (p *Provisioner) materialize(ctx context.Context, spec ImageSpec, machine string) (string, error) {
	existing, err := p.Lookup(ctx, spec, machine)
	if err != nil {
		return "", err
	}
	target := p.target(machine)
	clone := spec.Backing == CopyOnWrite

	switch b := spec.Backend.(type) {
	case LocalFile:
		if existing != "" {
			p.log.Info("reusing existing disk", zap.String("path", target))
			return target, nil
		}
		var cmd string
		if clone {
			p.log.Info("cloning image", zap.String("source", b.Path), zap.String("target", target))
			cmd = fmt.Sprintf("qemu-img create -f qcow2 -F %s -b %s %s",
				sourceFormat(b.Path), fromHome(b.Path), remote.Quote(target))
		} else {
			p.log.Warn("copying image, this may take some time", zap.String("source", b.Path), zap.String("target", target))
			cmd = fmt.Sprintf("cp %s %s", remote.Quote(b.Path), remote.Quote(target))
		}
		if _, err := p.ch.Execute(ctx, cmd); err != nil {
			return "", fmt.Errorf("failed to create disk %s: %w", target, err)
		}
		return target, nil

	case BlockPool:
		if existing != "" {
			p.log.Info("reusing existing rbd image", zap.String("pool", b.Pool), zap.String("image", target))
			return b.rbdLocator(target), nil
		}
		dst := path.Join(b.Pool, target)
		var cmd string
		if clone {
			parent := path.Join(b.Pool, b.Image) + "@" + b.Snapshot
			p.log.Info("cloning rbd image", zap.String("parent", parent), zap.String("target", dst))
			cmd = fmt.Sprintf("rbd clone %s %s%s", remote.Quote(parent), remote.Quote(dst), b.rbdFlags(remote.Quote))
		} else {
			src := path.Join(b.Pool, b.Image)
			p.log.Warn("copying rbd image, this may take some time", zap.String("source", src), zap.String("target", dst))
			cmd = fmt.Sprintf("rbd cp %s %s%s", remote.Quote(src), remote.Quote(dst), b.rbdFlags(remote.Quote))
		}
		if _, err := p.ch.Execute(ctx, cmd); err != nil {
			return "", fmt.Errorf("failed to create rbd image %s: %w", dst, err)
		}
		return b.rbdLocator(target), nil

	default:
		return "", fmt.Errorf("unsupported storage backend %T", b)
	}
}

// Lookup reports the artifact the strategy boots from, or "" when it does
// not exist: the source image for Snapshot and Direct, the per-machine
// artifact otherwise.
func (p *Provisioner) Lookup(ctx context.Context, spec ImageSpec, machine string) (string, error) {
	var cmd string
	switch b := spec.Backend.(type) {
	case LocalFile:
		file := p.target(machine)
		if spec.Backing.Shared() {
			file = b.Path
		}
		q := remote.Quote(file)
		cmd = fmt.Sprintf(`[ -f %s ] && echo %s || echo ""`, q, q)
	case BlockPool:
		image := p.target(machine)
		if spec.Backing.Shared() {
			image = b.Image
		}
		cmd = fmt.Sprintf(`(rbd --pool %s%s ls | grep -Fx -- %s) || echo ""`,
			remote.Quote(b.Pool), b.rbdFlags(remote.Quote), remote.Quote(image))
	default:
		return "", fmt.Errorf("unsupported storage backend %T", b)
	}

	out, err := p.ch.Execute(ctx, cmd)
	if err != nil {
		return "", fmt.Errorf("failed to look up disk of %s: %w", machine, err)
	}
	return strings.TrimSpace(out), nil
}

// RemoveBootDisk deletes the per-machine artifact of machine.
//
// Shared strategies are refused with ErrSharedImage. Block-pool removal is
// retried while the pool reports errors; an exhausted budget yields a
// *StorageCleanupError.
func (p *Provisioner) RemoveBootDisk(ctx context.Context, spec ImageSpec, machine string) error {
	if spec.Backing.Shared() {
		p.log.Warn("refusing to remove a shared image", zap.String("machine", machine),
			zap.Stringer("backing", spec.Backing))
		return ErrSharedImage
	}
	target := p.target(machine)

	switch b := spec.Backend.(type) {
	case LocalFile:
		if _, err := p.ch.Execute(ctx, "rm -f "+remote.Quote(target)); err != nil {
			return fmt.Errorf("failed to remove disk %s: %w", target, err)
		}
		p.log.Info("removed disk", zap.String("path", target))
		return nil

	case BlockPool:
		existing, err := p.Lookup(ctx, spec, machine)
		if err != nil {
			return err
		}
		dst := path.Join(b.Pool, target)
		if existing == "" {
			p.log.Info("rbd image already removed", zap.String("image", dst))
			return nil
		}

		cmd := fmt.Sprintf("rbd rm %s%s", remote.Quote(dst), b.rbdFlags(remote.Quote))
		err = retry.Do(ctx, p.cleanup, func(ctx context.Context, attempt int) (retry.Status, error) {
			_, err := p.ch.Execute(ctx, cmd)
			switch {
			case err == nil:
				return retry.Done, nil
			case remote.IsCommandError(err):
				p.log.Debug("rbd rm failed, retrying", zap.String("image", dst), zap.Int("attempt", attempt), zap.Error(err))
				return retry.Again, err
			default:
				return retry.Done, err
			}
		})
		if err != nil {
			if errors.Is(err, retry.ErrGaveUp) {
				p.log.Error("giving up removing rbd image", zap.String("image", dst), zap.Error(err))
				return &StorageCleanupError{Image: dst, Attempts: p.cleanup.Attempts, Err: err}
			}
			return fmt.Errorf("failed to remove rbd image %s: %w", dst, err)
		}
		p.log.Info("removed rbd image", zap.String("image", dst))
		return nil

	default:
		return fmt.Errorf("unsupported storage backend %T", b)
	}
}

// fromHome quotes a path for qemu-img -b. qemu-img resolves relative backing
// files against the overlay's directory, so relative paths are anchored at
// $HOME.
func fromHome(p string) string {
	if strings.HasPrefix(p, "/") {
		return remote.Quote(p)
	}
	return `"$HOME"/` + remote.Quote(p)
}
