// Package disk resolves a boot disk for a machine from an image
// specification, materializing a per-machine artifact on the frontend when
// the backing strategy requires one.
package disk

import (
	"fmt"
	"path"
	"strings"

	"github.com/jbweber/gridvm/internal/config"
)

// Backing is the relationship between a boot disk and its source image.
type Backing int

const (
	// Snapshot boots the source image and discards writes on stop.
	Snapshot Backing = iota
	// Direct boots the source image read-write.
	Direct
	// CopyOnWrite boots a per-machine layered clone of the source.
	CopyOnWrite
	// FullCopy boots a per-machine full copy of the source.
	FullCopy
)

// ParseBacking parses a configuration value.
func ParseBacking(s string) (Backing, error) {
	switch s {
	case "snapshot":
		return Snapshot, nil
	case "direct":
		return Direct, nil
	case "cow":
		return CopyOnWrite, nil
	case "copy":
		return FullCopy, nil
	default:
		return 0, fmt.Errorf("unknown backing strategy %q", s)
	}
}

func (b Backing) String() string {
	switch b {
	case Snapshot:
		return "snapshot"
	case Direct:
		return "direct"
	case CopyOnWrite:
		return "cow"
	case FullCopy:
		return "copy"
	default:
		return fmt.Sprintf("Backing(%d)", int(b))
	}
}

// Shared reports whether the strategy boots the source image itself.
func (b Backing) Shared() bool {
	return b == Snapshot || b == Direct
}

// Backend locates the source image. It is implemented by LocalFile and
// BlockPool only.
type Backend interface {
	backend()
}

// LocalFile is an image file on the frontend filesystem.
type LocalFile struct {
	Path string
}

// BlockPool is a Ceph RBD image.
type BlockPool struct {
	Pool     string
	Image    string
	Snapshot string // parent snapshot for layered clones
	ID       string // ceph client id
	Conf     string // ceph configuration file on the frontend
}

func (LocalFile) backend() {}
func (BlockPool) backend() {}

// ImageSpec is the provisioning intent for a boot disk.
type ImageSpec struct {
	Backing Backing
	Backend Backend
	Cache   string // qemu cache mode, optional
}

// SpecFromConfig builds an ImageSpec from validated configuration.
func SpecFromConfig(c config.ImageConfig) (ImageSpec, error) {
	backing, err := ParseBacking(c.Backing)
	if err != nil {
		return ImageSpec{}, err
	}

	spec := ImageSpec{Backing: backing, Cache: c.Cache}
	if c.Pool == "" {
		if c.Path == "" {
			return ImageSpec{}, fmt.Errorf("image path is required")
		}
		spec.Backend = LocalFile{Path: c.Path}
		return spec, nil
	}

	if c.RBD == "" {
		return ImageSpec{}, fmt.Errorf("rbd image name is required for pool %s", c.Pool)
	}
	spec.Backend = BlockPool{
		Pool:     c.Pool,
		Image:    c.RBD,
		Snapshot: c.Snapshot,
		ID:       c.ID,
		Conf:     c.Conf,
	}
	return spec, nil
}

// BootDisk is a resolved boot disk, ready to be handed to qemu.
type BootDisk struct {
	Locator  string // file path or rbd: locator
	Snapshot bool   // discard writes on stop
	Cache    string
}

// Args renders the qemu drive arguments.
//
// Example: -drive file=.gridvm/demo/vm0,if=virtio
func (d BootDisk) Args() string {
	drive := "-drive file=" + d.Locator + ",if=virtio"
	if d.Cache != "" {
		drive += ",cache=" + d.Cache
	}
	if d.Snapshot {
		drive += " -snapshot"
	}
	return drive
}

// rbdLocator renders the qemu locator of image in p.
//
// Format: rbd:{pool}/{image}[:id={id}][:conf={conf}]
func (p BlockPool) rbdLocator(image string) string {
	var b strings.Builder
	b.WriteString("rbd:")
	b.WriteString(path.Join(p.Pool, image))
	if p.ID != "" {
		b.WriteString(":id=")
		b.WriteString(p.ID)
	}
	if p.Conf != "" {
		b.WriteString(":conf=")
		b.WriteString(p.Conf)
	}
	return b.String()
}

// rbdFlags renders the credential flags of every rbd command.
func (p BlockPool) rbdFlags(quote func(string) string) string {
	var flags string
	if p.Conf != "" {
		flags += " --conf " + quote(p.Conf)
	}
	if p.ID != "" {
		flags += " --id " + quote(p.ID)
	}
	return flags
}

// sourceFormat guesses the qemu format of a local image from its extension.
func sourceFormat(p string) string {
	switch path.Ext(p) {
	case ".raw", ".img":
		return "raw"
	default:
		return "qcow2"
	}
}
