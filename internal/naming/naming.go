// Package naming provides the naming conventions for everything gridvm
// creates on the frontend: the project working directory, per-machine disk
// artifacts, subnet bookkeeping files, locks and scheduler job names.
//
// Paths are relative to the remote login directory and always use forward
// slashes, whatever the local OS.
package naming

import (
	"fmt"
	"path"
)

// rootDir is the remote directory holding every project.
const rootDir = ".gridvm"

// WorkDir returns the project working directory.
// Format: .gridvm/{project}
func WorkDir(project string) string {
	return path.Join(rootDir, project)
}

// DiskPath returns the per-machine disk artifact. The same shape is used as
// an RBD image name inside a pool.
// Format: .gridvm/{project}/{machine}
func DiskPath(project, machine string) string {
	return path.Join(WorkDir(project), machine)
}

// SeedISOPath returns the cloud-init seed image of a machine.
// Format: .gridvm/{project}/{machine}-seed.iso
func SeedISOPath(project, machine string) string {
	return path.Join(WorkDir(project), machine+"-seed.iso")
}

// LauncherPath returns the uploaded launcher script.
// Format: .gridvm/{project}/{script}
func LauncherPath(project, script string) string {
	return path.Join(WorkDir(project), script)
}

// SubnetJobName returns the scheduler job name reserved for the project subnet.
// Format: gridvm-subnet-{project}
func SubnetJobName(project string) string {
	return fmt.Sprintf("gridvm-subnet-%s", project)
}

// SubnetTablePath returns the file listing the subnet's "<ip> <mac>" pairs.
func SubnetTablePath(project string) string {
	return path.Join(WorkDir(project), "subnet")
}

// SubnetCountPath returns the file holding the subnet reference count.
func SubnetCountPath(project string) string {
	return path.Join(WorkDir(project), "subnet-count")
}

// SubnetLockName returns the lock protecting the project subnet.
// Format: subnet-{project}
func SubnetLockName(project string) string {
	return fmt.Sprintf("subnet-%s", project)
}

// LockDir returns the directory holding remote lock directories.
func LockDir(project string) string {
	return path.Join(WorkDir(project), "locks")
}
