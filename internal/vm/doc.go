// Package vm launches and tears down virtual machines that run as OAR jobs.
//
// The Orchestrator composes the lower layers over one remote channel:
//   - Create: resolve the boot disk, optionally upload a cloud-init seed,
//     acquire a network identity, upload the launcher, submit the VM job
//     and wait for it to run
//   - Destroy: delete the job, release the subnet, remove the boot disk
//     and the seed
//   - State: poll the job and map it onto a machine state
//
// Error Handling:
//
// Create records the job id in the Machine as soon as the scheduler returns
// it, so a failed wait still leaves something for Destroy to clean up. There
// is no automatic rollback. Destroy attempts every step and joins the
// failures.
package vm
