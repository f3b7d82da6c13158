package vm

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/jbweber/gridvm/internal/config"
	"github.com/jbweber/gridvm/internal/disk"
	"github.com/jbweber/gridvm/internal/remote/remotetest"
)

func TestDestroy_Bridged(t *testing.T) {
	h := newHarness(t)
	m := &Machine{Name: "vm1", ID: "42", Address: "10.158.0.2", SubnetJoined: true}

	if err := h.orch.Destroy(context.Background(), h.env(testBridgedConfig(), m)); err != nil {
		t.Fatalf("Destroy failed: %v", err)
	}

	wantOrder := []string{"delete", "release", "remove-disk"}
	if got := h.events.all(); strings.Join(got, ",") != strings.Join(wantOrder, ",") {
		t.Errorf("call order = %v, want %v", got, wantOrder)
	}
	if h.jobs.deleteCalls[0] != "42" {
		t.Errorf("deleted job %v, want 42", h.jobs.deleteCalls)
	}
	if n := len(h.fake.CallsMatching("rm -f '.gridvm/demo/vm1-seed.iso'")); n != 1 {
		t.Error("seed not removed")
	}
	if m.ID != "" || m.Address != "" || m.SubnetJoined {
		t.Errorf("machine not reset: %+v", m)
	}
}

func TestDestroy_NotJoined(t *testing.T) {
	h := newHarness(t)
	m := &Machine{Name: "vm1", ID: "42"}

	if err := h.orch.Destroy(context.Background(), h.env(testBridgedConfig(), m)); err != nil {
		t.Fatalf("Destroy failed: %v", err)
	}
	if h.subnets.releaseCalls != 0 {
		t.Error("a machine that never joined must not release the subnet")
	}
}

func TestDestroy_DeleteFailureStillReleases(t *testing.T) {
	h := newHarness(t)
	boom := errors.New("oardel failed")
	h.jobs.deleteFunc = func(string) error { return boom }
	m := &Machine{Name: "vm1", ID: "42", SubnetJoined: true}

	err := h.orch.Destroy(context.Background(), h.env(testBridgedConfig(), m))
	if !errors.Is(err, boom) {
		t.Fatalf("expected delete error, got %v", err)
	}
	if h.subnets.releaseCalls != 1 {
		t.Error("subnet must be released even when the delete fails")
	}
	if len(h.disks.removeCalls) != 1 {
		t.Error("disk removal must still be attempted")
	}
	if m.ID != "42" {
		t.Error("job id must be kept when the delete fails")
	}
	if m.SubnetJoined {
		t.Error("SubnetJoined must be cleared after a successful release")
	}
}

func TestDestroy_JoinsEveryFailure(t *testing.T) {
	h := newHarness(t)
	deleteErr := errors.New("oardel failed")
	releaseErr := errors.New("lock timeout")
	diskErr := &disk.StorageCleanupError{Image: "demo/vm1", Attempts: 10, Err: errors.New("image busy")}
	h.jobs.deleteFunc = func(string) error { return deleteErr }
	h.subnets.releaseFunc = func(config.NetworkConfig) error { return releaseErr }
	h.disks.removeFunc = func(disk.ImageSpec, string) error { return diskErr }
	h.fake.On("rm -f", remotetest.Fail(1, "Permission denied"))
	m := &Machine{Name: "vm1", ID: "42", SubnetJoined: true}

	err := h.orch.Destroy(context.Background(), h.env(testBridgedConfig(), m))
	if !errors.Is(err, deleteErr) || !errors.Is(err, releaseErr) {
		t.Errorf("expected delete and release errors, got %v", err)
	}
	var cleanupErr *disk.StorageCleanupError
	if !errors.As(err, &cleanupErr) {
		t.Errorf("expected *disk.StorageCleanupError, got %v", err)
	}
	if !strings.Contains(err.Error(), "cloud-init seed") {
		t.Errorf("expected seed removal error, got %v", err)
	}
	if !m.SubnetJoined {
		t.Error("SubnetJoined must stay set when the release fails")
	}
}

func TestDestroy_SharedImage(t *testing.T) {
	h := newHarness(t)
	cfg := testProviderConfig()
	cfg.Image.Backing = "snapshot"
	h.disks.removeFunc = func(disk.ImageSpec, string) error { return disk.ErrSharedImage }

	if err := h.orch.Destroy(context.Background(), h.env(cfg, &Machine{Name: "vm0", ID: "42"})); err != nil {
		t.Fatalf("a shared image is not a failure, got %v", err)
	}
	found := false
	for _, msg := range h.ui.infos {
		if strings.Contains(msg, "shared image") {
			found = true
		}
	}
	if !found {
		t.Errorf("expected a note about the shared image, got %v", h.ui.infos)
	}
}

func TestDestroy_NoJob(t *testing.T) {
	h := newHarness(t)

	if err := h.orch.Destroy(context.Background(), h.env(testProviderConfig(), &Machine{Name: "vm0"})); err != nil {
		t.Fatalf("Destroy failed: %v", err)
	}
	if len(h.jobs.deleteCalls) != 0 {
		t.Error("no job to delete")
	}
	if len(h.disks.removeCalls) != 1 {
		t.Error("disk removal must still run for a machine without job")
	}
}
