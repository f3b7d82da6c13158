package naming

import "testing"

func TestPaths(t *testing.T) {
	tests := []struct {
		name string
		got  string
		want string
	}{
		{"work dir", WorkDir("demo"), ".gridvm/demo"},
		{"disk", DiskPath("demo", "vm0"), ".gridvm/demo/vm0"},
		{"seed iso", SeedISOPath("demo", "vm0"), ".gridvm/demo/vm0-seed.iso"},
		{"launcher", LauncherPath("demo", "launch_vm_fwd.sh"), ".gridvm/demo/launch_vm_fwd.sh"},
		{"subnet table", SubnetTablePath("demo"), ".gridvm/demo/subnet"},
		{"subnet count", SubnetCountPath("demo"), ".gridvm/demo/subnet-count"},
		{"lock dir", LockDir("demo"), ".gridvm/demo/locks"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("got %q, want %q", tt.got, tt.want)
			}
		})
	}
}

func TestSubnetNames(t *testing.T) {
	if got := SubnetJobName("demo"); got != "gridvm-subnet-demo" {
		t.Errorf("SubnetJobName() = %q", got)
	}
	if got := SubnetLockName("demo"); got != "subnet-demo" {
		t.Errorf("SubnetLockName() = %q", got)
	}
}

func TestDiskPath_SameProjectDifferentMachines(t *testing.T) {
	if DiskPath("demo", "vm0") == DiskPath("demo", "vm1") {
		t.Error("expected distinct disk paths per machine")
	}
}
