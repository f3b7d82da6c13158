package cloudinit

import (
	"bytes"
	"io"
	"os"
	"strings"
	"testing"

	"github.com/kdomanski/iso9660"

	"github.com/jbweber/gridvm/internal/config"
)

func openISO(t *testing.T, data []byte) map[string]string {
	t.Helper()

	img, err := iso9660.OpenImage(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("failed to open ISO: %v", err)
	}
	label, err := img.Label()
	if err != nil {
		t.Fatalf("failed to get volume label: %v", err)
	}
	if label != VolumeID {
		t.Errorf("volume ID = %q, want %q", label, VolumeID)
	}

	root, err := img.RootDir()
	if err != nil {
		t.Fatalf("failed to get root dir: %v", err)
	}
	children, err := root.GetChildren()
	if err != nil {
		t.Fatalf("failed to get children: %v", err)
	}

	files := make(map[string]string)
	for _, child := range children {
		content, err := io.ReadAll(child.Reader())
		if err != nil {
			t.Fatalf("failed to read %s: %v", child.Name(), err)
		}
		files[child.Name()] = string(content)
	}
	return files
}

func TestGenerateISO(t *testing.T) {
	seed := Seed{
		Name:       "vm0",
		InstanceID: "iid-vm0",
		Config: &config.CloudInitConfig{
			SSHKeys: []string{"ssh-ed25519 AAAAC3Nza jdoe@laptop"},
		},
	}

	data, err := GenerateISO(seed)
	if err != nil {
		t.Fatalf("GenerateISO() error: %v", err)
	}
	files := openISO(t, data)

	if len(files) != 3 {
		t.Errorf("ISO contains %d files, want 3", len(files))
	}

	wantUser, _ := GenerateUserData(seed)
	wantMeta, _ := GenerateMetaData(seed)
	wantNet, _ := GenerateNetworkConfig()
	want := map[string]string{
		"user-data":      wantUser,
		"meta-data":      wantMeta,
		"network-config": wantNet,
	}
	for name, content := range want {
		got, ok := files[name]
		if !ok {
			t.Errorf("required file %q not found in ISO", name)
			continue
		}
		if got != content {
			t.Errorf("%s content mismatch:\ngot:\n%s\n\nwant:\n%s", name, got, content)
		}
	}
}

func TestGenerateISO_RandomInstanceID(t *testing.T) {
	data, err := GenerateISO(Seed{Name: "vm0"})
	if err != nil {
		t.Fatalf("GenerateISO() error: %v", err)
	}
	files := openISO(t, data)
	if !strings.Contains(files["meta-data"], "instance-id: iid-") {
		t.Errorf("meta-data lacks a generated instance id:\n%s", files["meta-data"])
	}
}

func TestGenerateISO_InvalidSeed(t *testing.T) {
	if _, err := GenerateISO(Seed{}); err == nil {
		t.Error("expected error for a seed without name")
	}
}

func TestWriteISO(t *testing.T) {
	path, err := WriteISO(Seed{Name: "vm0"})
	if err != nil {
		t.Fatalf("WriteISO() error: %v", err)
	}
	defer os.Remove(path) //nolint:errcheck

	if !strings.HasSuffix(path, ".iso") {
		t.Errorf("seed file %s lacks .iso suffix", path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read seed file: %v", err)
	}
	openISO(t, data)
}
