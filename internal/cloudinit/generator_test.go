package cloudinit

import (
	"strings"
	"testing"

	"gopkg.in/yaml.v3"

	"github.com/jbweber/gridvm/internal/config"
)

func TestGenerateUserData(t *testing.T) {
	tests := []struct {
		name         string
		seed         Seed
		wantErr      bool
		wantHostname string
		wantFQDN     string
		wantKeys     int
		wantChpasswd string
		wantPwAuth   bool
	}{
		{
			name:         "name only",
			seed:         Seed{Name: "vm0"},
			wantHostname: "vm0",
			wantFQDN:     "vm0",
		},
		{
			name: "full config",
			seed: Seed{
				Name: "vm0",
				Config: &config.CloudInitConfig{
					FQDN:             "vm0.demo.grid5000.fr",
					SSHKeys:          []string{"ssh-ed25519 AAAAC3Nza jdoe@laptop", "ssh-rsa AAAAB3Nza jdoe@desk"},
					RootPasswordHash: "$6$rounds=4096$salt$hash",
					SSHPwAuth:        ptrBool(true),
				},
			},
			wantHostname: "vm0",
			wantFQDN:     "vm0.demo.grid5000.fr",
			wantKeys:     2,
			wantChpasswd: "root:$6$rounds=4096$salt$hash",
			wantPwAuth:   true,
		},
		{
			name:    "missing name",
			seed:    Seed{},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := GenerateUserData(tt.seed)
			if (err != nil) != tt.wantErr {
				t.Fatalf("GenerateUserData() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}

			if !strings.HasPrefix(got, "#cloud-config\n") {
				t.Fatalf("user-data must start with #cloud-config header, got:\n%s", got)
			}
			var ud UserData
			if err := yaml.Unmarshal([]byte(got), &ud); err != nil {
				t.Fatalf("user-data is not valid YAML: %v", err)
			}
			if ud.Hostname != tt.wantHostname || ud.FQDN != tt.wantFQDN {
				t.Errorf("hostname/fqdn = %s/%s, want %s/%s", ud.Hostname, ud.FQDN, tt.wantHostname, tt.wantFQDN)
			}
			if len(ud.SSHAuthorizedKeys) != tt.wantKeys {
				t.Errorf("got %d ssh keys, want %d", len(ud.SSHAuthorizedKeys), tt.wantKeys)
			}
			if tt.wantChpasswd == "" && ud.Chpasswd != nil {
				t.Errorf("unexpected chpasswd: %+v", ud.Chpasswd)
			}
			if tt.wantChpasswd != "" && (ud.Chpasswd == nil || ud.Chpasswd.List != tt.wantChpasswd || ud.Chpasswd.Expire) {
				t.Errorf("chpasswd = %+v, want list %q", ud.Chpasswd, tt.wantChpasswd)
			}
			if ud.SSHPasswordAuth != tt.wantPwAuth {
				t.Errorf("ssh_pwauth = %v, want %v", ud.SSHPasswordAuth, tt.wantPwAuth)
			}
			if !strings.Contains(got, "ssh_pwauth:") {
				t.Error("ssh_pwauth must always be rendered")
			}
		})
	}
}

func TestGenerateMetaData(t *testing.T) {
	got, err := GenerateMetaData(Seed{Name: "vm0", InstanceID: "iid-fixed"})
	if err != nil {
		t.Fatalf("GenerateMetaData failed: %v", err)
	}
	var md MetaData
	if err := yaml.Unmarshal([]byte(got), &md); err != nil {
		t.Fatalf("meta-data is not valid YAML: %v", err)
	}
	if md.InstanceID != "iid-fixed" || md.LocalHostname != "vm0" {
		t.Errorf("meta-data = %+v", md)
	}

	// Without an explicit id every seed gets a fresh one.
	a, _ := GenerateMetaData(Seed{Name: "vm0"})
	b, _ := GenerateMetaData(Seed{Name: "vm0"})
	if a == b {
		t.Error("expected distinct generated instance ids")
	}
	if !strings.Contains(a, "instance-id: iid-") {
		t.Errorf("generated instance id has unexpected format:\n%s", a)
	}

	if _, err := GenerateMetaData(Seed{}); err == nil {
		t.Error("expected error for missing name")
	}
}

func TestGenerateNetworkConfig(t *testing.T) {
	got, err := GenerateNetworkConfig()
	if err != nil {
		t.Fatalf("GenerateNetworkConfig failed: %v", err)
	}
	var nc NetworkConfig
	if err := yaml.Unmarshal([]byte(got), &nc); err != nil {
		t.Fatalf("network-config is not valid YAML: %v", err)
	}
	if nc.Version != 2 {
		t.Errorf("version = %d, want 2", nc.Version)
	}
	eth, ok := nc.Ethernets["all"]
	if !ok || !eth.DHCP4 || eth.Match.Name != "e*" {
		t.Errorf("unexpected ethernets: %+v", nc.Ethernets)
	}
}

func ptrBool(b bool) *bool {
	return &b
}
