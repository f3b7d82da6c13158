// Package cloudinit builds NoCloud seed images that personalize a machine on
// first boot.
//
// See https://cloudinit.readthedocs.io/en/latest/reference/datasources/nocloud.html
package cloudinit

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/jbweber/gridvm/internal/config"
)

// Seed is the input of one seed image.
type Seed struct {
	// Name is the machine name, used as hostname unless Config sets an FQDN.
	Name string

	// InstanceID changes whenever cloud-init should run again. A random one
	// is generated when empty.
	InstanceID string

	Config *config.CloudInitConfig
}

// UserData represents the cloud-config user-data structure.
// This is marshaled to YAML and prefixed with "#cloud-config" header.
type UserData struct {
	Hostname          string    `yaml:"hostname"`
	FQDN              string    `yaml:"fqdn"`
	SSHAuthorizedKeys []string  `yaml:"ssh_authorized_keys,omitempty"`
	Chpasswd          *Chpasswd `yaml:"chpasswd,omitempty"`
	SSHPasswordAuth   bool      `yaml:"ssh_pwauth"`
	Output            *Output   `yaml:"output,omitempty"`
}

// Chpasswd configures user password settings.
type Chpasswd struct {
	Expire bool   `yaml:"expire"`
	List   string `yaml:"list"` // "username:hash"
}

// Output configures cloud-init output logging.
type Output struct {
	All string `yaml:"all"`
}

// MetaData represents the cloud-init meta-data structure.
type MetaData struct {
	InstanceID    string `yaml:"instance-id"`
	LocalHostname string `yaml:"local-hostname"`
}

// NetworkConfig is a netplan v2 document.
type NetworkConfig struct {
	Version   int                       `yaml:"version"`
	Ethernets map[string]EthernetConfig `yaml:"ethernets"`
}

// EthernetConfig configures the interfaces matched by Match.
type EthernetConfig struct {
	Match MatchConfig `yaml:"match"`
	DHCP4 bool        `yaml:"dhcp4"`
}

// MatchConfig selects interfaces by name glob.
type MatchConfig struct {
	Name string `yaml:"name"`
}

func (s Seed) names() (hostname, fqdn string) {
	hostname, fqdn = s.Name, s.Name
	if s.Config != nil && s.Config.FQDN != "" {
		fqdn = s.Config.FQDN
		hostname = strings.SplitN(fqdn, ".", 2)[0]
	}
	return hostname, fqdn
}

// GenerateUserData returns the user-data file including the "#cloud-config"
// header.
func GenerateUserData(s Seed) (string, error) {
	if s.Name == "" {
		return "", fmt.Errorf("machine name cannot be empty")
	}

	hostname, fqdn := s.names()
	userData := UserData{
		Hostname: hostname,
		FQDN:     fqdn,
		Output: &Output{
			All: "| tee -a /var/log/cloud-init-output.log",
		},
	}

	if c := s.Config; c != nil {
		userData.SSHAuthorizedKeys = c.SSHKeys
		if c.RootPasswordHash != "" {
			userData.Chpasswd = &Chpasswd{List: "root:" + c.RootPasswordHash}
		}
		if c.SSHPwAuth != nil {
			userData.SSHPasswordAuth = *c.SSHPwAuth
		}
	}

	yamlBytes, err := yaml.Marshal(&userData)
	if err != nil {
		return "", fmt.Errorf("failed to marshal user-data to YAML: %w", err)
	}
	return "#cloud-config\n" + string(yamlBytes), nil
}

// GenerateMetaData returns the meta-data file.
func GenerateMetaData(s Seed) (string, error) {
	if s.Name == "" {
		return "", fmt.Errorf("machine name cannot be empty")
	}
	id := s.InstanceID
	if id == "" {
		id = newInstanceID()
	}
	hostname, _ := s.names()

	yamlBytes, err := yaml.Marshal(&MetaData{InstanceID: id, LocalHostname: hostname})
	if err != nil {
		return "", fmt.Errorf("failed to marshal meta-data to YAML: %w", err)
	}
	return string(yamlBytes), nil
}

// GenerateNetworkConfig returns a network-config enabling DHCP on every
// ethernet interface. Both the user-mode network and the reserved subnets
// hand out addresses over DHCP.
func GenerateNetworkConfig() (string, error) {
	nc := NetworkConfig{
		Version: 2,
		Ethernets: map[string]EthernetConfig{
			"all": {Match: MatchConfig{Name: "e*"}, DHCP4: true},
		},
	}
	yamlBytes, err := yaml.Marshal(&nc)
	if err != nil {
		return "", fmt.Errorf("failed to marshal network-config to YAML: %w", err)
	}
	return string(yamlBytes), nil
}

func newInstanceID() string {
	return "iid-" + uuid.NewString()
}
