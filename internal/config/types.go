package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"golang.org/x/crypto/ssh"
	"gopkg.in/yaml.v3"

	"github.com/jbweber/gridvm/internal/retry"
)

// Config is the content of a gridvm configuration file.
type Config struct {
	Provider ProviderConfig  `yaml:"provider"`
	Machines []MachineConfig `yaml:"machines"`
}

// ProviderConfig holds the settings shared by every machine of a project.
type ProviderConfig struct {
	Username              string `yaml:"username"`
	Site                  string `yaml:"site"`              // frontend host, e.g. "rennes"
	Gateway               string `yaml:"gateway,omitempty"` // optional jump host
	PrivateKey            string `yaml:"private_key,omitempty"`
	KnownHosts            string `yaml:"known_hosts,omitempty"`
	InsecureIgnoreHostKey bool   `yaml:"insecure_ignore_host_key,omitempty"`

	ProjectID  string `yaml:"project_id"`
	Walltime   string `yaml:"walltime,omitempty"`   // OAR walltime, default "01:00:00"
	Properties string `yaml:"properties,omitempty"` // OAR -p selector, e.g. "cluster='paravance'"
	VCPUs      int    `yaml:"vcpus,omitempty"`
	MemoryMiB  int    `yaml:"memory_mib,omitempty"`

	Image     ImageConfig      `yaml:"image"`
	Net       NetworkConfig    `yaml:"net"`
	Lock      LockConfig       `yaml:"lock,omitempty"`
	Retry     RetryConfig      `yaml:"retry,omitempty"`
	CloudInit *CloudInitConfig `yaml:"cloud_init,omitempty"`
}

// ImageConfig describes the source image and how the boot disk derives from it.
// Path selects a file on the frontend; Pool selects a Ceph RBD image.
type ImageConfig struct {
	Backing  string `yaml:"backing"` // snapshot, direct, cow or copy
	Path     string `yaml:"path,omitempty"`
	Pool     string `yaml:"pool,omitempty"`
	RBD      string `yaml:"rbd,omitempty"`
	Snapshot string `yaml:"snapshot,omitempty"` // required by cow on a pool
	ID       string `yaml:"id,omitempty"`       // ceph client id
	Conf     string `yaml:"conf,omitempty"`     // ceph config file on the frontend
	Cache    string `yaml:"cache,omitempty"`    // qemu drive cache mode
}

// Network types.
const (
	NetworkNAT    = "nat"
	NetworkBridge = "bridge"
)

// NetworkConfig selects between user-mode networking with forwarded ports
// and a bridged interface on a reserved subnet.
type NetworkConfig struct {
	Type   string   `yaml:"type"`
	Ports  []string `yaml:"ports,omitempty"`  // hostfwd specs, e.g. "2222-:22"
	Bridge string   `yaml:"bridge,omitempty"` // default "br0"
	Prefix int      `yaml:"prefix,omitempty"` // subnet size, default 22

	// Walltime of the subnet job, default the provider walltime. Machines
	// created later reuse the subnet, so it should outlast them.
	Walltime string `yaml:"walltime,omitempty"`
}

// IsBridged reports whether the machine needs a subnet.
func (n NetworkConfig) IsBridged() bool {
	return n.Type == NetworkBridge
}

// Lock backends.
const (
	LockRemote = "remote"
	LockEtcd   = "etcd"
)

// LockConfig selects the mutual-exclusion backend protecting the subnet.
type LockConfig struct {
	Backend     string        `yaml:"backend,omitempty"`
	Endpoints   []string      `yaml:"endpoints,omitempty"`
	DialTimeout time.Duration `yaml:"dial_timeout,omitempty"`
}

// RetryConfig overrides the reference retry budgets.
type RetryConfig struct {
	JobAttempts     int           `yaml:"job_attempts,omitempty"`
	JobInterval     time.Duration `yaml:"job_interval,omitempty"`
	CleanupAttempts int           `yaml:"cleanup_attempts,omitempty"`
	CleanupInterval time.Duration `yaml:"cleanup_interval,omitempty"`
	LockAttempts    int           `yaml:"lock_attempts,omitempty"`
	LockInterval    time.Duration `yaml:"lock_interval,omitempty"`
}

// JobPolicy returns the budget for waiting on a scheduler job.
func (r RetryConfig) JobPolicy() retry.Policy {
	return override(retry.JobWait, r.JobAttempts, r.JobInterval)
}

// CleanupPolicy returns the budget for block-pool image removal.
func (r RetryConfig) CleanupPolicy() retry.Policy {
	return override(retry.DiskCleanup, r.CleanupAttempts, r.CleanupInterval)
}

// LockPolicy returns the budget for acquiring the subnet lock.
func (r RetryConfig) LockPolicy() retry.Policy {
	return override(retry.LockWait, r.LockAttempts, r.LockInterval)
}

func override(p retry.Policy, attempts int, interval time.Duration) retry.Policy {
	if attempts > 0 {
		p.Attempts = attempts
	}
	if interval > 0 {
		p.Interval = interval
	}
	return p
}

// CloudInitConfig contains cloud-init configuration.
// Field names follow cloud-init: https://cloudinit.readthedocs.io/
// Note: Hostname is derived from FQDN (everything before the first dot).
type CloudInitConfig struct {
	FQDN             string   `yaml:"fqdn,omitempty"`
	SSHKeys          []string `yaml:"ssh_keys,omitempty"`
	RootPasswordHash string   `yaml:"root_password_hash,omitempty"`
	SSHPwAuth        *bool    `yaml:"ssh_pwauth,omitempty"` // Pointer to distinguish unset vs false
}

// MachineConfig identifies one VM of the project.
// Ordinal selects the machine's entry in the subnet address table and
// defaults to the machine's position in the list.
type MachineConfig struct {
	Name    string `yaml:"name"`
	Ordinal *int   `yaml:"ordinal,omitempty"`
}

// GetOrdinal returns the ordinal, or -1 when unset.
func (m MachineConfig) GetOrdinal() int {
	if m.Ordinal == nil {
		return -1
	}
	return *m.Ordinal
}

const (
	defaultWalltime = "01:00:00"
	defaultBridge   = "br0"
	defaultPrefix   = 22
)

var (
	namePattern     = regexp.MustCompile(`^[a-z0-9]([a-z0-9_-]*[a-z0-9])?$`)
	walltimePattern = regexp.MustCompile(`^[0-9]+(:[0-5][0-9]){0,2}$`)
	portPattern     = regexp.MustCompile(`^[0-9]+-[^:]*:[0-9]+$`)
)

// Normalize sanitizes user input to consistent formats and fills defaults.
// This is called automatically by LoadFromFile before validation.
func (c *Config) Normalize() {
	p := &c.Provider
	p.Username = strings.TrimSpace(p.Username)
	p.Site = strings.TrimSpace(p.Site)
	p.ProjectID = strings.ToLower(strings.TrimSpace(p.ProjectID))
	p.PrivateKey = expandLocal(p.PrivateKey)
	p.KnownHosts = expandLocal(p.KnownHosts)

	if p.Walltime == "" {
		p.Walltime = defaultWalltime
	}

	p.Image.Backing = strings.ToLower(strings.TrimSpace(p.Image.Backing))
	// Remote commands run from the login directory, so "~/" becomes relative.
	p.Image.Path = homeRelative(p.Image.Path)
	p.Image.Conf = homeRelative(p.Image.Conf)

	p.Net.Type = strings.ToLower(strings.TrimSpace(p.Net.Type))
	if p.Net.Type == "" {
		p.Net.Type = NetworkNAT
	}
	if p.Net.IsBridged() {
		if p.Net.Bridge == "" {
			p.Net.Bridge = defaultBridge
		}
		if p.Net.Prefix == 0 {
			p.Net.Prefix = defaultPrefix
		}
		if p.Net.Walltime == "" {
			p.Net.Walltime = p.Walltime
		}
	}

	if p.Lock.Backend == "" {
		p.Lock.Backend = LockRemote
	}
	if p.Lock.DialTimeout == 0 {
		p.Lock.DialTimeout = 5 * time.Second
	}

	if p.CloudInit != nil {
		p.CloudInit.FQDN = strings.ToLower(strings.TrimSpace(p.CloudInit.FQDN))
	}

	for i := range c.Machines {
		c.Machines[i].Name = strings.ToLower(strings.TrimSpace(c.Machines[i].Name))
		if c.Machines[i].Ordinal == nil {
			ordinal := i
			c.Machines[i].Ordinal = &ordinal
		}
	}
}

// Validate checks the configuration for errors.
// Does not validate remote resources (images, pools, bridges) - only config structure.
func (c *Config) Validate() error {
	if err := c.Provider.Validate(); err != nil {
		return fmt.Errorf("provider: %w", err)
	}

	if len(c.Machines) == 0 {
		return fmt.Errorf("at least one machines entry is required")
	}
	seen := make(map[string]bool)
	for i, m := range c.Machines {
		if !namePattern.MatchString(m.Name) {
			return fmt.Errorf("machines[%d]: name must start and end with alphanumeric characters and contain only alphanumeric, hyphens, or underscores, got %q", i, m.Name)
		}
		if seen[m.Name] {
			return fmt.Errorf("machines[%d]: duplicate name %q", i, m.Name)
		}
		seen[m.Name] = true
		if m.Ordinal != nil && *m.Ordinal < 0 {
			return fmt.Errorf("machines[%d]: ordinal must be >= 0, got %d", i, *m.Ordinal)
		}
	}
	return nil
}

// Validate checks provider configuration.
func (p *ProviderConfig) Validate() error {
	if p.Username == "" {
		return fmt.Errorf("username is required")
	}
	if p.Site == "" {
		return fmt.Errorf("site is required")
	}
	if p.ProjectID == "" {
		return fmt.Errorf("project_id is required")
	}
	if !namePattern.MatchString(p.ProjectID) {
		return fmt.Errorf("project_id must contain only alphanumeric, hyphens, or underscores, got %q", p.ProjectID)
	}
	if !walltimePattern.MatchString(p.Walltime) {
		return fmt.Errorf("walltime must look like hh:mm:ss, got %q", p.Walltime)
	}
	if p.VCPUs < 0 {
		return fmt.Errorf("vcpus must be >= 0, got %d", p.VCPUs)
	}
	if p.MemoryMiB < 0 {
		return fmt.Errorf("memory_mib must be >= 0, got %d", p.MemoryMiB)
	}

	if err := p.Image.Validate(); err != nil {
		return fmt.Errorf("image: %w", err)
	}
	if err := p.Net.Validate(); err != nil {
		return fmt.Errorf("net: %w", err)
	}
	if err := p.Lock.Validate(); err != nil {
		return fmt.Errorf("lock: %w", err)
	}
	if p.CloudInit != nil {
		if err := p.CloudInit.Validate(); err != nil {
			return fmt.Errorf("cloud_init: %w", err)
		}
	}
	return nil
}

// Validate checks image configuration.
func (i *ImageConfig) Validate() error {
	switch i.Backing {
	case "snapshot", "direct", "cow", "copy":
	case "":
		return fmt.Errorf("backing is required")
	default:
		return fmt.Errorf("backing must be one of snapshot, direct, cow, copy, got %q", i.Backing)
	}

	if i.Pool == "" {
		if i.Path == "" {
			return fmt.Errorf("must specify either 'path' or 'pool'")
		}
		if i.RBD != "" {
			return fmt.Errorf("'rbd' requires 'pool'")
		}
		return nil
	}

	if i.Path != "" {
		return fmt.Errorf("cannot specify both 'path' and 'pool'")
	}
	if i.RBD == "" {
		return fmt.Errorf("'pool' requires 'rbd'")
	}
	if i.Backing == "cow" && i.Snapshot == "" {
		return fmt.Errorf("backing 'cow' on a pool requires 'snapshot'")
	}
	return nil
}

// Validate checks network configuration.
func (n *NetworkConfig) Validate() error {
	switch n.Type {
	case NetworkNAT:
		for i, p := range n.Ports {
			if !portPattern.MatchString(p) {
				return fmt.Errorf("ports[%d] must look like <host>-:<guest>, got %q", i, p)
			}
		}
	case NetworkBridge:
		if n.Prefix < 1 || n.Prefix > 32 {
			return fmt.Errorf("prefix must be between 1 and 32, got %d", n.Prefix)
		}
		if n.Bridge == "" {
			return fmt.Errorf("bridge is required")
		}
		if n.Walltime != "" && !walltimePattern.MatchString(n.Walltime) {
			return fmt.Errorf("walltime must look like hh:mm:ss, got %q", n.Walltime)
		}
	default:
		return fmt.Errorf("type must be %q or %q, got %q", NetworkNAT, NetworkBridge, n.Type)
	}
	return nil
}

// Validate checks lock configuration.
func (l *LockConfig) Validate() error {
	switch l.Backend {
	case LockRemote:
	case LockEtcd:
		if len(l.Endpoints) == 0 {
			return fmt.Errorf("backend 'etcd' requires at least one endpoint")
		}
	default:
		return fmt.Errorf("backend must be %q or %q, got %q", LockRemote, LockEtcd, l.Backend)
	}
	return nil
}

// Validate checks cloud-init configuration.
func (c *CloudInitConfig) Validate() error {
	if c.FQDN != "" {
		// RFC 952/1123: alphanumeric and hyphens, labels separated by dots
		fqdnPattern := `^[a-z0-9]([a-z0-9-]{0,61}[a-z0-9])?(\.[a-z0-9]([a-z0-9-]{0,61}[a-z0-9])?)+$`
		matched, err := regexp.MatchString(fqdnPattern, c.FQDN)
		if err != nil {
			return fmt.Errorf("fqdn validation error: %w", err)
		}
		if !matched {
			return fmt.Errorf("fqdn must be a valid hostname with domain (e.g., host.example.com), got %q", c.FQDN)
		}
	}

	for i, key := range c.SSHKeys {
		if _, _, _, _, err := ssh.ParseAuthorizedKey([]byte(key)); err != nil {
			return fmt.Errorf("ssh_keys[%d] is not a valid SSH public key: %w", i, err)
		}
	}

	if c.RootPasswordHash != "" {
		if len(c.RootPasswordHash) < 10 || c.RootPasswordHash[0] != '$' {
			return fmt.Errorf("root_password_hash must be a valid crypt hash (should start with $)")
		}
	}

	return nil
}

// Machine returns the machine named name.
func (c *Config) Machine(name string) (MachineConfig, error) {
	for _, m := range c.Machines {
		if m.Name == name {
			return m, nil
		}
	}
	return MachineConfig{}, fmt.Errorf("machine %q is not defined", name)
}

// Overrides replace file settings, typically from flags or the environment.
// Empty fields keep the file value.
type Overrides struct {
	Username   string
	Site       string
	Gateway    string
	PrivateKey string
}

func (o Overrides) apply(c *Config) {
	p := &c.Provider
	if o.Username != "" {
		p.Username = o.Username
	}
	if o.Site != "" {
		p.Site = o.Site
	}
	if o.Gateway != "" {
		p.Gateway = o.Gateway
	}
	if o.PrivateKey != "" {
		p.PrivateKey = o.PrivateKey
	}
}

// LoadFromFile loads a configuration from a YAML file.
func LoadFromFile(path string) (*Config, error) {
	return Load(path, Overrides{})
}

// Load loads a configuration from a YAML file and applies o before
// normalizing and validating it.
func Load(path string, o Overrides) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return parse(data, o)
}

// Parse decodes, normalizes and validates a YAML configuration.
func Parse(data []byte) (*Config, error) {
	return parse(data, Overrides{})
}

func parse(data []byte, o Overrides) (*Config, error) {
	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	o.apply(&config)
	config.Normalize()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &config, nil
}

// expandLocal resolves a leading "~/" against the local home directory.
func expandLocal(p string) string {
	p = strings.TrimSpace(p)
	if !strings.HasPrefix(p, "~/") {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return p
	}
	return filepath.Join(home, p[2:])
}

// homeRelative strips a leading "~/" so the path resolves against the
// remote login directory without relying on shell tilde expansion.
func homeRelative(p string) string {
	p = strings.TrimSpace(p)
	return strings.TrimPrefix(p, "~/")
}
