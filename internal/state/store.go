// Package state keeps a local record of every machine gridvm launched, so a
// later invocation can find the job to poll or delete.
//
// Records are YAML files laid out as <root>/<project>/<machine>.yaml.
package state

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// APIVersion identifies the record format.
	APIVersion = "gridvm/v1"

	// Kind is the record kind.
	Kind = "Machine"

	ext = ".yaml"
)

// ErrNotFound is returned by Load when no record exists.
var ErrNotFound = errors.New("machine record not found")

// Record is the persisted identity of one machine.
type Record struct {
	APIVersion   string    `yaml:"apiVersion"`
	Kind         string    `yaml:"kind"`
	Project      string    `yaml:"project"`
	Name         string    `yaml:"name"`
	Ordinal      int       `yaml:"ordinal"`
	Site         string    `yaml:"site,omitempty"`
	JobID        string    `yaml:"jobId,omitempty"`
	Address      string    `yaml:"address,omitempty"`
	SubnetJoined bool      `yaml:"subnetJoined,omitempty"`
	CreatedAt    time.Time `yaml:"createdAt"`
}

// Store reads and writes records below a root directory.
type Store struct {
	root string
}

// NewStore returns a Store rooted at root.
func NewStore(root string) *Store {
	return &Store{root: root}
}

// DefaultRoot returns the default record directory, ~/.local/state/gridvm.
func DefaultRoot() (string, error) {
	if dir := os.Getenv("XDG_STATE_HOME"); dir != "" {
		return filepath.Join(dir, "gridvm"), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to determine home directory: %w", err)
	}
	return filepath.Join(home, ".local", "state", "gridvm"), nil
}

func (s *Store) path(project, name string) string {
	return filepath.Join(s.root, project, name+ext)
}

// Save writes rec, replacing any previous record for the same machine.
// The file is written to a temporary name and renamed into place.
func (s *Store) Save(rec *Record) error {
	if rec.Project == "" || rec.Name == "" {
		return fmt.Errorf("record needs a project and a name")
	}
	rec.APIVersion = APIVersion
	rec.Kind = Kind
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}

	data, err := yaml.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal machine record: %w", err)
	}

	dir := filepath.Join(s.root, rec.Project)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+rec.Name+"-*")
	if err != nil {
		return fmt.Errorf("failed to create temporary record: %w", err)
	}
	defer os.Remove(tmp.Name()) //nolint:errcheck // gone after a successful rename

	if _, err := tmp.Write(data); err != nil {
		tmp.Close() //nolint:errcheck,gosec // write error takes precedence
		return fmt.Errorf("failed to write machine record: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write machine record: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path(rec.Project, rec.Name)); err != nil {
		return fmt.Errorf("failed to store machine record: %w", err)
	}
	return nil
}

// Load reads the record of machine name. It returns ErrNotFound when the
// machine has none.
func (s *Store) Load(project, name string) (*Record, error) {
	data, err := os.ReadFile(s.path(project, name))
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%s/%s: %w", project, name, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read machine record: %w", err)
	}

	var rec Record
	if err := yaml.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to unmarshal machine record: %w", err)
	}
	if rec.Kind != Kind {
		return nil, fmt.Errorf("unexpected record kind %q in %s", rec.Kind, s.path(project, name))
	}
	return &rec, nil
}

// Delete removes the record of machine name. Deleting a missing record is
// not an error.
func (s *Store) Delete(project, name string) error {
	err := os.Remove(s.path(project, name))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to delete machine record: %w", err)
	}
	return nil
}

// Exists reports whether machine name has a record.
func (s *Store) Exists(project, name string) bool {
	_, err := os.Stat(s.path(project, name))
	return err == nil
}

// List returns the names of the recorded machines of project, sorted.
func (s *Store) List(project string) ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(s.root, project))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list machine records: %w", err)
	}

	var names []string
	for _, e := range entries {
		n := e.Name()
		if e.IsDir() || strings.HasPrefix(n, ".") || !strings.HasSuffix(n, ext) {
			continue
		}
		names = append(names, strings.TrimSuffix(n, ext))
	}
	sort.Strings(names)
	return names, nil
}
