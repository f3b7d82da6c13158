package cloudinit

import (
	"bytes"
	"fmt"
	"os"
	"strings"

	"github.com/kdomanski/iso9660"
)

// VolumeID is the label the NoCloud datasource looks for.
const VolumeID = "CIDATA"

// GenerateISO returns a seed image holding user-data, meta-data and
// network-config in its root directory.
func GenerateISO(s Seed) ([]byte, error) {
	if s.InstanceID == "" {
		s.InstanceID = newInstanceID()
	}

	userData, err := GenerateUserData(s)
	if err != nil {
		return nil, fmt.Errorf("failed to generate user-data: %w", err)
	}
	metaData, err := GenerateMetaData(s)
	if err != nil {
		return nil, fmt.Errorf("failed to generate meta-data: %w", err)
	}
	networkConfig, err := GenerateNetworkConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to generate network-config: %w", err)
	}

	writer, err := iso9660.NewWriter()
	if err != nil {
		return nil, fmt.Errorf("failed to create ISO writer: %w", err)
	}
	defer func() {
		_ = writer.Cleanup()
	}()

	files := []struct{ name, content string }{
		{"user-data", userData},
		{"meta-data", metaData},
		{"network-config", networkConfig},
	}
	for _, f := range files {
		if err := writer.AddFile(strings.NewReader(f.content), f.name); err != nil {
			return nil, fmt.Errorf("failed to add %s: %w", f.name, err)
		}
	}

	var buf bytes.Buffer
	if err := writer.WriteTo(&buf, VolumeID); err != nil {
		return nil, fmt.Errorf("failed to write ISO image: %w", err)
	}
	return buf.Bytes(), nil
}

// WriteISO generates the seed image of s into a temporary file and returns
// its path. The caller removes the file.
func WriteISO(s Seed) (string, error) {
	data, err := GenerateISO(s)
	if err != nil {
		return "", err
	}

	f, err := os.CreateTemp("", "gridvm-"+s.Name+"-*.iso")
	if err != nil {
		return "", fmt.Errorf("failed to create seed file: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()           //nolint:errcheck,gosec // write error takes precedence
		os.Remove(f.Name()) //nolint:errcheck,gosec
		return "", fmt.Errorf("failed to write seed file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name()) //nolint:errcheck,gosec
		return "", fmt.Errorf("failed to write seed file: %w", err)
	}
	return f.Name(), nil
}
