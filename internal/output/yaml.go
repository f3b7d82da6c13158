package output

import (
	"bytes"
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/jbweber/gridvm/internal/status"
)

// YAMLFormatter formats reports as a YAML stream.
type YAMLFormatter struct{}

// Format renders one YAML document per machine, separated by ---.
func (f *YAMLFormatter) Format(reports []status.Report) (string, error) {
	var buf bytes.Buffer

	for i, r := range reports {
		data, err := yaml.Marshal(r)
		if err != nil {
			return "", fmt.Errorf("failed to marshal report %s to YAML: %w", r.Name, err)
		}
		if i > 0 {
			buf.WriteString("---\n")
		}
		buf.Write(data)
	}

	return buf.String(), nil
}
