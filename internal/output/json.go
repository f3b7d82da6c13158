package output

import (
	"encoding/json"
	"fmt"

	"github.com/jbweber/gridvm/internal/status"
)

// JSONFormatter formats reports as a JSON array.
type JSONFormatter struct{}

// Format renders reports as an indented JSON array.
func (f *JSONFormatter) Format(reports []status.Report) (string, error) {
	if len(reports) == 0 {
		return "[]\n", nil
	}

	data, err := json.MarshalIndent(reports, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal reports to JSON: %w", err)
	}
	return string(data) + "\n", nil
}
