package output

import (
	"encoding/json"
	"fmt"
)

// JSONFormatter formats results as indented JSON.
type JSONFormatter struct{}

// FormatCreated formats a deploy result as JSON.
func (f *JSONFormatter) FormatCreated(c *Created) (string, error) {
	return marshalJSON(c, "deploy result")
}

// FormatDestroyed formats a destroy result as JSON.
func (f *JSONFormatter) FormatDestroyed(d *Destroyed) (string, error) {
	return marshalJSON(d, "destroy result")
}

// FormatConnection formats a connectivity check as JSON.
func (f *JSONFormatter) FormatConnection(c *Connection) (string, error) {
	return marshalJSON(c, "connection info")
}

func marshalJSON(v any, what string) (string, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal %s to JSON: %w", what, err)
	}

	return string(data) + "\n", nil
}
