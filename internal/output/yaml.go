package output

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// YAMLFormatter formats results as YAML.
type YAMLFormatter struct{}

// FormatCreated formats a deploy result as YAML.
func (f *YAMLFormatter) FormatCreated(c *Created) (string, error) {
	return marshalYAML(c, "deploy result")
}

// FormatDestroyed formats a destroy result as YAML.
func (f *YAMLFormatter) FormatDestroyed(d *Destroyed) (string, error) {
	return marshalYAML(d, "destroy result")
}

// FormatConnection formats a connectivity check as YAML.
func (f *YAMLFormatter) FormatConnection(c *Connection) (string, error) {
	return marshalYAML(c, "connection info")
}

func marshalYAML(v any, what string) (string, error) {
	data, err := yaml.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("failed to marshal %s to YAML: %w", what, err)
	}

	return string(data), nil
}
