// Package output renders command results in various formats (JSON, YAML,
// table). Results go to stdout; logs never do.
package output

import (
	"fmt"
)

// Format represents an output format type.
type Format string

const (
	// FormatJSON is a JSON format for machine consumption. It is the default.
	FormatJSON Format = "json"
	// FormatYAML is a YAML format.
	FormatYAML Format = "yaml"
	// FormatTable is a human-readable table format.
	FormatTable Format = "table"
)

// Formatter formats command results for output.
type Formatter interface {
	// FormatCreated formats the result of a deploy.
	FormatCreated(c *Created) (string, error)

	// FormatDestroyed formats the result of a destroy.
	FormatDestroyed(d *Destroyed) (string, error)

	// FormatConnection formats a connectivity check.
	FormatConnection(c *Connection) (string, error)
}

// Options contains options for formatting output.
type Options struct {
	// Format specifies the output format.
	Format Format
	// NoHeaders omits headers in table format.
	NoHeaders bool
}

// NewFormatter creates a new Formatter based on the specified format.
func NewFormatter(opts Options) (Formatter, error) {
	switch opts.Format {
	case FormatJSON, "":
		return &JSONFormatter{}, nil
	case FormatYAML:
		return &YAMLFormatter{}, nil
	case FormatTable:
		return &TableFormatter{NoHeaders: opts.NoHeaders}, nil
	default:
		return nil, fmt.Errorf("unsupported output format: %s (supported: json, yaml, table)", opts.Format)
	}
}

// ValidateFormat checks if a format string is valid.
func ValidateFormat(format string) error {
	switch Format(format) {
	case FormatJSON, FormatYAML, FormatTable:
		return nil
	default:
		return fmt.Errorf("invalid format: %s (valid formats: json, yaml, table)", format)
	}
}
