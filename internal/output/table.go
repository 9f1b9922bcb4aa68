package output

import (
	"bytes"
	"fmt"
	"strings"
	"text/tabwriter"
)

// TableFormatter formats results as human-readable tables.
type TableFormatter struct {
	// NoHeaders omits the header row.
	NoHeaders bool
}

// FormatCreated formats a deploy result as a table row.
func (f *TableFormatter) FormatCreated(c *Created) (string, error) {
	access := c.SSHCommand
	if c.ConsoleCommand != "" {
		access = c.ConsoleCommand
	}
	return f.render(
		"NAME\tIP\tHOST\tTYPE\tACCESS",
		[]string{c.Name, dash(c.IP), c.Host, c.InstallationType, dash(access)},
	), nil
}

// FormatDestroyed formats a destroy result as a table row.
func (f *TableFormatter) FormatDestroyed(d *Destroyed) (string, error) {
	return f.render(
		"NAME\tHOST\tSTATUS\tDELETED\tFAILED",
		[]string{d.Name, d.Host, d.Status, dash(strings.Join(d.DeletedVolumes, ",")), dash(strings.Join(d.FailedVolumes, ","))},
	), nil
}

// FormatConnection formats a connectivity check as a table row.
func (f *TableFormatter) FormatConnection(c *Connection) (string, error) {
	return f.render(
		"HOST\tHOSTNAME\tLIBVIRT\tURI",
		[]string{c.Host, dash(c.Hostname), dash(c.LibvirtVersion), c.URI},
	), nil
}

func (f *TableFormatter) render(header string, row []string) string {
	var buf bytes.Buffer
	w := tabwriter.NewWriter(&buf, 0, 0, 2, ' ', 0)

	// Write header unless NoHeaders is set
	if !f.NoHeaders {
		_, _ = fmt.Fprintln(w, header)
	}
	_, _ = fmt.Fprintln(w, strings.Join(row, "\t"))

	_ = w.Flush()
	return buf.String()
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
