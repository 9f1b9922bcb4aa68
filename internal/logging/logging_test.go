package logging

import (
	"bytes"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
)

func TestNewWithWriter(t *testing.T) {
	tests := []struct {
		name      string
		level     string
		format    Format
		wantErr   bool
		wantLevel logrus.Level
	}{
		{name: "text info", level: "info", format: FormatText, wantLevel: logrus.InfoLevel},
		{name: "json debug", level: "debug", format: FormatJSON, wantLevel: logrus.DebugLevel},
		{name: "empty format defaults to text", level: "warn", format: "", wantLevel: logrus.WarnLevel},
		{name: "bad level", level: "loud", format: FormatText, wantErr: true},
		{name: "bad format", level: "info", format: "xml", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			logger, err := NewWithWriter(&buf, tt.level, tt.format)
			if (err != nil) != tt.wantErr {
				t.Fatalf("NewWithWriter() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if logger.Level != tt.wantLevel {
				t.Errorf("Level = %v, want %v", logger.Level, tt.wantLevel)
			}
		})
	}
}

func TestNewWithWriter_JSONOutput(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewWithWriter(&buf, "info", FormatJSON)
	if err != nil {
		t.Fatalf("NewWithWriter() error = %v", err)
	}

	logger.WithField("domain", "vm-1").Info("hello")

	out := buf.String()
	if !strings.Contains(out, `"domain":"vm-1"`) {
		t.Errorf("expected domain field in JSON output, got %q", out)
	}
}

func TestOrDiscard(t *testing.T) {
	if OrDiscard(nil) == nil {
		t.Fatal("OrDiscard(nil) returned nil")
	}

	logger := logrus.New()
	if OrDiscard(logger) != logger {
		t.Error("OrDiscard should return the given logger")
	}
}
