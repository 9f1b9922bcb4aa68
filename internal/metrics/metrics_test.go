package metrics

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCollector_Operations(t *testing.T) {
	c := NewCollector()
	c.ObserveOperation("deploy", nil)
	c.ObserveOperation("deploy", errors.New("boom"))
	c.ObserveOperation("deploy", nil)
	c.ObserveOperation("destroy", nil)

	tests := []struct {
		operation, result string
		want              float64
	}{
		{"deploy", ResultSuccess, 2},
		{"deploy", ResultFailure, 1},
		{"destroy", ResultSuccess, 1},
	}
	for _, tt := range tests {
		if got := testutil.ToFloat64(c.operations.WithLabelValues(tt.operation, tt.result)); got != tt.want {
			t.Errorf("operations{%s,%s} = %v, want %v", tt.operation, tt.result, got, tt.want)
		}
	}
}

func TestCollector_Uploaded(t *testing.T) {
	c := NewCollector()
	c.AddUploaded(1024)
	c.AddUploaded(0)
	c.AddUploaded(-5)
	c.AddUploaded(1024)

	if got := testutil.ToFloat64(c.uploadedBytes); got != 2048 {
		t.Errorf("uploaded bytes = %v, want 2048", got)
	}
}

func TestCollector_StageAndResolve(t *testing.T) {
	c := NewCollector()
	done := c.StartStage("pool")
	done()
	c.StartStage("install")()
	c.ObserveIPResolve(3 * time.Second)

	if got := testutil.CollectAndCount(c.stageDuration); got != 2 {
		t.Errorf("stage series = %d, want 2", got)
	}
	if got := testutil.CollectAndCount(c.ipResolve); got != 1 {
		t.Errorf("ip resolve series = %d, want 1", got)
	}
}

func TestCollector_NilIsNoop(t *testing.T) {
	var c *Collector
	c.ObserveOperation("deploy", nil)
	c.StartStage("pool")()
	c.AddUploaded(10)
	c.ObserveIPResolve(time.Second)
	if err := c.WriteTextfile(filepath.Join(t.TempDir(), "x.prom")); err != nil {
		t.Errorf("WriteTextfile() on nil collector error = %v", err)
	}
}

func TestCollector_WriteTextfile(t *testing.T) {
	c := NewCollector()
	c.ObserveOperation("destroy", nil)
	c.AddUploaded(42)

	path := filepath.Join(t.TempDir(), "vmspawner.prom")
	if err := c.WriteTextfile(path); err != nil {
		t.Fatalf("WriteTextfile() error = %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	text := string(data)
	for _, want := range []string{
		`vmspawner_operations_total{operation="destroy",result="success"} 1`,
		"vmspawner_volume_upload_bytes_total 42",
	} {
		if !strings.Contains(text, want) {
			t.Errorf("textfile missing %q:\n%s", want, text)
		}
	}

	// A second write replaces the file.
	if err := c.WriteTextfile(path); err != nil {
		t.Fatalf("second WriteTextfile() error = %v", err)
	}
}
