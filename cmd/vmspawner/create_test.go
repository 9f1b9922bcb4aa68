package main

import (
	"testing"

	"github.com/spf13/pflag"

	"github.com/jbweber/vmspawner/internal/loader"
)

func parseCreateFlags(t *testing.T, args ...string) (*pflag.FlagSet, *createOptions) {
	t.Helper()
	o := &createOptions{}
	flags := pflag.NewFlagSet("create", pflag.ContinueOnError)
	bindCreateFlags(flags, o)
	if err := flags.Parse(args); err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	return flags, o
}

func TestApplyCreateFlags_OnlyChangedFlagsOverride(t *testing.T) {
	d := loader.Defaults()
	d.Machine.MemoryMB = 8192 // from a profile
	d.Network.Isolated = ""   // from a profile

	flags, o := parseCreateFlags(t, "--name", "web-1", "--vcpus", "4")
	applyCreateFlags(flags, o, d)

	if d.Name != "web-1" {
		t.Errorf("Name = %s, want web-1", d.Name)
	}
	if d.Machine.VCPUs != 4 {
		t.Errorf("VCPUs = %d, want 4", d.Machine.VCPUs)
	}
	if d.Machine.MemoryMB != 8192 {
		t.Errorf("MemoryMB = %d, want profile value 8192", d.Machine.MemoryMB)
	}
	if d.Network.Isolated != "" {
		t.Errorf("Isolated = %q, flag default must not restore it", d.Network.Isolated)
	}
	if d.Image.Source != loader.DefaultImage {
		t.Errorf("Source = %s, want default image", d.Image.Source)
	}
}

func TestApplyCreateFlags_ISOImage(t *testing.T) {
	d := loader.Defaults()

	flags, o := parseCreateFlags(t, "--image", "/srv/iso/debian-12.iso", "--disk-size", "64")
	applyCreateFlags(flags, o, d)

	if !d.InstallFromMedia() {
		t.Error("expected an .iso image to select installation from media")
	}
	if d.Image.Volume != "debian-12.iso" {
		t.Errorf("Volume = %s, want debian-12.iso", d.Image.Volume)
	}
	if d.Image.Checksum != "" {
		t.Errorf("Checksum = %s, want cleared", d.Image.Checksum)
	}
	if d.DataDiskGB != 64 {
		t.Errorf("DataDiskGB = %d, want 64", d.DataDiskGB)
	}
}

func TestApplyCreateFlags_ChecksumAfterImage(t *testing.T) {
	d := loader.Defaults()
	sum := "0000000000000000000000000000000000000000000000000000000000000001"

	flags, o := parseCreateFlags(t, "--checksum", sum, "--image", "https://example.com/noble.img")
	applyCreateFlags(flags, o, d)

	if d.Image.Checksum != sum {
		t.Errorf("Checksum = %s, want the flag value", d.Image.Checksum)
	}
}

func TestRequireHost(t *testing.T) {
	remoteHost = ""
	t.Cleanup(func() { remoteHost = "" })

	if _, err := requireHost(""); err == nil {
		t.Error("expected error without any host")
	}
	if got, _ := requireHost("root@profile"); got != "root@profile" {
		t.Errorf("requireHost() = %s, want profile host", got)
	}

	remoteHost = "root@flag"
	if got, _ := requireHost("root@profile"); got != "root@flag" {
		t.Errorf("requireHost() = %s, want flag host", got)
	}
}
