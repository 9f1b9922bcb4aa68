package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/jbweber/vmspawner/internal/cloudinit"
	"github.com/jbweber/vmspawner/internal/config"
	"github.com/jbweber/vmspawner/internal/loader"
	"github.com/jbweber/vmspawner/internal/output"
)

type createOptions struct {
	config        string
	name          string
	image         string
	checksum      string
	memory        uint
	vcpus         uint
	pool          string
	poolPath      string
	network       string
	isolated      string
	osVariant     string
	userData      string
	networkConfig string
	diskSize      uint64
	output        string
}

var createOpts createOptions

var createCmd = &cobra.Command{
	Use:     "create",
	Aliases: []string{"c"},
	Short:   "Create a VM on the remote host",
	Long: `Create a new virtual machine on the remote KVM host.

Settings come from built-in defaults, then the optional --config profile,
then VMSPAWNER_BASE_IMAGE (or CLAN_BASE_IMAGE), then flags. An image ending
in .iso is attached as install media to a blank disk; any other image is
used as the base of a linked clone configured with cloud-init.

The result (name, IP and how to connect) is printed to stdout.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := output.ValidateFormat(createOpts.output); err != nil {
			return err
		}

		d, err := loader.Load(createOpts.config)
		if err != nil {
			return err
		}
		applyCreateFlags(cmd.Flags(), &createOpts, d)

		d.Host, err = requireHost(d.Host)
		if err != nil {
			return err
		}
		if sshKey != "" {
			d.SSHKey = sshKey
		}
		if err := d.Validate(); err != nil {
			return fmt.Errorf("invalid configuration: %w", err)
		}

		res, err := newOrchestrator().Deploy(cmd.Context(), d)
		if err != nil {
			return fmt.Errorf("failed to create VM: %w", err)
		}

		created := output.NewCreated(res.Name, res.IP, d.Host, res.InstallationType)
		if res.InstallationType == "cloud-init" && d.CloudInit.UserData == "" {
			created.Password = cloudinit.DefaultRootPassword
		}
		return printResult(cmd, createOpts.output, func(f output.Formatter) (string, error) {
			return f.FormatCreated(created)
		})
	},
}

func init() {
	bindCreateFlags(createCmd.Flags(), &createOpts)
}

func bindCreateFlags(flags *pflag.FlagSet, o *createOptions) {
	flags.StringVarP(&o.config, "config", "f", "", "YAML profile to load before applying flags")
	flags.StringVar(&o.name, "name", "", "Domain name (default: ubuntu-<uuid>)")
	flags.StringVar(&o.image, "image", "", "Base image URL or local path (.iso installs from media)")
	flags.StringVar(&o.checksum, "checksum", "", "Expected SHA-256 of the image")
	flags.UintVar(&o.memory, "memory", loader.DefaultMemoryMB, "Memory in MiB")
	flags.UintVar(&o.vcpus, "vcpus", loader.DefaultVCPUs, "Number of virtual CPUs")
	flags.StringVar(&o.pool, "pool", loader.DefaultPoolName, "Storage pool name")
	flags.StringVar(&o.poolPath, "pool-path", loader.DefaultPoolPath, "Storage pool directory on the host")
	flags.StringVar(&o.network, "network", loader.DefaultNetwork, "Primary libvirt network")
	flags.StringVar(&o.isolated, "isolated-network", loader.DefaultIsolated, "Isolated libvirt network (empty to disable)")
	flags.StringVar(&o.osVariant, "os-variant", loader.DefaultOSVariant, "virt-install --os-variant")
	flags.StringVar(&o.userData, "user-data", "", "cloud-init user-data file")
	flags.StringVar(&o.networkConfig, "network-config", "", "cloud-init network-config file")
	flags.Uint64Var(&o.diskSize, "disk-size", loader.DefaultDataDisk, "Blank disk size in GiB for ISO installs")
	flags.StringVarP(&o.output, "output", "o", string(output.FormatJSON), "Output format (json, yaml, table)")
}

// applyCreateFlags copies explicitly set flags onto d so that flag defaults
// never mask profile values.
func applyCreateFlags(flags *pflag.FlagSet, o *createOptions, d *config.Descriptor) {
	set := flags.Changed

	if set("image") {
		loader.SetImage(d, o.image)
	}
	if set("checksum") {
		d.Image.Checksum = o.checksum
	}
	if set("name") {
		d.Name = o.name
	}
	if set("memory") {
		d.Machine.MemoryMB = o.memory
	}
	if set("vcpus") {
		d.Machine.VCPUs = o.vcpus
	}
	if set("pool") {
		d.Pool.Name = o.pool
	}
	if set("pool-path") {
		d.Pool.Path = o.poolPath
	}
	if set("network") {
		d.Network.Primary = o.network
	}
	if set("isolated-network") {
		d.Network.Isolated = o.isolated
	}
	if set("os-variant") {
		d.Machine.OSVariant = o.osVariant
	}
	if set("user-data") {
		d.CloudInit.UserData = o.userData
	}
	if set("network-config") {
		d.CloudInit.NetworkConfig = o.networkConfig
	}
	if set("disk-size") {
		d.DataDiskGB = o.diskSize
	}
}
