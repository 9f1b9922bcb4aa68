package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jbweber/vmspawner/internal/config"
	"github.com/jbweber/vmspawner/internal/loader"
)

// Pool management commands
var poolCmd = &cobra.Command{
	Use:   "pool",
	Short: "Manage storage pools",
	Long: `Manage the libvirt storage pool that holds base images and VM disks.`,
}

var poolOpts struct {
	name string
	path string
}

func init() {
	poolEnsureCmd.Flags().StringVar(&poolOpts.name, "pool", loader.DefaultPoolName, "Storage pool name")
	poolEnsureCmd.Flags().StringVar(&poolOpts.path, "pool-path", loader.DefaultPoolPath, "Storage pool directory on the host")
	poolCmd.AddCommand(poolEnsureCmd)
}

var poolEnsureCmd = &cobra.Command{
	Use:   "ensure",
	Short: "Create and start a storage pool if needed",
	Long: `Define, build, start and autostart a directory storage pool on the
remote host. An active pool is left untouched.

Example:
  vmspawner --remote-user-host root@hv1 pool ensure --pool vms --pool-path /srv/vms`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		host, err := requireHost("")
		if err != nil {
			return err
		}

		pool, err := newOrchestrator().EnsurePool(cmd.Context(), host, sshKey, config.PoolConfig{
			Name: poolOpts.name,
			Type: "dir",
			Path: poolOpts.path,
		})
		if err != nil {
			return fmt.Errorf("failed to ensure pool: %w", err)
		}

		_, err = fmt.Fprintf(cmd.OutOrStdout(), "Pool %s is active at %s\n", pool.Name, pool.Path)
		return err
	},
}
