package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jbweber/vmspawner/internal/naming"
	"github.com/jbweber/vmspawner/internal/output"
)

var destroyOpts struct {
	name   string
	output string
}

var destroyCmd = &cobra.Command{
	Use:     "destroy",
	Aliases: []string{"d"},
	Short:   "Destroy a VM on the remote host",
	Long: `Destroy a virtual machine by name.

This will:
- Force-stop the VM if running
- Undefine the domain (with managed save, snapshot metadata and NVRAM)
- Delete every storage volume its disks reference

Destroying a VM that does not exist succeeds.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := output.ValidateFormat(destroyOpts.output); err != nil {
			return err
		}
		if err := naming.ValidateName(destroyOpts.name); err != nil {
			return err
		}
		host, err := requireHost("")
		if err != nil {
			return err
		}

		res, err := newOrchestrator().Destroy(cmd.Context(), host, sshKey, destroyOpts.name)
		if err != nil {
			return fmt.Errorf("failed to destroy VM: %w", err)
		}

		destroyed := &output.Destroyed{
			Name:           res.Name,
			Host:           host,
			Status:         output.StatusDeleted,
			DeletedVolumes: res.DeletedVolumes,
			FailedVolumes:  res.FailedVolumes,
		}
		return printResult(cmd, destroyOpts.output, func(f output.Formatter) (string, error) {
			return f.FormatDestroyed(destroyed)
		})
	},
}

func init() {
	destroyCmd.Flags().StringVar(&destroyOpts.name, "name", "", "Domain name")
	destroyCmd.Flags().StringVarP(&destroyOpts.output, "output", "o", string(output.FormatJSON), "Output format (json, yaml, table)")
	_ = destroyCmd.MarkFlagRequired("name")
}
