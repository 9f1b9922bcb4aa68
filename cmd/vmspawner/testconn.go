package main

import (
	"github.com/spf13/cobra"

	virt "github.com/jbweber/vmspawner/internal/libvirt"
	"github.com/jbweber/vmspawner/internal/output"
)

var testConnOutput string

var testConnCmd = &cobra.Command{
	Use:   "test-conn",
	Short: "Test the libvirt connection",
	Long:  `Connect to libvirt on the remote host and display its hostname and version.`,
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := output.ValidateFormat(testConnOutput); err != nil {
			return err
		}
		host, err := requireHost("")
		if err != nil {
			return err
		}

		client, err := virt.ConnectRemote(cmd.Context(), virt.Target{Host: host, KeyFile: sshKey})
		if err != nil {
			return err
		}
		defer func() {
			if closeErr := client.Close(); closeErr != nil {
				log.WithError(closeErr).Warn("Failed to close libvirt connection")
			}
		}()

		info, err := client.Info()
		if err != nil {
			return err
		}
		log.WithField("host", host).Info("Connection test successful")

		conn := &output.Connection{
			Host:           host,
			URI:            info.URI,
			Hostname:       info.Hostname,
			LibvirtVersion: info.Version,
		}
		return printResult(cmd, testConnOutput, func(f output.Formatter) (string, error) {
			return f.FormatConnection(conn)
		})
	},
}

func init() {
	testConnCmd.Flags().StringVarP(&testConnOutput, "output", "o", string(output.FormatJSON), "Output format (json, yaml, table)")
}
