package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/jbweber/vmspawner/internal/logging"
	"github.com/jbweber/vmspawner/internal/metrics"
	"github.com/jbweber/vmspawner/internal/output"
	"github.com/jbweber/vmspawner/internal/vm"
)

var (
	version = "dev"
	commit  = "unknown"
)

// Global flags and the state built from them before any subcommand runs.
var (
	remoteHost  string
	sshKey      string
	logLevel    string
	logFormat   string
	metricsFile string

	log       logrus.FieldLogger = logging.Discard()
	collector                    = metrics.NewCollector()
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()

	if metricsFile != "" {
		if werr := collector.WriteTextfile(metricsFile); werr != nil {
			fmt.Fprintf(os.Stderr, "Warning: %v\n", werr)
		}
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "vmspawner",
	Short: "vmspawner - provision KVM guests on a remote libvirt host",
	Long: `vmspawner creates and destroys virtual machines on a remote KVM host.

It talks to libvirt through an SSH tunnel, keeps a base image in a storage
pool, gives every VM a linked clone of it (or a blank disk plus install
media for ISO images), runs virt-install on the host and waits for the
guest's DHCP lease.`,
	Version:       fmt.Sprintf("%s (commit: %s)", version, commit),
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		logger, err := logging.New(logLevel, logging.Format(logFormat))
		if err != nil {
			return err
		}
		log = logger
		return nil
	},
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&remoteHost, "remote-user-host", "", "Remote KVM host as [user@]host[:port]")
	flags.StringVar(&sshKey, "ssh-key", "", "SSH private key for the remote host (default: agent, then ~/.ssh keys)")
	flags.StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	flags.StringVar(&logFormat, "log-format", string(logging.FormatText), "Log format (text, json)")
	flags.StringVar(&metricsFile, "metrics-file", "", "Write Prometheus metrics in textfile format to this path on exit")

	rootCmd.AddCommand(createCmd)
	rootCmd.AddCommand(destroyCmd)
	rootCmd.AddCommand(testConnCmd)
	rootCmd.AddCommand(poolCmd)
	rootCmd.AddCommand(versionCmd)
}

// newOrchestrator builds the orchestrator every command shares.
func newOrchestrator() *vm.Orchestrator {
	return vm.New(log, vm.WithMetrics(collector))
}

// requireHost returns the --remote-user-host value or an error naming it.
func requireHost(fallback string) (string, error) {
	if remoteHost != "" {
		return remoteHost, nil
	}
	if fallback != "" {
		return fallback, nil
	}
	return "", fmt.Errorf("--remote-user-host is required")
}

// printResult renders a result with the format named by --output.
func printResult(cmd *cobra.Command, format string, render func(output.Formatter) (string, error)) error {
	f, err := output.NewFormatter(output.Options{Format: output.Format(format)})
	if err != nil {
		return err
	}
	out, err := render(f)
	if err != nil {
		return err
	}
	_, err = fmt.Fprint(cmd.OutOrStdout(), out)
	return err
}
