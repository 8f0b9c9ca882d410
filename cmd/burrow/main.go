package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
)

func main() {
	if err := buildRoot().Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// GlobalFlags holds persistent flags shared by all commands.
type GlobalFlags struct {
	ConfigPath string
	APIUrl     string
	APITimeout time.Duration
}

// buildRoot creates the root command with all subcommands attached.
func buildRoot() *cobra.Command {
	globalFlags := &GlobalFlags{}
	logsFlags := &LogsFlags{}
	serviceFlags := &ServiceFlags{}
	serveFlags := &ServeFlags{}

	burrowCommand := command{global: globalFlags}

	root := createRootCommand(globalFlags)
	root.AddCommand(
		createServeCommand(globalFlags, serveFlags),
		createStatusCommand(burrowCommand),
		createStartCommand(burrowCommand, serviceFlags),
		createStopCommand(burrowCommand, serviceFlags),
		createLogsCommand(burrowCommand, logsFlags),
		createCleanupCommand(globalFlags),
	)
	return root
}

func createRootCommand(flags *GlobalFlags) *cobra.Command {
	root := &cobra.Command{
		Use:   "burrow",
		Short: "Tunnel and service supervision tool",
		Long: `Burrow supervises a playit.gg tunnel agent and the services it
exposes. It launches them as detached processes, watches the agent's
output to track connectivity, and reconnects the tunnel when it drops.

Examples:
  burrow serve --config burrow.toml   # Start the supervisor daemon
  burrow start                        # Start the tunnel via the daemon
  burrow start --service minecraft    # Start one companion service
  burrow status                       # Tunnel + service snapshot
  burrow logs --lines 50              # Tail the agent log`,
	}

	root.PersistentFlags().StringVar(&flags.ConfigPath, "config", "", "path to TOML config file")
	root.PersistentFlags().StringVar(&flags.APIUrl, "api-url", "", "daemon URL (default http://127.0.0.1:8910)")
	root.PersistentFlags().DurationVar(&flags.APITimeout, "api-timeout", 10*time.Second, "request timeout")

	return root
}

// LogsFlags holds flags for the logs command.
type LogsFlags struct {
	Name  string
	Lines int
}

// ServiceFlags selects the start/stop target. Empty means the tunnel.
type ServiceFlags struct {
	Service string
	All     bool
}

// ServeFlags holds flags for the serve command.
type ServeFlags struct {
	AutoStart bool
}

func createStatusCommand(c command) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show tunnel and service status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.Status()
		},
	}
}

func createStartCommand(c command, flags *ServiceFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start the tunnel, one service, or everything",
		Long: `Start the tunnel agent via the daemon. The command blocks until the
agent prints a claim URL, reports an established tunnel, or times out.

Examples:
  burrow start                    # Tunnel only
  burrow start --service mc       # One companion service
  burrow start --all              # Tunnel plus all services`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.Start(*flags)
		},
	}
	cmd.Flags().StringVar(&flags.Service, "service", "", "companion service name")
	cmd.Flags().BoolVar(&flags.All, "all", false, "start tunnel and all services")
	return cmd
}

func createStopCommand(c command, flags *ServiceFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stop",
		Short: "Stop the tunnel, one service, or everything",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.Stop(*flags)
		},
	}
	cmd.Flags().StringVar(&flags.Service, "service", "", "companion service name")
	cmd.Flags().BoolVar(&flags.All, "all", false, "stop all services and the tunnel")
	return cmd
}

func createLogsCommand(c command, flags *LogsFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Print the tail of a managed process log",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.Logs(*flags)
		},
	}
	cmd.Flags().StringVar(&flags.Name, "name", "", "process name (default: the tunnel agent)")
	cmd.Flags().IntVar(&flags.Lines, "lines", 100, "number of lines")
	return cmd
}
