package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/marodse/burrow"
)

type command struct {
	global *GlobalFlags
}

func (c command) apiClient() (*APIClient, error) {
	apiClient := NewAPIClient(c.global.APIUrl, c.global.APITimeout)
	if !apiClient.IsReachable() {
		return nil, fmt.Errorf("daemon not reachable at %s - start it first with 'burrow serve'", apiClient.baseURL)
	}
	return apiClient, nil
}

func (c command) Status() error {
	apiClient, err := c.apiClient()
	if err != nil {
		return err
	}
	raw, err := apiClient.GetStatus()
	if err != nil {
		return err
	}
	printJSON(raw)
	return nil
}

func (c command) Start(f ServiceFlags) error {
	apiClient, err := c.apiClient()
	if err != nil {
		return err
	}
	if f.Service != "" {
		return apiClient.StartService(f.Service)
	}
	raw, err := apiClient.StartTunnel()
	if err != nil {
		return err
	}
	printJSON(raw)
	if f.All {
		return apiClient.StartService("")
	}
	return nil
}

func (c command) Stop(f ServiceFlags) error {
	apiClient, err := c.apiClient()
	if err != nil {
		return err
	}
	if f.Service != "" {
		return apiClient.StopService(f.Service)
	}
	if f.All {
		if err := apiClient.StopService(""); err != nil {
			return err
		}
	}
	return apiClient.StopTunnel()
}

func (c command) Logs(f LogsFlags) error {
	apiClient, err := c.apiClient()
	if err != nil {
		return err
	}
	lines, err := apiClient.GetLogs(f.Name, f.Lines)
	if err != nil {
		return err
	}
	for _, line := range lines {
		fmt.Println(line)
	}
	return nil
}

// createCleanupCommand sweeps stale pid files locally, without a daemon.
func createCleanupCommand(flags *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "cleanup",
		Short: "Remove stale pid files from the run directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			if flags.ConfigPath == "" {
				return fmt.Errorf("--config is required")
			}
			cfg, err := burrow.LoadConfig(flags.ConfigPath)
			if err != nil {
				return err
			}
			app, err := burrow.New(cfg, nil)
			if err != nil {
				return err
			}
			defer func() { _ = app.Close() }()
			app.Registry().CleanupStale()
			return nil
		},
	}
}

func printJSON(v any) {
	var out any = v
	if raw, ok := v.(json.RawMessage); ok {
		var decoded any
		if err := json.Unmarshal(raw, &decoded); err == nil {
			out = decoded
		}
	}
	b, _ := json.MarshalIndent(out, "", "  ")
	_, _ = fmt.Fprintln(os.Stdout, string(b))
}
