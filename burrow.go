//go:build !windows

// Package burrow supervises a playit.gg tunnel agent and the companion
// services it exposes: it launches them as detached processes, scrapes
// the agent's output to drive a connectivity state machine, and keeps
// the tunnel alive with health checks and reconnects.
package burrow

import (
	"context"
	"io"
	"log/slog"
	"net/http"

	"github.com/marodse/burrow/internal/config"
	"github.com/marodse/burrow/internal/history"
	"github.com/marodse/burrow/internal/logger"
	"github.com/marodse/burrow/internal/metrics"
	"github.com/marodse/burrow/internal/registry"
	"github.com/marodse/burrow/internal/server"
	"github.com/marodse/burrow/internal/service"
	"github.com/marodse/burrow/internal/tunnel"
	"github.com/prometheus/client_golang/prometheus"
)

// Re-export core types for external consumers.
// These are aliases so conversions are zero-cost.

type Config = config.FileConfig

type TunnelStatus = tunnel.Status

type TunnelState = tunnel.State

const (
	StateStopped      = tunnel.StateStopped
	StateStarting     = tunnel.StateStarting
	StateWaitingClaim = tunnel.StateWaitingClaim
	StateConnecting   = tunnel.StateConnecting
	StateConnected    = tunnel.StateConnected
	StateError        = tunnel.StateError
	StateReconnecting = tunnel.StateReconnecting
)

type ServiceStatus = service.Status

type Event = history.Event

// LoadConfig parses and validates the TOML config at path.
func LoadConfig(path string) (*Config, error) { return config.Load(path) }

// SetupLogger builds a structured logger writing to w at the given
// level, optionally with colored output.
func SetupLogger(w io.Writer, level string, color bool) *slog.Logger {
	return logger.Setup(w, level, color)
}

// App wires the registry, tunnel manager, service supervisor and
// history sink from one config. It is the embedding entry point; the
// burrow CLI is a thin shell around it.
type App struct {
	cfg  *Config
	reg  *registry.Registry
	tun  *tunnel.Manager
	svcs *service.Supervisor
	hist *history.SQLSink
	log  *slog.Logger
}

// New assembles an App from cfg. A nil logger falls back to
// slog.Default. Metrics collectors are registered with the default
// Prometheus registerer.
func New(cfg *Config, log *slog.Logger) (*App, error) {
	if log == nil {
		log = slog.Default()
	}
	reg := registry.New(cfg.RunDir, log)

	tc, err := cfg.TunnelManagerConfig()
	if err != nil {
		return nil, err
	}
	tun := tunnel.New(tc, reg, nil, log)

	env, err := cfg.GlobalEnv()
	if err != nil {
		return nil, err
	}
	svcs := service.New(reg, log)
	for _, sc := range cfg.Services {
		err := svcs.Register(service.Spec{
			Name:         sc.Name,
			Command:      sc.Command,
			WorkDir:      sc.WorkDir,
			Env:          append(append([]string{}, env...), sc.Env...),
			CheckCommand: sc.CheckCommand,
			StartTimeout: sc.StartTimeout,
			StopTimeout:  sc.StopTimeout,
			Log:          cfg.LoggerConfig(),
		})
		if err != nil {
			return nil, err
		}
	}

	app := &App{cfg: cfg, reg: reg, tun: tun, svcs: svcs, log: log}

	if cfg.History.DSN != "" {
		sink, err := history.NewSQLSinkFromDSN(cfg.History.DSN)
		if err != nil {
			return nil, err
		}
		app.hist = sink
		tun.SetHistory(sink)
	}
	if cfg.FactsFile != "" {
		facts := cfg.FactsFile
		tun.SetFactSink(func(claimURL, address string) error {
			return config.WriteFacts(facts, claimURL, address)
		})
	}

	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		return nil, err
	}
	return app, nil
}

func (a *App) Tunnel() *tunnel.Manager       { return a.tun }
func (a *App) Services() *service.Supervisor { return a.svcs }
func (a *App) Registry() *registry.Registry  { return a.reg }

// Resume re-attaches to processes left running by a previous instance
// and sweeps stale pid files.
func (a *App) Resume(ctx context.Context) {
	a.reg.CleanupStale()
	a.tun.Resume(ctx)
}

func (a *App) router(basePath string) *server.Router {
	if a.hist != nil {
		return server.NewRouter(a.tun, a.svcs, a.hist, basePath)
	}
	return server.NewRouter(a.tun, a.svcs, nil, basePath)
}

// Handler returns the HTTP API mounted under basePath.
func (a *App) Handler(basePath string) http.Handler {
	return a.router(basePath).Handler()
}

// Serve starts the HTTP API on addr in the background.
func (a *App) Serve(addr, basePath string) *http.Server {
	return server.NewServer(addr, a.router(basePath))
}

// Close releases the history sink. Managed processes are left running;
// a future instance re-attaches through Resume.
func (a *App) Close() error {
	a.tun.StopMonitor()
	if a.hist != nil {
		return a.hist.Close()
	}
	return nil
}
