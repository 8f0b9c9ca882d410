//go:build !windows

package tunnel

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/marodse/burrow/internal/history"
	"github.com/marodse/burrow/internal/launcher"
	"github.com/marodse/burrow/internal/logger"
	"github.com/marodse/burrow/internal/metrics"
	"github.com/marodse/burrow/internal/registry"
)

// Config describes one managed tunnel agent.
type Config struct {
	// Name keys the pid file, the log file and metric labels.
	Name string `mapstructure:"name"`
	// Command launches the agent binary, e.g. "playit --secret ...".
	Command string   `mapstructure:"command"`
	WorkDir string   `mapstructure:"work_dir"`
	Env     []string `mapstructure:"env"`
	// Domain selects the provider the output extractor matches against.
	Domain    string `mapstructure:"domain"`
	StateFile string `mapstructure:"state_file"`

	StartTimeout time.Duration `mapstructure:"start_timeout"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
	StopTimeout  time.Duration `mapstructure:"stop_timeout"`
	// SettleDelay is how long a freshly launched agent is left in
	// Starting before it is considered to be negotiating a connection.
	SettleDelay time.Duration `mapstructure:"settle_delay"`

	HealthInterval       time.Duration `mapstructure:"health_interval"`
	StaleAfter           time.Duration `mapstructure:"stale_after"`
	FailureThreshold     int           `mapstructure:"failure_threshold"`
	AutoReconnect        bool          `mapstructure:"auto_reconnect"`
	MaxReconnectAttempts int           `mapstructure:"max_reconnect_attempts"`
	BackoffCap           time.Duration `mapstructure:"backoff_cap"`

	Log logger.Config `mapstructure:"log"`
}

func (c *Config) applyDefaults() {
	if c.Name == "" {
		c.Name = "playit"
	}
	if c.Domain == "" {
		c.Domain = "playit.gg"
	}
	if c.StartTimeout <= 0 {
		c.StartTimeout = 90 * time.Second
	}
	if c.PollInterval <= 0 {
		c.PollInterval = time.Second
	}
	if c.StopTimeout <= 0 {
		c.StopTimeout = 10 * time.Second
	}
	if c.SettleDelay <= 0 {
		c.SettleDelay = 2 * time.Second
	}
	if c.HealthInterval <= 0 {
		c.HealthInterval = 30 * time.Second
	}
	if c.HealthInterval < 10*time.Second {
		c.HealthInterval = 10 * time.Second
	}
	if c.StaleAfter <= 0 {
		c.StaleAfter = 5 * time.Minute
	}
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = 3
	}
	if c.MaxReconnectAttempts <= 0 {
		c.MaxReconnectAttempts = 10
	}
	if c.BackoffCap <= 0 {
		c.BackoffCap = 60 * time.Second
	}
}

// FactFunc receives the claim URL and tunnel address whenever either is
// discovered so it can be pushed back into external configuration.
type FactFunc func(claimURL, address string) error

// Manager owns the lifecycle of a single tunnel agent process and the
// state machine derived from its output.
type Manager struct {
	cfg Config
	reg *registry.Registry
	ext Extractor
	log *slog.Logger

	hist     history.Sink
	factSink FactFunc

	mu            sync.Mutex
	state         State
	claimURL      string
	tunnelAddr    string
	reconnects    int
	lastReconnect time.Time
	logPath       string
	scanFrom      int64

	healthMu     sync.Mutex
	healthCancel context.CancelFunc
	healthDone   chan struct{}
}

// New builds a Manager. A nil extractor gets the playit extractor for
// cfg.Domain, a nil logger falls back to slog.Default.
func New(cfg Config, reg *registry.Registry, ext Extractor, log *slog.Logger) *Manager {
	cfg.applyDefaults()
	if ext == nil {
		ext = NewPlayitExtractor(cfg.Domain)
	}
	if log == nil {
		log = slog.Default()
	}
	m := &Manager{cfg: cfg, reg: reg, ext: ext, log: log, state: StateStopped}
	if cfg.StateFile != "" {
		if ps, ok := loadStateFile(cfg.StateFile); ok {
			m.claimURL = ps.ClaimURL
			m.tunnelAddr = ps.TunnelAddress
			m.reconnects = ps.ReconnectAttempts
			m.state = ps.State
		}
	}
	return m
}

// SetHistory attaches a lifecycle event sink. Pass nil to detach.
func (m *Manager) SetHistory(s history.Sink) {
	m.mu.Lock()
	m.hist = s
	m.mu.Unlock()
}

// SetFactSink attaches the callback invoked when a claim URL or tunnel
// address is discovered.
func (m *Manager) SetFactSink(fn FactFunc) {
	m.mu.Lock()
	m.factSink = fn
	m.mu.Unlock()
}

// Name returns the registry name of the managed agent.
func (m *Manager) Name() string { return m.cfg.Name }

// IsRunning reports whether the agent process is alive right now.
func (m *Manager) IsRunning() bool {
	return m.reg.IsAlive(m.cfg.Name)
}

// Status returns a point-in-time snapshot of the tunnel.
func (m *Manager) Status() Status {
	m.mu.Lock()
	st := Status{
		State:             m.state,
		ClaimURL:          m.claimURL,
		TunnelAddress:     m.tunnelAddr,
		ReconnectAttempts: m.reconnects,
	}
	m.mu.Unlock()
	st.Running = m.reg.IsAlive(m.cfg.Name)
	if st.Running {
		if pid, ok := m.reg.PID(m.cfg.Name); ok {
			st.PID = pid
		}
	}
	m.healthMu.Lock()
	st.HealthActive = m.healthDone != nil
	m.healthMu.Unlock()
	return st
}

// LogPath returns the agent's combined output log path.
func (m *Manager) LogPath() string {
	m.mu.Lock()
	p := m.logPath
	m.mu.Unlock()
	if p != "" {
		return p
	}
	return m.cfg.Log.FilePath(m.cfg.Name)
}

// Start launches the agent and waits until it either publishes a claim
// URL, reports an established tunnel, or the start timeout elapses.
// Starting an already running tunnel is a no-op returning the current
// state. An operator start resets the reconnect attempt counter.
func (m *Manager) Start(ctx context.Context) (State, error) {
	m.mu.Lock()
	m.reconnects = 0
	m.mu.Unlock()
	st, err := m.begin(ctx, m.cfg.StartTimeout, true)
	if err == nil {
		metrics.IncStart(m.cfg.Name)
	}
	return st, err
}

// Stop halts health monitoring and terminates the agent process,
// escalating to SIGKILL after the stop timeout.
func (m *Manager) Stop() error {
	m.stopHealthLoop()
	stopped := m.reg.Stop(m.cfg.Name, m.cfg.StopTimeout, true)
	m.setState(StateStopped)
	m.persist()
	m.emit(history.EventStopped, "")
	metrics.IncStop(m.cfg.Name)
	if !stopped {
		return fmt.Errorf("tunnel %s: process did not exit", m.cfg.Name)
	}
	return nil
}

// StopMonitor halts health monitoring without touching the agent
// process. Used on supervisor shutdown so the tunnel keeps serving and
// a later instance can re-attach.
func (m *Manager) StopMonitor() {
	m.stopHealthLoop()
}

// Resume re-attaches to an agent left running by a previous supervisor
// instance. If the persisted state names an active tunnel but the
// process is gone, the state is reset to stopped.
func (m *Manager) Resume(ctx context.Context) {
	m.mu.Lock()
	st := m.state
	m.mu.Unlock()
	if st == StateStopped || st == StateError {
		return
	}
	if m.reg.IsAlive(m.cfg.Name) {
		m.log.Info("re-attached to running tunnel agent", "name", m.cfg.Name, "state", string(st))
		m.mu.Lock()
		m.logPath = m.cfg.Log.FilePath(m.cfg.Name)
		haveFacts := m.claimURL != "" || m.tunnelAddr != ""
		m.mu.Unlock()
		if haveFacts {
			m.pushFacts()
		}
		m.startHealthLoop()
		return
	}
	m.log.Warn("persisted tunnel state had no live process", "name", m.cfg.Name, "state", string(st))
	m.setState(StateStopped)
	m.persist()
}

// begin performs one launch cycle. It is shared by Start and by the
// health loop's reconnect path; the latter passes startHealth=false
// because it already runs inside the loop.
func (m *Manager) begin(ctx context.Context, timeout time.Duration, startHealth bool) (State, error) {
	if m.reg.IsAlive(m.cfg.Name) {
		m.mu.Lock()
		st := m.state
		m.mu.Unlock()
		m.log.Info("tunnel agent already running", "name", m.cfg.Name)
		return st, nil
	}
	if m.cfg.Command == "" {
		return m.fail("tunnel command not configured")
	}

	m.setState(StateStarting)
	m.persist()

	h, err := launcher.Start(m.reg, m.cfg.Name, launcher.Options{
		Command: m.cfg.Command,
		WorkDir: m.cfg.WorkDir,
		Env:     m.cfg.Env,
		Log:     m.cfg.Log,
	})
	if err != nil {
		return m.fail(fmt.Sprintf("launch failed: %v", err))
	}

	m.mu.Lock()
	m.logPath = h.LogPath()
	m.scanFrom = fileSize(h.LogPath())
	m.mu.Unlock()
	m.emit(history.EventStarted, fmt.Sprintf("pid=%d", h.PID()))
	m.log.Info("tunnel agent launched", "name", m.cfg.Name, "pid", h.PID(), "log", h.LogPath())

	deadline := time.Now().Add(timeout)
	launched := time.Now()
	for {
		if h.Exited() {
			detail := "agent exited before becoming ready"
			if ee := h.ExitErr(); ee != nil {
				detail = fmt.Sprintf("agent exited before becoming ready: %v", ee)
			}
			return m.fail(detail)
		}

		out, err := m.readNewOutput()
		if err != nil {
			m.log.Warn("tunnel log unreadable", "name", m.cfg.Name, "err", err)
		}
		events := m.ext.Extract(out)
		// A connect signature supersedes a claim prompt seen in the
		// same window of output: claiming already happened.
		for _, ev := range events {
			if ev.Kind != EventConnected {
				continue
			}
			m.mu.Lock()
			m.tunnelAddr = ev.Address
			m.reconnects = 0
			m.mu.Unlock()
			m.setState(StateConnected)
			m.persist()
			m.pushFacts()
			m.emit(history.EventConnected, ev.Address)
			m.log.Info("tunnel connected", "name", m.cfg.Name, "address", ev.Address)
			if startHealth {
				m.startHealthLoop()
			}
			return StateConnected, nil
		}
		for _, ev := range events {
			if ev.Kind != EventClaimURL {
				continue
			}
			m.mu.Lock()
			m.claimURL = ev.ClaimURL
			m.mu.Unlock()
			m.setState(StateWaitingClaim)
			m.persist()
			m.pushFacts()
			m.emit(history.EventClaimDetected, ev.ClaimURL)
			m.log.Info("tunnel waiting for claim", "name", m.cfg.Name, "claim_url", ev.ClaimURL)
			if startHealth {
				m.startHealthLoop()
			}
			return StateWaitingClaim, nil
		}

		// A settled agent with no claim prompt is negotiating with
		// the provider using a previously stored authorization.
		if m.currentState() == StateStarting && time.Since(launched) >= m.cfg.SettleDelay {
			m.setState(StateConnecting)
			m.persist()
		}

		if time.Now().After(deadline) {
			m.reg.Stop(m.cfg.Name, m.cfg.StopTimeout, true)
			return m.fail(fmt.Sprintf("agent produced no recognizable output within %s", timeout))
		}
		select {
		case <-ctx.Done():
			return m.currentState(), ctx.Err()
		case <-time.After(m.cfg.PollInterval):
		}
	}
}

// readNewOutput returns everything the agent has written since launch.
// The extractor is idempotent, so re-scanning the same bytes is safe.
func (m *Manager) readNewOutput() (string, error) {
	m.mu.Lock()
	path, off := m.logPath, m.scanFrom
	m.mu.Unlock()
	if path == "" {
		return "", nil
	}
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer func() { _ = f.Close() }()
	if off > 0 {
		if _, err := f.Seek(off, io.SeekStart); err != nil {
			return "", err
		}
	}
	data, err := io.ReadAll(f)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func (m *Manager) currentState() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *Manager) setState(s State) {
	m.mu.Lock()
	old := m.state
	m.state = s
	m.mu.Unlock()
	if old != s {
		metrics.RecordStateTransition(string(old), string(s))
		m.log.Debug("tunnel state changed", "name", m.cfg.Name, "from", string(old), "to", string(s))
	}
}

func (m *Manager) persist() {
	if m.cfg.StateFile == "" {
		return
	}
	m.mu.Lock()
	ps := persistedState{
		State:             m.state,
		ClaimURL:          m.claimURL,
		TunnelAddress:     m.tunnelAddr,
		ReconnectAttempts: m.reconnects,
		LastUpdate:        time.Now(),
	}
	m.mu.Unlock()
	if err := saveStateFile(m.cfg.StateFile, ps); err != nil {
		m.log.Warn("tunnel state not persisted", "name", m.cfg.Name, "err", err)
	}
}

func (m *Manager) pushFacts() {
	m.mu.Lock()
	fn, claim, addr := m.factSink, m.claimURL, m.tunnelAddr
	m.mu.Unlock()
	if fn == nil {
		return
	}
	if err := fn(claim, addr); err != nil {
		m.log.Warn("tunnel facts not written", "name", m.cfg.Name, "err", err)
	}
}

func (m *Manager) emit(et history.EventType, detail string) {
	m.mu.Lock()
	sink := m.hist
	m.mu.Unlock()
	if sink == nil {
		return
	}
	ev := history.Event{Type: et, OccurredAt: time.Now(), Service: m.cfg.Name, Detail: detail}
	if pid, ok := m.reg.PID(m.cfg.Name); ok {
		ev.PID = pid
	}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := sink.Send(ctx, ev); err != nil {
		m.log.Warn("history event dropped", "name", m.cfg.Name, "event", string(et), "err", err)
	}
}

func (m *Manager) fail(detail string) (State, error) {
	m.setState(StateError)
	m.persist()
	m.emit(history.EventError, detail)
	m.log.Error("tunnel start failed", "name", m.cfg.Name, "reason", detail)
	return StateError, errors.New(detail)
}

func fileSize(path string) int64 {
	st, err := os.Stat(path)
	if err != nil {
		return 0
	}
	return st.Size()
}
