//go:build !windows

package service

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/marodse/burrow/internal/detector"
	"github.com/marodse/burrow/internal/launcher"
	"github.com/marodse/burrow/internal/logger"
	"github.com/marodse/burrow/internal/metrics"
	"github.com/marodse/burrow/internal/registry"
)

// Spec describes one companion service run alongside the tunnel,
// typically the game or application server the tunnel exposes.
type Spec struct {
	Name    string
	Command string
	WorkDir string
	Env     []string
	// CheckCommand, when set, supplements the pid check: the service
	// counts as alive only if this command also exits zero.
	CheckCommand string
	StartTimeout time.Duration
	StopTimeout  time.Duration
	Log          logger.Config
}

func (s *Spec) applyDefaults() {
	if s.StartTimeout <= 0 {
		s.StartTimeout = 10 * time.Second
	}
	if s.StopTimeout <= 0 {
		s.StopTimeout = 10 * time.Second
	}
}

// Status is a point-in-time snapshot of one service.
type Status struct {
	Name    string `json:"name"`
	Running bool   `json:"running"`
	PID     int    `json:"pid,omitempty"`
	LogPath string `json:"log_path,omitempty"`
}

// Supervisor launches and tracks companion services through the shared
// process registry.
type Supervisor struct {
	reg *registry.Registry
	log *slog.Logger

	mu    sync.Mutex
	specs map[string]Spec
	order []string
}

func New(reg *registry.Registry, log *slog.Logger) *Supervisor {
	if log == nil {
		log = slog.Default()
	}
	return &Supervisor{reg: reg, log: log, specs: make(map[string]Spec)}
}

// Register adds a service definition. Re-registering a name replaces
// its spec but keeps its position.
func (s *Supervisor) Register(spec Spec) error {
	if spec.Name == "" {
		return errors.New("service requires name")
	}
	if spec.Command == "" {
		return fmt.Errorf("service %s requires command", spec.Name)
	}
	spec.applyDefaults()
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.specs[spec.Name]; !ok {
		s.order = append(s.order, spec.Name)
	}
	s.specs[spec.Name] = spec
	return nil
}

func (s *Supervisor) spec(name string) (Spec, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	spec, ok := s.specs[name]
	if !ok {
		return Spec{}, fmt.Errorf("unknown service %q", name)
	}
	return spec, nil
}

// Names returns service names in registration order.
func (s *Supervisor) Names() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.order))
	copy(out, s.order)
	return out
}

func (s *Supervisor) alive(spec Spec) bool {
	if !s.reg.IsAlive(spec.Name) {
		return false
	}
	for _, d := range spec.detectors() {
		ok, err := d.Alive()
		if err != nil || !ok {
			s.log.Debug("service liveness check failed", "name", spec.Name, "check", d.Describe(), "err", err)
			return false
		}
	}
	return true
}

// detectors returns the liveness checks layered on top of the
// registry's PID probe.
func (spec Spec) detectors() []detector.Detector {
	var out []detector.Detector
	if spec.CheckCommand != "" {
		out = append(out, detector.CommandDetector{Command: spec.CheckCommand})
	}
	return out
}

// Start launches the named service unless it is already running.
func (s *Supervisor) Start(name string) error {
	spec, err := s.spec(name)
	if err != nil {
		return err
	}
	if s.alive(spec) {
		s.log.Info("service already running", "name", name)
		return nil
	}
	h, err := launcher.Start(s.reg, name, launcher.Options{
		Command: spec.Command,
		WorkDir: spec.WorkDir,
		Env:     spec.Env,
		Log:     spec.Log,
	})
	if err != nil {
		return fmt.Errorf("start service %s: %w", name, err)
	}
	if !launcher.WaitForStart(s.reg, name, spec.StartTimeout) {
		if ee := h.ExitErr(); ee != nil {
			return fmt.Errorf("start service %s: %w", name, ee)
		}
		return fmt.Errorf("start service %s: did not come up within %s", name, spec.StartTimeout)
	}
	metrics.IncStart(name)
	s.log.Info("service started", "name", name, "pid", h.PID(), "log", h.LogPath())
	return nil
}

// StartAll starts every registered service in registration order,
// collecting errors rather than stopping at the first.
func (s *Supervisor) StartAll() error {
	var errs []error
	for _, name := range s.Names() {
		if err := s.Start(name); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Stop terminates the named service, escalating to SIGKILL after its
// stop timeout.
func (s *Supervisor) Stop(name string) error {
	spec, err := s.spec(name)
	if err != nil {
		return err
	}
	if !s.reg.Stop(name, spec.StopTimeout, true) {
		return fmt.Errorf("service %s: process did not exit", name)
	}
	metrics.IncStop(name)
	s.log.Info("service stopped", "name", name)
	return nil
}

// StopAll stops services in reverse registration order.
func (s *Supervisor) StopAll() error {
	names := s.Names()
	var errs []error
	for i := len(names) - 1; i >= 0; i-- {
		if err := s.Stop(names[i]); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Status reports one service.
func (s *Supervisor) Status(name string) (Status, error) {
	spec, err := s.spec(name)
	if err != nil {
		return Status{}, err
	}
	return s.statusOf(spec), nil
}

// StatusAll reports every registered service in registration order.
func (s *Supervisor) StatusAll() []Status {
	names := s.Names()
	out := make([]Status, 0, len(names))
	for _, name := range names {
		if spec, err := s.spec(name); err == nil {
			out = append(out, s.statusOf(spec))
		}
	}
	return out
}

func (s *Supervisor) statusOf(spec Spec) Status {
	st := Status{Name: spec.Name, LogPath: spec.Log.FilePath(spec.Name)}
	if s.alive(spec) {
		st.Running = true
		if pid, ok := s.reg.PID(spec.Name); ok {
			st.PID = pid
		}
	}
	return st
}

// LogPath returns the combined output log path for the named service.
func (s *Supervisor) LogPath(name string) (string, error) {
	spec, err := s.spec(name)
	if err != nil {
		return "", err
	}
	return spec.Log.FilePath(spec.Name), nil
}
