//go:build !windows

package registry

import (
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/marodse/burrow/internal/detector"
)

const pollInterval = 500 * time.Millisecond

// Registry maps logical service names to PID files kept in a single run
// directory. A PID file holds one decimal PID; absence or unparsable
// content is equivalent to "not running". Every liveness probe deletes
// a stale file on the spot, so a dead handle never outlives one check.
type Registry struct {
	dir string
	log *slog.Logger
}

func New(dir string, log *slog.Logger) *Registry {
	if log == nil {
		log = slog.Default()
	}
	return &Registry{dir: dir, log: log}
}

// Dir returns the run directory holding the PID files.
func (r *Registry) Dir() string { return r.dir }

// PIDFile returns the identifier file path for a logical service name.
func (r *Registry) PIDFile(name string) string {
	return filepath.Join(r.dir, name+".pid")
}

// Save records pid for name, creating the run directory as needed.
func (r *Registry) Save(name string, pid int) error {
	if err := os.MkdirAll(r.dir, 0o750); err != nil {
		return err
	}
	return os.WriteFile(r.PIDFile(name), []byte(strconv.Itoa(pid)), 0o600)
}

// PID returns the live PID recorded for name. ok is false when no file
// exists, the content is unparsable, or the process is gone; in the
// latter two cases the stale file is removed.
func (r *Registry) PID(name string) (pid int, ok bool) {
	return r.probe(name)
}

// IsAlive reports whether the recorded process for name still exists.
// Shares the stale-cleanup contract of PID.
func (r *Registry) IsAlive(name string) bool {
	_, ok := r.probe(name)
	return ok
}

func (r *Registry) probe(name string) (int, bool) {
	path := r.PIDFile(name)
	pid, alive, err := detector.PIDFileDetector{PIDFile: path}.Probe()
	switch {
	case err != nil:
		r.log.Debug("removing unparsable pid file", "service", name, "path", path)
		_ = os.Remove(path)
		return 0, false
	case alive:
		return pid, true
	case pid > 0:
		// Present but dead or recycled.
		r.log.Debug("removing stale pid file", "service", name, "pid", pid)
		_ = os.Remove(path)
		return 0, false
	default:
		return 0, false
	}
}

// Stop terminates the recorded process for name. It sends SIGTERM and
// polls liveness until timeout; if the process survives and forceful is
// set it escalates to SIGKILL. Returns true once the process is gone
// and the identifier file is removed. Stopping an already-stopped
// service is a success.
func (r *Registry) Stop(name string, timeout time.Duration, forceful bool) bool {
	pid, ok := r.probe(name)
	if !ok {
		return true
	}
	r.log.Info("stopping service", "service", name, "pid", pid)
	signalProcess(pid, syscall.SIGTERM)

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if !detector.PIDAlive(pid) {
			_ = os.Remove(r.PIDFile(name))
			return true
		}
		time.Sleep(pollInterval)
	}

	if !forceful {
		r.log.Warn("service did not stop within timeout", "service", name, "pid", pid)
		return false
	}
	r.log.Warn("escalating to SIGKILL", "service", name, "pid", pid)
	signalProcess(pid, syscall.SIGKILL)
	time.Sleep(time.Second)
	_ = os.Remove(r.PIDFile(name))
	return true
}

// CleanupStale scans the run directory and removes identifier files
// whose process no longer exists.
func (r *Registry) CleanupStale() {
	entries, err := os.ReadDir(r.dir)
	if err != nil {
		return
	}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".pid") {
			continue
		}
		name := strings.TrimSuffix(e.Name(), ".pid")
		if !r.IsAlive(name) {
			r.log.Debug("cleaned stale pid file", "service", name)
		}
	}
}

// signalProcess signals the process group when the target leads one,
// falling back to the single process. Children are launched with
// Setpgid so the group form reaches their descendants too.
func signalProcess(pid int, sig syscall.Signal) {
	if err := syscall.Kill(-pid, sig); err != nil {
		_ = syscall.Kill(pid, sig)
	}
}
