//go:build !windows

package launcher

import (
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/marodse/burrow/internal/logger"
	"github.com/marodse/burrow/internal/registry"
)

// Options describes a child process to launch under supervision.
type Options struct {
	Command string        // command line; shell is used only when metacharacters require it
	WorkDir string        // optional working dir
	Env     []string      // optional extra KEY=VALUE entries appended to the OS env
	Log     logger.Config // combined stdout+stderr destination
}

// Handle tracks a launched child until it is reaped.
type Handle struct {
	mu      sync.Mutex
	cmd     *exec.Cmd
	logPath string
	exited  bool
	exitErr error
	done    chan struct{}
}

// PID returns the child's process id.
func (h *Handle) PID() int { return h.cmd.Process.Pid }

// LogPath returns the resolved combined log file, or "" when unconfigured.
func (h *Handle) LogPath() string { return h.logPath }

// Done is closed once the child has been reaped.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Exited reports whether the child has been reaped.
func (h *Handle) Exited() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.exited
}

// ExitErr returns the wait error after exit, nil while running.
func (h *Handle) ExitErr() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.exitErr
}

// BuildCommand constructs an *exec.Cmd for the given command line.
// It avoids invoking a shell when not necessary and honors an explicit
// "sh -c ..." prefix without double-wrapping.
func BuildCommand(cmdStr string) *exec.Cmd {
	cmdStr = strings.TrimSpace(cmdStr)
	if cmdStr == "" {
		// #nosec G204
		return exec.Command("/bin/true")
	}
	if after, ok := parseExplicitShell(cmdStr); ok {
		// #nosec G204
		return exec.Command("/bin/sh", "-c", after)
	}
	if strings.ContainsAny(cmdStr, "|&;<>*?`$\"'(){}[]~") {
		// #nosec G204
		return exec.Command("/bin/sh", "-c", cmdStr)
	}
	parts := strings.Fields(cmdStr)
	name := parts[0]
	var args []string
	if len(parts) > 1 {
		args = parts[1:]
	}
	// #nosec G204
	return exec.Command(name, args...)
}

// parseExplicitShell detects "sh -c <ARG>" style prefixes so the script
// argument is passed to the shell verbatim.
func parseExplicitShell(cmdStr string) (string, bool) {
	trim := strings.TrimLeft(cmdStr, " \t")
	for _, p := range []string{"sh -c ", "/bin/sh -c ", "/usr/bin/sh -c "} {
		if strings.HasPrefix(trim, p) {
			after := trim[len(p):]
			if n := len(after); n >= 2 {
				if (after[0] == '\'' && after[n-1] == '\'') || (after[0] == '"' && after[n-1] == '"') {
					after = after[1 : n-1]
				}
			}
			return after, true
		}
	}
	return "", false
}

// Start launches the command detached from the supervisor's process
// group, with stdout and stderr merged into the configured append-only
// log, and records the PID through the registry before returning.
func Start(reg *registry.Registry, name string, opts Options) (*Handle, error) {
	cmd := BuildCommand(opts.Command)
	if opts.WorkDir != "" {
		cmd.Dir = opts.WorkDir
	}
	if len(opts.Env) > 0 {
		cmd.Env = append(os.Environ(), opts.Env...)
	}
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	w, logPath, err := opts.Log.Writer(name)
	if err != nil {
		return nil, fmt.Errorf("open log for %s: %w", name, err)
	}
	if w != nil {
		cmd.Stdout = w
		cmd.Stderr = w
	} else {
		null, _ := os.OpenFile(os.DevNull, os.O_RDWR, 0)
		cmd.Stdout = null
		cmd.Stderr = null
	}

	if err := cmd.Start(); err != nil {
		if w != nil {
			_ = w.Close()
		}
		return nil, fmt.Errorf("start %s: %w", name, err)
	}
	if err := reg.Save(name, cmd.Process.Pid); err != nil {
		// Without a recorded PID the child would be unreachable by any
		// later Stop, so tear it down before reporting the failure.
		if kerr := syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL); kerr != nil {
			_ = cmd.Process.Kill()
		}
		_ = cmd.Wait()
		if w != nil {
			_ = w.Close()
		}
		return nil, fmt.Errorf("record pid for %s: %w", name, err)
	}

	h := &Handle{cmd: cmd, logPath: logPath, done: make(chan struct{})}
	go h.reap(w)
	return h, nil
}

func (h *Handle) reap(w io.Closer) {
	err := h.cmd.Wait()
	h.mu.Lock()
	h.exited = true
	h.exitErr = err
	h.mu.Unlock()
	if w != nil {
		_ = w.Close()
	}
	close(h.done)
}

// WaitForStart polls the registry until the named process is confirmed
// alive or the timeout elapses.
func WaitForStart(reg *registry.Registry, name string, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if reg.IsAlive(name) {
			return true
		}
		time.Sleep(200 * time.Millisecond)
	}
	return reg.IsAlive(name)
}
