//go:build !windows

package detector

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"syscall"
)

// PIDAlive returns true if a process with the given pid exists (or EPERM).
func PIDAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := syscall.Kill(pid, 0)
	return err == nil || errors.Is(err, syscall.EPERM)
}

// PIDFileDetector detects a process via a PID file containing a single
// decimal PID. Malformed content is reported as an error so callers can
// treat the file as stale.
type PIDFileDetector struct {
	PIDFile string
}

// Probe reads the PID file and reports the recorded PID together with
// whether that process is still the one the file was written for. A
// missing file yields (0, false, nil); a dead or recycled PID is
// returned with alive=false so callers can log what went stale.
func (d PIDFileDetector) Probe() (pid int, alive bool, err error) {
	data, err := os.ReadFile(d.PIDFile)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, false, nil
		}
		return 0, false, err
	}
	pid, err = strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, false, fmt.Errorf("invalid pid in %s: %w", d.PIDFile, err)
	}
	if !PIDAlive(pid) {
		return pid, false, nil
	}
	// Guard against PID reuse: a process born after the PID file was
	// written cannot be the one the file recorded. One second of slack
	// covers start-time rounding.
	if st, serr := os.Stat(d.PIDFile); serr == nil {
		if born := ProcStartUnix(pid); born > 0 && born > st.ModTime().Unix()+1 {
			return pid, false, nil
		}
	}
	return pid, true, nil
}

func (d PIDFileDetector) Alive() (bool, error) {
	_, alive, err := d.Probe()
	return alive, err
}

func (d PIDFileDetector) Describe() string { return "pidfile:" + d.PIDFile }
