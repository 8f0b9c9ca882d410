//go:build !windows

package registry

import (
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"syscall"
	"testing"
	"time"
)

func waitUntil(timeout, step time.Duration, cond func() bool) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(step)
	}
	return false
}

func startSleeper(t *testing.T, seconds string) *exec.Cmd {
	t.Helper()
	cmd := exec.Command("sleep", seconds)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	if err := cmd.Start(); err != nil {
		t.Fatalf("start sleeper: %v", err)
	}
	t.Cleanup(func() {
		_ = syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
		_ = cmd.Wait()
	})
	return cmd
}

func TestSaveAndIsAlive(t *testing.T) {
	r := New(t.TempDir(), nil)
	cmd := startSleeper(t, "5")
	if err := r.Save("svc", cmd.Process.Pid); err != nil {
		t.Fatalf("save: %v", err)
	}
	if !r.IsAlive("svc") {
		t.Fatalf("expected live service")
	}
	pid, ok := r.PID("svc")
	if !ok || pid != cmd.Process.Pid {
		t.Fatalf("pid mismatch: got %d ok=%v want %d", pid, ok, cmd.Process.Pid)
	}
}

func TestIsAliveMissingFile(t *testing.T) {
	r := New(t.TempDir(), nil)
	if r.IsAlive("ghost") {
		t.Fatalf("missing identifier must report not alive")
	}
}

func TestStaleFileRemovedOnProbe(t *testing.T) {
	dir := t.TempDir()
	r := New(dir, nil)
	// PID near pid_max; should not exist.
	if err := r.Save("gone", 4194300); err != nil {
		t.Fatalf("save: %v", err)
	}
	if r.IsAlive("gone") {
		t.Fatalf("dead pid must report not alive")
	}
	if _, err := os.Stat(r.PIDFile("gone")); !os.IsNotExist(err) {
		t.Fatalf("stale identifier file must be deleted, stat err=%v", err)
	}
}

func TestMalformedFileRemovedOnProbe(t *testing.T) {
	dir := t.TempDir()
	r := New(dir, nil)
	path := filepath.Join(dir, "junk.pid")
	if err := os.MkdirAll(dir, 0o750); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte("garbage"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if r.IsAlive("junk") {
		t.Fatalf("garbage content must report not alive")
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("malformed identifier file must be deleted")
	}
}

func TestStopGraceful(t *testing.T) {
	r := New(t.TempDir(), nil)
	cmd := startSleeper(t, "30")
	if err := r.Save("svc", cmd.Process.Pid); err != nil {
		t.Fatalf("save: %v", err)
	}
	if !r.Stop("svc", 5*time.Second, true) {
		t.Fatalf("stop should succeed")
	}
	if r.IsAlive("svc") {
		t.Fatalf("service still alive after Stop")
	}
	if _, err := os.Stat(r.PIDFile("svc")); !os.IsNotExist(err) {
		t.Fatalf("identifier file must be gone after Stop")
	}
}

func TestStopIdempotent(t *testing.T) {
	r := New(t.TempDir(), nil)
	if !r.Stop("never-started", time.Second, true) {
		t.Fatalf("first stop of absent service should succeed")
	}
	if !r.Stop("never-started", time.Second, true) {
		t.Fatalf("second stop should also succeed")
	}
}

func TestStopForcefulIgnoresSIGTERM(t *testing.T) {
	r := New(t.TempDir(), nil)
	cmd := exec.Command("sh", "-c", "trap '' TERM; sleep 30")
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	if err := cmd.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	t.Cleanup(func() {
		_ = syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
		_ = cmd.Wait()
	})
	if err := r.Save("stubborn", cmd.Process.Pid); err != nil {
		t.Fatalf("save: %v", err)
	}
	// Give the shell a moment to install the trap.
	time.Sleep(200 * time.Millisecond)
	if !r.Stop("stubborn", time.Second, true) {
		t.Fatalf("forceful stop should succeed")
	}
	if r.IsAlive("stubborn") {
		t.Fatalf("process should be killed")
	}
}

func TestCleanupStale(t *testing.T) {
	dir := t.TempDir()
	r := New(dir, nil)
	cmd := startSleeper(t, "5")
	if err := r.Save("live", cmd.Process.Pid); err != nil {
		t.Fatalf("save live: %v", err)
	}
	if err := r.Save("dead", 4194300); err != nil {
		t.Fatalf("save dead: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "weird.pid"), []byte("zz"), 0o600); err != nil {
		t.Fatalf("write weird: %v", err)
	}
	r.CleanupStale()
	if _, err := os.Stat(r.PIDFile("live")); err != nil {
		t.Fatalf("live identifier must survive cleanup: %v", err)
	}
	for _, name := range []string{"dead", "weird"} {
		if _, err := os.Stat(r.PIDFile(name)); !os.IsNotExist(err) {
			t.Fatalf("%s identifier must be removed by cleanup", name)
		}
	}
}

func TestStopAfterProcessExits(t *testing.T) {
	r := New(t.TempDir(), nil)
	cmd := startSleeper(t, "0.1")
	if err := r.Save("quick", cmd.Process.Pid); err != nil {
		t.Fatalf("save: %v", err)
	}
	_ = cmd.Wait()
	ok := waitUntil(2*time.Second, 50*time.Millisecond, func() bool {
		return r.Stop("quick", time.Second, true)
	})
	if !ok {
		t.Fatalf("stop of exited process should succeed")
	}
	if r.IsAlive("quick") {
		t.Fatalf("expected not alive after stop")
	}
}

func TestSaveOverwrite(t *testing.T) {
	r := New(t.TempDir(), nil)
	cmd := startSleeper(t, "5")
	if err := r.Save("svc", cmd.Process.Pid); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := r.Save("svc", cmd.Process.Pid); err != nil {
		t.Fatalf("overwrite save: %v", err)
	}
	data, err := os.ReadFile(r.PIDFile("svc"))
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if got, _ := strconv.Atoi(string(data)); got != cmd.Process.Pid {
		t.Fatalf("pid file content mismatch: %q", data)
	}
}
