//go:build !windows

package launcher

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/marodse/burrow/internal/logger"
	"github.com/marodse/burrow/internal/registry"
)

func TestStartRecordsPIDAndMergesOutput(t *testing.T) {
	dir := t.TempDir()
	reg := registry.New(filepath.Join(dir, "run"), nil)
	h, err := Start(reg, "echoer", Options{
		Command: "sh -c 'echo to-stdout; echo to-stderr 1>&2'",
		Log:     logger.Config{Dir: filepath.Join(dir, "log")},
	})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	select {
	case <-h.Done():
	case <-time.After(3 * time.Second):
		t.Fatalf("child did not exit")
	}
	if !h.Exited() {
		t.Fatalf("Exited should be true after Done")
	}
	data, err := os.ReadFile(h.LogPath())
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	out := string(data)
	if !strings.Contains(out, "to-stdout") || !strings.Contains(out, "to-stderr") {
		t.Fatalf("merged log missing streams: %q", out)
	}
	// PID file was written at launch; the process has exited by now so a
	// probe reports not alive and cleans up.
	if reg.IsAlive("echoer") {
		t.Fatalf("exited child must not be alive")
	}
}

func TestStartAppendsToExistingLog(t *testing.T) {
	dir := t.TempDir()
	reg := registry.New(filepath.Join(dir, "run"), nil)
	logPath := filepath.Join(dir, "svc.log")
	if err := os.WriteFile(logPath, []byte("previous run\n"), 0o600); err != nil {
		t.Fatalf("seed log: %v", err)
	}
	h, err := Start(reg, "svc", Options{
		Command: "echo fresh",
		Log:     logger.Config{Path: logPath},
	})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	<-h.Done()
	data, _ := os.ReadFile(logPath)
	if !strings.Contains(string(data), "previous run") || !strings.Contains(string(data), "fresh") {
		t.Fatalf("log must be appended, not truncated: %q", data)
	}
}

func TestStartMissingBinary(t *testing.T) {
	reg := registry.New(t.TempDir(), nil)
	if _, err := Start(reg, "nope", Options{Command: "/definitely/not/here"}); err == nil {
		t.Fatalf("expected error for missing binary")
	}
}

func TestWaitForStart(t *testing.T) {
	dir := t.TempDir()
	reg := registry.New(filepath.Join(dir, "run"), nil)
	h, err := Start(reg, "sleeper", Options{Command: "sleep 3"})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	defer func() { reg.Stop("sleeper", time.Second, true); <-h.Done() }()
	if !WaitForStart(reg, "sleeper", 2*time.Second) {
		t.Fatalf("WaitForStart should confirm a running child")
	}
}

func TestWaitForStartTimeout(t *testing.T) {
	reg := registry.New(t.TempDir(), nil)
	start := time.Now()
	if WaitForStart(reg, "ghost", 400*time.Millisecond) {
		t.Fatalf("WaitForStart should fail for absent service")
	}
	if time.Since(start) < 350*time.Millisecond {
		t.Fatalf("WaitForStart returned before its timeout")
	}
}

func TestBuildCommandShellDetection(t *testing.T) {
	if got := BuildCommand("echo hi").Args; len(got) != 2 || got[0] != "echo" {
		t.Fatalf("plain command should not be shell-wrapped: %v", got)
	}
	if got := BuildCommand("echo hi > /tmp/x").Args; got[0] != "/bin/sh" {
		t.Fatalf("redirection needs a shell: %v", got)
	}
	got := BuildCommand("sh -c 'echo hi'").Args
	if got[0] != "/bin/sh" || got[2] != "echo hi" {
		t.Fatalf("explicit shell must not be double-wrapped: %v", got)
	}
}

func TestStartKillsChildWhenPIDUnrecordable(t *testing.T) {
	dir := t.TempDir()
	// Occupy the run dir path with a regular file so the PID cannot be
	// recorded after the child has started.
	runPath := filepath.Join(dir, "run")
	if err := os.WriteFile(runPath, []byte("not a dir"), 0o600); err != nil {
		t.Fatalf("seed file: %v", err)
	}
	reg := registry.New(runPath, nil)
	begin := time.Now()
	_, err := Start(reg, "stuck", Options{
		Command: "sleep 30",
		Log:     logger.Config{Dir: filepath.Join(dir, "log")},
	})
	if err == nil {
		t.Fatalf("expected error when the pid file cannot be written")
	}
	// Start reaps the killed child before returning; a survivor would
	// show up here as a 30 second block.
	if elapsed := time.Since(begin); elapsed > 10*time.Second {
		t.Fatalf("start blocked for %s, child apparently not killed", elapsed)
	}
}
