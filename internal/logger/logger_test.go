package logger

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestWriterWithDirOnly(t *testing.T) {
	dir := t.TempDir()
	cfg := Config{Dir: dir}
	w, path, err := cfg.Writer("demo")
	if err != nil {
		t.Fatalf("Writer error: %v", err)
	}
	if w == nil {
		t.Fatalf("expected writer when Dir is set")
	}
	want := filepath.Join(dir, "demo.log")
	if path != want {
		t.Fatalf("path mismatch: got %s want %s", path, want)
	}
	if _, err := w.Write([]byte("hello\n")); err != nil {
		t.Fatalf("write: %v", err)
	}
	_ = w.Close()
	if _, err := os.Stat(want); err != nil {
		t.Fatalf("log not created at %s: %v", want, err)
	}
}

func TestWriterWithExplicitPath(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "sub", "tunnel.log")
	cfg := Config{Dir: dir, Path: p}
	w, path, err := cfg.Writer("ignored-name")
	if err != nil {
		t.Fatalf("Writer error: %v", err)
	}
	if path != p {
		t.Fatalf("explicit path ignored: got %s", path)
	}
	_, _ = w.Write([]byte("x"))
	_ = w.Close()
	if _, err := os.Stat(p); err != nil {
		t.Fatalf("log not created: %v", err)
	}
}

func TestWriterUnconfigured(t *testing.T) {
	w, path, err := Config{}.Writer("demo")
	if err != nil || w != nil || path != "" {
		t.Fatalf("unconfigured logging must yield nil writer, got w=%v path=%q err=%v", w, path, err)
	}
}

func TestSetupLevels(t *testing.T) {
	var buf bytes.Buffer
	lg := Setup(&buf, "warn", false)
	lg.Info("quiet")
	lg.Warn("loud")
	out := buf.String()
	if strings.Contains(out, "quiet") {
		t.Fatalf("info should be filtered at warn level: %s", out)
	}
	if !strings.Contains(out, "loud") {
		t.Fatalf("warn message missing: %s", out)
	}
}

func TestColorHandlerAnnotatesLevel(t *testing.T) {
	var buf bytes.Buffer
	lg := slog.New(NewColorTextHandler(&buf, nil, true))
	lg.Error("boom")
	if !strings.Contains(buf.String(), "\033[31m") {
		t.Fatalf("expected red escape for error level: %q", buf.String())
	}
}
