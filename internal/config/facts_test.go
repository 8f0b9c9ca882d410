package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestWriteFactsRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "facts", "tunnel.env")
	if err := WriteFacts(path, "https://playit.gg/claim/abc", "tcp://1.2.3.4:5000"); err != nil {
		t.Fatalf("write facts: %v", err)
	}
	claim, addr, err := ReadFacts(path)
	if err != nil {
		t.Fatalf("read facts: %v", err)
	}
	if claim != "https://playit.gg/claim/abc" || addr != "tcp://1.2.3.4:5000" {
		t.Fatalf("round trip mismatch: %q %q", claim, addr)
	}
}

func TestWriteFactsPreservesOtherKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tunnel.env")
	if err := os.WriteFile(path, []byte("OTHER=keepme\n"), 0o600); err != nil {
		t.Fatalf("seed file: %v", err)
	}
	if err := WriteFacts(path, "https://playit.gg/claim/x", ""); err != nil {
		t.Fatalf("write facts: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	if !strings.Contains(string(data), "OTHER=keepme") {
		t.Fatalf("unrelated key lost: %s", data)
	}
	if !strings.Contains(string(data), FactClaimURL+"=https://playit.gg/claim/x") {
		t.Fatalf("claim fact missing: %s", data)
	}
}

func TestWriteFactsEmptyValueRemovesKey(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tunnel.env")
	if err := WriteFacts(path, "https://playit.gg/claim/x", "tcp://1.2.3.4:5"); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := WriteFacts(path, "", "tcp://1.2.3.4:5"); err != nil {
		t.Fatalf("rewrite: %v", err)
	}
	claim, addr, err := ReadFacts(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if claim != "" {
		t.Fatalf("claim should be removed, got %q", claim)
	}
	if addr != "tcp://1.2.3.4:5" {
		t.Fatalf("address lost: %q", addr)
	}
}

func TestReadFactsMissingFile(t *testing.T) {
	claim, addr, err := ReadFacts(filepath.Join(t.TempDir(), "absent.env"))
	if err != nil {
		t.Fatalf("missing file should not error: %v", err)
	}
	if claim != "" || addr != "" {
		t.Fatalf("expected empty facts, got %q %q", claim, addr)
	}
}
