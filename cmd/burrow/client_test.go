package main

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func newStubDaemon(t *testing.T, handler http.HandlerFunc) *APIClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewAPIClient(srv.URL, 2*time.Second)
}

func TestIsReachable(t *testing.T) {
	c := newStubDaemon(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/status" {
			_, _ = w.Write([]byte(`{"tunnel":{"state":"stopped"}}`))
			return
		}
		w.WriteHeader(http.StatusNotFound)
	})
	if !c.IsReachable() {
		t.Fatalf("daemon should be reachable")
	}
	down := NewAPIClient("http://127.0.0.1:1", time.Second)
	if down.IsReachable() {
		t.Fatalf("closed port should not be reachable")
	}
}

func TestStartTunnelDecodesStatus(t *testing.T) {
	c := newStubDaemon(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/tunnel/start" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_, _ = w.Write([]byte(`{"state":"waiting_claim","claim_url":"https://playit.gg/claim/x"}`))
	})
	raw, err := c.StartTunnel()
	if err != nil {
		t.Fatalf("start tunnel: %v", err)
	}
	if len(raw) == 0 {
		t.Fatalf("empty response body")
	}
}

func TestErrorResponsesSurfaceDaemonMessage(t *testing.T) {
	c := newStubDaemon(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte(`{"error":"agent exited before becoming ready"}`))
	})
	_, err := c.StartTunnel()
	if err == nil {
		t.Fatalf("expected error")
	}
	if want := "agent exited before becoming ready"; !strings.Contains(err.Error(), want) {
		t.Fatalf("error %q should contain %q", err.Error(), want)
	}
}

func TestStartServiceBuildsQuery(t *testing.T) {
	var gotPath, gotQuery string
	c := newStubDaemon(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotQuery = r.URL.RawQuery
		_, _ = w.Write([]byte(`{"ok":true}`))
	})
	if err := c.StartService("minecraft"); err != nil {
		t.Fatalf("start service: %v", err)
	}
	if gotPath != "/services/start" || gotQuery != "name=minecraft" {
		t.Fatalf("unexpected request: %s?%s", gotPath, gotQuery)
	}
	if err := c.StartService(""); err != nil {
		t.Fatalf("start all: %v", err)
	}
	if gotQuery != "" {
		t.Fatalf("start all should send no name, got %q", gotQuery)
	}
}

func TestGetLogs(t *testing.T) {
	c := newStubDaemon(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("lines") != "5" {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":"bad lines"}`))
			return
		}
		_, _ = w.Write([]byte(`{"name":"playit","path":"/x/playit.log","lines":["a","b"]}`))
	})
	lines, err := c.GetLogs("", 5)
	if err != nil {
		t.Fatalf("get logs: %v", err)
	}
	if len(lines) != 2 || lines[0] != "a" {
		t.Fatalf("unexpected lines: %v", lines)
	}
}
