package history

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func TestSQLSinkEmptyDSN(t *testing.T) {
	if _, err := NewSQLSinkFromDSN("   "); err == nil {
		t.Fatalf("empty DSN must fail")
	}
}

func TestSQLSinkSQLiteRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.db")
	s, err := NewSQLSinkFromDSN("sqlite://" + path)
	if err != nil {
		t.Fatalf("open sink: %v", err)
	}
	defer func() { _ = s.Close() }()

	ctx := context.Background()
	events := []Event{
		{Type: EventStarted, OccurredAt: time.Now(), Service: "playit", PID: 100},
		{Type: EventClaimDetected, OccurredAt: time.Now(), Service: "playit", PID: 100, Detail: "https://playit.gg/claim/abc123"},
		{Type: EventConnected, OccurredAt: time.Now(), Service: "playit", PID: 100, Detail: "tcp://1.2.3.4:5000"},
		{Type: EventStopped, OccurredAt: time.Now(), Service: "playit", PID: 100},
	}
	for _, e := range events {
		if err := s.Send(ctx, e); err != nil {
			t.Fatalf("send %s: %v", e.Type, err)
		}
	}

	got, err := s.Recent(ctx, "playit", 10)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(got) != len(events) {
		t.Fatalf("expected %d events, got %d", len(events), len(got))
	}
	// newest first
	if got[0].Type != EventStopped {
		t.Fatalf("expected newest first, got %s", got[0].Type)
	}
	if got[2].Detail != "https://playit.gg/claim/abc123" {
		t.Fatalf("claim detail mismatch: %q", got[2].Detail)
	}
}

func TestSQLSinkPlainPathDefaultsToSQLite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "plain.db")
	s, err := NewSQLSinkFromDSN(path)
	if err != nil {
		t.Fatalf("open sink: %v", err)
	}
	defer func() { _ = s.Close() }()
	if s.dialect != "sqlite" {
		t.Fatalf("plain path should map to sqlite, got %s", s.dialect)
	}
	if err := s.Send(context.Background(), Event{Type: EventStarted, OccurredAt: time.Now(), Service: "x", PID: 1}); err != nil {
		t.Fatalf("send: %v", err)
	}
}

func TestSQLSinkRecentLimit(t *testing.T) {
	s, err := NewSQLSinkFromDSN(":memory:")
	if err != nil {
		t.Fatalf("open sink: %v", err)
	}
	defer func() { _ = s.Close() }()
	ctx := context.Background()
	for i := 0; i < 10; i++ {
		if err := s.Send(ctx, Event{Type: EventReconnect, OccurredAt: time.Now(), Service: "playit", PID: i}); err != nil {
			t.Fatalf("send: %v", err)
		}
	}
	got, err := s.Recent(ctx, "playit", 3)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("limit not applied: %d", len(got))
	}
}

func TestSQLSinkRecentEmptyFilterSpansServices(t *testing.T) {
	s, err := NewSQLSinkFromDSN(":memory:")
	if err != nil {
		t.Fatalf("open sink: %v", err)
	}
	defer func() { _ = s.Close() }()
	ctx := context.Background()
	for _, svc := range []string{"playit", "minecraft"} {
		if err := s.Send(ctx, Event{Type: EventStarted, OccurredAt: time.Now(), Service: svc, PID: 7}); err != nil {
			t.Fatalf("send %s: %v", svc, err)
		}
	}

	got, err := s.Recent(ctx, "", 10)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("empty filter should span services, got %d events", len(got))
	}

	got, err = s.Recent(ctx, "minecraft", 10)
	if err != nil {
		t.Fatalf("recent filtered: %v", err)
	}
	if len(got) != 1 || got[0].Service != "minecraft" {
		t.Fatalf("filter not applied: %+v", got)
	}
}
