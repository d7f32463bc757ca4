package eventstore

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/loqalabs/loqa-voice/internal/config"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func openPersistent(t *testing.T, cfg config.EventStoreConfig) *Store {
	t.Helper()
	cfg.Path = filepath.Join(t.TempDir(), "journal.db")
	cfg.RetentionMode = RetentionPersistent
	es, err := Open(context.Background(), cfg, newLogger())
	if err != nil {
		t.Fatalf("open journal: %v", err)
	}
	t.Cleanup(func() { _ = es.Close() })
	return es
}

func TestOpenEphemeral(t *testing.T) {
	es, err := Open(context.Background(), config.EventStoreConfig{RetentionMode: RetentionEphemeral}, newLogger())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	t.Cleanup(func() { _ = es.Close() })
	if err := es.Record(context.Background(), Entry{RequestID: "r1"}); err != nil {
		t.Fatalf("record should be a no-op: %v", err)
	}
	entries, err := es.Recent(context.Background(), 10)
	if err != nil || entries != nil {
		t.Fatalf("expected no entries, got %v %v", entries, err)
	}
}

func TestRecordAndQuery(t *testing.T) {
	es := openPersistent(t, config.EventStoreConfig{})
	ctx := context.Background()

	if err := es.Record(ctx, Entry{RequestID: "r1", Format: "wav", Chars: 12, Bytes: 4410, Latency: 250 * time.Millisecond}); err != nil {
		t.Fatalf("record: %v", err)
	}
	if err := es.Record(ctx, Entry{RequestID: "r2", Format: "mp3", Stream: true, Fallback: true, Bytes: 900}); err != nil {
		t.Fatalf("record: %v", err)
	}
	if err := es.Record(ctx, Entry{RequestID: "r3", Format: "wav", Error: "render failed: a. Fallback failed: b"}); err != nil {
		t.Fatalf("record: %v", err)
	}

	entries, err := es.Recent(ctx, 10)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(entries) != 3 || entries[0].RequestID != "r3" {
		t.Fatalf("unexpected entries %+v", entries)
	}
	if entries[2].Latency != 250*time.Millisecond || entries[2].Chars != 12 {
		t.Fatalf("round trip lost fields: %+v", entries[2])
	}
	if !entries[1].Stream || !entries[1].Fallback {
		t.Fatalf("bool fields not persisted: %+v", entries[1])
	}

	st, err := es.Stats(ctx)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if st != (Stats{Total: 3, Fallbacks: 1, Failures: 1}) {
		t.Fatalf("unexpected stats %+v", st)
	}
}

func TestRecordRequiresRequestID(t *testing.T) {
	es := openPersistent(t, config.EventStoreConfig{})
	if err := es.Record(context.Background(), Entry{Format: "wav"}); err == nil {
		t.Fatal("expected error without request id")
	}
}

func TestPruneByDaysAndCount(t *testing.T) {
	es := openPersistent(t, config.EventStoreConfig{RetentionDays: 1, MaxEvents: 2})
	ctx := context.Background()

	es.clock = func() time.Time { return time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC) }
	if err := es.Record(ctx, Entry{RequestID: "old", Format: "wav"}); err != nil {
		t.Fatal(err)
	}
	es.clock = func() time.Time { return time.Date(2025, 1, 3, 0, 0, 0, 0, time.UTC) }
	for _, id := range []string{"a", "b", "c"} {
		if err := es.Record(ctx, Entry{RequestID: id, Format: "wav"}); err != nil {
			t.Fatal(err)
		}
	}
	if err := es.Prune(ctx); err != nil {
		t.Fatalf("prune: %v", err)
	}

	entries, err := es.Recent(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 || entries[0].RequestID != "c" || entries[1].RequestID != "b" {
		t.Fatalf("unexpected entries after prune %+v", entries)
	}
}
