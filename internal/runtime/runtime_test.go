package runtime

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/loqalabs/loqa-voice/internal/config"
	"github.com/loqalabs/loqa-voice/internal/protocol"
)

func testConfig(t *testing.T) config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Telemetry.TraceStdout = false
	cfg.Inference.Mode = "mock"
	cfg.Inference.Warmup = true
	cfg.EventStore.RetentionMode = "persistent"
	cfg.EventStore.Path = filepath.Join(t.TempDir(), "journal.db")
	return cfg
}

func startTestRuntime(t *testing.T, cfg config.Config) (*Runtime, *httptest.Server) {
	t.Helper()
	r := New(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	handler, err := r.setup(context.Background())
	if err != nil {
		t.Fatalf("setup: %v", err)
	}
	srv := httptest.NewServer(handler)
	t.Cleanup(func() {
		srv.Close()
		_ = r.teardown(context.Background())
	})
	return r, srv
}

func get(t *testing.T, url string) (int, string) {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, string(body)
}

func TestRuntimeServesSpeechAndJournals(t *testing.T) {
	_, srv := startTestRuntime(t, testConfig(t))

	if code, _ := get(t, srv.URL+"/healthz"); code != http.StatusOK {
		t.Fatalf("healthz = %d", code)
	}
	if code, _ := get(t, srv.URL+"/readyz"); code != http.StatusOK {
		t.Fatalf("readyz = %d", code)
	}

	resp, err := http.Post(srv.URL+"/v1/audio/speech", "application/json",
		strings.NewReader(`{"model":"vui","input":"Hello from the runtime."}`))
	if err != nil {
		t.Fatal(err)
	}
	audio, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK || !bytes.HasPrefix(audio, []byte("RIFF")) {
		t.Fatalf("unexpected speech response %d (%d bytes)", resp.StatusCode, len(audio))
	}

	code, body := get(t, srv.URL+"/v1/synthesis/journal?limit=5")
	if code != http.StatusOK {
		t.Fatalf("journal = %d", code)
	}
	var journal journalResponse
	if err := json.Unmarshal([]byte(body), &journal); err != nil {
		t.Fatal(err)
	}
	if journal.Total != 1 || journal.Failures != 0 || len(journal.Recent) != 1 {
		t.Fatalf("unexpected journal %+v", journal)
	}
	if e := journal.Recent[0]; e.Bytes != len(audio) || e.Format != "wav" || e.RequestID == "" {
		t.Fatalf("unexpected journal entry %+v", e)
	}

	code, body = get(t, srv.URL+"/metrics")
	if code != http.StatusOK || !strings.Contains(body, "loqa_synthesis_requests") {
		t.Fatalf("metrics missing synthesis counter (status %d)", code)
	}

	if code, _ := get(t, srv.URL+"/v1/openapi.json"); code != http.StatusOK {
		t.Fatalf("openapi = %d", code)
	}
}

func TestRuntimePublishesSynthesisEvents(t *testing.T) {
	cfg := testConfig(t)
	cfg.Bus.Enabled = true
	cfg.Bus.Embedded = true
	cfg.Bus.Port = -1
	cfg.Bus.StoreDir = t.TempDir()
	r, srv := startTestRuntime(t, cfg)

	sub, err := r.bus.Conn().SubscribeSync(protocol.SubjectSynthesisFailed)
	if err != nil {
		t.Fatal(err)
	}
	if err := r.bus.Conn().Flush(); err != nil {
		t.Fatal(err)
	}

	resp, err := http.Post(srv.URL+"/v1/audio/speech", "application/json", strings.NewReader(`{"input":""}`))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}

	msg, err := sub.NextMsg(2 * time.Second)
	if err != nil {
		t.Fatalf("no failure event: %v", err)
	}
	var evt protocol.SynthesisEvent
	if err := json.Unmarshal(msg.Data, &evt); err != nil {
		t.Fatal(err)
	}
	if evt.RequestID == "" || evt.Error != "input must be 1-4096 characters" {
		t.Fatalf("unexpected event %+v", evt)
	}
}

func TestJournalEphemeralIsEmpty(t *testing.T) {
	cfg := testConfig(t)
	cfg.EventStore.RetentionMode = "ephemeral"
	_, srv := startTestRuntime(t, cfg)

	resp, err := http.Post(srv.URL+"/v1/audio/speech", "application/json", strings.NewReader(`{"input":"Not kept."}`))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()

	code, body := get(t, srv.URL+"/v1/synthesis/journal")
	if code != http.StatusOK {
		t.Fatalf("journal = %d", code)
	}
	var journal journalResponse
	if err := json.Unmarshal([]byte(body), &journal); err != nil {
		t.Fatal(err)
	}
	if journal.Retention != "ephemeral" || journal.Total != 0 || len(journal.Recent) != 0 {
		t.Fatalf("expected empty journal, got %+v", journal)
	}
}

func TestJournalRejectsBadLimit(t *testing.T) {
	_, srv := startTestRuntime(t, testConfig(t))
	if code, _ := get(t, srv.URL+"/v1/synthesis/journal?limit=zero"); code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", code)
	}
}
