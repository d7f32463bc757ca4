package bus

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/loqalabs/loqa-voice/internal/config"
	"github.com/loqalabs/loqa-voice/internal/natsserver"
	"github.com/loqalabs/loqa-voice/internal/protocol"
)

func TestPublishJSONThroughEmbeddedServer(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := config.Default().Bus
	cfg.Enabled = true
	cfg.Embedded = true
	cfg.Port = -1
	cfg.StoreDir = t.TempDir()

	srv, err := natsserver.Start(cfg, logger)
	if err != nil {
		t.Fatalf("start embedded server: %v", err)
	}
	defer srv.Shutdown()

	cfg.Servers = []string{srv.ClientURL()}
	client, err := Connect(context.Background(), cfg, "bus-test", logger)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer client.Close()
	if !client.Healthy() {
		t.Fatal("expected healthy connection")
	}

	sub, err := client.Conn().SubscribeSync(protocol.SubjectTurnCompleted)
	if err != nil {
		t.Fatal(err)
	}
	if err := client.PublishJSON(protocol.SubjectTurnCompleted, protocol.TurnEvent{SessionID: "s1", Sentences: 3}); err != nil {
		t.Fatalf("publish: %v", err)
	}
	msg, err := sub.NextMsg(2 * time.Second)
	if err != nil {
		t.Fatalf("next msg: %v", err)
	}
	var evt protocol.TurnEvent
	if err := json.Unmarshal(msg.Data, &evt); err != nil {
		t.Fatal(err)
	}
	if evt.SessionID != "s1" || evt.Sentences != 3 {
		t.Fatalf("unexpected event %+v", evt)
	}
}

func TestPublishJSONNilClient(t *testing.T) {
	var c *Client
	if err := c.PublishJSON("x", struct{}{}); err != nil {
		t.Fatalf("nil client should be a no-op, got %v", err)
	}
}

func TestConnectRequiresServers(t *testing.T) {
	cfg := config.Default().Bus
	cfg.Servers = nil
	if _, err := Connect(context.Background(), cfg, "x", slog.New(slog.NewTextHandler(io.Discard, nil))); err == nil {
		t.Fatal("expected error without servers")
	}
}
