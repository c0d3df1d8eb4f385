package natsserver

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/liks79/langbridge-liveloop-app/internal/bus"
	"github.com/liks79/langbridge-liveloop-app/internal/config"
	"github.com/liks79/langbridge-liveloop-app/internal/protocol"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats-server/v2/server"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestStartDisabled(t *testing.T) {
	srv, err := Start(config.BusConfig{Enabled: true, Embedded: false}, newLogger())
	if err != nil || srv != nil {
		t.Fatalf("expected no server, got %v %v", srv, err)
	}
	srv.Shutdown()
}

func TestEmbeddedPublishRoundTrip(t *testing.T) {
	cfg := config.BusConfig{
		Enabled:        true,
		Embedded:       true,
		Port:           server.RANDOM_PORT,
		StoreDir:       t.TempDir(),
		ConnectTimeout: 2000,
	}
	srv, err := Start(cfg, newLogger())
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	t.Cleanup(srv.Shutdown)

	cfg.Servers = []string{srv.ClientURL()}
	client, err := bus.Connect(context.Background(), cfg, newLogger())
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(client.Close)
	if !client.Healthy() {
		t.Fatal("expected healthy client")
	}
	if err := client.EnsureStream("LANGBRIDGE_API", protocol.SubjectAPIEventPrefix+".>"); err != nil {
		t.Fatalf("ensure stream: %v", err)
	}

	msgs := make(chan *nats.Msg, 1)
	sub, err := client.Conn().ChanSubscribe(protocol.SubjectForEndpoint("tts"), msgs)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer sub.Unsubscribe()

	if err := client.PublishJSON(protocol.SubjectForEndpoint("tts"), protocol.APIEvent{Endpoint: "tts", Status: 200}); err != nil {
		t.Fatalf("publish: %v", err)
	}
	select {
	case msg := <-msgs:
		if len(msg.Data) == 0 {
			t.Fatal("expected payload")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
	}
}
