package natsserver

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/liks79/langbridge-liveloop-app/internal/config"
	"github.com/nats-io/nats-server/v2/server"
)

const (
	readyTimeout = 5 * time.Second
	// API events are small and kept for a week; cap the on-disk stream store.
	maxStoreBytes = 256 << 20
)

// EmbeddedServer runs an in-process NATS server so the edge API can emit
// API events without external infrastructure.
type EmbeddedServer struct {
	ns  *server.Server
	log *slog.Logger
}

// Start creates and starts an embedded NATS server with JetStream enabled.
// It returns nil when the bus is not configured as embedded.
func Start(cfg config.BusConfig, log *slog.Logger) (*EmbeddedServer, error) {
	if !cfg.Enabled || !cfg.Embedded {
		return nil, nil
	}

	opts := &server.Options{
		ServerName:        "langbridge-bus",
		Host:              "127.0.0.1",
		Port:              cfg.Port,
		JetStream:         true,
		JetStreamMaxStore: maxStoreBytes,
		StoreDir:          cfg.StoreDir,
		NoSigs:            true,
	}

	ns, err := server.NewServer(opts)
	if err != nil {
		return nil, fmt.Errorf("create embedded NATS server: %w", err)
	}

	go ns.Start()

	if !ns.ReadyForConnections(readyTimeout) {
		ns.Shutdown()
		return nil, fmt.Errorf("embedded NATS server not ready after %s", readyTimeout)
	}

	log = log.With(slog.String("component", "natsserver"))
	log.Info("embedded bus started",
		slog.String("url", ns.ClientURL()),
		slog.String("store_dir", cfg.StoreDir))

	return &EmbeddedServer{
		ns:  ns,
		log: log,
	}, nil
}

// ClientURL is the address clients should dial.
func (e *EmbeddedServer) ClientURL() string {
	return e.ns.ClientURL()
}

// Shutdown gracefully shuts down the embedded NATS server.
func (e *EmbeddedServer) Shutdown() {
	if e == nil || e.ns == nil {
		return
	}
	e.log.Info("stopping embedded bus")
	e.ns.Shutdown()
	e.ns.WaitForShutdown()
}
