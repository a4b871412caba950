// Package natsserver runs an embedded NATS server so the bot ships as a
// single binary with no external broker.
package natsserver

import (
	"errors"
	"fmt"
	"time"

	"github.com/book-expert/logger"
	"github.com/nats-io/nats-server/v2/server"
)

const readyTimeout = 5 * time.Second

// ErrNotReady indicates the embedded server did not come up in time.
var ErrNotReady = errors.New("embedded NATS server failed to start in time")

// EmbeddedServer wraps an in-process NATS server with JetStream enabled.
type EmbeddedServer struct {
	ns  *server.Server
	log *logger.Logger
}

// Start creates and starts the embedded server. Port -1 picks a free port.
func Start(port int, storeDir string, log *logger.Logger) (*EmbeddedServer, error) {
	opts := &server.Options{
		Host:      "127.0.0.1",
		Port:      port,
		JetStream: true,
		StoreDir:  storeDir,
	}

	ns, err := server.NewServer(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create embedded NATS server: %w", err)
	}

	go ns.Start()

	if !ns.ReadyForConnections(readyTimeout) {
		ns.Shutdown()

		return nil, ErrNotReady
	}

	log.Info("Embedded NATS server started on %s", ns.ClientURL())

	return &EmbeddedServer{ns: ns, log: log}, nil
}

// ClientURL returns the URL clients should connect to.
func (e *EmbeddedServer) ClientURL() string {
	return e.ns.ClientURL()
}

// Shutdown stops the server and waits for it to exit.
func (e *EmbeddedServer) Shutdown() {
	if e == nil || e.ns == nil {
		return
	}

	e.log.Info("Shutting down embedded NATS server")
	e.ns.Shutdown()
	e.ns.WaitForShutdown()
}
