// Package server coordinates client registration, pump lifecycle, and
// connection cleanup for the RoomChat WebSocket system via the Gateway type.
package server

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/Tyrowin/roomchat/internal/chat"
	"github.com/Tyrowin/roomchat/internal/realtime"
)

// ErrShuttingDown is returned by Register once shutdown has begun.
var ErrShuttingDown = errors.New("gateway is shutting down")

// Gateway owns the live WebSocket clients. It admits them into the realtime
// hub, runs their pumps, and evicts them when either pump stops.
type Gateway struct {
	clients    map[*Client]bool
	register   chan *Client
	unregister chan *Client
	mutex      sync.RWMutex
	wg         sync.WaitGroup
	ctx        context.Context
	cancel     context.CancelFunc
	done       chan struct{}

	cfg     *Config
	hub     *realtime.Hub
	service *chat.Service
	log     *zap.SugaredLogger
}

// NewGateway creates a gateway delivering through service's hub. Run must be
// started before clients are registered.
func NewGateway(cfg *Config, service *chat.Service, log *zap.SugaredLogger) *Gateway {
	ctx, cancel := context.WithCancel(context.Background())
	return &Gateway{
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
		cfg:        cfg,
		hub:        service.Hub(),
		service:    service,
		log:        log,
	}
}

// Hub returns the realtime hub clients are admitted into.
func (g *Gateway) Hub() *realtime.Hub { return g.hub }

// Register hands a freshly upgraded client to the run loop.
func (g *Gateway) Register(client *Client) error {
	select {
	case g.register <- client:
		return nil
	case <-g.ctx.Done():
		return ErrShuttingDown
	}
}

// unregisterClient is called by a pump on exit. After the run loop stopped
// the eviction happens inline.
func (g *Gateway) unregisterClient(client *Client) {
	select {
	case g.unregister <- client:
	case <-g.done:
		g.evict(client)
	}
}

// ClientCount returns the number of registered clients.
func (g *Gateway) ClientCount() int {
	g.mutex.RLock()
	defer g.mutex.RUnlock()
	return len(g.clients)
}

// Run starts the gateway's main event loop, handling client registration and
// unregistration. This method should be called in a separate goroutine as it
// runs until Shutdown.
func (g *Gateway) Run() {
	defer close(g.done)

	for {
		select {
		case <-g.ctx.Done():
			g.shutdownClients()
			return

		case client := <-g.register:
			if client == nil {
				g.log.Warn("Received nil client registration; skipping")
				continue
			}
			g.admit(client)

		case client := <-g.unregister:
			g.evict(client)
		}
	}
}

func (g *Gateway) admit(client *Client) {
	client.id = g.hub.Admit(client.identity, client)

	g.mutex.Lock()
	g.clients[client] = true
	clientCount := len(g.clients)
	g.mutex.Unlock()
	g.log.Infof("Client registered from %s as %s. Total clients: %d", client.addr, client.identity.Name, clientCount)

	g.wg.Add(2)
	go func() {
		defer g.wg.Done()
		client.writePump()
	}()
	go func() {
		defer g.wg.Done()
		client.readPump()
	}()
}

// evict removes the client once; repeated calls are no-ops.
func (g *Gateway) evict(client *Client) {
	g.mutex.Lock()
	if _, ok := g.clients[client]; !ok {
		g.mutex.Unlock()
		return
	}
	delete(g.clients, client)
	clientCount := len(g.clients)
	g.mutex.Unlock()

	g.hub.Evict(client.id)
	client.closeSend()
	g.log.Infof("Client unregistered from %s. Total clients: %d", client.addr, clientCount)
}

// shutdownClients closes every client connection; the pumps notice and
// unregister themselves.
func (g *Gateway) shutdownClients() {
	g.log.Info("Shutting down all client connections...")

	g.mutex.RLock()
	clients := make([]*Client, 0, len(g.clients))
	for client := range g.clients {
		clients = append(clients, client)
	}
	g.mutex.RUnlock()

	for _, client := range clients {
		if client.conn == nil {
			continue
		}
		if err := client.conn.Close(); err != nil && !isExpectedCloseError(err) {
			g.log.Warnf("Error closing client connection from %s: %v", client.addr, err)
		}
	}

	g.log.Infof("Closed %d client connections", len(clients))
}

// Shutdown initiates graceful shutdown of the gateway and waits for all pump
// goroutines to complete, or for timeout to elapse.
func (g *Gateway) Shutdown(timeout time.Duration) error {
	g.log.Info("Initiating gateway shutdown...")

	g.cancel()

	deadline := time.After(timeout)
	select {
	case <-g.done:
	case <-deadline:
		g.log.Warn("Gateway run loop did not stop before the shutdown timeout")
		return context.DeadlineExceeded
	}

	done := make(chan struct{})
	go func() {
		g.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		g.log.Info("Gateway shutdown completed successfully")
		return nil
	case <-deadline:
		g.log.Warn("Gateway shutdown timeout reached, some goroutines may still be running")
		return context.DeadlineExceeded
	}
}
