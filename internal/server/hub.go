// Package server coordinates connection registration, identity resolution,
// presence broadcasting, and connection cleanup for the Tether WebSocket
// system via the Hub type.
package server

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Hub is the in-memory registry of live WebSocket connections. It tags each
// connection with its resolved identity, answers snapshot queries for targeted
// delivery, and pushes the online-set to every connection whenever membership
// changes. All mutation is funneled through the hub so no caller ever observes
// a connection mid-construction or mid-teardown.
type Hub struct {
	clients    map[*Client]bool
	register   chan *Client
	unregister chan *Client
	mutex      sync.RWMutex
	wg         sync.WaitGroup
	ctx        context.Context
	cancel     context.CancelFunc
	done       chan struct{}
	log        *zap.SugaredLogger
}

// NewHub creates and initializes a new Hub instance with all necessary
// channels and the client map. The returned Hub is ready to manage
// WebSocket connections once Run is started.
func NewHub(log *zap.SugaredLogger) *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
		log:        log,
	}
}

// GetRegisterChan returns the channel used for registering new clients to the hub.
// This channel is write-only from the caller's perspective.
func (h *Hub) GetRegisterChan() chan<- *Client {
	return h.register
}

// GetUnregisterChan returns the channel used for unregistering clients from the hub.
// This channel is write-only from the caller's perspective.
func (h *Hub) GetUnregisterChan() chan<- *Client {
	return h.unregister
}

// Run starts the hub's main event loop, handling client registration and
// unregistration. Every membership change is followed by a presence broadcast
// computed after the change, so no client ever sees a dead connection listed
// as online. This method should be called in a separate goroutine as it runs
// indefinitely.
func (h *Hub) Run() {
	defer close(h.done)

	for {
		select {
		case <-h.ctx.Done():
			h.shutdownClients()
			return

		case client := <-h.register:
			if client == nil {
				h.log.Warn("received nil client registration; skipping")
				continue
			}

			h.mutex.Lock()
			client.closed = false
			h.clients[client] = true
			clientCount := len(h.clients)
			h.mutex.Unlock()
			h.log.Infow("client registered", "addr", client.addr, "total", clientCount)

			// A client without a transport gets no pumps or liveness probing.
			if client.conn != nil {
				h.wg.Add(2)
				go func() {
					defer h.wg.Done()
					client.writePump()
				}()
				go func() {
					defer h.wg.Done()
					client.readPump()
				}()
				if client.heartbeat != nil {
					h.wg.Add(1)
					go func() {
						defer h.wg.Done()
						client.heartbeat.run()
					}()
				}
			}

			h.BroadcastPresence()

		case client := <-h.unregister:
			h.mutex.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				client.closed = true
				clientCount := len(h.clients)
				h.mutex.Unlock()
				// Close the channel after releasing the lock.
				close(client.send)
				if client.heartbeat != nil {
					client.heartbeat.stop()
				}
				h.log.Infow("client unregistered", "addr", client.addr, "total", clientCount)

				h.BroadcastPresence()
			} else {
				h.mutex.Unlock()
			}
		}
	}
}

// requestUnregister asks the hub to remove a client without blocking forever
// when the hub is already shutting down. Safe to call more than once for the
// same client.
func (h *Hub) requestUnregister(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.ctx.Done():
	}
}

// ResolveIdentity tags a connection with the identity yielded by a successful
// credential check and rebroadcasts presence. Calling it again with the same
// identity is a no-op.
func (h *Hub) ResolveIdentity(c *Client, userID, username string) {
	h.mutex.Lock()
	if c.userID == userID && c.username == username {
		h.mutex.Unlock()
		return
	}
	c.userID = userID
	c.username = username
	h.mutex.Unlock()

	h.log.Infow("identity resolved", "addr", c.addr, "userId", userID, "username", username)
	h.BroadcastPresence()
}

// Snapshot returns a consistent point-in-time view of every live connection.
func (h *Hub) Snapshot() []*Client {
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	clients := make([]*Client, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	return clients
}

// Matching returns every live connection whose resolved identity equals
// userID, in no guaranteed order. Zero matches is not an error. An empty
// userID never matches, so anonymous connections cannot be addressed.
func (h *Hub) Matching(userID string) []*Client {
	if userID == "" {
		return nil
	}

	h.mutex.RLock()
	defer h.mutex.RUnlock()

	var matches []*Client
	for client := range h.clients {
		if client.userID == userID {
			matches = append(matches, client)
		}
	}
	return matches
}

// BroadcastPresence computes the current online-set snapshot and pushes it to
// every connection in that same snapshot. Delivery is best-effort; a slow
// recipient is skipped rather than stalling the others.
func (h *Hub) BroadcastPresence() {
	h.mutex.RLock()
	clients := make([]*Client, 0, len(h.clients))
	online := make([]PresenceEntry, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
		online = append(online, PresenceEntry{UserID: client.userID, Username: client.username})
	}
	h.mutex.RUnlock()

	payload, err := json.Marshal(PresenceUpdate{Online: online})
	if err != nil {
		h.log.Errorw("marshaling presence update", "err", err)
		return
	}

	for _, client := range clients {
		h.safeSend(client, payload)
	}
}

// safeSend queues a payload for one client. It reports false when the client
// is gone or its send buffer is full; the caller treats that as a dropped
// best-effort delivery.
func (h *Hub) safeSend(client *Client, message []byte) bool {
	defer func() {
		if r := recover(); r != nil {
			h.log.Warnw("recovered from panic in safeSend", "panic", r)
		}
	}()

	// Hold the lock during the entire send operation to prevent racing with
	// channel close during unregistration.
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	_, exists := h.clients[client]
	if !exists || client.closed {
		return false
	}

	select {
	case client.send <- message:
		return true
	default:
		h.log.Debugw("send buffer full; dropping payload", "addr", client.addr)
		return false
	}
}

// shutdownClients drains the registry and closes every active client
// connection. Each client is removed and marked closed under the lock first,
// so no late safeSend can race the channel close; closing the send channel is
// what lets writePump emit its close frame and return.
func (h *Hub) shutdownClients() {
	h.log.Info("shutting down all client connections")

	h.mutex.Lock()
	clients := make([]*Client, 0, len(h.clients))
	for client := range h.clients {
		client.closed = true
		clients = append(clients, client)
	}
	h.clients = make(map[*Client]bool)
	h.mutex.Unlock()

	for _, client := range clients {
		close(client.send)
		if client.heartbeat != nil {
			client.heartbeat.stop()
		}
		if client.conn != nil {
			if err := client.conn.Close(); err != nil {
				if !isExpectedCloseError(err) {
					h.log.Warnw("closing client connection", "addr", client.addr, "err", err)
				}
			}
		}
	}

	h.log.Infow("closed client connections", "count", len(clients))
}

// Shutdown initiates graceful shutdown of the hub and waits for all goroutines
// to complete. It returns after all client connections are closed and
// goroutines have finished, or when the timeout is reached.
func (h *Hub) Shutdown(timeout time.Duration) error {
	h.log.Info("initiating hub shutdown")

	h.cancel()

	// Wait for Run() to complete.
	<-h.done

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		h.log.Info("hub shutdown completed")
		return nil
	case <-time.After(timeout):
		h.log.Warn("hub shutdown timeout reached, some goroutines may still be running")
		return context.DeadlineExceeded
	}
}
