// Package server exposes HTTP handlers, including the WebSocket upgrade,
// health check, and the account and history API.
package server

import (
	"context"
	"net/http"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/tetherchat/tether/internal/auth"
	"github.com/tetherchat/tether/internal/store"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     checkOrigin,
}

// UserDirectory is the account storage consumed by the HTTP handlers.
type UserDirectory interface {
	Create(ctx context.Context, username, passwordHash string) (store.User, error)
	FindByUsername(ctx context.Context, username string) (store.User, error)
	All(ctx context.Context) ([]store.User, error)
}

// MessageHistory serves past conversations for the history endpoint.
type MessageHistory interface {
	Between(ctx context.Context, a, b string) ([]store.ChatMessage, error)
}

// CredentialService issues and verifies signed session credentials.
type CredentialService interface {
	Issue(userID, username string) (string, error)
	Verify(credential string) (auth.Identity, error)
}

// Gateway ties the HTTP surface to the hub, the router, and the external
// collaborators: account storage, message history, and the credential service.
type Gateway struct {
	hub         *Hub
	router      *Router
	users       UserDirectory
	history     MessageHistory
	credentials CredentialService
	uploadDir   string
	log         *zap.SugaredLogger
}

// NewGateway assembles the HTTP surface of the service.
func NewGateway(hub *Hub, router *Router, users UserDirectory, history MessageHistory,
	credentials CredentialService, uploadDir string, log *zap.SugaredLogger) *Gateway {
	return &Gateway{
		hub:         hub,
		router:      router,
		users:       users,
		history:     history,
		credentials: credentials,
		uploadDir:   uploadDir,
		log:         log,
	}
}

// WebSocketHandler upgrades the request and registers the new connection.
// The session credential is read from the request's token cookie; when it
// fails to resolve, the connection stays registered but anonymous. Anonymous
// connections receive presence updates but cannot send chat messages.
func (g *Gateway) WebSocketHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed. WebSocket endpoint only accepts GET requests.", http.StatusMethodNotAllowed)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.log.Warnw("websocket upgrade failed", "addr", r.RemoteAddr, "err", err)
		return
	}

	client := NewClient(conn, g.hub, g.router, r.RemoteAddr)

	// Register first so the fresh connection immediately receives the current
	// presence snapshot, then resolve whatever identity it presented.
	g.hub.GetRegisterChan() <- client

	identity, err := g.credentials.Verify(tokenFromRequest(r))
	if err != nil {
		g.log.Debugw("connection stays anonymous", "addr", r.RemoteAddr, "err", err)
		return
	}
	g.hub.ResolveIdentity(client, identity.UserID, identity.Username)
}

// tokenFromRequest extracts the session credential from the token cookie,
// or returns an empty string when the cookie is absent.
func tokenFromRequest(r *http.Request) string {
	cookie, err := r.Cookie("token")
	if err != nil {
		return ""
	}
	return cookie.Value
}

// HealthHandler provides a simple health check endpoint that returns server status.
func HealthHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	_, _ = w.Write([]byte("Tether server is running!"))
}
