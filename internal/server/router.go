// Package server classifies inbound payloads and dispatches them to the
// matching live connections via the Router type.
package server

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/tetherchat/tether/internal/store"
)

const persistTimeout = 10 * time.Second

// MessageCreator persists a chat message durably before fan-out.
type MessageCreator interface {
	Create(ctx context.Context, sender, recipient, text, fileRef string) (store.ChatMessage, error)
}

// AttachmentMaterializer turns an inline-encoded file payload into a stored
// blob reference.
type AttachmentMaterializer interface {
	Materialize(name, dataURL string) (string, error)
}

// Router classifies each inbound payload and routes it: typing signals are
// forwarded without persistence, chat messages are persisted via the message
// store and then fanned out to every connection of the recipient. All failures
// are connection-local; nothing a single client sends can take down another.
type Router struct {
	hub         *Hub
	messages    MessageCreator
	attachments AttachmentMaterializer
	log         *zap.SugaredLogger
}

// NewRouter creates a Router delivering through the given hub.
func NewRouter(hub *Hub, messages MessageCreator, attachments AttachmentMaterializer, log *zap.SugaredLogger) *Router {
	return &Router{
		hub:         hub,
		messages:    messages,
		attachments: attachments,
		log:         log,
	}
}

// HandleInbound processes one raw frame received on the given connection.
// Malformed frames are logged and dropped without affecting the connection.
func (r *Router) HandleInbound(c *Client, raw []byte) {
	var payload InboundPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		r.log.Warnw("malformed payload; dropping", "addr", c.addr, "err", err)
		return
	}

	switch payload.Type {
	case kindTyping, kindStopTyping:
		r.forwardTyping(payload)
	default:
		r.deliverChat(c, payload)
	}
}

// forwardTyping relays a typing or stop-typing signal to every connection of
// the addressed user. Signals are advisory: no persistence, and silence when
// the target is absent or offline.
func (r *Router) forwardTyping(payload InboundPayload) {
	if payload.To == "" {
		return
	}

	event := TypingEvent{Type: payload.Type, From: payload.From}
	if payload.Type == kindTyping {
		event.Username = payload.Username
	}

	data, err := json.Marshal(event)
	if err != nil {
		r.log.Errorw("marshaling typing event", "err", err)
		return
	}

	for _, target := range r.hub.Matching(payload.To) {
		r.hub.safeSend(target, data)
	}
}

// deliverChat persists a chat message and fans it out to the recipient's
// connections. The sender is always the connection's own resolved identity,
// never a payload field, so a client cannot speak as anyone else. The sender's
// own connections receive no echo.
func (r *Router) deliverChat(c *Client, payload InboundPayload) {
	sender, _ := c.Identity()
	if sender == "" {
		r.log.Warnw("chat payload from unresolved connection; dropping", "addr", c.addr)
		return
	}

	if payload.Recipient == "" || (payload.Text == "" && payload.File == nil) {
		r.log.Warnw("chat payload missing recipient or content; dropping", "addr", c.addr)
		return
	}

	fileRef := ""
	if payload.File != nil {
		ref, err := r.attachments.Materialize(payload.File.Name, payload.File.Data)
		if err != nil {
			r.log.Warnw("attachment failed", "addr", c.addr, "name", payload.File.Name, "err", err)
			if payload.Text == "" {
				// A file-only message whose attachment failed has nothing
				// left to deliver.
				return
			}
		} else {
			fileRef = ref
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()

	msg, err := r.messages.Create(ctx, sender, payload.Recipient, payload.Text, fileRef)
	if err != nil {
		r.log.Errorw("persisting message failed; dropping", "sender", sender, "recipient", payload.Recipient, "err", err)
		return
	}

	delivery := ChatDelivery{
		Type:      kindMessage,
		Text:      msg.Text,
		Sender:    msg.Sender,
		Recipient: msg.Recipient,
		File:      msg.FileRef,
		ID:        msg.ID.Hex(),
	}
	data, err := json.Marshal(delivery)
	if err != nil {
		r.log.Errorw("marshaling chat delivery", "err", err)
		return
	}

	for _, target := range r.hub.Matching(msg.Recipient) {
		r.hub.safeSend(target, data)
	}
}
