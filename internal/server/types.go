// Package server defines the wire envelopes exchanged with clients and
// utility helpers reused across client and hub logic.
package server

import "strings"

// Kinds of inbound ephemeral signals.
const (
	kindTyping     = "typing"
	kindStopTyping = "stop-typing"
	kindMessage    = "message"
)

// InboundPayload is the tagged variant received over a connection. Typing
// signals carry To/From/Username; chat payloads carry Recipient plus at least
// one of Text and File.
type InboundPayload struct {
	Type      string       `json:"type,omitempty"`
	To        string       `json:"to,omitempty"`
	From      string       `json:"from,omitempty"`
	Username  string       `json:"username,omitempty"`
	IsTyping  bool         `json:"isTyping,omitempty"`
	Recipient string       `json:"recipient,omitempty"`
	Text      string       `json:"text,omitempty"`
	File      *FilePayload `json:"file,omitempty"`
}

// FilePayload is an inline-encoded attachment: Data holds a base64 data URL.
type FilePayload struct {
	Name string `json:"name"`
	Data string `json:"data"`
}

// TypingEvent is the minimal envelope forwarded for typing and stop-typing
// signals. Username is only present on typing.
type TypingEvent struct {
	Type     string `json:"type"`
	From     string `json:"from"`
	Username string `json:"username,omitempty"`
}

// ChatDelivery is the envelope pushed to each of the recipient's connections
// after a chat message has been persisted.
type ChatDelivery struct {
	Type      string `json:"type"`
	Text      string `json:"text,omitempty"`
	Sender    string `json:"sender"`
	Recipient string `json:"recipient"`
	File      string `json:"file,omitempty"`
	ID        string `json:"_id"`
}

// PresenceEntry names one live connection's identity. Connections that have
// not resolved an identity appear with empty fields.
type PresenceEntry struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
}

// PresenceUpdate is the full online-set snapshot broadcast to every live
// connection whenever registry membership changes. One entry per connection;
// a user with several tabs appears once per tab.
type PresenceUpdate struct {
	Online []PresenceEntry `json:"online"`
}

// isExpectedCloseError checks if an error is expected during connection closure.
func isExpectedCloseError(err error) bool {
	if err == nil {
		return true
	}
	errStr := err.Error()
	return strings.Contains(errStr, "use of closed network connection") ||
		strings.Contains(errStr, "websocket: close sent") ||
		strings.Contains(errStr, "broken pipe")
}
