package server

import (
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
)

func newTestHub(t *testing.T) *Hub {
	t.Helper()
	hub := NewHub(zap.NewNop().Sugar())
	go hub.Run()
	t.Cleanup(func() {
		_ = hub.Shutdown(time.Second)
	})
	return hub
}

// registerTestClient registers a transportless client and waits until the hub
// has processed the registration.
func registerTestClient(t *testing.T, hub *Hub, addr string) *Client {
	t.Helper()
	before := len(hub.Snapshot())
	client := NewClient(nil, hub, nil, addr)
	hub.GetRegisterChan() <- client
	waitFor(t, func() bool { return len(hub.Snapshot()) == before+1 })
	return client
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

// drainSend discards everything queued on the client's send channel.
func drainSend(c *Client) {
	for {
		select {
		case <-c.GetSendChan():
		default:
			return
		}
	}
}

// nextPresence waits for the next presence frame queued for the client.
func nextPresence(t *testing.T, c *Client) PresenceUpdate {
	t.Helper()
	select {
	case raw := <-c.GetSendChan():
		var update PresenceUpdate
		if err := json.Unmarshal(raw, &update); err != nil {
			t.Fatalf("Failed to decode presence frame: %v", err)
		}
		return update
	case <-time.After(2 * time.Second):
		t.Fatal("Timed out waiting for presence frame")
		return PresenceUpdate{}
	}
}

// TestSnapshotTracksMembership verifies that Snapshot returns exactly the set
// of currently registered connections after a sequence of register and
// unregister calls.
func TestSnapshotTracksMembership(t *testing.T) {
	hub := newTestHub(t)

	a := registerTestClient(t, hub, "a:1")
	b := registerTestClient(t, hub, "b:1")
	c := registerTestClient(t, hub, "c:1")

	if got := len(hub.Snapshot()); got != 3 {
		t.Fatalf("Expected 3 registered connections, got %d", got)
	}

	hub.GetUnregisterChan() <- b
	waitFor(t, func() bool { return len(hub.Snapshot()) == 2 })

	remaining := map[*Client]bool{}
	for _, client := range hub.Snapshot() {
		remaining[client] = true
	}
	if !remaining[a] || !remaining[c] || remaining[b] {
		t.Errorf("Snapshot does not match expected membership: %v", remaining)
	}
}

// TestSnapshotUnderConcurrentChurn verifies the registry stays consistent when
// registrations and unregistrations interleave from many goroutines.
func TestSnapshotUnderConcurrentChurn(t *testing.T) {
	hub := newTestHub(t)

	const total = 40
	clients := make([]*Client, total)
	var wg sync.WaitGroup
	for i := 0; i < total; i++ {
		clients[i] = NewClient(nil, hub, nil, fmt.Sprintf("churn:%d", i))
		wg.Add(1)
		go func(c *Client) {
			defer wg.Done()
			hub.GetRegisterChan() <- c
		}(clients[i])
	}
	wg.Wait()
	waitFor(t, func() bool { return len(hub.Snapshot()) == total })

	for i := 0; i < total/2; i++ {
		wg.Add(1)
		go func(c *Client) {
			defer wg.Done()
			hub.GetUnregisterChan() <- c
		}(clients[i])
	}
	wg.Wait()
	waitFor(t, func() bool { return len(hub.Snapshot()) == total/2 })

	for _, client := range hub.Snapshot() {
		if client.closed {
			t.Error("Snapshot returned a closed connection")
		}
	}
}

// TestMatchingReturnsEveryConnectionOfUser verifies that Matching returns all
// N connections resolved to the same user and nothing else.
func TestMatchingReturnsEveryConnectionOfUser(t *testing.T) {
	hub := newTestHub(t)

	a1 := registerTestClient(t, hub, "a:1")
	a2 := registerTestClient(t, hub, "a:2")
	b := registerTestClient(t, hub, "b:1")

	hub.ResolveIdentity(a1, "user-a", "alice")
	hub.ResolveIdentity(a2, "user-a", "alice")
	hub.ResolveIdentity(b, "user-b", "bob")

	matches := hub.Matching("user-a")
	if len(matches) != 2 {
		t.Fatalf("Expected 2 matches for user-a, got %d", len(matches))
	}
	for _, m := range matches {
		if m != a1 && m != a2 {
			t.Errorf("Matching returned an unexpected connection %q", m.addr)
		}
	}

	if got := hub.Matching("ghost"); len(got) != 0 {
		t.Errorf("Expected no matches for unknown user, got %d", len(got))
	}
	if got := hub.Matching(""); got != nil {
		t.Errorf("Expected nil matches for empty user id, got %d", len(got))
	}
}

// TestResolveIdentityIdempotent verifies that re-resolving the same identity
// does not trigger another presence broadcast.
func TestResolveIdentityIdempotent(t *testing.T) {
	hub := newTestHub(t)

	a := registerTestClient(t, hub, "a:1")
	hub.ResolveIdentity(a, "user-a", "alice")

	time.Sleep(20 * time.Millisecond)
	drainSend(a)

	hub.ResolveIdentity(a, "user-a", "alice")

	select {
	case raw := <-a.GetSendChan():
		t.Errorf("Expected no broadcast after idempotent resolve, got %s", raw)
	case <-time.After(50 * time.Millisecond):
	}
}

// TestPresenceReflectsPostChangeMembership verifies that the snapshot pushed
// after an unregistration never names the removed connection.
func TestPresenceReflectsPostChangeMembership(t *testing.T) {
	hub := newTestHub(t)

	a := registerTestClient(t, hub, "a:1")
	b := registerTestClient(t, hub, "b:1")
	hub.ResolveIdentity(a, "user-a", "alice")
	hub.ResolveIdentity(b, "user-b", "bob")

	time.Sleep(20 * time.Millisecond)
	drainSend(a)

	hub.GetUnregisterChan() <- b
	waitFor(t, func() bool { return len(hub.Snapshot()) == 1 })

	update := nextPresence(t, a)
	if len(update.Online) != 1 {
		t.Fatalf("Expected 1 online entry after unregistration, got %d", len(update.Online))
	}
	if update.Online[0].UserID != "user-a" {
		t.Errorf("Expected remaining user to be user-a, got %q", update.Online[0].UserID)
	}
}

// TestPresenceKeepsOneEntryPerConnection verifies that a user with several
// live connections appears once per connection, not deduplicated.
func TestPresenceKeepsOneEntryPerConnection(t *testing.T) {
	hub := newTestHub(t)

	a1 := registerTestClient(t, hub, "a:1")
	a2 := registerTestClient(t, hub, "a:2")
	hub.ResolveIdentity(a1, "user-a", "alice")

	time.Sleep(20 * time.Millisecond)
	drainSend(a1)

	hub.ResolveIdentity(a2, "user-a", "alice")

	update := nextPresence(t, a1)
	count := 0
	for _, entry := range update.Online {
		if entry.UserID == "user-a" {
			count++
		}
	}
	if count != 2 {
		t.Errorf("Expected user-a listed once per connection (2), got %d", count)
	}
}

// TestShutdownDrainsRegistry verifies that Shutdown empties the registry and
// closes every client's send channel, so write pumps blocked on the channel
// can observe the close and return instead of leaking.
func TestShutdownDrainsRegistry(t *testing.T) {
	hub := newTestHub(t)
	clients := []*Client{
		registerTestClient(t, hub, "addr-1"),
		registerTestClient(t, hub, "addr-2"),
		registerTestClient(t, hub, "addr-3"),
	}

	if err := hub.Shutdown(2 * time.Second); err != nil {
		t.Fatalf("Shutdown failed: %v", err)
	}

	if got := len(hub.Snapshot()); got != 0 {
		t.Errorf("Expected empty registry after shutdown, got %d clients", got)
	}
	for i, client := range clients {
		// Skip past any presence frames queued before shutdown; the channel
		// must end closed.
		closed := false
		deadline := time.After(time.Second)
		for !closed {
			select {
			case _, ok := <-client.GetSendChan():
				if !ok {
					closed = true
				}
			case <-deadline:
				t.Fatalf("Client %d send channel not closed after shutdown", i)
			}
		}
	}
}

// TestSafeSendToUnregisteredClient verifies that sending to a connection that
// was never registered or already removed reports a dropped delivery.
func TestSafeSendToUnregisteredClient(t *testing.T) {
	hub := newTestHub(t)

	stranger := NewClient(nil, hub, nil, "stranger:1")
	if hub.safeSend(stranger, []byte("hello")) {
		t.Error("Expected safeSend to report failure for unregistered client")
	}

	a := registerTestClient(t, hub, "a:1")
	hub.GetUnregisterChan() <- a
	waitFor(t, func() bool { return len(hub.Snapshot()) == 0 })

	if hub.safeSend(a, []byte("hello")) {
		t.Error("Expected safeSend to report failure for removed client")
	}
}
