package integration

import (
	"context"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"

	"github.com/tetherchat/tether/internal/attach"
	"github.com/tetherchat/tether/internal/auth"
	"github.com/tetherchat/tether/internal/server"
	"github.com/tetherchat/tether/internal/store"
	"github.com/tetherchat/tether/test/testhelpers"
)

// memUserStore is an in-memory stand-in for the Mongo-backed account store.
type memUserStore struct {
	mu    sync.Mutex
	users map[string]store.User
}

func newMemUserStore() *memUserStore {
	return &memUserStore{users: make(map[string]store.User)}
}

func (s *memUserStore) Create(_ context.Context, username, passwordHash string) (store.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.users[username]; exists {
		return store.User{}, errors.New("username already taken")
	}
	user := store.User{
		ID:           primitive.NewObjectID(),
		Username:     username,
		PasswordHash: passwordHash,
	}
	s.users[username] = user
	return user, nil
}

func (s *memUserStore) FindByUsername(_ context.Context, username string) (store.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	user, exists := s.users[username]
	if !exists {
		return store.User{}, store.ErrNotFound
	}
	return user, nil
}

func (s *memUserStore) All(_ context.Context) ([]store.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	users := make([]store.User, 0, len(s.users))
	for _, user := range s.users {
		users = append(users, store.User{ID: user.ID, Username: user.Username})
	}
	return users, nil
}

// memMessageStore is an in-memory stand-in for the Mongo-backed message store.
type memMessageStore struct {
	mu       sync.Mutex
	messages []store.ChatMessage
}

func (s *memMessageStore) Create(_ context.Context, sender, recipient, text, fileRef string) (store.ChatMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	msg := store.ChatMessage{
		ID:        primitive.NewObjectID(),
		Sender:    sender,
		Recipient: recipient,
		Text:      text,
		FileRef:   fileRef,
		CreatedAt: time.Now().UTC(),
	}
	s.messages = append(s.messages, msg)
	return msg, nil
}

func (s *memMessageStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.messages)
}

func (s *memMessageStore) Between(_ context.Context, a, b string) ([]store.ChatMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var conversation []store.ChatMessage
	for _, msg := range s.messages {
		if (msg.Sender == a && msg.Recipient == b) || (msg.Sender == b && msg.Recipient == a) {
			conversation = append(conversation, msg)
		}
	}
	return conversation, nil
}

// testService is a fully assembled Tether service running against in-memory
// stores on an httptest server.
type testService struct {
	server   *httptest.Server
	hub      *server.Hub
	tokens   *auth.TokenManager
	users    *memUserStore
	messages *memMessageStore
	uploads  string
}

// startTestService assembles and starts the service. The customize callback
// may adjust the configuration before it is applied.
func startTestService(t *testing.T, customize func(cfg *server.Config)) *testService {
	t.Helper()

	cfg := server.NewConfig()
	if customize != nil {
		customize(cfg)
	}
	server.SetConfig(cfg)
	t.Cleanup(func() { server.SetConfig(nil) })

	log := zap.NewNop().Sugar()
	hub := server.NewHub(log)
	go hub.Run()

	users := newMemUserStore()
	messages := &memMessageStore{}

	uploads := t.TempDir()
	blobs, err := attach.NewDirStore(uploads)
	if err != nil {
		t.Fatalf("Failed to create blob store: %v", err)
	}

	router := server.NewRouter(hub, messages, attach.NewMaterializer(blobs, log), log)
	tokens := auth.NewTokenManager("integration-secret", time.Hour)
	gateway := server.NewGateway(hub, router, users, messages, tokens, uploads, log)

	ts := testhelpers.CreateTestServer(server.SetupRoutes(gateway))
	t.Cleanup(func() {
		ts.Close()
		if err := hub.Shutdown(5 * time.Second); err != nil {
			t.Logf("Hub shutdown: %v", err)
		}
	})

	return &testService{
		server:   ts,
		hub:      hub,
		tokens:   tokens,
		users:    users,
		messages: messages,
		uploads:  uploads,
	}
}

func (s *testService) wsURL() string {
	return "ws" + strings.TrimPrefix(s.server.URL, "http") + "/ws"
}

// registerUser creates an account through the HTTP API and returns the user
// id and session token from the response.
func (s *testService) registerUser(t *testing.T, username, password string) (id, token string) {
	t.Helper()

	resp := testhelpers.MakeJSONRequest(t, "POST", s.server.URL+"/register", "",
		map[string]string{"username": username, "password": password})
	testhelpers.AssertStatusCode(t, resp, 201)

	token = testhelpers.SessionCookie(t, resp)
	body := testhelpers.DecodeJSONBody(t, resp)
	id, _ = body["id"].(string)
	if id == "" {
		t.Fatalf("Register response carries no id: %v", body)
	}
	return id, token
}
