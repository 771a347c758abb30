// Package server implements the JSON account and history API that surrounds
// the WebSocket core: registration, login, profile, the people directory, and
// conversation history.
package server

import (
	"encoding/json"
	"net/http"

	"github.com/pkg/errors"

	"github.com/tetherchat/tether/internal/auth"
	"github.com/tetherchat/tether/internal/store"
)

type credentialsRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type profileResponse struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func decodeCredentials(r *http.Request) (credentialsRequest, bool) {
	var req credentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return credentialsRequest{}, false
	}
	if req.Username == "" || req.Password == "" {
		return credentialsRequest{}, false
	}
	return req, true
}

// setSessionCookie attaches the signed credential the same way the rest of
// the stack expects to read it back: a token cookie sent cross-site.
func setSessionCookie(w http.ResponseWriter, token string) {
	http.SetCookie(w, &http.Cookie{
		Name:     "token",
		Value:    token,
		Path:     "/",
		SameSite: http.SameSiteNoneMode,
		Secure:   true,
	})
}

// RegisterHandler creates an account, signs a session token for it, and sets
// the session cookie.
func (g *Gateway) RegisterHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	req, ok := decodeCredentials(r)
	if !ok {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "username and password are required"})
		return
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		g.log.Errorw("hashing password", "err", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "registration failed"})
		return
	}

	user, err := g.users.Create(r.Context(), req.Username, hash)
	if err != nil {
		g.log.Warnw("creating user", "username", req.Username, "err", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "registration failed"})
		return
	}

	token, err := g.credentials.Issue(user.ID.Hex(), user.Username)
	if err != nil {
		g.log.Errorw("issuing token", "username", req.Username, "err", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "registration failed"})
		return
	}

	setSessionCookie(w, token)
	writeJSON(w, http.StatusCreated, map[string]string{"id": user.ID.Hex()})
}

// LoginHandler verifies the password and sets the session cookie.
func (g *Gateway) LoginHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	req, ok := decodeCredentials(r)
	if !ok {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "username and password are required"})
		return
	}

	user, err := g.users.FindByUsername(r.Context(), req.Username)
	if errors.Is(err, store.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "user not found"})
		return
	}
	if err != nil {
		g.log.Errorw("looking up user", "username", req.Username, "err", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "login failed"})
		return
	}

	if !auth.ComparePassword(req.Password, user.PasswordHash) {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid credentials"})
		return
	}

	token, err := g.credentials.Issue(user.ID.Hex(), user.Username)
	if err != nil {
		g.log.Errorw("issuing token", "username", req.Username, "err", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "login failed"})
		return
	}

	setSessionCookie(w, token)
	writeJSON(w, http.StatusOK, map[string]string{"id": user.ID.Hex()})
}

// LogoutHandler clears the session cookie.
func (g *Gateway) LogoutHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     "token",
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		SameSite: http.SameSiteNoneMode,
		Secure:   true,
	})
	writeJSON(w, http.StatusOK, "ok")
}

// ProfileHandler returns the identity carried by the session cookie.
func (g *Gateway) ProfileHandler(w http.ResponseWriter, r *http.Request) {
	identity, err := g.credentials.Verify(tokenFromRequest(r))
	if err != nil {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "no token"})
		return
	}
	writeJSON(w, http.StatusOK, profileResponse{UserID: identity.UserID, Username: identity.Username})
}

// PeopleHandler lists every registered user with id and username.
func (g *Gateway) PeopleHandler(w http.ResponseWriter, r *http.Request) {
	users, err := g.users.All(r.Context())
	if err != nil {
		g.log.Errorw("listing users", "err", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "listing users failed"})
		return
	}
	writeJSON(w, http.StatusOK, users)
}

// MessagesHandler returns the conversation between the caller and the user
// named in the path, oldest first.
func (g *Gateway) MessagesHandler(w http.ResponseWriter, r *http.Request) {
	identity, err := g.credentials.Verify(tokenFromRequest(r))
	if err != nil {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "no token"})
		return
	}

	otherUser := r.PathValue("userId")
	if otherUser == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "missing user id"})
		return
	}

	messages, err := g.history.Between(r.Context(), identity.UserID, otherUser)
	if err != nil {
		g.log.Errorw("loading history", "user", identity.UserID, "peer", otherUser, "err", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "loading history failed"})
		return
	}
	writeJSON(w, http.StatusOK, messages)
}
