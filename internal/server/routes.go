// Package server wires HTTP handlers into a ServeMux for the Tether
// application via routing helpers.
package server

import "net/http"

// SetupRoutes configures all application routes: health check, WebSocket
// endpoint, the account and history API, and static serving of stored
// attachments. The returned handler applies the CORS policy derived from the
// configured allowed origins.
func SetupRoutes(g *Gateway) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", HealthHandler)
	mux.HandleFunc("/ws", g.WebSocketHandler)
	mux.HandleFunc("/register", g.RegisterHandler)
	mux.HandleFunc("/login", g.LoginHandler)
	mux.HandleFunc("/logout", g.LogoutHandler)
	mux.HandleFunc("/profile", g.ProfileHandler)
	mux.HandleFunc("/people", g.PeopleHandler)
	mux.HandleFunc("/messages/{userId}", g.MessagesHandler)
	mux.Handle("/uploads/", http.StripPrefix("/uploads/", http.FileServer(http.Dir(g.uploadDir))))
	return withCORS(mux)
}

// withCORS reflects allowed origins with credentials so the browser client
// can call the API and open the WebSocket from a different origin.
func withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if origin := r.Header.Get("Origin"); origin != "" && isOriginAllowed(r) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Credentials", "true")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
