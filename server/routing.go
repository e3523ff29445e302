package server

import (
	"net/http"
	"strings"
)

// setupHTTPRoutes configures the gateway's HTTP surface: the WebSocket
// upgrade endpoint, health/metrics, and the fs/media blob routes. Every
// route, /health included, goes through corsMiddleware, following the
// teacher's pattern of a single shared CORS wrapper rather than a router
// middleware chain.
func (s *Gateway) setupHTTPRoutes() {
	http.HandleFunc("/ws", s.corsMiddleware(s.serveWS))
	http.HandleFunc("/health", s.corsMiddleware(s.HandleHealth))
	http.HandleFunc("/fs/", s.corsMiddleware(s.HandleFS))
	http.HandleFunc("/media/", s.corsMiddleware(s.HandleFS))
}

// HandleHealth reports process liveness and a snapshot of hub metrics,
// used by both operators and the gateway's own reconnect-backoff clients.
func (s *Gateway) HandleHealth(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"state":   ServerState(s.state.Load()).String(),
		"metrics": s.Metrics(),
	})
}

// HandleFS serves /fs/{key} and /media/{key} blob reads, scoped by the
// bearer token fs.authorize issued. Writes go through the workspace.*
// RPC surface, not HTTP, so this handler is read-only.
func (s *Gateway) HandleFS(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}

	authHeader := r.Header.Get("Authorization")
	tokenStr := strings.TrimPrefix(authHeader, "Bearer ")
	if tokenStr == "" || tokenStr == authHeader {
		writeError(w, http.StatusUnauthorized, "missing bearer token")
		return
	}
	claims, err := verifyFSToken(tokenStr)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "invalid or expired token")
		return
	}

	key := strings.TrimPrefix(r.URL.Path, "/fs/")
	key = strings.TrimPrefix(key, "/media/")
	if claims.Prefix != "" && !strings.HasPrefix(key, claims.Prefix) {
		writeError(w, http.StatusForbidden, "token not scoped to this key")
		return
	}

	data, err := s.blobStore.Get(key)
	if err != nil {
		if IsNotFoundError(err) {
			writeError(w, http.StatusNotFound, "not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to read blob")
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Write(data)
}

// corsMiddleware adds CORS headers to HTTP responses, using the same
// origin validation the WebSocket upgrade path uses.
func (s *Gateway) corsMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && checkOrigin(r) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Credentials", "true")
		}
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next(w, r)
	}
}
