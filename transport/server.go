// Package transport hosts the daemon's HTTP listener: the WebSocket
// upgrade endpoint, the HTTP login fallback, and the health check.
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/firasghr/pibox-server/auth"
	"github.com/firasghr/pibox-server/gateway"
	"github.com/firasghr/pibox-server/logger"
	"github.com/firasghr/pibox-server/state"
)

// serviceName is reported in the health response.
const serviceName = "pibox-server"

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// Permissive by design: thin clients connect from a LAN-facing
	// embedded device, not a public multi-tenant host.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Server hosts /health, /api/login, and /ws on one http.Server.
type Server struct {
	state    *state.State
	handler  *gateway.Handler
	verifier auth.Verifier
	log      *logger.Logger
	mux      *http.ServeMux
}

// New constructs a Server. handler drives every upgraded /ws connection.
func New(st *state.State, handler *gateway.Handler, verifier auth.Verifier, log *logger.Logger) *Server {
	if verifier == nil {
		verifier = auth.AllowAny
	}
	s := &Server{state: st, handler: handler, verifier: verifier, log: log, mux: http.NewServeMux()}
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("/health", s.withCORS(s.handleHealth))
	s.mux.HandleFunc("/api/login", s.withCORS(s.handleLogin))
	s.mux.HandleFunc("/ws", s.handleWebSocket)
}

// withCORS applies a permissive CORS policy, matching the public-facing
// nature of a LAN device daemon rather than a multi-tenant API.
func (s *Server) withCORS(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		h(w, r)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok", "service": serviceName})
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "malformed request body", http.StatusBadRequest)
		return
	}
	if req.Username == "" || req.Password == "" || !s.verifier.Verify(req.Username, req.Password) {
		http.Error(w, "invalid credentials", http.StatusUnauthorized)
		return
	}
	pair, err := s.state.Authority().Issue(req.Username, "")
	if err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(loginResponse{
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
		ExpiresIn:    pair.ExpiresIn,
	})
}

// ServeHTTP lets a Server be used directly as an http.Handler, e.g. with
// httptest.NewServer in tests.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		if s.log != nil {
			s.log.Debugf("transport: websocket upgrade failed: %v", err)
		}
		return
	}
	s.handler.Serve(r.Context(), ws)
}

// Listen binds addr and returns the configured http.Server together with
// the listener, without serving a single request yet. Splitting bind from
// serve lets the caller detect a bind failure (port in use, invalid
// address) synchronously and exit non-zero before anything else starts.
//
// Timeouts are tuned for a mix of short request/response HTTP calls
// (/health, /api/login) and long-lived WebSocket connections: the write
// timeout is disabled so an open /ws connection is never cut mid-stream.
func (s *Server) Listen(addr string) (*http.Server, net.Listener, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, nil, fmt.Errorf("transport: listen %s: %w", addr, err)
	}
	srv := &http.Server{
		Handler:      s.mux,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}
	return srv, ln, nil
}

// Serve blocks accepting connections on ln until srv is shut down. A
// shutdown-triggered close is reported as a nil error, matching
// net/http's own ErrServerClosed convention.
func Serve(srv *http.Server, ln net.Listener) error {
	err := srv.Serve(ln)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown gracefully stops srv, waiting up to the given timeout for
// in-flight HTTP requests to finish. Upgraded WebSocket connections are
// hijacked from the http.Server, so Shutdown neither waits for nor closes
// them.
func Shutdown(ctx context.Context, srv *http.Server, timeout time.Duration) error {
	shutdownCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
