package transport_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/firasghr/pibox-server/auth"
	"github.com/firasghr/pibox-server/backend"
	"github.com/firasghr/pibox-server/gateway"
	"github.com/firasghr/pibox-server/lock"
	"github.com/firasghr/pibox-server/metrics"
	"github.com/firasghr/pibox-server/state"
	"github.com/firasghr/pibox-server/transport"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	authority, err := auth.New(nil, time.Minute, time.Hour)
	if err != nil {
		t.Fatalf("auth.New: %v", err)
	}
	bc := backend.New("http://127.0.0.1:1", "", time.Second)
	st := state.New(authority, bc, 3)
	h := gateway.NewHandler(st, auth.AllowAny, lock.New(), metrics.NewMetrics(), nil)
	srv := transport.New(st, h, auth.AllowAny, nil)
	return httptest.NewServer(srv)
}

func TestHealthEndpoint(t *testing.T) {
	ts := newTestServer(t)
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/health")
	if err != nil {
		t.Fatalf("GET /health: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var body map[string]string
	json.NewDecoder(resp.Body).Decode(&body)
	if body["status"] != "ok" || body["service"] != "pibox-server" {
		t.Errorf("unexpected health body: %+v", body)
	}
}

func TestLoginEndpointRejectsEmptyCredentials(t *testing.T) {
	ts := newTestServer(t)
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/api/login", "application/json", strings.NewReader(`{"username":"","password":""}`))
	if err != nil {
		t.Fatalf("POST /api/login: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}
}

func TestLoginEndpointIssuesTokens(t *testing.T) {
	ts := newTestServer(t)
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/api/login", "application/json", strings.NewReader(`{"username":"alice","password":"pw"}`))
	if err != nil {
		t.Fatalf("POST /api/login: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var body map[string]interface{}
	json.NewDecoder(resp.Body).Decode(&body)
	if body["access_token"] == "" {
		t.Errorf("expected a non-empty access_token, got %+v", body)
	}
}

func TestWebSocketUpgradeAndLogin(t *testing.T) {
	ts := newTestServer(t)
	defer ts.Close()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	conn.WriteJSON(map[string]string{"type": "login", "username": "alice", "password": "pw"})
	var reply map[string]interface{}
	if err := conn.ReadJSON(&reply); err != nil {
		t.Fatalf("ReadJSON: %v", err)
	}
	if reply["type"] != "auth_success" {
		t.Fatalf("expected auth_success, got %+v", reply)
	}
}
