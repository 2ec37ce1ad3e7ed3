package backend_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/firasghr/pibox-server/backend"
)

func TestListDir(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Auth") != "tok" {
			t.Errorf("expected X-Auth header 'tok', got %q", r.Header.Get("X-Auth"))
		}
		json.NewEncoder(w).Encode(map[string]any{
			"name":  "/",
			"path":  "/",
			"isDir": true,
			"items": []map[string]any{
				{"name": "a", "path": "/a", "isDir": false, "size": 1, "modified": "1970-01-01T00:00:00Z"},
			},
		})
	}))
	defer srv.Close()

	c := backend.New(srv.URL, "tok", 5*time.Second)
	entries, err := c.ListDir(context.Background(), "/")
	if err != nil {
		t.Fatalf("ListDir: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	if entries[0].Name != "a" || entries[0].Type != backend.FileTypeRegular {
		t.Errorf("unexpected entry: %+v", entries[0])
	}
	if entries[0].Modified != 0 {
		t.Errorf("expected modified=0 for epoch timestamp, got %d", entries[0].Modified)
	}
}

func TestListDirMapsStatusCodes(t *testing.T) {
	cases := []struct {
		status int
		want   backend.ErrorKind
	}{
		{http.StatusUnauthorized, backend.ErrPermissionDenied},
		{http.StatusForbidden, backend.ErrPermissionDenied},
		{http.StatusNotFound, backend.ErrNotFound},
		{http.StatusInternalServerError, backend.ErrServer},
	}
	for _, tc := range cases {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tc.status)
		}))
		c := backend.New(srv.URL, "", time.Second)
		_, err := c.ListDir(context.Background(), "/missing")
		srv.Close()
		if err == nil {
			t.Fatalf("status %d: expected error", tc.status)
		}
		berr, ok := err.(*backend.Error)
		if !ok {
			t.Fatalf("status %d: expected *backend.Error, got %T", tc.status, err)
		}
		if berr.Kind != tc.want {
			t.Errorf("status %d: got kind %v, want %v", tc.status, berr.Kind, tc.want)
		}
	}
}

func TestListDirTransportError(t *testing.T) {
	c := backend.New("http://127.0.0.1:1", "", 50*time.Millisecond)
	_, err := c.ListDir(context.Background(), "/")
	if err == nil {
		t.Fatal("expected transport error")
	}
	berr, ok := err.(*backend.Error)
	if !ok {
		t.Fatalf("expected *backend.Error, got %T", err)
	}
	if berr.Kind != backend.ErrTransport {
		t.Errorf("got kind %v, want transport-error", berr.Kind)
	}
}

func TestModifiedFallsBackToZeroOnParseFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"items": []map[string]any{
				{"name": "a", "path": "/a", "isDir": false, "size": 1, "modified": "not-a-date"},
			},
		})
	}))
	defer srv.Close()

	c := backend.New(srv.URL, "", time.Second)
	entries, err := c.ListDir(context.Background(), "/")
	if err != nil {
		t.Fatalf("ListDir: %v", err)
	}
	if entries[0].Modified != 0 {
		t.Errorf("expected fallback modified=0, got %d", entries[0].Modified)
	}
}

func TestMkdirAndDelete(t *testing.T) {
	var gotMkdir, gotDelete bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost:
			gotMkdir = true
		case http.MethodDelete:
			gotDelete = true
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := backend.New(srv.URL, "", time.Second)
	if err := c.Mkdir(context.Background(), "/x"); err != nil {
		t.Fatalf("Mkdir: %v", err)
	}
	if err := c.Delete(context.Background(), "/x"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if !gotMkdir || !gotDelete {
		t.Errorf("expected both mkdir and delete to reach the backend, got mkdir=%v delete=%v", gotMkdir, gotDelete)
	}
}
