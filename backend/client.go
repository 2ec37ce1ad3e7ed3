// Package backend provides a typed wrapper over the file-management
// backend's REST surface.
//
// The server treats the backend as a black box: this client's job is to
// hide its peculiarities (header-based auth, inconsistent error bodies,
// RFC-3339 timestamps) and surface a small, consistent set of operations
// and a normalized error taxonomy.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/firasghr/pibox-server/logger"
	"github.com/firasghr/pibox-server/payload"
)

// FileType enumerates the kind of a File Entry.
type FileType string

const (
	FileTypeDirectory FileType = "directory"
	FileTypeRegular   FileType = "regular"
	FileTypeSymlink   FileType = "symlink"
)

// FileEntry is a normalized record produced only by this client from
// backend responses.
type FileEntry struct {
	Name     string
	Path     string
	Type     FileType
	Size     int64
	Modified int64
	MIMEType string
}

// ErrorKind classifies a normalized backend error.
type ErrorKind int

const (
	ErrPermissionDenied ErrorKind = iota
	ErrNotFound
	ErrServer
	ErrTransport
)

func (k ErrorKind) String() string {
	switch k {
	case ErrPermissionDenied:
		return "permission-denied"
	case ErrNotFound:
		return "not-found"
	case ErrServer:
		return "server-error"
	case ErrTransport:
		return "transport-error"
	default:
		return "unknown"
	}
}

// Error is the normalized error type returned by every Client operation.
type Error struct {
	Kind       ErrorKind
	Path       string
	HTTPStatus int
	Err        error
}

func (e *Error) Error() string {
	if e.HTTPStatus != 0 {
		return fmt.Sprintf("backend: %s: path=%q http=%d: %v", e.Kind, e.Path, e.HTTPStatus, e.Err)
	}
	return fmt.Sprintf("backend: %s: path=%q: %v", e.Kind, e.Path, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Client wraps the backend's REST surface. Holds a base URL and an opaque
// bearer token injected once at construction.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
	log     *logger.Logger

	// schema is a best-effort drift detector over list-directory responses;
	// it never fails a request, it only logs when the backend's response
	// shape changes unexpectedly.
	schema *payload.Validator
}

// New constructs a Client talking to baseURL with the given bearer token
// (may be empty) and per-request timeout.
//
// The transport is tuned the way a long-running daemon's backend client
// should be: a bounded idle-connection pool and explicit timeouts, rather
// than the zero-value http.Transport.
func New(baseURL, token string, timeout time.Duration) *Client {
	transport := &http.Transport{
		MaxIdleConns:          50,
		MaxIdleConnsPerHost:   10,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http: &http.Client{
			Transport: transport,
			Timeout:   timeout,
		},
		log:    logger.New(logger.LevelError),
		schema: payload.NewValidator(),
	}
}

// SetLogger overrides the client's logger (used for schema-drift warnings).
func (c *Client) SetLogger(l *logger.Logger) { c.log = l }

type resourceResponse struct {
	Name     string             `json:"name"`
	Path     string             `json:"path"`
	IsDir    bool               `json:"isDir"`
	Size     int64              `json:"size"`
	Modified string             `json:"modified"`
	MIMEType string             `json:"type,omitempty"`
	Items    []resourceResponse `json:"items,omitempty"`
}

func (c *Client) resourceToEntry(r resourceResponse) FileEntry {
	modified := int64(0)
	if t, err := time.Parse(time.RFC3339, r.Modified); err == nil {
		modified = t.Unix()
	}
	ft := FileTypeRegular
	if r.IsDir {
		ft = FileTypeDirectory
	}
	return FileEntry{
		Name:     r.Name,
		Path:     r.Path,
		Type:     ft,
		Size:     r.Size,
		Modified: modified,
		MIMEType: r.MIMEType,
	}
}

func (c *Client) authedRequest(ctx context.Context, method, url string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, err
	}
	if c.token != "" {
		req.Header.Set("X-Auth", c.token)
	}
	return req, nil
}

func (c *Client) do(ctx context.Context, method, path string, body io.Reader, headers map[string]string) (*http.Response, error) {
	u := c.resourceURL(path)
	req, err := c.authedRequest(ctx, method, u, body)
	if err != nil {
		return nil, &Error{Kind: ErrTransport, Path: path, Err: err}
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &Error{Kind: ErrTransport, Path: path, Err: err}
	}
	return resp, nil
}

// handleStatus maps a response's HTTP status to the normalized error
// taxonomy. Returns nil for any 2xx status, leaving resp.Body open for the
// caller to read. On a non-2xx status it closes resp.Body itself, since no
// caller needs the error body.
func (c *Client) handleStatus(resp *http.Response, path string) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	defer resp.Body.Close()
	switch resp.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return &Error{Kind: ErrPermissionDenied, Path: path, HTTPStatus: resp.StatusCode, Err: fmt.Errorf("permission denied")}
	case http.StatusNotFound:
		return &Error{Kind: ErrNotFound, Path: path, HTTPStatus: resp.StatusCode, Err: fmt.Errorf("not found")}
	default:
		return &Error{Kind: ErrServer, Path: path, HTTPStatus: resp.StatusCode, Err: fmt.Errorf("unexpected status %d", resp.StatusCode)}
	}
}

func (c *Client) resourceURL(path string) string {
	return c.baseURL + "/api/resources" + path
}

// ListDir lists the entries of a directory.
func (c *Client) ListDir(ctx context.Context, path string) ([]FileEntry, error) {
	resp, err := c.do(ctx, http.MethodGet, path, nil, nil)
	if err != nil {
		return nil, err
	}
	if err := c.handleStatus(resp, path); err != nil {
		return nil, err
	}
	raw, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		return nil, &Error{Kind: ErrTransport, Path: path, Err: err}
	}

	if c.schema.HasBaseline() {
		if mismatches, err := c.schema.Validate(raw); err == nil && len(mismatches) > 0 {
			c.log.Warnf("backend: list-dir response schema drift: %s", payload.FormatMismatches(mismatches))
		}
	} else {
		_ = c.schema.Learn(raw)
	}

	var resource resourceResponse
	if err := json.Unmarshal(raw, &resource); err != nil {
		return nil, &Error{Kind: ErrServer, Path: path, Err: fmt.Errorf("decode response: %w", err)}
	}

	entries := make([]FileEntry, 0, len(resource.Items))
	for _, item := range resource.Items {
		entries = append(entries, c.resourceToEntry(item))
	}
	return entries, nil
}

// GetInfo fetches metadata for a single path.
func (c *Client) GetInfo(ctx context.Context, path string) (FileEntry, error) {
	resp, err := c.do(ctx, http.MethodGet, path, nil, nil)
	if err != nil {
		return FileEntry{}, err
	}
	if err := c.handleStatus(resp, path); err != nil {
		return FileEntry{}, err
	}
	defer resp.Body.Close()

	var resource resourceResponse
	if err := json.NewDecoder(resp.Body).Decode(&resource); err != nil {
		return FileEntry{}, &Error{Kind: ErrServer, Path: path, Err: fmt.Errorf("decode response: %w", err)}
	}
	return c.resourceToEntry(resource), nil
}

// Download fetches raw file content.
func (c *Client) Download(ctx context.Context, path string) ([]byte, error) {
	u := c.baseURL + "/api/raw" + path
	req, err := c.authedRequest(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, &Error{Kind: ErrTransport, Path: path, Err: err}
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &Error{Kind: ErrTransport, Path: path, Err: err}
	}
	if err := c.handleStatus(resp, path); err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &Error{Kind: ErrTransport, Path: path, Err: err}
	}
	return data, nil
}

// Upload writes content to path, optionally overwriting an existing file.
func (c *Client) Upload(ctx context.Context, path string, content []byte, overwrite bool) error {
	u := c.resourceURL(path) + "?override=" + strconv.FormatBool(overwrite)
	req, err := c.authedRequest(ctx, http.MethodPost, u, bytes.NewReader(content))
	if err != nil {
		return &Error{Kind: ErrTransport, Path: path, Err: err}
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return &Error{Kind: ErrTransport, Path: path, Err: err}
	}
	if err := c.handleStatus(resp, path); err != nil {
		return err
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	return nil
}

// Delete removes a file or directory.
func (c *Client) Delete(ctx context.Context, path string) error {
	resp, err := c.do(ctx, http.MethodDelete, path, nil, nil)
	if err != nil {
		return err
	}
	if err := c.handleStatus(resp, path); err != nil {
		return err
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	return nil
}

// Rename moves from to to.
func (c *Client) Rename(ctx context.Context, from, to string) error {
	body, err := json.Marshal(struct {
		Action      string `json:"action"`
		Destination string `json:"destination"`
	}{Action: "rename", Destination: to})
	if err != nil {
		return &Error{Kind: ErrTransport, Path: from, Err: err}
	}
	resp, err := c.do(ctx, http.MethodPatch, from, bytes.NewReader(body), map[string]string{"Content-Type": "application/json"})
	if err != nil {
		return err
	}
	if err := c.handleStatus(resp, from); err != nil {
		return err
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	return nil
}

// Mkdir creates a directory at path.
func (c *Client) Mkdir(ctx context.Context, path string) error {
	u := c.resourceURL(path) + "/?override=false"
	req, err := c.authedRequest(ctx, http.MethodPost, u, nil)
	if err != nil {
		return &Error{Kind: ErrTransport, Path: path, Err: err}
	}
	req.Header.Set("Content-Length", "0")
	resp, err := c.http.Do(req)
	if err != nil {
		return &Error{Kind: ErrTransport, Path: path, Err: err}
	}
	if err := c.handleStatus(resp, path); err != nil {
		return err
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	return nil
}

// QueryEscape is a small convenience re-export so callers building raw
// request paths do not need to import net/url themselves.
func QueryEscape(s string) string { return url.QueryEscape(s) }
