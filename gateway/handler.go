package gateway

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/firasghr/pibox-server/auth"
	"github.com/firasghr/pibox-server/backend"
	"github.com/firasghr/pibox-server/lock"
	"github.com/firasghr/pibox-server/logger"
	"github.com/firasghr/pibox-server/metrics"
	"github.com/firasghr/pibox-server/protocol"
	"github.com/firasghr/pibox-server/state"
)

// authTimeout bounds how long a connection may sit in AwaitingAuth before
// it is dropped.
const authTimeout = 30 * time.Second

var errAuthFailed = errors.New("gateway: invalid credentials")

// Handler drives the per-connection state machine described by the
// daemon's session protocol: AwaitingAuth, Active, Terminated.
type Handler struct {
	state    *state.State
	verifier auth.Verifier
	pathLock *lock.PathLock
	metrics  *metrics.Metrics
	log      *logger.Logger
}

// NewHandler constructs a Handler. verifier may be auth.AllowAny for
// development deployments.
func NewHandler(st *state.State, verifier auth.Verifier, pl *lock.PathLock, m *metrics.Metrics, log *logger.Logger) *Handler {
	if verifier == nil {
		verifier = auth.AllowAny
	}
	return &Handler{state: st, verifier: verifier, pathLock: pl, metrics: m, log: log}
}

// Serve owns ws for its entire lifetime: it runs the auth wait, then the
// dispatch loop and broadcast forwarder concurrently, and only returns
// once the connection has fully torn down. The caller is responsible for
// the initial HTTP upgrade; Serve closes ws before returning.
func (h *Handler) Serve(ctx context.Context, ws *websocket.Conn) {
	c := newConn(ws)
	defer c.close()

	sessionID, username, pair, err := h.awaitAuth(c)
	if err != nil {
		c.writeJSON(protocol.NewAuthError(authFailureMessage(err)))
		return
	}

	sub, err := h.state.RegisterSession(sessionID, username)
	if err != nil {
		if h.log != nil {
			h.log.Errorf("gateway: register session: %v", err)
		}
		c.writeJSON(protocol.NewAuthError("internal error"))
		return
	}
	defer h.state.UnregisterSession(sessionID)

	if err := c.writeJSON(protocol.NewAuthSuccess(pair.AccessToken, pair.RefreshToken, pair.ExpiresIn)); err != nil {
		return
	}

	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		h.forwardBroadcasts(connCtx, c, sub)
	}()

	h.dispatchLoop(connCtx, c, sessionID)
	cancel()
	wg.Wait()
}

// awaitAuth waits up to authTimeout for a login message with non-empty
// credentials accepted by the verifier. Non-login frames received while
// waiting are ignored, matching the Active state's "login when already
// authed" no-op symmetry.
func (h *Handler) awaitAuth(c *conn) (sessionID, username string, pair auth.TokenPair, err error) {
	c.ws.SetReadDeadline(time.Now().Add(authTimeout))
	for {
		_, data, rerr := c.ws.ReadMessage()
		if rerr != nil {
			return "", "", auth.TokenPair{}, rerr
		}
		env, derr := protocol.Decode(data)
		if derr != nil || env.Type != protocol.TypeLogin {
			continue
		}
		var msg protocol.LoginMessage
		if err := env.As(&msg); err != nil {
			continue
		}
		if msg.Username == "" || msg.Password == "" || !h.verifier.Verify(msg.Username, msg.Password) {
			return "", "", auth.TokenPair{}, errAuthFailed
		}
		pair, ierr := h.state.Authority().Issue(msg.Username, "")
		if ierr != nil {
			return "", "", auth.TokenPair{}, ierr
		}
		return uuid.New().String(), msg.Username, pair, nil
	}
}

func authFailureMessage(err error) string {
	if errors.Is(err, errAuthFailed) {
		return "invalid username or password"
	}
	return "authentication timed out"
}

// forwardBroadcasts relays hub messages to the peer and sends periodic
// transport-level pings, until ctx is cancelled or the connection fails.
func (h *Handler) forwardBroadcasts(ctx context.Context, c *conn, sub *state.Subscription) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-sub.Messages():
			if !ok {
				return
			}
			if err := c.writeJSON(msg); err != nil {
				return
			}
		case <-ticker.C:
			if err := c.writePing(); err != nil {
				return
			}
		}
	}
}

// dispatchLoop reads client requests and dispatches them until the
// connection fails or ctx is cancelled.
func (h *Handler) dispatchLoop(ctx context.Context, c *conn, sessionID string) {
	c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		c.ws.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			return
		}
		env, derr := protocol.Decode(data)
		if derr != nil {
			c.writeJSON(protocol.NewError("malformed message"))
			continue
		}
		h.dispatch(ctx, c, sessionID, env)
	}
}

func (h *Handler) dispatch(ctx context.Context, c *conn, sessionID string, env protocol.Envelope) {
	if h.metrics != nil {
		h.metrics.IncrementTotal()
	}

	var opErr error
	switch env.Type {
	case protocol.TypePing:
		c.writeJSON(protocol.NewPong())

	case protocol.TypeRefreshToken:
		opErr = h.handleRefresh(c, env)

	case protocol.TypeListDir:
		opErr = h.handleListDir(ctx, c, env)

	case protocol.TypeDownload:
		opErr = h.handleDownload(ctx, c, env)

	case protocol.TypeUpload:
		opErr = h.handleUpload(ctx, c, env)

	case protocol.TypeDelete:
		opErr = h.handleDelete(ctx, c, env)

	case protocol.TypeRename:
		opErr = h.handleRename(ctx, c, env)

	case protocol.TypeMkdir:
		opErr = h.handleMkdir(ctx, c, env)

	case protocol.TypeCapabilities:
		h.handleCapabilities(sessionID, env)

	case protocol.TypeOffloadResult:
		h.handleOffloadResult(sessionID, env)

	case protocol.TypeLogin:
		// Already authenticated; ignored per the dispatch table.

	default:
		c.writeJSON(protocol.NewError("unknown message type"))
	}

	if h.metrics == nil {
		return
	}
	if opErr != nil {
		h.metrics.IncrementFailed()
	} else {
		h.metrics.IncrementSuccess()
	}
}

func (h *Handler) handleRefresh(c *conn, env protocol.Envelope) error {
	var msg protocol.RefreshTokenMessage
	if err := env.As(&msg); err != nil {
		c.writeJSON(protocol.NewAuthError("malformed refresh request"))
		return err
	}
	pair, err := h.state.Authority().Refresh(msg.RefreshToken)
	if err != nil {
		c.writeJSON(protocol.NewAuthError(verifyErrorMessage(err)))
		return err
	}
	return c.writeJSON(protocol.NewAuthSuccess(pair.AccessToken, pair.RefreshToken, pair.ExpiresIn))
}

func verifyErrorMessage(err error) string {
	var verr *auth.VerifyError
	if errors.As(err, &verr) {
		switch verr.Kind {
		case auth.ErrExpired:
			return "token expired"
		case auth.ErrWrongKind:
			return "wrong token kind"
		default:
			return "malformed token"
		}
	}
	return "token verification failed"
}

func (h *Handler) handleListDir(ctx context.Context, c *conn, env protocol.Envelope) error {
	var msg protocol.ListDirMessage
	if err := env.As(&msg); err != nil {
		return c.writeJSON(protocol.NewOpError("list_dir", "", "malformed request"))
	}
	entries, err := h.state.Backend().ListDir(ctx, msg.Path)
	if err != nil {
		return c.writeJSON(protocol.NewOpError("list_dir", msg.Path, err.Error()))
	}
	out := make([]protocol.DirEntry, len(entries))
	for i, e := range entries {
		out[i] = protocol.DirEntry{
			Name: e.Name, Path: e.Path, IsDir: e.Type == backend.FileTypeDirectory,
			Size: e.Size, Modified: e.Modified, MIMEType: e.MIMEType,
		}
	}
	return c.writeJSON(protocol.NewDirListing(msg.Path, out))
}

const errTooManyTransfers = "Too many concurrent transfers"

func (h *Handler) handleDownload(ctx context.Context, c *conn, env protocol.Envelope) error {
	var msg protocol.DownloadMessage
	if err := env.As(&msg); err != nil {
		return c.writeJSON(protocol.NewOpError("download", "", "malformed request"))
	}
	if !h.state.StartTransfer() {
		return c.writeJSON(protocol.NewOpError("download", msg.Path, errTooManyTransfers))
	}
	defer h.state.EndTransfer()

	content, err := h.state.Backend().Download(ctx, msg.Path)
	if err != nil {
		return c.writeJSON(protocol.NewOpError("download", msg.Path, err.Error()))
	}
	return c.writeJSON(protocol.NewFileContent(msg.Path, content, ""))
}

func (h *Handler) handleUpload(ctx context.Context, c *conn, env protocol.Envelope) error {
	var msg protocol.UploadMessage
	if err := env.As(&msg); err != nil {
		return c.writeJSON(protocol.NewOpError("upload", "", "malformed request"))
	}
	if !h.state.StartTransfer() {
		return c.writeJSON(protocol.NewOpError("upload", msg.Path, errTooManyTransfers))
	}
	defer h.state.EndTransfer()

	var opErr error
	lockErr := lock.WithLock(ctx, h.pathLock, msg.Path, func() error {
		opErr = h.state.Backend().Upload(ctx, msg.Path, msg.Content, true)
		return opErr
	})
	if lockErr != nil {
		return c.writeJSON(protocol.NewOpError("upload", msg.Path, lockErr.Error()))
	}

	h.state.Broadcast(protocol.NewFsEvent(protocol.FsEventCreated, msg.Path, false))
	return c.writeJSON(protocol.NewOpSuccess("upload", msg.Path))
}

func (h *Handler) handleDelete(ctx context.Context, c *conn, env protocol.Envelope) error {
	var msg protocol.DeleteMessage
	if err := env.As(&msg); err != nil {
		return c.writeJSON(protocol.NewOpError("delete", "", "malformed request"))
	}

	var opErr error
	lockErr := lock.WithLock(ctx, h.pathLock, msg.Path, func() error {
		opErr = h.state.Backend().Delete(ctx, msg.Path)
		return opErr
	})
	if lockErr != nil {
		return c.writeJSON(protocol.NewOpError("delete", msg.Path, lockErr.Error()))
	}

	h.state.Broadcast(protocol.NewFsEvent(protocol.FsEventDeleted, msg.Path, false))
	return c.writeJSON(protocol.NewOpSuccess("delete", msg.Path))
}

func (h *Handler) handleRename(ctx context.Context, c *conn, env protocol.Envelope) error {
	var msg protocol.RenameMessage
	if err := env.As(&msg); err != nil {
		return c.writeJSON(protocol.NewOpError("rename", "", "malformed request"))
	}

	paths := []string{msg.From, msg.To}
	sort.Strings(paths)

	var opErr error
	lockErr := lock.WithLock(ctx, h.pathLock, paths[0], func() error {
		return lock.WithLock(ctx, h.pathLock, paths[1], func() error {
			opErr = h.state.Backend().Rename(ctx, msg.From, msg.To)
			return opErr
		})
	})
	if lockErr != nil {
		return c.writeJSON(protocol.NewOpError("rename", msg.From, lockErr.Error()))
	}

	h.state.Broadcast(protocol.NewFsEventRenamed(msg.From, msg.To))
	return c.writeJSON(protocol.NewOpSuccess("rename", msg.To))
}

func (h *Handler) handleMkdir(ctx context.Context, c *conn, env protocol.Envelope) error {
	var msg protocol.MkdirMessage
	if err := env.As(&msg); err != nil {
		return c.writeJSON(protocol.NewOpError("mkdir", "", "malformed request"))
	}

	var opErr error
	lockErr := lock.WithLock(ctx, h.pathLock, msg.Path, func() error {
		opErr = h.state.Backend().Mkdir(ctx, msg.Path)
		return opErr
	})
	if lockErr != nil {
		return c.writeJSON(protocol.NewOpError("mkdir", msg.Path, lockErr.Error()))
	}

	h.state.Broadcast(protocol.NewFsEvent(protocol.FsEventCreated, msg.Path, true))
	return c.writeJSON(protocol.NewOpSuccess("mkdir", msg.Path))
}

func (h *Handler) handleCapabilities(sessionID string, env protocol.Envelope) {
	var msg protocol.CapabilitiesMessage
	if err := env.As(&msg); err != nil {
		return
	}
	h.state.UpdateCapabilities(sessionID, capabilitiesFromMessage(msg))
}

func (h *Handler) handleOffloadResult(sessionID string, env protocol.Envelope) {
	var msg protocol.OffloadResultMessage
	if err := env.As(&msg); err != nil {
		return
	}
	requesterID, ok := h.state.ResolveOffload(msg.TaskID)
	if !ok {
		if h.log != nil {
			h.log.Warnf("gateway: offload_result for unknown or expired task %q from session %s", msg.TaskID, sessionID)
		}
		return
	}
	h.state.SendToSession(requesterID, msg)
}
