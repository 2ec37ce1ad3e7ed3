// Package gateway implements the per-connection session handler: the
// authentication wait, the request/reply dispatch loop, broadcast
// delivery, and teardown described for each WebSocket connection.
package gateway

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	// writeWait bounds how long a single WriteMessage call may take.
	writeWait = 10 * time.Second

	// pongWait bounds how long the connection may go without a pong before
	// it is considered dead; only a pong answering one of the gateway's own
	// pings extends the read deadline, other traffic from the peer does not.
	pongWait = 60 * time.Second

	// pingPeriod must be less than pongWait; the gateway sends its own
	// control-frame pings at this cadence to keep intermediary proxies from
	// closing an otherwise-idle connection.
	pingPeriod = (pongWait * 9) / 10
)

// conn wraps a *websocket.Conn with the mutex that lets both the
// request-handling task and the broadcast-forwarder task write replies
// onto the same stream without interleaving frames.
type conn struct {
	ws      *websocket.Conn
	writeMu sync.Mutex
}

func newConn(ws *websocket.Conn) *conn {
	return &conn{ws: ws}
}

// writeJSON marshals v and writes it as a single text frame, serialized
// against any concurrent writer on this connection.
func (c *conn) writeJSON(v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	return c.ws.WriteMessage(websocket.TextMessage, data)
}

// writePing sends a transport-level ping control frame.
func (c *conn) writePing() error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	return c.ws.WriteMessage(websocket.PingMessage, nil)
}

func (c *conn) close() error {
	return c.ws.Close()
}
