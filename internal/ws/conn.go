// Package ws wraps a WebSocket connection into the two primitives the
// session machine drives: a one-message-at-a-time receive call and a
// serialized send. All writes, including pong replies to server pings,
// funnel through a single writer goroutine so that no two frames are
// ever in flight concurrently on one connection.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/url"
	"strings"
	"sync"
	"time"

	// gorilla/websocket is the most popular WebSocket library for Go.
	// It provides a complete implementation of the WebSocket protocol
	// with support for reading/writing messages, ping/pong, and close handling.
	"github.com/gorilla/websocket"

	"github.com/todoproxy/dock/internal/api"
	apperrors "github.com/todoproxy/dock/internal/errors"
)

const (
	// writeWait bounds how long a single frame write may take.
	writeWait = 10 * time.Second

	// pingPeriod is the keepalive interval for client-initiated pings.
	pingPeriod = 30 * time.Second

	// maxMessageSize caps incoming frames at 512KB.
	maxMessageSize = 512 * 1024

	// outboundBuffer is the writer queue depth. Senders block once it
	// fills; pong replies are dropped instead (the next ping retries).
	outboundBuffer = 16
)

// ErrUnauthorized is returned by ReceiveNext when the server closes the
// connection with the reason "Unauthorized". The session machine treats
// this as expired credentials rather than a transient loss.
var ErrUnauthorized = errors.New("server closed connection: unauthorized")

// errConnClosed is returned for operations on a locally closed connection.
var errConnClosed = errors.New("connection closed")

// frame is one queued outgoing message. result is nil for frames nobody
// waits on (pong replies).
type frame struct {
	messageType int
	payload     []byte
	result      chan error
}

// Conn is a connected transport. It is safe to call Send from multiple
// goroutines; ReceiveNext must only be called from one goroutine at a
// time (the session's receive loop).
type Conn struct {
	conn       *websocket.Conn
	outbound   chan frame
	done       chan struct{} // closed by Close
	writerDone chan struct{} // closed when the writer goroutine exits
	closeOnce  sync.Once
}

// Endpoint converts a configured server URL into the WebSocket endpoint
// to dial. http/https schemes map to ws/wss; a bare host URL gets the
// default task-updates path.
func Endpoint(serverURL string) (string, error) {
	u, err := url.Parse(serverURL)
	if err != nil {
		return "", fmt.Errorf("parse server url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported server url scheme %q", u.Scheme)
	}
	if u.Path == "" || u.Path == "/" {
		u.Path = "/ws/task_updates"
	}
	return u.String(), nil
}

// Dial establishes a connection to the server and performs the handshake:
// the api key is sent as a one-shot init message ({"api_key":...}) on the
// fresh socket, before the caller arms the receive loop. This is the one
// handshake variant this client speaks; the key is never carried in the URL.
func Dial(ctx context.Context, serverURL, apiKey string) (*Conn, error) {
	endpoint, err := Endpoint(serverURL)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeConnDialFailed, "invalid server url", err)
	}

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	wsConn, _, err := dialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeConnDialFailed, "connect failed", err)
	}

	c := &Conn{
		conn:       wsConn,
		outbound:   make(chan frame, outboundBuffer),
		done:       make(chan struct{}),
		writerDone: make(chan struct{}),
	}

	wsConn.SetReadLimit(maxMessageSize)

	// Answer server pings with a pong carrying the same payload, routed
	// through the shared writer. The handler runs on the receive path,
	// so it must never block: if the queue is full the pong is dropped
	// and the server's next ping gets another chance.
	wsConn.SetPingHandler(func(payload string) error {
		select {
		case c.outbound <- frame{messageType: websocket.PongMessage, payload: []byte(payload)}:
		case <-c.done:
		case <-c.writerDone:
		default:
			log.Printf("ws: outbound queue full, dropping pong")
		}
		return nil
	})

	go c.writePump()

	init, err := json.Marshal(api.InitMessage{APIKey: apiKey})
	if err != nil {
		c.Close()
		return nil, apperrors.Wrap(apperrors.CodeConnDialFailed, "encode init message", err)
	}
	if err := c.Send(init); err != nil {
		c.Close()
		return nil, apperrors.Wrap(apperrors.CodeConnDialFailed, "send init message", err)
	}

	return c, nil
}

// writePump is the sole writer on the underlying connection. It drains
// the outbound queue, emits keepalive pings, and sends the close frame
// on shutdown. It exits on the first write error; the deferred close
// then unblocks any pending ReceiveNext with a read error.
func (c *Conn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
		close(c.writerDone)
	}()

	for {
		select {
		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return

		case f := <-c.outbound:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			err := c.conn.WriteMessage(f.messageType, f.payload)
			if f.result != nil {
				f.result <- err
			}
			if err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// Send queues one text frame and waits for the write result. Frames are
// written strictly one at a time in queue order. A failed send leaves
// the connection unusable; the caller is expected to tear the session
// down rather than retry.
func (c *Conn) Send(payload []byte) error {
	result := make(chan error, 1)

	select {
	case c.outbound <- frame{messageType: websocket.TextMessage, payload: payload, result: result}:
	case <-c.done:
		return apperrors.Wrap(apperrors.CodeConnSendFailed, "send on closed connection", errConnClosed)
	case <-c.writerDone:
		return apperrors.Wrap(apperrors.CodeConnSendFailed, "send after write failure", errConnClosed)
	}

	select {
	case err := <-result:
		if err != nil {
			return apperrors.Wrap(apperrors.CodeConnSendFailed, "write failed", err)
		}
		return nil
	case <-c.writerDone:
		// The writer exited while our frame was queued; it may never
		// have been written.
		select {
		case err := <-result:
			if err != nil {
				return apperrors.Wrap(apperrors.CodeConnSendFailed, "write failed", err)
			}
			return nil
		default:
			return apperrors.Wrap(apperrors.CodeConnSendFailed, "connection closed before write", errConnClosed)
		}
	}
}

// ReceiveNext blocks until one text message arrives and returns its
// payload. Each call yields exactly one message; the caller re-invokes
// it after fully applying the previous one, which is what keeps remote
// operations strictly ordered. Any error is terminal for the connection.
func (c *Conn) ReceiveNext() ([]byte, error) {
	for {
		messageType, data, err := c.conn.ReadMessage()
		if err != nil {
			return nil, classifyReadError(err)
		}
		// Binary frames are not part of the protocol; skip rather than fail.
		if messageType != websocket.TextMessage {
			continue
		}
		return data, nil
	}
}

// Close tears the connection down. The writer sends a normal close frame
// before the socket is closed. Safe to call more than once.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		close(c.done)
	})
	return nil
}

// classifyReadError maps a read failure onto the session machine's
// failure taxonomy. Only two kinds are distinguished beyond a generic
// loss: an unauthorized close, and a clean stream end.
func classifyReadError(err error) error {
	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) {
		if strings.EqualFold(strings.TrimSpace(closeErr.Text), "unauthorized") {
			return ErrUnauthorized
		}
		return apperrors.Wrap(apperrors.CodeConnClosed,
			fmt.Sprintf("connection closed (%d %s)", closeErr.Code, closeErr.Text), err)
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return apperrors.Wrap(apperrors.CodeConnClosed, "stream ended", err)
	}
	return apperrors.Wrap(apperrors.CodeConnLost, "lost connection", err)
}
