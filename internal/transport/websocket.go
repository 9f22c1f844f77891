package transport

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/controlled-anonymity/client-go/internal/config"
	"github.com/controlled-anonymity/client-go/internal/util"
)

// Close codes the backend uses to refuse a device outright.
const (
	CloseUserNotFound         = 4001
	CloseVerificationRequired = 4002
	CloseAccessDenied         = 4003
)

// Conn is one established connection. ReadFrame is called from a single
// reader goroutine and WriteFrame/Ping from a single writer goroutine;
// Close may be called from anywhere.
type Conn interface {
	ReadFrame() ([]byte, error)
	WriteFrame(data []byte) error
	Ping() error
	Close() error
}

type Dialer interface {
	Dial(ctx context.Context, url string) (Conn, error)
}

// WebsocketDialer dials with gorilla/websocket.
type WebsocketDialer struct {
	Dialer    *websocket.Dialer
	Header    http.Header
	ReadLimit int64
	PongWait  time.Duration
	WriteWait time.Duration
}

func NewWebsocketDialer() *WebsocketDialer {
	return &WebsocketDialer{
		Dialer:    websocket.DefaultDialer,
		ReadLimit: config.WSReadLimit,
		PongWait:  config.WSPongWait,
		WriteWait: config.WSWriteWait,
	}
}

func (d *WebsocketDialer) Dial(ctx context.Context, url string) (Conn, error) {
	dialer := d.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}

	ws, resp, err := dialer.DialContext(ctx, url, d.Header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("websocket handshake: %s: %w", resp.Status, err)
		}
		return nil, err
	}

	if d.ReadLimit > 0 {
		ws.SetReadLimit(d.ReadLimit)
	}
	if d.PongWait > 0 {
		pongWait := d.PongWait
		ws.SetReadDeadline(time.Now().Add(pongWait))
		ws.SetPongHandler(func(string) error {
			return ws.SetReadDeadline(time.Now().Add(pongWait))
		})
	}

	return &wsConn{conn: ws, writeWait: d.WriteWait}, nil
}

type wsConn struct {
	conn      *websocket.Conn
	writeWait time.Duration
}

func (c *wsConn) ReadFrame() ([]byte, error) {
	for {
		mt, data, err := c.conn.ReadMessage()
		if err != nil {
			return nil, err
		}
		if mt == websocket.TextMessage || mt == websocket.BinaryMessage {
			return data, nil
		}
	}
}

func (c *wsConn) WriteFrame(data []byte) error {
	if c.writeWait > 0 {
		c.conn.SetWriteDeadline(time.Now().Add(c.writeWait))
	}
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

func (c *wsConn) Ping() error {
	return c.conn.WriteControl(websocket.PingMessage, nil, c.deadline())
}

func (c *wsConn) Close() error {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = c.conn.WriteControl(websocket.CloseMessage, msg, c.deadline())
	return c.conn.Close()
}

func (c *wsConn) deadline() time.Time {
	wait := c.writeWait
	if wait <= 0 {
		wait = config.WSWriteWait
	}
	return time.Now().Add(wait)
}

// closeInfo extracts the close code and reason from a read or dial error.
func closeInfo(err error) (int, string) {
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		return ce.Code, ce.Text
	}
	if err == nil {
		return websocket.CloseNormalClosure, ""
	}
	return websocket.CloseAbnormalClosure, err.Error()
}

func isPolicyClose(code int) bool {
	switch code {
	case CloseUserNotFound, CloseVerificationRequired, CloseAccessDenied:
		return true
	}
	return false
}

// redactURL shortens the trailing digest segment for logs.
func redactURL(raw string) string {
	i := strings.LastIndex(raw, "/")
	if i < 0 || i == len(raw)-1 {
		return raw
	}
	return raw[:i+1] + util.ShortHash(raw[i+1:])
}
