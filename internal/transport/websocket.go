package transport

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// DefaultWebSocketPath is where the teacher server accepts session upgrades.
const DefaultWebSocketPath = "/ws"

// wsConn carries one message per binary websocket frame.
type wsConn struct {
	conn *websocket.Conn

	writeMu sync.Mutex
	once    sync.Once
}

func wrapWebSocket(conn *websocket.Conn) Conn {
	conn.SetReadLimit(MaxFrameSize)
	return &wsConn{conn: conn}
}

func (c *wsConn) Send(frame []byte) error {
	if len(frame) > MaxFrameSize {
		return fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, len(frame))
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.conn.WriteMessage(websocket.BinaryMessage, frame); err != nil {
		return fmt.Errorf("failed to write frame: %w", err)
	}
	return nil
}

func (c *wsConn) Receive() ([]byte, error) {
	for {
		kind, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil, ErrClosed
			}
			return nil, err
		}
		if kind == websocket.BinaryMessage || kind == websocket.TextMessage {
			return data, nil
		}
	}
}

func (c *wsConn) Close() error {
	var err error
	c.once.Do(func() {
		c.writeMu.Lock()
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		c.writeMu.Unlock()
		err = c.conn.Close()
	})
	return err
}

func (c *wsConn) RemoteAddr() string {
	return c.conn.RemoteAddr().String()
}

// WebSocketDialer connects to ws://addr/Path.
type WebSocketDialer struct {
	Timeout time.Duration
	Path    string
}

func (d WebSocketDialer) Dial(ctx context.Context, addr string) (Conn, error) {
	path := d.Path
	if path == "" {
		path = DefaultWebSocketPath
	}
	u := url.URL{Scheme: "ws", Host: addr, Path: path}

	dialer := websocket.Dialer{
		HandshakeTimeout: d.Timeout,
		Proxy:            http.ProxyFromEnvironment,
	}
	conn, resp, err := dialer.DialContext(ctx, u.String(), nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("connection failed: %w", err)
	}
	return wrapWebSocket(conn), nil
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Upgrade accepts a websocket session on the server side. The agent never
// serves sessions; tests use it to stand in for the teacher server.
func Upgrade(w http.ResponseWriter, r *http.Request) (Conn, error) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, fmt.Errorf("websocket upgrade failed: %w", err)
	}
	return wrapWebSocket(conn), nil
}

// NewDialer picks the dialer for a PAIRING_TRANSPORT value.
func NewDialer(kind string, timeout time.Duration) (Dialer, error) {
	switch kind {
	case "", "tcp":
		return TCPDialer{Timeout: timeout}, nil
	case "ws":
		return WebSocketDialer{Timeout: timeout}, nil
	default:
		return nil, fmt.Errorf("unknown transport %q", kind)
	}
}
