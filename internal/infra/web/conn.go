package web

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"voicebridge/internal/application"
)

const closeGracePeriod = time.Second

// wsConn adapts a gorilla websocket connection to the relay's client
// interface. Writes are serialized; gorilla allows one concurrent writer.
type wsConn struct {
	conn      *websocket.Conn
	writeMu   sync.Mutex
	closeOnce sync.Once
	closeErr  error
}

func newWSConn(conn *websocket.Conn) *wsConn {
	return &wsConn{conn: conn}
}

func (c *wsConn) ReadFrame() (application.Frame, error) {
	messageType, data, err := c.conn.ReadMessage()
	if err != nil {
		if isClientGone(err) {
			return application.Frame{}, fmt.Errorf("%w: %v", application.ErrClientClosed, err)
		}
		return application.Frame{}, fmt.Errorf("reading frame: %w", err)
	}
	return application.Frame{
		Binary: messageType == websocket.BinaryMessage,
		Data:   data,
	}, nil
}

func (c *wsConn) SendJSON(v any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteJSON(v)
}

func (c *wsConn) SendBinary(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteMessage(websocket.BinaryMessage, data)
}

func (c *wsConn) Close() error {
	c.closeOnce.Do(func() {
		c.writeMu.Lock()
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeGracePeriod))
		c.writeMu.Unlock()
		c.closeErr = c.conn.Close()
	})
	return c.closeErr
}

// isClientGone reports whether a read error means the peer is gone rather
// than the stream being corrupt: a close frame, a dropped TCP connection, or
// our own teardown closing the socket under the reader.
func isClientGone(err error) bool {
	if websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseNoStatusReceived,
		websocket.CloseAbnormalClosure) {
		return true
	}
	return errors.Is(err, net.ErrClosed)
}
