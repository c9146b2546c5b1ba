package gateway

import (
	"context"
	"time"

	"github.com/gorilla/websocket"
	"github.com/hollowgrove/yroom/internal/logging"
	"github.com/hollowgrove/yroom/internal/room"
	"go.uber.org/zap"
)

const (
	writeWait  = 10 * time.Second
	sendBuffer = 256
)

// wsConnection is the subset of *websocket.Conn the pumps depend on, so
// tests can substitute an in-memory fake.
type wsConnection interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
	SetWriteDeadline(t time.Time) error
}

// Connection binds one WebSocket socket to one Room connection-id. It owns
// no protocol state of its own - HandleMessage's and Connect's results are
// the only source of truth - just the socket and its outbound queue.
type Connection struct {
	conn     wsConnection
	id       room.ConnID
	roomName string
	opts     room.ClientOptions

	send      chan []byte
	closeOnce chan struct{}
}

func newConnection(conn wsConnection, id room.ConnID, roomName string, opts room.ClientOptions) *Connection {
	return &Connection{
		conn:      conn,
		id:        id,
		roomName:  roomName,
		opts:      opts,
		send:      make(chan []byte, sendBuffer),
		closeOnce: make(chan struct{}),
	}
}

// enqueue queues payload for delivery on the write pump. If the send
// buffer is full the payload is dropped rather than blocking the caller -
// a slow reader should not stall every other connection's fan-out.
func (c *Connection) enqueue(payload []byte) {
	select {
	case c.send <- payload:
	default:
		logging.Warn(context.Background(), "gateway: send buffer full, dropping frame",
			zap.String("room", c.roomName), zap.Uint64("conn_id", c.id))
	}
}

// writePump drains c.send to the socket until it is closed.
func (c *Connection) writePump() {
	defer c.conn.Close()
	for {
		select {
		case payload, ok := <-c.send:
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.BinaryMessage, payload); err != nil {
				return
			}
		case <-c.closeOnce:
			return
		}
	}
}

// readPump reads frames off the socket and hands each one to gw.handle,
// until the connection errors or closes. On exit it always runs gw's
// disconnect path exactly once.
func (c *Connection) readPump(ctx context.Context, gw *Gateway) {
	defer func() {
		close(c.closeOnce)
		gw.disconnect(ctx, c.roomName, c, c.opts)
		c.conn.Close()
	}()

	for {
		messageType, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		if messageType != websocket.BinaryMessage {
			continue
		}
		gw.handle(ctx, c.roomName, c, data, c.opts)
	}
}
