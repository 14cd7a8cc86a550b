package console

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10

	maxInboundBytes = 4 << 10
	sendBuffer      = 32
)

var errSlowConsumer = errors.New("console: send buffer full")
var errClientGone = errors.New("console: client disconnected")

// client is one volunteer connection. It satisfies registry.Pusher: pushes
// land in a buffered channel drained by the write pump, so a slow browser can
// never stall the registry.
type client struct {
	identity string
	conn     *websocket.Conn
	send     chan any
	done     chan struct{}
	once     sync.Once
}

func newClient(identity string, conn *websocket.Conn) *client {
	return &client{
		identity: identity,
		conn:     conn,
		send:     make(chan any, sendBuffer),
		done:     make(chan struct{}),
	}
}

func (c *client) Send(msg any) error {
	select {
	case <-c.done:
		return errClientGone
	case c.send <- msg:
		return nil
	default:
		return errSlowConsumer
	}
}

func (c *client) close() {
	c.once.Do(func() {
		close(c.done)
		c.conn.Close()
	})
}

// writePump owns all writes to the connection, including pings.
func (c *client) writePump(log *slog.Logger) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.close()
	}()

	for {
		select {
		case <-c.done:
			return
		case msg := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(msg); err != nil {
				log.Debug("console write failed", "identity", c.identity, "err", err)
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
