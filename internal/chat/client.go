package chat

import (
	"time"

	"escrow-engine-go/internal/models"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 54 * time.Second
	maxMessageSize = 512
)

// Client is one member connection on a trade channel. The channel is
// receive-only for clients: messages are sent through the REST endpoint so
// they are persisted first.
type Client struct {
	tradeId string
	userId  string
	conn    *websocket.Conn
	send    chan models.ChannelEvent

	// guarded by Hub.mu
	closed bool
}

func NewClient(conn *websocket.Conn, tradeId, userId string, buffer int) *Client {
	if buffer <= 0 {
		buffer = 256
	}
	return &Client{
		tradeId: tradeId,
		userId:  userId,
		conn:    conn,
		send:    make(chan models.ChannelEvent, buffer),
	}
}

// Events exposes the client's outbound queue. It is closed when the client
// leaves the hub.
func (c *Client) Events() <-chan models.ChannelEvent {
	return c.send
}

// Serve joins the hub and pumps events until the connection drops. It blocks.
func (c *Client) Serve(hub *Hub) {
	hub.Join(c)
	go c.writePump()
	c.readPump()
	hub.Leave(c)
}

// readPump only services control frames and detects disconnects.
func (c *Client) readPump() {
	defer c.conn.Close()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				zap.L().Warn("Unexpected websocket close",
					zap.String("trade_id", c.tradeId),
					zap.String("user_id", c.userId),
					zap.Error(err))
			}
			return
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case ev, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteJSON(ev); err != nil {
				zap.L().Debug("Websocket write failed", zap.String("user_id", c.userId), zap.Error(err))
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
