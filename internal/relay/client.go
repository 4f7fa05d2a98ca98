package relay

import (
	"encoding/json"
	"log/slog"
	"time"

	"github.com/Nitishvarma50/app-p2p/internal/signaling"
	"github.com/gorilla/websocket"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// SDP offers stay well below this.
	maxMessageSize = 64 * 1024
)

// Client is one WebSocket connection to the relay.
type Client struct {
	hub  *Hub
	conn *websocket.Conn

	// ID is the peer id handed out in the joined event.
	ID string

	// roomID is owned by the hub goroutine.
	roomID string

	// send is drained by WritePump; the hub closes it on unregister.
	send chan signaling.Event
}

type inbound struct {
	client *Client
	msg    signaling.ClientMessage
}

// ReadPump pumps messages from the websocket connection to the hub.
func (c *Client) ReadPump() {
	defer func() {
		c.hub.unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				slog.Debug("relay read error", "peer", c.ID, "err", err)
			}
			return
		}
		c.conn.SetReadDeadline(time.Now().Add(pongWait))

		var msg signaling.ClientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			slog.Warn("failed to decode client frame", "peer", c.ID, "err", err)
			continue
		}

		if !c.hub.submit(inbound{client: c, msg: msg}) {
			return
		}
	}
}

// WritePump pumps messages from the hub to the websocket connection.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case ev, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteJSON(ev); err != nil {
				slog.Debug("relay write error", "peer", c.ID, "err", err)
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
