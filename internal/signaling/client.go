package signaling

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/Nitishvarma50/app-p2p/internal/dns"
	"github.com/Nitishvarma50/app-p2p/internal/version"
	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
	outgoingBuffer = 64
)

// ErrNotReady is returned when an action needs an open relay connection and
// there is none. A reconnect has already been started; callers may retry.
var ErrNotReady = errors.New("signaling connection not ready")

// ErrClosed is returned after Close.
var ErrClosed = errors.New("signaling client closed")

// State of the relay connection.
type State int

const (
	StateClosed State = iota
	StateConnecting
	StateOpen
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	default:
		return "closed"
	}
}

// conn is one physical WebSocket connection and its pumps.
type conn struct {
	ws       *websocket.Conn
	outgoing chan []byte
	done     chan struct{}
	once     sync.Once
}

func (c *conn) close() {
	c.once.Do(func() {
		close(c.done)
		c.ws.Close()
	})
}

type subscriber struct {
	ch   chan Event
	done chan struct{}
}

// Client manages the WebSocket connection to the signaling relay. It can be
// reconnected any number of times; subscribers survive reconnects.
type Client struct {
	serverURL string
	dialer    *websocket.Dialer

	mu       sync.Mutex
	state    State
	cur      *conn
	shutdown bool

	subMu sync.Mutex
	subs  []*subscriber
}

// NewClient creates a new signaling client for a ws:// or wss:// URL.
func NewClient(serverURL string) *Client {
	return &Client{
		serverURL: serverURL,
		dialer: &websocket.Dialer{
			NetDialContext:   dns.DialContext,
			HandshakeTimeout: 15 * time.Second,
			Proxy:            http.ProxyFromEnvironment,
		},
	}
}

// State returns the current connection state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Connect opens the relay connection. It is a no-op while a connection is
// open or being opened. A failure leaves the client closed; the error is
// returned for logging only and the caller is expected to retry later.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.shutdown {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.state != StateClosed {
		c.mu.Unlock()
		return nil
	}
	c.state = StateConnecting
	c.mu.Unlock()

	header := http.Header{}
	header.Set("User-Agent", version.UserAgent())

	ws, _, err := c.dialer.DialContext(ctx, c.serverURL, header)

	c.mu.Lock()
	defer c.mu.Unlock()

	if err != nil {
		c.state = StateClosed
		slog.Debug("signaling connect failed", "url", c.serverURL, "err", err)
		return fmt.Errorf("failed to connect: %w", err)
	}
	if c.shutdown {
		ws.Close()
		c.state = StateClosed
		return ErrClosed
	}

	ws.SetReadLimit(maxMessageSize)
	ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	cn := &conn{
		ws:       ws,
		outgoing: make(chan []byte, outgoingBuffer),
		done:     make(chan struct{}),
	}
	c.cur = cn
	c.state = StateOpen

	go c.readPump(cn)
	go c.writePump(cn)

	slog.Debug("signaling connected", "url", c.serverURL)
	return nil
}

// readPump reads frames until the connection fails, then marks the client
// closed and publishes EventClosed.
func (c *Client) readPump(cn *conn) {
	defer c.dropped(cn)

	for {
		_, data, err := cn.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.Debug("signaling read error", "err", err)
			}
			return
		}
		cn.ws.SetReadDeadline(time.Now().Add(pongWait))

		var ev Event
		if err := json.Unmarshal(data, &ev); err != nil {
			slog.Warn("ignoring malformed relay frame", "err", err)
			continue
		}
		if !ev.known() {
			slog.Debug("ignoring unknown relay event", "type", ev.Type)
			continue
		}
		c.publish(ev)
	}
}

// writePump writes queued frames and sends periodic pings.
func (c *Client) writePump(cn *conn) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		cn.close()
	}()

	for {
		select {
		case data := <-cn.outgoing:
			cn.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := cn.ws.WriteMessage(websocket.TextMessage, data); err != nil {
				slog.Debug("signaling write error", "err", err)
				return
			}

		case <-ticker.C:
			cn.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := cn.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-cn.done:
			return
		}
	}
}

func (c *Client) dropped(cn *conn) {
	cn.close()

	c.mu.Lock()
	wasCurrent := c.cur == cn
	if wasCurrent {
		c.cur = nil
		c.state = StateClosed
	}
	shutdown := c.shutdown
	c.mu.Unlock()

	if wasCurrent && !shutdown {
		slog.Info("signaling connection lost")
		c.publish(Event{Type: EventClosed})
	}
}

// Subscribe returns a channel receiving every inbound event in order, plus
// EventClosed on disconnects. The returned function unsubscribes.
func (c *Client) Subscribe() (<-chan Event, func()) {
	sub := &subscriber{
		ch:   make(chan Event, 32),
		done: make(chan struct{}),
	}

	c.subMu.Lock()
	c.subs = append(c.subs, sub)
	c.subMu.Unlock()

	var once sync.Once
	return sub.ch, func() {
		once.Do(func() {
			c.subMu.Lock()
			for i, s := range c.subs {
				if s == sub {
					c.subs = append(c.subs[:i], c.subs[i+1:]...)
					break
				}
			}
			c.subMu.Unlock()
			close(sub.done)
		})
	}
}

func (c *Client) publish(ev Event) {
	c.subMu.Lock()
	subs := make([]*subscriber, len(c.subs))
	copy(subs, c.subs)
	c.subMu.Unlock()

	for _, s := range subs {
		select {
		case s.ch <- ev:
		case <-s.done:
		}
	}
}

// CreateRoom asks the relay for a fresh room.
func (c *Client) CreateRoom() error {
	return c.send(ClientMessage{Action: ActionJoin})
}

// JoinRoom joins an existing room. When the connection is not open a
// reconnect is started in the background and ErrNotReady is returned.
func (c *Client) JoinRoom(roomID string) error {
	err := c.send(ClientMessage{Action: ActionJoin, Room: roomID})
	if errors.Is(err, ErrNotReady) {
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if err := c.Connect(ctx); err != nil {
				slog.Debug("reconnect after join attempt failed", "err", err)
			}
		}()
	}
	return err
}

// LeaveRoom tells the relay this peer is leaving its room.
func (c *Client) LeaveRoom() error {
	return c.send(ClientMessage{Action: ActionLeave})
}

// Signal relays an arbitrary JSON payload to target.
func (c *Client) Signal(target string, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal signal payload: %w", err)
	}
	return c.send(ClientMessage{Action: ActionSignal, Target: target, Payload: raw})
}

func (c *Client) send(msg ClientMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	c.mu.Lock()
	cn := c.cur
	shutdown := c.shutdown
	c.mu.Unlock()

	if shutdown {
		return ErrClosed
	}
	if cn == nil {
		return ErrNotReady
	}

	select {
	case cn.outgoing <- data:
		return nil
	case <-cn.done:
		return ErrNotReady
	}
}

// Close sends a close frame and shuts the client down for good.
func (c *Client) Close() {
	c.mu.Lock()
	if c.shutdown {
		c.mu.Unlock()
		return
	}
	c.shutdown = true
	cn := c.cur
	c.cur = nil
	c.state = StateClosed
	c.mu.Unlock()

	if cn != nil {
		// WriteControl may run concurrently with the write pump.
		cn.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
		cn.close()
	}
}
