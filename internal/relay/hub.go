package relay

import (
	"context"
	"log/slog"

	"github.com/Nitishvarma50/app-p2p/internal/signaling"
	"github.com/google/uuid"
)

// Hub owns every room and client. All state is touched only by Run.
type Hub struct {
	rooms   map[string]*Room
	clients map[*Client]struct{}

	register chan *Client
	leaving  chan *Client
	inbound  chan inbound
	done     chan struct{}

	// stats serves Stats requests from outside the Run goroutine.
	stats chan chan Stats
}

// Stats is a snapshot of hub occupancy.
type Stats struct {
	Clients int `json:"clients"`
	Rooms   int `json:"rooms"`
}

// NewHub creates a new Hub instance.
func NewHub() *Hub {
	return &Hub{
		rooms:    make(map[string]*Room),
		clients:  make(map[*Client]struct{}),
		register: make(chan *Client),
		leaving:  make(chan *Client),
		inbound:  make(chan inbound, 64),
		done:     make(chan struct{}),
		stats:    make(chan chan Stats),
	}
}

func (h *Hub) newClient(c *Client) bool {
	select {
	case h.register <- c:
		return true
	case <-h.done:
		return false
	}
}

func (h *Hub) unregister(c *Client) {
	select {
	case h.leaving <- c:
	case <-h.done:
	}
}

func (h *Hub) submit(in inbound) bool {
	select {
	case h.inbound <- in:
		return true
	case <-h.done:
		return false
	}
}

// Stats returns the current occupancy, or zero values once the hub stopped.
func (h *Hub) Stats() Stats {
	reply := make(chan Stats, 1)
	select {
	case h.stats <- reply:
		return <-reply
	case <-h.done:
		return Stats{}
	}
}

// Run is the single goroutine that manages rooms and clients. It returns
// when ctx is cancelled.
func (h *Hub) Run(ctx context.Context) {
	defer func() {
		close(h.done)
		for c := range h.clients {
			close(c.send)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return

		case c := <-h.register:
			h.clients[c] = struct{}{}
			slog.Debug("peer connected", "peer", c.ID, "addr", c.conn.RemoteAddr())

		case c := <-h.leaving:
			if _, ok := h.clients[c]; !ok {
				continue
			}
			h.leave(c)
			delete(h.clients, c)
			close(c.send)
			slog.Debug("peer disconnected", "peer", c.ID)

		case in := <-h.inbound:
			if _, ok := h.clients[in.client]; !ok {
				continue
			}
			h.handle(in.client, in.msg)

		case reply := <-h.stats:
			reply <- Stats{Clients: len(h.clients), Rooms: len(h.rooms)}
		}
	}
}

func (h *Hub) handle(c *Client, msg signaling.ClientMessage) {
	switch msg.Action {
	case signaling.ActionJoin:
		h.join(c, msg.Room)

	case signaling.ActionLeave:
		h.leave(c)

	case signaling.ActionSignal:
		h.relaySignal(c, msg)

	default:
		slog.Debug("unknown action", "peer", c.ID, "action", msg.Action)
	}
}

func (h *Hub) join(c *Client, roomID string) {
	if c.roomID != "" && c.roomID == roomID {
		return
	}
	h.leave(c)

	if roomID == "" {
		roomID = roomName(h.rooms)
	}

	room, ok := h.rooms[roomID]
	if !ok {
		room = &Room{ID: roomID}
		h.rooms[roomID] = room
		slog.Info("room created", "room", roomID, "peer", c.ID)
	}

	if room.full() {
		slog.Info("room join rejected: full", "room", roomID, "peer", c.ID)
		h.deliver(c, signaling.Event{Type: signaling.EventError, Message: "room is full"})
		return
	}

	room.add(c)
	c.roomID = roomID
	slog.Info("peer joined room", "room", roomID, "peer", c.ID)

	h.deliver(c, signaling.Event{
		Type:   signaling.EventJoined,
		PeerID: c.ID,
		RoomID: roomID,
		Peers:  room.others(c),
	})

	for _, m := range room.members {
		if m != c {
			h.deliver(m, signaling.Event{Type: signaling.EventPeerJoined, PeerID: c.ID})
		}
	}
}

func (h *Hub) leave(c *Client) {
	if c.roomID == "" {
		return
	}
	room, ok := h.rooms[c.roomID]
	c.roomID = ""
	if !ok || !room.remove(c) {
		return
	}
	slog.Info("peer left room", "room", room.ID, "peer", c.ID)

	for _, m := range room.members {
		h.deliver(m, signaling.Event{Type: signaling.EventPeerLeft, PeerID: c.ID})
	}

	if len(room.members) == 0 {
		delete(h.rooms, room.ID)
		slog.Info("room deleted (empty)", "room", room.ID)
	}
}

func (h *Hub) relaySignal(c *Client, msg signaling.ClientMessage) {
	room, ok := h.rooms[c.roomID]
	if !ok {
		slog.Warn("signal from peer outside any room", "peer", c.ID)
		return
	}
	target := room.find(msg.Target)
	if target == nil || target == c {
		slog.Warn("signal target not in room", "room", room.ID, "peer", c.ID, "target", msg.Target)
		return
	}

	h.deliver(target, signaling.Event{
		Type:    signaling.EventSignal,
		Sender:  c.ID,
		Payload: msg.Payload,
	})
}

// deliver queues ev for c. A client whose buffer is full is disconnected.
func (h *Hub) deliver(c *Client, ev signaling.Event) {
	select {
	case c.send <- ev:
	default:
		slog.Warn("peer send buffer full, dropping connection", "peer", c.ID)
		h.leave(c)
		delete(h.clients, c)
		close(c.send)
	}
}

func newPeerID() string {
	return uuid.NewString()
}
