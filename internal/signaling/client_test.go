package signaling_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/Nitishvarma50/app-p2p/internal/relay"
	"github.com/Nitishvarma50/app-p2p/internal/signaling"
	"github.com/gorilla/websocket"
)

var testUpgrader = websocket.Upgrader{}

func startRelay(t *testing.T) *httptest.Server {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	hub := relay.NewHub()
	go hub.Run(ctx)
	srv := httptest.NewServer(relay.NewRouter(hub, relay.DefaultICEServers([]string{"stun:one:3478", "stun:two:3478"})))
	t.Cleanup(func() {
		srv.Close()
		cancel()
	})
	return srv
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
}

func next(t *testing.T, ch <-chan signaling.Event, typ string) signaling.Event {
	t.Helper()
	select {
	case ev := <-ch:
		if ev.Type != typ {
			t.Fatalf("got %q, want %q (%+v)", ev.Type, typ, ev)
		}
		return ev
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out waiting for %q", typ)
	}
	return signaling.Event{}
}

func TestClientRoomExchange(t *testing.T) {
	srv := startRelay(t)
	ctx := context.Background()

	a := signaling.NewClient(wsURL(srv))
	defer a.Close()
	b := signaling.NewClient(wsURL(srv))
	defer b.Close()

	evA, unsubA := a.Subscribe()
	defer unsubA()
	evB, unsubB := b.Subscribe()
	defer unsubB()

	if err := a.Connect(ctx); err != nil {
		t.Fatalf("connect a: %v", err)
	}
	// second call is a no-op
	if err := a.Connect(ctx); err != nil {
		t.Fatalf("reconnect a: %v", err)
	}
	if a.State() != signaling.StateOpen {
		t.Fatalf("state = %v", a.State())
	}
	if err := b.Connect(ctx); err != nil {
		t.Fatalf("connect b: %v", err)
	}

	if err := a.CreateRoom(); err != nil {
		t.Fatalf("create room: %v", err)
	}
	joined := next(t, evA, signaling.EventJoined)
	if len(joined.Peers) != 0 {
		t.Fatalf("expected empty room, got %v", joined.Peers)
	}

	if err := b.JoinRoom(joined.RoomID); err != nil {
		t.Fatalf("join: %v", err)
	}
	joinedB := next(t, evB, signaling.EventJoined)
	if len(joinedB.Peers) != 1 || joinedB.Peers[0] != joined.PeerID {
		t.Fatalf("peers = %v", joinedB.Peers)
	}
	next(t, evA, signaling.EventPeerJoined)

	if err := b.Signal(joined.PeerID, signaling.SignalPayload{Type: "answer", SDP: "v=0"}); err != nil {
		t.Fatalf("signal: %v", err)
	}
	sig := next(t, evA, signaling.EventSignal)
	if sig.Sender != joinedB.PeerID {
		t.Fatalf("sender = %q", sig.Sender)
	}
	var p signaling.SignalPayload
	if err := json.Unmarshal(sig.Payload, &p); err != nil || p.Type != "answer" {
		t.Fatalf("payload = %s (%v)", sig.Payload, err)
	}

	if err := b.LeaveRoom(); err != nil {
		t.Fatalf("leave: %v", err)
	}
	next(t, evA, signaling.EventPeerLeft)
}

func TestJoinRoomWhileClosedReconnects(t *testing.T) {
	srv := startRelay(t)

	c := signaling.NewClient(wsURL(srv))
	defer c.Close()

	err := c.JoinRoom("R1")
	if !errors.Is(err, signaling.ErrNotReady) {
		t.Fatalf("JoinRoom on closed client = %v, want ErrNotReady", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for c.State() != signaling.StateOpen {
		if time.Now().After(deadline) {
			t.Fatalf("background reconnect never opened the connection (state %v)", c.State())
		}
		time.Sleep(10 * time.Millisecond)
	}

	if err := c.JoinRoom("R1"); err != nil {
		t.Fatalf("JoinRoom after reconnect: %v", err)
	}
}

func TestClosedEventOnServerDrop(t *testing.T) {
	ctx, stopHub := context.WithCancel(context.Background())
	defer stopHub()
	hub := relay.NewHub()
	go hub.Run(ctx)
	srv := httptest.NewServer(relay.NewRouter(hub, nil))
	defer srv.Close()

	c := signaling.NewClient(wsURL(srv))
	defer c.Close()
	events, unsub := c.Subscribe()
	defer unsub()

	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	// stopping the hub closes every client's send queue, which closes the sockets
	stopHub()

	next(t, events, signaling.EventClosed)
	if c.State() != signaling.StateClosed {
		t.Fatalf("state after drop = %v", c.State())
	}
}

func TestConnectFailureLeavesClientClosed(t *testing.T) {
	c := signaling.NewClient("ws://127.0.0.1:1/ws")
	defer c.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := c.Connect(ctx); err == nil {
		t.Fatal("expected connect error")
	}
	if c.State() != signaling.StateClosed {
		t.Fatalf("state = %v", c.State())
	}
}

func TestUnknownEventsAreIgnored(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"mystery"}`))
		conn.WriteMessage(websocket.TextMessage, []byte(`not json`))
		conn.WriteJSON(signaling.Event{Type: signaling.EventPeerJoined, PeerID: "x"})
		time.Sleep(time.Second)
	}))
	defer srv.Close()

	c := signaling.NewClient(wsURL(srv))
	defer c.Close()
	events, unsub := c.Subscribe()
	defer unsub()

	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	ev := next(t, events, signaling.EventPeerJoined)
	if ev.PeerID != "x" {
		t.Fatalf("peer id = %q", ev.PeerID)
	}
}
