package relay

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/Nitishvarma50/app-p2p/internal/signaling"
	"github.com/gorilla/websocket"
)

func startRelay(t *testing.T) (*httptest.Server, *Hub) {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	hub := NewHub()
	go hub.Run(ctx)

	srv := httptest.NewServer(NewRouter(hub, DefaultICEServers([]string{"stun:stun.example:3478"})))
	t.Cleanup(func() {
		srv.Close()
		cancel()
	})
	return srv, hub
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func send(t *testing.T, conn *websocket.Conn, msg signaling.ClientMessage) {
	t.Helper()
	if err := conn.WriteJSON(msg); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func expect(t *testing.T, conn *websocket.Conn, typ string) signaling.Event {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var ev signaling.Event
	if err := conn.ReadJSON(&ev); err != nil {
		t.Fatalf("waiting for %s: %v", typ, err)
	}
	if ev.Type != typ {
		t.Fatalf("got event %q (%+v), want %q", ev.Type, ev, typ)
	}
	return ev
}

func TestRoomLifecycle(t *testing.T) {
	srv, hub := startRelay(t)

	a := dial(t, srv)
	send(t, a, signaling.ClientMessage{Action: signaling.ActionJoin})
	joinedA := expect(t, a, signaling.EventJoined)
	if joinedA.RoomID == "" || joinedA.PeerID == "" {
		t.Fatalf("joined event missing ids: %+v", joinedA)
	}
	if len(joinedA.Peers) != 0 {
		t.Fatalf("first peer should see an empty room, got %v", joinedA.Peers)
	}
	if n := strings.Count(joinedA.RoomID, "-"); n != 3 {
		t.Fatalf("room id %q should be four words", joinedA.RoomID)
	}

	b := dial(t, srv)
	send(t, b, signaling.ClientMessage{Action: signaling.ActionJoin, Room: joinedA.RoomID})
	joinedB := expect(t, b, signaling.EventJoined)
	if len(joinedB.Peers) != 1 || joinedB.Peers[0] != joinedA.PeerID {
		t.Fatalf("second peer should see the first, got %v", joinedB.Peers)
	}
	pj := expect(t, a, signaling.EventPeerJoined)
	if pj.PeerID != joinedB.PeerID {
		t.Fatalf("peer-joined carries %q, want %q", pj.PeerID, joinedB.PeerID)
	}

	payload := json.RawMessage(`{"type":"offer","sdp":"v=0"}`)
	send(t, a, signaling.ClientMessage{Action: signaling.ActionSignal, Target: joinedB.PeerID, Payload: payload})
	sig := expect(t, b, signaling.EventSignal)
	if sig.Sender != joinedA.PeerID {
		t.Fatalf("signal sender = %q", sig.Sender)
	}
	var p signaling.SignalPayload
	if err := json.Unmarshal(sig.Payload, &p); err != nil || p.Type != "offer" || p.SDP != "v=0" {
		t.Fatalf("payload not relayed intact: %s (%v)", sig.Payload, err)
	}

	c := dial(t, srv)
	send(t, c, signaling.ClientMessage{Action: signaling.ActionJoin, Room: joinedA.RoomID})
	full := expect(t, c, signaling.EventError)
	if full.Message != "room is full" {
		t.Fatalf("error message = %q", full.Message)
	}

	b.Close()
	left := expect(t, a, signaling.EventPeerLeft)
	if left.PeerID != joinedB.PeerID {
		t.Fatalf("peer-left carries %q", left.PeerID)
	}

	send(t, a, signaling.ClientMessage{Action: signaling.ActionLeave})
	deadline := time.Now().Add(5 * time.Second)
	for hub.Stats().Rooms != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("empty room was not deleted: %+v", hub.Stats())
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestJoinNamedRoomCreatesIt(t *testing.T) {
	srv, _ := startRelay(t)

	a := dial(t, srv)
	send(t, a, signaling.ClientMessage{Action: signaling.ActionJoin, Room: "R1"})
	ev := expect(t, a, signaling.EventJoined)
	if ev.RoomID != "R1" {
		t.Fatalf("room id = %q, want R1", ev.RoomID)
	}
}

func TestSignalToUnknownTargetIsDropped(t *testing.T) {
	srv, _ := startRelay(t)

	a := dial(t, srv)
	send(t, a, signaling.ClientMessage{Action: signaling.ActionJoin})
	expect(t, a, signaling.EventJoined)

	send(t, a, signaling.ClientMessage{Action: signaling.ActionSignal, Target: "nobody", Payload: json.RawMessage(`{}`)})
	send(t, a, signaling.ClientMessage{Action: "bogus"})

	// the connection must still be usable
	send(t, a, signaling.ClientMessage{Action: signaling.ActionJoin, Room: "other"})
	expect(t, a, signaling.EventJoined)
}

func TestConfigAndHealth(t *testing.T) {
	srv, _ := startRelay(t)

	resp, err := http.Get(srv.URL + "/config")
	if err != nil {
		t.Fatalf("GET /config: %v", err)
	}
	defer resp.Body.Close()

	var cfg signaling.ICEConfiguration
	if err := json.NewDecoder(resp.Body).Decode(&cfg); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(cfg.ICEServers) != 1 || cfg.ICEServers[0].URLs[0] != "stun:stun.example:3478" {
		t.Fatalf("unexpected config %+v", cfg)
	}
	if resp.Header.Get("Access-Control-Allow-Origin") != "*" {
		t.Fatal("config endpoint should allow any origin")
	}

	health, err := http.Get(srv.URL + "/health")
	if err != nil {
		t.Fatalf("GET /health: %v", err)
	}
	health.Body.Close()
	if health.StatusCode != http.StatusOK {
		t.Fatalf("health status = %d", health.StatusCode)
	}
}

func TestJoinedFrameAlwaysListsPeers(t *testing.T) {
	srv, _ := startRelay(t)

	a := dial(t, srv)
	send(t, a, signaling.ClientMessage{Action: signaling.ActionJoin})
	a.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, raw, err := a.ReadMessage()
	if err != nil {
		t.Fatalf("read joined: %v", err)
	}
	if !strings.Contains(string(raw), `"peers":[]`) {
		t.Fatalf("joined frame %s has no empty peers list", raw)
	}
	if !strings.Contains(string(raw), `"type":"joined"`) {
		t.Fatalf("unexpected frame %s", raw)
	}

	// other events keep peers off the wire
	out, err := json.Marshal(signaling.Event{Type: signaling.EventPeerLeft, PeerID: "p1"})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if strings.Contains(string(out), "peers") {
		t.Fatalf("peer-left frame %s carries peers", out)
	}
}

func TestRoomNameDrawsOneWordPerGroup(t *testing.T) {
	taken := make(map[string]*Room)
	for range 200 {
		name := roomName(taken)
		words := strings.Split(name, "-")
		if len(words) != len(nameGroups) {
			t.Fatalf("room name %q should be %d words", name, len(nameGroups))
		}
		for i, w := range words {
			if !slices.Contains(nameGroups[i], w) {
				t.Fatalf("word %q of %q is not from group %d", w, name, i)
			}
		}
		if taken[name] != nil {
			t.Fatalf("room name %q reused", name)
		}
		taken[name] = &Room{ID: name}
	}
}
