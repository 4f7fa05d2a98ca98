package relay

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/Nitishvarma50/app-p2p/internal/signaling"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  64 * 1024,
	WriteBufferSize: 64 * 1024,

	// Native apps and the CLI connect without a browser origin.
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// NewRouter wires the relay endpoints: /ws, /config and /health.
func NewRouter(hub *Hub, iceServers []signaling.ICEServer) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /ws", ServeWs(hub))
	mux.HandleFunc("GET /config", serveConfig(iceServers))
	mux.HandleFunc("OPTIONS /config", serveConfig(iceServers))
	mux.HandleFunc("GET /health", serveHealth(hub))
	return mux
}

// ServeWs returns an http.HandlerFunc that upgrades to a websocket and hands
// the connection to the hub.
func ServeWs(hub *Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			slog.Warn("failed to upgrade connection", "err", err)
			return
		}

		client := &Client{
			hub:  hub,
			conn: conn,
			ID:   newPeerID(),
			send: make(chan signaling.Event, 256),
		}

		if !hub.newClient(client) {
			conn.Close()
			return
		}

		go client.WritePump()
		go client.ReadPump()
	}
}

func serveConfig(iceServers []signaling.ICEServer) http.HandlerFunc {
	body, _ := json.Marshal(signaling.ICEConfiguration{ICEServers: iceServers})

	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Headers", "*")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(body)
	}
}

func serveHealth(hub *Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(struct {
			Status string `json:"status"`
			Stats
		}{Status: "ok", Stats: hub.Stats()})
	}
}

// DefaultICEServers converts plain STUN URLs to relay config entries.
func DefaultICEServers(urls []string) []signaling.ICEServer {
	servers := make([]signaling.ICEServer, 0, len(urls))
	for _, u := range urls {
		servers = append(servers, signaling.ICEServer{URLs: []string{u}})
	}
	return servers
}
