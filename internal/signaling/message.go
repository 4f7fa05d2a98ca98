package signaling

import (
	"encoding/json"
	"fmt"
)

// Actions sent by a client to the relay.
const (
	ActionJoin   = "join"
	ActionLeave  = "leave"
	ActionSignal = "signal"
)

// Event types sent by the relay to clients.
const (
	EventJoined     = "joined"
	EventPeerJoined = "peer-joined"
	EventSignal     = "signal"
	EventPeerLeft   = "peer-left"
	EventError      = "error"

	// EventClosed is published locally when the relay connection drops.
	// It never appears on the wire.
	EventClosed = "closed"
)

// ClientMessage is a client → relay frame.
type ClientMessage struct {
	Action  string          `json:"action"`
	Room    string          `json:"room,omitempty"`
	Target  string          `json:"target,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Event is a relay → client frame.
type Event struct {
	Type    string          `json:"type"`
	PeerID  string          `json:"peer_id,omitempty"`
	RoomID  string          `json:"room_id,omitempty"`
	Peers   []string        `json:"peers,omitempty"`
	Sender  string          `json:"sender,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Message string          `json:"message,omitempty"`
}

// MarshalJSON always writes peers on a joined event, as an empty list when
// the room was empty.
func (e Event) MarshalJSON() ([]byte, error) {
	type wire Event
	if e.Type != EventJoined {
		return json.Marshal(wire(e))
	}
	peers := e.Peers
	if peers == nil {
		peers = []string{}
	}
	return json.Marshal(struct {
		wire
		Peers []string `json:"peers"`
	}{wire(e), peers})
}

// known reports whether the event type is one subscribers care about.
func (e Event) known() bool {
	switch e.Type {
	case EventJoined, EventPeerJoined, EventSignal, EventPeerLeft, EventError:
		return true
	}
	return false
}

// SignalPayload is the body of a signal action. Session descriptions carry
// Type and SDP; ICE candidates are sent as the raw candidate object.
type SignalPayload struct {
	Type string `json:"type,omitempty"`
	SDP  string `json:"sdp,omitempty"`

	Candidate        string  `json:"candidate,omitempty"`
	SDPMid           *string `json:"sdpMid,omitempty"`
	SDPMLineIndex    *uint16 `json:"sdpMLineIndex,omitempty"`
	UsernameFragment *string `json:"usernameFragment,omitempty"`
}

// IsCandidate reports whether the payload carries an ICE candidate.
func (p SignalPayload) IsCandidate() bool {
	return p.Type == "" && p.Candidate != ""
}

// ICEServer is one entry of the relay's /config response. URLs may be a
// single string or a list on the wire.
type ICEServer struct {
	URLs       []string `json:"urls"`
	Username   string   `json:"username,omitempty"`
	Credential string   `json:"credential,omitempty"`
}

func (s *ICEServer) UnmarshalJSON(data []byte) error {
	var raw struct {
		URLs       json.RawMessage `json:"urls"`
		Username   string          `json:"username"`
		Credential string          `json:"credential"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	s.Username = raw.Username
	s.Credential = raw.Credential
	s.URLs = nil

	if len(raw.URLs) == 0 {
		return nil
	}
	var one string
	if err := json.Unmarshal(raw.URLs, &one); err == nil {
		s.URLs = []string{one}
		return nil
	}
	if err := json.Unmarshal(raw.URLs, &s.URLs); err != nil {
		return fmt.Errorf("ice server urls: %w", err)
	}
	return nil
}

// ICEConfiguration is the /config response body.
type ICEConfiguration struct {
	ICEServers []ICEServer `json:"iceServers"`
}
