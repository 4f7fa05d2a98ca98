package negotiation

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/Nitishvarma50/app-p2p/internal/signaling"
	"github.com/pion/webrtc/v4"
)

// ChannelLabel is the label of the one data channel a session carries.
const ChannelLabel = "fileTransfer"

var (
	ErrNoSession      = errors.New("no peer session")
	ErrNegotiatorDone = errors.New("negotiator closed")
)

// State of the negotiator.
type State int

const (
	StateIdle State = iota
	StateNegotiating
	StateConnected
	StateDisconnected
	StateFailed
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateNegotiating:
		return "negotiating"
	case StateConnected:
		return "connected"
	case StateDisconnected:
		return "disconnected"
	case StateFailed:
		return "failed"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// Terminal reports whether the transport is gone for good.
func (s State) Terminal() bool {
	return s == StateFailed || s == StateClosed
}

// Signaler relays payloads to the remote peer.
type Signaler interface {
	Signal(target string, payload any) error
}

// Handlers receive session events. They are called from pion goroutines,
// only for the current session, and tagged with its generation so a
// consumer can drop events that raced with a restart.
type Handlers struct {
	StateChanged func(gen uint64, state State)
	ChannelOpen  func(gen uint64, dc *webrtc.DataChannel)
	Message      func(data []byte, isString bool)
}

// Options configures new peer connections.
type Options struct {
	ICEServers []webrtc.ICEServer
	ForceRelay bool
	// API overrides the default pion API, mainly for tests.
	API *webrtc.API
}

// Negotiator owns at most one PeerSession at a time.
type Negotiator struct {
	api      *webrtc.API
	config   webrtc.Configuration
	signaler Signaler
	handlers Handlers

	mu     sync.Mutex
	cur    *PeerSession
	gen    uint64
	closed bool
}

// PeerSession is one negotiated transport with one remote peer.
type PeerSession struct {
	Gen         uint64
	IsInitiator bool
	Remote      string

	pc *webrtc.PeerConnection

	mu        sync.Mutex
	state     State
	dc        *webrtc.DataChannel
	remoteSet bool
	pending   []webrtc.ICECandidateInit
}

// State returns the session's connection state.
func (p *PeerSession) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Channel returns the data channel once one exists.
func (p *PeerSession) Channel() *webrtc.DataChannel {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.dc
}

// New creates a negotiator.
func New(opts Options, signaler Signaler, h Handlers) *Negotiator {
	api := opts.API
	if api == nil {
		api = webrtc.NewAPI()
	}
	return &Negotiator{
		api: api,
		config: webrtc.Configuration{
			ICEServers:         opts.ICEServers,
			ICETransportPolicy: TransportPolicy(opts.ICEServers, opts.ForceRelay),
		},
		signaler: signaler,
		handlers: h,
	}
}

// SetICEServers replaces the ICE servers used by later sessions.
func (n *Negotiator) SetICEServers(servers []webrtc.ICEServer, forceRelay bool) {
	n.mu.Lock()
	n.config.ICEServers = servers
	n.config.ICETransportPolicy = TransportPolicy(servers, forceRelay)
	n.mu.Unlock()
}

// Current returns the live session, or nil when idle.
func (n *Negotiator) Current() *PeerSession {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.cur
}

// Generation is the id of the most recently started session.
func (n *Negotiator) Generation() uint64 {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.gen
}

// State returns the current session's state, or StateIdle.
func (n *Negotiator) State() State {
	if p := n.Current(); p != nil {
		return p.State()
	}
	return StateIdle
}

// Start begins a negotiation as the initiator: it creates the data channel
// and sends an offer to target. An existing session is closed first.
func (n *Negotiator) Start(target string) (*PeerSession, error) {
	p, err := n.newSession(target, true)
	if err != nil {
		return nil, err
	}

	ordered := true
	dc, err := p.pc.CreateDataChannel(ChannelLabel, &webrtc.DataChannelInit{Ordered: &ordered})
	if err != nil {
		n.fail(p)
		return nil, fmt.Errorf("create data channel: %w", err)
	}
	n.bindChannel(p, dc)

	offer, err := p.pc.CreateOffer(nil)
	if err != nil {
		n.fail(p)
		return nil, fmt.Errorf("create offer: %w", err)
	}
	if err := p.pc.SetLocalDescription(offer); err != nil {
		n.fail(p)
		return nil, fmt.Errorf("set local description: %w", err)
	}
	if err := n.signaler.Signal(target, signaling.SignalPayload{Type: offer.Type.String(), SDP: offer.SDP}); err != nil {
		// The offer can be resent once signaling is back; keep the session.
		slog.Warn("offer not relayed", "peer", target, "err", err)
	}

	slog.Info("negotiating as initiator", "peer", target, "gen", p.Gen)
	return p, nil
}

// HandleSignal applies a payload relayed from sender. With no session, or
// on an offer, a responder session is created.
func (n *Negotiator) HandleSignal(sender string, raw json.RawMessage) error {
	var payload signaling.SignalPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return fmt.Errorf("decode signal: %w", err)
	}

	p := n.Current()
	switch {
	case payload.Type == webrtc.SDPTypeOffer.String():
		if p == nil || p.IsInitiator || p.Remote != sender || p.hasRemote() {
			var err error
			if p, err = n.newSession(sender, false); err != nil {
				return err
			}
			slog.Info("negotiating as responder", "peer", sender, "gen", p.Gen)
		}
		return n.answer(p, payload.SDP)

	case p == nil:
		if !payload.IsCandidate() {
			return fmt.Errorf("%w: %s before offer", ErrNoSession, payload.Type)
		}
		// A candidate may overtake the offer; hold it for the responder.
		var err error
		if p, err = n.newSession(sender, false); err != nil {
			return err
		}
		return n.addCandidate(p, payload)

	case p.Remote != sender:
		slog.Debug("dropping signal from stale peer", "peer", sender)
		return nil

	case payload.Type == webrtc.SDPTypeAnswer.String():
		if err := p.pc.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: payload.SDP}); err != nil {
			return fmt.Errorf("set remote answer: %w", err)
		}
		return n.flushCandidates(p)

	case payload.IsCandidate():
		return n.addCandidate(p, payload)
	}

	slog.Debug("ignoring signal", "type", payload.Type)
	return nil
}

func (n *Negotiator) answer(p *PeerSession, sdp string) error {
	if err := p.pc.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: sdp}); err != nil {
		return fmt.Errorf("set remote offer: %w", err)
	}
	if err := n.flushCandidates(p); err != nil {
		return err
	}

	answer, err := p.pc.CreateAnswer(nil)
	if err != nil {
		return fmt.Errorf("create answer: %w", err)
	}
	if err := p.pc.SetLocalDescription(answer); err != nil {
		return fmt.Errorf("set local description: %w", err)
	}
	return n.signaler.Signal(p.Remote, signaling.SignalPayload{Type: answer.Type.String(), SDP: answer.SDP})
}

func (p *PeerSession) hasRemote() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.remoteSet
}

func (n *Negotiator) addCandidate(p *PeerSession, payload signaling.SignalPayload) error {
	init := webrtc.ICECandidateInit{
		Candidate:        payload.Candidate,
		SDPMid:           payload.SDPMid,
		SDPMLineIndex:    payload.SDPMLineIndex,
		UsernameFragment: payload.UsernameFragment,
	}

	p.mu.Lock()
	if !p.remoteSet {
		p.pending = append(p.pending, init)
		p.mu.Unlock()
		return nil
	}
	p.mu.Unlock()

	if err := p.pc.AddICECandidate(init); err != nil {
		slog.Warn("dropping remote candidate", "peer", p.Remote, "err", err)
	}
	return nil
}

// flushCandidates marks the remote description as applied and adds any
// candidates that arrived before it.
func (n *Negotiator) flushCandidates(p *PeerSession) error {
	p.mu.Lock()
	p.remoteSet = true
	pending := p.pending
	p.pending = nil
	p.mu.Unlock()

	for _, c := range pending {
		if err := p.pc.AddICECandidate(c); err != nil {
			slog.Warn("dropping buffered candidate", "peer", p.Remote, "err", err)
		}
	}
	return nil
}

func (n *Negotiator) newSession(remote string, initiator bool) (*PeerSession, error) {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return nil, ErrNegotiatorDone
	}
	old := n.cur
	n.cur = nil
	n.gen++
	gen := n.gen
	config := n.config
	n.mu.Unlock()

	if old != nil {
		slog.Debug("closing previous peer session", "gen", old.Gen)
		old.pc.Close()
	}

	pc, err := n.api.NewPeerConnection(config)
	if err != nil {
		return nil, fmt.Errorf("create peer connection: %w", err)
	}

	p := &PeerSession{Gen: gen, IsInitiator: initiator, Remote: remote, pc: pc, state: StateNegotiating}

	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil || !n.isCurrent(p) {
			return
		}
		if err := n.signaler.Signal(remote, c.ToJSON()); err != nil {
			slog.Debug("candidate not relayed", "peer", remote, "err", err)
		}
	})

	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		slog.Debug("peer connection state", "gen", gen, "state", s.String())
		next, ok := mapState(s)
		if !ok {
			return
		}
		p.mu.Lock()
		changed := p.state != next
		p.state = next
		p.mu.Unlock()
		if changed && n.isCurrent(p) && n.handlers.StateChanged != nil {
			n.handlers.StateChanged(gen, next)
		}
	})

	if !initiator {
		pc.OnDataChannel(func(dc *webrtc.DataChannel) {
			if dc.Label() != ChannelLabel {
				slog.Warn("ignoring unexpected data channel", "label", dc.Label())
				return
			}
			n.bindChannel(p, dc)
		})
	}

	n.mu.Lock()
	if n.closed || n.gen != gen {
		n.mu.Unlock()
		pc.Close()
		return nil, ErrNegotiatorDone
	}
	n.cur = p
	n.mu.Unlock()

	if n.handlers.StateChanged != nil {
		n.handlers.StateChanged(gen, StateNegotiating)
	}
	return p, nil
}

func (n *Negotiator) bindChannel(p *PeerSession, dc *webrtc.DataChannel) {
	p.mu.Lock()
	p.dc = dc
	p.mu.Unlock()

	dc.OnOpen(func() {
		slog.Debug("data channel open", "gen", p.Gen)
		if n.isCurrent(p) && n.handlers.ChannelOpen != nil {
			n.handlers.ChannelOpen(p.Gen, dc)
		}
	})
	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		if n.isCurrent(p) && n.handlers.Message != nil {
			n.handlers.Message(msg.Data, msg.IsString)
		}
	})
}

func mapState(s webrtc.PeerConnectionState) (State, bool) {
	switch s {
	case webrtc.PeerConnectionStateNew, webrtc.PeerConnectionStateConnecting:
		return StateNegotiating, true
	case webrtc.PeerConnectionStateConnected:
		return StateConnected, true
	case webrtc.PeerConnectionStateDisconnected:
		return StateDisconnected, true
	case webrtc.PeerConnectionStateFailed:
		return StateFailed, true
	case webrtc.PeerConnectionStateClosed:
		return StateClosed, true
	}
	return 0, false
}

func (n *Negotiator) isCurrent(p *PeerSession) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.cur == p
}

func (n *Negotiator) fail(p *PeerSession) {
	n.Discard(p.Gen)
}

// Discard closes the session with generation gen if it is still current.
func (n *Negotiator) Discard(gen uint64) {
	n.mu.Lock()
	p := n.cur
	if p == nil || p.Gen != gen {
		n.mu.Unlock()
		return
	}
	n.cur = nil
	n.mu.Unlock()

	if err := p.pc.Close(); err != nil {
		slog.Debug("closing peer connection", "gen", gen, "err", err)
	}
}

// Reset closes the current session, if any, and returns to idle.
func (n *Negotiator) Reset() {
	if p := n.Current(); p != nil {
		n.Discard(p.Gen)
	}
}

// Close resets and rejects further sessions.
func (n *Negotiator) Close() {
	n.mu.Lock()
	n.closed = true
	n.mu.Unlock()
	n.Reset()
}
