package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Nitishvarma50/app-p2p/internal/config"
	"github.com/Nitishvarma50/app-p2p/internal/files"
	"github.com/Nitishvarma50/app-p2p/internal/liveness"
	"github.com/Nitishvarma50/app-p2p/internal/negotiation"
	"github.com/Nitishvarma50/app-p2p/internal/signaling"
	"github.com/Nitishvarma50/app-p2p/internal/transfer"
	"github.com/cenkalti/backoff"
	"github.com/pion/webrtc/v4"
)

// ErrRoomRejected is returned when the relay refuses the first join.
var ErrRoomRejected = errors.New("room rejected")

// Signaling is the relay client a session drives.
type Signaling interface {
	Connect(ctx context.Context) error
	State() signaling.State
	Subscribe() (<-chan signaling.Event, func())
	CreateRoom() error
	JoinRoom(roomID string) error
	LeaveRoom() error
	Signal(target string, payload any) error
	Close()
}

// WakeLock keeps the host awake while a peer is connected.
type WakeLock interface {
	Acquire()
	Release()
}

type nopWake struct{}

func (nopWake) Acquire() {}
func (nopWake) Release() {}

// Options configures a session.
type Options struct {
	Config *config.Config
	// Room to join. Empty creates a new room.
	Room string
	// Files are offered to every connecting peer until each one has been
	// delivered once.
	Files []files.FileInfo

	Saver    transfer.Saver
	Notifier transfer.Notifier
	Wake     WakeLock

	// Status receives short state lines for the UI.
	Status func(string)
	// OnRoom is called every time the relay confirms a room.
	OnRoom func(roomID string)
	// OnPeer is called when the remote peer changes.
	OnPeer func(roomID, peerID string)

	// ExitAfterSend ends Run once every file was delivered and nothing is
	// being received.
	ExitAfterSend bool
	// ExitOnPeerLeft ends Run when a connected peer goes away.
	ExitOnPeerLeft bool

	// API overrides the pion API. Tests use it for loopback candidates.
	API *webrtc.API
}

type stateEvent struct {
	gen   uint64
	state negotiation.State
}

type openEvent struct {
	gen uint64
	dc  *webrtc.DataChannel
}

type (
	reconnectedEvent struct{}
	leaveEvent       struct{}
)

// Session is one room membership: the signaling connection, at most one
// peer transport and the transfer engine on top of it. Everything that
// changes session state runs on the goroutine executing Run.
type Session struct {
	opts    Options
	client  Signaling
	neg     *negotiation.Negotiator
	engine  *transfer.Engine
	monitor *liveness.Monitor
	wake    WakeLock
	tally   *Tally

	events  chan any
	settled chan struct{}
	done    chan struct{}

	// owned by the run loop
	self      string
	peer      string
	connected bool
	needsJoin bool
	// peer left the room while downloads were still arriving
	peerGone bool

	mu        sync.Mutex
	room      string
	state     negotiation.State
	offered   map[string]int
	delivered map[int]bool
}

// New wires a session around client. The session owns client from here on
// and closes it when Run returns.
func New(client Signaling, opts Options) *Session {
	if opts.Config == nil {
		opts.Config = &config.Config{}
	}
	if opts.Status == nil {
		opts.Status = func(string) {}
	}
	wake := opts.Wake
	if wake == nil {
		wake = nopWake{}
	}

	s := &Session{
		opts:      opts,
		client:    client,
		wake:      wake,
		tally:     NewTally(),
		events:    make(chan any, 64),
		settled:   make(chan struct{}, 1),
		done:      make(chan struct{}),
		room:      opts.Room,
		offered:   make(map[string]int),
		delivered: make(map[int]bool),
	}

	notify := transfer.Notifiers{s.tally, deliveries{s}}
	if opts.Notifier != nil {
		notify = append(transfer.Notifiers{opts.Notifier}, notify...)
	}

	cfg := opts.Config
	s.engine = transfer.NewEngine(transfer.Config{
		ChunkSize:     cfg.ChunkSize,
		HighWaterMark: cfg.HighWaterMark,
		Tagged:        cfg.Tagged,
	}, opts.Saver, notify)

	s.neg = negotiation.New(negotiation.Options{
		ForceRelay: cfg.ForceRelay,
		API:        opts.API,
	}, client, negotiation.Handlers{
		StateChanged: func(gen uint64, st negotiation.State) { s.post(stateEvent{gen, st}) },
		ChannelOpen:  func(gen uint64, dc *webrtc.DataChannel) { s.post(openEvent{gen, dc}) },
		Message:      s.engine.HandleMessage,
	})

	s.monitor = liveness.New(client, cfg.Heartbeat)
	return s
}

// deliveries marks offered files as delivered when their upload completes.
type deliveries struct{ s *Session }

func (deliveries) ItemAdded(transfer.Info)          {}
func (deliveries) Progress(string, float64, string) {}
func (deliveries) Toast(string, transfer.Kind)      {}

func (d deliveries) ItemDone(info transfer.Info, result transfer.Result) {
	s := d.s
	if info.Direction == transfer.Upload {
		s.mu.Lock()
		if idx, ok := s.offered[info.ID]; ok {
			delete(s.offered, info.ID)
			if result == transfer.ResultCompleted {
				s.delivered[idx] = true
			}
		}
		s.mu.Unlock()
	}
	select {
	case s.settled <- struct{}{}:
	default:
	}
}

func (s *Session) post(ev any) {
	select {
	case s.events <- ev:
	case <-s.done:
	}
}

// Engine exposes the transfer engine.
func (s *Session) Engine() *transfer.Engine { return s.engine }

// Stats returns the running totals.
func (s *Session) Stats() Stats { return s.tally.Stats() }

// Room is the room currently joined, or the one about to be.
func (s *Session) Room() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.room
}

// State is the peer transport state as last seen by the run loop.
func (s *Session) State() negotiation.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) setState(st negotiation.State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

// Leave drops the peer and leaves the room. Run keeps going with the relay
// connection open.
func (s *Session) Leave() {
	s.post(leaveEvent{})
}

// Run connects, joins the room and serves until ctx ends or an exit
// condition is met. The room is left and everything torn down before it
// returns.
func (s *Session) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer func() {
		cancel()
		close(s.done)
		s.teardown()
	}()

	sub, unsubscribe := s.client.Subscribe()
	defer unsubscribe()

	go s.monitor.Run(ctx)

	s.opts.Status("Connecting to relay...")
	if err := s.client.Connect(ctx); err != nil {
		slog.Warn("relay unreachable, retrying", "err", err)
		s.opts.Status("Relay unreachable, retrying...")
		if err := s.monitor.Reconnect(ctx); err != nil {
			return fmt.Errorf("connect to relay: %w", err)
		}
	}

	s.loadICE(ctx)
	s.join(ctx)

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev := <-sub:
			stop, err := s.handleSignaling(ctx, ev)
			if err != nil || stop {
				return err
			}

		case ev := <-s.events:
			if s.handleEvent(ctx, ev) {
				return nil
			}

		case <-s.settled:
			if s.peerGone && !s.receiving() {
				s.dropPeer("Peer left")
				if s.opts.ExitOnPeerLeft {
					return nil
				}
			}
			if s.finishedSending() {
				s.drain(ctx)
				return nil
			}
		}
	}
}

func (s *Session) loadICE(ctx context.Context) {
	cfg := s.opts.Config
	var fetched []signaling.ICEServer
	if cfg.ICEConfigURL != "" {
		fetchCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		fetched = signaling.FetchICEConfiguration(fetchCtx, cfg.ICEConfigURL)
		cancel()
	}
	servers := negotiation.ICEServers(fetched, cfg)
	s.neg.SetICEServers(servers, cfg.ForceRelay)
	slog.Debug("ice servers", "count", len(servers))
}

// join creates or joins the room. When the relay is not reachable the join
// is retried once the connection comes back.
func (s *Session) join(ctx context.Context) {
	room := s.Room()
	var err error
	if room == "" {
		err = s.client.CreateRoom()
	} else {
		err = s.client.JoinRoom(room)
	}
	if err == nil {
		s.needsJoin = false
		return
	}
	slog.Warn("join not sent", "room", room, "err", err)
	s.opts.Status("Relay not ready, reconnecting...")
	s.notifyToast("Server not connected. Reconnecting...", transfer.KindWarning)
	s.needsJoin = true
	go s.reconnect(ctx)
}

// reconnect brings the relay connection back and tells the run loop.
// Another goroutine may be dialing already, so it waits for the open state
// instead of trusting its own attempt.
func (s *Session) reconnect(ctx context.Context) {
	op := func() error {
		switch s.client.State() {
		case signaling.StateOpen:
			return nil
		case signaling.StateClosed:
			if err := s.monitor.Reconnect(ctx); err != nil {
				return backoff.Permanent(err)
			}
		}
		return signaling.ErrNotReady
	}
	b := backoff.WithContext(backoff.NewConstantBackOff(100*time.Millisecond), ctx)
	if err := backoff.Retry(op, b); err != nil {
		slog.Debug("reconnect given up", "err", err)
		return
	}
	s.post(reconnectedEvent{})
}

func (s *Session) handleSignaling(ctx context.Context, ev signaling.Event) (bool, error) {
	switch ev.Type {
	case signaling.EventJoined:
		s.self = ev.PeerID
		s.mu.Lock()
		s.room = ev.RoomID
		s.mu.Unlock()
		slog.Info("joined room", "room", ev.RoomID, "peer", ev.PeerID, "peers", len(ev.Peers))
		if s.opts.OnRoom != nil {
			s.opts.OnRoom(ev.RoomID)
		}
		if len(ev.Peers) == 0 {
			s.opts.Status("Waiting for peer...")
			return false, nil
		}
		s.startAsInitiator(ev.Peers[0])

	case signaling.EventPeerJoined:
		slog.Info("peer joined", "peer", ev.PeerID)
		s.opts.Status("Peer connecting...")

	case signaling.EventSignal:
		if err := s.neg.HandleSignal(ev.Sender, ev.Payload); err != nil {
			slog.Warn("signal dropped", "peer", ev.Sender, "err", err)
			return false, nil
		}
		if p := s.neg.Current(); p != nil && p.Remote != s.peer {
			s.setPeer(p.Remote)
		}

	case signaling.EventPeerLeft:
		if s.peer == "" || (ev.PeerID != "" && ev.PeerID != s.peer) {
			return false, nil
		}
		slog.Info("peer left", "peer", ev.PeerID)
		if s.connected && s.receiving() {
			// frames already on the wire still arrive over the open transport
			s.peerGone = true
			s.opts.Status("Peer left, finishing downloads...")
			return false, nil
		}
		wasConnected := s.connected
		s.dropPeer("Peer left")
		return wasConnected && s.opts.ExitOnPeerLeft, nil

	case signaling.EventError:
		slog.Error("relay error", "message", ev.Message)
		if s.self == "" {
			return true, fmt.Errorf("%w: %s", ErrRoomRejected, ev.Message)
		}
		s.notifyToast(ev.Message, transfer.KindError)

	case signaling.EventClosed:
		s.opts.Status("Relay connection lost, reconnecting...")
		s.self = ""
		s.needsJoin = true
		go s.reconnect(ctx)
	}
	return false, nil
}

func (s *Session) setPeer(remote string) {
	s.peer = remote
	if s.opts.OnPeer != nil {
		s.opts.OnPeer(s.Room(), remote)
	}
}

func (s *Session) startAsInitiator(remote string) {
	if s.connected || s.State() != negotiation.StateIdle {
		s.resetTransport()
	}
	s.setPeer(remote)
	s.opts.Status("Connecting to peer...")
	if _, err := s.neg.Start(remote); err != nil {
		slog.Error("negotiation not started", "peer", remote, "err", err)
		s.notifyToast("Could not start connection", transfer.KindError)
	}
}

// handleEvent returns true when Run should end.
func (s *Session) handleEvent(ctx context.Context, ev any) bool {
	switch ev := ev.(type) {
	case stateEvent:
		if ev.gen != s.neg.Generation() {
			return false
		}
		return s.transportState(ev.gen, ev.state)

	case openEvent:
		if ev.gen != s.neg.Generation() {
			return false
		}
		slog.Info("data channel open", "peer", s.peer)
		s.engine.Attach(ev.dc)
		s.offerFiles()

	case reconnectedEvent:
		if s.needsJoin {
			s.opts.Status("Relay reconnected")
			s.join(ctx)
		}

	case leaveEvent:
		s.leaveRoom()
	}
	return false
}

func (s *Session) transportState(gen uint64, st negotiation.State) bool {
	s.setState(st)
	switch st {
	case negotiation.StateConnected:
		s.connected = true
		s.opts.Status("Connected to peer")
		s.wake.Acquire()
		s.monitor.StartHeartbeat(s.engine)

	case negotiation.StateDisconnected:
		s.opts.Status("Peer unreachable, waiting...")
		s.monitor.StopHeartbeat()

	case negotiation.StateFailed, negotiation.StateClosed:
		slog.Warn("peer transport ended", "peer", s.peer, "state", st.String())
		s.notifyToast("Peer connection lost", transfer.KindError)
		wasConnected := s.connected || s.peerGone
		s.neg.Discard(gen)
		s.resetTransport()
		s.opts.Status("Connection lost, waiting for peer...")
		return wasConnected && s.opts.ExitOnPeerLeft
	}
	return false
}

// offerFiles queues every file not yet delivered in this session.
func (s *Session) offerFiles() {
	for i, f := range s.opts.Files {
		if !s.needsOffer(i) {
			continue
		}
		info, err := s.engine.Queue(transfer.FileSource(f.Path, f.Name, f.Size, f.Type))
		if err != nil {
			slog.Warn("file not queued", "file", f.Name, "err", err)
			continue
		}
		s.mu.Lock()
		if !info.State.Terminal() {
			s.offered[info.ID] = i
		}
		s.mu.Unlock()
	}
}

func (s *Session) needsOffer(i int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.delivered[i] {
		return false
	}
	for _, idx := range s.offered {
		if idx == i {
			return false
		}
	}
	return true
}

func (s *Session) receiving() bool {
	for _, it := range s.engine.Items() {
		if it.Direction == transfer.Download {
			return true
		}
	}
	return false
}

func (s *Session) finishedSending() bool {
	if !s.opts.ExitAfterSend || len(s.opts.Files) == 0 {
		return false
	}
	s.mu.Lock()
	n := len(s.delivered)
	s.mu.Unlock()
	return n == len(s.opts.Files) && !s.receiving()
}

// drain waits for the data channel to flush so the last frames reach the
// peer before the transport is closed. The engine owns the low-threshold
// callback, so this polls.
func (s *Session) drain(ctx context.Context) {
	p := s.neg.Current()
	if p == nil {
		return
	}
	dc := p.Channel()
	if dc == nil {
		return
	}

	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	deadline := time.After(30 * time.Second)
	for dc.BufferedAmount() > 0 {
		select {
		case <-ctx.Done():
			return
		case <-deadline:
			slog.Warn("channel did not drain", "buffered", dc.BufferedAmount())
			return
		case <-ticker.C:
		}
	}
}

func (s *Session) dropPeer(status string) {
	s.neg.Reset()
	s.resetTransport()
	s.peer = ""
	s.opts.Status(status)
}

// resetTransport detaches the engine and abandons every item in flight.
// Undelivered files are offered again on the next connection.
func (s *Session) resetTransport() {
	s.connected = false
	s.peerGone = false
	s.monitor.StopHeartbeat()
	s.wake.Release()
	s.engine.Purge()
	s.mu.Lock()
	clear(s.offered)
	s.state = negotiation.StateIdle
	s.mu.Unlock()
}

func (s *Session) notifyToast(msg string, kind transfer.Kind) {
	if s.opts.Notifier != nil {
		s.opts.Notifier.Toast(msg, kind)
	}
}

func (s *Session) leaveRoom() {
	if s.self != "" {
		if err := s.client.LeaveRoom(); err != nil {
			slog.Debug("leave not sent", "err", err)
		}
	}
	s.dropPeer("Left room")
	s.self = ""
	s.needsJoin = false
	s.mu.Lock()
	s.room = ""
	s.mu.Unlock()
}

func (s *Session) teardown() {
	s.leaveRoom()
	s.neg.Close()
	s.engine.Close()
	s.client.Close()
	s.tally.Finish()
}
