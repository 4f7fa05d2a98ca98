package liveness

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Nitishvarma50/app-p2p/internal/signaling"
	"github.com/cenkalti/backoff"
)

// DefaultInterval is the heartbeat period.
const DefaultInterval = 5 * time.Second

// Pinger sends one heartbeat frame.
type Pinger interface {
	SendPing() error
}

// Connector is the part of the signaling client the monitor drives.
type Connector interface {
	State() signaling.State
	Connect(ctx context.Context) error
}

// Monitor keeps a session alive: it pings the peer while connected and
// brings the signaling connection back after it drops or the process is
// resumed.
type Monitor struct {
	client   Connector
	interval time.Duration

	// NewBackOff builds the reconnect schedule. Tests shorten it.
	NewBackOff func() backoff.BackOff

	mu     sync.Mutex
	stopHB context.CancelFunc

	reconnecting atomic.Bool
	resume       chan struct{}
}

// New creates a monitor. A zero interval uses DefaultInterval.
func New(client Connector, interval time.Duration) *Monitor {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Monitor{
		client:     client,
		interval:   interval,
		NewBackOff: defaultBackOff,
		resume:     make(chan struct{}, 1),
	}
}

func defaultBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxInterval = 15 * time.Second
	b.MaxElapsedTime = 0
	return b
}

// StartHeartbeat pings through p every interval until StopHeartbeat. A
// running heartbeat is replaced.
func (m *Monitor) StartHeartbeat(p Pinger) {
	ctx, cancel := context.WithCancel(context.Background())

	m.mu.Lock()
	if m.stopHB != nil {
		m.stopHB()
	}
	m.stopHB = cancel
	m.mu.Unlock()

	go func() {
		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := p.SendPing(); err != nil {
					slog.Debug("heartbeat not sent", "err", err)
				}
			}
		}
	}()
}

// StopHeartbeat stops pinging. It is safe to call when not running.
func (m *Monitor) StopHeartbeat() {
	m.mu.Lock()
	if m.stopHB != nil {
		m.stopHB()
		m.stopHB = nil
	}
	m.mu.Unlock()
}

// Heartbeating reports whether a heartbeat is running.
func (m *Monitor) Heartbeating() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stopHB != nil
}

// Reconnect reconnects the signaling client if it is closed, retrying on the
// backoff schedule until it succeeds or ctx ends. Concurrent calls collapse
// into one.
func (m *Monitor) Reconnect(ctx context.Context) error {
	if m.client.State() != signaling.StateClosed {
		return nil
	}
	if !m.reconnecting.CompareAndSwap(false, true) {
		return nil
	}
	defer m.reconnecting.Store(false)

	b := backoff.WithContext(m.NewBackOff(), ctx)
	op := func() error {
		if m.client.State() != signaling.StateClosed {
			return nil
		}
		return m.client.Connect(ctx)
	}
	notify := func(err error, wait time.Duration) {
		slog.Warn("signaling reconnect failed", "err", err, "retry_in", wait)
	}
	if err := backoff.RetryNotify(op, b, notify); err != nil {
		return err
	}
	slog.Info("signaling reconnected")
	return nil
}

// Resume signals that the host came back to the foreground.
func (m *Monitor) Resume() {
	select {
	case m.resume <- struct{}{}:
	default:
	}
}

// Run reconnects on every resume until ctx ends. On unix SIGCONT counts as
// a resume.
func (m *Monitor) Run(ctx context.Context) {
	sig := make(chan os.Signal, 1)
	if sigs := resumeSignals(); len(sigs) > 0 {
		signal.Notify(sig, sigs...)
		defer signal.Stop(sig)
	}

	for {
		select {
		case <-ctx.Done():
			m.StopHeartbeat()
			return
		case <-sig:
			slog.Debug("resumed by signal")
		case <-m.resume:
		}
		go func() {
			if err := m.Reconnect(ctx); err != nil {
				slog.Debug("reconnect abandoned", "err", err)
			}
		}()
	}
}
