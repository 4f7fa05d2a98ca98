package transfer

import (
	"bytes"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/Nitishvarma50/app-p2p/internal/save"
	"github.com/pion/webrtc/v4"
)

type fakeFrame struct {
	data     []byte
	isString bool
}

// fakeChannel is an in-memory data channel. Frames are delivered in order
// by a background goroutine; the buffered amount drops as they are
// delivered and the low-threshold callback fires on the downward crossing.
type fakeChannel struct {
	mu          sync.Mutex
	state       webrtc.DataChannelState
	buffered    uint64
	threshold   uint64
	onLow       func()
	maxBuffered uint64
	lowHooks    int
	pending     []fakeFrame
	sent        []fakeFrame
	paused      bool
	failBinary  error
	// pauseOnBinary stops delivery after the next binary frame.
	pauseOnBinary bool

	deliver func(data []byte, isString bool)
	wake    chan struct{}
	stop    chan struct{}
	stopped chan struct{}
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{
		state:   webrtc.DataChannelStateOpen,
		onLow:   func() {},
		wake:    make(chan struct{}, 1),
		stop:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
}

func (c *fakeChannel) start() {
	go c.run()
}

func (c *fakeChannel) run() {
	defer close(c.stopped)
	for {
		c.mu.Lock()
		var f fakeFrame
		ready := !c.paused && len(c.pending) > 0
		if ready {
			f = c.pending[0]
			c.pending = c.pending[1:]
			if !f.isString && c.pauseOnBinary {
				c.paused = true
				c.pauseOnBinary = false
			}
		}
		c.mu.Unlock()

		if !ready {
			select {
			case <-c.wake:
				continue
			case <-c.stop:
				return
			}
		}

		if c.deliver != nil {
			c.deliver(f.data, f.isString)
		}

		c.mu.Lock()
		before := c.buffered
		c.buffered -= uint64(len(f.data))
		fire := before > c.threshold && c.buffered <= c.threshold
		cb := c.onLow
		c.mu.Unlock()
		if fire {
			cb()
		}
	}
}

func (c *fakeChannel) close() {
	c.mu.Lock()
	c.state = webrtc.DataChannelStateClosed
	c.mu.Unlock()
	select {
	case <-c.stop:
	default:
		close(c.stop)
	}
	<-c.stopped
}

func (c *fakeChannel) poke() {
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

func (c *fakeChannel) push(data []byte, isString bool) error {
	c.mu.Lock()
	if c.state != webrtc.DataChannelStateOpen {
		c.mu.Unlock()
		return io.ErrClosedPipe
	}
	if !isString && c.failBinary != nil {
		err := c.failBinary
		c.mu.Unlock()
		return err
	}
	f := fakeFrame{data: bytes.Clone(data), isString: isString}
	c.pending = append(c.pending, f)
	c.sent = append(c.sent, f)
	c.buffered += uint64(len(data))
	c.maxBuffered = max(c.maxBuffered, c.buffered)
	c.mu.Unlock()
	c.poke()
	return nil
}

func (c *fakeChannel) Send(data []byte) error  { return c.push(data, false) }
func (c *fakeChannel) SendText(s string) error { return c.push([]byte(s), true) }

func (c *fakeChannel) ReadyState() webrtc.DataChannelState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *fakeChannel) BufferedAmount() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.buffered
}

func (c *fakeChannel) SetBufferedAmountLowThreshold(th uint64) {
	c.mu.Lock()
	c.threshold = th
	c.mu.Unlock()
}

func (c *fakeChannel) OnBufferedAmountLow(f func()) {
	c.mu.Lock()
	c.onLow = f
	c.lowHooks++
	c.mu.Unlock()
}

func (c *fakeChannel) setPaused(p bool) {
	c.mu.Lock()
	c.paused = p
	c.mu.Unlock()
	c.poke()
}

func (c *fakeChannel) pauseAfterFirstChunk() {
	c.mu.Lock()
	c.pauseOnBinary = true
	c.mu.Unlock()
}

func (c *fakeChannel) frames() []fakeFrame {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]fakeFrame(nil), c.sent...)
}

// memSaver keeps committed files in memory.
type memSaver struct {
	mu        sync.Mutex
	files     map[string][]byte
	commitErr error
}

func newMemSaver() *memSaver {
	return &memSaver{files: make(map[string][]byte)}
}

func (s *memSaver) Begin(meta save.Meta) (save.Sink, error) {
	return &memSink{saver: s, meta: meta}, nil
}

func (s *memSaver) file(name string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.files[name]
	return b, ok
}

type memSink struct {
	saver *memSaver
	meta  save.Meta
	buf   bytes.Buffer
}

func (m *memSink) Write(p []byte) error {
	m.buf.Write(p)
	return nil
}

func (m *memSink) Commit() (save.Location, error) {
	m.saver.mu.Lock()
	defer m.saver.mu.Unlock()
	if m.saver.commitErr != nil {
		return save.Location{}, m.saver.commitErr
	}
	m.saver.files[m.meta.Name] = m.buf.Bytes()
	return save.Location{Path: "mem://" + m.meta.Name, Label: "Saved"}, nil
}

func (m *memSink) Abort() {}

// slowSaver hands out sinks whose writes block until release is closed.
type slowSaver struct {
	release chan struct{}
	entered chan struct{}
}

func (s *slowSaver) Begin(save.Meta) (save.Sink, error) {
	return &slowSink{s}, nil
}

type slowSink struct{ s *slowSaver }

func (k *slowSink) Write([]byte) error {
	select {
	case k.s.entered <- struct{}{}:
	default:
	}
	<-k.s.release
	return nil
}

func (k *slowSink) Commit() (save.Location, error) { return save.Location{}, nil }
func (k *slowSink) Abort()                         {}

type progressEvent struct {
	id      string
	percent float64
	label   string
}

type toastEvent struct {
	msg  string
	kind Kind
}

// recorder is a Notifier that remembers everything.
type recorder struct {
	mu       sync.Mutex
	added    []Info
	progress []progressEvent
	toasts   []toastEvent
	done     map[string]Result
	doneInfo map[string]Info
}

func newRecorder() *recorder {
	return &recorder{done: make(map[string]Result), doneInfo: make(map[string]Info)}
}

func (r *recorder) ItemAdded(info Info) {
	r.mu.Lock()
	r.added = append(r.added, info)
	r.mu.Unlock()
}

func (r *recorder) Progress(id string, pct float64, label string) {
	r.mu.Lock()
	r.progress = append(r.progress, progressEvent{id, pct, label})
	r.mu.Unlock()
}

func (r *recorder) Toast(msg string, kind Kind) {
	r.mu.Lock()
	r.toasts = append(r.toasts, toastEvent{msg, kind})
	r.mu.Unlock()
}

func (r *recorder) ItemDone(info Info, result Result) {
	r.mu.Lock()
	r.done[info.ID] = result
	r.doneInfo[info.ID] = info
	r.mu.Unlock()
}

func (r *recorder) result(id string) (Result, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	res, ok := r.done[id]
	return res, ok
}

func (r *recorder) waitDone(t *testing.T, id string) Result {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for {
		if res, ok := r.result(id); ok {
			return res
		}
		if time.Now().After(deadline) {
			t.Fatalf("item %s never finished", id)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func (r *recorder) finished(id string) Info {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.doneInfo[id]
}

func (r *recorder) doneCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.done)
}

func (r *recorder) toastsOf(kind Kind) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, t := range r.toasts {
		if t.kind == kind {
			out = append(out, t.msg)
		}
	}
	return out
}

func (r *recorder) progressFor(id string) []progressEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []progressEvent
	for _, p := range r.progress {
		if p.id == id {
			out = append(out, p)
		}
	}
	return out
}

// peers is two engines wired back to back.
type peers struct {
	a, b   *Engine
	ca, cb *fakeChannel
	ra, rb *recorder
	sb     *memSaver
}

func newPeers(t *testing.T, cfg Config) *peers {
	t.Helper()
	p := &peers{
		ca: newFakeChannel(),
		cb: newFakeChannel(),
		ra: newRecorder(),
		rb: newRecorder(),
		sb: newMemSaver(),
	}
	p.a = NewEngine(cfg, newMemSaver(), p.ra)
	p.b = NewEngine(cfg, p.sb, p.rb)
	p.ca.deliver = p.b.HandleMessage
	p.cb.deliver = p.a.HandleMessage
	p.ca.start()
	p.cb.start()
	p.a.Attach(p.ca)
	p.b.Attach(p.cb)

	t.Cleanup(func() {
		p.a.Close()
		p.b.Close()
		p.ca.close()
		p.cb.close()
	})
	return p
}

func bytesSource(name string, data []byte) Source {
	return Source{
		Name:     name,
		Size:     uint64(len(data)),
		MimeType: "application/octet-stream",
		Open: func() (io.ReadCloser, error) {
			return io.NopCloser(bytes.NewReader(data)), nil
		},
	}
}

func pattern(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(i*7 + i/251)
	}
	return b
}

var errBoom = errors.New("boom")
