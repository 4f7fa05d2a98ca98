package transfer

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/Nitishvarma50/app-p2p/internal/save"
	"github.com/Nitishvarma50/app-p2p/internal/utils"
)

const (
	DefaultChunkSize     = 64 * 1024
	DefaultHighWaterMark = 16 * 1024 * 1024
)

// Saver opens a sink for an advertised download.
type Saver interface {
	Begin(meta save.Meta) (save.Sink, error)
}

// Config tunes the engine.
type Config struct {
	// ChunkSize is the largest data frame sent.
	ChunkSize int
	// HighWaterMark is the buffered amount above which sending pauses.
	HighWaterMark uint64
	// Tagged wraps data frames in a {fileId, seq, data} envelope so uploads
	// can run concurrently.
	Tagged bool
	// StallTimeout fails an upload whose buffer does not drain in time.
	// Zero waits for as long as the channel stays open.
	StallTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.ChunkSize <= 0 {
		c.ChunkSize = DefaultChunkSize
	}
	if c.Tagged && c.ChunkSize <= 2*maxFrameOverhead {
		c.ChunkSize = DefaultChunkSize
	}
	if c.HighWaterMark == 0 {
		c.HighWaterMark = DefaultHighWaterMark
	}
	return c
}

type upload struct {
	info   Info
	source Source
	// done is closed when the pump exits.
	done chan struct{}
}

type download struct {
	info    Info
	sink    save.Sink
	tagged  bool
	nextSeq uint64
	// acceptPending is set until an accept has gone out on an open channel.
	acceptPending bool

	// wmu serializes sink writes with Abort; sinkErr is guarded by it.
	wmu     sync.Mutex
	sinkErr error
}

// Engine runs the file transfer protocol over one data channel at a time.
// It is safe for concurrent use; no lock is held while sending or while
// calling the Notifier.
type Engine struct {
	cfg    Config
	saver  Saver
	notify Notifier

	mu     sync.Mutex
	ch     Channel
	pacer  *pacer
	ctx    context.Context
	cancel context.CancelFunc

	uploads   map[string]*upload
	downloads map[string]*download
	// order lists download ids oldest first.
	order []string
	// lastPump is the done channel of the most recently started untagged
	// pump; the next one waits for it so frames never interleave.
	lastPump   <-chan struct{}
	peerTagged bool
	closed     bool

	pumps   sync.WaitGroup
	commits sync.WaitGroup
}

// NewEngine creates an engine. notify may be nil.
func NewEngine(cfg Config, saver Saver, notify Notifier) *Engine {
	if notify == nil {
		notify = NopNotifier{}
	}
	return &Engine{
		cfg:       cfg.withDefaults(),
		saver:     saver,
		notify:    notify,
		uploads:   make(map[string]*upload),
		downloads: make(map[string]*download),
	}
}

// Attach binds the engine to a data channel. A previously attached channel
// is detached first.
// Downloads advertised before any channel was attached are accepted on ch.
func (e *Engine) Attach(ch Channel) {
	e.mu.Lock()
	e.detachLocked()
	e.ch = ch
	e.pacer = newPacer(ch, e.cfg.HighWaterMark, uint64(e.cfg.ChunkSize), e.cfg.StallTimeout)
	e.ctx, e.cancel = context.WithCancel(context.Background())
	e.mu.Unlock()

	e.flushAccepts()
}

// Detach stops every running pump. Items keep their current state.
func (e *Engine) Detach() {
	e.mu.Lock()
	e.detachLocked()
	e.mu.Unlock()
}

func (e *Engine) detachLocked() {
	if e.cancel != nil {
		e.cancel()
	}
	e.ch = nil
	e.pacer = nil
	e.ctx = nil
	e.cancel = nil
	e.lastPump = nil
}

// Purge detaches and drops every item. Items still in flight are reported
// as abandoned.
func (e *Engine) Purge() {
	e.mu.Lock()
	e.detachLocked()

	var dropped []Info
	var downloads []*download
	for _, u := range e.uploads {
		dropped = append(dropped, u.info)
	}
	for _, d := range e.downloads {
		dropped = append(dropped, d.info)
		downloads = append(downloads, d)
	}
	e.uploads = make(map[string]*upload)
	e.downloads = make(map[string]*download)
	e.order = nil
	e.peerTagged = false
	e.mu.Unlock()

	e.pumps.Wait()
	for _, d := range downloads {
		d.wmu.Lock()
		d.sink.Abort()
		d.wmu.Unlock()
	}

	slices.SortFunc(dropped, func(a, b Info) int {
		return cmp.Or(a.Started.Compare(b.Started), cmp.Compare(a.ID, b.ID))
	})
	for _, info := range dropped {
		slog.Debug("abandoning transfer", "file_id", info.ID, "state", info.State)
		e.notify.ItemDone(info, ResultAbandoned)
	}
}

// Close purges the engine, waits for pending saves and rejects further work.
func (e *Engine) Close() {
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()

	e.Purge()
	e.commits.Wait()
}

// Items returns a snapshot of every tracked item, oldest first.
func (e *Engine) Items() []Info {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]Info, 0, len(e.uploads)+len(e.downloads))
	for _, u := range e.uploads {
		out = append(out, u.info)
	}
	for _, d := range e.downloads {
		out = append(out, d.info)
	}
	slices.SortFunc(out, func(a, b Info) int {
		return cmp.Or(a.Started.Compare(b.Started), cmp.Compare(a.ID, b.ID))
	})
	return out
}

// Queue advertises src to the peer. If the channel is not open the item is
// failed and dropped straight away.
func (e *Engine) Queue(src Source) (Info, error) {
	info := Info{
		ID:        NewFileID(),
		Direction: Upload,
		Name:      src.Name,
		Size:      src.Size,
		MimeType:  src.MimeType,
		State:     StateQueued,
		Started:   time.Now(),
	}
	e.notify.ItemAdded(info)

	e.mu.Lock()
	ch := e.ch
	if e.closed || !isOpen(ch) {
		e.mu.Unlock()
		return e.rejectQueued(info, ErrChannelNotOpen)
	}
	u := &upload{info: info, source: src, done: make(chan struct{})}
	u.info.State = StateMetadataSent
	e.uploads[info.ID] = u
	tagged := e.cfg.Tagged
	e.mu.Unlock()

	text, err := encodeControl(metadataMessage(info, tagged))
	if err == nil {
		err = ch.SendText(text)
	}
	if err != nil {
		e.mu.Lock()
		if e.uploads[info.ID] == u {
			delete(e.uploads, info.ID)
		}
		e.mu.Unlock()
		slog.Warn("metadata send failed", "file_id", info.ID, "err", err)
		return e.rejectQueued(info, fmt.Errorf("%w: %v", ErrChannelNotOpen, err))
	}

	e.mu.Lock()
	waiting := u.info.State == StateMetadataSent
	if waiting {
		u.info.State = StateAwaitingAccept
	}
	snap := u.info
	e.mu.Unlock()

	if waiting {
		e.notify.Progress(info.ID, 0, "Waiting for acceptance...")
	}
	return snap, nil
}

func (e *Engine) rejectQueued(info Info, err error) (Info, error) {
	info.State = StateFailed
	e.notify.Toast("Connection not ready", KindError)
	e.notify.ItemDone(info, ResultFailed)
	return info, err
}

// SendPing writes a heartbeat frame.
func (e *Engine) SendPing() error {
	e.mu.Lock()
	ch := e.ch
	e.mu.Unlock()

	if !isOpen(ch) {
		return ErrChannelNotOpen
	}
	return ch.SendText(`{"type":"ping"}`)
}

// HandleMessage processes one inbound data channel frame.
func (e *Engine) HandleMessage(data []byte, isString bool) {
	if !isString {
		e.handleChunk(data)
		return
	}

	var msg ControlMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		slog.Warn("ignoring malformed control message", "err", err)
		return
	}

	switch msg.Type {
	case MessageTypePing:
	case MessageTypeMetadata:
		e.handleMetadata(msg)
	case MessageTypeAccept:
		e.handleAccept(msg.FileID)
	case MessageTypeEnd:
		e.handleEnd(msg.FileID)
	default:
		slog.Debug("ignoring unknown control message", "type", msg.Type)
	}
}

func (e *Engine) handleAccept(id string) {
	e.mu.Lock()
	u := e.uploads[id]
	if u == nil || e.ctx == nil ||
		(u.info.State != StateMetadataSent && u.info.State != StateAwaitingAccept) {
		e.mu.Unlock()
		slog.Debug("ignoring accept", "file_id", id)
		return
	}

	u.info.State = StateSending
	ctx, p := e.ctx, e.pacer
	var prev <-chan struct{}
	if !e.cfg.Tagged {
		prev = e.lastPump
		e.lastPump = u.done
	}
	e.pumps.Add(1)
	e.mu.Unlock()

	e.notify.Progress(id, 0, "Sending...")
	go e.pump(ctx, p, u, prev)
}

// pump streams one upload. It runs once per item, started by the accept.
func (e *Engine) pump(ctx context.Context, p *pacer, u *upload, prev <-chan struct{}) {
	defer e.pumps.Done()
	defer close(u.done)

	if prev != nil {
		select {
		case <-prev:
		case <-ctx.Done():
			return
		}
	}

	id, name, size := u.info.ID, u.info.Name, u.info.Size

	src, err := u.source.Open()
	if err != nil {
		e.sendFailed(u, err)
		return
	}
	var closeOnce sync.Once
	release := func() { closeOnce.Do(func() { src.Close() }) }
	defer release()

	chunk := e.cfg.ChunkSize
	if e.cfg.Tagged {
		chunk -= maxFrameOverhead
	}
	buf := make([]byte, chunk)

	var offset, seq uint64
	for offset < size {
		if ctx.Err() != nil {
			return
		}

		n := min(uint64(chunk), size-offset)
		if _, err := io.ReadFull(src, buf[:n]); err != nil {
			e.sendFailed(u, NewFileError("read", name, err))
			return
		}

		frame := buf[:n]
		if e.cfg.Tagged {
			if frame, err = encodeFrame(id, seq, buf[:n]); err != nil {
				e.sendFailed(u, err)
				return
			}
		}

		if err := p.send(ctx, frame); err != nil {
			if errors.Is(err, ErrCancelled) {
				return
			}
			e.sendFailed(u, err)
			return
		}

		offset += n
		seq++

		e.mu.Lock()
		u.info.Transferred = offset
		e.mu.Unlock()
		e.notify.Progress(id, percent(offset, size), "")
	}

	if ctx.Err() != nil {
		return
	}
	text, err := encodeControl(ControlMessage{Type: MessageTypeEnd, FileID: id})
	if err == nil {
		err = p.sendText(ctx, text)
	}
	if err != nil {
		if !errors.Is(err, ErrCancelled) {
			e.sendFailed(u, err)
		}
		return
	}
	release()

	e.mu.Lock()
	if e.uploads[id] != u {
		e.mu.Unlock()
		return
	}
	u.info.State = StateCompleted
	delete(e.uploads, id)
	info := u.info
	e.mu.Unlock()

	slog.Debug("upload complete", "file_id", id, "bytes", size)
	e.notify.Progress(id, 100, "Completed")
	e.notify.ItemDone(info, ResultCompleted)
}

// sendFailed reports a pump error. The item keeps its state until purged.
func (e *Engine) sendFailed(u *upload, err error) {
	slog.Error("upload aborted", "file_id", u.info.ID, "file", u.info.Name, "err", err)
	e.notify.Toast(fmt.Sprintf("Transfer error: %s: %v", u.info.Name, err), KindError)
}

func (e *Engine) handleMetadata(msg ControlMessage) {
	if msg.FileID == "" {
		slog.Warn("ignoring metadata without file id", "err", ErrInvalidMetadata)
		return
	}

	info := Info{
		ID:        msg.FileID,
		Direction: Download,
		Name:      utils.SanitizeFilename(msg.Name),
		Size:      msg.Size,
		MimeType:  msg.FileType,
		State:     StateAdvertised,
		Started:   time.Now(),
	}

	e.mu.Lock()
	if _, dup := e.downloads[info.ID]; dup || e.closed {
		e.mu.Unlock()
		return
	}
	e.mu.Unlock()

	e.notify.ItemAdded(info)

	var (
		sink save.Sink
		err  = ErrNoSaver
	)
	if e.saver != nil {
		sink, err = e.saver.Begin(save.Meta{
			FileID:   info.ID,
			Name:     info.Name,
			Size:     info.Size,
			MimeType: info.MimeType,
		})
	}
	if err != nil {
		info.State = StateFailed
		slog.Error("cannot open save destination", "file_id", info.ID, "err", err)
		e.notify.Toast(fmt.Sprintf("Cannot save %s: %v", info.Name, err), KindError)
		e.notify.ItemDone(info, ResultFailed)
		return
	}

	d := &download{info: info, sink: sink, tagged: msg.Framing == FramingTagged, acceptPending: true}
	d.info.State = StateAccepted

	e.mu.Lock()
	if _, dup := e.downloads[info.ID]; dup || e.closed {
		e.mu.Unlock()
		sink.Abort()
		return
	}
	e.downloads[info.ID] = d
	e.order = append(e.order, info.ID)
	if d.tagged {
		e.peerTagged = true
	}
	e.mu.Unlock()

	e.flushAccepts()
	e.notify.Progress(info.ID, 0, "Downloading...")
}

// flushAccepts sends every pending accept on the attached channel. Without
// an open channel the accepts stay pending for the next Attach.
func (e *Engine) flushAccepts() {
	e.mu.Lock()
	ch := e.ch
	if !isOpen(ch) {
		e.mu.Unlock()
		return
	}
	var pending []Info
	for _, id := range e.order {
		if d := e.downloads[id]; d != nil && d.acceptPending {
			d.acceptPending = false
			pending = append(pending, d.info)
		}
	}
	e.mu.Unlock()

	for _, info := range pending {
		text, err := encodeControl(ControlMessage{Type: MessageTypeAccept, FileID: info.ID})
		if err == nil {
			err = ch.SendText(text)
		}
		if err == nil {
			continue
		}
		slog.Warn("accept send failed", "file_id", info.ID, "err", err)
		e.notify.Toast(fmt.Sprintf("Could not accept %s", info.Name), KindWarning)
		e.mu.Lock()
		if d := e.downloads[info.ID]; d != nil {
			d.acceptPending = true
		}
		e.mu.Unlock()
	}
}

func (e *Engine) handleChunk(data []byte) {
	e.mu.Lock()

	var d *download
	payload := data
	if e.peerTagged {
		f, err := decodeFrame(data)
		if err != nil {
			e.mu.Unlock()
			slog.Warn("dropping undecodable chunk frame", "err", err)
			return
		}
		d = e.downloads[f.FileID]
		if d == nil {
			e.mu.Unlock()
			slog.Debug("dropping chunk for unknown file", "file_id", f.FileID)
			return
		}
		if f.Seq != d.nextSeq {
			e.mu.Unlock()
			slog.Warn("dropping chunk", "file_id", f.FileID, "err", ErrOutOfSequence, "want", d.nextSeq, "got", f.Seq)
			return
		}
		d.nextSeq++
		payload = f.Data
	} else {
		d = e.oldestActiveLocked()
		if d == nil {
			e.mu.Unlock()
			slog.Debug("dropping chunk with no active download", "bytes", len(data))
			return
		}
	}

	if d.info.Transferred+uint64(len(payload)) > d.info.Size {
		e.mu.Unlock()
		slog.Warn("dropping chunk past advertised size", "file_id", d.info.ID, "bytes", len(payload))
		return
	}

	d.info.Transferred += uint64(len(payload))
	d.info.State = StateReceiving
	id, name, pct := d.info.ID, d.info.Name, d.info.Percent()
	d.wmu.Lock()
	e.mu.Unlock()

	var writeErr error
	if d.sinkErr == nil {
		if err := d.sink.Write(payload); err != nil {
			d.sinkErr = err
			writeErr = err
		}
	}
	d.wmu.Unlock()

	if writeErr != nil {
		slog.Error("write failed", "file_id", id, "err", writeErr)
		e.notify.Toast(fmt.Sprintf("Failed to save %s: %v", name, writeErr), KindError)
	}
	e.notify.Progress(id, pct, "")
}

// oldestActiveLocked returns the oldest download still expecting bytes.
func (e *Engine) oldestActiveLocked() *download {
	for _, id := range e.order {
		d := e.downloads[id]
		if d != nil && d.info.Transferred < d.info.Size {
			return d
		}
	}
	return nil
}

func (e *Engine) removeDownloadLocked(id string) {
	delete(e.downloads, id)
	e.order = slices.DeleteFunc(e.order, func(s string) bool { return s == id })
}

func (e *Engine) handleEnd(id string) {
	e.mu.Lock()
	d := e.downloads[id]
	if d == nil {
		e.mu.Unlock()
		slog.Debug("ignoring end", "file_id", id)
		return
	}
	e.removeDownloadLocked(id)
	info := d.info
	e.commits.Add(1)
	e.mu.Unlock()

	go func() {
		defer e.commits.Done()
		e.finish(d, info)
	}()
}

func (e *Engine) finish(d *download, info Info) {
	if info.Transferred < info.Size {
		d.sink.Abort()
		info.State = StateFailed
		err := WrapError("receive", ErrShortTransfer,
			fmt.Sprintf("%s of %s", utils.FormatSize(int64(info.Transferred)), utils.FormatSize(int64(info.Size))))
		slog.Error("download incomplete", "file_id", info.ID, "err", err)
		e.notify.Toast(fmt.Sprintf("%s incomplete: %v", info.Name, err), KindError)
		e.notify.ItemDone(info, ResultFailed)
		return
	}

	info.State = StateCompleted

	d.wmu.Lock()
	sinkErr := d.sinkErr
	d.wmu.Unlock()
	if sinkErr != nil {
		d.sink.Abort()
		e.notify.Progress(info.ID, 100, "Save failed")
		e.notify.ItemDone(info, ResultCompleted)
		return
	}

	loc, err := d.sink.Commit()
	if err != nil {
		slog.Error("save failed", "file_id", info.ID, "err", err)
		e.notify.Toast(fmt.Sprintf("Failed to save %s: %v", info.Name, err), KindError)
		e.notify.Progress(info.ID, 100, "Save failed")
		e.notify.ItemDone(info, ResultCompleted)
		return
	}

	info.Location = loc.Path
	e.notify.Progress(info.ID, 100, loc.Label)
	e.notify.Toast(fmt.Sprintf("Saved %s", info.Name), KindSuccess)
	e.notify.ItemDone(info, ResultCompleted)
}
