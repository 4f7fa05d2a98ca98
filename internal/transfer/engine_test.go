package transfer

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/pion/webrtc/v4"
)

func TestRoundTrip(t *testing.T) {
	sizes := []int{0, 1, 1000, DefaultChunkSize, DefaultChunkSize + 1, 3*DefaultChunkSize - 17, 1<<20 + 123}

	for _, tagged := range []bool{false, true} {
		t.Run(fmt.Sprintf("tagged=%v", tagged), func(t *testing.T) {
			p := newPeers(t, Config{Tagged: tagged})

			var ids []string
			want := make(map[string][]byte)
			for i, n := range sizes {
				name := fmt.Sprintf("file-%d.bin", i)
				data := pattern(n)
				want[name] = data

				info, err := p.a.Queue(bytesSource(name, data))
				if err != nil {
					t.Fatalf("Queue(%s): %v", name, err)
				}
				ids = append(ids, info.ID)
			}

			for _, id := range ids {
				if res := p.ra.waitDone(t, id); res != ResultCompleted {
					t.Fatalf("upload %s finished as %s", id, res)
				}
				if res := p.rb.waitDone(t, id); res != ResultCompleted {
					t.Fatalf("download %s finished as %s", id, res)
				}
			}

			for name, data := range want {
				got, ok := p.sb.file(name)
				if !ok {
					t.Fatalf("%s was not saved", name)
				}
				if !bytes.Equal(got, data) {
					t.Fatalf("%s: received %d bytes differ from %d sent", name, len(got), len(data))
				}
			}

			for _, id := range ids {
				info := p.rb.finished(id)
				if info.Transferred != info.Size {
					t.Fatalf("%s: transferred %d of %d", id, info.Transferred, info.Size)
				}
			}
			if n := len(p.a.Items()) + len(p.b.Items()); n != 0 {
				t.Fatalf("completed items should be evicted, %d left", n)
			}
		})
	}
}

func TestFrameCountForTenMiB(t *testing.T) {
	p := newPeers(t, Config{ChunkSize: 64 * 1024})

	data := pattern(10 << 20)
	info, err := p.a.Queue(bytesSource("ten.bin", data))
	if err != nil {
		t.Fatalf("Queue: %v", err)
	}
	p.rb.waitDone(t, info.ID)

	var binary, metadata, end int
	for _, f := range p.ca.frames() {
		if !f.isString {
			binary++
			continue
		}
		var msg ControlMessage
		if err := json.Unmarshal(f.data, &msg); err != nil {
			t.Fatalf("bad control frame %q", f.data)
		}
		switch msg.Type {
		case MessageTypeMetadata:
			metadata++
		case MessageTypeEnd:
			end++
		}
	}
	if binary != 160 || metadata != 1 || end != 1 {
		t.Fatalf("frames: %d chunks, %d metadata, %d end; want 160/1/1", binary, metadata, end)
	}

	// receiver progress: strictly increasing chunk reports, 100% only on the last one
	var chunkReports []float64
	for _, ev := range p.rb.progressFor(info.ID) {
		if ev.label == "" {
			chunkReports = append(chunkReports, ev.percent)
		}
	}
	if len(chunkReports) != 160 {
		t.Fatalf("receiver reported progress %d times, want 160", len(chunkReports))
	}
	for i, pct := range chunkReports[:159] {
		if pct >= 100 {
			t.Fatalf("progress hit 100%% early at chunk %d", i+1)
		}
	}
	if chunkReports[159] != 100 {
		t.Fatalf("final progress = %v", chunkReports[159])
	}
}

func TestBackpressureBound(t *testing.T) {
	const (
		chunk = 16 * 1024
		high  = 256 * 1024
	)
	p := newPeers(t, Config{ChunkSize: chunk, HighWaterMark: high})
	p.ca.pauseAfterFirstChunk()

	data := pattern(4 << 20)
	info, err := p.a.Queue(bytesSource("big.bin", data))
	if err != nil {
		t.Fatalf("Queue: %v", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for p.ca.BufferedAmount() <= high {
		if time.Now().After(deadline) {
			t.Fatalf("buffer never passed the high watermark (at %d)", p.ca.BufferedAmount())
		}
		time.Sleep(time.Millisecond)
	}
	time.Sleep(50 * time.Millisecond)
	if got := p.ca.BufferedAmount(); got > high+chunk {
		t.Fatalf("sender ran ahead to %d buffered bytes", got)
	}
	if items := p.a.Items(); len(items) != 1 || items[0].Transferred == info.Size {
		t.Fatalf("sender should be parked: %v", items)
	}
	p.ca.setPaused(false)

	p.rb.waitDone(t, info.ID)
	got, _ := p.sb.file("big.bin")
	if !bytes.Equal(got, data) {
		t.Fatal("content mismatch after backpressure")
	}

	p.ca.mu.Lock()
	maxBuffered, hooks := p.ca.maxBuffered, p.ca.lowHooks
	p.ca.mu.Unlock()
	if maxBuffered > high+chunk {
		t.Fatalf("max buffered %d exceeds %d", maxBuffered, high+chunk)
	}
	if hooks == 0 {
		t.Fatal("sender never registered a low-watermark listener")
	}
}

func TestDuplicateAndUnknownControlMessages(t *testing.T) {
	p := newPeers(t, Config{})

	info, err := p.a.Queue(bytesSource("dup.txt", []byte("payload")))
	if err != nil {
		t.Fatalf("Queue: %v", err)
	}
	p.rb.waitDone(t, info.ID)

	end := fmt.Sprintf(`{"type":"end","fileId":%q}`, info.ID)
	accept := fmt.Sprintf(`{"type":"accept","fileId":%q}`, info.ID)
	for _, raw := range []string{
		end,
		end,
		accept,
		`{"type":"accept","fileId":"nope"}`,
		`{"type":"end","fileId":"nope"}`,
		`{"type":"ping"}`,
		`{"type":"hologram","fileId":"x"}`,
		`{not json`,
	} {
		p.a.HandleMessage([]byte(raw), true)
		p.b.HandleMessage([]byte(raw), true)
	}
	// stray binary with nothing active
	p.b.HandleMessage([]byte("orphan"), false)

	if errs := p.rb.toastsOf(KindError); len(errs) != 0 {
		t.Fatalf("receiver raised errors: %v", errs)
	}
	if errs := p.ra.toastsOf(KindError); len(errs) != 0 {
		t.Fatalf("sender raised errors: %v", errs)
	}

	// the session keeps working
	again, err := p.a.Queue(bytesSource("after.txt", []byte("still fine")))
	if err != nil {
		t.Fatalf("Queue after noise: %v", err)
	}
	if res := p.rb.waitDone(t, again.ID); res != ResultCompleted {
		t.Fatalf("result = %s", res)
	}
}

func TestQueueWithoutOpenChannel(t *testing.T) {
	rec := newRecorder()
	e := NewEngine(Config{}, newMemSaver(), rec)
	defer e.Close()

	info, err := e.Queue(bytesSource("x", []byte("x")))
	if !errors.Is(err, ErrChannelNotOpen) {
		t.Fatalf("err = %v, want ErrChannelNotOpen", err)
	}
	if info.State != StateFailed {
		t.Fatalf("state = %s", info.State)
	}
	if res, _ := rec.result(info.ID); res != ResultFailed {
		t.Fatalf("result = %q", res)
	}
	if toasts := rec.toastsOf(KindError); len(toasts) != 1 || toasts[0] != "Connection not ready" {
		t.Fatalf("toasts = %v", toasts)
	}
	if len(e.Items()) != 0 {
		t.Fatal("failed item must be dropped")
	}

	ch := newFakeChannel()
	ch.state = webrtc.DataChannelStateConnecting
	e.Attach(ch)
	if _, err := e.Queue(bytesSource("y", []byte("y"))); !errors.Is(err, ErrChannelNotOpen) {
		t.Fatalf("queue on connecting channel: %v", err)
	}
}

func TestTransportFailureThenPurgeAndReuse(t *testing.T) {
	const chunk = 16 * 1024
	p := newPeers(t, Config{ChunkSize: chunk, HighWaterMark: 64 * 1024})
	p.ca.pauseAfterFirstChunk()

	var ids []string
	for i := range 3 {
		info, err := p.a.Queue(bytesSource(fmt.Sprintf("f%d", i), pattern(2<<20)))
		if err != nil {
			t.Fatalf("Queue: %v", err)
		}
		ids = append(ids, info.ID)
	}

	// the wire stalls after the first chunk; wait for the sender to park
	deadline := time.Now().Add(5 * time.Second)
	for p.ca.BufferedAmount() <= 64*1024 {
		if time.Now().After(deadline) {
			t.Fatalf("first upload never started: %v", p.a.Items())
		}
		time.Sleep(time.Millisecond)
	}

	// transport failed
	p.a.Detach()
	p.b.Detach()

	before := p.a.Items()
	if len(before) != 3 {
		t.Fatalf("items after failure = %d, want 3", len(before))
	}
	var moving int
	for _, it := range before {
		if it.State.Terminal() {
			t.Fatalf("%s marked %s after failure", it.ID, it.State)
		}
		if it.Transferred > 0 {
			moving++
		}
	}
	if moving != 1 {
		t.Fatalf("%d uploads made progress, want exactly the first", moving)
	}
	if p.ra.doneCount() != 0 {
		t.Fatal("no item may finish before teardown")
	}

	p.a.Purge()
	p.b.Purge()
	if len(p.a.Items()) != 0 || len(p.b.Items()) != 0 {
		t.Fatal("purge left items behind")
	}
	for _, id := range ids {
		if res, _ := p.ra.result(id); res != ResultAbandoned {
			t.Fatalf("%s result = %q, want abandoned", id, res)
		}
	}

	// fresh transport
	p.ca.close()
	p.cb.close()
	ca, cb := newFakeChannel(), newFakeChannel()
	ca.deliver = p.b.HandleMessage
	cb.deliver = p.a.HandleMessage
	ca.start()
	cb.start()
	t.Cleanup(func() {
		ca.close()
		cb.close()
	})
	p.a.Attach(ca)
	p.b.Attach(cb)

	data := pattern(100_000)
	info, err := p.a.Queue(bytesSource("resubmitted", data))
	if err != nil {
		t.Fatalf("Queue after renegotiation: %v", err)
	}
	if res := p.rb.waitDone(t, info.ID); res != ResultCompleted {
		t.Fatalf("result = %s", res)
	}
	if got, _ := p.sb.file("resubmitted"); !bytes.Equal(got, data) {
		t.Fatal("resubmitted content mismatch")
	}
}

func TestSendFailureKeepsState(t *testing.T) {
	p := newPeers(t, Config{})
	p.ca.mu.Lock()
	p.ca.failBinary = errBoom
	p.ca.mu.Unlock()

	info, err := p.a.Queue(bytesSource("fails", pattern(1000)))
	if err != nil {
		t.Fatalf("Queue: %v", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for len(p.ra.toastsOf(KindError)) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("no transfer error raised")
		}
		time.Sleep(time.Millisecond)
	}

	items := p.a.Items()
	if len(items) != 1 || items[0].ID != info.ID || items[0].State != StateSending {
		t.Fatalf("items = %v", items)
	}
	if _, done := p.ra.result(info.ID); done {
		t.Fatal("failed send must not finish the item")
	}
}

func TestShortTransferFails(t *testing.T) {
	rec := newRecorder()
	ch := newFakeChannel()
	ch.start()
	defer ch.close()

	e := NewEngine(Config{}, newMemSaver(), rec)
	defer e.Close()
	e.Attach(ch)

	e.HandleMessage([]byte(`{"type":"metadata","fileId":"f1","name":"x.bin","size":10,"fileType":""}`), true)
	e.HandleMessage([]byte("1234"), false)
	e.HandleMessage([]byte(`{"type":"end","fileId":"f1"}`), true)

	if res := rec.waitDone(t, "f1"); res != ResultFailed {
		t.Fatalf("result = %s, want failed", res)
	}
}

func TestUntaggedChunksGoToOldestActiveDownload(t *testing.T) {
	rec := newRecorder()
	saver := newMemSaver()
	ch := newFakeChannel()
	ch.start()
	defer ch.close()

	e := NewEngine(Config{}, saver, rec)
	defer e.Close()
	e.Attach(ch)

	e.HandleMessage([]byte(`{"type":"metadata","fileId":"a","name":"a","size":3}`), true)
	e.HandleMessage([]byte(`{"type":"metadata","fileId":"b","name":"b","size":2}`), true)
	e.HandleMessage([]byte("aaa"), false)
	e.HandleMessage([]byte("bb"), false)
	// overflow is dropped, not counted
	e.HandleMessage([]byte("zz"), false)
	e.HandleMessage([]byte(`{"type":"end","fileId":"a"}`), true)
	e.HandleMessage([]byte(`{"type":"end","fileId":"b"}`), true)

	rec.waitDone(t, "a")
	rec.waitDone(t, "b")
	if got, _ := saver.file("a"); string(got) != "aaa" {
		t.Fatalf("a = %q", got)
	}
	if got, _ := saver.file("b"); string(got) != "bb" {
		t.Fatalf("b = %q", got)
	}

	var accepts int
	for _, f := range ch.frames() {
		if bytes.Contains(f.data, []byte(`"accept"`)) {
			accepts++
		}
	}
	if accepts != 2 {
		t.Fatalf("auto-accept sent %d accepts, want 2", accepts)
	}
}

func TestTaggedOutOfSequenceRejected(t *testing.T) {
	rec := newRecorder()
	saver := newMemSaver()
	ch := newFakeChannel()
	ch.start()
	defer ch.close()

	e := NewEngine(Config{}, saver, rec)
	defer e.Close()
	e.Attach(ch)

	e.HandleMessage([]byte(`{"type":"metadata","fileId":"t","name":"t","size":4,"framing":"tagged"}`), true)
	f0, _ := encodeFrame("t", 0, []byte("ab"))
	f2, _ := encodeFrame("t", 2, []byte("zz"))
	f1, _ := encodeFrame("t", 1, []byte("cd"))
	e.HandleMessage(f0, false)
	e.HandleMessage(f2, false)
	e.HandleMessage(f1, false)
	e.HandleMessage([]byte(`{"type":"end","fileId":"t"}`), true)

	if res := rec.waitDone(t, "t"); res != ResultCompleted {
		t.Fatalf("result = %s", res)
	}
	if got, _ := saver.file("t"); string(got) != "abcd" {
		t.Fatalf("content = %q", got)
	}
}

func TestSaveErrorStillCompletes(t *testing.T) {
	p := newPeers(t, Config{})
	p.sb.commitErr = errBoom

	info, err := p.a.Queue(bytesSource("doomed", []byte("data")))
	if err != nil {
		t.Fatalf("Queue: %v", err)
	}
	if res := p.rb.waitDone(t, info.ID); res != ResultCompleted {
		t.Fatalf("result = %s, want completed", res)
	}
	if len(p.rb.toastsOf(KindError)) != 1 {
		t.Fatalf("expected one save error toast, got %v", p.rb.toastsOf(KindError))
	}
	if len(p.b.Items()) != 0 {
		t.Fatal("item must be removed after a failed save")
	}
}

func TestSendPing(t *testing.T) {
	e := NewEngine(Config{}, newMemSaver(), nil)
	defer e.Close()
	if err := e.SendPing(); !errors.Is(err, ErrChannelNotOpen) {
		t.Fatalf("ping without channel = %v", err)
	}

	ch := newFakeChannel()
	ch.start()
	defer ch.close()
	e.Attach(ch)
	if err := e.SendPing(); err != nil {
		t.Fatalf("ping: %v", err)
	}
	frames := ch.frames()
	if len(frames) != 1 || string(frames[0].data) != `{"type":"ping"}` {
		t.Fatalf("frames = %v", frames)
	}
}

func TestMetadataWireShape(t *testing.T) {
	text, err := encodeControl(metadataMessage(Info{ID: "1", Name: "e", Size: 0, MimeType: "text/plain"}, false))
	if err != nil {
		t.Fatal(err)
	}
	var m map[string]any
	json.Unmarshal([]byte(text), &m)
	if m["type"] != "metadata" || m["fileId"] != "1" || m["fileType"] != "text/plain" {
		t.Fatalf("metadata = %s", text)
	}
	if _, ok := m["size"]; !ok {
		t.Fatalf("size must be present for empty files: %s", text)
	}
	if _, ok := m["framing"]; ok {
		t.Fatalf("untagged metadata must not advertise framing: %s", text)
	}
}

func TestMetadataBeforeAttachIsAcceptedOnAttach(t *testing.T) {
	rec := newRecorder()
	saver := newMemSaver()
	e := NewEngine(Config{}, saver, rec)
	defer e.Close()

	e.HandleMessage([]byte(`{"type":"metadata","fileId":"f1","name":"x.bin","size":10,"fileType":"application/octet-stream"}`), true)
	if warns := rec.toastsOf(KindWarning); len(warns) != 0 {
		t.Fatalf("accept without a channel raised %v", warns)
	}
	items := e.Items()
	if len(items) != 1 || items[0].State != StateAccepted {
		t.Fatalf("items = %v", items)
	}

	ch := newFakeChannel()
	e.Attach(ch)

	frames := ch.frames()
	if len(frames) != 1 || !frames[0].isString {
		t.Fatalf("frames after attach = %d, want one accept", len(frames))
	}
	var m ControlMessage
	if err := json.Unmarshal(frames[0].data, &m); err != nil || m.Type != MessageTypeAccept || m.FileID != "f1" {
		t.Fatalf("accept frame = %s (%v)", frames[0].data, err)
	}

	// a second attach does not accept twice
	again := newFakeChannel()
	e.Attach(again)
	if n := len(again.frames()); n != 0 {
		t.Fatalf("reattach sent %d frames", n)
	}

	data := pattern(10)
	e.HandleMessage(data, false)
	e.HandleMessage([]byte(`{"type":"end","fileId":"f1"}`), true)
	if res := rec.waitDone(t, "f1"); res != ResultCompleted {
		t.Fatalf("result = %s", res)
	}
	if got, ok := saver.file("x.bin"); !ok || !bytes.Equal(got, data) {
		t.Fatalf("saved %q (%v)", got, ok)
	}
}

func TestSlowSinkDoesNotHoldEngine(t *testing.T) {
	release := make(chan struct{})
	saver := &slowSaver{release: release, entered: make(chan struct{}, 1)}
	e := NewEngine(Config{}, saver, nil)
	defer e.Close()
	defer close(release)

	ch := newFakeChannel()
	e.Attach(ch)
	e.HandleMessage([]byte(`{"type":"metadata","fileId":"f1","name":"slow.bin","size":4}`), true)

	go e.HandleMessage([]byte("abcd"), false)
	select {
	case <-saver.entered:
	case <-time.After(5 * time.Second):
		t.Fatal("write never started")
	}

	snap := make(chan []Info, 1)
	go func() { snap <- e.Items() }()
	select {
	case items := <-snap:
		if len(items) != 1 || items[0].Transferred != 4 {
			t.Fatalf("items = %v", items)
		}
	case <-time.After(time.Second):
		t.Fatal("engine blocked behind a sink write")
	}
}

func TestNewFileIDShape(t *testing.T) {
	seen := make(map[byte]bool)
	for range 2000 {
		id := NewFileID()
		suffix := id[len(id)-5:]
		for i := 0; i < len(suffix); i++ {
			if !strings.ContainsRune(base36, rune(suffix[i])) {
				t.Fatalf("id %q has non base36 suffix", id)
			}
			seen[suffix[i]] = true
		}
		if _, err := strconv.ParseInt(id[:len(id)-5], 10, 64); err != nil {
			t.Fatalf("id %q has no millisecond prefix", id)
		}
	}
	if len(seen) != len(base36) {
		t.Fatalf("suffixes used %d of %d characters", len(seen), len(base36))
	}
}
