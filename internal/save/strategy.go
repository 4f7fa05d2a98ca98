package save

import (
	"bytes"
	"fmt"
	"log/slog"
	"strconv"
	"time"
)

// ShareWriteSize bounds each write when staging a file for the share flow.
const ShareWriteSize = 512 * 1024

// Streaming writes every chunk straight through to an incremental file.
type Streaming struct {
	host Host
}

func (s *Streaming) Name() string { return "stream" }

func (s *Streaming) Open(meta Meta) (Sink, error) {
	f, err := s.host.WriteIncremental(meta.Name)
	if err != nil {
		return nil, err
	}
	return &streamSink{meta: meta, f: f}, nil
}

type streamSink struct {
	meta Meta
	f    IncrementalFile
}

func (s *streamSink) Write(p []byte) error {
	_, err := s.f.Write(p)
	return err
}

func (s *streamSink) Commit() (Location, error) {
	path, err := s.f.Finish()
	if err != nil {
		return Location{}, &SaveError{Name: s.meta.Name, Strategy: "stream", Err: err}
	}
	return Location{Path: path, Label: "Saved"}, nil
}

func (s *streamSink) Abort() {
	s.f.Discard()
}

// Buffered keeps the chunks in memory and writes the whole file on commit.
type Buffered struct {
	host Host
}

func (b *Buffered) Name() string { return "buffer" }

func (b *Buffered) Open(meta Meta) (Sink, error) {
	return &bufferSink{meta: meta, deliver: func(data []byte) (Location, error) {
		path, err := b.host.WriteWhole(meta.Name, data)
		if err != nil {
			return Location{}, err
		}
		return Location{Path: path, Label: "Saved"}, nil
	}}, nil
}

// bufferSink holds chunks in arrival order.
type bufferSink struct {
	meta    Meta
	chunks  [][]byte
	deliver func([]byte) (Location, error)
	strat   string
}

func (s *bufferSink) Write(p []byte) error {
	chunk := make([]byte, len(p))
	copy(chunk, p)
	s.chunks = append(s.chunks, chunk)
	return nil
}

func (s *bufferSink) Commit() (Location, error) {
	data := bytes.Join(s.chunks, nil)
	s.chunks = nil

	loc, err := s.deliver(data)
	if err != nil {
		name := s.strat
		if name == "" {
			name = "buffer"
		}
		return Location{}, &SaveError{Name: s.meta.Name, Strategy: name, Err: err}
	}
	return loc, nil
}

func (s *bufferSink) Abort() {
	s.chunks = nil
}

// Share buffers the file, stages it in the cache in bounded writes and
// hands it to the host share flow. A failed or declined share writes the
// file to the downloads location instead.
type Share struct {
	host Host
	now  func() time.Time
}

// NewShare creates a share strategy for host.
func NewShare(host Host) *Share {
	return &Share{host: host, now: time.Now}
}

func (s *Share) Name() string { return "share" }

func (s *Share) Open(meta Meta) (Sink, error) {
	return &bufferSink{meta: meta, strat: "share", deliver: func(data []byte) (Location, error) {
		return s.deliver(meta, data)
	}}, nil
}

func (s *Share) deliver(meta Meta, data []byte) (Location, error) {
	tempName := "temp_" + strconv.FormatInt(s.now().UnixMilli(), 10) + "_" + meta.Name

	path, err := s.host.CachePath(tempName)
	if err == nil {
		err = writeInChunks(s.host, path, data)
	}
	if err == nil {
		err = s.host.ShareOrDownload(path, meta.Name)
	}
	if err == nil {
		return Location{Path: path, Label: "Shared/Saved"}, nil
	}

	slog.Warn("share failed, saving to downloads", "file", meta.Name, "err", err)
	dest, ferr := s.host.WriteWhole(meta.Name, data)
	if ferr != nil {
		return Location{}, fmt.Errorf("share failed (%v), fallback save failed: %w", err, ferr)
	}
	return Location{Path: dest, Label: "Saved to Downloads"}, nil
}

// writeInChunks creates path with the first ShareWriteSize bytes and appends
// the rest in ShareWriteSize pieces. An empty file is still created.
func writeInChunks(host Host, path string, data []byte) error {
	first := min(len(data), ShareWriteSize)
	if err := host.WriteFile(path, data[:first]); err != nil {
		return err
	}
	for off := first; off < len(data); off += ShareWriteSize {
		end := min(off+ShareWriteSize, len(data))
		if err := host.AppendFile(path, data[off:end]); err != nil {
			return err
		}
	}
	return nil
}
