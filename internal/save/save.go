// Package save turns received bytes into files on the host.
//
// A Pipeline picks one Strategy per download when its metadata arrives.
// The strategy hands back a Sink that receives every chunk and is
// committed once the sender signals the end of the file.
package save

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/Nitishvarma50/app-p2p/internal/config"
)

// Meta describes an incoming file.
type Meta struct {
	FileID   string
	Name     string
	Size     uint64
	MimeType string
}

// Location is where a committed file ended up.
type Location struct {
	Path string
	// Label is a short human description ("Saved", "Shared/Saved", ...)
	Label string
}

// Sink accumulates one file.
type Sink interface {
	Write(p []byte) error
	// Commit finalizes the file. It is called exactly once unless Abort is.
	Commit() (Location, error)
	// Abort discards whatever has been written.
	Abort()
}

// Strategy opens sinks.
type Strategy interface {
	Name() string
	Open(meta Meta) (Sink, error)
}

// SaveError wraps a failure to persist a received file.
type SaveError struct {
	Name     string
	Strategy string
	Err      error
}

func (e *SaveError) Error() string {
	return fmt.Sprintf("save %s (%s): %v", e.Name, e.Strategy, e.Err)
}

func (e *SaveError) Unwrap() error {
	return e.Err
}

// ErrShareUnavailable is returned by hosts without a share flow.
var ErrShareUnavailable = errors.New("share not available")

// Pipeline selects and opens a strategy per download.
type Pipeline struct {
	host Host
	mode string
}

// NewPipeline creates a pipeline for host. mode is one of the config save
// modes; anything unknown behaves like auto.
func NewPipeline(host Host, mode string) *Pipeline {
	return &Pipeline{host: host, mode: mode}
}

// Select probes the host once and returns the strategy to use.
func (p *Pipeline) Select() Strategy {
	return Select(p.host, p.mode)
}

// Select returns the strategy for mode given the host capabilities. Forced
// modes fall back to buffered when the host lacks the capability.
func Select(host Host, mode string) Strategy {
	caps := host.Capabilities()

	switch mode {
	case config.SaveModeStream:
		if caps.Incremental {
			return &Streaming{host: host}
		}
	case config.SaveModeShare:
		if caps.Share {
			return NewShare(host)
		}
	case config.SaveModeBuffer:
	default:
		if caps.Incremental {
			return &Streaming{host: host}
		}
		if caps.Share {
			return NewShare(host)
		}
	}
	return &Buffered{host: host}
}

// Begin opens a sink for meta. If the chosen strategy cannot open one, the
// buffered strategy is used instead.
func (p *Pipeline) Begin(meta Meta) (Sink, error) {
	s := p.Select()
	sink, err := s.Open(meta)
	if err == nil {
		return sink, nil
	}
	if _, buffered := s.(*Buffered); buffered {
		return nil, &SaveError{Name: meta.Name, Strategy: s.Name(), Err: err}
	}

	slog.Warn("save strategy unavailable, buffering in memory", "strategy", s.Name(), "file", meta.Name, "err", err)
	fallback := &Buffered{host: p.host}
	return fallback.Open(meta)
}
