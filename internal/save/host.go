package save

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/Nitishvarma50/app-p2p/internal/utils"
)

// Capabilities advertises what a host can do beyond writing whole files.
type Capabilities struct {
	// Incremental hosts can open a file and write it chunk by chunk.
	Incremental bool
	// Share hosts can hand a finished file to a platform share/save-as flow.
	Share bool
}

// IncrementalFile is an open streaming destination.
type IncrementalFile interface {
	io.Writer
	// Finish closes the file and returns its final path.
	Finish() (string, error)
	// Discard closes and removes the partial file.
	Discard()
}

// Host is the save-file capability of the environment.
type Host interface {
	Capabilities() Capabilities

	// WriteIncremental opens a streaming destination for name.
	WriteIncremental(name string) (IncrementalFile, error)

	// WriteWhole stores a complete file in the downloads location.
	WriteWhole(name string, data []byte) (string, error)

	// CachePath returns a path in the host's cache for name.
	CachePath(name string) (string, error)
	// WriteFile creates or truncates path with data.
	WriteFile(path string, data []byte) error
	// AppendFile appends data to path.
	AppendFile(path string, data []byte) error

	// ShareOrDownload hands path to the share flow.
	ShareOrDownload(path, name string) error
}

// FSHost saves to local directories.
type FSHost struct {
	DownloadsDir string
	CacheDir     string
	// ShareCommand is run with the file path appended, e.g. "termux-share"
	// or "xdg-open". Empty disables sharing.
	ShareCommand string
	// ShareTimeout bounds the share command.
	ShareTimeout time.Duration
}

// NewFSHost creates a host writing into downloads with cache for share staging.
func NewFSHost(downloads, cache, shareCommand string) *FSHost {
	return &FSHost{
		DownloadsDir: downloads,
		CacheDir:     cache,
		ShareCommand: shareCommand,
		ShareTimeout: 2 * time.Minute,
	}
}

func (h *FSHost) Capabilities() Capabilities {
	return Capabilities{
		Incremental: true,
		Share:       strings.TrimSpace(h.ShareCommand) != "",
	}
}

type partFile struct {
	f     *os.File
	dir   string
	name  string
	final string
}

func (p *partFile) Write(b []byte) (int, error) {
	return p.f.Write(b)
}

func (p *partFile) Finish() (string, error) {
	if err := p.f.Close(); err != nil {
		os.Remove(p.f.Name())
		return "", err
	}
	dest := utils.GetUniqueFilename(p.dir, p.name)
	if err := os.Rename(p.f.Name(), dest); err != nil {
		return "", err
	}
	return dest, nil
}

func (p *partFile) Discard() {
	p.f.Close()
	os.Remove(p.f.Name())
}

func (h *FSHost) WriteIncremental(name string) (IncrementalFile, error) {
	if err := os.MkdirAll(h.DownloadsDir, 0o755); err != nil {
		return nil, fmt.Errorf("create downloads directory: %w", err)
	}
	f, err := os.CreateTemp(h.DownloadsDir, "."+name+".*.part")
	if err != nil {
		return nil, err
	}
	return &partFile{f: f, dir: h.DownloadsDir, name: name}, nil
}

func (h *FSHost) WriteWhole(name string, data []byte) (string, error) {
	if err := os.MkdirAll(h.DownloadsDir, 0o755); err != nil {
		return "", fmt.Errorf("create downloads directory: %w", err)
	}
	dest := utils.GetUniqueFilename(h.DownloadsDir, name)
	if err := os.WriteFile(dest, data, 0o644); err != nil {
		return "", err
	}
	return dest, nil
}

func (h *FSHost) CachePath(name string) (string, error) {
	if err := os.MkdirAll(h.CacheDir, 0o755); err != nil {
		return "", fmt.Errorf("create cache directory: %w", err)
	}
	return filepath.Join(h.CacheDir, name), nil
}

func (h *FSHost) WriteFile(path string, data []byte) error {
	return os.WriteFile(path, data, 0o644)
}

func (h *FSHost) AppendFile(path string, data []byte) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND, 0)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func (h *FSHost) ShareOrDownload(path, name string) error {
	fields := strings.Fields(h.ShareCommand)
	if len(fields) == 0 {
		return ErrShareUnavailable
	}

	timeout := h.ShareTimeout
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	args := append(fields[1:], path)
	out, err := exec.CommandContext(ctx, fields[0], args...).CombinedOutput()
	if err != nil {
		slog.Debug("share command failed", "cmd", fields[0], "file", name, "output", strings.TrimSpace(string(out)))
		return fmt.Errorf("share %s: %w", name, err)
	}
	return nil
}
