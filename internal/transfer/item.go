package transfer

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// Direction of a transfer item.
type Direction int

const (
	Upload Direction = iota
	Download
)

func (d Direction) String() string {
	if d == Download {
		return "download"
	}
	return "upload"
}

// State of a transfer item. Uploads move through Queued, MetadataSent,
// AwaitingAccept, Sending; downloads through Advertised, Accepted,
// Receiving. Both end in Completed or Failed.
type State int

const (
	StateQueued State = iota
	StateMetadataSent
	StateAwaitingAccept
	StateSending
	StateAdvertised
	StateAccepted
	StateReceiving
	StateCompleted
	StateFailed
)

var stateNames = [...]string{
	StateQueued:         "queued",
	StateMetadataSent:   "metadata-sent",
	StateAwaitingAccept: "awaiting-accept",
	StateSending:        "sending",
	StateAdvertised:     "advertised",
	StateAccepted:       "accepted",
	StateReceiving:      "receiving",
	StateCompleted:      "completed",
	StateFailed:         "failed",
}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "unknown"
}

// Terminal reports whether no further transitions are possible.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

// Info is a snapshot of one transfer item.
type Info struct {
	ID          string
	Direction   Direction
	Name        string
	Size        uint64
	MimeType    string
	State       State
	Transferred uint64
	// Location is set for completed downloads that were saved.
	Location string
	Started  time.Time
}

// Percent returns progress in [0, 100].
func (i Info) Percent() float64 {
	return percent(i.Transferred, i.Size)
}

func percent(done, size uint64) float64 {
	if size == 0 {
		return 100
	}
	return float64(done) / float64(size) * 100
}

// Source is a file to upload. Open is called once, when sending starts.
type Source struct {
	Name     string
	Size     uint64
	MimeType string
	Open     func() (io.ReadCloser, error)
}

// FileSource returns a Source backed by a local file.
func FileSource(path, name string, size int64, mimeType string) Source {
	return Source{
		Name:     name,
		Size:     uint64(size),
		MimeType: mimeType,
		Open: func() (io.ReadCloser, error) {
			f, err := os.Open(path)
			if err != nil {
				return nil, NewFileError("open", name, err)
			}
			return f, nil
		},
	}
}

const base36 = "0123456789abcdefghijklmnopqrstuvwxyz"

// NewFileID returns a millisecond timestamp followed by five random base36
// characters.
func NewFileID() string {
	const limit = 256 - 256%len(base36)

	suffix := make([]byte, 0, 5)
	for len(suffix) < cap(suffix) {
		u := uuid.New()
		for i, b := range u {
			// bytes 6 and 8 carry the version and variant bits
			if i == 6 || i == 8 || int(b) >= limit || len(suffix) == cap(suffix) {
				continue
			}
			suffix = append(suffix, base36[int(b)%len(base36)])
		}
	}
	return strconv.FormatInt(time.Now().UnixMilli(), 10) + string(suffix)
}

func (i Info) String() string {
	return fmt.Sprintf("%s %s %s [%s %d/%d]", i.Direction, i.ID, i.Name, i.State, i.Transferred, i.Size)
}
