package history

import (
	"log/slog"
	"sync"
	"time"

	"github.com/Nitishvarma50/app-p2p/internal/transfer"
)

// Recorder is a transfer.Notifier that writes every finished item to a
// Store. Only ItemDone does anything.
type Recorder struct {
	store *Store

	mu   sync.Mutex
	room string
	peer string
}

// NewRecorder returns a recorder writing to s.
func NewRecorder(s *Store) *Recorder {
	return &Recorder{store: s}
}

// SetPeer sets the room and remote peer stamped on later records.
func (r *Recorder) SetPeer(room, peer string) {
	r.mu.Lock()
	r.room, r.peer = room, peer
	r.mu.Unlock()
}

func (r *Recorder) ItemAdded(transfer.Info)          {}
func (r *Recorder) Progress(string, float64, string) {}
func (r *Recorder) Toast(string, transfer.Kind)      {}

func (r *Recorder) ItemDone(info transfer.Info, result transfer.Result) {
	r.mu.Lock()
	room, peer := r.room, r.peer
	r.mu.Unlock()

	rec := &Transfer{
		FileID:      info.ID,
		Direction:   info.Direction.String(),
		Name:        info.Name,
		Size:        int64(info.Size),
		Transferred: int64(info.Transferred),
		MimeType:    info.MimeType,
		Result:      string(result),
		Location:    info.Location,
		Room:        room,
		Peer:        peer,
		StartedAt:   info.Started.UnixMilli(),
		FinishedAt:  time.Now().UnixMilli(),
	}
	if err := r.store.Add(rec); err != nil {
		slog.Warn("history not recorded", "file_id", info.ID, "err", err)
	}
}
