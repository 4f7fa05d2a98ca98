package session

import (
	"sync"
	"time"

	"github.com/Nitishvarma50/app-p2p/internal/transfer"
)

// Stats are the totals of one session.
type Stats struct {
	Sent      int
	Received  int
	Failed    int
	Abandoned int
	// Bytes moved by completed items, both directions.
	Bytes   int64
	Started time.Time
	Ended   time.Time
	// Saved lists where completed downloads landed.
	Saved []string
}

// Duration is the wall time between start and end (or now).
func (s Stats) Duration() time.Duration {
	end := s.Ended
	if end.IsZero() {
		end = time.Now()
	}
	return end.Sub(s.Started)
}

// Tally is a transfer.Notifier that only counts.
type Tally struct {
	mu    sync.Mutex
	stats Stats
}

func NewTally() *Tally {
	return &Tally{stats: Stats{Started: time.Now()}}
}

func (t *Tally) ItemAdded(transfer.Info)          {}
func (t *Tally) Progress(string, float64, string) {}
func (t *Tally) Toast(string, transfer.Kind)      {}

func (t *Tally) ItemDone(info transfer.Info, result transfer.Result) {
	t.mu.Lock()
	defer t.mu.Unlock()

	switch result {
	case transfer.ResultCompleted:
		t.stats.Bytes += int64(info.Transferred)
		if info.Direction == transfer.Upload {
			t.stats.Sent++
			return
		}
		t.stats.Received++
		if info.Location != "" {
			t.stats.Saved = append(t.stats.Saved, info.Location)
		}
	case transfer.ResultFailed:
		t.stats.Failed++
	case transfer.ResultAbandoned:
		t.stats.Abandoned++
	}
}

// Finish stamps the end time once.
func (t *Tally) Finish() {
	t.mu.Lock()
	if t.stats.Ended.IsZero() {
		t.stats.Ended = time.Now()
	}
	t.mu.Unlock()
}

// Stats returns a copy of the totals.
func (t *Tally) Stats() Stats {
	t.mu.Lock()
	defer t.mu.Unlock()
	s := t.stats
	s.Saved = append([]string(nil), t.stats.Saved...)
	return s
}
