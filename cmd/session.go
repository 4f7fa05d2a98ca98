package cmd

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/Nitishvarma50/app-p2p/internal/config"
	"github.com/Nitishvarma50/app-p2p/internal/history"
	"github.com/Nitishvarma50/app-p2p/internal/keepalive"
	"github.com/Nitishvarma50/app-p2p/internal/save"
	"github.com/Nitishvarma50/app-p2p/internal/session"
	"github.com/Nitishvarma50/app-p2p/internal/signaling"
	"github.com/Nitishvarma50/app-p2p/internal/transfer"
	"github.com/Nitishvarma50/app-p2p/internal/ui"
)

// roomRun describes one interactive room session.
type roomRun struct {
	cfg   *config.Config
	title string
	room  string
	opts  session.Options
}

// run drives a session behind the live view and prints the summary when it
// ends. The room box is shown once the relay confirms the room.
func (r roomRun) run() (session.Stats, error) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	live := ui.NewTransferUI(r.title, cancel)
	notify := transfer.Notifiers{live}

	var recorder *history.Recorder
	if !r.cfg.NoHistory {
		store, err := history.Open(r.cfg.HistoryPath)
		if err != nil {
			slog.Warn("history disabled", "path", r.cfg.HistoryPath, "err", err)
		} else {
			defer store.Close()
			recorder = history.NewRecorder(store)
			notify = append(notify, recorder)
		}
	}

	opts := r.opts
	opts.Config = r.cfg
	opts.Room = r.room
	opts.Notifier = notify
	opts.Saver = save.NewPipeline(save.NewFSHost(r.cfg.OutputDir, r.cfg.CacheDir, r.cfg.ShareCommand), r.cfg.SaveMode)
	opts.Wake = keepalive.New()
	opts.Status = live.SetStatus
	shown := ""
	opts.OnRoom = func(roomID string) {
		if roomID == shown {
			return
		}
		shown = roomID
		live.SetHeader(ui.RoomView(r.title, roomID, r.cfg.GetRoomLink(roomID)))
	}
	opts.OnPeer = func(roomID, peerID string) {
		if recorder != nil {
			recorder.SetPeer(roomID, peerID)
		}
	}

	s := session.New(signaling.NewClient(r.cfg.WebSocketURL), opts)

	live.Start()
	err := s.Run(ctx)
	live.Stop()

	stats := s.Stats()
	ui.RenderSummary(os.Stdout, ui.Summary{
		Sent:      stats.Sent,
		Received:  stats.Received,
		Failed:    stats.Failed,
		Abandoned: stats.Abandoned,
		Bytes:     stats.Bytes,
		Duration:  stats.Duration(),
	})
	if err != nil {
		return stats, transfer.NewError("room session", err)
	}
	return stats, nil
}
