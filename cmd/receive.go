package cmd

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/Nitishvarma50/app-p2p/internal/config"
	"github.com/Nitishvarma50/app-p2p/internal/files"
	"github.com/Nitishvarma50/app-p2p/internal/session"
	"github.com/Nitishvarma50/app-p2p/internal/transfer"
	"github.com/Nitishvarma50/app-p2p/internal/ui"
	"github.com/Nitishvarma50/app-p2p/internal/utils"
	"github.com/spf13/cobra"
)

var (
	flagReceiveSend []string
	flagReceiveZip  bool
	flagReceiveStay bool
)

var receiveCmd = &cobra.Command{
	Use:     "receive <room-id|url>",
	Aliases: []string{"r"},
	Short:   "Join a room and receive files",
	Long: `Join a room with its id or link and receive whatever the peer sends.

Examples:
  airsetu receive kitten-waffle-stardust-happy
  airsetu receive https://app-p2p.onrender.com/r/kitten-waffle-stardust-happy
  airsetu receive kitten-waffle-stardust-happy --zip -d ~/incoming
  airsetu receive kitten-waffle-stardust-happy --send reply.txt`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		roomID, err := parseRoom(args[0])
		if err != nil {
			return err
		}
		return receiveFiles(roomID)
	},
}

func parseRoom(ref string) (string, error) {
	roomID, err := config.ParseRoomRef(ref)
	if err != nil {
		return "", err
	}
	if roomID != ref {
		ui.PrintSuccess("Extracted room ID: " + roomID)
	}
	return roomID, nil
}

func receiveFiles(roomID string) error {
	var offer []files.FileInfo
	if len(flagReceiveSend) > 0 {
		var err error
		if offer, err = files.ValidateFiles(flagReceiveSend); err != nil {
			return err
		}
		fmt.Println()
		ui.RenderFileTable(offer)
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	stats, err := roomRun{
		cfg:   cfg,
		title: "Receiving",
		room:  roomID,
		opts: session.Options{
			Files:          offer,
			ExitOnPeerLeft: !flagReceiveStay,
		},
	}.run()

	if flagReceiveZip {
		if len(stats.Saved) == 0 {
			ui.PrintWarning("Nothing was received, no zip written")
		} else if zerr := zipSaved(cfg.OutputDir, stats.Saved); zerr != nil && err == nil {
			err = zerr
		}
	}
	return err
}

func zipSaved(dir string, saved []string) error {
	target := filepath.Join(dir, fmt.Sprintf("airsetu-%d.zip", time.Now().UnixMilli()))

	fmt.Println()
	s := ui.NewWaitingSpinner("Zipping files...").Start()
	if err := utils.ZipFiles(saved, target); err != nil {
		s.Stop()
		return transfer.NewError("zip files", err)
	}
	s.Success(fmt.Sprintf("Files zipped to %s", target))
	return nil
}

func init() {
	rootCmd.AddCommand(receiveCmd)

	receiveCmd.Flags().StringSliceVar(&flagReceiveSend, "send", nil, "Files to send back to the peer")
	receiveCmd.Flags().BoolVarP(&flagReceiveZip, "zip", "z", false, "Bundle the received files into one zip when done")
	receiveCmd.Flags().BoolVar(&flagReceiveStay, "stay", false, "Stay in the room after the peer leaves")
}
