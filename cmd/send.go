package cmd

import (
	"fmt"

	"github.com/Nitishvarma50/app-p2p/internal/files"
	"github.com/Nitishvarma50/app-p2p/internal/session"
	"github.com/Nitishvarma50/app-p2p/internal/ui"
	"github.com/spf13/cobra"
)

var (
	flagSendRoom string
	flagSendStay bool
)

var sendCmd = &cobra.Command{
	Use:     "send <files...>",
	Aliases: []string{"s"},
	Short:   "Create a room and send files to whoever joins",
	Long: `Create a room (or join one with --room) and send files to the peer.

The files are offered as soon as the peer connects. Files the peer sends back
are received too. Without --stay the command ends once every file arrived.

Examples:
  airsetu send report.pdf photos.zip
  airsetu send --room kitten-waffle-stardust-happy notes.txt
  airsetu send --tagged --stay *.jpg`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return sendFiles(args)
	},
}

func sendFiles(paths []string) error {
	spin := ui.NewSpinner("Validating files...").Start()
	infos, err := files.ValidateFiles(paths)
	spin.Stop()
	if err != nil {
		return err
	}

	fmt.Println()
	ui.RenderFileTable(infos)

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.ForceRelay && cfg.GetTURNServers() == nil {
		return fmt.Errorf("cannot force relay mode without TURN server configured")
	}

	var room string
	if flagSendRoom != "" {
		if room, err = parseRoom(flagSendRoom); err != nil {
			return err
		}
	}

	_, err = roomRun{
		cfg:   cfg,
		title: "Sending",
		room:  room,
		opts: session.Options{
			Files:         infos,
			ExitAfterSend: !flagSendStay,
		},
	}.run()
	return err
}

func init() {
	rootCmd.AddCommand(sendCmd)

	sendCmd.Flags().StringVarP(&flagSendRoom, "room", "r", "", "Join this room (id or link) instead of creating one")
	sendCmd.Flags().BoolVar(&flagSendStay, "stay", false, "Stay in the room after the files were delivered")
}
