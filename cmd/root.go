package cmd

import (
	"os"

	"github.com/Nitishvarma50/app-p2p/internal/config"
	"github.com/Nitishvarma50/app-p2p/internal/logging"
	"github.com/Nitishvarma50/app-p2p/internal/transfer"
	"github.com/Nitishvarma50/app-p2p/internal/ui"
	"github.com/Nitishvarma50/app-p2p/internal/version"
	"github.com/spf13/cobra"
)

var (
	flagConfig    string
	flagServer    string
	flagSTUN      []string
	flagTURN      string
	flagTURNUser  string
	flagTURNPass  string
	flagRelay     bool
	flagChunkSize int
	flagTagged    bool
	flagSaveMode  string
	flagOutputDir string
	flagShare     string
	flagHistory   string
	flagNoHistory bool
	flagLogLevel  string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "airsetu",
	Short: "Share files with anyone through a room code, directly between devices",
	Long: `airsetu moves files straight from one device to another over WebRTC.
One side creates a room, the other joins it with the room code or link, and
files flow both ways until someone leaves. The relay only introduces the two
peers; file bytes never pass through it.`,
	Version: version.Version,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		logging.Init(flagLogLevel)
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	rootCmd.SilenceErrors = true
	rootCmd.SilenceUsage = true

	if err := rootCmd.Execute(); err != nil {
		ui.PrintError(err.Error())
		os.Exit(1)
	}
}

// loadConfig merges the persistent flags with environment and config file.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(config.Options{
		ConfigFile:   flagConfig,
		Server:       flagServer,
		STUNServers:  flagSTUN,
		TURNServer:   flagTURN,
		TURNUser:     flagTURNUser,
		TURNPass:     flagTURNPass,
		ForceRelay:   flagRelay,
		ChunkSize:    flagChunkSize,
		Tagged:       flagTagged,
		SaveMode:     flagSaveMode,
		OutputDir:    flagOutputDir,
		ShareCommand: flagShare,
		HistoryPath:  flagHistory,
		NoHistory:    flagNoHistory,
	})
	if err != nil {
		return nil, transfer.NewError("load config", err)
	}
	return cfg, nil
}

func init() {
	f := rootCmd.PersistentFlags()
	f.StringVar(&flagConfig, "config", "", "YAML config file")
	f.StringVar(&flagServer, "server", "", "Relay server URL")
	f.StringSliceVar(&flagSTUN, "stun", nil, "Extra STUN server (repeatable)")
	f.StringVar(&flagTURN, "turn", "", "TURN server host")
	f.StringVar(&flagTURNUser, "turn-user", "", "TURN username")
	f.StringVar(&flagTURNPass, "turn-pass", "", "TURN password")
	f.BoolVar(&flagRelay, "relay", false, "Force relay mode (needs a TURN server)")
	f.IntVar(&flagChunkSize, "chunk-size", 0, "Data frame size in bytes (16384-65536)")
	f.BoolVar(&flagTagged, "tagged", false, "Tag data frames with their file id so uploads can overlap")
	f.StringVar(&flagSaveMode, "save", "", "How downloads are saved: auto, stream, buffer or share")
	f.StringVarP(&flagOutputDir, "dir", "d", "", "Directory for received files")
	f.StringVar(&flagShare, "share-cmd", "", "Command that shares a received file, e.g. termux-share")
	f.StringVar(&flagHistory, "history", "", "Transfer history database")
	f.BoolVar(&flagNoHistory, "no-history", false, "Do not record transfers")
	f.StringVar(&flagLogLevel, "log-level", "", "Log level: debug, info, warn or error")
}
