package cmd

import (
	"os"

	"github.com/Nitishvarma50/app-p2p/internal/history"
	"github.com/Nitishvarma50/app-p2p/internal/transfer"
	"github.com/Nitishvarma50/app-p2p/internal/ui"
	"github.com/spf13/cobra"
)

var (
	flagHistoryLimit int
	flagHistoryClear bool
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List recent transfers",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		store, err := history.Open(cfg.HistoryPath)
		if err != nil {
			return transfer.NewError("open history", err)
		}
		defer store.Close()

		if flagHistoryClear {
			if err := store.Clear(); err != nil {
				return transfer.NewError("clear history", err)
			}
			ui.PrintSuccess("History cleared")
			return nil
		}

		rows, err := store.Recent(flagHistoryLimit)
		if err != nil {
			return transfer.NewError("read history", err)
		}
		if len(rows) == 0 {
			ui.PrintInfo("No transfers recorded yet")
			return nil
		}
		ui.RenderHistory(os.Stdout, rows)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(historyCmd)

	historyCmd.Flags().IntVarP(&flagHistoryLimit, "limit", "n", 20, "How many transfers to show")
	historyCmd.Flags().BoolVar(&flagHistoryClear, "clear", false, "Delete all recorded transfers")
}
