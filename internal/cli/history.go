package cli

import (
	"github.com/spf13/cobra"

	"github.com/Halyard-Systems/halyard-finance/internal/app"
)

var (
	historySymbol string
	historyLimit  int
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show a reserve's recent samples and the transaction audit trail",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().History(cmd.Context(), app.HistoryOptions{
			Symbol: historySymbol,
			Limit:  historyLimit,
		})
	},
}

func init() {
	historyCmd.Flags().StringVar(&historySymbol, "symbol", "", "Reserve symbol to show")
	historyCmd.Flags().IntVar(&historyLimit, "limit", 20, "Maximum rows per table")
}
