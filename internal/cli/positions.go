package cli

import (
	"github.com/spf13/cobra"

	"github.com/Halyard-Systems/halyard-finance/internal/app"
)

var positionsAccount string

var positionsCmd = &cobra.Command{
	Use:   "positions",
	Short: "Show the account's deposits, debts, and borrow capacity",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Positions(cmd.Context(), app.PositionsOptions{
			Account: positionsAccount,
		})
	},
}

func init() {
	positionsCmd.Flags().StringVar(&positionsAccount, "account", "", "Account address (defaults to the configured signer)")
}
