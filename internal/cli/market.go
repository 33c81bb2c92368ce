package cli

import (
	"github.com/spf13/cobra"
)

var marketCmd = &cobra.Command{
	Use:   "market",
	Short: "Show the live state of every supported reserve",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Market(cmd.Context())
	},
}
