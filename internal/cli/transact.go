package cli

import (
	"context"
	"errors"

	"github.com/spf13/cobra"

	"github.com/Halyard-Systems/halyard-finance/internal/app"
)

func newTransactCmd(use, short string, fn func(ctx context.Context, opts app.TransactOptions) error) *cobra.Command {
	var symbol, amount string

	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		RunE: func(cmd *cobra.Command, args []string) error {
			if symbol == "" {
				return errors.New("--symbol is required")
			}
			if amount == "" {
				return errors.New("--amount is required")
			}
			return fn(cmd.Context(), app.TransactOptions{Symbol: symbol, Amount: amount})
		},
	}

	cmd.Flags().StringVar(&symbol, "symbol", "", "Reserve symbol, e.g. USDC")
	cmd.Flags().StringVar(&amount, "amount", "", "Amount in whole asset units, e.g. 100.5")
	return cmd
}

var depositCmd = newTransactCmd("deposit", "Supply funds to a reserve", func(ctx context.Context, opts app.TransactOptions) error {
	return getApp().Deposit(ctx, opts)
})

var withdrawCmd = newTransactCmd("withdraw", "Withdraw deposited funds from a reserve", func(ctx context.Context, opts app.TransactOptions) error {
	return getApp().Withdraw(ctx, opts)
})

var borrowCmd = newTransactCmd("borrow", "Borrow against deposited collateral", func(ctx context.Context, opts app.TransactOptions) error {
	return getApp().Borrow(ctx, opts)
})

var repayCmd = newTransactCmd("repay", "Repay outstanding debt", func(ctx context.Context, opts app.TransactOptions) error {
	return getApp().Repay(ctx, opts)
})
