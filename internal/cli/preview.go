package cli

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Halyard-Systems/halyard-finance/internal/app"
)

var (
	previewSymbol  string
	previewAmount  string
	previewAccount string
	previewPrices  []string
)

var previewCmd = &cobra.Command{
	Use:   "preview",
	Short: "Preview a borrow's effect on capacity without submitting",
	RunE: func(cmd *cobra.Command, args []string) error {
		if previewSymbol == "" {
			return errors.New("--symbol is required")
		}
		if previewAmount == "" {
			return errors.New("--amount is required")
		}

		prices, err := parsePriceOverrides(previewPrices)
		if err != nil {
			return err
		}

		return getApp().Preview(cmd.Context(), app.PreviewOptions{
			Symbol:  previewSymbol,
			Amount:  previewAmount,
			Account: previewAccount,
			Prices:  prices,
		})
	},
}

func parsePriceOverrides(pairs []string) (map[string]float64, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	prices := make(map[string]float64, len(pairs))
	for _, pair := range pairs {
		symbol, value, ok := strings.Cut(pair, "=")
		if !ok {
			return nil, fmt.Errorf("invalid --price %q, expected SYMBOL=VALUE", pair)
		}
		price, err := strconv.ParseFloat(value, 64)
		if err != nil || price <= 0 {
			return nil, fmt.Errorf("invalid price for %s: %q", symbol, value)
		}
		prices[symbol] = price
	}
	return prices, nil
}

func init() {
	previewCmd.Flags().StringVar(&previewSymbol, "symbol", "", "Reserve symbol to borrow")
	previewCmd.Flags().StringVar(&previewAmount, "amount", "", "Borrow amount in whole asset units")
	previewCmd.Flags().StringVar(&previewAccount, "account", "", "Account address (defaults to the configured signer)")
	previewCmd.Flags().StringArrayVar(&previewPrices, "price", nil, "Static price override as SYMBOL=VALUE (repeatable)")
}
