package app

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"os"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/Halyard-Systems/halyard-finance/internal/capacity"
	"github.com/Halyard-Systems/halyard-finance/internal/chain"
	"github.com/Halyard-Systems/halyard-finance/internal/lending"
	"github.com/Halyard-Systems/halyard-finance/internal/oracle"
	"github.com/Halyard-Systems/halyard-finance/internal/orchestrator"
	"github.com/Halyard-Systems/halyard-finance/internal/storage"
)

// Deposit supplies funds to a reserve.
func (a *App) Deposit(ctx context.Context, opts TransactOptions) error {
	return a.transact(ctx, orchestrator.ActionDeposit, opts)
}

// Withdraw removes funds from a reserve.
func (a *App) Withdraw(ctx context.Context, opts TransactOptions) error {
	return a.transact(ctx, orchestrator.ActionWithdraw, opts)
}

// Borrow draws funds against the account's collateral.
func (a *App) Borrow(ctx context.Context, opts TransactOptions) error {
	return a.transact(ctx, orchestrator.ActionBorrow, opts)
}

// Repay pays down the account's debt.
func (a *App) Repay(ctx context.Context, opts TransactOptions) error {
	return a.transact(ctx, orchestrator.ActionRepay, opts)
}

func (a *App) transact(ctx context.Context, action orchestrator.Action, opts TransactOptions) error {
	gw, err := a.newGateway()
	if err != nil {
		return err
	}
	defer gw.Close()

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if closeStore != nil {
		defer closeStore()
	}

	source := a.newOracleSource(gw)

	orch, err := orchestrator.New(orchestrator.Options{
		Chain:          gw,
		Oracle:         source,
		AllowSynthetic: a.Config.Oracle.AllowSynthetic,
		Logger:         a.Logger,
		OnConfirmed: func(_ orchestrator.Action, tokenID common.Hash, _ common.Hash) {
			a.printRefreshedPosition(ctx, gw, tokenID)
		},
	})
	if err != nil {
		return err
	}

	intent, err := a.buildIntent(ctx, gw, action, opts)
	if err != nil {
		return err
	}

	run, err := orch.Start(ctx, *intent)
	if err != nil {
		var verr *orchestrator.ValidationError
		if errors.As(err, &verr) {
			return fmt.Errorf("%s rejected: %s", action, verr.Reason)
		}
		return err
	}

	a.recordRun(ctx, store, run)

	switch run.Phase() {
	case orchestrator.PhaseConfirmed:
		fmt.Fprintf(os.Stdout, "%s of %s %s confirmed: %s\n",
			action, opts.Amount, intent.Reserve.Symbol, run.TxHash().Hex())
		return nil
	case orchestrator.PhaseDismissed:
		fmt.Fprintln(os.Stdout, "cancelled")
		return nil
	default:
		classified := run.Classified()
		return fmt.Errorf("%s failed: %s", action, classified.Message)
	}
}

// buildIntent resolves the reserve by symbol, parses the amount, and attaches
// the per-action limit so obviously doomed transactions are rejected before
// any gas is spent.
func (a *App) buildIntent(ctx context.Context, gw *chain.Gateway, action orchestrator.Action, opts TransactOptions) (*orchestrator.Intent, error) {
	reserve, err := a.findReserve(ctx, gw, opts.Symbol)
	if err != nil {
		return nil, err
	}

	parsed, err := decimal.NewFromString(opts.Amount)
	if err != nil {
		return nil, fmt.Errorf("invalid amount %q: %w", opts.Amount, err)
	}
	amount := lending.ToBaseUnits(parsed, reserve.Decimals)

	intent := &orchestrator.Intent{
		Action:  action,
		Reserve: reserve,
		Amount:  amount,
	}

	// A reserve needs oracle data on borrow and repay exactly when a price
	// feed is configured for it.
	if feedID, ok := a.Config.Oracle.Feeds[reserve.Symbol]; ok {
		intent.FeedIDs = []string{feedID}
		reserve.RequiresOracle = true
	}

	switch action {
	case orchestrator.ActionDeposit:
		intent.Spenders = []common.Address{common.HexToAddress(a.Config.Ethereum.DepositManager)}
	case orchestrator.ActionRepay:
		intent.Spenders = []common.Address{common.HexToAddress(a.Config.Ethereum.BorrowManager)}
	}

	max, err := a.actionLimit(ctx, gw, action, reserve)
	if err != nil {
		// Borrow capacity is never best-effort: an unknown or stale price
		// disables borrowing, it does not degrade to an unchecked submission.
		// Balance reads for the other actions stay best-effort because the
		// chain re-checks them anyway.
		if action == orchestrator.ActionBorrow {
			return nil, borrowLimitError(err)
		}
		a.Logger.Warn().Err(err).Str("action", string(action)).Msg("limit unavailable, submitting unchecked")
	} else if max != nil {
		intent.MaxAmount = max
	}

	return intent, nil
}

// borrowLimitError turns a failed capacity read into the error surfaced to
// the caller. Unknown capacity and stale pricing reject the intent outright;
// any other failure still blocks the borrow but keeps its cause visible.
func borrowLimitError(err error) error {
	if errors.Is(err, capacity.ErrUnknownCapacity) || errors.Is(err, oracle.ErrStalePrice) {
		return &orchestrator.ValidationError{Reason: "borrow capacity unknown until price data resolves"}
	}
	return fmt.Errorf("resolve borrow capacity: %w", err)
}

func (a *App) actionLimit(ctx context.Context, gw *chain.Gateway, action orchestrator.Action, reserve *lending.ReserveState) (*big.Int, error) {
	account := gw.Sender()
	now := time.Now().UTC()

	switch action {
	case orchestrator.ActionDeposit:
		return gw.WalletBalance(ctx, account, reserve)

	case orchestrator.ActionWithdraw:
		position, err := gw.Position(ctx, account, reserve)
		if err != nil {
			return nil, err
		}
		return lending.Extrapolate(reserve, now).DepositValue(position), nil

	case orchestrator.ActionRepay:
		position, err := gw.Position(ctx, account, reserve)
		if err != nil {
			return nil, err
		}
		return lending.Extrapolate(reserve, now).BorrowValue(position), nil

	case orchestrator.ActionBorrow:
		views, err := a.collectViews(ctx, gw, a.newOracleSource(gw), account, now)
		if err != nil {
			return nil, err
		}
		result, err := capacity.Compute(views, a.capacityParams())
		if err != nil {
			return nil, err
		}
		for _, v := range views {
			if v.Reserve.TokenID == reserve.TokenID {
				if !v.HasBounds {
					return nil, capacity.ErrUnknownCapacity
				}
				return result.MaxBorrowableUnits(v.Reserve, v.Bounds), nil
			}
		}
		return nil, fmt.Errorf("reserve %s not in account view", reserve.Symbol)
	}
	return nil, nil
}

func (a *App) findReserve(ctx context.Context, gw *chain.Gateway, symbol string) (*lending.ReserveState, error) {
	if symbol == "" {
		return nil, errors.New("symbol is required")
	}
	tokens, err := gw.SupportedTokens(ctx)
	if err != nil {
		return nil, err
	}
	for _, tokenID := range tokens {
		reserve, err := gw.Reserve(ctx, tokenID)
		if err != nil {
			return nil, err
		}
		if strings.EqualFold(reserve.Symbol, symbol) {
			return reserve, nil
		}
	}
	return nil, fmt.Errorf("no reserve with symbol %q", symbol)
}

// printRefreshedPosition re-reads the reserve and position after a confirmed
// transaction so the user sees post-settlement balances, not the ones they
// started from.
func (a *App) printRefreshedPosition(ctx context.Context, gw *chain.Gateway, tokenID common.Hash) {
	reserve, err := gw.Reserve(ctx, tokenID)
	if err != nil {
		a.Logger.Warn().Err(err).Msg("post-confirmation reserve refresh failed")
		return
	}
	position, err := gw.Position(ctx, gw.Sender(), reserve)
	if err != nil {
		a.Logger.Warn().Err(err).Msg("post-confirmation position refresh failed")
		return
	}

	acc := lending.Extrapolate(reserve, time.Now().UTC())
	fmt.Fprintf(os.Stdout, "%s position: deposited %s, borrowed %s\n",
		reserve.Symbol,
		formatDecimal(lending.FromBaseUnits(acc.DepositValue(position), reserve.Decimals), 4),
		formatDecimal(lending.FromBaseUnits(acc.BorrowValue(position), reserve.Decimals), 4),
	)
}

// recordRun appends the run's outcome to the audit trail when a database is
// configured. Audit failures are logged, never surfaced.
func (a *App) recordRun(ctx context.Context, store *storage.Store, run *orchestrator.Run) {
	if store == nil {
		return
	}

	intent := run.Intent()
	rec := storage.TxRecord{
		Action: string(intent.Action),
		Symbol: intent.Reserve.Symbol,
		Amount: lending.FromBaseUnits(intent.Amount, intent.Reserve.Decimals),
		TxHash: run.TxHash().Hex(),
		Phase:  string(run.Phase()),
	}
	if code := run.Classified().Code; code != "" {
		rec.ErrorCode = &code
	}

	if _, err := store.InsertTxRecord(ctx, rec); err != nil {
		a.Logger.Error().Err(err).Msg("failed to record transaction audit entry")
	}
}
