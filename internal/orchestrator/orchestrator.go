// Package orchestrator drives lending transactions through their full
// lifecycle: allowance checks, oracle price refresh, fee quoting, submission,
// and receipt confirmation. One run is active per (token, action) pair at a
// time; concurrent intents for the same pair are rejected up front.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"

	"github.com/Halyard-Systems/halyard-finance/internal/chain"
	"github.com/Halyard-Systems/halyard-finance/internal/errclass"
	"github.com/Halyard-Systems/halyard-finance/internal/lending"
	"github.com/Halyard-Systems/halyard-finance/internal/oracle"
)

// Action is a user-initiated lending operation.
type Action string

const (
	ActionDeposit  Action = "deposit"
	ActionWithdraw Action = "withdraw"
	ActionBorrow   Action = "borrow"
	ActionRepay    Action = "repay"
)

// Phase tracks where a run is in its lifecycle.
type Phase string

const (
	PhaseIdle               Phase = "idle"
	PhaseApproving          Phase = "approving"
	PhaseApprovalConfirming Phase = "approval_confirming"
	PhasePriceRefreshing    Phase = "price_refreshing"
	PhaseFeeQuoting         Phase = "fee_quoting"
	PhaseSubmitting         Phase = "submitting"
	PhaseConfirming         Phase = "confirming"
	PhaseConfirmed          Phase = "confirmed"
	PhaseFailed             Phase = "failed"
	PhaseDismissed          Phase = "dismissed"
)

// Terminal reports whether the phase ends a run.
func (p Phase) Terminal() bool {
	return p == PhaseConfirmed || p == PhaseFailed || p == PhaseDismissed
}

// ValidationError rejects an intent before any chain interaction happens.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return e.Reason
}

// Intent is everything a run needs to carry an action on chain. The intent
// is retained on the run through failure so callers can resubmit without
// re-entering anything.
type Intent struct {
	Action  Action
	Reserve *lending.ReserveState
	Amount  *big.Int

	// MaxAmount caps the amount when set: deposit against wallet balance,
	// withdraw against the deposited balance, borrow against available
	// capacity, repay against outstanding debt.
	MaxAmount *big.Int

	// Spenders are the contracts that need an ERC20 allowance before the
	// action can execute. Ignored for native reserves.
	Spenders []common.Address

	// FeedIDs are the oracle price feeds refreshed for actions on reserves
	// that require a price proof.
	FeedIDs []string
}

// ChainClient is the slice of the chain gateway a run drives.
type ChainClient interface {
	Sender() common.Address
	CanWrite() bool
	Allowance(ctx context.Context, token common.Address, owner, spender common.Address) (*big.Int, error)
	Approve(ctx context.Context, token, spender common.Address, amount *big.Int) (common.Hash, error)
	Deposit(ctx context.Context, reserve *lending.ReserveState, amount *big.Int) (common.Hash, error)
	Withdraw(ctx context.Context, reserve *lending.ReserveState, amount *big.Int) (common.Hash, error)
	Borrow(ctx context.Context, reserve *lending.ReserveState, amount *big.Int, updateData [][]byte, feedIDs []string, fee *big.Int) (common.Hash, error)
	Repay(ctx context.Context, reserve *lending.ReserveState, amount *big.Int, updateData [][]byte, feedIDs []string, fee *big.Int) (common.Hash, error)
	UpdateFee(ctx context.Context, payloads [][]byte) (*big.Int, error)
	WaitMined(ctx context.Context, hash common.Hash) (*chain.Receipt, error)
}

// Options configures an Orchestrator.
type Options struct {
	Chain  ChainClient
	Oracle oracle.Source

	// AllowSynthetic permits submitting without oracle payloads and with a
	// zero update fee. Development environments only.
	AllowSynthetic bool

	// OnConfirmed is invoked after a run's transaction is mined successfully,
	// so callers can refresh reserve and position state.
	OnConfirmed func(action Action, tokenID common.Hash, txHash common.Hash)

	Logger zerolog.Logger
}

type runKey struct {
	tokenID common.Hash
	action  Action
}

// Orchestrator owns the active runs and serializes them per (token, action).
type Orchestrator struct {
	opts   Options
	logger zerolog.Logger

	mux  sync.Mutex
	runs map[runKey]*Run
}

// New builds an Orchestrator.
func New(opts Options) (*Orchestrator, error) {
	if opts.Chain == nil {
		return nil, errors.New("orchestrator: chain client is required")
	}
	return &Orchestrator{
		opts:   opts,
		logger: opts.Logger.With().Str("component", "orchestrator").Logger(),
		runs:   make(map[runKey]*Run),
	}, nil
}

// Start validates the intent, registers a run, and drives it to a terminal
// phase on the calling goroutine. Use Launch for asynchronous execution.
func (o *Orchestrator) Start(ctx context.Context, intent Intent) (*Run, error) {
	run, err := o.register(ctx, intent)
	if err != nil {
		return nil, err
	}
	o.execute(run)
	return run, nil
}

// Launch is Start with execution on a background goroutine. The returned
// run's Wait method blocks until it reaches a terminal phase.
func (o *Orchestrator) Launch(ctx context.Context, intent Intent) (*Run, error) {
	run, err := o.register(ctx, intent)
	if err != nil {
		return nil, err
	}
	go o.execute(run)
	return run, nil
}

func (o *Orchestrator) register(ctx context.Context, intent Intent) (*Run, error) {
	if err := o.validate(intent); err != nil {
		return nil, err
	}

	key := runKey{tokenID: intent.Reserve.TokenID, action: intent.Action}

	o.mux.Lock()
	defer o.mux.Unlock()

	if existing, ok := o.runs[key]; ok && !existing.Phase().Terminal() {
		return nil, &ValidationError{
			Reason: fmt.Sprintf("a %s for %s is already in progress", intent.Action, intent.Reserve.Symbol),
		}
	}

	runCtx, cancel := context.WithCancel(ctx)
	run := &Run{
		intent: intent,
		phase:  PhaseIdle,
		ctx:    runCtx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	o.runs[key] = run
	return run, nil
}

func (o *Orchestrator) validate(intent Intent) error {
	if intent.Reserve == nil {
		return &ValidationError{Reason: "no reserve selected"}
	}
	if !o.opts.Chain.CanWrite() {
		return &ValidationError{Reason: "no signing key configured"}
	}
	switch intent.Action {
	case ActionDeposit, ActionWithdraw, ActionBorrow, ActionRepay:
	default:
		return &ValidationError{Reason: fmt.Sprintf("unknown action %q", intent.Action)}
	}
	if intent.Amount == nil || intent.Amount.Sign() <= 0 {
		return &ValidationError{Reason: "amount must be greater than zero"}
	}
	if intent.MaxAmount != nil && intent.Amount.Cmp(intent.MaxAmount) > 0 {
		return &ValidationError{Reason: exceededReason(intent.Action)}
	}
	if !intent.Reserve.IsActive {
		return &ValidationError{Reason: fmt.Sprintf("reserve %s is not active", intent.Reserve.Symbol)}
	}
	if o.needsOracle(intent) && len(intent.FeedIDs) == 0 && !o.opts.AllowSynthetic {
		return &ValidationError{Reason: fmt.Sprintf("reserve %s requires a price feed", intent.Reserve.Symbol)}
	}
	return nil
}

func exceededReason(action Action) string {
	switch action {
	case ActionDeposit:
		return "amount exceeds wallet balance"
	case ActionWithdraw:
		return "amount exceeds deposited balance"
	case ActionBorrow:
		return "amount exceeds available borrow capacity"
	case ActionRepay:
		return "amount exceeds outstanding debt"
	}
	return "amount exceeds limit"
}

// needsApproval reports whether the action spends the caller's ERC20 balance
// and therefore requires an allowance. Native reserves attach value instead.
func needsApproval(intent Intent) bool {
	if intent.Reserve.IsNative() {
		return false
	}
	return intent.Action == ActionDeposit || intent.Action == ActionRepay
}

func (o *Orchestrator) needsOracle(intent Intent) bool {
	if intent.Action != ActionBorrow && intent.Action != ActionRepay {
		return false
	}
	return intent.Reserve.RequiresOracle
}

func (o *Orchestrator) execute(run *Run) {
	defer close(run.done)
	defer run.cancel()

	log := o.logger.With().
		Str("action", string(run.intent.Action)).
		Str("symbol", run.intent.Reserve.Symbol).
		Logger()

	txHash, err := o.drive(run, log)
	if err != nil {
		if run.Phase() == PhaseDismissed {
			log.Debug().Msg("run dismissed")
			return
		}
		classified := errclass.ClassifyErr(err)
		run.fail(err, classified)
		log.Warn().Err(err).Str("code", classified.Code).Msg("run failed")
		return
	}

	run.confirm(txHash)
	log.Info().Str("tx", txHash.Hex()).Msg("transaction confirmed")

	if o.opts.OnConfirmed != nil {
		o.opts.OnConfirmed(run.intent.Action, run.intent.Reserve.TokenID, txHash)
	}
}

func (o *Orchestrator) drive(run *Run, log zerolog.Logger) (common.Hash, error) {
	ctx := run.ctx
	intent := run.intent

	if needsApproval(intent) {
		if err := o.ensureAllowances(run, log); err != nil {
			return common.Hash{}, err
		}
	}

	var updates *oracle.UpdateSet
	fee := new(big.Int)

	if o.needsOracle(intent) {
		run.setPhase(PhasePriceRefreshing)
		var err error
		updates, err = o.opts.Oracle.LatestUpdates(ctx, intent.FeedIDs)
		if err != nil {
			return common.Hash{}, fmt.Errorf("refresh prices: %w", err)
		}

		run.setPhase(PhaseFeeQuoting)
		fee, err = o.quoteFee(ctx, updates)
		if err != nil {
			if !o.opts.AllowSynthetic {
				return common.Hash{}, err
			}
			// Synthetic environments degrade to an empty update payload and
			// a zero fee instead of blocking on the quote.
			log.Warn().Err(err).Msg("fee quote unavailable, submitting without oracle payloads")
			updates = nil
			fee = new(big.Int)
		}
		payloadCount := 0
		if updates != nil {
			payloadCount = len(updates.Payloads)
		}
		log.Debug().Str("fee", fee.String()).Int("payloads", payloadCount).Msg("oracle fee resolved")
	}

	run.setPhase(PhaseSubmitting)
	txHash, err := o.submit(ctx, intent, updates, fee)
	if err != nil {
		return common.Hash{}, err
	}
	run.setTx(txHash)
	log.Info().Str("tx", txHash.Hex()).Msg("transaction submitted")

	run.setPhase(PhaseConfirming)
	receipt, err := o.opts.Chain.WaitMined(ctx, txHash)
	if err != nil {
		return common.Hash{}, fmt.Errorf("wait for receipt: %w", err)
	}
	if receipt.Reverted {
		return common.Hash{}, fmt.Errorf("transaction %s reverted", txHash.Hex())
	}
	return txHash, nil
}

// ensureAllowances walks the spenders in order, approving each one whose
// live allowance is below the intent amount. Allowances are re-read at
// execution time rather than trusted from earlier UI state.
func (o *Orchestrator) ensureAllowances(run *Run, log zerolog.Logger) error {
	ctx := run.ctx
	intent := run.intent
	owner := o.opts.Chain.Sender()

	for _, spender := range intent.Spenders {
		allowance, err := o.opts.Chain.Allowance(ctx, intent.Reserve.TokenAddress, owner, spender)
		if err != nil {
			return fmt.Errorf("read allowance for %s: %w", spender.Hex(), err)
		}
		if allowance.Cmp(intent.Amount) >= 0 {
			continue
		}

		run.setPhase(PhaseApproving)
		txHash, err := o.opts.Chain.Approve(ctx, intent.Reserve.TokenAddress, spender, intent.Amount)
		if err != nil {
			return fmt.Errorf("approve %s: %w", spender.Hex(), err)
		}
		log.Debug().Str("spender", spender.Hex()).Str("tx", txHash.Hex()).Msg("approval submitted")

		run.setPhase(PhaseApprovalConfirming)
		receipt, err := o.opts.Chain.WaitMined(ctx, txHash)
		if err != nil {
			return fmt.Errorf("wait for approval: %w", err)
		}
		if receipt.Reverted {
			return fmt.Errorf("approval %s reverted", txHash.Hex())
		}
	}
	return nil
}

// quoteFee asks the oracle contract what the update payloads cost.
func (o *Orchestrator) quoteFee(ctx context.Context, updates *oracle.UpdateSet) (*big.Int, error) {
	if updates == nil || len(updates.Payloads) == 0 {
		return nil, errors.New("no oracle payloads available")
	}
	fee, err := o.opts.Chain.UpdateFee(ctx, updates.Payloads)
	if err != nil {
		return nil, fmt.Errorf("quote update fee: %w", err)
	}
	return fee, nil
}

func (o *Orchestrator) submit(ctx context.Context, intent Intent, updates *oracle.UpdateSet, fee *big.Int) (common.Hash, error) {
	var payloads [][]byte
	if updates != nil {
		payloads = updates.Payloads
	}

	switch intent.Action {
	case ActionDeposit:
		return o.opts.Chain.Deposit(ctx, intent.Reserve, intent.Amount)
	case ActionWithdraw:
		return o.opts.Chain.Withdraw(ctx, intent.Reserve, intent.Amount)
	case ActionBorrow:
		return o.opts.Chain.Borrow(ctx, intent.Reserve, intent.Amount, payloads, intent.FeedIDs, fee)
	case ActionRepay:
		return o.opts.Chain.Repay(ctx, intent.Reserve, intent.Amount, payloads, intent.FeedIDs, fee)
	}
	return common.Hash{}, fmt.Errorf("unknown action %q", intent.Action)
}

// Active returns the non-terminal run for the pair, or nil.
func (o *Orchestrator) Active(tokenID common.Hash, action Action) *Run {
	o.mux.Lock()
	defer o.mux.Unlock()
	run, ok := o.runs[runKey{tokenID: tokenID, action: action}]
	if !ok || run.Phase().Terminal() {
		return nil
	}
	return run
}
