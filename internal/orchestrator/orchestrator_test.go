package orchestrator

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"

	"github.com/Halyard-Systems/halyard-finance/internal/chain"
	"github.com/Halyard-Systems/halyard-finance/internal/lending"
	"github.com/Halyard-Systems/halyard-finance/internal/oracle"
)

type fakeChain struct {
	mux sync.Mutex

	canWrite  bool
	allowance *big.Int
	fee       *big.Int
	reverted  bool

	approveErr error
	submitErr  error
	feeErr     error

	// waitGate, when non-nil, blocks WaitMined until closed or the
	// context is cancelled.
	waitGate chan struct{}

	approveCalls  int
	depositCalls  int
	withdrawCalls int
	borrowCalls   int
	repayCalls    int
	feeCalls      int

	lastFee      *big.Int
	lastPayloads [][]byte
}

func newFakeChain() *fakeChain {
	return &fakeChain{
		canWrite:  true,
		allowance: big.NewInt(0),
		fee:       big.NewInt(0),
	}
}

func (f *fakeChain) Sender() common.Address { return common.HexToAddress("0xabc") }
func (f *fakeChain) CanWrite() bool         { return f.canWrite }

func (f *fakeChain) Allowance(ctx context.Context, token common.Address, owner, spender common.Address) (*big.Int, error) {
	f.mux.Lock()
	defer f.mux.Unlock()
	return new(big.Int).Set(f.allowance), nil
}

func (f *fakeChain) Approve(ctx context.Context, token, spender common.Address, amount *big.Int) (common.Hash, error) {
	f.mux.Lock()
	defer f.mux.Unlock()
	if f.approveErr != nil {
		return common.Hash{}, f.approveErr
	}
	f.approveCalls++
	f.allowance = new(big.Int).Set(amount)
	return common.HexToHash("0x01"), nil
}

func (f *fakeChain) Deposit(ctx context.Context, reserve *lending.ReserveState, amount *big.Int) (common.Hash, error) {
	f.mux.Lock()
	defer f.mux.Unlock()
	if f.submitErr != nil {
		return common.Hash{}, f.submitErr
	}
	f.depositCalls++
	return common.HexToHash("0x02"), nil
}

func (f *fakeChain) Withdraw(ctx context.Context, reserve *lending.ReserveState, amount *big.Int) (common.Hash, error) {
	f.mux.Lock()
	defer f.mux.Unlock()
	f.withdrawCalls++
	return common.HexToHash("0x03"), nil
}

func (f *fakeChain) Borrow(ctx context.Context, reserve *lending.ReserveState, amount *big.Int, updateData [][]byte, feedIDs []string, fee *big.Int) (common.Hash, error) {
	f.mux.Lock()
	defer f.mux.Unlock()
	if f.submitErr != nil {
		return common.Hash{}, f.submitErr
	}
	f.borrowCalls++
	f.lastFee = fee
	f.lastPayloads = updateData
	return common.HexToHash("0x04"), nil
}

func (f *fakeChain) Repay(ctx context.Context, reserve *lending.ReserveState, amount *big.Int, updateData [][]byte, feedIDs []string, fee *big.Int) (common.Hash, error) {
	f.mux.Lock()
	defer f.mux.Unlock()
	f.repayCalls++
	f.lastFee = fee
	f.lastPayloads = updateData
	return common.HexToHash("0x05"), nil
}

func (f *fakeChain) UpdateFee(ctx context.Context, payloads [][]byte) (*big.Int, error) {
	f.mux.Lock()
	defer f.mux.Unlock()
	f.feeCalls++
	if f.feeErr != nil {
		return nil, f.feeErr
	}
	return new(big.Int).Set(f.fee), nil
}

func (f *fakeChain) WaitMined(ctx context.Context, hash common.Hash) (*chain.Receipt, error) {
	if f.waitGate != nil {
		select {
		case <-f.waitGate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return &chain.Receipt{Hash: hash, BlockNumber: 1, Reverted: f.reverted}, nil
}

type fakeSource struct {
	updates *oracle.UpdateSet
	err     error
}

func (f *fakeSource) LatestUpdates(ctx context.Context, feedIDs []string) (*oracle.UpdateSet, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.updates, nil
}

func erc20Reserve() *lending.ReserveState {
	return &lending.ReserveState{
		Symbol:       "USDC",
		TokenID:      common.HexToHash("0xaa"),
		TokenAddress: common.HexToAddress("0x1111"),
		Decimals:     6,
		IsActive:     true,
	}
}

func oracleReserve() *lending.ReserveState {
	r := erc20Reserve()
	r.Symbol = "WETH"
	r.TokenID = common.HexToHash("0xbb")
	r.TokenAddress = common.HexToAddress("0x2222")
	r.RequiresOracle = true
	return r
}

func nativeReserve() *lending.ReserveState {
	return &lending.ReserveState{
		Symbol:   "ETH",
		TokenID:  common.HexToHash("0xcc"),
		Decimals: 18,
		IsActive: true,
	}
}

func newTestOrchestrator(t *testing.T, fc *fakeChain, src oracle.Source, allowSynthetic bool) *Orchestrator {
	t.Helper()
	o, err := New(Options{
		Chain:          fc,
		Oracle:         src,
		AllowSynthetic: allowSynthetic,
		Logger:         zerolog.Nop(),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return o
}

func TestDepositApprovesWhenAllowanceShort(t *testing.T) {
	fc := newFakeChain()
	o := newTestOrchestrator(t, fc, nil, false)

	run, err := o.Start(context.Background(), Intent{
		Action:   ActionDeposit,
		Reserve:  erc20Reserve(),
		Amount:   big.NewInt(1_000_000),
		Spenders: []common.Address{common.HexToAddress("0x9999")},
	})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if got := run.Phase(); got != PhaseConfirmed {
		t.Fatalf("phase = %s, want %s (err: %v)", got, PhaseConfirmed, run.Err())
	}
	if fc.approveCalls != 1 {
		t.Errorf("approve calls = %d, want 1", fc.approveCalls)
	}
	if fc.depositCalls != 1 {
		t.Errorf("deposit calls = %d, want 1", fc.depositCalls)
	}
}

func TestDepositSkipsApprovalWhenAllowanceCovers(t *testing.T) {
	fc := newFakeChain()
	fc.allowance = big.NewInt(2_000_000)
	o := newTestOrchestrator(t, fc, nil, false)

	run, err := o.Start(context.Background(), Intent{
		Action:   ActionDeposit,
		Reserve:  erc20Reserve(),
		Amount:   big.NewInt(1_000_000),
		Spenders: []common.Address{common.HexToAddress("0x9999")},
	})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if run.Phase() != PhaseConfirmed {
		t.Fatalf("phase = %s, want %s", run.Phase(), PhaseConfirmed)
	}
	if fc.approveCalls != 0 {
		t.Errorf("approve calls = %d, want 0", fc.approveCalls)
	}
}

func TestNativeDepositSkipsApproval(t *testing.T) {
	fc := newFakeChain()
	o := newTestOrchestrator(t, fc, nil, false)

	run, err := o.Start(context.Background(), Intent{
		Action:  ActionDeposit,
		Reserve: nativeReserve(),
		Amount:  big.NewInt(1e15),
	})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if run.Phase() != PhaseConfirmed {
		t.Fatalf("phase = %s, want %s", run.Phase(), PhaseConfirmed)
	}
	if fc.approveCalls != 0 {
		t.Errorf("approve calls = %d, want 0", fc.approveCalls)
	}
}

func TestBorrowRefreshesPricesAndQuotesFee(t *testing.T) {
	fc := newFakeChain()
	fc.fee = big.NewInt(42)
	src := &fakeSource{updates: &oracle.UpdateSet{
		Quotes:   map[string]oracle.PriceQuote{},
		Payloads: [][]byte{{0xde, 0xad}},
	}}
	o := newTestOrchestrator(t, fc, src, false)

	run, err := o.Start(context.Background(), Intent{
		Action:  ActionBorrow,
		Reserve: oracleReserve(),
		Amount:  big.NewInt(1e18),
		FeedIDs: []string{"ff61491a931112ddf1bd8147cd1b641375f79f5825126d665480874634fd0ace"},
	})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if run.Phase() != PhaseConfirmed {
		t.Fatalf("phase = %s, want %s (err: %v)", run.Phase(), PhaseConfirmed, run.Err())
	}
	if fc.feeCalls != 1 {
		t.Errorf("fee calls = %d, want 1", fc.feeCalls)
	}
	if fc.lastFee == nil || fc.lastFee.Int64() != 42 {
		t.Errorf("fee passed to borrow = %v, want 42", fc.lastFee)
	}
	if len(fc.lastPayloads) != 1 {
		t.Errorf("payloads passed = %d, want 1", len(fc.lastPayloads))
	}
}

func TestBorrowWithoutPayloadsRequiresSynthetic(t *testing.T) {
	fc := newFakeChain()
	src := &fakeSource{updates: &oracle.UpdateSet{Quotes: map[string]oracle.PriceQuote{}}}

	o := newTestOrchestrator(t, fc, src, false)
	run, err := o.Start(context.Background(), Intent{
		Action:  ActionBorrow,
		Reserve: oracleReserve(),
		Amount:  big.NewInt(1e18),
		FeedIDs: []string{"aa"},
	})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if run.Phase() != PhaseFailed {
		t.Fatalf("phase = %s, want %s", run.Phase(), PhaseFailed)
	}

	o = newTestOrchestrator(t, fc, src, true)
	run, err = o.Start(context.Background(), Intent{
		Action:  ActionBorrow,
		Reserve: oracleReserve(),
		Amount:  big.NewInt(1e18),
		FeedIDs: []string{"aa"},
	})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if run.Phase() != PhaseConfirmed {
		t.Fatalf("phase = %s, want %s (err: %v)", run.Phase(), PhaseConfirmed, run.Err())
	}
	if fc.lastFee == nil || fc.lastFee.Sign() != 0 {
		t.Errorf("fallback fee = %v, want 0", fc.lastFee)
	}
}

func TestOverlappingIntentsRejected(t *testing.T) {
	fc := newFakeChain()
	fc.waitGate = make(chan struct{})
	o := newTestOrchestrator(t, fc, nil, false)

	first, err := o.Launch(context.Background(), Intent{
		Action:  ActionWithdraw,
		Reserve: erc20Reserve(),
		Amount:  big.NewInt(100),
	})
	if err != nil {
		t.Fatalf("Launch: %v", err)
	}

	_, err = o.Start(context.Background(), Intent{
		Action:  ActionWithdraw,
		Reserve: erc20Reserve(),
		Amount:  big.NewInt(200),
	})
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("second start error = %v, want ValidationError", err)
	}

	close(fc.waitGate)
	if got := first.Wait(); got != PhaseConfirmed {
		t.Fatalf("first run phase = %s, want %s", got, PhaseConfirmed)
	}

	// Terminal runs free the slot.
	run, err := o.Start(context.Background(), Intent{
		Action:  ActionWithdraw,
		Reserve: erc20Reserve(),
		Amount:  big.NewInt(200),
	})
	if err != nil {
		t.Fatalf("restart after terminal: %v", err)
	}
	if run.Phase() != PhaseConfirmed {
		t.Fatalf("phase = %s, want %s", run.Phase(), PhaseConfirmed)
	}
}

func TestDismissDetachesWithoutFailing(t *testing.T) {
	fc := newFakeChain()
	fc.waitGate = make(chan struct{})
	o := newTestOrchestrator(t, fc, nil, false)

	run, err := o.Launch(context.Background(), Intent{
		Action:  ActionDeposit,
		Reserve: nativeReserve(),
		Amount:  big.NewInt(1e15),
	})
	if err != nil {
		t.Fatalf("Launch: %v", err)
	}

	run.Dismiss()
	if got := run.Wait(); got != PhaseDismissed {
		t.Fatalf("phase = %s, want %s", got, PhaseDismissed)
	}
	if run.Err() != nil {
		t.Errorf("dismissed run err = %v, want nil", run.Err())
	}
}

func waitForPhase(t *testing.T, run *Run, want Phase) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for run.Phase() != want {
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for phase %s, still at %s", want, run.Phase())
		case <-time.After(time.Millisecond):
		}
	}
}

func TestDismissDuringApprovalSkipsSubmission(t *testing.T) {
	fc := newFakeChain()
	fc.waitGate = make(chan struct{})
	o := newTestOrchestrator(t, fc, nil, false)

	run, err := o.Launch(context.Background(), Intent{
		Action:   ActionDeposit,
		Reserve:  erc20Reserve(),
		Amount:   big.NewInt(1_000_000),
		Spenders: []common.Address{common.HexToAddress("0x9999")},
	})
	if err != nil {
		t.Fatalf("Launch: %v", err)
	}

	// Allowance starts at zero, so the run submits an approval and blocks
	// on its receipt.
	waitForPhase(t, run, PhaseApprovalConfirming)

	run.Dismiss()
	if got := run.Wait(); got != PhaseDismissed {
		t.Fatalf("phase = %s, want %s", got, PhaseDismissed)
	}
	if fc.approveCalls != 1 {
		t.Errorf("approve calls = %d, want 1", fc.approveCalls)
	}
	if fc.depositCalls != 0 {
		t.Errorf("deposit calls = %d, want 0 after dismissal", fc.depositCalls)
	}
	if run.Err() != nil {
		t.Errorf("dismissed run err = %v, want nil", run.Err())
	}
}

func TestFeeQuoteFailureFallsBackWhenSynthetic(t *testing.T) {
	src := &fakeSource{updates: &oracle.UpdateSet{
		Quotes:   map[string]oracle.PriceQuote{},
		Payloads: [][]byte{{0xbe, 0xef}},
	}}
	intent := Intent{
		Action:  ActionBorrow,
		Reserve: oracleReserve(),
		Amount:  big.NewInt(1e18),
		FeedIDs: []string{"aa"},
	}

	fc := newFakeChain()
	fc.feeErr = errors.New("execution reverted")
	o := newTestOrchestrator(t, fc, src, false)
	run, err := o.Start(context.Background(), intent)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if run.Phase() != PhaseFailed {
		t.Fatalf("phase = %s, want %s", run.Phase(), PhaseFailed)
	}
	if fc.borrowCalls != 0 {
		t.Errorf("borrow calls = %d, want 0 when the fee quote is fatal", fc.borrowCalls)
	}

	fc = newFakeChain()
	fc.feeErr = errors.New("execution reverted")
	o = newTestOrchestrator(t, fc, src, true)
	run, err = o.Start(context.Background(), intent)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if run.Phase() != PhaseConfirmed {
		t.Fatalf("phase = %s, want %s (err: %v)", run.Phase(), PhaseConfirmed, run.Err())
	}
	if fc.lastFee == nil || fc.lastFee.Sign() != 0 {
		t.Errorf("fallback fee = %v, want 0", fc.lastFee)
	}
	if len(fc.lastPayloads) != 0 {
		t.Errorf("fallback payloads = %d, want none", len(fc.lastPayloads))
	}
}

func TestFailedRunPreservesIntentAndClassifies(t *testing.T) {
	fc := newFakeChain()
	fc.submitErr = errors.New("execution reverted: insufficient collateral")
	o := newTestOrchestrator(t, fc, nil, false)

	amount := big.NewInt(5_000_000)
	run, err := o.Start(context.Background(), Intent{
		Action:  ActionDeposit,
		Reserve: nativeReserve(),
		Amount:  amount,
	})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if run.Phase() != PhaseFailed {
		t.Fatalf("phase = %s, want %s", run.Phase(), PhaseFailed)
	}
	if run.Classified().Code != "insufficient_collateral" {
		t.Errorf("code = %q, want insufficient_collateral", run.Classified().Code)
	}
	if run.Intent().Amount.Cmp(amount) != 0 {
		t.Errorf("intent amount lost on failure")
	}
}

func TestRevertedReceiptFailsRun(t *testing.T) {
	fc := newFakeChain()
	fc.reverted = true
	o := newTestOrchestrator(t, fc, nil, false)

	run, err := o.Start(context.Background(), Intent{
		Action:  ActionWithdraw,
		Reserve: erc20Reserve(),
		Amount:  big.NewInt(100),
	})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if run.Phase() != PhaseFailed {
		t.Fatalf("phase = %s, want %s", run.Phase(), PhaseFailed)
	}
}

func TestOnConfirmedFiresAfterReceipt(t *testing.T) {
	fc := newFakeChain()
	var gotAction Action
	var gotToken common.Hash
	o, err := New(Options{
		Chain:  fc,
		Logger: zerolog.Nop(),
		OnConfirmed: func(action Action, tokenID common.Hash, txHash common.Hash) {
			gotAction = action
			gotToken = tokenID
		},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	reserve := nativeReserve()
	run, err := o.Start(context.Background(), Intent{
		Action:  ActionDeposit,
		Reserve: reserve,
		Amount:  big.NewInt(1e15),
	})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if run.Phase() != PhaseConfirmed {
		t.Fatalf("phase = %s, want %s", run.Phase(), PhaseConfirmed)
	}
	if gotAction != ActionDeposit || gotToken != reserve.TokenID {
		t.Errorf("callback got (%s, %s)", gotAction, gotToken.Hex())
	}
}

func TestValidationRejections(t *testing.T) {
	fc := newFakeChain()
	o := newTestOrchestrator(t, fc, nil, false)

	cases := []struct {
		name   string
		intent Intent
	}{
		{"zero amount", Intent{Action: ActionDeposit, Reserve: erc20Reserve(), Amount: big.NewInt(0)}},
		{"negative amount", Intent{Action: ActionDeposit, Reserve: erc20Reserve(), Amount: big.NewInt(-1)}},
		{"nil amount", Intent{Action: ActionDeposit, Reserve: erc20Reserve()}},
		{"nil reserve", Intent{Action: ActionDeposit, Amount: big.NewInt(1)}},
		{"unknown action", Intent{Action: Action("liquidate"), Reserve: erc20Reserve(), Amount: big.NewInt(1)}},
		{"over max", Intent{Action: ActionWithdraw, Reserve: erc20Reserve(), Amount: big.NewInt(10), MaxAmount: big.NewInt(5)}},
		{"inactive reserve", Intent{Action: ActionDeposit, Reserve: &lending.ReserveState{Symbol: "X", IsActive: false}, Amount: big.NewInt(1)}},
		{"oracle reserve without feeds", Intent{Action: ActionBorrow, Reserve: oracleReserve(), Amount: big.NewInt(1)}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := o.Start(context.Background(), tc.intent)
			var verr *ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("err = %v, want ValidationError", err)
			}
		})
	}
}

func TestNoSignerRejected(t *testing.T) {
	fc := newFakeChain()
	fc.canWrite = false
	o := newTestOrchestrator(t, fc, nil, false)

	_, err := o.Start(context.Background(), Intent{
		Action:  ActionDeposit,
		Reserve: erc20Reserve(),
		Amount:  big.NewInt(1),
	})
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("err = %v, want ValidationError", err)
	}
}
