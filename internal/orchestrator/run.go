package orchestrator

import (
	"context"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/Halyard-Systems/halyard-finance/internal/errclass"
)

// Run is one transaction moving through its lifecycle. All accessors are
// safe to call from other goroutines while the run executes.
type Run struct {
	intent Intent

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	mux        sync.Mutex
	phase      Phase
	txHash     common.Hash
	err        error
	classified errclass.Classified
}

// Intent returns the intent the run was started with. It is retained
// through failure so a resubmission needs no re-entry.
func (r *Run) Intent() Intent {
	return r.intent
}

// Phase returns the run's current phase.
func (r *Run) Phase() Phase {
	r.mux.Lock()
	defer r.mux.Unlock()
	return r.phase
}

// TxHash returns the submitted transaction hash, zero until submission.
func (r *Run) TxHash() common.Hash {
	r.mux.Lock()
	defer r.mux.Unlock()
	return r.txHash
}

// Err returns the underlying error for a failed run.
func (r *Run) Err() error {
	r.mux.Lock()
	defer r.mux.Unlock()
	return r.err
}

// Classified returns the user-facing classification of a failed run.
func (r *Run) Classified() errclass.Classified {
	r.mux.Lock()
	defer r.mux.Unlock()
	return r.classified
}

// Wait blocks until the run reaches a terminal phase and returns it.
func (r *Run) Wait() Phase {
	<-r.done
	return r.Phase()
}

// Dismiss detaches from the run. Any in-flight chain call is cancelled and
// the run ends in the dismissed phase rather than failed. Dismissing a run
// that already finished is a no-op.
func (r *Run) Dismiss() {
	r.mux.Lock()
	if r.phase.Terminal() {
		r.mux.Unlock()
		return
	}
	r.phase = PhaseDismissed
	r.mux.Unlock()
	r.cancel()
}

func (r *Run) setPhase(p Phase) {
	r.mux.Lock()
	defer r.mux.Unlock()
	if r.phase.Terminal() {
		return
	}
	r.phase = p
}

func (r *Run) setTx(txHash common.Hash) {
	r.mux.Lock()
	defer r.mux.Unlock()
	r.txHash = txHash
}

func (r *Run) confirm(txHash common.Hash) {
	r.mux.Lock()
	defer r.mux.Unlock()
	if r.phase.Terminal() {
		return
	}
	r.txHash = txHash
	r.phase = PhaseConfirmed
}

func (r *Run) fail(err error, classified errclass.Classified) {
	r.mux.Lock()
	defer r.mux.Unlock()
	if r.phase.Terminal() {
		return
	}
	r.err = err
	r.classified = classified
	r.phase = PhaseFailed
}
