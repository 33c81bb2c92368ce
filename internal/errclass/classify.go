// Package errclass maps raw provider and contract failure text onto a stable
// user-facing taxonomy. Raw error strings are never shown verbatim.
package errclass

import "strings"

// Classified is the user-facing rendering of a raw failure.
type Classified struct {
	// Code is a stable machine identifier for auditing and tests.
	Code string
	// Message is short, actionable text safe to display.
	Message string
}

// entry pairs match patterns with one classified outcome. The table is data:
// extending coverage means adding a row, not touching callers. First matching
// row wins and matching is case-insensitive.
type entry struct {
	patterns []string
	code     string
	message  string
}

var table = []entry{
	{
		patterns: []string{"insufficient collateral", "collateral ratio", "health factor"},
		code:     "insufficient_collateral",
		message:  "Not enough collateral for this borrow. Deposit more or borrow less.",
	},
	{
		patterns: []string{"insufficient liquidity", "not enough liquidity", "exceeds available"},
		code:     "insufficient_liquidity",
		message:  "The reserve does not hold enough liquidity right now. Try a smaller amount.",
	},
	{
		patterns: []string{"stale price", "staleprice", "price too old", "0x19abf40e"},
		code:     "stale_price",
		message:  "The price feed is out of date. Refresh and try again.",
	},
	{
		patterns: []string{"insufficient allowance", "transfer amount exceeds allowance", "erc20: insufficient allowance"},
		code:     "insufficient_allowance",
		message:  "Token approval is missing or too low. Approve the amount first.",
	},
	{
		patterns: []string{"insufficient funds", "transfer amount exceeds balance", "insufficient balance"},
		code:     "insufficient_funds",
		message:  "Wallet balance is too low to cover this amount plus gas.",
	},
	{
		patterns: []string{"user rejected", "user denied", "rejected the request"},
		code:     "user_rejected",
		message:  "The transaction was rejected in the wallet.",
	},
	{
		patterns: []string{"paused", "pausable: paused"},
		code:     "paused",
		message:  "The protocol is paused. No transactions are accepted right now.",
	},
	{
		patterns: []string{"reentrancy", "reentrant call"},
		code:     "reentrancy",
		message:  "The contract rejected the call. Wait for pending transactions to settle.",
	},
	{
		patterns: []string{"nonce too low", "nonce too high", "replacement transaction underpriced", "already known"},
		code:     "nonce",
		message:  "A pending transaction is in the way. Wait for it to confirm and retry.",
	},
	{
		patterns: []string{"cannot estimate gas", "gas required exceeds", "intrinsic gas too low", "out of gas"},
		code:     "gas_estimation",
		message:  "Gas estimation failed; the transaction would likely revert. Check the amount.",
	},
	{
		patterns: []string{"update fee", "insufficient fee"},
		code:     "oracle_fee",
		message:  "The oracle update fee was not covered. Retry to requote the fee.",
	},
	{
		patterns: []string{"deadline", "timed out", "timeout"},
		code:     "timeout",
		message:  "The request timed out. Check your connection and retry.",
	},
}

const (
	fallbackCode    = "unknown"
	fallbackMessage = "Transaction failed. Please try again."
)

// Classify maps raw failure text to a classified message. Unmatched input
// falls through to a generic retry message.
func Classify(raw string) Classified {
	lowered := strings.ToLower(raw)
	for _, e := range table {
		for _, p := range e.patterns {
			if strings.Contains(lowered, p) {
				return Classified{Code: e.code, Message: e.message}
			}
		}
	}
	return Classified{Code: fallbackCode, Message: fallbackMessage}
}

// ClassifyErr is Classify for error values; nil yields a zero Classified.
func ClassifyErr(err error) Classified {
	if err == nil {
		return Classified{}
	}
	return Classify(err.Error())
}
