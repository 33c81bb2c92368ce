package chain

import (
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/rs/zerolog"
)

func TestParsedABIsExposeExpectedMethods(t *testing.T) {
	cases := []struct {
		name    string
		methods []string
	}{
		{"DepositManager", []string{"RAY", "getSupportedTokens", "getAsset", "balanceOf", "deposit", "withdraw"}},
		{"BorrowManager", []string{"borrowIndex", "userBorrowScaled", "borrow", "repay"}},
		{"ERC20", []string{"balanceOf", "allowance", "approve"}},
		{"Pyth", []string{"getUpdateFee", "createPriceFeedUpdateData"}},
	}

	parsed := map[string]abi.ABI{
		"DepositManager": depositManagerABI,
		"BorrowManager":  borrowManagerABI,
		"ERC20":          erc20ABI,
		"Pyth":           pythABI,
	}

	for _, tc := range cases {
		contract := parsed[tc.name]
		for _, m := range tc.methods {
			if _, ok := contract.Methods[m]; !ok {
				t.Errorf("%s ABI missing method %s", tc.name, m)
			}
		}
	}
}

func TestNewRejectsMissingConfig(t *testing.T) {
	_, err := New(Options{}, zerolog.Nop())
	if err == nil {
		t.Fatal("expected error for missing rpc url")
	}

	_, err = New(Options{RPCURL: "http://localhost:8545"}, zerolog.Nop())
	if err == nil {
		t.Fatal("expected error for missing manager addresses")
	}
}

func TestNewDerivesSenderFromPrivateKey(t *testing.T) {
	gw, err := New(Options{
		RPCURL:         "http://localhost:8545",
		DepositManager: "0x0000000000000000000000000000000000000001",
		BorrowManager:  "0x0000000000000000000000000000000000000002",
		PrivateKey:     "0xac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80",
	}, zerolog.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if !gw.CanWrite() {
		t.Error("CanWrite = false with key configured")
	}
	want := "0xf39fd6e51aad88f6f4ce6ab8827279cfffb92266"
	if got := strings.ToLower(gw.Sender().Hex()); got != want {
		t.Errorf("sender = %s, want %s", got, want)
	}
}

func TestNewWithoutKeyIsReadOnly(t *testing.T) {
	gw, err := New(Options{
		RPCURL:         "http://localhost:8545",
		DepositManager: "0x0000000000000000000000000000000000000001",
		BorrowManager:  "0x0000000000000000000000000000000000000002",
		Account:        "0x0000000000000000000000000000000000000003",
	}, zerolog.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if gw.CanWrite() {
		t.Error("CanWrite = true without key")
	}
}

func TestFeedHashesPadsAndParses(t *testing.T) {
	ids := []string{
		"0xff61491a931112ddf1bd8147cd1b641375f79f5825126d665480874634fd0ace",
		"ff61491a931112ddf1bd8147cd1b641375f79f5825126d665480874634fd0ace",
	}
	hashes := feedHashes(ids)
	if len(hashes) != 2 {
		t.Fatalf("got %d hashes", len(hashes))
	}
	if hashes[0] != hashes[1] {
		t.Error("0x prefix should not change the hash")
	}
}
