package chain

import (
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// Minimal ABI surfaces for the settlement and oracle contracts. Only the
// functions this client calls are declared.
const (
	depositManagerABIJSON = `[
{"inputs":[],"name":"RAY","outputs":[{"internalType":"uint256","name":"","type":"uint256"}],"stateMutability":"view","type":"function"},
{"inputs":[],"name":"getSupportedTokens","outputs":[{"internalType":"bytes32[]","name":"","type":"bytes32[]"}],"stateMutability":"view","type":"function"},
{"inputs":[{"internalType":"bytes32","name":"tokenId","type":"bytes32"}],"name":"getAsset","outputs":[{"components":[
{"internalType":"address","name":"tokenAddress","type":"address"},
{"internalType":"string","name":"symbol","type":"string"},
{"internalType":"uint8","name":"decimals","type":"uint8"},
{"internalType":"bool","name":"isActive","type":"bool"},
{"internalType":"uint256","name":"liquidityIndex","type":"uint256"},
{"internalType":"uint256","name":"lastUpdateTimestamp","type":"uint256"},
{"internalType":"uint256","name":"totalScaledSupply","type":"uint256"},
{"internalType":"uint256","name":"totalBorrowsScaled","type":"uint256"},
{"internalType":"uint256","name":"baseRate","type":"uint256"},
{"internalType":"uint256","name":"slope1","type":"uint256"},
{"internalType":"uint256","name":"slope2","type":"uint256"},
{"internalType":"uint256","name":"kink","type":"uint256"},
{"internalType":"uint256","name":"reserveFactor","type":"uint256"}],
"internalType":"struct DepositManager.Asset","name":"","type":"tuple"}],"stateMutability":"view","type":"function"},
{"inputs":[{"internalType":"bytes32","name":"tokenId","type":"bytes32"},{"internalType":"address","name":"user","type":"address"}],"name":"balanceOf","outputs":[{"internalType":"uint256","name":"","type":"uint256"}],"stateMutability":"view","type":"function"},
{"inputs":[{"internalType":"bytes32","name":"tokenId","type":"bytes32"},{"internalType":"uint256","name":"amount","type":"uint256"}],"name":"deposit","outputs":[],"stateMutability":"payable","type":"function"},
{"inputs":[{"internalType":"bytes32","name":"tokenId","type":"bytes32"},{"internalType":"uint256","name":"amount","type":"uint256"}],"name":"withdraw","outputs":[],"stateMutability":"nonpayable","type":"function"}
]`

	borrowManagerABIJSON = `[
{"inputs":[{"internalType":"bytes32","name":"tokenId","type":"bytes32"}],"name":"borrowIndex","outputs":[{"internalType":"uint256","name":"","type":"uint256"}],"stateMutability":"view","type":"function"},
{"inputs":[{"internalType":"bytes32","name":"tokenId","type":"bytes32"},{"internalType":"address","name":"user","type":"address"}],"name":"userBorrowScaled","outputs":[{"internalType":"uint256","name":"","type":"uint256"}],"stateMutability":"view","type":"function"},
{"inputs":[{"internalType":"bytes32","name":"tokenId","type":"bytes32"},{"internalType":"uint256","name":"amount","type":"uint256"},{"internalType":"bytes[]","name":"priceUpdateData","type":"bytes[]"},{"internalType":"bytes32[]","name":"priceIds","type":"bytes32[]"}],"name":"borrow","outputs":[],"stateMutability":"payable","type":"function"},
{"inputs":[{"internalType":"bytes32","name":"tokenId","type":"bytes32"},{"internalType":"uint256","name":"amount","type":"uint256"},{"internalType":"bytes[]","name":"priceUpdateData","type":"bytes[]"},{"internalType":"bytes32[]","name":"priceIds","type":"bytes32[]"}],"name":"repay","outputs":[],"stateMutability":"payable","type":"function"}
]`

	erc20ABIJSON = `[
{"inputs":[{"internalType":"address","name":"owner","type":"address"}],"name":"balanceOf","outputs":[{"internalType":"uint256","name":"","type":"uint256"}],"stateMutability":"view","type":"function"},
{"inputs":[{"internalType":"address","name":"owner","type":"address"},{"internalType":"address","name":"spender","type":"address"}],"name":"allowance","outputs":[{"internalType":"uint256","name":"","type":"uint256"}],"stateMutability":"view","type":"function"},
{"inputs":[{"internalType":"address","name":"spender","type":"address"},{"internalType":"uint256","name":"amount","type":"uint256"}],"name":"approve","outputs":[{"internalType":"bool","name":"","type":"bool"}],"stateMutability":"nonpayable","type":"function"}
]`

	pythABIJSON = `[
{"inputs":[{"internalType":"bytes[]","name":"updateData","type":"bytes[]"}],"name":"getUpdateFee","outputs":[{"internalType":"uint256","name":"feeAmount","type":"uint256"}],"stateMutability":"view","type":"function"},
{"inputs":[{"internalType":"bytes32","name":"id","type":"bytes32"},{"internalType":"int64","name":"price","type":"int64"},{"internalType":"uint64","name":"conf","type":"uint64"},{"internalType":"int32","name":"expo","type":"int32"},{"internalType":"int64","name":"emaPrice","type":"int64"},{"internalType":"uint64","name":"emaConf","type":"uint64"},{"internalType":"uint64","name":"publishTime","type":"uint64"},{"internalType":"uint64","name":"prevPublishTime","type":"uint64"}],"name":"createPriceFeedUpdateData","outputs":[{"internalType":"bytes","name":"priceFeedData","type":"bytes"}],"stateMutability":"view","type":"function"}
]`
)

var (
	depositManagerABI abi.ABI
	borrowManagerABI  abi.ABI
	erc20ABI          abi.ABI
	pythABI           abi.ABI
)

func init() {
	for _, def := range []struct {
		json string
		dst  *abi.ABI
	}{
		{depositManagerABIJSON, &depositManagerABI},
		{borrowManagerABIJSON, &borrowManagerABI},
		{erc20ABIJSON, &erc20ABI},
		{pythABIJSON, &pythABI},
	} {
		parsed, err := abi.JSON(strings.NewReader(def.json))
		if err != nil {
			panic("failed to parse contract ABI: " + err.Error())
		}
		*def.dst = parsed
	}
}
