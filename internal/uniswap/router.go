package uniswap

import (
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// Uniswap V2 deployment on the Holesky testnet.
var (
	DefaultRouter  = common.HexToAddress("0x7a250d5630B4cF539739dF2C5dAcb4c659F2488D")
	DefaultFactory = common.HexToAddress("0x5C69bEe701ef814a2B6a3EDD4B1652CB9cc5aA6f")
	WETH           = common.HexToAddress("0xdA87DBE6813b8757Ec52fC4275E2D67d5e9e6D06")
	DAI            = common.HexToAddress("0xc1E1E89F2C8A7ccc7a3b7883e77361D9fB0B3842")
)

// routerABIJSON carries only the router surface this system touches: the two
// exact-input swap variants we replicate and the quote helper used for
// min-out protection.
const routerABIJSON = `[
  {"name":"swapExactTokensForTokens","type":"function","inputs":[
    {"name":"amountIn","type":"uint256"},
    {"name":"amountOutMin","type":"uint256"},
    {"name":"path","type":"address[]"},
    {"name":"to","type":"address"},
    {"name":"deadline","type":"uint256"}],
   "outputs":[{"name":"amounts","type":"uint256[]"}]},
  {"name":"swapExactETHForTokens","type":"function","stateMutability":"payable","inputs":[
    {"name":"amountOutMin","type":"uint256"},
    {"name":"path","type":"address[]"},
    {"name":"to","type":"address"},
    {"name":"deadline","type":"uint256"}],
   "outputs":[{"name":"amounts","type":"uint256[]"}]},
  {"name":"getAmountsOut","type":"function","stateMutability":"view","inputs":[
    {"name":"amountIn","type":"uint256"},
    {"name":"path","type":"address[]"}],
   "outputs":[{"name":"amounts","type":"uint256[]"}]}
]`

var routerABI = mustParseABI(routerABIJSON)

func mustParseABI(raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic("uniswap: bad embedded ABI: " + err.Error())
	}
	return parsed
}
