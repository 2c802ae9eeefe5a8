package uniswap

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

var (
	erc20BalanceOfSelector = crypto.Keccak256([]byte("balanceOf(address)"))[:4]
	erc20AllowanceSelector = crypto.Keccak256([]byte("allowance(address,address)"))[:4]
	erc20ApproveSelector   = crypto.Keccak256([]byte("approve(address,uint256)"))[:4]
)

// SwapCalldata packs a swapExactTokensForTokens call. Replicas always take
// the direct [tokenIn, tokenOut] route regardless of the leader's hops.
func SwapCalldata(amountIn, amountOutMin *big.Int, path []common.Address, to common.Address, deadline *big.Int) ([]byte, error) {
	if amountIn == nil || amountIn.Sign() <= 0 {
		return nil, fmt.Errorf("uniswap: amountIn must be positive")
	}
	if amountOutMin == nil {
		amountOutMin = new(big.Int)
	}
	if len(path) < 2 {
		return nil, fmt.Errorf("uniswap: path needs at least 2 hops, got %d", len(path))
	}
	if deadline == nil || deadline.Sign() <= 0 {
		return nil, fmt.Errorf("uniswap: deadline required")
	}
	return routerABI.Pack("swapExactTokensForTokens", amountIn, amountOutMin, path, to, deadline)
}

// QuoteCalldata packs a getAmountsOut call for min-out protection.
func QuoteCalldata(amountIn *big.Int, path []common.Address) ([]byte, error) {
	if amountIn == nil || amountIn.Sign() <= 0 {
		return nil, fmt.Errorf("uniswap: amountIn must be positive")
	}
	if len(path) < 2 {
		return nil, fmt.Errorf("uniswap: path needs at least 2 hops, got %d", len(path))
	}
	return routerABI.Pack("getAmountsOut", amountIn, path)
}

// UnpackQuote decodes a getAmountsOut return and yields the final-hop amount.
func UnpackQuote(out []byte) (*big.Int, error) {
	vals, err := routerABI.Unpack("getAmountsOut", out)
	if err != nil {
		return nil, fmt.Errorf("uniswap: unpack getAmountsOut: %w", err)
	}
	if len(vals) != 1 {
		return nil, fmt.Errorf("uniswap: getAmountsOut returned %d values", len(vals))
	}
	amounts, ok := vals[0].([]*big.Int)
	if !ok || len(amounts) < 2 {
		return nil, fmt.Errorf("uniswap: getAmountsOut shape unexpected")
	}
	last := amounts[len(amounts)-1]
	if last == nil {
		return nil, fmt.Errorf("uniswap: nil quote amount")
	}
	return new(big.Int).Set(last), nil
}

// ERC20 calls are built from raw selectors; the three calls used here are
// fixed-shape enough that a full ABI buys nothing.

func BalanceOfCalldata(owner common.Address) []byte {
	data := make([]byte, 0, 4+32)
	data = append(data, erc20BalanceOfSelector...)
	data = append(data, common.LeftPadBytes(owner.Bytes(), 32)...)
	return data
}

func AllowanceCalldata(owner, spender common.Address) []byte {
	data := make([]byte, 0, 4+32+32)
	data = append(data, erc20AllowanceSelector...)
	data = append(data, common.LeftPadBytes(owner.Bytes(), 32)...)
	data = append(data, common.LeftPadBytes(spender.Bytes(), 32)...)
	return data
}

func ApproveCalldata(spender common.Address, amount *big.Int) ([]byte, error) {
	if amount == nil || amount.Sign() < 0 {
		return nil, fmt.Errorf("uniswap: approve amount must be non-negative")
	}
	data := make([]byte, 0, 4+32+32)
	data = append(data, erc20ApproveSelector...)
	data = append(data, common.LeftPadBytes(spender.Bytes(), 32)...)
	data = append(data, common.LeftPadBytes(amount.Bytes(), 32)...)
	return data, nil
}

// UnpackUint256 decodes a single uint256 call result (balanceOf/allowance).
func UnpackUint256(out []byte) (*big.Int, error) {
	if len(out) == 0 {
		return nil, fmt.Errorf("uniswap: empty call result")
	}
	return new(big.Int).SetBytes(out), nil
}
