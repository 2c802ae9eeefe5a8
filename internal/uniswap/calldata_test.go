package uniswap

import (
	"bytes"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

func TestSwapCalldataRoundTrip(t *testing.T) {
	amountIn := big.NewInt(10)
	minOut := big.NewInt(7)
	path := []common.Address{tokenA, tokenB}
	to := testTo
	deadline := big.NewInt(1_900_000_000)

	data, err := SwapCalldata(amountIn, minOut, path, to, deadline)
	if err != nil {
		t.Fatalf("swap calldata: %v", err)
	}

	method, err := routerABI.MethodById(data[:4])
	if err != nil {
		t.Fatalf("method by id: %v", err)
	}
	if method.Name != "swapExactTokensForTokens" {
		t.Fatalf("wrong method %q", method.Name)
	}
	args, err := method.Inputs.Unpack(data[4:])
	if err != nil {
		t.Fatalf("unpack: %v", err)
	}
	if got := args[0].(*big.Int); got.Cmp(amountIn) != 0 {
		t.Fatalf("amountIn: got %s", got)
	}
	if got := args[1].(*big.Int); got.Cmp(minOut) != 0 {
		t.Fatalf("amountOutMin: got %s", got)
	}
	if got := args[2].([]common.Address); len(got) != 2 || got[0] != tokenA || got[1] != tokenB {
		t.Fatalf("path: got %v", got)
	}
	if got := args[3].(common.Address); got != to {
		t.Fatalf("to: got %s", got.Hex())
	}
}

func TestSwapCalldataRejectsBadInputs(t *testing.T) {
	path := []common.Address{tokenA, tokenB}
	if _, err := SwapCalldata(big.NewInt(0), nil, path, testTo, big.NewInt(1)); err == nil {
		t.Fatalf("zero amountIn accepted")
	}
	if _, err := SwapCalldata(big.NewInt(1), nil, []common.Address{tokenA}, testTo, big.NewInt(1)); err == nil {
		t.Fatalf("single-hop path accepted")
	}
	if _, err := SwapCalldata(big.NewInt(1), nil, path, testTo, nil); err == nil {
		t.Fatalf("nil deadline accepted")
	}
}

func TestApproveCalldataLayout(t *testing.T) {
	spender := testTo
	amount := big.NewInt(123_456)

	data, err := ApproveCalldata(spender, amount)
	if err != nil {
		t.Fatalf("approve calldata: %v", err)
	}
	if len(data) != 4+32+32 {
		t.Fatalf("length: got %d", len(data))
	}
	if !bytes.Equal(data[:4], erc20ApproveSelector) {
		t.Fatalf("selector mismatch")
	}
	if !bytes.Equal(data[4:36], common.LeftPadBytes(spender.Bytes(), 32)) {
		t.Fatalf("spender word mismatch")
	}
	if !bytes.Equal(data[36:], common.LeftPadBytes(amount.Bytes(), 32)) {
		t.Fatalf("amount word mismatch")
	}
}

func TestBalanceAndAllowanceCalldata(t *testing.T) {
	owner := testLeader
	spender := testTo

	bal := BalanceOfCalldata(owner)
	if !bytes.Equal(bal[:4], erc20BalanceOfSelector) || len(bal) != 36 {
		t.Fatalf("balanceOf calldata malformed")
	}

	allow := AllowanceCalldata(owner, spender)
	if !bytes.Equal(allow[:4], erc20AllowanceSelector) || len(allow) != 68 {
		t.Fatalf("allowance calldata malformed")
	}
	if !bytes.Equal(allow[4:36], common.LeftPadBytes(owner.Bytes(), 32)) {
		t.Fatalf("owner word mismatch")
	}
}

func TestQuoteRoundTrip(t *testing.T) {
	path := []common.Address{tokenA, tokenB, tokenC}

	data, err := QuoteCalldata(big.NewInt(100), path)
	if err != nil {
		t.Fatalf("quote calldata: %v", err)
	}
	method, err := routerABI.MethodById(data[:4])
	if err != nil || method.Name != "getAmountsOut" {
		t.Fatalf("wrong method: %v %v", method, err)
	}

	ret, err := method.Outputs.Pack([]*big.Int{big.NewInt(100), big.NewInt(98), big.NewInt(95)})
	if err != nil {
		t.Fatalf("pack outputs: %v", err)
	}
	got, err := UnpackQuote(ret)
	if err != nil {
		t.Fatalf("unpack quote: %v", err)
	}
	if got.Cmp(big.NewInt(95)) != 0 {
		t.Fatalf("quote: got %s want final-hop 95", got)
	}
}

func TestUnpackQuoteRejectsGarbage(t *testing.T) {
	if _, err := UnpackQuote(nil); err == nil {
		t.Fatalf("nil result accepted")
	}
	if _, err := UnpackQuote([]byte{0x01, 0x02}); err == nil {
		t.Fatalf("short result accepted")
	}
}

func TestUnpackUint256(t *testing.T) {
	v, err := UnpackUint256(common.LeftPadBytes(big.NewInt(77).Bytes(), 32))
	if err != nil {
		t.Fatalf("unpack: %v", err)
	}
	if v.Cmp(big.NewInt(77)) != 0 {
		t.Fatalf("got %s want 77", v)
	}
	if _, err := UnpackUint256(nil); err == nil {
		t.Fatalf("empty result accepted")
	}
}
