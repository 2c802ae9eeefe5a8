package copier

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"

	"uni-gocopy/internal/uniswap"
)

// ChainClient is the narrow chain surface the replicator depends on:
// head subscription, block/tx fetch, submission, and read calls. Anything
// RPC-capable that offers these four capabilities can back it; production
// uses EthChain, tests use in-package fakes.
type ChainClient interface {
	SubscribeNewHead(ctx context.Context, ch chan<- *types.Header) (ethereum.Subscription, error)
	BlockByNumber(ctx context.Context, number *big.Int) (*types.Block, error)
	TransactionByHash(ctx context.Context, hash common.Hash) (*types.Transaction, bool, error)

	SendTransaction(ctx context.Context, tx *types.Transaction) error
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)

	BalanceAt(ctx context.Context, account common.Address) (*big.Int, error)
	CallContract(ctx context.Context, to common.Address, data []byte) ([]byte, error)
}

// EthChain adapts *ethclient.Client to ChainClient.
type EthChain struct {
	client *ethclient.Client
}

func NewEthChain(client *ethclient.Client) *EthChain {
	return &EthChain{client: client}
}

var _ ChainClient = (*EthChain)(nil)

func (c *EthChain) SubscribeNewHead(ctx context.Context, ch chan<- *types.Header) (ethereum.Subscription, error) {
	return c.client.SubscribeNewHead(ctx, ch)
}

func (c *EthChain) BlockByNumber(ctx context.Context, number *big.Int) (*types.Block, error) {
	return c.client.BlockByNumber(ctx, number)
}

func (c *EthChain) TransactionByHash(ctx context.Context, hash common.Hash) (*types.Transaction, bool, error) {
	return c.client.TransactionByHash(ctx, hash)
}

func (c *EthChain) SendTransaction(ctx context.Context, tx *types.Transaction) error {
	return c.client.SendTransaction(ctx, tx)
}

func (c *EthChain) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	return c.client.PendingNonceAt(ctx, account)
}

func (c *EthChain) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	return c.client.SuggestGasPrice(ctx)
}

func (c *EthChain) BalanceAt(ctx context.Context, account common.Address) (*big.Int, error) {
	return c.client.BalanceAt(ctx, account, nil)
}

func (c *EthChain) CallContract(ctx context.Context, to common.Address, data []byte) ([]byte, error) {
	return c.client.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, nil)
}

// TokenBalance reads an ERC20 balanceOf via a raw-selector call.
func TokenBalance(ctx context.Context, chain ChainClient, token, owner common.Address) (*big.Int, error) {
	out, err := chain.CallContract(ctx, token, uniswap.BalanceOfCalldata(owner))
	if err != nil {
		return nil, fmt.Errorf("balanceOf(%s) on %s: %w", owner.Hex(), token.Hex(), err)
	}
	return uniswap.UnpackUint256(out)
}

// TokenAllowance reads an ERC20 allowance(owner, spender).
func TokenAllowance(ctx context.Context, chain ChainClient, token, owner, spender common.Address) (*big.Int, error) {
	out, err := chain.CallContract(ctx, token, uniswap.AllowanceCalldata(owner, spender))
	if err != nil {
		return nil, fmt.Errorf("allowance(%s,%s) on %s: %w", owner.Hex(), spender.Hex(), token.Hex(), err)
	}
	return uniswap.UnpackUint256(out)
}

// QuoteAmountOut asks the router what amountIn buys along path.
func QuoteAmountOut(ctx context.Context, chain ChainClient, router common.Address, amountIn *big.Int, path []common.Address) (*big.Int, error) {
	data, err := uniswap.QuoteCalldata(amountIn, path)
	if err != nil {
		return nil, err
	}
	out, err := chain.CallContract(ctx, router, data)
	if err != nil {
		return nil, fmt.Errorf("getAmountsOut: %w", err)
	}
	return uniswap.UnpackQuote(out)
}
