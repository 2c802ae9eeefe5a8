package copier

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"log"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	lru "github.com/hashicorp/golang-lru"

	"uni-gocopy/internal/uniswap"
	"uni-gocopy/internal/vault"
)

const (
	defaultDeadlineWindow = 20 * time.Minute
	defaultSubmitTimeout  = 30 * time.Second
	defaultSwapGasLimit   = 300_000
	defaultApproveGas     = 60_000
	defaultSubmitRetries  = 2
	attemptGuardSize      = 4096
)

type ExecutorConfig struct {
	Router  common.Address
	ChainID *big.Int

	// SlippageBps bounds acceptable output slippage against a fresh router
	// quote. Zero disables the min-out guard entirely; that is an explicit
	// operator choice, not a default (NewExecutor requires it to be set
	// non-negative and cmd/copytrader logs it loudly).
	SlippageBps int64

	// DeadlineWindow is the swap validity window measured from submission
	// time. The leader's own deadline is never reused: by the time a replica
	// submits it may already be stale.
	DeadlineWindow time.Duration

	SubmitTimeout time.Duration
	SubmitRetries int

	// DryRun builds, signs, and logs every replica without submitting it.
	// The default: trading must be enabled explicitly.
	DryRun bool

	SwapGasLimit    uint64
	ApproveGasLimit uint64
}

func (c *ExecutorConfig) fillDefaults() error {
	if (c.Router == common.Address{}) {
		return fmt.Errorf("copier: router address required")
	}
	if c.ChainID == nil || c.ChainID.Sign() <= 0 {
		return fmt.Errorf("copier: chain id required")
	}
	if c.SlippageBps < 0 || c.SlippageBps >= 10_000 {
		return fmt.Errorf("copier: slippage bps must be in [0,10000), got %d", c.SlippageBps)
	}
	if c.DeadlineWindow <= 0 {
		c.DeadlineWindow = defaultDeadlineWindow
	}
	if c.SubmitTimeout <= 0 {
		c.SubmitTimeout = defaultSubmitTimeout
	}
	if c.SubmitRetries < 0 {
		c.SubmitRetries = defaultSubmitRetries
	}
	if c.SwapGasLimit == 0 {
		c.SwapGasLimit = defaultSwapGasLimit
	}
	if c.ApproveGasLimit == 0 {
		c.ApproveGasLimit = defaultApproveGas
	}
	return nil
}

// Executor turns one decoded leader swap into one follower transaction:
// decrypt, scale, fund-check, approve if short, sign, submit. Safe for
// concurrent use across followers and intents.
type Executor struct {
	chain  ChainClient
	keys   *vault.Keyring
	policy ScalePolicy
	cfg    ExecutorConfig
	signer types.Signer

	// submitted guards against double submission of the same
	// (source tx, follower) pair across duplicate deliveries.
	mu        sync.Mutex
	submitted *lru.Cache
}

func NewExecutor(chain ChainClient, keys *vault.Keyring, policy ScalePolicy, cfg ExecutorConfig) (*Executor, error) {
	if chain == nil {
		return nil, fmt.Errorf("copier: chain client required")
	}
	if keys == nil {
		return nil, fmt.Errorf("copier: keyring required")
	}
	if policy == nil {
		return nil, fmt.Errorf("copier: scale policy required")
	}
	if err := cfg.fillDefaults(); err != nil {
		return nil, err
	}
	guard, err := lru.New(attemptGuardSize)
	if err != nil {
		return nil, err
	}
	return &Executor{
		chain:     chain,
		keys:      keys,
		policy:    policy,
		cfg:       cfg,
		signer:    types.LatestSignerForChainID(cfg.ChainID),
		submitted: guard,
	}, nil
}

// Execute replicates intent for one follower and returns the submitted
// transaction hash. Failures are one of vault.ErrCredential, ErrPolicy,
// ErrDuplicateAttempt, or an *ExecutionError; each is scoped to this
// follower only.
func (e *Executor) Execute(ctx context.Context, intent *uniswap.SwapIntent, f Follower) (common.Hash, error) {
	if intent == nil {
		return common.Hash{}, fmt.Errorf("copier: intent required")
	}
	if f.Wallet == (common.Address{}) {
		return common.Hash{}, fmt.Errorf("%w: follower %s has no wallet", vault.ErrCredential, f.ID)
	}

	// Decrypt first and fail fast: no chain traffic on bad credentials.
	// The key lives only on this stack frame.
	pk, err := e.keys.DecryptSigningKey(f.EncryptedKey, f.Salt)
	if err != nil {
		return common.Hash{}, err
	}
	if ethcrypto.PubkeyToAddress(pk.PublicKey) != f.Wallet {
		return common.Hash{}, fmt.Errorf("%w: decrypted key does not control wallet %s", vault.ErrCredential, f.Wallet.Hex())
	}

	amount, err := e.policy.Scale(intent.AmountIn)
	if err != nil {
		return common.Hash{}, err
	}

	balance, err := TokenBalance(ctx, e.chain, intent.TokenIn, f.Wallet)
	if err != nil {
		return common.Hash{}, execErr(KindSubmissionRejected, "balance check: %v", err)
	}
	if balance.Cmp(amount) < 0 {
		return common.Hash{}, execErr(KindInsufficientBalance,
			"need %s of %s, have %s", amount, intent.TokenIn.Hex(), balance)
	}

	nonce, err := e.chain.PendingNonceAt(ctx, f.Wallet)
	if err != nil {
		return common.Hash{}, execErr(KindSubmissionRejected, "nonce: %v", err)
	}
	gasPrice, err := e.chain.SuggestGasPrice(ctx)
	if err != nil {
		return common.Hash{}, execErr(KindSubmissionRejected, "gas price: %v", err)
	}

	nonce, err = e.ensureAllowance(ctx, intent.TokenIn, f.Wallet, amount, nonce, gasPrice, pk)
	if err != nil {
		return common.Hash{}, err
	}

	path := []common.Address{intent.TokenIn, intent.TokenOut}
	minOut, err := e.minAcceptableOut(ctx, amount, path)
	if err != nil {
		return common.Hash{}, err
	}

	deadline := big.NewInt(time.Now().Add(e.cfg.DeadlineWindow).Unix())
	calldata, err := uniswap.SwapCalldata(amount, minOut, path, f.Wallet, deadline)
	if err != nil {
		return common.Hash{}, execErr(KindSubmissionRejected, "build swap: %v", err)
	}

	swapTx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       &e.cfg.Router,
		Gas:      e.cfg.SwapGasLimit,
		GasPrice: gasPrice,
		Data:     calldata,
	})
	signed, err := types.SignTx(swapTx, e.signer, pk)
	if err != nil {
		return common.Hash{}, execErr(KindSigning, "%v", err)
	}

	// Claim the (source tx, follower) slot before anything irreversible.
	if !e.claim(intent.TxHash, f.ID) {
		return common.Hash{}, ErrDuplicateAttempt
	}

	if e.cfg.DryRun {
		log.Printf("[dry-run] follower=%s src=%s would submit swap tx=%s amount=%s minOut=%s",
			f.ID, intent.TxHash.Hex(), signed.Hash().Hex(), amount, minOut)
		return signed.Hash(), nil
	}

	if err := e.submit(ctx, signed); err != nil {
		return common.Hash{}, err
	}
	return signed.Hash(), nil
}

// ensureAllowance grants the router an allowance for amount when the
// current one is short, and returns the nonce the follow-up swap must use.
func (e *Executor) ensureAllowance(ctx context.Context, token, owner common.Address, amount *big.Int, nonce uint64, gasPrice *big.Int, pk *ecdsa.PrivateKey) (uint64, error) {
	allowance, err := TokenAllowance(ctx, e.chain, token, owner, e.cfg.Router)
	if err != nil {
		return 0, execErr(KindAllowanceFailed, "allowance check: %v", err)
	}
	if allowance.Cmp(amount) >= 0 {
		return nonce, nil
	}

	calldata, err := uniswap.ApproveCalldata(e.cfg.Router, amount)
	if err != nil {
		return 0, execErr(KindAllowanceFailed, "build approve: %v", err)
	}
	approveTx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       &token,
		Gas:      e.cfg.ApproveGasLimit,
		GasPrice: gasPrice,
		Data:     calldata,
	})
	signed, err := types.SignTx(approveTx, e.signer, pk)
	if err != nil {
		return 0, execErr(KindSigning, "sign approve: %v", err)
	}

	if e.cfg.DryRun {
		log.Printf("[dry-run] would submit approve tx=%s token=%s amount=%s", signed.Hash().Hex(), token.Hex(), amount)
		return nonce + 1, nil
	}

	sendCtx, cancel := context.WithTimeout(ctx, e.cfg.SubmitTimeout)
	err = e.chain.SendTransaction(sendCtx, signed)
	cancel()
	if err != nil {
		return 0, execErr(KindAllowanceFailed, "submit approve: %v", err)
	}
	return nonce + 1, nil
}

func (e *Executor) minAcceptableOut(ctx context.Context, amount *big.Int, path []common.Address) (*big.Int, error) {
	if e.cfg.SlippageBps == 0 {
		// Accept-any-output mode, configured explicitly.
		return new(big.Int), nil
	}
	quote, err := QuoteAmountOut(ctx, e.chain, e.cfg.Router, amount, path)
	if err != nil {
		return nil, execErr(KindSubmissionRejected, "quote for min-out: %v", err)
	}
	minOut := new(big.Int).Mul(quote, big.NewInt(10_000-e.cfg.SlippageBps))
	minOut.Div(minOut, big.NewInt(10_000))
	return minOut, nil
}

func (e *Executor) claim(src common.Hash, followerID string) bool {
	key := src.Hex() + "/" + followerID
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.submitted.Get(key); ok {
		return false
	}
	e.submitted.Add(key, struct{}{})
	return true
}

// submit sends a signed transaction, retrying transient timeouts a bounded
// number of times with linear backoff. Non-timeout rejections never retry.
func (e *Executor) submit(ctx context.Context, tx *types.Transaction) error {
	var last error
	for attempt := 0; attempt <= e.cfg.SubmitRetries; attempt++ {
		if attempt > 0 {
			if err := sleepWithContext(ctx, time.Duration(attempt)*time.Second); err != nil {
				return execErr(KindTimeout, "%v", err)
			}
		}

		sendCtx, cancel := context.WithTimeout(ctx, e.cfg.SubmitTimeout)
		err := e.chain.SendTransaction(sendCtx, tx)
		cancel()
		if err == nil {
			return nil
		}

		if errors.Is(err, context.DeadlineExceeded) {
			last = execErr(KindTimeout, "submit tx %s: %v", tx.Hash().Hex(), err)
			continue
		}
		if errors.Is(err, context.Canceled) {
			return execErr(KindTimeout, "submit tx %s: %v", tx.Hash().Hex(), err)
		}
		return execErr(KindSubmissionRejected, "submit tx %s: %v", tx.Hash().Hex(), err)
	}
	return last
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
