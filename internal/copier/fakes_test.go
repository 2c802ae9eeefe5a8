package copier

import (
	"bytes"
	"context"
	"fmt"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	"uni-gocopy/internal/uniswap"
	"uni-gocopy/internal/vault"
)

var (
	selBalanceOf     = crypto.Keccak256([]byte("balanceOf(address)"))[:4]
	selAllowance     = crypto.Keccak256([]byte("allowance(address,address)"))[:4]
	selGetAmountsOut = crypto.Keccak256([]byte("getAmountsOut(uint256,address[])"))[:4]
)

var (
	testChainID = big.NewInt(17000)
	testRouter  = common.HexToAddress("0x7a250d5630B4cF539739dF2C5dAcb4c659F2488D")
	testTokenIn = common.HexToAddress("0xdA876dc7eBD8c826d7aaAC8cF4F9185ac966f6D0")
	testTokenTo = common.HexToAddress("0xc1E1B1526E2a1a9b43Daf2f2ED22a44BF23E3842")
)

// fakeChain is an in-memory ChainClient. Reads dispatch on the call
// selector; writes record every submitted transaction.
type fakeChain struct {
	mu sync.Mutex

	balances   map[common.Address]*big.Int // owner -> testTokenIn balance
	allowances map[common.Address]*big.Int // owner -> allowance for testRouter
	quoteOut   *big.Int                    // final-hop getAmountsOut answer
	nonces     map[common.Address]uint64
	gasPrice   *big.Int

	blocks  map[uint64]*types.Block
	txs     map[common.Hash]*types.Transaction
	fetched []uint64

	sent     []*types.Transaction
	sendErrs []error // popped per SendTransaction call; nil entry = success

	reads int // CallContract + PendingNonceAt + SuggestGasPrice calls

	subs    []*fakeSub
	headChs []chan<- *types.Header
	subErr  error
}

func newFakeChain() *fakeChain {
	return &fakeChain{
		balances:   make(map[common.Address]*big.Int),
		allowances: make(map[common.Address]*big.Int),
		quoteOut:   big.NewInt(1),
		nonces:     make(map[common.Address]uint64),
		gasPrice:   big.NewInt(2_000_000_000),
		blocks:     make(map[uint64]*types.Block),
		txs:        make(map[common.Hash]*types.Transaction),
	}
}

func (c *fakeChain) SubscribeNewHead(ctx context.Context, ch chan<- *types.Header) (ethereum.Subscription, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.subErr != nil {
		err := c.subErr
		c.subErr = nil
		return nil, err
	}
	sub := &fakeSub{errCh: make(chan error, 1)}
	c.subs = append(c.subs, sub)
	c.headChs = append(c.headChs, ch)
	return sub, nil
}

func (c *fakeChain) pushHead(number uint64) {
	c.mu.Lock()
	var ch chan<- *types.Header
	if n := len(c.headChs); n > 0 {
		ch = c.headChs[n-1]
	}
	c.mu.Unlock()
	if ch != nil {
		ch <- &types.Header{Number: new(big.Int).SetUint64(number)}
	}
}

func (c *fakeChain) BlockByNumber(ctx context.Context, number *big.Int) (*types.Block, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fetched = append(c.fetched, number.Uint64())
	b, ok := c.blocks[number.Uint64()]
	if !ok {
		return nil, fmt.Errorf("no block %s", number)
	}
	return b, nil
}

func (c *fakeChain) fetchedBlocks() []uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]uint64(nil), c.fetched...)
}

func (c *fakeChain) subCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.subs)
}

func (c *fakeChain) TransactionByHash(ctx context.Context, hash common.Hash) (*types.Transaction, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	tx, ok := c.txs[hash]
	if !ok {
		return nil, false, ethereum.NotFound
	}
	return tx, false, nil
}

func (c *fakeChain) SendTransaction(ctx context.Context, tx *types.Transaction) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.sendErrs) > 0 {
		err := c.sendErrs[0]
		c.sendErrs = c.sendErrs[1:]
		if err != nil {
			return err
		}
	}
	c.sent = append(c.sent, tx)
	return nil
}

func (c *fakeChain) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reads++
	return c.nonces[account], nil
}

func (c *fakeChain) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reads++
	return new(big.Int).Set(c.gasPrice), nil
}

func (c *fakeChain) BalanceAt(ctx context.Context, account common.Address) (*big.Int, error) {
	return big.NewInt(0), nil
}

func (c *fakeChain) CallContract(ctx context.Context, to common.Address, data []byte) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reads++
	if len(data) < 4 {
		return nil, fmt.Errorf("short calldata")
	}
	switch {
	case bytes.Equal(data[:4], selBalanceOf):
		owner := common.BytesToAddress(data[4+12 : 4+32])
		return pad32(c.balances[owner]), nil
	case bytes.Equal(data[:4], selAllowance):
		owner := common.BytesToAddress(data[4+12 : 4+32])
		return pad32(c.allowances[owner]), nil
	case bytes.Equal(data[:4], selGetAmountsOut):
		amountIn := new(big.Int).SetBytes(data[4 : 4+32])
		return encodeAmountsOut(amountIn, c.quoteOut), nil
	}
	return nil, fmt.Errorf("unexpected call %x to %s", data[:4], to.Hex())
}

func (c *fakeChain) sentTxs() []*types.Transaction {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*types.Transaction(nil), c.sent...)
}

func (c *fakeChain) readCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reads
}

func pad32(v *big.Int) []byte {
	if v == nil {
		v = new(big.Int)
	}
	return common.LeftPadBytes(v.Bytes(), 32)
}

// encodeAmountsOut builds the ABI return of getAmountsOut for a two-hop
// path: offset, length, then both amounts.
func encodeAmountsOut(amounts ...*big.Int) []byte {
	out := make([]byte, 0, 64+32*len(amounts))
	out = append(out, pad32(big.NewInt(32))...)
	out = append(out, pad32(big.NewInt(int64(len(amounts))))...)
	for _, a := range amounts {
		out = append(out, pad32(a)...)
	}
	return out
}

type fakeSub struct {
	errCh chan error
	once  sync.Once
}

func (s *fakeSub) Err() <-chan error { return s.errCh }

func (s *fakeSub) Unsubscribe() {
	s.once.Do(func() { close(s.errCh) })
}

type fakeSource struct {
	mu  sync.Mutex
	m   map[common.Address][]Follower
	err error
}

func (s *fakeSource) FollowersOf(ctx context.Context, leader common.Address) ([]Follower, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	return s.m[leader], nil
}

type fakeNotifier struct {
	mu   sync.Mutex
	sent map[string][]string
}

func newFakeNotifier() *fakeNotifier {
	return &fakeNotifier{sent: make(map[string][]string)}
}

func (n *fakeNotifier) Notify(ctx context.Context, recipientID, message string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent[recipientID] = append(n.sent[recipientID], message)
	return nil
}

func (n *fakeNotifier) messages(recipientID string) []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.sent[recipientID]...)
}

// fakeExec records Execute calls and fails the followers listed in fail.
type fakeExec struct {
	mu    sync.Mutex
	calls []fakeExecCall
	fail  map[string]error
}

type fakeExecCall struct {
	intent   *uniswap.SwapIntent
	follower Follower
}

func (e *fakeExec) Execute(ctx context.Context, intent *uniswap.SwapIntent, f Follower) (common.Hash, error) {
	e.mu.Lock()
	e.calls = append(e.calls, fakeExecCall{intent: intent, follower: f})
	err := e.fail[f.ID]
	e.mu.Unlock()
	if err != nil {
		return common.Hash{}, err
	}
	return common.HexToHash("0xfeed"), nil
}

func (e *fakeExec) callCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.calls)
}

func (e *fakeExec) callList() []fakeExecCall {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]fakeExecCall(nil), e.calls...)
}

func newTestKeyring(t *testing.T) *vault.Keyring {
	t.Helper()
	kr, err := vault.NewKeyring([]byte("unit-test-master-secret"))
	if err != nil {
		t.Fatalf("keyring: %v", err)
	}
	return kr
}

// newTestFollower mints a key pair and seals the private key under kr.
func newTestFollower(t *testing.T, kr *vault.Keyring, id string) Follower {
	t.Helper()
	pk, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	salt, err := vault.NewSalt()
	if err != nil {
		t.Fatalf("salt: %v", err)
	}
	box, err := kr.Encrypt(crypto.FromECDSA(pk), salt)
	if err != nil {
		t.Fatalf("encrypt key: %v", err)
	}
	return Follower{
		ID:           id,
		Wallet:       crypto.PubkeyToAddress(pk.PublicKey),
		EncryptedKey: box,
		Salt:         salt,
	}
}

// waitUntil polls cond until it holds or the deadline passes.
func waitUntil(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not reached before deadline")
}
