package copier

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/big"
	"math/rand"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	lru "github.com/hashicorp/golang-lru"

	"uni-gocopy/internal/ethutil"
	"uni-gocopy/internal/uniswap"
)

const (
	defaultWorkers    = 8
	defaultSeenWindow = 2048
	defaultRetryBase  = time.Second
	defaultRetryMax   = 30 * time.Second
	defaultCatchUp    = 64
	headChannelBuffer = 16
	attemptTimeBudget = 2 * time.Minute
)

// Attempt is the outcome of one (leader swap, follower) replication.
// Ephemeral: it exists for reporting and audit, nothing persists it.
type Attempt struct {
	Leader     common.Address
	SourceTx   common.Hash
	FollowerID string
	Wallet     common.Address
	Amount     *big.Int
	ReplicaTx  common.Hash
	Err        error
}

// replicator lets tests stand in for the Executor.
type replicator interface {
	Execute(ctx context.Context, intent *uniswap.SwapIntent, f Follower) (common.Hash, error)
}

type WatcherConfig struct {
	Router  common.Address
	ChainID *big.Int

	// Workers bounds concurrent follower executions across all events.
	Workers int
	// SeenWindow bounds the duplicate-suppression cache of source tx hashes.
	SeenWindow int
	// MaxCatchUpBlocks caps how far behind a reconnect will walk forward.
	MaxCatchUpBlocks uint64

	RetryBase time.Duration
	RetryMax  time.Duration
}

// Watcher observes chain heads, filters transactions from tracked leaders
// into swap intents, and fans each intent out to that leader's followers.
// Follower executions are isolated: they run on a bounded worker pool,
// complete in any order, and never block observation of the next block.
type Watcher struct {
	chain     ChainClient
	followers FollowerSource
	exec      replicator
	notify    Notifier
	cfg       WatcherConfig
	signer    types.Signer

	mu      sync.RWMutex
	tracked map[common.Address]struct{}

	seen *lru.Cache
	sem  chan struct{}
	wg   sync.WaitGroup

	// OnAttempt, when set, receives every finished replication attempt
	// (audit log hook). OnBlock receives each fully processed block number
	// (checkpoint hook). Both are called from worker goroutines and must be
	// safe for concurrent use.
	OnAttempt func(Attempt)
	OnBlock   func(uint64)

	lastBlock uint64
}

func NewWatcher(chain ChainClient, followers FollowerSource, exec replicator, notify Notifier, cfg WatcherConfig) (*Watcher, error) {
	if chain == nil || followers == nil || exec == nil {
		return nil, fmt.Errorf("copier: watcher requires chain, follower source, and executor")
	}
	if (cfg.Router == common.Address{}) {
		return nil, fmt.Errorf("copier: router address required")
	}
	if cfg.ChainID == nil || cfg.ChainID.Sign() <= 0 {
		return nil, fmt.Errorf("copier: chain id required")
	}
	if cfg.Workers <= 0 {
		cfg.Workers = defaultWorkers
	}
	if cfg.SeenWindow <= 0 {
		cfg.SeenWindow = defaultSeenWindow
	}
	if cfg.MaxCatchUpBlocks == 0 {
		cfg.MaxCatchUpBlocks = defaultCatchUp
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = defaultRetryBase
	}
	if cfg.RetryMax < cfg.RetryBase {
		cfg.RetryMax = defaultRetryMax
	}

	seen, err := lru.New(cfg.SeenWindow)
	if err != nil {
		return nil, err
	}
	return &Watcher{
		chain:     chain,
		followers: followers,
		exec:      exec,
		notify:    notify,
		cfg:       cfg,
		signer:    types.LatestSignerForChainID(cfg.ChainID),
		tracked:   make(map[common.Address]struct{}),
		seen:      seen,
		sem:       make(chan struct{}, cfg.Workers),
	}, nil
}

// SetLastProcessed seeds the gap-fill position from a checkpoint. Call
// before Run; the watcher then walks forward from block+1 on the first head.
func (w *Watcher) SetLastProcessed(block uint64) {
	w.lastBlock = block
}

// Track adds a leader address to the watched set. Re-tracking is a no-op.
func (w *Watcher) Track(leader common.Address) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.tracked[leader] = struct{}{}
}

// Untrack removes a leader. Called when its last follower unsubscribes.
func (w *Watcher) Untrack(leader common.Address) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.tracked, leader)
}

func (w *Watcher) Tracked() []common.Address {
	w.mu.RLock()
	defer w.mu.RUnlock()
	out := make([]common.Address, 0, len(w.tracked))
	for a := range w.tracked {
		out = append(out, a)
	}
	return out
}

func (w *Watcher) isTracked(addr common.Address) bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	_, ok := w.tracked[addr]
	return ok
}

// Run subscribes to new heads and processes blocks until ctx is cancelled.
// Feed drops resubscribe with jittered exponential backoff; they are never
// fatal. Returns ctx.Err() after all in-flight executions drain.
func (w *Watcher) Run(ctx context.Context) error {
	delay := w.cfg.RetryBase
	for {
		if err := ctx.Err(); err != nil {
			w.wg.Wait()
			return err
		}

		headsCh := make(chan *types.Header, headChannelBuffer)
		sub, err := w.chain.SubscribeNewHead(ctx, headsCh)
		if err != nil {
			wait := jitterDuration(delay)
			log.Printf("[warn] head subscription failed, retrying in %s: %v", wait, err)
			if err := sleepWithContext(ctx, wait); err != nil {
				w.wg.Wait()
				return err
			}
			delay *= 2
			if delay > w.cfg.RetryMax {
				delay = w.cfg.RetryMax
			}
			continue
		}
		delay = w.cfg.RetryBase

		alive := true
		for alive {
			select {
			case <-ctx.Done():
				sub.Unsubscribe()
				w.wg.Wait()
				return ctx.Err()

			case err := <-sub.Err():
				if err != nil {
					log.Printf("[warn] head subscription error: %v", err)
				} else {
					log.Printf("[warn] head subscription ended")
				}
				alive = false

			case hdr := <-headsCh:
				if hdr == nil || hdr.Number == nil {
					continue
				}
				w.handleHead(ctx, hdr.Number.Uint64())
			}
		}
		sub.Unsubscribe()
	}
}

// handleHead walks forward from the last processed block so short feed gaps
// (missed heads during a reconnect) do not drop leader activity.
func (w *Watcher) handleHead(ctx context.Context, head uint64) {
	from := head
	if w.lastBlock != 0 && head > w.lastBlock {
		from = w.lastBlock + 1
		if head-from >= w.cfg.MaxCatchUpBlocks {
			log.Printf("[warn] gap of %d blocks exceeds catch-up cap %d; skipping ahead", head-from+1, w.cfg.MaxCatchUpBlocks)
			from = head - w.cfg.MaxCatchUpBlocks + 1
		}
	}
	for b := from; b <= head; b++ {
		w.processBlock(ctx, b)
	}
	if head > w.lastBlock {
		w.lastBlock = head
	}
	if w.OnBlock != nil {
		w.OnBlock(head)
	}
}

func (w *Watcher) processBlock(ctx context.Context, number uint64) {
	block, err := w.chain.BlockByNumber(ctx, new(big.Int).SetUint64(number))
	if err != nil {
		log.Printf("[warn] fetch block %d failed: %v", number, err)
		return
	}
	if block == nil {
		return
	}
	for _, tx := range block.Transactions() {
		w.inspect(ctx, tx)
	}
}

// inspect classifies one transaction and dispatches replication if it is a
// tracked leader's swap. Everything that is not a swap is discarded in
// silence; that is the common case.
func (w *Watcher) inspect(ctx context.Context, tx *types.Transaction) {
	if tx == nil {
		return
	}
	from, err := types.Sender(w.signer, tx)
	if err != nil {
		return
	}
	if !w.isTracked(from) {
		return
	}

	intent := uniswap.DecodeSwap(tx, from, w.cfg.Router)
	if intent == nil {
		return
	}

	// Reorg or reconnect can deliver the same transaction twice; replicate
	// at most once per source hash within the seen window.
	if existed, _ := w.seen.ContainsOrAdd(intent.TxHash, struct{}{}); existed {
		return
	}

	log.Printf("[watch] leader=%s tx=%s %s→%s amount=%s",
		intent.Leader.Hex(), intent.TxHash.Hex(), intent.TokenIn.Hex(), intent.TokenOut.Hex(), intent.AmountIn)

	followers, err := w.followers.FollowersOf(ctx, intent.Leader)
	if err != nil {
		log.Printf("[warn] resolve followers of %s failed: %v", intent.Leader.Hex(), err)
		return
	}
	if len(followers) == 0 {
		return
	}

	// Fan out asynchronously so the next block never waits on executions.
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		w.fanOut(ctx, intent, followers)
	}()
}

// ReplayTransaction fetches one transaction by hash and runs it through the
// same classify-and-dispatch path as live observation. Used by the
// inspect-one-transaction mode of cmd/copytrader.
func (w *Watcher) ReplayTransaction(ctx context.Context, hash common.Hash) error {
	tx, pending, err := w.chain.TransactionByHash(ctx, hash)
	if err != nil {
		return fmt.Errorf("fetch tx %s: %w", hash.Hex(), err)
	}
	if pending {
		return fmt.Errorf("tx %s still pending", hash.Hex())
	}
	w.inspect(ctx, tx)
	w.wg.Wait()
	return nil
}

// fanOut runs one isolated execution per follower on the bounded pool.
// A failing follower affects nobody else; results surface through the
// notifier and the OnAttempt hook.
func (w *Watcher) fanOut(ctx context.Context, intent *uniswap.SwapIntent, followers []Follower) {
	var inner sync.WaitGroup
	for _, f := range followers {
		f := f
		inner.Add(1)
		go func() {
			defer inner.Done()

			select {
			case w.sem <- struct{}{}:
			case <-ctx.Done():
				return
			}
			defer func() { <-w.sem }()

			attemptCtx, cancel := context.WithTimeout(ctx, attemptTimeBudget)
			defer cancel()
			w.replicateOne(attemptCtx, intent, f)
		}()
	}
	inner.Wait()
}

func (w *Watcher) replicateOne(ctx context.Context, intent *uniswap.SwapIntent, f Follower) {
	hash, err := w.exec.Execute(ctx, intent, f)

	attempt := Attempt{
		Leader:     intent.Leader,
		SourceTx:   intent.TxHash,
		FollowerID: f.ID,
		Wallet:     f.Wallet,
		ReplicaTx:  hash,
		Err:        err,
	}

	switch {
	case err == nil:
		log.Printf("[trade] follower=%s leader=%s src=%s replica=%s", f.ID, intent.Leader.Hex(), intent.TxHash.Hex(), hash.Hex())
		w.send(ctx, f.ID, fmt.Sprintf("Replicated trade from %s. Transaction hash: %s", ethutil.ShortHex(intent.Leader), hash.Hex()))
	case errors.Is(err, ErrDuplicateAttempt):
		// Already replicated through another delivery; nothing to tell the user.
		log.Printf("[warn] duplicate attempt suppressed follower=%s src=%s", f.ID, intent.TxHash.Hex())
	default:
		log.Printf("[warn] replicate failed follower=%s leader=%s src=%s: %v", f.ID, intent.Leader.Hex(), intent.TxHash.Hex(), err)
		w.send(ctx, f.ID, fmt.Sprintf("Failed to replicate trade from %s. Error: %s", ethutil.ShortHex(intent.Leader), Reason(err)))
	}

	if w.OnAttempt != nil {
		w.OnAttempt(attempt)
	}
}

func (w *Watcher) send(ctx context.Context, recipient, message string) {
	if w.notify == nil {
		return
	}
	if err := w.notify.Notify(ctx, recipient, message); err != nil {
		// Best effort only; a lost notification never unwinds a trade.
		log.Printf("[warn] notify %s failed: %v", recipient, err)
	}
}

func jitterDuration(d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	j := d / 5 // +/-20%
	if j <= 0 {
		return d
	}
	return d - j + time.Duration(rand.Int63n(int64(j*2)+1))
}
