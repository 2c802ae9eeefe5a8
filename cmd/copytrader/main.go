package main

import (
	"context"
	"encoding/hex"
	"flag"
	"fmt"
	"log"
	"math/big"
	"math/rand"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"

	"uni-gocopy/internal/copier"
	"uni-gocopy/internal/dotenv"
	"uni-gocopy/internal/ethutil"
	"uni-gocopy/internal/jsonl"
	"uni-gocopy/internal/notify"
	"uni-gocopy/internal/registry"
	"uni-gocopy/internal/state"
	"uni-gocopy/internal/uniswap"
	"uni-gocopy/internal/vault"
)

type args struct {
	rpcWs  string
	router common.Address

	extraLeaders []common.Address

	copyBps       int64
	slippageBps   int64
	workers       int
	enableTrading bool

	databaseURL   string
	masterKey     string
	telegramToken string

	checkpointFile string
	outFile        string

	txHash string
}

const defaultAuditOutFile = "./out/replications.jsonl"

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	if err := dotenv.Load(); err != nil {
		log.Printf("[warn] %v", err)
	}

	parsed, err := parseArgs()
	if err != nil {
		log.Fatalf("[fatal] %v", err)
	}

	runStartedAt := time.Now()
	audit, err := jsonl.Open(parsed.outFile)
	if err != nil {
		log.Fatalf("[fatal] %v", err)
	}
	if audit != nil {
		log.Printf("Audit log: %s (JSONL)", parsed.outFile)
		defer func() {
			if err := audit.Close(); err != nil {
				log.Printf("[warn] audit log close: %v", err)
			}
		}()
	}

	log.Printf("Copytrader (leader swaps → scaled follower swaps)")
	log.Printf("Router: %s", parsed.router.Hex())
	log.Printf("Copy bps: %d (%.2f%%)", parsed.copyBps, float64(parsed.copyBps)/100)
	if parsed.slippageBps == 0 {
		log.Printf("[warn] slippage guard disabled: replicas accept ANY output amount")
	} else {
		log.Printf("Slippage bps: %d (%.2f%%)", parsed.slippageBps, float64(parsed.slippageBps)/100)
	}
	if parsed.enableTrading {
		log.Printf("Trading ENABLED: replicas will be submitted on-chain")
	} else {
		log.Printf("Dry-run: replicas are built and signed but NOT submitted (pass --enable-trading to go live)")
	}

	keyring, err := vault.NewKeyring([]byte(parsed.masterKey))
	if err != nil {
		log.Fatalf("[fatal] %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		<-sigCh
		log.Printf("Shutting down...")
		cancel()
	}()

	pool, err := registry.NewPool(ctx, parsed.databaseURL)
	if err != nil {
		log.Fatalf("[fatal] %v", err)
	}
	defer pool.Close()
	if err := registry.EnsureSchema(ctx, pool); err != nil {
		log.Fatalf("[fatal] %v", err)
	}
	store := registry.NewPostgresStore(pool)

	var notifier copier.Notifier
	if parsed.telegramToken != "" {
		tg, err := notify.NewTelegramClient("", parsed.telegramToken)
		if err != nil {
			log.Fatalf("[fatal] %v", err)
		}
		notifier = tg
	} else {
		log.Printf("[warn] no TELEGRAM_BOT_TOKEN; outcome notifications go to the process log only")
		notifier = notify.LogSink{}
	}

	client, chainID, err := dialChainWithBackoff(ctx, parsed.rpcWs, time.Second, 30*time.Second)
	if err != nil {
		// Context cancellation (SIGINT/SIGTERM) is the only expected way to get here.
		return
	}
	defer client.Close()
	log.Printf("Connected: %s (chain id %s)", parsed.rpcWs, chainID)

	chain := copier.NewEthChain(client)

	policy, err := copier.NewFixedFractionPolicy(parsed.copyBps)
	if err != nil {
		log.Fatalf("[fatal] %v", err)
	}
	exec, err := copier.NewExecutor(chain, keyring, policy, copier.ExecutorConfig{
		Router:      parsed.router,
		ChainID:     chainID,
		SlippageBps: parsed.slippageBps,
		DryRun:      !parsed.enableTrading,
	})
	if err != nil {
		log.Fatalf("[fatal] %v", err)
	}

	watcher, err := copier.NewWatcher(chain, registry.NewFollowerSource(store), exec, notifier, copier.WatcherConfig{
		Router:  parsed.router,
		ChainID: chainID,
		Workers: parsed.workers,
	})
	if err != nil {
		log.Fatalf("[fatal] %v", err)
	}

	leaders, err := store.Leaders(ctx)
	if err != nil {
		log.Fatalf("[fatal] list leaders: %v", err)
	}
	leaders = append(leaders, parsed.extraLeaders...)
	for _, l := range leaders {
		watcher.Track(l)
	}
	tracked := ethutil.SortedAddresses(watcher.Tracked())
	if len(tracked) == 0 {
		log.Printf("[warn] no leaders registered yet; watching none until followers subscribe")
	} else {
		log.Printf("Leaders: %s", ethutil.JoinHex(tracked))
	}

	logAuditEvent(audit, auditEvent{
		TsMs:        time.Now().UnixMilli(),
		Event:       "start",
		Leaders:     leaderHexes(tracked),
		Mode:        runMode(parsed.enableTrading),
		CopyBps:     parsed.copyBps,
		SlippageBps: parsed.slippageBps,
	})
	defer func() {
		logAuditEvent(audit, auditEvent{
			TsMs:     time.Now().UnixMilli(),
			Event:    "shutdown",
			Ok:       true,
			UptimeMs: time.Since(runStartedAt).Milliseconds(),
		})
	}()

	watcher.OnAttempt = func(a copier.Attempt) {
		ev := auditEvent{
			TsMs:     time.Now().UnixMilli(),
			Event:    "attempt",
			Leader:   a.Leader.Hex(),
			SourceTx: a.SourceTx.Hex(),
			Follower: a.FollowerID,
			Wallet:   a.Wallet.Hex(),
			Ok:       a.Err == nil,
		}
		if a.Err != nil {
			ev.Err = a.Err.Error()
		} else {
			ev.ReplicaTx = a.ReplicaTx.Hex()
		}
		logAuditEvent(audit, ev)
	}

	if parsed.txHash != "" {
		if err := watcher.ReplayTransaction(ctx, common.HexToHash(parsed.txHash)); err != nil {
			log.Fatalf("[fatal] inspect tx failed: %v", err)
		}
		return
	}

	ckpt, hasCkpt, err := state.Load(parsed.checkpointFile)
	if err != nil {
		log.Fatalf("[fatal] %v", err)
	}
	routerKey := strings.ToLower(parsed.router.Hex())
	if hasCkpt {
		if ckpt.CompatibleWith(chainID.Int64(), routerKey) {
			watcher.SetLastProcessed(ckpt.LastProcessedBlock)
			log.Printf("Loaded checkpoint %s (block=%d)", parsed.checkpointFile, ckpt.LastProcessedBlock)
		} else {
			log.Printf("[warn] checkpoint %s is for chain=%d router=%s; ignoring", parsed.checkpointFile, ckpt.ChainID, ckpt.RouterAddress)
		}
	}
	watcher.OnBlock = func(block uint64) {
		err := state.Save(parsed.checkpointFile, state.Checkpoint{
			ChainID:            chainID.Int64(),
			RouterAddress:      routerKey,
			LastProcessedBlock: block,
		})
		if err != nil {
			log.Printf("[warn] save checkpoint: %v", err)
		}
	}

	if err := watcher.Run(ctx); err != nil && ctx.Err() == nil {
		log.Fatalf("[fatal] watcher: %v", err)
	}
}

// dialChainWithBackoff dials the node until it answers a chain id query,
// with jittered exponential backoff. Only ctx cancellation makes it give up.
func dialChainWithBackoff(ctx context.Context, url string, baseDelay, maxDelay time.Duration) (*ethclient.Client, *big.Int, error) {
	if baseDelay <= 0 {
		baseDelay = time.Second
	}
	if maxDelay < baseDelay {
		maxDelay = baseDelay
	}

	delay := baseDelay
	for {
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}

		client, err := ethclient.DialContext(ctx, url)
		if err == nil {
			chainID, idErr := client.ChainID(ctx)
			if idErr == nil {
				return client, chainID, nil
			}
			client.Close()
			err = fmt.Errorf("failed to fetch chain id: %w", idErr)
		}

		wait := jitterDuration(delay)
		log.Printf("[warn] failed to connect node ws, retrying in %s: %v", wait, err)
		if err := sleepWithContext(ctx, wait); err != nil {
			return nil, nil, err
		}
		delay *= 2
		if delay > maxDelay {
			delay = maxDelay
		}
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

func runMode(enableTrading bool) string {
	if enableTrading {
		return "live"
	}
	return "dry"
}

func leaderHexes(addrs []common.Address) []string {
	out := make([]string, 0, len(addrs))
	for _, a := range addrs {
		out = append(out, a.Hex())
	}
	return out
}

func parseArgs() (args, error) {
	var rpcWsFlag string
	var routerFlag string
	var leadersFlag string
	var copyBpsFlag int64
	var copyPctFlag float64
	var slippageBpsFlag int64
	var workersFlag int
	var enableTradingFlag bool
	var databaseFlag string
	var checkpointFlag string
	var outFlag string
	var txHashFlag string

	flag.StringVar(&rpcWsFlag, "rpc-ws", "", "Node WebSocket RPC URL (wss://...) (or RPC_WS_URL)")
	flag.StringVar(&routerFlag, "router", "", "Uniswap V2 router address (default: Holesky router)")
	flag.StringVar(&leadersFlag, "leaders", "", "Extra leader address(es) to watch beyond the registry (comma/space-separated)")
	flag.Int64Var(&copyBpsFlag, "copy-bps", 0, "Replica size in basis points of the leader amount (e.g. 1000=10%)")
	flag.Float64Var(&copyPctFlag, "copy-pct", 0, "Replica size as a percentage (e.g. 10 = 10%) (alias for copy-bps)")
	flag.Int64Var(&slippageBpsFlag, "slippage-bps", 100, "Max output slippage vs a fresh quote, in bps (0 = accept any output)")
	flag.IntVar(&workersFlag, "workers", 0, "Max concurrent follower executions (0 = default)")

	enableTradingDefault := false
	if env := dotenv.Getenv("ENABLE_TRADING"); env != "" {
		v, err := strconv.ParseBool(env)
		if err != nil {
			return args{}, fmt.Errorf("invalid ENABLE_TRADING %q: %w", env, err)
		}
		enableTradingDefault = v
	}
	flag.BoolVar(&enableTradingFlag, "enable-trading", enableTradingDefault, "Submit replica transactions on-chain (default: dry-run)")
	flag.StringVar(&databaseFlag, "database-url", "", "Postgres DSN for the follower registry (or DATABASE_URL)")
	flag.StringVar(&checkpointFlag, "checkpoint-file", "./out/copytrader.checkpoint.json", "Checkpoint path")
	flag.StringVar(&outFlag, "out", defaultAuditOutFile, "Replication audit file path (JSONL; empty disables)")
	flag.StringVar(&txHashFlag, "tx-hash", "", "Inspect one leader tx hash (0x...), replicate it, and exit")

	flag.Parse()

	txHash := strings.ToLower(strings.TrimSpace(txHashFlag))
	if txHash != "" {
		txHash = strings.TrimPrefix(txHash, "0x")
		if len(txHash) != 64 {
			return args{}, fmt.Errorf("invalid --tx-hash: expected 0x + 64 hex chars")
		}
		if _, err := hex.DecodeString(txHash); err != nil {
			return args{}, fmt.Errorf("invalid --tx-hash: %w", err)
		}
		txHash = "0x" + txHash
	}

	rpcWs := strings.TrimSpace(rpcWsFlag)
	if rpcWs == "" {
		rpcWs = dotenv.Getenv("RPC_WS_URL", "RPC_URL")
	}
	rpcWs, err := ethutil.ValidateRPCURL(rpcWs)
	if err != nil {
		return args{}, err
	}

	router := uniswap.DefaultRouter
	if raw := strings.TrimSpace(routerFlag); raw != "" {
		if !common.IsHexAddress(raw) {
			return args{}, fmt.Errorf("invalid router address %q", raw)
		}
		router = common.HexToAddress(raw)
	} else if raw := dotenv.Getenv("ROUTER_ADDRESS"); raw != "" {
		if !common.IsHexAddress(raw) {
			return args{}, fmt.Errorf("invalid ROUTER_ADDRESS %q", raw)
		}
		router = common.HexToAddress(raw)
	}

	var extraLeaders []common.Address
	leadersRaw := strings.TrimSpace(leadersFlag)
	if leadersRaw == "" {
		leadersRaw = dotenv.Getenv("LEADER_ADDRESSES")
	}
	if leadersRaw != "" {
		extraLeaders, err = ethutil.ParseAddressList(leadersRaw)
		if err != nil {
			return args{}, fmt.Errorf("invalid leader list %q: %w", leadersRaw, err)
		}
	}

	copyBps := copyBpsFlag
	switch {
	case copyBps > 0:
	case copyPctFlag > 0:
		copyBps = int64(copyPctFlag * 100)
	default:
		if env := dotenv.Getenv("COPY_BPS"); env != "" {
			v, err := strconv.ParseInt(env, 10, 64)
			if err != nil {
				return args{}, fmt.Errorf("invalid COPY_BPS %q: %w", env, err)
			}
			copyBps = v
		}
		if copyBps == 0 {
			copyBps = 1000 // 10%
		}
	}
	if copyBps <= 0 || copyBps > 10_000 {
		return args{}, fmt.Errorf("copy bps must be in (0,10000], got %d", copyBps)
	}

	slippageBps := slippageBpsFlag
	if env := dotenv.Getenv("SLIPPAGE_BPS"); env != "" && slippageBps == 100 {
		v, err := strconv.ParseInt(env, 10, 64)
		if err != nil {
			return args{}, fmt.Errorf("invalid SLIPPAGE_BPS %q: %w", env, err)
		}
		slippageBps = v
	}
	if slippageBps < 0 || slippageBps >= 10_000 {
		return args{}, fmt.Errorf("slippage bps must be in [0,10000), got %d", slippageBps)
	}

	databaseURL := strings.TrimSpace(databaseFlag)
	if databaseURL == "" {
		databaseURL = dotenv.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		return args{}, fmt.Errorf("database url required via --database-url or DATABASE_URL")
	}

	masterKey := dotenv.Getenv("VAULT_MASTER_KEY")
	if masterKey == "" {
		return args{}, fmt.Errorf("VAULT_MASTER_KEY required (env only; never a flag)")
	}

	return args{
		rpcWs:          rpcWs,
		router:         router,
		extraLeaders:   extraLeaders,
		copyBps:        copyBps,
		slippageBps:    slippageBps,
		workers:        workersFlag,
		enableTrading:  enableTradingFlag,
		databaseURL:    databaseURL,
		masterKey:      masterKey,
		telegramToken:  dotenv.Getenv("TELEGRAM_BOT_TOKEN"),
		checkpointFile: strings.TrimSpace(checkpointFlag),
		outFile:        strings.TrimSpace(outFlag),
		txHash:         txHash,
	}, nil
}
