package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"

	"uni-gocopy/internal/copier"
	"uni-gocopy/internal/dotenv"
	"uni-gocopy/internal/ethutil"
	"uni-gocopy/internal/registry"
	"uni-gocopy/internal/uniswap"
	"uni-gocopy/internal/weiutil"
)

// balance prints a wallet's native and token balances plus its router
// allowance, the three numbers that decide whether a replica can execute.
func main() {
	log.SetFlags(0)

	if err := dotenv.Load(); err != nil {
		log.Printf("[warn] %v", err)
	}

	var addrFlag string
	var userFlag string
	var tokenFlag string
	var routerFlag string
	flag.StringVar(&addrFlag, "address", "", "Wallet address to check")
	flag.StringVar(&userFlag, "user", "", "Follower id to look up in the registry (needs DATABASE_URL)")
	flag.StringVar(&tokenFlag, "token", "", "ERC20 token address (default: WETH)")
	flag.StringVar(&routerFlag, "router", "", "Router address for the allowance check (default: Holesky router)")
	flag.Parse()

	rpcURL, err := ethutil.ValidateRPCURL(dotenv.Getenv("RPC_WS_URL", "RPC_URL"))
	if err != nil {
		log.Fatalf("[fatal] %v", err)
	}

	token := uniswap.WETH
	if raw := strings.TrimSpace(tokenFlag); raw != "" {
		if !common.IsHexAddress(raw) {
			log.Fatalf("[fatal] invalid --token %q", raw)
		}
		token = common.HexToAddress(raw)
	}
	router := uniswap.DefaultRouter
	if raw := strings.TrimSpace(routerFlag); raw != "" {
		if !common.IsHexAddress(raw) {
			log.Fatalf("[fatal] invalid --router %q", raw)
		}
		router = common.HexToAddress(raw)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	owner, ownerSrc, err := resolveOwner(ctx, addrFlag, userFlag)
	if err != nil {
		log.Fatalf("[fatal] %v", err)
	}

	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		log.Fatalf("[fatal] dial node: %v", err)
	}
	defer client.Close()
	chain := copier.NewEthChain(client)

	native, err := chain.BalanceAt(ctx, owner)
	if err != nil {
		log.Fatalf("[fatal] native balance: %v", err)
	}
	tokenBal, err := copier.TokenBalance(ctx, chain, token, owner)
	if err != nil {
		log.Fatalf("[fatal] token balance: %v", err)
	}
	allowance, err := copier.TokenAllowance(ctx, chain, token, owner, router)
	if err != nil {
		log.Fatalf("[fatal] allowance: %v", err)
	}

	fmt.Printf("owner: %s (%s)\n", owner.Hex(), ownerSrc)
	fmt.Printf("native: %s\n", weiutil.FormatEther(native))
	fmt.Printf("token %s: %s\n", token.Hex(), weiutil.FormatUnits(tokenBal, weiutil.EtherDecimals))
	fmt.Printf("router allowance: %s\n", weiutil.FormatUnits(allowance, weiutil.EtherDecimals))
}

func resolveOwner(ctx context.Context, addrFlag, userFlag string) (common.Address, string, error) {
	if raw := strings.TrimSpace(addrFlag); raw != "" {
		if !common.IsHexAddress(raw) {
			return common.Address{}, "", fmt.Errorf("invalid --address %q", raw)
		}
		return common.HexToAddress(raw), "--address", nil
	}

	userID := strings.TrimSpace(userFlag)
	if userID == "" {
		return common.Address{}, "", fmt.Errorf("wallet required: pass --address or --user")
	}

	databaseURL := dotenv.Getenv("DATABASE_URL")
	if databaseURL == "" {
		return common.Address{}, "", fmt.Errorf("--user needs DATABASE_URL")
	}
	pool, err := registry.NewPool(ctx, databaseURL)
	if err != nil {
		return common.Address{}, "", err
	}
	defer pool.Close()

	u, err := registry.NewPostgresStore(pool).GetUser(ctx, userID)
	if err != nil {
		return common.Address{}, "", fmt.Errorf("look up user %s: %w", userID, err)
	}
	return u.Wallet, "registry", nil
}
