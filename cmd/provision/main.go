package main

import (
	"context"
	"crypto/ecdsa"
	"flag"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"uni-gocopy/internal/dotenv"
	"uni-gocopy/internal/registry"
	"uni-gocopy/internal/vault"
)

// provision registers a follower: it seals a signing key under the vault
// master secret and stores the user, optionally subscribing to a leader.
// The plaintext key exists only inside this process and is never printed.
func main() {
	log.SetFlags(0)

	if err := dotenv.Load(); err != nil {
		log.Printf("[warn] %v", err)
	}

	var userFlag string
	var leaderFlag string
	var privateKeyFlag string
	var databaseFlag string
	flag.StringVar(&userFlag, "user", "", "Follower id (the messaging chat id)")
	flag.StringVar(&leaderFlag, "leader", "", "Optional leader address to follow immediately")
	flag.StringVar(&privateKeyFlag, "private-key", "", "Wallet private key hex (0x...); empty generates a fresh wallet")
	flag.StringVar(&databaseFlag, "database-url", "", "Postgres DSN (or DATABASE_URL)")
	flag.Parse()

	userID := strings.TrimSpace(userFlag)
	if userID == "" {
		log.Fatalf("[fatal] --user required")
	}

	var leader common.Address
	if raw := strings.TrimSpace(leaderFlag); raw != "" {
		if !common.IsHexAddress(raw) {
			log.Fatalf("[fatal] invalid --leader %q", raw)
		}
		leader = common.HexToAddress(raw)
	}

	databaseURL := strings.TrimSpace(databaseFlag)
	if databaseURL == "" {
		databaseURL = dotenv.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		log.Fatalf("[fatal] database url required via --database-url or DATABASE_URL")
	}

	masterKey := dotenv.Getenv("VAULT_MASTER_KEY")
	if masterKey == "" {
		log.Fatalf("[fatal] VAULT_MASTER_KEY required")
	}
	keyring, err := vault.NewKeyring([]byte(masterKey))
	if err != nil {
		log.Fatalf("[fatal] %v", err)
	}

	pk, generated, err := resolveKey(privateKeyFlag)
	if err != nil {
		log.Fatalf("[fatal] %v", err)
	}
	wallet := crypto.PubkeyToAddress(pk.PublicKey)

	salt, err := vault.NewSalt()
	if err != nil {
		log.Fatalf("[fatal] %v", err)
	}
	box, err := keyring.Encrypt(crypto.FromECDSA(pk), salt)
	if err != nil {
		log.Fatalf("[fatal] seal key: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	pool, err := registry.NewPool(ctx, databaseURL)
	if err != nil {
		log.Fatalf("[fatal] %v", err)
	}
	defer pool.Close()
	if err := registry.EnsureSchema(ctx, pool); err != nil {
		log.Fatalf("[fatal] %v", err)
	}
	store := registry.NewPostgresStore(pool)

	err = store.SaveUser(ctx, &registry.User{
		ID:           userID,
		Wallet:       wallet,
		EncryptedKey: box,
		Salt:         salt,
	})
	if err != nil {
		log.Fatalf("[fatal] save user: %v", err)
	}

	if leader != (common.Address{}) {
		if err := store.Follow(ctx, userID, leader); err != nil {
			log.Fatalf("[fatal] follow: %v", err)
		}
	}

	fmt.Printf("user: %s\n", userID)
	fmt.Printf("wallet: %s\n", wallet.Hex())
	if generated {
		fmt.Printf("wallet is freshly generated; fund it before trades can replicate\n")
	}
	if leader != (common.Address{}) {
		fmt.Printf("following: %s\n", leader.Hex())
	}
}

func resolveKey(raw string) (pk *ecdsa.PrivateKey, generated bool, err error) {
	raw = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(raw), "0x"))
	if raw == "" {
		k, err := crypto.GenerateKey()
		return k, true, err
	}
	k, err := crypto.HexToECDSA(raw)
	if err != nil {
		return nil, false, fmt.Errorf("invalid --private-key: %w", err)
	}
	return k, false, nil
}
