package copier

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
)

// Follower bundles everything one replication attempt needs about a user:
// identity, custodied wallet, and the sealed signing key with its KDF salt.
// The plaintext key never appears here.
type Follower struct {
	ID           string
	Wallet       common.Address
	EncryptedKey []byte
	Salt         []byte
}

// FollowerSource resolves the follower set of a leader. Backed by the
// relational registry in production; reads happen concurrently with
// subscription changes, so implementations must be safe for concurrent use.
type FollowerSource interface {
	FollowersOf(ctx context.Context, leader common.Address) ([]Follower, error)
}

// Notifier delivers a per-follower outcome message. Best effort: errors are
// logged by the caller and never affect the trade that triggered them.
type Notifier interface {
	Notify(ctx context.Context, recipientID, message string) error
}
