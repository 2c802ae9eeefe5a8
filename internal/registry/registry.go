package registry

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"uni-gocopy/internal/copier"
)

var (
	// ErrNotFound indicates the requested user does not exist.
	ErrNotFound = errors.New("registry: not found")
	// ErrDuplicateKey indicates a unique constraint violation.
	ErrDuplicateKey = errors.New("registry: duplicate key")
	// ErrInvalidInput indicates a malformed user or subscription.
	ErrInvalidInput = errors.New("registry: invalid input")
)

// User is one registered follower: an external identity (the chat id of the
// messaging frontend), a custodied wallet, and the sealed signing key with
// its KDF salt. The key is opaque to the registry; only the vault can open it.
type User struct {
	ID           string
	Wallet       common.Address
	EncryptedKey []byte
	Salt         []byte
}

func (u *User) validate() error {
	if u == nil || u.ID == "" {
		return fmt.Errorf("%w: user id required", ErrInvalidInput)
	}
	if u.Wallet == (common.Address{}) {
		return fmt.Errorf("%w: wallet address required", ErrInvalidInput)
	}
	if len(u.EncryptedKey) == 0 || len(u.Salt) == 0 {
		return fmt.Errorf("%w: sealed key and salt required", ErrInvalidInput)
	}
	return nil
}

// Store is the durable user and subscription registry.
type Store interface {
	// SaveUser inserts or replaces a user's wallet and sealed credentials.
	SaveUser(ctx context.Context, u *User) error
	GetUser(ctx context.Context, id string) (*User, error)

	// Follow subscribes a user to a leader. Re-following is a no-op.
	Follow(ctx context.Context, userID string, leader common.Address) error
	Unfollow(ctx context.Context, userID string, leader common.Address) error

	FollowersOf(ctx context.Context, leader common.Address) ([]User, error)
	LeadersOf(ctx context.Context, userID string) ([]common.Address, error)

	// Leaders lists every distinct leader with at least one follower.
	// Used at startup to seed the watch set.
	Leaders(ctx context.Context) ([]common.Address, error)
}

// FollowerSource adapts a Store to the replication engine's read interface.
type FollowerSource struct {
	store Store
}

func NewFollowerSource(store Store) *FollowerSource {
	return &FollowerSource{store: store}
}

var _ copier.FollowerSource = (*FollowerSource)(nil)

func (s *FollowerSource) FollowersOf(ctx context.Context, leader common.Address) ([]copier.Follower, error) {
	users, err := s.store.FollowersOf(ctx, leader)
	if err != nil {
		return nil, err
	}
	out := make([]copier.Follower, 0, len(users))
	for _, u := range users {
		out = append(out, copier.Follower{
			ID:           u.ID,
			Wallet:       u.Wallet,
			EncryptedKey: u.EncryptedKey,
			Salt:         u.Salt,
		})
	}
	return out, nil
}

// addrKey canonicalizes an address for storage and map keys.
func addrKey(a common.Address) string {
	return strings.ToLower(a.Hex())
}
