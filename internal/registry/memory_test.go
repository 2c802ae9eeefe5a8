package registry

import (
	"context"
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

func testUser(id string, wallet byte) *User {
	return &User{
		ID:           id,
		Wallet:       common.BytesToAddress([]byte{wallet}),
		EncryptedKey: []byte{0x01, 0x02, 0x03},
		Salt:         []byte{0x04, 0x05, 0x06},
	}
}

func TestMemoryStoreSaveAndGet(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	u := testUser("alice", 0x01)
	if err := s.SaveUser(ctx, u); err != nil {
		t.Fatalf("save: %v", err)
	}

	got, err := s.GetUser(ctx, "alice")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Wallet != u.Wallet {
		t.Fatalf("wallet %s, want %s", got.Wallet.Hex(), u.Wallet.Hex())
	}

	// Stored credentials must be insulated from caller mutation.
	u.EncryptedKey[0] = 0xff
	got2, _ := s.GetUser(ctx, "alice")
	if got2.EncryptedKey[0] == 0xff {
		t.Fatalf("store shares backing array with caller")
	}

	if _, err := s.GetUser(ctx, "nobody"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
}

func TestMemoryStoreRejectsInvalidUser(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	bad := []*User{
		nil,
		{ID: ""},
		{ID: "x"},
		{ID: "x", Wallet: common.BytesToAddress([]byte{1})},
	}
	for i, u := range bad {
		if err := s.SaveUser(ctx, u); !errors.Is(err, ErrInvalidInput) {
			t.Fatalf("case %d: want ErrInvalidInput, got %v", i, err)
		}
	}
}

func TestMemoryStoreFollowUnfollow(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	leader := common.BytesToAddress([]byte{0xaa})

	if err := s.SaveUser(ctx, testUser("alice", 0x01)); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := s.SaveUser(ctx, testUser("bob", 0x02)); err != nil {
		t.Fatalf("save: %v", err)
	}

	if err := s.Follow(ctx, "ghost", leader); !errors.Is(err, ErrNotFound) {
		t.Fatalf("follow without user: want ErrNotFound, got %v", err)
	}

	if err := s.Follow(ctx, "alice", leader); err != nil {
		t.Fatalf("follow: %v", err)
	}
	if err := s.Follow(ctx, "alice", leader); err != nil {
		t.Fatalf("re-follow must be a no-op: %v", err)
	}
	if err := s.Follow(ctx, "bob", leader); err != nil {
		t.Fatalf("follow: %v", err)
	}

	followers, err := s.FollowersOf(ctx, leader)
	if err != nil {
		t.Fatalf("followers: %v", err)
	}
	if len(followers) != 2 || followers[0].ID != "alice" || followers[1].ID != "bob" {
		t.Fatalf("followers = %v", followers)
	}

	if err := s.Unfollow(ctx, "alice", leader); err != nil {
		t.Fatalf("unfollow: %v", err)
	}
	followers, _ = s.FollowersOf(ctx, leader)
	if len(followers) != 1 || followers[0].ID != "bob" {
		t.Fatalf("after unfollow: %v", followers)
	}
}

func TestMemoryStoreLeaders(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	l1 := common.BytesToAddress([]byte{0x0a})
	l2 := common.BytesToAddress([]byte{0x0b})

	if err := s.SaveUser(ctx, testUser("alice", 0x01)); err != nil {
		t.Fatalf("save: %v", err)
	}
	for _, l := range []common.Address{l1, l2} {
		if err := s.Follow(ctx, "alice", l); err != nil {
			t.Fatalf("follow: %v", err)
		}
	}

	leaders, err := s.Leaders(ctx)
	if err != nil {
		t.Fatalf("leaders: %v", err)
	}
	if len(leaders) != 2 || leaders[0] != l1 || leaders[1] != l2 {
		t.Fatalf("leaders = %v", leaders)
	}

	mine, err := s.LeadersOf(ctx, "alice")
	if err != nil {
		t.Fatalf("leaders of: %v", err)
	}
	if len(mine) != 2 {
		t.Fatalf("leaders of alice = %v", mine)
	}

	// Leader with no remaining followers disappears from the set.
	if err := s.Unfollow(ctx, "alice", l1); err != nil {
		t.Fatalf("unfollow: %v", err)
	}
	leaders, _ = s.Leaders(ctx)
	if len(leaders) != 1 || leaders[0] != l2 {
		t.Fatalf("after unfollow leaders = %v", leaders)
	}
}

func TestFollowerSourceAdaptsUsers(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	leader := common.BytesToAddress([]byte{0xaa})

	u := testUser("alice", 0x01)
	if err := s.SaveUser(ctx, u); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := s.Follow(ctx, "alice", leader); err != nil {
		t.Fatalf("follow: %v", err)
	}

	src := NewFollowerSource(s)
	followers, err := src.FollowersOf(ctx, leader)
	if err != nil {
		t.Fatalf("followers: %v", err)
	}
	if len(followers) != 1 {
		t.Fatalf("want 1 follower, got %d", len(followers))
	}
	f := followers[0]
	if f.ID != "alice" || f.Wallet != u.Wallet {
		t.Fatalf("adapted follower = %+v", f)
	}
	if len(f.EncryptedKey) == 0 || len(f.Salt) == 0 {
		t.Fatalf("sealed credentials must pass through")
	}
}
