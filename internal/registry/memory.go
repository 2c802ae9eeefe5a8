package registry

import (
	"context"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// MemoryStore is an in-memory Store for tests and single-process dev runs.
type MemoryStore struct {
	mu    sync.RWMutex
	users map[string]User
	subs  map[string]map[string]struct{} // leader key -> user ids
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users: make(map[string]User),
		subs:  make(map[string]map[string]struct{}),
	}
}

var _ Store = (*MemoryStore)(nil)

func (s *MemoryStore) SaveUser(_ context.Context, u *User) error {
	if err := u.validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *u
	cp.EncryptedKey = append([]byte(nil), u.EncryptedKey...)
	cp.Salt = append([]byte(nil), u.Salt...)
	s.users[u.ID] = cp
	return nil
}

func (s *MemoryStore) GetUser(_ context.Context, id string) (*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := u
	cp.EncryptedKey = append([]byte(nil), u.EncryptedKey...)
	cp.Salt = append([]byte(nil), u.Salt...)
	return &cp, nil
}

func (s *MemoryStore) Follow(_ context.Context, userID string, leader common.Address) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[userID]; !ok {
		return ErrNotFound
	}
	key := addrKey(leader)
	if s.subs[key] == nil {
		s.subs[key] = make(map[string]struct{})
	}
	s.subs[key][userID] = struct{}{}
	return nil
}

func (s *MemoryStore) Unfollow(_ context.Context, userID string, leader common.Address) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := addrKey(leader)
	delete(s.subs[key], userID)
	if len(s.subs[key]) == 0 {
		delete(s.subs, key)
	}
	return nil
}

func (s *MemoryStore) FollowersOf(_ context.Context, leader common.Address) ([]User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := s.subs[addrKey(leader)]
	users := make([]User, 0, len(ids))
	for id := range ids {
		u, ok := s.users[id]
		if !ok {
			continue
		}
		cp := u
		cp.EncryptedKey = append([]byte(nil), u.EncryptedKey...)
		cp.Salt = append([]byte(nil), u.Salt...)
		users = append(users, cp)
	}
	sort.Slice(users, func(i, j int) bool { return users[i].ID < users[j].ID })
	return users, nil
}

func (s *MemoryStore) LeadersOf(_ context.Context, userID string) ([]common.Address, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []common.Address
	for key, ids := range s.subs {
		if _, ok := ids[userID]; ok {
			out = append(out, common.HexToAddress(key))
		}
	}
	sortAddresses(out)
	return out, nil
}

func (s *MemoryStore) Leaders(_ context.Context) ([]common.Address, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]common.Address, 0, len(s.subs))
	for key := range s.subs {
		out = append(out, common.HexToAddress(key))
	}
	sortAddresses(out)
	return out, nil
}

func sortAddresses(addrs []common.Address) {
	sort.Slice(addrs, func(i, j int) bool {
		return addrs[i].Hex() < addrs[j].Hex()
	})
}
