package service

import (
	"fmt"
	"sort"
	"sync"

	"vpnshop/internal/repository"
)

// Users tracks every buyer that ever talked to the bot and the blacklist.
type Users struct {
	mu        sync.RWMutex
	users     map[int64]struct{}
	order     []int64
	blacklist map[int64]struct{}
	store     repository.UserStore
}

func NewUsers(store repository.UserStore) (*Users, error) {
	users, err := store.LoadUsers()
	if err != nil {
		return nil, fmt.Errorf("load users: %w", err)
	}
	banned, err := store.LoadBlacklist()
	if err != nil {
		return nil, fmt.Errorf("load blacklist: %w", err)
	}

	u := &Users{
		users:     make(map[int64]struct{}, len(users)),
		blacklist: make(map[int64]struct{}, len(banned)),
		store:     store,
	}
	for _, id := range users {
		if _, ok := u.users[id]; ok {
			continue
		}
		u.users[id] = struct{}{}
		u.order = append(u.order, id)
	}
	for _, id := range banned {
		u.blacklist[id] = struct{}{}
	}
	return u, nil
}

// Register records id once and returns the total number of users.
func (u *Users) Register(id int64) (int, error) {
	u.mu.Lock()
	defer u.mu.Unlock()

	if _, ok := u.users[id]; ok {
		return len(u.users), nil
	}
	next := append(append([]int64(nil), u.order...), id)
	if err := u.store.SaveUsers(next); err != nil {
		return len(u.users), fmt.Errorf("save users: %w", err)
	}
	u.users[id] = struct{}{}
	u.order = next
	return len(u.users), nil
}

func (u *Users) Count() int {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return len(u.users)
}

func (u *Users) IsBlacklisted(id int64) bool {
	u.mu.RLock()
	defer u.mu.RUnlock()
	_, ok := u.blacklist[id]
	return ok
}

// Ban adds id to the blacklist. The bool is false if id was already banned.
func (u *Users) Ban(id int64) (bool, error) {
	u.mu.Lock()
	defer u.mu.Unlock()

	if _, ok := u.blacklist[id]; ok {
		return false, nil
	}
	u.blacklist[id] = struct{}{}
	if err := u.store.SaveBlacklist(u.blacklistLocked()); err != nil {
		delete(u.blacklist, id)
		return false, fmt.Errorf("save blacklist: %w", err)
	}
	return true, nil
}

// Unban removes id from the blacklist. The bool is false if id was not banned.
func (u *Users) Unban(id int64) (bool, error) {
	u.mu.Lock()
	defer u.mu.Unlock()

	if _, ok := u.blacklist[id]; !ok {
		return false, nil
	}
	delete(u.blacklist, id)
	if err := u.store.SaveBlacklist(u.blacklistLocked()); err != nil {
		u.blacklist[id] = struct{}{}
		return false, fmt.Errorf("save blacklist: %w", err)
	}
	return true, nil
}

// Blacklist returns the banned ids in ascending order.
func (u *Users) Blacklist() []int64 {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return u.blacklistLocked()
}

func (u *Users) blacklistLocked() []int64 {
	ids := make([]int64, 0, len(u.blacklist))
	for id := range u.blacklist {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
