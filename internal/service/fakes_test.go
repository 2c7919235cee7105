package service

import (
	"context"
	"errors"
	"sync"

	"vpnshop/internal/models"
)

var errDisk = errors.New("disk full")

// memStore is an in-memory repository.Store with injectable failures.
type memStore struct {
	mu        sync.Mutex
	configs   []models.Config
	orders    []models.Order
	users     []int64
	blacklist []int64

	failConfigs bool
	failOrders  bool
	failUsers   bool
	orderSaves  int
}

func (s *memStore) LoadConfigs() ([]models.Config, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.Config(nil), s.configs...), nil
}

func (s *memStore) SaveConfigs(configs []models.Config) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failConfigs {
		return errDisk
	}
	s.configs = append([]models.Config(nil), configs...)
	return nil
}

func (s *memStore) LoadOrders() ([]models.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.Order(nil), s.orders...), nil
}

func (s *memStore) SaveOrders(orders []models.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failOrders {
		return errDisk
	}
	s.orderSaves++
	s.orders = append([]models.Order(nil), orders...)
	return nil
}

func (s *memStore) LoadUsers() ([]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]int64(nil), s.users...), nil
}

func (s *memStore) SaveUsers(ids []int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failUsers {
		return errDisk
	}
	s.users = append([]int64(nil), ids...)
	return nil
}

func (s *memStore) LoadBlacklist() ([]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]int64(nil), s.blacklist...), nil
}

func (s *memStore) SaveBlacklist(ids []int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failUsers {
		return errDisk
	}
	s.blacklist = append([]int64(nil), ids...)
	return nil
}

func (s *memStore) storedOrder(id string) (models.Order, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, o := range s.orders {
		if o.ID == id {
			return o, true
		}
	}
	return models.Order{}, false
}

// fakeNotifier records every call.
type fakeNotifier struct {
	mu         sync.Mutex
	receipts   []models.Order
	approved   []models.Order
	rejected   []models.Order
	finalized  []models.Order
	refs       []models.MessageRef
	deliverErr error
	onReceipt  func()
}

func (n *fakeNotifier) ReceiptSubmitted(_ context.Context, order models.Order) []models.MessageRef {
	if n.onReceipt != nil {
		n.onReceipt()
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	n.receipts = append(n.receipts, order)
	return append([]models.MessageRef(nil), n.refs...)
}

func (n *fakeNotifier) OrderApproved(_ context.Context, order models.Order) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.approved = append(n.approved, order)
	return n.deliverErr
}

func (n *fakeNotifier) OrderRejected(_ context.Context, order models.Order) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.rejected = append(n.rejected, order)
	return n.deliverErr
}

func (n *fakeNotifier) Finalize(_ context.Context, order models.Order) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.finalized = append(n.finalized, order)
}

func (n *fakeNotifier) counts() (receipts, approved, rejected, finalized int) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.receipts), len(n.approved), len(n.rejected), len(n.finalized)
}
