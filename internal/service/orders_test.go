package service

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"go.uber.org/zap"

	"vpnshop/internal/models"
)

const (
	adminID = int64(100)
	buyerID = int64(7)
)

var baseConfig = models.Config{ID: 1, Volume: "10GB", Duration: "30d", Price: 50000, Link: "https://x/1"}

type OrderManagerSuite struct {
	suite.Suite

	ctx      context.Context
	store    *memStore
	catalog  *Catalog
	users    *Users
	notifier *fakeNotifier
	manager  *OrderManager
}

func TestOrderManagerSuite(t *testing.T) {
	suite.Run(t, new(OrderManagerSuite))
}

func (s *OrderManagerSuite) SetupTest() {
	s.ctx = context.Background()
	s.store = &memStore{configs: []models.Config{baseConfig}}
	s.notifier = &fakeNotifier{refs: []models.MessageRef{{ChatID: adminID, MessageID: 11}, {ChatID: -500, MessageID: 12}}}
	s.build(OrderOptions{Admins: []int64{adminID}})
}

func (s *OrderManagerSuite) build(opts OrderOptions) {
	var err error
	s.catalog, err = NewCatalog(s.store, zap.NewNop())
	s.Require().NoError(err)
	s.users, err = NewUsers(s.store)
	s.Require().NoError(err)
	s.manager, err = NewOrderManager(s.store, s.catalog, s.users, s.notifier, opts, zap.NewNop())
	s.Require().NoError(err)
}

func (s *OrderManagerSuite) createWithReceipt() models.Order {
	order, err := s.manager.CreateOrder(s.ctx, buyerID, "bob", 1)
	s.Require().NoError(err)
	order, err = s.manager.AttachReceipt(s.ctx, order.ID, buyerID, "photo-1")
	s.Require().NoError(err)
	return order
}

func (s *OrderManagerSuite) TestCreateOrderReservesConfig() {
	order, err := s.manager.CreateOrder(s.ctx, buyerID, "bob", 1)
	s.Require().NoError(err)

	s.Equal(models.OrderStatusPending, order.Status)
	s.Require().NotNil(order.Snapshot)
	s.Equal(baseConfig, *order.Snapshot)
	s.Zero(s.catalog.Len())
	s.Empty(s.store.configs)

	stored, ok := s.store.storedOrder(order.ID)
	s.Require().True(ok)
	s.Equal(models.OrderStatusPending, stored.Status)
}

func (s *OrderManagerSuite) TestCreateOrderUnknownConfig() {
	_, err := s.manager.CreateOrder(s.ctx, buyerID, "bob", 42)
	s.ErrorIs(err, ErrNotFound)
	s.Zero(s.manager.Len())
}

func (s *OrderManagerSuite) TestSecondBuyerCannotTakeSameUnit() {
	_, err := s.manager.CreateOrder(s.ctx, buyerID, "bob", 1)
	s.Require().NoError(err)

	_, err = s.manager.CreateOrder(s.ctx, buyerID+1, "eve", 1)
	s.ErrorIs(err, ErrNotFound)
	s.Equal(1, s.manager.Len())
}

func (s *OrderManagerSuite) TestCreateOrderBlacklistedBuyer() {
	_, err := s.users.Ban(buyerID)
	s.Require().NoError(err)

	_, err = s.manager.CreateOrder(s.ctx, buyerID, "bob", 1)
	s.ErrorIs(err, ErrBlacklisted)
	s.ErrorIs(err, ErrInvalidState)
	s.Equal(1, s.catalog.Len())
}

func (s *OrderManagerSuite) TestCreateOrderSaveFailureReturnsUnit() {
	s.store.failOrders = true

	_, err := s.manager.CreateOrder(s.ctx, buyerID, "bob", 1)
	s.ErrorIs(err, errDisk)
	s.Equal([]models.Config{baseConfig}, s.catalog.List())
	s.Zero(s.manager.Len())
}

func (s *OrderManagerSuite) TestAttachReceiptNotifiesOnce() {
	order := s.createWithReceipt()

	s.Equal("photo-1", order.ReceiptPhoto)
	s.Equal(s.notifier.refs, order.AdminMessages)
	stored, _ := s.store.storedOrder(order.ID)
	s.Equal(s.notifier.refs, stored.AdminMessages)

	_, err := s.manager.AttachReceipt(s.ctx, order.ID, buyerID, "photo-2")
	s.ErrorIs(err, ErrReceiptAlreadySubmitted)

	receipts, _, _, _ := s.notifier.counts()
	s.Equal(1, receipts)
	got, err := s.manager.Get(order.ID)
	s.Require().NoError(err)
	s.Equal("photo-1", got.ReceiptPhoto)
}

func (s *OrderManagerSuite) TestAttachReceiptErrors() {
	_, err := s.manager.AttachReceipt(s.ctx, "missing", buyerID, "p")
	s.ErrorIs(err, ErrNotFound)

	order, err := s.manager.CreateOrder(s.ctx, buyerID, "bob", 1)
	s.Require().NoError(err)

	_, err = s.manager.AttachReceipt(s.ctx, order.ID, buyerID+1, "p")
	s.ErrorIs(err, ErrNotFound, "another user's order is invisible")

	_, err = s.manager.AttachReceipt(s.ctx, order.ID, buyerID, "")
	s.ErrorIs(err, ErrValidation)

	_, err = s.manager.Decide(s.ctx, order.ID, DecisionReject, adminID)
	s.Require().NoError(err)

	_, err = s.manager.AttachReceipt(s.ctx, order.ID, buyerID, "p")
	s.ErrorIs(err, ErrAlreadyProcessed)
}

func (s *OrderManagerSuite) TestApproveDeliversLink() {
	order := s.createWithReceipt()

	decided, err := s.manager.Decide(s.ctx, order.ID, DecisionApprove, adminID)
	s.Require().NoError(err)

	s.Equal(models.OrderStatusApproved, decided.Status)
	s.Equal(adminID, decided.DecidedBy)
	s.NotNil(decided.DecidedAt)
	s.Zero(s.catalog.Len(), "approval never restores inventory")

	_, approved, rejected, finalized := s.notifier.counts()
	s.Equal(1, approved)
	s.Zero(rejected)
	s.Equal(1, finalized)
	s.Equal("https://x/1", s.notifier.approved[0].Snapshot.Link)
	s.Equal(s.notifier.refs, s.notifier.finalized[0].AdminMessages)
}

func (s *OrderManagerSuite) TestRejectRestoresOriginalConfig() {
	order := s.createWithReceipt()

	decided, err := s.manager.Decide(s.ctx, order.ID, DecisionReject, adminID)
	s.Require().NoError(err)

	s.Equal(models.OrderStatusRejected, decided.Status)
	s.Equal([]models.Config{baseConfig}, s.catalog.List())
	s.False(s.users.IsBlacklisted(buyerID))

	_, approved, rejected, finalized := s.notifier.counts()
	s.Zero(approved)
	s.Equal(1, rejected)
	s.Equal(1, finalized)
}

func (s *OrderManagerSuite) TestRejectBlacklistsWhenConfigured() {
	s.build(OrderOptions{Admins: []int64{adminID}, BlacklistOnReject: true})
	order := s.createWithReceipt()

	_, err := s.manager.Decide(s.ctx, order.ID, DecisionReject, adminID)
	s.Require().NoError(err)
	s.True(s.users.IsBlacklisted(buyerID))
	s.Equal([]int64{buyerID}, s.store.blacklist)
}

func (s *OrderManagerSuite) TestRejectNeverBlacklistsAdmins() {
	s.build(OrderOptions{Admins: []int64{adminID}, BlacklistOnReject: true})
	order, err := s.manager.CreateOrder(s.ctx, adminID, "boss", 1)
	s.Require().NoError(err)

	_, err = s.manager.Decide(s.ctx, order.ID, DecisionReject, adminID)
	s.Require().NoError(err)
	s.False(s.users.IsBlacklisted(adminID))
	s.Empty(s.store.blacklist)
}

func (s *OrderManagerSuite) TestDecideTwiceIsAlreadyProcessed() {
	for _, second := range []Decision{DecisionApprove, DecisionReject} {
		s.SetupTest()
		order := s.createWithReceipt()

		_, err := s.manager.Decide(s.ctx, order.ID, DecisionApprove, adminID)
		s.Require().NoError(err)

		got, err := s.manager.Decide(s.ctx, order.ID, second, adminID)
		s.ErrorIs(err, ErrAlreadyProcessed)
		s.Equal(models.OrderStatusApproved, got.Status)

		_, approved, rejected, finalized := s.notifier.counts()
		s.Equal(1, approved, "no second delivery")
		s.Zero(rejected)
		s.Equal(1, finalized)
		s.Zero(s.catalog.Len(), "catalog unchanged")
	}
}

func (s *OrderManagerSuite) TestRejectTwiceRestoresOnce() {
	order := s.createWithReceipt()

	_, err := s.manager.Decide(s.ctx, order.ID, DecisionReject, adminID)
	s.Require().NoError(err)
	_, err = s.manager.Decide(s.ctx, order.ID, DecisionReject, adminID)
	s.ErrorIs(err, ErrAlreadyProcessed)

	s.Equal(1, s.catalog.Len())
	_, _, rejected, _ := s.notifier.counts()
	s.Equal(1, rejected)
}

func (s *OrderManagerSuite) TestDecideRequiresAdmin() {
	order := s.createWithReceipt()

	_, err := s.manager.Decide(s.ctx, order.ID, DecisionApprove, buyerID)
	s.ErrorIs(err, ErrForbidden)

	got, err := s.manager.Get(order.ID)
	s.Require().NoError(err)
	s.Equal(models.OrderStatusPending, got.Status)
}

func (s *OrderManagerSuite) TestDecideUnknownOrderOrDecision() {
	_, err := s.manager.Decide(s.ctx, "nope", DecisionApprove, adminID)
	s.ErrorIs(err, ErrNotFound)

	_, err = s.manager.Decide(s.ctx, "nope", Decision("maybe"), adminID)
	s.ErrorIs(err, ErrValidation)
}

func (s *OrderManagerSuite) TestDeliveryFailureKeepsTransition() {
	order := s.createWithReceipt()
	s.notifier.deliverErr = fmt.Errorf("chat not found")

	decided, err := s.manager.Decide(s.ctx, order.ID, DecisionApprove, adminID)
	s.ErrorIs(err, ErrDelivery)
	s.Equal(models.OrderStatusApproved, decided.Status)

	stored, _ := s.store.storedOrder(order.ID)
	s.Equal(models.OrderStatusApproved, stored.Status)
	_, _, _, finalized := s.notifier.counts()
	s.Equal(1, finalized, "admin messages are still finalized")
}

func (s *OrderManagerSuite) TestDecideSaveFailureLeavesPending() {
	order := s.createWithReceipt()
	s.store.failOrders = true

	_, err := s.manager.Decide(s.ctx, order.ID, DecisionReject, adminID)
	s.ErrorIs(err, errDisk)

	got, err := s.manager.Get(order.ID)
	s.Require().NoError(err)
	s.Equal(models.OrderStatusPending, got.Status)
	s.Zero(s.catalog.Len())
	_, _, rejected, _ := s.notifier.counts()
	s.Zero(rejected)
}

func (s *OrderManagerSuite) TestConcurrentDecisionsOnlyOneWins() {
	order := s.createWithReceipt()

	const workers = 16
	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			decision := DecisionApprove
			if i%2 == 1 {
				decision = DecisionReject
			}
			if _, err := s.manager.Decide(s.ctx, order.ID, decision, adminID); err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	s.Equal(1, wins)
	_, approved, rejected, finalized := s.notifier.counts()
	s.Equal(1, approved+rejected)
	s.Equal(1, finalized)
	s.Equal(rejected, s.catalog.Len(), "inventory restored only by a winning reject")
}

func (s *OrderManagerSuite) TestDecisionDuringFanOutFinalizesLateMessages() {
	order, err := s.manager.CreateOrder(s.ctx, buyerID, "bob", 1)
	s.Require().NoError(err)
	s.notifier.onReceipt = func() {
		s.notifier.onReceipt = nil
		_, err := s.manager.Decide(s.ctx, order.ID, DecisionApprove, adminID)
		s.Require().NoError(err)
	}

	got, err := s.manager.AttachReceipt(s.ctx, order.ID, buyerID, "p")
	s.Require().NoError(err)
	s.Equal(models.OrderStatusApproved, got.Status)

	_, _, _, finalized := s.notifier.counts()
	s.Require().Equal(2, finalized)
	s.Empty(s.notifier.finalized[0].AdminMessages)
	s.Equal(s.notifier.refs, s.notifier.finalized[1].AdminMessages)
}

func (s *OrderManagerSuite) TestLegacyPendingOrderReservesItsUnit() {
	s.store.orders = []models.Order{{
		ID:        "legacy",
		UserID:    buyerID,
		ConfigID:  1,
		Status:    models.OrderStatusPending,
		CreatedAt: time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC),
	}}
	s.build(OrderOptions{Admins: []int64{adminID}})

	s.Zero(s.catalog.Len(), "the unit leaves the catalog at load")
	s.Empty(s.store.configs)
	stored, _ := s.store.storedOrder("legacy")
	s.Require().NotNil(stored.Snapshot)
	s.Equal(baseConfig, *stored.Snapshot)

	_, err := s.manager.CreateOrder(s.ctx, 999, "eve", 1)
	s.ErrorIs(err, ErrNotFound, "a second buyer cannot take the held unit")

	_, err = s.manager.AttachReceipt(s.ctx, "legacy", buyerID, "p")
	s.Require().NoError(err)
	decided, err := s.manager.Decide(s.ctx, "legacy", DecisionApprove, adminID)
	s.Require().NoError(err)
	s.Equal(models.OrderStatusApproved, decided.Status)
	s.Require().NotNil(decided.Snapshot)
	s.Equal("https://x/1", decided.Snapshot.Link)
	s.Equal(int64(50000), s.manager.Revenue())
}

func (s *OrderManagerSuite) TestLegacyRejectReturnsUnit() {
	s.store.orders = []models.Order{{ID: "legacy", UserID: buyerID, ConfigID: 1, Status: models.OrderStatusPending}}
	s.build(OrderOptions{Admins: []int64{adminID}})
	s.Zero(s.catalog.Len())

	_, err := s.manager.Decide(s.ctx, "legacy", DecisionReject, adminID)
	s.Require().NoError(err)
	s.Equal([]models.Config{baseConfig}, s.catalog.List())
}

func (s *OrderManagerSuite) TestLegacyOrdersSharingAUnit() {
	base := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	s.store.orders = []models.Order{
		{ID: "late", UserID: 8, ConfigID: 1, Status: models.OrderStatusPending, CreatedAt: base.Add(time.Hour)},
		{ID: "early", UserID: buyerID, ConfigID: 1, Status: models.OrderStatusPending, CreatedAt: base},
	}
	s.build(OrderOptions{Admins: []int64{adminID}})

	early, err := s.manager.Get("early")
	s.Require().NoError(err)
	s.NotNil(early.Snapshot, "the oldest order gets the unit")
	late, err := s.manager.Get("late")
	s.Require().NoError(err)
	s.Nil(late.Snapshot)

	removed, err := s.manager.RemoveConfig(1)
	s.ErrorIs(err, ErrConfigInUse)
	s.False(removed)

	_, err = s.manager.Decide(s.ctx, "late", DecisionApprove, adminID)
	s.ErrorIs(err, ErrNotFound)
	late, _ = s.manager.Get("late")
	s.Equal(models.OrderStatusPending, late.Status)

	_, err = s.manager.Decide(s.ctx, "late", DecisionReject, adminID)
	s.Require().NoError(err)
	s.Zero(s.catalog.Len(), "rejecting an order without a unit restores nothing")
}

func (s *OrderManagerSuite) TestLegacyReservationRolledBackOnSaveFailure() {
	s.store.orders = []models.Order{{ID: "legacy", UserID: buyerID, ConfigID: 1, Status: models.OrderStatusPending}}
	s.store.failOrders = true

	catalog, err := NewCatalog(s.store, zap.NewNop())
	s.Require().NoError(err)
	_, err = NewOrderManager(s.store, catalog, nil, s.notifier, OrderOptions{Admins: []int64{adminID}}, zap.NewNop())
	s.ErrorIs(err, errDisk)
	s.Equal([]models.Config{baseConfig}, s.store.configs)
}

func (s *OrderManagerSuite) TestLegacyGroupMessageBecomesRef() {
	s.store.orders = []models.Order{{
		ID:             "legacy",
		UserID:         buyerID,
		ConfigID:       1,
		Status:         models.OrderStatusPending,
		GroupMessageID: 55,
	}}
	s.build(OrderOptions{Admins: []int64{adminID}, GroupID: -500})

	stored, _ := s.store.storedOrder("legacy")
	s.Zero(stored.GroupMessageID)
	s.Equal([]models.MessageRef{{ChatID: -500, MessageID: 55, Text: true}}, stored.AdminMessages)

	_, err := s.manager.Decide(s.ctx, "legacy", DecisionReject, adminID)
	s.Require().NoError(err)
	s.Require().Len(s.notifier.finalized, 1)
	s.Equal(stored.AdminMessages, s.notifier.finalized[0].AdminMessages)
}

func (s *OrderManagerSuite) TestLegacyGroupMessageKeptWithoutGroup() {
	s.store.orders = []models.Order{{
		ID:             "done",
		UserID:         buyerID,
		ConfigID:       4,
		Status:         models.OrderStatusApproved,
		GroupMessageID: 55,
	}}
	s.build(OrderOptions{Admins: []int64{adminID}})

	got, err := s.manager.Get("done")
	s.Require().NoError(err)
	s.Equal(55, got.GroupMessageID)
	s.Empty(got.AdminMessages)
	s.Zero(s.store.orderSaves, "nothing to upgrade, nothing written")
}

func (s *OrderManagerSuite) TestRemoveConfigWithSnapshottedOrder() {
	_, err := s.catalog.Add("20GB", "30d", 1, "https://x/2")
	s.Require().NoError(err)
	order, err := s.manager.CreateOrder(s.ctx, buyerID, "bob", 1)
	s.Require().NoError(err)

	removed, err := s.manager.RemoveConfig(2)
	s.Require().NoError(err)
	s.True(removed)

	got, err := s.manager.Get(order.ID)
	s.Require().NoError(err)
	s.Equal(baseConfig, *got.Snapshot, "snapshot survives catalog mutation")
}

func (s *OrderManagerSuite) TestIDsSeededFromOrders() {
	s.store.configs = nil
	s.store.orders = []models.Order{{ID: "old", UserID: 1, ConfigID: 9, Status: models.OrderStatusApproved}}
	s.build(OrderOptions{Admins: []int64{adminID}})

	cfg, err := s.catalog.Add("1GB", "1d", 1, "https://x")
	s.Require().NoError(err)
	s.Equal(10, cfg.ID)
}

func (s *OrderManagerSuite) TestListingAndCounts() {
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	tick := 0
	s.manager.now = func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Minute)
	}
	for i := 2; i <= 4; i++ {
		_, err := s.catalog.Add("10GB", "30d", 1, fmt.Sprintf("https://x/%d", i))
		s.Require().NoError(err)
	}

	var ids []string
	for i, user := range []int64{buyerID, buyerID, 8, buyerID} {
		o, err := s.manager.CreateOrder(s.ctx, user, "", i+1)
		s.Require().NoError(err)
		ids = append(ids, o.ID)
	}
	_, err := s.manager.Decide(s.ctx, ids[0], DecisionApprove, adminID)
	s.Require().NoError(err)
	_, err = s.manager.AttachReceipt(s.ctx, ids[3], buyerID, "p")
	s.Require().NoError(err)

	page, total := s.manager.List(1, 3)
	s.Equal(4, total)
	s.Require().Len(page, 3)
	s.Equal(ids[3], page[0].ID)
	s.Equal(ids[1], page[2].ID)

	page, _ = s.manager.List(2, 3)
	s.Require().Len(page, 1)
	s.Equal(ids[0], page[0].ID)

	page, _ = s.manager.List(5, 3)
	s.Empty(page)

	mine := s.manager.ListByUser(buyerID)
	s.Len(mine, 3)

	pending, ok := s.manager.PendingAwaitingReceipt(buyerID)
	s.Require().True(ok)
	s.Equal(ids[1], pending.ID)

	_, ok = s.manager.PendingAwaitingReceipt(999)
	s.False(ok)

	counts := s.manager.CountByStatus()
	s.Equal(3, counts[models.OrderStatusPending])
	s.Equal(1, counts[models.OrderStatusApproved])
	s.Equal(0, counts[models.OrderStatusRejected])
	s.Equal(int64(50000), s.manager.Revenue())
}

func TestOrderIDsAreUnique(t *testing.T) {
	store := &memStore{}
	catalog, err := NewCatalog(store, zap.NewNop())
	require.NoError(t, err)
	users, err := NewUsers(store)
	require.NoError(t, err)
	m, err := NewOrderManager(store, catalog, users, &fakeNotifier{}, OrderOptions{}, zap.NewNop())
	require.NoError(t, err)

	// Force collisions: the generator repeats every id once.
	calls := 0
	m.newID = func() string {
		calls++
		return fmt.Sprintf("id-%d", calls/2)
	}

	const n = 200
	for i := 0; i < n; i++ {
		_, err := catalog.Add("1GB", "1d", 1, "https://x")
		require.NoError(t, err)
	}
	seen := make(map[string]struct{}, n)
	for _, cfg := range catalog.List() {
		o, err := m.CreateOrder(context.Background(), int64(cfg.ID), "", cfg.ID)
		require.NoError(t, err)
		_, dup := seen[o.ID]
		require.False(t, dup, "duplicate order id %s", o.ID)
		seen[o.ID] = struct{}{}
	}
	assert.Len(t, seen, n)
	assert.Equal(t, n, m.Len())
}
