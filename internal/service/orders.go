package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"vpnshop/internal/models"
	"vpnshop/internal/pkg/utils"
	"vpnshop/internal/repository"
)

// Decision is an admin verdict on a pending order.
type Decision string

const (
	DecisionApprove Decision = "approve"
	DecisionReject  Decision = "reject"
)

func (d Decision) status() (models.OrderStatus, bool) {
	switch d {
	case DecisionApprove:
		return models.OrderStatusApproved, true
	case DecisionReject:
		return models.OrderStatusRejected, true
	}
	return "", false
}

// Notifier delivers order events to buyers and admins.
// ReceiptSubmitted and Finalize never fail; per-recipient errors are the
// notifier's to log.
type Notifier interface {
	ReceiptSubmitted(ctx context.Context, order models.Order) []models.MessageRef
	OrderApproved(ctx context.Context, order models.Order) error
	OrderRejected(ctx context.Context, order models.Order) error
	Finalize(ctx context.Context, order models.Order)
}

type OrderOptions struct {
	Admins            []int64
	BlacklistOnReject bool
	// GroupID is the admin group the older bot posted pending orders to.
	GroupID           int64
}

// OrderManager runs the purchase workflow. One mutex guards the order
// ledger and every catalog mutation made on its behalf; notifications are
// sent after it is released.
type OrderManager struct {
	mu       sync.Mutex
	orders   map[string]*models.Order
	store    repository.OrderStore
	catalog  *Catalog
	users    *Users
	notifier Notifier
	admins   map[int64]struct{}
	opts     OrderOptions
	logger   *zap.Logger

	newID func() string
	now   func() time.Time
}

func NewOrderManager(
	store repository.OrderStore,
	catalog *Catalog,
	users *Users,
	notifier Notifier,
	opts OrderOptions,
	logger *zap.Logger,
) (*OrderManager, error) {
	loaded, err := store.LoadOrders()
	if err != nil {
		return nil, fmt.Errorf("load orders: %w", err)
	}

	m := &OrderManager{
		orders:   make(map[string]*models.Order, len(loaded)),
		store:    store,
		catalog:  catalog,
		users:    users,
		notifier: notifier,
		admins:   make(map[int64]struct{}, len(opts.Admins)),
		opts:     opts,
		logger:   logger,
		newID:    utils.GenerateUUID,
		now:      time.Now,
	}
	for _, id := range opts.Admins {
		m.admins[id] = struct{}{}
	}

	sort.SliceStable(loaded, func(i, j int) bool {
		return loaded[i].CreatedAt.Before(loaded[j].CreatedAt)
	})
	configIDs := make([]int, 0, len(loaded))
	for i := range loaded {
		o := loaded[i]
		if o.ID == "" {
			continue
		}
		m.orders[o.ID] = &o
		configIDs = append(configIDs, o.ConfigID)
		if o.Snapshot != nil {
			configIDs = append(configIDs, o.Snapshot.ID)
		}
	}
	catalog.ReserveIDs(configIDs...)

	if err := m.upgradeLegacy(loaded); err != nil {
		return nil, err
	}
	return m, nil
}

// upgradeLegacy brings orders written by the older bot in line with the
// current ledger: the group message becomes a MessageRef and a pending
// order takes its unit out of the catalog, so it cannot be sold twice.
// Orders are visited oldest first; when two pending orders name the same
// unit only the first gets it.
func (m *OrderManager) upgradeLegacy(loaded []models.Order) error {
	var (
		changed bool
		taken   []models.Config
	)
	for _, l := range loaded {
		o, ok := m.orders[l.ID]
		if !ok {
			continue
		}
		if o.GroupMessageID != 0 && m.opts.GroupID != 0 {
			o.AdminMessages = append(o.AdminMessages, models.MessageRef{
				ChatID:    m.opts.GroupID,
				MessageID: o.GroupMessageID,
				Text:      true,
			})
			o.GroupMessageID = 0
			changed = true
		}
		if o.Status != models.OrderStatusPending || o.Snapshot != nil {
			continue
		}
		cfg, err := m.catalog.Take(o.ConfigID)
		if errors.Is(err, ErrNotFound) {
			m.logger.Warn("Pending order points at a missing config",
				zap.String("order_id", o.ID), zap.Int("config_id", o.ConfigID))
			continue
		}
		if err != nil {
			m.restoreAll(taken)
			return fmt.Errorf("reserve config for order %s: %w", o.ID, err)
		}
		taken = append(taken, cfg)
		o.Snapshot = &cfg
		changed = true
	}
	if !changed {
		return nil
	}

	all := make([]models.Order, 0, len(m.orders))
	for _, o := range m.orders {
		all = append(all, *o)
	}
	if err := m.store.SaveOrders(all); err != nil {
		m.restoreAll(taken)
		return fmt.Errorf("save upgraded orders: %w", err)
	}
	if len(taken) > 0 {
		m.logger.Info("Reserved configs for pending orders", zap.Int("count", len(taken)))
	}
	return nil
}

func (m *OrderManager) restoreAll(configs []models.Config) {
	for _, cfg := range configs {
		m.restoreLocked(cfg)
	}
}

// IsAdmin reports whether userID may decide orders.
func (m *OrderManager) IsAdmin(userID int64) bool {
	_, ok := m.admins[userID]
	return ok
}

// CreateOrder reserves the config for the buyer and records a pending order.
func (m *OrderManager) CreateOrder(ctx context.Context, userID int64, username string, configID int) (models.Order, error) {
	if m.users != nil && m.users.IsBlacklisted(userID) {
		return models.Order{}, ErrBlacklisted
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	cfg, err := m.catalog.Take(configID)
	if err != nil {
		return models.Order{}, err
	}

	id := m.newID()
	for m.orders[id] != nil {
		id = m.newID()
	}
	snap := cfg
	order := &models.Order{
		ID:        id,
		UserID:    userID,
		Username:  username,
		ConfigID:  cfg.ID,
		Snapshot:  &snap,
		Status:    models.OrderStatusPending,
		CreatedAt: m.now(),
	}

	if err := m.saveLocked(order); err != nil {
		if _, rerr := m.catalog.Restore(cfg); rerr != nil {
			m.logger.Error("Failed to restore config after order save failure",
				zap.Int("config_id", cfg.ID), zap.Error(rerr))
		}
		return models.Order{}, err
	}

	m.logger.Info("Order created",
		zap.String("order_id", id),
		zap.Int64("user_id", userID),
		zap.Int("config_id", cfg.ID))
	return order.Clone(), nil
}

// AttachReceipt stores the buyer's payment receipt and sends it to the
// admins. Only the first receipt of an order is accepted.
func (m *OrderManager) AttachReceipt(ctx context.Context, orderID string, userID int64, photo string) (models.Order, error) {
	if photo == "" {
		return models.Order{}, invalid("receipt", "photo is missing")
	}

	m.mu.Lock()
	cur, err := m.lookupLocked(orderID)
	if err == nil && cur.UserID != userID {
		err = fmt.Errorf("order %s: %w", orderID, ErrNotFound)
	}
	if err != nil {
		m.mu.Unlock()
		return models.Order{}, err
	}
	if cur.Status.Terminal() {
		m.mu.Unlock()
		return cur.Clone(), ErrAlreadyProcessed
	}
	if cur.ReceiptPhoto != "" {
		m.mu.Unlock()
		return cur.Clone(), ErrReceiptAlreadySubmitted
	}

	next := cur.Clone()
	next.ReceiptPhoto = photo
	if err := m.saveLocked(&next); err != nil {
		m.mu.Unlock()
		return models.Order{}, err
	}
	submitted := m.viewLocked(&next)
	m.mu.Unlock()

	refs := m.notifier.ReceiptSubmitted(ctx, submitted)
	if len(refs) == 0 {
		m.logger.Warn("Receipt reached no admin", zap.String("order_id", orderID))
		return submitted, nil
	}

	m.mu.Lock()
	next = m.orders[orderID].Clone()
	next.AdminMessages = append(next.AdminMessages, refs...)
	if err := m.saveLocked(&next); err != nil {
		// Keep the refs in memory so a later decision can still edit them.
		m.logger.Error("Failed to record admin messages", zap.String("order_id", orderID), zap.Error(err))
		m.orders[orderID] = &next
	}
	result := m.viewLocked(&next)
	m.mu.Unlock()

	// An admin may have decided from the order list before the fan-out
	// finished; those late messages still carry live buttons.
	if result.Status.Terminal() {
		late := result
		late.AdminMessages = refs
		m.notifier.Finalize(ctx, late)
	}
	return result, nil
}

// Decide moves a pending order to its terminal state. The returned error
// wraps ErrDelivery when the transition was committed but the buyer could
// not be notified; the order is returned in that case too.
func (m *OrderManager) Decide(ctx context.Context, orderID string, decision Decision, actorID int64) (models.Order, error) {
	status, ok := decision.status()
	if !ok {
		return models.Order{}, invalid("decision", "must be approve or reject")
	}
	if !m.IsAdmin(actorID) {
		return models.Order{}, ErrForbidden
	}

	m.mu.Lock()
	cur, err := m.lookupLocked(orderID)
	if err != nil {
		m.mu.Unlock()
		return models.Order{}, err
	}
	if cur.Status != models.OrderStatusPending {
		m.mu.Unlock()
		return cur.Clone(), ErrAlreadyProcessed
	}

	next := cur.Clone()
	legacy := next.Snapshot == nil
	if legacy && status == models.OrderStatusApproved {
		// Only reached when the unit was missing at load time.
		cfg, err := m.catalog.Take(next.ConfigID)
		if err != nil {
			m.mu.Unlock()
			return cur.Clone(), err
		}
		next.Snapshot = &cfg
	}

	at := m.now()
	next.Status = status
	next.DecidedBy = actorID
	next.DecidedAt = &at
	if err := m.saveLocked(&next); err != nil {
		if legacy && next.Snapshot != nil {
			m.restoreLocked(*next.Snapshot)
		}
		m.mu.Unlock()
		return cur.Clone(), err
	}
	if status == models.OrderStatusRejected && !legacy {
		m.restoreLocked(*next.Snapshot)
	}
	decided := m.viewLocked(&next)
	m.mu.Unlock()

	m.logger.Info("Order decided",
		zap.String("order_id", orderID),
		zap.String("status", string(status)),
		zap.Int64("actor_id", actorID))

	if status == models.OrderStatusRejected && m.opts.BlacklistOnReject && m.users != nil && !m.IsAdmin(decided.UserID) {
		if _, err := m.users.Ban(decided.UserID); err != nil {
			m.logger.Error("Failed to blacklist buyer", zap.Int64("user_id", decided.UserID), zap.Error(err))
		}
	}

	var deliverErr error
	if status == models.OrderStatusApproved {
		deliverErr = m.notifier.OrderApproved(ctx, decided)
	} else {
		deliverErr = m.notifier.OrderRejected(ctx, decided)
	}
	m.notifier.Finalize(ctx, decided)

	if deliverErr != nil {
		if !errors.Is(deliverErr, ErrDelivery) {
			deliverErr = fmt.Errorf("%w: %w", ErrDelivery, deliverErr)
		}
		return decided, deliverErr
	}
	return decided, nil
}

// RemoveConfig deletes a catalog entry unless a pending order that was
// created without a snapshot still points at it.
func (m *OrderManager) RemoveConfig(id int) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, o := range m.orders {
		if o.Status == models.OrderStatusPending && o.Snapshot == nil && o.ConfigID == id {
			return false, ErrConfigInUse
		}
	}
	return m.catalog.Remove(id)
}

func (m *OrderManager) Get(orderID string) (models.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	o, err := m.lookupLocked(orderID)
	if err != nil {
		return models.Order{}, err
	}
	return o.Clone(), nil
}

// List returns one page of orders, newest first, and the total count.
// Pages start at 1.
func (m *OrderManager) List(page, size int) ([]models.Order, int) {
	if page < 1 {
		page = 1
	}
	if size < 1 {
		size = 10
	}

	all := m.sorted(nil)
	start := (page - 1) * size
	if start >= len(all) {
		return nil, len(all)
	}
	end := start + size
	if end > len(all) {
		end = len(all)
	}
	return all[start:end], len(all)
}

// ListByUser returns the buyer's orders, newest first.
func (m *OrderManager) ListByUser(userID int64) []models.Order {
	return m.sorted(func(o *models.Order) bool { return o.UserID == userID })
}

// PendingAwaitingReceipt returns the buyer's newest pending order that has
// no receipt yet.
func (m *OrderManager) PendingAwaitingReceipt(userID int64) (models.Order, bool) {
	for _, o := range m.ListByUser(userID) {
		if o.Status == models.OrderStatusPending && o.ReceiptPhoto == "" {
			return o, true
		}
	}
	return models.Order{}, false
}

func (m *OrderManager) CountByStatus() map[models.OrderStatus]int {
	m.mu.Lock()
	defer m.mu.Unlock()

	counts := map[models.OrderStatus]int{
		models.OrderStatusPending:  0,
		models.OrderStatusApproved: 0,
		models.OrderStatusRejected: 0,
	}
	for _, o := range m.orders {
		counts[o.Status]++
	}
	return counts
}

// Revenue sums the snapshot price of approved orders.
func (m *OrderManager) Revenue() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	var total int64
	for _, o := range m.orders {
		if o.Status == models.OrderStatusApproved && o.Snapshot != nil {
			total += o.Snapshot.Price
		}
	}
	return total
}

func (m *OrderManager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.orders)
}

func (m *OrderManager) sorted(keep func(*models.Order) bool) []models.Order {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]models.Order, 0, len(m.orders))
	for _, o := range m.orders {
		if keep == nil || keep(o) {
			out = append(out, o.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	return out
}

func (m *OrderManager) lookupLocked(orderID string) (*models.Order, error) {
	o, ok := m.orders[orderID]
	if !ok {
		return nil, fmt.Errorf("order %s: %w", orderID, ErrNotFound)
	}
	return o, nil
}

// viewLocked copies o for notifications. Orders created before snapshots
// existed borrow the catalog entry; the stored order is left untouched.
func (m *OrderManager) viewLocked(o *models.Order) models.Order {
	view := o.Clone()
	if view.Snapshot == nil {
		if cfg, ok := m.catalog.Get(view.ConfigID); ok {
			view.Snapshot = &cfg
		}
	}
	return view
}

func (m *OrderManager) restoreLocked(cfg models.Config) {
	restored, err := m.catalog.Restore(cfg)
	if err != nil {
		m.logger.Error("Failed to restore config", zap.Int("config_id", cfg.ID), zap.Error(err))
		return
	}
	if restored.ID != cfg.ID {
		m.logger.Warn("Config restored under a new id",
			zap.Int("old_id", cfg.ID), zap.Int("new_id", restored.ID))
	}
}

// saveLocked persists the ledger with o in place and only then publishes o.
func (m *OrderManager) saveLocked(o *models.Order) error {
	all := make([]models.Order, 0, len(m.orders)+1)
	for id, cur := range m.orders {
		if id == o.ID {
			continue
		}
		all = append(all, *cur)
	}
	all = append(all, *o)
	if err := m.store.SaveOrders(all); err != nil {
		return fmt.Errorf("save orders: %w", err)
	}
	stored := o.Clone()
	m.orders[o.ID] = &stored
	return nil
}
