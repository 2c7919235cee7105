package service

import (
	"fmt"
	"net/url"
	"strings"
	"sync"

	"go.uber.org/zap"

	"vpnshop/internal/models"
	"vpnshop/internal/pkg/utils"
	"vpnshop/internal/repository"
)

// Group is one buyer-facing menu row: configs sharing volume and duration.
type Group struct {
	Label string
	Items []models.Config
}

// Representative is the config a collapsed menu row sells first.
func (g Group) Representative() models.Config {
	return g.Items[0]
}

// Catalog holds the unsold configs in insertion order.
// Every mutation is persisted before it becomes visible.
type Catalog struct {
	mu     sync.RWMutex
	items  []models.Config
	lastID int
	store  repository.ConfigStore
	logger *zap.Logger
}

// NewCatalog loads the catalog from store. Rows that fail validation or
// repeat an id are dropped with a warning. Stored links are only required
// to be non-empty so older non-http links keep selling.
func NewCatalog(store repository.ConfigStore, logger *zap.Logger) (*Catalog, error) {
	loaded, err := store.LoadConfigs()
	if err != nil {
		return nil, fmt.Errorf("load catalog: %w", err)
	}

	c := &Catalog{store: store, logger: logger}
	seen := make(map[int]struct{}, len(loaded))
	for _, cfg := range loaded {
		if _, dup := seen[cfg.ID]; dup {
			logger.Warn("Dropping config with duplicate id", zap.Int("config_id", cfg.ID))
			continue
		}
		if err := validateStored(cfg); err != nil {
			logger.Warn("Dropping invalid config", zap.Int("config_id", cfg.ID), zap.Error(err))
			continue
		}
		seen[cfg.ID] = struct{}{}
		c.items = append(c.items, cfg)
		if cfg.ID > c.lastID {
			c.lastID = cfg.ID
		}
	}
	return c, nil
}

// ReserveIDs raises the id high-water mark so ids referenced elsewhere
// (for example by orders) are never issued again.
func (c *Catalog) ReserveIDs(ids ...int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, id := range ids {
		if id > c.lastID {
			c.lastID = id
		}
	}
}

// Add validates and appends a new config with the next unused id.
func (c *Catalog) Add(volume, duration string, price int64, link string) (models.Config, error) {
	cfg := models.Config{
		Volume:   strings.TrimSpace(volume),
		Duration: strings.TrimSpace(duration),
		Price:    price,
		Link:     strings.TrimSpace(link),
	}
	if err := validateNew(cfg); err != nil {
		return models.Config{}, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	cfg.ID = c.lastID + 1
	next := append(c.cloneLocked(), cfg)
	if err := c.commitLocked(next); err != nil {
		return models.Config{}, err
	}
	c.lastID = cfg.ID
	return cfg, nil
}

// Remove deletes the config with id. The bool reports whether anything
// was removed; a missing id is not an error.
func (c *Catalog) Remove(id int) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	idx := c.indexLocked(id)
	if idx < 0 {
		return false, nil
	}
	if err := c.commitLocked(c.withoutLocked(idx)); err != nil {
		return false, err
	}
	return true, nil
}

// Take removes and returns the config with id in one step, so two
// buyers can never walk away with the same unit.
func (c *Catalog) Take(id int) (models.Config, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	idx := c.indexLocked(id)
	if idx < 0 {
		return models.Config{}, fmt.Errorf("config %d: %w", id, ErrNotFound)
	}
	cfg := c.items[idx]
	if err := c.commitLocked(c.withoutLocked(idx)); err != nil {
		return models.Config{}, err
	}
	return cfg, nil
}

// Restore appends a previously taken config back. The original id is
// kept when it is still free.
func (c *Catalog) Restore(cfg models.Config) (models.Config, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if cfg.ID <= 0 || c.indexLocked(cfg.ID) >= 0 {
		cfg.ID = c.lastID + 1
	}
	cfg.Position = 0
	next := append(c.cloneLocked(), cfg)
	if err := c.commitLocked(next); err != nil {
		return models.Config{}, err
	}
	if cfg.ID > c.lastID {
		c.lastID = cfg.ID
	}
	return cfg, nil
}

// Get returns the config with id.
func (c *Catalog) Get(id int) (models.Config, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	idx := c.indexLocked(id)
	if idx < 0 {
		return models.Config{}, false
	}
	return c.items[idx], true
}

// List returns a copy of the catalog in insertion order.
func (c *Catalog) List() []models.Config {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.cloneLocked()
}

func (c *Catalog) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

// Groups partitions the catalog by "{volume} - {duration}". Groups come
// in the order their label first appears; items keep insertion order.
func (c *Catalog) Groups() []Group {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var groups []Group
	index := make(map[string]int)
	for _, cfg := range c.items {
		label := cfg.Label()
		i, ok := index[label]
		if !ok {
			i = len(groups)
			index[label] = i
			groups = append(groups, Group{Label: label})
		}
		groups[i].Items = append(groups[i].Items, cfg)
	}
	return groups
}

// GroupBy is Groups keyed by label.
func (c *Catalog) GroupBy() map[string][]models.Config {
	out := make(map[string][]models.Config)
	for _, g := range c.Groups() {
		out[g.Label] = g.Items
	}
	return out
}

func (c *Catalog) indexLocked(id int) int {
	for i, cfg := range c.items {
		if cfg.ID == id {
			return i
		}
	}
	return -1
}

func (c *Catalog) cloneLocked() []models.Config {
	return append([]models.Config(nil), c.items...)
}

func (c *Catalog) withoutLocked(idx int) []models.Config {
	next := make([]models.Config, 0, len(c.items)-1)
	next = append(next, c.items[:idx]...)
	return append(next, c.items[idx+1:]...)
}

func (c *Catalog) commitLocked(next []models.Config) error {
	if err := c.store.SaveConfigs(next); err != nil {
		return fmt.Errorf("save catalog: %w", err)
	}
	c.items = next
	return nil
}

// ParsePrice parses a buyer-facing price: a strict positive digit sequence.
func ParsePrice(s string) (int64, error) {
	v, ok := utils.ParseDigits(s)
	if !ok {
		return 0, invalid("price", "must contain digits only")
	}
	if v <= 0 {
		return 0, invalid("price", "must be positive")
	}
	return v, nil
}

// ParseID parses a config id typed by an admin.
func ParseID(s string) (int, error) {
	v, ok := utils.ParseDigits(s)
	if !ok || v <= 0 || v > int64(^uint32(0)>>1) {
		return 0, invalid("id", "must be a positive number")
	}
	return int(v), nil
}

// ValidateLink requires an absolute http or https URL with a host.
func ValidateLink(link string) error {
	link = strings.TrimSpace(link)
	if link == "" {
		return invalid("link", "must not be empty")
	}
	u, err := url.Parse(link)
	if err != nil {
		return invalid("link", "is not a valid URL")
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return invalid("link", "scheme must be http or https")
	}
	if u.Host == "" {
		return invalid("link", "host is missing")
	}
	return nil
}

func validateNew(cfg models.Config) error {
	if err := validateFields(cfg); err != nil {
		return err
	}
	return ValidateLink(cfg.Link)
}

func validateStored(cfg models.Config) error {
	if cfg.ID <= 0 {
		return invalid("id", "must be positive")
	}
	if err := validateFields(cfg); err != nil {
		return err
	}
	if strings.TrimSpace(cfg.Link) == "" {
		return invalid("link", "must not be empty")
	}
	return nil
}

func validateFields(cfg models.Config) error {
	if strings.TrimSpace(cfg.Volume) == "" {
		return invalid("volume", "must not be empty")
	}
	if strings.TrimSpace(cfg.Duration) == "" {
		return invalid("duration", "must not be empty")
	}
	if cfg.Price <= 0 {
		return invalid("price", "must be positive")
	}
	return nil
}
