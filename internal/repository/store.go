package repository

import "vpnshop/internal/models"

// File names used by the flat-file backend and by backups of any backend.
const (
	ConfigsFile   = "configs.json"
	OrdersFile    = "orders.json"
	UsersFile     = "users.txt"
	BlacklistFile = "blacklist.txt"
)

// ConfigStore persists the catalog as a whole.
type ConfigStore interface {
	LoadConfigs() ([]models.Config, error)
	SaveConfigs(configs []models.Config) error
}

// OrderStore persists the order ledger.
type OrderStore interface {
	LoadOrders() ([]models.Order, error)
	SaveOrders(orders []models.Order) error
}

// UserStore persists the user set and the blacklist.
type UserStore interface {
	LoadUsers() ([]int64, error)
	SaveUsers(ids []int64) error
	LoadBlacklist() ([]int64, error)
	SaveBlacklist(ids []int64) error
}

// Store is the full record store.
type Store interface {
	ConfigStore
	OrderStore
	UserStore
	// Export returns the serialized record files keyed by file name.
	Export() (map[string][]byte, error)
}
