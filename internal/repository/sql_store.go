package repository

import (
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"vpnshop/internal/models"
)

// SQLStore persists records through GORM. Configs and the blacklist are
// replaced as a whole inside a transaction; orders and users are upserted
// because both collections only grow.
type SQLStore struct {
	db *gorm.DB
}

func NewSQLStore(db *gorm.DB) *SQLStore {
	return &SQLStore{db: db}
}

func (s *SQLStore) LoadConfigs() ([]models.Config, error) {
	var configs []models.Config
	if err := s.db.Order("position ASC, id ASC").Find(&configs).Error; err != nil {
		return nil, fmt.Errorf("load configs: %w", err)
	}
	return configs, nil
}

func (s *SQLStore) SaveConfigs(configs []models.Config) error {
	rows := make([]models.Config, len(configs))
	for i, c := range configs {
		c.Position = i
		rows[i] = c
	}
	return s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(&models.Config{}).Error; err != nil {
			return err
		}
		if len(rows) == 0 {
			return nil
		}
		return tx.Create(&rows).Error
	})
}

func (s *SQLStore) LoadOrders() ([]models.Order, error) {
	var orders []models.Order
	if err := s.db.Order("created_at ASC, order_id ASC").Find(&orders).Error; err != nil {
		return nil, fmt.Errorf("load orders: %w", err)
	}
	return orders, nil
}

func (s *SQLStore) SaveOrders(orders []models.Order) error {
	if len(orders) == 0 {
		return nil
	}
	return s.db.Clauses(clause.OnConflict{UpdateAll: true}).Create(&orders).Error
}

func (s *SQLStore) LoadUsers() ([]int64, error) {
	var ids []int64
	if err := s.db.Model(&models.User{}).Order("created_at ASC").Pluck("id", &ids).Error; err != nil {
		return nil, fmt.Errorf("load users: %w", err)
	}
	return ids, nil
}

func (s *SQLStore) SaveUsers(ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	now := time.Now()
	rows := make([]models.User, len(ids))
	for i, id := range ids {
		rows[i] = models.User{ID: id, CreatedAt: now}
	}
	return s.db.Clauses(clause.OnConflict{DoNothing: true}).Create(&rows).Error
}

func (s *SQLStore) LoadBlacklist() ([]int64, error) {
	var ids []int64
	if err := s.db.Model(&models.BlacklistEntry{}).Order("created_at ASC").Pluck("user_id", &ids).Error; err != nil {
		return nil, fmt.Errorf("load blacklist: %w", err)
	}
	return ids, nil
}

func (s *SQLStore) SaveBlacklist(ids []int64) error {
	now := time.Now()
	return s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(&models.BlacklistEntry{}).Error; err != nil {
			return err
		}
		if len(ids) == 0 {
			return nil
		}
		rows := make([]models.BlacklistEntry, len(ids))
		for i, id := range ids {
			rows[i] = models.BlacklistEntry{UserID: id, CreatedAt: now}
		}
		return tx.Create(&rows).Error
	})
}

func (s *SQLStore) Export() (map[string][]byte, error) {
	return exportAll(s)
}
