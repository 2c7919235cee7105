package bootstrap

import (
	"fmt"

	"gorm.io/gorm"

	"vpnshop/internal/models"
)

// Migrate ensures the record store tables exist.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(allModels()...); err != nil {
		return fmt.Errorf("auto migrate failed: %w", err)
	}
	return nil
}

func allModels() []interface{} {
	return []interface{}{
		&models.Config{},
		&models.Order{},
		&models.User{},
		&models.BlacklistEntry{},
	}
}
