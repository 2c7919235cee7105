package bootstrap

import (
	"fmt"

	"go.uber.org/zap"

	"vpnshop/internal/repository"
)

// ImportRecords copies every collection from src into dst. It refuses to
// touch a destination that already holds configs or orders and reports
// whether anything was imported.
func ImportRecords(dst, src repository.Store, logger *zap.Logger) (bool, error) {
	existingConfigs, err := dst.LoadConfigs()
	if err != nil {
		return false, err
	}
	existingOrders, err := dst.LoadOrders()
	if err != nil {
		return false, err
	}
	if len(existingConfigs) > 0 || len(existingOrders) > 0 {
		logger.Info("Destination store already has records, skipping import")
		return false, nil
	}

	configs, err := src.LoadConfigs()
	if err != nil {
		return false, err
	}
	orders, err := src.LoadOrders()
	if err != nil {
		return false, err
	}
	users, err := src.LoadUsers()
	if err != nil {
		return false, err
	}
	blacklist, err := src.LoadBlacklist()
	if err != nil {
		return false, err
	}

	if err := dst.SaveConfigs(configs); err != nil {
		return false, fmt.Errorf("import configs: %w", err)
	}
	if err := dst.SaveOrders(orders); err != nil {
		return false, fmt.Errorf("import orders: %w", err)
	}
	if err := dst.SaveUsers(users); err != nil {
		return false, fmt.Errorf("import users: %w", err)
	}
	if err := dst.SaveBlacklist(blacklist); err != nil {
		return false, fmt.Errorf("import blacklist: %w", err)
	}

	logger.Info("Imported records",
		zap.Int("configs", len(configs)),
		zap.Int("orders", len(orders)),
		zap.Int("users", len(users)),
		zap.Int("blacklist", len(blacklist)))
	return true, nil
}
