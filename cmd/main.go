package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"vpnshop/internal/bootstrap"
	"vpnshop/internal/bot"
	"vpnshop/internal/config"
	cronpkg "vpnshop/internal/cron"
	"vpnshop/internal/middleware"
	"vpnshop/internal/notify"
	"vpnshop/internal/pkg/telegram"
	"vpnshop/internal/repository"
	"vpnshop/internal/router"
	"vpnshop/internal/service"
)

func main() {
	if hasArg("--bootstrap-db") {
		logger := newLogger(false)
		defer logger.Sync()
		if err := runDBBootstrap(logger); err != nil {
			logger.Fatal("Database bootstrap failed", zap.Error(err))
		}
		logger.Info("Database bootstrap completed")
		return
	}

	// --- Config ---
	cfg, err := config.Load()
	if err != nil {
		newLogger(false).Fatal("Failed to load config", zap.Error(err))
	}

	// --- Logger ---
	logger := newLogger(cfg.Server.IsDevelopment())
	defer logger.Sync()

	// --- Record store ---
	store, err := openStore(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to open record store", zap.Error(err))
	}

	// --- Services ---
	catalog, err := service.NewCatalog(store, logger)
	if err != nil {
		logger.Fatal("Failed to load catalog", zap.Error(err))
	}
	users, err := service.NewUsers(store)
	if err != nil {
		logger.Fatal("Failed to load users", zap.Error(err))
	}

	botAPI := telegram.NewBotAPI(cfg.Bot.Token)
	dispatcher := notify.NewDispatcher(botAPI, notify.Options{
		Admins:          cfg.Bot.AdminIDs,
		GroupID:         cfg.Bot.GroupID,
		SupportUsername: cfg.Bot.SupportUsername,
		DeliverQR:       cfg.Shop.DeliverQR,
	}, logger)

	orders, err := service.NewOrderManager(store, catalog, users, dispatcher, service.OrderOptions{
		Admins:            cfg.Bot.AdminIDs,
		BlacklistOnReject: cfg.Shop.BlacklistOnReject,
		GroupID:           cfg.Bot.GroupID,
	}, logger)
	if err != nil {
		logger.Fatal("Failed to load orders", zap.Error(err))
	}
	logger.Info("Records loaded",
		zap.String("driver", cfg.Store.Driver),
		zap.Int("configs", catalog.Len()),
		zap.Int("orders", orders.Len()),
		zap.Int("users", users.Count()))

	// --- Webhook Deduper (Redis with in-memory fallback) ---
	updateDeduper, dedupeErr := middleware.NewUpdateDeduper(
		cfg.Redis.Addr,
		cfg.Redis.Pass,
		cfg.Redis.DB,
		10*time.Minute,
	)
	if dedupeErr != nil {
		logger.Warn("Redis unavailable for webhook dedup, using in-memory fallback", zap.Error(dedupeErr))
	}
	defer updateDeduper.Close()

	// --- Bot ---
	teleBot, err := bot.New(cfg, bot.Deps{
		Catalog: catalog,
		Orders:  orders,
		Users:   users,
		Store:   store,
	}, logger)
	if err != nil {
		logger.Fatal("Failed to create bot", zap.Error(err))
	}

	// --- Routes ---
	e := echo.New()
	e.HideBanner = true
	router.Setup(e, cfg, logger, updateDeduper, teleBot.WebhookHandler())

	// --- Cron Scheduler ---
	scheduler := cronpkg.New(cfg.Cron, store, dispatcher, func() service.Stats {
		return service.CollectStats(catalog, orders, users)
	}, logger)
	if err := scheduler.Start(); err != nil {
		logger.Fatal("Failed to start scheduler", zap.Error(err))
	}

	// telebot registers the webhook with Telegram and consumes the updates
	// the Echo route queues; updates arriving before registration finishes
	// wait on the queue.
	go teleBot.Start()

	// --- Start Server ---
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	go func() {
		logger.Info("Starting vpnshop server", zap.String("addr", addr))
		if err := e.Start(addr); err != nil {
			logger.Info("Server stopped", zap.Error(err))
		}
	}()

	// --- Graceful Shutdown ---
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}

	teleBot.Stop()

	select {
	case <-scheduler.Stop().Done():
	case <-shutdownCtx.Done():
		logger.Warn("Cron jobs still running at shutdown")
	}

	logger.Info("Server exited")
}

func newLogger(development bool) *zap.Logger {
	var (
		logger *zap.Logger
		err    error
	)
	if development {
		logger, err = zap.NewDevelopment()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	return logger
}

func openStore(cfg *config.Config, logger *zap.Logger) (repository.Store, error) {
	if cfg.Store.Driver != config.StoreDriverMySQL {
		return repository.NewFileStore(cfg.Store.DataDir, logger)
	}
	db, err := config.NewDatabase(&cfg.Database, cfg.Server.IsDevelopment(), logger)
	if err != nil {
		return nil, err
	}
	if err := bootstrap.Migrate(db); err != nil {
		return nil, err
	}
	return repository.NewSQLStore(db), nil
}

// runDBBootstrap migrates the schema and imports the flat files from
// DATA_DIR into an empty database.
func runDBBootstrap(logger *zap.Logger) error {
	cfg, err := config.LoadDatabaseOnly()
	if err != nil {
		return err
	}
	sqlStore, err := openStore(cfg, logger)
	if err != nil {
		return err
	}
	fileStore, err := repository.NewFileStore(cfg.Store.DataDir, logger)
	if err != nil {
		return err
	}
	if _, err := bootstrap.ImportRecords(sqlStore, fileStore, logger); err != nil {
		return err
	}
	logger.Info("Schema migration and record import completed")
	return nil
}

func hasArg(name string) bool {
	for _, arg := range os.Args[1:] {
		if arg == name {
			return true
		}
	}
	return false
}
