package router

import (
	"net/http"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	"vpnshop/internal/config"
	"vpnshop/internal/middleware"
)

// Setup configures all routes for the Echo server.
func Setup(
	e *echo.Echo,
	cfg *config.Config,
	logger *zap.Logger,
	updateDeduper middleware.UpdateDeduper,
	webhookHandler http.Handler,
) {
	// Global middleware
	e.Use(echomw.Recover())
	e.Use(middleware.RequestLogger(logger))

	// Telegram webhook
	if webhookHandler != nil {
		webhookGroup := e.Group("/webhook")
		webhookGroup.Use(middleware.TelegramIPCheck(cfg.Bot.WebhookIPCheck))
		webhookGroup.Use(middleware.WebhookToken(cfg.Bot.Token))
		webhookGroup.Use(middleware.WebhookSecret(cfg.Bot.WebhookSecret))
		webhookGroup.Use(middleware.TelegramUpdateDedup(updateDeduper, logger))
		webhookGroup.POST("/:token", echo.WrapHandler(webhookHandler))
	} else {
		logger.Info("Telegram webhook route disabled")
	}

	// Uptime probes
	e.GET("/ping", func(c echo.Context) error {
		return c.String(http.StatusOK, "OK")
	})
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})
}
