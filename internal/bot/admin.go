package bot

import (
	"bytes"
	"errors"
	"fmt"
	"html"
	"sort"
	"strings"

	"go.uber.org/zap"
	tele "gopkg.in/telebot.v3"

	"vpnshop/internal/models"
	"vpnshop/internal/pkg/utils"
	"vpnshop/internal/service"
)

const ordersPageSize = 10

func (b *Bot) handleAdminPanel(c tele.Context) error {
	return c.Send("🔧 پنل ادمین", adminMenu())
}

// ── Catalog conversations ─────────────────────────────────────────────

func (b *Bot) handleAddConfig(c tele.Context) error {
	b.sessions.set(c.Sender().ID, session{step: stepAddVolume})
	return c.Send(msgAskVolume)
}

func (b *Bot) handleRemoveConfig(c tele.Context) error {
	configs := b.catalog.List()
	if len(configs) == 0 {
		return c.Send(msgNoConfigs)
	}

	var sb strings.Builder
	sb.WriteString("📦 کانفیگ‌های موجود:\n")
	for _, cfg := range configs {
		fmt.Fprintf(&sb, "ID %d: %s | %s تومان\n", cfg.ID, html.EscapeString(cfg.Label()), utils.FormatNumber(cfg.Price))
	}
	sb.WriteString("\n" + msgAskRemoveID)

	b.sessions.set(c.Sender().ID, session{step: stepRemoveID})
	return c.Send(sb.String())
}

// continueAdminConversation consumes one answer of the add or remove
// conversation. Bad answers re-prompt without losing earlier ones.
func (b *Bot) continueAdminConversation(c tele.Context, sess session) error {
	userID := c.Sender().ID
	text := strings.TrimSpace(c.Text())

	switch sess.step {
	case stepAddVolume:
		if text == "" {
			return c.Send(msgEmptyField)
		}
		sess.draft.Volume = text
		sess.step = stepAddDuration
		b.sessions.set(userID, sess)
		return c.Send(msgAskDuration)

	case stepAddDuration:
		if text == "" {
			return c.Send(msgEmptyField)
		}
		sess.draft.Duration = text
		sess.step = stepAddPrice
		b.sessions.set(userID, sess)
		return c.Send(msgAskPrice)

	case stepAddPrice:
		price, err := service.ParsePrice(text)
		if err != nil {
			return c.Send(msgBadPrice)
		}
		sess.draft.Price = price
		sess.step = stepAddLink
		b.sessions.set(userID, sess)
		return c.Send(msgAskLink)

	case stepAddLink:
		if err := service.ValidateLink(text); err != nil {
			return c.Send(msgBadLink)
		}
		cfg, err := b.catalog.Add(sess.draft.Volume, sess.draft.Duration, sess.draft.Price, text)
		b.sessions.reset(userID)
		if err != nil {
			b.logger.Error("Failed to add config", zap.Int64("admin_id", userID), zap.Error(err))
			return c.Send(msgGenericError)
		}
		b.logger.Info("Config added", zap.Int("config_id", cfg.ID), zap.Int64("admin_id", userID))
		return c.Send(fmt.Sprintf("✅ کانفیگ جدید اضافه شد:\nID: %d\n⚙️ %s\n💰 %s تومان",
			cfg.ID, html.EscapeString(cfg.Label()), utils.FormatNumber(cfg.Price)))

	case stepRemoveID:
		id, err := service.ParseID(text)
		if err != nil {
			return c.Send(msgBadID)
		}
		b.sessions.reset(userID)
		removed, err := b.orders.RemoveConfig(id)
		switch {
		case errors.Is(err, service.ErrConfigInUse):
			return c.Send(msgConfigInUse)
		case err != nil:
			b.logger.Error("Failed to remove config", zap.Int("config_id", id), zap.Error(err))
			return c.Send(msgGenericError)
		case !removed:
			return c.Send(msgConfigMissing)
		}
		b.logger.Info("Config removed", zap.Int("config_id", id), zap.Int64("admin_id", userID))
		return c.Send(fmt.Sprintf("🗑 کانفیگ با ID %d حذف شد.", id))
	}
	return nil
}

// ── Orders ────────────────────────────────────────────────────────────

func (b *Bot) handleListOrders(c tele.Context) error {
	page := 1
	if args := c.Args(); len(args) > 0 {
		if p, ok := utils.ParseDigits(args[0]); ok && p > 0 {
			page = int(p)
		}
	}

	orders, total := b.orders.List(page, ordersPageSize)
	if total == 0 {
		return c.Send("هیچ سفارشی ثبت نشده است.")
	}
	pages := (total + ordersPageSize - 1) / ordersPageSize
	if len(orders) == 0 {
		return c.Send(fmt.Sprintf("صفحه %d وجود ندارد. تعداد صفحات: %d", page, pages))
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "📋 سفارش‌ها (صفحه %d از %d، مجموع %d):\n", page, pages, total)
	for _, o := range orders {
		fmt.Fprintf(&sb, "\n%s\n📋 <code>%s</code>\n👤 %s | ⚙️ %s | 💰 %s\n🕒 %s\n",
			statusText(o), html.EscapeString(o.ID), buyerText(o), html.EscapeString(orderLabel(o)),
			utils.FormatNumber(orderPrice(o)), utils.FormatTime(o.CreatedAt))
	}
	if page < pages {
		fmt.Fprintf(&sb, "\nصفحه بعد: /list_orders %d", page+1)
	}
	return c.Send(sb.String())
}

func buyerText(o models.Order) string {
	name := noUsername
	if o.Username != "" {
		name = "@" + html.EscapeString(o.Username)
	}
	return fmt.Sprintf("<code>%d</code> (%s)", o.UserID, name)
}

func (b *Bot) handleDecideCommand(decision service.Decision) tele.HandlerFunc {
	return func(c tele.Context) error {
		args := c.Args()
		if len(args) == 0 {
			if decision == service.DecisionApprove {
				return c.Send(msgApproveUsage)
			}
			return c.Send(msgRejectUsage)
		}

		order, err := b.decide(args[0], decision, c.Sender().ID)
		if err != nil && !errors.Is(err, service.ErrDelivery) {
			return c.Send(errorText(err))
		}
		text := decidedText(order)
		if err != nil {
			text += "\n" + msgDeliveryFail
		}
		return c.Send(text)
	}
}

// handleDecisionButton serves the approve/reject buttons under receipts.
// The dispatcher rewrites those messages itself, so only a toast is shown.
func (b *Bot) handleDecisionButton(decision service.Decision) tele.HandlerFunc {
	return func(c tele.Context) error {
		order, err := b.decide(c.Data(), decision, c.Sender().ID)
		switch {
		case errors.Is(err, service.ErrDelivery):
			return c.Respond(&tele.CallbackResponse{Text: msgDeliveryFail, ShowAlert: true})
		case err != nil:
			return c.Respond(&tele.CallbackResponse{Text: errorText(err), ShowAlert: true})
		}
		if order.Status == models.OrderStatusApproved {
			return c.Respond(&tele.CallbackResponse{Text: "✅ تأیید شد"})
		}
		return c.Respond(&tele.CallbackResponse{Text: "❌ رد شد"})
	}
}

func (b *Bot) decide(orderID string, decision service.Decision, actorID int64) (models.Order, error) {
	ctx, cancel := b.context()
	defer cancel()

	order, err := b.orders.Decide(ctx, strings.TrimSpace(orderID), decision, actorID)
	if err != nil && !errors.Is(err, service.ErrInvalidState) && !errors.Is(err, service.ErrNotFound) {
		b.logger.Warn("Order decision incomplete",
			zap.String("order_id", orderID),
			zap.String("decision", string(decision)),
			zap.Int64("admin_id", actorID),
			zap.Error(err))
	}
	return order, err
}

func decidedText(o models.Order) string {
	if o.Status == models.OrderStatusApproved {
		return fmt.Sprintf("✅ سفارش <code>%s</code> تأیید شد و کانفیگ برای کاربر ارسال شد.", html.EscapeString(o.ID))
	}
	return fmt.Sprintf("❌ سفارش <code>%s</code> رد شد.", html.EscapeString(o.ID))
}

// ── Users ─────────────────────────────────────────────────────────────

func (b *Bot) handleStats(c tele.Context) error {
	return c.Send(service.CollectStats(b.catalog, b.orders, b.users).Text())
}

func (b *Bot) handleBan(c tele.Context) error {
	id, ok := userArg(c)
	if !ok {
		return c.Send(msgBanUsage)
	}
	if b.orders.IsAdmin(id) {
		return c.Send("❌ نمی‌توان ادمین را مسدود کرد.")
	}
	changed, err := b.users.Ban(id)
	if err != nil {
		b.logger.Error("Failed to ban user", zap.Int64("user_id", id), zap.Error(err))
		return c.Send(msgGenericError)
	}
	if !changed {
		return c.Send(fmt.Sprintf("کاربر <code>%d</code> از قبل مسدود بود.", id))
	}
	b.logger.Info("User banned", zap.Int64("user_id", id), zap.Int64("admin_id", c.Sender().ID))
	return c.Send(fmt.Sprintf("⛔ کاربر <code>%d</code> مسدود شد.", id))
}

func (b *Bot) handleUnban(c tele.Context) error {
	id, ok := userArg(c)
	if !ok {
		return c.Send(msgUnbanUsage)
	}
	changed, err := b.users.Unban(id)
	if err != nil {
		b.logger.Error("Failed to unban user", zap.Int64("user_id", id), zap.Error(err))
		return c.Send(msgGenericError)
	}
	if !changed {
		return c.Send(fmt.Sprintf("کاربر <code>%d</code> مسدود نبود.", id))
	}
	b.logger.Info("User unbanned", zap.Int64("user_id", id), zap.Int64("admin_id", c.Sender().ID))
	return c.Send(fmt.Sprintf("✅ کاربر <code>%d</code> از مسدودی خارج شد.", id))
}

func userArg(c tele.Context) (int64, bool) {
	args := c.Args()
	if len(args) == 0 {
		return 0, false
	}
	id, ok := utils.ParseDigits(args[0])
	return id, ok && id > 0
}

// ── Backup ────────────────────────────────────────────────────────────

func (b *Bot) handleBackup(c tele.Context) error {
	files, err := b.store.Export()
	if err != nil {
		b.logger.Error("Failed to export store", zap.Error(err))
		return c.Send(msgGenericError)
	}

	names := make([]string, 0, len(files))
	for name := range files {
		names = append(names, name)
	}
	sort.Strings(names)

	sent := 0
	for _, name := range names {
		data := files[name]
		if len(data) == 0 {
			continue
		}
		doc := &tele.Document{
			File:     tele.FromReader(bytes.NewReader(data)),
			FileName: name,
			Caption:  "💾 " + name,
		}
		if err := c.Send(doc); err != nil {
			b.logger.Error("Failed to send backup file", zap.String("file", name), zap.Error(err))
			return c.Send(msgGenericError)
		}
		sent++
	}
	if sent == 0 {
		return c.Send("هیچ داده‌ای برای پشتیبان‌گیری وجود ندارد.")
	}
	return nil
}
