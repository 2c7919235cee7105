package bot

import (
	"errors"
	"fmt"
	"html"
	"strings"

	"go.uber.org/zap"
	tele "gopkg.in/telebot.v3"

	"vpnshop/internal/config"
	"vpnshop/internal/models"
	"vpnshop/internal/pkg/utils"
	"vpnshop/internal/service"
)

// maxOwnOrders caps the /my_orders listing.
const maxOwnOrders = 10

// ── /start ────────────────────────────────────────────────────────────

func (b *Bot) handleStart(c tele.Context) error {
	sender := c.Sender()
	b.sessions.reset(sender.ID)
	b.register(sender.ID)
	return c.Send(msgWelcome, mainMenu(b.orders.IsAdmin(sender.ID)))
}

func (b *Bot) handleBack(c tele.Context) error {
	b.sessions.reset(c.Sender().ID)
	return b.editOrSend(c, msgWelcome, mainMenu(b.orders.IsAdmin(c.Sender().ID)))
}

func (b *Bot) handleSupport(c tele.Context) error {
	text := "📞 پشتیبانی: " + html.EscapeString(b.cfg.Bot.SupportUsername)
	return b.editOrSend(c, text, backMenu())
}

func (b *Bot) handleCancel(c tele.Context) error {
	if b.sessions.reset(c.Sender().ID) {
		return c.Send(msgCancelled)
	}
	return c.Send(msgNothingToDo)
}

func (b *Bot) register(userID int64) {
	if _, err := b.users.Register(userID); err != nil {
		b.logger.Error("Failed to register user", zap.Int64("user_id", userID), zap.Error(err))
	}
}

// ── Text routing ──────────────────────────────────────────────────────

func (b *Bot) handleText(c tele.Context) error {
	if !isPrivate(c) {
		return nil
	}
	sender := c.Sender()
	sess := b.sessions.get(sender.ID)

	switch sess.step {
	case stepAddVolume, stepAddDuration, stepAddPrice, stepAddLink, stepRemoveID:
		if !b.orders.IsAdmin(sender.ID) {
			b.sessions.reset(sender.ID)
			return c.Send(msgNoAccess)
		}
		return b.continueAdminConversation(c, sess)
	case stepReceipt:
		return c.Send(msgSendReceipt)
	}

	b.register(sender.ID)
	return c.Send(msgWelcome, mainMenu(b.orders.IsAdmin(sender.ID)))
}

// ── Buying ────────────────────────────────────────────────────────────

func (b *Bot) handleBuyMenu(c tele.Context) error {
	groups := b.catalog.Groups()
	if len(groups) == 0 {
		return b.editOrSend(c, msgNoConfigs, backMenu())
	}
	return b.editOrSend(c, msgChooseConfig, buyMenu(groups))
}

func (b *Bot) handlePick(c tele.Context) error {
	id, err := service.ParseID(c.Data())
	if err != nil {
		return c.Respond(&tele.CallbackResponse{Text: msgUnknownOption})
	}

	sender := c.Sender()
	b.register(sender.ID)

	ctx, cancel := b.context()
	defer cancel()
	order, err := b.orders.CreateOrder(ctx, sender.ID, sender.Username, id)
	switch {
	case errors.Is(err, service.ErrNotFound):
		return b.editOrSend(c, msgConfigGone, backMenu())
	case err != nil:
		if !errors.Is(err, service.ErrBlacklisted) {
			b.logger.Error("Failed to create order",
				zap.Int64("user_id", sender.ID), zap.Int("config_id", id), zap.Error(err))
		}
		return b.deny(c, errorText(err))
	}

	b.sessions.set(sender.ID, session{step: stepReceipt, orderID: order.ID})
	return b.editOrSend(c, paymentText(order, b.cfg.Shop), paymentMenu(order.ID))
}

func paymentText(order models.Order, shop config.ShopConfig) string {
	var price int64
	label := fmt.Sprintf("#%d", order.ConfigID)
	if order.Snapshot != nil {
		price = order.Snapshot.Price
		label = order.Snapshot.Label()
	}
	return fmt.Sprintf("🛒 %s\nلطفاً مبلغ %s تومان به شماره کارت زیر واریز کنید:\n<code>%s</code>\nنام: %s\nID سفارش: <code>%s</code>\n\nپس از واریز، روی «%s» بزنید و تصویر رسید را بفرستید.",
		html.EscapeString(label),
		utils.FormatNumber(price),
		html.EscapeString(shop.CardNumber),
		html.EscapeString(shop.CardName),
		html.EscapeString(order.ID),
		btnReceipt.Text)
}

// ── Receipts ──────────────────────────────────────────────────────────

func (b *Bot) handleReceiptButton(c tele.Context) error {
	sender := c.Sender()
	order, err := b.orders.Get(c.Data())
	switch {
	case err != nil || order.UserID != sender.ID:
		return b.deny(c, msgOrderNotFound)
	case order.Status.Terminal():
		return b.deny(c, msgProcessed)
	case order.ReceiptPhoto != "":
		return b.deny(c, msgReceiptExists)
	}

	b.sessions.set(sender.ID, session{step: stepReceipt, orderID: order.ID})
	return c.Send(msgSendReceipt)
}

// handlePhoto attaches a photo to the order the buyer is paying for: the
// one from the current conversation, else the newest pending order still
// waiting for a receipt.
func (b *Bot) handlePhoto(c tele.Context) error {
	if !isPrivate(c) || c.Message().Photo == nil {
		return nil
	}
	sender := c.Sender()

	orderID := ""
	if sess := b.sessions.get(sender.ID); sess.step == stepReceipt {
		orderID = sess.orderID
	}
	if orderID == "" {
		if order, ok := b.orders.PendingAwaitingReceipt(sender.ID); ok {
			orderID = order.ID
		}
	}
	if orderID == "" {
		return c.Send(msgNoOpenOrder)
	}

	ctx, cancel := b.context()
	defer cancel()
	_, err := b.orders.AttachReceipt(ctx, orderID, sender.ID, c.Message().Photo.FileID)
	if err != nil {
		if !errors.Is(err, service.ErrInvalidState) && !errors.Is(err, service.ErrNotFound) {
			b.logger.Error("Failed to attach receipt",
				zap.String("order_id", orderID), zap.Int64("user_id", sender.ID), zap.Error(err))
			return c.Send(msgGenericError)
		}
		b.sessions.reset(sender.ID)
		return c.Send(errorText(err))
	}

	b.sessions.reset(sender.ID)
	return c.Send(msgReceiptOK)
}

// ── Order history ─────────────────────────────────────────────────────

func (b *Bot) handleMyOrders(c tele.Context) error {
	orders := b.orders.ListByUser(c.Sender().ID)
	if len(orders) == 0 {
		return b.editOrSend(c, msgNoOrders, backMenu())
	}
	if len(orders) > maxOwnOrders {
		orders = orders[:maxOwnOrders]
	}

	var sb strings.Builder
	sb.WriteString("🧾 سفارش‌های شما:\n")
	for _, o := range orders {
		fmt.Fprintf(&sb, "\n%s\n📋 <code>%s</code>\n⚙️ %s | 💰 %s تومان\n🕒 %s\n",
			statusText(o), html.EscapeString(o.ID), html.EscapeString(orderLabel(o)),
			utils.FormatNumber(orderPrice(o)), utils.FormatTime(o.CreatedAt))
	}
	return b.editOrSend(c, sb.String(), backMenu())
}

func statusText(o models.Order) string {
	switch o.Status {
	case models.OrderStatusApproved:
		return "✅ تأیید شده"
	case models.OrderStatusRejected:
		return "❌ رد شده"
	}
	if o.ReceiptPhoto == "" {
		return "⏳ در انتظار رسید"
	}
	return "⏳ در انتظار بررسی"
}

func orderLabel(o models.Order) string {
	if o.Snapshot != nil {
		return o.Snapshot.Label()
	}
	return fmt.Sprintf("#%d", o.ConfigID)
}

func orderPrice(o models.Order) int64 {
	if o.Snapshot != nil {
		return o.Snapshot.Price
	}
	return 0
}
