package notify

import (
	"context"
	"errors"
	"fmt"
	"html"
	"strings"

	"go.uber.org/zap"

	"vpnshop/internal/models"
	"vpnshop/internal/pkg/telegram"
	"vpnshop/internal/pkg/utils"
	"vpnshop/internal/service"
)

// Callback uniques of the admin decision buttons.
const (
	UniqueApprove = "approve"
	UniqueReject  = "reject"
)

// ErrDelivery is the service-level delivery sentinel.
var ErrDelivery = service.ErrDelivery

// DeliveryError is a failed send to one chat.
type DeliveryError struct {
	ChatID int64
	Err    error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("deliver to %d: %v", e.ChatID, e.Err)
}

func (e *DeliveryError) Unwrap() []error {
	return []error{ErrDelivery, e.Err}
}

// Sender is the subset of the Bot API the dispatcher needs.
type Sender interface {
	SendMessage(ctx context.Context, chatID int64, text string, markup *telegram.InlineKeyboard) (int, error)
	SendPhoto(ctx context.Context, chatID int64, photo, caption string, markup *telegram.InlineKeyboard) (int, error)
	SendPhotoBytes(ctx context.Context, chatID int64, data []byte, filename, caption string) (int, error)
	SendDocument(ctx context.Context, chatID int64, data []byte, filename, caption string) (int, error)
	EditMessageCaption(ctx context.Context, chatID int64, messageID int, caption string, markup *telegram.InlineKeyboard) error
	EditMessageText(ctx context.Context, chatID int64, messageID int, text string, markup *telegram.InlineKeyboard) error
}

type Options struct {
	Admins          []int64
	GroupID         int64
	SupportUsername string
	DeliverQR       bool
}

// Dispatcher fans order events out to the buyer, every admin and the
// optional admin group. A failed recipient is logged and skipped.
type Dispatcher struct {
	sender Sender
	opts   Options
	logger *zap.Logger

	renderQR func(string) ([]byte, error)
}

var _ service.Notifier = (*Dispatcher)(nil)

func NewDispatcher(sender Sender, opts Options, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{sender: sender, opts: opts, logger: logger, renderQR: RenderQR}
}

// Recipients returns admins followed by the admin group, without duplicates.
func (d *Dispatcher) Recipients() []int64 {
	seen := make(map[int64]struct{}, len(d.opts.Admins)+1)
	out := make([]int64, 0, len(d.opts.Admins)+1)
	add := func(id int64) {
		if id == 0 {
			return
		}
		if _, ok := seen[id]; ok {
			return
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	for _, id := range d.opts.Admins {
		add(id)
	}
	add(d.opts.GroupID)
	return out
}

// ReceiptSubmitted sends the receipt with decision buttons and returns a
// reference for every message that went out.
func (d *Dispatcher) ReceiptSubmitted(ctx context.Context, order models.Order) []models.MessageRef {
	caption := ReceiptCaption(order)
	kb := DecisionKeyboard(order.ID)

	var refs []models.MessageRef
	for _, chatID := range d.Recipients() {
		msgID, err := d.sender.SendPhoto(ctx, chatID, order.ReceiptPhoto, caption, kb)
		if err != nil {
			d.warn("Failed to send receipt", order.ID, &DeliveryError{ChatID: chatID, Err: err})
			continue
		}
		refs = append(refs, models.MessageRef{ChatID: chatID, MessageID: msgID})
	}
	return refs
}

// OrderApproved delivers the config link to the buyer. The QR image is a
// best-effort extra.
func (d *Dispatcher) OrderApproved(ctx context.Context, order models.Order) error {
	if order.Snapshot == nil {
		return &DeliveryError{ChatID: order.UserID, Err: errors.New("order has no config")}
	}
	link := order.Snapshot.Link
	text := fmt.Sprintf("✅ پرداخت شما تأیید شد!\n🎉 کانفیگ شما (%s):\n<code>%s</code>",
		html.EscapeString(order.Snapshot.Label()), html.EscapeString(link))
	if _, err := d.sender.SendMessage(ctx, order.UserID, text, nil); err != nil {
		return &DeliveryError{ChatID: order.UserID, Err: err}
	}

	if d.opts.DeliverQR {
		png, err := d.renderQR(link)
		if err == nil {
			_, err = d.sender.SendPhotoBytes(ctx, order.UserID, png, "config.png", "📷 QR کانفیگ")
		}
		if err != nil {
			d.warn("Failed to send config QR", order.ID, &DeliveryError{ChatID: order.UserID, Err: err})
		}
	}
	return nil
}

func (d *Dispatcher) OrderRejected(ctx context.Context, order models.Order) error {
	text := "❌ پرداخت شما رد شد!\n⚠️ لطفاً به پشتیبانی مراجعه کنید: " + html.EscapeString(d.opts.SupportUsername)
	if _, err := d.sender.SendMessage(ctx, order.UserID, text, nil); err != nil {
		return &DeliveryError{ChatID: order.UserID, Err: err}
	}
	return nil
}

// Finalize rewrites every recorded admin message with the final state and
// removes its buttons. Text refs come from the older bot, which posted a
// plain message instead of the receipt photo.
func (d *Dispatcher) Finalize(ctx context.Context, order models.Order) {
	caption := FinalCaption(order)
	for _, ref := range order.AdminMessages {
		var err error
		if ref.Text {
			err = d.sender.EditMessageText(ctx, ref.ChatID, ref.MessageID, caption, telegram.EmptyKeyboard())
		} else {
			err = d.sender.EditMessageCaption(ctx, ref.ChatID, ref.MessageID, caption, telegram.EmptyKeyboard())
		}
		if err != nil {
			d.warn("Failed to finalize admin message", order.ID, &DeliveryError{ChatID: ref.ChatID, Err: err})
		}
	}
}

// AdminText sends text to every admin recipient and returns how many got it.
func (d *Dispatcher) AdminText(ctx context.Context, text string) int {
	sent := 0
	for _, chatID := range d.Recipients() {
		if _, err := d.sender.SendMessage(ctx, chatID, text, nil); err != nil {
			d.logger.Warn("Failed to send admin message", zap.Int64("chat_id", chatID), zap.Error(err))
			continue
		}
		sent++
	}
	return sent
}

// AdminDocument sends a file to every admin (not the group).
func (d *Dispatcher) AdminDocument(ctx context.Context, filename string, data []byte, caption string) int {
	sent := 0
	for _, chatID := range d.opts.Admins {
		if _, err := d.sender.SendDocument(ctx, chatID, data, filename, caption); err != nil {
			d.logger.Warn("Failed to send document",
				zap.Int64("chat_id", chatID), zap.String("file", filename), zap.Error(err))
			continue
		}
		sent++
	}
	return sent
}

func (d *Dispatcher) warn(msg, orderID string, err *DeliveryError) {
	d.logger.Warn(msg,
		zap.String("order_id", orderID),
		zap.Int64("chat_id", err.ChatID),
		zap.Error(err.Err))
}

// DecisionKeyboard holds the approve/reject buttons for an order.
func DecisionKeyboard(orderID string) *telegram.InlineKeyboard {
	return telegram.NewInlineKeyboard([]telegram.InlineButton{
		{Text: "✅ تأیید پرداخت", CallbackData: telegram.CallbackData(UniqueApprove, orderID)},
		{Text: "❌ رد پرداخت", CallbackData: telegram.CallbackData(UniqueReject, orderID)},
	})
}

// ReceiptCaption is the admin-facing description of a pending order.
func ReceiptCaption(order models.Order) string {
	return "📨 رسید پرداخت جدید\n" + orderDetails(order)
}

// FinalCaption replaces ReceiptCaption once the order is decided.
func FinalCaption(order models.Order) string {
	var head string
	switch order.Status {
	case models.OrderStatusApproved:
		head = "✅ پرداخت تأیید شد"
	case models.OrderStatusRejected:
		head = "❌ پرداخت رد شد"
	default:
		head = "⏳ در انتظار بررسی"
	}
	out := head + "\n" + orderDetails(order)
	if order.DecidedBy != 0 {
		out += fmt.Sprintf("\n👮 توسط: <code>%d</code>", order.DecidedBy)
	}
	return out
}

func orderDetails(order models.Order) string {
	var b strings.Builder
	user := fmt.Sprintf("<code>%d</code>", order.UserID)
	if order.Username != "" {
		user = "@" + html.EscapeString(order.Username) + " (" + user + ")"
	}
	fmt.Fprintf(&b, "👤 کاربر: %s\n", user)
	fmt.Fprintf(&b, "📋 سفارش: <code>%s</code>\n", html.EscapeString(order.ID))
	if order.Snapshot != nil {
		fmt.Fprintf(&b, "⚙️ کانفیگ: %s\n", html.EscapeString(order.Snapshot.Label()))
		fmt.Fprintf(&b, "💰 قیمت: %s تومان\n", utils.FormatNumber(order.Snapshot.Price))
	} else {
		fmt.Fprintf(&b, "⚙️ کانفیگ: #%d\n", order.ConfigID)
	}
	fmt.Fprintf(&b, "🕒 زمان: %s", utils.FormatTime(order.CreatedAt))
	return b.String()
}
