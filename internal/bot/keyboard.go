package bot

import (
	"fmt"
	"strconv"

	tele "gopkg.in/telebot.v3"

	"vpnshop/internal/notify"
	"vpnshop/internal/service"
)

// Callback endpoints. The unique is what telebot routes on; per-button
// data travels after it.
var (
	btnBuy        = tele.Btn{Unique: "buy", Text: "💳 خرید کانفیگ"}
	btnSupport    = tele.Btn{Unique: "support", Text: "📞 پشتیبانی"}
	btnMyOrders   = tele.Btn{Unique: "my_orders", Text: "🧾 سفارش‌های من"}
	btnAdminPanel = tele.Btn{Unique: "admin_panel", Text: "🔧 پنل ادمین"}
	btnBack       = tele.Btn{Unique: "back", Text: "🔙 بازگشت"}
	btnPick       = tele.Btn{Unique: "buy_config"}
	btnReceipt    = tele.Btn{Unique: "send_receipt", Text: "📤 ارسال رسید"}
	btnApprove    = tele.Btn{Unique: notify.UniqueApprove}
	btnReject     = tele.Btn{Unique: notify.UniqueReject}
)

// mainMenu is the /start keyboard; admins get an extra panel button.
func mainMenu(isAdmin bool) *tele.ReplyMarkup {
	menu := &tele.ReplyMarkup{}
	rows := []tele.Row{
		menu.Row(btnBuy),
		menu.Row(btnMyOrders, btnSupport),
	}
	if isAdmin {
		rows = append(rows, menu.Row(btnAdminPanel))
	}
	menu.Inline(rows...)
	return menu
}

// buyMenu lists one button per label with the number of units left.
// Choosing a label buys its oldest unit.
func buyMenu(groups []service.Group) *tele.ReplyMarkup {
	menu := &tele.ReplyMarkup{}
	rows := make([]tele.Row, 0, len(groups)+1)
	for _, g := range groups {
		text := fmt.Sprintf("%s (موجود: %d)", g.Label, len(g.Items))
		id := strconv.Itoa(g.Representative().ID)
		rows = append(rows, menu.Row(menu.Data(text, btnPick.Unique, id)))
	}
	rows = append(rows, menu.Row(btnBack))
	menu.Inline(rows...)
	return menu
}

func paymentMenu(orderID string) *tele.ReplyMarkup {
	menu := &tele.ReplyMarkup{}
	menu.Inline(menu.Row(menu.Data(btnReceipt.Text, btnReceipt.Unique, orderID)))
	return menu
}

func backMenu() *tele.ReplyMarkup {
	menu := &tele.ReplyMarkup{}
	menu.Inline(menu.Row(btnBack))
	return menu
}

// adminMenu is the reply keyboard with the admin commands.
func adminMenu() *tele.ReplyMarkup {
	menu := &tele.ReplyMarkup{ResizeKeyboard: true}
	menu.Reply(
		menu.Row(menu.Text("/add_config"), menu.Text("/remove_config")),
		menu.Row(menu.Text("/list_orders"), menu.Text("/approve_order")),
		menu.Row(menu.Text("/stats"), menu.Text("/backup")),
		menu.Row(menu.Text("/cancel")),
	)
	return menu
}
