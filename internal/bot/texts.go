package bot

import (
	"errors"

	"vpnshop/internal/service"
)

const (
	msgWelcome       = "سلام 👋\nبه ربات فروش کانفیگ خوش آمدید."
	msgChooseConfig  = "لطفاً یک کانفیگ انتخاب کنید:"
	msgNoConfigs     = "هیچ کانفیگی موجود نیست."
	msgBlocked       = "⛔ شما مسدود شده‌اید."
	msgNoAccess      = "❌ دسترسی ندارید."
	msgSlowDown      = "⏳ تعداد درخواست‌ها زیاد است. کمی صبر کنید."
	msgCancelled     = "عملیات لغو شد."
	msgNothingToDo   = "عملیاتی در جریان نیست."
	msgSendReceipt   = "📸 لطفاً تصویر رسید پرداخت را ارسال کنید."
	msgReceiptOK     = "✅ رسید شما دریافت شد و برای بررسی به ادمین ارسال شد.\nپس از تأیید، کانفیگ برای شما ارسال می‌شود."
	msgNoOpenOrder   = "سفارشی در انتظار رسید ندارید. ابتدا از منوی خرید یک کانفیگ انتخاب کنید."
	msgNoOrders      = "هنوز سفارشی ثبت نکرده‌اید."
	msgConfigGone    = "این کانفیگ دیگر موجود نیست. لطفاً دوباره از منوی خرید انتخاب کنید."
	msgOrderNotFound = "سفارش یافت نشد."
	msgProcessed     = "این سفارش قبلاً پردازش شده است!"
	msgReceiptExists = "رسید این سفارش قبلاً ثبت شده و در انتظار بررسی است."
	msgDeliveryFail  = "⚠️ وضعیت سفارش ثبت شد ولی ارسال پیام به کاربر ناموفق بود."
	msgGenericError  = "خطا در انجام عملیات. لطفاً دوباره تلاش کنید."
	msgUnknownOption = "گزینه نامعتبر است."

	msgAskVolume     = "حجم کانفیگ را وارد کنید (مثل 10GB):"
	msgAskDuration   = "مدت زمان (مثل 30 روز):"
	msgAskPrice      = "قیمت (به تومان، فقط عدد):"
	msgBadPrice      = "قیمت باید عدد باشد. لطفاً دوباره تلاش کنید:"
	msgAskLink       = "لینک کانفیگ را وارد کنید:"
	msgBadLink       = "لینک نامعتبر است. لینک باید با http:// یا https:// شروع شود. دوباره وارد کنید:"
	msgEmptyField    = "مقدار خالی است. لطفاً دوباره وارد کنید:"
	msgAskRemoveID   = "ID کانفیگ برای حذف:"
	msgBadID         = "ID نامعتبر. لطفاً یک عدد وارد کنید."
	msgConfigInUse   = "نمی‌توان کانفیگ را حذف کرد چون در سفارش‌ها استفاده شده است."
	msgConfigMissing = "کانفیگی با این ID یافت نشد."

	msgApproveUsage = "Order ID را وارد کنید: /approve_order <order_id>"
	msgRejectUsage  = "Order ID را وارد کنید: /reject_order <order_id>"
	msgBanUsage     = "ID کاربر را وارد کنید: /ban <user_id>"
	msgUnbanUsage   = "ID کاربر را وارد کنید: /unban <user_id>"

	noUsername = "بدون یوزرنیم"
)

// errorText maps a service error to the reply shown in chat.
func errorText(err error) string {
	switch {
	case errors.Is(err, service.ErrAlreadyProcessed):
		return msgProcessed
	case errors.Is(err, service.ErrReceiptAlreadySubmitted):
		return msgReceiptExists
	case errors.Is(err, service.ErrBlacklisted):
		return msgBlocked
	case errors.Is(err, service.ErrConfigInUse):
		return msgConfigInUse
	case errors.Is(err, service.ErrForbidden):
		return msgNoAccess
	case errors.Is(err, service.ErrNotFound):
		return msgOrderNotFound
	case errors.Is(err, service.ErrDelivery):
		return msgDeliveryFail
	}
	return msgGenericError
}
