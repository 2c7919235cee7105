package service

import (
	"fmt"
	"strings"

	"vpnshop/internal/models"
	"vpnshop/internal/pkg/utils"
)

type Stats struct {
	Users       int
	Blacklisted int
	Configs     int
	Orders      int
	Pending     int
	Approved    int
	Rejected    int
	Revenue     int64
}

func CollectStats(catalog *Catalog, orders *OrderManager, users *Users) Stats {
	counts := orders.CountByStatus()
	return Stats{
		Users:       users.Count(),
		Blacklisted: len(users.Blacklist()),
		Configs:     catalog.Len(),
		Orders:      orders.Len(),
		Pending:     counts[models.OrderStatusPending],
		Approved:    counts[models.OrderStatusApproved],
		Rejected:    counts[models.OrderStatusRejected],
		Revenue:     orders.Revenue(),
	}
}

// Text renders the admin report.
func (s Stats) Text() string {
	var b strings.Builder
	b.WriteString("📊 آمار:\n")
	fmt.Fprintf(&b, "کاربران: %d\n", s.Users)
	fmt.Fprintf(&b, "مسدود شده: %d\n", s.Blacklisted)
	fmt.Fprintf(&b, "کانفیگ‌ها: %d\n", s.Configs)
	fmt.Fprintf(&b, "سفارش‌ها: %d\n", s.Orders)
	fmt.Fprintf(&b, "سفارش‌های در انتظار: %d\n", s.Pending)
	fmt.Fprintf(&b, "تأیید شده: %d\n", s.Approved)
	fmt.Fprintf(&b, "رد شده: %d\n", s.Rejected)
	fmt.Fprintf(&b, "درآمد: %s تومان", utils.FormatNumber(s.Revenue))
	return b.String()
}
