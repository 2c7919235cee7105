package bot

import (
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
	tele "gopkg.in/telebot.v3"
)

// maxTrackedUsers bounds the limiter table; it is cleared when full.
const maxTrackedUsers = 10000

// rateLimiter gives every user a token bucket refilled over one minute.
type rateLimiter struct {
	mu       sync.Mutex
	limiters map[int64]*rate.Limiter
	limit    rate.Limit
	burst    int
}

// newRateLimiter returns nil when perMinute is zero, which disables limiting.
func newRateLimiter(perMinute int) *rateLimiter {
	if perMinute <= 0 {
		return nil
	}
	return &rateLimiter{
		limiters: make(map[int64]*rate.Limiter),
		limit:    rate.Every(time.Minute / time.Duration(perMinute)),
		burst:    perMinute,
	}
}

func (r *rateLimiter) Allow(userID int64) bool {
	if r == nil {
		return true
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	l, ok := r.limiters[userID]
	if !ok {
		if len(r.limiters) >= maxTrackedUsers {
			r.limiters = make(map[int64]*rate.Limiter)
		}
		l = rate.NewLimiter(r.limit, r.burst)
		r.limiters[userID] = l
	}
	return l.Allow()
}

// guard drops updates from blacklisted users and throttles chatty ones.
// Admins pass through untouched.
func (b *Bot) guard(next tele.HandlerFunc) tele.HandlerFunc {
	return func(c tele.Context) error {
		sender := c.Sender()
		if sender == nil || b.orders.IsAdmin(sender.ID) {
			return next(c)
		}
		if b.users.IsBlacklisted(sender.ID) {
			return b.deny(c, msgBlocked)
		}
		if !b.limiter.Allow(sender.ID) {
			b.logger.Warn("Rate limit exceeded", zap.Int64("user_id", sender.ID))
			if c.Callback() != nil {
				return c.Respond(&tele.CallbackResponse{Text: msgSlowDown})
			}
			return nil
		}
		return next(c)
	}
}

// adminOnly guards the admin handler group.
func (b *Bot) adminOnly(next tele.HandlerFunc) tele.HandlerFunc {
	return func(c tele.Context) error {
		if c.Sender() == nil || !b.orders.IsAdmin(c.Sender().ID) {
			return b.deny(c, msgNoAccess)
		}
		return next(c)
	}
}

func (b *Bot) deny(c tele.Context, text string) error {
	if c.Callback() != nil {
		return c.Respond(&tele.CallbackResponse{Text: text, ShowAlert: true})
	}
	return c.Send(text)
}
