package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const defaultDedupTTL = 10 * time.Minute

// UpdateDeduper remembers which Telegram update ids were already handled,
// so a webhook retry cannot approve or buy twice.
type UpdateDeduper interface {
	// Seen marks updateID as handled and reports whether it already was.
	Seen(ctx context.Context, updateID int64) (bool, error)
	// Forget drops the mark so a retry of updateID is handled again.
	Forget(ctx context.Context, updateID int64) error
	Close() error
}

type redisUpdateDeduper struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

func (d *redisUpdateDeduper) key(updateID int64) string {
	return d.prefix + ":" + strconv.FormatInt(updateID, 10)
}

func (d *redisUpdateDeduper) Seen(ctx context.Context, updateID int64) (bool, error) {
	ok, err := d.client.SetNX(ctx, d.key(updateID), "1", d.ttl).Result()
	if err != nil {
		return false, err
	}
	// SetNX fails when the key exists: a duplicate.
	return !ok, nil
}

func (d *redisUpdateDeduper) Forget(ctx context.Context, updateID int64) error {
	return d.client.Del(ctx, d.key(updateID)).Err()
}

func (d *redisUpdateDeduper) Close() error {
	return d.client.Close()
}

type memoryUpdateDeduper struct {
	mu     sync.Mutex
	seen   map[int64]time.Time
	ttl    time.Duration
	nextGC time.Time
	now    func() time.Time
}

func newMemoryUpdateDeduper(ttl time.Duration) *memoryUpdateDeduper {
	d := &memoryUpdateDeduper{
		seen: make(map[int64]time.Time),
		ttl:  ttl,
		now:  time.Now,
	}
	d.nextGC = d.now().Add(ttl)
	return d
}

func (d *memoryUpdateDeduper) Seen(_ context.Context, updateID int64) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	if exp, ok := d.seen[updateID]; ok && exp.After(now) {
		return true, nil
	}
	d.seen[updateID] = now.Add(d.ttl)

	if now.After(d.nextGC) {
		for id, exp := range d.seen {
			if !exp.After(now) {
				delete(d.seen, id)
			}
		}
		d.nextGC = now.Add(d.ttl)
	}
	return false, nil
}

func (d *memoryUpdateDeduper) Forget(_ context.Context, updateID int64) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.seen, updateID)
	return nil
}

func (d *memoryUpdateDeduper) Close() error {
	return nil
}

// NewUpdateDeduper builds a Redis deduper. Without an address, or when
// Redis does not answer, it returns an in-memory deduper; the ping error
// is returned alongside so the caller can log the fallback.
func NewUpdateDeduper(addr, pass string, db int, ttl time.Duration) (UpdateDeduper, error) {
	if ttl <= 0 {
		ttl = defaultDedupTTL
	}
	if addr == "" {
		return newMemoryUpdateDeduper(ttl), nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: pass,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return newMemoryUpdateDeduper(ttl), err
	}

	return &redisUpdateDeduper{
		client: client,
		prefix: "vpnshop:update",
		ttl:    ttl,
	}, nil
}

// TelegramUpdateDedup answers a re-delivered update with 200 without
// passing it on. Lookup failures let the update through, and an update
// the handler did not accept is unmarked.
func TelegramUpdateDedup(deduper UpdateDeduper, logger *zap.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if deduper == nil {
				return next(c)
			}

			req := c.Request()
			if req.Body == nil {
				return next(c)
			}
			rawBody, err := io.ReadAll(req.Body)
			if err != nil {
				return next(c)
			}
			req.Body = io.NopCloser(bytes.NewReader(rawBody))

			var payload struct {
				UpdateID int64 `json:"update_id"`
			}
			if err := json.Unmarshal(rawBody, &payload); err != nil || payload.UpdateID == 0 {
				return next(c)
			}

			dup, err := deduper.Seen(req.Context(), payload.UpdateID)
			if err != nil {
				logger.Warn("Update dedup lookup failed", zap.Int64("update_id", payload.UpdateID), zap.Error(err))
				return next(c)
			}
			if dup {
				logger.Info("Dropping duplicate update", zap.Int64("update_id", payload.UpdateID))
				return c.NoContent(http.StatusOK)
			}

			// Only a handled update stays marked; anything else must be
			// retryable.
			err = next(c)
			if err != nil || c.Response().Status >= http.StatusMultipleChoices {
				if ferr := deduper.Forget(context.WithoutCancel(req.Context()), payload.UpdateID); ferr != nil {
					logger.Warn("Update dedup forget failed", zap.Int64("update_id", payload.UpdateID), zap.Error(ferr))
				}
			}
			return err
		}
	}
}
