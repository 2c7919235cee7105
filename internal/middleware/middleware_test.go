package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newEcho(handled *int, mws ...echo.MiddlewareFunc) *echo.Echo {
	e := echo.New()
	e.POST("/webhook/:token", func(c echo.Context) error {
		*handled++
		return c.NoContent(http.StatusOK)
	}, mws...)
	return e
}

func post(e *echo.Echo, path, body string, header ...string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestWebhookTokenRejectsWrongToken(t *testing.T) {
	handled := 0
	e := newEcho(&handled, WebhookToken("123:abc"))

	assert.Equal(t, http.StatusNotFound, post(e, "/webhook/nope", `{}`).Code)
	assert.Equal(t, 0, handled)

	assert.Equal(t, http.StatusOK, post(e, "/webhook/123:abc", `{}`).Code)
	assert.Equal(t, 1, handled)
}

func TestWebhookSecret(t *testing.T) {
	handled := 0
	e := newEcho(&handled, WebhookSecret("s3cret"))

	assert.Equal(t, http.StatusUnauthorized, post(e, "/webhook/x", `{}`).Code)
	assert.Equal(t, http.StatusOK, post(e, "/webhook/x", `{}`, SecretTokenHeader, "s3cret").Code)
	assert.Equal(t, 1, handled)

	open := newEcho(&handled, WebhookSecret(""))
	assert.Equal(t, http.StatusOK, post(open, "/webhook/x", `{}`).Code)
}

func TestTelegramIPCheck(t *testing.T) {
	handled := 0
	e := newEcho(&handled, TelegramIPCheck(true))

	assert.Equal(t, http.StatusForbidden, post(e, "/webhook/x", `{}`, echo.HeaderXRealIP, "8.8.8.8").Code)
	assert.Equal(t, http.StatusOK, post(e, "/webhook/x", `{}`, echo.HeaderXRealIP, "149.154.167.1").Code)

	off := newEcho(&handled, TelegramIPCheck(false))
	assert.Equal(t, http.StatusOK, post(off, "/webhook/x", `{}`, echo.HeaderXRealIP, "8.8.8.8").Code)
}

func TestUpdateDedupDropsReplays(t *testing.T) {
	deduper, err := NewUpdateDeduper("", "", 0, time.Minute)
	require.NoError(t, err)
	defer deduper.Close()

	handled := 0
	e := newEcho(&handled, TelegramUpdateDedup(deduper, zap.NewNop()))

	body := `{"update_id": 555, "message": {"text": "/start"}}`
	assert.Equal(t, http.StatusOK, post(e, "/webhook/x", body).Code)
	assert.Equal(t, http.StatusOK, post(e, "/webhook/x", body).Code)
	assert.Equal(t, 1, handled)

	assert.Equal(t, http.StatusOK, post(e, "/webhook/x", `{"update_id": 556}`).Code)
	assert.Equal(t, http.StatusOK, post(e, "/webhook/x", `not json`).Code)
	assert.Equal(t, 3, handled)
}

func TestUpdateDedupLetsRetryThroughAfterFailure(t *testing.T) {
	deduper, err := NewUpdateDeduper("", "", 0, time.Minute)
	require.NoError(t, err)
	defer deduper.Close()

	calls := 0
	e := echo.New()
	e.POST("/webhook/:token", func(c echo.Context) error {
		calls++
		if calls == 1 {
			return c.NoContent(http.StatusServiceUnavailable)
		}
		return c.NoContent(http.StatusOK)
	}, TelegramUpdateDedup(deduper, zap.NewNop()))

	body := `{"update_id": 777}`
	assert.Equal(t, http.StatusServiceUnavailable, post(e, "/webhook/x", body).Code)
	assert.Equal(t, http.StatusOK, post(e, "/webhook/x", body).Code)
	assert.Equal(t, http.StatusOK, post(e, "/webhook/x", body).Code)
	assert.Equal(t, 2, calls, "the retry is handled, the replay after it is not")

	failing := echo.New()
	failing.POST("/webhook/:token", func(c echo.Context) error {
		return echo.NewHTTPError(http.StatusInternalServerError)
	}, TelegramUpdateDedup(deduper, zap.NewNop()))
	assert.Equal(t, http.StatusInternalServerError, post(failing, "/webhook/x", `{"update_id": 778}`).Code)
	seen, err := deduper.Seen(context.Background(), 778)
	require.NoError(t, err)
	assert.False(t, seen, "a handler error unmarks the update")
}

func TestMemoryDeduperExpires(t *testing.T) {
	d := newMemoryUpdateDeduper(time.Minute)
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	d.now = func() time.Time { return now }
	d.nextGC = now.Add(time.Minute)

	seen, _ := d.Seen(context.Background(), 1)
	assert.False(t, seen)
	seen, _ = d.Seen(context.Background(), 1)
	assert.True(t, seen)

	now = now.Add(2 * time.Minute)
	seen, _ = d.Seen(context.Background(), 1)
	assert.False(t, seen, "expired ids are accepted again")

	_, _ = d.Seen(context.Background(), 2)
	assert.Len(t, d.seen, 2)
}

func TestNewUpdateDeduperFallsBackWhenRedisIsDown(t *testing.T) {
	d, err := NewUpdateDeduper("127.0.0.1:1", "", 0, time.Minute)
	require.Error(t, err)
	require.NotNil(t, d)
	_, ok := d.(*memoryUpdateDeduper)
	assert.True(t, ok)
}
