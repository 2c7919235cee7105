package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

const defaultBaseURL = "https://api.telegram.org"

// BotAPI is a thin Bot API client used outside the telebot update loop:
// fan-out notifications, message edits, backups and reports.
type BotAPI struct {
	token  string
	client *resty.Client
}

// NewBotAPI creates a client for the public Bot API endpoint.
func NewBotAPI(token string) *BotAPI {
	return NewBotAPIWithBaseURL(defaultBaseURL, token)
}

// NewBotAPIWithBaseURL points the client at a custom Bot API server.
func NewBotAPIWithBaseURL(baseURL, token string) *BotAPI {
	client := resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/") + "/bot" + token).
		SetTimeout(30 * time.Second).
		SetRetryCount(2).
		SetRetryWaitTime(time.Second).
		SetRetryMaxWaitTime(5 * time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			return err != nil || r.StatusCode() == 429 || r.StatusCode() >= 500
		})
	return &BotAPI{token: token, client: client}
}

// APIError is a Bot API response with ok=false.
type APIError struct {
	Method      string
	Code        int
	Description string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("telegram %s: %d %s", e.Method, e.Code, e.Description)
}

// NotModified reports an edit that did not change the message.
func (e *APIError) NotModified() bool {
	return strings.Contains(e.Description, "message is not modified")
}

type apiResponse struct {
	OK          bool            `json:"ok"`
	ErrorCode   int             `json:"error_code"`
	Description string          `json:"description"`
	Result      json.RawMessage `json:"result"`
}

type sentMessage struct {
	MessageID int `json:"message_id"`
}

// InlineButton is one inline keyboard button. Exactly one of
// CallbackData and URL should be set.
type InlineButton struct {
	Text         string `json:"text"`
	CallbackData string `json:"callback_data,omitempty"`
	URL          string `json:"url,omitempty"`
}

type InlineKeyboard struct {
	InlineKeyboard [][]InlineButton `json:"inline_keyboard"`
}

// NewInlineKeyboard builds a keyboard from rows of buttons.
func NewInlineKeyboard(rows ...[]InlineButton) *InlineKeyboard {
	kb := &InlineKeyboard{InlineKeyboard: make([][]InlineButton, 0, len(rows))}
	for _, row := range rows {
		kb.InlineKeyboard = append(kb.InlineKeyboard, row)
	}
	return kb
}

// EmptyKeyboard strips the inline keyboard when passed to an edit.
func EmptyKeyboard() *InlineKeyboard {
	return NewInlineKeyboard()
}

// CallbackData encodes a button payload the way telebot routes it:
// "\f<unique>|<payload>".
func CallbackData(unique string, payload ...string) string {
	data := "\f" + unique
	if len(payload) > 0 {
		data += "|" + strings.Join(payload, "|")
	}
	return data
}

// Call makes a raw JSON API call and returns the result payload.
func (b *BotAPI) Call(ctx context.Context, method string, params map[string]interface{}) (json.RawMessage, error) {
	resp, err := b.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(params).
		Post("/" + method)
	if err != nil {
		return nil, fmt.Errorf("telegram API call %s failed: %w", method, err)
	}
	return decode(method, resp)
}

// SendMessage sends an HTML text message and returns its message id.
func (b *BotAPI) SendMessage(ctx context.Context, chatID int64, text string, markup *InlineKeyboard) (int, error) {
	params := map[string]interface{}{
		"chat_id":                  chatID,
		"text":                     text,
		"parse_mode":               "HTML",
		"disable_web_page_preview": true,
	}
	if markup != nil {
		params["reply_markup"] = markup
	}
	return messageID(b.Call(ctx, "sendMessage", params))
}

// SendPhoto sends a photo by file_id or URL.
func (b *BotAPI) SendPhoto(ctx context.Context, chatID int64, photo, caption string, markup *InlineKeyboard) (int, error) {
	params := map[string]interface{}{
		"chat_id":    chatID,
		"photo":      photo,
		"caption":    caption,
		"parse_mode": "HTML",
	}
	if markup != nil {
		params["reply_markup"] = markup
	}
	return messageID(b.Call(ctx, "sendPhoto", params))
}

// SendPhotoBytes uploads an image.
func (b *BotAPI) SendPhotoBytes(ctx context.Context, chatID int64, data []byte, filename, caption string) (int, error) {
	return b.upload(ctx, "sendPhoto", "photo", chatID, data, filename, caption)
}

// SendDocument uploads a file.
func (b *BotAPI) SendDocument(ctx context.Context, chatID int64, data []byte, filename, caption string) (int, error) {
	return b.upload(ctx, "sendDocument", "document", chatID, data, filename, caption)
}

// EditMessageText replaces the text of a message. An edit that changes
// nothing is not an error.
func (b *BotAPI) EditMessageText(ctx context.Context, chatID int64, messageID int, text string, markup *InlineKeyboard) error {
	params := map[string]interface{}{
		"chat_id":    chatID,
		"message_id": messageID,
		"text":       text,
		"parse_mode": "HTML",
	}
	if markup != nil {
		params["reply_markup"] = markup
	}
	return ignoreNotModified(b.Call(ctx, "editMessageText", params))
}

// EditMessageCaption replaces the caption of a media message.
func (b *BotAPI) EditMessageCaption(ctx context.Context, chatID int64, messageID int, caption string, markup *InlineKeyboard) error {
	params := map[string]interface{}{
		"chat_id":    chatID,
		"message_id": messageID,
		"caption":    caption,
		"parse_mode": "HTML",
	}
	if markup != nil {
		params["reply_markup"] = markup
	}
	return ignoreNotModified(b.Call(ctx, "editMessageCaption", params))
}

func (b *BotAPI) upload(ctx context.Context, method, field string, chatID int64, data []byte, filename, caption string) (int, error) {
	resp, err := b.client.R().
		SetContext(ctx).
		SetFileReader(field, filename, bytes.NewReader(data)).
		SetFormData(map[string]string{
			"chat_id":    strconv.FormatInt(chatID, 10),
			"caption":    caption,
			"parse_mode": "HTML",
		}).
		Post("/" + method)
	if err != nil {
		return 0, fmt.Errorf("telegram API call %s failed: %w", method, err)
	}
	return messageID(decode(method, resp))
}

func decode(method string, resp *resty.Response) (json.RawMessage, error) {
	var out apiResponse
	if err := json.Unmarshal(resp.Body(), &out); err != nil {
		return nil, fmt.Errorf("telegram %s: unexpected response (status %d): %w", method, resp.StatusCode(), err)
	}
	if !out.OK {
		code := out.ErrorCode
		if code == 0 {
			code = resp.StatusCode()
		}
		return nil, &APIError{Method: method, Code: code, Description: out.Description}
	}
	return out.Result, nil
}

func messageID(raw json.RawMessage, err error) (int, error) {
	if err != nil {
		return 0, err
	}
	var msg sentMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return 0, fmt.Errorf("decode sent message: %w", err)
	}
	return msg.MessageID, nil
}

func ignoreNotModified(_ json.RawMessage, err error) error {
	if apiErr, ok := err.(*APIError); ok && apiErr.NotModified() {
		return nil
	}
	return err
}

// telegramNets are the ranges Telegram delivers webhooks from.
var telegramNets = mustParseCIDRs("149.154.160.0/20", "91.108.4.0/22")

func mustParseCIDRs(cidrs ...string) []*net.IPNet {
	nets := make([]*net.IPNet, 0, len(cidrs))
	for _, c := range cidrs {
		_, n, err := net.ParseCIDR(c)
		if err != nil {
			panic(err)
		}
		nets = append(nets, n)
	}
	return nets
}

// CheckTelegramIP reports whether ip belongs to the ranges Telegram
// delivers webhooks from.
func CheckTelegramIP(ip string) bool {
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return false
	}
	for _, n := range telegramNets {
		if n.Contains(parsed) {
			return true
		}
	}
	return false
}
