// Package telegram talks to the Telegram Bot API and turns its updates into platform updates.
package telegram

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"fuelbot/src/logger"
	"fuelbot/src/model"
	"fuelbot/src/platform"

	"github.com/bytedance/sonic"
	"github.com/rs/zerolog"
)

// APIError is a Bot API reply with ok=false or a non-2xx status.
type APIError struct {
	Method      string
	Status      int
	Code        int
	Description string
}

func (e *APIError) Error() string {
	if e.Description != "" {
		return fmt.Sprintf("telegram %s: %d %s", e.Method, e.Status, e.Description)
	}
	return fmt.Sprintf("telegram %s: http %d", e.Method, e.Status)
}

// Permanent reports whether retrying the same request cannot succeed: every 4xx except
// rate limiting.
func (e *APIError) Permanent() bool {
	return e.Status >= 400 && e.Status < 500 && e.Status != http.StatusTooManyRequests
}

// Client implements platform.Messenger over the Bot API.
type Client struct {
	http    *http.Client
	baseURL string
	token   string
	log     zerolog.Logger
}

type Option func(*Client)

func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

func WithLogger(l zerolog.Logger) Option {
	return func(c *Client) { c.log = l }
}

func NewClient(cfg model.TelegramConfig, opts ...Option) *Client {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = "https://api.telegram.org"
	}
	c := &Client{
		http:    &http.Client{Timeout: 60 * time.Second},
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   cfg.Token,
		log:     logger.Component("telegram"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

var _ platform.Messenger = (*Client)(nil)

func call[T any](ctx context.Context, c *Client, method string, body any) (T, error) {
	var zero T
	payload, err := sonic.Marshal(body)
	if err != nil {
		return zero, fmt.Errorf("telegram %s: encode request: %w", method, err)
	}
	url := fmt.Sprintf("%s/bot%s/%s", c.baseURL, c.token, method)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return zero, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return zero, fmt.Errorf("telegram %s: %w", method, err)
	}
	raw, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()

	var out apiResponse[T]
	decodeErr := sonic.Unmarshal(raw, &out)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 || !out.OK {
		apiErr := &APIError{Method: method, Status: resp.StatusCode, Code: out.ErrorCode, Description: out.Description}
		if decodeErr != nil && apiErr.Description == "" {
			apiErr.Description = strings.TrimSpace(string(raw))
		}
		return zero, apiErr
	}
	if decodeErr != nil {
		return zero, fmt.Errorf("telegram %s: decode response: %w", method, decodeErr)
	}
	return out.Result, nil
}

func (c *Client) SendMessage(ctx context.Context, msg platform.OutgoingMessage) (int, error) {
	text := strings.TrimSpace(msg.Text)
	if text == "" {
		return 0, errors.New("telegram sendMessage: empty text")
	}
	sent, err := call[apiMessage](ctx, c, "sendMessage", sendMessageRequest{
		ChatID:      msg.ChatID,
		Text:        text,
		ParseMode:   msg.ParseMode,
		ReplyMarkup: toMarkup(msg.Keyboard),
	})
	if err != nil {
		return 0, err
	}
	return int(sent.MessageID), nil
}

func (c *Client) EditMessage(ctx context.Context, chatID int64, messageID int, text string, keyboard platform.Keyboard) error {
	_, err := call[any](ctx, c, "editMessageText", editMessageRequest{
		ChatID:      chatID,
		MessageID:   messageID,
		Text:        text,
		ReplyMarkup: toMarkup(keyboard),
	})
	var apiErr *APIError
	if errors.As(err, &apiErr) && strings.Contains(apiErr.Description, "message is not modified") {
		return nil
	}
	return err
}

func (c *Client) DeleteMessage(ctx context.Context, chatID int64, messageID int) error {
	_, err := call[bool](ctx, c, "deleteMessage", deleteMessageRequest{ChatID: chatID, MessageID: messageID})
	return err
}

func (c *Client) AnswerCallback(ctx context.Context, callbackID, text string) error {
	_, err := call[bool](ctx, c, "answerCallbackQuery", answerCallbackRequest{CallbackQueryID: callbackID, Text: text})
	return err
}

// GetUpdates long-polls for updates after offset and returns the next offset to ask for.
// Updates the bot does not handle are skipped but still advance the offset.
func (c *Client) GetUpdates(ctx context.Context, offset int64, timeout time.Duration) ([]platform.Update, int64, error) {
	secs := int(timeout.Seconds())
	if secs < 1 {
		secs = 1
	}
	reqCtx, cancel := context.WithTimeout(ctx, timeout+5*time.Second)
	defer cancel()

	body := map[string]any{"timeout": secs, "allowed_updates": []string{"message", "callback_query"}}
	if offset > 0 {
		body["offset"] = offset
	}
	raw, err := call[[]apiUpdate](reqCtx, c, "getUpdates", body)
	if err != nil {
		return nil, offset, err
	}

	next := offset
	updates := make([]platform.Update, 0, len(raw))
	for _, u := range raw {
		if u.UpdateID >= next {
			next = u.UpdateID + 1
		}
		if pu, ok := convert(u); ok {
			updates = append(updates, pu)
		}
	}
	return updates, next, nil
}

// ParseUpdate decodes a webhook body. ok is false for updates the bot does not handle.
func ParseUpdate(body []byte) (platform.Update, bool, error) {
	var u apiUpdate
	if err := sonic.Unmarshal(body, &u); err != nil {
		return platform.Update{}, false, fmt.Errorf("decode telegram update: %w", err)
	}
	pu, ok := convert(u)
	return pu, ok, nil
}

func toMarkup(kb platform.Keyboard) *apiInlineKeyboard {
	if len(kb) == 0 {
		return nil
	}
	rows := make([][]apiInlineButton, 0, len(kb))
	for _, row := range kb {
		buttons := make([]apiInlineButton, 0, len(row))
		for _, b := range row {
			buttons = append(buttons, apiInlineButton{Text: b.Text, CallbackData: b.Data, URL: b.URL})
		}
		rows = append(rows, buttons)
	}
	return &apiInlineKeyboard{InlineKeyboard: rows}
}

func toUser(u *apiUser) platform.User {
	if u == nil {
		return platform.User{}
	}
	return platform.User{ID: u.ID, Username: u.Username, FirstName: u.FirstName, LanguageCode: u.LanguageCode}
}

func convert(u apiUpdate) (platform.Update, bool) {
	switch {
	case u.CallbackQuery != nil:
		cb := u.CallbackQuery
		out := platform.Update{
			ID:           u.UpdateID,
			Kind:         platform.KindCallback,
			From:         toUser(cb.From),
			CallbackID:   cb.ID,
			CallbackData: cb.Data,
			ReceivedAt:   time.Now(),
		}
		if cb.Message != nil {
			out.MessageID = int(cb.Message.MessageID)
			if cb.Message.Chat != nil {
				out.ChatID = cb.Message.Chat.ID
			}
		}
		if out.ChatID == 0 {
			out.ChatID = out.From.ID
		}
		return out, true
	case u.Message != nil:
		m := u.Message
		if m.From != nil && m.From.IsBot {
			return platform.Update{}, false
		}
		out := platform.Update{
			ID:         u.UpdateID,
			MessageID:  int(m.MessageID),
			From:       toUser(m.From),
			ReceivedAt: time.Now(),
		}
		if m.Date > 0 {
			out.ReceivedAt = time.Unix(m.Date, 0)
		}
		if m.Chat != nil {
			out.ChatID = m.Chat.ID
		}
		if media := mediaType(m); media != "" {
			out.Kind = platform.KindMedia
			out.MediaType = media
			out.Text = m.Caption
			return out, true
		}
		if strings.TrimSpace(m.Text) == "" {
			return platform.Update{}, false
		}
		out.Kind = platform.KindText
		out.Text = m.Text
		return out, true
	default:
		return platform.Update{}, false
	}
}

func mediaType(m *apiMessage) string {
	switch {
	case len(m.Photo) > 0:
		return "photo"
	case m.Document != nil:
		return "document"
	case m.Sticker != nil:
		return "sticker"
	case m.Voice != nil:
		return "voice"
	case m.Audio != nil:
		return "audio"
	case m.Video != nil:
		return "video"
	case m.Location != nil:
		return "location"
	default:
		return ""
	}
}
