package telegram

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"fuelbot/src/model"
	"fuelbot/src/platform"

	"github.com/bytedance/sonic"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type apiCall struct {
	Method string
	Body   map[string]any
}

type fakeAPI struct {
	mu      sync.Mutex
	calls   []apiCall
	replies map[string]string
}

func (f *fakeAPI) handler(t *testing.T) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		method := r.URL.Path[strings.LastIndex(r.URL.Path, "/")+1:]
		raw, _ := io.ReadAll(r.Body)
		var body map[string]any
		assert.NoError(t, sonic.Unmarshal(raw, &body))

		f.mu.Lock()
		f.calls = append(f.calls, apiCall{Method: method, Body: body})
		reply, ok := f.replies[method]
		f.mu.Unlock()

		if !ok {
			reply = `{"ok":true,"result":true}`
		}
		if strings.Contains(reply, `"ok":false`) {
			w.WriteHeader(http.StatusBadRequest)
		}
		_, _ = w.Write([]byte(reply))
	})
}

func (f *fakeAPI) Calls() []apiCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]apiCall(nil), f.calls...)
}

func newTestClient(t *testing.T, replies map[string]string) (*Client, *fakeAPI) {
	t.Helper()
	api := &fakeAPI{replies: replies}
	srv := httptest.NewServer(api.handler(t))
	t.Cleanup(srv.Close)
	return NewClient(model.TelegramConfig{Token: "T", BaseURL: srv.URL}), api
}

func TestSendMessageWithKeyboard(t *testing.T) {
	c, api := newTestClient(t, map[string]string{
		"sendMessage": `{"ok":true,"result":{"message_id":77,"chat":{"id":5}}}`,
	})

	id, err := c.SendMessage(context.Background(), platform.OutgoingMessage{
		ChatID:   5,
		Text:     " hola ",
		Keyboard: platform.Keyboard{platform.Row(platform.Button{Text: "Precios", Data: "cmd:precios"})},
	})
	require.NoError(t, err)
	assert.Equal(t, 77, id)

	calls := api.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "sendMessage", calls[0].Method)
	assert.Equal(t, "hola", calls[0].Body["text"])
	markup := calls[0].Body["reply_markup"].(map[string]any)
	rows := markup["inline_keyboard"].([]any)
	button := rows[0].([]any)[0].(map[string]any)
	assert.Equal(t, "cmd:precios", button["callback_data"])
}

func TestSendMessageRejectsEmptyText(t *testing.T) {
	c, api := newTestClient(t, nil)
	_, err := c.SendMessage(context.Background(), platform.OutgoingMessage{ChatID: 1, Text: "  "})
	assert.Error(t, err)
	assert.Empty(t, api.Calls())
}

func TestAPIErrors(t *testing.T) {
	c, _ := newTestClient(t, map[string]string{
		"deleteMessage":   `{"ok":false,"error_code":400,"description":"Bad Request: message to delete not found"}`,
		"editMessageText": `{"ok":false,"error_code":400,"description":"Bad Request: message is not modified"}`,
	})

	err := c.DeleteMessage(context.Background(), 1, 2)
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, 400, apiErr.Status)
	assert.Contains(t, apiErr.Error(), "message to delete not found")

	// an edit that changes nothing is not a failure
	assert.NoError(t, c.EditMessage(context.Background(), 1, 2, "same", nil))
	assert.NoError(t, c.AnswerCallback(context.Background(), "cb", "ok"))
}

func TestGetUpdatesConvertsAndAdvancesOffset(t *testing.T) {
	c, api := newTestClient(t, map[string]string{
		"getUpdates": `{"ok":true,"result":[
			{"update_id":10,"message":{"message_id":1,"date":1700000000,"chat":{"id":5},"from":{"id":9,"first_name":"Ana"},"text":"/precios"}},
			{"update_id":11,"callback_query":{"id":"cb1","from":{"id":9},"data":"menu:main","message":{"message_id":3,"chat":{"id":5}}}},
			{"update_id":12,"message":{"message_id":2,"chat":{"id":5},"from":{"id":9},"photo":[{"file_id":"x"}],"caption":"mira"}},
			{"update_id":13,"edited_message":{"message_id":1,"chat":{"id":5},"text":"/precios"}},
			{"update_id":14,"message":{"message_id":4,"chat":{"id":5},"from":{"id":1,"is_bot":true},"text":"bot"}}
		]}`,
	})

	updates, next, err := c.GetUpdates(context.Background(), 10, time.Second)
	require.NoError(t, err)
	assert.Equal(t, int64(15), next)
	require.Len(t, updates, 3)

	assert.Equal(t, platform.KindText, updates[0].Kind)
	assert.Equal(t, "/precios", updates[0].Text)
	assert.Equal(t, "9", updates[0].UserID())
	assert.Equal(t, int64(5), updates[0].ChatID)
	assert.Equal(t, time.Unix(1700000000, 0), updates[0].ReceivedAt)

	assert.Equal(t, platform.KindCallback, updates[1].Kind)
	assert.Equal(t, "menu:main", updates[1].CallbackData)
	assert.Equal(t, 3, updates[1].MessageID)
	assert.Equal(t, int64(5), updates[1].ChatID)

	assert.Equal(t, platform.KindMedia, updates[2].Kind)
	assert.Equal(t, "photo", updates[2].MediaType)

	calls := api.Calls()
	require.Len(t, calls, 1)
	assert.EqualValues(t, 10, calls[0].Body["offset"])
}

func TestParseUpdate(t *testing.T) {
	u, ok, err := ParseUpdate([]byte(`{"update_id":1,"message":{"message_id":1,"chat":{"id":3},"from":{"id":3},"text":"hola"}}`))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "hola", u.Text)

	_, ok, err = ParseUpdate([]byte(`{"update_id":2}`))
	require.NoError(t, err)
	assert.False(t, ok)

	_, _, err = ParseUpdate([]byte(`{not json`))
	assert.Error(t, err)
}

func TestPollerDispatchesUpdatesUntilCancelled(t *testing.T) {
	c, _ := newTestClient(t, map[string]string{
		"getUpdates": `{"ok":true,"result":[{"update_id":1,"message":{"message_id":1,"chat":{"id":5},"from":{"id":9},"text":"hola"}}]}`,
	})

	ctx, cancel := context.WithCancel(context.Background())
	got := make(chan platform.Update, 16)
	p := NewPoller(c, time.Second, func(_ context.Context, u platform.Update) {
		select {
		case got <- u:
		default:
		}
	})

	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	select {
	case u := <-got:
		assert.Equal(t, "hola", u.Text)
	case <-time.After(5 * time.Second):
		t.Fatal("no update dispatched")
	}
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("poller did not stop")
	}
}

func TestAPIErrorPermanent(t *testing.T) {
	assert.True(t, (&APIError{Status: 400}).Permanent())
	assert.True(t, (&APIError{Status: 403}).Permanent())
	assert.False(t, (&APIError{Status: 429}).Permanent())
	assert.False(t, (&APIError{Status: 502}).Permanent())
}
