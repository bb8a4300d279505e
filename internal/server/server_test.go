package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"fuelbot/src/model"
	"fuelbot/src/platform"
	"fuelbot/src/resilience"
	"fuelbot/src/storage"

	"github.com/bytedance/sonic"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const textUpdate = `{"update_id": 7, "message": {"message_id": 3, "from": {"id": 42, "first_name": "Ana"},
	"chat": {"id": 42, "type": "private"}, "date": 1741608000, "text": "/precios"}}`

func newTestServer(t *testing.T, handler func(context.Context, platform.Update)) (*Server, *resilience.DegradationManager) {
	t.Helper()
	ctx := context.Background()
	kv := storage.NewMemoryStore()
	breakers := resilience.NewBreakers(ctx, model.BreakerConfig{FailureThreshold: 3}, kv, []string{"database", "telegram"})
	degrade := resilience.NewDegradationManager(kv, nil, breakers, model.DegradationConfig{})
	s := New(":0", Deps{
		Breakers:      breakers,
		Degradation:   degrade,
		Concurrency:   resilience.NewConcurrencyManager(kv, model.ConcurrencyConfig{MaxConversations: 10}),
		Timeouts:      resilience.NewTimeoutManager(model.TimeoutConfig{}),
		Handler:       handler,
		WebhookSecret: "s3cret",
	})
	return s, degrade
}

func do(t *testing.T, h http.Handler, method, path, body string, header map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealthReflectsLevel(t *testing.T) {
	s, degrade := newTestServer(t, nil)
	h := s.Routes()

	rec := do(t, h, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"healthy"`)

	require.NoError(t, degrade.ForceLevel(context.Background(), resilience.LevelDegraded, "test"))
	rec = do(t, h, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	require.NoError(t, degrade.ForceLevel(context.Background(), resilience.LevelUnhealthy, "test"))
	rec = do(t, h, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), `"unhealthy"`)
}

func TestStatusReportsComponents(t *testing.T) {
	s, _ := newTestServer(t, nil)

	rec := do(t, s.Routes(), http.MethodGet, "/status", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var got struct {
		Breakers []struct {
			Name  string `json:"name"`
			State string `json:"state"`
		} `json:"breakers"`
		Degradation struct {
			Level string `json:"level"`
		} `json:"degradation"`
		Concurrency struct {
			Max int `json:"max"`
		} `json:"concurrency"`
		Timeouts struct {
			MaxRetries int `json:"max_retries"`
		} `json:"timeouts"`
	}
	require.NoError(t, sonic.Unmarshal(rec.Body.Bytes(), &got))
	require.Len(t, got.Breakers, 2)
	assert.Equal(t, "database", got.Breakers[0].Name)
	assert.Equal(t, "telegram", got.Breakers[1].Name)
	assert.Equal(t, "healthy", got.Degradation.Level)
	assert.Equal(t, 10, got.Concurrency.Max)
	assert.Positive(t, got.Timeouts.MaxRetries)
}

func TestWebhookDispatchesUpdate(t *testing.T) {
	var got []platform.Update
	s, _ := newTestServer(t, func(_ context.Context, u platform.Update) {
		got = append(got, u)
	})

	rec := do(t, s.Routes(), http.MethodPost, "/telegram/webhook", textUpdate, map[string]string{secretHeader: "s3cret"})

	assert.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, got, 1)
	assert.Equal(t, "/precios", got[0].Text)
	assert.Equal(t, int64(42), got[0].ChatID)
}

func TestWebhookRejectsBadRequests(t *testing.T) {
	calls := 0
	s, _ := newTestServer(t, func(context.Context, platform.Update) { calls++ })
	h := s.Routes()

	rec := do(t, h, http.MethodPost, "/telegram/webhook", textUpdate, map[string]string{secretHeader: "wrong"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = do(t, h, http.MethodPost, "/telegram/webhook", textUpdate, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = do(t, h, http.MethodPost, "/telegram/webhook", "{not json", map[string]string{secretHeader: "s3cret"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	assert.Equal(t, 0, calls)
}

func TestWebhookSkipsUnhandledUpdates(t *testing.T) {
	calls := 0
	s, _ := newTestServer(t, func(context.Context, platform.Update) { calls++ })

	edited := `{"update_id": 8, "edited_message": {"message_id": 3, "from": {"id": 42},
		"chat": {"id": 42, "type": "private"}, "date": 1741608000, "text": "hola"}}`
	rec := do(t, s.Routes(), http.MethodPost, "/telegram/webhook", edited, map[string]string{secretHeader: "s3cret"})

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 0, calls)
}

func TestWebhookNotMountedWithoutHandler(t *testing.T) {
	s, _ := newTestServer(t, nil)

	rec := do(t, s.Routes(), http.MethodPost, "/telegram/webhook", textUpdate, map[string]string{secretHeader: "s3cret"})
	assert.NotEqual(t, http.StatusOK, rec.Code)
}
