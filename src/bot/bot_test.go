package bot

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"fuelbot/src/command"
	"fuelbot/src/model"
	"fuelbot/src/nlp"
	"fuelbot/src/platform"
	"fuelbot/src/pricing"
	"fuelbot/src/resilience"
	"fuelbot/src/session"
	"fuelbot/src/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testUser int64 = 42

// ====================== Fakes ======================

type sent struct {
	chatID    int64
	messageID int
	text      string
	keyboard  platform.Keyboard
}

type recordingMessenger struct {
	mu        sync.Mutex
	sent      []sent
	edits     []sent
	deleted   []int
	answers   []string
	deleteErr error
}

func (m *recordingMessenger) SendMessage(_ context.Context, msg platform.OutgoingMessage) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, sent{chatID: msg.ChatID, text: msg.Text, keyboard: msg.Keyboard})
	return len(m.sent), nil
}

func (m *recordingMessenger) EditMessage(_ context.Context, chatID int64, messageID int, text string, kb platform.Keyboard) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.edits = append(m.edits, sent{chatID: chatID, messageID: messageID, text: text, keyboard: kb})
	return nil
}

func (m *recordingMessenger) DeleteMessage(_ context.Context, _ int64, messageID int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.deleteErr != nil {
		return m.deleteErr
	}
	m.deleted = append(m.deleted, messageID)
	return nil
}

func (m *recordingMessenger) AnswerCallback(_ context.Context, _ string, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.answers = append(m.answers, text)
	return nil
}

func (m *recordingMessenger) texts() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.sent))
	for i, s := range m.sent {
		out[i] = s.text
	}
	return out
}

func (m *recordingMessenger) last() sent {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.sent) == 0 {
		return sent{}
	}
	return m.sent[len(m.sent)-1]
}

type fakeRepo struct {
	stations  []pricing.Station
	prices    []pricing.Price
	accounts  map[string]pricing.Account
	err       error
	lastQuery pricing.Query
	calls     int
}

func newFakeRepo() *fakeRepo {
	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	return &fakeRepo{
		stations: []pricing.Station{
			{ID: "s1", Name: "Pemex Centro", Brand: "Pemex", City: "Monterrey"},
			{ID: "s2", Name: "Shell Norte", Brand: "Shell", City: "Monterrey"},
			{ID: "s3", Name: "Oxxo Gas Centro", Brand: "Oxxo Gas", City: "Monterrey"},
		},
		prices: []pricing.Price{
			{StationID: "s1", StationName: "Pemex Centro", City: "Monterrey", FuelType: "magna", Price: 22.5, UpdatedAt: now},
			{StationID: "s2", StationName: "Shell Norte", City: "Monterrey", FuelType: "premium", Price: 24.1, UpdatedAt: now},
			{StationID: "s3", StationName: "Oxxo Gas Centro", City: "Monterrey", FuelType: "diesel", Price: 23.9, UpdatedAt: now},
		},
		accounts: map[string]pricing.Account{},
	}
}

func (r *fakeRepo) filter(q pricing.Query) ([]pricing.Price, error) {
	r.calls++
	r.lastQuery = q
	if r.err != nil {
		return nil, r.err
	}
	var out []pricing.Price
	for _, p := range r.prices {
		if q.FuelType != "" && p.FuelType != q.FuelType {
			continue
		}
		out = append(out, p)
	}
	return out, nil
}

func (r *fakeRepo) CurrentPrices(_ context.Context, q pricing.Query) ([]pricing.Price, error) {
	return r.filter(q)
}

func (r *fakeRepo) Cheapest(_ context.Context, q pricing.Query) ([]pricing.Price, error) {
	return r.filter(q)
}

func (r *fakeRepo) History(context.Context, string, string, int) ([]pricing.HistoryPoint, error) {
	return nil, r.err
}

func (r *fakeRepo) SearchStations(_ context.Context, term string, limit, offset int) ([]pricing.Station, error) {
	r.calls++
	if r.err != nil {
		return nil, r.err
	}
	var out []pricing.Station
	for _, s := range r.stations {
		if strings.Contains(strings.ToLower(s.Name+" "+s.City), strings.ToLower(term)) {
			out = append(out, s)
		}
	}
	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *fakeRepo) Station(_ context.Context, id string) (*pricing.Station, error) {
	for _, s := range r.stations {
		if s.ID == id {
			return &s, nil
		}
	}
	return nil, pricing.ErrNotFound
}

func (r *fakeRepo) LinkAccount(_ context.Context, a pricing.Account) error {
	r.accounts[a.UserID] = a
	return nil
}

func (r *fakeRepo) LinkedAccount(_ context.Context, userID string) (*pricing.Account, error) {
	if a, ok := r.accounts[userID]; ok {
		return &a, nil
	}
	return nil, pricing.ErrNotFound
}

func (r *fakeRepo) Ping(context.Context) error { return nil }

type fakeDegradation struct {
	level    resilience.Level
	readOnly bool
	slow     bool
	disabled map[resilience.Feature]bool
}

func (d *fakeDegradation) Level() resilience.Level { return d.level }
func (d *fakeDegradation) IsFeatureEnabled(f resilience.Feature) bool {
	return !d.disabled[f]
}
func (d *fakeDegradation) IsReadOnlyMode() bool    { return d.readOnly }
func (d *fakeDegradation) IsSlowModeEnabled() bool { return d.slow }
func (d *fakeDegradation) GetFallbackResponse(service, _ string) string {
	return "fallback:" + service
}

type fakeAdmission struct {
	admit  bool
	queued []resilience.QueuedRequest
}

func (a *fakeAdmission) RegisterConversation(context.Context, string) bool { return a.admit }
func (a *fakeAdmission) QueueRequest(_ context.Context, req resilience.QueuedRequest) (resilience.QueuedRequest, error) {
	req.ID = "q1"
	a.queued = append(a.queued, req)
	return req, nil
}

type countingCompleter struct{ calls int }

func (c *countingCompleter) Complete(context.Context, model.AIRequest) (*model.AIResponse, error) {
	c.calls++
	return nil, errors.New("unavailable")
}

// ====================== Harness ======================

type harness struct {
	bot       *Bot
	messenger *recordingMessenger
	repo      *fakeRepo
	sessions  *session.Store
	degrade   *fakeDegradation
	ai        *countingCompleter
}

func newHarness(t *testing.T, deps ...func(*Deps)) *harness {
	t.Helper()
	h := &harness{
		messenger: &recordingMessenger{},
		repo:      newFakeRepo(),
		sessions:  session.NewStore(storage.NewMemoryStore(), model.SessionConfig{}),
		degrade:   &fakeDegradation{level: resilience.LevelHealthy, disabled: map[resilience.Feature]bool{}},
		ai:        &countingCompleter{},
	}
	d := Deps{
		Sessions:    h.sessions,
		Registry:    command.NewRegistry(),
		NLP:         nlp.NewProcessor(model.NLPConfig{ConfidenceThreshold: 0.99}, nlp.WithCompleter(h.ai, nil)),
		Prices:      h.repo,
		Messenger:   h.messenger,
		Degradation: h.degrade,
	}
	for _, f := range deps {
		f(&d)
	}
	h.bot = New(d, WithBotName("fuel_bot"))
	return h
}

func (h *harness) text(text string) {
	h.bot.HandleUpdate(context.Background(), platform.Update{
		Kind:      platform.KindText,
		ChatID:    testUser,
		MessageID: 10,
		From:      platform.User{ID: testUser, FirstName: "Ana"},
		Text:      text,
	})
}

func (h *harness) press(data string) {
	h.bot.HandleUpdate(context.Background(), platform.Update{
		Kind:         platform.KindCallback,
		ChatID:       testUser,
		MessageID:    77,
		From:         platform.User{ID: testUser},
		CallbackID:   "cb",
		CallbackData: data,
	})
}

func (h *harness) session() session.Session {
	return h.sessions.Get(context.Background(), "42")
}

// ====================== Router ======================

func TestSlashCommandSkipsIntentPipeline(t *testing.T) {
	h := newHarness(t)

	h.text("/precios")

	require.Len(t, h.messenger.sent, 1)
	assert.Contains(t, h.messenger.sent[0].text, "Precios actuales")
	assert.Contains(t, h.messenger.sent[0].text, "Pemex Centro")
	assert.Equal(t, 0, h.ai.calls)

	s := h.session()
	require.Len(t, s.History, 1)
	assert.Equal(t, "/precios", s.History[0].Query)
	assert.True(t, s.Context.IsZero())
}

func TestCommandAliasesAndOtherBots(t *testing.T) {
	h := newHarness(t)

	h.text("/gasolina@fuel_bot")
	h.text("/precios@otro_bot")

	require.Len(t, h.messenger.sent, 1)
	assert.Contains(t, h.messenger.sent[0].text, "Precios actuales")
}

func TestUnknownCommandSuggestsSimilar(t *testing.T) {
	h := newHarness(t)

	h.text("/prezios")

	last := h.messenger.last()
	assert.Contains(t, last.text, "/precios")
	require.NotEmpty(t, last.keyboard)
	assert.Equal(t, "cmd:precios", last.keyboard[0][0].Data)
}

func TestNaturalLanguageQueryRunsPipeline(t *testing.T) {
	h := newHarness(t)

	h.text("precio del diésel")

	assert.Equal(t, "diesel", h.repo.lastQuery.FuelType)
	assert.Contains(t, h.messenger.last().text, "Oxxo Gas Centro")

	s := h.session()
	assert.Equal(t, model.IntentPriceQuery, s.Context.LastIntent)
	assert.Equal(t, "diesel", s.Context.LastEntities.FuelType)
	require.Len(t, s.History, 1)
}

func TestOffTopicTextGetsCannedReply(t *testing.T) {
	h := newHarness(t)

	h.text("el clima de mañana")

	assert.Equal(t, msgDidNotUnderstand, h.messenger.last().text)
	assert.Equal(t, 0, h.repo.calls)
	assert.Equal(t, 0, h.ai.calls)
}

func TestNLPDisabledUsesFallback(t *testing.T) {
	h := newHarness(t)
	h.degrade.disabled[resilience.FeatureNLP] = true

	h.text("precio de la magna")

	assert.Equal(t, "fallback:nlp", h.messenger.last().text)
	assert.Equal(t, 0, h.repo.calls)

	h.text("/precios")
	assert.Contains(t, h.messenger.last().text, "Precios actuales", "commands keep working")
}

func TestMediaGetsCapabilityMessage(t *testing.T) {
	h := newHarness(t)

	h.bot.HandleUpdate(context.Background(), platform.Update{
		Kind:      platform.KindMedia,
		ChatID:    testUser,
		From:      platform.User{ID: testUser},
		MediaType: "photo",
	})

	assert.Equal(t, []string{msgMediaUnsupported}, h.messenger.texts())
}

func TestPanickingHandlerGetsSingleApology(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.bot.Registry().Register("boom", func(context.Context, *command.Invocation) error {
		panic("kaboom")
	}))

	assert.NotPanics(t, func() { h.text("/boom") })
	assert.Equal(t, []string{msgApology}, h.messenger.texts())
}

func TestOpenBreakerAnswersWithFallback(t *testing.T) {
	h := newHarness(t)
	h.repo.err = &resilience.OpenError{Breaker: "database", RetryAfter: time.Minute}

	h.text("/precios")

	assert.Equal(t, []string{"fallback:database"}, h.messenger.texts())
}

func TestHandlerErrorGetsApology(t *testing.T) {
	h := newHarness(t)
	h.repo.err = errors.New("disk on fire")

	h.text("/ranking")

	assert.Equal(t, []string{msgApology}, h.messenger.texts())
}

func TestAdmissionQueuesTextAtCapacity(t *testing.T) {
	adm := &fakeAdmission{}
	h := newHarness(t, func(d *Deps) { d.Admission = adm })

	h.text("/precios")
	h.press("menu:main")

	require.Len(t, adm.queued, 1)
	assert.Equal(t, "42", adm.queued[0].UserID)
	assert.Equal(t, "/precios", adm.queued[0].Message)
	assert.Equal(t, []string{msgHighDemand}, h.messenger.texts())
	assert.Equal(t, []string{msgHighDemandShort}, h.messenger.answers)
	assert.Equal(t, 0, h.repo.calls)

	require.NoError(t, h.bot.ProcessQueued(context.Background(), adm.queued[0]))
	assert.Contains(t, h.messenger.last().text, "Precios actuales")
}

func TestProcessQueuedRejectsBadUserID(t *testing.T) {
	h := newHarness(t)
	err := h.bot.ProcessQueued(context.Background(), resilience.QueuedRequest{UserID: "abc"})
	assert.Error(t, err)
}

// ====================== Flows ======================

func TestLinkFlowEndToEnd(t *testing.T) {
	h := newHarness(t)

	h.text("/vincular")
	assert.Equal(t, stateRegistrationEmail, h.session().State)
	assert.Equal(t, msgAskEmail, h.messenger.last().text)

	h.text("Ana@Correo.MX")
	s := h.session()
	assert.Equal(t, stateRegistrationStation, s.State)
	assert.Equal(t, "ana@correo.mx", s.FlowString("email"))

	h.text("centro")
	last := h.messenger.last()
	assert.Equal(t, msgPickStation, last.text)
	require.Len(t, last.keyboard, 2)
	assert.Equal(t, "link_station:s1", last.keyboard[0][0].Data)

	h.press("link_station:s1")
	s = h.session()
	assert.False(t, s.InFlow())
	assert.Equal(t, "ana@correo.mx", s.StringValue(keyLinkedEmail))
	assert.Equal(t, "s1", h.repo.accounts["42"].StationID)
	require.NotEmpty(t, h.messenger.edits)
	assert.Contains(t, h.messenger.edits[len(h.messenger.edits)-1].text, "Pemex Centro")
}

func TestEmailValidation(t *testing.T) {
	tests := []struct {
		in   string
		want bool
	}{
		{"ana@correo.mx", true},
		{"a.b+c@sub.dominio.com", true},
		{"ana@correo", false},
		{"ana correo.mx", false},
		{"Ana <ana@correo.mx>", false},
		{"ana@.mx", false},
		{"", false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			_, ok := validEmail(tt.in)
			assert.Equal(t, tt.want, ok)
		})
	}
}

func TestInvalidEmailAttemptsEndFlow(t *testing.T) {
	h := newHarness(t)

	h.text("/vincular")
	h.text("no es correo")
	assert.Equal(t, msgInvalidEmail, h.messenger.last().text)
	assert.Equal(t, stateRegistrationEmail, h.session().State)

	h.text("tampoco")
	h.text("otra vez no")
	assert.Equal(t, msgTooManyAttempts, h.messenger.last().text)
	assert.False(t, h.session().InFlow())
}

func TestFlowAnswersCommands(t *testing.T) {
	h := newHarness(t)

	h.text("/vincular")
	h.text("/precios")
	assert.Equal(t, msgFlowPending, h.messenger.last().text)
	assert.Equal(t, stateRegistrationEmail, h.session().State, "other commands leave the flow waiting")

	h.text("ana@correo.mx")
	assert.Equal(t, stateRegistrationStation, h.session().State)

	h.text("/salir")
	assert.Equal(t, msgCancelled, h.messenger.last().text)
	assert.False(t, h.session().InFlow())

	h.text("/cancelar")
	assert.Equal(t, msgNothingToCancel, h.messenger.last().text)
}

func TestUnknownFlowStateIsCleared(t *testing.T) {
	h := newHarness(t)
	stale := session.New("42", time.Now()).Apply(time.Now(), session.SetState("wizard:gone", nil))
	require.True(t, h.sessions.Save(context.Background(), stale))

	h.text("hola")

	assert.Equal(t, msgGreeting, h.messenger.last().text)
	assert.False(t, h.session().InFlow())
}

func TestReadOnlyBlocksWrites(t *testing.T) {
	h := newHarness(t)
	h.degrade.readOnly = true

	h.text("/vincular")
	assert.Equal(t, msgReadOnly, h.messenger.last().text)
	assert.False(t, h.session().InFlow())

	h.press("link:start")
	assert.Equal(t, msgReadOnly, h.messenger.last().text)

	h.text("/precios")
	assert.Contains(t, h.messenger.last().text, "Precios actuales")
}

func TestSlowModeShortensLists(t *testing.T) {
	h := newHarness(t)
	h.degrade.slow = true

	h.text("/ranking")
	assert.Equal(t, 3, h.repo.lastQuery.Limit)
}

// ====================== Callbacks ======================

func TestCallbackMenuEditsInPlace(t *testing.T) {
	h := newHarness(t)

	h.press("menu:consultas")

	require.Len(t, h.messenger.edits, 1)
	assert.Equal(t, 77, h.messenger.edits[0].messageID)
	assert.Equal(t, menus["consultas"].title, h.messenger.edits[0].text)
	assert.Equal(t, []string{""}, h.messenger.answers)
	assert.Empty(t, h.messenger.sent)
	assert.Equal(t, 0, h.ai.calls)
}

func TestCallbackCommandDeletesMenu(t *testing.T) {
	h := newHarness(t)

	h.press("cmd:ayuda")

	assert.Equal(t, []int{77}, h.messenger.deleted)
	assert.Contains(t, h.messenger.last().text, "/precios")
}

func TestCallbackSurvivesPlatformFailures(t *testing.T) {
	h := newHarness(t)
	h.messenger.deleteErr = errors.New("message to delete not found")

	h.press("cmd:precios")

	assert.Contains(t, h.messenger.last().text, "Precios actuales")
}

func TestUnknownCallbackAction(t *testing.T) {
	h := newHarness(t)

	h.press("teleport:mars")

	assert.Equal(t, []string{msgCallbackExpired}, h.messenger.texts())
}

func TestCallbackFuelFilterReRendersRanking(t *testing.T) {
	h := newHarness(t)

	h.press("fuel:premium")

	require.Len(t, h.messenger.edits, 1)
	assert.Contains(t, h.messenger.edits[0].text, "Premium")
	assert.Contains(t, h.messenger.edits[0].text, "Shell Norte")
	assert.Equal(t, "premium", h.repo.lastQuery.FuelType)

	h.press("fuel:kerosene")
	assert.Equal(t, msgCallbackExpired, h.messenger.last().text)
}

func TestCallbackConfigToggles(t *testing.T) {
	h := newHarness(t)

	h.press("lang:en")
	h.press("notif:off")

	s := h.session()
	assert.Equal(t, "en", s.Language)
	assert.Equal(t, false, s.Data[keyNotifications])
	require.Len(t, h.messenger.edits, 2)
	assert.Contains(t, h.messenger.edits[1].text, "desactivados")
}

func TestStationSearchPagination(t *testing.T) {
	h := newHarness(t)
	h.degrade.slow = true
	for _, id := range []string{"s4", "s5"} {
		h.repo.stations = append(h.repo.stations, pricing.Station{ID: id, Name: "Estación " + id, City: "Monterrey"})
	}

	h.text("/estaciones monterrey")
	first := h.messenger.last()
	require.Len(t, first.keyboard, 4)
	assert.Equal(t, "page:1", first.keyboard[3][0].Data)
	assert.Equal(t, "Monterrey", h.session().StringValue(keySearchTerm))

	h.press("page:1")
	require.Len(t, h.messenger.edits, 1)
	page := h.messenger.edits[0]
	assert.Contains(t, page.text, "página 2")
	require.Len(t, page.keyboard, 3)
	assert.Equal(t, "station:s5", page.keyboard[1][0].Data)
	assert.Equal(t, "page:0", page.keyboard[2][0].Data)

	h.press("station:s4")
	assert.Contains(t, h.messenger.edits[1].text, "Estación s4")
}

func TestFavoriteStationFlow(t *testing.T) {
	h := newHarness(t)

	h.press("cmd:configuracion:favorita")
	assert.Equal(t, stateStationSearch, h.session().State)

	h.text("shell")
	last := h.messenger.last()
	require.Len(t, last.keyboard, 1)
	assert.Equal(t, "select:s2", last.keyboard[0][0].Data)

	h.press("select:s2")
	s := h.session()
	assert.False(t, s.InFlow())
	assert.Equal(t, "s2", s.StringValue(keyFavoriteStation))
}
