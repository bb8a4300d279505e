package bot

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"fuelbot/src/command"
	"fuelbot/src/platform"
	"fuelbot/src/pricing"
	"fuelbot/src/session"
)

// callbackHandler handles one button action. params are the colon separated parts after it.
type callbackHandler func(ctx context.Context, t *turn, params []string) error

func (b *Bot) callbackHandlers() map[string]callbackHandler {
	return map[string]callbackHandler{
		"menu":         b.cbMenu,
		"cmd":          b.cbCommand,
		"link":         b.cbLink,
		"link_station": b.cbLinkStation,
		"lang":         b.cbLanguage,
		"notif":        b.cbNotifications,
		"station":      b.cbStation,
		"fuel":         b.cbFuel,
		"page":         b.cbPage,
		"select":       b.cbSelect,
		"noop":         func(context.Context, *turn, []string) error { return nil },
	}
}

// parseCallback splits "action:param1:param2" into its parts.
func parseCallback(data string) (string, []string) {
	parts := strings.Split(strings.TrimSpace(data), ":")
	return parts[0], parts[1:]
}

// handleCallback acknowledges the button press first so the client stops its spinner, then
// dispatches by action.
func (b *Bot) handleCallback(ctx context.Context, t *turn) error {
	u := t.inv.Update
	_ = b.messenger.AnswerCallback(ctx, u.CallbackID, "")

	action, params := parseCallback(u.CallbackData)
	handler, ok := b.callbacks[action]
	if !ok {
		b.log.Warn().Str("user_id", u.UserID()).Str("data", u.CallbackData).Msg("unknown callback action")
		t.inv.Reply(ctx, msgCallbackExpired, nil)
		return nil
	}
	return handler(ctx, t, params)
}

func param(params []string, i int) string {
	if i < len(params) {
		return params[i]
	}
	return ""
}

func (b *Bot) cbMenu(ctx context.Context, t *turn, params []string) error {
	m, ok := menus[param(params, 0)]
	if !ok {
		m = menus["main"]
	}
	t.inv.Edit(ctx, m.title, m.keyboard)
	return nil
}

// cbCommand replaces the menu message with the command's own reply.
func (b *Bot) cbCommand(ctx context.Context, t *turn, params []string) error {
	name := param(params, 0)
	if name == "" {
		t.inv.Reply(ctx, msgCallbackExpired, nil)
		return nil
	}
	u := t.inv.Update
	_ = b.messenger.DeleteMessage(ctx, u.ChatID, u.MessageID)

	return b.runCommand(ctx, t, command.Parsed{
		Name: command.Canonical(name),
		Raw:  name,
		Args: params[1:],
	})
}

func (b *Bot) cbLink(ctx context.Context, t *turn, params []string) error {
	if b.readOnly() {
		t.inv.Reply(ctx, msgReadOnly, nil)
		return nil
	}
	t.command = command.Link
	b.startLinkFlow(ctx, t.inv)
	return nil
}

// cbLinkStation completes account linking with the station picked from the search results.
func (b *Bot) cbLinkStation(ctx context.Context, t *turn, params []string) error {
	inv := t.inv
	email := inv.Session.FlowString("email")
	id := param(params, 0)
	if inv.Session.State != stateRegistrationStation || email == "" || id == "" {
		inv.Reply(ctx, msgCallbackExpired, nil)
		return nil
	}
	if b.readOnly() {
		inv.Mutate(session.ClearFlow())
		inv.Reply(ctx, msgReadOnly, nil)
		return nil
	}
	st, err := b.prices.Station(ctx, id)
	if errors.Is(err, pricing.ErrNotFound) {
		inv.Reply(ctx, msgCallbackExpired, nil)
		return nil
	}
	if err != nil {
		return err
	}
	err = b.prices.LinkAccount(ctx, pricing.Account{
		UserID:    inv.Update.UserID(),
		Email:     email,
		StationID: st.ID,
		LinkedAt:  b.now(),
	})
	if err != nil {
		return err
	}
	t.command = command.Link
	inv.Mutate(
		session.ClearFlow(),
		session.SetValue(keyLinkedEmail, email),
		session.SetValue(keyLinkedStation, st.ID),
	)
	inv.Edit(ctx, fmt.Sprintf("✅ Cuenta %s vinculada a %s.", email, st.Name), nil)
	return nil
}

func (b *Bot) cbLanguage(ctx context.Context, t *turn, params []string) error {
	lang := param(params, 0)
	if lang != "es" && lang != "en" {
		t.inv.Reply(ctx, msgCallbackExpired, nil)
		return nil
	}
	t.inv.Mutate(session.SetLanguage(lang))
	t.inv.Edit(ctx, b.settingsText(ctx, t.inv.Session), settingsKeyboard)
	return nil
}

func (b *Bot) cbNotifications(ctx context.Context, t *turn, params []string) error {
	switch param(params, 0) {
	case "on":
		t.inv.Mutate(session.SetValue(keyNotifications, true))
	case "off":
		t.inv.Mutate(session.SetValue(keyNotifications, false))
	default:
		t.inv.Reply(ctx, msgCallbackExpired, nil)
		return nil
	}
	t.inv.Edit(ctx, b.settingsText(ctx, t.inv.Session), settingsKeyboard)
	return nil
}

func (b *Bot) cbStation(ctx context.Context, t *turn, params []string) error {
	st, err := b.prices.Station(ctx, param(params, 0))
	if errors.Is(err, pricing.ErrNotFound) {
		t.inv.Reply(ctx, msgCallbackExpired, nil)
		return nil
	}
	if err != nil {
		return err
	}
	var kb platform.Keyboard
	if term := t.inv.Session.StringValue(keySearchTerm); term != "" {
		kb = platform.Keyboard{platform.Row(platform.Button{Text: "« Resultados", Data: "page:0"})}
	}
	t.inv.Edit(ctx, formatStation(st), kb)
	return nil
}

// cbFuel re-renders the ranking for another fuel in the same message.
func (b *Bot) cbFuel(ctx context.Context, t *turn, params []string) error {
	fuel := param(params, 0)
	if _, ok := fuelLabels[fuel]; !ok {
		t.inv.Reply(ctx, msgCallbackExpired, nil)
		return nil
	}
	t.command = command.Ranking
	text, err := b.renderRanking(ctx, fuel, t.inv.Session.StringValue("ranking_location"))
	if err != nil {
		return err
	}
	t.inv.Edit(ctx, text, fuelKeyboard(fuel))
	return nil
}

func (b *Bot) cbPage(ctx context.Context, t *turn, params []string) error {
	term := t.inv.Session.StringValue(keySearchTerm)
	page, err := strconv.Atoi(param(params, 0))
	if term == "" || err != nil || page < 0 {
		t.inv.Reply(ctx, msgCallbackExpired, nil)
		return nil
	}
	text, kb, err := b.renderStationPage(ctx, term, page)
	if err != nil {
		return err
	}
	t.inv.Edit(ctx, text, kb)
	return nil
}

// cbSelect stores the favorite station picked during the station search flow.
func (b *Bot) cbSelect(ctx context.Context, t *turn, params []string) error {
	inv := t.inv
	st, err := b.prices.Station(ctx, param(params, 0))
	if errors.Is(err, pricing.ErrNotFound) {
		inv.Reply(ctx, msgCallbackExpired, nil)
		return nil
	}
	if err != nil {
		return err
	}
	muts := []session.Mutation{session.SetValue(keyFavoriteStation, st.ID)}
	if inv.Session.State == stateStationSearch {
		muts = append(muts, session.ClearFlow())
	}
	inv.Mutate(muts...)
	inv.Edit(ctx, fmt.Sprintf("⭐ %s es ahora tu estación favorita.", st.Name), settingsKeyboard)
	return nil
}

// renderStationPage lists one page of search results with a button per station and
// previous/next buttons when there is more to see.
func (b *Bot) renderStationPage(ctx context.Context, term string, page int) (string, platform.Keyboard, error) {
	size := b.resultLimit()
	// one extra row tells whether a next page exists
	stations, err := b.prices.SearchStations(ctx, term, size+1, page*size)
	if err != nil {
		return "", nil, err
	}
	if len(stations) == 0 {
		if page > 0 {
			return fmt.Sprintf("No hay más estaciones con \"%s\".", term), platform.Keyboard{
				platform.Row(platform.Button{Text: "« Anterior", Data: fmt.Sprintf("page:%d", page-1)}),
			}, nil
		}
		return fmt.Sprintf(msgNoStations, term), nil, nil
	}
	more := len(stations) > size
	if more {
		stations = stations[:size]
	}

	text := fmt.Sprintf("🔎 Estaciones con \"%s\" (página %d):", term, page+1)
	kb := stationKeyboard(stations, "station")

	var nav []platform.Button
	if page > 0 {
		nav = append(nav, platform.Button{Text: "« Anterior", Data: fmt.Sprintf("page:%d", page-1)})
	}
	if more {
		nav = append(nav, platform.Button{Text: "Siguiente »", Data: fmt.Sprintf("page:%d", page+1)})
	}
	if len(nav) > 0 {
		kb = append(kb, nav)
	}
	return text, kb, nil
}

var settingsKeyboard = platform.Keyboard{
	platform.Row(
		platform.Button{Text: "Español", Data: "lang:es"},
		platform.Button{Text: "English", Data: "lang:en"},
	),
	platform.Row(
		platform.Button{Text: "🔔 Avisos sí", Data: "notif:on"},
		platform.Button{Text: "🔕 Avisos no", Data: "notif:off"},
	),
	platform.Row(platform.Button{Text: "⭐ Estación favorita", Data: "cmd:" + string(command.Settings) + ":favorita"}),
	platform.Row(platform.Button{Text: "« Volver", Data: "menu:main"}),
}
