package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"fuelbot/src/command"
	"fuelbot/src/model"
	"fuelbot/src/pricing"
	"fuelbot/src/resilience"
	"fuelbot/src/session"
)

const (
	defaultFuel        = "magna"
	defaultHistoryDays = 7

	keySearchTerm      = "search_term"
	keyLinkedStation   = "linked_station"
	keyLinkedEmail     = "linked_email"
	keyFavoriteStation = "favorite_station"
	keyNotifications   = "notifications"
)

func (b *Bot) registerBuiltins() {
	builtins := []struct {
		name    command.Name
		handler command.Handler
		opts    []command.Option
	}{
		{command.Start, b.cmdStart, []command.Option{command.WithDescription("Mensaje de bienvenida"), command.Hidden()}},
		{command.Help, b.cmdHelp, []command.Option{command.WithDescription("Lista de comandos")}},
		{command.Menu, b.cmdMenu, []command.Option{command.WithDescription("Menú principal")}},
		{command.Prices, b.cmdPrices, []command.Option{command.WithDescription("Precios actuales por combustible y ciudad")}},
		{command.Stations, b.cmdStations, []command.Option{command.WithDescription("Buscar estaciones")}},
		{command.History, b.cmdHistory, []command.Option{command.WithDescription("Historial de precios")}},
		{command.Compare, b.cmdCompare, []command.Option{command.WithDescription("Comparar precios en una ciudad")}},
		{command.Ranking, b.cmdRanking, []command.Option{command.WithDescription("Estaciones más baratas")}},
		{command.Link, b.cmdLink, []command.Option{command.WithDescription("Vincular tu cuenta"), command.Writes()}},
		{command.Settings, b.cmdSettings, []command.Option{command.WithDescription("Idioma, avisos y estación favorita")}},
		{command.Status, b.cmdStatus, []command.Option{command.WithDescription("Estado del servicio")}},
		{command.Cancel, b.cmdCancel, []command.Option{command.WithDescription("Cancelar la operación en curso")}},
	}
	for _, c := range builtins {
		if b.registry.Has(string(c.name)) {
			continue
		}
		if err := b.registry.Register(c.name, c.handler, c.opts...); err != nil {
			b.log.Error().Err(err).Str("command", string(c.name)).Msg("failed to register command")
		}
	}
}

// entities returns the slots of the turn: those the pipeline found, or those in the arguments.
func (b *Bot) entities(inv *command.Invocation) model.Entities {
	if inv.Entities.Count() > 0 || len(inv.Args) == 0 || b.nlp == nil {
		return inv.Entities
	}
	return b.nlp.Analyze(strings.Join(inv.Args, " ")).Entities
}

func (b *Bot) cmdStart(ctx context.Context, inv *command.Invocation) error {
	text := msgWelcome
	if name := inv.Update.From.FirstName; name != "" {
		text = strings.Replace(text, "¡Hola!", fmt.Sprintf("¡Hola, %s!", name), 1)
	}
	inv.Reply(ctx, text, mainMenu)
	return nil
}

func (b *Bot) cmdHelp(ctx context.Context, inv *command.Invocation) error {
	var sb strings.Builder
	sb.WriteString("Esto es lo que puedo hacer:\n")
	for _, group := range b.registry.ByCategory() {
		fmt.Fprintf(&sb, "\n%s\n", strings.ToUpper(string(group.Category)))
		for _, c := range group.Commands {
			fmt.Fprintf(&sb, "%s · %s\n", c.Name.Slash(), c.Description)
		}
	}
	sb.WriteString("\nTambién puedes escribir tu pregunta, por ejemplo \"¿dónde está más barata la premium?\"")
	inv.Reply(ctx, sb.String(), nil)
	return nil
}

func (b *Bot) cmdMenu(ctx context.Context, inv *command.Invocation) error {
	inv.Reply(ctx, menus["main"].title, mainMenu)
	return nil
}

func (b *Bot) cmdPrices(ctx context.Context, inv *command.Invocation) error {
	e := b.entities(inv)
	prices, err := b.prices.CurrentPrices(ctx, pricing.Query{
		FuelType: e.FuelType,
		Location: searchableLocation(e.Location),
		Limit:    b.resultLimit(),
	})
	if err != nil {
		return err
	}
	if len(prices) == 0 {
		inv.Reply(ctx, fmt.Sprintf("No encontré precios%s por ahora.", where(e.Location)), nil)
		return nil
	}
	header := "⛽ Precios actuales"
	if e.FuelType != "" {
		header = fmt.Sprintf("⛽ Precio de %s", fuelLabel(e.FuelType))
	}
	inv.Reply(ctx, header+where(e.Location)+":\n"+formatPrices(prices), fuelKeyboard(e.FuelType))
	return nil
}

func (b *Bot) cmdRanking(ctx context.Context, inv *command.Invocation) error {
	e := b.entities(inv)
	text, err := b.renderRanking(ctx, e.FuelType, e.Location)
	if err != nil {
		return err
	}
	inv.Mutate(session.SetValue("ranking_location", e.Location))
	inv.Reply(ctx, text, fuelKeyboard(fuelOrDefault(e.FuelType)))
	return nil
}

func (b *Bot) renderRanking(ctx context.Context, fuel, location string) (string, error) {
	fuel = fuelOrDefault(fuel)
	prices, err := b.prices.Cheapest(ctx, pricing.Query{
		FuelType: fuel,
		Location: searchableLocation(location),
		Limit:    b.resultLimit(),
	})
	if err != nil {
		return "", err
	}
	if len(prices) == 0 {
		return fmt.Sprintf("No hay precios de %s%s para armar el ranking.", fuelLabel(fuel), where(location)), nil
	}
	return formatRanking(fuel, location, prices), nil
}

func (b *Bot) cmdHistory(ctx context.Context, inv *command.Invocation) error {
	e := b.entities(inv)
	fuel := fuelOrDefault(e.FuelType)
	days := e.TimePeriod
	if days <= 0 {
		days = defaultHistoryDays
	}
	points, err := b.prices.History(ctx, fuel, searchableLocation(e.Location), days)
	if err != nil {
		return err
	}
	if len(points) == 0 {
		inv.Reply(ctx, fmt.Sprintf("No tengo historial de %s%s en los últimos %d días.", fuelLabel(fuel), where(e.Location), days), nil)
		return nil
	}
	inv.Reply(ctx, formatHistory(fuel, e.Location, days, points), nil)
	return nil
}

func (b *Bot) cmdCompare(ctx context.Context, inv *command.Invocation) error {
	e := b.entities(inv)
	fuel := fuelOrDefault(e.FuelType)
	prices, err := b.prices.Cheapest(ctx, pricing.Query{FuelType: fuel, Location: searchableLocation(e.Location), Limit: 100})
	if err != nil {
		return err
	}
	if len(prices) < 2 {
		inv.Reply(ctx, fmt.Sprintf("No hay suficientes precios de %s%s para comparar.", fuelLabel(fuel), where(e.Location)), nil)
		return nil
	}
	lo, hi := prices[0], prices[len(prices)-1]
	var sum float64
	for _, p := range prices {
		sum += p.Price
	}
	text := fmt.Sprintf("⚖️ %s%s (%d estaciones)\nMás barata: %s %s\nMás cara: %s %s\nPromedio: %s\nDiferencia: %s",
		fuelLabel(fuel), where(e.Location), len(prices),
		lo.StationName, money(lo.Price),
		hi.StationName, money(hi.Price),
		money(sum/float64(len(prices))),
		money(hi.Price-lo.Price))
	inv.Reply(ctx, text, nil)
	return nil
}

func (b *Bot) cmdStations(ctx context.Context, inv *command.Invocation) error {
	e := b.entities(inv)
	term := strings.Join(inv.Args, " ")
	switch {
	case e.StationName != "":
		term = e.StationName
	case searchableLocation(e.Location) != "":
		term = e.Location
	}
	if strings.TrimSpace(term) == "" {
		inv.Reply(ctx, msgUsageStations, nil)
		return nil
	}
	inv.Mutate(session.SetValue(keySearchTerm, term))
	text, kb, err := b.renderStationPage(ctx, term, 0)
	if err != nil {
		return err
	}
	inv.Reply(ctx, text, kb)
	return nil
}

func (b *Bot) cmdLink(ctx context.Context, inv *command.Invocation) error {
	b.startLinkFlow(ctx, inv)
	return nil
}

func (b *Bot) startLinkFlow(ctx context.Context, inv *command.Invocation) {
	inv.Mutate(session.SetState(stateRegistrationEmail, map[string]any{}))
	inv.Reply(ctx, msgAskEmail, nil)
}

func (b *Bot) cmdSettings(ctx context.Context, inv *command.Invocation) error {
	if strings.EqualFold(inv.Arg(0), "favorita") {
		if b.readOnly() {
			inv.Reply(ctx, msgReadOnly, nil)
			return nil
		}
		inv.Mutate(session.SetState(stateStationSearch, map[string]any{}))
		inv.Reply(ctx, msgAskFavorite, nil)
		return nil
	}
	inv.Reply(ctx, b.settingsText(ctx, inv.Session), settingsKeyboard)
	return nil
}

func (b *Bot) settingsText(ctx context.Context, s session.Session) string {
	notif := "activados"
	if on, ok := s.Data[keyNotifications].(bool); ok && !on {
		notif = "desactivados"
	}
	favorite := "sin definir"
	if id := s.StringValue(keyFavoriteStation); id != "" {
		favorite = id
		if st, err := b.prices.Station(ctx, id); err == nil {
			favorite = st.Name
		}
	}
	return fmt.Sprintf("⚙️ Configuración\nIdioma: %s\nAvisos: %s\nEstación favorita: %s", s.Language, notif, favorite)
}

func (b *Bot) cmdStatus(ctx context.Context, inv *command.Invocation) error {
	var sb strings.Builder
	level := resilience.LevelHealthy
	if b.degrade != nil {
		level = b.degrade.Level()
	}
	fmt.Fprintf(&sb, "Estado del servicio: %s\n", levelLabel(level))
	if b.readOnly() {
		sb.WriteString("Modo sólo lectura activo.\n")
	}
	if !b.featureEnabled(resilience.FeatureNLP) {
		sb.WriteString("Sólo se aceptan comandos por ahora.\n")
	}
	if b.analytics != nil && b.analytics.Enabled() {
		if today, err := b.analytics.Today(ctx); err == nil {
			fmt.Fprintf(&sb, "Consultas hoy: %d\n", today.Total())
		}
	}
	if email := inv.Session.StringValue(keyLinkedEmail); email != "" {
		fmt.Fprintf(&sb, "Cuenta vinculada: %s\n", email)
	} else if acct, err := b.prices.LinkedAccount(ctx, inv.Update.UserID()); err == nil {
		fmt.Fprintf(&sb, "Cuenta vinculada: %s\n", acct.Email)
	} else if !errors.Is(err, pricing.ErrNotFound) {
		b.log.Debug().Err(err).Str("user_id", inv.Update.UserID()).Msg("linked account lookup failed")
	}
	inv.Reply(ctx, strings.TrimRight(sb.String(), "\n"), nil)
	return nil
}

func (b *Bot) cmdCancel(ctx context.Context, inv *command.Invocation) error {
	if inv.Session.InFlow() {
		inv.Mutate(session.ClearFlow())
		inv.Reply(ctx, msgCancelled, nil)
		return nil
	}
	inv.Reply(ctx, msgNothingToCancel, nil)
	return nil
}

func fuelOrDefault(fuel string) string {
	if fuel == "" {
		return defaultFuel
	}
	return fuel
}

// searchableLocation drops the "nearby" marker, which has no city to filter by.
func searchableLocation(location string) string {
	if location == "cerca" {
		return ""
	}
	return location
}

func levelLabel(l resilience.Level) string {
	switch l {
	case resilience.LevelDegraded:
		return "con capacidad limitada"
	case resilience.LevelUnhealthy:
		return "en mantenimiento"
	default:
		return "normal"
	}
}
