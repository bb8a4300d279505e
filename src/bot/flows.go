package bot

import (
	"context"
	"fmt"
	"net/mail"
	"strings"

	"fuelbot/src/command"
	"fuelbot/src/session"
)

const (
	stateRegistrationEmail   = "registration:email"
	stateRegistrationStation = "registration:station"
	stateStationSearch       = "configuration:station_search"

	maxEmailAttempts = 3
	flowSearchLimit  = 5
)

// flowHandler receives the raw text of a user who is in the middle of a flow.
type flowHandler func(ctx context.Context, inv *command.Invocation) error

func (b *Bot) flowHandlers() map[string]flowHandler {
	return map[string]flowHandler{
		stateRegistrationEmail:   withCommands(b.flowEmail),
		stateRegistrationStation: withCommands(b.flowLinkStation),
		stateStationSearch:       withCommands(b.flowFavoriteStation),
	}
}

// withCommands answers slash commands typed during a flow. /cancelar ends the flow; any other
// command is refused and the flow keeps waiting for its input.
func withCommands(step flowHandler) flowHandler {
	return func(ctx context.Context, inv *command.Invocation) error {
		parsed, ok := command.Parse(inv.Update.Text)
		if !ok {
			return step(ctx, inv)
		}
		if parsed.Name == command.Cancel {
			inv.Mutate(session.ClearFlow())
			inv.Reply(ctx, msgCancelled, nil)
			return nil
		}
		inv.Reply(ctx, msgFlowPending, nil)
		return nil
	}
}

// validEmail accepts a bare address with a dotted domain, nothing else.
func validEmail(text string) (string, bool) {
	addr, err := mail.ParseAddress(text)
	if err != nil || addr.Name != "" || addr.Address != text {
		return "", false
	}
	at := strings.LastIndexByte(addr.Address, '@')
	domain := addr.Address[at+1:]
	if !strings.Contains(domain, ".") || strings.HasPrefix(domain, ".") || strings.HasSuffix(domain, ".") {
		return "", false
	}
	return strings.ToLower(addr.Address), true
}

func attempts(s session.Session) int {
	switch v := s.StateData["attempts"].(type) {
	case int:
		return v
	case float64:
		return int(v)
	default:
		return 0
	}
}

func (b *Bot) flowEmail(ctx context.Context, inv *command.Invocation) error {
	email, ok := validEmail(strings.TrimSpace(inv.Update.Text))
	if !ok {
		n := attempts(inv.Session) + 1
		if n >= maxEmailAttempts {
			inv.Mutate(session.ClearFlow())
			inv.Reply(ctx, msgTooManyAttempts, nil)
			return nil
		}
		inv.Mutate(session.SetStateValue("attempts", n))
		inv.Reply(ctx, msgInvalidEmail, nil)
		return nil
	}
	inv.Mutate(session.SetState(stateRegistrationStation, map[string]any{"email": email}))
	inv.Reply(ctx, msgAskStation, nil)
	return nil
}

func (b *Bot) flowLinkStation(ctx context.Context, inv *command.Invocation) error {
	return b.searchForSelection(ctx, inv, "link_station")
}

func (b *Bot) flowFavoriteStation(ctx context.Context, inv *command.Invocation) error {
	return b.searchForSelection(ctx, inv, "select")
}

// searchForSelection answers a search term typed during a flow with a keyboard of matches.
// The flow stays active until a station is picked.
func (b *Bot) searchForSelection(ctx context.Context, inv *command.Invocation, action string) error {
	term := strings.TrimSpace(inv.Update.Text)
	stations, err := b.prices.SearchStations(ctx, term, flowSearchLimit, 0)
	if err != nil {
		return err
	}
	if len(stations) == 0 {
		inv.Reply(ctx, fmt.Sprintf(msgNoStations, term), nil)
		return nil
	}
	inv.Reply(ctx, msgPickStation, stationKeyboard(stations, action))
	return nil
}
