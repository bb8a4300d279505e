package bot

import (
	"fmt"
	"strings"

	"fuelbot/src/command"
	"fuelbot/src/platform"
	"fuelbot/src/pricing"
)

const msgWelcome = "¡Hola! Soy tu asistente de precios de combustible ⛽\n" +
	"Pregúntame cosas como \"¿cuánto está la premium en Monterrey?\" o usa el menú."

const msgDidNotUnderstand = "No entendí tu mensaje. Puedes:\n" +
	"• Escribir una pregunta, por ejemplo \"precio de la magna en Guadalajara\"\n" +
	"• Usar un comando como /precios o /ranking\n" +
	"• Abrir el /menu"

const (
	msgGreeting         = "¡Hola! ¿En qué te ayudo? Puedo darte precios, estaciones, rankings e historial."
	msgApology          = "Lo siento, algo salió mal al procesar tu mensaje. Intenta de nuevo en un momento."
	msgMediaUnsupported = "Por ahora sólo entiendo mensajes de texto. Escribe tu pregunta o usa /ayuda."
	msgHighDemand       = "Estamos atendiendo a muchas personas en este momento. Tu mensaje quedó en fila y te responderemos en breve."
	msgHighDemandShort  = "Mucha demanda, intenta en un momento."
	msgReadOnly         = "Por mantenimiento no puedo guardar cambios ahora. Las consultas siguen disponibles."
	msgCancelled        = "Listo, cancelé la operación en curso."
	msgNothingToCancel  = "No hay ninguna operación en curso."
	msgFlowPending      = "Todavía espero tu respuesta para terminar. Escríbela o usa /cancelar para salir."
	msgAskEmail         = "Para vincular tu cuenta, escribe tu correo electrónico."
	msgInvalidEmail     = "Ese correo no parece válido. Escríbelo de nuevo, por ejemplo nombre@dominio.com (o /cancelar)."
	msgTooManyAttempts  = "Demasiados intentos. Cancelé la vinculación; puedes empezar de nuevo con /vincular."
	msgAskStation       = "Ahora escribe el nombre, marca o ciudad de tu estación."
	msgAskFavorite      = "Escribe el nombre, marca o ciudad de la estación que quieres como favorita."
	msgNoStations       = "No encontré estaciones con \"%s\". Intenta con otro nombre o ciudad."
	msgPickStation      = "Elige tu estación:"
	msgUsageStations    = "Dime dónde buscar, por ejemplo: /estaciones Monterrey"
	msgCallbackExpired  = "Esta opción ya no está disponible."
)

var mainMenu = platform.Keyboard{
	platform.Row(
		platform.Button{Text: "⛽ Precios", Data: "cmd:" + string(command.Prices)},
		platform.Button{Text: "🏆 Ranking", Data: "cmd:" + string(command.Ranking)},
	),
	platform.Row(
		platform.Button{Text: "📊 Consultas", Data: "menu:consultas"},
		platform.Button{Text: "👤 Mi cuenta", Data: "menu:cuenta"},
	),
	platform.Row(platform.Button{Text: "❓ Ayuda", Data: "cmd:" + string(command.Help)}),
}

var queriesMenu = platform.Keyboard{
	platform.Row(
		platform.Button{Text: "Precios actuales", Data: "cmd:" + string(command.Prices)},
		platform.Button{Text: "Historial", Data: "cmd:" + string(command.History)},
	),
	platform.Row(
		platform.Button{Text: "Comparar", Data: "cmd:" + string(command.Compare)},
		platform.Button{Text: "Ranking", Data: "cmd:" + string(command.Ranking)},
	),
	platform.Row(platform.Button{Text: "« Volver", Data: "menu:main"}),
}

var accountMenu = platform.Keyboard{
	platform.Row(platform.Button{Text: "🔗 Vincular cuenta", Data: "link:start"}),
	platform.Row(platform.Button{Text: "⚙️ Configuración", Data: "cmd:" + string(command.Settings)}),
	platform.Row(platform.Button{Text: "« Volver", Data: "menu:main"}),
}

type menu struct {
	title    string
	keyboard platform.Keyboard
}

var menus = map[string]menu{
	"main":      {title: "Menú principal", keyboard: mainMenu},
	"consultas": {title: "Consultas de precios", keyboard: queriesMenu},
	"cuenta":    {title: "Tu cuenta", keyboard: accountMenu},
}

var fuelLabels = map[string]string{
	"magna":   "Magna",
	"premium": "Premium",
	"diesel":  "Diésel",
}

var fuelOrder = []string{"magna", "premium", "diesel"}

func fuelLabel(fuel string) string {
	if l, ok := fuelLabels[fuel]; ok {
		return l
	}
	return fuel
}

func fuelKeyboard(selected string) platform.Keyboard {
	row := make([]platform.Button, 0, len(fuelOrder))
	for _, f := range fuelOrder {
		label := fuelLabel(f)
		if f == selected {
			label = "• " + label
		}
		row = append(row, platform.Button{Text: label, Data: "fuel:" + f})
	}
	return platform.Keyboard{row}
}

func money(v float64) string {
	return fmt.Sprintf("$%.2f", v)
}

func where(location string) string {
	if location == "" || location == "cerca" {
		return ""
	}
	return " en " + location
}

func formatPrices(prices []pricing.Price) string {
	var b strings.Builder
	for _, p := range prices {
		fmt.Fprintf(&b, "• %s (%s): %s %s\n", p.StationName, p.City, fuelLabel(p.FuelType), money(p.Price))
	}
	return strings.TrimRight(b.String(), "\n")
}

func formatRanking(fuel, location string, prices []pricing.Price) string {
	var b strings.Builder
	fmt.Fprintf(&b, "🏆 %s más barata%s:\n", fuelLabel(fuel), where(location))
	for i, p := range prices {
		fmt.Fprintf(&b, "%d. %s (%s) %s · %s\n", i+1, p.StationName, p.City, money(p.Price), p.UpdatedAt.Format("02/01 15:04"))
	}
	return strings.TrimRight(b.String(), "\n")
}

func formatHistory(fuel, location string, days int, points []pricing.HistoryPoint) string {
	var b strings.Builder
	fmt.Fprintf(&b, "📈 %s%s, últimos %d días:\n", fuelLabel(fuel), where(location), days)
	for _, h := range points {
		fmt.Fprintf(&b, "%s: promedio %s (mín %s, máx %s)\n", h.Day.Format("02/01"), money(h.Average), money(h.Min), money(h.Max))
	}
	if len(points) > 1 {
		delta := points[len(points)-1].Average - points[0].Average
		fmt.Fprintf(&b, "Variación: %+.2f", delta)
	}
	return strings.TrimRight(b.String(), "\n")
}

func formatStation(s *pricing.Station) string {
	var b strings.Builder
	fmt.Fprintf(&b, "📍 %s\n", s.Name)
	if s.Brand != "" {
		fmt.Fprintf(&b, "Marca: %s\n", s.Brand)
	}
	if s.Address != "" {
		fmt.Fprintf(&b, "Dirección: %s\n", s.Address)
	}
	if s.City != "" {
		fmt.Fprintf(&b, "Ciudad: %s\n", s.City)
	}
	return strings.TrimRight(b.String(), "\n")
}

func stationKeyboard(stations []pricing.Station, action string) platform.Keyboard {
	kb := make(platform.Keyboard, 0, len(stations))
	for _, s := range stations {
		label := s.Name
		if s.City != "" {
			label += " · " + s.City
		}
		kb = append(kb, platform.Row(platform.Button{Text: label, Data: action + ":" + s.ID}))
	}
	return kb
}

func suggestionText(input string, suggestions []command.Name) string {
	if len(suggestions) == 0 {
		return fmt.Sprintf("No conozco el comando /%s. Usa /ayuda para ver los comandos disponibles.", input)
	}
	names := make([]string, len(suggestions))
	for i, s := range suggestions {
		names[i] = s.Slash()
	}
	return fmt.Sprintf("No conozco el comando /%s. ¿Quisiste decir %s?", input, strings.Join(names, ", "))
}

func suggestionKeyboard(suggestions []command.Name) platform.Keyboard {
	if len(suggestions) == 0 {
		return nil
	}
	row := make([]platform.Button, 0, len(suggestions))
	for _, s := range suggestions {
		row = append(row, platform.Button{Text: s.Slash(), Data: "cmd:" + string(s)})
	}
	return platform.Keyboard{row}
}
