// Package command holds the slash-command vocabulary, its parser and the handler registry.
package command

import (
	"strings"

	"fuelbot/pkg/textdist"
)

// Name is a canonical command name, always lowercase and without the leading slash.
type Name string

const (
	Start    Name = "start"
	Help     Name = "ayuda"
	Menu     Name = "menu"
	Prices   Name = "precios"
	Stations Name = "estaciones"
	History  Name = "historial"
	Compare  Name = "comparar"
	Ranking  Name = "ranking"
	Link     Name = "vincular"
	Settings Name = "configuracion"
	Status   Name = "estado"
	Cancel   Name = "cancelar"
)

func (n Name) String() string { return string(n) }

// Slash returns the name as the user types it.
func (n Name) Slash() string { return "/" + string(n) }

// Category groups commands in the help listing.
type Category string

const (
	CategoryQueries Category = "consultas"
	CategoryAccount Category = "cuenta"
	CategoryGeneral Category = "general"
)

// categoryOrder is the order categories are listed in.
var categoryOrder = []Category{CategoryQueries, CategoryAccount, CategoryGeneral}

var defaultCategories = map[Name]Category{
	Prices:   CategoryQueries,
	Stations: CategoryQueries,
	History:  CategoryQueries,
	Compare:  CategoryQueries,
	Ranking:  CategoryQueries,
	Link:     CategoryAccount,
	Settings: CategoryAccount,
}

// aliases maps synonyms (folded, lowercase) to canonical names.
var aliases = map[string]Name{
	"help":        Help,
	"ayudame":     Help,
	"prices":      Prices,
	"precio":      Prices,
	"gasolina":    Prices,
	"top":         Ranking,
	"mejores":     Ranking,
	"baratas":     Ranking,
	"history":     History,
	"historico":   History,
	"stations":    Stations,
	"gasolineras": Stations,
	"buscar":      Stations,
	"compare":     Compare,
	"link":        Link,
	"registro":    Link,
	"registrar":   Link,
	"settings":    Settings,
	"config":      Settings,
	"ajustes":     Settings,
	"status":      Status,
	"cancel":      Cancel,
	"salir":       Cancel,
	"inicio":      Start,
	"iniciar":     Start,
}

func clean(name string) string {
	name = strings.TrimSpace(name)
	name = strings.TrimPrefix(name, "/")
	return textdist.Fold(strings.ToLower(name))
}

// Canonical resolves aliases, case and accents: "/Menú", "menu" and "MENU" all give Menu.
// Names that are not aliases come back cleaned but otherwise unchanged.
func Canonical(name string) Name {
	c := clean(name)
	if target, ok := aliases[c]; ok {
		return target
	}
	return Name(c)
}
