package nlp

import (
	"sort"
	"strings"

	"fuelbot/src/model"
)

// Lexicon holds every word table the pipeline matches against. Terms may be written with
// accents and in any case; they are normalized when the lexicon is compiled.
type Lexicon struct {
	Corrections    map[string]string `yaml:"corrections"`
	Colloquialisms []Rewrite         `yaml:"colloquialisms"`
	IntentPhrases  []IntentPhrases   `yaml:"intent_phrases"`
	KeywordGroups  []IntentPhrases   `yaml:"keyword_groups"`
	FuelTypes      []FuelType        `yaml:"fuel_types"`
	Locations      []string          `yaml:"locations"`
	NearbyTerms    []string          `yaml:"nearby_terms"`
	Brands         []Brand           `yaml:"brands"`
	Qualifiers     []string          `yaml:"qualifiers"`
	FollowUps      []string          `yaml:"follow_ups"`
	TimePhrases    map[string]int    `yaml:"time_phrases"`
	Vocabulary     []string          `yaml:"vocabulary"`
}

// Rewrite maps a colloquial phrase to its canonical term.
type Rewrite struct {
	From string `yaml:"from"`
	To   string `yaml:"to"`
}

// IntentPhrases lists the phrases that select an intent. Order between entries matters:
// the first entry with a match wins.
type IntentPhrases struct {
	Intent  model.Intent `yaml:"intent"`
	Phrases []string     `yaml:"phrases"`
}

type FuelType struct {
	Name  string   `yaml:"name"`
	Terms []string `yaml:"terms"`
}

// Brand is a station brand as typed by users and as displayed.
type Brand struct {
	Match string `yaml:"match"`
	Name  string `yaml:"name"`
}

// Merge returns l with every non-empty table of o replacing the corresponding table.
func (l Lexicon) Merge(o Lexicon) Lexicon {
	if len(o.Corrections) > 0 {
		l.Corrections = o.Corrections
	}
	if len(o.Colloquialisms) > 0 {
		l.Colloquialisms = o.Colloquialisms
	}
	if len(o.IntentPhrases) > 0 {
		l.IntentPhrases = o.IntentPhrases
	}
	if len(o.KeywordGroups) > 0 {
		l.KeywordGroups = o.KeywordGroups
	}
	if len(o.FuelTypes) > 0 {
		l.FuelTypes = o.FuelTypes
	}
	if len(o.Locations) > 0 {
		l.Locations = o.Locations
	}
	if len(o.NearbyTerms) > 0 {
		l.NearbyTerms = o.NearbyTerms
	}
	if len(o.Brands) > 0 {
		l.Brands = o.Brands
	}
	if len(o.Qualifiers) > 0 {
		l.Qualifiers = o.Qualifiers
	}
	if len(o.FollowUps) > 0 {
		l.FollowUps = o.FollowUps
	}
	if len(o.TimePhrases) > 0 {
		l.TimePhrases = o.TimePhrases
	}
	if len(o.Vocabulary) > 0 {
		l.Vocabulary = append(append([]string(nil), l.Vocabulary...), o.Vocabulary...)
	}
	return l
}

// DefaultLexicon returns the built-in Spanish (Mexico) tables.
func DefaultLexicon() Lexicon {
	return Lexicon{
		Corrections: map[string]string{
			"presio":      "precio",
			"presios":     "precios",
			"prescio":     "precio",
			"estasion":    "estacion",
			"estasiones":  "estaciones",
			"gasolinra":   "gasolinera",
			"gasolinerra": "gasolinera",
			"premiun":     "premium",
			"premiumm":    "premium",
			"primium":     "premium",
			"disel":       "diesel",
			"diessel":     "diesel",
			"dissel":      "diesel",
			"magana":      "magna",
			"kuanto":      "cuanto",
			"cuato":       "cuanto",
			"barrata":     "barata",
		},
		Colloquialisms: []Rewrite{
			{From: "gasolina normal", To: "magna"},
			{From: "gasolina regular", To: "magna"},
			{From: "la verde", To: "la magna"},
			{From: "verde", To: "magna"},
			{From: "regular", To: "magna"},
			{From: "gasolina roja", To: "premium"},
			{From: "la roja", To: "la premium"},
			{From: "roja", To: "premium"},
			{From: "super", To: "premium"},
			{From: "gasoil", To: "diesel"},
		},
		IntentPhrases: []IntentPhrases{
			{Intent: model.IntentPriceHistory, Phrases: []string{
				"historial", "historico", "como ha cambiado", "como han cambiado", "ha subido", "han subido",
				"ha bajado", "han bajado", "evolucion", "tendencia", "precio anterior", "precios anteriores",
			}},
			{Intent: model.IntentPriceComparison, Phrases: []string{
				"comparar", "compara", "comparacion", "diferencia entre", "versus", "vs", "mas barata que", "mas cara que",
			}},
			{Intent: model.IntentRanking, Phrases: []string{
				"mas barata", "mas baratas", "mas barato", "mas baratos", "mas economica", "mas economicas",
				"mejor precio", "mejores precios", "ranking", "top",
			}},
			{Intent: model.IntentStationSearch, Phrases: []string{
				"donde hay", "donde puedo", "donde cargo", "donde cargar", "gasolinera cerca", "gasolineras cerca",
				"estacion cerca", "estaciones cerca", "buscar estacion", "buscar gasolinera", "cerca de mi", "mas cercana",
			}},
			{Intent: model.IntentPriceQuery, Phrases: []string{
				"cuanto esta", "cuanto cuesta", "cuanto sale", "cuanto vale", "a cuanto", "a como esta", "a como",
				"precio de", "precio del", "precios de", "precio actual", "que precio", "cual es el precio", "como esta el precio",
			}},
			{Intent: model.IntentHelp, Phrases: []string{
				"ayuda", "ayudame", "que puedes hacer", "como funciona", "como te uso", "comandos", "no entiendo",
			}},
			{Intent: model.IntentGreeting, Phrases: []string{
				"hola", "buenos dias", "buenas tardes", "buenas noches", "buen dia", "que tal", "saludos",
			}},
		},
		KeywordGroups: []IntentPhrases{
			{Intent: model.IntentPriceQuery, Phrases: []string{
				"precio", "precios", "cuesta", "costo", "vale", "magna", "premium", "diesel", "gasolina", "litro",
			}},
			{Intent: model.IntentStationSearch, Phrases: []string{
				"estacion", "estaciones", "gasolinera", "gasolineras", "cerca", "ubicacion", "direccion",
			}},
			{Intent: model.IntentHelp, Phrases: []string{
				"ayuda", "help", "info", "informacion",
			}},
		},
		FuelTypes: []FuelType{
			{Name: "magna", Terms: []string{"magna"}},
			{Name: "premium", Terms: []string{"premium"}},
			{Name: "diesel", Terms: []string{"diesel", "diésel"}},
		},
		Locations: []string{
			"ciudad de mexico", "cdmx", "monterrey", "guadalajara", "puebla", "queretaro", "tijuana", "leon",
			"merida", "cancun", "toluca", "saltillo", "san pedro", "san nicolas", "apodaca", "guadalupe",
			"santa catarina", "escobedo", "juarez", "zapopan", "centro", "norte", "sur",
		},
		NearbyTerms: []string{"cerca", "cercana", "cercanas", "cercano", "por aqui", "a mi alrededor"},
		Brands: []Brand{
			{Match: "oxxo gas", Name: "OXXO Gas"},
			{Match: "petro seven", Name: "Petro Seven"},
			{Match: "pemex", Name: "Pemex"},
			{Match: "shell", Name: "Shell"},
			{Match: "bp", Name: "BP"},
			{Match: "mobil", Name: "Mobil"},
			{Match: "g500", Name: "G500"},
			{Match: "arco", Name: "Arco"},
			{Match: "hidrosina", Name: "Hidrosina"},
			{Match: "chevron", Name: "Chevron"},
			{Match: "total", Name: "Total"},
			{Match: "repsol", Name: "Repsol"},
			{Match: "orsan", Name: "Orsan"},
		},
		Qualifiers: []string{"centro", "norte", "sur", "oriente", "poniente", "express", "plus", "valle", "cumbres"},
		FollowUps: []string{
			"y el", "y la", "y los", "y las", "y en", "y para", "y si", "y de", "y que tal", "y cuanto", "y ahora",
			"tambien", "ademas", "que tal en", "and the", "also",
		},
		TimePhrases: map[string]int{
			"hoy":           1,
			"ayer":          1,
			"esta semana":   7,
			"ultima semana": 7,
			"semana pasada": 7,
			"este mes":      30,
			"ultimo mes":    30,
			"mes pasado":    30,
		},
		Vocabulary: []string{"cuanto", "donde", "cual", "barato", "baratos", "semana", "semanas", "dias", "meses", "litros"},
	}
}

type compiledPhrases struct {
	intent  model.Intent
	phrases []string
}

type compiledFuel struct {
	name  string
	terms []string
}

type compiledBrand struct {
	match string
	name  string
}

type compiledTime struct {
	phrase string
	days   int
}

// compiledLexicon is a Lexicon with every term normalized and folded.
type compiledLexicon struct {
	corrections    []rewrite
	colloquialisms []rewrite
	intents        []compiledPhrases
	keywords       []compiledPhrases
	fuels          []compiledFuel
	locations      []string
	nearby         []string
	brands         []compiledBrand
	qualifiers     map[string]bool
	followUps      []string
	timePhrases    []compiledTime
	vocabulary     map[string]bool
	vocabList      []string
}

func compile(l Lexicon) *compiledLexicon {
	c := &compiledLexicon{
		corrections: sortedCorrections(l.Corrections),
		qualifiers:  map[string]bool{},
		vocabulary:  map[string]bool{},
	}
	addVocab := func(phrase string) {
		for _, w := range strings.Fields(phrase) {
			if len([]rune(w)) >= 3 {
				c.vocabulary[w] = true
			}
		}
	}
	terms := func(in []string) []string {
		out := make([]string, 0, len(in))
		for _, t := range in {
			if n := normalizeTerm(t); n != "" {
				out = append(out, n)
				addVocab(n)
			}
		}
		return out
	}

	for _, r := range c.corrections {
		addVocab(r.to)
	}
	for _, r := range l.Colloquialisms {
		from, to := normalizeTerm(r.From), normalizeTerm(r.To)
		if from == "" {
			continue
		}
		c.colloquialisms = append(c.colloquialisms, rewrite{from: from, to: to})
		addVocab(from)
		addVocab(to)
	}
	for _, ip := range l.IntentPhrases {
		c.intents = append(c.intents, compiledPhrases{intent: ip.Intent, phrases: terms(ip.Phrases)})
	}
	for _, kg := range l.KeywordGroups {
		c.keywords = append(c.keywords, compiledPhrases{intent: kg.Intent, phrases: terms(kg.Phrases)})
	}
	for _, f := range l.FuelTypes {
		name := normalizeTerm(f.Name)
		addVocab(name)
		c.fuels = append(c.fuels, compiledFuel{name: name, terms: terms(f.Terms)})
	}
	c.locations = terms(l.Locations)
	// longer names first so "san pedro" wins over a shorter overlapping entry
	sort.SliceStable(c.locations, func(i, j int) bool { return len(c.locations[i]) > len(c.locations[j]) })
	c.nearby = terms(l.NearbyTerms)
	for _, b := range l.Brands {
		if m := normalizeTerm(b.Match); m != "" {
			c.brands = append(c.brands, compiledBrand{match: m, name: b.Name})
			addVocab(m)
		}
	}
	for _, q := range terms(l.Qualifiers) {
		c.qualifiers[q] = true
	}
	c.followUps = terms(l.FollowUps)
	for phrase, days := range l.TimePhrases {
		if p := normalizeTerm(phrase); p != "" && days > 0 {
			c.timePhrases = append(c.timePhrases, compiledTime{phrase: p, days: days})
			addVocab(p)
		}
	}
	sort.Slice(c.timePhrases, func(i, j int) bool {
		if len(c.timePhrases[i].phrase) != len(c.timePhrases[j].phrase) {
			return len(c.timePhrases[i].phrase) > len(c.timePhrases[j].phrase)
		}
		return c.timePhrases[i].phrase < c.timePhrases[j].phrase
	})
	terms(l.Vocabulary)

	c.vocabList = make([]string, 0, len(c.vocabulary))
	for w := range c.vocabulary {
		c.vocabList = append(c.vocabList, w)
	}
	sort.Strings(c.vocabList)
	return c
}
