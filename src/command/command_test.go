package command

import (
	"context"
	"testing"
	"time"

	"fuelbot/src/platform"
	"fuelbot/src/session"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func noop(context.Context, *Invocation) error { return nil }

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	r := NewRegistry()
	for _, name := range []Name{Prices, Stations, History, Ranking, Help, Menu, Link} {
		require.NoError(t, r.Register(name, noop))
	}
	return r
}

func TestParse(t *testing.T) {
	p, ok := Parse("/precios@FuelBot magna  cdmx")
	require.True(t, ok)
	assert.Equal(t, Prices, p.Name)
	assert.Equal(t, "FuelBot", p.Bot)
	assert.Equal(t, []string{"magna", "cdmx"}, p.Args)
	assert.Equal(t, "magna cdmx", p.ArgString())

	p, ok = Parse("  /Menú")
	require.True(t, ok)
	assert.Equal(t, Menu, p.Name)
	assert.Empty(t, p.Args)

	p, ok = Parse("/gasolineras")
	require.True(t, ok)
	assert.Equal(t, Stations, p.Name)
	assert.Equal(t, "gasolineras", p.Raw)

	for _, text := range []string{"hola", "", "/", "/@bot", "precio /magna"} {
		_, ok := Parse(text)
		assert.False(t, ok, text)
	}
}

func TestCanonical(t *testing.T) {
	cases := map[string]Name{
		"help":        Help,
		"/AYUDA":      Help,
		"top":         Ranking,
		"histórico":   History,
		"config":      Settings,
		"salir":       Cancel,
		"iniciar":     Start,
		"desconocido": Name("desconocido"),
	}
	for in, want := range cases {
		assert.Equal(t, want, Canonical(in), in)
	}
}

func TestRegistryIsAliasAware(t *testing.T) {
	r := newTestRegistry(t)

	cmd, ok := r.Get("gasolina")
	require.True(t, ok)
	assert.Equal(t, Prices, cmd.Name)
	assert.Equal(t, CategoryQueries, cmd.Category)

	assert.True(t, r.Has("/Stations"))
	assert.True(t, r.Has("registro"))
	assert.False(t, r.Has("inicio"))
	assert.False(t, r.Has("nada"))
}

func TestRegisterValidatesAndReplaces(t *testing.T) {
	r := NewRegistry()
	assert.Error(t, r.Register("", noop))
	assert.Error(t, r.Register(Prices, nil))

	require.NoError(t, r.Register(Prices, noop))
	require.NoError(t, r.Register("prices", noop, WithDescription("nuevo"), Writes()))

	cmd, ok := r.Get("precios")
	require.True(t, ok)
	assert.Equal(t, "nuevo", cmd.Description)
	assert.True(t, cmd.Writes)
	assert.Equal(t, []Name{Prices}, r.Names())
}

func TestGetSimilar(t *testing.T) {
	r := newTestRegistry(t)

	got := r.GetSimilar("prezios", DefaultSuggestionDistance)
	require.NotEmpty(t, got)
	assert.Equal(t, Prices, got[0])

	// "history" is one edit away and resolves to the canonical name
	got = r.GetSimilar("/histori", 0)
	require.NotEmpty(t, got)
	assert.Equal(t, History, got[0])

	assert.Empty(t, r.GetSimilar("zzzzzzzzzz", 3))
	assert.Empty(t, r.GetSimilar("", 3))

	got = r.GetSimilar("x", 20)
	assert.Len(t, got, 3)
	seen := map[Name]bool{}
	for _, n := range got {
		assert.False(t, seen[n], "duplicate suggestion %s", n)
		seen[n] = true
	}
}

func TestGetSimilarIgnoresUnregisteredAliases(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(Help, noop))

	// "salir" is an alias of Cancel, which is not registered
	assert.Empty(t, r.GetSimilar("salir", 1))
}

func TestByCategory(t *testing.T) {
	r := newTestRegistry(t)
	require.NoError(t, r.Register(Status, noop, Hidden()))
	require.NoError(t, r.Register("faq", noop, WithCategory("extra")))

	groups := r.ByCategory()
	require.Len(t, groups, 4)
	assert.Equal(t, CategoryQueries, groups[0].Category)
	assert.Equal(t, CategoryAccount, groups[1].Category)
	assert.Equal(t, CategoryGeneral, groups[2].Category)
	assert.Equal(t, Category("extra"), groups[3].Category)

	var queries []Name
	for _, c := range groups[0].Commands {
		queries = append(queries, c.Name)
	}
	assert.Equal(t, []Name{Stations, History, Prices, Ranking}, queries)

	for _, g := range groups {
		for _, c := range g.Commands {
			assert.NotEqual(t, Status, c.Name)
		}
	}
}

type recordingMessenger struct {
	sent   []platform.OutgoingMessage
	edited []string
}

func (m *recordingMessenger) SendMessage(_ context.Context, msg platform.OutgoingMessage) (int, error) {
	m.sent = append(m.sent, msg)
	return len(m.sent), nil
}

func (m *recordingMessenger) EditMessage(_ context.Context, _ int64, _ int, text string, _ platform.Keyboard) error {
	m.edited = append(m.edited, text)
	return nil
}

func (m *recordingMessenger) DeleteMessage(context.Context, int64, int) error { return nil }

func (m *recordingMessenger) AnswerCallback(context.Context, string, string) error { return nil }

func TestInvocation(t *testing.T) {
	m := &recordingMessenger{}
	inv := &Invocation{
		Update:    platform.Update{ChatID: 42, MessageID: 7},
		Args:      []string{"magna"},
		Session:   session.New("1", time.Now()),
		Messenger: m,
	}

	assert.Equal(t, "", inv.LastReply())
	inv.Reply(context.Background(), "hola", nil)
	inv.Edit(context.Background(), "editado", nil)
	inv.Mutate(session.SetValue("k", "v"), session.ClearFlow())

	require.Len(t, m.sent, 1)
	assert.Equal(t, int64(42), m.sent[0].ChatID)
	assert.Equal(t, []string{"editado"}, m.edited)
	assert.Equal(t, "editado", inv.LastReply())
	assert.Equal(t, []string{"hola", "editado"}, inv.Replies())
	assert.Len(t, inv.Mutations(), 2)
	assert.Equal(t, "v", inv.Session.StringValue("k"))
	assert.Equal(t, "magna", inv.Arg(0))
	assert.Equal(t, "", inv.Arg(3))
}
