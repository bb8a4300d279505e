package command

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"fuelbot/pkg/textdist"
)

// DefaultSuggestionDistance is the edit distance GetSimilar uses when none is given.
const DefaultSuggestionDistance = 3

const maxSuggestions = 3

// Handler executes one command invocation.
type Handler func(ctx context.Context, inv *Invocation) error

// Command is a registered handler and its metadata.
type Command struct {
	Name        Name
	Description string
	Category    Category
	Handler     Handler
	// Writes marks commands that change persisted data; they are refused in read-only mode.
	Writes bool
	// Hidden commands work but are left out of the help listing.
	Hidden bool
}

type Option func(*Command)

func WithDescription(d string) Option {
	return func(c *Command) { c.Description = d }
}

func WithCategory(cat Category) Option {
	return func(c *Command) { c.Category = cat }
}

func Writes() Option {
	return func(c *Command) { c.Writes = true }
}

func Hidden() Option {
	return func(c *Command) { c.Hidden = true }
}

// Registry maps canonical command names to handlers. All lookups are alias-aware.
type Registry struct {
	mu       sync.RWMutex
	commands map[Name]*Command
}

func NewRegistry() *Registry {
	return &Registry{commands: make(map[Name]*Command)}
}

// Register adds or replaces the handler for name.
func (r *Registry) Register(name Name, handler Handler, opts ...Option) error {
	name = Canonical(string(name))
	if name == "" {
		return errors.New("command name cannot be empty")
	}
	if handler == nil {
		return fmt.Errorf("command %q: nil handler", name)
	}
	cmd := &Command{Name: name, Handler: handler, Category: CategoryGeneral}
	if cat, ok := defaultCategories[name]; ok {
		cmd.Category = cat
	}
	for _, opt := range opts {
		opt(cmd)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.commands[name] = cmd
	return nil
}

// Get looks up a command by name or alias.
func (r *Registry) Get(name string) (*Command, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cmd, ok := r.commands[Canonical(name)]
	return cmd, ok
}

func (r *Registry) Has(name string) bool {
	_, ok := r.Get(name)
	return ok
}

// GetSimilar suggests up to three registered commands within maxDistance edits of input.
// Aliases take part in the ranking and are reported by their canonical name.
func (r *Registry) GetSimilar(input string, maxDistance int) []Name {
	if maxDistance <= 0 {
		maxDistance = DefaultSuggestionDistance
	}
	in := clean(input)
	if in == "" {
		return nil
	}

	r.mu.RLock()
	best := make(map[Name]int)
	consider := func(candidate string, target Name) {
		if _, ok := r.commands[target]; !ok {
			return
		}
		d := textdist.Levenshtein(in, candidate)
		if d > maxDistance {
			return
		}
		if prev, ok := best[target]; !ok || d < prev {
			best[target] = d
		}
	}
	for name := range r.commands {
		consider(string(name), name)
	}
	for alias, target := range aliases {
		consider(alias, target)
	}
	r.mu.RUnlock()

	out := make([]Name, 0, len(best))
	for name := range best {
		out = append(out, name)
	}
	sort.Slice(out, func(i, j int) bool {
		if best[out[i]] != best[out[j]] {
			return best[out[i]] < best[out[j]]
		}
		return out[i] < out[j]
	})
	if len(out) > maxSuggestions {
		out = out[:maxSuggestions]
	}
	return out
}

// Names lists the registered canonical names in order.
func (r *Registry) Names() []Name {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Name, 0, len(r.commands))
	for name := range r.commands {
		out = append(out, name)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// CategoryGroup is one section of the help listing.
type CategoryGroup struct {
	Category Category
	Commands []Command
}

// ByCategory groups the visible commands for the help listing, categories in a fixed order and
// commands sorted by name.
func (r *Registry) ByCategory() []CategoryGroup {
	r.mu.RLock()
	grouped := make(map[Category][]Command)
	for _, cmd := range r.commands {
		if cmd.Hidden {
			continue
		}
		grouped[cmd.Category] = append(grouped[cmd.Category], *cmd)
	}
	r.mu.RUnlock()

	var out []CategoryGroup
	seen := make(map[Category]bool)
	emit := func(cat Category) {
		cmds := grouped[cat]
		if len(cmds) == 0 || seen[cat] {
			return
		}
		seen[cat] = true
		sort.Slice(cmds, func(i, j int) bool { return cmds[i].Name < cmds[j].Name })
		out = append(out, CategoryGroup{Category: cat, Commands: cmds})
	}
	for _, cat := range categoryOrder {
		emit(cat)
	}
	// categories set through WithCategory that are not in the fixed order
	var extra []Category
	for cat := range grouped {
		if !seen[cat] {
			extra = append(extra, cat)
		}
	}
	sort.Slice(extra, func(i, j int) bool { return extra[i] < extra[j] })
	for _, cat := range extra {
		emit(cat)
	}
	return out
}
