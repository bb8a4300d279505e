package command

import "strings"

// Parsed is a slash command split into its parts.
type Parsed struct {
	Name Name // canonical
	Raw  string
	Bot  string
	Args []string
}

// IsCommand reports whether text is addressed as a slash command.
func IsCommand(text string) bool {
	return strings.HasPrefix(strings.TrimSpace(text), "/")
}

// Parse splits "/cmd@botname arg1 arg2". It returns false when text is not a command or the
// name is empty.
func Parse(text string) (Parsed, bool) {
	if !IsCommand(text) {
		return Parsed{}, false
	}
	fields := strings.Fields(strings.TrimSpace(text))
	head := strings.TrimPrefix(fields[0], "/")
	var bot string
	if at := strings.IndexByte(head, '@'); at >= 0 {
		head, bot = head[:at], head[at+1:]
	}
	if head == "" {
		return Parsed{}, false
	}
	p := Parsed{
		Name: Canonical(head),
		Raw:  clean(head),
		Bot:  bot,
	}
	if len(fields) > 1 {
		p.Args = fields[1:]
	}
	return p, true
}

// ArgString rejoins the arguments with single spaces.
func (p Parsed) ArgString() string {
	return strings.Join(p.Args, " ")
}
