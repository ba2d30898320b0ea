package selector

import (
	"fmt"
	"strings"

	"github.com/gobwas/glob"
)

// MessageFilter decides which logical decoding messages are emitted, by prefix.
// Entries are glob patterns; an entry without metacharacters matches exactly.
type MessageFilter struct {
	excludeGlobs []glob.Glob
	addGlobs     []glob.Glob
}

// NewMessageFilter compiles the exclude and add prefix patterns.
// Empty add patterns allow every prefix that is not excluded.
func NewMessageFilter(excludePatterns, addPatterns []string) (*MessageFilter, error) {
	filter := &MessageFilter{
		excludeGlobs: make([]glob.Glob, 0, len(excludePatterns)),
		addGlobs:     make([]glob.Glob, 0, len(addPatterns)),
	}

	for _, pattern := range excludePatterns {
		g, err := glob.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("invalid message prefix pattern %q: %w", pattern, err)
		}
		filter.excludeGlobs = append(filter.excludeGlobs, g)
	}

	for _, pattern := range addPatterns {
		g, err := glob.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("invalid message prefix pattern %q: %w", pattern, err)
		}
		filter.addGlobs = append(filter.addGlobs, g)
	}

	return filter, nil
}

// Match returns true if a message with prefix should be emitted.
// A nil filter matches everything.
func (f *MessageFilter) Match(prefix string) bool {
	if f == nil {
		return true
	}

	for _, g := range f.excludeGlobs {
		if g.Match(prefix) {
			return false
		}
	}

	if len(f.addGlobs) == 0 {
		return true
	}

	for _, g := range f.addGlobs {
		if g.Match(prefix) {
			return true
		}
	}
	return false
}

// SplitList splits a comma separated option value. Whitespace around items is
// dropped and \, yields a literal comma; other escapes are kept for the glob
// compiler.
func SplitList(raw string) ([]string, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}

	var (
		items []string
		cur   strings.Builder
	)
	flush := func() error {
		item := strings.TrimSpace(cur.String())
		cur.Reset()
		if item == "" {
			return fmt.Errorf("could not parse %q: empty item", raw)
		}
		items = append(items, item)
		return nil
	}

	for i := 0; i < len(raw); i++ {
		switch c := raw[i]; c {
		case '\\':
			if i+1 == len(raw) {
				return nil, fmt.Errorf("could not parse %q: dangling escape", raw)
			}
			i++
			if raw[i] != ',' {
				cur.WriteByte('\\')
			}
			cur.WriteByte(raw[i])
		case ',':
			if err := flush(); err != nil {
				return nil, err
			}
		default:
			cur.WriteByte(c)
		}
	}

	if err := flush(); err != nil {
		return nil, err
	}
	return items, nil
}
