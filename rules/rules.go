// Package rules implements the ordered include/exclude table directives.
//
// Every directive is evaluated on every call and the last one that matches
// decides. A table no directive matches is emitted.
package rules

import (
	"fmt"
	"strings"

	"github.com/maxpert/waljson/match"
)

// PatternPrefix marks a directive value as a regular expression.
const PatternPrefix = "~"

// Kind classifies a Command. It is fixed when the command is created.
type Kind uint8

const (
	IncludeAll Kind = iota
	IncludeExact
	IncludeRegex
	ExcludeExact
	ExcludeRegex
)

func (k Kind) String() string {
	switch k {
	case IncludeAll:
		return "include-all"
	case IncludeExact:
		return "include-exact"
	case IncludeRegex:
		return "include-regex"
	case ExcludeExact:
		return "exclude-exact"
	case ExcludeRegex:
		return "exclude-regex"
	}
	return fmt.Sprintf("Kind(%d)", uint8(k))
}

func (k Kind) includes() bool {
	return k == IncludeAll || k == IncludeExact || k == IncludeRegex
}

// Command is a single directive.
type Command struct {
	kind    Kind
	matcher *match.Matcher
}

// Kind returns the classification of the command.
func (c Command) Kind() Kind {
	return c.kind
}

// Value returns the table name or pattern, empty for IncludeAll.
func (c Command) Value() string {
	if c.matcher == nil {
		return ""
	}
	return c.matcher.String()
}

func (c Command) matches(table string) (bool, error) {
	if c.kind == IncludeAll {
		return true, nil
	}
	return c.matcher.Match(table)
}

// Rules is an ordered directive list. The zero value emits everything.
type Rules struct {
	cmds []Command
}

// New returns an empty rule list.
func New() *Rules {
	return &Rules{}
}

// Include appends an include directive. A value starting with ~ is a pattern.
func (r *Rules) Include(value string) error {
	cmd, err := newCommand(value, IncludeExact, IncludeRegex)
	if err != nil {
		return err
	}
	r.cmds = append(r.cmds, cmd)
	return nil
}

// Exclude appends an exclude directive. A value starting with ~ is a pattern.
// Excluding from an empty list first adds an IncludeAll, so that "everything
// except X" does not turn into "nothing".
func (r *Rules) Exclude(value string) error {
	cmd, err := newCommand(value, ExcludeExact, ExcludeRegex)
	if err != nil {
		return err
	}
	if len(r.cmds) == 0 {
		r.cmds = append(r.cmds, Command{kind: IncludeAll})
	}
	r.cmds = append(r.cmds, cmd)
	return nil
}

func newCommand(value string, exact, regex Kind) (Command, error) {
	if pattern, ok := strings.CutPrefix(value, PatternPrefix); ok {
		m, err := match.Compile(pattern)
		if err != nil {
			return Command{}, err
		}
		return Command{kind: regex, matcher: m}, nil
	}
	return Command{kind: exact, matcher: match.Literal(value)}, nil
}

// Commands returns a copy of the directives in evaluation order.
func (r *Rules) Commands() []Command {
	if r == nil {
		return nil
	}
	out := make([]Command, len(r.cmds))
	copy(out, r.cmds)
	return out
}

// Len returns the number of directives, including a synthesized IncludeAll.
func (r *Rules) Len() int {
	if r == nil {
		return 0
	}
	return len(r.cmds)
}

// ShouldEmit folds every directive over table, last match wins. A matching
// error aborts the evaluation and must be treated as fatal.
func (r *Rules) ShouldEmit(table string) (bool, error) {
	result := true
	if r == nil {
		return result, nil
	}

	for _, cmd := range r.cmds {
		ok, err := cmd.matches(table)
		if err != nil {
			return false, fmt.Errorf("evaluating %s %q: %w", cmd.kind, cmd.Value(), err)
		}
		if ok {
			result = cmd.kind.includes()
		}
	}

	return result, nil
}
