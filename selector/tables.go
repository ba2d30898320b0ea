// Package selector implements the schema.table exclude/add lists and the
// message prefix filter.
package selector

import (
	"fmt"
	"strings"
)

const wildcard = "*"

// Table is one selector entry. AllSchemas/AllTables stand for an unescaped *
// in the corresponding segment.
type Table struct {
	Schema     string
	Name       string
	AllSchemas bool
	AllTables  bool
}

// Matches reports whether the entry covers schema.table.
func (t Table) Matches(schema, table string) bool {
	if !t.AllSchemas && t.Schema != schema {
		return false
	}
	return t.AllTables || t.Name == table
}

func (t Table) String() string {
	schema, name := t.Schema, t.Name
	if t.AllSchemas {
		schema = wildcard
	}
	if t.AllTables {
		name = wildcard
	}
	return schema + "." + name
}

// AllTables is the default add-list: every table in every schema.
func AllTables() []Table {
	return []Table{{AllSchemas: true, AllTables: true}}
}

// ParseTables parses a comma separated list of schema.table entries.
// Whitespace around entries is ignored, a backslash makes the next character
// literal, and a segment consisting of an unescaped * is a wildcard.
func ParseTables(raw string) ([]Table, error) {
	s := strings.TrimLeft(raw, " \t\n\r\v\f")
	if s == "" {
		return nil, nil
	}

	var tables []Table
	i := 0
	for {
		start := i
		for i < len(s) && s[i] != ',' && !isSpace(s[i]) {
			if s[i] == '\\' {
				i++
				if i == len(s) {
					return nil, fmt.Errorf("could not parse %q: dangling escape", raw)
				}
			}
			i++
		}
		if i == start {
			return nil, fmt.Errorf("could not parse %q: empty table name", raw)
		}
		token := s[start:i]

		for i < len(s) && isSpace(s[i]) {
			i++
		}

		done := false
		switch {
		case i == len(s):
			done = true
		case s[i] == ',':
			i++
			for i < len(s) && isSpace(s[i]) {
				i++
			}
		default:
			return nil, fmt.Errorf("could not parse %q: unexpected %q", raw, s[i])
		}

		t, err := parseTable(token)
		if err != nil {
			return nil, fmt.Errorf("could not parse %q: %w", raw, err)
		}
		tables = append(tables, t)

		if done {
			return tables, nil
		}
	}
}

// parseTable splits token on its first unescaped dot.
func parseTable(token string) (Table, error) {
	for i := 0; i < len(token); i++ {
		switch token[i] {
		case '\\':
			i++
		case '.':
			schemaRaw, tableRaw := token[:i], token[i+1:]
			return Table{
				Schema:     unescape(schemaRaw),
				Name:       unescape(tableRaw),
				AllSchemas: schemaRaw == wildcard,
				AllTables:  tableRaw == wildcard,
			}, nil
		}
	}
	return Table{}, fmt.Errorf("%q has no schema", unescape(token))
}

func unescape(s string) string {
	if !strings.Contains(s, `\`) {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		if s[i] == '\\' && i+1 < len(s) {
			i++
		}
		b.WriteByte(s[i])
	}
	return b.String()
}

func isSpace(c byte) bool {
	switch c {
	case ' ', '\t', '\n', '\r', '\v', '\f':
		return true
	}
	return false
}

// ShouldProcess applies the selector lists to schema.table. Any exclude entry
// match wins; otherwise a non-empty add list must contain a match.
func ShouldProcess(schema, table string, exclude, add []Table) bool {
	for _, t := range exclude {
		if t.Matches(schema, table) {
			return false
		}
	}

	if len(add) == 0 {
		return true
	}

	for _, t := range add {
		if t.Matches(schema, table) {
			return true
		}
	}
	return false
}

// TableSelector bundles the two lists.
type TableSelector struct {
	Exclude []Table
	Add     []Table
}

// ShouldProcess applies the selector to schema.table.
func (s *TableSelector) ShouldProcess(schema, table string) bool {
	return ShouldProcess(schema, table, s.Exclude, s.Add)
}
