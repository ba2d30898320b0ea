package framer

import (
	"strconv"
	"strings"

	"github.com/maxpert/waljson/literal"
	"github.com/maxpert/waljson/tuple"
)

// tokens are the whitespace pieces that differ between compact and pretty
// output.
type tokens struct {
	nl   string
	sp   string
	sep  string
	tabs [5]string
}

func newTokens(pretty bool) tokens {
	t := tokens{sep: ","}
	if pretty {
		t.nl, t.sp, t.sep = "\n", " ", ", "
		for i := range t.tabs {
			t.tabs[i] = strings.Repeat("\t", i)
		}
	}
	return t
}

// key appends an indented "name": prefix.
func (t *tokens) key(dst []byte, depth int, name string) []byte {
	dst = append(dst, t.tabs[depth]...)
	dst = append(dst, '"')
	dst = append(dst, name...)
	dst = append(dst, '"', ':')
	return append(dst, t.sp...)
}

// next ends a member that is followed by another one.
func (t *tokens) next(dst []byte) []byte {
	dst = append(dst, ',')
	return append(dst, t.nl...)
}

// last ends the final member of an object.
func (t *tokens) last(dst []byte) []byte {
	return append(dst, t.nl...)
}

func (t *tokens) end(dst []byte, more bool) []byte {
	if more {
		return t.next(dst)
	}
	return t.last(dst)
}

// fieldWriter appends one attribute of a projected field.
type fieldWriter func(dst []byte, f tuple.Field) []byte

func writeName(dst []byte, f tuple.Field) []byte {
	return literal.AppendString(dst, f.Name)
}

func writeType(dst []byte, f tuple.Field) []byte {
	return literal.AppendString(dst, f.Type)
}

func writeTypeOID(dst []byte, f tuple.Field) []byte {
	return strconv.AppendUint(dst, uint64(f.TypeOID), 10)
}

func writeOptional(dst []byte, f tuple.Field) []byte {
	return strconv.AppendBool(dst, f.Optional)
}

func writeValue(dst []byte, f tuple.Field) []byte {
	return append(dst, f.Value...)
}
