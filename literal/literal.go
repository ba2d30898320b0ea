// Package literal renders column values as JSON literals.
package literal

import (
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/maxpert/waljson/common"
)

// Kind selects how a value's text form is rendered.
type Kind uint8

const (
	Text Kind = iota
	Numeric
	Bool
	Binary
)

const numberChars = "0123456789+-eE."

// KindForOID classifies a column type.
func KindForOID(oid uint32) Kind {
	switch oid {
	case pgtype.Int2OID, pgtype.Int4OID, pgtype.Int8OID, pgtype.OIDOID,
		pgtype.Float4OID, pgtype.Float8OID, pgtype.NumericOID:
		return Numeric
	case pgtype.BoolOID:
		return Bool
	case pgtype.ByteaOID:
		return Binary
	}
	return Text
}

// NotANumberError reports a numeric column whose text is not a number.
type NotANumberError struct {
	Text string
}

func (e *NotANumberError) Error() string {
	return fmt.Sprintf("%s is not a number", e.Text)
}

// Append appends the literal for d to dst. special is true when a non-finite
// numeric was replaced with null.
func Append(dst []byte, d common.Datum, kind Kind) (out []byte, special bool, err error) {
	if d.Null {
		return append(dst, "null"...), false, nil
	}

	switch kind {
	case Numeric:
		if isNonFinite(d.Text) {
			return append(dst, "null"...), true, nil
		}
		if d.Text == "" || strings.Trim(d.Text, numberChars) != "" {
			return dst, false, &NotANumberError{Text: d.Text}
		}
		return append(dst, d.Text...), false, nil
	case Bool:
		if d.Text == "t" {
			return append(dst, "true"...), false, nil
		}
		return append(dst, "false"...), false, nil
	case Binary:
		// bytea output is \x<hex>
		return AppendString(dst, d.Text[min(2, len(d.Text)):]), false, nil
	default:
		return AppendString(dst, d.Text), false, nil
	}
}

func isNonFinite(s string) bool {
	return hasPrefixFold(s, "NaN") || hasPrefixFold(s, "Infinity") || hasPrefixFold(s, "-Infinity")
}

func hasPrefixFold(s, prefix string) bool {
	return len(s) >= len(prefix) && strings.EqualFold(s[:len(prefix)], prefix)
}
