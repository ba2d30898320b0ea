package catalog

import (
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgtype"
)

// sqlNames holds the SQL standard spellings format_type uses for builtins.
var sqlNames = map[uint32]string{
	pgtype.BitOID:         "bit",
	pgtype.BoolOID:        "boolean",
	pgtype.BPCharOID:      "character",
	pgtype.Float4OID:      "real",
	pgtype.Float8OID:      "double precision",
	pgtype.Int2OID:        "smallint",
	pgtype.Int4OID:        "integer",
	pgtype.Int8OID:        "bigint",
	pgtype.NumericOID:     "numeric",
	pgtype.IntervalOID:    "interval",
	pgtype.TimeOID:        "time without time zone",
	pgtype.TimestampOID:   "timestamp without time zone",
	pgtype.TimestamptzOID: "timestamp with time zone",
	pgtype.VarbitOID:      "bit varying",
	pgtype.VarcharOID:     "character varying",
	pgtype.QCharOID:       `"char"`,
	timetzOID:             "time with time zone",
}

const (
	timetzOID = 1266
	varHdrSz  = 4

	intervalFullRange     = 0x7fff
	intervalFullPrecision = 0xffff
)

// interval field masks, 1 << datetime token
const (
	maskMonth  = 1 << 1
	maskYear   = 1 << 2
	maskDay    = 1 << 3
	maskHour   = 1 << 10
	maskMinute = 1 << 11
	maskSecond = 1 << 12
)

var intervalFields = map[int32]string{
	maskYear:                        " year",
	maskMonth:                       " month",
	maskDay:                         " day",
	maskHour:                        " hour",
	maskMinute:                      " minute",
	maskSecond:                      " second",
	maskYear | maskMonth:            " year to month",
	maskDay | maskHour:              " day to hour",
	maskDay | maskHour | maskMinute: " day to minute",
	maskDay | maskHour | maskMinute | maskSecond: " day to second",
	maskHour | maskMinute:                        " hour to minute",
	maskHour | maskMinute | maskSecond:           " hour to second",
	maskMinute | maskSecond:                      " minute to second",
}

// formatType renders a base type the way format_type(oid, typmod) does.
func formatType(t typeInfo, typmod int32) string {
	name, builtin := sqlNames[t.oid]
	if !builtin {
		name = t.displayName()
	}
	if typmod < 0 {
		// an explicit -1 typmod renders blank-padded char by its internal name
		if t.oid == pgtype.BPCharOID {
			return "bpchar"
		}
		return name
	}

	switch t.oid {
	case pgtype.BPCharOID, pgtype.VarcharOID:
		return fmt.Sprintf("%s(%d)", name, typmod-varHdrSz)
	case pgtype.BitOID, pgtype.VarbitOID:
		return fmt.Sprintf("%s(%d)", name, typmod)
	case pgtype.NumericOID:
		precision := ((typmod - varHdrSz) >> 16) & 0xffff
		scale := (((typmod - varHdrSz) & 0x7ff) ^ 1024) - 1024
		return fmt.Sprintf("numeric(%d,%d)", precision, scale)
	case pgtype.TimeOID:
		return fmt.Sprintf("time(%d) without time zone", typmod)
	case timetzOID:
		return fmt.Sprintf("time(%d) with time zone", typmod)
	case pgtype.TimestampOID:
		return fmt.Sprintf("timestamp(%d) without time zone", typmod)
	case pgtype.TimestamptzOID:
		return fmt.Sprintf("timestamp(%d) with time zone", typmod)
	case pgtype.IntervalOID:
		return formatInterval(typmod)
	}

	if builtin {
		return name
	}
	return fmt.Sprintf("%s(%d)", name, typmod)
}

func formatInterval(typmod int32) string {
	var b strings.Builder
	b.WriteString("interval")

	fields := (typmod >> 16) & 0x7fff
	if fields != intervalFullRange {
		b.WriteString(intervalFields[fields])
	}

	precision := typmod & 0xffff
	if precision != intervalFullPrecision {
		fmt.Fprintf(&b, "(%d)", precision)
	}
	return b.String()
}
