// Package tuple projects row images into ordered, rendered column fields.
//
// The same projection backs both the parallel array and the map
// serializations, so names, types and values always stay aligned.
package tuple

import (
	"fmt"
	"slices"

	"github.com/maxpert/waljson/common"
	"github.com/maxpert/waljson/literal"
	"github.com/rs/zerolog/log"
)

// TypeResolver names column types.
type TypeResolver interface {
	TypeName(oid uint32, typmod int32, withTypmod bool) (string, error)
}

// Options controls which per-column metadata is gathered.
type Options struct {
	IncludeTypes          bool
	IncludeTypmod         bool
	IncludeUnchangedToast bool
}

// Projector renders columns and identities into a Scratch.
type Projector struct {
	opts  Options
	types TypeResolver
}

// NewProjector creates a projector. types is only consulted when
// IncludeTypes is set.
func NewProjector(opts Options, types TypeResolver) *Projector {
	return &Projector{opts: opts, types: types}
}

// Columns projects every live column of row, nulls included.
func (p *Projector) Columns(s *Scratch, rel *common.Relation, row common.RowImage) (Projection, error) {
	return p.project(s, rel, row, nil, false)
}

// Identity projects the key image of row. When keys is non-nil only columns
// named in keys are kept. Null values never appear in an identity.
func (p *Projector) Identity(s *Scratch, rel *common.Relation, row common.RowImage, keys []string) (Projection, error) {
	return p.project(s, rel, row, keys, true)
}

// Keys projects the names and types of the relation's key columns, without
// values.
func (p *Projector) Keys(s *Scratch, rel *common.Relation) (Projection, error) {
	lo := len(s.fields)
	for _, col := range rel.Columns {
		if col.Dropped || col.System || !slices.Contains(rel.IndexColumns, col.Name) {
			continue
		}
		f, err := p.describe(col)
		if err != nil {
			return Projection{}, err
		}
		f.lo, f.hi = len(s.buf), len(s.buf)
		s.fields = append(s.fields, f)
	}
	return Projection{s: s, lo: lo, hi: len(s.fields)}, nil
}

func (p *Projector) project(s *Scratch, rel *common.Relation, row common.RowImage, keys []string, identity bool) (Projection, error) {
	if len(row) != len(rel.Columns) {
		return Projection{}, fmt.Errorf("row of %s has %d values for %d columns", rel.QualifiedName(), len(row), len(rel.Columns))
	}

	lo := len(s.fields)
	for i, col := range rel.Columns {
		if col.Dropped || col.System {
			continue
		}
		if keys != nil && !slices.Contains(keys, col.Name) {
			continue
		}

		d := row[i]
		if identity && d.Null {
			continue
		}
		if d.Unchanged && (!p.opts.IncludeUnchangedToast || d.Null) {
			log.Trace().
				Str("table", rel.QualifiedName()).
				Str("column", col.Name).
				Msg("Skipping unchanged out-of-line value")
			continue
		}

		f, err := p.describe(col)
		if err != nil {
			return Projection{}, err
		}

		f.lo = len(s.buf)
		buf, special, err := literal.Append(s.buf, d, literal.KindForOID(col.TypeOID))
		if err != nil {
			return Projection{}, fmt.Errorf("column %q of %s: %w", col.Name, rel.QualifiedName(), err)
		}
		if special {
			s.specials++
			log.Debug().
				Str("table", rel.QualifiedName()).
				Str("column", col.Name).
				Str("value", d.Text).
				Msg("Non-finite numeric written as null")
		}
		s.buf = buf
		f.hi = len(s.buf)
		s.fields = append(s.fields, f)
	}

	return Projection{s: s, lo: lo, hi: len(s.fields)}, nil
}

func (p *Projector) describe(col common.Column) (field, error) {
	f := field{
		name:     col.Name,
		typeOID:  col.TypeOID,
		optional: !col.NotNull,
	}
	if !p.opts.IncludeTypes {
		return f, nil
	}

	name, err := p.types.TypeName(col.TypeOID, col.TypeMod, p.opts.IncludeTypmod)
	if err != nil {
		return field{}, fmt.Errorf("type of column %q: %w", col.Name, err)
	}
	f.typ = name
	return f, nil
}
