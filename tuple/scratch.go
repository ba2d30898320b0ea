package tuple

// Scratch holds the fields and rendered literals of the change being encoded.
// It is reset once per change and never shrinks, so steady state encoding
// does not allocate.
type Scratch struct {
	buf      []byte
	fields   []field
	specials int
}

type field struct {
	name     string
	typ      string
	typeOID  uint32
	optional bool
	lo, hi   int
}

// Reset releases everything projected since the last reset.
func (s *Scratch) Reset() {
	s.buf = s.buf[:0]
	s.fields = s.fields[:0]
	s.specials = 0
}

// Empty returns true if nothing has been projected since the last reset.
func (s *Scratch) Empty() bool {
	return len(s.buf) == 0 && len(s.fields) == 0
}

// Specials returns how many non-finite numerics were written as null since
// the last reset.
func (s *Scratch) Specials() int {
	return s.specials
}

// Field is one projected column.
type Field struct {
	Name     string
	Type     string
	TypeOID  uint32
	Optional bool
	// Value is the rendered JSON literal. It aliases the scratch buffer.
	Value []byte
}

// Projection is an ordered run of fields inside a Scratch.
type Projection struct {
	s      *Scratch
	lo, hi int
}

// Len returns the number of fields.
func (p Projection) Len() int {
	return p.hi - p.lo
}

// At returns the i-th field.
func (p Projection) At(i int) Field {
	f := p.s.fields[p.lo+i]
	return Field{
		Name:     f.name,
		Type:     f.typ,
		TypeOID:  f.typeOID,
		Optional: f.optional,
		Value:    p.s.buf[f.lo:f.hi],
	}
}
