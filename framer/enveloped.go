package framer

import (
	"strconv"

	"github.com/maxpert/waljson/common"
	"github.com/maxpert/waljson/literal"
	"github.com/maxpert/waljson/tuple"
)

// Enveloped writes one object per transaction:
//
//	{"xid":7,"change":[{"kind":"insert",...},{"kind":"message",...}]}
//
// Changes of a transaction are separated by commas based on their position, so
// a change that is skipped before it reaches the framer leaves no trace.
type Enveloped struct {
	opts Options
	tok  tokens
	// pretty output without chunking puts every change on its own line
	lead string
}

// NewEnveloped creates a format version 1 framer.
func NewEnveloped(opts Options) *Enveloped {
	e := &Enveloped{opts: opts, tok: newTokens(opts.Pretty)}
	if opts.Pretty && !opts.WriteInChunks {
		e.lead = "\n"
	}
	return e
}

func (e *Enveloped) Streaming() bool {
	return false
}

func (e *Enveloped) Begin(dst []byte, txn *common.Txn) []byte {
	t := &e.tok
	dst = append(dst, '{')
	dst = append(dst, t.nl...)

	if e.opts.IncludeXids {
		dst = t.key(dst, 1, "xid")
		dst = strconv.AppendUint(dst, uint64(txn.Xid), 10)
		dst = t.next(dst)
	}
	if e.opts.IncludeLSN {
		dst = t.key(dst, 1, "nextlsn")
		dst = literal.AppendString(dst, txn.EndLSN.String())
		dst = t.next(dst)
	}
	if e.opts.IncludeTimestamp {
		dst = t.key(dst, 1, "timestamp")
		dst = literal.AppendString(dst, formatTimestamp(txn.CommitTime))
		dst = t.next(dst)
	}

	dst = t.key(dst, 1, "change")
	return append(dst, '[')
}

func (e *Enveloped) Commit(dst []byte, txn *common.Txn) []byte {
	t := &e.tok
	dst = append(dst, e.lead...)
	dst = append(dst, t.tabs[1]...)
	dst = append(dst, ']')
	dst = append(dst, t.nl...)
	return append(dst, '}')
}

// open starts the n-th element of the change array.
func (e *Enveloped) open(dst []byte, n uint64) []byte {
	dst = append(dst, e.lead...)
	dst = append(dst, e.tok.tabs[2]...)
	if n > 1 {
		dst = append(dst, ',')
	}
	dst = append(dst, '{')
	return append(dst, e.tok.nl...)
}

func (e *Enveloped) Change(dst []byte, txn *common.Txn, n uint64, rec *ChangeRecord) []byte {
	t := &e.tok
	dst = e.open(dst, n)

	dst = t.key(dst, 3, "kind")
	dst = literal.AppendString(dst, rec.Kind.String())
	dst = t.next(dst)
	if e.opts.IncludeSchemas {
		dst = t.key(dst, 3, "schema")
		dst = literal.AppendString(dst, rec.Schema)
		dst = t.next(dst)
	}
	dst = t.key(dst, 3, "table")
	dst = literal.AppendString(dst, rec.Table)
	dst = t.next(dst)

	if rec.HasColumns {
		if e.opts.ColumnsAsMap {
			dst = e.columnMaps(dst, rec.Columns, rec.HasIdentity)
		} else {
			dst = e.columnArrays(dst, rec.Columns, rec.HasIdentity)
		}
	}
	if rec.HasIdentity {
		dst = e.oldKeys(dst, rec.Identity)
	}

	dst = append(dst, t.tabs[2]...)
	return append(dst, '}')
}

func (e *Enveloped) columnArrays(dst []byte, p tuple.Projection, more bool) []byte {
	dst = e.array(dst, 3, "columnnames", p, writeName, true)
	if e.opts.IncludeTypes {
		dst = e.array(dst, 3, "columntypes", p, writeType, true)
	}
	if e.opts.IncludeTypeOids {
		dst = e.array(dst, 3, "columntypeoids", p, writeTypeOID, true)
	}
	if e.opts.IncludeNotNull {
		dst = e.array(dst, 3, "columnoptionals", p, writeOptional, true)
	}
	return e.array(dst, 3, "columnvalues", p, writeValue, more)
}

func (e *Enveloped) columnMaps(dst []byte, p tuple.Projection, more bool) []byte {
	if e.opts.IncludeTypes {
		dst = e.object(dst, 3, "columntypes", p, writeType, true)
	}
	if e.opts.IncludeTypeOids {
		dst = e.object(dst, 3, "columntypeoids", p, writeTypeOID, true)
	}
	if e.opts.IncludeNotNull {
		dst = e.object(dst, 3, "columnoptionals", p, writeOptional, true)
	}
	return e.object(dst, 3, "columns", p, writeValue, more)
}

// oldKeys writes the identity object. Not-null flags are never part of it.
func (e *Enveloped) oldKeys(dst []byte, p tuple.Projection) []byte {
	t := &e.tok
	dst = t.key(dst, 3, "oldkeys")
	dst = append(dst, '{')
	dst = append(dst, t.nl...)

	if e.opts.ColumnsAsMap {
		if e.opts.IncludeTypes {
			dst = e.object(dst, 4, "keytypes", p, writeType, true)
		}
		if e.opts.IncludeTypeOids {
			dst = e.object(dst, 4, "keytypeoids", p, writeTypeOID, true)
		}
		dst = e.object(dst, 4, "keys", p, writeValue, false)
	} else {
		dst = e.array(dst, 4, "keynames", p, writeName, true)
		if e.opts.IncludeTypes {
			dst = e.array(dst, 4, "keytypes", p, writeType, true)
		}
		if e.opts.IncludeTypeOids {
			dst = e.array(dst, 4, "keytypeoids", p, writeTypeOID, true)
		}
		dst = e.array(dst, 4, "keyvalues", p, writeValue, false)
	}

	dst = append(dst, t.tabs[3]...)
	dst = append(dst, '}')
	return t.last(dst)
}

// array writes "name":[a,b,...] with one element per field.
func (e *Enveloped) array(dst []byte, depth int, name string, p tuple.Projection, w fieldWriter, more bool) []byte {
	t := &e.tok
	dst = t.key(dst, depth, name)
	dst = append(dst, '[')
	for i := 0; i < p.Len(); i++ {
		if i > 0 {
			dst = append(dst, t.sep...)
		}
		dst = w(dst, p.At(i))
	}
	dst = append(dst, ']')
	return t.end(dst, more)
}

// object writes "name":{"col":a,...} keyed by column name.
func (e *Enveloped) object(dst []byte, depth int, name string, p tuple.Projection, w fieldWriter, more bool) []byte {
	t := &e.tok
	dst = t.key(dst, depth, name)
	dst = append(dst, '{')
	for i := 0; i < p.Len(); i++ {
		if i > 0 {
			dst = append(dst, t.sep...)
		}
		f := p.At(i)
		dst = literal.AppendString(dst, f.Name)
		dst = append(dst, ':')
		dst = append(dst, t.sp...)
		dst = w(dst, f)
	}
	dst = append(dst, '}')
	return t.end(dst, more)
}

// Message frames a logical decoding message. Transactional messages are
// elements of the change array; the others get their own envelope.
func (e *Enveloped) Message(dst []byte, txn *common.Txn, n uint64, msg *common.Message) []byte {
	t := &e.tok
	standalone := !msg.Transactional || txn == nil

	if standalone {
		dst = append(dst, '{')
		dst = append(dst, t.nl...)
		dst = t.key(dst, 1, "change")
		dst = append(dst, '[')
		dst = append(dst, t.nl...)
		dst = append(dst, t.tabs[2]...)
		dst = append(dst, '{')
		dst = append(dst, t.nl...)
	} else {
		dst = e.open(dst, n)
	}

	dst = t.key(dst, 3, "kind")
	dst = append(dst, `"message"`...)
	dst = t.next(dst)
	dst = t.key(dst, 3, "transactional")
	dst = strconv.AppendBool(dst, !standalone)
	dst = t.next(dst)
	dst = t.key(dst, 3, "prefix")
	dst = literal.AppendString(dst, msg.Prefix)
	dst = t.next(dst)
	dst = t.key(dst, 3, "content")
	dst = literal.AppendString(dst, string(msg.Content))
	dst = t.last(dst)
	dst = append(dst, t.tabs[2]...)
	dst = append(dst, '}')

	if standalone {
		dst = append(dst, t.nl...)
		dst = append(dst, t.tabs[1]...)
		dst = append(dst, ']')
		dst = append(dst, t.nl...)
		dst = append(dst, '}')
	}
	return dst
}
