package framer

import (
	"strconv"

	"github.com/jackc/pglogrepl"
	"github.com/maxpert/waljson/common"
	"github.com/maxpert/waljson/literal"
	"github.com/maxpert/waljson/tuple"
)

// Streaming writes one object per event, tagged with an action:
// B (begin), I/U/D (changes), M (message) and C (commit).
//
// Records stay on a single line in pretty mode so the output remains newline
// delimited.
type Streaming struct {
	opts Options
	sp   string
	sep  string
}

// NewStreaming creates a format version 2 framer.
func NewStreaming(opts Options) *Streaming {
	s := &Streaming{opts: opts, sep: ","}
	if opts.Pretty {
		s.sp, s.sep = " ", ", "
	}
	return s
}

func (s *Streaming) Streaming() bool {
	return true
}

func (s *Streaming) open(dst []byte, action string) []byte {
	dst = append(dst, `{"action":`...)
	dst = append(dst, s.sp...)
	dst = append(dst, '"')
	dst = append(dst, action...)
	return append(dst, '"')
}

// field starts a member that follows at least one other member.
func (s *Streaming) field(dst []byte, name string) []byte {
	dst = append(dst, s.sep...)
	return s.first(dst, name)
}

// first starts the first member of an object.
func (s *Streaming) first(dst []byte, name string) []byte {
	dst = append(dst, '"')
	dst = append(dst, name...)
	dst = append(dst, '"', ':')
	return append(dst, s.sp...)
}

func (s *Streaming) lsn(dst []byte, name string, lsn pglogrepl.LSN) []byte {
	dst = s.field(dst, name)
	return literal.AppendString(dst, lsn.String())
}

func (s *Streaming) txnFields(dst []byte, txn *common.Txn) []byte {
	if s.opts.IncludeXids {
		dst = s.field(dst, "xid")
		dst = strconv.AppendUint(dst, uint64(txn.Xid), 10)
	}
	if s.opts.IncludeTimestamp {
		dst = s.field(dst, "timestamp")
		dst = literal.AppendString(dst, formatTimestamp(txn.CommitTime))
	}
	return dst
}

func (s *Streaming) boundary(dst []byte, action string, txn *common.Txn) []byte {
	dst = s.open(dst, action)
	dst = s.txnFields(dst, txn)
	if s.opts.IncludeLSN {
		dst = s.lsn(dst, "lsn", txn.CommitLSN)
		dst = s.lsn(dst, "nextlsn", txn.EndLSN)
	}
	return append(dst, '}')
}

// Begin writes a B record, or nothing when transaction records are disabled.
func (s *Streaming) Begin(dst []byte, txn *common.Txn) []byte {
	if !s.opts.IncludeTransaction {
		return dst
	}
	return s.boundary(dst, "B", txn)
}

// Commit writes a C record, or nothing when transaction records are disabled.
func (s *Streaming) Commit(dst []byte, txn *common.Txn) []byte {
	if !s.opts.IncludeTransaction {
		return dst
	}
	return s.boundary(dst, "C", txn)
}

func (s *Streaming) Change(dst []byte, txn *common.Txn, n uint64, rec *ChangeRecord) []byte {
	dst = s.open(dst, rec.Kind.Action())
	dst = s.txnFields(dst, txn)
	if s.opts.IncludeLSN {
		dst = s.lsn(dst, "lsn", rec.LSN)
	}
	if s.opts.IncludeSchemas {
		dst = s.field(dst, "schema")
		dst = literal.AppendString(dst, rec.Schema)
	}
	dst = s.field(dst, "table")
	dst = literal.AppendString(dst, rec.Table)

	if s.opts.IncludePK && rec.HasPK {
		dst = s.field(dst, "pk")
		dst = s.objects(dst, rec.PK, s.pkObject)
	}
	if rec.HasColumns {
		dst = s.field(dst, "columns")
		dst = s.objects(dst, rec.Columns, s.columnObject)
	}
	if rec.HasIdentity {
		dst = s.field(dst, "identity")
		dst = s.objects(dst, rec.Identity, s.identityObject)
	}
	return append(dst, '}')
}

func (s *Streaming) objects(dst []byte, p tuple.Projection, w fieldWriter) []byte {
	dst = append(dst, '[')
	for i := 0; i < p.Len(); i++ {
		if i > 0 {
			dst = append(dst, s.sep...)
		}
		dst = w(dst, p.At(i))
	}
	return append(dst, ']')
}

func (s *Streaming) describe(dst []byte, f tuple.Field) []byte {
	dst = append(dst, '{')
	dst = s.first(dst, "name")
	dst = literal.AppendString(dst, f.Name)
	if s.opts.IncludeTypes {
		dst = s.field(dst, "type")
		dst = literal.AppendString(dst, f.Type)
	}
	if s.opts.IncludeTypeOids {
		dst = s.field(dst, "typeoid")
		dst = strconv.AppendUint(dst, uint64(f.TypeOID), 10)
	}
	return dst
}

func (s *Streaming) pkObject(dst []byte, f tuple.Field) []byte {
	dst = s.describe(dst, f)
	return append(dst, '}')
}

func (s *Streaming) columnObject(dst []byte, f tuple.Field) []byte {
	dst = s.describe(dst, f)
	dst = s.field(dst, "value")
	dst = append(dst, f.Value...)
	if s.opts.IncludeNotNull {
		dst = s.field(dst, "optional")
		dst = strconv.AppendBool(dst, f.Optional)
	}
	return append(dst, '}')
}

func (s *Streaming) identityObject(dst []byte, f tuple.Field) []byte {
	dst = s.describe(dst, f)
	dst = s.field(dst, "value")
	dst = append(dst, f.Value...)
	return append(dst, '}')
}

// Message writes an M record. Transaction fields are only present for
// transactional messages.
func (s *Streaming) Message(dst []byte, txn *common.Txn, n uint64, msg *common.Message) []byte {
	transactional := msg.Transactional && txn != nil

	dst = s.open(dst, "M")
	if transactional {
		dst = s.txnFields(dst, txn)
	}
	if s.opts.IncludeLSN {
		dst = s.lsn(dst, "lsn", msg.LSN)
	}
	dst = s.field(dst, "transactional")
	dst = strconv.AppendBool(dst, transactional)
	dst = s.field(dst, "prefix")
	dst = literal.AppendString(dst, msg.Prefix)
	dst = s.field(dst, "content")
	dst = literal.AppendString(dst, string(msg.Content))
	return append(dst, '}')
}
