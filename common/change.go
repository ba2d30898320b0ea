package common

import (
	"time"

	"github.com/jackc/pglogrepl"
)

// Column describes one attribute of a relation. Immutable per row shape.
type Column struct {
	Name    string `msgpack:"name"`
	TypeOID uint32 `msgpack:"oid"`
	TypeMod int32  `msgpack:"mod"` // -1 when the type carries no modifier
	NotNull bool   `msgpack:"notnull"`
	Dropped bool   `msgpack:"dropped"`
	System  bool   `msgpack:"system"`
	Ordinal int    `msgpack:"ord"`
}

// Datum is the textual output form of one column value.
//
// Unchanged marks an out-of-line value the change did not rewrite. Hosts that
// cannot supply such a value (pgoutput never does) also set Null.
type Datum struct {
	Text      string `msgpack:"t"`
	Null      bool   `msgpack:"n"`
	Unchanged bool   `msgpack:"u"`
}

// RowImage is a row's values aligned with Relation.Columns. It is only valid
// for the duration of the call that received it.
type RowImage []Datum

// Relation describes a table as seen by the change host.
type Relation struct {
	ID       uint32         `msgpack:"id"`
	Schema   string         `msgpack:"schema"`
	Name     string         `msgpack:"name"`
	Columns  []Column       `msgpack:"columns"`
	Identity IdentityPolicy `msgpack:"identity"`
	// IndexColumns names the replica identity index columns; nil when the
	// relation has no usable key index.
	IndexColumns []string `msgpack:"index"`
}

// QualifiedName returns schema.name
func (r *Relation) QualifiedName() string {
	return r.Schema + "." + r.Name
}

// HasKey returns true if updates and deletes can derive an identity.
func (r *Relation) HasKey() bool {
	if r.Identity == IdentityFull {
		return true
	}
	return r.Identity != IdentityNothing && len(r.IndexColumns) > 0
}

// Change is one row-level mutation.
type Change struct {
	Kind       ChangeKind    `msgpack:"kind"`
	RelationID uint32        `msgpack:"rel"`
	LSN        pglogrepl.LSN `msgpack:"lsn"`
	Old        RowImage      `msgpack:"old"`
	New        RowImage      `msgpack:"new"`
}

// Message is a generic logical decoding message.
type Message struct {
	Transactional bool          `msgpack:"tx"`
	Prefix        string        `msgpack:"prefix"`
	Content       []byte        `msgpack:"content"`
	LSN           pglogrepl.LSN `msgpack:"lsn"`
}

// Txn carries the transaction context handed to every callback.
type Txn struct {
	Xid        uint32        `msgpack:"xid"`
	BeginLSN   pglogrepl.LSN `msgpack:"begin"`
	EndLSN     pglogrepl.LSN `msgpack:"end"` // next LSN after the commit record
	CommitLSN  pglogrepl.LSN `msgpack:"commit"`
	CommitTime time.Time     `msgpack:"ts"`
}
