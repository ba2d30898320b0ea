package pgsource

import (
	"fmt"

	"github.com/jackc/pglogrepl"
	"github.com/maxpert/waljson/capture"
	"github.com/maxpert/waljson/catalog"
	"github.com/maxpert/waljson/common"
	"github.com/maxpert/waljson/telemetry"
	"github.com/rs/zerolog/log"
)

// relationKeyFlag marks a pgoutput relation column as part of the replica
// identity.
const relationKeyFlag = 1

// TypeRegistry receives types described by the replication stream.
type TypeRegistry interface {
	Register(info catalog.TypeInfo)
}

type eventKind uint8

const (
	pendingChange eventKind = iota
	pendingMessage
	pendingInvalidate
)

type pendingEvent struct {
	kind    eventKind
	rel     *common.Relation
	change  common.Change
	message common.Message
	relID   uint32
}

// decoder turns pgoutput messages into handler callbacks.
//
// pgoutput only sends the commit and end LSNs with the commit message, so a
// transaction is buffered and handed to the handler once it commits. Non
// transactional messages are delivered immediately.
type decoder struct {
	handler   capture.Handler
	types     TypeRegistry
	relations map[uint32]*common.Relation

	inTxn   bool
	txn     common.Txn
	pending []pendingEvent
}

func newDecoder(handler capture.Handler, types TypeRegistry) *decoder {
	return &decoder{
		handler:   handler,
		types:     types,
		relations: make(map[uint32]*common.Relation),
	}
}

// decode parses one XLogData payload. It returns the end LSN of the
// transaction when walData was a commit.
func (d *decoder) decode(walData []byte, walStart pglogrepl.LSN) (pglogrepl.LSN, bool, error) {
	msg, err := pglogrepl.Parse(walData)
	if err != nil {
		return 0, false, fmt.Errorf("parse logical replication message: %w", err)
	}
	return d.handle(msg, walStart)
}

func (d *decoder) handle(msg pglogrepl.Message, walStart pglogrepl.LSN) (pglogrepl.LSN, bool, error) {
	telemetry.SourceMessagesTotal.With(msg.Type().String()).Inc()

	switch m := msg.(type) {
	case *pglogrepl.RelationMessage:
		return 0, false, d.handleRelation(m)

	case *pglogrepl.TypeMessage:
		if d.types != nil {
			d.types.Register(catalog.TypeInfo{OID: m.DataType, Namespace: m.Namespace, Name: m.Name})
		}

	case *pglogrepl.BeginMessage:
		if d.inTxn {
			log.Warn().Uint32("xid", d.txn.Xid).Msg("Begin without commit, dropping buffered transaction")
		}
		d.inTxn = true
		d.pending = d.pending[:0]
		d.txn = common.Txn{
			Xid:        m.Xid,
			BeginLSN:   walStart,
			CommitLSN:  m.FinalLSN,
			CommitTime: m.CommitTime,
		}

	case *pglogrepl.InsertMessage:
		rel, err := d.relation(m.RelationID)
		if err != nil {
			return 0, false, err
		}
		row, err := rowImage(m.Tuple, rel)
		if err != nil {
			return 0, false, err
		}
		return 0, false, d.change(rel, common.Change{Kind: common.ChangeInsert, RelationID: rel.ID, LSN: walStart, New: row})

	case *pglogrepl.UpdateMessage:
		rel, err := d.relation(m.RelationID)
		if err != nil {
			return 0, false, err
		}
		newRow, err := rowImage(m.NewTuple, rel)
		if err != nil {
			return 0, false, err
		}
		oldRow, err := rowImage(m.OldTuple, rel)
		if err != nil {
			return 0, false, err
		}
		return 0, false, d.change(rel, common.Change{Kind: common.ChangeUpdate, RelationID: rel.ID, LSN: walStart, Old: oldRow, New: newRow})

	case *pglogrepl.DeleteMessage:
		rel, err := d.relation(m.RelationID)
		if err != nil {
			return 0, false, err
		}
		oldRow, err := rowImage(m.OldTuple, rel)
		if err != nil {
			return 0, false, err
		}
		return 0, false, d.change(rel, common.Change{Kind: common.ChangeDelete, RelationID: rel.ID, LSN: walStart, Old: oldRow})

	case *pglogrepl.LogicalDecodingMessage:
		out := common.Message{
			Transactional: m.Transactional,
			Prefix:        m.Prefix,
			Content:       append([]byte(nil), m.Content...),
			LSN:           m.LSN,
		}
		if m.Transactional && d.inTxn {
			d.pending = append(d.pending, pendingEvent{kind: pendingMessage, message: out})
			return 0, false, nil
		}
		return 0, false, d.handler.Message(nil, &out)

	case *pglogrepl.CommitMessage:
		if !d.inTxn {
			return 0, false, fmt.Errorf("commit at %s without begin", m.CommitLSN)
		}
		d.txn.CommitLSN = m.CommitLSN
		d.txn.EndLSN = m.TransactionEndLSN
		d.txn.CommitTime = m.CommitTime
		if err := d.dispatch(); err != nil {
			return 0, false, err
		}
		return m.TransactionEndLSN, true, nil

	case *pglogrepl.TruncateMessage:
		log.Debug().Uint32("relations", m.RelationNum).Msg("Ignoring truncate")

	default:
		log.Trace().Str("type", msg.Type().String()).Msg("Ignoring replication message")
	}

	return 0, false, nil
}

func (d *decoder) handleRelation(m *pglogrepl.RelationMessage) error {
	rel, err := relationFromMessage(m)
	if err != nil {
		return err
	}

	if _, ok := d.relations[rel.ID]; ok {
		if d.inTxn {
			d.pending = append(d.pending, pendingEvent{kind: pendingInvalidate, relID: rel.ID})
		} else {
			d.handler.InvalidateRelation(rel.ID)
		}
	}
	d.relations[rel.ID] = rel

	log.Debug().
		Uint32("relation", rel.ID).
		Str("table", rel.QualifiedName()).
		Str("identity", rel.Identity.String()).
		Strs("keys", rel.IndexColumns).
		Msg("Relation described")
	return nil
}

func (d *decoder) relation(id uint32) (*common.Relation, error) {
	rel, ok := d.relations[id]
	if !ok {
		return nil, fmt.Errorf("unknown relation ID %d", id)
	}
	return rel, nil
}

func (d *decoder) change(rel *common.Relation, ch common.Change) error {
	if !d.inTxn {
		return fmt.Errorf("%s on %s outside a transaction", ch.Kind, rel.QualifiedName())
	}
	d.pending = append(d.pending, pendingEvent{kind: pendingChange, rel: rel, change: ch})
	return nil
}

// dispatch hands the buffered transaction to the handler.
func (d *decoder) dispatch() error {
	defer func() {
		d.inTxn = false
		clear(d.pending)
		d.pending = d.pending[:0]
	}()

	txn := &d.txn
	if err := d.handler.Begin(txn); err != nil {
		return err
	}

	for i := range d.pending {
		ev := &d.pending[i]
		var err error
		switch ev.kind {
		case pendingChange:
			err = d.handler.Change(txn, ev.rel, &ev.change)
		case pendingMessage:
			err = d.handler.Message(txn, &ev.message)
		case pendingInvalidate:
			d.handler.InvalidateRelation(ev.relID)
		}
		if err != nil {
			return err
		}
	}

	return d.handler.Commit(txn)
}

// InTransaction returns true while a transaction is being buffered.
func (d *decoder) InTransaction() bool {
	return d.inTxn
}

func relationFromMessage(m *pglogrepl.RelationMessage) (*common.Relation, error) {
	identity, ok := common.IdentityFromByte(m.ReplicaIdentity)
	if !ok {
		return nil, fmt.Errorf("relation %s.%s: unknown replica identity %q", m.Namespace, m.RelationName, m.ReplicaIdentity)
	}

	rel := &common.Relation{
		ID:       m.RelationID,
		Schema:   m.Namespace,
		Name:     m.RelationName,
		Identity: identity,
		Columns:  make([]common.Column, len(m.Columns)),
	}
	for i, col := range m.Columns {
		rel.Columns[i] = common.Column{
			Name:    col.Name,
			TypeOID: col.DataType,
			TypeMod: col.TypeModifier,
			Ordinal: i + 1,
		}
		if col.Flags&relationKeyFlag != 0 {
			rel.IndexColumns = append(rel.IndexColumns, col.Name)
		}
	}
	return rel, nil
}

// rowImage copies a pgoutput tuple. A nil tuple yields a nil image.
func rowImage(tuple *pglogrepl.TupleData, rel *common.Relation) (common.RowImage, error) {
	if tuple == nil {
		return nil, nil
	}
	if len(tuple.Columns) != len(rel.Columns) {
		return nil, fmt.Errorf("relation %s: tuple has %d columns, relation has %d",
			rel.QualifiedName(), len(tuple.Columns), len(rel.Columns))
	}

	row := make(common.RowImage, len(tuple.Columns))
	for i, col := range tuple.Columns {
		switch col.DataType {
		case pglogrepl.TupleDataTypeNull:
			row[i] = common.Datum{Null: true}
		case pglogrepl.TupleDataTypeToast:
			// pgoutput never sends the value of an unchanged toasted column
			row[i] = common.Datum{Null: true, Unchanged: true}
		case pglogrepl.TupleDataTypeText:
			row[i] = common.Datum{Text: string(col.Data)}
		default:
			return nil, fmt.Errorf("relation %s column %s: unsupported tuple data type %q",
				rel.QualifiedName(), rel.Columns[i].Name, col.DataType)
		}
	}
	return row, nil
}
