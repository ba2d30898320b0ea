// Package encoder turns host change callbacks into framed JSON output.
//
// A Session is driven by exactly one host goroutine: Begin, then any number
// of Change and Message calls, then Commit. Stats and the telemetry accessors
// may be called from other goroutines.
package encoder

import (
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/maxpert/waljson/catalog"
	"github.com/maxpert/waljson/cfg"
	"github.com/maxpert/waljson/common"
	"github.com/maxpert/waljson/framer"
	"github.com/maxpert/waljson/literal"
	"github.com/maxpert/waljson/match"
	"github.com/maxpert/waljson/rules"
	"github.com/maxpert/waljson/selector"
	"github.com/maxpert/waljson/telemetry"
	"github.com/maxpert/waljson/tuple"
	"github.com/rs/zerolog/log"
)

var (
	ErrClosed         = errors.New("session is closed")
	ErrNoTransaction  = errors.New("no transaction is open")
	ErrNilTransaction = errors.New("transaction is required")
)

// Output receives every flushed unit of encoded output. data is reused once
// Write returns and must be copied if retained.
type Output interface {
	Write(xid uint32, data []byte) error
}

// OutputFunc adapts a function to Output.
type OutputFunc func(xid uint32, data []byte) error

func (f OutputFunc) Write(xid uint32, data []byte) error {
	return f(xid, data)
}

// Session holds all per-session encoder state.
type Session struct {
	opts      cfg.EncoderOptions
	framer    framer.Framer
	projector *tuple.Projector
	rules     *rules.Rules
	tables    *selector.TableSelector
	messages  *selector.MessageFilter
	out       Output
	chunked   bool
	withPK    bool

	relations *relationCache

	// transaction frame
	txn          common.Txn
	counter      uint64
	beginPending bool
	inTxn        atomic.Bool

	buf     []byte
	msgBuf  []byte
	scratch tuple.Scratch
	rec     framer.ChangeRecord

	fatal  error
	failed atomic.Bool
	closed bool
	stats  counters
}

// New creates a session. Configuration problems are reported here, before
// any output is produced.
func New(opts cfg.EncoderOptions, types tuple.TypeResolver, out Output) (*Session, error) {
	if out == nil {
		return nil, fmt.Errorf("output is required")
	}
	if opts.IncludeTypes && types == nil {
		return nil, fmt.Errorf("a type resolver is required when types are included")
	}

	f, err := framer.New(opts.FormatVersion, opts.FramerOptions())
	if err != nil {
		return nil, err
	}

	if len(opts.TableRules) > 0 && (opts.TableSelection || len(opts.FilterTables) > 0) {
		return nil, fmt.Errorf("table selector and table rules cannot be combined")
	}

	var r *rules.Rules
	if len(opts.TableRules) > 0 {
		r = rules.New()
		for _, d := range opts.TableRules {
			if d.Exclude {
				err = r.Exclude(d.Value)
			} else {
				err = r.Include(d.Value)
			}
			if err != nil {
				return nil, fmt.Errorf("table rule %q: %w", d.Value, err)
			}
		}
	}

	messages, err := selector.NewMessageFilter(opts.FilterMsgPrefixes, opts.AddMsgPrefixes)
	if err != nil {
		return nil, err
	}

	s := &Session{
		opts:   opts,
		framer: f,
		projector: tuple.NewProjector(tuple.Options{
			IncludeTypes:          opts.IncludeTypes,
			IncludeTypmod:         opts.IncludeTypmod,
			IncludeUnchangedToast: opts.IncludeUnchangedToast,
		}, types),
		rules:     r,
		tables:    &selector.TableSelector{Exclude: opts.FilterTables, Add: opts.AddTables},
		messages:  messages,
		out:       out,
		chunked:   opts.WriteInChunks || f.Streaming(),
		withPK:    opts.IncludePK && f.Streaming(),
		relations: newRelationCache(),
	}

	log.Debug().
		Int("format_version", opts.FormatVersion).
		Bool("chunked", s.chunked).
		Bool("table_rules", r != nil).
		Msg("Encoder session created")

	return s, nil
}

// check returns the error every call must fail with, if any.
func (s *Session) check() error {
	if s.closed {
		return ErrClosed
	}
	return s.fatal
}

// fail latches err. Every later call returns it.
func (s *Session) fail(err error) error {
	telemetry.EncoderErrorsTotal.With(errorClass(err)).Inc()
	log.Error().Err(err).Msg("Encoder session failed")
	s.fatal = err
	s.failed.Store(true)
	return err
}

func errorClass(err error) string {
	var (
		nan     *literal.NotANumberError
		lookup  *catalog.TypeLookupError
		pattern *match.PatternMatchError
	)
	switch {
	case errors.As(err, &nan):
		return "not_a_number"
	case errors.As(err, &lookup):
		return "type_lookup"
	case errors.As(err, &pattern):
		return "pattern_match"
	}
	return "output"
}

// Begin opens a transaction.
func (s *Session) Begin(txn *common.Txn) error {
	if err := s.check(); err != nil {
		return err
	}
	if txn == nil {
		return ErrNilTransaction
	}
	if s.inTxn.Load() {
		log.Warn().
			Uint32("xid", s.txn.Xid).
			Uint32("next_xid", txn.Xid).
			Msg("Begin while a transaction is open, discarding its pending output")
	}

	s.txn = *txn
	s.counter = 0
	s.buf = s.buf[:0]
	s.inTxn.Store(true)

	if s.opts.SkipEmptyXacts {
		s.beginPending = true
		return nil
	}
	return s.writeBegin()
}

func (s *Session) writeBegin() error {
	s.beginPending = false
	s.buf = s.framer.Begin(s.buf, &s.txn)
	if s.chunked {
		return s.flushBuf()
	}
	return nil
}

// Change encodes one row change of the open transaction. rel describes the
// row shape of ch.
func (s *Session) Change(txn *common.Txn, rel *common.Relation, ch *common.Change) error {
	if err := s.check(); err != nil {
		return err
	}
	if !s.inTxn.Load() {
		return ErrNoTransaction
	}
	defer s.scratch.Reset()

	kind := ch.Kind.String()

	emit, err := s.shouldEmit(rel)
	if err != nil {
		return s.fail(fmt.Errorf("table %s: %w", rel.QualifiedName(), err))
	}
	if !emit {
		s.stats.filteredChanges.Add(1)
		telemetry.ChangesTotal.With(kind, "filtered").Inc()
		log.Trace().Str("table", rel.QualifiedName()).Msg("Change filtered out")
		return nil
	}

	if reason := sanityCheck(rel, ch); reason != "" {
		s.stats.skippedChanges.Add(1)
		telemetry.ChangesTotal.With(kind, "skipped").Inc()
		log.Warn().
			Str("table", rel.QualifiedName()).
			Str("kind", kind).
			Str("identity", rel.Identity.String()).
			Msg(reason)
		return nil
	}

	rec, err := s.project(rel, ch)
	if err != nil {
		return s.fail(err)
	}
	if n := s.scratch.Specials(); n > 0 {
		s.stats.specialNumerics.Add(uint64(n))
		telemetry.SpecialNumericsTotal.Add(float64(n))
	}

	if s.beginPending {
		if err := s.writeBegin(); err != nil {
			return err
		}
	}

	s.counter++
	s.buf = s.framer.Change(s.buf, txnOr(txn, &s.txn), s.counter, rec)
	s.stats.changes.Add(1)
	telemetry.ChangesTotal.With(kind, "emitted").Inc()

	if s.chunked {
		return s.flushBuf()
	}
	return nil
}

func txnOr(txn, fallback *common.Txn) *common.Txn {
	if txn != nil {
		return txn
	}
	return fallback
}

func (s *Session) shouldEmit(rel *common.Relation) (bool, error) {
	if emit, ok := s.relations.lookup(rel); ok {
		return emit, nil
	}

	var emit bool
	if s.rules != nil {
		var err error
		if emit, err = s.rules.ShouldEmit(rel.Name); err != nil {
			return false, err
		}
	} else {
		emit = s.tables.ShouldProcess(rel.Schema, rel.Name)
	}

	s.relations.store(rel, emit)
	return emit, nil
}

// sanityCheck returns why ch cannot be encoded, or "" if it can.
func sanityCheck(rel *common.Relation, ch *common.Change) string {
	switch ch.Kind {
	case common.ChangeInsert:
		if ch.New == nil {
			return "No tuple data for INSERT"
		}
	case common.ChangeUpdate:
		if !rel.HasKey() {
			return "Table without primary key or replica identity is nothing"
		}
		if ch.New == nil {
			return "No tuple data for UPDATE"
		}
	case common.ChangeDelete:
		if !rel.HasKey() {
			return "Table without primary key or replica identity is nothing"
		}
		if ch.Old == nil {
			return "No tuple data for DELETE"
		}
	default:
		return "Unknown change kind"
	}
	return ""
}

// project fills the reusable change record from ch.
func (s *Session) project(rel *common.Relation, ch *common.Change) (*framer.ChangeRecord, error) {
	rec := &s.rec
	*rec = framer.ChangeRecord{
		Kind:   ch.Kind,
		Schema: rel.Schema,
		Table:  rel.Name,
		LSN:    ch.LSN,
	}

	var err error
	if ch.Kind.HasNewRow() {
		if rec.Columns, err = s.projector.Columns(&s.scratch, rel, ch.New); err != nil {
			return nil, err
		}
		rec.HasColumns = true
	}

	if ch.Kind.HasIdentity() {
		row, keys := ch.Old, rel.IndexColumns
		if ch.Kind == common.ChangeUpdate {
			if ch.Old != nil {
				// the old image already is the identity
				keys = nil
			} else {
				row = ch.New
			}
		}
		if rec.Identity, err = s.projector.Identity(&s.scratch, rel, row, keys); err != nil {
			return nil, err
		}
		rec.HasIdentity = true
	}

	if s.withPK && len(rel.IndexColumns) > 0 {
		if rec.PK, err = s.projector.Keys(&s.scratch, rel); err != nil {
			return nil, err
		}
		rec.HasPK = true
	}

	return rec, nil
}

// Message encodes a logical decoding message. Transactional messages become
// part of the open transaction; the others are written and flushed on their
// own without touching a pending transaction.
func (s *Session) Message(txn *common.Txn, msg *common.Message) error {
	if err := s.check(); err != nil {
		return err
	}
	defer s.scratch.Reset()

	if !s.messages.Match(msg.Prefix) {
		s.stats.filteredMessages.Add(1)
		telemetry.MessagesTotal.With("filtered").Inc()
		log.Trace().Str("prefix", msg.Prefix).Msg("Message filtered out")
		return nil
	}

	if msg.Transactional && !s.inTxn.Load() {
		log.Warn().Str("prefix", msg.Prefix).Msg("Transactional message outside a transaction, writing it on its own")
		standalone := *msg
		standalone.Transactional = false
		msg = &standalone
	}

	s.stats.messages.Add(1)
	telemetry.MessagesTotal.With("emitted").Inc()

	if !msg.Transactional {
		var xid uint32
		if txn != nil {
			xid = txn.Xid
		}
		s.msgBuf = s.framer.Message(s.msgBuf[:0], nil, 0, msg)
		return s.flush(xid, s.msgBuf)
	}

	if s.beginPending {
		if err := s.writeBegin(); err != nil {
			return err
		}
	}

	s.counter++
	s.buf = s.framer.Message(s.buf, txnOr(txn, &s.txn), s.counter, msg)
	if s.chunked {
		return s.flushBuf()
	}
	return nil
}

// Commit closes the open transaction and flushes it.
func (s *Session) Commit(txn *common.Txn) error {
	if err := s.check(); err != nil {
		return err
	}
	if !s.inTxn.Load() {
		return ErrNoTransaction
	}
	defer s.inTxn.Store(false)

	if txn != nil {
		s.txn = *txn
	}

	if s.beginPending {
		// nothing was emitted and the begin record was never written
		s.beginPending = false
		s.buf = s.buf[:0]
		s.stats.emptyTransactions.Add(1)
		telemetry.TransactionsTotal.With("empty").Inc()
		log.Trace().Uint32("xid", s.txn.Xid).Msg("Skipping empty transaction")
		return nil
	}

	s.buf = s.framer.Commit(s.buf, &s.txn)
	s.stats.transactions.Add(1)
	telemetry.TransactionsTotal.With("emitted").Inc()
	return s.flushBuf()
}

// InvalidateRelation drops the cached decision for a relation whose
// definition changed.
func (s *Session) InvalidateRelation(id uint32) {
	s.relations.invalidate(id)
}

// Close ends the session. Output of an unfinished transaction is dropped.
func (s *Session) Close() error {
	if s.closed {
		return nil
	}
	if s.inTxn.Load() {
		log.Warn().Uint32("xid", s.txn.Xid).Msg("Closing session with an open transaction")
	}
	s.closed = true
	s.inTxn.Store(false)
	s.buf = nil
	s.msgBuf = nil
	s.scratch = tuple.Scratch{}
	return nil
}

func (s *Session) flushBuf() error {
	err := s.flush(s.txn.Xid, s.buf)
	s.buf = s.buf[:0]
	return err
}

func (s *Session) flush(xid uint32, data []byte) error {
	if len(data) == 0 {
		return nil
	}

	start := time.Now()
	err := s.out.Write(xid, data)
	telemetry.FlushDurationSeconds.Observe(time.Since(start).Seconds())
	if err != nil {
		telemetry.FlushesTotal.With("failed").Inc()
		return s.fail(fmt.Errorf("writing output: %w", err))
	}

	telemetry.FlushesTotal.With("success").Inc()
	telemetry.FlushedBytes.Observe(float64(len(data)))
	s.stats.flushes.Add(1)
	s.stats.bytesFlushed.Add(uint64(len(data)))
	return nil
}

// Stats returns a snapshot of the session counters.
func (s *Session) Stats() Stats {
	return Stats{
		Transactions:      s.stats.transactions.Load(),
		EmptyTransactions: s.stats.emptyTransactions.Load(),
		Changes:           s.stats.changes.Load(),
		FilteredChanges:   s.stats.filteredChanges.Load(),
		SkippedChanges:    s.stats.skippedChanges.Load(),
		Messages:          s.stats.messages.Load(),
		FilteredMessages:  s.stats.filteredMessages.Load(),
		SpecialNumerics:   s.stats.specialNumerics.Load(),
		Flushes:           s.stats.flushes.Load(),
		BytesFlushed:      s.stats.bytesFlushed.Load(),
		CachedRelations:   s.relations.size(),
		InTransaction:     s.inTxn.Load(),
		Failed:            s.failed.Load(),
	}
}

// CachedRelations returns the number of memoized relation decisions.
func (s *Session) CachedRelations() int {
	return s.relations.size()
}

// InTransaction returns true between Begin and Commit.
func (s *Session) InTransaction() bool {
	return s.inTxn.Load()
}
