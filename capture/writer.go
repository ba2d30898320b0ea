package capture

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/klauspost/compress/zstd"
	"github.com/maxpert/waljson/common"
	"github.com/maxpert/waljson/encoding"
	"github.com/maxpert/waljson/telemetry"
	"github.com/rs/zerolog/log"
)

// Writer records callbacks. It implements Handler and never fails a callback
// because of the data it is given, only because of I/O.
type Writer struct {
	mu     sync.Mutex
	bw     *bufio.Writer
	zw     *zstd.Encoder
	file   io.Closer
	enc    *encoding.Encoder
	seen   map[uint32]*common.Relation
	events uint64
	closed bool
}

// Create records into a new file at path, truncating an existing one.
func Create(path string, compress bool) (*Writer, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, fmt.Errorf("create capture file: %w", err)
	}

	w, err := NewWriter(f, compress)
	if err != nil {
		f.Close()
		return nil, err
	}
	w.file = f

	log.Info().Str("path", path).Bool("compress", compress).Msg("Capturing callbacks")
	return w, nil
}

// NewWriter records into w. w is not closed by Close.
func NewWriter(w io.Writer, compress bool) (*Writer, error) {
	cw := &Writer{seen: make(map[uint32]*common.Relation)}

	var out io.Writer = w
	if compress {
		zw, err := zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedDefault))
		if err != nil {
			return nil, fmt.Errorf("create zstd writer: %w", err)
		}
		cw.zw = zw
		out = zw
	}

	cw.bw = bufio.NewWriter(out)
	cw.enc = encoding.NewEncoder(cw.bw)
	return cw, nil
}

func (w *Writer) write(ev *Event) error {
	if w.closed {
		return fmt.Errorf("capture writer is closed")
	}
	if err := w.enc.Encode(ev); err != nil {
		return fmt.Errorf("write %s event: %w", ev.Type, err)
	}
	w.events++
	telemetry.CapturedEventsTotal.Inc()
	return nil
}

// relation writes rel unless this exact definition was already recorded.
func (w *Writer) relation(rel *common.Relation) error {
	if rel.ID != 0 && w.seen[rel.ID] == rel {
		return nil
	}
	if err := w.write(&Event{Type: EventRelation, Relation: rel}); err != nil {
		return err
	}
	if rel.ID != 0 {
		w.seen[rel.ID] = rel
	}
	return nil
}

func (w *Writer) Begin(txn *common.Txn) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.write(&Event{Type: EventBegin, Txn: txn})
}

func (w *Writer) Change(txn *common.Txn, rel *common.Relation, ch *common.Change) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.relation(rel); err != nil {
		return err
	}
	rec := *ch
	rec.RelationID = rel.ID
	return w.write(&Event{Type: EventChange, Change: &rec})
}

func (w *Writer) Message(txn *common.Txn, msg *common.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	ev := &Event{Type: EventMessage, Message: msg}
	if msg.Transactional {
		ev.Txn = txn
	}
	return w.write(ev)
}

// Commit records the commit and flushes buffered events, so a capture always
// ends at a transaction boundary after a crash.
func (w *Writer) Commit(txn *common.Txn) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.write(&Event{Type: EventCommit, Txn: txn}); err != nil {
		return err
	}
	return w.flush()
}

// InvalidateRelation makes the next change of id record its relation again.
func (w *Writer) InvalidateRelation(id uint32) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.seen, id)
}

// Events returns the number of events recorded.
func (w *Writer) Events() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.events
}

func (w *Writer) flush() error {
	if err := w.bw.Flush(); err != nil {
		return err
	}
	if w.zw != nil {
		return w.zw.Flush()
	}
	return nil
}

// Close flushes and finishes the stream.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}
	w.closed = true

	err := w.bw.Flush()
	if w.zw != nil {
		if zerr := w.zw.Close(); err == nil {
			err = zerr
		}
	}
	if w.file != nil {
		if ferr := w.file.Close(); err == nil {
			err = ferr
		}
	}

	log.Debug().Uint64("events", w.events).Msg("Capture closed")
	return err
}

// Tee records every callback with w before handing it to h.
func Tee(h Handler, w *Writer) Handler {
	return &tee{next: h, w: w}
}

type tee struct {
	next Handler
	w    *Writer
}

func (t *tee) Begin(txn *common.Txn) error {
	if err := t.w.Begin(txn); err != nil {
		return err
	}
	return t.next.Begin(txn)
}

func (t *tee) Change(txn *common.Txn, rel *common.Relation, ch *common.Change) error {
	if err := t.w.Change(txn, rel, ch); err != nil {
		return err
	}
	return t.next.Change(txn, rel, ch)
}

func (t *tee) Message(txn *common.Txn, msg *common.Message) error {
	if err := t.w.Message(txn, msg); err != nil {
		return err
	}
	return t.next.Message(txn, msg)
}

func (t *tee) Commit(txn *common.Txn) error {
	if err := t.w.Commit(txn); err != nil {
		return err
	}
	return t.next.Commit(txn)
}

func (t *tee) InvalidateRelation(id uint32) {
	t.w.InvalidateRelation(id)
	t.next.InvalidateRelation(id)
}
