package capture

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/klauspost/compress/zstd"
	"github.com/maxpert/waljson/common"
	"github.com/maxpert/waljson/encoding"
	"github.com/rs/zerolog/log"
)

var zstdMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}

// ReplayFile replays the capture at path into h.
func ReplayFile(path string, h Handler) (uint64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("open capture file: %w", err)
	}
	defer f.Close()

	n, err := Replay(f, h)
	if err != nil {
		return n, fmt.Errorf("replay %s: %w", path, err)
	}
	return n, nil
}

// Replay feeds every event of r to h and returns the number of events read.
// Compressed captures are detected by their magic number. The first error
// returned by h stops the replay.
func Replay(r io.Reader, h Handler) (uint64, error) {
	br := bufio.NewReader(r)

	var src io.Reader = br
	if magic, err := br.Peek(len(zstdMagic)); err == nil && bytes.Equal(magic, zstdMagic) {
		zr, err := zstd.NewReader(br)
		if err != nil {
			return 0, fmt.Errorf("open zstd stream: %w", err)
		}
		defer zr.Close()
		src = zr
	}

	var (
		dec       = encoding.NewDecoder(src)
		relations = make(map[uint32]*common.Relation)
		current   *common.Relation
		txn       *common.Txn
		count     uint64
	)

	for {
		var ev Event
		if err := dec.Decode(&ev); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return count, fmt.Errorf("event %d: %w", count+1, err)
		}
		count++

		var err error
		switch ev.Type {
		case EventRelation:
			if ev.Relation == nil {
				return count, fmt.Errorf("event %d: relation event without relation", count)
			}
			if ev.Relation.ID != 0 {
				if _, ok := relations[ev.Relation.ID]; ok {
					h.InvalidateRelation(ev.Relation.ID)
				}
				relations[ev.Relation.ID] = ev.Relation
			}
			current = ev.Relation
		case EventBegin:
			if ev.Txn == nil {
				return count, fmt.Errorf("event %d: begin without transaction", count)
			}
			txn = ev.Txn
			err = h.Begin(txn)
		case EventChange:
			if ev.Change == nil {
				return count, fmt.Errorf("event %d: change event without change", count)
			}
			rel := current
			if ev.Change.RelationID != 0 {
				rel = relations[ev.Change.RelationID]
			}
			if rel == nil {
				return count, fmt.Errorf("event %d: unknown relation %d", count, ev.Change.RelationID)
			}
			err = h.Change(txn, rel, ev.Change)
		case EventMessage:
			if ev.Message == nil {
				return count, fmt.Errorf("event %d: message event without message", count)
			}
			mtxn := ev.Txn
			if mtxn == nil && ev.Message.Transactional {
				mtxn = txn
			}
			err = h.Message(mtxn, ev.Message)
		case EventCommit:
			if ev.Txn != nil {
				txn = ev.Txn
			}
			err = h.Commit(txn)
			txn = nil
		default:
			log.Warn().Uint8("type", uint8(ev.Type)).Uint64("event", count).Msg("Skipping unknown capture event")
		}

		if err != nil {
			return count, err
		}
	}

	log.Debug().Uint64("events", count).Int("relations", len(relations)).Msg("Replay finished")
	return count, nil
}
