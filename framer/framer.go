// Package framer writes change events as JSON records.
//
// Two protocols are available. The enveloped protocol (format version 1)
// wraps every change of a transaction in one object with a "change" array.
// The streaming protocol (format version 2) writes one self contained object
// per begin, change, message and commit.
package framer

import (
	"fmt"
	"time"

	"github.com/jackc/pglogrepl"
	"github.com/maxpert/waljson/common"
	"github.com/maxpert/waljson/tuple"
)

const (
	MinFormatVersion = 1
	MaxFormatVersion = 2
)

// TimestampLayout renders commit timestamps.
const TimestampLayout = "2006-01-02 15:04:05.999999-07"

// Options selects the optional parts of every record.
type Options struct {
	Pretty             bool
	WriteInChunks      bool
	IncludeXids        bool
	IncludeTimestamp   bool
	IncludeLSN         bool
	IncludeSchemas     bool
	IncludeTypes       bool
	IncludeTypeOids    bool
	IncludeNotNull     bool
	IncludeTransaction bool
	IncludePK          bool
	ColumnsAsMap       bool
}

// ChangeRecord is a projected change ready for framing. The projections
// alias the session scratch region and are only valid until it is reset.
type ChangeRecord struct {
	Kind   common.ChangeKind
	Schema string
	Table  string
	LSN    pglogrepl.LSN

	Columns     tuple.Projection
	HasColumns  bool
	Identity    tuple.Projection
	HasIdentity bool
	PK          tuple.Projection
	HasPK       bool
}

// Framer appends records to dst and returns the extended slice.
//
// n is the position of a change or transactional message inside its
// transaction, starting at 1. A non-transactional message is always framed as
// a standalone record and txn may be nil for it.
type Framer interface {
	Begin(dst []byte, txn *common.Txn) []byte
	Change(dst []byte, txn *common.Txn, n uint64, rec *ChangeRecord) []byte
	Message(dst []byte, txn *common.Txn, n uint64, msg *common.Message) []byte
	Commit(dst []byte, txn *common.Txn) []byte

	// Streaming returns true if every record is a complete document that
	// must be flushed on its own.
	Streaming() bool
}

// Factory builds a framer for one format version.
type Factory func(opts Options) Framer

var registry = map[int]Factory{
	1: func(opts Options) Framer { return NewEnveloped(opts) },
	2: func(opts Options) Framer { return NewStreaming(opts) },
}

// UnsupportedVersionError reports a format version outside the supported range.
type UnsupportedVersionError struct {
	Version int
}

func (e *UnsupportedVersionError) Error() string {
	return fmt.Sprintf("format version %d is not supported (supported: %d to %d)",
		e.Version, MinFormatVersion, MaxFormatVersion)
}

// New returns the framer for version.
func New(version int, opts Options) (Framer, error) {
	factory, ok := registry[version]
	if !ok {
		return nil, &UnsupportedVersionError{Version: version}
	}
	return factory(opts), nil
}

func formatTimestamp(t time.Time) string {
	return t.Format(TimestampLayout)
}
