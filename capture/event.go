// Package capture records host callbacks to a file and replays them.
//
// A capture is a msgpack stream of Event values, optionally zstd compressed.
// Relations are written once, before the first change that references them,
// and again whenever the host redefines them. Replay drives any Handler, so a
// capture taken from a live server can be re-encoded with other options.
package capture

import "github.com/maxpert/waljson/common"

// EventType tags a captured callback.
type EventType uint8

const (
	EventRelation EventType = iota + 1
	EventBegin
	EventChange
	EventMessage
	EventCommit
)

func (t EventType) String() string {
	switch t {
	case EventRelation:
		return "relation"
	case EventBegin:
		return "begin"
	case EventChange:
		return "change"
	case EventMessage:
		return "message"
	case EventCommit:
		return "commit"
	}
	return "unknown"
}

// Event is one captured callback. Exactly one payload matching Type is set.
type Event struct {
	Type     EventType        `msgpack:"type"`
	Txn      *common.Txn      `msgpack:"txn,omitempty"`
	Relation *common.Relation `msgpack:"rel,omitempty"`
	Change   *common.Change   `msgpack:"change,omitempty"`
	Message  *common.Message  `msgpack:"msg,omitempty"`
}

// Handler receives host callbacks. *encoder.Session implements it.
type Handler interface {
	Begin(txn *common.Txn) error
	Change(txn *common.Txn, rel *common.Relation, ch *common.Change) error
	Message(txn *common.Txn, msg *common.Message) error
	Commit(txn *common.Txn) error
	InvalidateRelation(id uint32)
}
