// Package common provides the change-event data model shared by the encoder,
// its hosts and the capture format.
package common

// ChangeKind categorizes a row-level change.
type ChangeKind uint8

const (
	ChangeInsert ChangeKind = iota
	ChangeUpdate
	ChangeDelete
)

// HasNewRow returns true if the change carries an after-image.
func (k ChangeKind) HasNewRow() bool {
	return k == ChangeInsert || k == ChangeUpdate
}

// HasIdentity returns true if the change is framed with a key image.
func (k ChangeKind) HasIdentity() bool {
	return k == ChangeUpdate || k == ChangeDelete
}

// IdentityPolicy is the replica identity of a relation.
type IdentityPolicy uint8

const (
	IdentityDefault IdentityPolicy = iota // primary key if present, else nothing
	IdentityNothing
	IdentityFull
	IdentityIndex
)
