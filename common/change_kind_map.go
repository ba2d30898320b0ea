// ALL conversions between ChangeKind/IdentityPolicy and their textual wire
// forms go through this file.
package common

import "fmt"

var (
	// ChangeKind -> enveloped "kind" value
	kindToName = map[ChangeKind]string{
		ChangeInsert: "insert",
		ChangeUpdate: "update",
		ChangeDelete: "delete",
	}

	// ChangeKind -> streaming "action" value
	kindToAction = map[ChangeKind]string{
		ChangeInsert: "I",
		ChangeUpdate: "U",
		ChangeDelete: "D",
	}

	// pgoutput relreplident byte -> IdentityPolicy
	identityByByte = map[byte]IdentityPolicy{
		'd': IdentityDefault,
		'n': IdentityNothing,
		'f': IdentityFull,
		'i': IdentityIndex,
	}

	identityToName = map[IdentityPolicy]string{
		IdentityDefault: "default",
		IdentityNothing: "nothing",
		IdentityFull:    "full",
		IdentityIndex:   "index",
	}
)

// String returns the enveloped format name of the kind.
func (k ChangeKind) String() string {
	if name, ok := kindToName[k]; ok {
		return name
	}
	return fmt.Sprintf("ChangeKind(%d)", uint8(k))
}

// Action returns the streaming format action tag of the kind.
func (k ChangeKind) Action() string {
	if a, ok := kindToAction[k]; ok {
		return a
	}
	panic(fmt.Sprintf("unknown ChangeKind %d: no action tag", k))
}

func (p IdentityPolicy) String() string {
	if name, ok := identityToName[p]; ok {
		return name
	}
	return fmt.Sprintf("IdentityPolicy(%d)", uint8(p))
}

// IdentityFromByte converts a replica identity byte as sent by pgoutput.
// Returns false if the byte is unknown.
func IdentityFromByte(b byte) (IdentityPolicy, bool) {
	p, ok := identityByByte[b]
	return p, ok
}
