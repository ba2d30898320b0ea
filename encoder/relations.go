package encoder

import (
	"github.com/cespare/xxhash/v2"
	"github.com/maxpert/waljson/common"
	"github.com/puzpuzpuz/xsync/v3"
)

// nameKeyBit marks cache keys derived from a relation name rather than an ID.
const nameKeyBit = uint64(1) << 63

type relationEntry struct {
	schema string
	name   string
	emit   bool
}

// relationCache memoizes the emit decision per relation. Entries are dropped
// when the host invalidates a relation, and are recomputed when a relation
// shows up under a different name for the same key.
type relationCache struct {
	entries *xsync.MapOf[uint64, relationEntry]
}

func newRelationCache() *relationCache {
	return &relationCache{entries: xsync.NewMapOf[uint64, relationEntry]()}
}

func relationKey(rel *common.Relation) uint64 {
	if rel.ID != 0 {
		return uint64(rel.ID)
	}
	return xxhash.Sum64String(rel.QualifiedName()) | nameKeyBit
}

func (c *relationCache) lookup(rel *common.Relation) (emit bool, ok bool) {
	e, ok := c.entries.Load(relationKey(rel))
	if !ok || e.schema != rel.Schema || e.name != rel.Name {
		return false, false
	}
	return e.emit, true
}

func (c *relationCache) store(rel *common.Relation, emit bool) {
	c.entries.Store(relationKey(rel), relationEntry{schema: rel.Schema, name: rel.Name, emit: emit})
}

func (c *relationCache) invalidate(id uint32) {
	c.entries.Delete(uint64(id))
}

func (c *relationCache) size() int {
	return c.entries.Size()
}
