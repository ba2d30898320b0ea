// Package catalog resolves column type OIDs to the names written in change
// records.
package catalog

import (
	"fmt"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/rs/zerolog/log"
)

const DefaultCacheSize = 1024

// TypeLookupError reports a type OID that could not be resolved. The row
// descriptor referencing it cannot be encoded.
type TypeLookupError struct {
	OID uint32
	Err error
}

func (e *TypeLookupError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("cache lookup failed for type %d: %v", e.OID, e.Err)
	}
	return fmt.Sprintf("cache lookup failed for type %d", e.OID)
}

func (e *TypeLookupError) Unwrap() error {
	return e.Err
}

// TypeInfo is the subset of pg_type the resolver needs.
type TypeInfo struct {
	OID       uint32
	Namespace string
	Name      string
	// ElemOID is the element type of an array type, 0 otherwise.
	ElemOID uint32
}

// LookupFunc fetches an unknown type from the server catalog.
type LookupFunc func(oid uint32) (TypeInfo, error)

type typeInfo struct {
	oid       uint32
	namespace string
	name      string
	elem      uint32
}

func (t typeInfo) displayName() string {
	switch t.namespace {
	case "", "pg_catalog", "public":
		return quoteIdent(t.name)
	}
	return quoteIdent(t.namespace) + "." + quoteIdent(t.name)
}

type cacheKey struct {
	oid     uint32
	typmod  int32
	withMod bool
}

// Resolver maps (oid, typmod) to type names. Builtin types come from the pgx
// type map, other types are registered by the host or fetched with lookup.
type Resolver struct {
	types  *pgtype.Map
	custom map[uint32]typeInfo
	lookup LookupFunc
	cache  *lru.Cache[cacheKey, string]
}

// NewResolver creates a resolver. lookup may be nil.
func NewResolver(cacheSize int, lookup LookupFunc) (*Resolver, error) {
	if cacheSize <= 0 {
		cacheSize = DefaultCacheSize
	}

	cache, err := lru.New[cacheKey, string](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("create type cache: %w", err)
	}

	return &Resolver{
		types:  pgtype.NewMap(),
		custom: make(map[uint32]typeInfo),
		lookup: lookup,
		cache:  cache,
	}, nil
}

// Register records a non-builtin type, replacing any cached rendering.
func (r *Resolver) Register(info TypeInfo) {
	r.custom[info.OID] = typeInfo{
		oid:       info.OID,
		namespace: info.Namespace,
		name:      info.Name,
		elem:      info.ElemOID,
	}
	r.cache.Purge()
}

// TypeName returns format_type(oid, typmod) when withTypmod is set and the
// bare pg_type.typname otherwise.
func (r *Resolver) TypeName(oid uint32, typmod int32, withTypmod bool) (string, error) {
	key := cacheKey{oid: oid, typmod: typmod, withMod: withTypmod}
	if name, ok := r.cache.Get(key); ok {
		return name, nil
	}

	t, err := r.resolve(oid)
	if err != nil {
		return "", err
	}

	var name string
	if !withTypmod {
		name = t.name
	} else if t.elem != 0 {
		elem, err := r.resolve(t.elem)
		if err != nil {
			return "", err
		}
		// array typmods apply to the element
		name = formatType(elem, typmod) + "[]"
	} else {
		name = formatType(t, typmod)
	}

	r.cache.Add(key, name)
	return name, nil
}

func (r *Resolver) resolve(oid uint32) (typeInfo, error) {
	if t, ok := r.custom[oid]; ok {
		return t, nil
	}

	if dt, ok := r.types.TypeForOID(oid); ok {
		t := typeInfo{oid: oid, namespace: "pg_catalog", name: dt.Name}
		if ac, ok := dt.Codec.(*pgtype.ArrayCodec); ok && ac.ElementType != nil {
			t.elem = ac.ElementType.OID
		}
		return t, nil
	}

	if r.lookup == nil {
		return typeInfo{}, &TypeLookupError{OID: oid}
	}

	info, err := r.lookup(oid)
	if err != nil {
		return typeInfo{}, &TypeLookupError{OID: oid, Err: err}
	}

	log.Debug().
		Uint32("oid", oid).
		Str("type", info.Namespace+"."+info.Name).
		Msg("Resolved type from catalog")

	t := typeInfo{oid: oid, namespace: info.Namespace, name: info.Name, elem: info.ElemOID}
	r.custom[oid] = t
	return t, nil
}

// quoteIdent quotes name unless it is a plain lower case identifier.
func quoteIdent(name string) string {
	safe := name != ""
	for i := 0; i < len(name) && safe; i++ {
		c := name[i]
		safe = c == '_' || (c >= 'a' && c <= 'z') || (i > 0 && c >= '0' && c <= '9')
	}
	if safe {
		return name
	}
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
