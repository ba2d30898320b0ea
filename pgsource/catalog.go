package pgsource

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres"
	"github.com/jackc/pgx/v5"
	"github.com/maxpert/waljson/catalog"
	"github.com/rs/zerolog/log"
)

const typeLookupTimeout = 5 * time.Second

var dialect = goqu.Dialect("postgres")

// typeQuery selects the pg_type row of oid together with its schema name.
func typeQuery(oid uint32) (string, []any, error) {
	return dialect.
		From(goqu.T("pg_type").As("t")).
		Join(goqu.T("pg_namespace").As("n"), goqu.On(goqu.I("n.oid").Eq(goqu.I("t.typnamespace")))).
		Select(goqu.I("t.oid"), goqu.I("n.nspname"), goqu.I("t.typname"), goqu.I("t.typelem")).
		Where(goqu.I("t.oid").Eq(oid)).
		Prepared(true).
		ToSQL()
}

// publicationQuery checks whether a publication exists. It is sent over the
// replication connection, which only speaks the simple protocol.
func publicationQuery(name string) (string, error) {
	sql, _, err := dialect.
		From("pg_publication").
		Select(goqu.L("1")).
		Where(goqu.C("pubname").Eq(name)).
		ToSQL()
	return sql, err
}

// TypeCatalog looks up types the replication stream did not describe, on a
// regular connection.
type TypeCatalog struct {
	mu   sync.Mutex
	conn *pgx.Conn
}

// ConnectCatalog opens the catalog connection.
func ConnectCatalog(ctx context.Context, dsn string) (*TypeCatalog, error) {
	conn, err := pgx.Connect(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect catalog: %w", err)
	}
	return &TypeCatalog{conn: conn}, nil
}

// Lookup implements catalog.LookupFunc.
func (c *TypeCatalog) Lookup(oid uint32) (catalog.TypeInfo, error) {
	sql, args, err := typeQuery(oid)
	if err != nil {
		return catalog.TypeInfo{}, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), typeLookupTimeout)
	defer cancel()

	var info catalog.TypeInfo
	err = c.conn.QueryRow(ctx, sql, args...).Scan(&info.OID, &info.Namespace, &info.Name, &info.ElemOID)
	if err != nil {
		return catalog.TypeInfo{}, fmt.Errorf("query pg_type: %w", err)
	}

	log.Debug().Uint32("oid", oid).Str("type", info.Namespace+"."+info.Name).Msg("Resolved type from catalog")
	return info, nil
}

// Close closes the catalog connection.
func (c *TypeCatalog) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.Close(context.Background())
}
