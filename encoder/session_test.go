package encoder

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/maxpert/waljson/cfg"
	"github.com/maxpert/waljson/common"
	"github.com/maxpert/waljson/literal"
	"github.com/maxpert/waljson/match"
	"github.com/maxpert/waljson/selector"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	writes []string
	xids   []uint32
	err    error
}

func (r *recorder) Write(xid uint32, data []byte) error {
	if r.err != nil {
		return r.err
	}
	r.writes = append(r.writes, string(data))
	r.xids = append(r.xids, xid)
	return nil
}

func (r *recorder) joined() string {
	return strings.Join(r.writes, "")
}

type stubTypes map[uint32]string

func (s stubTypes) TypeName(oid uint32, typmod int32, withTypmod bool) (string, error) {
	return s[oid], nil
}

var testTypes = stubTypes{
	pgtype.Int4OID:    "integer",
	pgtype.TextOID:    "text",
	pgtype.NumericOID: "numeric",
}

func relation(id uint32, schema, name string, identity common.IdentityPolicy, keys ...string) *common.Relation {
	return &common.Relation{
		ID:     id,
		Schema: schema,
		Name:   name,
		Columns: []common.Column{
			{Name: "id", TypeOID: pgtype.Int4OID, TypeMod: -1, NotNull: true, Ordinal: 1},
			{Name: "name", TypeOID: pgtype.TextOID, TypeMod: -1, Ordinal: 2},
		},
		Identity:     identity,
		IndexColumns: keys,
	}
}

var (
	users   = relation(1, "public", "users", common.IdentityDefault, "id")
	noKey   = relation(2, "public", "logs", common.IdentityNothing)
	appUser = relation(3, "app", "users", common.IdentityDefault, "id")
)

var txn = &common.Txn{
	Xid:        42,
	CommitLSN:  0x100,
	EndLSN:     0x130,
	CommitTime: time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
}

func rowOf(values ...string) common.RowImage {
	out := make(common.RowImage, len(values))
	for i, v := range values {
		out[i] = common.Datum{Text: v}
	}
	return out
}

func insert(id, name string) *common.Change {
	return &common.Change{Kind: common.ChangeInsert, New: rowOf(id, name)}
}

func update(id, name string) *common.Change {
	return &common.Change{Kind: common.ChangeUpdate, New: rowOf(id, name)}
}

func baseOptions() cfg.EncoderOptions {
	o := cfg.DefaultEncoderOptions()
	o.IncludeTypes = false
	return o
}

func newSession(t *testing.T, opts cfg.EncoderOptions) (*Session, *recorder) {
	out := &recorder{}
	s, err := New(opts, testTypes, out)
	require.NoError(t, err)
	return s, out
}

func TestStreamingInsertsWithoutTransactionRecords(t *testing.T) {
	opts := baseOptions()
	opts.FormatVersion = 2
	opts.IncludeTransaction = false
	s, out := newSession(t, opts)

	require.NoError(t, s.Begin(txn))
	for _, name := range []string{"a", "b", "c"} {
		require.NoError(t, s.Change(txn, users, insert("1", name)))
	}
	require.NoError(t, s.Commit(txn))

	require.Len(t, out.writes, 3)
	assert.Equal(t,
		`{"action":"I","schema":"public","table":"users","columns":[{"name":"id","value":1},{"name":"name","value":"a"}]}`,
		out.writes[0])
	for _, w := range out.writes {
		assert.True(t, json.Valid([]byte(w)), w)
	}
	assert.Equal(t, []uint32{42, 42, 42}, out.xids)

	stats := s.Stats()
	assert.EqualValues(t, 3, stats.Changes)
	assert.EqualValues(t, 3, stats.Flushes)
	assert.EqualValues(t, 1, stats.Transactions)
	assert.False(t, stats.InTransaction)
}

func TestStreamingTransactionRecords(t *testing.T) {
	opts := baseOptions()
	opts.FormatVersion = 2
	opts.IncludeXids = true
	s, out := newSession(t, opts)

	require.NoError(t, s.Begin(txn))
	require.NoError(t, s.Change(txn, users, insert("1", "a")))
	require.NoError(t, s.Commit(txn))

	require.Len(t, out.writes, 3)
	assert.Equal(t, `{"action":"B","xid":42}`, out.writes[0])
	assert.Equal(t, `{"action":"C","xid":42}`, out.writes[2])
}

func TestStreamingPrimaryKey(t *testing.T) {
	opts := cfg.DefaultEncoderOptions()
	opts.FormatVersion = 2
	opts.IncludeTransaction = false
	opts.IncludePK = true
	s, out := newSession(t, opts)

	require.NoError(t, s.Begin(txn))
	require.NoError(t, s.Change(txn, users, update("1", "b")))
	require.NoError(t, s.Commit(txn))

	require.Len(t, out.writes, 1)
	var record struct {
		Action   string           `json:"action"`
		PK       []map[string]any `json:"pk"`
		Columns  []map[string]any `json:"columns"`
		Identity []map[string]any `json:"identity"`
	}
	require.NoError(t, json.Unmarshal([]byte(out.writes[0]), &record))
	assert.Equal(t, "U", record.Action)
	assert.Equal(t, []map[string]any{{"name": "id", "type": "integer"}}, record.PK)
	assert.Len(t, record.Columns, 2)
	assert.Equal(t, []map[string]any{{"name": "id", "type": "integer", "value": float64(1)}}, record.Identity)
}

func TestEnvelopedTransaction(t *testing.T) {
	s, out := newSession(t, baseOptions())

	require.NoError(t, s.Begin(txn))
	require.NoError(t, s.Change(txn, users, insert("1", "a")))
	require.NoError(t, s.Change(txn, users, update("1", "b")))
	assert.Empty(t, out.writes)
	require.NoError(t, s.Commit(txn))

	require.Len(t, out.writes, 1)
	assert.Equal(t, `{"change":[`+
		`{"kind":"insert","schema":"public","table":"users","columnnames":["id","name"],"columnvalues":[1,"a"]}`+
		`,{"kind":"update","schema":"public","table":"users","columnnames":["id","name"],"columnvalues":[1,"b"],`+
		`"oldkeys":{"keynames":["id"],"keyvalues":[1]}}`+
		`]}`, out.writes[0])
}

func TestEnvelopedChunks(t *testing.T) {
	opts := baseOptions()
	opts.WriteInChunks = true
	s, out := newSession(t, opts)

	require.NoError(t, s.Begin(txn))
	require.NoError(t, s.Change(txn, users, insert("1", "a")))
	require.NoError(t, s.Change(txn, users, insert("2", "b")))
	require.NoError(t, s.Commit(txn))

	require.Len(t, out.writes, 4)
	assert.Equal(t, `{"change":[`, out.writes[0])
	assert.True(t, strings.HasPrefix(out.writes[2], ","))
	assert.Equal(t, `]}`, out.writes[3])
	assert.True(t, json.Valid([]byte(out.joined())))
	assert.EqualValues(t, 4, s.Stats().Flushes)
}

func TestFullIdentityUsesWholeRow(t *testing.T) {
	full := relation(9, "public", "f", common.IdentityFull)
	s, out := newSession(t, baseOptions())

	unchangedName := common.RowImage{{Text: "1"}, {Null: true, Unchanged: true}}
	nullName := common.RowImage{{Text: "1"}, {Null: true}}

	require.NoError(t, s.Begin(txn))
	require.NoError(t, s.Change(txn, full, &common.Change{Kind: common.ChangeUpdate, Old: rowOf("1", "a"), New: unchangedName}))
	require.NoError(t, s.Change(txn, full, update("2", "c")))
	require.NoError(t, s.Change(txn, full, &common.Change{Kind: common.ChangeDelete, Old: nullName}))
	require.NoError(t, s.Commit(txn))

	require.Len(t, out.writes, 1)
	assert.Equal(t, `{"change":[`+
		`{"kind":"update","schema":"public","table":"f","columnnames":["id"],"columnvalues":[1],`+
		`"oldkeys":{"keynames":["id","name"],"keyvalues":[1,"a"]}}`+
		`,{"kind":"update","schema":"public","table":"f","columnnames":["id","name"],"columnvalues":[2,"c"],`+
		`"oldkeys":{"keynames":["id","name"],"keyvalues":[2,"c"]}}`+
		`,{"kind":"delete","schema":"public","table":"f",`+
		`"oldkeys":{"keynames":["id"],"keyvalues":[1]}}`+
		`]}`, out.writes[0])
	assert.Equal(t, uint64(3), s.Stats().Changes)
}

func TestTableWithoutIdentityIsSkipped(t *testing.T) {
	s, out := newSession(t, baseOptions())

	require.NoError(t, s.Begin(txn))
	require.NoError(t, s.Change(txn, noKey, update("1", "a")))
	require.NoError(t, s.Change(txn, noKey, &common.Change{Kind: common.ChangeDelete, Old: rowOf("1", "a")}))
	require.NoError(t, s.Change(txn, users, insert("1", "a")))
	require.NoError(t, s.Commit(txn))

	require.Len(t, out.writes, 1)
	assert.True(t, strings.HasPrefix(out.writes[0], `{"change":[{"kind":"insert"`), out.writes[0])
	assert.True(t, json.Valid([]byte(out.writes[0])))
	assert.EqualValues(t, 2, s.Stats().SkippedChanges)
	assert.True(t, s.scratch.Empty())
}

func TestMissingTupleIsSkipped(t *testing.T) {
	s, out := newSession(t, baseOptions())

	require.NoError(t, s.Begin(txn))
	require.NoError(t, s.Change(txn, users, &common.Change{Kind: common.ChangeInsert}))
	require.NoError(t, s.Change(txn, users, &common.Change{Kind: common.ChangeDelete}))
	require.NoError(t, s.Commit(txn))

	assert.Equal(t, []string{`{"change":[]}`}, out.writes)
	assert.EqualValues(t, 2, s.Stats().SkippedChanges)
}

func TestFilterTables(t *testing.T) {
	value := "public.*"
	opts, err := cfg.ParseOptions([]cfg.Option{{Name: "filter-tables", Value: &value}})
	require.NoError(t, err)
	opts.IncludeTypes = false
	s, out := newSession(t, opts)

	require.NoError(t, s.Begin(txn))
	require.NoError(t, s.Change(txn, users, insert("1", "a")))
	require.NoError(t, s.Change(txn, appUser, insert("2", "b")))
	require.NoError(t, s.Commit(txn))

	require.Len(t, out.writes, 1)
	assert.NotContains(t, out.writes[0], `"public"`)
	assert.Contains(t, out.writes[0], `"schema":"app"`)
	assert.EqualValues(t, 1, s.Stats().FilteredChanges)
	assert.EqualValues(t, 1, s.Stats().Changes)
}

func TestTableRules(t *testing.T) {
	opts := baseOptions()
	opts.TableRules = []cfg.RuleDirective{{Exclude: true, Value: "users"}}
	s, out := newSession(t, opts)

	require.NoError(t, s.Begin(txn))
	require.NoError(t, s.Change(txn, users, insert("1", "a")))
	require.NoError(t, s.Change(txn, noKey, insert("2", "b")))
	require.NoError(t, s.Commit(txn))

	require.Len(t, out.writes, 1)
	assert.Contains(t, out.writes[0], `"table":"logs"`)
	assert.NotContains(t, out.writes[0], `"table":"users"`)
}

func TestRulePatternFailureIsFatal(t *testing.T) {
	opts := baseOptions()
	opts.TableRules = []cfg.RuleDirective{{Exclude: true, Value: "~^tmp_"}}
	s, _ := newSession(t, opts)

	bad := relation(9, "public", "\xff", common.IdentityDefault, "id")
	require.NoError(t, s.Begin(txn))
	err := s.Change(txn, bad, insert("1", "a"))

	var perr *match.PatternMatchError
	require.ErrorAs(t, err, &perr)
	assert.ErrorIs(t, s.Commit(txn), err)
	assert.True(t, s.Stats().Failed)
}

func TestSelectorAndRulesConflict(t *testing.T) {
	opts := baseOptions()
	opts.TableSelection = true
	opts.TableRules = []cfg.RuleDirective{{Value: "users"}}

	_, err := New(opts, nil, &recorder{})
	assert.Error(t, err)
}

func TestNewRejectsBadConfiguration(t *testing.T) {
	opts := baseOptions()
	opts.FormatVersion = 3
	_, err := New(opts, nil, &recorder{})
	assert.Error(t, err)

	_, err = New(baseOptions(), nil, nil)
	assert.Error(t, err)

	_, err = New(cfg.DefaultEncoderOptions(), nil, &recorder{})
	assert.Error(t, err, "types are included by default and need a resolver")

	opts = baseOptions()
	opts.TableRules = []cfg.RuleDirective{{Value: "~("}}
	_, err = New(opts, nil, &recorder{})
	var perr *match.InvalidPatternError
	assert.ErrorAs(t, err, &perr)
}

func TestSkipEmptyTransactions(t *testing.T) {
	opts := baseOptions()
	opts.SkipEmptyXacts = true
	opts.FilterTables = []selector.Table{{Schema: "public", Name: "users"}}
	s, out := newSession(t, opts)

	require.NoError(t, s.Begin(txn))
	require.NoError(t, s.Change(txn, users, insert("1", "a")))
	require.NoError(t, s.Commit(txn))
	assert.Empty(t, out.writes)
	assert.EqualValues(t, 1, s.Stats().EmptyTransactions)

	require.NoError(t, s.Begin(txn))
	require.NoError(t, s.Change(txn, appUser, insert("1", "a")))
	require.NoError(t, s.Commit(txn))
	require.Len(t, out.writes, 1)
	assert.True(t, strings.HasPrefix(out.writes[0], `{"change":[{`))
}

func TestSkipEmptyTransactionsStreaming(t *testing.T) {
	opts := baseOptions()
	opts.FormatVersion = 2
	opts.SkipEmptyXacts = true
	s, out := newSession(t, opts)

	require.NoError(t, s.Begin(txn))
	require.NoError(t, s.Commit(txn))
	assert.Empty(t, out.writes)

	require.NoError(t, s.Begin(txn))
	require.NoError(t, s.Change(txn, users, insert("1", "a")))
	require.NoError(t, s.Commit(txn))
	require.Len(t, out.writes, 3)
	assert.Equal(t, `{"action":"B"}`, out.writes[0])
	assert.Equal(t, `{"action":"C"}`, out.writes[2])
}

func TestNonTransactionalMessageKeepsPendingTransaction(t *testing.T) {
	s, out := newSession(t, baseOptions())

	require.NoError(t, s.Begin(txn))
	require.NoError(t, s.Change(txn, users, insert("1", "a")))
	require.NoError(t, s.Message(txn, &common.Message{Prefix: "p", Content: []byte("c")}))
	require.NoError(t, s.Commit(txn))

	require.Len(t, out.writes, 2)
	assert.Equal(t, `{"change":[{"kind":"message","transactional":false,"prefix":"p","content":"c"}]}`, out.writes[0])
	assert.Equal(t, `{"change":[`+
		`{"kind":"insert","schema":"public","table":"users","columnnames":["id","name"],"columnvalues":[1,"a"]}`+
		`]}`, out.writes[1])
}

func TestTransactionalMessages(t *testing.T) {
	opts := baseOptions()
	opts.FilterMsgPrefixes = []string{"internal"}
	s, out := newSession(t, opts)

	require.NoError(t, s.Begin(txn))
	require.NoError(t, s.Message(txn, &common.Message{Transactional: true, Prefix: "internal", Content: []byte("x")}))
	require.NoError(t, s.Message(txn, &common.Message{Transactional: true, Prefix: "audit", Content: []byte("a")}))
	require.NoError(t, s.Change(txn, users, insert("1", "a")))
	require.NoError(t, s.Commit(txn))

	require.Len(t, out.writes, 1)
	assert.True(t, strings.HasPrefix(out.writes[0],
		`{"change":[{"kind":"message","transactional":true,"prefix":"audit","content":"a"},{"kind":"insert"`), out.writes[0])
	assert.True(t, json.Valid([]byte(out.writes[0])))

	stats := s.Stats()
	assert.EqualValues(t, 1, stats.Messages)
	assert.EqualValues(t, 1, stats.FilteredMessages)
}

func TestTransactionalMessageOutsideTransaction(t *testing.T) {
	s, out := newSession(t, baseOptions())

	require.NoError(t, s.Message(nil, &common.Message{Transactional: true, Prefix: "p", Content: []byte("c")}))
	assert.Equal(t, []string{`{"change":[{"kind":"message","transactional":false,"prefix":"p","content":"c"}]}`}, out.writes)
}

func TestNotANumberIsFatal(t *testing.T) {
	rel := &common.Relation{
		ID:     5,
		Schema: "public",
		Name:   "prices",
		Columns: []common.Column{
			{Name: "amount", TypeOID: pgtype.NumericOID, TypeMod: -1, Ordinal: 1},
		},
	}
	s, out := newSession(t, baseOptions())

	require.NoError(t, s.Begin(txn))
	err := s.Change(txn, rel, &common.Change{Kind: common.ChangeInsert, New: rowOf("abc")})
	var nan *literal.NotANumberError
	require.ErrorAs(t, err, &nan)
	assert.True(t, s.scratch.Empty())

	assert.ErrorIs(t, s.Change(txn, users, insert("1", "a")), err)
	assert.ErrorIs(t, s.Commit(txn), err)
	assert.ErrorIs(t, s.Begin(txn), err)
	assert.Empty(t, out.writes)
	assert.True(t, s.Stats().Failed)
}

func TestSpecialNumericsAreCounted(t *testing.T) {
	rel := &common.Relation{
		ID:     6,
		Schema: "public",
		Name:   "prices",
		Columns: []common.Column{
			{Name: "amount", TypeOID: pgtype.NumericOID, TypeMod: -1, Ordinal: 1},
		},
	}
	s, out := newSession(t, baseOptions())

	require.NoError(t, s.Begin(txn))
	require.NoError(t, s.Change(txn, rel, &common.Change{Kind: common.ChangeInsert, New: rowOf("NaN")}))
	require.NoError(t, s.Commit(txn))

	require.Len(t, out.writes, 1)
	assert.Contains(t, out.writes[0], `"columnvalues":[null]`)
	assert.EqualValues(t, 1, s.Stats().SpecialNumerics)
}

func TestOutputErrorIsFatal(t *testing.T) {
	s, out := newSession(t, baseOptions())
	out.err = errors.New("disk full")

	require.NoError(t, s.Begin(txn))
	require.NoError(t, s.Change(txn, users, insert("1", "a")))
	err := s.Commit(txn)
	require.Error(t, err)
	assert.ErrorIs(t, err, out.err)
	assert.ErrorIs(t, s.Begin(txn), out.err)
}

func TestEncodingIsDeterministic(t *testing.T) {
	run := func() string {
		s, out := newSession(t, baseOptions())
		require.NoError(t, s.Begin(txn))
		require.NoError(t, s.Change(txn, users, insert("1", "a")))
		require.NoError(t, s.Change(txn, users, update("1", "b")))
		require.NoError(t, s.Commit(txn))
		return out.joined()
	}
	assert.Equal(t, run(), run())

	s, out := newSession(t, baseOptions())
	for i := 0; i < 2; i++ {
		require.NoError(t, s.Begin(txn))
		require.NoError(t, s.Change(txn, users, insert("1", "a")))
		require.NoError(t, s.Commit(txn))
	}
	require.Len(t, out.writes, 2)
	assert.Equal(t, out.writes[0], out.writes[1])
}

func TestBeginDiscardsUnfinishedTransaction(t *testing.T) {
	s, out := newSession(t, baseOptions())

	require.NoError(t, s.Begin(txn))
	require.NoError(t, s.Change(txn, users, insert("1", "a")))
	require.NoError(t, s.Begin(txn))
	require.NoError(t, s.Commit(txn))

	assert.Equal(t, []string{`{"change":[]}`}, out.writes)
}

func TestCallsOutsideTransaction(t *testing.T) {
	s, _ := newSession(t, baseOptions())

	assert.ErrorIs(t, s.Change(txn, users, insert("1", "a")), ErrNoTransaction)
	assert.ErrorIs(t, s.Commit(txn), ErrNoTransaction)
	assert.ErrorIs(t, s.Begin(nil), ErrNilTransaction)
	assert.False(t, s.InTransaction())

	require.NoError(t, s.Begin(txn))
	assert.True(t, s.InTransaction())
	require.NoError(t, s.Close())
	assert.False(t, s.InTransaction())
	assert.ErrorIs(t, s.Begin(txn), ErrClosed)
	assert.NoError(t, s.Close())
}

func TestRelationCache(t *testing.T) {
	s, _ := newSession(t, baseOptions())

	require.NoError(t, s.Begin(txn))
	require.NoError(t, s.Change(txn, users, insert("1", "a")))
	require.NoError(t, s.Change(txn, users, insert("2", "b")))
	require.NoError(t, s.Change(txn, appUser, insert("3", "c")))
	require.NoError(t, s.Commit(txn))
	assert.Equal(t, 2, s.CachedRelations())

	s.InvalidateRelation(users.ID)
	assert.Equal(t, 1, s.CachedRelations())
	assert.Equal(t, 1, s.Stats().CachedRelations)
}

func TestRelationCacheTracksRenames(t *testing.T) {
	opts := baseOptions()
	opts.TableRules = []cfg.RuleDirective{{Exclude: true, Value: "renamed"}}
	s, out := newSession(t, opts)

	renamed := relation(users.ID, "public", "renamed", common.IdentityDefault, "id")
	require.NoError(t, s.Begin(txn))
	require.NoError(t, s.Change(txn, users, insert("1", "a")))
	require.NoError(t, s.Change(txn, renamed, insert("2", "b")))
	require.NoError(t, s.Commit(txn))

	require.Len(t, out.writes, 1)
	assert.NotContains(t, out.writes[0], "renamed")
}

func TestRelationsWithoutID(t *testing.T) {
	a := relation(0, "public", "a", common.IdentityDefault, "id")
	b := relation(0, "public", "b", common.IdentityDefault, "id")
	c := newRelationCache()

	c.store(a, true)
	c.store(b, false)
	emit, ok := c.lookup(a)
	assert.True(t, ok)
	assert.True(t, emit)
	emit, ok = c.lookup(b)
	assert.True(t, ok)
	assert.False(t, emit)
	assert.Equal(t, 2, c.size())
}
