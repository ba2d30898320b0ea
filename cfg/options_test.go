package cfg

import (
	"errors"
	"testing"

	"github.com/maxpert/waljson/framer"
	"github.com/maxpert/waljson/selector"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func opt(name, value string) Option {
	return Option{Name: name, Value: &value}
}

func flagOpt(name string) Option {
	return Option{Name: name}
}

func TestDefaults(t *testing.T) {
	o, err := ParseOptions(nil)
	require.NoError(t, err)

	assert.Equal(t, 1, o.FormatVersion)
	assert.True(t, o.IncludeTransaction)
	assert.True(t, o.IncludeSchemas)
	assert.True(t, o.IncludeTypes)
	assert.True(t, o.IncludeTypmod)
	assert.False(t, o.IncludeXids)
	assert.False(t, o.IncludeUnchangedToast)
	assert.False(t, o.PrettyPrint)
	assert.False(t, o.TableSelection)
	assert.Equal(t, selector.AllTables(), o.AddTables)
	assert.Empty(t, o.FilterTables)
	assert.Empty(t, o.TableRules)
}

func TestBooleanOptions(t *testing.T) {
	o, err := ParseOptions([]Option{
		flagOpt("include-xids"),
		opt("include-schemas", "off"),
		opt("pretty-print", "YES"),
		opt("write-in-chunks", "1"),
		opt("include-types", "f"),
		opt("skip-empty-xacts", "tr"),
	})
	require.NoError(t, err)

	assert.True(t, o.IncludeXids)
	assert.False(t, o.IncludeSchemas)
	assert.True(t, o.PrettyPrint)
	assert.True(t, o.WriteInChunks)
	assert.False(t, o.IncludeTypes)
	assert.True(t, o.SkipEmptyXacts)
}

func TestLaterOptionWins(t *testing.T) {
	o, err := ParseOptions([]Option{opt("include-lsn", "true"), opt("include-lsn", "false")})
	require.NoError(t, err)
	assert.False(t, o.IncludeLSN)
}

func TestParseBool(t *testing.T) {
	valid := map[string]bool{
		"t": true, "TRUE": true, "tru": true, "y": true, "yes": true, "on": true, "1": true,
		"f": false, "False": false, "n": false, "no": false, "off": false, "of": false, "0": false,
	}
	for s, want := range valid {
		got, ok := ParseBool(s)
		assert.True(t, ok, s)
		assert.Equal(t, want, got, s)
	}

	for _, s := range []string{"", "o", "truth", "yess", "10", "2", "nope", " true"} {
		_, ok := ParseBool(s)
		assert.False(t, ok, s)
	}
}

func TestInvalidBoolean(t *testing.T) {
	_, err := ParseOptions([]Option{opt("include-xids", "maybe")})
	require.Error(t, err)

	var optErr *OptionError
	require.True(t, errors.As(err, &optErr))
	assert.Equal(t, "include-xids", optErr.Name)
	assert.Contains(t, err.Error(), "maybe")
}

func TestUnknownOption(t *testing.T) {
	_, err := ParseOptions([]Option{flagOpt("include-everything")})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "(null)")
}

func TestFormatVersion(t *testing.T) {
	o, err := ParseOptions([]Option{opt("format-version", "2")})
	require.NoError(t, err)
	assert.Equal(t, 2, o.FormatVersion)

	for _, v := range []string{"0", "3", "-1"} {
		_, err := ParseOptions([]Option{opt("format-version", v)})
		var verr *framer.UnsupportedVersionError
		assert.True(t, errors.As(err, &verr), v)
	}

	_, err = ParseOptions([]Option{opt("format-version", "two")})
	assert.Error(t, err)

	_, err = ParseOptions([]Option{flagOpt("format-version")})
	assert.Error(t, err)
}

func TestTableSelection(t *testing.T) {
	o, err := ParseOptions([]Option{opt("filter-tables", "public.*, audit.log")})
	require.NoError(t, err)
	assert.True(t, o.TableSelection)
	require.Len(t, o.FilterTables, 2)
	assert.True(t, o.FilterTables[0].AllTables)
	assert.Equal(t, selector.AllTables(), o.AddTables)

	o, err = ParseOptions([]Option{opt("add-tables", "public.users")})
	require.NoError(t, err)
	require.Len(t, o.AddTables, 1)
	assert.Equal(t, "users", o.AddTables[0].Name)

	// add-tables without a value removes the default entry
	o, err = ParseOptions([]Option{flagOpt("add-tables")})
	require.NoError(t, err)
	assert.Empty(t, o.AddTables)

	_, err = ParseOptions([]Option{opt("filter-tables", "nodot")})
	assert.Error(t, err)
}

func TestMessagePrefixes(t *testing.T) {
	o, err := ParseOptions([]Option{
		opt("filter-msg-prefixes", "debug,a\\,b"),
		opt("add-msg-prefixes", "app"),
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"debug", "a,b"}, o.FilterMsgPrefixes)
	assert.Equal(t, []string{"app"}, o.AddMsgPrefixes)

	_, err = ParseOptions([]Option{flagOpt("add-msg-prefixes")})
	assert.Error(t, err)
}

func TestTableRules(t *testing.T) {
	o, err := ParseOptions([]Option{
		opt("exclude-table", "~^tmp_"),
		opt("include-table", "tmp_keep"),
	})
	require.NoError(t, err)
	assert.Equal(t, []RuleDirective{
		{Exclude: true, Value: "~^tmp_"},
		{Value: "tmp_keep"},
	}, o.TableRules)

	_, err = ParseOptions([]Option{flagOpt("include-table")})
	assert.Error(t, err)
}

func TestSelectorAndRulesAreExclusive(t *testing.T) {
	_, err := ParseOptions([]Option{
		opt("filter-tables", "public.*"),
		opt("exclude-table", "users"),
	})
	assert.Error(t, err)
}

func TestIgnoredOptionsStillValidate(t *testing.T) {
	_, err := ParseOptions([]Option{flagOpt("include-xmins"), opt("include-next-xids", "false")})
	assert.NoError(t, err)

	_, err = ParseOptions([]Option{opt("include-xmins", "sometimes")})
	assert.Error(t, err)
}

func TestParseOptionString(t *testing.T) {
	o := ParseOptionString("include-xids")
	assert.Equal(t, "include-xids", o.Name)
	assert.Nil(t, o.Value)

	o = ParseOptionString("filter-tables=a.b=c")
	require.NotNil(t, o.Value)
	assert.Equal(t, "filter-tables", o.Name)
	assert.Equal(t, "a.b=c", *o.Value)

	o = ParseOptionString("add-tables=")
	require.NotNil(t, o.Value)
	assert.Equal(t, "", *o.Value)
}

func TestFramerOptions(t *testing.T) {
	o, err := ParseOptions([]Option{flagOpt("pretty-print"), flagOpt("include-pk"), flagOpt("columns-as-map")})
	require.NoError(t, err)

	fo := o.FramerOptions()
	assert.True(t, fo.Pretty)
	assert.True(t, fo.IncludePK)
	assert.True(t, fo.ColumnsAsMap)
	assert.True(t, fo.IncludeSchemas)
	assert.True(t, fo.IncludeTransaction)
}
